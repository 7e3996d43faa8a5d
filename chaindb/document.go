package chaindb

import (
	"encoding/json"
	"fmt"
	"reflect"
)

const docIdField = "doc_id"

// DocWithId is a model plus the `doc_id` assigned by the server.
// On the wire it is the flat model object with an extra `doc_id` field.
type DocWithId[M any] struct {
	DocId string
	Doc   M
}

func (self DocWithId[M]) MarshalJSON() ([]byte, error) {
	docBytes, err := json.Marshal(self.Doc)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if !isNull(docBytes) {
		if err := json.Unmarshal(docBytes, &fields); err != nil {
			return nil, fmt.Errorf("document must encode as an object: %w", err)
		}
	}
	if self.DocId != "" {
		docIdBytes, err := json.Marshal(self.DocId)
		if err != nil {
			return nil, err
		}
		fields[docIdField] = docIdBytes
	}
	return json.Marshal(fields)
}

func (self *DocWithId[M]) UnmarshalJSON(src []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(src, &fields); err != nil {
		return err
	}

	var docId string
	if docIdBytes, ok := fields[docIdField]; ok {
		if !isNull(docIdBytes) {
			if err := json.Unmarshal(docIdBytes, &docId); err != nil {
				return fmt.Errorf("%s: %w", docIdField, err)
			}
		}
		delete(fields, docIdField)
	}

	var doc M
	if fields != nil {
		docBytes, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(docBytes, &doc); err != nil {
			return err
		}
	}

	self.DocId = docId
	self.Doc = doc
	return nil
}

func (self DocWithId[M]) IsEmpty() bool {
	return self.DocId == "" && isEmptyDocument(self.Doc)
}

// true when the document has no own fields.
// a struct model counts as empty when it is the zero value
func isEmptyDocument(doc any) bool {
	v := reflect.ValueOf(doc)
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Map, reflect.Slice:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return true
		}
		return isEmptyDocument(v.Elem().Interface())
	case reflect.Struct:
		if v.IsZero() {
			return true
		}
	}

	docBytes, err := json.Marshal(doc)
	if err != nil {
		return false
	}
	if isNull(docBytes) {
		return true
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(docBytes, &fields); err != nil {
		return false
	}
	return len(fields) == 0
}
