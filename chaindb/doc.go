package chaindb

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Doc is one record of a table, addressed by its `doc_id`.
// The id is fixed at construction.
type Doc[M any] struct {
	tableName string
	docId     string
	document  DocWithId[M]
	db        *ChainDB
}

func newDoc[M any](db *ChainDB, tableName string, docId string) *Doc[M] {
	return &Doc[M]{
		tableName: tableName,
		docId:     docId,
		document: DocWithId[M]{
			DocId: docId,
		},
		db: db,
	}
}

func (self *Doc[M]) TableName() string {
	return self.tableName
}

func (self *Doc[M]) DocId() string {
	return self.docId
}

func (self *Doc[M]) Get() M {
	return self.document.Doc
}

// replaces the local document. Call `Update` to write it
func (self *Doc[M]) Set(doc M) {
	self.document.Doc = doc
}

// true when the document has no fields. distinguishes "fetched, empty"
// for callers that hold a doc built from partial data
func (self *Doc[M]) IsEmpty() bool {
	return isEmptyDocument(self.document.Doc)
}

func (self *Doc[M]) path(format string, a ...any) string {
	return fmt.Sprintf("/table/%s", url.PathEscape(self.tableName)) + fmt.Sprintf(format, a...)
}

// `model.UpdateDocArgs`
type updateDocArgs[M any] struct {
	Data  M      `json:"data"`
	DocId string `json:"doc_id"`
}

// Update writes the local document to this `doc_id` without creating a new record.
func (self *Doc[M]) Update() error {
	return TraceError(fmt.Sprintf("[doc]update %s/%s", self.tableName, self.docId), func() error {
		_, _, err := post[json.RawMessage](self.db.api(), self.path("/update"), &updateDocArgs[M]{
			Data:  self.document.Doc,
			DocId: self.docId,
		})
		return operationError(fmt.Sprintf("update doc %s", self.docId), self.tableName, err)
	})
}

// Refetch overwrites the local document with the server state.
func (self *Doc[M]) Refetch() error {
	return TraceError(fmt.Sprintf("[doc]refetch %s/%s", self.tableName, self.docId), func() error {
		document, present, err := get[DocWithId[M]](self.db.api(), self.path("/doc/%s", url.PathEscape(self.docId)))
		if err != nil {
			return operationError(fmt.Sprintf("get doc %s", self.docId), self.tableName, err)
		}
		if !present {
			return operationError(fmt.Sprintf("get doc %s", self.docId), self.tableName, ErrDocNotFound)
		}
		document.DocId = self.docId
		self.document = document
		return nil
	})
}
