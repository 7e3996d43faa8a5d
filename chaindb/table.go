package chaindb

import (
	"encoding/json"
	"fmt"
	"net/url"
)

const DefaultHistoryLimit = 25

// TableHandle is the public surface of a table.
type TableHandle[M any] interface {
	Name() string
	Get() M
	Set(doc M)
	DocId() string
	IsEmpty() bool
	Refetch() error
	Persist() error
	Update() error
	GetHistory(limit int) ([]M, error)
	FindWhere(criteria Criteria, opts ...FindOption) ([]DocWithId[M], error)
	FindWhereAdvanced(criteria []CriteriaAdvanced, opts ...FindOption) ([]DocWithId[M], error)
	GetDoc(docId string) (*Doc[M], error)
}

var _ TableHandle[map[string]any] = (*Table[map[string]any])(nil)

// Table is a local copy of the latest state of a named table.
// Failed round trips leave the local copy untouched.
type Table[M any] struct {
	name    string
	current DocWithId[M]
	db      *ChainDB
}

// creates the table handle without fetching
func NewTable[M any](db *ChainDB, name string) *Table[M] {
	return &Table[M]{
		name: name,
		db:   db,
	}
}

// creates the table handle and fetches the latest state
func GetTable[M any](db *ChainDB, name string) (*Table[M], error) {
	table := NewTable[M](db, name)
	if err := table.Refetch(); err != nil {
		return nil, err
	}
	return table, nil
}

func (self *Table[M]) Name() string {
	return self.name
}

func (self *Table[M]) Get() M {
	return self.current.Doc
}

// replaces the local state. Call `Persist` or `Update` to write it
func (self *Table[M]) Set(doc M) {
	self.current.Doc = doc
}

// the id of the record the local state was last read from, if known
func (self *Table[M]) DocId() string {
	return self.current.DocId
}

func (self *Table[M]) IsEmpty() bool {
	return isEmptyDocument(self.current.Doc)
}

func (self *Table[M]) path(format string, a ...any) string {
	return fmt.Sprintf("/table/%s", url.PathEscape(self.name)) + fmt.Sprintf(format, a...)
}

// `model.TableDataArgs`
type tableDataArgs[M any] struct {
	Data M `json:"data"`
}

// Refetch overwrites the local state with the latest server state.
// When the server has no data the local state is reset to empty.
func (self *Table[M]) Refetch() error {
	return TraceError(fmt.Sprintf("[table]refetch %s", self.name), func() error {
		current, present, err := get[DocWithId[M]](self.db.api(), self.path(""))
		if err != nil {
			return operationError("refetch", self.name, err)
		}
		if present {
			self.current = current
		} else {
			self.current = DocWithId[M]{}
		}
		return nil
	})
}

// Persist writes the local state as a new record and stores the canonical
// record returned by the server, including its new `doc_id`.
func (self *Table[M]) Persist() error {
	return TraceError(fmt.Sprintf("[table]persist %s", self.name), func() error {
		current, present, err := post[DocWithId[M]](self.db.api(), self.path("/persist"), &tableDataArgs[M]{
			Data: self.current.Doc,
		})
		if err != nil {
			return operationError("persist", self.name, err)
		}
		if present {
			self.current = current
		} else {
			// a new identity was created but not returned
			self.current.DocId = ""
		}
		return nil
	})
}

// Update overwrites the latest record with the local state.
// No new record is created and the local state is not changed.
func (self *Table[M]) Update() error {
	return TraceError(fmt.Sprintf("[table]update %s", self.name), func() error {
		_, _, err := post[json.RawMessage](self.db.api(), self.path("/update"), &tableDataArgs[M]{
			Data: self.current.Doc,
		})
		return operationError("update", self.name, err)
	})
}

// GetHistory returns prior states, most recent first.
// `limit <= 0` uses `DefaultHistoryLimit`.
func (self *Table[M]) GetHistory(limit int) ([]M, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return TraceWithReturnError(fmt.Sprintf("[table]history %s %d", self.name, limit), func() ([]M, error) {
		states, _, err := get[[]DocWithId[M]](self.db.api(), self.path("/history?limit=%d", limit))
		if err != nil {
			return nil, operationError("history", self.name, err)
		}
		history := make([]M, 0, len(states))
		for _, state := range states {
			history = append(history, state.Doc)
		}
		return history, nil
	})
}

// FindWhere returns the records where every criteria field matches exactly.
// Defaults are `DefaultFindLimit` items, newest first.
func (self *Table[M]) FindWhere(criteria Criteria, opts ...FindOption) ([]DocWithId[M], error) {
	if criteria == nil {
		criteria = Criteria{}
	}
	if err := criteria.Validate(); err != nil {
		return nil, operationError("find", self.name, err)
	}
	o := defaultFindOptions()
	for _, opt := range opts {
		opt(o)
	}
	return self.find("find", "/find", &findWhereArgs{
		Criteria: criteria,
		Limit:    o.limit,
		Reverse:  o.reverse,
	})
}

// FindWhereAdvanced returns the records matching every operator criteria.
// Evaluation is server side.
func (self *Table[M]) FindWhereAdvanced(criteria []CriteriaAdvanced, opts ...FindOption) ([]DocWithId[M], error) {
	if criteria == nil {
		criteria = []CriteriaAdvanced{}
	}
	if err := validateAdvanced(criteria); err != nil {
		return nil, operationError("find advanced", self.name, err)
	}
	o := defaultFindOptions()
	for _, opt := range opts {
		opt(o)
	}
	return self.find("find advanced", "/find-advanced", &findWhereAdvancedArgs{
		Criteria: criteria,
		Limit:    o.limit,
		Reverse:  o.reverse,
	})
}

func (self *Table[M]) find(op string, path string, args any) ([]DocWithId[M], error) {
	return TraceWithReturnError(fmt.Sprintf("[table]%s %s", op, self.name), func() ([]DocWithId[M], error) {
		docs, _, err := post[[]DocWithId[M]](self.db.api(), self.path("%s", path), args)
		if err != nil {
			return nil, operationError(op, self.name, err)
		}
		if docs == nil {
			docs = []DocWithId[M]{}
		}
		return docs, nil
	})
}

// GetDoc fetches a single record by id.
func (self *Table[M]) GetDoc(docId string) (*Doc[M], error) {
	doc := newDoc[M](self.db, self.name, docId)
	if err := doc.Refetch(); err != nil {
		return nil, err
	}
	return doc, nil
}
