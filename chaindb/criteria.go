package chaindb

import (
	"encoding/json"
	"fmt"
)

// Criteria is an exact-match predicate, e.g. `Criteria{"age": 44, "name": "john"}`.
// Every listed field must match. Values must be strings, numbers or bools.
type Criteria map[string]any

func (self Criteria) Validate() error {
	for field, value := range self {
		if field == "" {
			return fmt.Errorf("%w: empty field", ErrInvalidCriteria)
		}
		if !isScalar(value) {
			return fmt.Errorf("%w: field %s value %T is not a scalar", ErrInvalidCriteria, field, value)
		}
	}
	return nil
}

// Operator is the comparison applied server side by an advanced criteria.
// Tags are case sensitive.
type Operator string

const (
	// ==
	Eq Operator = "Eq"
	// !=
	Ne Operator = "Ne"
	// >
	Gt Operator = "Gt"
	// >=
	Ge Operator = "Ge"
	// <
	Lt Operator = "Lt"
	// <=
	Le Operator = "Le"
	// strings and arrays
	Contains Operator = "Contains"
	// strings only
	StartsWith Operator = "StartsWith"
	// strings only
	EndsWith Operator = "EndsWith"
)

var operators = map[Operator]bool{
	Eq:         true,
	Ne:         true,
	Gt:         true,
	Ge:         true,
	Lt:         true,
	Le:         true,
	Contains:   true,
	StartsWith: true,
	EndsWith:   true,
}

func (self Operator) Valid() bool {
	return operators[self]
}

func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	if !op.Valid() {
		return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidCriteria, s)
	}
	return op, nil
}

// CriteriaAdvanced is one operator predicate. A list of them combines with AND.
type CriteriaAdvanced struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

func Where(field string, operator Operator, value any) CriteriaAdvanced {
	return CriteriaAdvanced{
		Field:    field,
		Operator: operator,
		Value:    value,
	}
}

func (self CriteriaAdvanced) Validate() error {
	if self.Field == "" {
		return fmt.Errorf("%w: empty field", ErrInvalidCriteria)
	}
	if !self.Operator.Valid() {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidCriteria, self.Operator)
	}
	if !isScalar(self.Value) {
		return fmt.Errorf("%w: field %s value %T is not a scalar", ErrInvalidCriteria, self.Field, self.Value)
	}
	return nil
}

func validateAdvanced(criteria []CriteriaAdvanced) error {
	for _, c := range criteria {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func isScalar(value any) bool {
	switch value.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

const DefaultFindLimit = 1000

type findOptions struct {
	limit   int
	reverse bool
}

func defaultFindOptions() *findOptions {
	return &findOptions{
		limit:   DefaultFindLimit,
		reverse: true,
	}
}

type FindOption func(*findOptions)

// caps the number of returned items. `limit <= 0` keeps the default
func WithLimit(limit int) FindOption {
	return func(o *findOptions) {
		if 0 < limit {
			o.limit = limit
		}
	}
}

// true is newest first
func WithReverse(reverse bool) FindOption {
	return func(o *findOptions) {
		o.reverse = reverse
	}
}

// `model.FindWhereArgs`
type findWhereArgs struct {
	Criteria Criteria `json:"criteria"`
	Limit    int      `json:"limit"`
	Reverse  bool     `json:"reverse"`
}

// `model.FindWhereAdvancedArgs`
type findWhereAdvancedArgs struct {
	Criteria []CriteriaAdvanced `json:"criteria"`
	Limit    int                `json:"limit"`
	Reverse  bool               `json:"reverse"`
}
