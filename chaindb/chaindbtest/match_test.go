package chaindbtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchBasic(t *testing.T) {
	data := map[string]any{
		"greeting": "hello",
		"age":      float64(44),
		"active":   true,
	}

	tests := []struct {
		name     string
		criteria map[string]any
		expected bool
	}{
		{"empty", map[string]any{}, true},
		{"nil", nil, true},
		{"one field", map[string]any{"age": float64(44)}, true},
		{"all fields", map[string]any{"age": float64(44), "greeting": "hello", "active": true}, true},
		{"wrong value", map[string]any{"age": float64(43)}, false},
		{"missing field", map[string]any{"name": "hello"}, false},
		{"type mismatch", map[string]any{"age": "44"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, matchBasic(data, tt.criteria))
		})
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		got      any
		want     any
		expected bool
	}{
		{"eq number", "Eq", float64(1), float64(1), true},
		{"eq string", "Eq", "a", "a", true},
		{"ne", "Ne", "a", "b", true},
		{"ne equal", "Ne", float64(2), float64(2), false},
		{"gt", "Gt", float64(5), float64(4), true},
		{"gt equal", "Gt", float64(4), float64(4), false},
		{"ge equal", "Ge", float64(4), float64(4), true},
		{"lt string", "Lt", "apple", "banana", true},
		{"le", "Le", float64(3), float64(4), true},
		{"gt mixed types", "Gt", "5", float64(4), false},
		{"contains substring", "Contains", "hello world", "lo w", true},
		{"contains array", "Contains", []any{"x", float64(2)}, float64(2), true},
		{"contains array missing", "Contains", []any{"x"}, "y", false},
		{"contains number", "Contains", float64(12), float64(1), false},
		{"starts with", "StartsWith", "hello", "he", true},
		{"starts with non string", "StartsWith", float64(12), "1", false},
		{"ends with", "EndsWith", "goodbye", "bye", true},
		{"ends with miss", "EndsWith", "goodbye", "good", false},
		{"unknown", "Between", float64(1), float64(1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, evaluate(tt.operator, tt.got, tt.want))
		})
	}
}

func TestMatchAdvanced(t *testing.T) {
	data := map[string]any{
		"greeting": "hello world",
		"age":      float64(20),
	}

	assert.True(t, matchAdvanced(data, nil))
	assert.True(t, matchAdvanced(data, []advancedCriteria{
		{Field: "age", Operator: "Ge", Value: float64(20)},
		{Field: "greeting", Operator: "StartsWith", Value: "hello"},
	}))
	// every condition must hold
	assert.False(t, matchAdvanced(data, []advancedCriteria{
		{Field: "age", Operator: "Ge", Value: float64(20)},
		{Field: "greeting", Operator: "EndsWith", Value: "hello"},
	}))
	assert.False(t, matchAdvanced(data, []advancedCriteria{
		{Field: "missing", Operator: "Ne", Value: "x"},
	}))
}

func TestValidOperator(t *testing.T) {
	for _, operator := range []string{"Eq", "Ne", "Gt", "Ge", "Lt", "Le", "Contains", "StartsWith", "EndsWith"} {
		assert.True(t, validOperator(operator), operator)
	}
	assert.False(t, validOperator("eq"))
	assert.False(t, validOperator(""))
}
