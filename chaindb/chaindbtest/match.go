package chaindbtest

import (
	"reflect"
	"strings"
)

// server side criteria evaluation

func matchBasic(data map[string]any, criteria map[string]any) bool {
	for field, want := range criteria {
		got, ok := data[field]
		if !ok || !equal(got, want) {
			return false
		}
	}
	return true
}

type advancedCriteria struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

func matchAdvanced(data map[string]any, criteria []advancedCriteria) bool {
	for _, c := range criteria {
		got, ok := data[c.Field]
		if !ok || !evaluate(c.Operator, got, c.Value) {
			return false
		}
	}
	return true
}

func validOperator(operator string) bool {
	switch operator {
	case "Eq", "Ne", "Gt", "Ge", "Lt", "Le", "Contains", "StartsWith", "EndsWith":
		return true
	default:
		return false
	}
}

func evaluate(operator string, got any, want any) bool {
	switch operator {
	case "Eq":
		return equal(got, want)
	case "Ne":
		return !equal(got, want)
	case "Gt":
		c, ok := compare(got, want)
		return ok && 0 < c
	case "Ge":
		c, ok := compare(got, want)
		return ok && 0 <= c
	case "Lt":
		c, ok := compare(got, want)
		return ok && c < 0
	case "Le":
		c, ok := compare(got, want)
		return ok && c <= 0
	case "Contains":
		switch v := got.(type) {
		case string:
			s, ok := want.(string)
			return ok && strings.Contains(v, s)
		case []any:
			for _, item := range v {
				if equal(item, want) {
					return true
				}
			}
			return false
		default:
			return false
		}
	case "StartsWith":
		g, gok := got.(string)
		w, wok := want.(string)
		return gok && wok && strings.HasPrefix(g, w)
	case "EndsWith":
		g, gok := got.(string)
		w, wok := want.(string)
		return gok && wok && strings.HasSuffix(g, w)
	default:
		return false
	}
}

func equal(a any, b any) bool {
	if af, ok := a.(float64); ok {
		bf, ok := b.(float64)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// numbers compare numerically, strings lexically. Other types do not compare
func compare(a any, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case bv < av:
			return 1, true
		default:
			return 0, true
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	default:
		return 0, false
	}
}
