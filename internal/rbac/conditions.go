package rbac

import (
	"strconv"
	"strings"

	"github.com/gatewarden/gatewarden/internal/model"
)

// EvaluateConditions reports whether every condition on a permission holds
// against the request attributes. Conditions AND together; an empty list
// always holds. Evaluation fails closed: a missing attribute, an unknown
// operator, or a malformed value list all fail the condition.
func EvaluateConditions(conditions []model.Condition, attrs map[string]interface{}) bool {
	for _, c := range conditions {
		if !evaluateCondition(c, attrs) {
			return false
		}
	}
	return true
}

func evaluateCondition(c model.Condition, attrs map[string]interface{}) bool {
	actual, ok := attrs[c.Field]
	if !ok {
		return false
	}

	switch c.Operator {
	case model.OpEq:
		return valuesEqual(actual, c.Value)
	case model.OpNe:
		return !valuesEqual(actual, c.Value)
	case model.OpIn:
		return valueInList(actual, c.Value)
	case model.OpNotIn:
		list, ok := asList(c.Value)
		if !ok {
			return false
		}
		for _, item := range list {
			if valuesEqual(actual, item) {
				return false
			}
		}
		return true
	case model.OpGt:
		cmp, ok := compareValues(actual, c.Value)
		return ok && cmp > 0
	case model.OpLt:
		cmp, ok := compareValues(actual, c.Value)
		return ok && cmp < 0
	case model.OpGte:
		cmp, ok := compareValues(actual, c.Value)
		return ok && cmp >= 0
	case model.OpLte:
		cmp, ok := compareValues(actual, c.Value)
		return ok && cmp <= 0
	}
	return false
}

// valuesEqual compares numerically when both sides parse as numbers,
// otherwise by string representation. "5" and 5 are equal; "5" and "05" are
// not unless compared numerically.
func valuesEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	as, aok := stringable(a)
	bs, bok := stringable(b)
	if !aok || !bok {
		return false
	}
	return as == bs
}

// compareValues orders numerically when both sides parse as numbers,
// otherwise lexicographically. The second return is false when either side
// has no usable representation.
func compareValues(a, b interface{}) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := stringable(a)
	bs, bok := stringable(b)
	if !aok || !bok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func valueInList(actual, listValue interface{}) bool {
	list, ok := asList(listValue)
	if !ok {
		return false
	}
	for _, item := range list {
		if valuesEqual(actual, item) {
			return true
		}
	}
	return false
}

func asList(v interface{}) ([]interface{}, bool) {
	switch list := v.(type) {
	case []interface{}:
		return list, true
	case []string:
		out := make([]interface{}, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func stringable(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	}
	return "", false
}
