package rbac

import (
	"testing"

	"github.com/gatewarden/gatewarden/internal/model"
)

func TestEvaluateConditionsOperators(t *testing.T) {
	tests := []struct {
		name  string
		cond  model.Condition
		attrs map[string]interface{}
		want  bool
	}{
		{"eq match", model.Condition{Field: "env", Operator: model.OpEq, Value: "prod"}, map[string]interface{}{"env": "prod"}, true},
		{"eq mismatch", model.Condition{Field: "env", Operator: model.OpEq, Value: "prod"}, map[string]interface{}{"env": "staging"}, false},
		{"eq numeric string vs int", model.Condition{Field: "level", Operator: model.OpEq, Value: 5}, map[string]interface{}{"level": "5"}, true},
		{"ne match", model.Condition{Field: "env", Operator: model.OpNe, Value: "prod"}, map[string]interface{}{"env": "staging"}, true},
		{"ne mismatch", model.Condition{Field: "env", Operator: model.OpNe, Value: "prod"}, map[string]interface{}{"env": "prod"}, false},
		{"in member", model.Condition{Field: "region", Operator: model.OpIn, Value: []interface{}{"eu", "us"}}, map[string]interface{}{"region": "eu"}, true},
		{"in non-member", model.Condition{Field: "region", Operator: model.OpIn, Value: []interface{}{"eu", "us"}}, map[string]interface{}{"region": "ap"}, false},
		{"in string slice", model.Condition{Field: "region", Operator: model.OpIn, Value: []string{"eu", "us"}}, map[string]interface{}{"region": "us"}, true},
		{"not_in non-member", model.Condition{Field: "region", Operator: model.OpNotIn, Value: []interface{}{"eu"}}, map[string]interface{}{"region": "us"}, true},
		{"not_in member", model.Condition{Field: "region", Operator: model.OpNotIn, Value: []interface{}{"eu"}}, map[string]interface{}{"region": "eu"}, false},
		{"gt numeric", model.Condition{Field: "age", Operator: model.OpGt, Value: 18}, map[string]interface{}{"age": 21}, true},
		{"gt equal", model.Condition{Field: "age", Operator: model.OpGt, Value: 18}, map[string]interface{}{"age": 18}, false},
		{"gt numeric over json float", model.Condition{Field: "age", Operator: model.OpGt, Value: float64(18)}, map[string]interface{}{"age": float64(18.5)}, true},
		{"lt numeric", model.Condition{Field: "age", Operator: model.OpLt, Value: 18}, map[string]interface{}{"age": 12}, true},
		{"gte boundary", model.Condition{Field: "age", Operator: model.OpGte, Value: 18}, map[string]interface{}{"age": 18}, true},
		{"lte boundary", model.Condition{Field: "age", Operator: model.OpLte, Value: 18}, map[string]interface{}{"age": 18}, true},
		{"lte above", model.Condition{Field: "age", Operator: model.OpLte, Value: 18}, map[string]interface{}{"age": 19}, false},
		{"gt lexicographic strings", model.Condition{Field: "tier", Operator: model.OpGt, Value: "bronze"}, map[string]interface{}{"tier": "gold"}, true},
		{"gt numeric strings compare numerically", model.Condition{Field: "count", Operator: model.OpGt, Value: "9"}, map[string]interface{}{"count": "10"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateConditions([]model.Condition{tt.cond}, tt.attrs)
			if got != tt.want {
				t.Fatalf("EvaluateConditions(%+v, %v) = %v, want %v", tt.cond, tt.attrs, got, tt.want)
			}
		})
	}
}

func TestEvaluateConditionsFailClosed(t *testing.T) {
	t.Run("missing attribute", func(t *testing.T) {
		cond := model.Condition{Field: "env", Operator: model.OpEq, Value: "prod"}
		if EvaluateConditions([]model.Condition{cond}, map[string]interface{}{}) {
			t.Fatal("condition on a missing attribute must not hold")
		}
	})

	t.Run("missing attribute with ne", func(t *testing.T) {
		// ne does not get a free pass: an absent attribute fails the
		// condition rather than trivially satisfying "not equal".
		cond := model.Condition{Field: "env", Operator: model.OpNe, Value: "prod"}
		if EvaluateConditions([]model.Condition{cond}, map[string]interface{}{}) {
			t.Fatal("ne on a missing attribute must not hold")
		}
	})

	t.Run("unknown operator", func(t *testing.T) {
		cond := model.Condition{Field: "env", Operator: "regex", Value: ".*"}
		if EvaluateConditions([]model.Condition{cond}, map[string]interface{}{"env": "prod"}) {
			t.Fatal("unknown operator must not hold")
		}
	})

	t.Run("in with non-list value", func(t *testing.T) {
		cond := model.Condition{Field: "region", Operator: model.OpIn, Value: "eu"}
		if EvaluateConditions([]model.Condition{cond}, map[string]interface{}{"region": "eu"}) {
			t.Fatal("in with a scalar value must not hold")
		}
	})

	t.Run("not_in with non-list value", func(t *testing.T) {
		cond := model.Condition{Field: "region", Operator: model.OpNotIn, Value: 7}
		if EvaluateConditions([]model.Condition{cond}, map[string]interface{}{"region": "eu"}) {
			t.Fatal("not_in with a scalar value must not hold")
		}
	})

	t.Run("incomparable values", func(t *testing.T) {
		cond := model.Condition{Field: "meta", Operator: model.OpGt, Value: 5}
		attrs := map[string]interface{}{"meta": map[string]interface{}{"nested": true}}
		if EvaluateConditions([]model.Condition{cond}, attrs) {
			t.Fatal("ordering on an incomparable value must not hold")
		}
	})
}

func TestEvaluateConditionsConjunction(t *testing.T) {
	conds := []model.Condition{
		{Field: "env", Operator: model.OpEq, Value: "prod"},
		{Field: "age", Operator: model.OpGte, Value: 18},
	}

	if !EvaluateConditions(conds, map[string]interface{}{"env": "prod", "age": 30}) {
		t.Fatal("all conditions hold, expected grant")
	}
	if EvaluateConditions(conds, map[string]interface{}{"env": "prod", "age": 12}) {
		t.Fatal("one failed condition must fail the set")
	}
	if !EvaluateConditions(nil, nil) {
		t.Fatal("empty condition list must always hold")
	}
}
