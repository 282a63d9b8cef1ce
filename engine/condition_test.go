package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mhyatt000/flowcore/model"
)

func TestEvaluate_Compare(t *testing.T) {
	vars := model.Vars{"count": 5.0, "name": "alice"}

	cases := []struct {
		name string
		cond model.Condition
		want bool
	}{
		{
			name: "numeric gt true",
			cond: model.Condition{Kind: model.ConditionCompare, Compare: &model.CompareCondition{
				Left: model.Operand{Ref: &model.VarRef{Name: "count"}}, Op: model.OpGt, Right: model.Operand{Value: 3.0},
			}},
			want: true,
		},
		{
			name: "numeric gt false",
			cond: model.Condition{Kind: model.ConditionCompare, Compare: &model.CompareCondition{
				Left: model.Operand{Ref: &model.VarRef{Name: "count"}}, Op: model.OpGt, Right: model.Operand{Value: 10.0},
			}},
			want: false,
		},
		{
			name: "string eq",
			cond: model.Condition{Kind: model.ConditionCompare, Compare: &model.CompareCondition{
				Left: model.Operand{Ref: &model.VarRef{Name: "name"}}, Op: model.OpEq, Right: model.Operand{Value: "alice"},
			}},
			want: true,
		},
		{
			name: "mismatched kind eq is false",
			cond: model.Condition{Kind: model.ConditionCompare, Compare: &model.CompareCondition{
				Left: model.Operand{Value: "5"}, Op: model.OpEq, Right: model.Operand{Value: 5.0},
			}},
			want: false,
		},
		{
			name: "contains",
			cond: model.Condition{Kind: model.ConditionCompare, Compare: &model.CompareCondition{
				Left: model.Operand{Ref: &model.VarRef{Name: "name"}}, Op: model.OpContains, Right: model.Operand{Value: "lic"},
			}},
			want: true,
		},
		{
			name: "missing var resolves default then compares false",
			cond: model.Condition{Kind: model.ConditionCompare, Compare: &model.CompareCondition{
				Left: model.Operand{Ref: &model.VarRef{Name: "missing", Default: 0.0}}, Op: model.OpGt, Right: model.Operand{Value: 1.0},
			}},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.cond, vars))
		})
	}
}

func TestEvaluate_Combinators(t *testing.T) {
	vars := model.Vars{"flag": true}
	truthy := model.Condition{Kind: model.ConditionTruthy, Operand: &model.Operand{Ref: &model.VarRef{Name: "flag"}}}
	falsy := model.Condition{Kind: model.ConditionFalsy, Operand: &model.Operand{Ref: &model.VarRef{Name: "flag"}}}

	assert.True(t, Evaluate(truthy, vars))
	assert.False(t, Evaluate(falsy, vars))
	assert.False(t, Evaluate(model.Condition{Kind: model.ConditionNot, Not: &truthy}, vars))

	and := model.Condition{Kind: model.ConditionAnd, Conditions: []model.Condition{truthy, truthy}}
	assert.True(t, Evaluate(and, vars))

	or := model.Condition{Kind: model.ConditionOr, Conditions: []model.Condition{falsy, truthy}}
	assert.True(t, Evaluate(or, vars))
}

func TestEvaluate_NestedPath(t *testing.T) {
	vars := model.Vars{"user": map[string]any{"profile": map[string]any{"age": 30.0}}}
	cond := model.Condition{Kind: model.ConditionCompare, Compare: &model.CompareCondition{
		Left:  model.Operand{Ref: &model.VarRef{Name: "user", Path: "profile.age"}},
		Op:    model.OpGte,
		Right: model.Operand{Value: 18.0},
	}}
	assert.True(t, Evaluate(cond, vars))
}

func TestEvaluate_ExprAlwaysFalse(t *testing.T) {
	cond := model.Condition{Kind: model.ConditionExpr, Expr: "1 == 1"}
	assert.False(t, Evaluate(cond, model.Vars{}))
}

func TestEvaluate_UnknownKind(t *testing.T) {
	assert.False(t, Evaluate(model.Condition{Kind: "bogus"}, model.Vars{}))
}
