package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mhyatt000/flowcore/model"
)

// Evaluate resolves a Condition against vars, recursively for the
// boolean combinators. It never errors: an operand that can't be
// resolved (missing path, wrong type for a numeric comparison) resolves
// to false rather than aborting the walk, since a flow author's typo
// should route control predictably, not crash a run.
func Evaluate(cond model.Condition, vars model.Vars) bool {
	switch cond.Kind {
	case model.ConditionCompare:
		if cond.Compare == nil {
			return false
		}
		return evaluateCompare(*cond.Compare, vars)
	case model.ConditionTruthy:
		if cond.Operand == nil {
			return false
		}
		return truthy(resolveOperand(*cond.Operand, vars))
	case model.ConditionFalsy:
		if cond.Operand == nil {
			return false
		}
		return !truthy(resolveOperand(*cond.Operand, vars))
	case model.ConditionNot:
		if cond.Not == nil {
			return false
		}
		return !Evaluate(*cond.Not, vars)
	case model.ConditionAnd:
		for _, c := range cond.Conditions {
			if !Evaluate(c, vars) {
				return false
			}
		}
		return true
	case model.ConditionOr:
		for _, c := range cond.Conditions {
			if Evaluate(c, vars) {
				return true
			}
		}
		return false
	case model.ConditionExpr:
		// Arbitrary expression evaluation is out of scope; expr
		// conditions are reserved for a future scripting layer and
		// currently always resolve false.
		return false
	default:
		return false
	}
}

func resolveOperand(op model.Operand, vars model.Vars) any {
	if op.Ref == nil {
		return op.Value
	}
	return resolveVarRef(*op.Ref, vars)
}

func resolveVarRef(ref model.VarRef, vars model.Vars) any {
	root, ok := vars[ref.Name]
	if !ok {
		return ref.Default
	}
	if ref.Path == "" {
		return root
	}
	current := any(root)
	for _, segment := range strings.Split(ref.Path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			if mv, ok := current.(model.Vars); ok {
				m = map[string]any(mv)
			} else {
				return ref.Default
			}
		}
		v, ok := m[segment]
		if !ok {
			return ref.Default
		}
		current = v
	}
	return current
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	default:
		return true
	}
}

func evaluateCompare(cmp model.CompareCondition, vars model.Vars) bool {
	left := resolveOperand(cmp.Left, vars)
	right := resolveOperand(cmp.Right, vars)

	switch cmp.Op {
	case model.OpEq:
		return fmt.Sprint(left) == fmt.Sprint(right) && sameKind(left, right)
	case model.OpNeq:
		return !(fmt.Sprint(left) == fmt.Sprint(right) && sameKind(left, right))
	case model.OpLt, model.OpLte, model.OpGt, model.OpGte:
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return false
		}
		switch cmp.Op {
		case model.OpLt:
			return lf < rf
		case model.OpLte:
			return lf <= rf
		case model.OpGt:
			return lf > rf
		case model.OpGte:
			return lf >= rf
		}
	case model.OpContains:
		return strings.Contains(fmt.Sprint(left), fmt.Sprint(right))
	case model.OpStartsWith:
		return strings.HasPrefix(fmt.Sprint(left), fmt.Sprint(right))
	case model.OpEndsWith:
		return strings.HasSuffix(fmt.Sprint(left), fmt.Sprint(right))
	case model.OpRegex:
		pattern, ok := right.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprint(left))
	}
	return false
}

func sameKind(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	_, aNum := toFloat(a)
	_, bNum := toFloat(b)
	if aNum != bNum {
		return false
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}
