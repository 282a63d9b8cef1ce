package model

// ConditionKind discriminates the Condition tagged union. Go has no sum
// types, so Condition carries one populated field selected by Kind —
// the same Kind-plus-pointer-fields shape Control uses.
type ConditionKind string

const (
	ConditionCompare ConditionKind = "compare"
	ConditionTruthy  ConditionKind = "truthy"
	ConditionFalsy   ConditionKind = "falsy"
	ConditionNot     ConditionKind = "not"
	ConditionAnd     ConditionKind = "and"
	ConditionOr      ConditionKind = "or"
	ConditionExpr    ConditionKind = "expr"
)

// Condition evaluates against a Vars bag to decide an edge or a while
// loop's continuation.
type Condition struct {
	Kind       ConditionKind     `json:"kind"`
	Compare    *CompareCondition `json:"compare,omitempty"`
	Operand    *Operand          `json:"operand,omitempty"`
	Not        *Condition        `json:"not,omitempty"`
	Conditions []Condition       `json:"conditions,omitempty"`
	Expr       string            `json:"expr,omitempty"`
}

// CompareOp is the comparison operator of a CompareCondition.
type CompareOp string

const (
	OpEq         CompareOp = "eq"
	OpNeq        CompareOp = "neq"
	OpLt         CompareOp = "lt"
	OpLte        CompareOp = "lte"
	OpGt         CompareOp = "gt"
	OpGte        CompareOp = "gte"
	OpContains   CompareOp = "contains"
	OpStartsWith CompareOp = "startsWith"
	OpEndsWith   CompareOp = "endsWith"
	OpRegex      CompareOp = "regex"
)

// CompareCondition compares two Operands.
type CompareCondition struct {
	Left  Operand   `json:"left"`
	Op    CompareOp `json:"op"`
	Right Operand   `json:"right"`
}

// Operand is either a literal value or a reference into Vars. Exactly one
// of Ref/Value should be set; a zero Operand with neither resolves to nil.
type Operand struct {
	Ref   *VarRef `json:"ref,omitempty"`
	Value any     `json:"value,omitempty"`
}

// VarRef points at a (possibly nested, dotted-path) entry of Vars, with a
// Default used when the path is absent.
type VarRef struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Default any    `json:"default,omitempty"`
}
