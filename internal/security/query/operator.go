package query

// Operator is a filter comparison from a closed set.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpIn         Operator = "in"
	OpIsNull     Operator = "is_null"
)

// MaxInItems bounds the list accepted by OpIn.
const MaxInItems = 100

// valueShape is the FilterValue variant an operator accepts.
type valueShape int

const (
	shapeScalar     valueShape = iota + 1 // any Scalar
	shapeComparable                       // string, int or float Scalar
	shapeText                             // string Scalar, matched literally
	shapeList                             // non-empty homogeneous ScalarList
	shapeFlag                             // bool Scalar
)

type likeMode int

const (
	likeNone likeMode = iota
	likeContains
	likePrefix
)

type operatorSpec struct {
	shape valueShape
	like  likeMode
}

// operatorSpecs is the only place operator semantics are declared.
var operatorSpecs = map[Operator]operatorSpec{
	OpEq:         {shape: shapeScalar},
	OpNeq:        {shape: shapeScalar},
	OpGt:         {shape: shapeComparable},
	OpGte:        {shape: shapeComparable},
	OpLt:         {shape: shapeComparable},
	OpLte:        {shape: shapeComparable},
	OpContains:   {shape: shapeText, like: likeContains},
	OpStartsWith: {shape: shapeText, like: likePrefix},
	OpIn:         {shape: shapeList},
	OpIsNull:     {shape: shapeFlag},
}

// Operators lists the accepted operators.
func Operators() []Operator {
	return []Operator{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpStartsWith, OpIn, OpIsNull}
}

// ParseOperator maps a name to an Operator.
func ParseOperator(name string) (Operator, bool) {
	op := Operator(name)
	_, ok := operatorSpecs[op]
	return op, ok
}

// IsPattern reports whether op renders as an escaped ILIKE pattern.
func (op Operator) IsPattern() bool {
	return operatorSpecs[op].like != likeNone
}
