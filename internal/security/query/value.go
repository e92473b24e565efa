package query

import (
	"fmt"
	"math"
)

// ScalarKind tags the variant held by a Scalar.
type ScalarKind int

const (
	KindString ScalarKind = iota + 1
	KindInt
	KindFloat
	KindBool
)

func (k ScalarKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	}
	return "invalid"
}

// FilterValue is either a Scalar or a ScalarList. The interface is sealed.
type FilterValue interface {
	filterValue()
}

// Scalar holds one string, int64, float64 or bool.
type Scalar struct {
	kind ScalarKind
	s    string
	i    int64
	f    float64
	b    bool
}

func (Scalar) filterValue() {}

// String makes a string Scalar.
func String(v string) Scalar { return Scalar{kind: KindString, s: v} }

// Int makes an integer Scalar.
func Int(v int64) Scalar { return Scalar{kind: KindInt, i: v} }

// Float makes a floating-point Scalar.
func Float(v float64) Scalar { return Scalar{kind: KindFloat, f: v} }

// Bool makes a boolean Scalar.
func Bool(v bool) Scalar { return Scalar{kind: KindBool, b: v} }

// Kind returns the variant; the zero Scalar has no valid kind.
func (s Scalar) Kind() ScalarKind { return s.kind }

// Valid reports whether s was built by a constructor.
func (s Scalar) Valid() bool { return s.kind >= KindString && s.kind <= KindBool }

// Str returns the string variant and whether s holds one.
func (s Scalar) Str() (string, bool) { return s.s, s.kind == KindString }

// Value returns the held value as a driver-friendly Go value.
func (s Scalar) Value() any {
	switch s.kind {
	case KindString:
		return s.s
	case KindInt:
		return s.i
	case KindFloat:
		return s.f
	case KindBool:
		return s.b
	}
	return nil
}

func (s Scalar) String() string {
	return fmt.Sprintf("%v", s.Value())
}

// ScalarList is a homogeneous list of Scalars.
type ScalarList []Scalar

func (ScalarList) filterValue() {}

// Strings builds a ScalarList of strings.
func Strings(vs ...string) ScalarList {
	out := make(ScalarList, len(vs))
	for i, v := range vs {
		out[i] = String(v)
	}
	return out
}

// Ints builds a ScalarList of integers.
func Ints(vs ...int64) ScalarList {
	out := make(ScalarList, len(vs))
	for i, v := range vs {
		out[i] = Int(v)
	}
	return out
}

// Values returns the held values.
func (l ScalarList) Values() []any {
	out := make([]any, len(l))
	for i, s := range l {
		out[i] = s.Value()
	}
	return out
}

// ScalarOf converts a decoded JSON or validated value. Integral float64
// values become Int.
func ScalarOf(v any) (Scalar, bool) {
	switch t := v.(type) {
	case Scalar:
		return t, t.Valid()
	case string:
		return String(t), true
	case bool:
		return Bool(t), true
	case int:
		return Int(int64(t)), true
	case int32:
		return Int(int64(t)), true
	case int64:
		return Int(t), true
	case float32:
		return scalarFromFloat(float64(t))
	case float64:
		return scalarFromFloat(t)
	}
	return Scalar{}, false
}

func scalarFromFloat(f float64) (Scalar, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Scalar{}, false
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return Int(int64(f)), true
	}
	return Float(f), true
}

// FilterValueOf converts v to a Scalar or, for slices, a ScalarList.
func FilterValueOf(v any) (FilterValue, bool) {
	switch t := v.(type) {
	case FilterValue:
		return t, true
	case []any:
		out := make(ScalarList, 0, len(t))
		for _, e := range t {
			s, ok := ScalarOf(e)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case []string:
		return Strings(t...), true
	}
	s, ok := ScalarOf(v)
	if !ok {
		return nil, false
	}
	return s, true
}
