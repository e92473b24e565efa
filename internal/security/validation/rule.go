package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/ConstructOps/internal/security/sanitize"
)

// validate is the shared format checker.
var validate = validator.New()

type ruleKind int

const (
	kindString ruleKind = iota + 1
	kindInt
	kindFloat
	kindBool
	kindEnum
	kindList
	kindObject
)

type format int

const (
	formatNone format = iota
	formatUUID
	formatDate
	formatEmail
	formatFilename
)

// Rule constrains one field. Modifiers return the receiver so rules read as
// one chain: validation.String().Trim().Min(1).Max(200).
type Rule struct {
	kind        ruleKind
	format      format
	min, max    *float64
	pattern     *regexp.Regexp
	optional    bool
	hasDefault  bool
	def         any
	trim        bool
	markup      bool
	csv         bool
	dropInvalid *bool
	maxItems    int
	enum        []string
	elem        *Rule
	nested      *Schema
}

// String accepts a string.
func String() *Rule { return &Rule{kind: kindString} }

// Int accepts an integer or a numeric string and yields int64.
func Int() *Rule { return &Rule{kind: kindInt} }

// Float accepts a number or a numeric string and yields float64.
func Float() *Rule { return &Rule{kind: kindFloat} }

// Bool accepts a boolean or "true"/"false".
func Bool() *Rule { return &Rule{kind: kindBool} }

// Enum accepts one of values.
func Enum(values ...string) *Rule {
	return &Rule{kind: kindEnum, enum: append([]string(nil), values...)}
}

// List accepts a list whose items satisfy elem.
func List(elem *Rule) *Rule {
	if elem == nil {
		elem = String()
	}
	return &Rule{kind: kindList, elem: elem}
}

// Nested accepts an object validated by schema.
func Nested(schema *Schema) *Rule { return &Rule{kind: kindObject, nested: schema} }

// UUID accepts a canonical UUID string. It is left untouched by sanitizing.
func UUID() *Rule { return &Rule{kind: kindString, format: formatUUID, trim: true} }

// IsUUID reports whether s is a canonical UUID as UUID() accepts it.
func IsUUID(s string) bool { return validate.Var(s, "uuid") == nil }

// Date accepts YYYY-MM-DD. It is left untouched by sanitizing.
func Date() *Rule { return &Rule{kind: kindString, format: formatDate, trim: true} }

// Email accepts an email address.
func Email() *Rule { return &Rule{kind: kindString, format: formatEmail, trim: true} }

// Filename accepts a name that survives filename cleaning, which is applied
// when the value is sanitized.
func Filename() *Rule {
	return &Rule{kind: kindString, format: formatFilename, max: floatPtr(sanitize.MaxFilenameBytes)}
}

func floatPtr(f float64) *float64 { return &f }

// Min is a minimum length for strings, a minimum value for numbers and a
// minimum item count for lists.
func (r *Rule) Min(n float64) *Rule {
	r.min = floatPtr(n)
	return r
}

// Max mirrors Min.
func (r *Rule) Max(n float64) *Rule {
	r.max = floatPtr(n)
	return r
}

// Pattern requires strings to match re.
func (r *Rule) Pattern(re *regexp.Regexp) *Rule {
	r.pattern = re
	return r
}

// Optional lets the field be absent or null.
func (r *Rule) Optional() *Rule {
	r.optional = true
	return r
}

// Default supplies v when the field is absent or null.
func (r *Rule) Default(v any) *Rule {
	r.hasDefault = true
	r.def = v
	return r
}

// Trim strips surrounding whitespace before checking strings.
func (r *Rule) Trim() *Rule {
	r.trim = true
	return r
}

// AllowMarkup keeps safelisted HTML when the value is sanitized.
func (r *Rule) AllowMarkup() *Rule {
	if r.kind == kindString {
		r.markup = true
	}
	return r
}

// CSV lets a list be given as comma-separated strings.
func (r *Rule) CSV() *Rule {
	r.csv = true
	return r
}

// DropInvalid drops invalid list items instead of failing the field.
func (r *Rule) DropInvalid() *Rule {
	t := true
	r.dropInvalid = &t
	return r
}

// RejectInvalid fails the field on any invalid list item, overriding a
// tolerant schema.
func (r *Rule) RejectInvalid() *Rule {
	f := false
	r.dropInvalid = &f
	return r
}

// MaxItems bounds list length.
func (r *Rule) MaxItems(n int) *Rule {
	r.maxItems = n
	return r
}

func (r *Rule) sanitizeMode() sanitize.Mode {
	switch {
	case r.markup:
		return sanitize.ModeHTML
	case r.format == formatFilename:
		return sanitize.ModeFilename
	case r.format == formatUUID, r.format == formatDate:
		return sanitize.ModeRaw
	}
	return sanitize.ModeText
}

func fail(path, msg string, args ...any) []FieldError {
	return []FieldError{{Path: path, Message: fmt.Sprintf(msg, args...)}}
}

func (r *Rule) check(v any, path string, tolerant bool) (any, []FieldError) {
	switch r.kind {
	case kindString:
		return r.checkString(v, path)
	case kindInt:
		n, ok := toInt(v)
		if !ok {
			return nil, fail(path, "Expected integer")
		}
		if errs := r.checkRange(float64(n), path); errs != nil {
			return nil, errs
		}
		return n, nil
	case kindFloat:
		f, ok := toFloat(v)
		if !ok {
			return nil, fail(path, "Expected number")
		}
		if errs := r.checkRange(f, path); errs != nil {
			return nil, errs
		}
		return f, nil
	case kindBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return b, nil
			}
		}
		return nil, fail(path, "Expected boolean")
	case kindEnum:
		s, ok := v.(string)
		if ok {
			s = strings.TrimSpace(s)
			for _, e := range r.enum {
				if s == e {
					return s, nil
				}
			}
		}
		return nil, fail(path, "Must be one of: %s", strings.Join(r.enum, ", "))
	case kindList:
		return r.checkList(v, path, tolerant)
	case kindObject:
		m, ok := v.(map[string]any)
		if !ok || r.nested == nil {
			return nil, fail(path, "Expected object")
		}
		out, errs := r.nested.run(m, path)
		if len(errs) > 0 {
			return nil, errs
		}
		return out, nil
	}
	return nil, fail(path, "Unsupported value")
}

func (r *Rule) checkString(v any, path string) (any, []FieldError) {
	s, ok := v.(string)
	if !ok {
		return nil, fail(path, "Expected string")
	}
	if r.trim {
		s = strings.TrimSpace(s)
	}
	n := float64(utf8.RuneCountInString(s))
	if r.min != nil && n < *r.min {
		return nil, fail(path, "Must be at least %d characters", int(*r.min))
	}
	if r.max != nil && n > *r.max {
		return nil, fail(path, "Must be at most %d characters", int(*r.max))
	}
	if r.pattern != nil && !r.pattern.MatchString(s) {
		return nil, fail(path, "Invalid format")
	}
	switch r.format {
	case formatUUID:
		if !IsUUID(s) {
			return nil, fail(path, "Must be a valid UUID")
		}
	case formatDate:
		if validate.Var(s, "datetime=2006-01-02") != nil {
			return nil, fail(path, "Must be a valid date (YYYY-MM-DD)")
		}
	case formatEmail:
		if validate.Var(s, "email") != nil {
			return nil, fail(path, "Must be a valid email")
		}
	case formatFilename:
		if sanitize.Filename(s) == "" {
			return nil, fail(path, "Invalid filename")
		}
	}
	return s, nil
}

func (r *Rule) checkRange(f float64, path string) []FieldError {
	if r.min != nil && f < *r.min {
		return fail(path, "Must be at least %v", *r.min)
	}
	if r.max != nil && f > *r.max {
		return fail(path, "Must be at most %v", *r.max)
	}
	return nil
}

func (r *Rule) checkList(v any, path string, tolerant bool) (any, []FieldError) {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []string:
		items = make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
	case string:
		if !r.csv {
			return nil, fail(path, "Expected list")
		}
		items = []any{t}
	default:
		return nil, fail(path, "Expected list")
	}
	if r.csv {
		items = splitCSV(items)
	}

	drop := tolerant
	if r.dropInvalid != nil {
		drop = *r.dropInvalid
	}

	out := make([]any, 0, len(items))
	var errs []FieldError
	for i, item := range items {
		val, itemErrs := r.elem.check(item, fmt.Sprintf("%s[%d]", path, i), tolerant)
		if len(itemErrs) > 0 {
			if !drop {
				errs = append(errs, itemErrs...)
			}
			continue
		}
		out = append(out, val)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if r.maxItems > 0 && len(out) > r.maxItems {
		return nil, fail(path, "Must contain at most %d items", r.maxItems)
	}
	if r.min != nil && float64(len(out)) < *r.min {
		return nil, fail(path, "Must contain at least %d items", int(*r.min))
	}
	if r.max != nil && float64(len(out)) > *r.max {
		return nil, fail(path, "Must contain at most %d items", int(*r.max))
	}
	return out, nil
}

func splitCSV(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			out = append(out, item)
			continue
		}
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		f = float64(t)
	case float64:
		f = t
	case json.Number:
		var err error
		if f, err = t.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(t), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
