// Package validation checks request bodies and query strings against
// declarative schemas. A schema never panics on input: it yields either the
// validated values or every field that failed.
package validation

import (
	"net/url"
	"reflect"
	"strings"

	"github.com/turtacn/ConstructOps/internal/security/sanitize"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

// FieldError names one failed field. Path is dotted, with list indexes in
// brackets, e.g. "items[2].quantity".
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Result is either Value (on success) or Errors.
type Result struct {
	Value  map[string]any
	Errors []FieldError
}

// OK reports success.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// Err returns nil on success, or a validation AppError whose detail lists the
// failed paths.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	paths := make([]string, len(r.Errors))
	for i, fe := range r.Errors {
		paths[i] = fe.Path
	}
	return errors.Validation(errors.DefaultMessageForCode(errors.ErrCodeValidation)).
		WithDetail(strings.Join(paths, ", "))
}

// FieldDef pairs a field name with its rule.
type FieldDef struct {
	Name string
	Rule *Rule
}

// Field declares a schema field.
func Field(name string, rule *Rule) FieldDef { return FieldDef{Name: name, Rule: rule} }

// Refinement checks values across fields once every field is valid. A
// returned error with an empty Path is reported under the refinement name.
type Refinement func(values map[string]any) *FieldError

type namedRefinement struct {
	name string
	fn   Refinement
}

// Schema is an ordered set of fields plus cross-field refinements.
type Schema struct {
	fields      []FieldDef
	index       map[string]*Rule
	refinements []namedRefinement
	tolerant    bool
}

func newSchema(tolerant bool, fields []FieldDef) *Schema {
	s := &Schema{index: make(map[string]*Rule, len(fields)), tolerant: tolerant}
	for _, f := range fields {
		if f.Rule == nil {
			continue
		}
		if _, dup := s.index[f.Name]; !dup {
			s.fields = append(s.fields, f)
		}
		s.index[f.Name] = f.Rule
	}
	return s
}

// Object builds a body schema. Invalid list items fail the request unless a
// list opts into DropInvalid.
func Object(fields ...FieldDef) *Schema { return newSchema(false, fields) }

// Query builds a query-string schema. Invalid list items are dropped unless
// a list opts into RejectInvalid.
func Query(fields ...FieldDef) *Schema { return newSchema(true, fields) }

// TolerateInvalidListItems sets the schema-wide list default.
func (s *Schema) TolerateInvalidListItems(tolerate bool) *Schema {
	s.tolerant = tolerate
	return s
}

// Refine adds a cross-field check.
func (s *Schema) Refine(name string, fn Refinement) *Schema {
	s.refinements = append(s.refinements, namedRefinement{name: name, fn: fn})
	return s
}

// Validate checks a decoded JSON body. Unknown fields are dropped.
func (s *Schema) Validate(input map[string]any) Result {
	out, errs := s.run(input, "")
	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return Result{Value: out}
}

// ValidateQuery checks query parameters. Empty scalar parameters count as
// absent; list fields collect every occurrence.
func (s *Schema) ValidateQuery(q url.Values) Result {
	input := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		vals := q[f.Name]
		if len(vals) == 0 {
			continue
		}
		if f.Rule.kind == kindList {
			items := make([]any, 0, len(vals))
			for _, v := range vals {
				if strings.TrimSpace(v) != "" {
					items = append(items, v)
				}
			}
			if len(items) > 0 {
				input[f.Name] = items
			}
			continue
		}
		if strings.TrimSpace(vals[0]) != "" {
			input[f.Name] = vals[0]
		}
	}
	return s.Validate(input)
}

func (s *Schema) run(input map[string]any, prefix string) (map[string]any, []FieldError) {
	out := make(map[string]any, len(s.fields))
	var errs []FieldError
	for _, f := range s.fields {
		path := joinPath(prefix, f.Name)
		v, present := input[f.Name]
		if !present || v == nil {
			switch {
			case f.Rule.hasDefault:
				out[f.Name] = f.Rule.def
			case f.Rule.optional:
			default:
				errs = append(errs, FieldError{Path: path, Message: "Required"})
			}
			continue
		}
		val, fieldErrs := f.Rule.check(v, path, s.tolerant)
		if len(fieldErrs) > 0 {
			errs = append(errs, fieldErrs...)
			continue
		}
		out[f.Name] = val
	}
	if len(errs) > 0 {
		return nil, errs
	}
	for _, ref := range s.refinements {
		fe := ref.fn(out)
		if fe == nil {
			continue
		}
		p := fe.Path
		if p == "" {
			p = ref.name
		}
		errs = append(errs, FieldError{Path: joinPath(prefix, p), Message: fe.Message})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// SanitizeMode reports how a validated string at path should be cleaned.
// It makes a Schema usable as a sanitize.ModeResolver.
func (s *Schema) SanitizeMode(path string) sanitize.Mode {
	if r := s.lookup(strings.Split(path, ".")); r != nil {
		return r.sanitizeMode()
	}
	return sanitize.ModeText
}

func (s *Schema) lookup(parts []string) *Rule {
	r, ok := s.index[parts[0]]
	if !ok {
		return nil
	}
	for r.kind == kindList && r.elem != nil {
		r = r.elem
	}
	if len(parts) == 1 {
		return r
	}
	if r.kind != kindObject || r.nested == nil {
		return nil
	}
	return r.nested.lookup(parts[1:])
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// EqualFields fails on b when both fields are present and differ.
func EqualFields(a, b, message string) Refinement {
	return func(values map[string]any) *FieldError {
		va, okA := values[a]
		vb, okB := values[b]
		if okA && okB && !reflect.DeepEqual(va, vb) {
			return &FieldError{Path: b, Message: message}
		}
		return nil
	}
}

// DifferentFields fails on b when both fields are present and equal.
func DifferentFields(a, b, message string) Refinement {
	return func(values map[string]any) *FieldError {
		va, okA := values[a]
		vb, okB := values[b]
		if okA && okB && reflect.DeepEqual(va, vb) {
			return &FieldError{Path: b, Message: message}
		}
		return nil
	}
}
