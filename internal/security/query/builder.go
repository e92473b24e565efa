// Package query builds storage instructions from allowlisted parts. Column
// names, operators and relations are checked against a Registry; user values
// only ever travel as FilterValues, never as identifiers or SQL text.
package query

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/turtacn/ConstructOps/internal/security/sanitize"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

// Pagination bounds.
const (
	MinPage      = 1
	MaxPage      = 1000
	MinLimit     = 1
	MaxLimit     = 100
	DefaultLimit = 20
)

// Search term bounds.
const (
	MaxSearchRunes = 100
)

var (
	searchTermPattern = regexp.MustCompile(`^[\p{L}\p{N} \-_.%&/#@+]+$`)
	joinPathPattern   = regexp.MustCompile(`^([a-z][a-z0-9_]*)\(([a-z0-9_,\s]*)\)$`)
)

func constructionError(code errors.ErrorCode, detail string) *errors.AppError {
	return errors.New(code, errors.DefaultMessageForCode(code)).WithDetail(detail)
}

// Builder accumulates one query for one entity. It is not safe for
// concurrent use. The first failure is kept and returned again by Render.
type Builder struct {
	registry *Registry
	entity   string
	in       Instructions
	selected bool
	err      error
}

// NewBuilder starts a select over entity.
func NewBuilder(registry *Registry, entity string) (*Builder, error) {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if _, ok := registry.entities[entity]; !ok {
		return nil, constructionError(errors.ErrCodeUnknownEntity, entity)
	}
	return &Builder{
		registry: registry,
		entity:   entity,
		in:       Instructions{Kind: KindSelect, Entity: entity},
	}, nil
}

func (b *Builder) fail(err *errors.AppError) error {
	if b.err == nil {
		b.err = err
	}
	return err
}

func (b *Builder) checkColumn(column string) error {
	if !b.registry.HasColumn(b.entity, column) {
		return b.fail(constructionError(errors.ErrCodeInvalidColumn, b.entity+"."+column))
	}
	return nil
}

// AddFilter appends an ANDed condition. The column is checked first, then
// the operator, then the value's shape.
func (b *Builder) AddFilter(column string, op Operator, value FilterValue) error {
	if err := b.checkColumn(column); err != nil {
		return err
	}
	spec, ok := operatorSpecs[op]
	if !ok {
		return b.fail(constructionError(errors.ErrCodeInvalidOperator, string(op)))
	}
	cond, err := normalize(column, op, spec, value)
	if err != nil {
		return b.fail(err)
	}
	b.in.Filters = append(b.in.Filters, cond)
	return nil
}

func badValue(column string, op Operator, why string) *errors.AppError {
	return constructionError(errors.ErrCodeInvalidFilterValue, column+" "+string(op)+": "+why)
}

func normalize(column string, op Operator, spec operatorSpec, value FilterValue) (Condition, *errors.AppError) {
	cond := Condition{Column: column, Operator: op}
	switch spec.shape {
	case shapeScalar, shapeComparable, shapeFlag, shapeText:
		s, ok := value.(Scalar)
		if !ok || !s.Valid() {
			return cond, badValue(column, op, "expected a single value")
		}
		switch spec.shape {
		case shapeComparable:
			if s.Kind() == KindBool {
				return cond, badValue(column, op, "cannot order booleans")
			}
		case shapeFlag:
			if s.Kind() != KindBool {
				return cond, badValue(column, op, "expected true or false")
			}
		case shapeText:
			text, isText := s.Str()
			if !isText {
				return cond, badValue(column, op, "expected text")
			}
			s = String(likePattern(text, spec.like))
		}
		cond.Value = s
	case shapeList:
		list, ok := value.(ScalarList)
		if !ok || len(list) == 0 {
			return cond, badValue(column, op, "expected a non-empty list")
		}
		if len(list) > MaxInItems {
			return cond, badValue(column, op, "too many items")
		}
		out := make(ScalarList, len(list))
		for i, item := range list {
			if !item.Valid() || item.Kind() != list[0].Kind() {
				return cond, badValue(column, op, "list items must share one type")
			}
			if text, isText := item.Str(); isText {
				item = String(sanitize.Text(text))
			}
			out[i] = item
		}
		cond.Value = out
	}
	return cond, nil
}

// EscapeLike escapes the LIKE metacharacters \, % and _ with a backslash.
func EscapeLike(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '\\', '%', '_':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func likePattern(text string, mode likeMode) string {
	escaped := EscapeLike(text)
	if mode == likePrefix {
		return escaped + "%"
	}
	return "%" + escaped + "%"
}

// AddSearchFilter matches term literally, case-insensitively, against any
// of columns. Columns outside the registry are dropped; if none remain the
// call fails.
func (b *Builder) AddSearchFilter(term string, columns []string) error {
	term = strings.TrimSpace(term)
	if n := utf8.RuneCountInString(term); n == 0 || n > MaxSearchRunes || !searchTermPattern.MatchString(term) {
		return b.fail(constructionError(errors.ErrCodeInvalidSearchTerm, "rejected search term"))
	}

	var group []Condition
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, dup := seen[c]; dup || !b.registry.HasColumn(b.entity, c) {
			continue
		}
		seen[c] = struct{}{}
		group = append(group, Condition{Column: c, Operator: OpContains, Value: String(likePattern(term, likeContains))})
	}
	if len(group) == 0 {
		return b.fail(constructionError(errors.ErrCodeInvalidColumn, b.entity+": no searchable columns"))
	}
	b.in.AnyOf = append(b.in.AnyOf, group)
	return nil
}

// AddSort appends an ordering; earlier calls take precedence.
func (b *Builder) AddSort(column string, ascending bool) error {
	if err := b.checkColumn(column); err != nil {
		return err
	}
	b.in.Sort = append(b.in.Sort, SortSpec{Column: column, Ascending: ascending})
	return nil
}

// SelectColumns sets the projection. It accepts entity columns, "*", and
// join paths like "project(name,status)". Invalid entries are dropped; the
// call fails when nothing valid remains.
func (b *Builder) SelectColumns(columns ...string) error {
	var plain []string
	var joins []JoinSelect
	seenCol := make(map[string]struct{})
	seenJoin := make(map[string]int)

	addCol := func(c string) {
		if _, dup := seenCol[c]; !dup {
			seenCol[c] = struct{}{}
			plain = append(plain, c)
		}
	}

	for _, raw := range columns {
		c := strings.TrimSpace(raw)
		switch {
		case c == "*":
			for _, col := range b.registry.entities[b.entity].columns {
				addCol(col)
			}
		case b.registry.HasColumn(b.entity, c):
			addCol(c)
		default:
			m := joinPathPattern.FindStringSubmatch(c)
			if m == nil {
				continue
			}
			rel, ok := b.registry.relation(b.entity, m[1])
			if !ok {
				continue
			}
			var relCols []string
			for _, rc := range strings.Split(m[2], ",") {
				rc = strings.TrimSpace(rc)
				if b.registry.HasColumn(rel.Entity, rc) && !contains(relCols, rc) {
					relCols = append(relCols, rc)
				}
			}
			if len(relCols) == 0 {
				continue
			}
			if idx, dup := seenJoin[rel.Name]; dup {
				for _, rc := range relCols {
					if !contains(joins[idx].Columns, rc) {
						joins[idx].Columns = append(joins[idx].Columns, rc)
					}
				}
				continue
			}
			seenJoin[rel.Name] = len(joins)
			joins = append(joins, JoinSelect{Relation: rel.Name, Entity: rel.Entity, ForeignKey: rel.ForeignKey, Columns: relCols})
		}
	}

	if len(plain) == 0 && len(joins) == 0 {
		return b.fail(constructionError(errors.ErrCodeInvalidColumn, b.entity+": no valid columns selected"))
	}
	b.in.Columns = plain
	b.in.Joins = joins
	b.selected = true
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Paginate clamps page to [MinPage, MaxPage] and limit to
// [MinLimit, MaxLimit]. Out-of-range input is clamped, never rejected.
func Paginate(page, limit int) Pagination {
	if page < MinPage {
		page = MinPage
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit < MinLimit {
		limit = MinLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Pagination{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// ApplyPagination clamps and records the window and asks for a total count.
func (b *Builder) ApplyPagination(page, limit int) Pagination {
	p := Paginate(page, limit)
	b.in.Pagination = &p
	b.in.CountTotal = true
	return p
}

func (b *Builder) assignments(values map[string]any) ([]Assignment, error) {
	if len(values) == 0 {
		return nil, b.fail(constructionError(errors.ErrCodeEmptySelection, b.entity+": no values"))
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Assignment, 0, len(keys))
	for _, k := range keys {
		if err := b.checkColumn(k); err != nil {
			return nil, err
		}
		v := values[k]
		if v == nil {
			out = append(out, Assignment{Column: k, Null: true})
			continue
		}
		s, ok := ScalarOf(v)
		if !ok {
			return nil, b.fail(constructionError(errors.ErrCodeInvalidFilterValue, b.entity+"."+k+": unsupported value"))
		}
		out = append(out, Assignment{Column: k, Value: s})
	}
	return out, nil
}

// Insert turns the builder into an insert of values.
func (b *Builder) Insert(values map[string]any) error {
	a, err := b.assignments(values)
	if err != nil {
		return err
	}
	b.in.Kind = KindInsert
	b.in.Values = a
	return nil
}

// Update turns the builder into an update of values. Render fails unless at
// least one filter is present.
func (b *Builder) Update(values map[string]any) error {
	a, err := b.assignments(values)
	if err != nil {
		return err
	}
	b.in.Kind = KindUpdate
	b.in.Values = a
	return nil
}

// Delete turns the builder into a delete. Render fails unless at least one
// filter is present.
func (b *Builder) Delete() {
	b.in.Kind = KindDelete
	b.in.Values = nil
}

// Err returns the first recorded failure.
func (b *Builder) Err() error { return b.err }

// Render returns an independent copy of the instructions, or the first
// failure recorded by any earlier call.
func (b *Builder) Render() (Instructions, error) {
	if b.err != nil {
		return Instructions{}, b.err
	}
	switch b.in.Kind {
	case KindUpdate, KindDelete:
		if !b.in.HasFilters() {
			return Instructions{}, b.fail(constructionError(errors.ErrCodeUnboundedMutation, string(b.in.Kind)+" "+b.entity))
		}
	}
	out := b.in.clone()
	if out.Kind == KindSelect && !b.selected {
		out.Columns = append([]string(nil), b.registry.entities[b.entity].columns...)
	}
	if out.Kind != KindSelect {
		out.Sort = nil
		out.Pagination = nil
		out.CountTotal = false
		out.Joins = nil
	}
	return out, nil
}
