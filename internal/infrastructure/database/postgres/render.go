package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/turtacn/ConstructOps/internal/security/query"
)

// statement is parameterized SQL. User values only ever appear in args.
type statement struct {
	sql  string
	args []any
}

type renderer struct {
	sb   strings.Builder
	args []any
}

func ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

func (r *renderer) bind(v any) string {
	r.args = append(r.args, v)
	return fmt.Sprintf("$%d", len(r.args))
}

func (r *renderer) statement() statement {
	return statement{sql: r.sb.String(), args: r.args}
}

// renderStatement turns instructions into SQL. Every identifier comes from
// the registry and is quoted; every value is a positional parameter.
func renderStatement(in query.Instructions) (statement, error) {
	r := &renderer{}
	switch in.Kind {
	case query.KindSelect, "":
		r.renderSelect(in)
	case query.KindInsert:
		r.renderInsert(in)
	case query.KindUpdate:
		r.renderUpdate(in)
	case query.KindDelete:
		r.sb.WriteString("DELETE FROM ")
		r.sb.WriteString(ident(in.Entity))
		r.renderWhere(in)
		r.renderReturning(in)
	default:
		return statement{}, fmt.Errorf("postgres: unsupported instruction kind %q", in.Kind)
	}
	return r.statement(), nil
}

// renderCount counts the rows a select would return without pagination.
func renderCount(in query.Instructions) statement {
	r := &renderer{}
	r.sb.WriteString("SELECT count(*) FROM ")
	r.sb.WriteString(ident(in.Entity))
	r.renderWhere(in)
	return r.statement()
}

func (r *renderer) renderSelect(in query.Instructions) {
	r.sb.WriteString("SELECT ")
	var cols []string
	for _, c := range in.Columns {
		cols = append(cols, ident(in.Entity, c))
	}
	for _, j := range in.Joins {
		for _, c := range j.Columns {
			cols = append(cols, ident(j.Relation, c)+" AS "+ident(j.Relation+"."+c))
		}
	}
	if len(cols) == 0 {
		cols = append(cols, ident(in.Entity)+".*")
	}
	r.sb.WriteString(strings.Join(cols, ", "))
	r.sb.WriteString(" FROM ")
	r.sb.WriteString(ident(in.Entity))
	for _, j := range in.Joins {
		fmt.Fprintf(&r.sb, " LEFT JOIN %s AS %s ON %s = %s",
			ident(j.Entity), ident(j.Relation), ident(j.Relation, "id"), ident(in.Entity, j.ForeignKey))
	}
	r.renderWhere(in)
	if len(in.Sort) > 0 {
		r.sb.WriteString(" ORDER BY ")
		for i, s := range in.Sort {
			if i > 0 {
				r.sb.WriteString(", ")
			}
			r.sb.WriteString(ident(in.Entity, s.Column))
			if s.Ascending {
				r.sb.WriteString(" ASC")
			} else {
				r.sb.WriteString(" DESC")
			}
		}
	}
	if p := in.Pagination; p != nil {
		fmt.Fprintf(&r.sb, " LIMIT %s OFFSET %s", r.bind(p.Limit), r.bind(p.Offset))
	}
}

func (r *renderer) renderInsert(in query.Instructions) {
	cols := make([]string, len(in.Values))
	vals := make([]string, len(in.Values))
	for i, a := range in.Values {
		cols[i] = ident(a.Column)
		vals[i] = r.assignmentValue(a)
	}
	fmt.Fprintf(&r.sb, "INSERT INTO %s (%s) VALUES (%s)",
		ident(in.Entity), strings.Join(cols, ", "), strings.Join(vals, ", "))
	r.renderReturning(in)
}

func (r *renderer) renderUpdate(in query.Instructions) {
	sets := make([]string, len(in.Values))
	for i, a := range in.Values {
		sets[i] = ident(a.Column) + " = " + r.assignmentValue(a)
	}
	fmt.Fprintf(&r.sb, "UPDATE %s SET %s", ident(in.Entity), strings.Join(sets, ", "))
	r.renderWhere(in)
	r.renderReturning(in)
}

func (r *renderer) assignmentValue(a query.Assignment) string {
	if a.Null {
		return "NULL"
	}
	return r.bind(a.Value.Value())
}

func (r *renderer) renderReturning(in query.Instructions) {
	r.sb.WriteString(" RETURNING ")
	if len(in.Columns) == 0 {
		r.sb.WriteString("*")
		return
	}
	cols := make([]string, len(in.Columns))
	for i, c := range in.Columns {
		cols[i] = ident(c)
	}
	r.sb.WriteString(strings.Join(cols, ", "))
}

func (r *renderer) renderWhere(in query.Instructions) {
	var clauses []string
	for _, c := range in.Filters {
		clauses = append(clauses, r.condition(in.Entity, c))
	}
	for _, group := range in.AnyOf {
		parts := make([]string, len(group))
		for i, c := range group {
			parts[i] = r.condition(in.Entity, c)
		}
		clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
	}
	if len(clauses) > 0 {
		r.sb.WriteString(" WHERE ")
		r.sb.WriteString(strings.Join(clauses, " AND "))
	}
}

var comparison = map[query.Operator]string{
	query.OpEq:  "=",
	query.OpNeq: "<>",
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

func (r *renderer) condition(entity string, c query.Condition) string {
	col := ident(entity, c.Column)
	switch {
	case c.Operator == query.OpIsNull:
		if s, _ := c.Value.(query.Scalar); s.Value() == true {
			return col + " IS NULL"
		}
		return col + " IS NOT NULL"
	case c.Operator == query.OpIn:
		list, _ := c.Value.(query.ScalarList)
		ph := make([]string, len(list))
		for i, v := range list {
			ph[i] = r.bind(v.Value())
		}
		return col + " IN (" + strings.Join(ph, ", ") + ")"
	case c.Operator.IsPattern():
		s, _ := c.Value.(query.Scalar)
		return "CAST(" + col + " AS text) ILIKE " + r.bind(s.Value()) + ` ESCAPE '\'`
	default:
		s, _ := c.Value.(query.Scalar)
		return col + " " + comparison[c.Operator] + " " + r.bind(s.Value())
	}
}
