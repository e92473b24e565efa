package query

// Kind is the statement an Instructions value describes.
type Kind string

const (
	KindSelect Kind = "select"
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Condition is one allowlisted comparison. For pattern operators Value is
// the escaped pattern including its wildcards.
type Condition struct {
	Column   string
	Operator Operator
	Value    FilterValue
}

// JoinSelect projects columns of a related entity through a Relation.
type JoinSelect struct {
	Relation   string
	Entity     string
	ForeignKey string
	Columns    []string
}

// SortSpec orders by one allowlisted column.
type SortSpec struct {
	Column    string
	Ascending bool
}

// Pagination is a clamped page window.
type Pagination struct {
	Page   int
	Limit  int
	Offset int
}

// Assignment is one column value of an insert or update. A Null assignment
// writes SQL NULL.
type Assignment struct {
	Column string
	Value  Scalar
	Null   bool
}

// Instructions is the rendered, storage-neutral description of a query.
// Every identifier in it came from the registry; every user value sits in a
// Value field.
type Instructions struct {
	Kind    Kind
	Entity  string
	Columns []string
	Joins   []JoinSelect
	// Filters are ANDed together.
	Filters []Condition
	// AnyOf groups are each ORed internally and ANDed with Filters.
	AnyOf      [][]Condition
	Sort       []SortSpec
	Pagination *Pagination
	Values     []Assignment
	// CountTotal asks the executor for the unpaginated row count.
	CountTotal bool
}

// HasFilters reports whether the instructions restrict rows.
func (in Instructions) HasFilters() bool {
	return len(in.Filters) > 0 || len(in.AnyOf) > 0
}

func (in Instructions) clone() Instructions {
	out := in
	out.Columns = append([]string(nil), in.Columns...)
	out.Joins = make([]JoinSelect, len(in.Joins))
	for i, j := range in.Joins {
		j.Columns = append([]string(nil), j.Columns...)
		out.Joins[i] = j
	}
	out.Filters = cloneConditions(in.Filters)
	out.AnyOf = make([][]Condition, len(in.AnyOf))
	for i, g := range in.AnyOf {
		out.AnyOf[i] = cloneConditions(g)
	}
	out.Sort = append([]SortSpec(nil), in.Sort...)
	if in.Pagination != nil {
		p := *in.Pagination
		out.Pagination = &p
	}
	out.Values = append([]Assignment(nil), in.Values...)
	return out
}

func cloneConditions(in []Condition) []Condition {
	out := make([]Condition, len(in))
	for i, c := range in {
		if list, ok := c.Value.(ScalarList); ok {
			c.Value = append(ScalarList(nil), list...)
		}
		out[i] = c
	}
	return out
}
