// Package schema holds the static description of queryable tables: their
// columns, semantic types and permitted operators. It is the single source of
// truth for what the query builder may reference; nothing is ever inferred
// from the live database.
package schema

import "errors"

// ErrTableNotFound is returned by Describe for tables outside the registry.
var ErrTableNotFound = errors.New("table not found")

// ColumnType is the semantic type of a column, used for operator and value
// compatibility checks.
type ColumnType string

const (
	TypeInteger   ColumnType = "integer"
	TypeReal      ColumnType = "real"
	TypeText      ColumnType = "text"
	TypeTimestamp ColumnType = "timestamp"
)

// Orderable reports whether range operators apply to the type.
func (t ColumnType) Orderable() bool {
	switch t {
	case TypeInteger, TypeReal, TypeTimestamp:
		return true
	default:
		return false
	}
}

// Operator is a filter operator a column may be queried with.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpLessThan    Operator = "lessThan"
	OpGreaterThan Operator = "greaterThan"
	OpBetween     Operator = "between"
	OpLike        Operator = "like"
	OpIn          Operator = "in"
)

// Arity returns the number of values the operator binds. A negative count
// means one or more.
func (o Operator) Arity() int {
	switch o {
	case OpBetween:
		return 2
	case OpIn:
		return -1
	default:
		return 1
	}
}

// Column describes one queryable column.
type Column struct {
	Name      string
	Type      ColumnType
	Operators []Operator
}

// Allows reports whether the operator is permitted on this column.
func (c Column) Allows(op Operator) bool {
	for _, allowed := range c.Operators {
		if allowed == op {
			return true
		}
	}
	return false
}

// Descriptor describes one queryable table with its columns in declaration
// order.
type Descriptor struct {
	Table   string
	Columns []Column
}

// Column looks up a column by name.
func (d Descriptor) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the declared column names in order.
func (d Descriptor) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Registry answers schema introspection requests. Read-only after
// construction.
type Registry struct {
	order  []string
	tables map[string]Descriptor
}

// NewRegistry builds the registry over the fixed relational schema. Adding a
// table means extending this definition.
func NewRegistry() *Registry {
	descriptors := []Descriptor{
		{
			Table: "player_rankings",
			Columns: []Column{
				col("id", TypeInteger),
				col("player_uid", TypeInteger),
				col("cid", TypeInteger),
				col("rank", TypeInteger),
				col("score", TypeInteger),
				col("combo", TypeInteger),
				col("accuracy", TypeReal),
				col("judge", TypeText),
				col("observed_at", TypeTimestamp),
			},
		},
		{
			Table: "player_identity",
			Columns: []Column{
				col("uid", TypeInteger),
				col("display_name", TypeText),
				col("avatar_url", TypeText),
				col("first_seen", TypeTimestamp),
				col("last_seen", TypeTimestamp),
			},
		},
		{
			Table: "player_aliases",
			Columns: []Column{
				col("id", TypeInteger),
				col("uid", TypeInteger),
				col("display_name", TypeText),
				col("first_seen", TypeTimestamp),
				col("last_seen", TypeTimestamp),
				col("closed_at", TypeTimestamp),
			},
		},
		{
			Table: "charts",
			Columns: []Column{
				col("cid", TypeInteger),
				col("sid", TypeInteger),
				col("mode", TypeInteger),
				col("status", TypeInteger),
				col("level", TypeText),
				col("creator", TypeText),
				col("last_updated", TypeTimestamp),
			},
		},
		{
			Table: "songs",
			Columns: []Column{
				col("sid", TypeInteger),
				col("title", TypeText),
				col("artist", TypeText),
				col("cover_url", TypeText),
				col("last_updated", TypeTimestamp),
			},
		},
		{
			Table: "import_metadata",
			Columns: []Column{
				col("id", TypeInteger),
				col("resource", TypeText),
				col("record_count", TypeInteger),
				col("observed_at", TypeTimestamp),
			},
		},
	}

	r := &Registry{tables: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		r.order = append(r.order, d.Table)
		r.tables[d.Table] = d
	}
	return r
}

// Describe returns the descriptor for a table.
func (r *Registry) Describe(table string) (Descriptor, error) {
	d, ok := r.tables[table]
	if !ok {
		return Descriptor{}, ErrTableNotFound
	}
	return d, nil
}

// Tables lists the registered table names in declaration order.
func (r *Registry) Tables() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func col(name string, t ColumnType) Column {
	return Column{Name: name, Type: t, Operators: operatorsFor(t)}
}

func operatorsFor(t ColumnType) []Operator {
	if t.Orderable() {
		return []Operator{OpEquals, OpNotEquals, OpLessThan, OpGreaterThan, OpBetween, OpIn}
	}
	return []Operator{OpEquals, OpNotEquals, OpLike, OpIn}
}
