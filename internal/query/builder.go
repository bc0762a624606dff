// Package query translates schema-validated query specifications into
// parameterized SQL. Caller input never reaches the SQL text; only
// registry-drawn identifiers and placeholders are emitted.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/ChuanYuanNotBoat/malody-api/internal/schema"
)

// DefaultLimit applies when a spec leaves Limit at zero.
const DefaultLimit = 50

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Filter is one clause of a spec: column, operator and the bound values. The
// operator fixes the value arity (between takes two, in takes one or more,
// everything else exactly one).
type Filter struct {
	Column string
	Op     schema.Operator
	Values []any
}

// Sort orders the result by a single column.
type Sort struct {
	Column    string
	Direction Direction
}

// Spec is a caller-supplied description of a table query prior to SQL
// translation.
type Spec struct {
	Table   string
	Filters []Filter
	Sort    *Sort
	Offset  int
	Limit   int
}

// BoundStatement is parameterized SQL text plus its ordered argument values.
// Only Builder.Build produces it.
type BoundStatement struct {
	SQL  string
	Args []any
}

// ValidationError reports a malformed or disallowed spec. It is a user input
// fault and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + e.Reason
}

func invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Builder validates specs against the schema registry and emits bound
// statements.
type Builder struct {
	registry *schema.Registry
	maxLimit int
}

// NewBuilder constructs a Builder with the given result-set ceiling.
func NewBuilder(registry *schema.Registry, maxLimit int) *Builder {
	if maxLimit <= 0 {
		maxLimit = 500
	}
	return &Builder{registry: registry, maxLimit: maxLimit}
}

// MaxLimit returns the hard ceiling on a spec's Limit.
func (b *Builder) MaxLimit() int { return b.maxLimit }

// Build validates the spec and translates it. The emitted statement always
// has as many placeholders as arguments.
func (b *Builder) Build(spec Spec) (BoundStatement, error) {
	desc, err := b.registry.Describe(spec.Table)
	if err != nil {
		return BoundStatement{}, invalidf("unknown table %q", spec.Table)
	}

	limit := spec.Limit
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 0:
		return BoundStatement{}, invalidf("limit must be positive, got %d", spec.Limit)
	case limit > b.maxLimit:
		return BoundStatement{}, invalidf("limit %d exceeds maximum %d", spec.Limit, b.maxLimit)
	}
	if spec.Offset < 0 {
		return BoundStatement{}, invalidf("offset must not be negative, got %d", spec.Offset)
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(desc.ColumnNames(), ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(desc.Table)

	for i, f := range spec.Filters {
		clause, clauseArgs, err := buildClause(desc, f)
		if err != nil {
			return BoundStatement{}, err
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(clause)
		args = append(args, clauseArgs...)
	}

	if spec.Sort != nil {
		sortCol, ok := desc.Column(spec.Sort.Column)
		if !ok {
			return BoundStatement{}, invalidf("unknown sort column %q on table %q", spec.Sort.Column, desc.Table)
		}
		dir := "ASC"
		switch spec.Sort.Direction {
		case Ascending, "":
		case Descending:
			dir = "DESC"
		default:
			return BoundStatement{}, invalidf("unknown sort direction %q", spec.Sort.Direction)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(sortCol.Name)
		sb.WriteString(" ")
		sb.WriteString(dir)
	}

	sb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, spec.Offset)

	return BoundStatement{SQL: sb.String(), Args: args}, nil
}

var operatorSQL = map[schema.Operator]string{
	schema.OpEquals:      "=",
	schema.OpNotEquals:   "<>",
	schema.OpLessThan:    "<",
	schema.OpGreaterThan: ">",
	schema.OpLike:        "LIKE",
}

func buildClause(desc schema.Descriptor, f Filter) (string, []any, error) {
	column, ok := desc.Column(f.Column)
	if !ok {
		return "", nil, invalidf("unknown column %q on table %q", f.Column, desc.Table)
	}
	if !column.Allows(f.Op) {
		return "", nil, invalidf("operator %q not allowed on column %q", f.Op, f.Column)
	}
	if arity := f.Op.Arity(); arity >= 0 {
		if len(f.Values) != arity {
			return "", nil, invalidf("operator %q on column %q takes %d value(s), got %d", f.Op, f.Column, arity, len(f.Values))
		}
	} else if len(f.Values) == 0 {
		return "", nil, invalidf("operator %q on column %q requires at least one value", f.Op, f.Column)
	}
	values := make([]any, len(f.Values))
	for i, v := range f.Values {
		if !compatibleValue(column.Type, v) {
			return "", nil, invalidf("value %v is not compatible with %s column %q", v, column.Type, f.Column)
		}
		values[i] = bindValue(column.Type, v)
	}

	switch f.Op {
	case schema.OpBetween:
		return column.Name + " BETWEEN ? AND ?", values, nil
	case schema.OpIn:
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return column.Name + " IN (" + placeholders + ")", values, nil
	default:
		return column.Name + " " + operatorSQL[f.Op] + " ?", values, nil
	}
}

// bindValue converts a validated value to its stored representation.
// Timestamps are kept as RFC 3339 UTC strings, matching the sink's format.
func bindValue(t schema.ColumnType, v any) any {
	if t == schema.TypeTimestamp {
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(time.RFC3339)
		}
	}
	return v
}

// compatibleValue checks the Go-side value against the column's semantic
// type. Numeric columns accept any numeric Go type (JSON decoding produces
// float64); timestamps accept time.Time or RFC 3339 strings.
func compatibleValue(t schema.ColumnType, v any) bool {
	switch t {
	case schema.TypeInteger, schema.TypeReal:
		switch v.(type) {
		case int, int32, int64, uint, uint32, uint64, float32, float64:
			return true
		}
		return false
	case schema.TypeText:
		_, ok := v.(string)
		return ok
	case schema.TypeTimestamp:
		switch val := v.(type) {
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339, val)
			return err == nil
		}
		return false
	default:
		return false
	}
}
