package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// Compiler turns a visual report definition into executable SQL for the
// target dialect, plus the positional bindings the query references, in
// placeholder order. A non-empty restriction scopes the query to one
// department for row-level security.
type Compiler interface {
	Compile(definition map[string]any, dialect string, restriction string) (string, []any, error)
}

var (
	ErrMissingTable    = errors.New("visual definition has no table")
	ErrInvalidFilter   = errors.New("visual definition has an invalid filter")
	ErrUnknownOperator = errors.New("visual definition uses an unknown operator")
)

// allowed filter operators, mapped to their SQL spelling.
var operators = map[string]string{
	"eq":       "=",
	"neq":      "!=",
	"gt":       ">",
	"gte":      ">=",
	"lt":       "<",
	"lte":      "<=",
	"like":     "LIKE",
	"not_like": "NOT LIKE",
}

// VisualCompiler is the built-in compiler for the visual definition
// shape {table, columns, filters, order_by, limit}.
type VisualCompiler struct{}

func NewVisualCompiler() *VisualCompiler {
	return &VisualCompiler{}
}

func (c *VisualCompiler) Compile(definition map[string]any, dialect string, restriction string) (string, []any, error) {
	table, _ := definition["table"].(string)
	if table == "" {
		return "", nil, ErrMissingTable
	}

	var builder strings.Builder

	builder.WriteString("SELECT ")
	builder.WriteString(columnList(definition, dialect))
	builder.WriteString(" FROM ")
	builder.WriteString(quoteIdentifier(table, dialect))

	bindings := make([]any, 0)
	conditions := make([]string, 0)

	filters, _ := definition["filters"].([]any)
	for _, raw := range filters {
		filter, ok := raw.(map[string]any)
		if !ok {
			return "", nil, ErrInvalidFilter
		}

		column, _ := filter["column"].(string)
		operatorName, _ := filter["operator"].(string)

		if column == "" || operatorName == "" {
			return "", nil, ErrInvalidFilter
		}

		operator, ok := operators[operatorName]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrUnknownOperator, operatorName)
		}

		bindings = append(bindings, filter["value"])

		conditions = append(conditions, fmt.Sprintf("%s %s ?", quoteIdentifier(column, dialect), operator))
	}

	if restriction != "" {
		bindings = append(bindings, restriction)

		conditions = append(conditions, quoteIdentifier("department_id", dialect)+" = ?")
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if orderBy, ok := definition["order_by"].(string); ok && orderBy != "" {
		builder.WriteString(" ORDER BY ")
		builder.WriteString(quoteIdentifier(orderBy, dialect))

		if direction, ok := definition["order_direction"].(string); ok && strings.EqualFold(direction, "desc") {
			builder.WriteString(" DESC")
		}
	}

	if limit, ok := asInt(definition["limit"]); ok && limit > 0 {
		switch dialect {
		case "oracle":
			builder.WriteString(fmt.Sprintf(" FETCH FIRST %d ROWS ONLY", limit))
		default:
			builder.WriteString(fmt.Sprintf(" LIMIT %d", limit))
		}
	}

	return builder.String(), bindings, nil
}

func columnList(definition map[string]any, dialect string) string {
	rawColumns, _ := definition["columns"].([]any)
	if len(rawColumns) == 0 {
		return "*"
	}

	columns := make([]string, 0, len(rawColumns))

	for _, raw := range rawColumns {
		if column, ok := raw.(string); ok && column != "" {
			columns = append(columns, quoteIdentifier(column, dialect))
		}
	}

	if len(columns) == 0 {
		return "*"
	}

	return strings.Join(columns, ", ")
}

func quoteIdentifier(identifier, dialect string) string {
	// Strip existing quotes to avoid doubling up.
	identifier = strings.Trim(identifier, "`\"")

	switch dialect {
	case "mysql":
		return "`" + identifier + "`"
	default:
		return `"` + identifier + `"`
	}
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
