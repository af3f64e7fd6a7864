package audit

import (
	"fmt"
	"strings"
)

// whereBuilder assembles a WHERE clause from optional equality conditions.
// Empty values are skipped.
type whereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
	numbered   bool
}

// newWhereBuilder returns a builder using $1, $2... placeholders when
// numbered is true and ? otherwise.
func newWhereBuilder(numbered bool) *whereBuilder {
	return &whereBuilder{argIndex: 1, numbered: numbered}
}

func (wb *whereBuilder) placeholder() string {
	if !wb.numbered {
		return "?"
	}
	p := fmt.Sprintf("$%d", wb.argIndex)
	wb.argIndex++
	return p
}

// Add appends "column = value" unless value is empty.
func (wb *whereBuilder) Add(column, value string) {
	if value == "" {
		return
	}
	wb.conditions = append(wb.conditions, column+" = "+wb.placeholder())
	wb.args = append(wb.args, value)
}

// Build returns the clause, with a leading space, and all arguments added
// so far, including a Limit.
func (wb *whereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", wb.args
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// Limit returns a LIMIT clause for n. Call it after every Add.
func (wb *whereBuilder) Limit(n int) string {
	p := wb.placeholder()
	wb.args = append(wb.args, n)
	return " LIMIT " + p
}
