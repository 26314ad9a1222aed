// Package exec implements the Volcano operator pipeline: pull-based
// operators over rows, expression evaluation, scalar functions, joins,
// grouping, ordering, and aggregation.
package exec

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/record"
)

// Slot is one table's contribution to a row in scope. A Null slot stands for
// the missing side of an outer join: every column reads as NULL.
type Slot struct {
	// Qualifier is the name a column reference may use for this table
	// (alias when present, else the table name), lower-cased.
	Qualifier string

	// Columns are the column names, lower-cased, in table order.
	Columns []string

	Values record.Row
	Rowid  int64
	Null   bool
}

// Row is the unit of data flowing between operators.
type Row struct {
	Slots []Slot

	// Aggs carries per-group aggregate results keyed by the aggregate
	// call node, set by the aggregation operators.
	Aggs map[*parser.FuncCall]record.Value

	// Source links a projected row back to the row it was computed from,
	// so ORDER BY can reference both output aliases and source columns.
	Source *Row
}

// Operator is the Volcano interface. Next returns nil when exhausted.
type Operator interface {
	Open() error
	Next() (*Row, error)
	Close() error
}

// lookupColumn resolves a column reference within a row. Unqualified names
// must be unambiguous across the slots in scope.
func (r *Row) lookupColumn(table, column string) (record.Value, bool, error) {
	table = strings.ToLower(table)
	column = strings.ToLower(column)

	v, n := r.findColumn(table, column)
	if n == 0 && r.Source != nil {
		v, n = r.Source.findColumn(table, column)
	}
	switch {
	case n == 0:
		return record.Null(), false, nil
	case n > 1:
		return record.Null(), false, fmt.Errorf("ambiguous column reference %q", column)
	default:
		return v, true, nil
	}
}

func (r *Row) findColumn(table, column string) (record.Value, int) {
	var found record.Value
	count := 0
	for si := range r.Slots {
		slot := &r.Slots[si]
		if table != "" && slot.Qualifier != table {
			continue
		}
		for ci, name := range slot.Columns {
			if name != column {
				continue
			}
			count++
			if slot.Null {
				found = record.Null()
			} else {
				found = slot.Values[ci]
			}
			break
		}
		if table != "" && count > 0 {
			// A qualified reference matches at most one slot.
			break
		}
	}
	return found, count
}

// singleSlot returns the row's only slot, for single-table pipelines.
func (r *Row) singleSlot() *Slot {
	return &r.Slots[0]
}
