package engine

import (
	"strings"

	"github.com/FocuswithJustin/petra/internal/btree"
	"github.com/FocuswithJustin/petra/internal/exec"
	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/planner"
	"github.com/FocuswithJustin/petra/internal/record"
)

// matchedRow is one table row that satisfied a WHERE clause.
type matchedRow struct {
	rowid int64
	row   record.Row
}

// matchRows finds the rows of a table satisfying where, using the planner
// to pick an access path and applying the full predicate as a residual
// filter over the candidates.
func (db *DB) matchRows(table *tableMeta, where parser.Expression) ([]matchedRow, error) {
	qualifier := strings.ToLower(table.name)
	path := planner.Plan(where, db.catalog.plannerTable(table, []string{table.name}))

	var candidates []matchedRow
	if path.Kind == planner.PathTableScan {
		tree := btree.New(db.pager, table.root)
		entries, err := tree.ScanAll()
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			row, err := record.DecodeRow(entry.Payload)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, matchedRow{rowid: entry.Key, row: row})
		}
	} else {
		rowids, err := db.rowidsForPath(path)
		if err != nil {
			return nil, err
		}
		tree := btree.New(db.pager, table.root)
		for _, rowid := range rowids {
			payload, found, err := tree.Lookup(rowid)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			row, err := record.DecodeRow(payload)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, matchedRow{rowid: rowid, row: row})
		}
	}

	if where == nil {
		return candidates, nil
	}

	columns := table.lowerColumns()
	var matched []matchedRow
	for _, cand := range candidates {
		row := &exec.Row{Slots: []exec.Slot{{
			Qualifier: qualifier,
			Columns:   columns,
			Values:    cand.row,
			Rowid:     cand.rowid,
		}}}
		v, err := exec.Eval(where, row)
		if err != nil {
			return nil, err
		}
		if !v.IsNull() && v.Truthy() {
			matched = append(matched, cand)
		}
	}
	return matched, nil
}
