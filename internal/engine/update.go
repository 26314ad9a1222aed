package engine

import (
	"strings"

	"github.com/FocuswithJustin/petra/internal/btree"
	"github.com/FocuswithJustin/petra/internal/exec"
	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/record"
)

func (db *DB) executeUpdate(stmt *parser.UpdateStmt) (*Result, error) {
	table, exists := db.catalog.table(stmt.Table)
	if !exists {
		return nil, newError(KindSchema, "no such table: %s", stmt.Table)
	}

	type assignment struct {
		col  int
		expr parser.Expression
	}
	assignments := make([]assignment, 0, len(stmt.Assignments))
	for _, a := range stmt.Assignments {
		idx, ok := table.columnIndex(a.Column)
		if !ok {
			return nil, newError(KindSchema, "table %s has no column named %s", table.name, a.Column)
		}
		assignments = append(assignments, assignment{col: idx, expr: a.Value})
	}

	matched, err := db.matchRows(table, stmt.Where)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return &Result{Kind: ResultUpdate}, nil
	}

	qualifier := strings.ToLower(table.name)
	columns := table.lowerColumns()

	// Assignments are evaluated against the original row.
	updated := make([]incomingRow, 0, len(matched))
	affected := make(map[int64]bool, len(matched))
	for _, m := range matched {
		env := &exec.Row{Slots: []exec.Slot{{
			Qualifier: qualifier,
			Columns:   columns,
			Values:    m.row,
			Rowid:     m.rowid,
		}}}
		newRow := append(record.Row(nil), m.row...)
		for _, a := range assignments {
			v, err := exec.Eval(a.expr, env)
			if err != nil {
				return nil, err
			}
			newRow[a.col] = v
		}
		updated = append(updated, incomingRow{rowid: m.rowid, row: newRow})
		affected[m.rowid] = true
	}

	// Validate the whole batch against every UNIQUE index before writing;
	// rows being replaced in this statement do not conflict with their own
	// old values.
	for _, idx := range db.catalog.indexesFor(table.name) {
		if !idx.unique {
			continue
		}
		if err := db.checkUniquePreflight(table, idx, updated, affected); err != nil {
			return nil, err
		}
	}

	indexes := db.catalog.indexesFor(table.name)
	tree := btree.New(db.pager, table.root)
	for i, m := range matched {
		newRow := updated[i].row
		for _, idx := range indexes {
			oldKey := indexKeyForRow(idx, m.row)
			newKey := indexKeyForRow(idx, newRow)
			if oldKey.key == newKey.key && tupleBytesEqual(oldKey.tupleBytes, newKey.tupleBytes) {
				continue
			}
			if err := db.removeIndexEntry(idx, m.row, m.rowid); err != nil {
				return nil, err
			}
			if err := db.addIndexEntry(idx, newRow, m.rowid); err != nil {
				return nil, err
			}
		}
		if err := tree.Insert(m.rowid, record.EncodeRow(newRow)); err != nil {
			return nil, err
		}
	}

	if err := db.refreshTableStats(table, 0); err != nil {
		return nil, err
	}
	return &Result{Kind: ResultUpdate, RowsAffected: uint64(len(matched))}, nil
}
