package engine

import (
	"github.com/FocuswithJustin/petra/internal/btree"
	"github.com/FocuswithJustin/petra/internal/exec"
	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/record"
)

func (db *DB) executeInsert(stmt *parser.InsertStmt) (*Result, error) {
	table, exists := db.catalog.table(stmt.Table)
	if !exists {
		return nil, newError(KindSchema, "no such table: %s", stmt.Table)
	}

	target, err := db.resolveInsertColumns(table, stmt.Columns)
	if err != nil {
		return nil, err
	}

	tree := btree.New(db.pager, table.root)
	maxRowid, _, err := tree.MaxKey()
	if err != nil {
		return nil, err
	}

	incoming := make([]incomingRow, 0, len(stmt.Rows))
	nextRowid := maxRowid + 1
	for _, exprRow := range stmt.Rows {
		if len(exprRow) != len(target) {
			return nil, newError(KindSchema, "INSERT row has %d values but expected %d",
				len(exprRow), len(target))
		}
		row := make(record.Row, len(table.columns))
		for i := range row {
			row[i] = record.Null()
		}
		for i, expr := range exprRow {
			v, err := exec.Eval(expr, nil)
			if err != nil {
				return nil, err
			}
			row[target[i]] = v
		}
		incoming = append(incoming, incomingRow{rowid: nextRowid, row: row})
		nextRowid++
	}

	// UNIQUE validation runs over the whole batch before any write.
	for _, idx := range db.catalog.indexesFor(table.name) {
		if !idx.unique {
			continue
		}
		if err := db.checkUniquePreflight(table, idx, incoming, nil); err != nil {
			return nil, err
		}
	}

	indexes := db.catalog.indexesFor(table.name)
	for _, in := range incoming {
		if err := tree.Insert(in.rowid, record.EncodeRow(in.row)); err != nil {
			return nil, err
		}
		for _, idx := range indexes {
			if err := db.addIndexEntry(idx, in.row, in.rowid); err != nil {
				return nil, err
			}
		}
	}

	if err := db.refreshTableStats(table, len(incoming)); err != nil {
		return nil, err
	}
	return &Result{Kind: ResultInsert, RowsAffected: uint64(len(incoming))}, nil
}

func (db *DB) resolveInsertColumns(table *tableMeta, columns []string) ([]int, error) {
	if len(columns) == 0 {
		out := make([]int, len(table.columns))
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	out := make([]int, 0, len(columns))
	seen := make(map[int]bool)
	for _, col := range columns {
		idx, ok := table.columnIndex(col)
		if !ok {
			return nil, newError(KindSchema, "table %s has no column named %s", table.name, col)
		}
		if seen[idx] {
			return nil, newError(KindSchema, "duplicate column %q in INSERT", col)
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out, nil
}
