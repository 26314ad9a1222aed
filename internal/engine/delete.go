package engine

import (
	"github.com/FocuswithJustin/petra/internal/btree"
	"github.com/FocuswithJustin/petra/internal/parser"
)

func (db *DB) executeDelete(stmt *parser.DeleteStmt) (*Result, error) {
	table, exists := db.catalog.table(stmt.Table)
	if !exists {
		return nil, newError(KindSchema, "no such table: %s", stmt.Table)
	}

	matched, err := db.matchRows(table, stmt.Where)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return &Result{Kind: ResultDelete}, nil
	}

	indexes := db.catalog.indexesFor(table.name)
	tree := btree.New(db.pager, table.root)
	for _, m := range matched {
		for _, idx := range indexes {
			if err := db.removeIndexEntry(idx, m.row, m.rowid); err != nil {
				return nil, err
			}
		}
		deleted, err := tree.Delete(m.rowid)
		if err != nil {
			return nil, err
		}
		if !deleted {
			return nil, newError(KindCorruption, "row %d vanished during DELETE", m.rowid)
		}
	}

	if err := db.refreshTableStats(table, -len(matched)); err != nil {
		return nil, err
	}
	return &Result{Kind: ResultDelete, RowsAffected: uint64(len(matched))}, nil
}
