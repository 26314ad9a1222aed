package engine

import (
	"strings"

	"github.com/FocuswithJustin/petra/internal/btree"
	"github.com/FocuswithJustin/petra/internal/record"
	"github.com/FocuswithJustin/petra/internal/schema"
	"github.com/FocuswithJustin/petra/internal/parser"
)

func (db *DB) executeCreateTable(stmt *parser.CreateTableStmt) (*Result, error) {
	if _, exists := db.catalog.table(stmt.Table); exists {
		if stmt.IfNotExists {
			return &Result{Kind: ResultCreateTable}, nil
		}
		return nil, newError(KindSchema, "table %q already exists", stmt.Table)
	}
	if len(stmt.Columns) == 0 {
		return nil, newError(KindSchema, "CREATE TABLE requires at least one column")
	}

	cols := make([]schema.ColumnInfo, 0, len(stmt.Columns))
	seen := make(map[string]bool)
	for i, col := range stmt.Columns {
		key := strings.ToLower(col.Name)
		if seen[key] {
			return nil, newError(KindSchema, "duplicate column name: %s", col.Name)
		}
		seen[key] = true
		cols = append(cols, schema.ColumnInfo{Name: col.Name, DataType: col.Type, Index: uint32(i)})
	}

	root, err := schema.CreateTable(db.pager, stmt.Table, cols, renderCreateTable(stmt))
	if err != nil {
		return nil, err
	}
	if err := schema.UpsertTableStats(db.pager, stmt.Table, 0); err != nil {
		return nil, err
	}

	meta := &tableMeta{name: stmt.Table, root: root, colIdx: make(map[string]int)}
	for _, col := range stmt.Columns {
		meta.colIdx[strings.ToLower(col.Name)] = len(meta.columns)
		meta.columns = append(meta.columns, col.Name)
	}
	db.catalog.tables[strings.ToLower(stmt.Table)] = meta
	db.catalog.tableRows[strings.ToLower(stmt.Table)] = 0

	return &Result{Kind: ResultCreateTable}, nil
}

func (db *DB) executeDropTable(stmt *parser.DropTableStmt) (*Result, error) {
	meta, exists := db.catalog.table(stmt.Table)
	if !exists {
		if stmt.IfExists {
			return &Result{Kind: ResultDropTable}, nil
		}
		return nil, newError(KindSchema, "no such table: %s", stmt.Table)
	}

	// Dependent indexes go first: entries, stats, then trees.
	for _, idx := range db.catalog.indexesFor(meta.name) {
		if _, err := schema.DropIndex(db.pager, idx.name); err != nil {
			return nil, err
		}
		if _, err := schema.DropIndexStats(db.pager, idx.name); err != nil {
			return nil, err
		}
		if _, err := btree.ReclaimTree(db.pager, idx.root); err != nil {
			return nil, err
		}
		delete(db.catalog.indexes, strings.ToLower(idx.name))
		delete(db.catalog.indexStats, strings.ToLower(idx.name))
	}

	if _, err := schema.DropTable(db.pager, meta.name); err != nil {
		return nil, err
	}
	if _, err := schema.DropTableStats(db.pager, meta.name); err != nil {
		return nil, err
	}
	if _, err := btree.ReclaimTree(db.pager, meta.root); err != nil {
		return nil, err
	}
	delete(db.catalog.tables, strings.ToLower(meta.name))
	delete(db.catalog.tableRows, strings.ToLower(meta.name))

	return &Result{Kind: ResultDropTable}, nil
}

func (db *DB) executeCreateIndex(stmt *parser.CreateIndexStmt) (*Result, error) {
	if _, exists := db.catalog.index(stmt.Name); exists {
		if stmt.IfNotExists {
			return &Result{Kind: ResultCreateIndex}, nil
		}
		return nil, newError(KindSchema, "index %q already exists", stmt.Name)
	}
	table, exists := db.catalog.table(stmt.Table)
	if !exists {
		return nil, newError(KindSchema, "no such table: %s", stmt.Table)
	}

	cols := make([]schema.ColumnInfo, 0, len(stmt.Columns))
	colIdx := make([]int, 0, len(stmt.Columns))
	seen := make(map[string]bool)
	for _, name := range stmt.Columns {
		pos, ok := table.columnIndex(name)
		if !ok {
			return nil, newError(KindSchema, "no such column: %s.%s", table.name, name)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, newError(KindSchema, "duplicate column %q in index", name)
		}
		seen[key] = true
		cols = append(cols, schema.ColumnInfo{Name: table.columns[pos], Index: uint32(pos)})
		colIdx = append(colIdx, pos)
	}

	root, err := schema.CreateIndex(db.pager, stmt.Name, table.name, cols, stmt.Unique, renderCreateIndex(stmt))
	if err != nil {
		return nil, err
	}

	meta := &indexMeta{
		name:   stmt.Name,
		table:  strings.ToLower(table.name),
		root:   root,
		colIdx: colIdx,
		unique: stmt.Unique,
	}
	for _, c := range cols {
		meta.columns = append(meta.columns, strings.ToLower(c.Name))
	}

	// Backfill from the table, rejecting duplicates for UNIQUE.
	if err := db.backfillIndex(table, meta); err != nil {
		return nil, err
	}

	db.catalog.indexes[strings.ToLower(meta.name)] = meta
	if err := db.refreshTableStats(table, 0); err != nil {
		return nil, err
	}
	return &Result{Kind: ResultCreateIndex}, nil
}

func (db *DB) backfillIndex(table *tableMeta, idx *indexMeta) error {
	tree := btree.New(db.pager, table.root)
	entries, err := tree.ScanAll()
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		row, err := record.DecodeRow(entry.Payload)
		if err != nil {
			return err
		}
		if idx.unique {
			ik := indexKeyForRow(idx, row)
			if !ik.hasNull {
				key := string(ik.tupleBytes)
				if seen[key] {
					return uniqueViolation(table.name, indexColumnNames(table, idx))
				}
				seen[key] = true
			}
		}
		if err := db.addIndexEntry(idx, row, entry.Key); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) executeDropIndex(stmt *parser.DropIndexStmt) (*Result, error) {
	meta, exists := db.catalog.index(stmt.Name)
	if !exists {
		if stmt.IfExists {
			return &Result{Kind: ResultDropIndex}, nil
		}
		return nil, newError(KindSchema, "no such index: %s", stmt.Name)
	}

	if _, err := schema.DropIndex(db.pager, meta.name); err != nil {
		return nil, err
	}
	if _, err := schema.DropIndexStats(db.pager, meta.name); err != nil {
		return nil, err
	}
	if _, err := btree.ReclaimTree(db.pager, meta.root); err != nil {
		return nil, err
	}
	delete(db.catalog.indexes, strings.ToLower(meta.name))
	delete(db.catalog.indexStats, strings.ToLower(meta.name))

	return &Result{Kind: ResultDropIndex}, nil
}

// renderCreateTable reconstructs canonical SQL text for the catalog entry.
func renderCreateTable(stmt *parser.CreateTableStmt) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(stmt.Table)
	sb.WriteString(" (")
	for i, col := range stmt.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(col.Name)
		if col.Type != "" {
			sb.WriteString(" ")
			sb.WriteString(col.Type)
		}
	}
	sb.WriteString(")")
	return sb.String()
}

func renderCreateIndex(stmt *parser.CreateIndexStmt) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if stmt.Unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX ")
	sb.WriteString(stmt.Name)
	sb.WriteString(" ON ")
	sb.WriteString(stmt.Table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(stmt.Columns, ", "))
	sb.WriteString(")")
	return sb.String()
}
