package engine

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/petra/internal/btree"
	"github.com/FocuswithJustin/petra/internal/record"
	"github.com/FocuswithJustin/petra/internal/schema"
)

// DumpSQL writes the database as SQL text: the catalog's CREATE statements
// followed by one INSERT per row, in a form Execute can replay.
func (db *DB) DumpSQL(w io.Writer) error {
	tables, err := schema.ListTables(db.pager)
	if err != nil {
		return wrapError(err)
	}
	indexes, err := schema.ListIndexes(db.pager)
	if err != nil {
		return wrapError(err)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	sort.Slice(indexes, func(i, j int) bool { return indexes[i].Name < indexes[j].Name })

	for _, entry := range tables {
		if _, err := fmt.Fprintf(w, "%s;\n", entry.SQL); err != nil {
			return wrapError(err)
		}
		meta, ok := db.catalog.table(entry.Name)
		if !ok {
			continue
		}
		tree := btree.New(db.pager, meta.root)
		rows, err := tree.ScanAll()
		if err != nil {
			return wrapError(err)
		}
		for _, r := range rows {
			values, err := record.DecodeRow(r.Payload)
			if err != nil {
				return wrapError(err)
			}
			if _, err := fmt.Fprintf(w, "INSERT INTO %s VALUES (%s);\n",
				meta.name, renderValues(values)); err != nil {
				return wrapError(err)
			}
		}
	}

	for _, entry := range indexes {
		if _, err := fmt.Fprintf(w, "%s;\n", entry.SQL); err != nil {
			return wrapError(err)
		}
	}
	return nil
}

// TableNames returns the catalog's table names in sorted order.
func (db *DB) TableNames() []string {
	names := make([]string, 0, len(db.catalog.tables))
	for _, meta := range db.catalog.tables {
		names = append(names, meta.name)
	}
	sort.Strings(names)
	return names
}

func renderValues(values record.Row) string {
	parts := make([]string, len(values))
	for i, v := range values {
		switch v.Kind() {
		case record.KindNull:
			parts[i] = "NULL"
		case record.KindInt:
			parts[i] = strconv.FormatInt(v.Int(), 10)
		case record.KindReal:
			parts[i] = strconv.FormatFloat(v.Real(), 'g', -1, 64)
		case record.KindText:
			parts[i] = "'" + strings.ReplaceAll(v.Text(), "'", "''") + "'"
		}
	}
	return strings.Join(parts, ", ")
}
