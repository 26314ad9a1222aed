package engine

import (
	"strings"

	"github.com/FocuswithJustin/petra/internal/pager"
	"github.com/FocuswithJustin/petra/internal/planner"
	"github.com/FocuswithJustin/petra/internal/schema"
)

// tableMeta is the in-memory description of one table.
type tableMeta struct {
	name    string // as created
	root    uint32
	columns []string       // as created, in order
	colIdx  map[string]int // lower-cased name -> position
}

func (t *tableMeta) columnIndex(name string) (int, bool) {
	idx, ok := t.colIdx[strings.ToLower(name)]
	return idx, ok
}

func (t *tableMeta) lowerColumns() []string {
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = strings.ToLower(c)
	}
	return out
}

// indexMeta is the in-memory description of one secondary index.
type indexMeta struct {
	name    string
	table   string // lower-cased owning table
	root    uint32
	columns []string // lower-cased, in index order
	colIdx  []int    // positions in the table row
	unique  bool
}

// catalog is the in-memory mirror of the schema tree plus statistics.
type catalog struct {
	tables  map[string]*tableMeta // lower name -> meta
	indexes map[string]*indexMeta // lower name -> meta

	tableRows  map[string]int // lower table name -> live row count
	indexStats map[string]schema.IndexStats
}

func newCatalog() *catalog {
	return &catalog{
		tables:     make(map[string]*tableMeta),
		indexes:    make(map[string]*indexMeta),
		tableRows:  make(map[string]int),
		indexStats: make(map[string]schema.IndexStats),
	}
}

// loadCatalog rebuilds the in-memory catalog from the schema tree.
func loadCatalog(p *pager.Pager) (*catalog, error) {
	c := newCatalog()
	if p.Header().SchemaRoot == 0 {
		return c, nil
	}

	tables, err := schema.ListTables(p)
	if err != nil {
		return nil, err
	}
	for _, entry := range tables {
		meta := &tableMeta{
			name:   entry.Name,
			root:   entry.RootPage,
			colIdx: make(map[string]int),
		}
		for _, col := range entry.Columns {
			meta.colIdx[strings.ToLower(col.Name)] = len(meta.columns)
			meta.columns = append(meta.columns, col.Name)
		}
		c.tables[strings.ToLower(entry.Name)] = meta
	}

	indexes, err := schema.ListIndexes(p)
	if err != nil {
		return nil, err
	}
	for _, entry := range indexes {
		meta := &indexMeta{
			name:   entry.Name,
			table:  strings.ToLower(entry.TableName),
			root:   entry.RootPage,
			unique: entry.Unique,
		}
		table := c.tables[meta.table]
		for _, col := range entry.Columns {
			meta.columns = append(meta.columns, strings.ToLower(col.Name))
			if table != nil {
				if idx, ok := table.columnIndex(col.Name); ok {
					meta.colIdx = append(meta.colIdx, idx)
				}
			}
		}
		c.indexes[strings.ToLower(entry.Name)] = meta
	}

	tableStats, err := schema.ListTableStats(p)
	if err != nil {
		return nil, err
	}
	for _, s := range tableStats {
		c.tableRows[strings.ToLower(s.TableName)] = s.RowCount
	}
	indexStats, err := schema.ListIndexStats(p)
	if err != nil {
		return nil, err
	}
	for _, s := range indexStats {
		c.indexStats[strings.ToLower(s.IndexName)] = s
	}
	return c, nil
}

// table resolves a table by name.
func (c *catalog) table(name string) (*tableMeta, bool) {
	t, ok := c.tables[strings.ToLower(name)]
	return t, ok
}

// index resolves an index by name.
func (c *catalog) index(name string) (*indexMeta, bool) {
	i, ok := c.indexes[strings.ToLower(name)]
	return i, ok
}

// indexesFor returns the indexes on a table, in stable name order.
func (c *catalog) indexesFor(tableName string) []*indexMeta {
	key := strings.ToLower(tableName)
	var out []*indexMeta
	for _, idx := range c.indexes {
		if idx.table == key {
			out = append(out, idx)
		}
	}
	// Map iteration order is random; keep plans deterministic.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].name > out[j].name; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// plannerTable builds the planner's view of a table.
func (c *catalog) plannerTable(meta *tableMeta, qualifiers []string) *planner.Table {
	t := &planner.Table{
		Name:       meta.name,
		Qualifiers: qualifiers,
		Stats: planner.Stats{
			Index: make(map[string]planner.IndexStats),
		},
	}
	if rows, ok := c.tableRows[strings.ToLower(meta.name)]; ok {
		t.Stats.HasTableRows = true
		t.Stats.TableRows = rows
	}
	for _, idx := range c.indexesFor(meta.name) {
		t.Indexes = append(t.Indexes, &planner.Index{
			Name:    idx.name,
			Table:   meta.name,
			Columns: idx.columns,
			Unique:  idx.unique,
		})
		if s, ok := c.indexStats[strings.ToLower(idx.name)]; ok {
			t.Stats.Index[idx.name] = planner.IndexStats{
				Rows:           s.RowCount,
				DistinctKeys:   s.DistinctKeys,
				PrefixDistinct: s.PrefixDistinct,
			}
		}
	}
	return t
}
