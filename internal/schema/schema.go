// Package schema implements the persisted catalog: a B+tree rooted at
// header.SchemaRoot holding one entry per database object (table, index, or
// planner statistics record), keyed by a sequential id.
package schema

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/FocuswithJustin/petra/internal/btree"
	"github.com/FocuswithJustin/petra/internal/pager"
)

// ObjectType identifies the kind of a schema entry.
type ObjectType uint8

const (
	ObjectTable ObjectType = 0
	ObjectIndex ObjectType = 1
	ObjectStats ObjectType = 2
)

// Entry flags.
const flagUnique = 0x01

var (
	ErrNotInitialized = errors.New("schema catalog not initialized")
	ErrExists         = errors.New("object already exists")
	ErrBadEntry       = errors.New("malformed schema entry")
)

// ColumnInfo is column metadata stored in the catalog. Stats entries reuse
// the column slots as named fields.
type ColumnInfo struct {
	Name     string
	DataType string
	Index    uint32
}

// Entry is a single catalog record.
type Entry struct {
	// ID is the sequential catalog id, also the B+tree key.
	ID int64

	Type ObjectType

	// Name is the object name; for stats entries it is a prefixed key.
	Name string

	// TableName is the owning table (tables repeat their own name).
	TableName string

	// RootPage is the object's tree root (0 for stats entries).
	RootPage uint32

	// SQL is the statement text that created the object.
	SQL string

	// Unique marks UNIQUE indexes.
	Unique bool

	Columns []ColumnInfo
}

// Persisted planner statistics.
type TableStats struct {
	TableName string
	RowCount  int
}

type IndexStats struct {
	IndexName    string
	TableName    string
	RowCount     int
	DistinctKeys int

	// PrefixDistinct[k] is the number of distinct values of the first k+1
	// index columns.
	PrefixDistinct []int
}

const (
	tableStatsPrefix   = "table:"
	indexStatsPrefix   = "index:"
	tableStatsSQL      = "planner_stats_table"
	indexStatsSQL      = "planner_stats_index"
	rowCountField      = "row_count"
	distinctKeysField  = "distinct_key_count"
	prefixDistinctBase = "prefix_distinct_"
)

// Initialize creates the schema tree in a new database and stamps the
// header. Safe to call only when header.SchemaRoot is zero.
func Initialize(p *pager.Pager) (uint32, error) {
	root, err := btree.Create(p)
	if err != nil {
		return 0, err
	}
	p.Header().SchemaRoot = root
	p.MarkHeaderDirty()
	return root, nil
}

// CreateTable allocates a table tree and records the table entry.
// Returns the new table's root page.
func CreateTable(p *pager.Pager, tableName string, columns []ColumnInfo, sql string) (uint32, error) {
	if p.Header().SchemaRoot == 0 {
		return 0, ErrNotInitialized
	}
	existing, err := FindTable(p, tableName)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, fmt.Errorf("%w: table %q", ErrExists, tableName)
	}

	root, err := btree.Create(p)
	if err != nil {
		return 0, err
	}
	entry := Entry{
		Type:      ObjectTable,
		Name:      tableName,
		TableName: tableName,
		RootPage:  root,
		SQL:       sql,
		Columns:   columns,
	}
	if err := insertEntry(p, entry); err != nil {
		return 0, err
	}
	return root, nil
}

// CreateIndex allocates an index tree and records the index entry.
func CreateIndex(p *pager.Pager, indexName, tableName string, columns []ColumnInfo, unique bool, sql string) (uint32, error) {
	if p.Header().SchemaRoot == 0 {
		return 0, ErrNotInitialized
	}
	existing, err := FindIndex(p, indexName)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, fmt.Errorf("%w: index %q", ErrExists, indexName)
	}
	if len(columns) == 0 {
		return 0, errors.New("index must include at least one column")
	}

	root, err := btree.Create(p)
	if err != nil {
		return 0, err
	}
	entry := Entry{
		Type:      ObjectIndex,
		Name:      indexName,
		TableName: tableName,
		RootPage:  root,
		SQL:       sql,
		Unique:    unique,
		Columns:   columns,
	}
	if err := insertEntry(p, entry); err != nil {
		return 0, err
	}
	return root, nil
}

// FindTable returns the entry for a table, or nil.
func FindTable(p *pager.Pager, name string) (*Entry, error) {
	return findByName(p, ObjectTable, name)
}

// FindIndex returns the entry for an index, or nil.
func FindIndex(p *pager.Pager, name string) (*Entry, error) {
	return findByName(p, ObjectIndex, name)
}

// ListTables returns every table entry.
func ListTables(p *pager.Pager) ([]Entry, error) {
	return listByType(p, ObjectTable)
}

// ListIndexes returns every index entry.
func ListIndexes(p *pager.Pager) ([]Entry, error) {
	return listByType(p, ObjectIndex)
}

// ListIndexesForTable returns the index entries of one table.
func ListIndexesForTable(p *pager.Pager, tableName string) ([]Entry, error) {
	indexes, err := ListIndexes(p)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range indexes {
		if strings.EqualFold(e.TableName, tableName) {
			out = append(out, e)
		}
	}
	return out, nil
}

// DropTable removes a table entry and returns it, or nil when absent.
// Dependent index entries and trees are the caller's responsibility.
func DropTable(p *pager.Pager, name string) (*Entry, error) {
	return deleteByName(p, ObjectTable, name)
}

// DropIndex removes an index entry and returns it, or nil when absent.
func DropIndex(p *pager.Pager, name string) (*Entry, error) {
	return deleteByName(p, ObjectIndex, name)
}

// UpsertTableStats persists table-level planner statistics.
func UpsertTableStats(p *pager.Pager, tableName string, rowCount int) error {
	name := tableStatsPrefix + strings.ToLower(tableName)
	entry := Entry{
		Type:      ObjectStats,
		Name:      name,
		TableName: tableName,
		SQL:       tableStatsSQL,
		Columns: []ColumnInfo{
			{Name: rowCountField, DataType: strconv.Itoa(rowCount)},
		},
	}
	return upsertNamed(p, ObjectStats, name, entry)
}

// UpsertIndexStats persists index-level planner statistics, including
// per-prefix distinct counts for composite indexes.
func UpsertIndexStats(p *pager.Pager, stats IndexStats) error {
	name := indexStatsPrefix + strings.ToLower(stats.IndexName)
	cols := []ColumnInfo{
		{Name: rowCountField, DataType: strconv.Itoa(stats.RowCount), Index: 0},
		{Name: distinctKeysField, DataType: strconv.Itoa(stats.DistinctKeys), Index: 1},
	}
	for i, n := range stats.PrefixDistinct {
		cols = append(cols, ColumnInfo{
			Name:     prefixDistinctBase + strconv.Itoa(i+1),
			DataType: strconv.Itoa(n),
			Index:    uint32(len(cols)),
		})
	}
	entry := Entry{
		Type:      ObjectStats,
		Name:      name,
		TableName: stats.TableName,
		SQL:       indexStatsSQL,
		Columns:   cols,
	}
	return upsertNamed(p, ObjectStats, name, entry)
}

// ListTableStats returns all persisted table statistics.
func ListTableStats(p *pager.Pager) ([]TableStats, error) {
	entries, err := listByType(p, ObjectStats)
	if err != nil {
		return nil, err
	}
	var out []TableStats
	for _, e := range entries {
		if e.SQL != tableStatsSQL || !strings.HasPrefix(e.Name, tableStatsPrefix) {
			continue
		}
		rows, err := intField(e.Columns, rowCountField)
		if err != nil {
			return nil, err
		}
		out = append(out, TableStats{TableName: e.TableName, RowCount: rows})
	}
	return out, nil
}

// ListIndexStats returns all persisted index statistics.
func ListIndexStats(p *pager.Pager) ([]IndexStats, error) {
	entries, err := listByType(p, ObjectStats)
	if err != nil {
		return nil, err
	}
	var out []IndexStats
	for _, e := range entries {
		if e.SQL != indexStatsSQL || !strings.HasPrefix(e.Name, indexStatsPrefix) {
			continue
		}
		rows, err := intField(e.Columns, rowCountField)
		if err != nil {
			return nil, err
		}
		distinct, err := intField(e.Columns, distinctKeysField)
		if err != nil {
			return nil, err
		}
		var prefix []int
		for i := 1; ; i++ {
			n, err := intField(e.Columns, prefixDistinctBase+strconv.Itoa(i))
			if err != nil {
				break
			}
			prefix = append(prefix, n)
		}
		out = append(out, IndexStats{
			IndexName:      strings.TrimPrefix(e.Name, indexStatsPrefix),
			TableName:      e.TableName,
			RowCount:       rows,
			DistinctKeys:   distinct,
			PrefixDistinct: prefix,
		})
	}
	return out, nil
}

// DropTableStats removes persisted table statistics.
func DropTableStats(p *pager.Pager, tableName string) (bool, error) {
	e, err := deleteByName(p, ObjectStats, tableStatsPrefix+strings.ToLower(tableName))
	return e != nil, err
}

// DropIndexStats removes persisted index statistics.
func DropIndexStats(p *pager.Pager, indexName string) (bool, error) {
	e, err := deleteByName(p, ObjectStats, indexStatsPrefix+strings.ToLower(indexName))
	return e != nil, err
}

// =============================================================================
// catalog tree access
// =============================================================================

func listEntries(p *pager.Pager) ([]Entry, error) {
	root := p.Header().SchemaRoot
	if root == 0 {
		return nil, nil
	}
	tree := btree.New(p, root)
	records, err := tree.ScanAll()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		e, err := deserializeEntry(rec.Payload)
		if err != nil {
			return nil, err
		}
		e.ID = rec.Key
		entries = append(entries, e)
	}
	return entries, nil
}

func insertEntry(p *pager.Pager, entry Entry) error {
	root := p.Header().SchemaRoot
	tree := btree.New(p, root)
	maxID, _, err := tree.MaxKey()
	if err != nil {
		return err
	}
	entry.ID = maxID + 1
	return tree.Insert(entry.ID, serializeEntry(&entry))
}

func upsertNamed(p *pager.Pager, typ ObjectType, name string, entry Entry) error {
	existing, err := findByName(p, typ, name)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := deleteByID(p, existing.ID); err != nil {
			return err
		}
	}
	return insertEntry(p, entry)
}

func findByName(p *pager.Pager, typ ObjectType, name string) (*Entry, error) {
	entries, err := listEntries(p)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Type == typ && strings.EqualFold(entries[i].Name, name) {
			return &entries[i], nil
		}
	}
	return nil, nil
}

func listByType(p *pager.Pager, typ ObjectType) ([]Entry, error) {
	entries, err := listEntries(p)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out, nil
}

func deleteByName(p *pager.Pager, typ ObjectType, name string) (*Entry, error) {
	entry, err := findByName(p, typ, name)
	if err != nil || entry == nil {
		return nil, err
	}
	if err := deleteByID(p, entry.ID); err != nil {
		return nil, err
	}
	return entry, nil
}

func deleteByID(p *pager.Pager, id int64) error {
	tree := btree.New(p, p.Header().SchemaRoot)
	deleted, err := tree.Delete(id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("schema entry id %d not found during delete", id)
	}
	return nil
}

func intField(columns []ColumnInfo, name string) (int, error) {
	for _, c := range columns {
		if strings.EqualFold(c.Name, name) {
			n, err := strconv.Atoi(c.DataType)
			if err != nil {
				return 0, fmt.Errorf("%w: invalid stats value %q for field %q",
					ErrBadEntry, c.DataType, name)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: missing stats field %q", ErrBadEntry, name)
}

// =============================================================================
// serialization
// =============================================================================
//
// Binary format:
//
//	object_type(u8) || flags(u8) || root_page(u32)
//	|| name || table_name || sql          (each: u16 length + utf-8 bytes)
//	|| column_count(u16)
//	|| per column: name || data_type || index(u32)

func serializeEntry(e *Entry) []byte {
	var buf []byte
	buf = append(buf, byte(e.Type))
	var flags byte
	if e.Unique {
		flags |= flagUnique
	}
	buf = append(buf, flags)
	buf = binary.BigEndian.AppendUint32(buf, e.RootPage)
	buf = appendString(buf, e.Name)
	buf = appendString(buf, e.TableName)
	buf = appendString(buf, e.SQL)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Columns)))
	for _, c := range e.Columns {
		buf = appendString(buf, c.Name)
		buf = appendString(buf, c.DataType)
		buf = binary.BigEndian.AppendUint32(buf, c.Index)
	}
	return buf
}

func deserializeEntry(data []byte) (Entry, error) {
	var e Entry
	if len(data) < 6 {
		return e, fmt.Errorf("%w: too short", ErrBadEntry)
	}
	switch ObjectType(data[0]) {
	case ObjectTable, ObjectIndex, ObjectStats:
		e.Type = ObjectType(data[0])
	default:
		return e, fmt.Errorf("%w: unknown object type %d", ErrBadEntry, data[0])
	}
	e.Unique = data[1]&flagUnique != 0
	e.RootPage = binary.BigEndian.Uint32(data[2:6])

	pos := 6
	var err error
	if e.Name, pos, err = readString(data, pos); err != nil {
		return e, err
	}
	if e.TableName, pos, err = readString(data, pos); err != nil {
		return e, err
	}
	if e.SQL, pos, err = readString(data, pos); err != nil {
		return e, err
	}
	if pos+2 > len(data) {
		return e, fmt.Errorf("%w: truncated column count", ErrBadEntry)
	}
	colCount := int(binary.BigEndian.Uint16(data[pos:]))
	pos += 2
	for i := 0; i < colCount; i++ {
		var c ColumnInfo
		if c.Name, pos, err = readString(data, pos); err != nil {
			return e, err
		}
		if c.DataType, pos, err = readString(data, pos); err != nil {
			return e, err
		}
		if pos+4 > len(data) {
			return e, fmt.Errorf("%w: truncated column index", ErrBadEntry)
		}
		c.Index = binary.BigEndian.Uint32(data[pos:])
		pos += 4
		e.Columns = append(e.Columns, c)
	}
	return e, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(data []byte, pos int) (string, int, error) {
	if pos+2 > len(data) {
		return "", pos, fmt.Errorf("%w: truncated string length", ErrBadEntry)
	}
	n := int(binary.BigEndian.Uint16(data[pos:]))
	pos += 2
	if pos+n > len(data) {
		return "", pos, fmt.Errorf("%w: string out of bounds", ErrBadEntry)
	}
	s := data[pos : pos+n]
	if !utf8.Valid(s) {
		return "", pos, fmt.Errorf("%w: invalid UTF-8 string", ErrBadEntry)
	}
	return string(s), pos + n, nil
}
