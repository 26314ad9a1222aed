package engine

import (
	"bytes"
	"math"
	"sort"
	"strings"

	"github.com/FocuswithJustin/petra/internal/btree"
	"github.com/FocuswithJustin/petra/internal/exec"
	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/planner"
	"github.com/FocuswithJustin/petra/internal/record"
	"github.com/FocuswithJustin/petra/internal/schema"
)

// indexKey is the derived key material for one row in one index.
type indexKey struct {
	key        int64
	tupleBytes []byte
	hasNull    bool
}

// indexKeyForRow derives the key and exact tuple bytes of a table row.
func indexKeyForRow(idx *indexMeta, row record.Row) indexKey {
	tuple := make(record.Row, len(idx.colIdx))
	hasNull := false
	for i, pos := range idx.colIdx {
		tuple[i] = row[pos]
		if tuple[i].IsNull() {
			hasNull = true
		}
	}
	var key int64
	if len(tuple) == 1 {
		key, _ = record.KeyForValue(tuple[0])
	} else {
		key = record.TupleKey(tuple)
	}
	return indexKey{
		key:        key,
		tupleBytes: record.EncodeValues(tuple),
		hasNull:    hasNull,
	}
}

// addIndexEntry records rowid under the row's key in one index.
func (db *DB) addIndexEntry(idx *indexMeta, row record.Row, rowid int64) error {
	ik := indexKeyForRow(idx, row)
	tree := btree.New(db.pager, idx.root)
	payload, _, err := tree.Lookup(ik.key)
	if err != nil {
		return err
	}
	updated, err := record.BucketAdd(payload, ik.tupleBytes, rowid)
	if err != nil {
		return err
	}
	return tree.Insert(ik.key, updated)
}

// removeIndexEntry removes rowid from the row's bucket, deleting the index
// entry when the bucket empties.
func (db *DB) removeIndexEntry(idx *indexMeta, row record.Row, rowid int64) error {
	ik := indexKeyForRow(idx, row)
	tree := btree.New(db.pager, idx.root)
	payload, found, err := tree.Lookup(ik.key)
	if err != nil || !found {
		return err
	}
	updated, empty, err := record.BucketRemove(payload, ik.tupleBytes, rowid)
	if err != nil {
		return err
	}
	if empty {
		_, err = tree.Delete(ik.key)
		return err
	}
	return tree.Insert(ik.key, updated)
}

// indexRowidsForTuple returns the rowids carrying an exact value tuple.
func (db *DB) indexRowidsForTuple(idx *indexMeta, tuple record.Row) ([]int64, error) {
	var key int64
	if len(tuple) == 1 {
		key, _ = record.KeyForValue(tuple[0])
	} else {
		key = record.TupleKey(tuple)
	}
	tree := btree.New(db.pager, idx.root)
	payload, found, err := tree.Lookup(key)
	if err != nil || !found {
		return nil, err
	}
	return record.BucketRowids(payload, record.EncodeValues(tuple))
}

// =============================================================================
// access-path execution
// =============================================================================

// rowidsForPath materializes the candidate rowids of a planner access path.
// The residual WHERE filter still runs over the fetched rows, so paths only
// need to be a superset-free approximation of the matching set at the exact
// value level (buckets are filtered by exact tuple bytes here).
func (db *DB) rowidsForPath(path *planner.AccessPath) ([]int64, error) {
	switch path.Kind {
	case planner.PathIndexEq:
		return db.rowidsForIndexEq(path)
	case planner.PathIndexRange:
		return db.rowidsForIndexRange(path)
	case planner.PathIndexPrefixRange:
		return db.rowidsForPrefixRange(path)
	case planner.PathIndexOr:
		seen := make(map[int64]bool)
		var union []int64
		for _, branch := range path.Branches {
			ids, err := db.rowidsForPath(branch)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					union = append(union, id)
				}
			}
		}
		sortRowids(union)
		return union, nil
	case planner.PathIndexAnd:
		var intersection map[int64]bool
		for _, branch := range path.Branches {
			ids, err := db.rowidsForPath(branch)
			if err != nil {
				return nil, err
			}
			set := make(map[int64]bool, len(ids))
			for _, id := range ids {
				if intersection == nil || intersection[id] {
					set[id] = true
				}
			}
			intersection = set
		}
		out := make([]int64, 0, len(intersection))
		for id := range intersection {
			out = append(out, id)
		}
		sortRowids(out)
		return out, nil
	}
	return nil, newError(KindUnsupported, "cannot materialize access path %v", path.Kind)
}

func (db *DB) rowidsForIndexEq(path *planner.AccessPath) ([]int64, error) {
	idx, ok := db.catalog.index(path.Index.Name)
	if !ok {
		return nil, newError(KindSchema, "no such index: %s", path.Index.Name)
	}
	tuple := make(record.Row, len(path.EqExprs))
	for i, expr := range path.EqExprs {
		v, err := exec.Eval(expr, nil)
		if err != nil {
			return nil, err
		}
		tuple[i] = v
	}
	ids, err := db.indexRowidsForTuple(idx, tuple)
	if err != nil {
		return nil, err
	}
	sortRowids(ids)
	return ids, nil
}

// rowidsForIndexRange scans the ordered key range of a single-column index.
// Bucket entries are value-filtered against the bounds, so key collisions
// and the lossy text prefix key never produce false positives.
func (db *DB) rowidsForIndexRange(path *planner.AccessPath) ([]int64, error) {
	idx, ok := db.catalog.index(path.Index.Name)
	if !ok {
		return nil, newError(KindSchema, "no such index: %s", path.Index.Name)
	}

	var low, high record.Value
	lowKey, highKey := int64(math.MinInt64), int64(math.MaxInt64)
	ordered := true
	if path.Low != nil {
		v, err := exec.Eval(path.Low, nil)
		if err != nil {
			return nil, err
		}
		low = v
		if k, ok := record.KeyForValue(v); ok {
			lowKey = k
		} else {
			ordered = false
		}
	}
	if path.High != nil {
		v, err := exec.Eval(path.High, nil)
		if err != nil {
			return nil, err
		}
		high = v
		if k, ok := record.KeyForValue(v); ok {
			highKey = k
		} else {
			ordered = false
		}
	}
	if !ordered {
		// Hash-fallback bound values cannot drive an ordered seek.
		lowKey, highKey = math.MinInt64, math.MaxInt64
	}

	tree := btree.New(db.pager, idx.root)
	entries, err := tree.ScanRange(lowKey, highKey)
	if err != nil {
		return nil, err
	}

	var out []int64
	for _, entry := range entries {
		buckets, err := record.DecodeBucket(entry.Payload)
		if err != nil {
			return nil, err
		}
		for _, b := range buckets {
			tuple, err := record.DecodeValues(b.Value)
			if err != nil {
				return nil, err
			}
			if len(tuple) != 1 || !valueInRange(tuple[0], low, path.LowInclusive, high, path.HighInclusive, path.Low != nil, path.High != nil) {
				continue
			}
			out = append(out, b.Rowids...)
		}
	}
	sortRowids(out)
	return out, nil
}

// rowidsForPrefixRange scans a hashed composite index in full, filtering
// bucket tuples by the equality prefix and the optional trailing range.
func (db *DB) rowidsForPrefixRange(path *planner.AccessPath) ([]int64, error) {
	idx, ok := db.catalog.index(path.Index.Name)
	if !ok {
		return nil, newError(KindSchema, "no such index: %s", path.Index.Name)
	}

	prefix := make(record.Row, len(path.EqExprs))
	for i, expr := range path.EqExprs {
		v, err := exec.Eval(expr, nil)
		if err != nil {
			return nil, err
		}
		prefix[i] = v
	}
	var low, high record.Value
	if path.Low != nil {
		v, err := exec.Eval(path.Low, nil)
		if err != nil {
			return nil, err
		}
		low = v
	}
	if path.High != nil {
		v, err := exec.Eval(path.High, nil)
		if err != nil {
			return nil, err
		}
		high = v
	}

	tree := btree.New(db.pager, idx.root)
	entries, err := tree.ScanAll()
	if err != nil {
		return nil, err
	}

	var out []int64
	for _, entry := range entries {
		buckets, err := record.DecodeBucket(entry.Payload)
		if err != nil {
			return nil, err
		}
		for _, b := range buckets {
			tuple, err := record.DecodeValues(b.Value)
			if err != nil {
				return nil, err
			}
			if len(tuple) < len(prefix) {
				continue
			}
			match := true
			for i, want := range prefix {
				if tuple[i].IsNull() || want.IsNull() || !record.Equal(tuple[i], want) {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			if path.Low != nil || path.High != nil {
				trailing := tuple[len(prefix)]
				if !valueInRange(trailing, low, path.LowInclusive, high, path.HighInclusive, path.Low != nil, path.High != nil) {
					continue
				}
			}
			out = append(out, b.Rowids...)
		}
	}
	sortRowids(out)
	return out, nil
}

// valueInRange compares a candidate value against optional bounds. Values
// that are NULL or not comparable with a bound are excluded; the residual
// filter decides their fate through normal expression semantics.
func valueInRange(v, low record.Value, lowInc bool, high record.Value, highInc bool, hasLow, hasHigh bool) bool {
	if v.IsNull() {
		return false
	}
	if hasLow {
		if low.IsNull() {
			return false
		}
		c, err := record.Compare(v, low)
		if err != nil {
			return false
		}
		if c < 0 || (c == 0 && !lowInc) {
			return false
		}
	}
	if hasHigh {
		if high.IsNull() {
			return false
		}
		c, err := record.Compare(v, high)
		if err != nil {
			return false
		}
		if c > 0 || (c == 0 && !highInc) {
			return false
		}
	}
	return true
}

func sortRowids(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// =============================================================================
// uniqueness preflight
// =============================================================================

// incomingRow pairs a candidate row with the rowid it will carry (or
// carries, for updates).
type incomingRow struct {
	rowid int64
	row   record.Row
}

// checkUniquePreflight validates a batch of incoming rows against a UNIQUE
// index before any write happens. affected is the set of rowids whose old
// values are being replaced in the same statement; existing entries owned by
// those rowids do not count as conflicts (value handoff within one UPDATE).
// NULL in any tuple column bypasses uniqueness.
func (db *DB) checkUniquePreflight(table *tableMeta, idx *indexMeta, incoming []incomingRow, affected map[int64]bool) error {
	seen := make(map[string]bool)
	for _, in := range incoming {
		ik := indexKeyForRow(idx, in.row)
		if ik.hasNull {
			continue
		}
		key := string(ik.tupleBytes)
		if seen[key] {
			return uniqueViolation(table.name, indexColumnNames(table, idx))
		}
		seen[key] = true

		tuple := make(record.Row, len(idx.colIdx))
		for i, pos := range idx.colIdx {
			tuple[i] = in.row[pos]
		}
		existing, err := db.indexRowidsForTuple(idx, tuple)
		if err != nil {
			return err
		}
		for _, rid := range existing {
			if !affected[rid] {
				return uniqueViolation(table.name, indexColumnNames(table, idx))
			}
		}
	}
	return nil
}

func indexColumnNames(table *tableMeta, idx *indexMeta) []string {
	out := make([]string, len(idx.colIdx))
	for i, pos := range idx.colIdx {
		out[i] = table.columns[pos]
	}
	return out
}

// =============================================================================
// statistics maintenance
// =============================================================================

// refreshTableStats recomputes and persists the statistics of a table and
// its indexes after a write statement. Counts are exact.
func (db *DB) refreshTableStats(table *tableMeta, rowDelta int) error {
	key := strings.ToLower(table.name)
	rows := db.catalog.tableRows[key] + rowDelta
	if rows < 0 {
		rows = 0
	}
	db.catalog.tableRows[key] = rows
	if err := schema.UpsertTableStats(db.pager, table.name, rows); err != nil {
		return err
	}

	for _, idx := range db.catalog.indexesFor(table.name) {
		stats, err := db.computeIndexStats(idx)
		if err != nil {
			return err
		}
		stats.TableName = table.name
		db.catalog.indexStats[strings.ToLower(idx.name)] = stats
		if err := schema.UpsertIndexStats(db.pager, stats); err != nil {
			return err
		}
	}
	return nil
}

// computeIndexStats scans one index and derives row, distinct-key, and
// per-prefix distinct counts from the bucket tuples.
func (db *DB) computeIndexStats(idx *indexMeta) (schema.IndexStats, error) {
	stats := schema.IndexStats{IndexName: idx.name}

	tree := btree.New(db.pager, idx.root)
	entries, err := tree.ScanAll()
	if err != nil {
		return stats, err
	}

	prefixSets := make([]map[string]bool, len(idx.columns))
	for i := range prefixSets {
		prefixSets[i] = make(map[string]bool)
	}

	for _, entry := range entries {
		buckets, err := record.DecodeBucket(entry.Payload)
		if err != nil {
			return stats, err
		}
		for _, b := range buckets {
			stats.RowCount += len(b.Rowids)
			stats.DistinctKeys++

			tuple, err := record.DecodeValues(b.Value)
			if err != nil {
				return stats, err
			}
			for k := 1; k <= len(tuple) && k <= len(prefixSets); k++ {
				prefixSets[k-1][string(record.EncodeValues(tuple[:k]))] = true
			}
		}
	}
	for _, set := range prefixSets {
		stats.PrefixDistinct = append(stats.PrefixDistinct, len(set))
	}
	return stats, nil
}

// =============================================================================
// join probe support
// =============================================================================

// probeIndexForJoin finds a single-column index on the right table matching
// an ON equality of the form right.col = <left expr>, returning the index
// and the expression evaluated per left row.
func (db *DB) probeIndexForJoin(on parser.Expression, rightQualifier string, rightMeta *tableMeta) (*indexMeta, parser.Expression) {
	eq, ok := on.(*parser.BinaryExpr)
	if !ok || eq.Op != parser.OpEq {
		return nil, nil
	}

	try := func(colExpr, other parser.Expression) (*indexMeta, parser.Expression) {
		ref, ok := colExpr.(*parser.ColumnRef)
		if !ok {
			return nil, nil
		}
		if ref.Table == "" || !strings.EqualFold(ref.Table, rightQualifier) {
			return nil, nil
		}
		if _, ok := rightMeta.columnIndex(ref.Column); !ok {
			return nil, nil
		}
		if referencesQualifier(other, rightQualifier) {
			return nil, nil
		}
		for _, idx := range db.catalog.indexesFor(rightMeta.name) {
			if len(idx.columns) == 1 && strings.EqualFold(idx.columns[0], ref.Column) {
				return idx, other
			}
		}
		return nil, nil
	}

	if idx, expr := try(eq.Left, eq.Right); idx != nil {
		return idx, expr
	}
	return try(eq.Right, eq.Left)
}

// referencesQualifier reports whether an expression references a column of
// the given table qualifier (or any unqualified column, conservatively).
func referencesQualifier(expr parser.Expression, qualifier string) bool {
	switch e := expr.(type) {
	case *parser.ColumnRef:
		return e.Table == "" || strings.EqualFold(e.Table, qualifier)
	case *parser.BinaryExpr:
		return referencesQualifier(e.Left, qualifier) || referencesQualifier(e.Right, qualifier)
	case *parser.UnaryExpr:
		return referencesQualifier(e.Expr, qualifier)
	case *parser.IsNullExpr:
		return referencesQualifier(e.Expr, qualifier)
	case *parser.BetweenExpr:
		return referencesQualifier(e.Expr, qualifier) ||
			referencesQualifier(e.Low, qualifier) || referencesQualifier(e.High, qualifier)
	case *parser.InExpr:
		if referencesQualifier(e.Expr, qualifier) {
			return true
		}
		for _, item := range e.List {
			if referencesQualifier(item, qualifier) {
				return true
			}
		}
		return false
	case *parser.FuncCall:
		for _, arg := range e.Args {
			if referencesQualifier(arg, qualifier) {
				return true
			}
		}
		return false
	}
	return false
}

// tupleBytesEqual reports whether two encoded tuples are identical.
func tupleBytesEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}
