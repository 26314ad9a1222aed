// Package planner chooses an access path for a WHERE clause over one table:
// a full table scan, an index equality or range probe, a composite-prefix
// probe, or a union/intersection of indexable branches. Candidates are costed
// with persisted statistics when available and static constants otherwise;
// any candidate at or above the table-scan baseline falls back to a scan.
package planner

import (
	"strconv"
	"strings"

	"github.com/FocuswithJustin/petra/internal/parser"
)

// Index describes one index visible to the planner.
type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// IndexStats is the statistics snapshot for one index.
type IndexStats struct {
	Rows         int
	DistinctKeys int

	// PrefixDistinct[k] is the distinct count of the first k+1 columns.
	PrefixDistinct []int
}

// Stats carries the statistics the planner consults.
type Stats struct {
	// HasTableRows reports whether TableRows is known.
	HasTableRows bool
	TableRows    int

	// Index maps index name to its statistics.
	Index map[string]IndexStats
}

// Table is the planner's view of the target table.
type Table struct {
	Name string

	// Qualifiers are the identifiers that may qualify a column reference
	// for this table (its name and alias), matched case-insensitively.
	Qualifiers []string

	Indexes []*Index
	Stats   Stats
}

// PathKind discriminates AccessPath variants.
type PathKind int

const (
	PathTableScan PathKind = iota
	PathIndexEq
	PathIndexRange
	PathIndexPrefixRange
	PathIndexOr
	PathIndexAnd
)

func (k PathKind) String() string {
	switch k {
	case PathTableScan:
		return "TableScan"
	case PathIndexEq:
		return "IndexEq"
	case PathIndexRange:
		return "IndexRange"
	case PathIndexPrefixRange:
		return "IndexPrefixRange"
	case PathIndexOr:
		return "IndexOr"
	case PathIndexAnd:
		return "IndexAnd"
	}
	return "AccessPath"
}

// AccessPath is the planner's chosen strategy for producing candidate rows.
// Residual predicate evaluation always remains with the executor.
type AccessPath struct {
	Kind  PathKind
	Index *Index

	// EqExprs are the equality expressions in index column order
	// (IndexEq: the full tuple; IndexPrefixRange: the prefix).
	EqExprs []parser.Expression

	// Range bounds (IndexRange, or the trailing range of a prefix path).
	// Nil bounds are open.
	Low, High     parser.Expression
	LowInclusive  bool
	HighInclusive bool

	// RangeColumn is the column the range applies to.
	RangeColumn string

	// Branches of IndexOr / IndexAnd.
	Branches []*AccessPath

	// Cost is the estimated cost used during selection.
	Cost float64
}

// Static costs used when no statistics are persisted.
const (
	costTableScanBase = 100
	costIndexEq       = 14
	costIndexRange    = 30
	costIndexPrefix   = 60
	costProbeOverhead = 4

	// rangeSelBothBounds and rangeSelOneBound are the bound-shape
	// selectivity heuristics for range probes.
	rangeSelBothBounds = 0.25
	rangeSelOneBound   = 0.4

	// hashedScanFactor taxes composite probes, which degrade to a bucket
	// scan over the hashed index.
	hashedScanFactor = 0.5
)

// Plan chooses the access path for a WHERE clause. A nil where always yields
// a table scan.
func Plan(where parser.Expression, table *Table) *AccessPath {
	baseline := tableScanCost(table)
	scan := &AccessPath{Kind: PathTableScan, Cost: baseline}
	if where == nil || len(table.Indexes) == 0 {
		return scan
	}

	candidate := bestCandidate(where, table)
	if candidate == nil || candidate.Cost >= baseline {
		return scan
	}
	return candidate
}

func tableScanCost(table *Table) float64 {
	if table.Stats.HasTableRows {
		rows := float64(table.Stats.TableRows)
		if rows < 1 {
			rows = 1
		}
		return rows
	}
	return costTableScanBase
}

// bestCandidate enumerates index-driven plans for an expression and returns
// the cheapest, or nil when the expression is not indexable.
func bestCandidate(where parser.Expression, table *Table) *AccessPath {
	// OR-flatten first: a disjunction plans as a union only when every
	// branch is independently indexable.
	if ors := flattenOr(where); len(ors) > 1 {
		return planOr(ors, table)
	}

	terms := flattenAnd(where)
	eqTerms, rangeTerms := classifyTerms(terms, table)
	if len(eqTerms) == 0 && len(rangeTerms) == 0 {
		return nil
	}

	var candidates []*AccessPath

	// Rule 1: full-tuple equality on the longest fully matched index.
	if p := planFullIndexEq(eqTerms, table); p != nil {
		candidates = append(candidates, p)
	}
	// Rule 2: composite prefix, with an optional trailing range.
	if p := planPrefixRange(eqTerms, rangeTerms, table); p != nil {
		candidates = append(candidates, p)
	}
	// Rule 3: single-column paths, intersected when independent terms
	// cover two or more indexes.
	if p := planSingleColumnAnd(eqTerms, rangeTerms, table); p != nil {
		candidates = append(candidates, p)
	}

	var best *AccessPath
	for _, c := range candidates {
		if best == nil || c.Cost < best.Cost {
			best = c
		}
	}
	return best
}

// =============================================================================
// term recognition
// =============================================================================

// eqTerm is column = expr or one arm of column IN (...).
type eqTerm struct {
	column string
	exprs  []parser.Expression // one for =, several for IN
}

// rangeTerm is a bound pair on one column.
type rangeTerm struct {
	column        string
	low, high     parser.Expression
	lowInclusive  bool
	highInclusive bool
}

func flattenAnd(expr parser.Expression) []parser.Expression {
	if bin, ok := expr.(*parser.BinaryExpr); ok && bin.Op == parser.OpAnd {
		return append(flattenAnd(bin.Left), flattenAnd(bin.Right)...)
	}
	return []parser.Expression{expr}
}

func flattenOr(expr parser.Expression) []parser.Expression {
	if bin, ok := expr.(*parser.BinaryExpr); ok && bin.Op == parser.OpOr {
		return append(flattenOr(bin.Left), flattenOr(bin.Right)...)
	}
	return []parser.Expression{expr}
}

// classifyTerms extracts indexable equality and range terms from an AND list.
func classifyTerms(terms []parser.Expression, table *Table) (map[string]eqTerm, map[string]rangeTerm) {
	eqs := make(map[string]eqTerm)
	ranges := make(map[string]rangeTerm)

	for _, term := range terms {
		switch e := term.(type) {
		case *parser.BinaryExpr:
			col, value, op, ok := normalizeComparison(e, table)
			if !ok {
				continue
			}
			switch op {
			case parser.OpEq:
				if _, dup := eqs[col]; !dup {
					eqs[col] = eqTerm{column: col, exprs: []parser.Expression{value}}
				}
			case parser.OpLt, parser.OpLe, parser.OpGt, parser.OpGe:
				r := ranges[col]
				r.column = col
				switch op {
				case parser.OpLt:
					r.high, r.highInclusive = value, false
				case parser.OpLe:
					r.high, r.highInclusive = value, true
				case parser.OpGt:
					r.low, r.lowInclusive = value, false
				case parser.OpGe:
					r.low, r.lowInclusive = value, true
				}
				ranges[col] = r
			}

		case *parser.BetweenExpr:
			if e.Negated {
				continue
			}
			col, ok := columnName(e.Expr, table)
			if !ok || containsColumnRef(e.Low) || containsColumnRef(e.High) {
				continue
			}
			r := ranges[col]
			r.column = col
			r.low, r.lowInclusive = e.Low, true
			r.high, r.highInclusive = e.High, true
			ranges[col] = r

		case *parser.InExpr:
			if e.Negated {
				continue
			}
			col, ok := columnName(e.Expr, table)
			if !ok {
				continue
			}
			constOnly := true
			for _, item := range e.List {
				if containsColumnRef(item) {
					constOnly = false
					break
				}
			}
			if !constOnly {
				continue
			}
			if _, dup := eqs[col]; !dup {
				eqs[col] = eqTerm{column: col, exprs: dedupExprs(e.List)}
			}
		}
	}
	return eqs, ranges
}

// normalizeComparison turns const OP col into col OP' const and reports the
// indexable comparison, if any.
func normalizeComparison(e *parser.BinaryExpr, table *Table) (col string, value parser.Expression, op parser.BinaryOp, ok bool) {
	if col, colOK := columnName(e.Left, table); colOK && !containsColumnRef(e.Right) {
		return col, e.Right, e.Op, indexableOp(e.Op)
	}
	if col, colOK := columnName(e.Right, table); colOK && !containsColumnRef(e.Left) {
		return col, e.Left, flipOp(e.Op), indexableOp(e.Op)
	}
	return "", nil, 0, false
}

func indexableOp(op parser.BinaryOp) bool {
	switch op {
	case parser.OpEq, parser.OpLt, parser.OpLe, parser.OpGt, parser.OpGe:
		return true
	}
	return false
}

func flipOp(op parser.BinaryOp) parser.BinaryOp {
	switch op {
	case parser.OpLt:
		return parser.OpGt
	case parser.OpLe:
		return parser.OpGe
	case parser.OpGt:
		return parser.OpLt
	case parser.OpGe:
		return parser.OpLe
	}
	return op
}

// columnName resolves an expression to a column of the target table.
func columnName(expr parser.Expression, table *Table) (string, bool) {
	ref, ok := expr.(*parser.ColumnRef)
	if !ok {
		return "", false
	}
	if ref.Table != "" {
		matched := false
		for _, q := range table.Qualifiers {
			if strings.EqualFold(q, ref.Table) {
				matched = true
				break
			}
		}
		if !matched {
			return "", false
		}
	}
	return strings.ToLower(ref.Column), true
}

func containsColumnRef(expr parser.Expression) bool {
	switch e := expr.(type) {
	case *parser.ColumnRef:
		return true
	case *parser.BinaryExpr:
		return containsColumnRef(e.Left) || containsColumnRef(e.Right)
	case *parser.UnaryExpr:
		return containsColumnRef(e.Expr)
	case *parser.IsNullExpr:
		return containsColumnRef(e.Expr)
	case *parser.BetweenExpr:
		return containsColumnRef(e.Expr) || containsColumnRef(e.Low) || containsColumnRef(e.High)
	case *parser.InExpr:
		if containsColumnRef(e.Expr) {
			return true
		}
		for _, item := range e.List {
			if containsColumnRef(item) {
				return true
			}
		}
		return false
	case *parser.FuncCall:
		for _, arg := range e.Args {
			if containsColumnRef(arg) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func dedupExprs(list []parser.Expression) []parser.Expression {
	var out []parser.Expression
	seen := make(map[string]bool)
	for _, e := range list {
		key := litKey(e)
		if key != "" && seen[key] {
			continue
		}
		if key != "" {
			seen[key] = true
		}
		out = append(out, e)
	}
	return out
}

func litKey(e parser.Expression) string {
	switch lit := e.(type) {
	case *parser.IntegerLit:
		return "i:" + strconv.FormatInt(lit.Value, 10)
	case *parser.StringLit:
		return "s:" + lit.Value
	case *parser.FloatLit:
		return "f:" + strconv.FormatFloat(lit.Value, 'g', -1, 64)
	case *parser.NullLit:
		return "null"
	}
	return ""
}

// =============================================================================
// candidate construction
// =============================================================================

// planFullIndexEq finds the longest index whose every column has an equality
// term (rule 1). Multi-value IN terms are only accepted on single-column
// indexes, where they expand to a union of probes.
func planFullIndexEq(eqs map[string]eqTerm, table *Table) *AccessPath {
	var best *Index
	for _, idx := range table.Indexes {
		matched := true
		multi := false
		for _, col := range idx.Columns {
			term, ok := eqs[strings.ToLower(col)]
			if !ok {
				matched = false
				break
			}
			if len(term.exprs) > 1 {
				multi = true
			}
		}
		if !matched {
			continue
		}
		if multi && len(idx.Columns) > 1 {
			continue
		}
		if best == nil || len(idx.Columns) > len(best.Columns) {
			best = idx
		}
	}
	if best == nil {
		return nil
	}

	if len(best.Columns) == 1 {
		term := eqs[strings.ToLower(best.Columns[0])]
		if len(term.exprs) > 1 {
			// IN list: a union of equality probes on the same index.
			var branches []*AccessPath
			for _, e := range term.exprs {
				branches = append(branches, &AccessPath{
					Kind:    PathIndexEq,
					Index:   best,
					EqExprs: []parser.Expression{e},
					Cost:    indexEqCost(best, table),
				})
			}
			return orPath(branches, table)
		}
	}

	exprs := make([]parser.Expression, 0, len(best.Columns))
	for _, col := range best.Columns {
		exprs = append(exprs, eqs[strings.ToLower(col)].exprs[0])
	}
	return &AccessPath{
		Kind:    PathIndexEq,
		Index:   best,
		EqExprs: exprs,
		Cost:    indexEqCost(best, table),
	}
}

// planPrefixRange finds a composite index with a non-empty equality prefix
// and attaches the trailing range on the next column when present (rule 2).
func planPrefixRange(eqs map[string]eqTerm, ranges map[string]rangeTerm, table *Table) *AccessPath {
	var best *AccessPath
	for _, idx := range table.Indexes {
		if len(idx.Columns) < 2 {
			continue
		}
		var prefix []parser.Expression
		for _, col := range idx.Columns {
			term, ok := eqs[strings.ToLower(col)]
			if !ok || len(term.exprs) != 1 {
				break
			}
			prefix = append(prefix, term.exprs[0])
		}
		if len(prefix) == 0 || len(prefix) == len(idx.Columns) {
			continue
		}

		path := &AccessPath{
			Kind:    PathIndexPrefixRange,
			Index:   idx,
			EqExprs: prefix,
		}
		nextCol := strings.ToLower(idx.Columns[len(prefix)])
		if r, ok := ranges[nextCol]; ok {
			path.RangeColumn = nextCol
			path.Low, path.LowInclusive = r.low, r.lowInclusive
			path.High, path.HighInclusive = r.high, r.highInclusive
		}
		path.Cost = prefixRangeCost(idx, len(prefix), path.Low != nil || path.High != nil, table)

		if best == nil || path.Cost < best.Cost {
			best = path
		}
	}
	return best
}

// planSingleColumnAnd builds per-term single-column paths and intersects
// them when at least two independent indexable terms exist (rule 3).
func planSingleColumnAnd(eqs map[string]eqTerm, ranges map[string]rangeTerm, table *Table) *AccessPath {
	var branches []*AccessPath

	for col, term := range eqs {
		idx := singleColumnIndex(table, col)
		if idx == nil {
			continue
		}
		if len(term.exprs) == 1 {
			branches = append(branches, &AccessPath{
				Kind:    PathIndexEq,
				Index:   idx,
				EqExprs: []parser.Expression{term.exprs[0]},
				Cost:    indexEqCost(idx, table),
			})
			continue
		}
		var inBranches []*AccessPath
		for _, e := range term.exprs {
			inBranches = append(inBranches, &AccessPath{
				Kind:    PathIndexEq,
				Index:   idx,
				EqExprs: []parser.Expression{e},
				Cost:    indexEqCost(idx, table),
			})
		}
		branches = append(branches, orPath(inBranches, table))
	}

	for col, r := range ranges {
		if _, hasEq := eqs[col]; hasEq {
			continue
		}
		idx := singleColumnIndex(table, col)
		if idx == nil {
			continue
		}
		branches = append(branches, &AccessPath{
			Kind:          PathIndexRange,
			Index:         idx,
			RangeColumn:   col,
			Low:           r.low,
			High:          r.high,
			LowInclusive:  r.lowInclusive,
			HighInclusive: r.highInclusive,
			Cost:          indexRangeCost(idx, r.low != nil && r.high != nil, table),
		})
	}

	switch len(branches) {
	case 0:
		return nil
	case 1:
		return branches[0]
	}
	return andPath(branches, table)
}

func planOr(ors []parser.Expression, table *Table) *AccessPath {
	var branches []*AccessPath
	for _, branch := range ors {
		p := bestCandidate(branch, table)
		if p == nil {
			// One unindexable branch sinks the whole union.
			return nil
		}
		branches = append(branches, p)
	}
	return orPath(branches, table)
}

func singleColumnIndex(table *Table, col string) *Index {
	for _, idx := range table.Indexes {
		if len(idx.Columns) == 1 && strings.EqualFold(idx.Columns[0], col) {
			return idx
		}
	}
	return nil
}

func orPath(branches []*AccessPath, table *Table) *AccessPath {
	if len(branches) == 1 {
		return branches[0]
	}
	return &AccessPath{Kind: PathIndexOr, Branches: branches, Cost: orCost(branches, table)}
}

func andPath(branches []*AccessPath, table *Table) *AccessPath {
	return &AccessPath{Kind: PathIndexAnd, Branches: branches, Cost: andCost(branches, table)}
}

// =============================================================================
// cost model
// =============================================================================

func indexStatsFor(idx *Index, table *Table) (IndexStats, bool) {
	s, ok := table.Stats.Index[idx.Name]
	return s, ok && s.Rows > 0
}

func indexEqCost(idx *Index, table *Table) float64 {
	s, ok := indexStatsFor(idx, table)
	if !ok || !table.Stats.HasTableRows {
		return costIndexEq
	}
	distinct := s.DistinctKeys
	if distinct < 1 {
		distinct = 1
	}
	sel := 1.0 / float64(distinct)
	return float64(table.Stats.TableRows)*sel + costProbeOverhead
}

func indexRangeCost(idx *Index, bothBounds bool, table *Table) float64 {
	s, ok := indexStatsFor(idx, table)
	if !ok || !table.Stats.HasTableRows {
		return costIndexRange
	}
	sel := rangeSelOneBound
	if bothBounds {
		sel = rangeSelBothBounds
	}
	return float64(s.Rows)*sel + costProbeOverhead
}

// prefixRangeCost prices a composite prefix probe. Because composite keys
// are hashed, the probe is a bucket scan over the index, so the cost carries
// a scan component on top of the estimated fanout.
func prefixRangeCost(idx *Index, prefixLen int, hasTrailingRange bool, table *Table) float64 {
	s, ok := indexStatsFor(idx, table)
	if !ok || !table.Stats.HasTableRows {
		cost := float64(costIndexPrefix)
		if hasTrailingRange {
			cost -= 10
		}
		return cost
	}

	fanout := float64(s.Rows)
	if prefixLen-1 < len(s.PrefixDistinct) && s.PrefixDistinct[prefixLen-1] > 0 {
		fanout = float64(s.Rows) / float64(s.PrefixDistinct[prefixLen-1])
	}
	if hasTrailingRange {
		// Trailing-range selectivity from the fanout between adjacent
		// prefix levels: how many distinct next-column values each
		// prefix spans.
		sel := rangeSelBothBounds
		if prefixLen < len(s.PrefixDistinct) &&
			s.PrefixDistinct[prefixLen-1] > 0 && s.PrefixDistinct[prefixLen] > 0 {
			perPrefix := float64(s.PrefixDistinct[prefixLen]) / float64(s.PrefixDistinct[prefixLen-1])
			if perPrefix > 1 {
				sel = rangeSelBothBounds + rangeSelBothBounds/perPrefix
			}
		}
		fanout *= sel
	}
	return float64(s.Rows)*hashedScanFactor + fanout + costProbeOverhead
}

func orCost(branches []*AccessPath, table *Table) float64 {
	if table.Stats.HasTableRows {
		rows := float64(table.Stats.TableRows)
		sel := 0.0
		inverse := 1.0
		for _, b := range branches {
			inverse *= 1 - branchSelectivity(b, rows)
		}
		sel = 1 - inverse
		total := rows*sel + float64(len(branches))*costProbeOverhead
		return total
	}
	total := 0.0
	for _, b := range branches {
		total += b.Cost
	}
	return total
}

func andCost(branches []*AccessPath, table *Table) float64 {
	if table.Stats.HasTableRows {
		rows := float64(table.Stats.TableRows)
		sel := 1.0
		for _, b := range branches {
			sel *= branchSelectivity(b, rows)
		}
		probes := 0.0
		for _, b := range branches {
			probes += b.Cost
		}
		// Every branch is probed in full before intersecting.
		return rows*sel + probes
	}
	total := 0.0
	for _, b := range branches {
		total += b.Cost
	}
	return total
}

// branchSelectivity recovers a branch's selectivity from its cost estimate.
func branchSelectivity(b *AccessPath, tableRows float64) float64 {
	if tableRows < 1 {
		return 1
	}
	sel := (b.Cost - costProbeOverhead) / tableRows
	if sel < 0 {
		sel = 0
	}
	if sel > 1 {
		sel = 1
	}
	return sel
}

