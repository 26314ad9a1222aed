package engine

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/petra/internal/btree"
	"github.com/FocuswithJustin/petra/internal/exec"
	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/planner"
	"github.com/FocuswithJustin/petra/internal/record"
)

// boundTable is one FROM-clause table resolved against the catalog.
type boundTable struct {
	meta      *tableMeta
	qualifier string // lower-cased alias or table name
	alias     string // as written (alias if present, else name)
}

func (db *DB) executeSelect(stmt *parser.SelectStmt) (*Result, error) {
	var tables []boundTable
	if stmt.From != nil {
		var err error
		tables, err = db.bindTables(stmt.From)
		if err != nil {
			return nil, err
		}
	}

	source, shapes, err := db.buildSource(stmt, tables)
	if err != nil {
		return nil, err
	}

	// Residual WHERE applies after the source (and joins) produce rows.
	// For index-driven single-table sources this re-checks candidates,
	// which keeps bucket collisions and partial paths correct.
	if stmt.Where != nil {
		source = &exec.Filter{Child: source, Pred: stmt.Where}
	}

	exprs, names, err := db.expandProjections(stmt.Columns, tables)
	if err != nil {
		return nil, err
	}

	// Aggregate detection spans projections, HAVING, and ORDER BY.
	var aggs []*parser.FuncCall
	for _, e := range exprs {
		aggs = exec.CollectAggregates(e, aggs)
	}
	if stmt.Having != nil {
		aggs = exec.CollectAggregates(stmt.Having, aggs)
	}
	for _, term := range stmt.OrderBy {
		aggs = exec.CollectAggregates(term.Expr, aggs)
	}
	if err := exec.ValidateAggregates(aggs); err != nil {
		return nil, newError(KindSchema, "%s", err.Error())
	}

	// Resolve projection names once against all-NULL source slots, so an
	// unknown column or function is reported even when no row is produced.
	if len(shapes) > 0 {
		probe := &exec.Row{Slots: make([]exec.Slot, len(shapes)), Aggs: make(map[*parser.FuncCall]record.Value)}
		for i, s := range shapes {
			probe.Slots[i] = exec.Slot{Qualifier: s.Qualifier, Columns: s.Columns, Null: true}
		}
		for _, call := range aggs {
			probe.Aggs[call] = record.Null()
		}
		for _, e := range exprs {
			if _, err := exec.Eval(e, probe); err != nil && wrapError(err).Kind == KindSchema {
				return nil, err
			}
		}
	}

	switch {
	case len(stmt.GroupBy) > 0:
		if err := exec.ValidateGroupBy(stmt.GroupBy); err != nil {
			return nil, newError(KindSchema, "%s", err.Error())
		}
		source = &exec.GroupAggregate{
			Child:      source,
			GroupExprs: stmt.GroupBy,
			Aggs:       aggs,
			Having:     stmt.Having,
		}
	case len(aggs) > 0 || stmt.Having != nil:
		// HAVING without GROUP BY implies scalar aggregation.
		source = &exec.ScalarAggregate{
			Child:  source,
			Aggs:   aggs,
			Having: stmt.Having,
			Shape:  shapes,
		}
	}

	source = &exec.Project{Child: source, Exprs: exprs, Names: names}

	if len(stmt.OrderBy) > 0 {
		keys := make([]exec.SortKey, 0, len(stmt.OrderBy))
		for _, term := range stmt.OrderBy {
			expr := term.Expr
			// ORDER BY <n> addresses the n-th projection.
			if lit, ok := expr.(*parser.IntegerLit); ok {
				if lit.Value < 1 || int(lit.Value) > len(exprs) {
					return nil, newError(KindSchema,
						"ORDER BY term out of range: %d", lit.Value)
				}
				expr = exprs[lit.Value-1]
			}
			keys = append(keys, exec.SortKey{Expr: expr, Desc: term.Desc})
		}
		source = &exec.Sort{Child: source, Keys: keys}
	}

	if stmt.Limit != nil || stmt.Offset != nil {
		limit := int64(-1)
		offset := int64(0)
		if stmt.Limit != nil {
			n, err := db.evalNonNegativeInt(stmt.Limit, "LIMIT")
			if err != nil {
				return nil, err
			}
			limit = n
		}
		if stmt.Offset != nil {
			n, err := db.evalNonNegativeInt(stmt.Offset, "OFFSET")
			if err != nil {
				return nil, err
			}
			offset = n
		}
		source = &exec.Limit{Child: source, Offset: offset, Count: limit}
	}

	if err := source.Open(); err != nil {
		return nil, err
	}
	defer source.Close()

	result := &Result{Kind: ResultSelect, Columns: names}
	for {
		row, err := source.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		out := make([]record.Value, len(row.Slots[0].Values))
		copy(out, row.Slots[0].Values)
		result.Rows = append(result.Rows, out)
	}
	return result, nil
}

func (db *DB) bindTables(from *parser.FromClause) ([]boundTable, error) {
	bind := func(ref parser.TableRef) (boundTable, error) {
		meta, ok := db.catalog.table(ref.Name)
		if !ok {
			return boundTable{}, newError(KindSchema, "no such table: %s", ref.Name)
		}
		alias := ref.Name
		if ref.Alias != "" {
			alias = ref.Alias
		}
		return boundTable{meta: meta, qualifier: strings.ToLower(alias), alias: alias}, nil
	}

	first, err := bind(from.Table)
	if err != nil {
		return nil, err
	}
	tables := []boundTable{first}
	seen := map[string]bool{first.qualifier: true}

	for _, join := range from.Joins {
		bt, err := bind(join.Table)
		if err != nil {
			return nil, err
		}
		if seen[bt.qualifier] {
			return nil, newError(KindSchema, "duplicate table name or alias: %s", bt.alias)
		}
		seen[bt.qualifier] = true
		tables = append(tables, bt)
	}
	return tables, nil
}

// buildSource constructs the scan/join pipeline for the FROM clause and
// returns the slot shapes of the rows it emits.
func (db *DB) buildSource(stmt *parser.SelectStmt, tables []boundTable) (exec.Operator, []exec.Slot, error) {
	if len(tables) == 0 {
		// FROM-less SELECT evaluates projections over a single empty row.
		return &exec.Values{Rows: []*exec.Row{{}}}, nil, nil
	}

	first := tables[0]
	shapes := []exec.Slot{{
		Qualifier: first.qualifier,
		Columns:   first.meta.lowerColumns(),
	}}

	var source exec.Operator
	if len(tables) == 1 && stmt.Where != nil {
		// Single-table query: consult the planner for an access path.
		ptable := db.catalog.plannerTable(first.meta, []string{first.meta.name, first.alias})
		path := planner.Plan(stmt.Where, ptable)
		if path.Kind == planner.PathTableScan {
			source = db.tableScanOp(first)
		} else {
			rowids, err := db.rowidsForPath(path)
			if err != nil {
				return nil, nil, err
			}
			source = &exec.RowidFetch{
				Pager:  db.pager,
				Source: db.tableSource(first),
				Rowids: rowids,
			}
		}
	} else {
		source = db.tableScanOp(first)
	}

	if stmt.From == nil {
		return source, shapes, nil
	}

	for i, join := range stmt.From.Joins {
		right := tables[i+1]
		rightShape := exec.Slot{
			Qualifier: right.qualifier,
			Columns:   right.meta.lowerColumns(),
		}

		nlj := &exec.NestedLoopJoin{
			Left:       source,
			Kind:       join.Kind,
			On:         join.On,
			RightShape: rightShape,
			LeftShapes: append([]exec.Slot(nil), shapes...),
		}

		// An equality ON against an indexed right-table column turns the
		// inner loop into an index probe for INNER and LEFT joins.
		var probeIdx *indexMeta
		var probeExpr parser.Expression
		if join.On != nil && (join.Kind == parser.JoinInner || join.Kind == parser.JoinLeft) {
			probeIdx, probeExpr = db.probeIndexForJoin(join.On, right.alias, right.meta)
		}
		if probeIdx != nil {
			nlj.Probe = db.joinProber(right, probeIdx, probeExpr)
		} else {
			nlj.RightAll = db.rightMaterializer(right)
		}

		source = nlj
		shapes = append(shapes, rightShape)
	}
	return source, shapes, nil
}

func (db *DB) tableSource(bt boundTable) exec.TableSource {
	return exec.TableSource{
		Root:      bt.meta.root,
		Qualifier: bt.qualifier,
		Columns:   bt.meta.lowerColumns(),
	}
}

func (db *DB) tableScanOp(bt boundTable) exec.Operator {
	return &exec.TableScan{Pager: db.pager, Source: db.tableSource(bt)}
}

// rightMaterializer scans the whole right table into slots once per join.
func (db *DB) rightMaterializer(bt boundTable) func() ([]exec.Slot, error) {
	return func() ([]exec.Slot, error) {
		tree := btree.New(db.pager, bt.meta.root)
		entries, err := tree.ScanAll()
		if err != nil {
			return nil, err
		}
		columns := bt.meta.lowerColumns()
		slots := make([]exec.Slot, 0, len(entries))
		for _, entry := range entries {
			values, err := record.DecodeRow(entry.Payload)
			if err != nil {
				return nil, err
			}
			slots = append(slots, exec.Slot{
				Qualifier: bt.qualifier,
				Columns:   columns,
				Values:    values,
				Rowid:     entry.Key,
			})
		}
		return slots, nil
	}
}

// joinProber probes a right-table index with the key computed from each
// left row.
func (db *DB) joinProber(bt boundTable, idx *indexMeta, keyExpr parser.Expression) func(*exec.Row) ([]exec.Slot, error) {
	columns := bt.meta.lowerColumns()
	return func(left *exec.Row) ([]exec.Slot, error) {
		v, err := exec.Eval(keyExpr, left)
		if err != nil {
			return nil, err
		}
		if v.IsNull() {
			return nil, nil
		}
		rowids, err := db.indexRowidsForTuple(idx, record.Row{v})
		if err != nil {
			return nil, err
		}
		sortRowids(rowids)

		tree := btree.New(db.pager, bt.meta.root)
		slots := make([]exec.Slot, 0, len(rowids))
		for _, rowid := range rowids {
			payload, found, err := tree.Lookup(rowid)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			values, err := record.DecodeRow(payload)
			if err != nil {
				return nil, err
			}
			slots = append(slots, exec.Slot{
				Qualifier: bt.qualifier,
				Columns:   columns,
				Values:    values,
				Rowid:     rowid,
			})
		}
		return slots, nil
	}
}

// expandProjections resolves `*` and `table.*` and derives output names.
func (db *DB) expandProjections(columns []parser.ResultColumn, tables []boundTable) ([]parser.Expression, []string, error) {
	var exprs []parser.Expression
	var names []string

	expandTable := func(bt boundTable) {
		for _, col := range bt.meta.columns {
			exprs = append(exprs, &parser.ColumnRef{Table: bt.alias, Column: col})
			names = append(names, col)
		}
	}

	for _, col := range columns {
		switch {
		case col.Star && col.StarTable == "":
			if len(tables) == 0 {
				return nil, nil, newError(KindSchema, "SELECT * requires a FROM clause")
			}
			for _, bt := range tables {
				expandTable(bt)
			}
		case col.Star:
			var found *boundTable
			for i := range tables {
				if strings.EqualFold(tables[i].qualifier, col.StarTable) {
					found = &tables[i]
					break
				}
			}
			if found == nil {
				return nil, nil, newError(KindSchema, "no such table: %s", col.StarTable)
			}
			expandTable(*found)
		default:
			exprs = append(exprs, col.Expr)
			if col.Alias != "" {
				names = append(names, col.Alias)
			} else {
				names = append(names, exprName(col.Expr))
			}
		}
	}
	return exprs, names, nil
}

// exprName derives the default output column name for an expression.
func exprName(expr parser.Expression) string {
	switch e := expr.(type) {
	case *parser.ColumnRef:
		return e.Column
	case *parser.FuncCall:
		if e.Star {
			return e.Name + "(*)"
		}
		args := make([]string, len(e.Args))
		for i, arg := range e.Args {
			args[i] = exprName(arg)
		}
		return e.Name + "(" + strings.Join(args, ", ") + ")"
	case *parser.IntegerLit:
		return fmt.Sprintf("%d", e.Value)
	case *parser.StringLit:
		return "'" + e.Value + "'"
	default:
		return "expr"
	}
}

func (db *DB) evalNonNegativeInt(expr parser.Expression, what string) (int64, error) {
	v, err := exec.Eval(expr, nil)
	if err != nil {
		return 0, err
	}
	if v.Kind() != record.KindInt {
		return 0, newError(KindType, "%s must be an integer", what)
	}
	if v.Int() < 0 {
		return 0, newError(KindType, "%s cannot be negative", what)
	}
	return v.Int(), nil
}
