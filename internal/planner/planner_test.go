package planner

import (
	"testing"

	"github.com/FocuswithJustin/petra/internal/parser"
)

func whereOf(t *testing.T, sql string) parser.Expression {
	t.Helper()
	stmt, err := parser.Parse(sql)
	if err != nil {
		t.Fatalf("Parse(%q): %v", sql, err)
	}
	sel, ok := stmt.(*parser.SelectStmt)
	if !ok {
		t.Fatalf("expected SELECT, got %T", stmt)
	}
	return sel.Where
}

func testTable() *Table {
	return &Table{
		Name:       "t",
		Qualifiers: []string{"t"},
		Indexes: []*Index{
			{Name: "ix_k", Table: "t", Columns: []string{"k"}},
			{Name: "ix_v", Table: "t", Columns: []string{"v"}},
			{Name: "ix_ab", Table: "t", Columns: []string{"a", "b"}},
		},
	}
}

func TestPlanNoWhereIsTableScan(t *testing.T) {
	p := Plan(nil, testTable())
	if p.Kind != PathTableScan {
		t.Errorf("kind = %v", p.Kind)
	}
}

func TestPlanEquality(t *testing.T) {
	where := whereOf(t, "SELECT 1 FROM t WHERE k = 42")
	p := Plan(where, testTable())
	if p.Kind != PathIndexEq || p.Index.Name != "ix_k" || len(p.EqExprs) != 1 {
		t.Errorf("path = %+v", p)
	}
}

func TestPlanReversedEquality(t *testing.T) {
	where := whereOf(t, "SELECT 1 FROM t WHERE 42 = k")
	p := Plan(where, testTable())
	if p.Kind != PathIndexEq || p.Index.Name != "ix_k" {
		t.Errorf("path = %+v", p)
	}
}

func TestPlanRangeForms(t *testing.T) {
	for _, sql := range []string{
		"SELECT 1 FROM t WHERE k > 5",
		"SELECT 1 FROM t WHERE k <= 9",
		"SELECT 1 FROM t WHERE k BETWEEN 2 AND 3",
		"SELECT 1 FROM t WHERE 5 < k",
	} {
		p := Plan(whereOf(t, sql), testTable())
		if p.Kind != PathIndexRange || p.Index.Name != "ix_k" {
			t.Errorf("%s: path = %+v", sql, p)
		}
	}

	p := Plan(whereOf(t, "SELECT 1 FROM t WHERE k BETWEEN 2 AND 3"), testTable())
	if p.Low == nil || p.High == nil || !p.LowInclusive || !p.HighInclusive {
		t.Errorf("between bounds = %+v", p)
	}
}

func TestPlanInListBecomesUnion(t *testing.T) {
	p := Plan(whereOf(t, "SELECT 1 FROM t WHERE k IN (1, 2, 2, 3)"), testTable())
	if p.Kind != PathIndexOr {
		t.Fatalf("path = %+v", p)
	}
	// The duplicate 2 is removed.
	if len(p.Branches) != 3 {
		t.Errorf("branch count = %d, want 3", len(p.Branches))
	}
	for _, b := range p.Branches {
		if b.Kind != PathIndexEq || b.Index.Name != "ix_k" {
			t.Errorf("branch = %+v", b)
		}
	}
}

func TestPlanOrOfIndexableBranches(t *testing.T) {
	p := Plan(whereOf(t, "SELECT 1 FROM t WHERE k = 1 OR v = 2"), testTable())
	if p.Kind != PathIndexOr || len(p.Branches) != 2 {
		t.Fatalf("path = %+v", p)
	}
}

func TestPlanOrWithUnindexableBranchFallsBack(t *testing.T) {
	p := Plan(whereOf(t, "SELECT 1 FROM t WHERE k = 1 OR z = 2"), testTable())
	if p.Kind != PathTableScan {
		t.Errorf("path = %+v", p)
	}
}

func TestPlanAndIntersection(t *testing.T) {
	// Two independent range terms intersect.
	p := Plan(whereOf(t, "SELECT 1 FROM t WHERE k > 1 AND v > 2"), testTable())
	if p.Kind != PathIndexAnd || len(p.Branches) != 2 {
		t.Fatalf("path = %+v", p)
	}

	// With an equality available, the cheaper single probe wins and the
	// second term stays a residual filter.
	p = Plan(whereOf(t, "SELECT 1 FROM t WHERE k = 1 AND v > 2"), testTable())
	if p.Kind != PathIndexEq || p.Index.Name != "ix_k" {
		t.Fatalf("path = %+v", p)
	}
}

func TestPlanFullCompositeEqPreferred(t *testing.T) {
	p := Plan(whereOf(t, "SELECT 1 FROM t WHERE a = 1 AND b = 2"), testTable())
	if p.Kind != PathIndexEq || p.Index.Name != "ix_ab" || len(p.EqExprs) != 2 {
		t.Errorf("path = %+v", p)
	}
}

func TestPlanCompositePrefix(t *testing.T) {
	p := Plan(whereOf(t, "SELECT 1 FROM t WHERE a = 1"), testTable())
	if p.Kind != PathIndexPrefixRange || p.Index.Name != "ix_ab" || len(p.EqExprs) != 1 {
		t.Errorf("path = %+v", p)
	}

	p = Plan(whereOf(t, "SELECT 1 FROM t WHERE a = 1 AND b > 5"), testTable())
	if p.Kind != PathIndexPrefixRange || p.RangeColumn != "b" || p.Low == nil {
		t.Errorf("path = %+v", p)
	}
}

func TestPlanUnindexablePredicates(t *testing.T) {
	for _, sql := range []string{
		"SELECT 1 FROM t WHERE z = 1",
		"SELECT 1 FROM t WHERE k = v",
		"SELECT 1 FROM t WHERE k + 1 = 2",
		"SELECT 1 FROM t WHERE LENGTH(k) = 2",
		"SELECT 1 FROM t WHERE k IS NULL",
	} {
		p := Plan(whereOf(t, sql), testTable())
		if p.Kind != PathTableScan {
			t.Errorf("%s: path kind = %v, want TableScan", sql, p.Kind)
		}
	}
}

func TestQualifiedColumnsMatchAlias(t *testing.T) {
	table := testTable()
	table.Qualifiers = []string{"t", "x"}
	p := Plan(whereOf(t, "SELECT 1 FROM t WHERE x.k = 1"), table)
	if p.Kind != PathIndexEq {
		t.Errorf("path = %+v", p)
	}
	p = Plan(whereOf(t, "SELECT 1 FROM t WHERE other.k = 1"), table)
	if p.Kind != PathTableScan {
		t.Errorf("foreign qualifier: path = %+v", p)
	}
}

func TestLargeInListFallsBackWithoutStats(t *testing.T) {
	// 8 probes at static cost 14 exceed the static 100 baseline.
	p := Plan(whereOf(t, "SELECT 1 FROM t WHERE k IN (1,2,3,4,5,6,7,8)"), testTable())
	if p.Kind != PathTableScan {
		t.Errorf("path = %+v (cost %v)", p, p.Cost)
	}
}

func TestStatsDriveSelection(t *testing.T) {
	table := testTable()
	table.Stats = Stats{
		HasTableRows: true,
		TableRows:    10000,
		Index: map[string]IndexStats{
			"ix_k": {Rows: 10000, DistinctKeys: 5000},
		},
	}
	p := Plan(whereOf(t, "SELECT 1 FROM t WHERE k = 7"), table)
	if p.Kind != PathIndexEq {
		t.Fatalf("path = %+v", p)
	}
	if p.Cost >= float64(table.Stats.TableRows) {
		t.Errorf("eq cost %v not below scan cost", p.Cost)
	}

	// With terrible selectivity (one distinct key) the index probe costs
	// as much as the scan and the planner falls back.
	table.Stats.Index["ix_k"] = IndexStats{Rows: 10000, DistinctKeys: 1}
	p = Plan(whereOf(t, "SELECT 1 FROM t WHERE k = 7"), table)
	if p.Kind != PathTableScan {
		t.Errorf("path = %+v", p)
	}
}

func TestStatsPrefixFanout(t *testing.T) {
	table := testTable()
	table.Stats = Stats{
		HasTableRows: true,
		TableRows:    100000,
		Index: map[string]IndexStats{
			"ix_ab": {Rows: 100000, DistinctKeys: 90000, PrefixDistinct: []int{30000, 90000}},
		},
	}
	p := Plan(whereOf(t, "SELECT 1 FROM t WHERE a = 1"), table)
	if p.Kind != PathIndexPrefixRange {
		t.Fatalf("path = %+v", p)
	}
	if p.Cost >= float64(table.Stats.TableRows) {
		t.Errorf("prefix cost %v not below scan cost", p.Cost)
	}
}

func TestSmallTableWithStatsPrefersScan(t *testing.T) {
	table := testTable()
	table.Stats = Stats{
		HasTableRows: true,
		TableRows:    3,
		Index: map[string]IndexStats{
			"ix_k": {Rows: 3, DistinctKeys: 3},
		},
	}
	p := Plan(whereOf(t, "SELECT 1 FROM t WHERE k = 1"), table)
	if p.Kind != PathTableScan {
		t.Errorf("path = %+v (cost %v)", p, p.Cost)
	}
}
