package engine

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/petra/internal/record"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustExec(t *testing.T, db *DB, sql string) *Result {
	t.Helper()
	res, err := db.Execute(sql)
	if err != nil {
		t.Fatalf("Execute(%q): %v", sql, err)
	}
	return res
}

func execErr(t *testing.T, db *DB, sql string) *Error {
	t.Helper()
	_, err := db.Execute(sql)
	if err == nil {
		t.Fatalf("Execute(%q) succeeded, want error", sql)
	}
	var engErr *Error
	if !errors.As(err, &engErr) {
		t.Fatalf("Execute(%q) error %v is not an engine error", sql, err)
	}
	return engErr
}

// rowsEqual compares result rows against a literal matrix. Ints in want are
// matched against INTEGER values, strings against TEXT, nil against NULL.
func rowsEqual(t *testing.T, got [][]record.Value, want [][]any) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("row count = %d, want %d (rows: %v)", len(got), len(want), got)
	}
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("row %d has %d columns, want %d", i, len(got[i]), len(want[i]))
		}
		for j, w := range want[i] {
			g := got[i][j]
			switch w := w.(type) {
			case nil:
				if !g.IsNull() {
					t.Errorf("row %d col %d = %v, want NULL", i, j, g)
				}
			case int:
				if g.Kind() != record.KindInt || g.Int() != int64(w) {
					t.Errorf("row %d col %d = %v, want %d", i, j, g, w)
				}
			case float64:
				if g.Kind() != record.KindReal || g.Real() != w {
					t.Errorf("row %d col %d = %v, want %v", i, j, g, w)
				}
			case string:
				if g.Kind() != record.KindText || g.Text() != w {
					t.Errorf("row %d col %d = %v, want %q", i, j, g, w)
				}
			}
		}
	}
}

func TestAutocommitInsertSelect(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE t(id INT, name TEXT)")
	res := mustExec(t, db, "INSERT INTO t VALUES (1,'a'),(2,'b')")
	if res.RowsAffected != 2 {
		t.Errorf("rows affected = %d", res.RowsAffected)
	}

	res = mustExec(t, db, "SELECT * FROM t ORDER BY id DESC")
	if len(res.Columns) != 2 || res.Columns[0] != "id" || res.Columns[1] != "name" {
		t.Errorf("columns = %v", res.Columns)
	}
	rowsEqual(t, res.Rows, [][]any{{2, "b"}, {1, "a"}})
}

func TestIndexDrivenRange(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE s(k INT, v INT)")
	mustExec(t, db, "INSERT INTO s VALUES (1,10),(2,20),(3,30),(4,40)")
	mustExec(t, db, "CREATE INDEX ix ON s(k)")

	res := mustExec(t, db, "SELECT v FROM s WHERE k BETWEEN 2 AND 3")
	rowsEqual(t, res.Rows, [][]any{{20}, {30}})

	res = mustExec(t, db, "SELECT v FROM s WHERE k = 3")
	rowsEqual(t, res.Rows, [][]any{{30}})

	res = mustExec(t, db, "SELECT v FROM s WHERE k IN (1, 4)")
	rowsEqual(t, res.Rows, [][]any{{10}, {40}})

	res = mustExec(t, db, "SELECT v FROM s WHERE k > 2 ORDER BY v DESC")
	rowsEqual(t, res.Rows, [][]any{{40}, {30}})
}

func TestCommittedDataSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustExec(t, db, "CREATE TABLE t(id INT, name TEXT)")
	mustExec(t, db, "BEGIN")
	mustExec(t, db, "INSERT INTO t VALUES (99,'x')")
	mustExec(t, db, "COMMIT")
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	res := mustExec(t, db, "SELECT * FROM t WHERE id=99")
	rowsEqual(t, res.Rows, [][]any{{99, "x"}})
}

func TestRollbackDiscards(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE t(id INT, name TEXT)")
	mustExec(t, db, "BEGIN")
	mustExec(t, db, "INSERT INTO t VALUES (7,'z')")
	mustExec(t, db, "ROLLBACK")

	res := mustExec(t, db, "SELECT count(*) FROM t WHERE id=7")
	rowsEqual(t, res.Rows, [][]any{{0}})
}

func TestRollbackRestoresCatalog(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "BEGIN")
	mustExec(t, db, "CREATE TABLE temp(x INT)")
	mustExec(t, db, "ROLLBACK")

	err := execErr(t, db, "INSERT INTO temp VALUES (1)")
	if err.Kind != KindSchema {
		t.Errorf("kind = %v", err.Kind)
	}
}

func TestUniqueHandoffInUpdate(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE u(k INT)")
	mustExec(t, db, "CREATE UNIQUE INDEX uix ON u(k)")
	mustExec(t, db, "INSERT INTO u VALUES (1),(2)")

	// 1->2 and 2->3 in one statement: valid as a batch.
	res := mustExec(t, db, "UPDATE u SET k = k+1")
	if res.RowsAffected != 2 {
		t.Errorf("rows affected = %d", res.RowsAffected)
	}
	res = mustExec(t, db, "SELECT k FROM u ORDER BY k")
	rowsEqual(t, res.Rows, [][]any{{2}, {3}})
}

func TestLeftJoinWithIndexProbe(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE a(id INT)")
	mustExec(t, db, "CREATE TABLE b(a_id INT, v TEXT)")
	mustExec(t, db, "CREATE INDEX bi ON b(a_id)")
	mustExec(t, db, "INSERT INTO a VALUES (1),(2),(3)")
	mustExec(t, db, "INSERT INTO b VALUES (1,'x'),(1,'y'),(3,'z')")

	res := mustExec(t, db,
		"SELECT a.id, b.v FROM a LEFT JOIN b ON b.a_id=a.id ORDER BY a.id, b.v")
	rowsEqual(t, res.Rows, [][]any{{1, "x"}, {1, "y"}, {2, nil}, {3, "z"}})
}

func TestJoinKinds(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE l(id INT)")
	mustExec(t, db, "CREATE TABLE r(id INT)")
	mustExec(t, db, "INSERT INTO l VALUES (1),(2)")
	mustExec(t, db, "INSERT INTO r VALUES (2),(3)")

	res := mustExec(t, db, "SELECT l.id, r.id FROM l INNER JOIN r ON l.id=r.id")
	rowsEqual(t, res.Rows, [][]any{{2, 2}})

	res = mustExec(t, db, "SELECT l.id, r.id FROM l RIGHT JOIN r ON l.id=r.id ORDER BY r.id")
	rowsEqual(t, res.Rows, [][]any{{2, 2}, {nil, 3}})

	res = mustExec(t, db, "SELECT l.id, r.id FROM l FULL JOIN r ON l.id=r.id")
	if len(res.Rows) != 3 {
		t.Errorf("FULL JOIN rows = %v", res.Rows)
	}

	res = mustExec(t, db, "SELECT l.id, r.id FROM l CROSS JOIN r")
	if len(res.Rows) != 4 {
		t.Errorf("CROSS JOIN rows = %v", res.Rows)
	}
}

func TestAggregatesAndGroupBy(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE o(cust TEXT, total INT)")
	mustExec(t, db, "INSERT INTO o VALUES ('a',10),('b',5),('a',20),('c',1),('b',6)")

	res := mustExec(t, db, "SELECT COUNT(*), SUM(total), AVG(total), MIN(total), MAX(total) FROM o")
	rowsEqual(t, res.Rows, [][]any{{5, 42, 8.4, 1, 20}})

	res = mustExec(t, db,
		"SELECT cust, SUM(total) AS s FROM o GROUP BY cust HAVING COUNT(*) > 1 ORDER BY s DESC")
	rowsEqual(t, res.Rows, [][]any{{"a", 30}, {"b", 11}})

	// Aggregates over empty input.
	mustExec(t, db, "CREATE TABLE empty(v INT)")
	res = mustExec(t, db, "SELECT COUNT(*), SUM(v), MIN(v) FROM empty")
	rowsEqual(t, res.Rows, [][]any{{0, nil, nil}})

	// COUNT(expr) skips NULL; scalar wrapping an aggregate.
	mustExec(t, db, "INSERT INTO empty VALUES (1),(NULL),(3)")
	res = mustExec(t, db, "SELECT COUNT(v), COALESCE(MAX(v), 0) FROM empty")
	rowsEqual(t, res.Rows, [][]any{{2, 3}})
}

func TestOrderByNullsAndLimit(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE t(v INT)")
	mustExec(t, db, "INSERT INTO t VALUES (2),(NULL),(1),(3)")

	res := mustExec(t, db, "SELECT v FROM t ORDER BY v")
	rowsEqual(t, res.Rows, [][]any{{nil}, {1}, {2}, {3}})

	res = mustExec(t, db, "SELECT v FROM t ORDER BY v DESC")
	rowsEqual(t, res.Rows, [][]any{{3}, {2}, {1}, {nil}})

	res = mustExec(t, db, "SELECT v FROM t ORDER BY v LIMIT 2 OFFSET 1")
	rowsEqual(t, res.Rows, [][]any{{1}, {2}})
}

func TestUniqueViolations(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE u(a INT, b INT)")
	mustExec(t, db, "CREATE UNIQUE INDEX uab ON u(a, b)")
	mustExec(t, db, "INSERT INTO u VALUES (1, 1)")

	err := execErr(t, db, "INSERT INTO u VALUES (1, 1)")
	if err.Kind != KindConstraint {
		t.Errorf("kind = %v", err.Kind)
	}
	if want := "UNIQUE constraint failed: u.a, u.b"; err.Message != want {
		t.Errorf("message = %q, want %q", err.Message, want)
	}

	// Duplicate within one batch.
	err = execErr(t, db, "INSERT INTO u VALUES (9, 9), (9, 9)")
	if err.Kind != KindConstraint {
		t.Errorf("batch duplicate kind = %v", err.Kind)
	}
	// The failed batch must not be partially applied.
	res := mustExec(t, db, "SELECT COUNT(*) FROM u")
	rowsEqual(t, res.Rows, [][]any{{1}})

	// NULL bypasses uniqueness.
	mustExec(t, db, "INSERT INTO u VALUES (1, NULL), (1, NULL)")
	res = mustExec(t, db, "SELECT COUNT(*) FROM u")
	rowsEqual(t, res.Rows, [][]any{{3}})
}

func TestIndexMaintenanceOnDML(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE t(k INT, v TEXT)")
	mustExec(t, db, "CREATE INDEX tk ON t(k)")
	mustExec(t, db, "INSERT INTO t VALUES (1,'a'),(2,'b'),(3,'c')")

	mustExec(t, db, "UPDATE t SET k = 10 WHERE v = 'b'")
	res := mustExec(t, db, "SELECT v FROM t WHERE k = 10")
	rowsEqual(t, res.Rows, [][]any{{"b"}})
	res = mustExec(t, db, "SELECT v FROM t WHERE k = 2")
	rowsEqual(t, res.Rows, nil)

	mustExec(t, db, "DELETE FROM t WHERE k = 10")
	res = mustExec(t, db, "SELECT v FROM t WHERE k = 10")
	rowsEqual(t, res.Rows, nil)

	res = mustExec(t, db, "SELECT COUNT(*) FROM t")
	rowsEqual(t, res.Rows, [][]any{{2}})
}

func TestCompositeIndexPaths(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE m(a INT, b INT, v INT)")
	mustExec(t, db, "CREATE INDEX mab ON m(a, b)")
	mustExec(t, db, "INSERT INTO m VALUES (1,1,11),(1,2,12),(2,1,21),(2,2,22),(2,3,23)")

	res := mustExec(t, db, "SELECT v FROM m WHERE a=2 AND b=3")
	rowsEqual(t, res.Rows, [][]any{{23}})

	res = mustExec(t, db, "SELECT v FROM m WHERE a=1 ORDER BY v")
	rowsEqual(t, res.Rows, [][]any{{11}, {12}})

	res = mustExec(t, db, "SELECT v FROM m WHERE a=2 AND b>=2 ORDER BY v")
	rowsEqual(t, res.Rows, [][]any{{22}, {23}})
}

func TestTextIndexLookups(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE p(name TEXT, n INT)")
	mustExec(t, db, "CREATE INDEX pn ON p(name)")
	// Shared 8-byte prefixes exercise the overlap channel and bucket
	// filtering.
	mustExec(t, db, `INSERT INTO p VALUES
		('prefix00-alpha', 1), ('prefix00-beta', 2), ('prefix00-zeta', 3), ('short', 4)`)

	res := mustExec(t, db, "SELECT n FROM p WHERE name = 'prefix00-beta'")
	rowsEqual(t, res.Rows, [][]any{{2}})

	res = mustExec(t, db, "SELECT n FROM p WHERE name = 'short'")
	rowsEqual(t, res.Rows, [][]any{{4}})

	res = mustExec(t, db, "SELECT n FROM p WHERE name = 'prefix00-gamma'")
	rowsEqual(t, res.Rows, nil)
}

func TestDropTableReclaimsPages(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE big(v TEXT)")
	mustExec(t, db, "CREATE INDEX bigv ON big(v)")
	for i := 0; i < 20; i++ {
		mustExec(t, db, "INSERT INTO big VALUES ('aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa')")
	}
	mustExec(t, db, "DROP TABLE big")

	if db.pager.Header().FreelistCount == 0 {
		t.Error("expected freed pages after DROP TABLE")
	}
	report, err := db.CheckIntegrity()
	if err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
	if report.FreePages == 0 {
		t.Error("report shows no free pages")
	}

	err2 := execErr(t, db, "SELECT * FROM big")
	if err2.Kind != KindSchema {
		t.Errorf("kind = %v", err2.Kind)
	}
}

func TestIntegrityAfterWorkload(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE w(k INT, v TEXT)")
	mustExec(t, db, "CREATE INDEX wk ON w(k)")
	for i := 0; i < 50; i++ {
		mustExec(t, db, "INSERT INTO w VALUES (1, 'row'), (2, 'row'), (3, 'row')")
	}
	mustExec(t, db, "DELETE FROM w WHERE k = 2")
	mustExec(t, db, "UPDATE w SET k = 9 WHERE k = 3")

	report, err := db.CheckIntegrity()
	if err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
	found := false
	for _, obj := range report.Objects {
		if obj.Name == "w" && obj.Type == "table" {
			found = true
			if obj.Digest == "" {
				t.Error("missing digest")
			}
		}
	}
	if !found {
		t.Error("table w missing from report")
	}
}

func TestStatsPersistAndDrivePlanner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustExec(t, db, "CREATE TABLE s(k INT)")
	mustExec(t, db, "CREATE INDEX sk ON s(k)")
	mustExec(t, db, "INSERT INTO s VALUES (1),(2),(3),(4),(5)")
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	if got := db.catalog.tableRows["s"]; got != 5 {
		t.Errorf("table row stats = %d, want 5", got)
	}
	stats, ok := db.catalog.indexStats["sk"]
	if !ok {
		t.Fatal("index stats missing after reopen")
	}
	if stats.RowCount != 5 || stats.DistinctKeys != 5 {
		t.Errorf("index stats = %+v", stats)
	}
	if len(stats.PrefixDistinct) != 1 || stats.PrefixDistinct[0] != 5 {
		t.Errorf("prefix distinct = %v", stats.PrefixDistinct)
	}
}

func TestTransactionErrors(t *testing.T) {
	db := openTestDB(t)

	err := execErr(t, db, "COMMIT")
	if err.Kind != KindTransaction {
		t.Errorf("commit outside txn: kind = %v", err.Kind)
	}
	err = execErr(t, db, "ROLLBACK")
	if err.Kind != KindTransaction {
		t.Errorf("rollback outside txn: kind = %v", err.Kind)
	}

	mustExec(t, db, "BEGIN")
	err = execErr(t, db, "BEGIN")
	if err.Kind != KindTransaction {
		t.Errorf("nested begin: kind = %v", err.Kind)
	}
	mustExec(t, db, "COMMIT")
}

func TestSchemaErrors(t *testing.T) {
	db := openTestDB(t)
	mustExec(t, db, "CREATE TABLE t(a INT)")

	cases := []struct {
		sql  string
		kind Kind
	}{
		{"SELECT * FROM missing", KindSchema},
		{"SELECT nope FROM t", KindSchema},
		{"INSERT INTO t (nope) VALUES (1)", KindSchema},
		{"CREATE TABLE t(a INT)", KindSchema},
		{"CREATE INDEX i ON missing (x)", KindSchema},
		{"CREATE INDEX i ON t (nope)", KindSchema},
		{"DROP TABLE missing", KindSchema},
		{"DROP INDEX missing", KindSchema},
		{"SELECT 'x' + 1", KindType},
		{"SELECT BOGUS(1)", KindSchema},
	}
	for _, tc := range cases {
		err := execErr(t, db, tc.sql)
		if err.Kind != tc.kind {
			t.Errorf("%s: kind = %v, want %v", tc.sql, err.Kind, tc.kind)
		}
	}
}

func TestParseErrorOffset(t *testing.T) {
	db := openTestDB(t)
	err := execErr(t, db, "SELECT FROM t")
	if err.Kind != KindParse {
		t.Fatalf("kind = %v", err.Kind)
	}
	if err.Offset != 7 {
		t.Errorf("offset = %d, want 7", err.Offset)
	}
}

func TestIfExistsVariants(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE t(a INT)")
	mustExec(t, db, "CREATE TABLE IF NOT EXISTS t(a INT)")
	mustExec(t, db, "CREATE INDEX ti ON t(a)")
	mustExec(t, db, "CREATE INDEX IF NOT EXISTS ti ON t(a)")
	mustExec(t, db, "DROP INDEX IF EXISTS nothere")
	mustExec(t, db, "DROP TABLE IF EXISTS nothere")
}

func TestSelectWithoutFrom(t *testing.T) {
	db := openTestDB(t)

	res := mustExec(t, db, "SELECT 1 + 2, 'ok', NULL")
	rowsEqual(t, res.Rows, [][]any{{3, "ok", nil}})

	res = mustExec(t, db, "SELECT UPPER('x') AS u")
	if res.Columns[0] != "u" {
		t.Errorf("columns = %v", res.Columns)
	}
	rowsEqual(t, res.Rows, [][]any{{"X"}})
}

func TestScalarFunctionsInQueries(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE t(name TEXT)")
	mustExec(t, db, "INSERT INTO t VALUES ('  Alice  '), (NULL)")

	res := mustExec(t, db, "SELECT TRIM(name), LENGTH(TRIM(name)) FROM t WHERE name IS NOT NULL")
	rowsEqual(t, res.Rows, [][]any{{"Alice", 5}})

	res = mustExec(t, db, "SELECT COUNT(*) FROM t WHERE name LIKE '%ali%'")
	rowsEqual(t, res.Rows, [][]any{{1}})
}

func TestInsertWithColumnListFillsNull(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE t(a INT, b TEXT, c INT)")
	mustExec(t, db, "INSERT INTO t (b, a) VALUES ('x', 10)")
	res := mustExec(t, db, "SELECT * FROM t")
	rowsEqual(t, res.Rows, [][]any{{10, "x", nil}})
}

func TestLargeWorkloadThroughSplits(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE big(id INT, payload TEXT)")
	mustExec(t, db, "CREATE INDEX bigid ON big(id)")
	for i := 0; i < 40; i++ {
		mustExec(t, db,
			"INSERT INTO big VALUES "+
				"(1,'xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx'),"+
				"(2,'yyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyy'),"+
				"(3,'zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz')")
	}
	res := mustExec(t, db, "SELECT COUNT(*) FROM big")
	rowsEqual(t, res.Rows, [][]any{{120}})

	res = mustExec(t, db, "SELECT COUNT(*) FROM big WHERE id = 2")
	rowsEqual(t, res.Rows, [][]any{{40}})

	mustExec(t, db, "DELETE FROM big WHERE id = 2")
	res = mustExec(t, db, "SELECT COUNT(*) FROM big")
	rowsEqual(t, res.Rows, [][]any{{80}})

	if _, err := db.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
}

func TestExplicitTransactionSpansStatements(t *testing.T) {
	db := openTestDB(t)

	mustExec(t, db, "CREATE TABLE t(v INT)")
	mustExec(t, db, "BEGIN")
	mustExec(t, db, "INSERT INTO t VALUES (1)")
	mustExec(t, db, "INSERT INTO t VALUES (2)")

	// Reads inside the transaction observe prior writes.
	res := mustExec(t, db, "SELECT COUNT(*) FROM t")
	rowsEqual(t, res.Rows, [][]any{{2}})

	mustExec(t, db, "COMMIT")
	res = mustExec(t, db, "SELECT COUNT(*) FROM t")
	rowsEqual(t, res.Rows, [][]any{{2}})
}
