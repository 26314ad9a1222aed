package parser

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, sql string) Statement {
	t.Helper()
	stmt, err := Parse(sql)
	if err != nil {
		t.Fatalf("Parse(%q): %v", sql, err)
	}
	return stmt
}

func TestParseCreateTable(t *testing.T) {
	stmt := mustParse(t, "CREATE TABLE users (id INTEGER, name TEXT, score REAL);")
	ct, ok := stmt.(*CreateTableStmt)
	if !ok {
		t.Fatalf("got %T", stmt)
	}
	if ct.Table != "users" || len(ct.Columns) != 3 {
		t.Fatalf("stmt = %+v", ct)
	}
	if ct.Columns[1].Name != "name" || ct.Columns[1].Type != "TEXT" {
		t.Errorf("columns = %+v", ct.Columns)
	}

	ct = mustParse(t, "CREATE TABLE IF NOT EXISTS t (a)").(*CreateTableStmt)
	if !ct.IfNotExists || ct.Columns[0].Type != "" {
		t.Errorf("stmt = %+v", ct)
	}
}

func TestParseCreateIndex(t *testing.T) {
	stmt := mustParse(t, "CREATE UNIQUE INDEX IF NOT EXISTS idx ON t (a, b)")
	ci := stmt.(*CreateIndexStmt)
	if !ci.Unique || !ci.IfNotExists || ci.Name != "idx" || ci.Table != "t" {
		t.Fatalf("stmt = %+v", ci)
	}
	if len(ci.Columns) != 2 || ci.Columns[0] != "a" || ci.Columns[1] != "b" {
		t.Errorf("columns = %v", ci.Columns)
	}
}

func TestParseDrop(t *testing.T) {
	dt := mustParse(t, "DROP TABLE IF EXISTS t").(*DropTableStmt)
	if dt.Table != "t" || !dt.IfExists {
		t.Errorf("stmt = %+v", dt)
	}
	di := mustParse(t, "DROP INDEX idx").(*DropIndexStmt)
	if di.Name != "idx" || di.IfExists {
		t.Errorf("stmt = %+v", di)
	}
}

func TestParseInsert(t *testing.T) {
	stmt := mustParse(t, "INSERT INTO t (a, b) VALUES (1, 'x'), (2, NULL)")
	ins := stmt.(*InsertStmt)
	if ins.Table != "t" || len(ins.Columns) != 2 || len(ins.Rows) != 2 {
		t.Fatalf("stmt = %+v", ins)
	}
	if lit, ok := ins.Rows[0][0].(*IntegerLit); !ok || lit.Value != 1 {
		t.Errorf("rows[0][0] = %#v", ins.Rows[0][0])
	}
	if _, ok := ins.Rows[1][1].(*NullLit); !ok {
		t.Errorf("rows[1][1] = %#v", ins.Rows[1][1])
	}
}

func TestParseUpdate(t *testing.T) {
	stmt := mustParse(t, "UPDATE t SET a = a + 1, b = 'v' WHERE id >= 2")
	up := stmt.(*UpdateStmt)
	if up.Table != "t" || len(up.Assignments) != 2 || up.Where == nil {
		t.Fatalf("stmt = %+v", up)
	}
	if up.Assignments[0].Column != "a" {
		t.Errorf("assignment = %+v", up.Assignments[0])
	}
}

func TestParseDelete(t *testing.T) {
	del := mustParse(t, "DELETE FROM t WHERE x IS NOT NULL").(*DeleteStmt)
	if del.Table != "t" {
		t.Fatalf("stmt = %+v", del)
	}
	isNull, ok := del.Where.(*IsNullExpr)
	if !ok || !isNull.Negated {
		t.Errorf("where = %#v", del.Where)
	}
}

func TestParseSelectFull(t *testing.T) {
	stmt := mustParse(t, `
		SELECT a.id, b.v AS val, COUNT(*)
		FROM a LEFT JOIN b ON b.a_id = a.id
		WHERE a.id BETWEEN 1 AND 10 AND b.v IN ('x', 'y')
		GROUP BY a.id HAVING COUNT(*) > 1
		ORDER BY a.id DESC, val
		LIMIT 5 OFFSET 2`)
	sel := stmt.(*SelectStmt)

	if len(sel.Columns) != 3 || sel.Columns[1].Alias != "val" {
		t.Fatalf("columns = %+v", sel.Columns)
	}
	if call, ok := sel.Columns[2].Expr.(*FuncCall); !ok || !call.Star || call.Name != "COUNT" {
		t.Errorf("count column = %#v", sel.Columns[2].Expr)
	}
	if sel.From == nil || sel.From.Table.Name != "a" || len(sel.From.Joins) != 1 {
		t.Fatalf("from = %+v", sel.From)
	}
	join := sel.From.Joins[0]
	if join.Kind != JoinLeft || join.Table.Name != "b" || join.On == nil {
		t.Errorf("join = %+v", join)
	}
	if sel.Where == nil || len(sel.GroupBy) != 1 || sel.Having == nil {
		t.Errorf("where/group/having missing")
	}
	if len(sel.OrderBy) != 2 || !sel.OrderBy[0].Desc || sel.OrderBy[1].Desc {
		t.Errorf("order by = %+v", sel.OrderBy)
	}
	if sel.Limit == nil || sel.Offset == nil {
		t.Errorf("limit/offset missing")
	}
}

func TestParseSelectStar(t *testing.T) {
	sel := mustParse(t, "SELECT *, t.* FROM t").(*SelectStmt)
	if !sel.Columns[0].Star || sel.Columns[0].StarTable != "" {
		t.Errorf("columns[0] = %+v", sel.Columns[0])
	}
	if !sel.Columns[1].Star || sel.Columns[1].StarTable != "t" {
		t.Errorf("columns[1] = %+v", sel.Columns[1])
	}
}

func TestParseJoins(t *testing.T) {
	sel := mustParse(t, "SELECT 1 FROM a JOIN b ON a.x=b.x RIGHT JOIN c ON c.y=a.y CROSS JOIN d").(*SelectStmt)
	if len(sel.From.Joins) != 3 {
		t.Fatalf("joins = %+v", sel.From.Joins)
	}
	kinds := []JoinKind{JoinInner, JoinRight, JoinCross}
	for i, k := range kinds {
		if sel.From.Joins[i].Kind != k {
			t.Errorf("join %d kind = %v, want %v", i, sel.From.Joins[i].Kind, k)
		}
	}
	if sel.From.Joins[2].On != nil {
		t.Error("cross join has ON")
	}
}

func TestExpressionPrecedence(t *testing.T) {
	sel := mustParse(t, "SELECT 1 + 2 * 3").(*SelectStmt)
	add, ok := sel.Columns[0].Expr.(*BinaryExpr)
	if !ok || add.Op != OpAdd {
		t.Fatalf("top = %#v", sel.Columns[0].Expr)
	}
	mul, ok := add.Right.(*BinaryExpr)
	if !ok || mul.Op != OpMul {
		t.Errorf("right = %#v", add.Right)
	}

	sel = mustParse(t, "SELECT 1 FROM t WHERE a = 1 OR b = 2 AND c = 3").(*SelectStmt)
	or, ok := sel.Where.(*BinaryExpr)
	if !ok || or.Op != OpOr {
		t.Fatalf("where = %#v", sel.Where)
	}
	and, ok := or.Right.(*BinaryExpr)
	if !ok || and.Op != OpAnd {
		t.Errorf("or.Right = %#v", or.Right)
	}
}

func TestParseNotVariants(t *testing.T) {
	sel := mustParse(t, "SELECT 1 FROM t WHERE a NOT IN (1,2) AND b NOT LIKE 'x%' AND c NOT BETWEEN 1 AND 2").(*SelectStmt)
	if sel.Where == nil {
		t.Fatal("where missing")
	}
	sel = mustParse(t, "SELECT 1 FROM t WHERE NOT a = 1").(*SelectStmt)
	if _, ok := sel.Where.(*UnaryExpr); !ok {
		t.Errorf("where = %#v", sel.Where)
	}
}

func TestTransactionStatements(t *testing.T) {
	if _, ok := mustParse(t, "BEGIN").(*BeginStmt); !ok {
		t.Error("BEGIN")
	}
	if _, ok := mustParse(t, "BEGIN TRANSACTION").(*BeginStmt); !ok {
		t.Error("BEGIN TRANSACTION")
	}
	if _, ok := mustParse(t, "COMMIT;").(*CommitStmt); !ok {
		t.Error("COMMIT")
	}
	if _, ok := mustParse(t, "ROLLBACK").(*RollbackStmt); !ok {
		t.Error("ROLLBACK")
	}
}

func TestStringEscapesAndComments(t *testing.T) {
	ins := mustParse(t, `-- leading comment
		INSERT INTO t VALUES ('it''s', /* inline */ 2)`).(*InsertStmt)
	lit := ins.Rows[0][0].(*StringLit)
	if lit.Value != "it's" {
		t.Errorf("string = %q", lit.Value)
	}
}

func TestParseErrorsCarryOffset(t *testing.T) {
	_, err := Parse("SELECT FROM t")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("got %v", err)
	}
	if perr.Offset != 7 {
		t.Errorf("offset = %d, want 7", perr.Offset)
	}

	for _, sql := range []string{
		"",
		"CREATE VIEW v",
		"INSERT t VALUES (1)",
		"SELECT 'unterminated",
		"SELECT 1 2 3 FROM t",
	} {
		if _, err := Parse(sql); err == nil {
			t.Errorf("Parse(%q) succeeded", sql)
		}
	}
}

func TestParseAllSplitsStatements(t *testing.T) {
	stmts, err := ParseAll("CREATE TABLE t (a); INSERT INTO t VALUES (1); SELECT * FROM t;")
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	if len(stmts) != 3 {
		t.Fatalf("statement count = %d", len(stmts))
	}
}
