package petra

import (
	"path/filepath"
	"testing"
)

func TestOpenExecClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facade.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	res, err := db.Exec("CREATE TABLE t(id INT, name TEXT)")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Kind != ResultDDL || res.Statement != "create_table" {
		t.Errorf("result = %+v", res)
	}

	res, err = db.Exec("INSERT INTO t VALUES (1,'a'),(2,'b')")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res.Kind != ResultWrite || res.RowsAffected != 2 {
		t.Errorf("result = %+v", res)
	}

	res, err = db.Exec("SELECT * FROM t ORDER BY id DESC")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.Kind != ResultSelect {
		t.Errorf("kind = %v", res.Kind)
	}
	if len(res.Rows) != 2 || res.Rows[0][0].Int != 2 || res.Rows[0][1].Text != "b" {
		t.Errorf("rows = %v", res.Rows)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: committed data survives.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	res, err = db.Exec("SELECT COUNT(*) FROM t")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if res.Rows[0][0].Int != 2 {
		t.Errorf("count = %v", res.Rows[0][0])
	}
}

func TestMultiStatementExec(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "multi.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	res, err := db.Exec("CREATE TABLE t(v INT); INSERT INTO t VALUES (1); SELECT v FROM t")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Kind != ResultSelect || len(res.Rows) != 1 || res.Rows[0][0].Int != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestNullValueConversion(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "null.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	res, err := db.Exec("SELECT NULL, 1.5")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !res.Rows[0][0].IsNull() {
		t.Error("first column not NULL")
	}
	if res.Rows[0][1].Kind != KindReal || res.Rows[0][1].Real != 1.5 {
		t.Errorf("second column = %+v", res.Rows[0][1])
	}
}

func TestIntegrityFacade(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "check.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	db.Exec("CREATE TABLE t(v INT)")
	db.Exec("INSERT INTO t VALUES (1),(2)")

	report, err := db.CheckIntegrity()
	if err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
	if report.Pages == 0 {
		t.Error("empty report")
	}
	if err := db.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
}
