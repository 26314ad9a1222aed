// Package petra is a single-file embedded relational database engine with a
// SQLite-compatible subset of SQL: tables, secondary (optionally UNIQUE,
// multi-column) indexes, SELECT with expressions, joins, grouping and
// ordering, and explicit transactions with durable commit and crash
// recovery through a write-ahead log.
//
//	db, err := petra.Open("app.db")
//	...
//	db.Exec(`CREATE TABLE users (id INT, name TEXT)`)
//	db.Exec(`INSERT INTO users VALUES (1, 'alice')`)
//	res, err := db.Exec(`SELECT name FROM users WHERE id = 1`)
package petra

import (
	"io"

	"github.com/FocuswithJustin/petra/internal/engine"
	"github.com/FocuswithJustin/petra/internal/record"
)

// ValueKind identifies the type of a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindReal
	KindText
)

// Value is a single SQL result value.
type Value struct {
	Kind ValueKind
	Int  int64
	Real float64
	Text string
}

// IsNull reports whether the value is NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// ResultKind tags what a Result acknowledges.
type ResultKind string

const (
	ResultDDL    ResultKind = "ddl"
	ResultWrite  ResultKind = "write"
	ResultSelect ResultKind = "select"
	ResultTxn    ResultKind = "txn"
)

// Result is the statement result envelope.
type Result struct {
	// Kind is the statement class.
	Kind ResultKind

	// Statement is the specific acknowledgement (e.g. "create_table").
	Statement string

	// RowsAffected is set for INSERT, UPDATE, and DELETE.
	RowsAffected uint64

	// Columns and Rows are set for SELECT.
	Columns []string
	Rows    [][]Value
}

// DB is a single-connection database handle. It is not safe for concurrent
// use; the engine is single-writer by design.
type DB struct {
	engine *engine.DB
}

// Open opens or creates the database file at path, replaying any committed
// write-ahead log left behind by a crash.
func Open(path string) (*DB, error) {
	e, err := engine.Open(path)
	if err != nil {
		return nil, err
	}
	return &DB{engine: e}, nil
}

// Close closes the database. Uncommitted changes are discarded.
func (db *DB) Close() error {
	return db.engine.Close()
}

// Exec parses and executes one or more semicolon-separated SQL statements
// and returns the result of the last one.
func (db *DB) Exec(sql string) (*Result, error) {
	res, err := db.engine.Execute(sql)
	if err != nil {
		return nil, err
	}
	return convertResult(res), nil
}

// Checkpoint folds the write-ahead log into the database file.
func (db *DB) Checkpoint() error {
	return db.engine.Checkpoint()
}

// CheckIntegrity audits page reachability, freelist consistency, and
// per-object content digests.
func (db *DB) CheckIntegrity() (*engine.IntegrityReport, error) {
	return db.engine.CheckIntegrity()
}

// InTransaction reports whether an explicit transaction is open.
func (db *DB) InTransaction() bool {
	return db.engine.InTransaction()
}

// DumpSQL writes the database as replayable SQL text.
func (db *DB) DumpSQL(w io.Writer) error {
	return db.engine.DumpSQL(w)
}

// TableNames returns the names of all tables, sorted.
func (db *DB) TableNames() []string {
	return db.engine.TableNames()
}

func convertResult(res *engine.Result) *Result {
	out := &Result{Statement: string(res.Kind), RowsAffected: res.RowsAffected}
	switch res.Kind {
	case engine.ResultSelect:
		out.Kind = ResultSelect
		out.Columns = res.Columns
		out.Rows = make([][]Value, len(res.Rows))
		for i, row := range res.Rows {
			converted := make([]Value, len(row))
			for j, v := range row {
				converted[j] = convertValue(v)
			}
			out.Rows[i] = converted
		}
	case engine.ResultInsert, engine.ResultUpdate, engine.ResultDelete:
		out.Kind = ResultWrite
	case engine.ResultBegin, engine.ResultCommit, engine.ResultRollback:
		out.Kind = ResultTxn
	default:
		out.Kind = ResultDDL
	}
	return out
}

func convertValue(v record.Value) Value {
	switch v.Kind() {
	case record.KindInt:
		return Value{Kind: KindInt, Int: v.Int()}
	case record.KindReal:
		return Value{Kind: KindReal, Real: v.Real()}
	case record.KindText:
		return Value{Kind: KindText, Text: v.Text()}
	default:
		return Value{Kind: KindNull}
	}
}
