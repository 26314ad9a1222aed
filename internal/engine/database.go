// Package engine ties the storage, planner, and executor layers together:
// it dispatches parsed statements, maintains the in-memory catalog, drives
// index maintenance, and controls transaction boundaries.
package engine

import (
	"github.com/FocuswithJustin/petra/internal/pager"
	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/schema"
)

// DB is a single-connection database handle.
type DB struct {
	pager    *pager.Pager
	catalog  *catalog
	path     string
	poolSize int

	// inTxn is true between an explicit BEGIN and COMMIT/ROLLBACK.
	// Outside a transaction every write statement autocommits.
	inTxn bool
}

// Open opens or creates a database file, running WAL recovery and loading
// the catalog.
func Open(path string) (*DB, error) {
	return OpenWithPoolSize(path, pager.DefaultPoolSize)
}

// OpenWithPoolSize opens a database with a specific buffer pool capacity.
func OpenWithPoolSize(path string, poolSize int) (*DB, error) {
	p, err := pager.OpenWithPoolSize(path, poolSize)
	if err != nil {
		return nil, wrapError(err)
	}

	// First open stamps the schema root.
	if p.Header().SchemaRoot == 0 {
		if _, err := schema.Initialize(p); err != nil {
			p.Close()
			return nil, wrapError(err)
		}
		if err := p.Commit(); err != nil {
			p.Close()
			return nil, wrapError(err)
		}
	}

	cat, err := loadCatalog(p)
	if err != nil {
		p.Close()
		return nil, wrapError(err)
	}
	return &DB{pager: p, catalog: cat, path: path, poolSize: poolSize}, nil
}

// Close closes the database. Uncommitted changes are discarded.
func (db *DB) Close() error {
	if db.pager == nil {
		return nil
	}
	err := db.pager.Close()
	db.pager = nil
	if err != nil {
		return wrapError(err)
	}
	return nil
}

// Pager exposes the underlying pager to maintenance tooling.
func (db *DB) Pager() *pager.Pager { return db.pager }

// InTransaction reports whether an explicit transaction is open.
func (db *DB) InTransaction() bool { return db.inTxn }

// Execute parses and runs a semicolon-separated SQL string, returning the
// result of the last statement.
func (db *DB) Execute(sql string) (*Result, error) {
	stmts, err := parser.ParseAll(sql)
	if err != nil {
		return nil, wrapError(err)
	}
	if len(stmts) == 0 {
		return nil, newError(KindParse, "empty statement")
	}
	var result *Result
	for _, stmt := range stmts {
		result, err = db.ExecuteStmt(stmt)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ExecuteStmt runs a single parsed statement.
func (db *DB) ExecuteStmt(stmt parser.Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *parser.CreateTableStmt:
		return db.runWrite(func() (*Result, error) { return db.executeCreateTable(s) })
	case *parser.DropTableStmt:
		return db.runWrite(func() (*Result, error) { return db.executeDropTable(s) })
	case *parser.CreateIndexStmt:
		return db.runWrite(func() (*Result, error) { return db.executeCreateIndex(s) })
	case *parser.DropIndexStmt:
		return db.runWrite(func() (*Result, error) { return db.executeDropIndex(s) })
	case *parser.InsertStmt:
		return db.runWrite(func() (*Result, error) { return db.executeInsert(s) })
	case *parser.UpdateStmt:
		return db.runWrite(func() (*Result, error) { return db.executeUpdate(s) })
	case *parser.DeleteStmt:
		return db.runWrite(func() (*Result, error) { return db.executeDelete(s) })
	case *parser.SelectStmt:
		result, err := db.executeSelect(s)
		if err != nil {
			return nil, wrapError(err)
		}
		return result, nil
	case *parser.BeginStmt:
		return db.executeBegin()
	case *parser.CommitStmt:
		return db.executeCommit()
	case *parser.RollbackStmt:
		return db.executeRollback()
	}
	return nil, newError(KindUnsupported, "unsupported statement %T", stmt)
}

// runWrite runs a write statement under the statement envelope: a failure
// aborts all buffered changes (the pager is reopened, discarding dirty and
// spilled pages, and the catalog reloaded from disk); a success in
// autocommit mode commits the pager.
func (db *DB) runWrite(fn func() (*Result, error)) (*Result, error) {
	result, err := fn()
	if err != nil {
		if abortErr := db.abort(); abortErr != nil {
			return nil, abortErr
		}
		return nil, wrapError(err)
	}
	if !db.inTxn {
		if err := db.pager.Commit(); err != nil {
			if abortErr := db.abort(); abortErr != nil {
				return nil, abortErr
			}
			return nil, wrapError(err)
		}
	}
	return result, nil
}

// abort discards every buffered page by reopening the pager against the
// last committed state, then reloads the catalog from disk.
func (db *DB) abort() error {
	if err := db.pager.Close(); err != nil {
		db.pager = nil
		return wrapError(err)
	}
	p, err := pager.OpenWithPoolSize(db.path, db.poolSize)
	if err != nil {
		db.pager = nil
		return wrapError(err)
	}
	db.pager = p
	cat, err := loadCatalog(p)
	if err != nil {
		return wrapError(err)
	}
	db.catalog = cat
	return nil
}

func (db *DB) executeBegin() (*Result, error) {
	if db.inTxn {
		return nil, newError(KindTransaction, "cannot start a transaction within a transaction")
	}
	db.inTxn = true
	return &Result{Kind: ResultBegin}, nil
}

func (db *DB) executeCommit() (*Result, error) {
	if !db.inTxn {
		return nil, newError(KindTransaction, "cannot commit - no transaction is active")
	}
	if err := db.pager.Commit(); err != nil {
		if abortErr := db.abort(); abortErr != nil {
			return nil, abortErr
		}
		db.inTxn = false
		return nil, wrapError(err)
	}
	db.inTxn = false
	return &Result{Kind: ResultCommit}, nil
}

func (db *DB) executeRollback() (*Result, error) {
	if !db.inTxn {
		return nil, newError(KindTransaction, "cannot rollback - no transaction is active")
	}
	if err := db.abort(); err != nil {
		db.inTxn = false
		return nil, err
	}
	db.inTxn = false
	return &Result{Kind: ResultRollback}, nil
}

// Checkpoint commits pending work and folds the WAL into the database file.
func (db *DB) Checkpoint() error {
	if db.inTxn {
		return newError(KindTransaction, "cannot checkpoint inside a transaction")
	}
	if err := db.pager.Checkpoint(); err != nil {
		return wrapError(err)
	}
	return nil
}
