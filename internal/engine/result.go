package engine

import (
	"github.com/FocuswithJustin/petra/internal/record"
)

// ResultKind tags the statement class a Result acknowledges.
type ResultKind string

const (
	ResultCreateTable ResultKind = "create_table"
	ResultDropTable   ResultKind = "drop_table"
	ResultCreateIndex ResultKind = "create_index"
	ResultDropIndex   ResultKind = "drop_index"
	ResultInsert      ResultKind = "insert"
	ResultUpdate      ResultKind = "update"
	ResultDelete      ResultKind = "delete"
	ResultSelect      ResultKind = "select"
	ResultBegin       ResultKind = "begin"
	ResultCommit      ResultKind = "commit"
	ResultRollback    ResultKind = "rollback"
)

// Result is the engine's statement result envelope. DDL and transaction
// statements carry only Kind; DML carries RowsAffected; SELECT carries
// Columns and Rows.
type Result struct {
	Kind         ResultKind
	RowsAffected uint64
	Columns      []string
	Rows         [][]record.Value
}
