package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/FocuswithJustin/petra/internal/btree"
	"github.com/FocuswithJustin/petra/internal/exec"
	"github.com/FocuswithJustin/petra/internal/pager"
	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/record"
	"github.com/FocuswithJustin/petra/internal/schema"
)

// Kind classifies engine errors.
type Kind string

const (
	KindParse       Kind = "ParseError"
	KindSchema      Kind = "SchemaError"
	KindConstraint  Kind = "ConstraintViolation"
	KindType        Kind = "TypeError"
	KindIO          Kind = "IoError"
	KindCorruption  Kind = "CorruptionError"
	KindTransaction Kind = "TransactionError"
	KindUnsupported Kind = "Unsupported"
)

// Error is the typed error surfaced by the engine.
type Error struct {
	Kind    Kind
	Message string

	// Offset is the byte offset for parse errors, -1 otherwise.
	Offset int

	cause error
}

func (e *Error) Error() string {
	if e.Kind == KindParse && e.Offset >= 0 {
		return fmt.Sprintf("%s at byte %d: %s", e.Kind, e.Offset, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Offset: -1}
}

// uniqueViolation builds the canonical UNIQUE failure message.
func uniqueViolation(table string, columns []string) *Error {
	qualified := make([]string, len(columns))
	for i, c := range columns {
		qualified[i] = table + "." + c
	}
	return newError(KindConstraint, "UNIQUE constraint failed: %s", strings.Join(qualified, ", "))
}

// wrapError classifies an arbitrary error from a lower layer.
func wrapError(err error) *Error {
	if err == nil {
		return nil
	}
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr
	}

	var parseErr *parser.ParseError
	if errors.As(err, &parseErr) {
		return &Error{Kind: KindParse, Message: parseErr.Message, Offset: parseErr.Offset, cause: err}
	}

	kind := KindIO
	switch {
	case errors.Is(err, exec.ErrType):
		kind = KindType
	case errors.Is(err, exec.ErrUnknownColumn), errors.Is(err, exec.ErrUnknownFunction):
		kind = KindSchema
	case errors.Is(err, btree.ErrCorrupt),
		errors.Is(err, record.ErrBadRow),
		errors.Is(err, record.ErrBadBucket),
		errors.Is(err, schema.ErrBadEntry),
		errors.Is(err, pager.ErrBadMagic),
		errors.Is(err, pager.ErrBadVersion),
		errors.Is(err, pager.ErrBadWalHeader),
		errors.Is(err, pager.ErrDoubleFree),
		errors.Is(err, pager.ErrInvalidPageNum):
		kind = KindCorruption
	case errors.Is(err, schema.ErrExists):
		kind = KindSchema
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		kind = KindIO
	}
	return &Error{Kind: kind, Message: err.Error(), Offset: -1, cause: err}
}
