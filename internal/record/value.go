// Package record defines the SQL value type and the on-disk encodings for
// table rows, index keys, and index bucket payloads.
package record

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindReal
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "integer"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a single SQL value: NULL, INTEGER, REAL, or TEXT.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

func Null() Value               { return Value{kind: KindNull} }
func Int(v int64) Value         { return Value{kind: KindInt, i: v} }
func Real(v float64) Value      { return Value{kind: KindReal, f: v} }
func Text(v string) Value       { return Value{kind: KindText, s: v} }
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) Int() int64      { return v.i }
func (v Value) Real() float64   { return v.f }
func (v Value) Text() string    { return v.s }

// Float returns the value as a float64 for numeric values.
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// IsNumeric reports whether the value is an INTEGER or REAL.
func (v Value) IsNumeric() bool {
	return v.kind == KindInt || v.kind == KindReal
}

// Truthy reports whether the value counts as true in a boolean context.
// NULL is not truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindInt:
		return v.i != 0
	case KindReal:
		return v.f != 0
	case KindText:
		return v.s != ""
	}
	return false
}

// String renders the value for display; TEXT is returned verbatim.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	}
	return "?"
}

// Equal compares two values for SQL equality, with integer/real coercion.
// NULLs are equal only to NULL (three-valued logic is applied by callers).
func Equal(a, b Value) bool {
	switch {
	case a.kind == KindNull || b.kind == KindNull:
		return a.kind == b.kind
	case a.kind == KindText || b.kind == KindText:
		return a.kind == b.kind && a.s == b.s
	default:
		return a.Float() == b.Float()
	}
}

// Compare orders two non-NULL comparable values. It returns an error for
// text/number comparisons, mirroring a type mismatch in a comparison operator.
func Compare(a, b Value) (int, error) {
	if a.kind == KindText && b.kind == KindText {
		return strings.Compare(a.s, b.s), nil
	}
	if a.IsNumeric() && b.IsNumeric() {
		af, bf := a.Float(), b.Float()
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, fmt.Errorf("cannot compare %s with %s", a.kind, b.kind)
}

// SortCompare imposes the total ordering used by ORDER BY and sorted index
// output: NULL < numbers < TEXT, numbers among themselves, text bytewise.
func SortCompare(a, b Value) int {
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0: // both NULL
		return 0
	case 1: // both numeric
		af, bf := a.Float(), b.Float()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	default: // both text
		return strings.Compare(a.s, b.s)
	}
}

func sortRank(v Value) int {
	switch v.kind {
	case KindNull:
		return 0
	case KindInt, KindReal:
		return 1
	default:
		return 2
	}
}

// Row is an ordered list of values.
type Row []Value
