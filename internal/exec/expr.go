package exec

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/record"
)

var (
	ErrType            = errors.New("type error")
	ErrUnknownColumn   = errors.New("no such column")
	ErrUnknownFunction = errors.New("no such function")
)

// Eval evaluates an expression against a row. row may be nil for constant
// expressions.
func Eval(expr parser.Expression, row *Row) (record.Value, error) {
	switch e := expr.(type) {
	case *parser.IntegerLit:
		return record.Int(e.Value), nil
	case *parser.FloatLit:
		return record.Real(e.Value), nil
	case *parser.StringLit:
		return record.Text(e.Value), nil
	case *parser.NullLit:
		return record.Null(), nil

	case *parser.ColumnRef:
		if row == nil {
			return record.Null(), fmt.Errorf("%w: %s (no row in scope)", ErrUnknownColumn, e.Column)
		}
		v, ok, err := row.lookupColumn(e.Table, e.Column)
		if err != nil {
			return record.Null(), err
		}
		if !ok {
			if e.Table != "" {
				return record.Null(), fmt.Errorf("%w: %s.%s", ErrUnknownColumn, e.Table, e.Column)
			}
			return record.Null(), fmt.Errorf("%w: %s", ErrUnknownColumn, e.Column)
		}
		return v, nil

	case *parser.UnaryExpr:
		v, err := Eval(e.Expr, row)
		if err != nil {
			return record.Null(), err
		}
		switch e.Op {
		case parser.UnaryNeg:
			switch v.Kind() {
			case record.KindNull:
				return record.Null(), nil
			case record.KindInt:
				return record.Int(-v.Int()), nil
			case record.KindReal:
				return record.Real(-v.Real()), nil
			default:
				return record.Null(), fmt.Errorf("%w: cannot negate %s", ErrType, v.Kind())
			}
		case parser.UnaryNot:
			if v.IsNull() {
				return record.Null(), nil
			}
			return record.Bool(!v.Truthy()), nil
		}
		return record.Null(), fmt.Errorf("unknown unary operator")

	case *parser.BinaryExpr:
		return evalBinary(e, row)

	case *parser.IsNullExpr:
		v, err := Eval(e.Expr, row)
		if err != nil {
			return record.Null(), err
		}
		return record.Bool(v.IsNull() != e.Negated), nil

	case *parser.BetweenExpr:
		v, err := Eval(e.Expr, row)
		if err != nil {
			return record.Null(), err
		}
		low, err := Eval(e.Low, row)
		if err != nil {
			return record.Null(), err
		}
		high, err := Eval(e.High, row)
		if err != nil {
			return record.Null(), err
		}
		geLow, err := compareTruth(v, low, func(c int) bool { return c >= 0 })
		if err != nil {
			return record.Null(), err
		}
		leHigh, err := compareTruth(v, high, func(c int) bool { return c <= 0 })
		if err != nil {
			return record.Null(), err
		}
		result := and3(geLow, leHigh)
		if e.Negated {
			result = not3(result)
		}
		return truth3Value(result), nil

	case *parser.InExpr:
		v, err := Eval(e.Expr, row)
		if err != nil {
			return record.Null(), err
		}
		sawNull := v.IsNull()
		found := false
		for _, item := range e.List {
			iv, err := Eval(item, row)
			if err != nil {
				return record.Null(), err
			}
			if iv.IsNull() {
				sawNull = true
				continue
			}
			if !v.IsNull() && record.Equal(v, iv) {
				found = true
				break
			}
		}
		switch {
		case found:
			return record.Bool(!e.Negated), nil
		case sawNull:
			return record.Null(), nil
		default:
			return record.Bool(e.Negated), nil
		}

	case *parser.FuncCall:
		if row != nil && row.Aggs != nil {
			if v, ok := row.Aggs[e]; ok {
				return v, nil
			}
			if src := row.Source; src != nil && src.Aggs != nil {
				if v, ok := src.Aggs[e]; ok {
					return v, nil
				}
			}
		}
		return callScalar(e, row)
	}

	return record.Null(), fmt.Errorf("unsupported expression %T", expr)
}

func evalBinary(e *parser.BinaryExpr, row *Row) (record.Value, error) {
	// AND/OR are three-valued with short-circuit.
	switch e.Op {
	case parser.OpAnd:
		l, err := Eval(e.Left, row)
		if err != nil {
			return record.Null(), err
		}
		if !l.IsNull() && !l.Truthy() {
			return record.Bool(false), nil
		}
		r, err := Eval(e.Right, row)
		if err != nil {
			return record.Null(), err
		}
		return truth3Value(and3(valueTruth(l), valueTruth(r))), nil
	case parser.OpOr:
		l, err := Eval(e.Left, row)
		if err != nil {
			return record.Null(), err
		}
		if !l.IsNull() && l.Truthy() {
			return record.Bool(true), nil
		}
		r, err := Eval(e.Right, row)
		if err != nil {
			return record.Null(), err
		}
		return truth3Value(or3(valueTruth(l), valueTruth(r))), nil
	}

	l, err := Eval(e.Left, row)
	if err != nil {
		return record.Null(), err
	}
	r, err := Eval(e.Right, row)
	if err != nil {
		return record.Null(), err
	}

	switch e.Op {
	case parser.OpAdd, parser.OpSub, parser.OpMul, parser.OpDiv, parser.OpMod:
		return evalArithmetic(e.Op, l, r)

	case parser.OpEq:
		if l.IsNull() || r.IsNull() {
			return record.Null(), nil
		}
		if err := checkComparable(l, r); err != nil {
			return record.Null(), err
		}
		return record.Bool(record.Equal(l, r)), nil
	case parser.OpNe:
		if l.IsNull() || r.IsNull() {
			return record.Null(), nil
		}
		if err := checkComparable(l, r); err != nil {
			return record.Null(), err
		}
		return record.Bool(!record.Equal(l, r)), nil

	case parser.OpLt, parser.OpLe, parser.OpGt, parser.OpGe:
		if l.IsNull() || r.IsNull() {
			return record.Null(), nil
		}
		c, err := record.Compare(l, r)
		if err != nil {
			return record.Null(), fmt.Errorf("%w: %v", ErrType, err)
		}
		switch e.Op {
		case parser.OpLt:
			return record.Bool(c < 0), nil
		case parser.OpLe:
			return record.Bool(c <= 0), nil
		case parser.OpGt:
			return record.Bool(c > 0), nil
		default:
			return record.Bool(c >= 0), nil
		}

	case parser.OpLike:
		if l.IsNull() || r.IsNull() {
			return record.Null(), nil
		}
		return record.Bool(likeMatch(r.String(), l.String())), nil

	case parser.OpConcat:
		if l.IsNull() || r.IsNull() {
			return record.Null(), nil
		}
		return record.Text(l.String() + r.String()), nil
	}

	return record.Null(), fmt.Errorf("unknown binary operator %v", e.Op)
}

func evalArithmetic(op parser.BinaryOp, l, r record.Value) (record.Value, error) {
	if l.IsNull() || r.IsNull() {
		return record.Null(), nil
	}
	if !l.IsNumeric() || !r.IsNumeric() {
		return record.Null(), fmt.Errorf("%w: %v %s %v", ErrType, l.Kind(), op, r.Kind())
	}

	bothInt := l.Kind() == record.KindInt && r.Kind() == record.KindInt
	if bothInt {
		a, b := l.Int(), r.Int()
		switch op {
		case parser.OpAdd:
			return record.Int(a + b), nil
		case parser.OpSub:
			return record.Int(a - b), nil
		case parser.OpMul:
			return record.Int(a * b), nil
		case parser.OpDiv:
			if b == 0 {
				return record.Null(), nil
			}
			return record.Int(a / b), nil
		case parser.OpMod:
			if b == 0 {
				return record.Null(), nil
			}
			return record.Int(a % b), nil
		}
	}

	a, b := l.Float(), r.Float()
	switch op {
	case parser.OpAdd:
		return record.Real(a + b), nil
	case parser.OpSub:
		return record.Real(a - b), nil
	case parser.OpMul:
		return record.Real(a * b), nil
	case parser.OpDiv:
		if b == 0 {
			return record.Null(), nil
		}
		return record.Real(a / b), nil
	case parser.OpMod:
		if b == 0 {
			return record.Null(), nil
		}
		return record.Real(math.Mod(a, b)), nil
	}
	return record.Null(), fmt.Errorf("unknown arithmetic operator %v", op)
}

func checkComparable(l, r record.Value) error {
	if l.Kind() == record.KindText != (r.Kind() == record.KindText) {
		return fmt.Errorf("%w: cannot compare %s with %s", ErrType, l.Kind(), r.Kind())
	}
	return nil
}

// =============================================================================
// three-valued logic
// =============================================================================

type truth3 int

const (
	truthFalse truth3 = iota
	truthTrue
	truthNull
)

func valueTruth(v record.Value) truth3 {
	if v.IsNull() {
		return truthNull
	}
	if v.Truthy() {
		return truthTrue
	}
	return truthFalse
}

func and3(a, b truth3) truth3 {
	if a == truthFalse || b == truthFalse {
		return truthFalse
	}
	if a == truthNull || b == truthNull {
		return truthNull
	}
	return truthTrue
}

func or3(a, b truth3) truth3 {
	if a == truthTrue || b == truthTrue {
		return truthTrue
	}
	if a == truthNull || b == truthNull {
		return truthNull
	}
	return truthFalse
}

func not3(a truth3) truth3 {
	switch a {
	case truthTrue:
		return truthFalse
	case truthFalse:
		return truthTrue
	}
	return truthNull
}

func truth3Value(t truth3) record.Value {
	switch t {
	case truthTrue:
		return record.Bool(true)
	case truthFalse:
		return record.Bool(false)
	}
	return record.Null()
}

func compareTruth(a, b record.Value, pred func(int) bool) (truth3, error) {
	if a.IsNull() || b.IsNull() {
		return truthNull, nil
	}
	c, err := record.Compare(a, b)
	if err != nil {
		return truthNull, fmt.Errorf("%w: %v", ErrType, err)
	}
	if pred(c) {
		return truthTrue, nil
	}
	return truthFalse, nil
}

// =============================================================================
// LIKE
// =============================================================================

// likeMatch implements SQL LIKE with % (any run, including empty) and _
// (exactly one character), ASCII case-insensitive, via dynamic programming.
func likeMatch(pattern, s string) bool {
	p := strings.ToLower(pattern)
	t := strings.ToLower(s)

	// match[j] reports whether p[:i] matches t[:j].
	match := make([]bool, len(t)+1)
	match[0] = true
	for j := 1; j <= len(t); j++ {
		match[j] = false
	}

	for i := 1; i <= len(p); i++ {
		pc := p[i-1]
		if pc == '%' {
			// %: once a shorter prefix matches, every longer one does.
			for j := 1; j <= len(t); j++ {
				match[j] = match[j] || match[j-1]
			}
			continue
		}
		prevDiag := match[0]
		match[0] = false
		for j := 1; j <= len(t); j++ {
			cur := match[j]
			ok := prevDiag && (pc == '_' || pc == t[j-1])
			match[j] = ok
			prevDiag = cur
		}
	}
	return match[len(t)]
}
