package exec

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/record"
)

// scalarFunc computes a scalar function over evaluated arguments.
// numArgs < 0 means variadic with at least -numArgs-1 arguments.
type scalarFunc struct {
	name    string
	numArgs int
	fn      func(args []record.Value) (record.Value, error)
}

var scalarRegistry = buildScalarRegistry()

func buildScalarRegistry() map[string]*scalarFunc {
	r := make(map[string]*scalarFunc)
	register := func(name string, numArgs int, fn func([]record.Value) (record.Value, error)) {
		r[name] = &scalarFunc{name: name, numArgs: numArgs, fn: fn}
	}

	register("LENGTH", 1, lengthFunc)
	register("UPPER", 1, upperFunc)
	register("LOWER", 1, lowerFunc)
	register("TYPEOF", 1, typeofFunc)
	register("ABS", 1, absFunc)
	register("COALESCE", -2, coalesceFunc)
	register("IFNULL", 2, coalesceFunc)
	register("NULLIF", 2, nullifFunc)
	register("SUBSTR", -3, substrFunc)
	register("INSTR", 2, instrFunc)
	register("REPLACE", 3, replaceFunc)
	register("TRIM", -2, trimFunc)
	register("LTRIM", -2, ltrimFunc)
	register("RTRIM", -2, rtrimFunc)
	register("MIN", -2, minFunc)
	register("MAX", -2, maxFunc)
	register("HEX", 1, hexFunc)
	register("QUOTE", 1, quoteFunc)
	return r
}

// IsScalarFunction reports whether name dispatches to a scalar function.
func IsScalarFunction(name string) bool {
	_, ok := scalarRegistry[strings.ToUpper(name)]
	return ok
}

func callScalar(call *parser.FuncCall, row *Row) (record.Value, error) {
	fn, ok := scalarRegistry[call.Name]
	if !ok {
		return record.Null(), fmt.Errorf("%w: %s", ErrUnknownFunction, call.Name)
	}
	if call.Star {
		return record.Null(), fmt.Errorf("%s(*) is not a scalar invocation", call.Name)
	}
	if fn.numArgs >= 0 && len(call.Args) != fn.numArgs {
		return record.Null(), fmt.Errorf("wrong number of arguments to function %s()", call.Name)
	}
	if fn.numArgs < 0 && len(call.Args) < -fn.numArgs-1 {
		return record.Null(), fmt.Errorf("wrong number of arguments to function %s()", call.Name)
	}

	args := make([]record.Value, 0, len(call.Args))
	for _, arg := range call.Args {
		v, err := Eval(arg, row)
		if err != nil {
			return record.Null(), err
		}
		args = append(args, v)
	}
	return fn.fn(args)
}

func lengthFunc(args []record.Value) (record.Value, error) {
	v := args[0]
	switch v.Kind() {
	case record.KindNull:
		return record.Null(), nil
	case record.KindText:
		return record.Int(int64(len([]rune(v.Text())))), nil
	default:
		return record.Int(int64(len(v.String()))), nil
	}
}

func upperFunc(args []record.Value) (record.Value, error) {
	if args[0].IsNull() {
		return record.Null(), nil
	}
	return record.Text(strings.ToUpper(args[0].String())), nil
}

func lowerFunc(args []record.Value) (record.Value, error) {
	if args[0].IsNull() {
		return record.Null(), nil
	}
	return record.Text(strings.ToLower(args[0].String())), nil
}

func typeofFunc(args []record.Value) (record.Value, error) {
	return record.Text(args[0].Kind().String()), nil
}

func absFunc(args []record.Value) (record.Value, error) {
	v := args[0]
	switch v.Kind() {
	case record.KindNull:
		return record.Null(), nil
	case record.KindInt:
		if n := v.Int(); n < 0 {
			return record.Int(-n), nil
		}
		return v, nil
	case record.KindReal:
		if f := v.Real(); f < 0 {
			return record.Real(-f), nil
		}
		return v, nil
	default:
		return record.Null(), fmt.Errorf("%w: ABS requires a numeric argument", ErrType)
	}
}

func coalesceFunc(args []record.Value) (record.Value, error) {
	for _, v := range args {
		if !v.IsNull() {
			return v, nil
		}
	}
	return record.Null(), nil
}

func nullifFunc(args []record.Value) (record.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return args[0], nil
	}
	if record.Equal(args[0], args[1]) {
		return record.Null(), nil
	}
	return args[0], nil
}

// substrFunc is SUBSTR(s, start[, length]) with SQLite's 1-based indexing
// and negative-start counting from the end.
func substrFunc(args []record.Value) (record.Value, error) {
	if len(args) > 3 {
		return record.Null(), fmt.Errorf("wrong number of arguments to function SUBSTR()")
	}
	if args[0].IsNull() || args[1].IsNull() {
		return record.Null(), nil
	}
	runes := []rune(args[0].String())
	n := int64(len(runes))

	if !args[1].IsNumeric() {
		return record.Null(), fmt.Errorf("%w: SUBSTR start must be numeric", ErrType)
	}
	start := args[1].Int()
	if args[1].Kind() == record.KindReal {
		start = int64(args[1].Real())
	}

	length := n + 1
	if len(args) == 3 {
		if args[2].IsNull() {
			return record.Null(), nil
		}
		if !args[2].IsNumeric() {
			return record.Null(), fmt.Errorf("%w: SUBSTR length must be numeric", ErrType)
		}
		length = args[2].Int()
		if args[2].Kind() == record.KindReal {
			length = int64(args[2].Real())
		}
	}

	if start < 0 {
		start = n + start + 1
		if start < 1 {
			length += start - 1
			start = 1
		}
	} else if start == 0 {
		length--
		start = 1
	}
	if length < 0 {
		length = 0
	}

	from := start - 1
	if from < 0 {
		from = 0
	}
	to := from + length
	if from > n {
		from = n
	}
	if to > n {
		to = n
	}
	if to < from {
		to = from
	}
	return record.Text(string(runes[from:to])), nil
}

func instrFunc(args []record.Value) (record.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return record.Null(), nil
	}
	haystack := args[0].String()
	needle := args[1].String()
	idx := strings.Index(haystack, needle)
	if idx < 0 {
		return record.Int(0), nil
	}
	return record.Int(int64(len([]rune(haystack[:idx]))) + 1), nil
}

func replaceFunc(args []record.Value) (record.Value, error) {
	for _, v := range args {
		if v.IsNull() {
			return record.Null(), nil
		}
	}
	from := args[1].String()
	if from == "" {
		return record.Text(args[0].String()), nil
	}
	return record.Text(strings.ReplaceAll(args[0].String(), from, args[2].String())), nil
}

func trimFunc(args []record.Value) (record.Value, error) {
	return trimCommon(args, strings.Trim)
}

func ltrimFunc(args []record.Value) (record.Value, error) {
	return trimCommon(args, strings.TrimLeft)
}

func rtrimFunc(args []record.Value) (record.Value, error) {
	return trimCommon(args, strings.TrimRight)
}

func trimCommon(args []record.Value, trim func(string, string) string) (record.Value, error) {
	if len(args) > 2 {
		return record.Null(), fmt.Errorf("wrong number of arguments to trim function")
	}
	if args[0].IsNull() {
		return record.Null(), nil
	}
	cutset := " "
	if len(args) == 2 {
		if args[1].IsNull() {
			return record.Null(), nil
		}
		cutset = args[1].String()
	}
	return record.Text(trim(args[0].String(), cutset)), nil
}

// minFunc is the multi-argument scalar MIN; the single-argument aggregate
// form is handled by the aggregation operators.
func minFunc(args []record.Value) (record.Value, error) {
	return extremum(args, func(c int) bool { return c < 0 })
}

func maxFunc(args []record.Value) (record.Value, error) {
	return extremum(args, func(c int) bool { return c > 0 })
}

func extremum(args []record.Value, better func(int) bool) (record.Value, error) {
	best := args[0]
	for _, v := range args {
		if v.IsNull() {
			return record.Null(), nil
		}
	}
	for _, v := range args[1:] {
		c, err := record.Compare(v, best)
		if err != nil {
			return record.Null(), fmt.Errorf("%w: %v", ErrType, err)
		}
		if better(c) {
			best = v
		}
	}
	return best, nil
}

func hexFunc(args []record.Value) (record.Value, error) {
	if args[0].IsNull() {
		return record.Text(""), nil
	}
	src := []byte(args[0].String())
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, len(src)*2)
	for _, b := range src {
		out = append(out, digits[b>>4], digits[b&0x0f])
	}
	return record.Text(string(out)), nil
}

func quoteFunc(args []record.Value) (record.Value, error) {
	v := args[0]
	switch v.Kind() {
	case record.KindNull:
		return record.Text("NULL"), nil
	case record.KindText:
		return record.Text("'" + strings.ReplaceAll(v.Text(), "'", "''") + "'"), nil
	default:
		return record.Text(v.String()), nil
	}
}
