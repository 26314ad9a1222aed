package exec

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/record"
)

// IsAggregateCall reports whether a function call is an aggregate
// invocation: COUNT, SUM, AVG, or the single-argument forms of MIN and MAX.
func IsAggregateCall(call *parser.FuncCall) bool {
	switch call.Name {
	case "COUNT":
		return true
	case "SUM", "AVG":
		return len(call.Args) == 1 || call.Star
	case "MIN", "MAX":
		return len(call.Args) == 1 && !call.Star
	}
	return false
}

// CollectAggregates gathers the aggregate calls in an expression tree.
// Aggregates do not nest; traversal stops at an aggregate call.
func CollectAggregates(expr parser.Expression, out []*parser.FuncCall) []*parser.FuncCall {
	switch e := expr.(type) {
	case *parser.FuncCall:
		if IsAggregateCall(e) {
			return append(out, e)
		}
		for _, arg := range e.Args {
			out = CollectAggregates(arg, out)
		}
	case *parser.UnaryExpr:
		out = CollectAggregates(e.Expr, out)
	case *parser.BinaryExpr:
		out = CollectAggregates(e.Left, out)
		out = CollectAggregates(e.Right, out)
	case *parser.IsNullExpr:
		out = CollectAggregates(e.Expr, out)
	case *parser.BetweenExpr:
		out = CollectAggregates(e.Expr, out)
		out = CollectAggregates(e.Low, out)
		out = CollectAggregates(e.High, out)
	case *parser.InExpr:
		out = CollectAggregates(e.Expr, out)
		for _, item := range e.List {
			out = CollectAggregates(item, out)
		}
	}
	return out
}

// accumulator folds one aggregate over a group's rows.
type accumulator struct {
	call *parser.FuncCall

	count  int64
	sumI   int64
	sumF   float64
	allInt bool
	seen   bool
	best   record.Value
}

func newAccumulator(call *parser.FuncCall) *accumulator {
	return &accumulator{call: call, allInt: true}
}

func (a *accumulator) add(row *Row) error {
	if a.call.Star {
		// COUNT(*) counts rows; SUM(*) and friends are rejected at
		// planning time.
		a.count++
		return nil
	}
	v, err := Eval(a.call.Args[0], row)
	if err != nil {
		return err
	}
	if v.IsNull() {
		return nil
	}

	switch a.call.Name {
	case "COUNT":
		a.count++
	case "SUM", "AVG":
		if !v.IsNumeric() {
			return fmt.Errorf("%w: %s over non-numeric value", ErrType, a.call.Name)
		}
		if v.Kind() != record.KindInt {
			a.allInt = false
		}
		a.sumI += v.Int()
		a.sumF += v.Float()
		a.count++
		a.seen = true
	case "MIN", "MAX":
		if !a.seen {
			a.best = v
			a.seen = true
			return nil
		}
		c := record.SortCompare(v, a.best)
		if (a.call.Name == "MIN" && c < 0) || (a.call.Name == "MAX" && c > 0) {
			a.best = v
		}
	}
	return nil
}

func (a *accumulator) result() record.Value {
	switch a.call.Name {
	case "COUNT":
		return record.Int(a.count)
	case "SUM":
		if !a.seen {
			return record.Null()
		}
		if a.allInt {
			return record.Int(a.sumI)
		}
		return record.Real(a.sumF)
	case "AVG":
		if !a.seen {
			return record.Null()
		}
		return record.Real(a.sumF / float64(a.count))
	case "MIN", "MAX":
		if !a.seen {
			return record.Null()
		}
		return a.best
	}
	return record.Null()
}

// GroupAggregate groups rows by the group-key expressions, folds the
// aggregates per group, applies HAVING, and emits one representative row per
// surviving group with the aggregate results attached.
type GroupAggregate struct {
	Child      Operator
	GroupExprs []parser.Expression
	Aggs       []*parser.FuncCall
	Having     parser.Expression

	groups []*groupState
	pos    int
}

type groupState struct {
	rep  *Row
	accs []*accumulator
}

func (g *GroupAggregate) Open() error {
	if err := g.Child.Open(); err != nil {
		return err
	}
	g.groups = nil
	g.pos = 0

	index := make(map[string]*groupState)
	for {
		row, err := g.Child.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}

		keyVals := make(record.Row, len(g.GroupExprs))
		for i, expr := range g.GroupExprs {
			v, err := Eval(expr, row)
			if err != nil {
				return err
			}
			keyVals[i] = v
		}
		key := string(record.EncodeValues(keyVals))

		state, ok := index[key]
		if !ok {
			state = &groupState{rep: row}
			for _, call := range g.Aggs {
				state.accs = append(state.accs, newAccumulator(call))
			}
			index[key] = state
			g.groups = append(g.groups, state)
		}
		for _, acc := range state.accs {
			if err := acc.add(row); err != nil {
				return err
			}
		}
	}

	// Resolve aggregates and apply HAVING.
	kept := g.groups[:0]
	for _, state := range g.groups {
		aggs := make(map[*parser.FuncCall]record.Value, len(state.accs))
		for _, acc := range state.accs {
			aggs[acc.call] = acc.result()
		}
		state.rep.Aggs = aggs

		if g.Having != nil {
			v, err := Eval(g.Having, state.rep)
			if err != nil {
				return err
			}
			if v.IsNull() || !v.Truthy() {
				continue
			}
		}
		kept = append(kept, state)
	}
	g.groups = kept
	return nil
}

func (g *GroupAggregate) Next() (*Row, error) {
	if g.pos >= len(g.groups) {
		return nil, nil
	}
	row := g.groups[g.pos].rep
	g.pos++
	return row, nil
}

func (g *GroupAggregate) Close() error {
	g.groups = nil
	return g.Child.Close()
}

// ScalarAggregate folds aggregates over the whole input and emits exactly
// one row, even for empty input (COUNT = 0, other aggregates NULL). HAVING,
// when present, can suppress that row.
type ScalarAggregate struct {
	Child  Operator
	Aggs   []*parser.FuncCall
	Having parser.Expression

	// Shape declares the slots of the child rows so column references in
	// projections resolve to NULL on empty input.
	Shape []Slot

	out  *Row
	done bool
}

func (s *ScalarAggregate) Open() error {
	if err := s.Child.Open(); err != nil {
		return err
	}
	s.done = false

	accs := make([]*accumulator, 0, len(s.Aggs))
	for _, call := range s.Aggs {
		accs = append(accs, newAccumulator(call))
	}

	var rep *Row
	for {
		row, err := s.Child.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		if rep == nil {
			rep = row
		}
		for _, acc := range accs {
			if err := acc.add(row); err != nil {
				return err
			}
		}
	}

	if rep == nil {
		slots := make([]Slot, len(s.Shape))
		copy(slots, s.Shape)
		for i := range slots {
			slots[i].Null = true
			slots[i].Values = nil
		}
		rep = &Row{Slots: slots}
	}

	aggs := make(map[*parser.FuncCall]record.Value, len(accs))
	for _, acc := range accs {
		aggs[acc.call] = acc.result()
	}
	rep.Aggs = aggs

	if s.Having != nil {
		v, err := Eval(s.Having, rep)
		if err != nil {
			return err
		}
		if v.IsNull() || !v.Truthy() {
			s.done = true
			return nil
		}
	}
	s.out = rep
	return nil
}

func (s *ScalarAggregate) Next() (*Row, error) {
	if s.done || s.out == nil {
		return nil, nil
	}
	row := s.out
	s.out = nil
	return row, nil
}

func (s *ScalarAggregate) Close() error { return s.Child.Close() }

// ValidateAggregates rejects malformed aggregate invocations: only COUNT
// accepts the * form, and every other aggregate takes exactly one argument.
func ValidateAggregates(aggs []*parser.FuncCall) error {
	for _, call := range aggs {
		if call.Star {
			if call.Name != "COUNT" {
				return fmt.Errorf("%s(*) is not a valid aggregate", call.Name)
			}
			continue
		}
		if len(call.Args) != 1 {
			return fmt.Errorf("wrong number of arguments to aggregate %s()", call.Name)
		}
	}
	return nil
}

// ValidateGroupBy rejects aggregate calls inside GROUP BY expressions.
func ValidateGroupBy(groupExprs []parser.Expression) error {
	for _, expr := range groupExprs {
		if aggs := CollectAggregates(expr, nil); len(aggs) > 0 {
			return fmt.Errorf("aggregate functions are not allowed in GROUP BY (%s)",
				strings.ToUpper(aggs[0].Name))
		}
	}
	return nil
}
