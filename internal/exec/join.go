package exec

import (
	"fmt"

	"github.com/FocuswithJustin/petra/internal/parser"
)

// NestedLoopJoin joins a left pipeline against one right table. The right
// side is either fully materialized (RightAll) or probed per left row
// (Probe, used for indexed equality ON clauses with INNER and LEFT joins).
// Outer joins track matches to emit null-extended rows.
type NestedLoopJoin struct {
	Left Operator
	Kind parser.JoinKind

	// On is the join predicate; nil for CROSS joins.
	On parser.Expression

	// RightShape provides the qualifier and columns of the right table,
	// used to build null-extended slots.
	RightShape Slot

	// RightAll materializes every right-side slot.
	RightAll func() ([]Slot, error)

	// Probe, when set, returns candidate right slots for a left row.
	// Only valid for INNER and LEFT joins.
	Probe func(left *Row) ([]Slot, error)

	// LeftShapes declares the slot shapes of the left pipeline so RIGHT
	// and FULL joins can null-extend the left side.
	LeftShapes []Slot

	rights       []Slot
	rightMatched []bool

	leftRow     *Row
	candidates  []Slot
	candIdx     int
	leftMatched bool

	emitUnmatchedRight bool
	unmatchedIdx       int
}

func (j *NestedLoopJoin) Open() error {
	if j.Probe != nil && (j.Kind == parser.JoinRight || j.Kind == parser.JoinFull) {
		return fmt.Errorf("index probe join cannot drive a %v join", j.Kind)
	}
	if err := j.Left.Open(); err != nil {
		return err
	}
	if j.Probe == nil {
		rights, err := j.RightAll()
		if err != nil {
			return err
		}
		j.rights = rights
		if j.Kind == parser.JoinRight || j.Kind == parser.JoinFull {
			j.rightMatched = make([]bool, len(rights))
		}
	}
	j.leftRow = nil
	j.emitUnmatchedRight = false
	j.unmatchedIdx = 0
	return nil
}

func (j *NestedLoopJoin) Next() (*Row, error) {
	for {
		if j.emitUnmatchedRight {
			for j.unmatchedIdx < len(j.rights) {
				i := j.unmatchedIdx
				j.unmatchedIdx++
				if j.rightMatched[i] {
					continue
				}
				return j.nullExtendedRight(j.rights[i]), nil
			}
			return nil, nil
		}

		if j.leftRow == nil {
			left, err := j.Left.Next()
			if err != nil {
				return nil, err
			}
			if left == nil {
				if j.rightMatched != nil {
					j.emitUnmatchedRight = true
					continue
				}
				return nil, nil
			}
			j.leftRow = left
			j.leftMatched = false
			j.candIdx = 0
			if j.Probe != nil {
				j.candidates, err = j.Probe(left)
				if err != nil {
					return nil, err
				}
			} else {
				j.candidates = j.rights
			}
		}

		for j.candIdx < len(j.candidates) {
			i := j.candIdx
			j.candIdx++
			combined := combineRow(j.leftRow, j.candidates[i])

			matched := true
			if j.On != nil {
				v, err := Eval(j.On, combined)
				if err != nil {
					return nil, err
				}
				matched = !v.IsNull() && v.Truthy()
			}
			if !matched {
				continue
			}
			j.leftMatched = true
			if j.rightMatched != nil {
				j.rightMatched[i] = true
			}
			return combined, nil
		}

		// Left row exhausted its candidates.
		leftRow := j.leftRow
		leftMatched := j.leftMatched
		j.leftRow = nil

		if !leftMatched && (j.Kind == parser.JoinLeft || j.Kind == parser.JoinFull) {
			nullRight := j.RightShape
			nullRight.Null = true
			nullRight.Values = nil
			return combineRow(leftRow, nullRight), nil
		}
	}
}

func (j *NestedLoopJoin) Close() error {
	j.rights = nil
	j.candidates = nil
	return j.Left.Close()
}

func combineRow(left *Row, right Slot) *Row {
	slots := make([]Slot, 0, len(left.Slots)+1)
	slots = append(slots, left.Slots...)
	slots = append(slots, right)
	return &Row{Slots: slots, Aggs: left.Aggs}
}

// nullExtendedRight emits a right row with every left slot null-extended,
// for RIGHT and FULL joins.
func (j *NestedLoopJoin) nullExtendedRight(right Slot) *Row {
	slots := make([]Slot, 0, len(j.LeftShapes)+1)
	for _, s := range j.LeftShapes {
		s.Null = true
		s.Values = nil
		slots = append(slots, s)
	}
	slots = append(slots, right)
	return &Row{Slots: slots}
}

var _ Operator = (*NestedLoopJoin)(nil)
