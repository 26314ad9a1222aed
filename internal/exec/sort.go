package exec

import (
	"sort"

	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/record"
)

// SortKey is one ORDER BY term.
type SortKey struct {
	Expr parser.Expression
	Desc bool
}

// Sort materializes its input and emits it stably sorted. The NULL ordering
// is NULL < numbers < TEXT ascending, reversed under DESC.
type Sort struct {
	Child Operator
	Keys  []SortKey

	rows []*Row
	keys [][]record.Value
	pos  int
}

func (s *Sort) Open() error {
	if err := s.Child.Open(); err != nil {
		return err
	}
	s.rows = nil
	s.keys = nil
	s.pos = 0

	for {
		row, err := s.Child.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		keyVals := make([]record.Value, len(s.Keys))
		for i, k := range s.Keys {
			v, err := Eval(k.Expr, row)
			if err != nil {
				return err
			}
			keyVals[i] = v
		}
		s.rows = append(s.rows, row)
		s.keys = append(s.keys, keyVals)
	}

	order := make([]int, len(s.rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := s.keys[order[a]], s.keys[order[b]]
		for i, k := range s.Keys {
			c := record.SortCompare(ka[i], kb[i])
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	sorted := make([]*Row, len(s.rows))
	for i, idx := range order {
		sorted[i] = s.rows[idx]
	}
	s.rows = sorted
	return nil
}

func (s *Sort) Next() (*Row, error) {
	if s.pos >= len(s.rows) {
		return nil, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *Sort) Close() error {
	s.rows = nil
	s.keys = nil
	return s.Child.Close()
}

// Limit applies OFFSET and LIMIT after sorting and aggregation.
// A negative Count means no limit.
type Limit struct {
	Child  Operator
	Offset int64
	Count  int64

	skipped int64
	emitted int64
}

func (l *Limit) Open() error {
	l.skipped = 0
	l.emitted = 0
	return l.Child.Open()
}

func (l *Limit) Next() (*Row, error) {
	for l.skipped < l.Offset {
		row, err := l.Child.Next()
		if err != nil || row == nil {
			return nil, err
		}
		l.skipped++
	}
	if l.Count >= 0 && l.emitted >= l.Count {
		return nil, nil
	}
	row, err := l.Child.Next()
	if err != nil || row == nil {
		return nil, err
	}
	l.emitted++
	return row, nil
}

func (l *Limit) Close() error { return l.Child.Close() }
