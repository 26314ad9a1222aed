package exec

import (
	"strings"

	"github.com/FocuswithJustin/petra/internal/btree"
	"github.com/FocuswithJustin/petra/internal/pager"
	"github.com/FocuswithJustin/petra/internal/parser"
	"github.com/FocuswithJustin/petra/internal/record"
)

// TableSource describes the table a scan or fetch emits rows for.
type TableSource struct {
	Root      uint32
	Qualifier string
	Columns   []string
}

// TableScan emits every row of a table in rowid order.
type TableScan struct {
	Pager  *pager.Pager
	Source TableSource

	cursor *btree.Cursor
}

func (s *TableScan) Open() error {
	tree := btree.New(s.Pager, s.Source.Root)
	c, err := tree.First()
	if err != nil {
		return err
	}
	s.cursor = c
	return nil
}

func (s *TableScan) Next() (*Row, error) {
	entry, err := s.cursor.Next()
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	values, err := record.DecodeRow(entry.Payload)
	if err != nil {
		return nil, err
	}
	return &Row{Slots: []Slot{{
		Qualifier: s.Source.Qualifier,
		Columns:   s.Source.Columns,
		Values:    values,
		Rowid:     entry.Key,
	}}}, nil
}

func (s *TableScan) Close() error {
	s.cursor = nil
	return nil
}

// RowidFetch converts a rowid stream into decoded rows.
type RowidFetch struct {
	Pager  *pager.Pager
	Source TableSource
	Rowids []int64

	pos int
}

func (f *RowidFetch) Open() error {
	f.pos = 0
	return nil
}

func (f *RowidFetch) Next() (*Row, error) {
	tree := btree.New(f.Pager, f.Source.Root)
	for f.pos < len(f.Rowids) {
		rowid := f.Rowids[f.pos]
		f.pos++
		payload, found, err := tree.Lookup(rowid)
		if err != nil {
			return nil, err
		}
		if !found {
			// A stale candidate rowid (e.g. from a hash collision
			// bucket) is simply skipped.
			continue
		}
		values, err := record.DecodeRow(payload)
		if err != nil {
			return nil, err
		}
		return &Row{Slots: []Slot{{
			Qualifier: f.Source.Qualifier,
			Columns:   f.Source.Columns,
			Values:    values,
			Rowid:     rowid,
		}}}, nil
	}
	return nil, nil
}

func (f *RowidFetch) Close() error { return nil }

// Filter drops rows whose predicate does not evaluate to TRUE. NULL counts
// as not matching.
type Filter struct {
	Child Operator
	Pred  parser.Expression
}

func (f *Filter) Open() error { return f.Child.Open() }

func (f *Filter) Next() (*Row, error) {
	for {
		row, err := f.Child.Next()
		if err != nil || row == nil {
			return nil, err
		}
		v, err := Eval(f.Pred, row)
		if err != nil {
			return nil, err
		}
		if !v.IsNull() && v.Truthy() {
			return row, nil
		}
	}
}

func (f *Filter) Close() error { return f.Child.Close() }

// Project computes the output expressions and emits single-slot rows named
// by the output columns, keeping the source row reachable for ORDER BY.
type Project struct {
	Child   Operator
	Exprs   []parser.Expression
	Names   []string
	columns []string
}

func (p *Project) Open() error {
	p.columns = make([]string, len(p.Names))
	for i, n := range p.Names {
		p.columns[i] = lowerName(n)
	}
	return p.Child.Open()
}

func (p *Project) Next() (*Row, error) {
	row, err := p.Child.Next()
	if err != nil || row == nil {
		return nil, err
	}
	values := make(record.Row, 0, len(p.Exprs))
	for _, expr := range p.Exprs {
		v, err := Eval(expr, row)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return &Row{
		Slots:  []Slot{{Columns: p.columns, Values: values}},
		Aggs:   row.Aggs,
		Source: row,
	}, nil
}

func (p *Project) Close() error { return p.Child.Close() }

// Values emits a fixed set of rows. Used for FROM-less SELECT and tests.
type Values struct {
	Rows []*Row
	pos  int
}

func (v *Values) Open() error { v.pos = 0; return nil }

func (v *Values) Next() (*Row, error) {
	if v.pos >= len(v.Rows) {
		return nil, nil
	}
	row := v.Rows[v.pos]
	v.pos++
	return row, nil
}

func (v *Values) Close() error { return nil }

func lowerName(s string) string {
	return strings.ToLower(s)
}
