package btree

import (
	"fmt"
)

// Cursor streams entries of a tree in key order. It buffers one leaf's worth
// of decoded entries at a time and follows next_leaf links, so the pull-based
// executor can iterate without materializing the whole tree.
type Cursor struct {
	tree    *BTree
	entries []Entry
	idx     int
	next    uint32
	done    bool

	// maxKey, when set, ends iteration after the last entry <= maxKey.
	maxKey *int64
}

// First positions a cursor at the smallest key.
func (t *BTree) First() (*Cursor, error) {
	leaf, err := t.leftmostLeaf(t.root)
	if err != nil {
		return nil, err
	}
	c := &Cursor{tree: t}
	if err := c.loadLeaf(leaf); err != nil {
		return nil, err
	}
	return c, nil
}

// Seek positions a cursor at the first entry with key >= min.
func (t *BTree) Seek(min int64) (*Cursor, error) {
	leaf, err := t.leafFor(t.root, min)
	if err != nil {
		return nil, err
	}
	c := &Cursor{tree: t}
	if err := c.loadLeaf(leaf); err != nil {
		return nil, err
	}
	for c.idx < len(c.entries) && c.entries[c.idx].Key < min {
		c.idx++
	}
	return c, nil
}

// Next returns the next entry, or nil when the scan is exhausted.
func (c *Cursor) Next() (*Entry, error) {
	for {
		if c.done {
			return nil, nil
		}
		if c.idx < len(c.entries) {
			e := &c.entries[c.idx]
			c.idx++
			if c.maxKey != nil && e.Key > *c.maxKey {
				c.done = true
				return nil, nil
			}
			return e, nil
		}
		if c.next == 0 {
			c.done = true
			return nil, nil
		}
		if err := c.loadLeaf(c.next); err != nil {
			return nil, err
		}
	}
}

func (c *Cursor) drain() ([]Entry, error) {
	var out []Entry
	for {
		e, err := c.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			return out, nil
		}
		out = append(out, *e)
	}
}

// loadLeaf decodes one leaf into the cursor buffer, resolving overflow
// chains, and records the next leaf to visit.
func (c *Cursor) loadLeaf(pageNum uint32) error {
	t := c.tree
	page, err := t.pager.ReadPage(pageNum)
	if err != nil {
		return err
	}
	if pageType(page) != pageTypeLeaf {
		return fmt.Errorf("%w: expected leaf on page %d, got type %d",
			ErrCorrupt, pageNum, pageType(page))
	}
	raw := readAllLeafEntries(page)
	c.next = nextLeaf(page)

	c.entries = c.entries[:0]
	for _, e := range raw {
		payload, err := t.resolvePayload(e)
		if err != nil {
			return err
		}
		c.entries = append(c.entries, Entry{Key: e.key, Payload: payload})
	}
	c.idx = 0
	return nil
}

func (t *BTree) leftmostLeaf(pageNum uint32) (uint32, error) {
	for {
		page, err := t.pager.ReadPage(pageNum)
		if err != nil {
			return 0, err
		}
		switch pageType(page) {
		case pageTypeLeaf:
			return pageNum, nil
		case pageTypeInterior:
			pageNum = interiorChildAt(page, 0)
		default:
			return 0, fmt.Errorf("%w: unknown page type %d on page %d",
				ErrCorrupt, pageType(page), pageNum)
		}
	}
}

func (t *BTree) leafFor(pageNum uint32, key int64) (uint32, error) {
	for {
		page, err := t.pager.ReadPage(pageNum)
		if err != nil {
			return 0, err
		}
		switch pageType(page) {
		case pageTypeLeaf:
			return pageNum, nil
		case pageTypeInterior:
			pageNum = interiorChildAt(page, findChildIndex(page, key))
		default:
			return 0, fmt.Errorf("%w: unknown page type %d on page %d",
				ErrCorrupt, pageType(page), pageNum)
		}
	}
}
