// Package btree implements the ordered key/value trees backing tables and
// indexes. Keys are i64; payloads are opaque bytes. Leaves are linked
// left-to-right for range scans. The root page number is stable for the life
// of a tree: splits and height changes rewrite the root page in place.
package btree

import (
	"errors"
	"fmt"

	"github.com/FocuswithJustin/petra/internal/pager"
)

var ErrCorrupt = errors.New("btree corruption")

// Entry is a key/payload pair yielded by lookups and scans.
type Entry struct {
	Key     int64
	Payload []byte
}

// BTree is a handle to a tree rooted at a fixed page.
type BTree struct {
	pager *pager.Pager
	root  uint32
}

// Create allocates and initializes an empty leaf as a new tree root.
func Create(p *pager.Pager) (uint32, error) {
	pageNum, err := p.AllocatePage()
	if err != nil {
		return 0, err
	}
	page, err := p.WritePage(pageNum)
	if err != nil {
		return 0, err
	}
	initLeaf(page)
	return pageNum, nil
}

// New returns a handle to the tree rooted at root.
func New(p *pager.Pager, root uint32) *BTree {
	return &BTree{pager: p, root: root}
}

// Root returns the tree's root page number.
func (t *BTree) Root() uint32 { return t.root }

type splitResult struct {
	medianKey int64
	newPage   uint32
}

// Insert stores a key/payload pair, replacing any existing payload for key.
func (t *BTree) Insert(key int64, payload []byte) error {
	_, err := t.insertInto(t.root, key, payload, true)
	return err
}

// Lookup returns the payload stored under key.
func (t *BTree) Lookup(key int64) ([]byte, bool, error) {
	pageNum := t.root
	for {
		page, err := t.pager.ReadPage(pageNum)
		if err != nil {
			return nil, false, err
		}
		switch pageType(page) {
		case pageTypeLeaf:
			idx := findCellByKeyLeaf(page, key)
			if idx < 0 {
				return nil, false, nil
			}
			entry := readLeafEntry(page, idx)
			payload, err := t.resolvePayload(entry)
			if err != nil {
				return nil, false, err
			}
			return payload, true, nil
		case pageTypeInterior:
			pageNum = interiorChildAt(page, findChildIndex(page, key))
		default:
			return nil, false, fmt.Errorf("%w: unknown page type %d on page %d",
				ErrCorrupt, pageType(page), pageNum)
		}
	}
}

// Delete removes key from the tree. Returns whether an entry was removed.
// Underfull pages are rebalanced with an adjacent sibling, and an interior
// root with no separators is compacted onto its only child (keeping the root
// page number stable).
func (t *BTree) Delete(key int64) (bool, error) {
	res, err := t.deleteFrom(t.root, key, true)
	if err != nil {
		return false, err
	}
	if res.deleted {
		if err := t.compactRoot(); err != nil {
			return false, err
		}
	}
	return res.deleted, nil
}

// ScanAll returns every entry in key order.
func (t *BTree) ScanAll() ([]Entry, error) {
	c, err := t.First()
	if err != nil {
		return nil, err
	}
	return c.drain()
}

// ScanRange returns entries with min <= key <= max. Pass math.MinInt64 or
// math.MaxInt64 for open bounds.
func (t *BTree) ScanRange(min, max int64) ([]Entry, error) {
	c, err := t.Seek(min)
	if err != nil {
		return nil, err
	}
	c.maxKey = &max
	return c.drain()
}

// MaxKey returns the largest key in the tree, or ok=false when empty.
func (t *BTree) MaxKey() (int64, bool, error) {
	pageNum := t.root
	for {
		page, err := t.pager.ReadPage(pageNum)
		if err != nil {
			return 0, false, err
		}
		switch pageType(page) {
		case pageTypeLeaf:
			n := cellCount(page)
			if n == 0 {
				// The rightmost leaf can be empty only for an empty
				// tree; otherwise rebalance would have merged it.
				return 0, false, nil
			}
			return leafKeyAt(page, n-1), true, nil
		case pageTypeInterior:
			pageNum = rightChild(page)
		default:
			return 0, false, fmt.Errorf("%w: unknown page type %d on page %d",
				ErrCorrupt, pageType(page), pageNum)
		}
	}
}

// ReclaimTree frees every page reachable from root, overflow chains included.
// Duplicate or cyclic references fail loudly as corruption.
func ReclaimTree(p *pager.Pager, root uint32) (int, error) {
	pages, err := CollectTreePages(p, root)
	if err != nil {
		return 0, err
	}
	// Free children before parents.
	for i := len(pages) - 1; i >= 0; i-- {
		if err := p.FreePage(pages[i]); err != nil {
			return 0, err
		}
	}
	return len(pages), nil
}

// CollectTreePages returns every page reachable from root in DFS post-order,
// failing on duplicate or cyclic references.
func CollectTreePages(p *pager.Pager, root uint32) ([]uint32, error) {
	var pages []uint32
	visited := make(map[uint32]bool)
	if err := collectTreePages(p, root, &pages, visited); err != nil {
		return nil, err
	}
	return pages, nil
}

func collectTreePages(p *pager.Pager, pageNum uint32, out *[]uint32, visited map[uint32]bool) error {
	if visited[pageNum] {
		return fmt.Errorf("%w: duplicate or cyclic page reference: %d", ErrCorrupt, pageNum)
	}
	visited[pageNum] = true

	page, err := p.ReadPage(pageNum)
	if err != nil {
		return err
	}

	switch pageType(page) {
	case pageTypeLeaf:
		var overflows []uint32
		for _, e := range readAllLeafEntries(page) {
			if e.overflowPage != 0 {
				overflows = append(overflows, e.overflowPage)
			}
		}
		for _, of := range overflows {
			if err := collectOverflowChain(p, of, out, visited); err != nil {
				return err
			}
		}
	case pageTypeInterior:
		node := readInteriorNode(page)
		for _, child := range node.children {
			if err := collectTreePages(p, child, out, visited); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown page type %d on page %d",
			ErrCorrupt, pageType(page), pageNum)
	}

	*out = append(*out, pageNum)
	return nil
}

// =============================================================================
// insert
// =============================================================================

func (t *BTree) insertInto(pageNum uint32, key int64, payload []byte, isRoot bool) (*splitResult, error) {
	page, err := t.pager.ReadPage(pageNum)
	if err != nil {
		return nil, err
	}
	switch pageType(page) {
	case pageTypeLeaf:
		return t.insertIntoLeaf(pageNum, key, payload, isRoot)
	case pageTypeInterior:
		return t.insertIntoInterior(pageNum, key, payload, isRoot)
	default:
		return nil, fmt.Errorf("%w: unknown page type %d on page %d",
			ErrCorrupt, pageType(page), pageNum)
	}
}

func (t *BTree) insertIntoLeaf(pageNum uint32, key int64, payload []byte, isRoot bool) (*splitResult, error) {
	// Replacing an existing key is delete + insert; in-place resize of a
	// cell is never attempted.
	page, err := t.pager.ReadPage(pageNum)
	if err != nil {
		return nil, err
	}
	var staleOverflow uint32
	if idx := findCellByKeyLeaf(page, key); idx >= 0 {
		staleOverflow = readLeafEntry(page, idx).overflowPage
		page, err = t.pager.WritePage(pageNum)
		if err != nil {
			return nil, err
		}
		deleteLeafCell(page, idx)
	}
	if staleOverflow != 0 {
		if err := freeOverflowChain(t.pager, staleOverflow); err != nil {
			return nil, err
		}
	}

	entry, err := t.buildLeafEntry(key, payload)
	if err != nil {
		return nil, err
	}

	t.pager.Pin(pageNum)
	defer t.pager.Unpin(pageNum)

	page, err = t.pager.ReadPage(pageNum)
	if err != nil {
		return nil, err
	}
	if leafHasRoom(page, entry.cellSize()) {
		page, err = t.pager.WritePage(pageNum)
		if err != nil {
			return nil, err
		}
		insertLeafCell(page, &entry)
		return nil, nil
	}

	if isRoot {
		return nil, t.splitRootLeaf(pageNum, entry)
	}
	return t.splitLeaf(pageNum, entry)
}

func (t *BTree) buildLeafEntry(key int64, payload []byte) (leafEntry, error) {
	maxLocal := maxLocalPayload(t.pager.PageSize())
	if len(payload) <= maxLocal {
		local := make([]byte, len(payload))
		copy(local, payload)
		return leafEntry{key: key, totalLen: len(payload), localPayload: local}, nil
	}
	overflow, err := writeOverflowChain(t.pager, payload[maxLocal:])
	if err != nil {
		return leafEntry{}, err
	}
	local := make([]byte, maxLocal)
	copy(local, payload[:maxLocal])
	return leafEntry{
		key:          key,
		totalLen:     len(payload),
		localPayload: local,
		overflowPage: overflow,
	}, nil
}

func (t *BTree) resolvePayload(e leafEntry) ([]byte, error) {
	if e.overflowPage == 0 {
		return e.localPayload, nil
	}
	rest, err := readOverflowChain(t.pager, e.overflowPage, e.totalLen-len(e.localPayload))
	if err != nil {
		return nil, err
	}
	return append(e.localPayload, rest...), nil
}

func (t *BTree) insertIntoInterior(pageNum uint32, key int64, payload []byte, isRoot bool) (*splitResult, error) {
	page, err := t.pager.ReadPage(pageNum)
	if err != nil {
		return nil, err
	}
	child := interiorChildAt(page, findChildIndex(page, key))

	split, err := t.insertInto(child, key, payload, false)
	if err != nil {
		return nil, err
	}
	if split == nil {
		return nil, nil
	}

	page, err = t.pager.ReadPage(pageNum)
	if err != nil {
		return nil, err
	}
	if interiorHasRoom(page) {
		page, err = t.pager.WritePage(pageNum)
		if err != nil {
			return nil, err
		}
		insertPromotedKey(page, split.medianKey, split.newPage)
		return nil, nil
	}

	if isRoot {
		return nil, t.splitRootInterior(pageNum, split.medianKey, split.newPage)
	}
	return t.splitInterior(pageNum, split.medianKey, split.newPage)
}

// splitLeaf divides an overflowing non-root leaf. The original page keeps the
// lower half and links to a new right sibling holding the upper half.
func (t *BTree) splitLeaf(pageNum uint32, newEntry leafEntry) (*splitResult, error) {
	page, err := t.pager.ReadPage(pageNum)
	if err != nil {
		return nil, err
	}
	entries := readAllLeafEntries(page)
	oldNext := nextLeaf(page)
	entries = insertSortedLeafEntry(entries, newEntry)

	mid := len(entries) / 2
	medianKey := entries[mid].key

	newPage, err := t.pager.AllocatePage()
	if err != nil {
		return nil, err
	}

	right, err := t.pager.WritePage(newPage)
	if err != nil {
		return nil, err
	}
	writeLeafEntries(right, entries[mid:], oldNext)

	left, err := t.pager.WritePage(pageNum)
	if err != nil {
		return nil, err
	}
	writeLeafEntries(left, entries[:mid], newPage)

	return &splitResult{medianKey: medianKey, newPage: newPage}, nil
}

// splitRootLeaf splits an overflowing root leaf into two fresh children and
// rewrites the root page as an interior node, keeping its page number.
func (t *BTree) splitRootLeaf(rootPage uint32, newEntry leafEntry) error {
	page, err := t.pager.ReadPage(rootPage)
	if err != nil {
		return err
	}
	entries := readAllLeafEntries(page)
	entries = insertSortedLeafEntry(entries, newEntry)

	mid := len(entries) / 2
	medianKey := entries[mid].key

	leftPage, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}
	rightPage, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}

	right, err := t.pager.WritePage(rightPage)
	if err != nil {
		return err
	}
	writeLeafEntries(right, entries[mid:], 0)

	left, err := t.pager.WritePage(leftPage)
	if err != nil {
		return err
	}
	writeLeafEntries(left, entries[:mid], rightPage)

	root, err := t.pager.WritePage(rootPage)
	if err != nil {
		return err
	}
	writeInteriorNode(root, &interiorNode{
		keys:     []int64{medianKey},
		children: []uint32{leftPage, rightPage},
	})
	return nil
}

func (t *BTree) splitInterior(pageNum uint32, newKey int64, newChild uint32) (*splitResult, error) {
	page, err := t.pager.ReadPage(pageNum)
	if err != nil {
		return nil, err
	}
	node := readInteriorNode(page)
	insertIntoInteriorNode(&node, newKey, newChild)

	mid := len(node.keys) / 2
	median := node.keys[mid]

	leftNode := interiorNode{
		keys:     append([]int64(nil), node.keys[:mid]...),
		children: append([]uint32(nil), node.children[:mid+1]...),
	}
	rightNode := interiorNode{
		keys:     append([]int64(nil), node.keys[mid+1:]...),
		children: append([]uint32(nil), node.children[mid+1:]...),
	}

	newPage, err := t.pager.AllocatePage()
	if err != nil {
		return nil, err
	}
	right, err := t.pager.WritePage(newPage)
	if err != nil {
		return nil, err
	}
	writeInteriorNode(right, &rightNode)

	left, err := t.pager.WritePage(pageNum)
	if err != nil {
		return nil, err
	}
	writeInteriorNode(left, &leftNode)

	return &splitResult{medianKey: median, newPage: newPage}, nil
}

func (t *BTree) splitRootInterior(rootPage uint32, newKey int64, newChild uint32) error {
	page, err := t.pager.ReadPage(rootPage)
	if err != nil {
		return err
	}
	node := readInteriorNode(page)
	insertIntoInteriorNode(&node, newKey, newChild)

	mid := len(node.keys) / 2
	median := node.keys[mid]

	leftNode := interiorNode{
		keys:     append([]int64(nil), node.keys[:mid]...),
		children: append([]uint32(nil), node.children[:mid+1]...),
	}
	rightNode := interiorNode{
		keys:     append([]int64(nil), node.keys[mid+1:]...),
		children: append([]uint32(nil), node.children[mid+1:]...),
	}

	leftPage, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}
	rightPage, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}

	buf, err := t.pager.WritePage(leftPage)
	if err != nil {
		return err
	}
	writeInteriorNode(buf, &leftNode)

	buf, err = t.pager.WritePage(rightPage)
	if err != nil {
		return err
	}
	writeInteriorNode(buf, &rightNode)

	root, err := t.pager.WritePage(rootPage)
	if err != nil {
		return err
	}
	writeInteriorNode(root, &interiorNode{
		keys:     []int64{median},
		children: []uint32{leftPage, rightPage},
	})
	return nil
}

func insertSortedLeafEntry(entries []leafEntry, e leafEntry) []leafEntry {
	pos := len(entries)
	for i := range entries {
		if entries[i].key > e.key {
			pos = i
			break
		}
	}
	entries = append(entries, leafEntry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = e
	return entries
}

// insertIntoInteriorNode splices a promoted (key, rightSibling) pair into a
// decoded interior node.
func insertIntoInteriorNode(node *interiorNode, key int64, newChild uint32) {
	pos := len(node.keys)
	for i := range node.keys {
		if node.keys[i] > key {
			pos = i
			break
		}
	}
	node.keys = append(node.keys, 0)
	copy(node.keys[pos+1:], node.keys[pos:])
	node.keys[pos] = key

	node.children = append(node.children, 0)
	copy(node.children[pos+2:], node.children[pos+1:])
	node.children[pos+1] = newChild
}

// =============================================================================
// delete
// =============================================================================

type deleteResult struct {
	deleted   bool
	underflow bool
}

func (t *BTree) deleteFrom(pageNum uint32, key int64, isRoot bool) (deleteResult, error) {
	page, err := t.pager.ReadPage(pageNum)
	if err != nil {
		return deleteResult{}, err
	}

	switch pageType(page) {
	case pageTypeLeaf:
		idx := findCellByKeyLeaf(page, key)
		if idx < 0 {
			return deleteResult{}, nil
		}
		overflow := readLeafEntry(page, idx).overflowPage

		page, err = t.pager.WritePage(pageNum)
		if err != nil {
			return deleteResult{}, err
		}
		deleteLeafCell(page, idx)
		underflow := !isRoot && leafIsUnderfull(page)

		if overflow != 0 {
			if err := freeOverflowChain(t.pager, overflow); err != nil {
				return deleteResult{}, err
			}
		}
		return deleteResult{deleted: true, underflow: underflow}, nil

	case pageTypeInterior:
		childIdx := findChildIndex(page, key)
		child := interiorChildAt(page, childIdx)

		childRes, err := t.deleteFrom(child, key, false)
		if err != nil {
			return deleteResult{}, err
		}
		if !childRes.deleted {
			return deleteResult{}, nil
		}

		if childRes.underflow {
			if err := t.rebalanceChild(pageNum, childIdx); err != nil {
				return deleteResult{}, err
			}
		}

		underflow := false
		if !isRoot {
			page, err = t.pager.ReadPage(pageNum)
			if err != nil {
				return deleteResult{}, err
			}
			underflow = interiorIsUnderfull(page)
		}
		return deleteResult{deleted: true, underflow: underflow}, nil

	default:
		return deleteResult{}, fmt.Errorf("%w: unknown page type %d on page %d",
			ErrCorrupt, pageType(page), pageNum)
	}
}

// compactRoot collapses an interior root with no separator keys by copying
// its only child into the root page, preserving the root page number.
func (t *BTree) compactRoot() error {
	for {
		page, err := t.pager.ReadPage(t.root)
		if err != nil {
			return err
		}
		if pageType(page) != pageTypeInterior || cellCount(page) > 0 {
			return nil
		}
		onlyChild := rightChild(page)
		if onlyChild == 0 {
			return nil
		}

		childPage, err := t.pager.ReadPage(onlyChild)
		if err != nil {
			return err
		}
		childBytes := make([]byte, len(childPage))
		copy(childBytes, childPage)

		root, err := t.pager.WritePage(t.root)
		if err != nil {
			return err
		}
		copy(root, childBytes)

		if err := t.pager.FreePage(onlyChild); err != nil {
			return err
		}
	}
}

// rebalanceChild resolves an underfull child by merging it with an adjacent
// sibling when the combined entries fit in one page, or redistributing
// entries across the two pages otherwise.
func (t *BTree) rebalanceChild(parentPage uint32, childIdx int) error {
	page, err := t.pager.ReadPage(parentPage)
	if err != nil {
		return err
	}
	child := interiorChildAt(page, childIdx)

	childData, err := t.pager.ReadPage(child)
	if err != nil {
		return err
	}
	switch pageType(childData) {
	case pageTypeLeaf:
		return t.rebalanceLeafChild(parentPage, childIdx)
	case pageTypeInterior:
		return t.rebalanceInteriorChild(parentPage, childIdx)
	default:
		return fmt.Errorf("%w: unknown page type %d on underflowed page %d",
			ErrCorrupt, pageType(childData), child)
	}
}

func (t *BTree) rebalanceLeafChild(parentPage uint32, childIdx int) error {
	page, err := t.pager.ReadPage(parentPage)
	if err != nil {
		return err
	}
	parent := readInteriorNode(page)
	if len(parent.children) <= 1 {
		return nil
	}

	leftIdx := childIdx
	if leftIdx > 0 {
		leftIdx--
	}
	rightIdx := leftIdx + 1
	if rightIdx >= len(parent.children) {
		return nil
	}
	leftPage := parent.children[leftIdx]
	rightPage := parent.children[rightIdx]

	leftData, err := t.pager.ReadPage(leftPage)
	if err != nil {
		return err
	}
	merged := readAllLeafEntries(leftData)

	rightData, err := t.pager.ReadPage(rightPage)
	if err != nil {
		return err
	}
	merged = append(merged, readAllLeafEntries(rightData)...)
	rightNext := nextLeaf(rightData)

	pageSize := t.pager.PageSize()
	if leafEntriesFit(merged, pageSize) {
		buf, err := t.pager.WritePage(leftPage)
		if err != nil {
			return err
		}
		writeLeafEntries(buf, merged, rightNext)

		parent.keys = append(parent.keys[:leftIdx], parent.keys[leftIdx+1:]...)
		parent.children = append(parent.children[:rightIdx], parent.children[rightIdx+1:]...)
		buf, err = t.pager.WritePage(parentPage)
		if err != nil {
			return err
		}
		writeInteriorNode(buf, &parent)
		return t.pager.FreePage(rightPage)
	}

	splitIdx, err := chooseLeafRedistributionSplit(merged, pageSize)
	if err != nil {
		return err
	}
	leftEntries := merged[:splitIdx]
	rightEntries := merged[splitIdx:]
	if len(leftEntries) == 0 || len(rightEntries) == 0 {
		return fmt.Errorf("%w: leaf redistribution produced empty sibling", ErrCorrupt)
	}

	buf, err := t.pager.WritePage(leftPage)
	if err != nil {
		return err
	}
	writeLeafEntries(buf, leftEntries, rightPage)

	buf, err = t.pager.WritePage(rightPage)
	if err != nil {
		return err
	}
	writeLeafEntries(buf, rightEntries, rightNext)

	parent.keys[leftIdx] = rightEntries[0].key
	buf, err = t.pager.WritePage(parentPage)
	if err != nil {
		return err
	}
	writeInteriorNode(buf, &parent)
	return nil
}

func (t *BTree) rebalanceInteriorChild(parentPage uint32, childIdx int) error {
	page, err := t.pager.ReadPage(parentPage)
	if err != nil {
		return err
	}
	parent := readInteriorNode(page)
	if len(parent.children) <= 1 {
		return nil
	}

	leftIdx := childIdx
	if leftIdx > 0 {
		leftIdx--
	}
	rightIdx := leftIdx + 1
	if rightIdx >= len(parent.children) {
		return nil
	}
	leftPage := parent.children[leftIdx]
	rightPage := parent.children[rightIdx]

	leftData, err := t.pager.ReadPage(leftPage)
	if err != nil {
		return err
	}
	if pageType(leftData) != pageTypeInterior {
		return fmt.Errorf("%w: expected interior rebalance sibling on page %d",
			ErrCorrupt, leftPage)
	}
	leftNode := readInteriorNode(leftData)

	rightData, err := t.pager.ReadPage(rightPage)
	if err != nil {
		return err
	}
	if pageType(rightData) != pageTypeInterior {
		return fmt.Errorf("%w: expected interior rebalance sibling on page %d",
			ErrCorrupt, rightPage)
	}
	rightNode := readInteriorNode(rightData)

	separator := parent.keys[leftIdx]
	mergedKeys := append(append(append([]int64(nil), leftNode.keys...), separator), rightNode.keys...)
	mergedChildren := append(append([]uint32(nil), leftNode.children...), rightNode.children...)
	if len(mergedKeys)+1 != len(mergedChildren) {
		return fmt.Errorf("%w: interior merge produced inconsistent key/child counts", ErrCorrupt)
	}

	pageSize := t.pager.PageSize()
	if interiorKeysFit(len(mergedKeys), pageSize) {
		buf, err := t.pager.WritePage(leftPage)
		if err != nil {
			return err
		}
		writeInteriorNode(buf, &interiorNode{keys: mergedKeys, children: mergedChildren})

		parent.keys = append(parent.keys[:leftIdx], parent.keys[leftIdx+1:]...)
		parent.children = append(parent.children[:rightIdx], parent.children[rightIdx+1:]...)
		buf, err = t.pager.WritePage(parentPage)
		if err != nil {
			return err
		}
		writeInteriorNode(buf, &parent)
		return t.pager.FreePage(rightPage)
	}

	promotedIdx, err := chooseInteriorRedistributionSplit(mergedKeys, pageSize)
	if err != nil {
		return err
	}
	promoted := mergedKeys[promotedIdx]

	newLeft := interiorNode{
		keys:     append([]int64(nil), mergedKeys[:promotedIdx]...),
		children: append([]uint32(nil), mergedChildren[:promotedIdx+1]...),
	}
	newRight := interiorNode{
		keys:     append([]int64(nil), mergedKeys[promotedIdx+1:]...),
		children: append([]uint32(nil), mergedChildren[promotedIdx+1:]...),
	}
	if len(newLeft.keys) == 0 || len(newRight.keys) == 0 {
		return fmt.Errorf("%w: interior redistribution produced empty sibling", ErrCorrupt)
	}

	buf, err := t.pager.WritePage(leftPage)
	if err != nil {
		return err
	}
	writeInteriorNode(buf, &newLeft)

	buf, err = t.pager.WritePage(rightPage)
	if err != nil {
		return err
	}
	writeInteriorNode(buf, &newRight)

	parent.keys[leftIdx] = promoted
	buf, err = t.pager.WritePage(parentPage)
	if err != nil {
		return err
	}
	writeInteriorNode(buf, &parent)
	return nil
}

// chooseLeafRedistributionSplit picks the split index that balances the two
// pages most evenly while keeping both within the page size.
func chooseLeafRedistributionSplit(entries []leafEntry, pageSize int) (int, error) {
	if len(entries) < 2 {
		return 0, fmt.Errorf("%w: need at least two entries for leaf redistribution", ErrCorrupt)
	}

	prefix := make([]int, len(entries)+1)
	for i := range entries {
		prefix[i+1] = prefix[i] + entries[i].cellSize()
	}
	total := prefix[len(entries)]

	bestIdx, bestGap := -1, 0
	for split := 1; split < len(entries); split++ {
		leftSize := pageHeaderSize + split*cellPtrSize + prefix[split]
		rightSize := pageHeaderSize + (len(entries)-split)*cellPtrSize + (total - prefix[split])
		if leftSize > pageSize || rightSize > pageSize {
			continue
		}
		gap := leftSize - rightSize
		if gap < 0 {
			gap = -gap
		}
		if bestIdx < 0 || gap < bestGap {
			bestIdx, bestGap = split, gap
		}
	}
	if bestIdx < 0 {
		return 0, fmt.Errorf("%w: could not find valid leaf redistribution split", ErrCorrupt)
	}
	return bestIdx, nil
}

func chooseInteriorRedistributionSplit(keys []int64, pageSize int) (int, error) {
	if len(keys) < 3 {
		return 0, fmt.Errorf("%w: need at least three keys for interior redistribution", ErrCorrupt)
	}
	bestIdx, bestGap := -1, 0
	for promoted := 1; promoted < len(keys)-1; promoted++ {
		leftCount := promoted
		rightCount := len(keys) - promoted - 1
		if !interiorKeysFit(leftCount, pageSize) || !interiorKeysFit(rightCount, pageSize) {
			continue
		}
		gap := leftCount - rightCount
		if gap < 0 {
			gap = -gap
		}
		if bestIdx < 0 || gap < bestGap {
			bestIdx, bestGap = promoted, gap
		}
	}
	if bestIdx < 0 {
		return 0, fmt.Errorf("%w: could not find valid interior redistribution split", ErrCorrupt)
	}
	return bestIdx, nil
}
