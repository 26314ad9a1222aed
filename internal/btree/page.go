package btree

import (
	"encoding/binary"
)

// Page layout.
//
// Common header (9 bytes):
//
//	[0]    page_type: u8 (1 = interior, 2 = leaf)
//	[1:3]  cell_count: u16
//	[3:5]  cell_content_offset: u16 (content grows downward from page end)
//	[5:9]  type-specific u32: right_child (interior) or next_leaf (leaf)
//
// The cell offset array starts at byte 9 and grows upward; each entry is a
// u16 offset of the cell within the page, kept sorted by key.
//
// Interior cell: left_child(u32) || key(i64).
// Leaf cell:     key(i64) || payload_size(u32) || local payload || [overflow_page(u32)].
//
// Keys are stored big-endian so byte order matches numeric order.
const (
	pageTypeInterior byte = 1
	pageTypeLeaf     byte = 2

	pageHeaderSize = 9
	cellPtrSize    = 2

	interiorCellSize   = 12
	leafCellHeaderSize = 12

	// Pages below 35% logical occupancy trigger delete-time rebalance.
	minUtilizationNumerator   = 35
	minUtilizationDenominator = 100
)

// leafEntry is a decoded leaf cell. localPayload holds at most
// maxLocalPayload bytes; longer payloads continue in an overflow chain.
type leafEntry struct {
	key          int64
	totalLen     int
	localPayload []byte
	overflowPage uint32
}

func (e *leafEntry) cellSize() int {
	size := leafCellHeaderSize + len(e.localPayload)
	if e.overflowPage != 0 {
		size += 4
	}
	return size
}

// maxLocalPayload is the largest payload stored entirely inside a leaf cell.
func maxLocalPayload(pageSize int) int {
	return pageSize / 4
}

func initLeaf(page []byte) {
	for i := range page {
		page[i] = 0
	}
	page[0] = pageTypeLeaf
	setCellContentOffset(page, len(page))
}

func initInterior(page []byte) {
	for i := range page {
		page[i] = 0
	}
	page[0] = pageTypeInterior
	setCellContentOffset(page, len(page))
}

func pageType(page []byte) byte { return page[0] }

func cellCount(page []byte) int {
	return int(binary.BigEndian.Uint16(page[1:3]))
}

func setCellCount(page []byte, n int) {
	binary.BigEndian.PutUint16(page[1:3], uint16(n))
}

func cellContentOffset(page []byte) int {
	return int(binary.BigEndian.Uint16(page[3:5]))
}

func setCellContentOffset(page []byte, off int) {
	binary.BigEndian.PutUint16(page[3:5], uint16(off))
}

func rightChild(page []byte) uint32 {
	return binary.BigEndian.Uint32(page[5:9])
}

func setRightChild(page []byte, child uint32) {
	binary.BigEndian.PutUint32(page[5:9], child)
}

func nextLeaf(page []byte) uint32 {
	return binary.BigEndian.Uint32(page[5:9])
}

func setNextLeaf(page []byte, next uint32) {
	binary.BigEndian.PutUint32(page[5:9], next)
}

func cellOffset(page []byte, idx int) int {
	return int(binary.BigEndian.Uint16(page[pageHeaderSize+idx*cellPtrSize:]))
}

func setCellOffset(page []byte, idx, off int) {
	binary.BigEndian.PutUint16(page[pageHeaderSize+idx*cellPtrSize:], uint16(off))
}

// freeSpace is the gap between the end of the offset array and the start of
// the cell content area.
func freeSpace(page []byte) int {
	arrayEnd := pageHeaderSize + cellCount(page)*cellPtrSize
	contentStart := cellContentOffset(page)
	if contentStart > arrayEnd {
		return contentStart - arrayEnd
	}
	return 0
}

func leafHasRoom(page []byte, cellSize int) bool {
	return freeSpace(page) >= cellSize+cellPtrSize
}

func interiorHasRoom(page []byte) bool {
	return freeSpace(page) >= interiorCellSize+cellPtrSize
}

func leafKeyAt(page []byte, idx int) int64 {
	off := cellOffset(page, idx)
	return int64(binary.BigEndian.Uint64(page[off : off+8]))
}

func interiorKeyAt(page []byte, idx int) int64 {
	off := cellOffset(page, idx)
	return int64(binary.BigEndian.Uint64(page[off+4 : off+12]))
}

func interiorChildAt(page []byte, idx int) uint32 {
	n := cellCount(page)
	if idx < n {
		off := cellOffset(page, idx)
		return binary.BigEndian.Uint32(page[off : off+4])
	}
	return rightChild(page)
}

// findChildIndex returns the index of the child to descend into for key.
// Keys less than separator i go to child i; the rightmost child takes the rest.
func findChildIndex(page []byte, key int64) int {
	n := cellCount(page)
	for i := 0; i < n; i++ {
		if key < interiorKeyAt(page, i) {
			return i
		}
	}
	return n
}

func findInsertPosLeaf(page []byte, key int64) int {
	n := cellCount(page)
	for i := 0; i < n; i++ {
		if leafKeyAt(page, i) > key {
			return i
		}
	}
	return n
}

// findCellByKeyLeaf returns the cell index holding key, or -1.
func findCellByKeyLeaf(page []byte, key int64) int {
	n := cellCount(page)
	for i := 0; i < n; i++ {
		k := leafKeyAt(page, i)
		if k == key {
			return i
		}
		if k > key {
			return -1
		}
	}
	return -1
}

// insertLeafCell splices a leaf cell into the page in sorted key order.
// The caller must have verified leafHasRoom.
func insertLeafCell(page []byte, e *leafEntry) {
	n := cellCount(page)
	newOff := cellContentOffset(page) - e.cellSize()
	setCellContentOffset(page, newOff)

	off := newOff
	binary.BigEndian.PutUint64(page[off:], uint64(e.key))
	binary.BigEndian.PutUint32(page[off+8:], uint32(e.totalLen))
	off += leafCellHeaderSize
	copy(page[off:], e.localPayload)
	off += len(e.localPayload)
	if e.overflowPage != 0 {
		binary.BigEndian.PutUint32(page[off:], e.overflowPage)
	}

	pos := findInsertPosLeaf(page, e.key)
	for i := n; i > pos; i-- {
		setCellOffset(page, i, cellOffset(page, i-1))
	}
	setCellOffset(page, pos, newOff)
	setCellCount(page, n+1)
}

// deleteLeafCell removes the offset-array slot for a cell. Content space is
// not compacted; splits and rebuilds reclaim fragmentation.
func deleteLeafCell(page []byte, idx int) {
	n := cellCount(page)
	for i := idx; i < n-1; i++ {
		setCellOffset(page, i, cellOffset(page, i+1))
	}
	setCellCount(page, n-1)
}

func readLeafEntry(page []byte, idx int) leafEntry {
	off := cellOffset(page, idx)
	key := int64(binary.BigEndian.Uint64(page[off : off+8]))
	totalLen := int(binary.BigEndian.Uint32(page[off+8 : off+12]))

	localLen := totalLen
	if max := maxLocalPayload(len(page)); localLen > max {
		localLen = max
	}

	payloadOff := off + leafCellHeaderSize
	local := make([]byte, localLen)
	copy(local, page[payloadOff:payloadOff+localLen])

	var overflow uint32
	if totalLen > localLen {
		overflow = binary.BigEndian.Uint32(page[payloadOff+localLen:])
	}

	return leafEntry{key: key, totalLen: totalLen, localPayload: local, overflowPage: overflow}
}

func readAllLeafEntries(page []byte) []leafEntry {
	n := cellCount(page)
	entries := make([]leafEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, readLeafEntry(page, i))
	}
	return entries
}

func writeLeafEntries(page []byte, entries []leafEntry, next uint32) {
	initLeaf(page)
	setNextLeaf(page, next)
	for i := range entries {
		insertLeafCell(page, &entries[i])
	}
}

func findInsertPosInterior(page []byte, key int64) int {
	n := cellCount(page)
	for i := 0; i < n; i++ {
		if interiorKeyAt(page, i) > key {
			return i
		}
	}
	return n
}

// insertInteriorCell splices a (left_child, key) cell in sorted order.
func insertInteriorCell(page []byte, leftChild uint32, key int64) {
	n := cellCount(page)
	newOff := cellContentOffset(page) - interiorCellSize
	setCellContentOffset(page, newOff)

	binary.BigEndian.PutUint32(page[newOff:], leftChild)
	binary.BigEndian.PutUint64(page[newOff+4:], uint64(key))

	pos := findInsertPosInterior(page, key)
	for i := n; i > pos; i-- {
		setCellOffset(page, i, cellOffset(page, i-1))
	}
	setCellOffset(page, pos, newOff)
	setCellCount(page, n+1)
}

// insertPromotedKey inserts a key promoted by a child split, wiring the new
// right sibling into the correct child slot.
func insertPromotedKey(page []byte, key int64, newChild uint32) {
	n := cellCount(page)
	pos := findInsertPosInterior(page, key)

	if pos == n {
		oldRight := rightChild(page)
		insertInteriorCell(page, oldRight, key)
		setRightChild(page, newChild)
		return
	}

	off := cellOffset(page, pos)
	oldLeft := binary.BigEndian.Uint32(page[off : off+4])
	insertInteriorCell(page, oldLeft, key)
	// The displaced cell now sits at pos+1; its left child becomes the new
	// right sibling from the split.
	off = cellOffset(page, pos+1)
	binary.BigEndian.PutUint32(page[off:], newChild)
}

// interiorNode is a fully decoded interior page: len(children) == len(keys)+1.
type interiorNode struct {
	keys     []int64
	children []uint32
}

func readInteriorNode(page []byte) interiorNode {
	n := cellCount(page)
	node := interiorNode{
		keys:     make([]int64, 0, n),
		children: make([]uint32, 0, n+1),
	}
	for i := 0; i < n; i++ {
		off := cellOffset(page, i)
		node.children = append(node.children, binary.BigEndian.Uint32(page[off:off+4]))
		node.keys = append(node.keys, int64(binary.BigEndian.Uint64(page[off+4:off+12])))
	}
	node.children = append(node.children, rightChild(page))
	return node
}

func writeInteriorNode(page []byte, node *interiorNode) {
	initInterior(page)
	if len(node.children) == 0 {
		return
	}
	setRightChild(page, node.children[len(node.children)-1])
	for i := range node.keys {
		insertInteriorCell(page, node.children[i], node.keys[i])
	}
}

// leafLogicalUsedBytes measures live occupancy, ignoring fragmentation from
// deleted cells.
func leafLogicalUsedBytes(page []byte) int {
	n := cellCount(page)
	used := pageHeaderSize + n*cellPtrSize
	for i := 0; i < n; i++ {
		off := cellOffset(page, i)
		payloadSize := int(binary.BigEndian.Uint32(page[off+8 : off+12]))
		if max := maxLocalPayload(len(page)); payloadSize > max {
			payloadSize = max + 4
		}
		used += leafCellHeaderSize + payloadSize
	}
	return used
}

func leafIsUnderfull(page []byte) bool {
	return leafLogicalUsedBytes(page)*minUtilizationDenominator <
		len(page)*minUtilizationNumerator
}

func interiorLogicalUsedBytes(page []byte) int {
	return pageHeaderSize + cellCount(page)*(cellPtrSize+interiorCellSize)
}

func interiorIsUnderfull(page []byte) bool {
	return interiorLogicalUsedBytes(page)*minUtilizationDenominator <
		len(page)*minUtilizationNumerator
}

func interiorKeysFit(keyCount, pageSize int) bool {
	return pageHeaderSize+keyCount*(cellPtrSize+interiorCellSize) <= pageSize
}

func leafEntriesRequiredBytes(entries []leafEntry) int {
	total := pageHeaderSize + len(entries)*cellPtrSize
	for i := range entries {
		total += entries[i].cellSize()
	}
	return total
}

func leafEntriesFit(entries []leafEntry, pageSize int) bool {
	return leafEntriesRequiredBytes(entries) <= pageSize
}
