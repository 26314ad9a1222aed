// Package pager manages fixed-size page I/O between a single database file
// and an in-memory buffer pool, with a write-ahead log for atomic commit and
// crash recovery.
//
// Dirty pages are never written directly to the database file. A dirty page
// evicted from the pool is moved to an in-memory spill map and stays there
// until Commit copies every dirty page through the WAL into the file. This
// keeps uncommitted writes invisible to the file at all times.
package pager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// DefaultPoolSize is the default number of frames in the buffer pool.
const DefaultPoolSize = 256

var (
	ErrInvalidPageNum = errors.New("invalid page number")
	ErrPagePinned     = errors.New("buffer pool full: all pages are pinned")
	ErrDoubleFree     = errors.New("page is already on the freelist")
)

// frame is a single in-memory page.
type frame struct {
	data       []byte
	dirty      bool
	pinCount   int
	lastAccess uint64
}

// Pager manages reading and writing pages of a database file.
type Pager struct {
	file   *os.File
	path   string
	header FileHeader

	// headerDirty is set when the in-memory header diverges from disk.
	headerDirty bool

	pool      map[uint32]*frame
	maxFrames int

	// spilled holds dirty pages evicted from the pool before commit.
	spilled map[uint32][]byte

	// accessCounter drives LRU ordering.
	accessCounter uint64

	wal       *wal
	txnIDNext uint64
}

// Open opens or creates a database file, replaying any committed WAL
// transactions left behind by a crash.
func Open(path string) (*Pager, error) {
	return OpenWithPoolSize(path, DefaultPoolSize)
}

// OpenWithPoolSize opens a database with a specific buffer pool capacity.
func OpenWithPoolSize(path string, maxFrames int) (*Pager, error) {
	if maxFrames < 2 {
		return nil, fmt.Errorf("pool size %d too small", maxFrames)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open database file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat database file: %w", err)
	}

	var header FileHeader
	if info.Size() == 0 {
		header = NewFileHeader(DefaultPageSize)
		page0 := make([]byte, header.PageSize)
		header.Serialize(page0)
		if _, err := file.WriteAt(page0, 0); err != nil {
			file.Close()
			return nil, fmt.Errorf("write initial header: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, fmt.Errorf("sync new database: %w", err)
		}
	} else {
		buf := make([]byte, HeaderSize)
		if _, err := file.ReadAt(buf, 0); err != nil {
			file.Close()
			return nil, fmt.Errorf("read header: %w", err)
		}
		header, err = ParseFileHeader(buf)
		if err != nil {
			file.Close()
			return nil, err
		}
	}

	w, err := openWal(path, header.PageSize)
	if err != nil {
		file.Close()
		return nil, err
	}

	p := &Pager{
		file:      file,
		path:      path,
		header:    header,
		pool:      make(map[uint32]*frame),
		maxFrames: maxFrames,
		spilled:   make(map[uint32][]byte),
		wal:       w,
		txnIDNext: 1,
	}

	// Finish any transaction whose commit frame made it to disk but whose
	// pages were not yet applied to the database file.
	if _, err := p.wal.recover(p.file); err != nil {
		p.wal.close()
		file.Close()
		return nil, err
	}

	// Replay may have rewritten page 0; re-read the header.
	if err := p.reloadHeader(); err != nil {
		p.wal.close()
		file.Close()
		return nil, err
	}

	return p, nil
}

func (p *Pager) reloadHeader() error {
	buf := make([]byte, HeaderSize)
	if _, err := p.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("re-read header: %w", err)
	}
	header, err := ParseFileHeader(buf)
	if err != nil {
		return err
	}
	p.header = header
	p.headerDirty = false
	return nil
}

// Close closes the pager, discarding any uncommitted changes.
func (p *Pager) Close() error {
	var firstErr error
	if p.wal != nil {
		if err := p.wal.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.wal = nil
	}
	if p.file != nil {
		if err := p.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.file = nil
	}
	p.pool = nil
	p.spilled = nil
	return firstErr
}

// Path returns the database file path.
func (p *Pager) Path() string { return p.path }

// PageSize returns the page size in bytes.
func (p *Pager) PageSize() int { return int(p.header.PageSize) }

// PageCount returns the number of pages in the database.
func (p *Pager) PageCount() uint32 { return p.header.PageCount }

// Header returns a pointer to the in-memory file header. Callers that mutate
// it must call MarkHeaderDirty so the change is staged at the next commit.
func (p *Pager) Header() *FileHeader { return &p.header }

// MarkHeaderDirty records that the in-memory header must be written out.
func (p *Pager) MarkHeaderDirty() { p.headerDirty = true }

// ReadPage returns the bytes of a page. The slice is valid until the next
// operation that may evict unpinned pages; pin the page to keep it resident.
func (p *Pager) ReadPage(pageNum uint32) ([]byte, error) {
	f, err := p.ensureLoaded(pageNum)
	if err != nil {
		return nil, err
	}
	p.touch(f)
	return f.data, nil
}

// WritePage returns the bytes of a page and marks it dirty.
func (p *Pager) WritePage(pageNum uint32) ([]byte, error) {
	f, err := p.ensureLoaded(pageNum)
	if err != nil {
		return nil, err
	}
	p.touch(f)
	f.dirty = true
	return f.data, nil
}

// Pin marks a page ineligible for eviction, loading it into the pool first
// when it is not resident. Pins nest. A page that cannot be loaded is not
// pinned.
func (p *Pager) Pin(pageNum uint32) {
	f, err := p.ensureLoaded(pageNum)
	if err != nil {
		return
	}
	f.pinCount++
}

// Unpin releases one pin on a page.
func (p *Pager) Unpin(pageNum uint32) {
	if f, ok := p.pool[pageNum]; ok && f.pinCount > 0 {
		f.pinCount--
	}
}

// AllocatePage returns a zeroed page, reusing the freelist head when one is
// available and extending the file otherwise.
func (p *Pager) AllocatePage() (uint32, error) {
	if head := p.header.FreelistHead; head != 0 {
		if head >= p.header.PageCount {
			return 0, fmt.Errorf("%w: freelist head %d beyond page count %d",
				ErrInvalidPageNum, head, p.header.PageCount)
		}
		data, err := p.ReadPage(head)
		if err != nil {
			return 0, err
		}
		next := binary.BigEndian.Uint32(data[0:4])

		buf, err := p.WritePage(head)
		if err != nil {
			return 0, err
		}
		for i := range buf {
			buf[i] = 0
		}

		p.header.FreelistHead = next
		p.header.FreelistCount--
		p.headerDirty = true
		return head, nil
	}

	pageNum := p.header.PageCount
	p.header.PageCount++
	p.headerDirty = true

	if err := p.evictIfFull(); err != nil {
		return 0, err
	}
	p.accessCounter++
	p.pool[pageNum] = &frame{
		data:       make([]byte, p.header.PageSize),
		dirty:      true,
		lastAccess: p.accessCounter,
	}
	return pageNum, nil
}

// FreePage pushes a page onto the freelist. Freeing page 0, a page beyond the
// file, or a page already on the freelist is an error.
func (p *Pager) FreePage(pageNum uint32) error {
	if pageNum == 0 || pageNum >= p.header.PageCount {
		return fmt.Errorf("%w: cannot free page %d (page count %d)",
			ErrInvalidPageNum, pageNum, p.header.PageCount)
	}

	// Walk the chain to reject duplicate frees.
	cur := p.header.FreelistHead
	for steps := uint32(0); cur != 0; steps++ {
		if cur == pageNum {
			return fmt.Errorf("%w: page %d", ErrDoubleFree, pageNum)
		}
		if steps > p.header.FreelistCount {
			return fmt.Errorf("freelist cycle detected at page %d", cur)
		}
		data, err := p.ReadPage(cur)
		if err != nil {
			return err
		}
		cur = binary.BigEndian.Uint32(data[0:4])
	}

	buf, err := p.WritePage(pageNum)
	if err != nil {
		return err
	}
	for i := range buf {
		buf[i] = 0
	}
	binary.BigEndian.PutUint32(buf[0:4], p.header.FreelistHead)

	p.header.FreelistHead = pageNum
	p.header.FreelistCount++
	p.headerDirty = true
	return nil
}

// HasUncommitted reports whether any dirty or spilled pages (or a header
// change) are waiting for commit.
func (p *Pager) HasUncommitted() bool {
	if p.headerDirty || len(p.spilled) > 0 {
		return true
	}
	for _, f := range p.pool {
		if f.dirty {
			return true
		}
	}
	return false
}

// Commit makes all pending writes durable:
//
//  1. stage the header into page 0 if it changed,
//  2. append a WAL page frame for every dirty page (pooled and spilled),
//  3. append a commit frame and fsync the WAL,
//  4. copy the frames into the database file and fsync it,
//  5. drop dirty flags and clear the spill map.
//
// A crash between steps 3 and 4 is recovered on the next open by replaying
// the committed WAL transaction.
func (p *Pager) Commit() error {
	if p.headerDirty {
		page0, err := p.WritePage(0)
		if err != nil {
			return err
		}
		p.header.Serialize(page0)
	}

	pages := p.collectDirty()
	if len(pages) == 0 {
		return nil
	}

	txnID := p.txnIDNext
	p.txnIDNext++
	if err := p.wal.appendTxn(txnID, pages); err != nil {
		return err
	}

	for _, pg := range pages {
		off := int64(pg.pageNum) * int64(p.header.PageSize)
		if _, err := p.file.WriteAt(pg.data, off); err != nil {
			return fmt.Errorf("write page %d: %w", pg.pageNum, err)
		}
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("sync database file: %w", err)
	}

	for _, f := range p.pool {
		f.dirty = false
	}
	p.spilled = make(map[uint32][]byte)
	p.headerDirty = false
	return nil
}

// Checkpoint commits pending writes, replays any committed WAL content into
// the database file, and truncates the WAL.
func (p *Pager) Checkpoint() error {
	if err := p.Commit(); err != nil {
		return err
	}
	if _, err := p.wal.recover(p.file); err != nil {
		return err
	}
	return nil
}

// collectDirty gathers every dirty page, pooled and spilled, in page order.
func (p *Pager) collectDirty() []walPage {
	var pages []walPage
	for pageNum, f := range p.pool {
		if f.dirty {
			cp := make([]byte, len(f.data))
			copy(cp, f.data)
			pages = append(pages, walPage{pageNum: pageNum, data: cp})
		}
	}
	for pageNum, data := range p.spilled {
		cp := make([]byte, len(data))
		copy(cp, data)
		pages = append(pages, walPage{pageNum: pageNum, data: cp})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].pageNum < pages[j].pageNum })
	return pages
}

func (p *Pager) ensureLoaded(pageNum uint32) (*frame, error) {
	if f, ok := p.pool[pageNum]; ok {
		return f, nil
	}
	if pageNum >= p.header.PageCount {
		return nil, fmt.Errorf("%w: page %d out of range (page count %d)",
			ErrInvalidPageNum, pageNum, p.header.PageCount)
	}

	if err := p.evictIfFull(); err != nil {
		return nil, err
	}

	// A page spilled before commit must be seen with its dirty contents,
	// never the stale on-disk bytes.
	if data, ok := p.spilled[pageNum]; ok {
		delete(p.spilled, pageNum)
		p.accessCounter++
		f := &frame{data: data, dirty: true, lastAccess: p.accessCounter}
		p.pool[pageNum] = f
		return f, nil
	}

	data := make([]byte, p.header.PageSize)
	off := int64(pageNum) * int64(p.header.PageSize)
	if _, err := p.file.ReadAt(data, off); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read page %d: %w", pageNum, err)
	}

	p.accessCounter++
	f := &frame{data: data, lastAccess: p.accessCounter}
	p.pool[pageNum] = f
	return f, nil
}

// evictIfFull evicts LRU unpinned pages until a frame slot is available.
// Dirty victims move to the spill map; clean victims are dropped.
func (p *Pager) evictIfFull() error {
	for len(p.pool) >= p.maxFrames {
		var victim uint32
		var victimFrame *frame
		for pageNum, f := range p.pool {
			if f.pinCount > 0 {
				continue
			}
			if victimFrame == nil || f.lastAccess < victimFrame.lastAccess {
				victim = pageNum
				victimFrame = f
			}
		}
		if victimFrame == nil {
			return ErrPagePinned
		}
		if victimFrame.dirty {
			p.spilled[victim] = victimFrame.data
		}
		delete(p.pool, victim)
	}
	return nil
}

func (p *Pager) touch(f *frame) {
	p.accessCounter++
	f.lastAccess = p.accessCounter
}
