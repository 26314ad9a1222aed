package pager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
)

// WAL file format:
//
//	header:       magic(8) || version(u32) || page_size(u32)
//	page frame:   frame_type=1 || txn_id(u64) || page_num(u32) || payload_len(u32) || checksum(u32) || page_bytes
//	commit frame: frame_type=2 || txn_id(u64) || frame_count(u32) || checksum(u32)
//
// Checksums are FNV-1a over the preceding frame fields plus the payload.
// A bad checksum or truncated tail discards the frame and every later frame
// belonging to the same open transaction.

var walMagic = [8]byte{'P', 'T', 'R', 'A', 'W', 'A', 'L', '1'}

const (
	walVersion    uint32 = 1
	walHeaderSize        = 16

	frameTypePage   byte = 1
	frameTypeCommit byte = 2
)

var ErrBadWalHeader = errors.New("invalid WAL header")

type walPage struct {
	pageNum uint32
	data    []byte
}

type wal struct {
	file     *os.File
	path     string
	pageSize int
}

func walPathFor(dbPath string) string {
	return dbPath + "-wal"
}

func openWal(dbPath string, pageSize uint32) (*wal, error) {
	path := walPathFor(dbPath)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat WAL: %w", err)
	}

	w := &wal{file: f, path: path, pageSize: int(pageSize)}
	if info.Size() == 0 {
		if err := w.writeHeader(pageSize); err != nil {
			f.Close()
			return nil, err
		}
	} else if err := w.verifyHeader(pageSize); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *wal) close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *wal) writeHeader(pageSize uint32) error {
	buf := make([]byte, walHeaderSize)
	copy(buf, walMagic[:])
	binary.BigEndian.PutUint32(buf[8:], walVersion)
	binary.BigEndian.PutUint32(buf[12:], pageSize)
	if _, err := w.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write WAL header: %w", err)
	}
	return w.file.Sync()
}

func (w *wal) verifyHeader(pageSize uint32) error {
	buf := make([]byte, walHeaderSize)
	if _, err := w.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("read WAL header: %w", err)
	}
	if string(buf[0:8]) != string(walMagic[:]) {
		return fmt.Errorf("%w: bad magic", ErrBadWalHeader)
	}
	if v := binary.BigEndian.Uint32(buf[8:]); v != walVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadWalHeader, v)
	}
	if ps := binary.BigEndian.Uint32(buf[12:]); ps != pageSize {
		return fmt.Errorf("%w: WAL page size %d does not match database page size %d",
			ErrBadWalHeader, ps, pageSize)
	}
	return nil
}

// appendTxn appends one page frame per dirty page followed by a commit frame,
// then fsyncs. After appendTxn returns, the transaction is durable.
func (w *wal) appendTxn(txnID uint64, pages []walPage) error {
	end, err := w.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek WAL: %w", err)
	}

	var buf []byte
	for _, p := range pages {
		if len(p.data) != w.pageSize {
			return fmt.Errorf("WAL frame payload size %d does not match page size %d",
				len(p.data), w.pageSize)
		}
		hdr := make([]byte, 1+8+4+4)
		hdr[0] = frameTypePage
		binary.BigEndian.PutUint64(hdr[1:], txnID)
		binary.BigEndian.PutUint32(hdr[9:], p.pageNum)
		binary.BigEndian.PutUint32(hdr[13:], uint32(len(p.data)))
		sum := checksum32(hdr, p.data)

		buf = append(buf, hdr...)
		buf = binary.BigEndian.AppendUint32(buf, sum)
		buf = append(buf, p.data...)
	}

	commit := make([]byte, 1+8+4)
	commit[0] = frameTypeCommit
	binary.BigEndian.PutUint64(commit[1:], txnID)
	binary.BigEndian.PutUint32(commit[9:], uint32(len(pages)))
	buf = append(buf, commit...)
	buf = binary.BigEndian.AppendUint32(buf, checksum32(commit))

	if _, err := w.file.WriteAt(buf, end); err != nil {
		return fmt.Errorf("append WAL frames: %w", err)
	}
	return w.file.Sync()
}

// readCommittedPages scans the WAL and returns, in encountered order, the page
// writes of every fully committed transaction. Frames after a corrupt or
// truncated frame are discarded along with any open transaction.
func (w *wal) readCommittedPages() ([]walPage, error) {
	info, err := w.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat WAL: %w", err)
	}
	bytes := make([]byte, info.Size())
	if _, err := w.file.ReadAt(bytes, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read WAL: %w", err)
	}
	if len(bytes) < walHeaderSize {
		return nil, fmt.Errorf("%w: file smaller than header", ErrBadWalHeader)
	}

	var committed []walPage
	var pending []walPage
	pendingTxn := uint64(0)
	havePending := false

	offset := walHeaderSize
scan:
	for offset < len(bytes) {
		frameType := bytes[offset]
		offset++

		switch frameType {
		case frameTypePage:
			if len(bytes)-offset < 8+4+4+4 {
				break scan
			}
			txnID := binary.BigEndian.Uint64(bytes[offset:])
			pageNum := binary.BigEndian.Uint32(bytes[offset+8:])
			payloadLen := int(binary.BigEndian.Uint32(bytes[offset+12:]))
			sum := binary.BigEndian.Uint32(bytes[offset+16:])
			offset += 20

			if payloadLen != w.pageSize {
				return nil, fmt.Errorf("WAL frame payload size %d does not match page size %d",
					payloadLen, w.pageSize)
			}
			if len(bytes)-offset < payloadLen {
				break scan
			}
			payload := bytes[offset : offset+payloadLen]
			offset += payloadLen

			hdr := make([]byte, 1+8+4+4)
			hdr[0] = frameTypePage
			binary.BigEndian.PutUint64(hdr[1:], txnID)
			binary.BigEndian.PutUint32(hdr[9:], pageNum)
			binary.BigEndian.PutUint32(hdr[13:], uint32(payloadLen))
			if sum != checksum32(hdr, payload) {
				break scan
			}

			if !havePending || pendingTxn != txnID {
				pendingTxn = txnID
				havePending = true
				pending = pending[:0]
			}
			cp := make([]byte, payloadLen)
			copy(cp, payload)
			pending = append(pending, walPage{pageNum: pageNum, data: cp})

		case frameTypeCommit:
			if len(bytes)-offset < 8+4+4 {
				break scan
			}
			txnID := binary.BigEndian.Uint64(bytes[offset:])
			frameCount := int(binary.BigEndian.Uint32(bytes[offset+8:]))
			sum := binary.BigEndian.Uint32(bytes[offset+12:])
			offset += 16

			hdr := make([]byte, 1+8+4)
			hdr[0] = frameTypeCommit
			binary.BigEndian.PutUint64(hdr[1:], txnID)
			binary.BigEndian.PutUint32(hdr[9:], uint32(frameCount))
			if sum != checksum32(hdr) {
				break scan
			}

			if havePending && pendingTxn == txnID && frameCount == len(pending) {
				committed = append(committed, pending...)
			}
			pending = nil
			havePending = false

		default:
			break scan
		}
	}

	return committed, nil
}

// recover applies every committed WAL transaction to the database file, syncs
// it, and truncates the WAL back to its header. Returns the number of page
// writes applied.
func (w *wal) recover(dbFile *os.File) (int, error) {
	pages, err := w.readCommittedPages()
	if err != nil {
		return 0, err
	}
	if len(pages) > 0 {
		for _, p := range pages {
			off := int64(p.pageNum) * int64(w.pageSize)
			if _, err := dbFile.WriteAt(p.data, off); err != nil {
				return 0, fmt.Errorf("apply WAL page %d: %w", p.pageNum, err)
			}
		}
		if err := dbFile.Sync(); err != nil {
			return 0, fmt.Errorf("sync database after WAL replay: %w", err)
		}
	}
	if err := w.reset(); err != nil {
		return 0, err
	}
	return len(pages), nil
}

func (w *wal) reset() error {
	if err := w.file.Truncate(walHeaderSize); err != nil {
		return fmt.Errorf("truncate WAL: %w", err)
	}
	return w.file.Sync()
}

func checksum32(parts ...[]byte) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum32()
}
