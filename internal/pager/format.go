package pager

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic bytes identifying a petra database file.
var Magic = [4]byte{'P', 'T', 'R', 'A'}

// FormatVersion is the on-disk format version. A mismatch refuses to open.
const FormatVersion uint32 = 1

// DefaultPageSize is the page size used for new databases.
const DefaultPageSize = 4096

// HeaderSize is the size of the file header at the start of page 0.
const HeaderSize = 100

// Header field offsets within the 100-byte file header.
const (
	offMagic         = 0
	offVersion       = 4
	offPageSize      = 8
	offPageCount     = 12
	offFreelistHead  = 16
	offFreelistCount = 20
	offSchemaRoot    = 24
)

var (
	ErrBadMagic   = errors.New("invalid database header (bad magic)")
	ErrBadVersion = errors.New("unsupported database format version")
)

// FileHeader is the database file header stored in the first 100 bytes of
// page 0. All integers are big-endian on disk.
type FileHeader struct {
	// PageSize is the page size in bytes.
	PageSize uint32

	// PageCount is the total number of pages in the file, including page 0.
	PageCount uint32

	// FreelistHead is the first page of the freelist chain (0 = empty).
	FreelistHead uint32

	// FreelistCount is the number of pages on the freelist.
	FreelistCount uint32

	// SchemaRoot is the root page of the schema catalog B+tree (0 = not
	// yet initialized).
	SchemaRoot uint32
}

// NewFileHeader returns the header for a freshly created database: one page
// (the header page itself), no freelist, no schema.
func NewFileHeader(pageSize uint32) FileHeader {
	return FileHeader{
		PageSize:  pageSize,
		PageCount: 1,
	}
}

// Serialize writes the header into the first HeaderSize bytes of buf.
func (h *FileHeader) Serialize(buf []byte) {
	if len(buf) < HeaderSize {
		panic("pager: buffer too small for file header")
	}
	for i := range buf[:HeaderSize] {
		buf[i] = 0
	}
	copy(buf[offMagic:], Magic[:])
	binary.BigEndian.PutUint32(buf[offVersion:], FormatVersion)
	binary.BigEndian.PutUint32(buf[offPageSize:], h.PageSize)
	binary.BigEndian.PutUint32(buf[offPageCount:], h.PageCount)
	binary.BigEndian.PutUint32(buf[offFreelistHead:], h.FreelistHead)
	binary.BigEndian.PutUint32(buf[offFreelistCount:], h.FreelistCount)
	binary.BigEndian.PutUint32(buf[offSchemaRoot:], h.SchemaRoot)
}

// ParseFileHeader decodes and validates a file header.
func ParseFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < HeaderSize {
		return FileHeader{}, fmt.Errorf("header too short: %d bytes", len(buf))
	}
	if string(buf[offMagic:offMagic+4]) != string(Magic[:]) {
		return FileHeader{}, ErrBadMagic
	}
	if v := binary.BigEndian.Uint32(buf[offVersion:]); v != FormatVersion {
		return FileHeader{}, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	h := FileHeader{
		PageSize:      binary.BigEndian.Uint32(buf[offPageSize:]),
		PageCount:     binary.BigEndian.Uint32(buf[offPageCount:]),
		FreelistHead:  binary.BigEndian.Uint32(buf[offFreelistHead:]),
		FreelistCount: binary.BigEndian.Uint32(buf[offFreelistCount:]),
		SchemaRoot:    binary.BigEndian.Uint32(buf[offSchemaRoot:]),
	}
	if h.PageSize < 512 || h.PageSize&(h.PageSize-1) != 0 {
		return FileHeader{}, fmt.Errorf("invalid page size %d in header", h.PageSize)
	}
	return h, nil
}
