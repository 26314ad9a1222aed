package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/petra/internal/pager"
)

// Overflow pages hold payload bytes that do not fit in a leaf cell. Each
// overflow page stores the next page number in its first 4 bytes followed by
// payload data; 0 terminates the chain.

func writeOverflowChain(p *pager.Pager, data []byte) (uint32, error) {
	capacity := p.PageSize() - 4

	current, err := p.AllocatePage()
	if err != nil {
		return 0, err
	}
	first := current

	written := 0
	for written < len(data) {
		remaining := len(data) - written
		chunk := remaining
		if chunk > capacity {
			chunk = capacity
		}

		var next uint32
		if remaining > chunk {
			next, err = p.AllocatePage()
			if err != nil {
				return 0, err
			}
		}

		page, err := p.WritePage(current)
		if err != nil {
			return 0, err
		}
		binary.BigEndian.PutUint32(page[0:4], next)
		copy(page[4:], data[written:written+chunk])

		written += chunk
		current = next
	}
	return first, nil
}

func readOverflowChain(p *pager.Pager, start uint32, length int) ([]byte, error) {
	capacity := p.PageSize() - 4
	out := make([]byte, 0, length)
	current := start

	for len(out) < length {
		if current == 0 {
			return nil, fmt.Errorf("%w: overflow chain ends after %d of %d bytes",
				ErrCorrupt, len(out), length)
		}
		page, err := p.ReadPage(current)
		if err != nil {
			return nil, err
		}
		next := binary.BigEndian.Uint32(page[0:4])
		needed := length - len(out)
		if needed > capacity {
			needed = capacity
		}
		out = append(out, page[4:4+needed]...)
		current = next
	}
	return out, nil
}

// freeOverflowChain returns every page of an overflow chain to the freelist.
func freeOverflowChain(p *pager.Pager, start uint32) error {
	current := start
	for current != 0 {
		page, err := p.ReadPage(current)
		if err != nil {
			return err
		}
		next := binary.BigEndian.Uint32(page[0:4])
		if err := p.FreePage(current); err != nil {
			return err
		}
		current = next
	}
	return nil
}

// collectOverflowChain appends the page numbers of an overflow chain to out.
func collectOverflowChain(p *pager.Pager, start uint32, out *[]uint32, visited map[uint32]bool) error {
	current := start
	for current != 0 {
		if visited[current] {
			return fmt.Errorf("%w: duplicate or cyclic overflow page reference: %d",
				ErrCorrupt, current)
		}
		visited[current] = true
		*out = append(*out, current)

		page, err := p.ReadPage(current)
		if err != nil {
			return err
		}
		current = binary.BigEndian.Uint32(page[0:4])
	}
	return nil
}
