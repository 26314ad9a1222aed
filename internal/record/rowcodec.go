package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Row payload format:
//
//	column_count(u32) followed by one tagged value per column:
//	  0 = NULL
//	  1 = INTEGER: i64
//	  2 = REAL:    f64 bits
//	  3 = TEXT:    u32 length + UTF-8 bytes
//
// All integers are big-endian.
const (
	tagNull byte = 0
	tagInt  byte = 1
	tagReal byte = 2
	tagText byte = 3
)

var ErrBadRow = errors.New("malformed row payload")

// EncodeRow serializes a row.
func EncodeRow(row Row) []byte {
	size := 4
	for _, v := range row {
		switch v.Kind() {
		case KindNull:
			size++
		case KindInt, KindReal:
			size += 1 + 8
		case KindText:
			size += 1 + 4 + len(v.Text())
		}
	}

	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint32(out, uint32(len(row)))
	for _, v := range row {
		switch v.Kind() {
		case KindNull:
			out = append(out, tagNull)
		case KindInt:
			out = append(out, tagInt)
			out = binary.BigEndian.AppendUint64(out, uint64(v.Int()))
		case KindReal:
			out = append(out, tagReal)
			out = binary.BigEndian.AppendUint64(out, math.Float64bits(v.Real()))
		case KindText:
			s := v.Text()
			out = append(out, tagText)
			out = binary.BigEndian.AppendUint32(out, uint32(len(s)))
			out = append(out, s...)
		}
	}
	return out
}

// DecodeRow parses a row payload.
func DecodeRow(payload []byte) (Row, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: too short", ErrBadRow)
	}
	colCount := int(binary.BigEndian.Uint32(payload))
	offset := 4

	row := make(Row, 0, colCount)
	for c := 0; c < colCount; c++ {
		if offset >= len(payload) {
			return nil, fmt.Errorf("%w: truncated at column %d", ErrBadRow, c)
		}
		tag := payload[offset]
		offset++

		switch tag {
		case tagNull:
			row = append(row, Null())
		case tagInt:
			if offset+8 > len(payload) {
				return nil, fmt.Errorf("%w: truncated integer", ErrBadRow)
			}
			row = append(row, Int(int64(binary.BigEndian.Uint64(payload[offset:]))))
			offset += 8
		case tagReal:
			if offset+8 > len(payload) {
				return nil, fmt.Errorf("%w: truncated real", ErrBadRow)
			}
			row = append(row, Real(math.Float64frombits(binary.BigEndian.Uint64(payload[offset:]))))
			offset += 8
		case tagText:
			if offset+4 > len(payload) {
				return nil, fmt.Errorf("%w: truncated text length", ErrBadRow)
			}
			n := int(binary.BigEndian.Uint32(payload[offset:]))
			offset += 4
			if offset+n > len(payload) {
				return nil, fmt.Errorf("%w: text out of bounds", ErrBadRow)
			}
			s := payload[offset : offset+n]
			if !utf8.Valid(s) {
				return nil, fmt.Errorf("%w: invalid UTF-8 text", ErrBadRow)
			}
			row = append(row, Text(string(s)))
			offset += n
		default:
			return nil, fmt.Errorf("%w: unknown value tag %d", ErrBadRow, tag)
		}
	}
	return row, nil
}
