package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
)

// Index keys are i64 B+tree keys derived from column values.
//
// Single-column numeric values map monotonically onto i64 through the ordered
// float64 bit trick, so B+tree byte order matches numeric order. Single-column
// text maps to an 8-byte lexicographic prefix key: the first 7 bytes are
// exact, and the 8th key byte is split into an overlap channel (b8-1, b8)
// chosen by whether the 9th value byte is >= 0x70. The channel trick keeps
// key order non-decreasing while halving collisions among values that share
// an 8-byte prefix. NULL and NaN fall back to a hash key with no ordering
// guarantee.
//
// Multi-column tuples hash their deterministic encoding with FNV-1a; only
// equality probes are order-exact, which the planner accounts for.
//
// Every index payload is a bucket: a list of (exact value bytes, rowid list)
// entries that disambiguates hash and prefix collisions.

const textChannelThreshold = 0x70

// KeyForValue maps a single column value to an index key. ordered reports
// whether key order follows value order (false for the hash fallback).
func KeyForValue(v Value) (key int64, ordered bool) {
	switch v.Kind() {
	case KindInt:
		return orderedFloatKey(float64(v.Int())), true
	case KindReal:
		f := v.Real()
		if math.IsNaN(f) {
			return hashKey(EncodeValues(Row{v})), false
		}
		return orderedFloatKey(f), true
	case KindText:
		return textKey(v.Text()), true
	default:
		return hashKey(EncodeValues(Row{v})), false
	}
}

// TupleKey hashes a multi-column tuple encoding to an index key.
func TupleKey(values Row) int64 {
	return hashKey(EncodeValues(values))
}

// orderedFloatKey maps a finite float64 onto i64 such that key order matches
// numeric order.
func orderedFloatKey(f float64) int64 {
	u := math.Float64bits(f)
	if u&(1<<63) != 0 {
		u = ^u
	} else {
		u |= 1 << 63
	}
	return int64(u ^ (1 << 63))
}

// textKey builds the 8-byte lexicographic prefix key with the overlap
// channel in the final byte.
func textKey(s string) int64 {
	var b [8]byte
	n := len(s)
	for i := 0; i < 7 && i < n; i++ {
		b[i] = s[i]
	}
	if n >= 8 {
		c := s[7]
		if n > 8 && s[8] >= textChannelThreshold {
			b[7] = c
		} else if c > 0 {
			b[7] = c - 1
		}
	}
	u := binary.BigEndian.Uint64(b[:])
	return int64(u ^ (1 << 63))
}

func hashKey(data []byte) int64 {
	h := fnv.New64a()
	h.Write(data)
	return int64(h.Sum64())
}

// EncodeValues serializes a tuple of values with the row-codec value
// encoding, without a leading column count. The per-value encoding is
// self-delimiting, so the encoding of a tuple prefix is a byte prefix of the
// full tuple encoding.
func EncodeValues(values Row) []byte {
	full := EncodeRow(values)
	return full[4:]
}

// DecodeValues parses a tuple encoding produced by EncodeValues.
func DecodeValues(data []byte) (Row, error) {
	buf := make([]byte, 0, 4+len(data))
	buf = binary.BigEndian.AppendUint32(buf, uint32(countEncodedValues(data)))
	buf = append(buf, data...)
	return DecodeRow(buf)
}

func countEncodedValues(data []byte) int {
	count := 0
	offset := 0
	for offset < len(data) {
		tag := data[offset]
		offset++
		switch tag {
		case tagNull:
		case tagInt, tagReal:
			offset += 8
		case tagText:
			if offset+4 > len(data) {
				return count
			}
			n := int(binary.BigEndian.Uint32(data[offset:]))
			offset += 4 + n
		default:
			return count
		}
		count++
	}
	return count
}

// =============================================================================
// index buckets
// =============================================================================

// BucketEntry is one exact value (tuple) and the rowids carrying it.
type BucketEntry struct {
	Value  []byte
	Rowids []int64
}

var ErrBadBucket = errors.New("malformed index bucket")

// DecodeBucket parses a bucket payload.
func DecodeBucket(payload []byte) ([]BucketEntry, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: too short", ErrBadBucket)
	}
	count := int(binary.BigEndian.Uint32(payload))
	offset := 4

	entries := make([]BucketEntry, 0, count)
	for i := 0; i < count; i++ {
		if offset+4 > len(payload) {
			return nil, fmt.Errorf("%w: truncated value length", ErrBadBucket)
		}
		vlen := int(binary.BigEndian.Uint32(payload[offset:]))
		offset += 4
		if offset+vlen > len(payload) {
			return nil, fmt.Errorf("%w: value out of bounds", ErrBadBucket)
		}
		value := make([]byte, vlen)
		copy(value, payload[offset:offset+vlen])
		offset += vlen

		if offset+4 > len(payload) {
			return nil, fmt.Errorf("%w: truncated rowid count", ErrBadBucket)
		}
		rcount := int(binary.BigEndian.Uint32(payload[offset:]))
		offset += 4
		if offset+8*rcount > len(payload) {
			return nil, fmt.Errorf("%w: rowids out of bounds", ErrBadBucket)
		}
		rowids := make([]int64, 0, rcount)
		for r := 0; r < rcount; r++ {
			rowids = append(rowids, int64(binary.BigEndian.Uint64(payload[offset:])))
			offset += 8
		}
		entries = append(entries, BucketEntry{Value: value, Rowids: rowids})
	}
	return entries, nil
}

// EncodeBucket serializes bucket entries.
func EncodeBucket(entries []BucketEntry) []byte {
	var out []byte
	out = binary.BigEndian.AppendUint32(out, uint32(len(entries)))
	for _, e := range entries {
		out = binary.BigEndian.AppendUint32(out, uint32(len(e.Value)))
		out = append(out, e.Value...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(e.Rowids)))
		for _, rid := range e.Rowids {
			out = binary.BigEndian.AppendUint64(out, uint64(rid))
		}
	}
	return out
}

// BucketAdd returns the bucket payload with rowid recorded under value.
// payload may be nil for a fresh bucket.
func BucketAdd(payload, value []byte, rowid int64) ([]byte, error) {
	var entries []BucketEntry
	if len(payload) > 0 {
		var err error
		entries, err = DecodeBucket(payload)
		if err != nil {
			return nil, err
		}
	}
	found := false
	for i := range entries {
		if bytes.Equal(entries[i].Value, value) {
			entries[i].Rowids = append(entries[i].Rowids, rowid)
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, BucketEntry{Value: append([]byte(nil), value...), Rowids: []int64{rowid}})
	}
	return EncodeBucket(entries), nil
}

// BucketRemove returns the bucket payload without rowid under value. The
// second result is true when the bucket became empty and the index entry
// should be deleted.
func BucketRemove(payload, value []byte, rowid int64) ([]byte, bool, error) {
	entries, err := DecodeBucket(payload)
	if err != nil {
		return nil, false, err
	}
	for i := range entries {
		if !bytes.Equal(entries[i].Value, value) {
			continue
		}
		rowids := entries[i].Rowids
		for j, rid := range rowids {
			if rid == rowid {
				entries[i].Rowids = append(rowids[:j], rowids[j+1:]...)
				break
			}
		}
		if len(entries[i].Rowids) == 0 {
			entries = append(entries[:i], entries[i+1:]...)
		}
		break
	}
	if len(entries) == 0 {
		return nil, true, nil
	}
	return EncodeBucket(entries), false, nil
}

// BucketRowids returns the rowids stored under an exact value.
func BucketRowids(payload, value []byte) ([]int64, error) {
	entries, err := DecodeBucket(payload)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if bytes.Equal(e.Value, value) {
			return e.Rowids, nil
		}
	}
	return nil, nil
}
