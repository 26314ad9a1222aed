package record

import (
	"bytes"
	"math"
	"testing"
)

func TestRowCodecRoundtrip(t *testing.T) {
	rows := []Row{
		nil,
		{Null()},
		{Int(42), Text("alice"), Real(3.5), Null()},
		{Int(math.MinInt64), Int(math.MaxInt64)},
		{Text(""), Text("héllo wörld"), Text("with\x00nul? no: utf-8 only")},
		{Real(math.Inf(1)), Real(math.Inf(-1)), Real(0)},
	}
	for _, row := range rows {
		payload := EncodeRow(row)
		got, err := DecodeRow(payload)
		if err != nil {
			t.Fatalf("DecodeRow(%v): %v", row, err)
		}
		if len(got) != len(row) {
			t.Fatalf("column count = %d, want %d", len(got), len(row))
		}
		for i := range row {
			if got[i].Kind() != row[i].Kind() || !Equal(got[i], row[i]) {
				t.Errorf("column %d = %v, want %v", i, got[i], row[i])
			}
		}
	}
}

func TestDecodeRowRejectsGarbage(t *testing.T) {
	bad := [][]byte{
		nil,
		{1, 2},
		{0, 0, 0, 1, 9},          // unknown tag
		{0, 0, 0, 1, 1, 0},       // truncated integer
		{0, 0, 0, 1, 3, 0, 0, 0, 9, 'x'}, // text out of bounds
	}
	for _, payload := range bad {
		if _, err := DecodeRow(payload); err == nil {
			t.Errorf("DecodeRow(%v) accepted garbage", payload)
		}
	}
}

func TestNumericKeyOrdering(t *testing.T) {
	values := []Value{
		Real(-1e300),
		Int(math.MinInt64),
		Real(-2.5),
		Int(-1),
		Real(-0.5),
		Int(0),
		Real(0.5),
		Int(1),
		Real(2.5),
		Int(1000000),
		Real(1e300),
	}
	var prev int64
	for i, v := range values {
		key, ordered := KeyForValue(v)
		if !ordered {
			t.Fatalf("KeyForValue(%v) not ordered", v)
		}
		if i > 0 && key <= prev {
			t.Errorf("key(%v) = %d not greater than previous %d", v, key, prev)
		}
		prev = key
	}
}

func TestNumericKeyIntRealAgreement(t *testing.T) {
	a, _ := KeyForValue(Int(7))
	b, _ := KeyForValue(Real(7.0))
	if a != b {
		t.Errorf("key(7) = %d, key(7.0) = %d", a, b)
	}
}

func TestNaNAndNullFallBackToHash(t *testing.T) {
	if _, ordered := KeyForValue(Real(math.NaN())); ordered {
		t.Error("NaN key claims ordering")
	}
	if _, ordered := KeyForValue(Null()); ordered {
		t.Error("NULL key claims ordering")
	}
}

func TestTextKeyNonDecreasing(t *testing.T) {
	// Sorted inputs must produce non-decreasing keys, including the
	// overlap-channel cases around the 8-byte boundary.
	sorted := []string{
		"",
		"a",
		"abcdef",
		"abcdefg",
		"abcdefgh",
		"abcdefgh0",       // 9th byte < 0x70: low channel
		"abcdefghz",       // 9th byte >= 0x70: high channel
		"abcdefghzzzz",
		"abcdefgi",
		"b",
		"zzzzzzzzzzzz",
	}
	var prev int64
	for i, s := range sorted {
		key, ordered := KeyForValue(Text(s))
		if !ordered {
			t.Fatalf("text key for %q not ordered", s)
		}
		if i > 0 && key < prev {
			t.Errorf("key(%q) = %d decreased below %d", s, key, prev)
		}
		prev = key
	}
}

func TestTextKeyChannelSplitsLongValues(t *testing.T) {
	low, _ := KeyForValue(Text("abcdefgh0suffix"))
	high, _ := KeyForValue(Text("abcdefghzsuffix"))
	if low >= high {
		t.Errorf("overlap channel did not separate suffixes: %d vs %d", low, high)
	}
}

func TestTupleKeyDeterministic(t *testing.T) {
	a := TupleKey(Row{Int(1), Text("x")})
	b := TupleKey(Row{Int(1), Text("x")})
	c := TupleKey(Row{Int(1), Text("y")})
	if a != b {
		t.Error("same tuple hashed differently")
	}
	if a == c {
		t.Error("distinct tuples collided (possible but not for these inputs)")
	}
}

func TestEncodeValuesPrefixProperty(t *testing.T) {
	full := EncodeValues(Row{Int(1), Text("abc"), Real(2.5)})
	prefix := EncodeValues(Row{Int(1), Text("abc")})
	if !bytes.HasPrefix(full, prefix) {
		t.Error("tuple prefix encoding is not a byte prefix of the full encoding")
	}
	decoded, err := DecodeValues(full)
	if err != nil {
		t.Fatalf("DecodeValues: %v", err)
	}
	if len(decoded) != 3 || decoded[1].Text() != "abc" {
		t.Errorf("DecodeValues = %v", decoded)
	}
}

func TestBucketAddRemove(t *testing.T) {
	v1 := EncodeValues(Row{Int(10)})
	v2 := EncodeValues(Row{Int(20)})

	payload, err := BucketAdd(nil, v1, 100)
	if err != nil {
		t.Fatalf("BucketAdd: %v", err)
	}
	payload, _ = BucketAdd(payload, v1, 101)
	payload, _ = BucketAdd(payload, v2, 200)

	rowids, err := BucketRowids(payload, v1)
	if err != nil {
		t.Fatalf("BucketRowids: %v", err)
	}
	if len(rowids) != 2 || rowids[0] != 100 || rowids[1] != 101 {
		t.Errorf("rowids(v1) = %v", rowids)
	}
	rowids, _ = BucketRowids(payload, v2)
	if len(rowids) != 1 || rowids[0] != 200 {
		t.Errorf("rowids(v2) = %v", rowids)
	}
	if ids, _ := BucketRowids(payload, EncodeValues(Row{Int(30)})); ids != nil {
		t.Errorf("rowids(missing) = %v", ids)
	}

	payload, empty, err := BucketRemove(payload, v1, 100)
	if err != nil || empty {
		t.Fatalf("BucketRemove: empty=%v err=%v", empty, err)
	}
	rowids, _ = BucketRowids(payload, v1)
	if len(rowids) != 1 || rowids[0] != 101 {
		t.Errorf("rowids(v1) after remove = %v", rowids)
	}

	payload, empty, _ = BucketRemove(payload, v1, 101)
	if empty {
		t.Fatal("bucket emptied while v2 remains")
	}
	_, empty, _ = BucketRemove(payload, v2, 200)
	if !empty {
		t.Error("bucket not reported empty after last removal")
	}
}

func TestSortCompareNullNumberText(t *testing.T) {
	ordered := []Value{Null(), Int(-5), Real(0.5), Int(3), Text(""), Text("a")}
	for i := 0; i < len(ordered); i++ {
		for j := 0; j < len(ordered); j++ {
			got := SortCompare(ordered[i], ordered[j])
			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = 1
			}
			if got != want && !(got == 0 && want == 0) {
				if (got < 0) != (want < 0) || (got > 0) != (want > 0) {
					t.Errorf("SortCompare(%v, %v) = %d, want sign of %d",
						ordered[i], ordered[j], got, want)
				}
			}
		}
	}
}

func TestValueTruthiness(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{Null(), false},
		{Int(0), false},
		{Int(1), true},
		{Real(0), false},
		{Real(0.1), true},
		{Text(""), false},
		{Text("x"), true},
	}
	for _, tt := range tests {
		if got := tt.v.Truthy(); got != tt.want {
			t.Errorf("Truthy(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}
