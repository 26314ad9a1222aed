package btree

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/petra/internal/pager"
)

func newTestTree(t *testing.T) (*pager.Pager, *BTree) {
	t.Helper()
	p, err := pager.Open(filepath.Join(t.TempDir(), "btree.db"))
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	root, err := Create(p)
	if err != nil {
		t.Fatalf("create tree: %v", err)
	}
	return p, New(p, root)
}

func TestEmptyTreeLookup(t *testing.T) {
	_, tree := newTestTree(t)
	_, found, err := tree.Lookup(1)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Error("found key in empty tree")
	}
}

func TestInsertLookupSingle(t *testing.T) {
	_, tree := newTestTree(t)

	if err := tree.Insert(42, []byte("hello world")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, found, err := tree.Lookup(42)
	if err != nil || !found {
		t.Fatalf("Lookup(42) = %v, %v", found, err)
	}
	if string(v) != "hello world" {
		t.Errorf("payload = %q", v)
	}
	if _, found, _ := tree.Lookup(99); found {
		t.Error("Lookup(99) found a missing key")
	}
}

func TestInsertReplacesExisting(t *testing.T) {
	_, tree := newTestTree(t)

	tree.Insert(1, []byte("original"))
	tree.Insert(1, []byte("updated"))

	v, found, _ := tree.Lookup(1)
	if !found || string(v) != "updated" {
		t.Errorf("payload = %q, found=%v", v, found)
	}

	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entry count = %d, want 1", len(entries))
	}
}

func TestScanAllOrdered(t *testing.T) {
	_, tree := newTestTree(t)

	for _, k := range []int64{30, 10, 20, 5, 25} {
		if err := tree.Insert(k, []byte(fmt.Sprintf("v%d", k))); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	want := []int64{5, 10, 20, 25, 30}
	if len(entries) != len(want) {
		t.Fatalf("entry count = %d, want %d", len(entries), len(want))
	}
	for i, k := range want {
		if entries[i].Key != k {
			t.Errorf("entries[%d].Key = %d, want %d", i, entries[i].Key, k)
		}
	}
}

func TestSplitPreservesRootIdentity(t *testing.T) {
	p, tree := newTestTree(t)
	rootBefore := tree.Root()

	// Enough rows to force several levels of splits.
	payload := bytes.Repeat([]byte("x"), 64)
	const n = 2000
	for i := int64(0); i < n; i++ {
		if err := tree.Insert(i, payload); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if tree.Root() != rootBefore {
		t.Errorf("root page changed: %d -> %d", rootBefore, tree.Root())
	}

	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("entry count = %d, want %d", len(entries), n)
	}
	for i, e := range entries {
		if e.Key != int64(i) {
			t.Fatalf("entries[%d].Key = %d", i, e.Key)
		}
	}

	// Spot-check lookups through the interior levels.
	for _, k := range []int64{0, 1, 999, 1000, 1999} {
		if _, found, err := tree.Lookup(k); err != nil || !found {
			t.Errorf("Lookup(%d) = %v, %v", k, found, err)
		}
	}
	_ = p
}

func TestRandomInsertOrder(t *testing.T) {
	_, tree := newTestTree(t)

	rng := rand.New(rand.NewSource(1))
	keys := rng.Perm(1500)
	for _, k := range keys {
		if err := tree.Insert(int64(k), []byte(fmt.Sprintf("val-%d", k))); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(entries) != 1500 {
		t.Fatalf("entry count = %d", len(entries))
	}
	for i, e := range entries {
		if e.Key != int64(i) {
			t.Fatalf("entries[%d].Key = %d", i, e.Key)
		}
		if string(e.Payload) != fmt.Sprintf("val-%d", i) {
			t.Fatalf("entries[%d].Payload = %q", i, e.Payload)
		}
	}
}

func TestScanRange(t *testing.T) {
	_, tree := newTestTree(t)
	for i := int64(1); i <= 10; i++ {
		tree.Insert(i*10, []byte("v"))
	}

	tests := []struct {
		min, max int64
		want     []int64
	}{
		{25, 55, []int64{30, 40, 50}},
		{30, 30, []int64{30}},
		{math.MinInt64, 25, []int64{10, 20}},
		{85, math.MaxInt64, []int64{90, 100}},
		{200, 300, nil},
	}
	for _, tt := range tests {
		entries, err := tree.ScanRange(tt.min, tt.max)
		if err != nil {
			t.Fatalf("ScanRange(%d, %d): %v", tt.min, tt.max, err)
		}
		var got []int64
		for _, e := range entries {
			got = append(got, e.Key)
		}
		if len(got) != len(tt.want) {
			t.Errorf("ScanRange(%d, %d) keys = %v, want %v", tt.min, tt.max, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ScanRange(%d, %d) keys = %v, want %v", tt.min, tt.max, got, tt.want)
				break
			}
		}
	}
}

func TestDeleteSimple(t *testing.T) {
	_, tree := newTestTree(t)
	tree.Insert(1, []byte("one"))
	tree.Insert(2, []byte("two"))

	deleted, err := tree.Delete(1)
	if err != nil || !deleted {
		t.Fatalf("Delete(1) = %v, %v", deleted, err)
	}
	if _, found, _ := tree.Lookup(1); found {
		t.Error("deleted key still found")
	}
	if _, found, _ := tree.Lookup(2); !found {
		t.Error("untouched key missing")
	}

	deleted, err = tree.Delete(1)
	if err != nil {
		t.Fatalf("Delete(1) again: %v", err)
	}
	if deleted {
		t.Error("second delete reported success")
	}
}

func TestDeleteEmptiesRootLeaf(t *testing.T) {
	_, tree := newTestTree(t)
	tree.Insert(7, []byte("x"))
	if deleted, err := tree.Delete(7); err != nil || !deleted {
		t.Fatalf("Delete: %v %v", deleted, err)
	}
	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("ScanAll on empty tree: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
	// The empty tree must still accept inserts.
	if err := tree.Insert(8, []byte("y")); err != nil {
		t.Fatalf("Insert after emptying: %v", err)
	}
}

func TestDeleteManyTriggersRebalanceAndCompaction(t *testing.T) {
	p, tree := newTestTree(t)
	rootBefore := tree.Root()

	payload := bytes.Repeat([]byte("p"), 100)
	const n = 1200
	for i := int64(0); i < n; i++ {
		if err := tree.Insert(i, payload); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	// Delete everything except a handful: the tree must shrink back to a
	// (near-)single-leaf shape with the same root page number.
	for i := int64(0); i < n; i++ {
		if i%97 == 0 {
			continue
		}
		deleted, err := tree.Delete(i)
		if err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
		if !deleted {
			t.Fatalf("Delete(%d) found nothing", i)
		}
	}

	if tree.Root() != rootBefore {
		t.Errorf("root page changed during shrink: %d -> %d", rootBefore, tree.Root())
	}

	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	var want []int64
	for i := int64(0); i < n; i += 97 {
		want = append(want, i)
	}
	if len(entries) != len(want) {
		t.Fatalf("entry count = %d, want %d", len(entries), len(want))
	}
	for i := range want {
		if entries[i].Key != want[i] {
			t.Fatalf("entries[%d].Key = %d, want %d", i, entries[i].Key, want[i])
		}
	}

	// Freed pages must be on the freelist.
	if p.Header().FreelistCount == 0 {
		t.Error("expected freed pages on the freelist after shrink")
	}
}

func TestOverflowPayloadRoundtrip(t *testing.T) {
	p, tree := newTestTree(t)

	big := make([]byte, p.PageSize()*3)
	for i := range big {
		big[i] = byte(i % 251)
	}
	if err := tree.Insert(5, big); err != nil {
		t.Fatalf("Insert big payload: %v", err)
	}
	tree.Insert(1, []byte("small"))

	v, found, err := tree.Lookup(5)
	if err != nil || !found {
		t.Fatalf("Lookup: %v %v", found, err)
	}
	if !bytes.Equal(v, big) {
		t.Error("overflow payload does not roundtrip")
	}

	// Replacing the key must free the old chain and keep the new payload.
	if err := tree.Insert(5, []byte("tiny")); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if p.Header().FreelistCount == 0 {
		t.Error("expected old overflow pages on the freelist")
	}
	v, _, _ = tree.Lookup(5)
	if string(v) != "tiny" {
		t.Errorf("payload after replace = %q", v)
	}
}

func TestMaxKey(t *testing.T) {
	_, tree := newTestTree(t)

	if _, ok, err := tree.MaxKey(); err != nil || ok {
		t.Fatalf("MaxKey on empty tree = ok=%v err=%v", ok, err)
	}
	for i := int64(0); i < 500; i++ {
		tree.Insert(i, []byte("v"))
	}
	max, ok, err := tree.MaxKey()
	if err != nil || !ok {
		t.Fatalf("MaxKey: %v %v", ok, err)
	}
	if max != 499 {
		t.Errorf("MaxKey = %d, want 499", max)
	}
}

func TestReclaimTreeReturnsPagesToFreelist(t *testing.T) {
	p, tree := newTestTree(t)

	payload := bytes.Repeat([]byte("r"), 200)
	for i := int64(0); i < 500; i++ {
		tree.Insert(i, payload)
	}
	big := make([]byte, p.PageSize()*2)
	tree.Insert(1000, big)

	pages, err := CollectTreePages(p, tree.Root())
	if err != nil {
		t.Fatalf("CollectTreePages: %v", err)
	}
	if len(pages) < 3 {
		t.Fatalf("tree only spans %d pages", len(pages))
	}

	freed, err := ReclaimTree(p, tree.Root())
	if err != nil {
		t.Fatalf("ReclaimTree: %v", err)
	}
	if freed != len(pages) {
		t.Errorf("freed %d pages, want %d", freed, len(pages))
	}
	if got := p.Header().FreelistCount; got != uint32(freed) {
		t.Errorf("freelist count = %d, want %d", got, freed)
	}
}

func TestCursorStreams(t *testing.T) {
	_, tree := newTestTree(t)
	for i := int64(0); i < 300; i++ {
		tree.Insert(i, []byte{byte(i)})
	}

	c, err := tree.Seek(100)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	for want := int64(100); want < 300; want++ {
		e, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if e == nil {
			t.Fatalf("cursor exhausted at %d", want)
		}
		if e.Key != want {
			t.Fatalf("cursor key = %d, want %d", e.Key, want)
		}
	}
	if e, _ := c.Next(); e != nil {
		t.Error("cursor yielded past the end")
	}
}
