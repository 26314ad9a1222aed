package engine

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/petra/internal/btree"
	"github.com/FocuswithJustin/petra/internal/schema"
)

// ObjectReport summarizes one catalog object in an integrity check.
type ObjectReport struct {
	Name  string
	Type  string // "table", "index", or "schema"
	Pages int

	// Digest is a BLAKE3 hash over the object's logical content
	// (key/payload pairs in key order), stable across page layout.
	Digest string
}

// IntegrityReport is the result of a full database audit.
type IntegrityReport struct {
	Objects   []ObjectReport
	FreePages int
	Pages     uint32
}

// CheckIntegrity audits page reachability and content digests:
// every page except page 0 must be referenced by exactly one of the schema
// tree, an object tree (overflow chains included), or the freelist.
func (db *DB) CheckIntegrity() (*IntegrityReport, error) {
	p := db.pager
	report := &IntegrityReport{Pages: p.PageCount()}
	owner := make(map[uint32]string)

	claim := func(pages []uint32, name string) error {
		for _, pg := range pages {
			if prev, ok := owner[pg]; ok {
				return newError(KindCorruption,
					"page %d referenced by both %s and %s", pg, prev, name)
			}
			owner[pg] = name
		}
		return nil
	}

	// Schema tree.
	schemaRoot := p.Header().SchemaRoot
	if schemaRoot != 0 {
		pages, err := btree.CollectTreePages(p, schemaRoot)
		if err != nil {
			return nil, wrapError(err)
		}
		if err := claim(pages, "schema"); err != nil {
			return nil, err
		}
		digest, err := db.treeDigest(schemaRoot)
		if err != nil {
			return nil, wrapError(err)
		}
		report.Objects = append(report.Objects, ObjectReport{
			Name: "schema", Type: "schema", Pages: len(pages), Digest: digest,
		})
	}

	// Catalog objects.
	entries, err := schema.ListTables(p)
	if err != nil {
		return nil, wrapError(err)
	}
	indexEntries, err := schema.ListIndexes(p)
	if err != nil {
		return nil, wrapError(err)
	}
	type object struct {
		name string
		typ  string
		root uint32
	}
	var objects []object
	for _, e := range entries {
		objects = append(objects, object{name: e.Name, typ: "table", root: e.RootPage})
	}
	for _, e := range indexEntries {
		objects = append(objects, object{name: e.Name, typ: "index", root: e.RootPage})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].name < objects[j].name })

	for _, obj := range objects {
		pages, err := btree.CollectTreePages(p, obj.root)
		if err != nil {
			return nil, wrapError(err)
		}
		if err := claim(pages, obj.typ+" "+obj.name); err != nil {
			return nil, err
		}
		digest, err := db.treeDigest(obj.root)
		if err != nil {
			return nil, wrapError(err)
		}
		report.Objects = append(report.Objects, ObjectReport{
			Name: obj.name, Type: obj.typ, Pages: len(pages), Digest: digest,
		})
	}

	// Freelist.
	freePages, err := db.walkFreelist()
	if err != nil {
		return nil, err
	}
	if err := claim(freePages, "freelist"); err != nil {
		return nil, err
	}
	report.FreePages = len(freePages)

	// Every non-zero page must be owned.
	for pg := uint32(1); pg < p.PageCount(); pg++ {
		if _, ok := owner[pg]; !ok {
			return nil, newError(KindCorruption, "page %d is unreferenced", pg)
		}
	}
	return report, nil
}

// treeDigest hashes a tree's logical content in key order.
func (db *DB) treeDigest(root uint32) (string, error) {
	tree := btree.New(db.pager, root)
	entries, err := tree.ScanAll()
	if err != nil {
		return "", err
	}
	h := blake3.New()
	var buf [8]byte
	for _, e := range entries {
		binary.BigEndian.PutUint64(buf[:], uint64(e.Key))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(len(e.Payload)))
		h.Write(buf[:])
		h.Write(e.Payload)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// walkFreelist returns the freelist chain, validating its length.
func (db *DB) walkFreelist() ([]uint32, error) {
	p := db.pager
	var pages []uint32
	cur := p.Header().FreelistHead
	for cur != 0 {
		if uint32(len(pages)) > p.Header().FreelistCount {
			return nil, newError(KindCorruption,
				"freelist chain longer than freelist count %d", p.Header().FreelistCount)
		}
		pages = append(pages, cur)
		data, err := p.ReadPage(cur)
		if err != nil {
			return nil, wrapError(err)
		}
		cur = binary.BigEndian.Uint32(data[0:4])
	}
	if uint32(len(pages)) != p.Header().FreelistCount {
		return nil, newError(KindCorruption,
			"freelist count %d does not match chain length %d",
			p.Header().FreelistCount, len(pages))
	}
	return pages, nil
}

// String renders a short human-readable summary.
func (r *IntegrityReport) String() string {
	s := fmt.Sprintf("%d pages, %d free", r.Pages, r.FreePages)
	for _, obj := range r.Objects {
		s += fmt.Sprintf("\n%s %s: %d pages, blake3 %s", obj.Type, obj.Name, obj.Pages, obj.Digest[:16])
	}
	return s
}
