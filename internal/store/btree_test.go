package store

import (
	"path/filepath"
	"testing"
)

func TestTreeInsertAndQuery(t *testing.T) {
	tree := NewTree()
	for i := uint32(0); i <= 500; i++ {
		tree.Insert(i, i*10)
	}
	for i := uint32(0); i <= 500; i++ {
		v, ok := tree.Query(i)
		if !ok {
			t.Fatalf("key %d not found", i)
		}
		if v != i*10 {
			t.Fatalf("key %d = %d, want %d", i, v, i*10)
		}
	}
	if _, ok := tree.Query(99999); ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestTreeInsertOverwritesValue(t *testing.T) {
	tree := NewTree()
	tree.Insert(1, 100)
	tree.Insert(1, 200)
	v, ok := tree.Query(1)
	if !ok || v != 200 {
		t.Fatalf("expected overwritten value 200, got %d ok=%v", v, ok)
	}
}

func TestTreeSerializeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tree.idx")

	tree := NewTree()
	for i := uint32(0); i <= 500; i++ {
		tree.Insert(i, i+1)
	}
	if err := tree.Store(path); err != nil {
		t.Fatalf("Store: %v", err)
	}

	loaded, err := LoadTree(path)
	if err != nil {
		t.Fatalf("LoadTree: %v", err)
	}
	for i := uint32(0); i <= 500; i++ {
		v, ok := loaded.Query(i)
		if !ok || v != i+1 {
			t.Fatalf("key %d: got %d ok=%v, want %d", i, v, ok, i+1)
		}
	}
}

func TestTreeTraverseIsSortedByKey(t *testing.T) {
	tree := NewTree()
	for _, k := range []uint32{50, 10, 30, 20, 40} {
		tree.Insert(k, k)
	}
	entries := tree.Traverse()
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Key >= entries[i].Key {
			t.Fatalf("traverse not sorted: %v", entries)
		}
	}
}
