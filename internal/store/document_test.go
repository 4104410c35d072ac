package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func recordPayload(id uint32, data string) []byte {
	return []byte(fmt.Sprintf("id=%d;data=%s", id, data))
}

func TestWriterOverwriteInPlaceWhenSizeUnchanged(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.iw")
	indexPath := filepath.Join(dir, "main.iw.idx")

	w, err := OpenWriter(mainPath, indexPath, false)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	for i := uint32(0); i <= 500; i++ {
		if err := w.WriteDoc(i, recordPayload(i, fmt.Sprintf("Entry %d", i))); err != nil {
			t.Fatalf("WriteDoc: %v", err)
		}
	}
	if err := w.Store(); err != nil {
		t.Fatalf("Store: %v", err)
	}
	sizeAfterFirst := fileSize(t, mainPath)

	// Same-length or shorter payloads: size must stay the same (overwrite in place).
	for i := uint32(0); i <= 500; i++ {
		if err := w.WriteDoc(i, recordPayload(i, fmt.Sprintf("Entr%03d", i))); err != nil {
			t.Fatalf("WriteDoc: %v", err)
		}
	}
	if err := w.Store(); err != nil {
		t.Fatalf("Store: %v", err)
	}
	sizeAfterSameLen := fileSize(t, mainPath)
	if sizeAfterFirst != sizeAfterSameLen {
		t.Fatalf("file size changed on same-length overwrite: %d -> %d", sizeAfterFirst, sizeAfterSameLen)
	}

	// Larger payloads: file must grow and the fragmentation flag must be set.
	for i := uint32(0); i <= 500; i++ {
		if err := w.WriteDoc(i, recordPayload(i, fmt.Sprintf("Entry number %d padded", i))); err != nil {
			t.Fatalf("WriteDoc: %v", err)
		}
	}
	if err := w.Store(); err != nil {
		t.Fatalf("Store: %v", err)
	}
	sizeAfterGrowth := fileSize(t, mainPath)
	if sizeAfterGrowth <= sizeAfterSameLen {
		t.Fatalf("expected file to grow after larger payloads: %d -> %d", sizeAfterSameLen, sizeAfterGrowth)
	}
	if !w.fragmented {
		t.Fatal("expected fragmentation flag to be set after growth")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Compaction must shrink the file back down.
	if err := Compact(mainPath, indexPath); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	sizeAfterCompact := fileSize(t, mainPath)
	if sizeAfterCompact >= sizeAfterGrowth {
		t.Fatalf("expected compaction to shrink file: %d -> %d", sizeAfterGrowth, sizeAfterCompact)
	}

	reader, err := OpenReader(mainPath, indexPath)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()
	count := 0
	for reader.HasNext() {
		buf, err := reader.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		want := recordPayload(uint32(count), fmt.Sprintf("Entry number %d padded", count))
		if !bytes.Equal(buf, want) {
			t.Fatalf("record %d = %q, want %q", count, buf, want)
		}
		count++
	}
	if count != 501 {
		t.Fatalf("got %d records after compaction, want 501", count)
	}
}

func TestReadIndexedItem(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "m.iw")
	indexPath := filepath.Join(dir, "m.iw.idx")

	w, err := OpenWriter(mainPath, indexPath, false)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := w.WriteDoc(7, recordPayload(7, "seven")); err != nil {
		t.Fatalf("WriteDoc: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	buf, err := ReadIndexedItem(mainPath, indexPath, 7)
	if err != nil {
		t.Fatalf("ReadIndexedItem: %v", err)
	}
	if !bytes.Equal(buf, recordPayload(7, "seven")) {
		t.Fatalf("got %q", buf)
	}

	if _, err := ReadIndexedItem(mainPath, indexPath, 999); err == nil {
		t.Fatal("expected error for missing doc id")
	}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	return info.Size()
}
