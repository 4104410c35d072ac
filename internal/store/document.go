package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
)

const lenSize = 4

// Writer is one collection's content+index file pair, implementing a
// write discipline that overwrites in place when the new payload fits the
// old slot, and appends and flags fragmentation when it grows. It is the
// Go analogue of indexed_document.rs's IndexedDocumentWriter.
type Writer struct {
	mainPath  string
	indexPath string
	mainFile  *os.File
	offset    uint32
	tree      *Tree
	dirty     bool
	fragmented bool
}

// OpenWriter opens (or creates) the content/index pair at mainPath/indexPath.
// reopenExisting controls whether an existing file is reopened for incremental
// writes (true) or truncated fresh (false).
func OpenWriter(mainPath, indexPath string, reopenExisting bool) (*Writer, error) {
	appendMode := reopenExisting && fileExists(mainPath)

	var f *os.File
	var err error
	if appendMode {
		f, err = os.OpenFile(mainPath, os.O_RDWR, 0o644)
	} else {
		f, err = os.OpenFile(mainPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	}
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &Writer{mainPath: mainPath, indexPath: indexPath, mainFile: f}
	if info.Size() == 0 {
		if err := writeFragmentationFlag(f, false); err != nil {
			f.Close()
			return nil, err
		}
		w.offset = 1
	} else {
		frag, err := readFragmentationFlag(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		w.fragmented = frag
		w.offset = uint32(info.Size())
	}

	if appendMode && fileExists(indexPath) {
		tree, err := LoadTree(indexPath)
		if err != nil {
			tree = NewTree()
		}
		w.tree = tree
	} else {
		w.tree = NewTree()
	}
	return w, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readFragmentationFlag(f *os.File) (bool, error) {
	var b [1]byte
	if _, err := f.ReadAt(b[:], 0); err != nil {
		return false, err
	}
	return b[0] == 1, nil
}

func writeFragmentationFlag(f *os.File, fragmented bool) error {
	var b [1]byte
	if fragmented {
		b[0] = 1
	}
	_, err := f.WriteAt(b[:], 0)
	return err
}

func readContentSize(f *os.File, at int64) (int, int64, error) {
	var lb [lenSize]byte
	if _, err := f.ReadAt(lb[:], at); err != nil {
		return 0, 0, err
	}
	return int(binary.LittleEndian.Uint32(lb[:])), at + lenSize, nil
}

// WriteDoc stores payload under docID, following the overwrite/append
// discipline. payload is an already-encoded record; callers choose the
// codec.
func (w *Writer) WriteDoc(docID uint32, payload []byte) error {
	appended := false

	if offset, ok := w.tree.Query(docID); ok {
		size, dataAt, err := readContentSize(w.mainFile, int64(offset))
		if err != nil {
			return err
		}
		if size == len(payload) {
			existing := make([]byte, size)
			if _, err := w.mainFile.ReadAt(existing, dataAt); err == nil && bytesEqual(existing, payload) {
				return nil
			}
		}
		if len(payload) > size {
			if !w.fragmented {
				w.fragmented = true
				if err := writeFragmentationFlag(w.mainFile, true); err != nil {
					return err
				}
			}
			appended = true
		} else {
			if err := w.writeAt(int64(offset), docID, payload, false); err != nil {
				return err
			}
			w.dirty = true
			return nil
		}
	} else {
		appended = true
	}

	w.dirty = true
	if appended {
		if err := w.writeAt(int64(w.offset), docID, payload, true); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeAt(at int64, docID uint32, payload []byte, isAppend bool) error {
	var lb [lenSize]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(payload)))
	if _, err := w.mainFile.WriteAt(lb[:], at); err != nil {
		return err
	}
	if _, err := w.mainFile.WriteAt(payload, at+lenSize); err != nil {
		return err
	}
	if isAppend {
		w.tree.Insert(docID, uint32(at))
		w.offset = uint32(at) + uint32(lenSize+len(payload))
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Store flushes the index tree to disk and fsyncs the content file.
func (w *Writer) Store() error {
	if !w.dirty {
		return nil
	}
	if err := w.mainFile.Sync(); err != nil {
		return err
	}
	if err := w.tree.Store(w.indexPath); err != nil {
		return err
	}
	w.dirty = false
	return nil
}

// Close stores any pending writes and closes the underlying file handle.
func (w *Writer) Close() error {
	if err := w.Store(); err != nil {
		w.mainFile.Close()
		return err
	}
	return w.mainFile.Close()
}

// GetOffset resolves docID to its byte offset in the content file via the
// on-disk index, without opening a writer.
func GetOffset(indexPath string, docID uint32) (uint32, error) {
	tree, err := LoadTree(indexPath)
	if err != nil {
		return 0, err
	}
	offset, ok := tree.Query(docID)
	if !ok {
		return 0, fmt.Errorf("store: doc id %d not found", docID)
	}
	return offset, nil
}

// ReadIndexedItem reads a single record by id directly, without a full
// iterator.
func ReadIndexedItem(mainPath, indexPath string, docID uint32) ([]byte, error) {
	offset, err := GetOffset(indexPath, docID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(mainPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	size, dataAt, err := readContentSize(f, int64(offset))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, dataAt); err != nil {
		return nil, err
	}
	return buf, nil
}

// Reader iterates every record in a collection in ascending-offset order,
// minimizing seeks.
type Reader struct {
	f       *os.File
	offsets []uint32
	idx     int
}

// OpenReader opens main/index for sequential full-collection iteration.
func OpenReader(mainPath, indexPath string) (*Reader, error) {
	if !fileExists(mainPath) || !fileExists(indexPath) {
		return nil, fmt.Errorf("store: main or index file missing (%s / %s)", mainPath, indexPath)
	}
	tree, err := LoadTree(indexPath)
	if err != nil {
		return nil, err
	}
	entries := tree.Traverse()
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		offsets[i] = e.Offset
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	f, err := os.Open(mainPath)
	if err != nil {
		return nil, err
	}
	return &Reader{f: f, offsets: offsets}, nil
}

func (r *Reader) Close() error { return r.f.Close() }

func (r *Reader) HasNext() bool { return r.idx < len(r.offsets) }

// Next returns the next record's raw bytes, or io.EOF when exhausted.
func (r *Reader) Next() ([]byte, error) {
	if !r.HasNext() {
		return nil, io.EOF
	}
	offset := r.offsets[r.idx]
	r.idx++
	size, dataAt, err := readContentSize(r.f, int64(offset))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := r.f.ReadAt(buf, dataAt); err != nil {
		return nil, err
	}
	return buf, nil
}
