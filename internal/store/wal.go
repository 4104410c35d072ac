package store

import (
	"encoding/binary"
	"io"
	"os"
)

// WAL stages a batch of document writes to an append-only log file so a
// multi-record update can be applied to the content+index store atomically:
// either every staged record lands, or (on a crash or write error before
// Merge completes) none does, since the store files are only touched by
// Merge itself.
//
// Record format, one per staged entry:
//
//	u32 le docID || u32 le payload length || payload bytes
type WAL struct {
	path string
	f    *os.File
}

// OpenWAL creates (truncating) the WAL file at path.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &WAL{path: path, f: f}, nil
}

// Append stages one record. Appended records are not visible to the
// target store until Merge succeeds.
func (w *WAL) Append(docID uint32, payload []byte) error {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], docID)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))
	if _, err := w.f.Write(header[:]); err != nil {
		return err
	}
	_, err := w.f.Write(payload)
	return err
}

// Sync fsyncs the WAL file, giving the merge step a crash-safe source to
// replay from.
func (w *WAL) Sync() error {
	return w.f.Sync()
}

// entries replays every staged record from the start of the file.
func (w *WAL) entries() ([]walEntry, error) {
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var out []walEntry
	for {
		var header [8]byte
		_, err := io.ReadFull(w.f, header[:])
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
		docID := binary.LittleEndian.Uint32(header[0:4])
		size := binary.LittleEndian.Uint32(header[4:8])
		payload := make([]byte, size)
		if _, err := io.ReadFull(w.f, payload); err != nil {
			return nil, err
		}
		out = append(out, walEntry{docID: docID, payload: payload})
	}
	return out, nil
}

type walEntry struct {
	docID   uint32
	payload []byte
}

// Merge appends every staged record into the target content+index store,
// rebuilding the record's index entries as it goes.
// On success the WAL file is removed; on failure it is left in place so a
// retry (or operator inspection) can recover.
func (w *WAL) Merge(mainPath, indexPath string) error {
	entries, err := w.entries()
	if err != nil {
		return err
	}

	writer, err := OpenWriter(mainPath, indexPath, true)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := writer.WriteDoc(e.docID, e.payload); err != nil {
			writer.Close()
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return w.Close()
}

// Close closes and removes the WAL file without merging (used to discard
// a pass that failed before any record was staged, or after a successful
// Merge).
func (w *WAL) Close() error {
	if err := w.f.Close(); err != nil {
		return err
	}
	return os.Remove(w.path)
}

// Discard closes the WAL and removes its file without merging, for the
// partial-failure rollback path.
func (w *WAL) Discard() error {
	return w.Close()
}
