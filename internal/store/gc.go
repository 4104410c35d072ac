package store

import (
	"encoding/binary"
	"os"
	"sort"
)

// Compact runs offline compaction on mainPath/indexPath when the
// fragmentation flag is set: it walks the tree in key order, copies every
// live record into sibling `.gc` files, rewrites the index, then
// atomically renames the `.gc` files over the originals.
// Callers must hold the collection's write lock; compaction is read-only
// with respect to concurrent readers of the (unchanged-until-rename)
// originals.
func Compact(mainPath, indexPath string) error {
	mainFile, err := os.OpenFile(mainPath, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer mainFile.Close()

	fragmented, err := readFragmentationFlag(mainFile)
	if err != nil {
		return err
	}
	if !fragmented {
		return nil
	}

	tree, err := LoadTree(indexPath)
	if err != nil {
		return err
	}
	entries := tree.Traverse()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	gcMainPath := mainPath + ".gc"
	gcIndexPath := indexPath + ".gc"

	gcFile, err := os.OpenFile(gcMainPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	newTree := NewTree()
	if err := writeFragmentationFlag(gcFile, false); err != nil {
		gcFile.Close()
		return err
	}
	gcOffset := int64(1)

	for _, e := range entries {
		size, dataAt, err := readContentSize(mainFile, int64(e.Offset))
		if err != nil {
			gcFile.Close()
			return err
		}
		buf := make([]byte, size)
		if _, err := mainFile.ReadAt(buf, dataAt); err != nil {
			gcFile.Close()
			return err
		}

		var lb [lenSize]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(size))
		if _, err := gcFile.WriteAt(lb[:], gcOffset); err != nil {
			gcFile.Close()
			return err
		}
		if _, err := gcFile.WriteAt(buf, gcOffset+lenSize); err != nil {
			gcFile.Close()
			return err
		}
		newTree.Insert(e.Key, uint32(gcOffset))
		gcOffset += int64(lenSize + size)
	}

	if err := gcFile.Sync(); err != nil {
		gcFile.Close()
		return err
	}
	if err := gcFile.Close(); err != nil {
		return err
	}
	if err := newTree.Store(gcIndexPath); err != nil {
		return err
	}

	if err := os.Rename(gcMainPath, mainPath); err != nil {
		return err
	}
	return os.Rename(gcIndexPath, indexPath)
}
