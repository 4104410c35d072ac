package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Node wire format, one block-aligned record per node:
//
//	byte 0          : 1 = leaf, 0 = inner
//	u32 le           : key count
//	key count * u32 : keys
//	leaf:   key count * u32 : values
//	inner:  (key count + 1) * u64 le : child byte offsets, written after the
//	        node header and patched in once children have been serialized.
//
// Nodes are padded to blockSize so random access stays block-aligned; a
// node that does not fit in one block (only possible at pathological
// orders) makes Store return an error.

// Store serializes the tree to path, one node per aligned block starting
// at offset 0, matching bplustree.rs's serialize_to_blocks.
func (t *Tree) Store(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = writeNodeBlocks(f, t.root, 0)
	if err != nil {
		return err
	}
	return f.Sync()
}

func writeNodeBlocks(f *os.File, n *offsetNode, offset int64) (int64, error) {
	header := encodeNodeHeader(n)
	if len(header) > blockSize {
		return 0, fmt.Errorf("store: node header %d exceeds block size %d", len(header), blockSize)
	}
	blocks := int64((len(header) + blockSize - 1) / blockSize)
	if blocks == 0 {
		blocks = 1
	}
	next := offset + blocks*blockSize

	if n.isLeaf {
		padded := make([]byte, blocks*blockSize)
		copy(padded, header)
		if _, err := f.WriteAt(padded, offset); err != nil {
			return 0, err
		}
		return next, nil
	}

	childOffsets := make([]uint64, len(n.children))
	cursor := next
	for i, c := range n.children {
		childOffsets[i] = uint64(cursor)
		var err error
		cursor, err = writeNodeBlocks(f, c, cursor)
		if err != nil {
			return 0, err
		}
	}

	pointerBuf := make([]byte, 8*len(childOffsets))
	for i, o := range childOffsets {
		binary.LittleEndian.PutUint64(pointerBuf[i*8:], o)
	}
	full := append(append([]byte(nil), header...), pointerBuf...)
	if len(full) > int(blocks)*blockSize {
		return 0, fmt.Errorf("store: inner node with %d children overflows its reserved block", len(n.children))
	}
	padded := make([]byte, blocks*blockSize)
	copy(padded, full)
	if _, err := f.WriteAt(padded, offset); err != nil {
		return 0, err
	}
	return cursor, nil
}

func encodeNodeHeader(n *offsetNode) []byte {
	buf := make([]byte, 0, blockSize)
	if n.isLeaf {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(n.keys)))
	buf = append(buf, countBuf[:]...)
	for _, k := range n.keys {
		var kb [4]byte
		binary.LittleEndian.PutUint32(kb[:], k)
		buf = append(buf, kb[:]...)
	}
	if n.isLeaf {
		for _, v := range n.values {
			var vb [4]byte
			binary.LittleEndian.PutUint32(vb[:], v)
			buf = append(buf, vb[:]...)
		}
	}
	return buf
}

// LoadTree deserializes a tree previously written by Store.
func LoadTree(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	root, err := readNodeBlock(f, 0)
	if err != nil {
		return nil, err
	}
	return &Tree{root: root}, nil
}

func readNodeBlock(f *os.File, offset int64) (*offsetNode, error) {
	header := make([]byte, blockSize)
	if _, err := f.ReadAt(header, offset); err != nil && err != io.EOF {
		return nil, err
	}
	isLeaf := header[0] == 1
	count := int(binary.LittleEndian.Uint32(header[1:5]))
	pos := 5

	n := &offsetNode{isLeaf: isLeaf}
	n.keys = make([]uint32, count)
	for i := 0; i < count; i++ {
		n.keys[i] = binary.LittleEndian.Uint32(header[pos : pos+4])
		pos += 4
	}

	if isLeaf {
		n.values = make([]uint32, count)
		for i := 0; i < count; i++ {
			n.values[i] = binary.LittleEndian.Uint32(header[pos : pos+4])
			pos += 4
		}
		return n, nil
	}

	childCount := count + 1
	n.children = make([]*offsetNode, childCount)
	for i := 0; i < childCount; i++ {
		childOffset := int64(binary.LittleEndian.Uint64(header[pos : pos+8]))
		pos += 8
		child, err := readNodeBlock(f, childOffset)
		if err != nil {
			return nil, err
		}
		n.children[i] = child
	}
	return n, nil
}
