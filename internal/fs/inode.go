package fs

import (
	"encoding/binary"

	"riscvkern/internal/blockdev"
)

// Inode type discriminants.
const (
	TypeFile      uint32 = 0
	TypeDirectory uint32 = 1
)

const (
	// InodeSize is the on-disk size of one DiskINode.
	InodeSize = 128
	// InodesPerBlock follows from InodeSize and the 512-byte block.
	InodesPerBlock = blockdev.BlockSize / InodeSize
	// DirectCount is the number of direct block pointers in a DiskINode.
	DirectCount = 28
	// indirectEntries is how many u32 block pointers fit in one indirect
	// block (512 / 4).
	indirectEntries = blockdev.BlockSize / 4
	// indirect1Capacity is the count of data blocks addressable via
	// indirect1 alone.
	indirect1Capacity = indirectEntries
	// DataPerBlock is the number of file-content bytes one data block holds.
	DataPerBlock = blockdev.BlockSize
)

// DiskINode is the 128-byte on-disk inode record: file size, 28 direct
// block pointers, one indirect1 pointer, one indirect2 pointer, and a type
// tag.
type DiskINode struct {
	Size      uint32
	Direct    [DirectCount]uint32
	Indirect1 uint32
	Indirect2 uint32
	Type      uint32
}

// Encode serializes the inode into a 128-byte buffer.
func (n *DiskINode) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], n.Size)
	for i, d := range n.Direct {
		binary.LittleEndian.PutUint32(buf[4+i*4:], d)
	}
	off := 4 + DirectCount*4
	binary.LittleEndian.PutUint32(buf[off:], n.Indirect1)
	binary.LittleEndian.PutUint32(buf[off+4:], n.Indirect2)
	binary.LittleEndian.PutUint32(buf[off+8:], n.Type)
}

// DecodeDiskINode reads a 128-byte buffer into a DiskINode.
func DecodeDiskINode(buf []byte) DiskINode {
	var n DiskINode
	n.Size = binary.LittleEndian.Uint32(buf[0:])
	for i := range n.Direct {
		n.Direct[i] = binary.LittleEndian.Uint32(buf[4+i*4:])
	}
	off := 4 + DirectCount*4
	n.Indirect1 = binary.LittleEndian.Uint32(buf[off:])
	n.Indirect2 = binary.LittleEndian.Uint32(buf[off+4:])
	n.Type = binary.LittleEndian.Uint32(buf[off+8:])
	return n
}

// IsDir reports whether the inode is a directory.
func (n *DiskINode) IsDir() bool { return n.Type == TypeDirectory }

// DataBlocksForSize returns ceil(size / DataPerBlock).
func DataBlocksForSize(size uint32) uint32 {
	return (size + DataPerBlock - 1) / DataPerBlock
}

// IndexBlocksForSize returns the number of indirect index blocks (indirect1
// plus indirect2's outer block and however many inner indirect blocks it
// needs) required to address the data blocks of a file of size bytes.
func IndexBlocksForSize(size uint32) uint32 {
	data := DataBlocksForSize(size)
	var idx uint32
	if data > DirectCount {
		idx++ // indirect1
	}
	if data > DirectCount+indirect1Capacity {
		idx++ // indirect2's outer block
		remaining := data - DirectCount - indirect1Capacity
		idx += (remaining + indirectEntries - 1) / indirectEntries // inner indirect blocks
	}
	return idx
}

func readU32Array(cache *Manager, blockID uint32) ([]uint32, *CachedBlock, error) {
	b, err := cache.Get(int(blockID))
	if err != nil {
		return nil, nil, err
	}
	data := b.Data()
	arr := make([]uint32, indirectEntries)
	for i := range arr {
		arr[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return arr, b, nil
}

// GetBlockID maps a file-local block sequence number to a disk block id:
// seq < 28 is direct, 28 <= seq < 156 goes through indirect1, and
// everything above through indirect2's two levels.
func (n *DiskINode) GetBlockID(cache *Manager, seq uint32) (uint32, error) {
	switch {
	case seq < DirectCount:
		return n.Direct[seq], nil
	case seq < DirectCount+indirect1Capacity:
		arr, b, err := readU32Array(cache, n.Indirect1)
		if err != nil {
			return 0, err
		}
		defer cache.Release(b)
		return arr[seq-DirectCount], nil
	default:
		idx := seq - DirectCount - indirect1Capacity
		outer := idx / indirectEntries
		inner := idx % indirectEntries
		outerArr, ob, err := readU32Array(cache, n.Indirect2)
		if err != nil {
			return 0, err
		}
		defer cache.Release(ob)
		innerArr, ib, err := readU32Array(cache, outerArr[outer])
		if err != nil {
			return 0, err
		}
		defer cache.Release(ib)
		return innerArr[inner], nil
	}
}

// blockAllocator hands out pre-allocated block ids one at a time; Grow
// consumes from it so that allocation happens up front and
// structure-building never fails partway through.
type blockAllocator struct {
	ids []uint32
	pos int
}

func (a *blockAllocator) next() uint32 {
	id := a.ids[a.pos]
	a.pos++
	return id
}

func writeU32Array(cache *Manager, blockID uint32, arr []uint32) error {
	b, err := cache.Get(int(blockID))
	if err != nil {
		return err
	}
	defer cache.Release(b)
	data := b.Data()
	for i, v := range arr {
		binary.LittleEndian.PutUint32(data[i*4:], v)
	}
	b.Modify()
	return nil
}

func zeroBlock(cache *Manager, blockID uint32) error {
	b, err := cache.Get(int(blockID))
	if err != nil {
		return err
	}
	defer cache.Release(b)
	data := b.Data()
	for i := range data {
		data[i] = 0
	}
	b.Modify()
	return nil
}

// setBlockID installs blockID as the data block for sequence seq, allocating
// and zeroing intermediate index blocks from idxAlloc as needed.
func (n *DiskINode) setBlockID(cache *Manager, seq, blockID uint32, idxAlloc *blockAllocator) error {
	switch {
	case seq < DirectCount:
		n.Direct[seq] = blockID
		return nil
	case seq < DirectCount+indirect1Capacity:
		if n.Indirect1 == 0 {
			n.Indirect1 = idxAlloc.next()
			if err := zeroBlock(cache, n.Indirect1); err != nil {
				return err
			}
		}
		arr, b, err := readU32Array(cache, n.Indirect1)
		if err != nil {
			return err
		}
		cache.Release(b)
		arr[seq-DirectCount] = blockID
		return writeU32Array(cache, n.Indirect1, arr)
	default:
		idx := seq - DirectCount - indirect1Capacity
		outer := idx / indirectEntries
		inner := idx % indirectEntries
		if n.Indirect2 == 0 {
			n.Indirect2 = idxAlloc.next()
			if err := zeroBlock(cache, n.Indirect2); err != nil {
				return err
			}
		}
		outerArr, ob, err := readU32Array(cache, n.Indirect2)
		if err != nil {
			return err
		}
		cache.Release(ob)
		if outerArr[outer] == 0 {
			outerArr[outer] = idxAlloc.next()
			if err := zeroBlock(cache, outerArr[outer]); err != nil {
				return err
			}
			if err := writeU32Array(cache, n.Indirect2, outerArr); err != nil {
				return err
			}
		}
		innerArr, ib, err := readU32Array(cache, outerArr[outer])
		if err != nil {
			return err
		}
		cache.Release(ib)
		innerArr[inner] = blockID
		return writeU32Array(cache, outerArr[outer], innerArr)
	}
}

// Grow extends the inode from its current Size to newSize, consuming
// dataBlockIDs (one per new data block) and indexBlockIDs (one per new
// index-structure block), both pre-allocated by the caller, and zeroing
// newly attached data blocks. Direct slots fill first, then indirect1,
// then indirect2's first-level children.
func (n *DiskINode) Grow(cache *Manager, newSize uint32, dataBlockIDs, indexBlockIDs []uint32) error {
	oldBlocks := DataBlocksForSize(n.Size)
	newBlocks := DataBlocksForSize(newSize)
	idxAlloc := &blockAllocator{ids: indexBlockIDs}
	for seq := oldBlocks; seq < newBlocks; seq++ {
		blockID := dataBlockIDs[seq-oldBlocks]
		if err := zeroBlock(cache, blockID); err != nil {
			return err
		}
		if err := n.setBlockID(cache, seq, blockID, idxAlloc); err != nil {
			return err
		}
	}
	n.Size = newSize
	return nil
}

// Read copies min(len(buf), size-offset) bytes starting at offset into
// buf, block by block. Each iteration copies only the current chunk, never
// the full tail of buf.
func (n *DiskINode) Read(cache *Manager, offset uint32, buf []byte) (int, error) {
	if offset >= n.Size {
		return 0, nil
	}
	end := offset + uint32(len(buf))
	if end > n.Size {
		end = n.Size
	}
	read := uint32(0)
	for offset+read < end {
		seq := (offset + read) / DataPerBlock
		blockOff := (offset + read) % DataPerBlock
		blockID, err := n.GetBlockID(cache, seq)
		if err != nil {
			return int(read), err
		}
		b, err := cache.Get(int(blockID))
		if err != nil {
			return int(read), err
		}
		data := b.Data()
		chunk := DataPerBlock - blockOff
		if remaining := end - offset - read; chunk > remaining {
			chunk = remaining
		}
		copy(buf[read:read+chunk], data[blockOff:blockOff+chunk])
		cache.Release(b)
		read += chunk
	}
	return int(read), nil
}

// Write copies buf into the inode's data blocks starting at offset.
// Precondition: the inode has already been grown to cover offset+len(buf);
// Grow is the caller's responsibility.
func (n *DiskINode) Write(cache *Manager, offset uint32, buf []byte) (int, error) {
	end := offset + uint32(len(buf))
	written := uint32(0)
	for offset+written < end {
		seq := (offset + written) / DataPerBlock
		blockOff := (offset + written) % DataPerBlock
		blockID, err := n.GetBlockID(cache, seq)
		if err != nil {
			return int(written), err
		}
		b, err := cache.Get(int(blockID))
		if err != nil {
			return int(written), err
		}
		data := b.Data()
		chunk := DataPerBlock - blockOff
		if remaining := end - offset - written; chunk > remaining {
			chunk = remaining
		}
		copy(data[blockOff:blockOff+chunk], buf[written:written+chunk])
		b.Modify()
		cache.Release(b)
		written += chunk
	}
	return int(written), nil
}
