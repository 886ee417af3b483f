package fs

import (
	"encoding/binary"

	"riscvkern/internal/blockdev"
	"riscvkern/internal/errs"
)

// bitsPerBlock is the number of bits a single 512-byte block holds as an
// array of little-endian u64 words.
const bitsPerBlock = blockdev.BlockSize * 8
const wordsPerBlock = blockdev.BlockSize / 8

// Bitmap manages a contiguous run of blocks as one big bit-indexed free
// list: bit k is 1 iff the k-th managed object is allocated. firstBlock is
// the bitmap's own first block on disk; blocks is how many of them it
// spans.
type Bitmap struct {
	firstBlock int
	blocks     int
}

// NewBitmap describes a bitmap occupying [firstBlock, firstBlock+blocks).
func NewBitmap(firstBlock, blocks int) Bitmap {
	return Bitmap{firstBlock: firstBlock, blocks: blocks}
}

// Capacity returns the number of objects this bitmap can track.
func (bm Bitmap) Capacity() int { return bm.blocks * bitsPerBlock }

// Alloc scans managed blocks in order, loading each through the cache, and
// sets the first zero bit it finds, returning its global index. It returns
// errs.ErrNoSpace when every managed bit is already one.
func (bm Bitmap) Alloc(cache *Manager) (int, error) {
	for blockOff := 0; blockOff < bm.blocks; blockOff++ {
		b, err := cache.Get(bm.firstBlock + blockOff)
		if err != nil {
			return 0, err
		}
		data := b.Data()
		for wordIdx := 0; wordIdx < wordsPerBlock; wordIdx++ {
			off := wordIdx * 8
			word := binary.LittleEndian.Uint64(data[off : off+8])
			if word == ^uint64(0) {
				continue
			}
			bitIdx := trailingOnes(word)
			word |= uint64(1) << uint(bitIdx)
			binary.LittleEndian.PutUint64(data[off:off+8], word)
			b.Modify()
			cache.Release(b)
			return blockOff*bitsPerBlock + wordIdx*64 + bitIdx, nil
		}
		cache.Release(b)
	}
	return 0, errs.ErrNoSpace
}

// trailingOnes counts the number of consecutive set bits starting at bit 0,
// which is exactly the position of the lowest zero bit.
func trailingOnes(word uint64) int {
	n := 0
	for word&1 == 1 {
		n++
		word >>= 1
	}
	return n
}

// Dealloc clears exactly the single bit named by index. The mask must stay
// a single-bit mask: clearing the low bitIdx bits with `^((1<<bit)-1)`
// would silently free neighboring objects.
func (bm Bitmap) Dealloc(cache *Manager, index int) error {
	block, wordIdx, bitIdx := bm.decompose(index)
	b, err := cache.Get(bm.firstBlock + block)
	if err != nil {
		return err
	}
	defer cache.Release(b)
	data := b.Data()
	off := wordIdx * 8
	word := binary.LittleEndian.Uint64(data[off : off+8])
	word &^= uint64(1) << uint(bitIdx)
	binary.LittleEndian.PutUint64(data[off:off+8], word)
	b.Modify()
	return nil
}

func (bm Bitmap) decompose(index int) (block, wordIdx, bitIdx int) {
	block = index / bitsPerBlock
	rem := index % bitsPerBlock
	wordIdx = rem / 64
	bitIdx = rem % 64
	return
}
