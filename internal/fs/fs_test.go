package fs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"riscvkern/internal/blockdev"
	"riscvkern/internal/errs"
)

func TestCreateThenOpenRoundTripsSuperBlock(t *testing.T) {
	disk := blockdev.NewMemDisk(4096)
	fsys, err := Create(disk, 4096, 1)
	require.NoError(t, err)
	require.NoError(t, fsys.Cache.Sync())

	reopened, err := Open(disk)
	require.NoError(t, err)
	require.Equal(t, fsys.inodeAreaStart, reopened.inodeAreaStart)
	require.Equal(t, fsys.dataAreaStart, reopened.dataAreaStart)

	root, err := reopened.ReadInode(RootInodeID)
	require.NoError(t, err)
	require.True(t, root.IsDir())
}

func TestBitmapAllocSetsLowestZeroBit(t *testing.T) {
	disk := blockdev.NewMemDisk(16)
	cache := NewManager(disk)
	bm := NewBitmap(1, 1)

	a, err := bm.Alloc(cache)
	require.NoError(t, err)
	require.Equal(t, 0, a)
	b, err := bm.Alloc(cache)
	require.NoError(t, err)
	require.Equal(t, 1, b)

	require.NoError(t, bm.Dealloc(cache, a))
	c, err := bm.Alloc(cache)
	require.NoError(t, err)
	require.Equal(t, 0, c)
}

func TestBitmapExhaustionReturnsNoSpace(t *testing.T) {
	disk := blockdev.NewMemDisk(2)
	cache := NewManager(disk)
	bm := NewBitmap(0, 1)

	for i := 0; i < bitsPerBlock; i++ {
		_, err := bm.Alloc(cache)
		require.NoError(t, err)
	}
	_, err := bm.Alloc(cache)
	require.ErrorIs(t, err, errs.ErrNoSpace)
}

func TestBlockCacheEvictsOnlyUnheldBlocks(t *testing.T) {
	disk := blockdev.NewMemDisk(CacheSize * 2)
	m := NewManager(disk)

	held, err := m.Get(0)
	require.NoError(t, err)

	for i := 1; i <= CacheSize; i++ {
		b, err := m.Get(i)
		require.NoError(t, err)
		m.Release(b)
	}
	require.LessOrEqual(t, m.l.Len(), CacheSize)

	again, err := m.Get(0)
	require.NoError(t, err)
	require.Same(t, held, again)
	m.Release(again)
	m.Release(held)
}

func TestBlockCacheWritesBackDirtyBlockOnEviction(t *testing.T) {
	disk := blockdev.NewMemDisk(CacheSize * 2)
	m := NewManager(disk)

	b, err := m.Get(1)
	require.NoError(t, err)
	b.Data()[0] = 0xab
	b.Modify()
	m.Release(b)

	// Fill the cache past capacity so block 1 is evicted.
	for i := 2; i <= CacheSize+2; i++ {
		other, err := m.Get(i)
		require.NoError(t, err)
		m.Release(other)
	}

	raw := make([]byte, blockdev.BlockSize)
	require.NoError(t, disk.ReadBlock(1, raw))
	require.Equal(t, byte(0xab), raw[0])
}

func TestDiskINodeDirectRoundTrip(t *testing.T) {
	disk := blockdev.NewMemDisk(32)
	cache := NewManager(disk)
	var n DiskINode
	n.Type = TypeFile

	data := make([]uint32, 3)
	for i := range data {
		data[i] = uint32(10 + i)
	}
	require.NoError(t, n.Grow(cache, 3*DataPerBlock, data, nil))
	require.Equal(t, uint32(3*DataPerBlock), n.Size)

	id0, err := n.GetBlockID(cache, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(10), id0)
}

func TestDiskINodeIndirect1Boundary(t *testing.T) {
	disk := blockdev.NewMemDisk(512)
	cache := NewManager(disk)
	var n DiskINode
	n.Type = TypeFile

	total := DirectCount + 2
	dataIDs := make([]uint32, total)
	for i := range dataIDs {
		dataIDs[i] = uint32(100 + i)
	}
	indexIDs := []uint32{200}
	require.NoError(t, n.Grow(cache, uint32(total)*DataPerBlock, dataIDs, indexIDs))
	require.NotZero(t, n.Indirect1)
	require.Zero(t, n.Indirect2)

	last, err := n.GetBlockID(cache, uint32(total-1))
	require.NoError(t, err)
	require.Equal(t, dataIDs[total-1], last)
}

func TestFileReadWriteRoundTripAcrossIndirect1(t *testing.T) {
	disk := blockdev.NewMemDisk(1024)
	cache := NewManager(disk)
	var n DiskINode
	n.Type = TypeFile

	payload := make([]byte, 32*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	dataBlocks := int(DataBlocksForSize(uint32(len(payload))))
	idxBlocks := int(IndexBlocksForSize(uint32(len(payload))))
	dataIDs := make([]uint32, dataBlocks)
	for i := range dataIDs {
		id, err := allocBlock(disk, 10+i)
		require.NoError(t, err)
		dataIDs[i] = id
	}
	idxIDs := make([]uint32, idxBlocks)
	for i := range idxIDs {
		id, err := allocBlock(disk, 500+i)
		require.NoError(t, err)
		idxIDs[i] = id
	}

	require.NoError(t, n.Grow(cache, uint32(len(payload)), dataIDs, idxIDs))
	require.Equal(t, uint32(len(payload)), n.Size)
	require.NotZero(t, n.Indirect1)
	require.Zero(t, n.Indirect2)

	written, err := n.Write(cache, 0, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), written)

	out := make([]byte, len(payload))
	read, err := n.Read(cache, 0, out)
	require.NoError(t, err)
	require.Equal(t, len(payload), read)
	require.Equal(t, payload, out)
}

// allocBlock is a test helper standing in for FileSystem.AllocDataBlock when
// exercising DiskINode directly against raw block ids.
func allocBlock(disk blockdev.Disk, id int) (uint32, error) {
	if id >= disk.NumBlocks() {
		return 0, nil
	}
	return uint32(id), nil
}
