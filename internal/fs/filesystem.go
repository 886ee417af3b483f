package fs

import (
	"fmt"

	"riscvkern/internal/blockdev"
	"riscvkern/internal/errs"
)

// RootInodeID is the inode id reserved for the filesystem root directory.
const RootInodeID = 0

// FileSystem is the whole on-disk layout: |super|inode_bm|inodes|data_bm|data|.
// It owns the bitmaps and the block-area boundaries needed to translate
// inode ids and data block indices into absolute block ids.
type FileSystem struct {
	Cache *Manager

	inodeBitmap Bitmap
	dataBitmap  Bitmap

	inodeAreaStart int
	dataAreaStart  int
}

func computeLayout(total, inodeBitmapBlocks int) (inodeBlocks, dataBitmapBlocks, dataBlocks int) {
	inodeBlocks = inodeBitmapBlocks * bitsPerBlock / InodesPerBlock
	used := inodeBlocks + inodeBitmapBlocks + 1
	dataBitmapBlocks = (total - used + bitsPerBlock) / (bitsPerBlock + 1)
	dataBlocks = dataBitmapBlocks * bitsPerBlock
	return
}

// Create formats disk as a fresh filesystem of total blocks with
// inodeBitmapBlocks blocks of inode bitmap, writes the super-block, and
// creates the root directory inode (id 0).
func Create(disk blockdev.Disk, total, inodeBitmapBlocks int) (*FileSystem, error) {
	inodeBlocks, dataBitmapBlocks, dataBlocks := computeLayout(total, inodeBitmapBlocks)

	zero := make([]byte, blockdev.BlockSize)
	for i := 0; i < total; i++ {
		if err := disk.WriteBlock(i, zero); err != nil {
			return nil, err
		}
	}

	sb := SuperBlock{
		Magic:             SuperMagic,
		InodeBitmapBlocks: uint32(inodeBitmapBlocks),
		InodeBlocks:       uint32(inodeBlocks),
		DataBitmapBlocks:  uint32(dataBitmapBlocks),
		DataBlocks:        uint32(dataBlocks),
	}
	buf := make([]byte, blockdev.BlockSize)
	sb.Encode(buf)
	if err := disk.WriteBlock(0, buf); err != nil {
		return nil, err
	}

	fs := newFromSuper(disk, sb)

	rootID, err := fs.AllocInode()
	if err != nil {
		return nil, err
	}
	if rootID != RootInodeID {
		return nil, fmt.Errorf("fs: root inode allocated as %d, want %d", rootID, RootInodeID)
	}
	root := DiskINode{Type: TypeDirectory}
	if err := fs.WriteInode(rootID, &root); err != nil {
		return nil, err
	}
	return fs, nil
}

func newFromSuper(disk blockdev.Disk, sb SuperBlock) *FileSystem {
	inodeBitmapStart := 1
	inodeAreaStart := inodeBitmapStart + int(sb.InodeBitmapBlocks)
	dataBitmapStart := inodeAreaStart + int(sb.InodeBlocks)
	dataAreaStart := dataBitmapStart + int(sb.DataBitmapBlocks)
	return &FileSystem{
		Cache:          NewManager(disk),
		inodeBitmap:    NewBitmap(inodeBitmapStart, int(sb.InodeBitmapBlocks)),
		dataBitmap:     NewBitmap(dataBitmapStart, int(sb.DataBitmapBlocks)),
		inodeAreaStart: inodeAreaStart,
		dataAreaStart:  dataAreaStart,
	}
}

// Open reads the super-block from disk, verifies its magic and
// reconstructs the bitmap ranges.
func Open(disk blockdev.Disk) (*FileSystem, error) {
	buf := make([]byte, blockdev.BlockSize)
	if err := disk.ReadBlock(0, buf); err != nil {
		return nil, err
	}
	sb := DecodeSuperBlock(buf)
	if !sb.Valid() {
		return nil, fmt.Errorf("fs: bad super-block magic %#x: %w", sb.Magic, errs.ErrInval)
	}
	return newFromSuper(disk, sb), nil
}

// AllocInode reserves a free inode id from the inode bitmap.
func (fs *FileSystem) AllocInode() (uint32, error) {
	id, err := fs.inodeBitmap.Alloc(fs.Cache)
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}

// AllocDataBlock reserves a free data block and returns its absolute block id.
func (fs *FileSystem) AllocDataBlock() (uint32, error) {
	local, err := fs.dataBitmap.Alloc(fs.Cache)
	if err != nil {
		return 0, err
	}
	return uint32(fs.dataAreaStart + local), nil
}

// DeallocDataBlock zeroes blockID's cached contents, then releases its bit.
func (fs *FileSystem) DeallocDataBlock(blockID uint32) error {
	if err := zeroBlock(fs.Cache, blockID); err != nil {
		return err
	}
	local := int(blockID) - fs.dataAreaStart
	return fs.dataBitmap.Dealloc(fs.Cache, local)
}

// InodeLocation returns the block and in-block byte offset of inode id.
func (fs *FileSystem) InodeLocation(id uint32) (block, offset int) {
	block = fs.inodeAreaStart + int(id)/InodesPerBlock
	offset = (int(id) % InodesPerBlock) * InodeSize
	return
}

// ReadInode loads the on-disk record for id.
func (fs *FileSystem) ReadInode(id uint32) (*DiskINode, error) {
	block, offset := fs.InodeLocation(id)
	b, err := fs.Cache.Get(block)
	if err != nil {
		return nil, err
	}
	defer fs.Cache.Release(b)
	data := b.Data()
	n := DecodeDiskINode(data[offset : offset+InodeSize])
	return &n, nil
}

// WriteInode persists n as the on-disk record for id.
func (fs *FileSystem) WriteInode(id uint32, n *DiskINode) error {
	block, offset := fs.InodeLocation(id)
	b, err := fs.Cache.Get(block)
	if err != nil {
		return err
	}
	defer fs.Cache.Release(b)
	data := b.Data()
	n.Encode(data[offset : offset+InodeSize])
	b.Modify()
	return nil
}
