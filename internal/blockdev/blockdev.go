// Package blockdev implements the abstract block device the filesystem's
// cache sits on top of: a 512-byte-block ReadBlock/WriteBlock interface
// with synchronous calls, since this kernel has no real DMA controller
// underneath it.
package blockdev

import (
	"fmt"
	"os"

	"riscvkern/internal/errs"
)

// BlockSize is the fixed size in bytes of every block.
const BlockSize = 512

// Disk is the interface the block cache and mkfs tooling depend on.
type Disk interface {
	ReadBlock(id int, buf []byte) error
	WriteBlock(id int, buf []byte) error
	// NumBlocks reports the device's total capacity in blocks.
	NumBlocks() int
}

// MemDisk is an in-memory Disk, the default for tests and for running the
// kernel under simulation without a host file backing the image.
type MemDisk struct {
	blocks [][BlockSize]byte
}

// NewMemDisk allocates a zeroed disk of n blocks.
func NewMemDisk(n int) *MemDisk {
	return &MemDisk{blocks: make([][BlockSize]byte, n)}
}

func (d *MemDisk) checkRange(id int) error {
	if id < 0 || id >= len(d.blocks) {
		return fmt.Errorf("blockdev: block %d out of range (%w)", id, errs.ErrInval)
	}
	return nil
}

func (d *MemDisk) ReadBlock(id int, buf []byte) error {
	if err := d.checkRange(id); err != nil {
		return err
	}
	copy(buf, d.blocks[id][:])
	return nil
}

func (d *MemDisk) WriteBlock(id int, buf []byte) error {
	if err := d.checkRange(id); err != nil {
		return err
	}
	copy(d.blocks[id][:], buf)
	return nil
}

func (d *MemDisk) NumBlocks() int { return len(d.blocks) }

// FileDisk is a Disk backed by a host file, used by cmd/mkimage and by the
// kernel when pointed at a real disk image rather than a memory-backed one.
type FileDisk struct {
	f      *os.File
	nBlock int
}

// OpenFileDisk opens an existing image file whose size must be a multiple
// of BlockSize.
func OpenFileDisk(path string) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: stat %s: %w", path, err)
	}
	if info.Size()%BlockSize != 0 {
		f.Close()
		return nil, fmt.Errorf("blockdev: %s size %d not a multiple of %d", path, info.Size(), BlockSize)
	}
	return &FileDisk{f: f, nBlock: int(info.Size() / BlockSize)}, nil
}

// CreateFileDisk creates a new zeroed image file of n blocks.
func CreateFileDisk(path string, n int) (*FileDisk, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("blockdev: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(n) * BlockSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: truncate %s: %w", path, err)
	}
	return &FileDisk{f: f, nBlock: n}, nil
}

func (d *FileDisk) checkRange(id int) error {
	if id < 0 || id >= d.nBlock {
		return fmt.Errorf("blockdev: block %d out of range (%w)", id, errs.ErrInval)
	}
	return nil
}

func (d *FileDisk) ReadBlock(id int, buf []byte) error {
	if err := d.checkRange(id); err != nil {
		return err
	}
	_, err := d.f.ReadAt(buf[:BlockSize], int64(id)*BlockSize)
	return err
}

func (d *FileDisk) WriteBlock(id int, buf []byte) error {
	if err := d.checkRange(id); err != nil {
		return err
	}
	_, err := d.f.WriteAt(buf[:BlockSize], int64(id)*BlockSize)
	return err
}

func (d *FileDisk) NumBlocks() int { return d.nBlock }

// Close flushes and releases the backing file.
func (d *FileDisk) Close() error { return d.f.Close() }
