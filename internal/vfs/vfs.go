// Package vfs layers directory semantics (find/ls/create) and offset-based
// read/write over the raw on-disk inode in internal/fs. internal/kernel and
// cmd/mkimage reach the filesystem through it; internal/fs itself never
// sees a path or a name.
package vfs

import (
	"sync"

	"riscvkern/internal/errs"
	"riscvkern/internal/fs"
)

// Inode is a handle onto one on-disk inode plus the filesystem it lives
// in. Every operation locks the filesystem's single mutex for the duration
// of the call; per-inode locking is more than this kernel needs.
type Inode struct {
	fs  *FileSystem
	num uint32
}

// FileSystem wraps fs.FileSystem with the mutex vfs operations serialize on
// and exposes the root inode handle.
type FileSystem struct {
	mu   sync.Mutex
	disk *fs.FileSystem
}

// New wraps an already-created-or-opened on-disk filesystem.
func New(disk *fs.FileSystem) *FileSystem {
	return &FileSystem{disk: disk}
}

// Root returns the handle for the root directory inode (id 0).
func (vf *FileSystem) Root() *Inode {
	return &Inode{fs: vf, num: fs.RootInodeID}
}

func (in *Inode) readNode() (*fs.DiskINode, error) {
	return in.fs.disk.ReadInode(in.num)
}

func (in *Inode) writeNode(n *fs.DiskINode) error {
	return in.fs.disk.WriteInode(in.num, n)
}

// readDirEntries reads every 32-byte directory entry of n into a slice.
// Callers must already hold in.fs.mu.
func readDirEntries(disk *fs.FileSystem, n *fs.DiskINode) ([]fs.DirEntry, error) {
	count := n.Size / fs.DirEntrySize
	entries := make([]fs.DirEntry, 0, count)
	buf := make([]byte, fs.DirEntrySize)
	for i := uint32(0); i < count; i++ {
		if _, err := n.Read(disk.Cache, i*fs.DirEntrySize, buf); err != nil {
			return nil, err
		}
		entries = append(entries, fs.DecodeDirEntry(buf))
	}
	return entries, nil
}

// Find scans the directory's entries for name and returns a handle onto the
// matching inode, or errs.ErrNotFound.
func (in *Inode) Find(name string) (*Inode, error) {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()

	n, err := in.readNode()
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return nil, errs.ErrNotDir
	}
	entries, err := readDirEntries(in.fs.disk, n)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == name {
			return &Inode{fs: in.fs, num: e.Inum}, nil
		}
	}
	return nil, errs.ErrNotFound
}

// Ls returns the names of every entry in the directory. It panics if the
// inode is not a directory.
func (in *Inode) Ls() ([]string, error) {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()

	n, err := in.readNode()
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		panic("vfs: ls of non-directory inode")
	}
	entries, err := readDirEntries(in.fs.disk, n)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// Create allocates a new File inode named name inside the directory and
// appends its directory entry. It returns errs.ErrExist if name is already
// present and errs.ErrNotDir if self is not a directory. Allocation
// failure (bitmaps exhausted) propagates as errs.ErrNoSpace.
func (in *Inode) Create(name string) (*Inode, error) {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()

	dirNode, err := in.readNode()
	if err != nil {
		return nil, err
	}
	if !dirNode.IsDir() {
		return nil, errs.ErrNotDir
	}
	entries, err := readDirEntries(in.fs.disk, dirNode)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == name {
			return nil, errs.ErrExist
		}
	}

	newID, err := in.fs.disk.AllocInode()
	if err != nil {
		return nil, err
	}
	child := fs.DiskINode{Type: fs.TypeFile}
	if err := in.fs.disk.WriteInode(newID, &child); err != nil {
		return nil, err
	}

	oldSize := dirNode.Size
	newSize := oldSize + fs.DirEntrySize
	if err := growInode(in.fs.disk, dirNode, newSize); err != nil {
		return nil, err
	}
	if err := in.writeNode(dirNode); err != nil {
		return nil, err
	}

	buf := make([]byte, fs.DirEntrySize)
	fs.DirEntry{Name: name, Inum: newID}.Encode(buf)
	if _, err := dirNode.Write(in.fs.disk.Cache, oldSize, buf); err != nil {
		return nil, err
	}

	return &Inode{fs: in.fs, num: newID}, nil
}

// growInode computes the exact additional data and index blocks for the
// new size, allocates all of them up front so a partial failure never
// leaves a dangling structure, then hands them to DiskINode.Grow.
func growInode(disk *fs.FileSystem, n *fs.DiskINode, newSize uint32) error {
	if newSize <= n.Size {
		return nil
	}
	oldDataBlocks := fs.DataBlocksForSize(n.Size)
	newDataBlocks := fs.DataBlocksForSize(newSize)
	oldIndexBlocks := fs.IndexBlocksForSize(n.Size)
	newIndexBlocks := fs.IndexBlocksForSize(newSize)

	dataIDs := make([]uint32, newDataBlocks-oldDataBlocks)
	for i := range dataIDs {
		id, err := disk.AllocDataBlock()
		if err != nil {
			return err
		}
		dataIDs[i] = id
	}
	indexIDs := make([]uint32, newIndexBlocks-oldIndexBlocks)
	for i := range indexIDs {
		id, err := disk.AllocDataBlock()
		if err != nil {
			return err
		}
		indexIDs[i] = id
	}
	return n.Grow(disk.Cache, newSize, dataIDs, indexIDs)
}

// ReadAt reads into buf starting at offset, clamped to the inode's current
// size (no implicit grow on read).
func (in *Inode) ReadAt(offset uint32, buf []byte) (int, error) {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()

	n, err := in.readNode()
	if err != nil {
		return 0, err
	}
	return n.Read(in.fs.disk.Cache, offset, buf)
}

// WriteAt writes buf at offset, growing the inode first if the write would
// extend past its current size.
func (in *Inode) WriteAt(offset uint32, buf []byte) (int, error) {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()

	n, err := in.readNode()
	if err != nil {
		return 0, err
	}
	newEnd := offset + uint32(len(buf))
	if newEnd > n.Size {
		if err := growInode(in.fs.disk, n, newEnd); err != nil {
			return 0, err
		}
	}
	written, err := n.Write(in.fs.disk.Cache, offset, buf)
	if err != nil {
		return written, err
	}
	return written, in.writeNode(n)
}

// Size returns the inode's current on-disk size.
func (in *Inode) Size() (uint32, error) {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()

	n, err := in.readNode()
	if err != nil {
		return 0, err
	}
	return n.Size, nil
}

// IsDir reports whether the inode is a directory.
func (in *Inode) IsDir() (bool, error) {
	in.fs.mu.Lock()
	defer in.fs.mu.Unlock()

	n, err := in.readNode()
	if err != nil {
		return false, err
	}
	return n.IsDir(), nil
}

// Num returns the underlying inode id, for callers that need a stable
// identity rather than a fresh handle.
func (in *Inode) Num() uint32 { return in.num }
