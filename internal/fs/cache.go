// Package fs implements the on-disk filesystem: block cache, free-bit
// bitmaps, super-block, and the multi-level-indexed on-disk inode.
package fs

import (
	"container/list"
	"fmt"
	"sync"

	"riscvkern/internal/blockdev"
)

// CacheSize is the number of blocks the cache holds at once.
const CacheSize = 64

// CachedBlock is one cached 512-byte disk block: a block number, its data,
// and a dirty flag recording whether it must be written back before
// eviction.
type CachedBlock struct {
	blockID  int
	data     [blockdev.BlockSize]byte
	modified bool
	refs     int
	disk     blockdev.Disk
}

// Data returns the block's mutable backing array. Callers must hold no
// assumption about concurrent access beyond the manager's own locking.
func (b *CachedBlock) Data() *[blockdev.BlockSize]byte { return &b.data }

// Modify marks the block dirty; the manager writes it back before reuse.
func (b *CachedBlock) Modify() { b.modified = true }

// BlockID reports the block's disk block number.
func (b *CachedBlock) BlockID() int { return b.blockID }

// Manager is the LRU-by-refcount block cache: entries with an outstanding
// caller handle are never evicted.
type Manager struct {
	mu    sync.Mutex
	disk  blockdev.Disk
	l     *list.List
	index map[int]*list.Element
}

// NewManager builds a cache manager over disk.
func NewManager(disk blockdev.Disk) *Manager {
	return &Manager{disk: disk, l: list.New(), index: make(map[int]*list.Element)}
}

// Get returns the cached block for id, loading it from disk on a miss and
// evicting the least-recently-used entry with no outstanding handles if
// the cache is full. It bumps the block's refcount and moves it to the
// front.
func (m *Manager) Get(id int) (*CachedBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.index[id]; ok {
		b := e.Value.(*CachedBlock)
		b.refs++
		m.l.MoveToFront(e)
		return b, nil
	}

	if m.l.Len() >= CacheSize {
		m.evictOneLocked()
	}

	b := &CachedBlock{blockID: id, disk: m.disk, refs: 1}
	if err := m.disk.ReadBlock(id, b.data[:]); err != nil {
		return nil, err
	}
	e := m.l.PushFront(b)
	m.index[id] = e
	return b, nil
}

// evictOneLocked walks from the back of the LRU list for the first block
// whose refcount has dropped to zero (held only by the cache itself),
// writes it back if dirty, and removes it. A full cache with nothing
// evictable is a kernel invariant violation, not a recoverable error, so
// it panics rather than returning one.
func (m *Manager) evictOneLocked() {
	for e := m.l.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*CachedBlock)
		if b.refs > 0 {
			continue
		}
		if b.modified {
			if err := m.disk.WriteBlock(b.blockID, b.data[:]); err != nil {
				panic(fmt.Sprintf("fs: write back block %d: %v", b.blockID, err))
			}
		}
		m.l.Remove(e)
		delete(m.index, b.blockID)
		return
	}
	panic("fs: block cache full, no evictable slot")
}

// Release drops one reference to the block previously returned by Get.
func (m *Manager) Release(b *CachedBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.refs > 0 {
		b.refs--
	}
}

// Sync writes back every dirty block without evicting it.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for e := m.l.Front(); e != nil; e = e.Next() {
		b := e.Value.(*CachedBlock)
		if b.modified {
			if err := m.disk.WriteBlock(b.blockID, b.data[:]); err != nil {
				return err
			}
			b.modified = false
		}
	}
	return nil
}
