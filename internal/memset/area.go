// Package memset implements MemoryArea and MemorySet: the collection of
// mapped regions plus page table that models one address space (kernel or
// user).
package memset

import (
	"riscvkern/internal/addr"
	"riscvkern/internal/frame"
	"riscvkern/internal/pagetable"
	"riscvkern/internal/physmem"
)

// MapType selects how a MemoryArea's VPNs are backed.
type MapType int

const (
	// Direct uses the VPN itself as the PPN (identity mapping), used only
	// for kernel regions.
	Direct MapType = iota
	// Framed allocates a fresh frame per VPN; the area owns those frames.
	Framed
)

// Perm is the R|W|X|U subset of pagetable.Flags relevant to a MemoryArea
// (V is always implied and added by PageTable.Map).
type Perm = pagetable.Flags

const (
	PermR = pagetable.R
	PermW = pagetable.W
	PermX = pagetable.X
	PermU = pagetable.U
)

// MemoryArea is a half-open VPN range with a map type and permission bits.
// A Framed area owns the frames backing it; unmapping releases them.
type MemoryArea struct {
	VPNs   addr.VPNRange
	typ    MapType
	perm   Perm
	frames map[addr.VirtPageNumber]*frame.Frame
}

// NewMemoryArea builds an area over [startVA, endVA), page-aligned outward.
func NewMemoryArea(startVA, endVA addr.VirtAddr, typ MapType, perm Perm) *MemoryArea {
	return &MemoryArea{
		VPNs:   addr.NewVPNRange(startVA, endVA),
		typ:    typ,
		perm:   perm,
		frames: make(map[addr.VirtPageNumber]*frame.Frame),
	}
}

func (a *MemoryArea) mapVPN(pt *pagetable.PageTable, alloc *frame.Allocator, mem *physmem.Arena, vpn addr.VirtPageNumber) {
	var ppn addr.PhysPageNumber
	switch a.typ {
	case Direct:
		ppn = addr.PhysPageNumber(vpn)
	case Framed:
		f, ok := frame.Acquire(alloc, mem)
		if !ok {
			panic("memset: out of frames mapping area")
		}
		ppn = f.PPN
		a.frames[vpn] = f
	}
	pt.Map(vpn, ppn, a.perm)
}

func (a *MemoryArea) unmapVPN(pt *pagetable.PageTable, vpn addr.VirtPageNumber) {
	if a.typ == Framed {
		if f, ok := a.frames[vpn]; ok {
			f.Release()
			delete(a.frames, vpn)
		}
	}
	pt.Unmap(vpn)
}

// Map installs every VPN in the area into pt.
func (a *MemoryArea) Map(pt *pagetable.PageTable, alloc *frame.Allocator, mem *physmem.Arena) {
	a.VPNs.Each(func(vpn addr.VirtPageNumber) { a.mapVPN(pt, alloc, mem, vpn) })
}

// Unmap removes every VPN in the area from pt, releasing owned frames.
func (a *MemoryArea) Unmap(pt *pagetable.PageTable) {
	a.VPNs.Each(func(vpn addr.VirtPageNumber) { a.unmapVPN(pt, vpn) })
}

// CopyData copies data into the area's backing frames page by page,
// starting at the area's first VPN, bounded by min(area size, len(data)).
func (a *MemoryArea) CopyData(pt *pagetable.PageTable, mem *physmem.Arena, data []byte) {
	vpn := a.VPNs.Start
	start := 0
	for start < len(data) && vpn < a.VPNs.End {
		end := start + addr.PageSize
		if end > len(data) {
			end = len(data)
		}
		src := data[start:end]
		pte, ok := pt.Translate(vpn)
		if !ok {
			panic("memset: copy_data into unmapped vpn")
		}
		dst := mem.Page(pte.PPN())[:len(src)]
		copy(dst, src)
		start = end
		vpn = vpn.Next()
	}
}
