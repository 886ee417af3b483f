package memset

import (
	"debug/elf"
	"fmt"

	"riscvkern/internal/addr"
	"riscvkern/internal/config"
	"riscvkern/internal/frame"
	"riscvkern/internal/pagetable"
	"riscvkern/internal/physmem"
)

// WriteSATP installs a new root page table and flushes the TLB. The real
// implementation is the hand-written "csrw satp; sfence.vma" assembly
// sequence; it is a package variable so tests can observe activation
// without real hardware.
var WriteSATP = func(satp uint64) {}

// MemorySet is a PageTable plus the list of MemoryAreas that currently
// cover parts of it. Invariants: no two areas overlap in VPN; every mapped
// VPN corresponds to exactly one area (or the trampoline); the trampoline
// VPN is always R|X mapped to the fixed kernel stub.
type MemorySet struct {
	PageTable *pagetable.PageTable
	areas     []*MemoryArea
	alloc     *frame.Allocator
	mem       *physmem.Arena

	// trampolinePPN is the physical frame holding the hand-written
	// __alltraps/__restore stub, shared by every address space and never
	// released.
	trampolinePPN addr.PhysPageNumber
}

// NewEmpty allocates a bare page table with no areas.
func NewEmpty(alloc *frame.Allocator, mem *physmem.Arena, trampolinePPN addr.PhysPageNumber) *MemorySet {
	return &MemorySet{
		PageTable:     pagetable.New(alloc, mem),
		alloc:         alloc,
		mem:           mem,
		trampolinePPN: trampolinePPN,
	}
}

func (ms *MemorySet) overlapsExisting(r addr.VPNRange) bool {
	for _, a := range ms.areas {
		if a.VPNs.Overlaps(r) {
			return true
		}
	}
	return false
}

// Push maps every VPN in area and, if data is non-nil, copies it in
// page-by-page. It panics if area overlaps an existing one (invariant a).
func (ms *MemorySet) Push(area *MemoryArea, data []byte) {
	if ms.overlapsExisting(area.VPNs) {
		panic("memset: overlapping memory area")
	}
	area.Map(ms.PageTable, ms.alloc, ms.mem)
	if data != nil {
		area.CopyData(ms.PageTable, ms.mem, data)
	}
	ms.areas = append(ms.areas, area)
}

// MapTrampoline installs the single R|X trampoline mapping at the fixed
// high VA, shared verbatim by every address space.
func (ms *MemorySet) MapTrampoline() {
	ms.PageTable.Map(config.Trampoline.Floor(), ms.trampolinePPN, PermR|PermX)
}

// NewKernelSpace builds the kernel's own address space: the trampoline,
// then identity maps for .text (R|X), .rodata (R), .data/.bss (R|W) and
// the remaining physical memory (R|W). No user bit anywhere.
func NewKernelSpace(alloc *frame.Allocator, mem *physmem.Arena, trampolinePPN addr.PhysPageNumber, layout KernelLayout) *MemorySet {
	ms := NewEmpty(alloc, mem, trampolinePPN)
	ms.MapTrampoline()
	ms.Push(NewMemoryArea(layout.TextStart, layout.TextEnd, Direct, PermR|PermX), nil)
	ms.Push(NewMemoryArea(layout.RodataStart, layout.RodataEnd, Direct, PermR), nil)
	ms.Push(NewMemoryArea(layout.DataStart, layout.DataEnd, Direct, PermR|PermW), nil)
	ms.Push(NewMemoryArea(layout.BssStart, layout.BssEnd, Direct, PermR|PermW), nil)
	ms.Push(NewMemoryArea(layout.EKernel, addr.VirtAddr(config.MemoryEnd), Direct, PermR|PermW), nil)
	return ms
}

// KernelLayout names the linker-provided section boundaries
// (stext/etext/srodata/erodata/sdata/edata/sbss/ebss/ekernel) that
// NewKernelSpace identity-maps. These symbols are produced by the external
// linker/assembly entry stub and are supplied by the caller rather than
// discovered here.
type KernelLayout struct {
	TextStart, TextEnd     addr.VirtAddr
	RodataStart, RodataEnd addr.VirtAddr
	DataStart, DataEnd     addr.VirtAddr
	BssStart, BssEnd       addr.VirtAddr
	EKernel                addr.VirtAddr
}

// FromELF parses an ELF image, maps each PT_LOAD segment as a Framed area
// with U always set and R/W/X from the segment's flags, then appends a
// guard page, a Framed R|W|U user stack, and a Framed R|W trap-context
// page. It returns the new address space, the initial user stack pointer
// and the entry point.
func FromELF(alloc *frame.Allocator, mem *physmem.Arena, trampolinePPN addr.PhysPageNumber, data []byte) (ms *MemorySet, userSP uint64, entry uint64, err error) {
	if len(data) < 4 || data[0] != 0x7f || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, 0, 0, fmt.Errorf("memset: invalid elf magic")
	}
	f, err := elf.NewFile(bytesReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("memset: parse elf: %w", err)
	}

	ms = NewEmpty(alloc, mem, trampolinePPN)
	ms.MapTrampoline()

	var maxEndVPN addr.VirtPageNumber
	for _, ph := range f.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		startVA := addr.VirtAddr(ph.Vaddr)
		endVA := addr.VirtAddr(ph.Vaddr + ph.Memsz)
		perm := PermU
		if ph.Flags&elf.PF_R != 0 {
			perm |= PermR
		}
		if ph.Flags&elf.PF_W != 0 {
			perm |= PermW
		}
		if ph.Flags&elf.PF_X != 0 {
			perm |= PermX
		}
		area := NewMemoryArea(startVA, endVA, Framed, perm)
		if area.VPNs.End > maxEndVPN {
			maxEndVPN = area.VPNs.End
		}
		segData := make([]byte, ph.Filesz)
		if _, err := ph.ReadAt(segData, 0); err != nil {
			return nil, 0, 0, fmt.Errorf("memset: read segment: %w", err)
		}
		ms.Push(area, segData)
	}

	userStackBottom := uint64(maxEndVPN.Addr()) + addr.PageSize // guard page
	userStackTop := userStackBottom + config.UserStackSize
	ms.Push(NewMemoryArea(addr.VirtAddr(userStackBottom), addr.VirtAddr(userStackTop), Framed, PermR|PermW|PermU), nil)

	ms.Push(NewMemoryArea(config.TrapContext, config.Trampoline, Framed, PermR|PermW), nil)

	return ms, userStackTop, f.Entry, nil
}

// FromExisting fork-copies another address space: the trampoline, then a
// matching area (and, for Framed areas, a frame-for-frame data copy) per
// area of other. Direct areas are remapped without copying.
func FromExisting(alloc *frame.Allocator, mem *physmem.Arena, trampolinePPN addr.PhysPageNumber, other *MemorySet) *MemorySet {
	ms := NewEmpty(alloc, mem, trampolinePPN)
	ms.MapTrampoline()
	for _, src := range other.areas {
		dst := NewMemoryArea(src.VPNs.Start.Addr(), src.VPNs.End.Addr(), src.typ, src.perm)
		ms.Push(dst, nil)
		if src.typ == Framed {
			src.VPNs.Each(func(vpn addr.VirtPageNumber) {
				srcPTE, _ := other.PageTable.Translate(vpn)
				dstPTE, _ := ms.PageTable.Translate(vpn)
				copy(mem.Page(dstPTE.PPN()), mem.Page(srcPTE.PPN()))
			})
		}
	}
	return ms
}

// Activate writes this table's SATP and flushes the TLB.
func (ms *MemorySet) Activate() { WriteSATP(ms.PageTable.SATP()) }

// RemoveArea locates the area starting at startVPN, unmaps all of its VPNs
// (releasing owned frames) and removes it from the area list.
func (ms *MemorySet) RemoveArea(startVPN addr.VirtPageNumber) {
	for i, a := range ms.areas {
		if a.VPNs.Start == startVPN {
			a.Unmap(ms.PageTable)
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return
		}
	}
}

// Translate exposes the underlying page table's translation for callers
// that only hold a MemorySet (e.g. locating the TrapContext frame).
func (ms *MemorySet) Translate(vpn addr.VirtPageNumber) (pagetable.Entry, bool) {
	return ms.PageTable.Translate(vpn)
}

// ReleaseAll unmaps every area, releasing the frames of Framed ones, leaving
// the page table itself (including the trampoline mapping) in place. Used
// on process exit to eagerly recycle a zombie's frames while the parent
// can still read its exit code off the PCB shell.
func (ms *MemorySet) ReleaseAll() {
	for _, a := range ms.areas {
		a.Unmap(ms.PageTable)
	}
	ms.areas = nil
}

// bytesReader adapts a []byte to io.ReaderAt for debug/elf.NewFile.
type byteReaderAt struct{ b []byte }

func bytesReader(b []byte) *byteReaderAt { return &byteReaderAt{b: b} }

func (r *byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off) > len(r.b) {
		return 0, fmt.Errorf("byteReaderAt: offset out of range")
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, fmt.Errorf("byteReaderAt: short read")
	}
	return n, nil
}
