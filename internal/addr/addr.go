// Package addr defines the Sv39 address and page-number newtypes shared by
// the virtual memory subsystem: physical/virtual addresses and their page
// numbers, plus the bit widths and masks the rest of the kernel builds on.
package addr

import "fmt"

// Bit widths of the Sv39 address types. A VPN decomposes into three 9-bit
// indices (27 == 3*9); a PPN is 44 bits because physical memory is
// addressed up to PAWidth bits while a page table entry only stores the
// page number.
const (
	PAWidth  = 56
	PPNWidth = 44
	VAWidth  = 39
	VPNWidth = 27
)

// PageSize is the size in bytes of a single page/frame/block of address
// space, and PageShift its base-2 exponent.
const (
	PageShift = 12
	PageSize  = 1 << PageShift
	pageMask  = PageSize - 1
)

func mask(width uint) uint64 {
	return (uint64(1) << width) - 1
}

// PhysAddr is a physical address truncated to PAWidth bits.
type PhysAddr uint64

// NewPhysAddr truncates v to the valid physical address width.
func NewPhysAddr(v uint64) PhysAddr { return PhysAddr(v & mask(PAWidth)) }

// PageOffset returns the low PageShift bits of the address.
func (a PhysAddr) PageOffset() uint64 { return uint64(a) & pageMask }

// Floor rounds the address down to its containing page number.
func (a PhysAddr) Floor() PhysPageNumber { return PhysPageNumber(uint64(a) >> PageShift) }

// Ceil rounds the address up to the page number of its containing-or-next page.
func (a PhysAddr) Ceil() PhysPageNumber {
	if a == 0 {
		return 0
	}
	return PhysPageNumber((uint64(a) + PageSize - 1) >> PageShift)
}

func (a PhysAddr) String() string { return fmt.Sprintf("PA(%#x)", uint64(a)) }

// PhysPageNumber identifies a physical page/frame.
type PhysPageNumber uint64

// NewPhysPageNumber truncates v to the valid PPN width.
func NewPhysPageNumber(v uint64) PhysPageNumber { return PhysPageNumber(v & mask(PPNWidth)) }

// Addr converts the page number back to its base physical address.
func (p PhysPageNumber) Addr() PhysAddr { return PhysAddr(uint64(p) << PageShift) }

func (p PhysPageNumber) String() string { return fmt.Sprintf("PPN(%#x)", uint64(p)) }

// VirtAddr is a virtual address truncated to VAWidth bits.
type VirtAddr uint64

// NewVirtAddr truncates v to the valid virtual address width.
func NewVirtAddr(v uint64) VirtAddr { return VirtAddr(v & mask(VAWidth)) }

// PageOffset returns the low PageShift bits of the address.
func (a VirtAddr) PageOffset() uint64 { return uint64(a) & pageMask }

// Floor rounds the address down to its containing page number.
func (a VirtAddr) Floor() VirtPageNumber { return VirtPageNumber(uint64(a) >> PageShift) }

// Ceil rounds the address up to the page number of its containing-or-next page.
func (a VirtAddr) Ceil() VirtPageNumber {
	if a == 0 {
		return 0
	}
	return VirtPageNumber((uint64(a) + PageSize - 1) >> PageShift)
}

func (a VirtAddr) String() string { return fmt.Sprintf("VA(%#x)", uint64(a)) }

// VirtPageNumber identifies a virtual page.
type VirtPageNumber uint64

// NewVirtPageNumber truncates v to the valid VPN width.
func NewVirtPageNumber(v uint64) VirtPageNumber { return VirtPageNumber(v & mask(VPNWidth)) }

// Addr converts the page number back to its base virtual address.
func (p VirtPageNumber) Addr() VirtAddr { return VirtAddr(uint64(p) << PageShift) }

// Next returns the following virtual page number.
func (p VirtPageNumber) Next() VirtPageNumber { return p + 1 }

// LevelIndexes splits the VPN into its three 9-bit walk indices, highest
// (L2, root) first.
func (p VirtPageNumber) LevelIndexes() [3]int {
	v := uint64(p)
	var idx [3]int
	for i := 2; i >= 0; i-- {
		idx[i] = int(v & 0x1ff)
		v >>= 9
	}
	return idx
}

func (p VirtPageNumber) String() string { return fmt.Sprintf("VPN(%#x)", uint64(p)) }

// VPNRange is a half-open [Start, End) range of virtual page numbers, used
// by MemoryArea to describe the pages it owns without materializing a slice.
type VPNRange struct {
	Start, End VirtPageNumber
}

// NewVPNRange builds a range by flooring the start address and ceiling the
// end address to page numbers.
func NewVPNRange(startVA, endVA VirtAddr) VPNRange {
	return VPNRange{Start: startVA.Floor(), End: endVA.Ceil()}
}

// Len returns the number of pages in the range.
func (r VPNRange) Len() int { return int(r.End - r.Start) }

// Contains reports whether vpn falls within the range.
func (r VPNRange) Contains(vpn VirtPageNumber) bool { return vpn >= r.Start && vpn < r.End }

// Overlaps reports whether two ranges share any VPN.
func (r VPNRange) Overlaps(o VPNRange) bool { return r.Start < o.End && o.Start < r.End }

// Each calls f for every VPN in the range in ascending order.
func (r VPNRange) Each(f func(VirtPageNumber)) {
	for v := r.Start; v < r.End; v++ {
		f(v)
	}
}
