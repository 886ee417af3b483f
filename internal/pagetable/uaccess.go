package pagetable

import "riscvkern/internal/addr"

// TranslatedByteBuffer walks the address space of pt one page at a
// time and returns the [ptr, ptr+length) range as a sequence of byte slices
// split at page boundaries, used to copy user buffers from kernel context
// without ever materializing the whole range contiguously.
func TranslatedByteBuffer(pt *PageTable, ptr uint64, length int) [][]byte {
	var out [][]byte
	start := ptr
	end := ptr + uint64(length)
	for start < end {
		startVA := addr.VirtAddr(start)
		vpn := startVA.Floor()
		pte, ok := pt.Translate(vpn)
		if !ok {
			panic("pagetable: translate of unmapped user address")
		}
		page := pt.mem.Page(pte.PPN())
		nextVA := vpn.Next().Addr()
		if uint64(nextVA) > end {
			nextVA = addr.VirtAddr(end)
		}
		lo := startVA.PageOffset()
		hi := nextVA.PageOffset()
		if hi == 0 {
			hi = addr.PageSize
		}
		out = append(out, page[lo:hi])
		start = uint64(nextVA)
	}
	return out
}

// TranslateString copies a NUL-terminated C string out of the address
// space of pt, one byte at a time through the page table.
func TranslateString(pt *PageTable, ptr uint64) string {
	var sb []byte
	va := ptr
	for {
		pa, ok := pt.TranslateAddr(addr.VirtAddr(va))
		if !ok {
			panic("pagetable: translate of unmapped user address")
		}
		ch := pt.mem.Page(pa.Floor())[pa.PageOffset()]
		if ch == 0 {
			break
		}
		sb = append(sb, ch)
		va++
	}
	return string(sb)
}

// WriteUserValue writes the bytes of val into the user address space named
// by pt at ptr, translating through the page table. Used by syscalls that
// write results (e.g. waitpid's status pointer) back into user memory.
func WriteUserValue(pt *PageTable, ptr uint64, val []byte) {
	bufs := TranslatedByteBuffer(pt, ptr, len(val))
	off := 0
	for _, b := range bufs {
		n := copy(b, val[off:])
		off += n
	}
}
