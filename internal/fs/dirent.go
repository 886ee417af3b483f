package fs

import "encoding/binary"

// DirEntrySize is the fixed 32-byte on-disk directory entry size: a
// 28-byte NUL-terminated name plus a 4-byte inode id.
const DirEntrySize = 32
const dirNameLen = 28

// DirEntry is one directory entry: a name and the inode id it resolves to.
type DirEntry struct {
	Name string
	Inum uint32
}

// Encode serializes the entry into a 32-byte buffer, truncating names
// longer than 27 bytes (28th byte reserved for the NUL terminator).
func (e DirEntry) Encode(buf []byte) {
	name := e.Name
	if len(name) > dirNameLen-1 {
		name = name[:dirNameLen-1]
	}
	copy(buf[:dirNameLen], name)
	for i := len(name); i < dirNameLen; i++ {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[dirNameLen:], e.Inum)
}

// DecodeDirEntry reads a 32-byte buffer into a DirEntry, stopping the name
// at the first NUL byte.
func DecodeDirEntry(buf []byte) DirEntry {
	nameBuf := buf[:dirNameLen]
	n := 0
	for n < len(nameBuf) && nameBuf[n] != 0 {
		n++
	}
	return DirEntry{
		Name: string(nameBuf[:n]),
		Inum: binary.LittleEndian.Uint32(buf[dirNameLen:]),
	}
}
