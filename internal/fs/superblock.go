package fs

import "encoding/binary"

// SuperMagic identifies a valid on-disk filesystem.
const SuperMagic = 0xF3FC

// SuperBlock is block 0 of the device: magic plus the size of every
// following area, five little-endian u32 fields at the front of the block.
type SuperBlock struct {
	Magic            uint32
	InodeBitmapBlocks uint32
	InodeBlocks       uint32
	DataBitmapBlocks  uint32
	DataBlocks        uint32
}

const (
	sbOffMagic             = 0
	sbOffInodeBitmapBlocks = 4
	sbOffInodeBlocks       = 8
	sbOffDataBitmapBlocks  = 12
	sbOffDataBlocks        = 16
)

// Encode serializes the super-block into the front of a block-sized
// buffer; the remainder is left zero.
func (sb SuperBlock) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[sbOffMagic:], sb.Magic)
	binary.LittleEndian.PutUint32(buf[sbOffInodeBitmapBlocks:], sb.InodeBitmapBlocks)
	binary.LittleEndian.PutUint32(buf[sbOffInodeBlocks:], sb.InodeBlocks)
	binary.LittleEndian.PutUint32(buf[sbOffDataBitmapBlocks:], sb.DataBitmapBlocks)
	binary.LittleEndian.PutUint32(buf[sbOffDataBlocks:], sb.DataBlocks)
}

// DecodeSuperBlock reads a super-block out of a block-sized buffer.
func DecodeSuperBlock(buf []byte) SuperBlock {
	return SuperBlock{
		Magic:             binary.LittleEndian.Uint32(buf[sbOffMagic:]),
		InodeBitmapBlocks: binary.LittleEndian.Uint32(buf[sbOffInodeBitmapBlocks:]),
		InodeBlocks:       binary.LittleEndian.Uint32(buf[sbOffInodeBlocks:]),
		DataBitmapBlocks:  binary.LittleEndian.Uint32(buf[sbOffDataBitmapBlocks:]),
		DataBlocks:        binary.LittleEndian.Uint32(buf[sbOffDataBlocks:]),
	}
}

// Valid reports whether the super-block carries the expected magic.
func (sb SuperBlock) Valid() bool { return sb.Magic == SuperMagic }
