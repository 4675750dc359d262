package types

import "encoding/binary"

// RegSetKind identifies the flavor of a thread register set recorded in
// an LC_THREAD command's payload words, matching the "flavor" constants
// the kernel itself uses for thread_get_state/thread_set_state.
type RegSetKind uint32

const (
	// x86_64
	RegSetKindX86GPR RegSetKind = 4 // x86_THREAD_STATE64
	RegSetKindX86EXC RegSetKind = 6 // x86_EXCEPTION_STATE64

	// arm64
	RegSetKindArm64GPR RegSetKind = 6 // ARM_THREAD_STATE64
	RegSetKindArm64EXC RegSetKind = 7 // ARM_EXCEPTION_STATE64
)

// AddrableBitsInfo is the payload of the "addrable bits" note: the number
// of bits of a virtual address that are significant on this target, used
// by a reader to know how to mask off pointer-authentication/tag bits.
type AddrableBitsInfo struct {
	Version uint32
	NBits   uint32
	Unused  uint64
}

const AddrableBitsInfoSize = 16

func (a AddrableBitsInfo) Put(b []byte, o binary.ByteOrder) int {
	o.PutUint32(b[0:], a.Version)
	o.PutUint32(b[4:], a.NBits)
	o.PutUint64(b[8:], a.Unused)
	return AddrableBitsInfoSize
}

// AllImageInfosHeader is the fixed-size header of the "all image infos"
// note payload. It is followed by Imgcount ImageEntry records at
// EntriesFileOff, each of which references a SegmentVMAddr array and a
// NUL-terminated path string elsewhere in the same payload.
type AllImageInfosHeader struct {
	Version        uint32
	ImgCount       uint32
	EntriesFileOff uint64
	EntriesSize    uint32
	Reserved       uint32
}

const AllImageInfosHeaderSize = 24

func (h AllImageInfosHeader) Put(b []byte, o binary.ByteOrder) int {
	o.PutUint32(b[0:], h.Version)
	o.PutUint32(b[4:], h.ImgCount)
	o.PutUint64(b[8:], h.EntriesFileOff)
	o.PutUint32(b[16:], h.EntriesSize)
	o.PutUint32(b[20:], h.Reserved)
	return AllImageInfosHeaderSize
}

// ImageEntry describes one loaded image within the "all image infos"
// note payload.
type ImageEntry struct {
	FilePathOffset uint64
	UUID           [16]byte
	LoadAddress    uint64
	SegAddrsOffset uint64
	SegmentCount   uint32
	Reserved       uint32
}

const ImageEntrySize = 48

func (e ImageEntry) Put(b []byte, o binary.ByteOrder) int {
	o.PutUint64(b[0:], e.FilePathOffset)
	copy(b[8:24], e.UUID[:])
	o.PutUint64(b[24:], e.LoadAddress)
	o.PutUint64(b[32:], e.SegAddrsOffset)
	o.PutUint32(b[40:], e.SegmentCount)
	o.PutUint32(b[44:], e.Reserved)
	return ImageEntrySize
}

// SegmentVMAddr records one named segment's load address within an
// image, part of the per-image segment address arrays following the
// ImageEntry table.
type SegmentVMAddr struct {
	SegName [16]byte
	VMAddr  uint64
	Unused  uint64
}

const SegmentVMAddrSize = 32

func (s SegmentVMAddr) Put(b []byte, o binary.ByteOrder) int {
	copy(b[0:16], s.SegName[:])
	o.PutUint64(b[16:], s.VMAddr)
	o.PutUint64(b[24:], s.Unused)
	return SegmentVMAddrSize
}

// Owner names used for the two note commands this library emits.
const (
	NoteOwnerAddrableBits  = "addrable bits"
	NoteOwnerAllImageInfos = "all image infos"
)
