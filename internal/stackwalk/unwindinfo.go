//go:build darwin

package stackwalk

import (
	"encoding/binary"
	"sort"

	"github.com/appsworld/minicore/internal/modules"
	"github.com/appsworld/minicore/internal/taskmem"
)

// frameKind is the compact-unwind classification of a function's
// prologue, read from the __unwind_info section.
type frameKind int

const (
	frameUnknown frameKind = iota
	frameHasFrame
	frameless
)

const (
	unwindModeMask     = 0x0F000000
	unwindARM64Frame   = 0x04000000
	unwindARM64Frameless = 0x02000000
)

// classifyPC looks up pc's containing module, reads its __unwind_info
// section, and classifies the function containing pc as having a
// standard frame, being frameless, or Unknown (no entry / unsupported
// encoding).
func classifyPC(task uint32, catalog *modules.Catalog, pc uint64) frameKind {
	if catalog == nil {
		return frameUnknown
	}
	img, ok := catalog.Lookup(pc)
	if !ok {
		return frameUnknown
	}
	var textSeg *modules.Segment
	for i := range img.Segments {
		if img.Segments[i].Name == "__TEXT" {
			textSeg = &img.Segments[i]
			break
		}
	}
	if textSeg == nil {
		return frameUnknown
	}
	slide := img.LoadAddress - textSeg.Address

	sectAddr, sectSize, ok := findUnwindInfoSection(task, img)
	if !ok {
		return frameUnknown
	}

	header, err := taskmem.Read(task, sectAddr, 4*4)
	if err != nil {
		return frameUnknown
	}
	indexSectionOffset := binary.LittleEndian.Uint32(header[4:])
	indexCount := binary.LittleEndian.Uint32(header[8:])
	if indexCount == 0 {
		return frameUnknown
	}

	funcOffset := uint32(pc - slide - textSeg.Address)

	type idxEntry struct {
		funcOff     uint32
		secondLevel uint32
	}
	entries := make([]idxEntry, 0, indexCount)
	for i := uint32(0); i < indexCount; i++ {
		e, err := taskmem.Read(task, sectAddr+uint64(indexSectionOffset)+uint64(i)*8, 8)
		if err != nil {
			return frameUnknown
		}
		entries = append(entries, idxEntry{
			funcOff:     binary.LittleEndian.Uint32(e[0:]),
			secondLevel: binary.LittleEndian.Uint32(e[4:]),
		})
	}

	pageIdx := sort.Search(len(entries), func(i int) bool {
		return entries[i].funcOff > funcOffset
	}) - 1
	if pageIdx < 0 || entries[pageIdx].secondLevel == 0 {
		return frameUnknown
	}

	encoding, ok := lookupSecondLevel(task, sectAddr+uint64(entries[pageIdx].secondLevel), funcOffset)
	if !ok {
		return frameUnknown
	}

	switch encoding & unwindModeMask {
	case unwindARM64Frame:
		return frameHasFrame
	case unwindARM64Frameless:
		return frameless
	default:
		return frameUnknown
	}
}

const (
	unwindSecondLevelRegular   = 2
	unwindSecondLevelCompressed = 3
)

func lookupSecondLevel(task uint32, pageAddr uint64, funcOffset uint32) (uint32, bool) {
	hdr, err := taskmem.Read(task, pageAddr, 8)
	if err != nil {
		return 0, false
	}
	kind := binary.LittleEndian.Uint32(hdr[0:])

	switch kind {
	case unwindSecondLevelRegular:
		// regular_second_level_page_header { kind, entryPageOffset, entryCount }
		rest, err := taskmem.Read(task, pageAddr+4, 8)
		if err != nil {
			return 0, false
		}
		entryPageOffset := binary.LittleEndian.Uint32(rest[0:])
		entryCount := binary.LittleEndian.Uint32(rest[4:])
		type entry struct{ funcOff, encoding uint32 }
		entries := make([]entry, 0, entryCount)
		for i := uint32(0); i < entryCount; i++ {
			e, err := taskmem.Read(task, pageAddr+uint64(entryPageOffset)+uint64(i)*8, 8)
			if err != nil {
				return 0, false
			}
			entries = append(entries, entry{binary.LittleEndian.Uint32(e[0:]), binary.LittleEndian.Uint32(e[4:])})
		}
		idx := sort.Search(len(entries), func(i int) bool { return entries[i].funcOff > funcOffset }) - 1
		if idx < 0 {
			return 0, false
		}
		return entries[idx].encoding, true

	case unwindSecondLevelCompressed:
		// compressed_second_level_page_header { kind, entryPageOffset, entryCount, encodingsPageOffset, encodingsCount }
		rest, err := taskmem.Read(task, pageAddr+4, 16)
		if err != nil {
			return 0, false
		}
		entryPageOffset := binary.LittleEndian.Uint32(rest[0:])
		entryCount := binary.LittleEndian.Uint32(rest[4:])
		encodingsPageOffset := binary.LittleEndian.Uint32(rest[8:])

		type entry struct{ funcOff, encIdx uint32 }
		entries := make([]entry, 0, entryCount)
		for i := uint32(0); i < entryCount; i++ {
			raw, err := taskmem.Read(task, pageAddr+uint64(entryPageOffset)+uint64(i)*4, 4)
			if err != nil {
				return 0, false
			}
			v := binary.LittleEndian.Uint32(raw)
			entries = append(entries, entry{
				funcOff: v & 0x00FFFFFF, // UNWIND_INFO_COMPRESSED_ENTRY_FUNC_OFFSET
				encIdx:  (v >> 24) & 0xFF,
			})
		}
		idx := sort.Search(len(entries), func(i int) bool { return entries[i].funcOff > funcOffset }) - 1
		if idx < 0 {
			return 0, false
		}
		encRaw, err := taskmem.Read(task, pageAddr+uint64(encodingsPageOffset)+uint64(entries[idx].encIdx)*4, 4)
		if err != nil {
			return 0, false
		}
		return binary.LittleEndian.Uint32(encRaw), true
	}
	return 0, false
}

// findUnwindInfoSection walks img's raw header+load-command bytes
// looking for the __TEXT,__unwind_info section and returns its runtime
// address and size.
func findUnwindInfoSection(task uint32, img *modules.Image) (addr, size uint64, ok bool) {
	b := img.HeaderBytes
	if len(b) < 32 {
		return 0, 0, false
	}
	ncmds := binary.LittleEndian.Uint32(b[16:20])
	off := int64(32)
	var textVMAddr uint64
	for i := uint32(0); i < ncmds && off+8 <= int64(len(b)); i++ {
		cmd := binary.LittleEndian.Uint32(b[off:])
		cmdsize := binary.LittleEndian.Uint32(b[off+4:])
		if cmdsize == 0 || off+int64(cmdsize) > int64(len(b)) {
			break
		}
		const lcSegment64 = 0x19
		if cmd == lcSegment64 {
			segName := trimNUL(b[off+8 : off+24])
			if string(segName) == "__TEXT" {
				textVMAddr = binary.LittleEndian.Uint64(b[off+24:])
			}
			nsects := binary.LittleEndian.Uint32(b[off+64:])
			sectOff := off + 72
			for s := uint32(0); s < nsects && sectOff+80 <= int64(len(b)); s++ {
				sectName := trimNUL(b[sectOff : sectOff+16])
				sectSegName := trimNUL(b[sectOff+16 : sectOff+32])
				if string(segName) == "__TEXT" && string(sectSegName) == "__TEXT" && string(sectName) == "__unwind_info" {
					a := binary.LittleEndian.Uint64(b[sectOff+32:])
					sz := binary.LittleEndian.Uint64(b[sectOff+40:])
					return a - textVMAddr + img.LoadAddress, sz, true
				}
				sectOff += 80
			}
		}
		off += int64(cmdsize)
	}
	return 0, 0, false
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
