//go:build darwin && (amd64 || arm64)

package minicore

import (
	"github.com/appsworld/minicore/internal/modules"
	"github.com/appsworld/minicore/types"
)

// allImageInfosPayloadSize returns the total size of the "all image
// infos" note payload for catalog, without laying out any of its
// self-referencing offsets. It lets the caller register the note
// command (which needs the payload's size) before the note's own
// absolute file offset is known.
func allImageInfosPayloadSize(catalog *modules.Catalog) int64 {
	images := catalog.Images()
	size := int64(types.AllImageInfosHeaderSize) + int64(len(images))*types.ImageEntrySize
	for _, img := range images {
		size += int64(len(img.Segments)) * types.SegmentVMAddrSize
	}
	for _, img := range images {
		size += int64(len(img.Path)) + 1
	}
	return size
}

// buildAllImageInfosPayload lays out the "all image infos" note payload:
// a fixed header, then one ImageEntry per image, then each image's
// SegmentVMAddr array, then every image's NUL-terminated path string.
// baseOffset is the payload's own absolute file offset (as returned by
// corebuild.Builder.NotePayloadOffset once load commands are finalized):
// every offset field stored in the payload (entries_fileoff,
// filepath_offset, seg_addrs_offset) is an absolute file offset, so each
// is baseOffset plus the field's position within this payload.
func buildAllImageInfosPayload(catalog *modules.Catalog, baseOffset int64) ([]byte, error) {
	images := catalog.Images()

	headerSize := int64(types.AllImageInfosHeaderSize)
	entriesOff := headerSize

	segArrayOffs := make([]int64, len(images))
	cursor := entriesOff + int64(len(images))*types.ImageEntrySize
	for i, img := range images {
		segArrayOffs[i] = cursor
		cursor += int64(len(img.Segments)) * types.SegmentVMAddrSize
	}

	pathOffs := make([]int64, len(images))
	for i, img := range images {
		pathOffs[i] = cursor
		cursor += int64(len(img.Path)) + 1
	}

	buf := make([]byte, cursor)

	hdr := types.AllImageInfosHeader{
		Version:        1,
		ImgCount:       uint32(len(images)),
		EntriesFileOff: uint64(baseOffset + entriesOff),
		EntriesSize:    types.ImageEntrySize,
	}
	hdr.Put(buf[0:], byteOrder)

	for i, img := range images {
		entry := types.ImageEntry{
			FilePathOffset: uint64(baseOffset + pathOffs[i]),
			UUID:           [16]byte(img.UUID),
			LoadAddress:    img.LoadAddress,
			SegAddrsOffset: uint64(baseOffset + segArrayOffs[i]),
			SegmentCount:   uint32(len(img.Segments)),
		}
		entry.Put(buf[entriesOff+int64(i)*types.ImageEntrySize:], byteOrder)

		for j, seg := range img.Segments {
			var name [16]byte
			copy(name[:], seg.Name)
			sv := types.SegmentVMAddr{SegName: name, VMAddr: seg.Address}
			sv.Put(buf[segArrayOffs[i]+int64(j)*types.SegmentVMAddrSize:], byteOrder)
		}

		copy(buf[pathOffs[i]:], img.Path)
		// buf is zero-initialized, so the trailing NUL is already there.
	}

	return buf, nil
}
