//go:build darwin

// Package modules builds the catalog of loaded images (executable and
// dylibs) in a task, by reading dyld's own bookkeeping structure out of
// the target's memory, then manually walking each image's load commands
// (the kernel only hands back raw header bytes, not a seekable file, so
// debug/macho can't be used here).
package modules

/*
#include <mach/mach.h>
#include <mach/task_info.h>
*/
import "C"

import (
	"encoding/binary"
	"sort"
	"sync"
	"unsafe"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/appsworld/minicore/internal/taskmem"
	"github.com/appsworld/minicore/types"
)

// Segment is one named segment of a loaded image.
type Segment struct {
	Name    string
	Address uint64
	Size    uint64
}

// Image describes one loaded Mach-O image (executable or dylib).
type Image struct {
	LoadAddress uint64
	UUID        uuid.UUID
	Path        string
	Segments    []Segment
	Executing   bool
	// HeaderBytes holds the raw mach_header_64 + load commands region,
	// kept around so the stack walker can locate the image's
	// __unwind_info section; it is not re-emitted into the core.
	HeaderBytes []byte
}

// Catalog is an address-ordered set of Images, queryable by any address
// that falls within a module's __TEXT segment.
type Catalog struct {
	mu     sync.Mutex
	images []*Image
}

// minDyldAllImageInfosVersion is the lowest dyld_all_image_infos schema
// version this reader understands; older layouts are rejected rather
// than misparsed.
const minDyldAllImageInfosVersion = 9

// dyldPathVersion is the version at which dyld_all_image_infos grew a
// dyldPath field; below it, dyld's own path defaults to /usr/lib/dyld.
const dyldPathVersion = 15

// Build reads task's dyld image list and constructs a Catalog. It
// returns an error if task_info or any required memory read fails
// rather than returning a half-populated catalog.
func Build(task uint32) (*Catalog, error) {
	var dyldInfo C.task_dyld_info_data_t
	count := C.mach_msg_type_number_t(C.TASK_DYLD_INFO_COUNT)
	kr := C.task_info(C.mach_port_t(task), C.TASK_DYLD_INFO,
		(C.task_info_t)(unsafe.Pointer(&dyldInfo)), &count)
	if kr != C.KERN_SUCCESS {
		return nil, errors.Errorf("modules: task_info(TASK_DYLD_INFO) failed: kern_return_t=%d", int(kr))
	}

	allImageInfoAddr := uint64(dyldInfo.all_image_info_addr)

	version, err := taskmem.ReadValue[uint32](task, allImageInfoAddr+4)
	if err != nil {
		return nil, errors.Wrap(err, "modules: read dyld_all_image_infos.version")
	}
	if version < minDyldAllImageInfosVersion {
		return nil, errors.Errorf("modules: unsupported dyld_all_image_infos version %d", version)
	}

	infoArrayCount, err := taskmem.ReadValue[uint32](task, allImageInfoAddr+8)
	if err != nil {
		return nil, errors.Wrap(err, "modules: read infoArrayCount")
	}
	infoArray, err := taskmem.ReadValue[uint64](task, allImageInfoAddr+16)
	if err != nil {
		return nil, errors.Wrap(err, "modules: read infoArray pointer")
	}
	dyldImageLoadAddress, err := taskmem.ReadValue[uint64](task, allImageInfoAddr+24+8+8+8+4)
	if err != nil {
		return nil, errors.Wrap(err, "modules: read dyldImageLoadAddress")
	}

	c := &Catalog{}

	const dyldImageInfoSize = 24 // {void* loadAddress, const char* path, uintptr_t modDate}
	for i := uint32(0); i < infoArrayCount; i++ {
		entryAddr := infoArray + uint64(i)*dyldImageInfoSize
		loadAddr, err := taskmem.ReadValue[uint64](task, entryAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "modules: read image %d load address", i)
		}
		pathAddr, err := taskmem.ReadValue[uint64](task, entryAddr+8)
		if err != nil {
			return nil, errors.Wrapf(err, "modules: read image %d path pointer", i)
		}
		path, err := taskmem.ReadCString(task, pathAddr, 4096, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "modules: read image %d path", i)
		}
		img, err := CreateImageInfo(task, loadAddr, path)
		if err != nil {
			return nil, errors.Wrapf(err, "modules: read image %d (%s)", i, path)
		}
		c.images = append(c.images, img)
	}

	// dyld itself is not present in infoArray; synthesize its entry.
	dyldPath := "/usr/lib/dyld"
	if version >= dyldPathVersion {
		if pathAddr, err := taskmem.ReadValue[uint64](task, allImageInfoAddr+176); err == nil {
			if p, err := taskmem.ReadCString(task, pathAddr, 4096, nil); err == nil {
				dyldPath = p
			}
		}
	}
	if dyldImage, err := CreateImageInfo(task, dyldImageLoadAddress, dyldPath); err == nil {
		c.images = append(c.images, dyldImage)
	} else {
		return nil, errors.Wrap(err, "modules: read dyld image")
	}

	sort.Slice(c.images, func(i, j int) bool { return c.images[i].LoadAddress < c.images[j].LoadAddress })
	return c, nil
}

// CreateImageInfo reads a single image's mach_header_64 plus its load
// commands from task memory and builds an Image, rewriting the __TEXT
// segment's recorded address to the real (post-slide) load address.
func CreateImageInfo(task uint32, loadAddress uint64, path string) (*Image, error) {
	header, err := taskmem.Read(task, loadAddress, int(types.FileHeaderSize64))
	if err != nil {
		return nil, errors.Wrap(err, "modules: read mach_header_64")
	}
	sizeofcmds := binary.LittleEndian.Uint32(header[20:24])
	ncmds := binary.LittleEndian.Uint32(header[16:20])

	full, err := taskmem.Read(task, loadAddress, int(types.FileHeaderSize64)+int(sizeofcmds))
	if err != nil {
		return nil, errors.Wrap(err, "modules: read load commands")
	}

	img := &Image{LoadAddress: loadAddress, Path: path, HeaderBytes: full}

	off := int64(types.FileHeaderSize64)
	for i := uint32(0); i < ncmds; i++ {
		if off+8 > int64(len(full)) {
			break
		}
		cmd := binary.LittleEndian.Uint32(full[off:])
		cmdsize := binary.LittleEndian.Uint32(full[off+4:])
		if cmdsize == 0 || off+int64(cmdsize) > int64(len(full)) {
			break
		}
		switch types.LoadCmd(cmd) {
		case types.LC_SEGMENT_64:
			name := string(trimNUL(full[off+8 : off+24]))
			addr := binary.LittleEndian.Uint64(full[off+24:])
			size := binary.LittleEndian.Uint64(full[off+32:])
			if name == "__TEXT" {
				addr = loadAddress
			}
			img.Segments = append(img.Segments, Segment{Name: name, Address: addr, Size: size})
		case types.LC_UUID:
			img.UUID, _ = uuid.FromBytes(full[off+8 : off+24])
		}
		off += int64(cmdsize)
	}
	return img, nil
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// MarkAsExecuting flags the image whose __TEXT segment contains addr as
// currently executing (an instruction pointer landed in it during the
// stack walk).
func (c *Catalog) MarkAsExecuting(addr uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img := c.lookupLocked(addr); img != nil {
		img.Executing = true
	}
}

// Lookup returns the image whose __TEXT segment contains addr, if any.
func (c *Catalog) Lookup(addr uint64) (*Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img := c.lookupLocked(addr)
	return img, img != nil
}

func (c *Catalog) lookupLocked(addr uint64) *Image {
	idx := sort.Search(len(c.images), func(i int) bool {
		return c.images[i].LoadAddress > addr
	})
	for i := idx - 1; i >= 0 && i >= idx-2; i-- {
		if i < 0 {
			continue
		}
		img := c.images[i]
		for _, seg := range img.Segments {
			if seg.Name == "__TEXT" && addr >= seg.Address && addr <= seg.Address+seg.Size {
				return img
			}
		}
	}
	return nil
}

// Images returns every cataloged image, in ascending load-address order.
func (c *Catalog) Images() []*Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Image, len(c.images))
	copy(out, c.images)
	return out
}
