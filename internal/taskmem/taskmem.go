//go:build darwin

// Package taskmem reads bytes out of a (possibly remote) Mach task's
// address space via mach_vm_read_overwrite, and reads NUL-terminated
// C strings with a region-aware length cap.
package taskmem

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>

static kern_return_t mmd_vm_read_overwrite(mach_port_t task, mach_vm_address_t addr,
                                            mach_vm_size_t size, void *out, mach_vm_size_t *outsize) {
	return mach_vm_read_overwrite(task, addr, size, (mach_vm_address_t)out, outsize);
}
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/appsworld/minicore/internal/regions"
	"github.com/appsworld/minicore/internal/zone"
)

// Read copies n bytes from task's address space starting at addr. It
// returns an error (not a partial read) if the kernel can't satisfy the
// whole request.
//
// The kernel writes into a scratch buffer drawn from the dedicated
// malloc zone (see package zone), not a plain Go allocation, so a
// vm_read_overwrite racing a corrupted target never touches memory the
// Go runtime's own allocator metadata lives next to; the result is then
// copied into ordinary GC-owned memory before it's handed back, so
// callers never have to know about the zone at all.
func Read(task uint32, addr uint64, n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.Errorf("taskmem: invalid read size %d", n)
	}
	scratch, err := zone.Alloc(n)
	if err != nil {
		return nil, errors.Wrap(err, "taskmem")
	}
	defer zone.Free(scratch)

	var outsize C.mach_vm_size_t
	kr := C.mmd_vm_read_overwrite(
		C.mach_port_t(task),
		C.mach_vm_address_t(addr),
		C.mach_vm_size_t(n),
		unsafe.Pointer(&scratch[0]),
		&outsize,
	)
	if kr != C.KERN_SUCCESS {
		return nil, errors.Errorf("taskmem: vm_read_overwrite(0x%x, %d) failed: kern_return_t=%d", addr, n, int(kr))
	}
	if int(outsize) != n {
		return nil, errors.Errorf("taskmem: vm_read_overwrite(0x%x, %d) returned short read of %d bytes", addr, n, int(outsize))
	}

	buf := make([]byte, n)
	copy(buf, scratch)
	return buf, nil
}

// ReadValue reads sizeof(T) bytes at addr and reinterprets them as T.
func ReadValue[T any](task uint32, addr uint64) (T, error) {
	var zero T
	n := int(unsafe.Sizeof(zero))
	buf, err := Read(task, addr, n)
	if err != nil {
		return zero, err
	}
	return *(*T)(unsafe.Pointer(&buf[0])), nil
}

// ReadCString reads a NUL-terminated string starting at addr, capped at
// maxLen bytes (or the distance to the end of the containing mapped
// region plus a little slack into the next one, whichever is smaller, if
// regionMap is non-nil) and fails if no NUL byte is found within that
// cap.
func ReadCString(task uint32, addr uint64, maxLen int, regionMap *regions.Map) (string, error) {
	cap := maxLen
	if regionMap != nil {
		if d := regionEndDistance(regionMap, addr); d > 0 && d < cap {
			cap = d
		}
	}
	if cap <= 0 {
		return "", errors.Errorf("taskmem: no readable span at 0x%x", addr)
	}
	buf, err := Read(task, addr, cap)
	if err != nil {
		return "", err
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return "", errors.Errorf("taskmem: no NUL terminator found within %d bytes of 0x%x", cap, addr)
}

// regionEndDistance mirrors GetMemoryRegionEndDistance: it extends into
// an adjacent, contiguous, readable region when the distance to the end
// of addr's own region is small, so a string straddling a region
// boundary (e.g. near a page mapped just for alignment) isn't
// needlessly truncated.
func regionEndDistance(regionMap *regions.Map, addr uint64) int {
	r, ok := regionMap.Lookup(addr)
	if !ok {
		return 0
	}
	dist := int(r.Base + r.Size - addr)
	nearBoundary := unix.Getpagesize()
	if dist >= nearBoundary {
		return dist
	}
	next, ok := regionMap.Lookup(r.Base + r.Size)
	if !ok || next.Base != r.Base+r.Size || next.Prot&regions.ProtRead == 0 {
		return dist
	}
	return dist + int(next.Size)
}
