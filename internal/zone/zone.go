//go:build darwin

// Package zone provides a dedicated malloc zone for the working buffers
// this library allocates while introspecting a possibly-crashed or
// possibly-corrupt target process. Isolating these allocations from the
// process's default zone means a target whose own heap metadata is
// already corrupted can't take the dumping logic down with it.
package zone

/*
#cgo CFLAGS: -x objective-c
#include <stdlib.h>
#include <malloc/malloc.h>

static malloc_zone_t *mmd_create_zone(void) {
	malloc_zone_t *z = malloc_create_zone(0, 0);
	if (z != NULL) {
		malloc_set_zone_name(z, "minicore");
	}
	return z;
}

static void *mmd_zone_malloc(malloc_zone_t *z, size_t size) {
	if (z == NULL) {
		z = malloc_default_zone();
	}
	return malloc_zone_malloc(z, size);
}

static void mmd_zone_free(malloc_zone_t *z, void *ptr) {
	if (ptr == NULL) {
		return;
	}
	if (z == NULL) {
		z = malloc_default_zone();
	}
	malloc_zone_free(z, ptr);
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

var (
	once    sync.Once
	zonePtr *C.malloc_zone_t
)

func ready() *C.malloc_zone_t {
	once.Do(func() {
		zonePtr = C.mmd_create_zone()
	})
	return zonePtr
}

// Alloc returns an n-byte buffer allocated from the dedicated zone. The
// returned slice aliases C memory and must be released with Free exactly
// once; it is never touched by the Go garbage collector.
func Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.Errorf("zone: invalid allocation size %d", n)
	}
	ptr := C.mmd_zone_malloc(ready(), C.size_t(n))
	if ptr == nil {
		return nil, errors.New("zone: allocation failed")
	}
	return unsafe.Slice((*byte)(ptr), n), nil
}

// Free releases a buffer obtained from Alloc. Passing any other slice is
// undefined behavior.
func Free(buf []byte) {
	if len(buf) == 0 {
		return
	}
	C.mmd_zone_free(ready(), unsafe.Pointer(&buf[0]))
}
