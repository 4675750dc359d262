//go:build darwin

// Package machport provides a move-only handle over a Mach port send
// right, guaranteeing mach_port_deallocate runs exactly once.
package machport

/*
#include <mach/mach.h>
*/
import "C"

// Right is a Mach port send right owned by this handle. The zero value
// is a "no right" handle; Close on it is a no-op.
type Right struct {
	port  C.mach_port_t
	task  C.mach_port_t
	valid bool
}

// Wrap takes ownership of port, a send right held in owningTask (normally
// mach_task_self, but task_threads() entries are held in the calling
// task regardless of which task they describe).
func Wrap(port uint32, owningTask uint32) Right {
	if port == 0 {
		return Right{}
	}
	return Right{port: C.mach_port_t(port), task: C.mach_port_t(owningTask), valid: true}
}

// Get returns the raw port name, or 0 if this handle holds no right.
func (r *Right) Get() uint32 {
	if !r.valid {
		return 0
	}
	return uint32(r.port)
}

// Release hands the raw port name back to the caller without
// deallocating it, clearing this handle.
func (r *Right) Release() uint32 {
	if !r.valid {
		return 0
	}
	p := uint32(r.port)
	r.valid = false
	r.port = 0
	return p
}

// Reset deallocates the held right, if any, and clears this handle. It
// is safe to call more than once.
func (r *Right) Reset() {
	if !r.valid {
		return
	}
	C.mach_port_deallocate(r.task, r.port)
	r.valid = false
	r.port = 0
}

// Close is an alias for Reset, for defer-friendliness.
func (r *Right) Close() {
	r.Reset()
}
