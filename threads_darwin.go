//go:build darwin && (amd64 || arm64)

package minicore

/*
#include <mach/mach.h>
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/appsworld/minicore/internal/corebuild"
	"github.com/appsworld/minicore/internal/corelog"
	"github.com/appsworld/minicore/internal/machport"
	"github.com/appsworld/minicore/internal/modules"
	"github.com/appsworld/minicore/internal/ranges"
	"github.com/appsworld/minicore/internal/regions"
	"github.com/appsworld/minicore/internal/stackwalk"
)

func threadID(t C.thread_act_t) (uint64, error) {
	var info C.thread_identifier_info_data_t
	count := C.mach_msg_type_number_t(C.THREAD_IDENTIFIER_INFO_COUNT)
	kr := C.thread_info(t, C.THREAD_IDENTIFIER_INFO, (C.thread_info_t)(unsafe.Pointer(&info)), &count)
	if kr != C.KERN_SUCCESS {
		return 0, errors.Errorf("thread_info(THREAD_IDENTIFIER_INFO) failed: kr=%d", int(kr))
	}
	return uint64(info.thread_id), nil
}

// addThreadsToCore walks every thread in taskPort, records its register
// state as an LC_THREAD command, walks its stack, and folds the
// resulting instruction-pointer neighborhoods and live stack span into
// interesting so they get captured as segment payloads.
func addThreadsToCore(
	taskPort uint32,
	builder *corebuild.Builder,
	regionMap *regions.Map,
	catalog *modules.Catalog,
	crash *CrashContext,
	interesting *ranges.Set,
	selfDump bool,
) error {
	var list *C.thread_act_t
	var count C.mach_msg_type_number_t
	if kr := C.task_threads(C.mach_port_t(taskPort), &list, &count); kr != C.KERN_SUCCESS {
		return errors.Errorf("task_threads failed: kr=%d", int(kr))
	}
	defer C.vm_deallocate(C.mach_task_self_, C.vm_address_t(uintptr(unsafe.Pointer(list))), C.vm_size_t(uintptr(count)*unsafe.Sizeof(C.thread_act_t(0))))

	self := C.mach_thread_self()
	selfTask := uint32(C.mach_task_self_)
	threads := unsafe.Slice(list, int(count))

	for _, t := range threads {
		right := machport.Wrap(uint32(t), selfTask)
		defer right.Close()

		tid, err := threadID(t)
		if err != nil {
			corelog.Warnf("thread_info failed for a thread, skipping: %v", err)
			continue
		}

		isCrashed := crash != nil && tid == crash.CrashedTID
		state, err := captureThreadState(uint32(t), crash, isCrashed)
		if err != nil {
			corelog.Warnf("failed to capture state for thread %d, skipping: %v", tid, err)
			continue
		}

		if err := builder.AddThreadCommand(state.gpr, state.exc); err != nil {
			corelog.Warnf("failed to add thread command for thread %d, skipping: %v", tid, err)
			continue
		}

		ips := stackwalk.Walk(taskPort, regionMap, catalog, newGPRPointers(state))
		for _, ip := range ips {
			lo := ip - stackCaptureRadius
			if ip < stackCaptureRadius {
				lo = 0
			}
			hi := ip + stackCaptureRadius + 1
			if hi <= ip {
				hi = ^uint64(0)
			}
			interesting.Insert(lo, hi)
			catalog.MarkAsExecuting(ip)
		}

		sp := stackPointerFromCaptured(state)
		// A self-dump's current thread has no crash context to pin its
		// stack to a known-good snapshot, and the live stack may already
		// have moved since capture, so it's left out rather than risk a torn
		// read.
		isCurrentThreadWithNoCrashContext := selfDump && t == self && crash == nil
		if sp != 0 && !isCurrentThreadWithNoCrashContext {
			if r, ok := regionMap.Lookup(sp); ok {
				interesting.Insert(sp, r.Base+r.Size)
			}
		}
	}
	return nil
}
