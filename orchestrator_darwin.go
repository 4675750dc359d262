//go:build darwin && (amd64 || arm64)

package minicore

/*
#include <mach/mach.h>
#include <sys/sysctl.h>
#include <stdlib.h>
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
	"github.com/appsworld/minicore/internal/scopeguard"
	"github.com/appsworld/minicore/internal/sink"
	"github.com/appsworld/minicore/internal/stackwalk"
	"github.com/appsworld/minicore/internal/taskmem"
	"github.com/appsworld/minicore/types"
)

// stackCaptureRadius is how many bytes on either side of a recovered
// instruction pointer get pulled into the core, giving a reader enough
// surrounding code to disassemble the call site.
const stackCaptureRadius = 256

func writeCore(task Task, s sink.Sink, crash *CrashContext) error {
	taskPort := uint32(task)
	if taskPort == 0 {
		return ErrInvalidTask
	}

	var pid C.int
	if kr := C.pid_for_task(C.mach_port_t(taskPort), &pid); kr != C.KERN_SUCCESS {
		return errors.Wrap(ErrInvalidTask, "pid_for_task failed")
	}

	if err := s.Truncate(0); err != nil {
		return errors.Wrap(ErrSinkIO, err.Error())
	}

	selfDump := taskPort == uint32(C.mach_task_self_)

	guard := &scopeguard.Guard{}
	defer guard.Close()

	if selfDump {
		if err := suspendAllThreadsExceptCurrent(taskPort, guard); err != nil {
			return err
		}
	} else {
		if kr := C.task_suspend(C.mach_port_t(taskPort)); kr != C.KERN_SUCCESS {
			return errors.Wrapf(ErrTaskIntrospection, "task_suspend failed: kr=%d", int(kr))
		}
		guard.Add(func() { C.task_resume(C.mach_port_t(taskPort)) })
	}

	regionMap, err := regions.Build(taskPort)
	if err != nil {
		return errors.Wrap(ErrTaskIntrospection, err.Error())
	}

	catalog, err := modules.Build(taskPort)
	if err != nil {
		return errors.Wrap(ErrTaskIntrospection, err.Error())
	}

	cpu, subCPU := nativeCPU()
	builder := corebuild.New(cpu, subCPU)

	var interesting ranges.Set
	if err := addThreadsToCore(taskPort, builder, regionMap, catalog, crash, &interesting, selfDump); err != nil {
		return err
	}

	if err := addSegmentsFromRanges(taskPort, builder, regionMap, &interesting); err != nil {
		return err
	}

	// Notes are added last: the all-image-infos note embeds absolute
	// file offsets into its own payload, which can only be computed once
	// every thread and segment command has been registered and load
	// commands are finalized.
	if err := addNotesToCore(builder, catalog); err != nil {
		return err
	}

	if err := builder.Build(s); err != nil {
		return errors.Wrap(ErrLayout, err.Error())
	}
	return nil
}

func suspendAllThreadsExceptCurrent(taskPort uint32, guard *scopeguard.Guard) error {
	var list *C.thread_act_t
	var count C.mach_msg_type_number_t
	if kr := C.task_threads(C.mach_port_t(taskPort), &list, &count); kr != C.KERN_SUCCESS {
		return errors.Wrapf(ErrTaskIntrospection, "task_threads failed: kr=%d", int(kr))
	}
	self := C.mach_thread_self()
	selfTask := uint32(C.mach_task_self_)
	threads := unsafe.Slice(list, int(count))
	for _, t := range threads {
		if t == self {
			skipRight := machport.Wrap(uint32(t), selfTask)
			skipRight.Close()
			continue
		}
		if kr := C.thread_suspend(t); kr != C.KERN_SUCCESS {
			corelog.Warnf("thread_suspend(%d) failed: kr=%d, skipping", uint32(t), int(kr))
			failRight := machport.Wrap(uint32(t), selfTask)
			failRight.Close()
			continue
		}
		tCopy := t
		right := machport.Wrap(uint32(t), selfTask)
		guard.Add(func() {
			C.thread_resume(tCopy)
			right.Close()
		})
	}
	C.vm_deallocate(C.mach_task_self_, C.vm_address_t(uintptr(unsafe.Pointer(list))), C.vm_size_t(uintptr(count)*unsafe.Sizeof(C.thread_act_t(0))))
	return nil
}

func nativeCPU() (types.CPU, types.CPUSubtype) {
	if isARM64 {
		return types.CPUArm64, types.CPUSubtype(types.CPUSubtypeArm64All)
	}
	return types.CPUAmd64, types.CPUSubtype(types.CPUSubtypeX8664All)
}

// addSegmentsFromRanges registers one segment command per disjoint
// interval accumulated while walking threads, reading its bytes live out
// of task memory at Build time via a taskmem-backed Provider so a
// multi-gigabyte span is never copied up front.
func addSegmentsFromRanges(taskPort uint32, builder *corebuild.Builder, regionMap *regions.Map, interesting *ranges.Set) error {
	var outerErr error
	interesting.ForEach(func(iv ranges.Interval) {
		if outerErr != nil {
			return
		}
		size := iv.End - iv.Start
		prot := types.VmProtection(regions.ProtRead | regions.ProtWrite)
		if r, ok := regionMap.Lookup(iv.Start); ok {
			prot = types.VmProtection(r.Prot)
		} else {
			corelog.Warnf("no region found for interval [0x%x, 0x%x), defaulting protection to rw-", iv.Start, iv.End)
		}
		provider := newLiveMemoryProvider(taskPort, iv.Start, int64(size))
		if err := builder.AddSegmentCommand("", iv.Start, size, prot, provider); err != nil {
			outerErr = err
		}
	})
	return outerErr
}

// liveMemoryProvider streams segment payload bytes directly out of task
// memory at Build time, re-reading on every call rather than copying
// the whole span into a buffer up front.
type liveMemoryProvider struct {
	task uint32
	base uint64
	size int64
}

func newLiveMemoryProvider(task uint32, base uint64, size int64) *liveMemoryProvider {
	return &liveMemoryProvider{task: task, base: base, size: size}
}

func (p *liveMemoryProvider) Size() int64 { return p.size }

func (p *liveMemoryProvider) ReadAt(buf []byte, off int64) (int, error) {
	n := int64(len(buf))
	if off+n > p.size {
		n = p.size - off
	}
	if n <= 0 {
		return 0, nil
	}
	data, err := taskmem.Read(p.task, p.base+uint64(off), int(n))
	if err != nil {
		// A page that's gone away since the interval was recorded isn't
		// fatal to the whole dump; fill with zero and keep going.
		clear(buf[:n])
		return len(buf[:n]), nil
	}
	copy(buf, data)
	return len(data), nil
}

// addNotesToCore registers both mandated notes and, once every load
// command (threads, notes, segments) has been added and
// FinalizeLoadCommands has run, builds the all-image-infos payload using
// its own absolute file offset so its self-referencing offset fields are
// correct. This must run after every segment command has been added and
// before Build.
func addNotesToCore(builder *corebuild.Builder, catalog *modules.Catalog) error {
	bits := addressableBits()
	addrBuf := make([]byte, types.AddrableBitsInfoSize)
	bits.Put(addrBuf, byteOrder)
	idx, err := builder.AddNoteCommand(types.NoteOwnerAddrableBits, int64(len(addrBuf)))
	if err != nil {
		return errors.Wrap(ErrLayout, err.Error())
	}
	if err := builder.SetNoteProvider(idx, corebuild.NewBytesProvider(addrBuf)); err != nil {
		return errors.Wrap(ErrLayout, err.Error())
	}

	idx2, err := builder.AddNoteCommand(types.NoteOwnerAllImageInfos, allImageInfosPayloadSize(catalog))
	if err != nil {
		return errors.Wrap(ErrLayout, err.Error())
	}

	if err := builder.FinalizeLoadCommands(); err != nil {
		return errors.Wrap(ErrLayout, err.Error())
	}
	payloadOffset, err := builder.NotePayloadOffset(idx2)
	if err != nil {
		return errors.Wrap(ErrLayout, err.Error())
	}
	payload, err := buildAllImageInfosPayload(catalog, payloadOffset)
	if err != nil {
		return errors.Wrap(ErrLayout, err.Error())
	}
	return builder.SetNoteProvider(idx2, corebuild.NewBytesProvider(payload))
}

// addressableBits reads machdep.virtual_address_size, falling back to
// machdep.cpu.address_bits.virtual on targets where the former sysctl
// doesn't exist.
func addressableBits() types.AddrableBitsInfo {
	if n, ok := sysctlUint32("machdep.virtual_address_size"); ok {
		return types.AddrableBitsInfo{Version: 3, NBits: n}
	}
	if n, ok := sysctlUint32("machdep.cpu.address_bits.virtual"); ok {
		return types.AddrableBitsInfo{Version: 3, NBits: n}
	}
	corelog.Warnf("could not determine addressable virtual bits, defaulting to 48")
	return types.AddrableBitsInfo{Version: 3, NBits: 48}
}

func sysctlUint32(name string) (uint32, bool) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var value C.uint32_t
	size := C.size_t(unsafe.Sizeof(value))
	if C.sysctlbyname(cname, unsafe.Pointer(&value), &size, nil, 0) != 0 {
		return 0, false
	}
	return uint32(value), true
}
