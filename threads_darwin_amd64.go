//go:build darwin && amd64

package minicore

/*
#include <mach/mach.h>
#include <mach/i386/thread_state.h>

static kern_return_t mmd_get_x86_gpr(thread_act_t t, x86_thread_state64_t *out) {
	mach_msg_type_number_t count = x86_THREAD_STATE64_COUNT;
	return thread_get_state(t, x86_THREAD_STATE64, (thread_state_t)out, &count);
}

static kern_return_t mmd_get_x86_exc(thread_act_t t, x86_exception_state64_t *out) {
	mach_msg_type_number_t count = x86_EXCEPTION_STATE64_COUNT;
	return thread_get_state(t, x86_EXCEPTION_STATE64, (thread_state_t)out, &count);
}
*/
import "C"

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/appsworld/minicore/internal/corebuild"
	"github.com/appsworld/minicore/internal/stackwalk"
	"github.com/appsworld/minicore/types"
)

// x86_64 has no pointer-authentication/compact-unwind top-frame
// refinement; GPRPointers.IsARM64 stays false and stackwalk.Walk falls
// straight through to plain frame-pointer chasing.
type capturedState struct {
	gpr corebuild.RegisterSet
	exc corebuild.RegisterSet
	ip, fp uint64
}

func captureThreadState(threadPort uint32, crash *CrashContext, isCrashedThread bool) (capturedState, error) {
	if isCrashedThread && crash != nil && len(crash.MContext) >= 21*8 {
		return captureFromMContextX86_64(crash.MContext), nil
	}

	var gprState C.x86_thread_state64_t
	if kr := C.mmd_get_x86_gpr(C.thread_act_t(threadPort), &gprState); kr != C.KERN_SUCCESS {
		return capturedState{}, errors.Errorf("thread_get_state(x86_THREAD_STATE64) failed: kr=%d", int(kr))
	}
	var excState C.x86_exception_state64_t
	if kr := C.mmd_get_x86_exc(C.thread_act_t(threadPort), &excState); kr != C.KERN_SUCCESS {
		return capturedState{}, errors.Errorf("thread_get_state(x86_EXCEPTION_STATE64) failed: kr=%d", int(kr))
	}

	regs := []uint64{
		uint64(gprState.__rax), uint64(gprState.__rbx), uint64(gprState.__rcx), uint64(gprState.__rdx),
		uint64(gprState.__rdi), uint64(gprState.__rsi), uint64(gprState.__rbp), uint64(gprState.__rsp),
		uint64(gprState.__r8), uint64(gprState.__r9), uint64(gprState.__r10), uint64(gprState.__r11),
		uint64(gprState.__r12), uint64(gprState.__r13), uint64(gprState.__r14), uint64(gprState.__r15),
		uint64(gprState.__rip), uint64(gprState.__rflags),
		uint64(gprState.__cs), uint64(gprState.__fs), uint64(gprState.__gs),
	}
	words := make([]uint32, 0, len(regs)*2)
	var buf [8]byte
	for _, r := range regs {
		binary.LittleEndian.PutUint64(buf[:], r)
		words = append(words, binary.LittleEndian.Uint32(buf[0:4]), binary.LittleEndian.Uint32(buf[4:8]))
	}

	excWords := []uint32{uint32(excState.__trapno), uint32(excState.__err)}

	return capturedState{
		gpr: corebuild.RegisterSet{Kind: types.RegSetKindX86GPR, Words: words},
		exc: corebuild.RegisterSet{Kind: types.RegSetKindX86EXC, Words: excWords},
		ip:  uint64(gprState.__rip),
		fp:  uint64(gprState.__rbp),
	}, nil
}

func captureFromMContextX86_64(raw []byte) capturedState {
	rbp := binary.LittleEndian.Uint64(raw[48:])
	rip := binary.LittleEndian.Uint64(raw[128:])
	// raw starts with the 21 x86_thread_state64 registers (42 words), in
	// the same order the live path records them; __es follows at 168.
	words := make([]uint32, 42)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	var excWords []uint32
	if len(raw) >= 168+8 {
		excWords = []uint32{uint32(binary.LittleEndian.Uint16(raw[168:])), binary.LittleEndian.Uint32(raw[172:])}
	}
	return capturedState{
		gpr: corebuild.RegisterSet{Kind: types.RegSetKindX86GPR, Words: words},
		exc: corebuild.RegisterSet{Kind: types.RegSetKindX86EXC, Words: excWords},
		ip:  rip,
		fp:  rbp,
	}
}

func stackPointerFromCaptured(c capturedState) uint64 {
	// word indices 14/15 hold __rsp in the regs[] ordering above (index
	// 7 * 2 words).
	if len(c.gpr.Words) < 16 {
		return 0
	}
	hi := uint64(c.gpr.Words[15]) << 32
	lo := uint64(c.gpr.Words[14])
	return hi | lo
}

func newGPRPointers(c capturedState) stackwalk.GPRPointers {
	return stackwalk.GPRPointers{
		BasePointer:        c.fp,
		InstructionPointer: c.ip,
		IsARM64:            false,
	}
}
