//go:build darwin && arm64

package minicore

/*
#include <mach/mach.h>
#include <mach/arm/thread_state.h>

static kern_return_t mmd_get_arm_gpr(thread_act_t t, arm_thread_state64_t *out) {
	mach_msg_type_number_t count = ARM_THREAD_STATE64_COUNT;
	return thread_get_state(t, ARM_THREAD_STATE64, (thread_state_t)out, &count);
}

static kern_return_t mmd_get_arm_exc(thread_act_t t, arm_exception_state64_t *out) {
	mach_msg_type_number_t count = ARM_EXCEPTION_STATE64_COUNT;
	return thread_get_state(t, ARM_EXCEPTION_STATE64, (thread_state_t)out, &count);
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

type capturedState struct {
	gpr, exc         corebuild.RegisterSet
	ip, fp, lr, esr  uint64
}

func captureThreadState(threadPort uint32, crash *CrashContext, isCrashedThread bool) (capturedState, error) {
	if isCrashedThread && crash != nil && len(crash.MContext) >= 8+8*33+8*2 {
		return captureFromMContextARM64(crash.MContext), nil
	}

	var gprState C.arm_thread_state64_t
	if kr := C.mmd_get_arm_gpr(C.thread_act_t(threadPort), &gprState); kr != C.KERN_SUCCESS {
		return capturedState{}, errors.Errorf("thread_get_state(ARM_THREAD_STATE64) failed: kr=%d", int(kr))
	}
	var excState C.arm_exception_state64_t
	if kr := C.mmd_get_arm_exc(C.thread_act_t(threadPort), &excState); kr != C.KERN_SUCCESS {
		return capturedState{}, errors.Errorf("thread_get_state(ARM_EXCEPTION_STATE64) failed: kr=%d", int(kr))
	}

	var gprWords [68]uint32 // 29 x regs * 2 words + fp*2 + lr*2 + sp*2 + pc*2 + cpsr
	fillARM64GPRWords(&gprWords, &gprState)

	excWords := [2]uint32{
		uint32(uint64(excState.__far)),
		uint32(excState.__esr),
	}

	return capturedState{
		gpr: corebuild.RegisterSet{Kind: types.RegSetKindArm64GPR, Words: gprWords[:]},
		exc: corebuild.RegisterSet{Kind: types.RegSetKindArm64EXC, Words: excWords[:]},
		ip:  uint64(uintptrFromARMReg(gprState.__pc)),
		fp:  uint64(uintptrFromARMReg(gprState.__fp)),
		lr:  uint64(uintptrFromARMReg(gprState.__lr)),
		esr: uint64(excState.__esr),
	}, nil
}

func fillARM64GPRWords(out *[68]uint32, s *C.arm_thread_state64_t) {
	var buf [8]byte
	put := func(idx int, v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		out[idx] = binary.LittleEndian.Uint32(buf[0:4])
		out[idx+1] = binary.LittleEndian.Uint32(buf[4:8])
	}
	for i := 0; i < 29; i++ {
		put(i*2, uint64(uintptrFromARMReg(s.__x[i])))
	}
	put(58, uint64(uintptrFromARMReg(s.__fp)))
	put(60, uint64(uintptrFromARMReg(s.__lr)))
	put(62, uint64(uintptrFromARMReg(s.__sp)))
	put(64, uint64(uintptrFromARMReg(s.__pc)))
	binary.LittleEndian.PutUint64(buf[:], uint64(s.__cpsr))
	out[66] = binary.LittleEndian.Uint32(buf[0:4])
	out[67] = binary.LittleEndian.Uint32(buf[4:8])
}

func captureFromMContextARM64(raw []byte) capturedState {
	var gprWords [68]uint32
	var buf [8]byte
	put := func(idx int, v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		gprWords[idx] = binary.LittleEndian.Uint32(buf[0:4])
		gprWords[idx+1] = binary.LittleEndian.Uint32(buf[4:8])
	}
	off := 0
	for i := 0; i < 29; i++ {
		put(i*2, binary.LittleEndian.Uint64(raw[off:]))
		off += 8
	}
	fp := binary.LittleEndian.Uint64(raw[off:])
	put(58, fp)
	off += 8
	lr := binary.LittleEndian.Uint64(raw[off:])
	put(60, lr)
	off += 8
	sp := binary.LittleEndian.Uint64(raw[off:])
	put(62, sp)
	off += 8
	pc := binary.LittleEndian.Uint64(raw[off:])
	put(64, pc)
	off += 8
	put(66, uint64(binary.LittleEndian.Uint32(raw[off:])))
	off += 8
	far := binary.LittleEndian.Uint64(raw[off:])
	esr := binary.LittleEndian.Uint32(raw[off+8:])

	return capturedState{
		gpr: corebuild.RegisterSet{Kind: types.RegSetKindArm64GPR, Words: gprWords[:]},
		exc: corebuild.RegisterSet{Kind: types.RegSetKindArm64EXC, Words: []uint32{uint32(far), esr}},
		ip:  pc,
		fp:  fp,
		lr:  lr,
		esr: uint64(esr),
	}
}

func stackPointerFromCaptured(c capturedState) uint64 {
	// word index 62/63 holds sp in the LC_THREAD word stream
	hi := uint64(c.gpr.Words[63]) << 32
	lo := uint64(c.gpr.Words[62])
	return hi | lo
}

func uintptrFromARMReg(v C.uint64_t) uint64 { return uint64(v) }

func newGPRPointers(c capturedState) stackwalk.GPRPointers {
	return stackwalk.GPRPointers{
		BasePointer:        c.fp,
		InstructionPointer: c.ip,
		LinkRegister:       c.lr,
		IsARM64:            true,
		ESR:                c.esr,
	}
}
