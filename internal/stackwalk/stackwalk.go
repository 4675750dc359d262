//go:build darwin

// Package stackwalk implements frame-pointer-chasing stack unwinding for
// a suspended thread, with an ARM64-only top-frame classification
// refinement: when the captured PC looks like it was interrupted by a
// synchronous exception (not a normal call) and isn't sitting in mapped,
// executable memory, the walker falls back to disassembling the
// instruction at the link register to decide whether a frame was ever
// pushed for that leaf.
package stackwalk

import (
	"encoding/binary"

	"github.com/appsworld/minicore/internal/corelog"
	"github.com/appsworld/minicore/internal/modules"
	"github.com/appsworld/minicore/internal/regions"
	"github.com/appsworld/minicore/internal/taskmem"
)

// GPRPointers is the subset of a thread's general-purpose register state
// the walker needs: base (frame) pointer, instruction pointer, link
// register (arm64 only; 0 on x86_64), and exception-syndrome register
// (arm64 only; 0 on x86_64).
type GPRPointers struct {
	BasePointer        uint64
	InstructionPointer uint64
	LinkRegister       uint64
	IsARM64            bool
	ESR                uint64
}

const maxFrames = 128

// Walk unwinds task's stack starting from gpr, returning the sequence of
// instruction-pointer values recovered, most-recent frame first. It
// never reads past maxFrames and stops as soon as a frame pointer can't
// be dereferenced or comes back zero.
func Walk(task uint32, regionMap *regions.Map, catalog *modules.Catalog, gpr GPRPointers) []uint64 {
	var ips []uint64

	ip := stripPAC(gpr.InstructionPointer)
	fp := gpr.BasePointer
	ips = append(ips, ip)

	topPCNoStackFrame := false
	if gpr.IsARM64 {
		execMapped := false
		if r, ok := regionMap.Lookup(ip); ok {
			execMapped = r.Prot&regions.ProtExecute != 0
		}
		if !execMapped {
			corelog.Warnf("stackwalk: pc 0x%x is not in a mapped executable region", ip)
		}
		if exceptionMightBeControlTransferRelated(gpr.ESR) && !execMapped {
			topPCNoStackFrame = isPreviousInstructionBLKind(task, gpr.LinkRegister)
		} else {
			switch classifyPC(task, catalog, ip) {
			case frameless:
				topPCNoStackFrame = true
			case frameUnknown:
				topPCNoStackFrame = isPreviousInstructionSVC(task, ip)
			}
		}
	}

	for frameIndex := 0; frameIndex < maxFrames; frameIndex++ {
		var nextIP, nextFP uint64
		if topPCNoStackFrame && frameIndex == 0 {
			nextIP = gpr.LinkRegister
			nextFP = fp
		} else {
			deref, err := taskmem.Read(task, fp+8, 8)
			if err != nil {
				break
			}
			nextIP = binary.LittleEndian.Uint64(deref)

			derefFP, err := taskmem.Read(task, fp, 8)
			if err != nil {
				break
			}
			nextFP = binary.LittleEndian.Uint64(derefFP)
		}
		if nextFP == 0 || nextIP == 0 {
			break
		}
		fp = nextFP
		ip = stripPAC(nextIP)
		ips = append(ips, ip)
	}

	return ips
}

// exceptionMightBeControlTransferRelated reports whether esr's exception
// class (bits [31:26]) is an Instruction Abort (0x20) or Data Abort
// (0x24) — the two classes a control-transfer-disrupting fault would
// present as.
func exceptionMightBeControlTransferRelated(esr uint64) bool {
	ec := (esr >> 26) & 0x3f
	return ec == 0x20 || ec == 0x24
}

// isPreviousInstructionBLKind reads the 4 bytes at pc-4 and checks
// whether they encode BL, BLR, or one of the pointer-authenticated
// BLRA* branch-and-link instructions — any of which would have pushed
// no new frame of its own before the exception landed.
func isPreviousInstructionBLKind(task uint32, pc uint64) bool {
	if pc < 4 {
		return false
	}
	buf, err := taskmem.Read(task, pc-4, 4)
	if err != nil {
		return false
	}
	insn := binary.LittleEndian.Uint32(buf)

	if (insn>>26)&0b111111 == 0b100101 {
		return true // BL
	}
	if (insn>>10)&0b1111111111111111111111 == 0b1101011000111111000000 {
		return true // BLR
	}
	if (insn>>11)&0b111111101111111111111 == 0b110101100011111100001 {
		return true // BLRAA/BLRAB/BLRAAZ/BLRABZ
	}
	return false
}

// isPreviousInstructionSVC is the syscall-wrapper fallback heuristic:
// libsyscall trampolines are `svc #0x80; ret`, so if the instruction
// before pc is an SVC, the wrapper never established its own frame.
func isPreviousInstructionSVC(task uint32, pc uint64) bool {
	if pc < 4 {
		return false
	}
	buf, err := taskmem.Read(task, pc-4, 4)
	if err != nil {
		return false
	}
	insn := binary.LittleEndian.Uint32(buf)
	return (insn>>21)&0x7ff == 0b11010100000
}
