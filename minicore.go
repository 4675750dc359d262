// Package minicore writes an LLDB-loadable Mach-O core file for a Darwin
// task: per-thread register state, a best-effort frame-pointer-chased
// stack unwind, the catalog of loaded images with their UUIDs, and the
// slice of process memory referenced by either of those.
//
// Only arm64 and amd64 Darwin targets are supported; see SPEC_FULL.md
// for what is explicitly out of scope.
package minicore

import "github.com/appsworld/minicore/internal/sink"

// Task identifies a Mach task, the kernel-level handle minicore
// introspects and dumps.
type Task uint32

// CrashContext carries the signal-handler-captured state of the thread
// that was executing when a fatal signal fired. When present and the
// thread being recorded matches CrashedTID, its register state is taken
// from MContext instead of re-queried live, because by the time
// WriteCore runs the kernel's own view of that thread's state may
// already reflect signal-trampoline bookkeeping rather than the
// faulting instruction.
//
// MContext holds the raw bytes of the architecture-native
// ucontext_t.uc_mcontext->__ss/__es register blocks, exactly as the
// signal handler observed them (an arch-native mcontext64 struct, copied
// byte-for-byte — this library does not define that struct itself since
// its layout is owned by libsystem, not by us).
type CrashContext struct {
	CrashedTID uint64
	MContext   []byte
}

// WriteCore suspends task (or, for a self-dump, every thread but the
// caller's), captures every thread's register state and a best-effort
// stack unwind, catalogs loaded images, and streams the resulting
// MH_CORE file to s. crash may be nil.
func WriteCore(task Task, s sink.Sink, crash *CrashContext) error {
	return writeCore(task, s, crash)
}

// WriteCoreToPath is a convenience wrapper that creates (or truncates)
// path and calls WriteCore on it.
func WriteCoreToPath(task Task, path string, crash *CrashContext) error {
	sk, err := sink.Create(path)
	if err != nil {
		return err
	}
	defer sk.Close()
	return WriteCore(task, sk, crash)
}

// WriteCoreToFD wraps a raw, already-open file descriptor and writes the
// core to it.
func WriteCoreToFD(task Task, fd int, crash *CrashContext) error {
	sk, err := sink.NewFD(fd)
	if err != nil {
		return err
	}
	defer sk.Close()
	return WriteCore(task, sk, crash)
}
