package corebuild

import (
	"testing"

	"github.com/appsworld/minicore/internal/sink"
	"github.com/appsworld/minicore/types"
)

func TestBuildLayoutContract(t *testing.T) {
	b := New(types.CPUArm64, types.CPUSubtype(types.CPUSubtypeArm64All))

	notePayload := []byte("hello-note-payload")
	idx, err := b.AddNoteCommand(types.NoteOwnerAddrableBits, int64(len(notePayload)))
	if err != nil {
		t.Fatalf("AddNoteCommand: %v", err)
	}
	if err := b.SetNoteProvider(idx, NewBytesProvider(notePayload)); err != nil {
		t.Fatalf("SetNoteProvider: %v", err)
	}

	if err := b.AddThreadCommand(RegisterSet{Kind: types.RegSetKindArm64GPR, Words: make([]uint32, 68)}); err != nil {
		t.Fatalf("AddThreadCommand: %v", err)
	}

	segData := make([]byte, 10000)
	if err := b.AddSegmentCommand("seg1", 0x100000, uint64(len(segData)), types.VmProtection(3), NewBytesProvider(segData)); err != nil {
		t.Fatalf("AddSegmentCommand: %v", err)
	}

	path := t.TempDir() + "/core"
	s, err := sink.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	if err := b.Build(s); err != nil {
		t.Fatalf("Build: %v", err)
	}

	size, err := s.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}

	noteOff, err := b.offsetForNotePayload(0)
	if err != nil {
		t.Fatalf("offsetForNotePayload: %v", err)
	}
	if noteOff%noteAlign != 0 {
		t.Fatalf("note payload offset %d not 16-byte aligned", noteOff)
	}

	segOff, err := b.offsetForSegmentPayload(0)
	if err != nil {
		t.Fatalf("offsetForSegmentPayload: %v", err)
	}
	if segOff%segmentAlign != 0 {
		t.Fatalf("segment payload offset %d not 4096-byte aligned", segOff)
	}
	if size < segOff+int64(len(segData)) {
		t.Fatalf("file too small: size=%d want at least %d", size, segOff+int64(len(segData)))
	}
}

func TestThreadCommandCmdsize(t *testing.T) {
	b := New(types.CPUAmd64, types.CPUSubtype(types.CPUSubtypeX8664All))
	if err := b.AddThreadCommand(
		RegisterSet{Kind: types.RegSetKindX86GPR, Words: make([]uint32, 42)},
		RegisterSet{Kind: types.RegSetKindX86EXC, Words: make([]uint32, 6)},
	); err != nil {
		t.Fatalf("AddThreadCommand: %v", err)
	}
	got := b.threads[0].Len
	want := uint32(8 + (8+42*4) + (8 + 6*4))
	if got != want {
		t.Fatalf("cmdsize = %d, want %d", got, want)
	}
}
