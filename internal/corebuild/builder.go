// Package corebuild assembles a Mach-O MH_CORE file: a file header
// followed by note, thread, and segment load commands, followed by their
// payloads (the note payloads start at a 16-byte boundary, the segment
// payloads at a 4096-byte boundary, each group packed back-to-back),
// streamed through a Provider rather than held fully in memory.
package corebuild

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/appsworld/minicore/internal/sink"
	"github.com/appsworld/minicore/types"
)

const (
	noteAlign    = 16
	segmentAlign = 4096
	// chunkSize bounds a single segment payload write, matching the
	// original's 4MiB streaming chunk so a multi-gigabyte segment never
	// needs to be buffered whole.
	chunkSize = 4096 * 1024
)

func alignUp(v, align int64) int64 {
	if align <= 0 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

// RegisterSet is one thread-state flavor recorded in an LC_THREAD
// command: a kind (the flavor the kernel uses for thread_get_state) and
// its register words.
type RegisterSet struct {
	Kind  types.RegSetKind
	Words []uint32
}

type noteEntry struct {
	cmd      types.NoteCmd
	provider Provider
}

type segmentEntry struct {
	cmd      types.Segment64
	provider Provider
}

// Builder accumulates note, thread, and segment commands for a single
// core file and writes them out via Build. It is not safe for concurrent
// use.
type Builder struct {
	byteOrder binary.ByteOrder
	cpu       types.CPU
	subCPU    types.CPUSubtype

	notes    []noteEntry
	threads  []types.Thread
	segments []segmentEntry

	finalized bool
	ncmds     uint32
	sizeCmds  uint32
}

// New creates a Builder for the given target architecture.
func New(cpu types.CPU, subCPU types.CPUSubtype) *Builder {
	return &Builder{
		byteOrder: binary.LittleEndian,
		cpu:       cpu,
		subCPU:    subCPU,
	}
}

// AddNoteCommand registers a note command with the given owner name
// (zero-padded to 16 bytes, matching LC_NOTE's fixed field; a longer
// name is rejected with an error) and payload size. It returns the note's index, to be passed to
// SetNoteProvider once the payload is ready. Builder must not be
// finalized yet.
func (b *Builder) AddNoteCommand(owner string, size int64) (int, error) {
	if b.finalized {
		return 0, errors.New("corebuild: cannot add commands after FinalizeLoadCommands")
	}
	if len(owner) > 16 {
		return 0, errors.Errorf("corebuild: note owner %q exceeds 16 bytes", owner)
	}
	var name [16]byte
	copy(name[:], owner)

	cmd := types.NoteCmd{
		LoadCmd: types.LC_NOTE,
		Len:     8 + 16 + 8 + 8,
		DataOwner: name,
		Size:      uint64(size),
	}
	b.notes = append(b.notes, noteEntry{cmd: cmd})
	return len(b.notes) - 1, nil
}

// SetNoteProvider attaches the payload provider for a previously added
// note command.
func (b *Builder) SetNoteProvider(index int, p Provider) error {
	if index < 0 || index >= len(b.notes) {
		return errors.Errorf("corebuild: note index %d out of range", index)
	}
	b.notes[index].provider = p
	return nil
}

// AddThreadCommand appends an LC_THREAD command built from one or more
// register-state flavors, in the (flavor, count, state words...) wire
// format the kernel itself uses for thread_get_state/thread_set_state.
func (b *Builder) AddThreadCommand(sets ...RegisterSet) error {
	if b.finalized {
		return errors.New("corebuild: cannot add commands after FinalizeLoadCommands")
	}
	if len(sets) == 0 {
		return errors.New("corebuild: thread command needs at least one register set")
	}
	var data []uint32
	for _, s := range sets {
		data = append(data, uint32(s.Kind), uint32(len(s.Words)))
		data = append(data, s.Words...)
	}
	// cmdsize = the 8-byte load-command header plus every (flavor,
	// count, words...) tuple actually emitted, not the size of some
	// packed host struct — see SPEC_FULL.md's Open Question decision.
	cmdsize := uint32(8 + len(data)*4)
	b.threads = append(b.threads, types.Thread{
		LoadCmd: types.LC_THREAD,
		Len:     cmdsize,
		Data:    data,
	})
	return nil
}

// AddSegmentCommand registers an LC_SEGMENT_64 command covering
// [vmaddr, vmaddr+size) with the given protection, backed by p.
func (b *Builder) AddSegmentCommand(name string, vmaddr, size uint64, prot types.VmProtection, p Provider) error {
	if b.finalized {
		return errors.New("corebuild: cannot add commands after FinalizeLoadCommands")
	}
	var segName [16]byte
	copy(segName[:], name)

	cmd := types.Segment64{
		LoadCmd: types.LC_SEGMENT_64,
		Len:     8 + 16 + 8*4 + 4 + 4 + 4 + 4,
		Name:    segName,
		Addr:    vmaddr,
		Memsz:   size,
		Filesz:  uint64(p.Size()),
		Maxprot: prot,
		Prot:    prot,
	}
	b.segments = append(b.segments, segmentEntry{cmd: cmd, provider: p})
	return nil
}

// FinalizeLoadCommands computes ncmds/sizeofcmds across all three
// command lists. It is idempotent: calling it again after commands were
// only read (never added) is a no-op.
func (b *Builder) FinalizeLoadCommands() error {
	if b.finalized {
		return nil
	}
	var ncmds, sizeCmds uint32
	for _, n := range b.notes {
		ncmds++
		sizeCmds += n.cmd.Len
	}
	for _, t := range b.threads {
		ncmds++
		sizeCmds += t.Len
	}
	for _, s := range b.segments {
		ncmds++
		sizeCmds += s.cmd.Len
	}
	b.ncmds = ncmds
	b.sizeCmds = sizeCmds
	b.finalized = true
	return nil
}

func (b *Builder) headerSize() int64 {
	return int64(types.FileHeaderSize64)
}

// offsetForNotePayload returns the file offset the index'th note's
// payload should be written at: the note-payload region starts at a
// 16-byte boundary, and every payload after that is packed directly
// after the one before it, with no re-alignment between them.
func (b *Builder) offsetForNotePayload(index int) (int64, error) {
	if !b.finalized {
		return 0, errors.New("corebuild: FinalizeLoadCommands must run first")
	}
	off := alignUp(b.headerSize()+int64(b.sizeCmds), noteAlign)
	for i := 0; i < index; i++ {
		off += b.notes[i].cmd.Size
	}
	return off, nil
}

// NotePayloadOffset returns the absolute file offset at which the
// index'th note's payload will be written. It must be called after
// FinalizeLoadCommands. Callers that need to bake a self-referencing
// absolute offset into a note's own payload (e.g. the all-image-infos
// note) call this before building that payload's bytes.
func (b *Builder) NotePayloadOffset(index int) (int64, error) {
	return b.offsetForNotePayload(index)
}

// offsetForSegmentPayload returns the file offset the index'th segment's
// payload should be written at: the segment-payload region starts at a
// 4096-byte boundary, and every payload after that is packed directly
// after the one before it, with no re-alignment between them.
func (b *Builder) offsetForSegmentPayload(index int) (int64, error) {
	if !b.finalized {
		return 0, errors.New("corebuild: FinalizeLoadCommands must run first")
	}
	off, err := b.offsetForNotePayload(len(b.notes))
	if err != nil {
		return 0, err
	}
	off = alignUp(off, segmentAlign)
	for i := 0; i < index; i++ {
		off += int64(b.segments[i].cmd.Filesz)
	}
	return off, nil
}

// Build finalizes (if not already) and writes the complete core file to
// s: header, then note/thread/segment commands in that order with
// offsets patched in, then note payloads, then segment payloads.
func (b *Builder) Build(s sink.Sink) error {
	if err := b.FinalizeLoadCommands(); err != nil {
		return err
	}

	header := types.FileHeader{
		Magic:        types.Magic64,
		CPU:          b.cpu,
		SubCPU:       b.subCPU,
		Type:         types.MH_CORE,
		NCommands:    b.ncmds,
		SizeCommands: b.sizeCmds,
	}
	hb := make([]byte, types.FileHeaderSize64)
	header.Put(hb, b.byteOrder)
	if _, err := s.WriteAt(hb, 0); err != nil {
		return errors.Wrap(err, "corebuild: write header")
	}

	cursor := b.headerSize()

	for i := range b.notes {
		n := &b.notes[i]
		off, err := b.offsetForNotePayload(i)
		if err != nil {
			return err
		}
		n.cmd.Offset = uint64(off)
		buf := make([]byte, n.cmd.Len)
		putLoadCmd(buf, b.byteOrder, uint32(n.cmd.LoadCmd), n.cmd.Len)
		copy(buf[8:24], n.cmd.DataOwner[:])
		b.byteOrder.PutUint64(buf[24:], n.cmd.Offset)
		b.byteOrder.PutUint64(buf[32:], n.cmd.Size)
		if _, err := s.WriteAt(buf, cursor); err != nil {
			return errors.Wrap(err, "corebuild: write note command")
		}
		cursor += int64(n.cmd.Len)
	}

	for i := range b.threads {
		t := &b.threads[i]
		buf := make([]byte, t.Len)
		putLoadCmd(buf, b.byteOrder, uint32(t.LoadCmd), t.Len)
		off := 8
		for _, w := range t.Data {
			b.byteOrder.PutUint32(buf[off:], w)
			off += 4
		}
		if _, err := s.WriteAt(buf, cursor); err != nil {
			return errors.Wrap(err, "corebuild: write thread command")
		}
		cursor += int64(t.Len)
	}

	for i := range b.segments {
		seg := &b.segments[i]
		off, err := b.offsetForSegmentPayload(i)
		if err != nil {
			return err
		}
		seg.cmd.Offset = uint64(off)
		buf := make([]byte, seg.cmd.Len)
		putLoadCmd(buf, b.byteOrder, uint32(seg.cmd.LoadCmd), seg.cmd.Len)
		copy(buf[8:24], seg.cmd.Name[:])
		b.byteOrder.PutUint64(buf[24:], seg.cmd.Addr)
		b.byteOrder.PutUint64(buf[32:], seg.cmd.Memsz)
		b.byteOrder.PutUint64(buf[40:], seg.cmd.Offset)
		b.byteOrder.PutUint64(buf[48:], seg.cmd.Filesz)
		b.byteOrder.PutUint32(buf[56:], uint32(seg.cmd.Maxprot))
		b.byteOrder.PutUint32(buf[60:], uint32(seg.cmd.Prot))
		b.byteOrder.PutUint32(buf[64:], seg.cmd.Nsect)
		b.byteOrder.PutUint32(buf[68:], uint32(seg.cmd.Flag))
		if _, err := s.WriteAt(buf, cursor); err != nil {
			return errors.Wrap(err, "corebuild: write segment command")
		}
		cursor += int64(seg.cmd.Len)
	}

	for i := range b.notes {
		n := &b.notes[i]
		if n.provider == nil {
			continue
		}
		if err := streamProvider(s, n.provider, int64(n.cmd.Offset)); err != nil {
			return errors.Wrapf(err, "corebuild: write note payload %d", i)
		}
	}

	for i := range b.segments {
		seg := &b.segments[i]
		if err := streamProvider(s, seg.provider, int64(seg.cmd.Offset)); err != nil {
			return errors.Wrapf(err, "corebuild: write segment payload %d", i)
		}
	}

	return nil
}

func putLoadCmd(buf []byte, o binary.ByteOrder, cmd uint32, size uint32) {
	o.PutUint32(buf[0:], cmd)
	o.PutUint32(buf[4:], size)
}

// streamProvider copies p's full payload into s at file offset off, in
// chunks no larger than chunkSize so a multi-gigabyte segment is never
// buffered whole.
func streamProvider(s sink.Sink, p Provider, off int64) error {
	size := p.Size()
	buf := make([]byte, chunkSize)
	for written := int64(0); written < size; {
		n := int64(len(buf))
		if remaining := size - written; remaining < n {
			n = remaining
		}
		rn, err := p.ReadAt(buf[:n], written)
		if err != nil {
			return err
		}
		if _, err := s.WriteAt(buf[:rn], off+written); err != nil {
			return err
		}
		written += int64(rn)
	}
	return nil
}
