// Package sink provides a random-access byte sink abstraction over the
// output destinations a core dump can be written to: an already-open
// file, a raw file descriptor, or (via Create) a path.
package sink

import (
	"os"

	"github.com/pkg/errors"
)

// Sink is a random-access, positionable byte destination. Implementations
// take ownership of the underlying descriptor and close it in Close.
type Sink interface {
	// WriteAt writes buf at absolute offset off, like io.WriterAt.
	WriteAt(buf []byte, off int64) (int, error)
	// Flush forces any buffered data to the underlying storage.
	Flush() error
	// Size returns the current size of the sink's backing storage.
	Size() (int64, error)
	// Truncate sets the size of the backing storage, per os.Truncate
	// semantics (extending with zero bytes or discarding trailing data).
	Truncate(size int64) error
	// Close flushes and releases the underlying descriptor.
	Close() error
}

// fileSink backs a Sink with an *os.File the caller already owns.
type fileSink struct {
	f *os.File
}

// NewFile wraps f as a Sink. f is closed by Close.
func NewFile(f *os.File) Sink {
	return &fileSink{f: f}
}

// Create opens (or truncates) path for writing and wraps it as a Sink.
func Create(path string) (Sink, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "sink: create %q", path)
	}
	return NewFile(f), nil
}

func (s *fileSink) WriteAt(buf []byte, off int64) (int, error) {
	n, err := s.f.WriteAt(buf, off)
	if err != nil {
		return n, errors.Wrap(err, "sink: write")
	}
	return n, nil
}

func (s *fileSink) Flush() error {
	if err := s.f.Sync(); err != nil {
		return errors.Wrap(err, "sink: sync")
	}
	return nil
}

func (s *fileSink) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "sink: stat")
	}
	return fi.Size(), nil
}

func (s *fileSink) Truncate(size int64) error {
	if err := s.f.Truncate(size); err != nil {
		return errors.Wrap(err, "sink: truncate")
	}
	return nil
}

func (s *fileSink) Close() error {
	_ = s.Flush()
	if err := s.f.Close(); err != nil {
		return errors.Wrap(err, "sink: close")
	}
	return nil
}

// NewFD wraps a raw, already-open file descriptor as a Sink. The
// descriptor is adopted via os.NewFile and closed by Close.
func NewFD(fd int) (Sink, error) {
	f := os.NewFile(uintptr(fd), "minicore-core")
	if f == nil {
		return nil, errors.Errorf("sink: invalid file descriptor %d", fd)
	}
	return NewFile(f), nil
}
