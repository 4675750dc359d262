package corebuild

import "github.com/pkg/errors"

// Provider supplies the payload bytes for one note or segment command.
// It is the generalization of both a copied in-memory buffer and a
// windowed live read of target-process memory.
type Provider interface {
	// Size is the total payload size in bytes.
	Size() int64
	// ReadAt fills buf starting at payload offset off, like io.ReaderAt.
	ReadAt(buf []byte, off int64) (int, error)
}

// BytesProvider serves a payload already copied into memory.
type BytesProvider struct {
	data []byte
}

// NewBytesProvider wraps data as a Provider. data is not copied; callers
// must not mutate it afterward.
func NewBytesProvider(data []byte) *BytesProvider {
	return &BytesProvider{data: data}
}

func (p *BytesProvider) Size() int64 { return int64(len(p.data)) }

func (p *BytesProvider) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(p.data)) {
		return 0, errors.Errorf("corebuild: offset %d out of range for %d-byte payload", off, len(p.data))
	}
	n := copy(buf, p.data[off:])
	return n, nil
}
