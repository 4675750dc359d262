package minicore

import "github.com/pkg/errors"

// Sentinel error values a caller can match against with errors.Is.
var (
	ErrInvalidTask       = errors.New("minicore: invalid task port")
	ErrSinkIO            = errors.New("minicore: core sink I/O failure")
	ErrTaskIntrospection = errors.New("minicore: task introspection failed")
	ErrRead              = errors.New("minicore: target memory read failed")
	ErrLayout            = errors.New("minicore: core layout construction failed")
	ErrOutOfMemory       = errors.New("minicore: out of memory")
)
