// Package alloc provides the volatile allocators that carve resident slots
// out of the heap's single RAM buffer. Allocators hand out offsets into
// that buffer and never relocate a live allocation; when they run out of
// contiguous space the resident object manager makes room by evicting.
package alloc

import "errors"

// ErrOutOfMemory is returned when no free region can satisfy a request.
var ErrOutOfMemory = errors.New("alloc: out of memory")

// Allocator manages a fixed buffer of Size() bytes.
type Allocator interface {
	// Alloc reserves size bytes and returns the slot offset.
	Alloc(size int) (int, error)

	// Free releases a slot previously returned by Alloc with the same size.
	Free(off, size int)

	// Size returns the managed buffer size in bytes.
	Size() int

	// FreeBytes returns the total unreserved bytes (possibly fragmented).
	FreeBytes() int
}
