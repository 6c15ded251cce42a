package vnvheap

import "errors"

var (
	// ErrOutOfStorage means the non-resident allocator (or the directory)
	// cannot fit the allocation.
	ErrOutOfStorage = errors.New("vnvheap: out of storage")

	// ErrOutOfMemory means the RAM buffer cannot hold the object even
	// after policy-driven eviction.
	ErrOutOfMemory = errors.New("vnvheap: out of resident memory")

	// ErrDirtyBudgetExhausted means the borrow would push the dirty byte
	// total past max_dirty_bytes and no dirty object can be synced.
	ErrDirtyBudgetExhausted = errors.New("vnvheap: dirty budget exhausted")

	// ErrLocked means the operation was attempted while a persist is in
	// progress.
	ErrLocked = errors.New("vnvheap: heap is persisting")

	// ErrBorrowConflict means the object already has an exclusive guard,
	// or shared guards block a new exclusive one.
	ErrBorrowConflict = errors.New("vnvheap: conflicting borrow")

	// ErrIOFatal wraps a storage failure that survived the bounded retry.
	ErrIOFatal = errors.New("vnvheap: fatal storage i/o")

	// ErrCorruptedImage means the image magic matched but validation
	// failed; the caller decides between reinitializing and aborting.
	ErrCorruptedImage = errors.New("vnvheap: corrupted image")

	// ErrHandleClosed means the handle (or its object) was deallocated.
	ErrHandleClosed = errors.New("vnvheap: handle closed")

	// ErrPinned means the object still has outstanding guards.
	ErrPinned = errors.New("vnvheap: object pinned")

	// ErrNotFound means no directory entry exists for the object id.
	ErrNotFound = errors.New("vnvheap: object not found")

	// ErrTypeMismatch means Open was called with a type whose fingerprint
	// or size does not match the directory entry.
	ErrTypeMismatch = errors.New("vnvheap: type mismatch")

	// ErrUnsupportedType means the value has no fixed binary size.
	ErrUnsupportedType = errors.New("vnvheap: type has no fixed encoded size")
)
