// Package storage defines the byte-addressable persistent store the heap
// writes through, plus the reference implementations used in tests and on
// real devices. Writes are byte-granular and idempotent; nothing here
// assumes multi-byte atomicity. Flush is the durability barrier and may be
// a no-op on intrinsically byte-persistent media such as FRAM.
package storage

import (
	"errors"
	"io"
	"syscall"
)

// Store is an opaque byte-addressable blob.
//
// Offsets are absolute. Implementations must tolerate overlapping and
// repeated writes of the same bytes; the heap relies on write idempotency
// for crash consistency, never on atomicity.
type Store interface {
	// ReadAt fills dst from the bytes at off.
	ReadAt(off uint32, dst []byte) error

	// WriteAt stores src at off.
	WriteAt(off uint32, src []byte) error

	// Flush returns only once all prior writes are power-safe.
	Flush() error

	// Capacity returns the usable size of the store in bytes.
	Capacity() uint32
}

var (
	// ErrTransient marks an I/O failure that may succeed if retried.
	ErrTransient = errors.New("storage: transient i/o error")

	// ErrFatal marks an I/O failure that will not go away on retry.
	ErrFatal = errors.New("storage: fatal i/o error")

	// ErrOutOfRange is returned for accesses past Capacity.
	ErrOutOfRange = errors.New("storage: access out of range")
)

// IsTransient returns true if the error is likely temporary and the
// operation might succeed if retried. This is used to distinguish between
// "data is gone" and "the device is busy."
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, ErrFatal) {
		return false
	}

	// Specific transient syscall errors from file-backed stores.
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EINTR, // Interrupted system call
			syscall.EAGAIN, // Try again
			syscall.EBUSY,  // Device or resource busy
			syscall.ENOMEM: // Out of memory
			return true
		}
		return false
	}

	// Short reads from a racing truncate are not retryable.
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return false
	}

	return false
}

// checkRange validates [off, off+n) against capacity.
func checkRange(off uint32, n int, capacity uint32) error {
	if n < 0 || uint64(off)+uint64(n) > uint64(capacity) {
		return ErrOutOfRange
	}
	return nil
}
