package vnvheap

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// ObjectID is the object's offset inside the storage object region. It is
// stable across reboots and acts as the directory primary key.
type ObjectID = uint32

// headerSize is the per-slot resident header carved from the RAM buffer
// ahead of the payload: flags(1) + type tag(2).
const headerSize = 3

// header flag bits
const (
	flagDirty = 1 << iota
	flagPinned
)

// object is the heap-owned record behind every handle. Handles reach the
// heap through ids, never through owning references, so the heap remains
// free to evict and reload payloads underneath them.
type object struct {
	id      ObjectID
	size    uint32
	typeTag uint16
	dead    bool

	res *resident // nil while non-resident
}

// resident tracks the object's slot in the RAM buffer.
type resident struct {
	off   int // slot offset; header at off, payload at off+headerSize
	dirty bool
	pins  int
	mut   bool // exclusive guard outstanding
	tick  uint64
}

func (o *object) slotSize() int { return headerSize + int(o.size) }

// Handle is a long-lived typed reference to a heap object. It survives
// eviction; Close deallocates the object in both spaces.
type Handle[T any] struct {
	h      *Heap
	obj    *object
	closed bool
}

// ID returns the stable object id, usable with Open after a reboot.
func (hd *Handle[T]) ID() ObjectID { return hd.obj.id }

// Get acquires a shared read-only guard, loading the object if necessary.
// It never blocks: a conflicting exclusive guard, an ongoing persist, or
// an unfillable buffer each fail with their specific error.
func (hd *Handle[T]) Get() (*Ref[T], error) {
	if hd.closed {
		return nil, ErrHandleClosed
	}
	r := &Ref[T]{h: hd.h, obj: hd.obj}
	if err := hd.h.acquire(hd.obj, false, &r.val); err != nil {
		return nil, err
	}
	return r, nil
}

// GetMut acquires the exclusive read-write guard. Dirty-budget headroom
// for the whole payload is reserved here, so releasing the guard cannot
// fail.
func (hd *Handle[T]) GetMut() (*MutRef[T], error) {
	if hd.closed {
		return nil, ErrHandleClosed
	}
	r := &MutRef[T]{h: hd.h, obj: hd.obj}
	if err := hd.h.acquire(hd.obj, true, &r.val); err != nil {
		return nil, err
	}
	return r, nil
}

// Close deallocates the object in both RAM and storage and invalidates
// every handle to it. Fails with ErrPinned while guards are outstanding.
func (hd *Handle[T]) Close() error {
	if hd.closed {
		return nil
	}
	if err := hd.h.deallocate(hd.obj); err != nil {
		return err
	}
	hd.closed = true
	return nil
}

// Ref is a shared guard: any number may coexist. While held, the object
// is pinned resident.
type Ref[T any] struct {
	h        *Heap
	obj      *object
	val      T
	released bool
}

// Value returns the object value as read at acquisition.
func (r *Ref[T]) Value() T { return r.val }

// Release drops the pin. Must be called on every exit path.
func (r *Ref[T]) Release() {
	if r.released {
		return
	}
	r.released = true
	r.h.release(r.obj, nil)
}

// MutRef is the exclusive guard: at most one per object, mutually
// exclusive with shared guards.
type MutRef[T any] struct {
	h        *Heap
	obj      *object
	val      T
	released bool
}

// Value returns a pointer to the working copy. Mutations become part of
// the resident image when the guard is released.
func (r *MutRef[T]) Value() *T { return &r.val }

// Release writes the working copy back to the resident slot and drops the
// pin. The object stays dirty until synced or persisted.
func (r *MutRef[T]) Release() {
	if r.released {
		return
	}
	r.released = true
	buf := make([]byte, r.obj.size)
	// encoding cannot fail: the size was validated at allocation
	if _, err := binary.Encode(buf, binary.LittleEndian, r.val); err != nil {
		panic(fmt.Sprintf("vnvheap: encode of validated type failed: %v", err))
	}
	r.h.release(r.obj, buf)
}

// sizeOf returns the fixed encoded size of T.
func sizeOf[T any]() (int, error) {
	var zero T
	n := binary.Size(zero)
	if n < 0 {
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, zero)
	}
	return n, nil
}

// typeTagOf fingerprints T for the directory. Collisions only weaken the
// reopen sanity check; the storage layer itself is type-agnostic.
func typeTagOf[T any]() uint16 {
	name := reflect.TypeFor[T]().String()
	return uint16(xxhash.Sum64String(name))
}
