// Package vnvheap is a virtually non-volatile heap: objects allocated
// from it live authoritatively in byte-addressable persistent storage
// (FRAM and friends) while a bounded RAM buffer holds the resident
// working set. A persist trigger snapshots every live object within a
// statically bounded time governed by the dirty-byte budget.
package vnvheap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/zhangyunhao116/skipmap"

	"github.com/miretskiy/vnvheap/alloc"
	"github.com/miretskiy/vnvheap/meta"
	"github.com/miretskiy/vnvheap/nvalloc"
	"github.com/miretskiy/vnvheap/storage"
)

// Heap is the resident-object manager and persistence engine. It owns the
// RAM buffer and the storage device exclusively; heap operations follow a
// single-writer discipline, with PersistAll as the only cross-context
// entry point.
type Heap struct {
	mu  sync.Mutex
	cfg config

	buf   []byte
	ram   alloc.Allocator
	store storage.Store
	nv    *nvalloc.Buddy

	// Directory of live objects keyed by id. Skipmap iterates in
	// ascending key order, which keeps persist and eviction scans
	// deterministic.
	dir *skipmap.Uint64Map[*object]

	dirtyBytes int
	tick       uint64
	digest     uint32

	dirOff uint32

	// persisting and persistQueued are the atomics shared between
	// application code and the persist trigger. While persisting is set,
	// no borrow is granted; persistQueued records a trigger that found the
	// heap lock held.
	persisting    atomic.Bool
	persistQueued atomic.Bool
}

// New wires a heap over the given RAM buffer and storage device. If the
// device carries a committed image whose config digest matches, the
// directory and allocator state are restored and every object starts
// non-resident. A device without an image (magic absent) or with a
// different config digest gets a fresh image; a superblock whose magic
// matches but which fails validation yields ErrCorruptedImage.
func New(buf []byte, store storage.Store, opts ...Option) (*Heap, error) {
	cfg := defaultConfig(len(buf))
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.MaxDirtyBytes > len(buf) {
		return nil, fmt.Errorf("vnvheap: max dirty bytes %d exceeds buffer size %d",
			cfg.MaxDirtyBytes, len(buf))
	}

	// Control region layout: superblock at 0, directory right after,
	// object region (8-byte aligned) governed by the buddy allocator.
	sbSize := meta.SuperblockSize(nvalloc.SnapshotSizeFor(cfg.BuddyOrder))
	dirOff := uint32(sbSize)
	objRegion := (dirOff + uint32(meta.DirectorySize(cfg.MaxObjects)) + 7) &^ 7
	if objRegion >= store.Capacity() {
		return nil, fmt.Errorf("vnvheap: storage capacity %d leaves no object region (control region needs %d bytes)",
			store.Capacity(), objRegion)
	}

	nv, err := nvalloc.NewBuddy(objRegion, store.Capacity()-objRegion, cfg.BuddyOrder)
	if err != nil {
		return nil, err
	}

	h := &Heap{
		cfg:    cfg,
		buf:    buf,
		ram:    cfg.NewAllocator(len(buf)),
		store:  store,
		nv:     nv,
		dir:    skipmap.NewUint64[*object](),
		dirOff: dirOff,
	}
	h.digest = h.configDigest()

	sbBuf := make([]byte, sbSize)
	if err := h.storeRead(0, sbBuf); err != nil {
		return nil, err
	}
	sb, err := meta.DecodeSuperblock(sbBuf)
	switch {
	case errors.Is(err, meta.ErrNoImage):
		if err := h.initFresh(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrCorruptedImage, err)
	case sb.ConfigDigest != h.digest:
		log.Info("config digest changed, reinitializing image",
			"stored", sb.ConfigDigest, "current", h.digest)
		if err := h.initFresh(); err != nil {
			return nil, err
		}
	default:
		if err := h.restore(sb); err != nil {
			return nil, err
		}
	}

	registerAccessPoint(h)
	return h, nil
}

// initFresh writes an empty committed image: directory first, superblock
// (the commit point) last.
func (h *Heap) initFresh() error {
	if err := h.writeControlRegion(); err != nil {
		return err
	}
	if err := h.store.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrIOFatal, err)
	}
	return nil
}

// restore rebuilds the directory and allocator state from a committed
// superblock. No object is made resident.
func (h *Heap) restore(sb meta.Superblock) error {
	if err := h.nv.Restore(sb.AllocState); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptedImage, err)
	}
	dirBuf := make([]byte, meta.DirectorySize(h.cfg.MaxObjects))
	if err := h.storeRead(h.dirOff, dirBuf); err != nil {
		return err
	}
	entries, err := meta.DecodeDirectory(dirBuf, h.cfg.MaxObjects)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptedImage, err)
	}
	for _, e := range entries {
		h.dir.Store(uint64(e.ID), &object{id: e.ID, size: e.Size, typeTag: e.TypeTag})
	}
	log.Info("restored heap image", "objects", len(entries), "free_storage", h.nv.FreeBytes())
	return nil
}

// configDigest fingerprints the layout-affecting configuration. A change
// in any of these makes the on-device image unreadable, so the digest
// gates restore.
func (h *Heap) configDigest() uint32 {
	d := xxhash.New()
	var fields [18]byte
	binary.LittleEndian.PutUint64(fields[0:], uint64(h.cfg.MaxObjects))
	binary.LittleEndian.PutUint64(fields[8:], uint64(h.cfg.BuddyOrder))
	binary.LittleEndian.PutUint16(fields[16:], uint16(meta.Version))
	_, _ = d.Write(fields[:])
	// capacity pins the buddy region geometry
	var capBuf [4]byte
	binary.LittleEndian.PutUint32(capBuf[:], h.store.Capacity())
	_, _ = d.Write(capBuf[:])
	return uint32(d.Sum64())
}

// Allocate creates a new object initialized to value and returns its
// handle. The payload is written to storage immediately; residency is
// established lazily on first borrow.
func Allocate[T any](h *Heap, value T) (*Handle[T], error) {
	size, err := sizeOf[T]()
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.unlock()
	if h.persisting.Load() {
		return nil, ErrLocked
	}
	if h.dir.Len() >= h.cfg.MaxObjects {
		return nil, fmt.Errorf("%w: directory full (%d objects)", ErrOutOfStorage, h.cfg.MaxObjects)
	}

	id, err := h.nv.Alloc(uint32(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes", ErrOutOfStorage, size)
	}

	payload := make([]byte, size)
	if _, err := binary.Encode(payload, binary.LittleEndian, value); err != nil {
		h.nv.Free(id, uint32(size))
		return nil, fmt.Errorf("%w: %T: %v", ErrUnsupportedType, value, err)
	}
	if err := h.storeWrite(id, payload); err != nil {
		h.nv.Free(id, uint32(size))
		return nil, err
	}

	obj := &object{id: id, size: uint32(size), typeTag: typeTagOf[T]()}
	h.dir.Store(uint64(id), obj)
	return &Handle[T]{h: h, obj: obj}, nil
}

// Open reattaches a handle to an object that survived a reboot. The type
// must match what the object was allocated with.
func Open[T any](h *Heap, id ObjectID) (*Handle[T], error) {
	size, err := sizeOf[T]()
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.unlock()
	obj := h.lookup(id)
	if obj == nil {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if obj.size != uint32(size) || obj.typeTag != typeTagOf[T]() {
		return nil, fmt.Errorf("%w: object %d is %d bytes tag %04x",
			ErrTypeMismatch, id, obj.size, obj.typeTag)
	}
	return &Handle[T]{h: h, obj: obj}, nil
}

// deallocate frees the object in both spaces and removes its directory
// entry. The freed storage becomes reusable immediately; the removal
// becomes durable at the next persist.
func (h *Heap) deallocate(obj *object) error {
	h.mu.Lock()
	defer h.unlock()
	if h.persisting.Load() {
		return ErrLocked
	}
	if obj.dead {
		return nil
	}
	if r := obj.res; r != nil {
		if r.pins > 0 {
			return ErrPinned
		}
		if r.dirty {
			h.dirtyBytes -= int(obj.size)
		}
		h.ram.Free(r.off, obj.slotSize())
		obj.res = nil
	}
	obj.dead = true
	h.nv.Free(obj.id, obj.size)
	h.dir.Delete(uint64(obj.id))
	return nil
}

// Objects returns the ids of all live objects in ascending order.
func (h *Heap) Objects() []ObjectID {
	h.mu.Lock()
	defer h.unlock()
	out := make([]ObjectID, 0, h.dir.Len())
	h.dir.Range(func(id uint64, _ *object) bool {
		out = append(out, ObjectID(id))
		return true
	})
	return out
}

// DirtyBytes returns the current dirty payload total.
func (h *Heap) DirtyBytes() int {
	h.mu.Lock()
	defer h.unlock()
	return h.dirtyBytes
}

// ResidentBytes returns the buffer bytes consumed by resident slots,
// headers included.
func (h *Heap) ResidentBytes() int {
	h.mu.Lock()
	defer h.unlock()
	total := 0
	h.dir.Range(func(_ uint64, o *object) bool {
		if o.res != nil {
			total += o.slotSize()
		}
		return true
	})
	return total
}

// Close detaches the heap from the global persist access point. The
// storage device is not touched; callers persist first if they need the
// latest state committed.
func (h *Heap) Close() error {
	unregisterAccessPoint(h)
	return nil
}
