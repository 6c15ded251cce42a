package vnvheap

import (
	"fmt"
	"os"
	"sync"

	"github.com/miretskiy/vnvheap/meta"
)

// The persist access point mirrors the interrupt line on a real device:
// a single global slot through which the power-loss trigger reaches the
// heap without holding any reference of its own.
var accessPoint struct {
	mu sync.Mutex
	h  *Heap
}

func registerAccessPoint(h *Heap) {
	accessPoint.mu.Lock()
	defer accessPoint.mu.Unlock()
	if accessPoint.h == nil {
		accessPoint.h = h
		return
	}
	if accessPoint.h != h {
		log.Warn("persist access point already registered; PersistAll() will not cover this heap")
	}
}

func unregisterAccessPoint(h *Heap) {
	accessPoint.mu.Lock()
	defer accessPoint.mu.Unlock()
	if accessPoint.h == h {
		accessPoint.h = nil
	}
}

// PersistAll is the interrupt-time persist trigger. It is idempotent and
// never blocks: if the heap lock is held by an in-flight operation, the
// persist is queued and runs the moment that operation releases the lock.
func PersistAll() {
	if !accessPoint.mu.TryLock() {
		// a heap is mid-construction or mid-teardown; nothing to save
		return
	}
	h := accessPoint.h
	accessPoint.mu.Unlock()
	if h != nil {
		h.persistFromTrigger()
	}
}

// PersistAll synchronously snapshots all live objects and returns the
// persist status. Must not be called again before the completion
// callback of a previous call has fired.
func (h *Heap) PersistAll() error {
	if h.persisting.Load() {
		return ErrLocked
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.persistLocked()
}

func (h *Heap) persistFromTrigger() {
	if h.persisting.Load() {
		return
	}
	if !h.mu.TryLock() {
		h.persistDebug("vnvheap: persist queued\n")
		h.persistQueued.Store(true)
		return
	}
	h.persistLocked()
	h.mu.Unlock()
}

// persistLocked writes the snapshot in commit order: dirty payloads, then
// directory, then the superblock whose arrival makes the snapshot valid,
// then one flush. The completion callback fires regardless of status so
// the system never stalls at an unrecoverable trigger.
//
// Worst-case work is max_dirty_bytes of payload writes plus the fixed
// control region, which is the static bound the heap advertises.
func (h *Heap) persistLocked() error {
	h.persisting.Store(true)
	defer h.persisting.Store(false)
	h.persistDebug("vnvheap: persist triggered\n")

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// 1. Every dirty resident payload goes to its storage slot. A failed
	// write is recorded but does not stop the snapshot.
	h.dir.Range(func(_ uint64, o *object) bool {
		if o.res == nil || !o.res.dirty {
			return true
		}
		if err := h.storeWrite(o.id, h.payload(o)); err != nil {
			keep(err)
			return true
		}
		o.res.dirty = false
		h.dirtyBytes -= int(o.size)
		h.writeHeader(o)
		return true
	})

	// 2+3. Directory, then the superblock commit carrying the allocator state.
	keep(h.writeControlRegion())

	// 4. Durability barrier.
	if err := h.store.Flush(); err != nil {
		keep(fmt.Errorf("%w: flush: %v", ErrIOFatal, err))
	}

	h.persistDebug("vnvheap: persist finished\n")
	if h.cfg.OnPersistDone != nil {
		h.cfg.OnPersistDone(firstErr)
	}
	return firstErr
}

// writeControlRegion writes the directory and then the superblock. The
// superblock goes last: until its CRC lands, a reboot sees the previous
// superblock and the previous allocator state, so payload slots recorded
// there are unchanged and restore remains safe.
func (h *Heap) writeControlRegion() error {
	entries := make([]meta.Entry, 0, h.dir.Len())
	h.dir.Range(func(_ uint64, o *object) bool {
		entries = append(entries, meta.Entry{ID: o.id, Size: o.size, TypeTag: o.typeTag})
		return true
	})
	dirBuf := meta.AppendDirectory(nil, entries, h.cfg.MaxObjects)
	if err := h.storeWrite(h.dirOff, dirBuf); err != nil {
		return err
	}

	sbBuf := meta.AppendSuperblock(nil, meta.Superblock{
		Version:      meta.Version,
		ConfigDigest: h.digest,
		AllocState:   h.nv.AppendSnapshot(nil),
	})
	return h.storeWrite(0, sbBuf)
}

// persistDebug emits trigger-context progress prints. The safe variant
// writes preformatted bytes straight to stderr; the unsafe variant goes
// through the logger, which allocates.
func (h *Heap) persistDebug(msg string) {
	switch {
	case h.cfg.UnsafePersistDebugPrints:
		log.Debug(msg)
	case h.cfg.PersistDebugPrints:
		_, _ = os.Stderr.WriteString(msg)
	}
}
