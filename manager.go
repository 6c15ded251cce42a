package vnvheap

import (
	"encoding/binary"
	"fmt"

	"github.com/miretskiy/vnvheap/policy"
	"github.com/miretskiy/vnvheap/storage"
)

// This file is the resident object manager: the per-object state machine
// (non-resident / resident-clean / resident-dirty, with the heap-wide
// persisting flag acting as the locked state) and the dirty-byte
// accounting that keeps sum(dirty payloads) <= MaxDirtyBytes at all times
// outside a transition.

// acquire pins the object, loading it first if necessary, and decodes the
// payload into dst. For exclusive borrows it reserves dirty headroom up
// front so the matching release cannot fail.
func (h *Heap) acquire(obj *object, exclusive bool, dst any) error {
	h.mu.Lock()
	defer h.unlock()

	if h.persisting.Load() {
		return ErrLocked
	}
	if obj.dead {
		return ErrHandleClosed
	}
	if r := obj.res; r != nil {
		if r.mut || (exclusive && r.pins > 0) {
			return ErrBorrowConflict
		}
	}

	if err := h.requireResident(obj); err != nil {
		return err
	}

	r := obj.res
	if exclusive && !r.dirty {
		if err := h.ensureDirtyHeadroom(int(obj.size), obj); err != nil {
			return err
		}
		// Conservative dirty tracking: the object counts against the
		// budget from the moment the exclusive guard exists.
		r.dirty = true
		h.dirtyBytes += int(obj.size)
	}

	r.pins++
	r.mut = exclusive
	r.tick = h.nextTick()
	h.writeHeader(obj)

	if _, err := binary.Decode(h.payload(obj), binary.LittleEndian, dst); err != nil {
		// size was validated at allocation; a fixed-size decode cannot fail
		panic(fmt.Sprintf("vnvheap: decode of validated type failed: %v", err))
	}
	return nil
}

// release drops one pin. For an exclusive guard, mutated holds the
// re-encoded payload to copy into the resident slot.
func (h *Heap) release(obj *object, mutated []byte) {
	h.mu.Lock()
	if r := obj.res; r != nil {
		if mutated != nil {
			copy(h.payload(obj), mutated)
			r.mut = false
			// A persist that ran while the guard was held has already
			// uncharged the object; the budget was reserved at acquire,
			// so re-charging here cannot cross it.
			if !r.dirty {
				r.dirty = true
				h.dirtyBytes += int(obj.size)
			}
		}
		if r.pins > 0 {
			r.pins--
		}
		h.writeHeader(obj)
	}
	h.unlock()
}

// requireResident loads the object into the RAM buffer if it is not
// already there. On storage failure the object is left non-resident.
func (h *Heap) requireResident(obj *object) error {
	if obj.res != nil {
		return nil
	}

	off, err := h.ensureBufferSpace(obj.slotSize(), obj)
	if err != nil {
		return err
	}
	obj.res = &resident{off: off}
	if err := h.storeRead(obj.id, h.payload(obj)); err != nil {
		h.ram.Free(off, obj.slotSize())
		obj.res = nil
		return err
	}
	h.writeHeader(obj)
	return nil
}

// ensureBufferSpace allocates a slot, evicting policy-chosen victims
// until the allocation fits or no victim remains.
func (h *Heap) ensureBufferSpace(size int, exclude *object) (int, error) {
	for {
		off, err := h.ram.Alloc(size)
		if err == nil {
			return off, nil
		}

		plan := h.cfg.Policy.ChooseVictims(
			policy.Request{FreeBytes: size}, h.candidates(exclude))
		if len(plan) == 0 {
			return 0, ErrOutOfMemory
		}

		progress := false
		for _, id := range plan {
			o := h.lookup(id)
			if o == nil || o.res == nil || o.res.pins > 0 {
				continue
			}
			if o.res.dirty {
				if err := h.syncObject(o); err != nil {
					return 0, err
				}
			}
			h.unloadObject(o)
			progress = true
		}
		if !progress {
			return 0, ErrOutOfMemory
		}
	}
}

// ensureDirtyHeadroom syncs policy-chosen dirty objects until `need`
// bytes can be charged without crossing MaxDirtyBytes.
func (h *Heap) ensureDirtyHeadroom(need int, exclude *object) error {
	if need > h.cfg.MaxDirtyBytes {
		return ErrDirtyBudgetExhausted
	}
	for h.cfg.MaxDirtyBytes-h.dirtyBytes < need {
		short := need - (h.cfg.MaxDirtyBytes - h.dirtyBytes)
		plan := h.cfg.Policy.ChooseVictims(
			policy.Request{DirtyHeadroom: short}, h.candidates(exclude))
		if len(plan) == 0 {
			return ErrDirtyBudgetExhausted
		}

		synced := 0
		for _, id := range plan {
			o := h.lookup(id)
			if o == nil || o.res == nil || !o.res.dirty || o.res.pins > 0 {
				continue
			}
			if err := h.syncObject(o); err != nil {
				return err
			}
			synced++
		}
		if synced == 0 {
			return ErrDirtyBudgetExhausted
		}
	}
	return nil
}

// syncObject writes the resident payload to its storage slot and
// uncharges the dirty credit. Durability is deferred to persist.
func (h *Heap) syncObject(o *object) error {
	if err := h.storeWrite(o.id, h.payload(o)); err != nil {
		return err
	}
	if r := o.res; r.dirty {
		r.dirty = false
		h.dirtyBytes -= int(o.size)
		h.writeHeader(o)
	}
	return nil
}

// unloadObject frees the resident slot. Caller guarantees the object is
// clean and unpinned.
func (h *Heap) unloadObject(o *object) {
	h.ram.Free(o.res.off, o.slotSize())
	o.res = nil
}

// candidates snapshots the resident set for a policy decision.
func (h *Heap) candidates(exclude *object) []policy.Candidate {
	var out []policy.Candidate
	h.dir.Range(func(_ uint64, o *object) bool {
		if o.res == nil || o == exclude {
			return true
		}
		out = append(out, policy.Candidate{
			ID:        o.id,
			Size:      o.size,
			Slot:      uint32(o.slotSize()),
			Dirty:     o.res.dirty,
			Pinned:    o.res.pins > 0,
			MutActive: o.res.mut,
			Tick:      o.res.tick,
		})
		return true
	})
	return out
}

func (h *Heap) lookup(id ObjectID) *object {
	o, ok := h.dir.Load(uint64(id))
	if !ok {
		return nil
	}
	return o
}

// payload returns the resident payload bytes of a loaded object.
func (h *Heap) payload(o *object) []byte {
	start := o.res.off + headerSize
	return h.buf[start : start+int(o.size)]
}

// writeHeader packs the 3-byte slot header: flags(1) + type tag(2).
func (h *Heap) writeHeader(o *object) {
	r := o.res
	var flags byte
	if r.dirty {
		flags |= flagDirty
	}
	if r.pins > 0 {
		flags |= flagPinned
	}
	h.buf[r.off] = flags
	binary.LittleEndian.PutUint16(h.buf[r.off+1:r.off+3], o.typeTag)
}

func (h *Heap) nextTick() uint64 {
	h.tick++
	return h.tick
}

// storeRead reads with bounded retry of transient failures.
func (h *Heap) storeRead(off uint32, dst []byte) error {
	var err error
	for attempt := 0; attempt <= h.cfg.IORetries; attempt++ {
		if err = h.store.ReadAt(off, dst); err == nil {
			return nil
		}
		if !storage.IsTransient(err) {
			break
		}
		log.Warn("transient storage read, retrying",
			"offset", off, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("%w: read %d bytes at %d: %v", ErrIOFatal, len(dst), off, err)
}

// storeWrite writes with bounded retry of transient failures.
func (h *Heap) storeWrite(off uint32, src []byte) error {
	var err error
	for attempt := 0; attempt <= h.cfg.IORetries; attempt++ {
		if err = h.store.WriteAt(off, src); err == nil {
			return nil
		}
		if !storage.IsTransient(err) {
			break
		}
		log.Warn("transient storage write, retrying",
			"offset", off, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("%w: write %d bytes at %d: %v", ErrIOFatal, len(src), off, err)
}

// unlock releases the heap lock and drains a persist that was queued by
// the trigger while the lock was held.
func (h *Heap) unlock() {
	h.mu.Unlock()
	if h.persistQueued.CompareAndSwap(true, false) {
		h.mu.Lock()
		h.persistLocked()
		h.mu.Unlock()
	}
}
