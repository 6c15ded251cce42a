package alloc

// FirstFit is a linked-list allocator: free regions are kept sorted by
// offset and the first one large enough wins. Adjacent regions coalesce
// on Free, so long-running churn does not shatter the buffer beyond what
// the live allocations force.
type FirstFit struct {
	size int
	free *region // sorted by offset
	avail int
}

type region struct {
	off  int
	size int
	next *region
}

// NewFirstFit manages a buffer of size bytes, initially all free.
func NewFirstFit(size int) *FirstFit {
	return &FirstFit{
		size:  size,
		free:  &region{off: 0, size: size},
		avail: size,
	}
}

func (a *FirstFit) Alloc(size int) (int, error) {
	if size == 0 {
		size = 1
	}
	prev := (*region)(nil)
	for r := a.free; r != nil; prev, r = r, r.next {
		if r.size < size {
			continue
		}
		off := r.off
		r.off += size
		r.size -= size
		if r.size == 0 {
			if prev == nil {
				a.free = r.next
			} else {
				prev.next = r.next
			}
		}
		a.avail -= size
		return off, nil
	}
	return 0, ErrOutOfMemory
}

func (a *FirstFit) Free(off, size int) {
	if size == 0 {
		size = 1
	}
	a.avail += size

	prev := (*region)(nil)
	r := a.free
	for r != nil && r.off < off {
		prev, r = r, r.next
	}

	n := &region{off: off, size: size, next: r}
	if prev == nil {
		a.free = n
	} else {
		prev.next = n
	}

	// coalesce with successor, then predecessor
	if n.next != nil && n.off+n.size == n.next.off {
		n.size += n.next.size
		n.next = n.next.next
	}
	if prev != nil && prev.off+prev.size == n.off {
		prev.size += n.size
		prev.next = n.next
	}
}

func (a *FirstFit) Size() int { return a.size }

func (a *FirstFit) FreeBytes() int { return a.avail }
