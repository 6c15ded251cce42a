package storage

// Sliced confines a store to the window [base, base+size). Used to place
// several independent images on one device.
type Sliced struct {
	inner Store
	base  uint32
	size  uint32
}

// NewSliced returns a view of inner starting at base, size bytes long.
func NewSliced(inner Store, base, size uint32) *Sliced {
	if uint64(base)+uint64(size) > uint64(inner.Capacity()) {
		size = inner.Capacity() - base
	}
	return &Sliced{inner: inner, base: base, size: size}
}

func (s *Sliced) ReadAt(off uint32, dst []byte) error {
	if err := checkRange(off, len(dst), s.size); err != nil {
		return err
	}
	return s.inner.ReadAt(s.base+off, dst)
}

func (s *Sliced) WriteAt(off uint32, src []byte) error {
	if err := checkRange(off, len(src), s.size); err != nil {
		return err
	}
	return s.inner.WriteAt(s.base+off, src)
}

func (s *Sliced) Flush() error { return s.inner.Flush() }

func (s *Sliced) Capacity() uint32 { return s.size }

// Truncated caps the visible capacity of a store without moving its base.
// Handy for forcing out-of-storage conditions in tests.
func Truncated(inner Store, capacity uint32) *Sliced {
	return NewSliced(inner, 0, capacity)
}
