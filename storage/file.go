package storage

import (
	"fmt"
	"os"
)

// File is a store backed by a plain file, the usual stand-in for an
// SPI FRAM part during development. Flush maps to fdatasync.
type File struct {
	f        *os.File
	capacity uint32
}

// OpenFile opens (or creates) path and sizes it to capacity bytes.
func OpenFile(path string, capacity uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := f.Truncate(int64(capacity)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate %s: %w", path, err)
	}
	return &File{f: f, capacity: capacity}, nil
}

func (s *File) ReadAt(off uint32, dst []byte) error {
	if err := checkRange(off, len(dst), s.capacity); err != nil {
		return err
	}
	if _, err := s.f.ReadAt(dst, int64(off)); err != nil {
		return fmt.Errorf("read %d bytes at %d: %w", len(dst), off, err)
	}
	return nil
}

func (s *File) WriteAt(off uint32, src []byte) error {
	if err := checkRange(off, len(src), s.capacity); err != nil {
		return err
	}
	if _, err := s.f.WriteAt(src, int64(off)); err != nil {
		return fmt.Errorf("write %d bytes at %d: %w", len(src), off, err)
	}
	return nil
}

func (s *File) Flush() error {
	return fdatasync(s.f)
}

func (s *File) Capacity() uint32 { return s.capacity }

func (s *File) Close() error { return s.f.Close() }
