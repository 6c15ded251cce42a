//go:build linux

package storage

import (
	"fmt"
	"os"

	"github.com/ncw/directio"
)

const blockMask = directio.BlockSize - 1

// DirectFile is a file store opened with O_DIRECT. The kernel page cache
// is bypassed, so a completed Flush really means the bytes left the host.
// All device I/O happens in aligned blocks; byte-granular accesses are
// assembled with read-modify-write of a single block buffer.
type DirectFile struct {
	f        *os.File
	capacity uint32
	block    []byte // aligned scratch block
}

// OpenDirectFile opens path with O_DIRECT and sizes it to capacity rounded
// up to a whole number of blocks.
func OpenDirectFile(path string, capacity uint32) (*DirectFile, error) {
	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open direct %s: %w", path, err)
	}
	padded := (int64(capacity) + blockMask) &^ blockMask
	if err := f.Truncate(padded); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate %s: %w", path, err)
	}
	return &DirectFile{
		f:        f,
		capacity: capacity,
		block:    directio.AlignedBlock(directio.BlockSize),
	}, nil
}

func (s *DirectFile) ReadAt(off uint32, dst []byte) error {
	if err := checkRange(off, len(dst), s.capacity); err != nil {
		return err
	}
	for len(dst) > 0 {
		blockOff := int64(off) &^ blockMask
		if _, err := s.f.ReadAt(s.block, blockOff); err != nil {
			return fmt.Errorf("direct read block at %d: %w", blockOff, err)
		}
		in := int(int64(off) - blockOff)
		n := copy(dst, s.block[in:])
		dst = dst[n:]
		off += uint32(n)
	}
	return nil
}

func (s *DirectFile) WriteAt(off uint32, src []byte) error {
	if err := checkRange(off, len(src), s.capacity); err != nil {
		return err
	}
	for len(src) > 0 {
		blockOff := int64(off) &^ blockMask
		// Read-modify-write keeps neighbouring bytes intact.
		if _, err := s.f.ReadAt(s.block, blockOff); err != nil {
			return fmt.Errorf("direct read block at %d: %w", blockOff, err)
		}
		in := int(int64(off) - blockOff)
		n := copy(s.block[in:], src)
		if _, err := s.f.WriteAt(s.block, blockOff); err != nil {
			return fmt.Errorf("direct write block at %d: %w", blockOff, err)
		}
		src = src[n:]
		off += uint32(n)
	}
	return nil
}

func (s *DirectFile) Flush() error {
	return fdatasync(s.f)
}

func (s *DirectFile) Capacity() uint32 { return s.capacity }

func (s *DirectFile) Close() error { return s.f.Close() }
