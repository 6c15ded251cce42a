package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.mills.io/bitcask/v2"
)

// pageSize is the unit of Paged I/O. Small enough that a byte-granular
// update does not rewrite much, big enough to keep the key count down.
const pageSize = 256

// Paged adapts a bitcask key-value store into a byte-addressable Store.
// Each fixed-size page is one KV entry keyed by its page number; absent
// pages read as zeroes. Useful when the persistent medium behind the heap
// is itself a log-structured store rather than a raw device.
type Paged struct {
	db       *bitcask.Bitcask
	capacity uint32
}

// OpenPaged opens (or creates) a bitcask store rooted at path.
func OpenPaged(path string, capacity uint32) (*Paged, error) {
	db, err := bitcask.Open(path, bitcask.WithMaxValueSize(pageSize))
	if err != nil {
		return nil, fmt.Errorf("open bitcask %s: %w", path, err)
	}
	return &Paged{db: db, capacity: capacity}, nil
}

func pageKey(page uint32) bitcask.Key {
	return binary.BigEndian.AppendUint32(nil, page)
}

// readPage fills dst (pageSize bytes) with the page contents, zeroes if
// the page was never written.
func (s *Paged) readPage(page uint32, dst []byte) error {
	val, err := s.db.Get(pageKey(page))
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			clear(dst)
			return nil
		}
		return fmt.Errorf("get page %d: %w", page, err)
	}
	n := copy(dst, val)
	clear(dst[n:])
	return nil
}

func (s *Paged) ReadAt(off uint32, dst []byte) error {
	if err := checkRange(off, len(dst), s.capacity); err != nil {
		return err
	}
	var page [pageSize]byte
	for len(dst) > 0 {
		pageNo := off / pageSize
		if err := s.readPage(pageNo, page[:]); err != nil {
			return err
		}
		n := copy(dst, page[off%pageSize:])
		dst = dst[n:]
		off += uint32(n)
	}
	return nil
}

func (s *Paged) WriteAt(off uint32, src []byte) error {
	if err := checkRange(off, len(src), s.capacity); err != nil {
		return err
	}
	var page [pageSize]byte
	for len(src) > 0 {
		pageNo := off / pageSize
		if err := s.readPage(pageNo, page[:]); err != nil {
			return err
		}
		n := copy(page[off%pageSize:], src)
		if err := s.db.Put(pageKey(pageNo), page[:]); err != nil {
			return fmt.Errorf("put page %d: %w", pageNo, err)
		}
		src = src[n:]
		off += uint32(n)
	}
	return nil
}

func (s *Paged) Flush() error {
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("bitcask sync: %w", err)
	}
	return nil
}

func (s *Paged) Capacity() uint32 { return s.capacity }

func (s *Paged) Close() error { return s.db.Close() }
