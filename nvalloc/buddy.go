// Package nvalloc manages logical offsets inside persistent storage. The
// allocator state lives entirely in RAM and rides along in the superblock
// on every persist, so ordinary alloc/free never touches the device.
package nvalloc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/bits-and-blooms/bitset"
)

var (
	// ErrOutOfStorage is returned when no free block can satisfy a request.
	ErrOutOfStorage = errors.New("nvalloc: out of storage")

	// ErrBadSnapshot is returned when a restored snapshot does not match
	// the allocator's construction parameters.
	ErrBadSnapshot = errors.New("nvalloc: snapshot mismatch")
)

// Buddy is a bitmap-backed buddy allocator over the object region.
// Blocks form a complete binary tree of `order` levels; level 0 is the
// whole region, each level halves the block size. Two bitsets indexed by
// tree node carry the full state: split marks nodes whose children are in
// use, alloc marks nodes handed out as a block.
type Buddy struct {
	base  uint32 // absolute offset of the managed region
	size  uint32 // power-of-two region size
	order uint   // number of tree levels

	split *bitset.BitSet
	alloc *bitset.BitSet

	free uint32 // free bytes, kept incrementally
}

// NewBuddy manages [base, base+size) with the given order. Only the
// largest power-of-two prefix of size is used. The minimum block size is
// size >> (order-1); requests smaller than that still consume one block.
func NewBuddy(base, size uint32, order uint) (*Buddy, error) {
	if order == 0 || order > 24 {
		return nil, fmt.Errorf("nvalloc: order %d out of range", order)
	}
	if size == 0 {
		return nil, fmt.Errorf("nvalloc: empty region")
	}
	pow := uint32(1) << (bits.Len32(size) - 1)
	if pow>>(order-1) == 0 {
		return nil, fmt.Errorf("nvalloc: order %d too deep for %d byte region", order, pow)
	}
	nodes := uint(1)<<order - 1
	return &Buddy{
		base:  base,
		size:  pow,
		order: order,
		split: bitset.New(nodes),
		alloc: bitset.New(nodes),
		free:  pow,
	}, nil
}

func (b *Buddy) minBlock() uint32 { return b.size >> (b.order - 1) }

// blockSize returns the block size at a tree level.
func (b *Buddy) blockSize(level uint) uint32 { return b.size >> level }

// levelFor returns the deepest level whose blocks still fit size bytes.
func (b *Buddy) levelFor(size uint32) uint {
	if size == 0 {
		size = 1
	}
	level := b.order - 1
	for b.blockSize(level) < size {
		if level == 0 {
			break
		}
		level--
	}
	return level
}

// nodeIndex maps (level, position-within-level) to the tree node index.
func nodeIndex(level, pos uint) uint { return (uint(1)<<level - 1) + pos }

// Alloc reserves a block of at least size bytes and returns its absolute
// offset. The offset is stable for the lifetime of the allocation and is
// what the heap uses as the object id.
func (b *Buddy) Alloc(size uint32) (uint32, error) {
	if size > b.size {
		return 0, ErrOutOfStorage
	}
	target := b.levelFor(size)
	rel, ok := b.allocAt(0, 0, target)
	if !ok {
		return 0, ErrOutOfStorage
	}
	b.free -= b.blockSize(target)
	return b.base + rel, nil
}

// allocAt walks the tree looking for a free block at the target level.
// Left child first, so allocation order is deterministic.
func (b *Buddy) allocAt(node, level, target uint) (uint32, bool) {
	if b.alloc.Test(node) {
		return 0, false
	}
	if level == target {
		if b.split.Test(node) {
			return 0, false
		}
		b.alloc.Set(node)
		pos := node - (uint(1)<<level - 1)
		return uint32(pos) * b.blockSize(level), true
	}

	wasWhole := !b.split.Test(node)
	b.split.Set(node)

	left := 2*node + 1
	if off, ok := b.allocAt(left, level+1, target); ok {
		return off, true
	}
	if off, ok := b.allocAt(left+1, level+1, target); ok {
		return off, true
	}

	if wasWhole {
		b.split.Clear(node)
	}
	return 0, false
}

// Free releases a block previously returned by Alloc with the same size.
func (b *Buddy) Free(off, size uint32) {
	level := b.levelFor(size)
	rel := off - b.base
	pos := uint(rel / b.blockSize(level))
	node := nodeIndex(level, pos)
	if !b.alloc.Test(node) {
		// double free; nothing sensible to do without corrupting state
		return
	}
	b.alloc.Clear(node)
	b.free += b.blockSize(level)

	// Merge upward while the buddy is whole and free.
	for level > 0 {
		buddy := node
		if buddy%2 == 1 {
			buddy++
		} else {
			buddy--
		}
		if b.alloc.Test(buddy) || b.split.Test(buddy) {
			break
		}
		node = (node - 1) / 2
		level--
		b.split.Clear(node)
	}
}

// FreeBytes returns the total free bytes in the region.
func (b *Buddy) FreeBytes() uint32 { return b.free }

// Base returns the absolute offset of the managed region.
func (b *Buddy) Base() uint32 { return b.base }

// snapshot layout: base u32 + size u32 + order u16 + free u32 + split + alloc
const snapshotHeaderSize = 4 + 4 + 2 + 4

func (b *Buddy) words() int {
	nodes := uint(1)<<b.order - 1
	return int((nodes + 63) / 64)
}

// SnapshotSizeFor returns the encoded state size for an allocator of the
// given order. It depends only on the order, so the superblock layout can
// be computed before the allocator exists.
func SnapshotSizeFor(order uint) int {
	nodes := uint(1)<<order - 1
	return snapshotHeaderSize + 2*8*int((nodes+63)/64)
}

// SnapshotSize returns the encoded state size of this allocator.
func (b *Buddy) SnapshotSize() int {
	return SnapshotSizeFor(b.order)
}

// AppendSnapshot appends the full allocator state to buf.
func (b *Buddy) AppendSnapshot(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, b.base)
	buf = binary.LittleEndian.AppendUint32(buf, b.size)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(b.order))
	buf = binary.LittleEndian.AppendUint32(buf, b.free)
	for _, w := range b.split.Bytes() {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	for _, w := range b.alloc.Bytes() {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	return buf
}

// Restore replaces the allocator state with a snapshot taken by an
// allocator constructed with the same parameters.
func (b *Buddy) Restore(buf []byte) error {
	if len(buf) < b.SnapshotSize() {
		return fmt.Errorf("%w: snapshot truncated (%d bytes)", ErrBadSnapshot, len(buf))
	}
	base := binary.LittleEndian.Uint32(buf[0:4])
	size := binary.LittleEndian.Uint32(buf[4:8])
	order := uint(binary.LittleEndian.Uint16(buf[8:10]))
	if base != b.base || size != b.size || order != b.order {
		return fmt.Errorf("%w: got base=%d size=%d order=%d", ErrBadSnapshot, base, size, order)
	}
	b.free = binary.LittleEndian.Uint32(buf[10:14])

	words := b.words()
	split := make([]uint64, words)
	allocd := make([]uint64, words)
	off := snapshotHeaderSize
	for i := 0; i < words; i++ {
		split[i] = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	for i := 0; i < words; i++ {
		allocd[i] = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	b.split = bitset.From(split)
	b.alloc = bitset.From(allocd)
	return nil
}
