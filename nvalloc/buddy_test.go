package nvalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuddy_AllocFreeMerge(t *testing.T) {
	b, err := NewBuddy(1024, 1024, 4) // blocks: 1024/512/256/128
	require.NoError(t, err)
	require.Equal(t, uint32(1024), b.FreeBytes())
	require.Equal(t, uint32(128), b.minBlock())

	off1, err := b.Alloc(100) // one 128 block
	require.NoError(t, err)
	require.Equal(t, uint32(1024), off1)

	off2, err := b.Alloc(100)
	require.NoError(t, err)
	require.Equal(t, uint32(1024+128), off2)
	require.Equal(t, uint32(1024-256), b.FreeBytes())

	b.Free(off1, 100)
	b.Free(off2, 100)
	require.Equal(t, uint32(1024), b.FreeBytes())

	// all buddies merged: the whole region is allocatable again
	off3, err := b.Alloc(1024)
	require.NoError(t, err)
	require.Equal(t, uint32(1024), off3)
}

func TestBuddy_OutOfStorage(t *testing.T) {
	b, err := NewBuddy(0, 256, 3)
	require.NoError(t, err)

	_, err = b.Alloc(512)
	require.ErrorIs(t, err, ErrOutOfStorage)

	_, err = b.Alloc(256)
	require.NoError(t, err)
	_, err = b.Alloc(1)
	require.ErrorIs(t, err, ErrOutOfStorage)
}

func TestBuddy_SplitAcrossLevels(t *testing.T) {
	b, err := NewBuddy(0, 256, 4) // min block 32
	require.NoError(t, err)

	small, err := b.Alloc(32)
	require.NoError(t, err)
	require.Equal(t, uint32(0), small)

	// the right half stayed whole
	big, err := b.Alloc(128)
	require.NoError(t, err)
	require.Equal(t, uint32(128), big)

	_, err = b.Alloc(128)
	require.ErrorIs(t, err, ErrOutOfStorage)

	b.Free(big, 128)
	b.Free(small, 32)
	require.Equal(t, uint32(256), b.FreeBytes())
}

func TestBuddy_DoubleFreeIgnored(t *testing.T) {
	b, err := NewBuddy(0, 256, 3)
	require.NoError(t, err)
	off, err := b.Alloc(64)
	require.NoError(t, err)
	b.Free(off, 64)
	free := b.FreeBytes()
	b.Free(off, 64)
	require.Equal(t, free, b.FreeBytes())
}

func TestBuddy_SnapshotRoundTrip(t *testing.T) {
	b, err := NewBuddy(4096, 4096, 6)
	require.NoError(t, err)

	off1, err := b.Alloc(100)
	require.NoError(t, err)
	off2, err := b.Alloc(700)
	require.NoError(t, err)
	b.Free(off1, 100)

	snap := b.AppendSnapshot(nil)
	require.Equal(t, b.SnapshotSize(), len(snap))
	require.Equal(t, SnapshotSizeFor(6), len(snap))

	restored, err := NewBuddy(4096, 4096, 6)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(snap))
	require.Equal(t, b.FreeBytes(), restored.FreeBytes())

	// the restored allocator must not hand out the live block
	seen := map[uint32]bool{off2: true}
	for {
		off, err := restored.Alloc(700)
		if err != nil {
			break
		}
		require.False(t, seen[off], "restored allocator reissued live offset %d", off)
		seen[off] = true
	}

	// freeing the surviving allocation still merges cleanly
	restored.Free(off2, 700)
}

func TestBuddy_RestoreMismatch(t *testing.T) {
	a, err := NewBuddy(0, 1024, 4)
	require.NoError(t, err)
	snap := a.AppendSnapshot(nil)

	b, err := NewBuddy(0, 2048, 4)
	require.NoError(t, err)
	require.ErrorIs(t, b.Restore(snap), ErrBadSnapshot)

	c, err := NewBuddy(0, 1024, 4)
	require.NoError(t, err)
	require.ErrorIs(t, c.Restore(snap[:4]), ErrBadSnapshot)
}

func TestBuddy_BadOrder(t *testing.T) {
	_, err := NewBuddy(0, 1024, 0)
	require.Error(t, err)
	// order deeper than the region can split
	_, err = NewBuddy(0, 64, 20)
	require.Error(t, err)
}
