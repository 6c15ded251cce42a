package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMem_ReadWrite(t *testing.T) {
	m := NewMem(64)
	require.Equal(t, uint32(64), m.Capacity())

	require.NoError(t, m.WriteAt(10, []byte{1, 2, 3}))
	dst := make([]byte, 3)
	require.NoError(t, m.ReadAt(10, dst))
	require.Equal(t, []byte{1, 2, 3}, dst)
	require.NoError(t, m.Flush())
}

func TestMem_OutOfRange(t *testing.T) {
	m := NewMem(16)
	require.ErrorIs(t, m.WriteAt(15, []byte{1, 2}), ErrOutOfRange)
	require.ErrorIs(t, m.ReadAt(16, make([]byte, 1)), ErrOutOfRange)
	// zero-length access at the boundary is fine
	require.NoError(t, m.WriteAt(16, nil))
}

func TestMem_Snapshot(t *testing.T) {
	m := NewMem(8)
	require.NoError(t, m.WriteAt(0, []byte{42}))
	snap := m.Snapshot()
	require.NoError(t, m.WriteAt(0, []byte{7}))
	require.Equal(t, byte(42), snap[0])
}

func TestFile_ReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.img")
	f, err := OpenFile(path, 1024)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.WriteAt(100, []byte("fram")))
	require.NoError(t, f.Flush())

	dst := make([]byte, 4)
	require.NoError(t, f.ReadAt(100, dst))
	require.Equal(t, []byte("fram"), dst)

	require.ErrorIs(t, f.WriteAt(1024, []byte{1}), ErrOutOfRange)
}

func TestFile_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.img")
	f, err := OpenFile(path, 256)
	require.NoError(t, err)
	require.NoError(t, f.WriteAt(0, []byte{0xAB}))
	require.NoError(t, f.Flush())
	require.NoError(t, f.Close())

	f2, err := OpenFile(path, 256)
	require.NoError(t, err)
	defer f2.Close()
	dst := make([]byte, 1)
	require.NoError(t, f2.ReadAt(0, dst))
	require.Equal(t, byte(0xAB), dst[0])
}

func TestSliced_Window(t *testing.T) {
	m := NewMem(100)
	s := NewSliced(m, 40, 20)
	require.Equal(t, uint32(20), s.Capacity())

	require.NoError(t, s.WriteAt(0, []byte{9}))
	dst := make([]byte, 1)
	require.NoError(t, m.ReadAt(40, dst))
	require.Equal(t, byte(9), dst[0])

	require.ErrorIs(t, s.WriteAt(20, []byte{1}), ErrOutOfRange)
}

func TestTruncated_Caps(t *testing.T) {
	m := NewMem(100)
	s := Truncated(m, 10)
	require.Equal(t, uint32(10), s.Capacity())
	require.ErrorIs(t, s.ReadAt(5, make([]byte, 6)), ErrOutOfRange)
}

func TestFaulty_InjectsThenRecovers(t *testing.T) {
	f := NewFaulty(NewMem(64))
	f.FailNextWrites = 2

	err := f.WriteAt(0, []byte{1})
	require.Error(t, err)
	require.True(t, IsTransient(err))

	require.Error(t, f.WriteAt(0, []byte{1}))
	require.NoError(t, f.WriteAt(0, []byte{1}))
	require.Equal(t, 3, f.Writes)
}

func TestFaulty_FatalNotTransient(t *testing.T) {
	f := NewFaulty(NewMem(64))
	f.Err = ErrFatal
	f.FailNextReads = 1

	err := f.ReadAt(0, make([]byte, 1))
	require.Error(t, err)
	require.False(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	require.False(t, IsTransient(nil))
	require.True(t, IsTransient(ErrTransient))
	require.False(t, IsTransient(ErrFatal))
	require.False(t, IsTransient(ErrOutOfRange))
}

func TestPaged_ReadWrite(t *testing.T) {
	p, err := OpenPaged(t.TempDir(), 4096)
	require.NoError(t, err)
	defer p.Close()

	// spans two pages
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, p.WriteAt(200, data))
	require.NoError(t, p.Flush())

	dst := make([]byte, 300)
	require.NoError(t, p.ReadAt(200, dst))
	require.Equal(t, data, dst)

	// untouched pages read as zeroes
	zero := make([]byte, 16)
	require.NoError(t, p.ReadAt(3000, zero))
	require.Equal(t, make([]byte, 16), zero)

	require.ErrorIs(t, p.WriteAt(4090, make([]byte, 8)), ErrOutOfRange)
}
