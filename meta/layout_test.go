package meta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSuperblock_RoundTrip(t *testing.T) {
	state := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	sb := Superblock{Version: Version, ConfigDigest: 0xDEADBEEF, AllocState: state}

	buf := AppendSuperblock(nil, sb)
	require.Equal(t, SuperblockSize(len(state)), len(buf))

	got, err := DecodeSuperblock(buf)
	require.NoError(t, err)
	require.Equal(t, sb, got)
}

func TestSuperblock_NoImage(t *testing.T) {
	// zeroed device: no magic
	_, err := DecodeSuperblock(make([]byte, 64))
	require.ErrorIs(t, err, ErrNoImage)

	// region shorter than the fixed header
	_, err = DecodeSuperblock(make([]byte, 4))
	require.ErrorIs(t, err, ErrNoImage)
}

func TestSuperblock_CorruptChecksum(t *testing.T) {
	buf := AppendSuperblock(nil, Superblock{Version: Version, AllocState: []byte{9, 9}})
	buf[6] ^= 0xFF // flip a digest byte; CRC no longer matches
	_, err := DecodeSuperblock(buf)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestSuperblock_BadVersion(t *testing.T) {
	buf := AppendSuperblock(nil, Superblock{Version: Version + 1, AllocState: []byte{1}})
	_, err := DecodeSuperblock(buf)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDirectory_RoundTrip(t *testing.T) {
	entries := []Entry{
		{ID: 4096, Size: 4, TypeTag: 0x0102},
		{ID: 4224, Size: 32, TypeTag: 0xFFEE},
		{ID: 8192, Size: 0, TypeTag: 0},
	}
	const maxEntries = 8

	buf := AppendDirectory(nil, entries, maxEntries)
	require.Equal(t, DirectorySize(maxEntries), len(buf))

	got, err := DecodeDirectory(buf, maxEntries)
	require.NoError(t, err)
	require.Equal(t, entries, got)
}

func TestDirectory_Empty(t *testing.T) {
	buf := AppendDirectory(nil, nil, 16)
	got, err := DecodeDirectory(buf, 16)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDirectory_CorruptChecksum(t *testing.T) {
	buf := AppendDirectory(nil, []Entry{{ID: 1, Size: 2}}, 4)
	buf[5] ^= 0x01
	_, err := DecodeDirectory(buf, 4)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDirectory_TruncatedRegion(t *testing.T) {
	buf := AppendDirectory(nil, nil, 4)
	_, err := DecodeDirectory(buf[:8], 4)
	require.ErrorIs(t, err, ErrCorrupt)
}
