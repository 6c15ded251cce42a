// Package meta encodes the control region of the on-device image: the
// superblock that commits a snapshot and the object directory. Encoding is
// little-endian with explicit sizes; both records end in a CRC32 so a torn
// write is detected instead of trusted.
package meta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	// Magic identifies a committed vnvheap image ("HVNv" on the wire).
	Magic = uint32(0x764E5648)

	// Version is bumped on any incompatible layout change.
	Version = uint16(1)

	// EntrySize is the encoded size of one directory entry:
	// ObjectID(4) + Size(4) + TypeTag(2)
	EntrySize = 10

	superblockHeaderSize = 4 + 2 + 4 + 4 // Magic + Version + ConfigDigest + StateLen
	crcSize              = 4
)

var (
	// ErrNoImage means the magic did not match: the device holds no
	// committed snapshot (fresh part, or a crash before first commit).
	ErrNoImage = errors.New("meta: no image")

	// ErrCorrupt means the magic matched but the record failed validation.
	ErrCorrupt = errors.New("meta: corrupt image")
)

// Superblock is the commit record. It is written strictly after all
// object payloads and the directory during a persist; its CRC landing on
// the device is what makes the snapshot valid.
type Superblock struct {
	Version      uint16
	ConfigDigest uint32
	AllocState   []byte // non-resident allocator snapshot
}

// SuperblockSize returns the encoded size for a given allocator state size.
func SuperblockSize(stateLen int) int {
	return superblockHeaderSize + stateLen + crcSize
}

// AppendSuperblock appends the encoded superblock to buf.
// Format: Magic(4) + Version(2) + ConfigDigest(4) + StateLen(4) + State + CRC(4)
func AppendSuperblock(buf []byte, sb Superblock) []byte {
	start := len(buf)
	buf = binary.LittleEndian.AppendUint32(buf, Magic)
	buf = binary.LittleEndian.AppendUint16(buf, sb.Version)
	buf = binary.LittleEndian.AppendUint32(buf, sb.ConfigDigest)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(sb.AllocState)))
	buf = append(buf, sb.AllocState...)
	crc := crc32.ChecksumIEEE(buf[start:])
	return binary.LittleEndian.AppendUint32(buf, crc)
}

// DecodeSuperblock decodes and validates a superblock.
func DecodeSuperblock(buf []byte) (Superblock, error) {
	if len(buf) < superblockHeaderSize+crcSize {
		return Superblock{}, fmt.Errorf("%w: superblock region too small (%d bytes)", ErrNoImage, len(buf))
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != Magic {
		return Superblock{}, ErrNoImage
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	digest := binary.LittleEndian.Uint32(buf[6:10])
	stateLen := int(binary.LittleEndian.Uint32(buf[10:14]))

	end := superblockHeaderSize + stateLen
	if stateLen < 0 || end+crcSize > len(buf) {
		return Superblock{}, fmt.Errorf("%w: bad state length %d", ErrCorrupt, stateLen)
	}
	want := binary.LittleEndian.Uint32(buf[end : end+crcSize])
	if got := crc32.ChecksumIEEE(buf[:end]); got != want {
		return Superblock{}, fmt.Errorf("%w: superblock checksum %08x != %08x", ErrCorrupt, got, want)
	}
	if version != Version {
		return Superblock{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}

	state := make([]byte, stateLen)
	copy(state, buf[superblockHeaderSize:end])
	return Superblock{Version: version, ConfigDigest: digest, AllocState: state}, nil
}

// Entry is one directory record: a logically live object.
type Entry struct {
	ID      uint32 // storage offset of the payload; stable across reboots
	Size    uint32 // payload size in bytes
	TypeTag uint16 // payload type fingerprint, checked on reopen
}

// DirectorySize returns the fixed size of the directory region for a
// given maximum object count.
// Format: EntryCount(4) + maxEntries*EntrySize + CRC(4)
func DirectorySize(maxEntries int) int {
	return 4 + maxEntries*EntrySize + crcSize
}

// AppendDirectory appends the encoded directory to buf, padded out to
// DirectorySize(maxEntries) so it always occupies its full region.
func AppendDirectory(buf []byte, entries []Entry, maxEntries int) []byte {
	start := len(buf)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint32(buf, e.ID)
		buf = binary.LittleEndian.AppendUint32(buf, e.Size)
		buf = binary.LittleEndian.AppendUint16(buf, e.TypeTag)
	}
	pad := (maxEntries - len(entries)) * EntrySize
	buf = append(buf, make([]byte, pad)...)
	crc := crc32.ChecksumIEEE(buf[start:])
	return binary.LittleEndian.AppendUint32(buf, crc)
}

// DecodeDirectory decodes and validates a directory region.
func DecodeDirectory(buf []byte, maxEntries int) ([]Entry, error) {
	if len(buf) < DirectorySize(maxEntries) {
		return nil, fmt.Errorf("%w: directory region too small (%d bytes)", ErrCorrupt, len(buf))
	}
	body := buf[:DirectorySize(maxEntries)-crcSize]
	want := binary.LittleEndian.Uint32(buf[len(body) : len(body)+crcSize])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, fmt.Errorf("%w: directory checksum %08x != %08x", ErrCorrupt, got, want)
	}

	count := int(binary.LittleEndian.Uint32(body[0:4]))
	if count < 0 || count > maxEntries {
		return nil, fmt.Errorf("%w: entry count %d exceeds maximum %d", ErrCorrupt, count, maxEntries)
	}

	entries := make([]Entry, count)
	off := 4
	for i := range entries {
		entries[i] = Entry{
			ID:      binary.LittleEndian.Uint32(body[off:]),
			Size:    binary.LittleEndian.Uint32(body[off+4:]),
			TypeTag: binary.LittleEndian.Uint16(body[off+8:]),
		}
		off += EntrySize
	}
	return entries, nil
}
