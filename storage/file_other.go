//go:build !linux

package storage

import "os"

// fdatasync falls back to fsync on platforms without fdatasync(2)
func fdatasync(f *os.File) error {
	return f.Sync()
}
