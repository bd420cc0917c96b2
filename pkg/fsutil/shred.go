package fsutil

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
)

// ShredPasses is the number of random overwrites Shred performs.
const ShredPasses = 3

// Shred overwrites the full length of path with fresh random bytes, forcing
// each pass to stable storage, then unlinks it.
//
// This only helps on filesystems that overwrite in place. Copy-on-write and
// log-structured filesystems (btrfs, zfs, f2fs) and SSD wear levelling keep
// the old blocks around regardless.
func Shred(path string, passes int) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	size := fi.Size()
	for i := 0; i < passes; i++ {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return fmt.Errorf("seek %s: %w", path, err)
		}
		if _, err := io.CopyN(f, rand.Reader, size); err != nil {
			f.Close()
			return fmt.Errorf("overwrite %s (pass %d): %w", path, i+1, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("sync %s (pass %d): %w", path, i+1, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return os.Remove(path)
}
