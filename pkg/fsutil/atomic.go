// Package fsutil holds the file primitives every privileged write goes
// through: temp-file-then-rename writes with mode and ownership applied
// before and after the rename, advisory locks and multi-pass shredding.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Modes of the permission contract.
const (
	ModePrivate      os.FileMode = 0600
	ModeGroupPublic  os.FileMode = 0640
	ModeWorldPublic  os.FileMode = 0644
	ModePrivateDir   os.FileMode = 0700
	worldPermissions os.FileMode = 0007
)

// rename is swapped in tests to simulate a crash between temp write and rename.
var rename = os.Rename

// WriteAtomic writes data to path so that a concurrent reader sees either the
// previous content or the new content, never a mix. The temp file lives in
// the destination directory so the rename stays on one filesystem.
func WriteAtomic(path string, data []byte, mode os.FileMode, owner *Ownership) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	// Restrict before any content lands in the file.
	if err = tmp.Chmod(mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = owner.applyFile(tmp); err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}

	// The destination may have existed with looser bits; re-assert.
	if err = os.Chmod(path, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err = owner.Apply(path); err != nil {
		return err
	}
	return syncDir(dir)
}

// CopyAtomic copies src over dst with WriteAtomic semantics.
func CopyAtomic(src, dst string, mode os.FileMode, owner *Ownership) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	return WriteAtomic(dst, data, mode, owner)
}

// EnsureDir creates dir with mode 0700 if needed and tightens it if it
// already exists.
func EnsureDir(dir string, owner *Ownership) error {
	if err := os.MkdirAll(dir, ModePrivateDir); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := os.Chmod(dir, ModePrivateDir); err != nil {
		return fmt.Errorf("chmod directory %s: %w", dir, err)
	}
	return owner.Apply(dir)
}

// StripWorldBits removes any permission bits granted to "other" on path and
// reports whether it had to.
func StripWorldBits(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	perm := fi.Mode().Perm()
	if perm&worldPermissions == 0 {
		return false, nil
	}
	if err := os.Chmod(path, perm&^worldPermissions); err != nil {
		return true, fmt.Errorf("chmod %s: %w", path, err)
	}
	return true, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync directory %s: %w", dir, err)
	}
	return nil
}
