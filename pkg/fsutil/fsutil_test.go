package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomicPrivateMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wg0.conf")

	// Pre-existing file with loose permissions must end up 0600.
	require.NoError(t, os.WriteFile(path, []byte("old"), 0666))
	require.NoError(t, os.Chmod(path, 0666))

	require.NoError(t, WriteAtomic(path, []byte("new"), ModePrivate, CurrentOwnership()))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
	assert.Zero(t, fi.Mode().Perm()&0007, "must never be world-readable")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestWriteAtomicInterruptedBeforeRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wg0.conf")
	original := []byte("[Interface]\nPrivateKey = old\n")
	require.NoError(t, os.WriteFile(path, original, 0600))

	rename = func(string, string) error { return errors.New("simulated crash") }
	defer func() { rename = os.Rename }()

	err := WriteAtomic(path, []byte("partial"), ModePrivate, nil)
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be cleaned up")
}

func TestCopyAtomic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.conf")
	dst := filepath.Join(dir, "dst.conf")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	require.NoError(t, CopyAtomic(src, dst, ModePrivate, nil))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	fi, _ := os.Stat(dst)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	err = CopyAtomic(filepath.Join(dir, "missing"), dst, ModePrivate, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnsureDirTightensMode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	require.NoError(t, os.Mkdir(dir, 0755))
	require.NoError(t, EnsureDir(dir, nil))
	fi, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), fi.Mode().Perm())
}

func TestStripWorldBits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
	require.NoError(t, os.Chmod(path, 0644))

	changed, err := StripWorldBits(path)
	require.NoError(t, err)
	assert.True(t, changed)
	fi, _ := os.Stat(path)
	assert.Equal(t, os.FileMode(0640), fi.Mode().Perm())

	changed, err = StripWorldBits(path)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestShred(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.key")
	require.NoError(t, os.WriteFile(path, []byte("super secret key material"), 0600))

	require.NoError(t, Shred(path, ShredPasses))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, Shred(path, ShredPasses))
}

func TestLockerSerializes(t *testing.T) {
	l := NewLocker(t.TempDir())

	unlock, err := l.Lock("wg0")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock("wg0")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	unlock() // second call is a no-op

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestLockerIndependentNames(t *testing.T) {
	l := NewLocker(t.TempDir())
	var wg sync.WaitGroup
	for _, name := range []string{"wg0", "wg1", "wg2"} {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			u, err := l.Lock(n)
			if assert.NoError(t, err) {
				u()
			}
		}(name)
	}
	wg.Wait()
}

func TestResolveOwnershipEmpty(t *testing.T) {
	o, err := ResolveOwnership("", "")
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.NoError(t, o.Apply("/nonexistent"))

	_, err = ResolveOwnership("no-such-user-wgkeeper", "")
	assert.Error(t, err)
}
