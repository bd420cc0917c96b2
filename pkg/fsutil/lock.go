package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Locker hands out per-name advisory locks. Each lock is an in-process mutex
// plus flock(2) on <dir>/.<name>.lock, so it also excludes other processes
// that use the same directory.
type Locker struct {
	dir string

	mu    sync.Mutex
	names map[string]*sync.Mutex
}

// NewLocker returns a Locker keeping its lock files in dir.
func NewLocker(dir string) *Locker {
	return &Locker{dir: dir, names: make(map[string]*sync.Mutex)}
}

// Lock blocks until the named lock is held and returns its release func.
func (l *Locker) Lock(name string) (func(), error) {
	l.mu.Lock()
	m, ok := l.names[name]
	if !ok {
		m = &sync.Mutex{}
		l.names[name] = m
	}
	l.mu.Unlock()

	m.Lock()
	path := filepath.Join(l.dir, "."+name+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, ModePrivate)
	if err != nil {
		m.Unlock()
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		m.Unlock()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			m.Unlock()
		})
	}, nil
}
