// Package lockfile guards an engine environment directory against
// concurrent process access with an advisory file lock. On-disk engine
// products acquire a shared lock by default, letting cooperating processes
// open the same environment; the private configuration option upgrades it
// to an exclusive lock, failing fast with ErrLocked if any other process
// already holds the environment.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// lockFileName is the lock file created inside the environment directory.
const lockFileName = "typedkv.lock"

// ErrLocked is returned by Acquire when another process holds a
// conflicting lock on the environment.
var ErrLocked = errors.New("lockfile: environment locked by another process")

// Lock is a held environment lock. Release it once the engine that
// acquired it has closed.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes a non-blocking advisory lock on dir's lock file, creating
// dir and the file as needed. exclusive selects an exclusive lock (no
// other process may hold the environment, shared or otherwise); the
// default shared lock coexists with other shared holders but conflicts
// with an exclusive one.
func Acquire(dir string, exclusive bool) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: create environment directory: %w", err)
	}
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}
	if err := flock(f, exclusive); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("lockfile: lock %s: %w", path, err)
	}
	return &Lock{f: f, path: path}, nil
}

// Path returns the lock file's location, for diagnostics.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and closes the underlying file. Safe to call
// once; the lock file itself is left in place for the next acquirer.
func (l *Lock) Release() error {
	if l.f == nil {
		return nil
	}
	unlockErr := funlock(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
