// Package lock guards the daemon against running twice under one home
// directory. The lock is a pid file whose owner is probed for liveness, so a
// file left behind by a crashed daemon is taken over rather than honoured.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	apperrors "fundx/internal/errors"
)

// InstanceLock is a pid-file lock.
type InstanceLock struct {
	path string
	pid  int

	mu   sync.Mutex
	held bool

	// alive reports whether a process exists; swapped in tests
	alive func(pid int) bool
}

// New creates a lock over path for the current process.
func New(path string) *InstanceLock {
	return &InstanceLock{
		path:  path,
		pid:   os.Getpid(),
		alive: processAlive,
	}
}

// Path returns the pid file path.
func (l *InstanceLock) Path() string {
	return l.path
}

// Acquire writes the current pid to the lock file. It fails with
// ErrInstanceRunning when another live process holds the file.
func (l *InstanceLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	// Two attempts: the second follows removal of a stale file
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", l.pid)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(l.path)
				return fmt.Errorf("write lock file: %w", errors.Join(werr, cerr))
			}
			l.held = true
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create lock file: %w", err)
		}

		owner, rerr := ReadPID(l.path)
		if rerr == nil && owner != l.pid && l.alive(owner) {
			return fmt.Errorf("%w (pid %d)", apperrors.ErrInstanceRunning, owner)
		}
		// Stale, unreadable or our own: take it over
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale lock file: %w", err)
		}
	}
	return fmt.Errorf("%w: lock file %s keeps reappearing", apperrors.ErrInstanceRunning, l.path)
}

// Release removes the lock file if this process still owns it.
func (l *InstanceLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false

	owner, err := ReadPID(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if owner != l.pid {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// IsHeld reports whether this lock currently owns the pid file.
func (l *InstanceLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return false
	}
	owner, err := ReadPID(l.path)
	return err == nil && owner == l.pid
}

// Owner returns the pid recorded in the lock file and whether that process
// is alive. A missing file returns 0, false, nil.
func Owner(path string) (int, bool, error) {
	pid, err := ReadPID(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return pid, processAlive(pid), nil
}

// ReadPID parses the pid stored in a lock file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", path)
	}
	return pid, nil
}
