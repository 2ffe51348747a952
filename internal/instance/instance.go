// Package instance ensures one estimator owns a data directory at a time.
// Two estimators writing the same run store would interleave runs and
// fight over the serial port.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// LockFileName is the lock file created in the data directory.
const LockFileName = ".egomotion.lock"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("estimator instance already running")

// Lock is a held instance lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the instance lock for dir without blocking. The lock file
// records the holder's PID for operators; the lock itself is the flock.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, LockFileName)
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		if pid, ok := Holder(dir); ok {
			return nil, fmt.Errorf("%w (pid %d holds %s)", ErrLocked, pid, path)
		}
		return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("failed to record pid in %s: %w", path, err)
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Release unlocks. The file is left in place so a concurrent Acquire never
// locks an unlinked inode.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// Holder returns the PID recorded in dir's lock file, if any.
func Holder(dir string) (int, bool) {
	b, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
