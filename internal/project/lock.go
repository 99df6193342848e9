package project

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// RunLockFile is created inside the state directory.
const RunLockFile = "run.lock"

// RunLock gives one process at a time the right to run agents for a
// project, using flock(2) on a file in the state directory. Locks are
// per open file, so two RunLocks in the same process also exclude each
// other.
type RunLock struct {
	path string
	file *os.File
}

// NewRunLock returns an unheld lock for the layout's state directory.
func NewRunLock(l Layout) *RunLock {
	return &RunLock{path: filepath.Join(l.StateDir, RunLockFile)}
}

// Path is the lock file path.
func (rl *RunLock) Path() string {
	return rl.path
}

// TryLock attempts to acquire the lock without blocking. It returns false
// when another holder has it. Calling TryLock while holding the lock is a
// no-op returning true.
func (rl *RunLock) TryLock() (bool, error) {
	if rl.file != nil {
		return true, nil
	}
	f, err := os.OpenFile(rl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}

	// Record the holder for humans inspecting a stuck project.
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	rl.file = f
	return true, nil
}

// Held reports whether this RunLock currently holds the lock.
func (rl *RunLock) Held() bool {
	return rl.file != nil
}

// Unlock releases the lock. It is a no-op when not held.
func (rl *RunLock) Unlock() error {
	if rl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(rl.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = rl.file.Close()
		rl.file = nil
		return fmt.Errorf("funlock: %w", err)
	}

	err := rl.file.Close()
	rl.file = nil
	return err
}
