package store

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/afero"
)

// fileLock is an advisory flock(2) lock guarding feature_list.json against
// concurrent automaker processes on the same project. Filesystems whose
// files have no descriptor (afero.MemMapFs) are not locked.
type fileLock struct {
	fs   afero.Fs
	path string
	file afero.File
}

type fder interface {
	Fd() uintptr
}

func newFileLock(fs afero.Fs, path string) *fileLock {
	return &fileLock{fs: fs, path: path}
}

// Lock acquires an exclusive lock, blocking until it is available.
func (l *fileLock) Lock() error {
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if fd, ok := f.(fder); ok {
		if err := syscall.Flock(int(fd.Fd()), syscall.LOCK_EX); err != nil {
			_ = f.Close()
			return fmt.Errorf("flock: %w", err)
		}
	}
	l.file = f
	return nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *fileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if fd, ok := f.(fder); ok {
		if err := syscall.Flock(int(fd.Fd()), syscall.LOCK_UN); err != nil {
			_ = f.Close()
			return fmt.Errorf("funlock: %w", err)
		}
	}
	return f.Close()
}
