package mergequeue

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// Lock file names inside the queue's state directory.
const (
	stateLockName     = "mergequeue.lock"
	processorLockName = "processor.lock"
)

// dirLock is an flock(2)-backed lock on a file inside the queue's state
// directory. Two locks coexist there: the state lock serializes reads and
// writes of the persisted document across processes, and the processor lock
// guarantees a single drainer per queue.
type dirLock struct {
	path string
	file *os.File
}

func newDirLock(dir, name string) *dirLock {
	return &dirLock{path: filepath.Join(dir, name)}
}

// acquire blocks until the lock is held, creating the lock file if needed.
func (l *dirLock) acquire() error {
	f, err := l.open()
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock %s: %w", l.path, err)
	}
	l.file = f
	return nil
}

// tryAcquire takes the lock without blocking. It reports false when another
// holder, in this process or another, already has it.
func (l *dirLock) tryAcquire() (bool, error) {
	f, err := l.open()
	if err != nil {
		return false, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock %s: %w", l.path, err)
	}
	l.file = f
	return true, nil
}

// release drops the lock and closes the lock file. Calling release on a lock
// that is not held is a no-op.
func (l *dirLock) release() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("funlock %s: %w", l.path, err)
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *dirLock) open() (*os.File, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}
