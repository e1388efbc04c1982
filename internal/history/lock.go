package history

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Lockfile tuning.
const (
	lockRetries  = 10
	lockDelay    = 100 * time.Millisecond
	staleLockAge = 30 * time.Second
)

// acquireFileLock creates path exclusively and returns a func that removes
// it. A lock older than staleLockAge whose owning process is gone is broken.
func acquireFileLock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	for range lockRetries {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(path) }, nil
		}

		if removeStaleLock(path, staleLockAge) {
			continue
		}
		time.Sleep(lockDelay)
	}

	return nil, fmt.Errorf("could not acquire lock on %s after %d attempts", path, lockRetries)
}

// removeStaleLock reports whether it removed a stale lock at path.
func removeStaleLock(path string, maxAge time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) <= maxAge {
		return false
	}
	if heldByLiveProcess(path) {
		return false
	}
	_ = os.Remove(path)
	return true
}

func heldByLiveProcess(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return false
	}
	var pid int
	if _, err = fmt.Sscanf(string(data), "%d", &pid); err != nil || pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
