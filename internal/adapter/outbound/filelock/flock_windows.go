//go:build windows

package filelock

import "golang.org/x/sys/windows"

// Lock acquires an exclusive file lock on Windows using LockFileEx. This
// blocks until the lock is available, matching Unix flock behavior.
func Lock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.LockFileEx(windows.Handle(fd), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &ol)
}

// Unlock releases the file lock on Windows using UnlockFileEx.
func Unlock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(fd), 0, 1, 0, &ol)
}
