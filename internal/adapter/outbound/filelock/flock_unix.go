//go:build !windows

package filelock

import "syscall"

// Lock acquires an exclusive file lock (Unix implementation using flock).
func Lock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX)
}

// Unlock releases the file lock (Unix implementation using flock).
func Unlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
