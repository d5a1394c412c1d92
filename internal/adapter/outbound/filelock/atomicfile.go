// Package filelock provides cross-platform advisory file locking and the
// write-tmp-fsync-rename atomic file update pattern shared by the trust
// store and the audit chain-state sidecar.
package filelock

import (
	"fmt"
	"os"
)

// WriteAtomic writes data to path via a same-directory temp file, fsyncs
// it, and renames it over the target. On any error the temp file is
// removed. The final file is chmod'd 0600 as a safety net after rename.
func WriteAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	return nil
}

// WithLock opens path+".lock", acquires an exclusive flock, runs fn, and
// releases the lock. Used to serialize writers across processes the way
// a durable key-value store does around its write-tmp-rename step.
func WithLock(path string, fn func() error) error {
	lockPath := path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := Lock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer func() { _ = Unlock(lockFile.Fd()) }()

	return fn()
}

// BackupIfExists copies path to path+".bak", ignoring a missing source file.
func BackupIfExists(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = os.WriteFile(path+".bak", data, 0600)
}
