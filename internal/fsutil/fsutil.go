// Package fsutil provides durable filesystem primitives shared by the
// guardian tools.
//
// Safety under concurrent, uncoordinated invocations comes from the
// write-then-rename pattern: content lands at a writer-unique temporary
// path, is fsynced, and is renamed into place atomically. Two racing
// writers converge on one complete file; a reader never observes a
// truncated artifact.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWrite writes data to path atomically with the given permissions.
// The containing directory is created if needed and synced after the
// rename for durability.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	// Writer-unique temp name so concurrent writers never collide,
	// goroutines in the same process included.
	file, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpPath := file.Name()

	if err := file.Chmod(perm); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("set temporary file mode: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temporary file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temporary file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temporary file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}

	return syncDir(dir)
}

// CopyAtomic copies the file at src to dst atomically, preserving the
// given permissions on the destination.
func CopyAtomic(src, dst string, perm os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read source %s: %w", src, err)
	}
	return AtomicWrite(dst, data, perm)
}

// syncDir fsyncs a directory so a completed rename survives power loss.
func syncDir(dir string) error {
	df, err := os.Open(dir)
	if err != nil {
		// The rename already succeeded; directory sync is best effort
		// on filesystems that refuse to open directories.
		return nil
	}
	defer df.Close()

	if err := df.Sync(); err != nil {
		return fmt.Errorf("sync directory %s: %w", dir, err)
	}
	return nil
}
