//go:build !linux

package protect

import (
	"fmt"
	"os"
)

// setImmutable on platforms without inode flag support always uses the
// chmod fallback.
func setImmutable(path string, immutable bool) (Mode, error) {
	return setWritableFallback(path, immutable)
}

// getImmutable on platforms without inode flag support defers to the
// caller's permission check.
func getImmutable(path string) (bool, Mode, error) {
	if _, err := os.Stat(path); err != nil {
		return false, "", fmt.Errorf("stat: %w", err)
	}
	return false, ModeReadOnly, nil
}
