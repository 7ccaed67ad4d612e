package protect

import (
	"fmt"
	"os"
)

// setWritableFallback clears or restores the write permission bits. It is
// the degraded protection path for filesystems without inode flags; a root
// user (or the owner via chmod) can still bypass it, which is why status
// output distinguishes this mode from true immutability.
func setWritableFallback(path string, immutable bool) (Mode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}

	perm := info.Mode().Perm()
	if immutable {
		perm &^= 0o222
	} else {
		perm |= 0o200
	}

	if err := os.Chmod(path, perm); err != nil {
		return "", fmt.Errorf("chmod: %w", err)
	}

	return ModeReadOnly, nil
}
