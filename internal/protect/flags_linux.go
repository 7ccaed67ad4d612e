//go:build linux

package protect

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FS_IMMUTABLE_FL from linux/fs.h; x/sys/unix exports the ioctls but not
// the flag bits.
const fsImmutableFl = 0x00000010

// setImmutable toggles the FS_IMMUTABLE_FL attribute on path. When the
// filesystem does not support inode flags, or the process lacks
// CAP_LINUX_IMMUTABLE, it degrades to the chmod fallback.
func setImmutable(path string, immutable bool) (Mode, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	flags, err := unix.IoctlGetInt(int(file.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		if flagModeUnsupported(err) {
			return setWritableFallback(path, immutable)
		}
		return "", fmt.Errorf("get inode flags: %w", err)
	}

	if immutable {
		flags |= fsImmutableFl
	} else {
		flags &^= fsImmutableFl
	}

	if err := unix.IoctlSetPointerInt(int(file.Fd()), unix.FS_IOC_SETFLAGS, flags); err != nil {
		if flagModeUnsupported(err) {
			return setWritableFallback(path, immutable)
		}
		return "", fmt.Errorf("set inode flags: %w", err)
	}

	return ModeImmutable, nil
}

// getImmutable reads the FS_IMMUTABLE_FL attribute. On filesystems without
// flag support it reports ModeReadOnly and leaves the decision to the
// caller's permission check.
func getImmutable(path string) (bool, Mode, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, "", fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	flags, err := unix.IoctlGetInt(int(file.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		if flagModeUnsupported(err) {
			return false, ModeReadOnly, nil
		}
		return false, "", fmt.Errorf("get inode flags: %w", err)
	}

	return flags&fsImmutableFl != 0, ModeImmutable, nil
}

// flagModeUnsupported reports whether err means inode flags cannot be used
// here: unsupported filesystem (ENOTTY, ENOTSUP, EINVAL) or missing
// CAP_LINUX_IMMUTABLE (EPERM).
func flagModeUnsupported(err error) bool {
	return errors.Is(err, unix.ENOTTY) ||
		errors.Is(err, unix.ENOTSUP) ||
		errors.Is(err, unix.EOPNOTSUPP) ||
		errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.EPERM)
}
