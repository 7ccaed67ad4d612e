// Package protect applies and removes OS-level write-immutability on the
// primary artifact and its local backup.
//
// On Linux the enforcer uses the ext2fs immutable attribute
// (FS_IOC_SETFLAGS), which blocks modification and deletion even by the
// owning user until explicitly cleared. On filesystems or platforms where
// the attribute is unsupported it falls back to clearing the write bits,
// and reports that weaker mode in status output.
package protect

import (
	"errors"
	"fmt"
	"os"

	"github.com/guardianshell/guardian/internal/logging"
)

// State is the protection state of a single path.
type State int

const (
	Unprotected State = iota
	Protected
)

// String returns the human-readable state name.
func (s State) String() string {
	if s == Protected {
		return "PROTECTED"
	}
	return "UNPROTECTED"
}

// Mode records which mechanism is enforcing protection.
type Mode string

const (
	// ModeImmutable is the filesystem immutable attribute.
	ModeImmutable Mode = "immutable"

	// ModeReadOnly is the chmod fallback for filesystems without
	// attribute support. It does not survive a chmod by the owner.
	ModeReadOnly Mode = "readonly-fallback"
)

// Status describes the observed protection of one path.
type Status struct {
	Path  string
	State State
	Mode  Mode
}

// ErrNotFound is returned when the target path does not exist.
var ErrNotFound = errors.New("protected path does not exist")

// Enforcer applies and removes write-immutability. Both operations are
// idempotent: protecting an already-protected path (and the converse) is
// a successful no-op.
type Enforcer struct {
	logger logging.Logger
}

// NewEnforcer creates an enforcer logging through the given logger.
// A nil logger disables logging.
func NewEnforcer(logger logging.Logger) *Enforcer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Enforcer{logger: logger}
}

// Protect makes path immutable. Reapplying to an already-protected path
// succeeds without error.
func (e *Enforcer) Protect(path string) (Status, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Status{Path: path}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Status{Path: path}, fmt.Errorf("stat %s: %w", path, err)
	}

	mode, err := setImmutable(path, true)
	if err != nil {
		return Status{Path: path}, fmt.Errorf("protect %s: %w", path, err)
	}

	e.logger.Info("protection applied", "path", path, "mode", string(mode))
	return Status{Path: path, State: Protected, Mode: mode}, nil
}

// Unprotect clears immutability so a legitimate update can proceed. The
// removal is always logged. Calling it on an already-unprotected path
// succeeds without error.
func (e *Enforcer) Unprotect(path string) (Status, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			// Nothing to unprotect; treat as the no-op case.
			return Status{Path: path, State: Unprotected}, nil
		}
		return Status{Path: path}, fmt.Errorf("stat %s: %w", path, err)
	}

	mode, err := setImmutable(path, false)
	if err != nil {
		return Status{Path: path}, fmt.Errorf("unprotect %s: %w", path, err)
	}

	e.logger.Warn("protection removed", "path", path, "mode", string(mode))
	return Status{Path: path, State: Unprotected, Mode: mode}, nil
}

// Check reports the observed protection state of path without mutating it.
func (e *Enforcer) Check(path string) (Status, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Status{Path: path}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Status{Path: path}, fmt.Errorf("stat %s: %w", path, err)
	}

	immutable, mode, err := getImmutable(path)
	if err != nil {
		return Status{Path: path}, fmt.Errorf("read protection state of %s: %w", path, err)
	}

	state := Unprotected
	if immutable {
		state = Protected
	} else if mode == ModeReadOnly && info.Mode().Perm()&0o222 == 0 {
		// Fallback mode: a path with no write bits counts as protected.
		state = Protected
	}

	return Status{Path: path, State: state, Mode: mode}, nil
}
