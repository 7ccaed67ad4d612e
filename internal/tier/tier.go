// Package tier implements the redundancy store: a fixed, enumerable set of
// storage backends that each hold an independent copy of the protected
// artifact behind one uniform contract.
//
// Every backend, from a plain file to the remote escrow blob, exposes the
// same Write/Read/Verify semantics. The recovery orchestrator walks tiers
// in trust order and never discovers copies by scanning directories; the
// set of tiers is exactly what the configuration enumerates.
package tier

import (
	"context"
	"errors"
	"fmt"

	"github.com/guardianshell/guardian/internal/integrity"
)

// Kind identifies a backend variant in the redundancy hierarchy.
type Kind int

const (
	Primary Kind = iota
	LocalBackup
	Hardlink
	EncryptedContainer
	RemoteEscrow
)

// String returns the human-readable kind name.
func (k Kind) String() string {
	switch k {
	case Primary:
		return "primary"
	case LocalBackup:
		return "local-backup"
	case Hardlink:
		return "hardlink"
	case EncryptedContainer:
		return "encrypted-container"
	case RemoteEscrow:
		return "remote-escrow"
	default:
		return "unknown"
	}
}

// Tier is the uniform contract every redundancy backend implements.
// All methods are safe under arbitrary repetition and concurrent use
// from uncoordinated processes.
type Tier interface {
	// Name is the configured display name of this tier instance.
	Name() string

	// Kind identifies the backend variant.
	Kind() Kind

	// Write stores a full replacement copy of the artifact.
	Write(ctx context.Context, data []byte) error

	// Read returns the stored artifact bytes.
	Read(ctx context.Context) ([]byte, error)

	// Verify reports whether the stored copy matches the expected
	// digest. Expected failure states (missing, tampered) come back in
	// the Result; the error return is reserved for the tier being
	// unusable (not ready, unreachable).
	Verify(ctx context.Context, expected string) (integrity.Result, error)
}

// Expected tier failure modes. These are ordinary outcomes, not program
// errors: a closed container or an unreachable remote is reported, skipped
// by the orchestrator, and surfaced to the operator with next-action
// guidance.
var (
	// ErrStorageNotReady means the tier is not in the state its
	// operations require, e.g. the encrypted container is closed.
	ErrStorageNotReady = errors.New("storage tier not ready")

	// ErrTransportFailure means the remote tier was unreachable or
	// timed out. The tier degrades to unavailable; it never hangs the
	// caller.
	ErrTransportFailure = errors.New("remote tier unreachable")
)

// UntrustedError is returned when remote content was fetched but its
// digest does not match the recorded expected value. The bytes are never
// returned alongside it: remote content is not auto-trusted.
type UntrustedError struct {
	ActualDigest string
}

func (e *UntrustedError) Error() string {
	return fmt.Sprintf("remote content untrusted: digest %s does not match recorded value", e.ActualDigest)
}

// IsUntrusted reports whether err carries an UntrustedError.
func IsUntrusted(err error) bool {
	var untrusted *UntrustedError
	return errors.As(err, &untrusted)
}
