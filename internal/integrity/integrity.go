// Package integrity provides content digest computation and verification
// for protected artifacts.
//
// Verification is pure and side-effect free: it reads the file, computes a
// SHA-256 digest, and compares it to the recorded expected value. It is safe
// to call from any number of concurrent processes.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// State classifies the outcome of a verification.
type State int

const (
	// Verified means the artifact exists and its digest matches the
	// expected value.
	Verified State = iota

	// Tampered means a digest was computable but did not match the
	// expected value.
	Tampered

	// Missing means the artifact is absent, unreadable, or empty. A file
	// for which no digest could be computed is never reported as
	// Tampered.
	Missing
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case Verified:
		return "VERIFIED"
	case Tampered:
		return "TAMPERED"
	case Missing:
		return "MISSING"
	default:
		return "UNKNOWN"
	}
}

// Result holds the outcome of verifying a single file.
type Result struct {
	State        State
	Path         string
	ActualDigest string // hex SHA-256, set when a digest was computable
	Size         int64  // bytes read, set when a digest was computable
}

// Digest computes the hex-encoded SHA-256 digest of the file at path.
func Digest(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, file)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// DigestBytes computes the hex-encoded SHA-256 digest of b.
func DigestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

// Verify computes the digest of the file at path and compares it to
// expected. An absent, unreadable, or zero-byte file is classified Missing;
// Tampered is reserved for files whose digest was computable but wrong.
func Verify(path, expected string) Result {
	actual, size, err := Digest(path)
	if err != nil || size == 0 {
		return Result{State: Missing, Path: path}
	}

	if !Equal(actual, expected) {
		return Result{
			State:        Tampered,
			Path:         path,
			ActualDigest: actual,
			Size:         size,
		}
	}

	return Result{
		State:        Verified,
		Path:         path,
		ActualDigest: actual,
		Size:         size,
	}
}

// VerifyBytes compares the digest of b against expected without touching
// the filesystem. Empty content is classified Missing.
func VerifyBytes(b []byte, expected string) Result {
	if len(b) == 0 {
		return Result{State: Missing}
	}

	actual := DigestBytes(b)
	if !Equal(actual, expected) {
		return Result{State: Tampered, ActualDigest: actual, Size: int64(len(b))}
	}

	return Result{State: Verified, ActualDigest: actual, Size: int64(len(b))}
}
