package tier

import (
	"context"
	"fmt"
	"os"

	"github.com/guardianshell/guardian/internal/fsutil"
	"github.com/guardianshell/guardian/internal/integrity"
)

// FileTier stores the artifact as a single plain file. It backs both the
// Primary tier (the executable every login shell invokes) and the
// LocalBackup tier.
type FileTier struct {
	name string
	kind Kind
	path string
	perm os.FileMode
}

// NewPrimary creates the tier for the primary artifact path.
func NewPrimary(path string) *FileTier {
	return &FileTier{name: "primary", kind: Primary, path: path, perm: 0o755}
}

// NewLocalBackup creates the tier for the local backup copy.
func NewLocalBackup(path string) *FileTier {
	return &FileTier{name: "local-backup", kind: LocalBackup, path: path, perm: 0o755}
}

// Name implements Tier.
func (f *FileTier) Name() string { return f.name }

// Kind implements Tier.
func (f *FileTier) Kind() Kind { return f.kind }

// Path returns the backing file path.
func (f *FileTier) Path() string { return f.path }

// Write stores data atomically. Concurrent writers of identical content
// converge on one complete file; a reader never sees a partial write.
func (f *FileTier) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fsutil.AtomicWrite(f.path, data, f.perm); err != nil {
		return fmt.Errorf("%s tier: %w", f.name, err)
	}
	return nil
}

// Read returns the stored bytes.
func (f *FileTier) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%s tier: read %s: %w", f.name, f.path, err)
	}
	return data, nil
}

// Verify compares the stored copy against the expected digest.
func (f *FileTier) Verify(ctx context.Context, expected string) (integrity.Result, error) {
	if err := ctx.Err(); err != nil {
		return integrity.Result{}, err
	}
	return integrity.Verify(f.path, expected), nil
}
