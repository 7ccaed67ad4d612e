// Package testutil provides utilities for testing the guardian in
// isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestEnv creates isolated test directories for each test.
// This ensures guardian tests never touch:
// - The user's real guardian configuration and ledger
// - The user's shell rc files
// - Real remote escrow credentials
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	t.Setenv("HOME", filepath.Join(tmpDir, "home"))
	t.Setenv("GUARDIAN_DIR", filepath.Join(tmpDir, "guardian"))

	// Make sure no real escrow token leaks into a test.
	t.Setenv("GUARDIAN_REMOTE_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")

	dirs := []string{
		filepath.Join(tmpDir, "home"),
		filepath.Join(tmpDir, "guardian"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return tmpDir
}
