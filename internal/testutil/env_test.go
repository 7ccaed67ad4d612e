package testutil_test

import (
	"os"
	"strings"
	"testing"

	"github.com/guardianshell/guardian/internal/testutil"
)

func TestSetupTestEnv(t *testing.T) {
	tmpDir := testutil.SetupTestEnv(t)

	home := os.Getenv("HOME")
	if home == "" {
		t.Error("HOME not set")
	}
	if !strings.HasPrefix(home, tmpDir) {
		t.Errorf("HOME = %q, want a path under %q", home, tmpDir)
	}

	guardianDir := os.Getenv("GUARDIAN_DIR")
	if guardianDir == "" {
		t.Error("GUARDIAN_DIR not set")
	}
	if info, err := os.Stat(guardianDir); err != nil || !info.IsDir() {
		t.Errorf("GUARDIAN_DIR %q is not a usable directory: %v", guardianDir, err)
	}

	if os.Getenv("GUARDIAN_REMOTE_TOKEN") != "" || os.Getenv("GITHUB_TOKEN") != "" {
		t.Error("escrow tokens leaked into the test environment")
	}
}
