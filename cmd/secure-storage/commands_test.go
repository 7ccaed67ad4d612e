package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/guardianshell/guardian/internal/config"
	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/ledger"
	"github.com/guardianshell/guardian/internal/protect"
	"github.com/guardianshell/guardian/internal/testutil"
	"github.com/guardianshell/guardian/internal/tier"
)

func setupWorkspace(t *testing.T) (primary string, payload []byte) {
	t.Helper()
	tmpDir := testutil.SetupTestEnv(t)

	primary = filepath.Join(tmpDir, "bin", "shell-guardian")
	vault := filepath.Join(tmpDir, "vault", "guardian.age")
	identity := filepath.Join(tmpDir, "vault", "identity.txt")
	mount := filepath.Join(tmpDir, "vault", "mount")

	luaConfig := fmt.Sprintf(`guardian = {
	artifact = {
		name = "shell-guardian",
		primary = %q,
	},
	tiers = {
		local_backup = %q,
		hardlinks = { %q },
		container = {
			vault = %q,
			identity = %q,
			mount = %q,
		},
	},
}`, primary, filepath.Join(tmpDir, "backup", "shell-guardian"), filepath.Join(tmpDir, "links", "shell-guardian"), vault, identity, mount)

	guardianDir := os.Getenv("GUARDIAN_DIR")
	if err := os.WriteFile(filepath.Join(guardianDir, config.ConfigFileName), []byte(luaConfig), 0o600); err != nil {
		t.Fatal(err)
	}

	payload = []byte("guardian binary payload")
	if err := os.MkdirAll(filepath.Dir(primary), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(primary, payload, 0o755); err != nil {
		t.Fatal(err)
	}

	// Commands re-protect the artifacts; lift the immutable flag again
	// so t.TempDir cleanup can unlink them under CAP_LINUX_IMMUTABLE.
	t.Cleanup(func() {
		enforcer := protect.NewEnforcer(nil)
		enforcer.Unprotect(primary)
	})

	l, err := ledger.Load(filepath.Join(guardianDir, config.LedgerFileName))
	if err != nil {
		t.Fatal(err)
	}
	l.Record(primary, integrity.DigestBytes(payload))
	if err := l.Save(); err != nil {
		t.Fatal(err)
	}

	return primary, payload
}

func TestRunBackup_ClosedContainerIsNotReady(t *testing.T) {
	setupWorkspace(t)

	if code, err := runInit(nil); err != nil || code != 0 {
		t.Fatalf("runInit() = %d, %v", code, err)
	}

	code, err := runBackup(nil)
	if code != 1 {
		t.Errorf("runBackup() = %d, want 1 against a closed container", code)
	}
	if !errors.Is(err, tier.ErrStorageNotReady) {
		t.Errorf("runBackup() error = %v, want ErrStorageNotReady", err)
	}
}

func TestRunBackup_OpenContainer(t *testing.T) {
	setupWorkspace(t)

	if code, err := runInit(nil); err != nil || code != 0 {
		t.Fatalf("runInit() = %d, %v", code, err)
	}
	if code, err := runOpen(nil); err != nil || code != 0 {
		t.Fatalf("runOpen() = %d, %v", code, err)
	}

	if code, err := runBackup(nil); err != nil || code != 0 {
		t.Errorf("runBackup() = %d, %v, want 0 against an open container", code, err)
	}

	if code, err := runClose(nil); err != nil || code != 0 {
		t.Fatalf("runClose() = %d, %v", code, err)
	}
}

func TestRunRestore_ClosedContainerIsNotReady(t *testing.T) {
	primary, _ := setupWorkspace(t)

	if code, err := runInit(nil); err != nil || code != 0 {
		t.Fatalf("runInit() = %d, %v", code, err)
	}
	if err := os.WriteFile(primary, []byte("tampered"), 0o755); err != nil {
		t.Fatal(err)
	}

	code, err := runRestore(nil)
	if code != 1 {
		t.Errorf("runRestore() = %d, want 1 against a closed container", code)
	}
	if !errors.Is(err, tier.ErrStorageNotReady) {
		t.Errorf("runRestore() error = %v, want ErrStorageNotReady", err)
	}
}
