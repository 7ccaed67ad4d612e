package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/logging"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Load(filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func writeGuarded(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDetector_FirstRunRecordsEntries(t *testing.T) {
	dir := t.TempDir()
	hook := writeGuarded(t, dir, "hook.sh", "hook content\n")

	l := newTestLedger(t)
	d := NewDetector(l, nil, []string{hook}, logging.Nop())

	results, err := d.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if results[0].State != DriftFirstRun {
		t.Errorf("State = %v, want DriftFirstRun", results[0].State)
	}

	entry, ok := l.Lookup(hook)
	if !ok {
		t.Fatal("first run did not record a ledger entry")
	}
	wantDigest, _, err := integrity.Digest(hook)
	if err != nil {
		t.Fatal(err)
	}
	if !integrity.Equal(entry.RecordedDigest, wantDigest) {
		t.Errorf("RecordedDigest = %q, want %q", entry.RecordedDigest, wantDigest)
	}

	// The recorded entry must also be durable.
	reloaded, err := Load(l.path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reloaded.Lookup(hook); !ok {
		t.Error("first-run entry was not saved to disk")
	}
}

func TestDetector_CheckReportsWithoutRepairing(t *testing.T) {
	dir := t.TempDir()
	hook := writeGuarded(t, dir, "hook.sh", "original\n")

	l := newTestLedger(t)
	d := NewDetector(l, nil, []string{hook}, nil)
	if _, err := d.Check(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(hook, []byte("tampered\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := d.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if results[0].State != DriftDetected {
		t.Errorf("State = %v, want DriftDetected", results[0].State)
	}

	// Check must never touch the file.
	content, err := os.ReadFile(hook)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "tampered\n" {
		t.Errorf("Check() modified file content to %q", content)
	}
}

func TestDetector_RepairRestoresFromHistory(t *testing.T) {
	dir := t.TempDir()
	commitFiles(t, dir, map[string]string{"hook.sh": "original\n"})
	hook := filepath.Join(dir, "hook.sh")

	l := newTestLedger(t)
	d := NewDetector(l, NewGitRestorer(dir), []string{hook}, nil)
	if _, err := d.Check(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(hook, []byte("tampered\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := d.Repair(context.Background())
	if err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	if results[0].State != DriftRestored {
		t.Fatalf("State = %v (%s), want DriftRestored", results[0].State, results[0].Detail)
	}

	content, err := os.ReadFile(hook)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "original\n" {
		t.Errorf("file content after Repair() = %q, want %q", content, "original\n")
	}

	// The ledger entry matches the restored file.
	entry, _ := l.Lookup(hook)
	if res := integrity.Verify(hook, entry.RecordedDigest); res.State != integrity.Verified {
		t.Errorf("post-repair verification = %v, want Verified", res.State)
	}
}

func TestDetector_RepairUntrackedIsUnrecoverable(t *testing.T) {
	dir := t.TempDir()
	commitFiles(t, dir, map[string]string{"other.sh": "content\n"})
	hook := writeGuarded(t, dir, "hook.sh", "never committed\n")

	l := newTestLedger(t)
	d := NewDetector(l, NewGitRestorer(dir), []string{hook}, nil)
	if _, err := d.Check(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(hook, []byte("tampered\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := d.Repair(context.Background())
	if err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	if results[0].State != DriftUnrecoverableByVCS {
		t.Errorf("State = %v, want DriftUnrecoverableByVCS", results[0].State)
	}
}

func TestDetector_RepairWithoutRestorer(t *testing.T) {
	dir := t.TempDir()
	hook := writeGuarded(t, dir, "hook.sh", "original\n")

	l := newTestLedger(t)
	d := NewDetector(l, nil, []string{hook}, nil)
	if _, err := d.Check(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(hook, []byte("tampered\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := d.Repair(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if results[0].State != DriftUnrecoverableByVCS {
		t.Errorf("State = %v, want DriftUnrecoverableByVCS with no repository", results[0].State)
	}
}

func TestDetector_UnchangedFilesStayOK(t *testing.T) {
	dir := t.TempDir()
	a := writeGuarded(t, dir, "a.sh", "a\n")
	b := writeGuarded(t, dir, "b.sh", "b\n")

	l := newTestLedger(t)
	d := NewDetector(l, nil, []string{a, b}, nil)
	if _, err := d.Check(context.Background()); err != nil {
		t.Fatal(err)
	}

	results, err := d.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.State != DriftOK {
			t.Errorf("%s: State = %v, want DriftOK", r.Path, r.State)
		}
	}
}
