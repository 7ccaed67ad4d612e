package recovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/tier"
)

// stubTier simulates tier failure modes the file-backed tiers cannot
// produce on demand.
type stubTier struct {
	name      string
	kind      tier.Kind
	content   []byte
	verifyErr error
	readErr   error
	untrusted []byte // returned by ReadUntrusted when set
}

func (s *stubTier) Name() string    { return s.name }
func (s *stubTier) Kind() tier.Kind { return s.kind }

func (s *stubTier) Write(ctx context.Context, data []byte) error {
	s.content = data
	return nil
}

func (s *stubTier) Read(ctx context.Context) ([]byte, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.content, nil
}

func (s *stubTier) Verify(ctx context.Context, expected string) (integrity.Result, error) {
	if s.verifyErr != nil {
		return integrity.Result{}, s.verifyErr
	}
	return integrity.VerifyBytes(s.content, expected), nil
}

func (s *stubTier) ReadUntrusted(ctx context.Context) ([]byte, error) {
	if s.untrusted == nil {
		return nil, s.readErr
	}
	return s.untrusted, nil
}

func writeArtifact(t *testing.T, path string, content []byte) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o755); err != nil {
		t.Fatal(err)
	}
	return integrity.DigestBytes(content)
}

func TestRun_PrimaryAlreadyVerified(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "bin", "shell-guardian")
	good := []byte("guardian payload")
	expected := writeArtifact(t, primary, good)

	backup := &stubTier{name: "local-backup", kind: tier.LocalBackup}

	session, err := New(primary, expected, []tier.Tier{backup}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if session.Outcome != OutcomeVerified {
		t.Errorf("Outcome = %v, want OutcomeVerified", session.Outcome)
	}
	if len(session.Attempts) != 0 {
		t.Errorf("Attempts = %d, want 0 when primary already verifies", len(session.Attempts))
	}
	if session.ID == "" {
		t.Error("session has no ID")
	}
}

func TestRun_RestoresFromLocalBackup(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "bin", "shell-guardian")
	good := []byte("guardian payload")
	expected := writeArtifact(t, primary, good)

	backupPath := filepath.Join(dir, "backup", "shell-guardian")
	backup := tier.NewLocalBackup(backupPath)
	if err := backup.Write(context.Background(), good); err != nil {
		t.Fatal(err)
	}

	// Tamper with the primary.
	if err := os.WriteFile(primary, []byte("tampered"), 0o755); err != nil {
		t.Fatal(err)
	}

	session, err := New(primary, expected, []tier.Tier{backup}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if session.Outcome != OutcomeRestored {
		t.Fatalf("Outcome = %v, want OutcomeRestored", session.Outcome)
	}
	if session.RestoredFrom != "local-backup" {
		t.Errorf("RestoredFrom = %q, want %q", session.RestoredFrom, "local-backup")
	}

	if res := integrity.Verify(primary, expected); res.State != integrity.Verified {
		t.Errorf("primary after restore = %v, want Verified", res.State)
	}
}

func TestRun_TrustOrderShortCircuits(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "shell-guardian")
	good := []byte("guardian payload")
	writeArtifact(t, primary, []byte("tampered"))
	expected := integrity.DigestBytes(good)

	high := &stubTier{name: "local-backup", kind: tier.LocalBackup, content: good}
	low := &stubTier{name: "remote-escrow", kind: tier.RemoteEscrow, content: good}

	session, err := New(primary, expected, []tier.Tier{high, low}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if session.RestoredFrom != "local-backup" {
		t.Errorf("RestoredFrom = %q, want the higher-trust tier", session.RestoredFrom)
	}
	if len(session.Attempts) != 1 {
		t.Errorf("Attempts = %d, want 1: lower tiers must not be consulted", len(session.Attempts))
	}
}

func TestRun_SkipsFailedTiers(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "shell-guardian")
	good := []byte("guardian payload")
	writeArtifact(t, primary, []byte("tampered"))
	expected := integrity.DigestBytes(good)

	notReady := &stubTier{name: "encrypted-container", kind: tier.EncryptedContainer, verifyErr: tier.ErrStorageNotReady}
	timedOut := &stubTier{name: "remote-escrow", kind: tier.RemoteEscrow, verifyErr: tier.ErrTransportFailure}
	working := &stubTier{name: "hardlink", kind: tier.Hardlink, content: good}

	session, err := New(primary, expected, []tier.Tier{notReady, timedOut, working}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if session.Outcome != OutcomeRestored {
		t.Fatalf("Outcome = %v, want OutcomeRestored", session.Outcome)
	}

	wantStates := []AttemptState{AttemptStorageNotReady, AttemptTransportFailure, AttemptVerified}
	if len(session.Attempts) != len(wantStates) {
		t.Fatalf("Attempts = %d, want %d", len(session.Attempts), len(wantStates))
	}
	for i, want := range wantStates {
		if session.Attempts[i].State != want {
			t.Errorf("Attempts[%d].State = %v, want %v", i, session.Attempts[i].State, want)
		}
	}
}

func TestRun_AllTiersExhausted(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "shell-guardian")
	writeArtifact(t, primary, []byte("tampered"))
	expected := integrity.DigestBytes([]byte("guardian payload"))

	bad := &stubTier{name: "local-backup", kind: tier.LocalBackup, content: []byte("also wrong")}
	missing := &stubTier{name: "hardlink", kind: tier.Hardlink}

	session, err := New(primary, expected, []tier.Tier{bad, missing}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if session.Outcome != OutcomeUnrecoverable {
		t.Errorf("Outcome = %v, want OutcomeUnrecoverable", session.Outcome)
	}
}

func TestRun_UntrustedRemoteNeverAutoInstalled(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "shell-guardian")
	writeArtifact(t, primary, []byte("tampered"))
	good := []byte("guardian payload")
	expected := integrity.DigestBytes(good)

	remote := &stubTier{
		name:    "remote-escrow",
		kind:    tier.RemoteEscrow,
		content: good,
		readErr: &tier.UntrustedError{ActualDigest: "deadbeef"},
	}

	session, err := New(primary, expected, []tier.Tier{remote}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if session.Outcome != OutcomeUntrusted {
		t.Fatalf("Outcome = %v, want OutcomeUntrusted", session.Outcome)
	}

	// The tampered primary is untouched.
	content, err := os.ReadFile(primary)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "tampered" {
		t.Error("untrusted content was installed without operator confirmation")
	}
}

func TestRun_AcceptUntrustedInstallsMatchingContent(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "shell-guardian")
	writeArtifact(t, primary, []byte("tampered"))
	good := []byte("guardian payload")
	expected := integrity.DigestBytes(good)

	remote := &stubTier{
		name:      "remote-escrow",
		kind:      tier.RemoteEscrow,
		content:   good,
		readErr:   &tier.UntrustedError{ActualDigest: "deadbeef"},
		untrusted: good,
	}

	session, err := New(primary, expected, []tier.Tier{remote}, WithAcceptUntrusted()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if session.Outcome != OutcomeRestored {
		t.Fatalf("Outcome = %v, want OutcomeRestored with explicit acceptance", session.Outcome)
	}
	if res := integrity.Verify(primary, expected); res.State != integrity.Verified {
		t.Errorf("primary after accepted install = %v, want Verified", res.State)
	}
}

func TestRun_RemoteDigestMismatchEndsUntrusted(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "shell-guardian")
	writeArtifact(t, primary, []byte("tampered"))
	stale := []byte("stale escrow payload")
	expected := integrity.DigestBytes([]byte("current payload"))

	// Stale remote content: Verify itself reports the trust failure.
	remote := &stubTier{
		name:      "remote-escrow",
		kind:      tier.RemoteEscrow,
		verifyErr: &tier.UntrustedError{ActualDigest: integrity.DigestBytes(stale)},
		untrusted: stale,
	}

	session, err := New(primary, expected, []tier.Tier{remote}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if session.Outcome != OutcomeUntrusted {
		t.Fatalf("Outcome = %v, want OutcomeUntrusted", session.Outcome)
	}
	if got, _ := os.ReadFile(primary); string(got) != "tampered" {
		t.Error("untrusted content was installed without operator confirmation")
	}
}

func TestRun_AcceptUntrustedInstallsDivergedContent(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "shell-guardian")
	writeArtifact(t, primary, []byte("tampered"))
	stale := []byte("stale escrow payload")
	expected := integrity.DigestBytes([]byte("current payload"))

	remote := &stubTier{
		name:      "remote-escrow",
		kind:      tier.RemoteEscrow,
		verifyErr: &tier.UntrustedError{ActualDigest: integrity.DigestBytes(stale)},
		untrusted: stale,
	}

	session, err := New(primary, expected, []tier.Tier{remote}, WithAcceptUntrusted()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if session.Outcome != OutcomeRestored {
		t.Fatalf("Outcome = %v, want OutcomeRestored after explicit acceptance", session.Outcome)
	}
	if got, _ := os.ReadFile(primary); string(got) != string(stale) {
		t.Error("accepted content was not the bytes installed")
	}
	if len(session.Attempts) != 1 || session.Attempts[0].Detail != "accepted by operator" {
		t.Errorf("attempt = %+v, want operator acceptance noted", session.Attempts)
	}
}

func TestRun_ConcurrentRunsConverge(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "shell-guardian")
	good := []byte("guardian payload")
	writeArtifact(t, primary, []byte("tampered"))
	expected := integrity.DigestBytes(good)

	backup := tier.NewLocalBackup(filepath.Join(dir, "backup", "shell-guardian"))
	if err := backup.Write(context.Background(), good); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := New(primary, expected, []tier.Tier{backup})
			if _, err := o.Run(context.Background()); err != nil {
				t.Errorf("concurrent Run() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if res := integrity.Verify(primary, expected); res.State != integrity.Verified {
		t.Errorf("primary after concurrent runs = %v, want Verified", res.State)
	}
}

func TestBootstrap_InstallsEmbeddedTemplate(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "bin", "shell-guardian")

	digest, err := Bootstrap(primary, nil)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	if res := integrity.Verify(primary, digest); res.State != integrity.Verified {
		t.Errorf("installed fallback = %v, want Verified against returned digest", res.State)
	}

	info, err := os.Stat(primary)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Error("installed fallback is not executable")
	}

	content, err := os.ReadFile(primary)
	if err != nil {
		t.Fatal(err)
	}
	if len(content) == 0 || string(content[:9]) != "#!/bin/sh" {
		t.Error("installed fallback does not start with a shell shebang")
	}
}

func TestProcedure_MentionsBootstrapSteps(t *testing.T) {
	text := Procedure("/home/user/.local/bin/shell-guardian")
	for _, want := range []string{"guardian-protect recovery", "guardian-build build", "/home/user/.local/bin/shell-guardian"} {
		if !strings.Contains(text, want) {
			t.Errorf("Procedure() output does not mention %q", want)
		}
	}
}
