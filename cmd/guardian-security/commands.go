package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/ledger"
	"github.com/guardianshell/guardian/internal/logging"
	"github.com/guardianshell/guardian/internal/protect"
	"github.com/guardianshell/guardian/internal/recovery"
	"github.com/guardianshell/guardian/internal/service"
)

const commandTimeout = 5 * time.Minute

func newLogger(verbose bool) logging.Logger {
	if verbose {
		return logging.NewStderr(slog.LevelDebug)
	}
	return logging.NewStderr(slog.LevelWarn)
}

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == name {
			return true
		}
	}
	return false
}

func load(ctx context.Context, args []string) (*service.Guardian, error) {
	return service.New(ctx, newLogger(hasFlag(args, "--verbose")))
}

// runVerify handles `guardian-security verify`.
func runVerify(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := load(ctx, args)
	if err != nil {
		return 1, err
	}

	expected, err := g.ExpectedDigest()
	if err != nil {
		return 1, err
	}

	res := integrity.Verify(g.Config().Artifact.Primary, expected)
	switch res.State {
	case integrity.Verified:
		fmt.Printf("verified %s\n", g.Config().Artifact.Primary)
		return 0, nil
	case integrity.Tampered:
		fmt.Printf("TAMPERED %s\n", g.Config().Artifact.Primary)
		fmt.Printf("  expected %s\n", expected)
		fmt.Printf("  observed %s\n", res.ActualDigest)
	default:
		fmt.Printf("missing %s\n", g.Config().Artifact.Primary)
	}
	fmt.Fprintln(os.Stderr, "Next action: run `guardian-security restore` to recover from the redundancy tiers.")
	return 1, nil
}

// runRestore handles `guardian-security restore`.
func runRestore(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := load(ctx, args)
	if err != nil {
		return 1, err
	}

	session, err := g.Recover(ctx, hasFlag(args, "--accept-untrusted"))
	if err != nil {
		return 1, err
	}
	service.FormatSession(os.Stdout, session)

	switch session.Outcome {
	case recovery.OutcomeVerified, recovery.OutcomeRestored:
		return 0, nil
	case recovery.OutcomeUntrusted:
		return 1, nil
	default:
		fmt.Println()
		fmt.Println(recovery.Procedure(g.Config().Artifact.Primary))
		return 2, nil
	}
}

// runProtect handles `guardian-security protect`.
func runProtect(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := load(ctx, args)
	if err != nil {
		return 1, err
	}

	for _, path := range []string{g.Config().Artifact.Primary, g.Config().Tiers.LocalBackup} {
		status, err := g.Enforcer().Protect(path)
		if errors.Is(err, protect.ErrNotFound) && path != g.Config().Artifact.Primary {
			fmt.Fprintf(os.Stderr, "skipping %s: not seeded yet (run `guardian-security backup`)\n", path)
			continue
		}
		if err != nil {
			return 1, fmt.Errorf("protect %s: %w", path, err)
		}
		fmt.Printf("protected %s (%s)\n", path, status.Mode)
	}
	return 0, nil
}

// runBackup handles `guardian-security backup`.
func runBackup(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := load(ctx, args)
	if err != nil {
		return 1, err
	}

	if err := g.Backup(ctx); err != nil {
		return 1, err
	}
	fmt.Println("all configured tiers seeded from the verified primary")
	return 0, nil
}

// runDrift handles `guardian-security drift`.
func runDrift(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := load(ctx, args)
	if err != nil {
		return 1, err
	}

	detector := g.Detector()
	var results []ledger.DriftResult
	if hasFlag(args, "--repair") {
		results, err = detector.Repair(ctx)
	} else {
		results, err = detector.Check(ctx)
	}
	if err != nil {
		return 2, err
	}

	code := 0
	binaryBroken := false
	for _, r := range results {
		fmt.Printf("  %-24s %s%s\n", r.Path, r.State, suffix(r.Detail))
		switch r.State {
		case ledger.DriftDetected:
			if code == 0 {
				code = 1
			}
		case ledger.DriftUnrecoverableByVCS:
			code = 1
			if r.Path == g.Config().Artifact.Primary {
				binaryBroken = true
			}
		}
	}

	if binaryBroken {
		// The binary is recovered from the redundancy tiers, not git.
		fmt.Fprintln(os.Stderr, "Next action: run `guardian-security restore` for the guardian binary.")
	} else if code != 0 && !hasFlag(args, "--repair") {
		fmt.Fprintln(os.Stderr, "Next action: rerun with --repair to restore drifted files from git history.")
	}
	return code, nil
}

// runAll handles `guardian-security all`: verify, restore if needed,
// protect, status.
func runAll(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := load(ctx, args)
	if err != nil {
		return 1, err
	}

	session, err := g.Recover(ctx, hasFlag(args, "--accept-untrusted"))
	if err != nil {
		return 1, err
	}
	service.FormatSession(os.Stdout, session)

	switch session.Outcome {
	case recovery.OutcomeUntrusted:
		return 1, nil
	case recovery.OutcomeUnrecoverable:
		fmt.Println()
		fmt.Println(recovery.Procedure(g.Config().Artifact.Primary))
		return 2, nil
	}

	for _, path := range []string{g.Config().Artifact.Primary, g.Config().Tiers.LocalBackup} {
		_, err := g.Enforcer().Protect(path)
		if errors.Is(err, protect.ErrNotFound) && path != g.Config().Artifact.Primary {
			continue
		}
		if err != nil {
			return 1, fmt.Errorf("protect %s: %w", path, err)
		}
	}

	report, err := g.Status(ctx)
	if err != nil {
		return 1, err
	}
	fmt.Println()
	service.FormatReport(os.Stdout, report)

	if !report.Healthy() {
		return 1, nil
	}
	return 0, nil
}

// runStatus handles `guardian-security status`.
func runStatus(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := load(ctx, args)
	if err != nil {
		return 1, err
	}

	report, err := g.Status(ctx)
	if err != nil {
		return 1, err
	}
	service.FormatReport(os.Stdout, report)

	if !report.Healthy() {
		fmt.Fprintln(os.Stderr, "Next action: run `guardian-security all` to restore and re-protect.")
		return 1, nil
	}
	return 0, nil
}

func suffix(detail string) string {
	if detail == "" {
		return ""
	}
	return " (" + detail + ")"
}
