package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/guardianshell/guardian/internal/logging"
	"github.com/guardianshell/guardian/internal/protect"
	"github.com/guardianshell/guardian/internal/service"
)

const commandTimeout = 2 * time.Minute

// newLogger builds the stderr logger the subcommands share.
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

// protectedPaths returns the paths protection applies to: the primary
// and the local backup.
func protectedPaths(g *service.Guardian) []string {
	return []string{g.Config().Artifact.Primary, g.Config().Tiers.LocalBackup}
}

// runProtect handles `guardian-protect protect`.
func runProtect(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := service.New(ctx, newLogger(hasFlag(args, "--verbose")))
	if err != nil {
		return 1, err
	}

	for _, path := range protectedPaths(g) {
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

// runUnprotect handles `guardian-protect unprotect`.
func runUnprotect(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := service.New(ctx, newLogger(hasFlag(args, "--verbose")))
	if err != nil {
		return 1, err
	}

	for _, path := range protectedPaths(g) {
		if _, err := g.Enforcer().Unprotect(path); err != nil {
			return 1, fmt.Errorf("unprotect %s: %w", path, err)
		}
		fmt.Printf("unprotected %s\n", path)
	}
	fmt.Fprintln(os.Stderr, "Reapply protection with `guardian-protect protect` when done.")
	return 0, nil
}

// runStatus handles `guardian-protect status`.
func runStatus(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := service.New(ctx, newLogger(hasFlag(args, "--verbose")))
	if err != nil {
		return 1, err
	}

	report, err := g.Status(ctx)
	if err != nil {
		return 1, err
	}
	service.FormatReport(os.Stdout, report)

	if !report.Healthy() {
		fmt.Fprintln(os.Stderr, "Next action: run `guardian-protect recovery` to restore and re-protect the primary.")
		return 1, nil
	}
	return 0, nil
}
