package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/guardianshell/guardian/internal/buildpipe"
	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/logging"
	"github.com/guardianshell/guardian/internal/protect"
	"github.com/guardianshell/guardian/internal/service"
)

const commandTimeout = 10 * time.Minute

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == name {
			return true
		}
	}
	return false
}

func load(ctx context.Context, args []string) (*service.Guardian, error) {
	logger := logging.NewStderr(slog.LevelWarn)
	if hasFlag(args, "--verbose") {
		logger = logging.NewStderr(slog.LevelDebug)
	}
	return service.New(ctx, logger)
}

// runBuild handles `guardian-build build`.
func runBuild(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := load(ctx, args)
	if err != nil {
		return 1, err
	}

	cfg := g.Config()
	if cfg.Artifact.Source == "" {
		return 1, fmt.Errorf("no artifact.source configured in %s", g.Paths().ConfigFile)
	}
	if cfg.Build.Compiler == "" {
		return 1, fmt.Errorf("no build.compiler configured in %s", g.Paths().ConfigFile)
	}

	// The primary may be immutable from a previous protect run.
	if _, err := g.Enforcer().Unprotect(cfg.Artifact.Primary); err != nil && !errors.Is(err, protect.ErrNotFound) {
		return 1, err
	}

	pipeline := buildpipe.New(cfg.Artifact.Source, cfg.Artifact.Primary, cfg.Build.Compiler, cfg.Build.Args, g.Ledger(), nil)
	result, err := pipeline.Build(ctx)
	if err != nil {
		var compileErr *buildpipe.CompileError
		if errors.As(err, &compileErr) && compileErr.Output != "" {
			fmt.Fprintln(os.Stderr, compileErr.Output)
		}
		return 1, err
	}

	if _, err := g.Enforcer().Protect(cfg.Artifact.Primary); err != nil {
		return 1, err
	}

	fmt.Printf("built %s\n", result.OutputPath)
	fmt.Printf("  source digest  %s\n", result.SourceDigest)
	fmt.Printf("  binary digest  %s\n", result.BinaryDigest)
	fmt.Printf("  size           %d bytes\n", result.BinarySize)
	fmt.Printf("  timestamp      %s\n", result.Timestamp.Format(time.RFC3339))
	fmt.Fprintln(os.Stderr, "Next action: run `guardian-security backup` to seed the redundancy tiers.")
	return 0, nil
}

// runStatus handles `guardian-build status`.
func runStatus(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := load(ctx, args)
	if err != nil {
		return 1, err
	}

	cfg := g.Config()
	entry, ok := g.Ledger().Lookup(cfg.Artifact.Primary)
	if !ok {
		fmt.Println("no baseline recorded")
		fmt.Fprintln(os.Stderr, "Next action: run `guardian-build build`.")
		return 1, nil
	}

	fmt.Printf("  %-16s %s\n", "baseline", entry.RecordedDigest)
	fmt.Printf("  %-16s %s\n", "recorded at", entry.RecordedAt.Format(time.RFC3339))

	if cfg.Artifact.Source != "" {
		digest, _, err := integrity.Digest(cfg.Artifact.Source)
		if err != nil {
			fmt.Printf("  %-16s unreadable (%v)\n", "source", err)
			return 1, nil
		}
		fmt.Printf("  %-16s %s\n", "source digest", digest)
	}

	res := integrity.Verify(cfg.Artifact.Primary, entry.RecordedDigest)
	fmt.Printf("  %-16s %s\n", "binary", res.State)
	if res.State != integrity.Verified {
		fmt.Fprintln(os.Stderr, "Next action: run `guardian-security restore` or rebuild with `guardian-build build`.")
		return 1, nil
	}
	return 0, nil
}
