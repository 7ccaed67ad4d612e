package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/logging"
	"github.com/guardianshell/guardian/internal/service"
)

const commandTimeout = 2 * time.Minute

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

// runCreate handles `guardian-hardlink create`.
func runCreate(args []string) (int, error) {
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
	if res := integrity.Verify(g.Config().Artifact.Primary, expected); res.State != integrity.Verified {
		return 1, fmt.Errorf("primary is %s, refusing to link it; run `guardian-security restore` first", res.State)
	}

	c := g.Hardlinks()
	if err := c.Create(ctx); err != nil {
		return 1, err
	}
	fmt.Printf("constellation refreshed across %d paths\n", len(c.Paths()))
	return 0, nil
}

// runVerify handles `guardian-hardlink verify`.
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

	res, err := g.Hardlinks().Verify(ctx, expected)
	if err != nil {
		return 1, err
	}
	fmt.Printf("constellation: %s\n", res.State)
	if res.State != integrity.Verified {
		fmt.Fprintln(os.Stderr, "Next action: run `guardian-hardlink create` from a verified primary.")
		return 1, nil
	}
	return 0, nil
}

// runFind handles `guardian-hardlink find`.
func runFind(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := load(ctx, args)
	if err != nil {
		return 1, err
	}

	statuses, err := g.Hardlinks().Find(ctx)
	if err != nil {
		return 1, err
	}

	code := 0
	for _, s := range statuses {
		health := "healthy"
		if !s.Healthy {
			health = "BROKEN"
			code = 1
		}
		detail := ""
		if s.Detail != "" {
			detail = " (" + s.Detail + ")"
		}
		fmt.Printf("  %-8s %-8s %s%s\n", health, s.Mode, s.Path, detail)
	}

	if code != 0 {
		fmt.Fprintln(os.Stderr, "Next action: run `guardian-hardlink create` to repair broken paths.")
	}
	return code, nil
}
