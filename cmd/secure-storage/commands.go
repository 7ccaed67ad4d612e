package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/logging"
	"github.com/guardianshell/guardian/internal/recovery"
	"github.com/guardianshell/guardian/internal/service"
	"github.com/guardianshell/guardian/internal/tier"
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

// container loads the service and returns the configured container
// tier. A configuration without one is an error here, not a silent
// skip.
func container(ctx context.Context, args []string) (*service.Guardian, *tier.Container, error) {
	logger := logging.NewStderr(slog.LevelWarn)
	if hasFlag(args, "--verbose") {
		logger = logging.NewStderr(slog.LevelDebug)
	}

	g, err := service.New(ctx, logger)
	if err != nil {
		return nil, nil, err
	}

	c := g.Container()
	if c == nil {
		return nil, nil, fmt.Errorf("no container tier configured; add tiers.container to %s", g.Paths().ConfigFile)
	}
	return g, c, nil
}

// runInit handles `secure-storage init`.
func runInit(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	_, c, err := container(ctx, args)
	if err != nil {
		return 1, err
	}

	if err := c.Init(ctx); err != nil {
		return 1, err
	}
	fmt.Println("container initialized")
	fmt.Fprintln(os.Stderr, "Next action: run `secure-storage backup` to store the guardian in the vault.")
	return 0, nil
}

// runOpen handles `secure-storage open`.
func runOpen(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	_, c, err := container(ctx, args)
	if err != nil {
		return 1, err
	}

	if err := c.Open(ctx); err != nil {
		return 1, err
	}
	fmt.Printf("container open at %s\n", c.MountDir())
	return 0, nil
}

// runClose handles `secure-storage close`.
func runClose(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	_, c, err := container(ctx, args)
	if err != nil {
		return 1, err
	}

	if err := c.Close(ctx); err != nil {
		return 1, err
	}
	fmt.Println("container closed")
	return 0, nil
}

// runBackup handles `secure-storage backup`: verify the primary, then
// store it in the vault. The vault must be open; a closed container is
// StorageNotReady, never a silent auto-open.
func runBackup(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, c, err := container(ctx, args)
	if err != nil {
		return 1, err
	}

	expected, err := g.ExpectedDigest()
	if err != nil {
		return 1, err
	}

	primary := g.PrimaryTier()
	res, err := primary.Verify(ctx, expected)
	if err != nil {
		return 1, err
	}
	if res.State != integrity.Verified {
		return 1, fmt.Errorf("primary is %s, refusing to store it; run `guardian-security restore` first", res.State)
	}

	data, err := primary.Read(ctx)
	if err != nil {
		return 1, err
	}

	if err := c.Write(ctx, data); err != nil {
		if errors.Is(err, tier.ErrStorageNotReady) {
			fmt.Fprintln(os.Stderr, "Next action: run `secure-storage open`, rerun backup, then `secure-storage close`.")
		}
		return 1, err
	}

	fmt.Println("vault updated from the verified primary")
	return 0, nil
}

// runRestore handles `secure-storage restore`: recover the primary from
// the container tier alone.
func runRestore(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, c, err := container(ctx, args)
	if err != nil {
		return 1, err
	}

	expected, err := g.ExpectedDigest()
	if err != nil {
		return 1, err
	}

	if !c.IsOpen() {
		fmt.Fprintln(os.Stderr, "Next action: run `secure-storage open` first.")
		return 1, fmt.Errorf("container: %w", tier.ErrStorageNotReady)
	}

	orchestrator := recovery.New(g.Config().Artifact.Primary, expected, []tier.Tier{c},
		recovery.WithEnforcer(g.Enforcer()))
	session, err := orchestrator.Run(ctx)
	if err != nil {
		return 1, err
	}

	service.FormatSession(os.Stdout, session)
	switch session.Outcome {
	case recovery.OutcomeVerified, recovery.OutcomeRestored:
		return 0, nil
	default:
		fmt.Fprintln(os.Stderr, "Next action: run `guardian-security restore` to try the other tiers.")
		return 1, nil
	}
}

// runStatus handles `secure-storage status`.
func runStatus(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, c, err := container(ctx, args)
	if err != nil {
		return 1, err
	}

	fmt.Printf("  %-14s %v\n", "initialized", c.Initialized())
	fmt.Printf("  %-14s %v\n", "open", c.IsOpen())

	if !c.Initialized() {
		fmt.Fprintln(os.Stderr, "Next action: run `secure-storage init`.")
		return 1, nil
	}

	if c.IsOpen() {
		expected, err := g.ExpectedDigest()
		if err != nil {
			return 1, err
		}
		res, err := c.Verify(ctx, expected)
		if err != nil {
			return 1, err
		}
		fmt.Printf("  %-14s %s\n", "content", res.State)
		if res.State != integrity.Verified {
			return 1, nil
		}
	}
	return 0, nil
}
