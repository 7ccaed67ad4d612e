package main

import (
	"context"
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

func flagValue(args []string, name string) string {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// escrow loads the service and the configured remote tier. Extra escrow
// options come from the command line (detached signature file).
func escrow(ctx context.Context, args []string) (*service.Guardian, *tier.Escrow, error) {
	logger := logging.NewStderr(slog.LevelWarn)
	if hasFlag(args, "--verbose") {
		logger = logging.NewStderr(slog.LevelDebug)
	}

	g, err := service.New(ctx, logger)
	if err != nil {
		return nil, nil, err
	}

	var opts []tier.EscrowOption
	if sigPath := flagValue(args, "--signature"); sigPath != "" {
		sig, err := os.ReadFile(sigPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read signature: %w", err)
		}
		opts = append(opts, tier.WithEscrowSignature(string(sig)))
	}

	e, err := g.Escrow(opts...)
	if err != nil {
		return nil, nil, err
	}
	if e == nil {
		return nil, nil, fmt.Errorf("remote escrow is disabled; set tiers.remote.enabled = true in %s", g.Paths().ConfigFile)
	}
	return g, e, nil
}

// upload stores the verified primary in the remote escrow.
func upload(ctx context.Context, g *service.Guardian, e *tier.Escrow) error {
	expected, err := g.ExpectedDigest()
	if err != nil {
		return err
	}

	primary := g.PrimaryTier()
	res, err := primary.Verify(ctx, expected)
	if err != nil {
		return err
	}
	if res.State != integrity.Verified {
		return fmt.Errorf("primary is %s, refusing to upload it; run `guardian-security restore` first", res.State)
	}

	data, err := primary.Read(ctx)
	if err != nil {
		return err
	}
	return e.Write(ctx, data)
}

// runInit handles `guardian-remote-backup init`.
func runInit(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, e, err := escrow(ctx, args)
	if err != nil {
		return 1, err
	}

	if e.State().RemoteID != "" {
		fmt.Printf("escrow already initialized (remote id %s); use `guardian-remote-backup update`\n", e.State().RemoteID)
		return 0, nil
	}

	if err := upload(ctx, g, e); err != nil {
		return 1, err
	}
	fmt.Printf("escrow created, remote id %s\n", e.State().RemoteID)
	return 0, nil
}

// runUpdate handles `guardian-remote-backup update`.
func runUpdate(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, e, err := escrow(ctx, args)
	if err != nil {
		return 1, err
	}

	if err := upload(ctx, g, e); err != nil {
		return 1, err
	}
	fmt.Printf("escrow updated, digest %s\n", e.State().RecordedDigest)
	return 0, nil
}

// runRestore handles `guardian-remote-backup restore`: recover the
// primary from the escrow tier alone.
func runRestore(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, e, err := escrow(ctx, args)
	if err != nil {
		return 1, err
	}

	expected, err := g.ExpectedDigest()
	if err != nil {
		return 1, err
	}

	opts := []recovery.Option{recovery.WithEnforcer(g.Enforcer())}
	if hasFlag(args, "--accept-untrusted") {
		opts = append(opts, recovery.WithAcceptUntrusted())
	}

	session, err := recovery.New(g.Config().Artifact.Primary, expected, []tier.Tier{e}, opts...).Run(ctx)
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
		fmt.Fprintln(os.Stderr, "Next action: run `guardian-security restore` to try the local tiers.")
		return 1, nil
	}
}

// runStatus handles `guardian-remote-backup status`.
func runStatus(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, e, err := escrow(ctx, args)
	if err != nil {
		return 1, err
	}

	state := e.State()
	if state.RemoteID == "" {
		fmt.Println("escrow not initialized")
		fmt.Fprintln(os.Stderr, "Next action: run `guardian-remote-backup init`.")
		return 1, nil
	}

	fmt.Printf("  %-14s %s\n", "remote id", state.RemoteID)
	fmt.Printf("  %-14s %s\n", "digest", state.RecordedDigest)
	if state.LastUpdateEpoch > 0 {
		fmt.Printf("  %-14s %s\n", "last update", time.Unix(state.LastUpdateEpoch, 0).UTC().Format(time.RFC3339))
	}

	expected, err := g.ExpectedDigest()
	if err != nil {
		return 1, err
	}
	res, err := e.Verify(ctx, expected)
	if err != nil {
		if tier.IsUntrusted(err) {
			fmt.Printf("  %-14s UNTRUSTED (%v)\n", "remote", err)
			fmt.Fprintln(os.Stderr, "Next action: run `guardian-remote-backup update` from a verified primary.")
			return 1, nil
		}
		fmt.Printf("  %-14s unreachable (%v)\n", "remote", err)
		return 1, nil
	}
	fmt.Printf("  %-14s %s\n", "remote", res.State)
	if res.State != integrity.Verified {
		fmt.Fprintln(os.Stderr, "Next action: run `guardian-remote-backup update` from a verified primary.")
		return 1, nil
	}
	return 0, nil
}
