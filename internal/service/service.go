// Package service provides high-level guardian operations shared by the
// command-line tools: assembling the redundancy tiers from the
// configuration, seeding backups, running verification sweeps, and
// recovery.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/guardianshell/guardian/internal/config"
	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/ledger"
	"github.com/guardianshell/guardian/internal/logging"
	"github.com/guardianshell/guardian/internal/protect"
	"github.com/guardianshell/guardian/internal/recovery"
	"github.com/guardianshell/guardian/internal/tier"
)

// ErrNoBaseline means the ledger holds no digest for the primary
// artifact yet; nothing can be verified or recovered against.
var ErrNoBaseline = errors.New("no recorded digest for the primary artifact; run `guardian-build build` first")

// Guardian wires configuration, ledger, tiers, and protection together.
type Guardian struct {
	cfg      *config.Config
	paths    config.Paths
	ledger   *ledger.Ledger
	enforcer *protect.Enforcer
	logger   logging.Logger
}

// New loads the configuration and ledger and returns a ready service.
func New(ctx context.Context, logger logging.Logger) (*Guardian, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	cfg, paths, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}

	l, err := ledger.Load(paths.LedgerFile)
	if err != nil {
		return nil, err
	}

	return &Guardian{
		cfg:      cfg,
		paths:    paths,
		ledger:   l,
		enforcer: protect.NewEnforcer(logger),
		logger:   logger,
	}, nil
}

// Config returns the parsed configuration.
func (g *Guardian) Config() *config.Config { return g.cfg }

// Paths returns the resolved state file locations.
func (g *Guardian) Paths() config.Paths { return g.paths }

// Ledger returns the loaded checksum ledger.
func (g *Guardian) Ledger() *ledger.Ledger { return g.ledger }

// Enforcer returns the protection enforcer.
func (g *Guardian) Enforcer() *protect.Enforcer { return g.enforcer }

// ExpectedDigest returns the ledger digest for the primary artifact.
func (g *Guardian) ExpectedDigest() (string, error) {
	entry, ok := g.ledger.Lookup(g.cfg.Artifact.Primary)
	if !ok {
		return "", ErrNoBaseline
	}
	return entry.RecordedDigest, nil
}

// PrimaryTier returns the tier for the primary artifact path.
func (g *Guardian) PrimaryTier() *tier.FileTier {
	return tier.NewPrimary(g.cfg.Artifact.Primary)
}

// Container returns the encrypted container tier, or nil when the
// configuration leaves it out.
func (g *Guardian) Container() *tier.Container {
	c := g.cfg.Tiers.Container
	if !c.Enabled() {
		return nil
	}
	return tier.NewContainer(c.Vault, c.Identity, c.Mount, g.cfg.Artifact.Name)
}

// Hardlinks returns the hardlink constellation tier.
func (g *Guardian) Hardlinks() *tier.Constellation {
	return tier.NewConstellation(g.cfg.Artifact.Primary, g.cfg.Tiers.Hardlinks, g.paths.HardlinkState)
}

// Escrow returns the remote escrow tier, or nil when disabled. extra
// options are appended after the configured ones.
func (g *Guardian) Escrow(extra ...tier.EscrowOption) (*tier.Escrow, error) {
	r := g.cfg.Tiers.Remote
	if !r.Enabled {
		return nil, nil
	}

	state, err := tier.LoadEscrowState(g.paths.EscrowState)
	if err != nil {
		return nil, err
	}

	baseURL := r.BaseURL
	if baseURL == "" {
		baseURL = tier.DefaultEscrowBaseURL
	}

	var opts []tier.EscrowOption
	if r.Keyring != "" {
		keyring, err := tier.LoadEscrowKeyring(r.Keyring)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tier.WithEscrowKeyring(keyring))
	}
	opts = append(opts, extra...)

	return tier.NewEscrow(baseURL, g.paths.EscrowState, g.cfg.Artifact.Name, state, opts...), nil
}

// RecoveryTiers returns the backup tiers strictly ordered by descending
// trust. Unconfigured tiers are absent rather than failing.
func (g *Guardian) RecoveryTiers() ([]tier.Tier, error) {
	tiers := []tier.Tier{
		tier.NewLocalBackup(g.cfg.Tiers.LocalBackup),
		g.Hardlinks(),
	}

	if c := g.Container(); c != nil {
		tiers = append(tiers, c)
	}

	escrow, err := g.Escrow()
	if err != nil {
		return nil, err
	}
	if escrow != nil {
		tiers = append(tiers, escrow)
	}

	return tiers, nil
}

// Recover runs the recovery orchestrator over the configured tiers.
func (g *Guardian) Recover(ctx context.Context, acceptUntrusted bool) (*recovery.Session, error) {
	expected, err := g.ExpectedDigest()
	if err != nil {
		return nil, err
	}

	tiers, err := g.RecoveryTiers()
	if err != nil {
		return nil, err
	}

	opts := []recovery.Option{
		recovery.WithEnforcer(g.enforcer),
		recovery.WithLogger(g.logger),
	}
	if acceptUntrusted {
		opts = append(opts, recovery.WithAcceptUntrusted())
	}

	return recovery.New(g.cfg.Artifact.Primary, expected, tiers, opts...).Run(ctx)
}

// Backup reads the verified primary and writes it to every configured
// tier. The primary must verify first; tampered content is never
// propagated into the backups.
func (g *Guardian) Backup(ctx context.Context) error {
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
		return fmt.Errorf("primary is %s, refusing to propagate it into backups; run `guardian-protect recovery` first", res.State)
	}

	data, err := primary.Read(ctx)
	if err != nil {
		return err
	}

	tiers, err := g.RecoveryTiers()
	if err != nil {
		return err
	}

	var failed []string
	for _, t := range tiers {
		if err := t.Write(ctx, data); err != nil {
			// A closed container or unreachable remote degrades the
			// sweep, it does not abort it.
			g.logger.Warn("tier backup failed", "tier", t.Name(), "error", err)
			failed = append(failed, fmt.Sprintf("%s (%v)", t.Name(), err))
			continue
		}
		g.logger.Info("tier backup written", "tier", t.Name())
	}

	if len(failed) > 0 {
		return fmt.Errorf("backup incomplete: %v", failed)
	}
	return nil
}

// Bootstrap installs the embedded fallback guardian and records its
// digest as the new baseline.
func (g *Guardian) Bootstrap(ctx context.Context) (string, error) {
	digest, err := recovery.Bootstrap(g.cfg.Artifact.Primary, g.enforcer)
	if err != nil {
		return "", err
	}

	g.ledger.Record(g.cfg.Artifact.Primary, digest)
	if err := g.ledger.Save(); err != nil {
		return "", err
	}
	return digest, nil
}

// Detector returns the drift detector over the configured guarded
// files. The primary binary is always part of the set.
func (g *Guardian) Detector() *ledger.Detector {
	files := append([]string{g.cfg.Artifact.Primary}, g.cfg.Ledger.Files...)

	var restorer ledger.Restorer
	if g.cfg.Ledger.Repo != "" {
		restorer = ledger.NewGitRestorer(g.cfg.Ledger.Repo)
	}

	return ledger.NewDetector(g.ledger, restorer, files, g.logger)
}
