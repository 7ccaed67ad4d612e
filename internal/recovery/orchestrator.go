package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/guardianshell/guardian/internal/fsutil"
	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/logging"
	"github.com/guardianshell/guardian/internal/protect"
	"github.com/guardianshell/guardian/internal/tier"
)

// untrustedReader is implemented by tiers that can hand back content
// which failed their own trust check, for operator-confirmed use.
type untrustedReader interface {
	ReadUntrusted(ctx context.Context) ([]byte, error)
}

// Orchestrator restores the primary artifact from redundancy tiers.
type Orchestrator struct {
	primaryPath     string
	expected        string
	tiers           []tier.Tier
	enforcer        *protect.Enforcer
	logger          logging.Logger
	acceptUntrusted bool
}

// Option configures optional orchestrator behavior.
type Option func(*Orchestrator)

// WithEnforcer makes the orchestrator lift protection before the
// install write and reapply it afterwards.
func WithEnforcer(e *protect.Enforcer) Option {
	return func(o *Orchestrator) { o.enforcer = e }
}

// WithLogger replaces the no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithAcceptUntrusted allows installing remote content that failed its
// escrow trust check. Only an operator who inspected the content asks
// for this; without it an untrusted remote ends the run as Untrusted
// and nothing is installed.
func WithAcceptUntrusted() Option {
	return func(o *Orchestrator) { o.acceptUntrusted = true }
}

// New creates an orchestrator for the artifact at primaryPath with the
// given expected digest. tiers must be ordered by descending trust.
func New(primaryPath, expected string, tiers []tier.Tier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		primaryPath: primaryPath,
		expected:    expected,
		tiers:       tiers,
		logger:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run verifies the primary and, when it fails, walks the tiers in trust
// order. The first tier whose content verifies is installed into the
// primary via an atomic rename; the walk never continues past it. Two
// concurrent runs converge on the same result because the install is a
// single rename.
func (o *Orchestrator) Run(ctx context.Context) (*Session, error) {
	session := newSession()
	o.logger.Info("recovery run started", "session", session.ID, "primary", o.primaryPath)

	primary := integrity.Verify(o.primaryPath, o.expected)
	if primary.State == integrity.Verified {
		o.logger.Info("primary verified, nothing to do", "session", session.ID)
		return session.finish(OutcomeVerified), nil
	}

	o.logger.Warn("primary failed verification",
		"session", session.ID,
		"state", primary.State.String(),
		"observed", primary.ActualDigest)

	sawUntrusted := false

	for _, t := range o.tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, state, detail := o.consult(ctx, t)
		if data == nil {
			if state == AttemptUntrusted {
				sawUntrusted = true
			}
			session.record(t, state, detail)
			o.logger.Warn("tier unusable", "session", session.ID, "tier", t.Name(), "state", state.String(), "detail", detail)
			continue
		}

		if err := o.install(data); err != nil {
			session.record(t, AttemptFailed, err.Error())
			o.logger.Error("install failed", "session", session.ID, "tier", t.Name(), "error", err)
			continue
		}

		// Accepted untrusted content intentionally differs from the
		// baseline, so re-verify against the bytes that were installed.
		if res := integrity.Verify(o.primaryPath, integrity.DigestBytes(data)); res.State != integrity.Verified {
			session.record(t, AttemptFailed, "primary failed re-verification after install")
			continue
		}

		session.record(t, AttemptVerified, detail)
		session.RestoredFrom = t.Name()
		o.logger.Info("primary restored", "session", session.ID, "tier", t.Name())
		return session.finish(OutcomeRestored), nil
	}

	if sawUntrusted {
		o.logger.Error("remote content failed trust check, refusing to install", "session", session.ID)
		return session.finish(OutcomeUntrusted), nil
	}

	o.logger.Error("all tiers exhausted", "session", session.ID)
	return session.finish(OutcomeUnrecoverable), nil
}

// consult verifies one tier and reads its bytes. A nil byte slice means
// the tier cannot serve this run; state and detail say why.
func (o *Orchestrator) consult(ctx context.Context, t tier.Tier) ([]byte, AttemptState, string) {
	res, err := t.Verify(ctx, o.expected)
	if err != nil {
		if tier.IsUntrusted(err) {
			return o.maybeAcceptUntrusted(ctx, t, err)
		}
		return nil, classify(err), err.Error()
	}

	switch res.State {
	case integrity.Verified:
	case integrity.Missing:
		return nil, AttemptMissing, "tier holds no content"
	default:
		return nil, AttemptTampered, fmt.Sprintf("tier content digest %s does not match", res.ActualDigest)
	}

	data, err := t.Read(ctx)
	if err != nil {
		if tier.IsUntrusted(err) {
			return o.maybeAcceptUntrusted(ctx, t, err)
		}
		return nil, classify(err), err.Error()
	}

	// Never install bytes on the strength of a stale Verify.
	if res := integrity.VerifyBytes(data, o.expected); res.State != integrity.Verified {
		return nil, AttemptTampered, "tier content changed between verify and read"
	}
	return data, AttemptVerified, ""
}

// maybeAcceptUntrusted handles a tier whose content failed its trust
// check. Without the operator's explicit acceptance the attempt ends
// Untrusted and no bytes leave the tier.
func (o *Orchestrator) maybeAcceptUntrusted(ctx context.Context, t tier.Tier, cause error) ([]byte, AttemptState, string) {
	ur, ok := t.(untrustedReader)
	if !o.acceptUntrusted || !ok {
		return nil, AttemptUntrusted, cause.Error()
	}

	o.logger.Warn("installing operator-accepted untrusted content",
		"tier", t.Name(), "cause", cause.Error())

	data, err := ur.ReadUntrusted(ctx)
	if err != nil {
		return nil, classify(err), err.Error()
	}
	return data, AttemptVerified, "accepted by operator"
}

func classify(err error) AttemptState {
	switch {
	case errors.Is(err, tier.ErrStorageNotReady):
		return AttemptStorageNotReady
	case errors.Is(err, tier.ErrTransportFailure):
		return AttemptTransportFailure
	case tier.IsUntrusted(err):
		return AttemptUntrusted
	default:
		return AttemptFailed
	}
}

// install writes data into the primary path. Protection is lifted for
// the duration of the rename and reapplied afterwards.
func (o *Orchestrator) install(data []byte) error {
	if err := o.preflight(len(data)); err != nil {
		return err
	}

	if o.enforcer != nil {
		if _, err := o.enforcer.Unprotect(o.primaryPath); err != nil && !errors.Is(err, protect.ErrNotFound) {
			return fmt.Errorf("lift protection: %w", err)
		}
	}

	if err := fsutil.AtomicWrite(o.primaryPath, data, 0o755); err != nil {
		return fmt.Errorf("install primary: %w", err)
	}

	if o.enforcer != nil {
		if _, err := o.enforcer.Protect(o.primaryPath); err != nil {
			return fmt.Errorf("reapply protection: %w", err)
		}
	}
	return nil
}

// preflight refuses the install when the target filesystem cannot hold
// both the temp file and the final copy.
func (o *Orchestrator) preflight(size int) error {
	dir := filepath.Dir(o.primaryPath)
	if _, err := os.Stat(dir); err != nil && os.IsNotExist(err) {
		// AtomicWrite creates the directory; check its parent instead.
		dir = filepath.Dir(dir)
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		// Unable to measure is not a reason to refuse recovery.
		o.logger.Warn("disk preflight unavailable", "dir", dir, "error", err)
		return nil
	}

	required := uint64(size) * 2
	if usage.Free < required {
		return fmt.Errorf("insufficient disk space in %s: %d bytes free, %d required", dir, usage.Free, required)
	}
	return nil
}
