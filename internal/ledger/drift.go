package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/guardianshell/guardian/internal/fsutil"
	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/logging"
)

// DriftState classifies one guarded file after a detector pass.
type DriftState int

const (
	DriftOK DriftState = iota
	DriftDetected
	DriftRestored
	DriftFirstRun
	DriftUnrecoverableByVCS
)

// String returns the human-readable drift state name.
func (d DriftState) String() string {
	switch d {
	case DriftOK:
		return "OK"
	case DriftDetected:
		return "DRIFT_DETECTED"
	case DriftRestored:
		return "RESTORED"
	case DriftFirstRun:
		return "RECORDED"
	case DriftUnrecoverableByVCS:
		return "UNRECOVERABLE_BY_VCS"
	default:
		return "UNKNOWN"
	}
}

// DriftResult is the per-file outcome of a detector pass.
type DriftResult struct {
	Path   string
	State  DriftState
	Detail string
}

// Detector recomputes digests for a fixed file set and reconciles them
// against the ledger, pulling authoritative copies from version control
// when a file has drifted.
type Detector struct {
	ledger   *Ledger
	restorer Restorer
	files    []string
	logger   logging.Logger
}

// NewDetector creates a drift detector over the given guarded files.
// restorer may be nil when no repository is configured; drifted files
// are then reported UnrecoverableByVCS.
func NewDetector(l *Ledger, restorer Restorer, files []string, logger logging.Logger) *Detector {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Detector{ledger: l, restorer: restorer, files: files, logger: logger}
}

// Check recomputes digests without repairing. Files not yet in the
// ledger are recorded (first run) and the ledger saved.
func (d *Detector) Check(ctx context.Context) ([]DriftResult, error) {
	return d.run(ctx, false)
}

// Repair recomputes digests and restores drifted files from version
// control. After each successful restore the file's digest is
// recomputed and its entry rewritten via a full ledger save.
func (d *Detector) Repair(ctx context.Context) ([]DriftResult, error) {
	return d.run(ctx, true)
}

func (d *Detector) run(ctx context.Context, repair bool) ([]DriftResult, error) {
	results := make([]DriftResult, 0, len(d.files))
	dirty := false

	for _, path := range d.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, recorded := d.ledger.Lookup(path)
		if !recorded {
			result := d.recordFirstRun(path)
			if result.State == DriftFirstRun {
				dirty = true
			}
			results = append(results, result)
			continue
		}

		verification := integrity.Verify(path, entry.RecordedDigest)
		if verification.State == integrity.Verified {
			results = append(results, DriftResult{Path: path, State: DriftOK})
			continue
		}

		d.logger.Warn("drift detected",
			"path", path,
			"recorded", entry.RecordedDigest,
			"observed", verification.ActualDigest,
			"state", verification.State.String())

		if !repair {
			results = append(results, DriftResult{
				Path:   path,
				State:  DriftDetected,
				Detail: fmt.Sprintf("digest no longer matches ledger (%s)", verification.State),
			})
			continue
		}

		result := d.restore(ctx, path)
		if result.State == DriftRestored {
			dirty = true
		}
		results = append(results, result)
	}

	if dirty {
		if err := d.ledger.Save(); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// recordFirstRun creates the initial ledger entry for a file.
func (d *Detector) recordFirstRun(path string) DriftResult {
	digest, size, err := integrity.Digest(path)
	if err != nil || size == 0 {
		return DriftResult{
			Path:   path,
			State:  DriftUnrecoverableByVCS,
			Detail: "file is missing and has no ledger entry to restore from",
		}
	}

	d.ledger.Record(path, digest)
	d.logger.Info("ledger entry recorded", "path", path, "digest", digest)
	return DriftResult{Path: path, State: DriftFirstRun}
}

// restore pulls the file from version control, reinstalls it atomically,
// and recomputes its ledger entry.
func (d *Detector) restore(ctx context.Context, path string) DriftResult {
	if d.restorer == nil {
		return DriftResult{
			Path:   path,
			State:  DriftUnrecoverableByVCS,
			Detail: "no version-control repository configured",
		}
	}

	content, err := d.restorer.Restore(ctx, path)
	if err != nil {
		detail := "restore from version control failed"
		if errors.Is(err, ErrUntracked) {
			detail = "file is not tracked in version control"
		}
		d.logger.Error("vcs restore failed", "path", path, "error", err)
		return DriftResult{Path: path, State: DriftUnrecoverableByVCS, Detail: detail}
	}

	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := fsutil.AtomicWrite(path, content, perm); err != nil {
		d.logger.Error("reinstall failed", "path", path, "error", err)
		return DriftResult{Path: path, State: DriftUnrecoverableByVCS, Detail: err.Error()}
	}

	// Recompute from disk rather than trusting the blob we just wrote.
	digest, _, err := integrity.Digest(path)
	if err != nil {
		return DriftResult{Path: path, State: DriftUnrecoverableByVCS, Detail: err.Error()}
	}
	d.ledger.Record(path, digest)

	d.logger.Info("file restored from version control", "path", path, "digest", digest)
	return DriftResult{Path: path, State: DriftRestored}
}
