package tier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/guardianshell/guardian/internal/fsutil"
	"github.com/guardianshell/guardian/internal/integrity"
)

// LinkMode records how one constellation path holds the artifact.
type LinkMode string

const (
	// ModeLink means the path is a hardlink sharing the source inode.
	ModeLink LinkMode = "link"

	// ModeCopy means hardlinking was impossible (typically a different
	// filesystem) and the path holds an independent copy. Verification
	// of a copy path never assumes inode identity.
	ModeCopy LinkMode = "copy"
)

// LinkStatus is the health of one constellation path.
type LinkStatus struct {
	Path    string   `json:"path"`
	Mode    LinkMode `json:"mode"`
	Healthy bool     `json:"healthy"`
	Detail  string   `json:"detail,omitempty"`
}

// Constellation maintains same-content copies of the artifact at a fixed
// set of configured paths, hardlinked to the source where the filesystem
// allows and copied where it does not. The set of paths is exactly what
// the configuration enumerates; nothing is discovered by scanning.
type Constellation struct {
	source    string
	paths     []string
	statePath string
}

// NewConstellation creates the hardlink tier. source is the primary
// artifact path, paths the fixed constellation locations, statePath the
// owner-only file recording the per-path link/copy mode.
func NewConstellation(source string, paths []string, statePath string) *Constellation {
	return &Constellation{source: source, paths: paths, statePath: statePath}
}

// Name implements Tier.
func (c *Constellation) Name() string { return "hardlink" }

// Kind implements Tier.
func (c *Constellation) Kind() Kind { return Hardlink }

// Paths returns the configured constellation paths.
func (c *Constellation) Paths() []string { return c.paths }

// Write re-establishes the constellation from data. The source must
// already hold data (the orchestrator writes primary first); each
// constellation path is then linked or, across filesystems, copied.
func (c *Constellation) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcResult := integrity.Verify(c.source, integrity.DigestBytes(data))
	if srcResult.State != integrity.Verified {
		// Source diverged from the bytes being stored; refresh it so
		// links point at the right content.
		if err := fsutil.AtomicWrite(c.source, data, 0o755); err != nil {
			return fmt.Errorf("hardlink tier: refresh source: %w", err)
		}
	}

	return c.Create(ctx)
}

// Create links every constellation path to the source, falling back to an
// atomic copy when linking is impossible. The fallback is recorded as
// "copy, not link" in the constellation state.
func (c *Constellation) Create(ctx context.Context) error {
	modes := make(map[string]LinkMode, len(c.paths))

	for _, path := range c.paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("hardlink tier: create directory for %s: %w", path, err)
		}

		// A link syscall fails on an existing name; replace via a
		// temporary link and rename so the path is never absent.
		tmpPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
		err := os.Link(c.source, tmpPath)
		if err == nil {
			if err := os.Rename(tmpPath, path); err != nil {
				os.Remove(tmpPath)
				return fmt.Errorf("hardlink tier: install link %s: %w", path, err)
			}
			modes[path] = ModeLink
			continue
		}
		os.Remove(tmpPath)

		// Only a cross-device target degrades to a content copy; any
		// other link failure (permissions, read-only mount) surfaces.
		if !errors.Is(err, syscall.EXDEV) {
			return fmt.Errorf("hardlink tier: link %s: %w", path, err)
		}
		if err := fsutil.CopyAtomic(c.source, path, 0o755); err != nil {
			return fmt.Errorf("hardlink tier: copy fallback for %s: %w", path, err)
		}
		modes[path] = ModeCopy
	}

	return c.saveModes(modes)
}

// Read returns the artifact bytes from the first readable constellation
// path. Callers digest-verify before trusting the content.
func (c *Constellation) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lastErr error
	for _, path := range c.paths {
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		if len(data) > 0 {
			return data, nil
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no constellation paths configured")
	}
	return nil, fmt.Errorf("hardlink tier: no readable copy: %w", lastErr)
}

// Verify succeeds if any constellation path holds content matching the
// expected digest. Missing is reported only when every path is absent.
func (c *Constellation) Verify(ctx context.Context, expected string) (integrity.Result, error) {
	if err := ctx.Err(); err != nil {
		return integrity.Result{}, err
	}

	result := integrity.Result{State: integrity.Missing}
	for _, path := range c.paths {
		r := integrity.Verify(path, expected)
		switch r.State {
		case integrity.Verified:
			return r, nil
		case integrity.Tampered:
			// Remember the mismatch but keep looking for a good copy.
			result = r
		}
	}

	return result, nil
}

// Find reports per-path health: a link-mode path must still share the
// source inode (divergence is broken even if content matches), a copy-mode
// path must digest-match the source.
func (c *Constellation) Find(ctx context.Context) ([]LinkStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	modes, err := c.loadModes()
	if err != nil {
		return nil, err
	}

	srcInfo, srcErr := os.Stat(c.source)
	srcDigest := ""
	if srcErr == nil {
		srcDigest, _, _ = integrity.Digest(c.source)
	}

	statuses := make([]LinkStatus, 0, len(c.paths))
	for _, path := range c.paths {
		mode, recorded := modes[path]
		if !recorded {
			mode = ModeLink
		}
		status := LinkStatus{Path: path, Mode: mode}

		info, err := os.Stat(path)
		if err != nil {
			status.Detail = "missing"
			statuses = append(statuses, status)
			continue
		}

		switch mode {
		case ModeLink:
			if srcErr != nil {
				status.Detail = "source missing"
			} else if !os.SameFile(srcInfo, info) {
				status.Detail = "inode diverged from source"
			} else {
				status.Healthy = true
			}
		case ModeCopy:
			if srcDigest == "" {
				status.Detail = "source unreadable"
			} else if r := integrity.Verify(path, srcDigest); r.State == integrity.Verified {
				status.Healthy = true
			} else {
				status.Detail = "content diverged from source"
			}
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// saveModes persists the per-path link/copy record atomically with
// owner-only permissions.
func (c *Constellation) saveModes(modes map[string]LinkMode) error {
	data, err := json.MarshalIndent(modes, "", "  ")
	if err != nil {
		return fmt.Errorf("hardlink tier: marshal state: %w", err)
	}
	if err := fsutil.AtomicWrite(c.statePath, data, 0o600); err != nil {
		return fmt.Errorf("hardlink tier: save state: %w", err)
	}
	return nil
}

// loadModes reads the per-path record. A missing state file means the
// constellation has not been created yet; every path defaults to link.
func (c *Constellation) loadModes() (map[string]LinkMode, error) {
	data, err := os.ReadFile(c.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]LinkMode{}, nil
		}
		return nil, fmt.Errorf("hardlink tier: read state: %w", err)
	}

	var modes map[string]LinkMode
	if err := json.Unmarshal(data, &modes); err != nil {
		return nil, fmt.Errorf("hardlink tier: parse state %s: %w", c.statePath, err)
	}
	return modes, nil
}
