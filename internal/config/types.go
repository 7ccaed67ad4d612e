// Package config provides Lua configuration parsing, generation, and path
// resolution for the guardian tools.
//
// It uses gopher-lua for safe, sandboxed Lua execution with platform
// detection integration. The configuration enumerates every redundancy
// tier explicitly; nothing in the toolchain discovers backup locations by
// scanning the filesystem.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the complete guardian configuration.
type Config struct {
	// Artifact describes the protected executable.
	Artifact Artifact `json:"artifact"`

	// Tiers enumerates the redundancy backends in trust order.
	Tiers Tiers `json:"tiers"`

	// Ledger configures drift detection over the surrounding files.
	Ledger Ledger `json:"ledger,omitempty"`

	// Build configures the guardian build pipeline.
	Build Build `json:"build,omitempty"`
}

// Artifact identifies the protected executable.
type Artifact struct {
	// Name is the logical artifact name, used for file names inside
	// the container and the remote escrow resource.
	Name string `json:"name"`

	// Primary is the executable path every login shell invokes.
	Primary string `json:"primary"`

	// Source is the guardian source file the build pipeline compiles.
	Source string `json:"source,omitempty"`
}

// Tiers enumerates the redundancy backends. LocalBackup and Hardlinks are
// required; Container and Remote are optional and simply absent from the
// recovery walk when unconfigured.
type Tiers struct {
	LocalBackup string    `json:"local_backup"`
	Hardlinks   []string  `json:"hardlinks"`
	Container   Container `json:"container,omitempty"`
	Remote      Remote    `json:"remote,omitempty"`
}

// Container configures the encrypted container tier.
type Container struct {
	Vault    string `json:"vault,omitempty"`
	Identity string `json:"identity,omitempty"`
	Mount    string `json:"mount,omitempty"`
}

// Enabled reports whether the container tier is configured.
func (c Container) Enabled() bool {
	return c.Vault != "" && c.Identity != "" && c.Mount != ""
}

// Remote configures the remote escrow tier.
type Remote struct {
	// BaseURL is the gist-compatible API root. Empty means the default
	// public endpoint.
	BaseURL string `json:"base_url,omitempty"`

	// Keyring optionally points at trusted escrow signing keys; when
	// set, restores additionally require a valid detached signature.
	Keyring string `json:"keyring,omitempty"`

	// Enabled turns the tier on. The access token always comes from
	// the environment, never from this file.
	Enabled bool `json:"enabled,omitempty"`
}

// Ledger configures the checksum ledger and drift detector.
type Ledger struct {
	// Files are the guarded paths beyond the binary itself: the
	// installer, the shell-hook integration file, the drift detector's
	// own script.
	Files []string `json:"files,omitempty"`

	// Repo is the git repository that holds authoritative copies of
	// the guarded files for drift repair.
	Repo string `json:"repo,omitempty"`
}

// Build configures how the guardian source is compiled.
type Build struct {
	// Compiler is the compiler executable, e.g. "rustc".
	Compiler string `json:"compiler,omitempty"`

	// Args are extra compiler arguments, e.g. {"-O"}.
	Args []string `json:"args,omitempty"`
}

// Validate checks the parsed configuration and expands ~ in every path.
// It rejects relative paths and path traversal so a malicious config
// cannot point tiers outside the operator's intent.
func (c *Config) Validate() error {
	if c.Artifact.Name == "" {
		return &ValidationError{Field: "artifact.name", Reason: "required"}
	}
	if strings.ContainsAny(c.Artifact.Name, "/\\") {
		return &ValidationError{Field: "artifact.name", Reason: "must be a bare name, not a path"}
	}

	pathFields := []struct {
		name     string
		value    *string
		required bool
	}{
		{"artifact.primary", &c.Artifact.Primary, true},
		{"artifact.source", &c.Artifact.Source, false},
		{"tiers.local_backup", &c.Tiers.LocalBackup, true},
		{"tiers.container.vault", &c.Tiers.Container.Vault, false},
		{"tiers.container.identity", &c.Tiers.Container.Identity, false},
		{"tiers.container.mount", &c.Tiers.Container.Mount, false},
		{"tiers.remote.keyring", &c.Tiers.Remote.Keyring, false},
		{"ledger.repo", &c.Ledger.Repo, false},
	}

	for _, f := range pathFields {
		if *f.value == "" {
			if f.required {
				return &ValidationError{Field: f.name, Reason: "required"}
			}
			continue
		}
		expanded, err := expandPath(*f.value)
		if err != nil {
			return &ValidationError{Field: f.name, Reason: err.Error()}
		}
		*f.value = expanded
	}

	if len(c.Tiers.Hardlinks) == 0 {
		return &ValidationError{Field: "tiers.hardlinks", Reason: "at least one constellation path is required"}
	}
	for i, p := range c.Tiers.Hardlinks {
		expanded, err := expandPath(p)
		if err != nil {
			return &ValidationError{Field: fmt.Sprintf("tiers.hardlinks[%d]", i), Reason: err.Error()}
		}
		c.Tiers.Hardlinks[i] = expanded
	}

	for i, p := range c.Ledger.Files {
		expanded, err := expandPath(p)
		if err != nil {
			return &ValidationError{Field: fmt.Sprintf("ledger.files[%d]", i), Reason: err.Error()}
		}
		c.Ledger.Files[i] = expanded
	}

	return nil
}

// ValidationError describes a rejected configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config field %s: %s", e.Field, e.Reason)
}

// expandPath expands a leading ~ and requires the result to be an
// absolute, traversal-free path.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be absolute")
	}
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return "", fmt.Errorf("path must not contain traversal")
		}
	}

	return filepath.Clean(path), nil
}
