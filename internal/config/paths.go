package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/guardianshell/guardian/internal/platform"
)

// Dir returns the guardian state directory. GUARDIAN_DIR overrides the
// default of ~/.config/guardian, which keeps tests and alternate setups
// isolated.
func Dir() (string, error) {
	if dir := os.Getenv("GUARDIAN_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "guardian"), nil
}

// Well-known file names inside the guardian directory.
const (
	ConfigFileName        = "guardian.lua"
	LedgerFileName        = "ledger.json"
	EscrowStateFileName   = "remote.json"
	HardlinkStateFileName = "hardlinks.json"
)

// Paths bundles the resolved state file locations.
type Paths struct {
	Dir           string
	ConfigFile    string
	LedgerFile    string
	EscrowState   string
	HardlinkState string
}

// ResolvePaths computes the state file locations under the guardian
// directory.
func ResolvePaths() (Paths, error) {
	dir, err := Dir()
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		Dir:           dir,
		ConfigFile:    filepath.Join(dir, ConfigFileName),
		LedgerFile:    filepath.Join(dir, LedgerFileName),
		EscrowState:   filepath.Join(dir, EscrowStateFileName),
		HardlinkState: filepath.Join(dir, HardlinkStateFileName),
	}, nil
}

// Load resolves the guardian directory and parses the configuration
// inside it. This is the entry point the CLIs use.
func Load(ctx context.Context) (*Config, Paths, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, Paths{}, err
	}

	if _, err := os.Stat(paths.ConfigFile); err != nil {
		if os.IsNotExist(err) {
			return nil, paths, fmt.Errorf(
				"guardian is not configured\nCreate %s first (see `guardian-security status` for a starter config)",
				paths.ConfigFile)
		}
		return nil, paths, fmt.Errorf("check config: %w", err)
	}

	parser := NewParser(platform.NewDetector())
	cfg, err := parser.ParseFile(ctx, paths.ConfigFile)
	if err != nil {
		return nil, paths, err
	}
	return cfg, paths, nil
}
