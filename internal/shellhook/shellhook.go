// Package shellhook manages the login-shell integration line that
// routes every interactive shell through the guardian binary.
//
// The hook lives in the user's rc file between two marker comments, so
// install and remove are both idempotent and never disturb surrounding
// content. The rc file is always rewritten through a temp file and an
// atomic rename.
package shellhook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ShellType represents a supported shell
type ShellType string

const (
	ShellBash    ShellType = "bash"
	ShellZsh     ShellType = "zsh"
	ShellFish    ShellType = "fish"
	ShellUnknown ShellType = "unknown"
)

// String returns the string representation of the shell type
func (s ShellType) String() string {
	return string(s)
}

// IsValid returns true if the shell type is supported
func (s ShellType) IsValid() bool {
	switch s {
	case ShellBash, ShellZsh, ShellFish:
		return true
	default:
		return false
	}
}

// Markers delimiting the guardian section in an rc file.
const (
	BeginMarker = "# >>> guardian shell hook >>>"
	EndMarker   = "# <<< guardian shell hook <<<"
)

// UnsupportedShellError indicates a shell the hook cannot integrate with.
type UnsupportedShellError struct {
	Shell string
}

func (e *UnsupportedShellError) Error() string {
	return fmt.Sprintf("unsupported shell %q (supported: bash, zsh, fish)", e.Shell)
}

// RCFileError wraps a failure touching a shell rc file.
type RCFileError struct {
	Path    string
	Message string
	Cause   error
}

func (e *RCFileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *RCFileError) Unwrap() error { return e.Cause }

// DetectShell detects the user's shell from $SHELL.
func DetectShell() ShellType {
	if shell := os.Getenv("SHELL"); shell != "" {
		if t := parseShellFromPath(shell); t.IsValid() {
			return t
		}
	}
	return ShellUnknown
}

// parseShellFromPath extracts the shell type from a shell binary path
// Examples:
//   - /bin/bash -> bash
//   - /usr/bin/zsh -> zsh
//   - /usr/local/bin/fish -> fish
func parseShellFromPath(shellPath string) ShellType {
	switch strings.ToLower(filepath.Base(shellPath)) {
	case "bash":
		return ShellBash
	case "zsh":
		return ShellZsh
	case "fish":
		return ShellFish
	default:
		return ShellUnknown
	}
}

// RCFilePath returns the path to the shell's rc file.
func RCFilePath(shell ShellType) (string, error) {
	if !shell.IsValid() {
		return "", &UnsupportedShellError{Shell: shell.String()}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}

	switch shell {
	case ShellBash:
		return filepath.Join(homeDir, ".bashrc"), nil
	case ShellZsh:
		return filepath.Join(homeDir, ".zshrc"), nil
	default:
		return filepath.Join(homeDir, ".config", "fish", "config.fish"), nil
	}
}

// SupportedShells returns the shells the hook can integrate with.
func SupportedShells() []ShellType {
	return []ShellType{ShellBash, ShellZsh, ShellFish}
}
