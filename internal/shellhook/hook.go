package shellhook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GUARDIAN_ACTIVE prevents the hook from re-wrapping a shell the
// guardian already launched.
const envGuardianActive = "GUARDIAN_ACTIVE"

// Manager installs and removes the guardian hook in rc files.
type Manager struct {
	binaryPath string
}

// NewManager creates a hook manager for the guardian binary at
// binaryPath.
func NewManager(binaryPath string) (*Manager, error) {
	if binaryPath == "" {
		return nil, fmt.Errorf("binary path is required")
	}
	return &Manager{binaryPath: binaryPath}, nil
}

// InstallResult describes a hook install.
type InstallResult struct {
	Shell          ShellType
	RCFile         string
	Added          bool
	AlreadyPresent bool
	BackupPath     string
}

// HookSection returns the rc file lines for the given shell, markers
// included.
func (m *Manager) HookSection(shell ShellType) (string, error) {
	if !shell.IsValid() {
		return "", &UnsupportedShellError{Shell: shell.String()}
	}

	var body string
	if shell == ShellFish {
		body = fmt.Sprintf(
			`if status is-interactive; and test -z "$%s"; and test -x %q
    set -x %s 1
    exec %s %s -l
end`,
			envGuardianActive, m.binaryPath, envGuardianActive, m.binaryPath, shell)
	} else {
		body = fmt.Sprintf(
			`if [ -z "$%s" ] && [ -x %q ]; then
    export %s=1
    exec %s %s -l
fi`,
			envGuardianActive, m.binaryPath, envGuardianActive, m.binaryPath, shell)
	}

	return BeginMarker + "\n" + body + "\n" + EndMarker + "\n", nil
}

// Installed reports whether the rc file already carries the hook.
func Installed(rcPath string) (bool, error) {
	file, err := os.Open(rcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &RCFileError{Path: rcPath, Message: "failed to open file", Cause: err}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == BeginMarker {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, &RCFileError{Path: rcPath, Message: "failed to read file", Cause: err}
	}
	return false, nil
}

// Install appends the guardian hook section to the shell's rc file,
// creating the file when absent. Installing over an existing hook is a
// no-op. A backup copy of the rc file is written first when backup is
// set.
func (m *Manager) Install(shell ShellType, rcPath string, backup bool) (*InstallResult, error) {
	if !shell.IsValid() {
		return nil, &UnsupportedShellError{Shell: shell.String()}
	}

	present, err := Installed(rcPath)
	if err != nil {
		return nil, err
	}
	if present {
		return &InstallResult{Shell: shell, RCFile: rcPath, AlreadyPresent: true}, nil
	}

	var existing []byte
	if content, err := os.ReadFile(rcPath); err == nil {
		existing = content
	} else if !os.IsNotExist(err) {
		return nil, &RCFileError{Path: rcPath, Message: "failed to read file", Cause: err}
	}

	var backupPath string
	if backup && len(existing) > 0 {
		backupPath = rcPath + ".guardian-backup"
		if err := os.WriteFile(backupPath, existing, 0o644); err != nil {
			return nil, &RCFileError{Path: backupPath, Message: "failed to write backup file", Cause: err}
		}
	}

	section, err := m.HookSection(shell)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.Write(existing)
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		sb.WriteString("\n")
	}
	if len(existing) > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(section)

	if err := writeRCFile(rcPath, []byte(sb.String())); err != nil {
		return nil, err
	}

	return &InstallResult{Shell: shell, RCFile: rcPath, Added: true, BackupPath: backupPath}, nil
}

// Remove strips the guardian hook section from the rc file. Removing
// from a file without the hook, or a missing file, is a no-op.
func (m *Manager) Remove(rcPath string) (bool, error) {
	content, err := os.ReadFile(rcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &RCFileError{Path: rcPath, Message: "failed to read file", Cause: err}
	}

	lines := strings.Split(string(content), "\n")
	kept := make([]string, 0, len(lines))
	inSection := false
	removed := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == BeginMarker:
			inSection = true
			removed = true
		case trimmed == EndMarker:
			inSection = false
		case !inSection:
			kept = append(kept, line)
		}
	}

	if !removed {
		return false, nil
	}

	// Drop the blank line Install added before the section.
	for len(kept) > 1 && kept[len(kept)-1] == "" && kept[len(kept)-2] == "" {
		kept = kept[:len(kept)-1]
	}

	if err := writeRCFile(rcPath, []byte(strings.Join(kept, "\n"))); err != nil {
		return false, err
	}
	return true, nil
}

// writeRCFile rewrites the rc file atomically via a temp file in the
// same directory.
func writeRCFile(rcPath string, content []byte) error {
	dir := filepath.Dir(rcPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &RCFileError{Path: rcPath, Message: "failed to create parent directory", Cause: err}
	}

	tmpFile, err := os.CreateTemp(dir, ".guardian-tmp-*")
	if err != nil {
		return &RCFileError{Path: rcPath, Message: "failed to create temporary file", Cause: err}
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return &RCFileError{Path: rcPath, Message: "failed to write content", Cause: err}
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return &RCFileError{Path: rcPath, Message: "failed to sync file", Cause: err}
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, rcPath); err != nil {
		return &RCFileError{Path: rcPath, Message: "failed to rename temp file", Cause: err}
	}
	return nil
}
