// Package platform detects the host OS, architecture, and Linux
// distribution, and injects the result as a read-only table into guardian
// Lua configurations so tier paths can vary per machine.
package platform

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// Info contains platform detection information.
type Info struct {
	OS       string // "linux", "darwin"
	Arch     string // "amd64", "arm64" (normalized)
	Platform string // distro ID (Linux only, e.g. "ubuntu", "arch")
	Version  string // distro version (Linux only)
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool { return i.OS == "linux" }

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool { return i.OS == "darwin" }

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// RealDetector implements Detector using actual platform detection.
type RealDetector struct{}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect returns the host platform. OS and architecture come from the
// runtime; on Linux, gopsutil supplies distribution details with a
// graceful fallback when detection fails.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	arch, err := normalizeArch(runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}

	info := &Info{OS: runtime.GOOS, Arch: arch}

	if runtime.GOOS == "linux" {
		platform, _, version, err := host.PlatformInformationWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
			}
			// Distro detection failing is not fatal; configs that
			// only branch on OS/arch still work.
			return info, nil
		}
		info.Platform = strings.ToLower(strings.TrimSpace(platform))
		info.Version = strings.ToLower(strings.TrimSpace(version))
	}

	return info, nil
}

// normalizeArch converts GOARCH values to normalized architecture names.
func normalizeArch(arch string) (string, error) {
	switch arch {
	case "amd64", "x86_64":
		return "amd64", nil
	case "arm64", "aarch64":
		return "arm64", nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s", arch)
	}
}
