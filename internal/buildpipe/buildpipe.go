// Package buildpipe compiles the guardian source with its own checksum
// and build timestamp stamped in, so a running binary can attest which
// source revision produced it.
//
// Digests are build-specific: the source checksum embedded in the
// binary changes with every source revision, and the produced binary's
// digest is recorded fresh in the ledger on every build, never reused.
package buildpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/guardianshell/guardian/internal/fsutil"
	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/ledger"
	"github.com/guardianshell/guardian/internal/logging"
)

// Substitution markers the guardian source carries verbatim.
const (
	ChecksumPlaceholder  = "CHECKSUM_PLACEHOLDER"
	TimestampPlaceholder = "TIMESTAMP_PLACEHOLDER"
)

// buildTimeout bounds the compiler invocation.
const buildTimeout = 5 * time.Minute

// ErrNoPlaceholder marks a source file without the expected markers;
// building it would produce a binary that cannot attest its source.
var ErrNoPlaceholder = errors.New("source carries no checksum placeholder")

// CompileError carries the compiler's captured output alongside the
// exec failure.
type CompileError struct {
	Compiler string
	Output   string
	wrapped  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Compiler, e.wrapped)
}

func (e *CompileError) Unwrap() error { return e.wrapped }

// Result describes one completed build.
type Result struct {
	SourceDigest string
	BinaryDigest string
	BinarySize   int64
	Timestamp    time.Time
	OutputPath   string
}

// Pipeline stages, stamps, and compiles the guardian source.
type Pipeline struct {
	sourcePath string
	outputPath string
	compiler   string
	args       []string
	ledger     *ledger.Ledger
	logger     logging.Logger
}

// New creates a build pipeline. ledger may be nil; the build result is
// then not recorded. args are passed to the compiler before the staged
// source path and "-o <output>".
func New(sourcePath, outputPath, compiler string, args []string, l *ledger.Ledger, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pipeline{
		sourcePath: sourcePath,
		outputPath: outputPath,
		compiler:   compiler,
		args:       args,
		ledger:     l,
		logger:     logger,
	}
}

// Build reads the guardian source, substitutes the source checksum and
// a nanosecond build timestamp into a staged copy, compiles that copy,
// and records the produced binary's digest in the ledger.
func (p *Pipeline) Build(ctx context.Context) (*Result, error) {
	source, err := os.ReadFile(p.sourcePath)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if !bytes.Contains(source, []byte(ChecksumPlaceholder)) {
		return nil, fmt.Errorf("%w: %s", ErrNoPlaceholder, p.sourcePath)
	}

	sourceDigest := integrity.DigestBytes(source)
	timestamp := time.Now().UTC()

	staged := bytes.ReplaceAll(source, []byte(ChecksumPlaceholder), []byte(sourceDigest))
	staged = bytes.ReplaceAll(staged, []byte(TimestampPlaceholder), []byte(strconv.FormatInt(timestamp.UnixNano(), 10)))

	stageDir, err := os.MkdirTemp("", "guardian-build-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stageDir)

	stagedPath := filepath.Join(stageDir, filepath.Base(p.sourcePath))
	if err := os.WriteFile(stagedPath, staged, 0o600); err != nil {
		return nil, fmt.Errorf("stage source: %w", err)
	}

	stagedOutput := filepath.Join(stageDir, "out.bin")
	if err := p.compile(ctx, stagedPath, stagedOutput); err != nil {
		return nil, err
	}

	binary, err := os.ReadFile(stagedOutput)
	if err != nil {
		return nil, fmt.Errorf("read compiled binary: %w", err)
	}
	if err := fsutil.AtomicWrite(p.outputPath, binary, 0o755); err != nil {
		return nil, fmt.Errorf("install binary: %w", err)
	}

	binaryDigest, size, err := integrity.Digest(p.outputPath)
	if err != nil {
		return nil, fmt.Errorf("digest binary: %w", err)
	}

	if p.ledger != nil {
		p.ledger.Record(p.outputPath, binaryDigest)
		if err := p.ledger.Save(); err != nil {
			return nil, err
		}
	}

	p.logger.Info("build complete",
		"source", p.sourcePath,
		"source_digest", sourceDigest,
		"binary", p.outputPath,
		"binary_digest", binaryDigest,
		"size", size)

	return &Result{
		SourceDigest: sourceDigest,
		BinaryDigest: binaryDigest,
		BinarySize:   size,
		Timestamp:    timestamp,
		OutputPath:   p.outputPath,
	}, nil
}

// compile invokes the configured compiler on the staged source with a
// scrubbed environment and captured output.
func (p *Pipeline) compile(ctx context.Context, stagedPath, output string) error {
	ctx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()

	args := append(append([]string{}, p.args...), stagedPath, "-o", output)
	cmd := exec.CommandContext(ctx, p.compiler, args...)
	cmd.Env = []string{
		"HOME=" + os.Getenv("HOME"),
		"PATH=" + os.Getenv("PATH"),
		"USER=" + os.Getenv("USER"),
		"LANG=" + os.Getenv("LANG"),
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		p.logger.Error("compiler failed", "compiler", p.compiler, "output", strings.TrimSpace(string(out)))
		return &CompileError{Compiler: p.compiler, Output: string(out), wrapped: err}
	}
	return nil
}
