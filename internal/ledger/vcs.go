package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// VCS restore errors.
var (
	ErrNotARepo  = errors.New("not a git repository")
	ErrUntracked = errors.New("file is not tracked in version control")
)

// Restorer recovers authoritative file content from version-control
// history.
type Restorer interface {
	// Restore returns the committed content of the file at absPath,
	// as of HEAD. ErrUntracked means history holds no copy.
	Restore(ctx context.Context, absPath string) ([]byte, error)
}

// GitRestorer implements Restorer over a local git repository using
// go-git; no git executable is required.
type GitRestorer struct {
	root string
}

// NewGitRestorer creates a restorer for the repository rooted at root.
func NewGitRestorer(root string) *GitRestorer {
	return &GitRestorer{root: root}
}

// Restore reads the HEAD copy of absPath from the repository.
func (g *GitRestorer) Restore(ctx context.Context, absPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	rel, err := filepath.Rel(g.root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%w: %s is outside %s", ErrUntracked, absPath, g.root)
	}
	rel = filepath.ToSlash(rel)

	repo, err := gogit.PlainOpen(g.root)
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotARepo, g.root)
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}

	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("get HEAD: %w", err)
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read HEAD commit: %w", err)
	}

	file, err := commit.File(rel)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUntracked, rel)
		}
		return nil, fmt.Errorf("read %s from history: %w", rel, err)
	}

	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("read blob for %s: %w", rel, err)
	}
	return []byte(content), nil
}
