// Package ledger maintains the persisted table of expected digests for
// the guardian binary and its surrounding files, and detects drift
// against it.
//
// The ledger file is owner-only and is always rewritten in full through
// an atomic rename; entries are never patched in place, so a crashed
// writer can never leave a half-updated table behind. A ledger that
// fails to parse is the one condition treated as fatal: it means the
// trust root itself is damaged and no automated repair is safe.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/guardianshell/guardian/internal/fsutil"
)

// Entry records the expected digest for one guarded file.
type Entry struct {
	FilePath       string    `json:"file_path"`
	RecordedDigest string    `json:"recorded_digest"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Ledger is the persisted digest table.
type Ledger struct {
	path    string
	entries map[string]Entry
}

// CorruptError marks a ledger file that exists but cannot be parsed.
// Callers abort on it rather than repairing: a damaged trust root must
// be rebuilt deliberately by the operator.
type CorruptError struct {
	Path   string
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("ledger file %s is corrupt: %s", e.Path, e.Reason)
}

// Load reads the ledger at path. A missing file yields an empty ledger
// (first run); a malformed file yields CorruptError.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &CorruptError{Path: path, Reason: err.Error()}
	}
	for _, e := range entries {
		if e.FilePath == "" || e.RecordedDigest == "" {
			return nil, &CorruptError{Path: path, Reason: "entry missing file_path or recorded_digest"}
		}
		l.entries[e.FilePath] = e
	}

	return l, nil
}

// Lookup returns the entry for path, if recorded.
func (l *Ledger) Lookup(path string) (Entry, bool) {
	e, ok := l.entries[path]
	return e, ok
}

// Record sets the expected digest for path. The change is not durable
// until Save.
func (l *Ledger) Record(path, digest string) {
	l.entries[path] = Entry{
		FilePath:       path,
		RecordedDigest: digest,
		RecordedAt:     time.Now().UTC(),
	}
}

// Entries returns all entries ordered by file path.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Save rewrites the ledger file in full, atomically, owner-only.
func (l *Ledger) Save() error {
	data, err := json.MarshalIndent(l.Entries(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := fsutil.AtomicWrite(l.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}
