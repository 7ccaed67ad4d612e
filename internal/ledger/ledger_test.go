package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")

	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for missing file", l.Len())
	}
}

func TestLoad_CorruptJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() error = nil, want CorruptError")
	}
	var corrupt *CorruptError
	if !errors.As(err, &corrupt) {
		t.Errorf("Load() error = %v, want *CorruptError", err)
	}
}

func TestLoad_EntryMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	malformed := `[{"file_path": "", "recorded_digest": "abc", "recorded_at": "2026-01-01T00:00:00Z"}]`
	if err := os.WriteFile(path, []byte(malformed), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	var corrupt *CorruptError
	if !errors.As(err, &corrupt) {
		t.Errorf("Load() error = %v, want *CorruptError for empty file_path", err)
	}
}

func TestLedger_RecordSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")

	l, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Record("/opt/guardian/bin", "aaaa")
	l.Record("/opt/guardian/hook.sh", "bbbb")
	if err := l.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("ledger file mode = %o, want 600", perm)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after Save() error = %v", err)
	}
	entry, ok := reloaded.Lookup("/opt/guardian/bin")
	if !ok {
		t.Fatal("Lookup() after reload did not find recorded entry")
	}
	if entry.RecordedDigest != "aaaa" {
		t.Errorf("RecordedDigest = %q, want %q", entry.RecordedDigest, "aaaa")
	}
	if entry.RecordedAt.IsZero() {
		t.Error("RecordedAt is zero, want timestamp set by Record()")
	}
}

func TestLedger_RecordOverwrites(t *testing.T) {
	l := &Ledger{path: filepath.Join(t.TempDir(), "ledger.json"), entries: map[string]Entry{}}

	l.Record("/opt/guardian/bin", "old")
	l.Record("/opt/guardian/bin", "new")

	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	entry, _ := l.Lookup("/opt/guardian/bin")
	if entry.RecordedDigest != "new" {
		t.Errorf("RecordedDigest = %q, want %q", entry.RecordedDigest, "new")
	}
}

func TestLedger_EntriesSorted(t *testing.T) {
	l := &Ledger{path: "", entries: map[string]Entry{}}
	l.Record("/z", "1")
	l.Record("/a", "2")
	l.Record("/m", "3")

	entries := l.Entries()
	want := []string{"/a", "/m", "/z"}
	for i, path := range want {
		if entries[i].FilePath != path {
			t.Errorf("Entries()[%d].FilePath = %q, want %q", i, entries[i].FilePath, path)
		}
	}
}
