package fsutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestAtomicWrite(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "dir", "artifact.bin")
	content := []byte("artifact bytes")

	if err := AtomicWrite(path, content, 0o600); err != nil {
		t.Fatalf("AtomicWrite() error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content = %q, want %q", got, content)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}
}

func TestAtomicWriteReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")

	if err := AtomicWrite(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := AtomicWrite(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q, want %q", got, "second")
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "artifact.bin")

	if err := AtomicWrite(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("AtomicWrite() error = %v", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the final file", len(entries))
	}
}

func TestAtomicWriteConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	content := []byte("identical content from every writer")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := AtomicWrite(path, content, 0o644); err != nil {
				t.Errorf("concurrent AtomicWrite() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content corrupted under concurrency: %q", got)
	}
}

func TestCopyAtomic(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src.bin")
	dst := filepath.Join(tmpDir, "dst.bin")

	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	if err := CopyAtomic(src, dst, 0o755); err != nil {
		t.Fatalf("CopyAtomic() error = %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("content = %q, want %q", got, "payload")
	}
}

func TestCopyAtomicMissingSource(t *testing.T) {
	tmpDir := t.TempDir()
	err := CopyAtomic(filepath.Join(tmpDir, "absent"), filepath.Join(tmpDir, "dst"), 0o644)
	if err == nil {
		t.Fatal("CopyAtomic() with missing source should fail")
	}
}
