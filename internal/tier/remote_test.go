package tier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/guardianshell/guardian/internal/integrity"
)

// fakeGistServer is an in-memory gist-compatible endpoint.
type fakeGistServer struct {
	gists map[string]map[string]gistFile
	next  int
}

func newFakeGistServer() *fakeGistServer {
	return &fakeGistServer{gists: make(map[string]map[string]gistFile)}
}

func (s *fakeGistServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gists", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req gistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		s.next++
		id := fmt.Sprintf("gist-%d", s.next)
		s.gists[id] = req.Files
		json.NewEncoder(w).Encode(gistResponse{ID: id, Files: req.Files})
	})
	mux.HandleFunc("/gists/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/gists/")
		files, ok := s.gists[id]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(gistResponse{ID: id, Files: files})
		case http.MethodPatch:
			var req gistRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			for name, file := range req.Files {
				files[name] = file
			}
			json.NewEncoder(w).Encode(gistResponse{ID: id, Files: files})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func newTestEscrow(t *testing.T, baseURL string) *Escrow {
	t.Helper()

	statePath := filepath.Join(t.TempDir(), "remote.json")
	state, err := LoadEscrowState(statePath)
	if err != nil {
		t.Fatalf("load escrow state: %v", err)
	}
	return NewEscrow(baseURL, statePath, "shell-guardian", state)
}

func TestEscrowRoundTrip(t *testing.T) {
	server := httptest.NewServer(newFakeGistServer().handler())
	defer server.Close()

	ctx := context.Background()
	content := []byte("guardian binary payload")
	escrow := newTestEscrow(t, server.URL)

	if err := escrow.Write(ctx, content); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	state := escrow.State()
	if state.RemoteID == "" {
		t.Fatal("Write() did not record a remote identifier")
	}
	if state.RecordedDigest != integrity.DigestBytes(content) {
		t.Errorf("recorded digest = %s, want digest of payload", state.RecordedDigest)
	}
	if state.LastUpdateEpoch == 0 {
		t.Error("Write() did not record the update epoch")
	}

	got, err := escrow.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Read() = %q, want %q", got, content)
	}

	result, err := escrow.Verify(ctx, integrity.DigestBytes(content))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.State != integrity.Verified {
		t.Errorf("Verify() state = %v, want Verified", result.State)
	}
}

func TestEscrowWriteIsFullReplace(t *testing.T) {
	server := httptest.NewServer(newFakeGistServer().handler())
	defer server.Close()

	ctx := context.Background()
	escrow := newTestEscrow(t, server.URL)

	if err := escrow.Write(ctx, []byte("first revision")); err != nil {
		t.Fatalf("first Write() error = %v", err)
	}
	firstID := escrow.State().RemoteID

	updated := []byte("second revision, entirely replacing the first")
	if err := escrow.Write(ctx, updated); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}

	if escrow.State().RemoteID != firstID {
		t.Error("update must replace content under the same remote identifier")
	}

	got, err := escrow.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, updated) {
		t.Errorf("Read() = %q, want %q", got, updated)
	}
}

func TestEscrowReadRejectsUntrustedContent(t *testing.T) {
	fake := newFakeGistServer()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	ctx := context.Background()
	escrow := newTestEscrow(t, server.URL)

	if err := escrow.Write(ctx, []byte("trusted content")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Tamper with the remote blob behind the tier's back.
	id := escrow.State().RemoteID
	fake.gists[id]["shell-guardian.b64"] = gistFile{
		Content: "bWFsaWNpb3VzIHJlcGxhY2VtZW50", // "malicious replacement"
	}

	data, err := escrow.Read(ctx)
	if data != nil {
		t.Error("Read() returned bytes for untrusted content")
	}
	var untrusted *UntrustedError
	if !errors.As(err, &untrusted) {
		t.Fatalf("Read() error = %v, want UntrustedError", err)
	}
	if untrusted.ActualDigest == "" {
		t.Error("UntrustedError must carry the actual digest")
	}
}

func TestEscrowVerifyMismatchIsUntrusted(t *testing.T) {
	server := httptest.NewServer(newFakeGistServer().handler())
	defer server.Close()

	ctx := context.Background()
	escrow := newTestEscrow(t, server.URL)

	if err := escrow.Write(ctx, []byte("remote content")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_, err := escrow.Verify(ctx, integrity.DigestBytes([]byte("different expectation")))
	var untrusted *UntrustedError
	if !errors.As(err, &untrusted) {
		t.Fatalf("Verify() error = %v, want UntrustedError", err)
	}
	if untrusted.ActualDigest != integrity.DigestBytes([]byte("remote content")) {
		t.Errorf("ActualDigest = %s, want the digest of the fetched content", untrusted.ActualDigest)
	}
}

func TestEscrowTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx := context.Background()
	escrow := newTestEscrow(t, server.URL)
	escrow.state.RemoteID = "gist-1"

	if _, err := escrow.Read(ctx); !errors.Is(err, ErrTransportFailure) {
		t.Errorf("Read() error = %v, want ErrTransportFailure", err)
	}
}

func TestEscrowUninitializedIsNotReady(t *testing.T) {
	escrow := newTestEscrow(t, "http://127.0.0.1:0")

	if _, err := escrow.Read(context.Background()); !errors.Is(err, ErrStorageNotReady) {
		t.Errorf("Read() error = %v, want ErrStorageNotReady", err)
	}
}

func TestEscrowKeyringRequiresSignature(t *testing.T) {
	server := httptest.NewServer(newFakeGistServer().handler())
	defer server.Close()

	ctx := context.Background()
	content := []byte("signed content")

	statePath := filepath.Join(t.TempDir(), "remote.json")
	state, err := LoadEscrowState(statePath)
	if err != nil {
		t.Fatalf("load escrow state: %v", err)
	}

	writer := NewEscrow(server.URL, statePath, "shell-guardian", state)
	if err := writer.Write(ctx, content); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	entity, err := openpgp.NewEntity("escrow-test", "", "escrow@test.invalid", nil)
	if err != nil {
		t.Fatalf("generate test entity: %v", err)
	}

	// A reader that requires signatures must refuse an unsigned blob
	// even though the digest matches.
	reader := NewEscrow(server.URL, statePath, "shell-guardian", state,
		WithEscrowKeyring(openpgp.EntityList{entity}))

	data, err := reader.Read(ctx)
	if data != nil {
		t.Error("Read() returned bytes for an unsigned blob despite a configured keyring")
	}
	if !IsUntrusted(err) {
		t.Errorf("Read() error = %v, want UntrustedError", err)
	}
}
