package tier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/guardianshell/guardian/internal/integrity"
)

const (
	// escrowTimeout bounds every remote call so a degraded network can
	// never hang shell startup.
	escrowTimeout = 10 * time.Second

	// escrowRetries is the number of additional attempts after the
	// first failure.
	escrowRetries = 2

	escrowUserAgent = "guardian-remote-backup/1.0"

	// DefaultEscrowBaseURL is the gist-compatible API endpoint.
	DefaultEscrowBaseURL = "https://api.github.com"
)

// Escrow stores the artifact off-host as a base64 text blob under a
// private remote identifier. Writes are always a full-content replace;
// reads decode and digest-verify before returning anything, and report
// Untrusted instead of handing back mismatching bytes.
type Escrow struct {
	baseURL   string
	statePath string
	state     *EscrowState
	fileBase  string // remote file name stem, e.g. "shell-guardian"
	client    *http.Client
	token     string
	keyring   openpgp.EntityList // optional: require a valid signature on read
	signature string             // optional: armored detached signature to publish
}

// EscrowOption configures optional escrow behavior.
type EscrowOption func(*Escrow)

// WithEscrowKeyring makes Read and Verify require a valid armored
// detached signature from the given keyring in addition to the digest
// check.
func WithEscrowKeyring(keyring openpgp.EntityList) EscrowOption {
	return func(e *Escrow) { e.keyring = keyring }
}

// WithEscrowSignature attaches an operator-produced armored detached
// signature to the next Write. Signatures are created outside this tool
// (gpg --detach-sign --armor); the tier only publishes and verifies them.
func WithEscrowSignature(signature string) EscrowOption {
	return func(e *Escrow) { e.signature = signature }
}

// WithEscrowHTTPClient replaces the HTTP client (used by tests).
func WithEscrowHTTPClient(client *http.Client) EscrowOption {
	return func(e *Escrow) { e.client = client }
}

// NewEscrow creates the remote escrow tier. baseURL is the API root
// (DefaultEscrowBaseURL in production, an httptest server in tests),
// statePath the owner-only state file, fileBase the remote file name
// stem. The access token comes from GUARDIAN_REMOTE_TOKEN, falling back
// to GITHUB_TOKEN.
func NewEscrow(baseURL, statePath, fileBase string, state *EscrowState, opts ...EscrowOption) *Escrow {
	e := &Escrow{
		baseURL:   strings.TrimRight(baseURL, "/"),
		statePath: statePath,
		state:     state,
		fileBase:  fileBase,
		client:    &http.Client{Timeout: escrowTimeout},
		token:     escrowToken(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func escrowToken() string {
	if token := os.Getenv("GUARDIAN_REMOTE_TOKEN"); token != "" {
		return token
	}
	return os.Getenv("GITHUB_TOKEN")
}

// Name implements Tier.
func (e *Escrow) Name() string { return "remote-escrow" }

// Kind implements Tier.
func (e *Escrow) Kind() Kind { return RemoteEscrow }

// State returns the current escrow record.
func (e *Escrow) State() *EscrowState { return e.state }

// Write replaces the remote blob with a full base64 payload (no
// incremental diff) and rewrites the escrow state. The first Write
// creates the remote resource and records its identifier.
func (e *Escrow) Write(ctx context.Context, data []byte) error {
	digest := integrity.DigestBytes(data)

	files := map[string]gistFile{
		e.fileBase + ".b64":    {Content: base64.StdEncoding.EncodeToString(data)},
		e.fileBase + ".sha256": {Content: digest + "\n"},
	}

	if e.signature != "" {
		files[e.fileBase+".sig"] = gistFile{Content: e.signature}
	}

	body, err := json.Marshal(gistRequest{
		Description: "guardian escrow blob",
		Public:      false,
		Files:       files,
	})
	if err != nil {
		return fmt.Errorf("escrow: marshal request: %w", err)
	}

	method := http.MethodPost
	url := e.baseURL + "/gists"
	if e.state.RemoteID != "" {
		method = http.MethodPatch
		url = e.baseURL + "/gists/" + e.state.RemoteID
	}

	respBody, err := e.do(ctx, method, url, body)
	if err != nil {
		return err
	}

	var resp gistResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrTransportFailure, err)
	}
	if resp.ID == "" {
		return fmt.Errorf("%w: response carries no identifier", ErrTransportFailure)
	}

	e.state.RemoteID = resp.ID
	e.state.RecordedDigest = digest
	e.state.LastUpdateEpoch = time.Now().Unix()
	if err := e.state.Save(e.statePath); err != nil {
		return fmt.Errorf("escrow: %w", err)
	}
	return nil
}

// Read fetches the remote blob, decodes it, and verifies it against the
// recorded digest (and signature, when a keyring is configured) before
// returning any bytes. A mismatch yields UntrustedError and no content.
func (e *Escrow) Read(ctx context.Context) ([]byte, error) {
	data, err := e.fetch(ctx)
	if err != nil {
		return nil, err
	}

	result := integrity.VerifyBytes(data.payload, e.state.RecordedDigest)
	if result.State != integrity.Verified {
		return nil, &UntrustedError{ActualDigest: result.ActualDigest}
	}

	if len(e.keyring) > 0 {
		if err := e.checkSignature(data.payload, data.signature); err != nil {
			return nil, &UntrustedError{ActualDigest: result.ActualDigest}
		}
	}

	return data.payload, nil
}

// ReadUntrusted fetches and decodes the remote blob without checking it
// against the recorded escrow digest. Callers must verify the returned
// bytes themselves; recovery only reaches for this behind an explicit
// operator confirmation. A configured keyring is still enforced.
func (e *Escrow) ReadUntrusted(ctx context.Context) ([]byte, error) {
	data, err := e.fetch(ctx)
	if err != nil {
		return nil, err
	}

	if len(e.keyring) > 0 {
		if err := e.checkSignature(data.payload, data.signature); err != nil {
			return nil, &UntrustedError{ActualDigest: integrity.DigestBytes(data.payload)}
		}
	}

	return data.payload, nil
}

// Verify fetches the remote blob and compares it against the expected
// digest. Remote content is never auto-trusted: a mismatch, or a failed
// signature check, comes back as UntrustedError so the caller can ask
// the operator instead of installing it. Transport problems come back
// as ErrTransportFailure so the orchestrator can skip the tier instead
// of failing the run.
func (e *Escrow) Verify(ctx context.Context, expected string) (integrity.Result, error) {
	data, err := e.fetch(ctx)
	if err != nil {
		return integrity.Result{}, err
	}

	result := integrity.VerifyBytes(data.payload, expected)
	if result.State == integrity.Tampered {
		return integrity.Result{}, &UntrustedError{ActualDigest: result.ActualDigest}
	}
	if result.State == integrity.Verified && len(e.keyring) > 0 {
		if err := e.checkSignature(data.payload, data.signature); err != nil {
			return integrity.Result{}, &UntrustedError{ActualDigest: integrity.DigestBytes(data.payload)}
		}
	}
	return result, nil
}

type escrowPayload struct {
	payload   []byte
	signature string
}

// fetch downloads and decodes the remote blob.
func (e *Escrow) fetch(ctx context.Context) (*escrowPayload, error) {
	if e.state.RemoteID == "" {
		return nil, fmt.Errorf("escrow: %w: not initialized, run `guardian-remote-backup init` first", ErrStorageNotReady)
	}

	respBody, err := e.do(ctx, http.MethodGet, e.baseURL+"/gists/"+e.state.RemoteID, nil)
	if err != nil {
		return nil, err
	}

	var resp gistResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrTransportFailure, err)
	}

	blob, ok := resp.Files[e.fileBase+".b64"]
	if !ok {
		return nil, fmt.Errorf("%w: remote resource holds no %s.b64 entry", ErrTransportFailure, e.fileBase)
	}
	if blob.Truncated {
		return nil, fmt.Errorf("%w: remote payload truncated", ErrTransportFailure)
	}

	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob.Content))
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not valid base64: %v", ErrTransportFailure, err)
	}

	var signature string
	if sig, ok := resp.Files[e.fileBase+".sig"]; ok {
		signature = sig.Content
	}

	return &escrowPayload{payload: payload, signature: signature}, nil
}

// do performs one HTTP call with bounded retries and exponential backoff.
// Any persistent failure maps to ErrTransportFailure; the caller degrades
// to "tier unavailable" rather than hanging or aborting.
func (e *Escrow) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= escrowRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrTransportFailure, ctx.Err())
			}
		}

		respBody, err := e.doOnce(ctx, method, url, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrTransportFailure, lastErr)
}

func (e *Escrow) doOnce(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", escrowUserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return respBody, nil
}

// checkSignature verifies an armored detached signature against the
// configured keyring.
func (e *Escrow) checkSignature(data []byte, signature string) error {
	if signature == "" {
		return fmt.Errorf("keyring configured but remote payload carries no signature")
	}
	_, err := openpgp.CheckArmoredDetachedSignature(
		e.keyring, bytes.NewReader(data), strings.NewReader(signature), nil)
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}

// LoadEscrowKeyring reads a keyring of trusted escrow signing keys,
// accepting armored or binary format.
func LoadEscrowKeyring(path string) (openpgp.EntityList, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer file.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(file)
	if err != nil {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind keyring: %w", err)
		}
		keyring, err = openpgp.ReadKeyRing(file)
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring %s is empty", path)
	}
	return keyring, nil
}

// Gist-compatible wire types.

type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

type gistRequest struct {
	Description string              `json:"description"`
	Public      bool                `json:"public"`
	Files       map[string]gistFile `json:"files"`
}

type gistResponse struct {
	ID    string              `json:"id"`
	Files map[string]gistFile `json:"files"`
}
