package tier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"github.com/guardianshell/guardian/internal/fsutil"
	"github.com/guardianshell/guardian/internal/integrity"
)

// Container is the encrypted block-store tier. The artifact lives in an
// age-encrypted vault file and is only readable through an explicit
// Open/Close lifecycle: Open decrypts the vault into a private runtime
// directory (the mount point), Close removes the plaintext again.
//
// Every operation on a closed container returns ErrStorageNotReady; there
// are no silent no-ops. Open on an already-open container and Close on an
// already-closed one both succeed, which keeps racing invocations safe.
type Container struct {
	vaultPath    string // encrypted vault blob
	identityPath string // age x25519 identity, owner-only
	mountDir     string // plaintext mount point while open
	artifactName string // file name of the artifact inside the mount
}

// NewContainer creates the encrypted container tier.
func NewContainer(vaultPath, identityPath, mountDir, artifactName string) *Container {
	return &Container{
		vaultPath:    vaultPath,
		identityPath: identityPath,
		mountDir:     mountDir,
		artifactName: artifactName,
	}
}

// Name implements Tier.
func (c *Container) Name() string { return "encrypted-container" }

// Kind implements Tier.
func (c *Container) Kind() Kind { return EncryptedContainer }

// MountDir returns the configured mount point.
func (c *Container) MountDir() string { return c.mountDir }

// Init generates the container identity. Running it again with an
// existing identity succeeds without touching the key.
func (c *Container) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := os.Stat(c.identityPath); err == nil {
		return nil
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("container: generate identity: %w", err)
	}

	content := fmt.Sprintf("# created by secure-storage init\n# public key: %s\n%s\n",
		identity.Recipient(), identity)
	if err := fsutil.AtomicWrite(c.identityPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("container: write identity: %w", err)
	}
	return nil
}

// Initialized reports whether the container identity exists.
func (c *Container) Initialized() bool {
	_, err := os.Stat(c.identityPath)
	return err == nil
}

// IsOpen reports whether the mount point currently holds plaintext.
func (c *Container) IsOpen() bool {
	info, err := os.Stat(c.mountDir)
	return err == nil && info.IsDir()
}

// Open decrypts the vault into the mount point. Opening an already-open
// container is a success. Opening before Init fails.
func (c *Container) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.IsOpen() {
		return nil
	}
	if !c.Initialized() {
		return fmt.Errorf("container: %w: not initialized, run `secure-storage init` first", ErrStorageNotReady)
	}

	if err := os.MkdirAll(c.mountDir, 0o700); err != nil {
		return fmt.Errorf("container: create mount point: %w", err)
	}

	ciphertext, err := os.ReadFile(c.vaultPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No vault yet: the container opens empty, ready for the
			// first backup.
			return nil
		}
		os.RemoveAll(c.mountDir)
		return fmt.Errorf("container: read vault: %w", err)
	}

	plaintext, err := c.decrypt(ciphertext)
	if err != nil {
		os.RemoveAll(c.mountDir)
		return fmt.Errorf("container: %w", err)
	}

	if err := fsutil.AtomicWrite(c.payloadPath(), plaintext, 0o600); err != nil {
		os.RemoveAll(c.mountDir)
		return fmt.Errorf("container: install plaintext: %w", err)
	}
	return nil
}

// Close removes the plaintext mount point. The encrypted vault remains.
// Closing an already-closed container is a success.
func (c *Container) Close(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(c.mountDir); err != nil {
		return fmt.Errorf("container: remove mount point: %w", err)
	}
	return nil
}

// Write stores data in the open container: the plaintext copy in the
// mount point and the encrypted vault are both replaced atomically, so a
// later Close loses nothing.
func (c *Container) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsOpen() {
		return fmt.Errorf("container: %w: run `secure-storage open` first", ErrStorageNotReady)
	}

	ciphertext, err := c.encrypt(data)
	if err != nil {
		return fmt.Errorf("container: %w", err)
	}

	if err := fsutil.AtomicWrite(c.payloadPath(), data, 0o600); err != nil {
		return fmt.Errorf("container: write plaintext: %w", err)
	}
	if err := fsutil.AtomicWrite(c.vaultPath, ciphertext, 0o600); err != nil {
		return fmt.Errorf("container: write vault: %w", err)
	}
	return nil
}

// Read returns the artifact from the open container.
func (c *Container) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.IsOpen() {
		return nil, fmt.Errorf("container: %w: run `secure-storage open` first", ErrStorageNotReady)
	}

	data, err := os.ReadFile(c.payloadPath())
	if err != nil {
		return nil, fmt.Errorf("container: read payload: %w", err)
	}
	return data, nil
}

// Verify checks the open container's payload against the expected digest.
func (c *Container) Verify(ctx context.Context, expected string) (integrity.Result, error) {
	if err := ctx.Err(); err != nil {
		return integrity.Result{}, err
	}
	if !c.IsOpen() {
		return integrity.Result{}, fmt.Errorf("container: %w: run `secure-storage open` first", ErrStorageNotReady)
	}
	return integrity.Verify(c.payloadPath(), expected), nil
}

func (c *Container) payloadPath() string {
	return filepath.Join(c.mountDir, c.artifactName)
}

func (c *Container) encrypt(plaintext []byte) ([]byte, error) {
	identity, err := c.loadIdentity()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("create encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Container) decrypt(ciphertext []byte) ([]byte, error) {
	identity, err := c.loadIdentity()
	if err != nil {
		return nil, err
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt vault: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read decrypted payload: %w", err)
	}
	return plaintext, nil
}

func (c *Container) loadIdentity() (*age.X25519Identity, error) {
	data, err := os.ReadFile(c.identityPath)
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parse identity: %w", err)
		}
		return identity, nil
	}

	return nil, fmt.Errorf("identity file %s contains no key", c.identityPath)
}
