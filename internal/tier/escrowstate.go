package tier

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/guardianshell/guardian/internal/fsutil"
)

// EscrowState is the persisted remote escrow record: which remote resource
// holds the blob, what digest it is expected to carry, and when it was
// last replaced. The file is owner-only and always fully rewritten.
type EscrowState struct {
	RemoteID        string `json:"remote_id"`
	RecordedDigest  string `json:"recorded_digest"`
	LastUpdateEpoch int64  `json:"last_update_epoch"`
}

// LoadEscrowState reads the state file. A missing file yields a zero
// state: the escrow has not been initialized yet.
func LoadEscrowState(path string) (*EscrowState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &EscrowState{}, nil
		}
		return nil, fmt.Errorf("read escrow state: %w", err)
	}

	var state EscrowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse escrow state %s: %w", path, err)
	}
	return &state, nil
}

// Save rewrites the state file in full, atomically, owner-only.
func (s *EscrowState) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal escrow state: %w", err)
	}
	if err := fsutil.AtomicWrite(path, data, 0o600); err != nil {
		return fmt.Errorf("save escrow state: %w", err)
	}
	return nil
}
