// Package recovery restores the protected artifact from the redundancy
// tiers when the primary copy fails verification.
//
// Tiers are walked strictly in trust order and the walk short-circuits
// at the first tier whose content verifies; lower-trust tiers are never
// consulted once a higher one has produced good bytes. Remote content
// that fails its escrow check is reported, never installed, unless the
// operator has explicitly accepted it up front.
package recovery

import (
	"time"

	"github.com/google/uuid"

	"github.com/guardianshell/guardian/internal/tier"
)

// Outcome is the terminal state of a recovery run.
type Outcome int

const (
	// OutcomeVerified means the primary already matched the expected
	// digest and nothing was touched.
	OutcomeVerified Outcome = iota

	// OutcomeRestored means a tier's content was installed into the
	// primary and re-verified.
	OutcomeRestored

	// OutcomeUntrusted means the only viable content came from remote
	// escrow and failed its trust check; nothing was installed.
	OutcomeUntrusted

	// OutcomeUnrecoverable means every tier failed. The caller falls
	// back to the embedded bootstrap template.
	OutcomeUnrecoverable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "VERIFIED"
	case OutcomeRestored:
		return "RESTORED"
	case OutcomeUntrusted:
		return "UNTRUSTED"
	case OutcomeUnrecoverable:
		return "UNRECOVERABLE"
	default:
		return "UNKNOWN"
	}
}

// AttemptState classifies one tier attempt inside a session.
type AttemptState int

const (
	AttemptVerified AttemptState = iota
	AttemptTampered
	AttemptMissing
	AttemptStorageNotReady
	AttemptTransportFailure
	AttemptUntrusted
	AttemptFailed
)

func (a AttemptState) String() string {
	switch a {
	case AttemptVerified:
		return "verified"
	case AttemptTampered:
		return "tampered"
	case AttemptMissing:
		return "missing"
	case AttemptStorageNotReady:
		return "storage-not-ready"
	case AttemptTransportFailure:
		return "transport-failure"
	case AttemptUntrusted:
		return "untrusted"
	case AttemptFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Attempt records the result of consulting one tier.
type Attempt struct {
	Tier   string
	Kind   tier.Kind
	State  AttemptState
	Detail string
}

// Session is the full record of one recovery run.
type Session struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Attempts     []Attempt
	Outcome      Outcome
	RestoredFrom string // tier name when Outcome == OutcomeRestored
}

func newSession() *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
}

func (s *Session) record(t tier.Tier, state AttemptState, detail string) {
	s.Attempts = append(s.Attempts, Attempt{
		Tier:   t.Name(),
		Kind:   t.Kind(),
		State:  state,
		Detail: detail,
	})
}

func (s *Session) finish(outcome Outcome) *Session {
	s.Outcome = outcome
	s.FinishedAt = time.Now().UTC()
	return s
}
