package recovery

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/guardianshell/guardian/internal/fsutil"
	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/protect"
)

// fallbackTemplate is the known-good reduced-functionality guardian.
// It is compiled into the binary so the last resort never depends on
// any external source.
//
//go:embed fallback-guardian.sh
var fallbackTemplate []byte

// Bootstrap installs the embedded fallback guardian at primaryPath and
// reapplies protection. It returns the digest of the installed
// template so the caller can record it in the ledger as the new
// expected digest until a proper rebuild.
func Bootstrap(primaryPath string, enforcer *protect.Enforcer) (string, error) {
	if enforcer != nil {
		if _, err := enforcer.Unprotect(primaryPath); err != nil && !errors.Is(err, protect.ErrNotFound) {
			return "", fmt.Errorf("bootstrap: lift protection: %w", err)
		}
	}

	if err := fsutil.AtomicWrite(primaryPath, fallbackTemplate, 0o755); err != nil {
		return "", fmt.Errorf("bootstrap: %w", err)
	}

	if enforcer != nil {
		if _, err := enforcer.Protect(primaryPath); err != nil {
			return "", fmt.Errorf("bootstrap: reapply protection: %w", err)
		}
	}

	return integrity.DigestBytes(fallbackTemplate), nil
}

// Procedure describes the last-resort bootstrap for the operator. It is
// printed whenever a recovery run ends Unrecoverable.
func Procedure(primaryPath string) string {
	return fmt.Sprintf(`All redundancy tiers are exhausted. Last-resort bootstrap:

  1. Run 'guardian-protect recovery --bootstrap' to install the embedded
     fallback guardian at %s.
     The fallback wraps your login shell and drops to a plain failsafe
     shell if startups keep crashing; it has no other features.
  2. Rebuild the full guardian with 'guardian-build build'.
  3. Re-seed the redundancy tiers with 'guardian-security all'.

The fallback comes from a template compiled into this binary. Nothing is
ever downloaded during bootstrap.`, primaryPath)
}
