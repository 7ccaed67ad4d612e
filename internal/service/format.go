package service

import (
	"fmt"
	"io"
	"strings"

	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/protect"
	"github.com/guardianshell/guardian/internal/recovery"
)

// FormatReport writes a human-readable status block.
func FormatReport(w io.Writer, report *Report) {
	fmt.Fprintln(w, "Guardian status")
	fmt.Fprintln(w, strings.Repeat("━", 40))

	fmt.Fprintf(w, "  %-20s %s%s\n", "primary", stateWord(report.Primary.State), detailSuffix(report.Primary.Detail))
	if report.Protection.State == protect.Protected {
		fmt.Fprintf(w, "  %-20s protected (%s)\n", "protection", report.Protection.Mode)
	} else {
		fmt.Fprintf(w, "  %-20s unprotected\n", "protection")
	}

	for _, ts := range report.Tiers {
		fmt.Fprintf(w, "  %-20s %s%s\n", ts.Name, stateWord(ts.State), detailSuffix(ts.Detail))
	}

	if report.Baseline != "" {
		fmt.Fprintf(w, "  %-20s %s\n", "baseline", report.Baseline)
	}
}

// FormatSession writes a human-readable recovery transcript.
func FormatSession(w io.Writer, session *recovery.Session) {
	fmt.Fprintf(w, "Recovery session %s\n", session.ID)
	for _, attempt := range session.Attempts {
		fmt.Fprintf(w, "  %-20s %s%s\n", attempt.Tier, attempt.State, detailSuffix(attempt.Detail))
	}

	switch session.Outcome {
	case recovery.OutcomeVerified:
		fmt.Fprintln(w, "Primary verified; nothing to do.")
	case recovery.OutcomeRestored:
		fmt.Fprintf(w, "Primary restored from %s and re-verified.\n", session.RestoredFrom)
	case recovery.OutcomeUntrusted:
		fmt.Fprintln(w, "Remote content failed its trust check and was NOT installed.")
		fmt.Fprintln(w, "Inspect it, then rerun with --accept-untrusted to install it anyway.")
	case recovery.OutcomeUnrecoverable:
		fmt.Fprintln(w, "UNRECOVERABLE: every redundancy tier failed.")
	}
}

func stateWord(s integrity.State) string {
	switch s {
	case integrity.Verified:
		return "verified"
	case integrity.Tampered:
		return "TAMPERED"
	default:
		return "missing"
	}
}

func detailSuffix(detail string) string {
	if detail == "" {
		return ""
	}
	return " (" + detail + ")"
}
