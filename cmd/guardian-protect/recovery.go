package main

import (
	"context"
	"fmt"
	"os"

	"github.com/guardianshell/guardian/internal/recovery"
	"github.com/guardianshell/guardian/internal/service"
)

// runRecovery handles `guardian-protect recovery`.
func runRecovery(args []string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := service.New(ctx, newLogger(hasFlag(args, "--verbose")))
	if err != nil {
		return 1, err
	}

	if hasFlag(args, "--bootstrap") {
		digest, err := g.Bootstrap(ctx)
		if err != nil {
			return 2, err
		}
		fmt.Printf("installed embedded fallback guardian at %s\n", g.Config().Artifact.Primary)
		fmt.Printf("baseline digest %s\n", digest)
		fmt.Fprintln(os.Stderr, "Next action: rebuild the full guardian with `guardian-build build`.")
		return 0, nil
	}

	session, err := g.Recover(ctx, hasFlag(args, "--accept-untrusted"))
	if err != nil {
		return 1, err
	}
	service.FormatSession(os.Stdout, session)

	switch session.Outcome {
	case recovery.OutcomeVerified, recovery.OutcomeRestored:
		return 0, nil
	case recovery.OutcomeUntrusted:
		return 1, nil
	default:
		fmt.Println()
		fmt.Println(recovery.Procedure(g.Config().Artifact.Primary))
		return 2, nil
	}
}
