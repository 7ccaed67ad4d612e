// guardian-protect manages OS-level protection of the guardian binary
// and runs trust-ordered recovery when it fails verification.
package main

import (
	"fmt"
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	var code int
	var err error
	switch args[0] {
	case "--version":
		fmt.Printf("guardian-protect %s\n", Version)
		return 0
	case "protect":
		code, err = runProtect(args[1:])
	case "unprotect":
		code, err = runUnprotect(args[1:])
	case "status":
		code, err = runStatus(args[1:])
	case "recovery":
		code, err = runRecovery(args[1:])
	case "--help", "-h", "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n", args[0])
		printUsage()
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return code
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  guardian-protect protect                   Apply OS-level protection to the guardian")
	fmt.Println("  guardian-protect unprotect                 Lift protection (logged)")
	fmt.Println("  guardian-protect status                    Show protection and tier status")
	fmt.Println("  guardian-protect recovery [options]        Verify the primary and restore it from the tiers")
	fmt.Println()
	fmt.Println("Recovery options:")
	fmt.Println("  --accept-untrusted   Install remote content that failed its escrow trust check")
	fmt.Println("  --bootstrap          Install the embedded fallback guardian (last resort)")
	fmt.Println("  --verbose            Log every step to stderr")
}
