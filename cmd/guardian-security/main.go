// guardian-security is the day-to-day integrity tool: verify the
// guardian, restore it when needed, seed the redundancy tiers, and
// report status.
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
		fmt.Printf("guardian-security %s\n", Version)
		return 0
	case "verify":
		code, err = runVerify(args[1:])
	case "restore":
		code, err = runRestore(args[1:])
	case "protect":
		code, err = runProtect(args[1:])
	case "backup":
		code, err = runBackup(args[1:])
	case "drift":
		code, err = runDrift(args[1:])
	case "hook":
		code, err = runHook(args[1:])
	case "status":
		code, err = runStatus(args[1:])
	case "all":
		code, err = runAll(args[1:])
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
	fmt.Println("  guardian-security verify              Verify the primary against the recorded baseline")
	fmt.Println("  guardian-security restore [options]   Restore the primary from the redundancy tiers")
	fmt.Println("  guardian-security protect             Apply OS-level protection")
	fmt.Println("  guardian-security backup              Seed every configured tier from the verified primary")
	fmt.Println("  guardian-security drift [--repair]    Check guarded files for drift (repair from git history)")
	fmt.Println("  guardian-security hook install|remove|status")
	fmt.Println("                                        Manage the login-shell hook in your rc file")
	fmt.Println("  guardian-security status              Show the full status block")
	fmt.Println("  guardian-security all                 verify, restore if needed, protect, status")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --accept-untrusted   Install remote content that failed its escrow trust check")
	fmt.Println("  --verbose            Log every step to stderr")
}
