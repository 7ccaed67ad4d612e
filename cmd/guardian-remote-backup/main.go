// guardian-remote-backup manages the off-host escrow copy of the
// guardian binary behind a gist-compatible HTTPS API. The access token
// is read from GUARDIAN_REMOTE_TOKEN (or GITHUB_TOKEN), never from the
// configuration file.
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
		fmt.Printf("guardian-remote-backup %s\n", Version)
		return 0
	case "init":
		code, err = runInit(args[1:])
	case "update":
		code, err = runUpdate(args[1:])
	case "restore":
		code, err = runRestore(args[1:])
	case "status":
		code, err = runStatus(args[1:])
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
	fmt.Println("  guardian-remote-backup init                Create the private remote resource and upload the guardian")
	fmt.Println("  guardian-remote-backup update              Replace the remote copy with the current verified primary")
	fmt.Println("  guardian-remote-backup restore [options]   Restore the primary from the remote copy")
	fmt.Println("  guardian-remote-backup status              Show escrow state")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --signature <file>   Armored detached signature to publish alongside the payload")
	fmt.Println("  --accept-untrusted   Install remote content that failed its escrow trust check")
}
