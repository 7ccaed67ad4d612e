// guardian-build compiles the guardian source with its own checksum and
// build timestamp embedded, installs the binary at the primary path,
// and records the new baseline digest in the ledger.
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
		fmt.Printf("guardian-build %s\n", Version)
		return 0
	case "build":
		code, err = runBuild(args[1:])
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
	fmt.Println("  guardian-build build    Compile the guardian source and record the new baseline")
	fmt.Println("  guardian-build status   Show the recorded baseline and current source digest")
}
