// guardian-hardlink manages the hardlink constellation: same-content
// copies of the guardian at a fixed set of configured paths, hardlinked
// where the filesystem allows and copied where it does not.
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
		fmt.Printf("guardian-hardlink %s\n", Version)
		return 0
	case "create":
		code, err = runCreate(args[1:])
	case "verify":
		code, err = runVerify(args[1:])
	case "find":
		code, err = runFind(args[1:])
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
	fmt.Println("  guardian-hardlink create   Create or refresh the constellation from the primary")
	fmt.Println("  guardian-hardlink verify   Verify constellation content against the baseline")
	fmt.Println("  guardian-hardlink find     Show per-path constellation health")
}
