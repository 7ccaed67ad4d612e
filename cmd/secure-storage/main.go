// secure-storage manages the encrypted container tier: an age-encrypted
// vault that is explicitly opened into a runtime directory and closed
// again after use.
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
		fmt.Printf("secure-storage %s\n", Version)
		return 0
	case "init":
		code, err = runInit(args[1:])
	case "open":
		code, err = runOpen(args[1:])
	case "close":
		code, err = runClose(args[1:])
	case "backup":
		code, err = runBackup(args[1:])
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
	fmt.Println("  secure-storage init      Generate the age identity and an empty vault")
	fmt.Println("  secure-storage open      Decrypt the vault into the runtime directory")
	fmt.Println("  secure-storage close     Remove the decrypted runtime directory")
	fmt.Println("  secure-storage backup    Store the verified primary in the vault")
	fmt.Println("  secure-storage restore   Restore the primary from the vault")
	fmt.Println("  secure-storage status    Show container state")
}
