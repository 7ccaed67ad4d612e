package main

import (
	"context"
	"fmt"
	"os"

	"github.com/guardianshell/guardian/internal/shellhook"
)

// runHook handles `guardian-security hook {install|remove|status}`.
func runHook(args []string) (int, error) {
	if len(args) == 0 {
		return 1, fmt.Errorf("hook requires an action: install, remove, or status")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	g, err := load(ctx, args)
	if err != nil {
		return 1, err
	}

	shell := shellhook.DetectShell()
	if s := flagValue(args, "--shell"); s != "" {
		shell = shellhook.ShellType(s)
	}
	if !shell.IsValid() {
		return 1, fmt.Errorf("cannot detect your shell; pass --shell bash|zsh|fish")
	}

	rcPath, err := shellhook.RCFilePath(shell)
	if err != nil {
		return 1, err
	}

	manager, err := shellhook.NewManager(g.Config().Artifact.Primary)
	if err != nil {
		return 1, err
	}

	switch args[0] {
	case "install":
		result, err := manager.Install(shell, rcPath, !hasFlag(args, "--no-backup"))
		if err != nil {
			return 1, err
		}
		if result.AlreadyPresent {
			fmt.Printf("hook already installed in %s\n", rcPath)
			return 0, nil
		}
		fmt.Printf("hook installed in %s\n", rcPath)
		if result.BackupPath != "" {
			fmt.Printf("previous rc file saved to %s\n", result.BackupPath)
		}
		return 0, nil

	case "remove":
		removed, err := manager.Remove(rcPath)
		if err != nil {
			return 1, err
		}
		if removed {
			fmt.Printf("hook removed from %s\n", rcPath)
		} else {
			fmt.Printf("no hook found in %s\n", rcPath)
		}
		return 0, nil

	case "status":
		installed, err := shellhook.Installed(rcPath)
		if err != nil {
			return 1, err
		}
		if installed {
			fmt.Printf("hook installed in %s\n", rcPath)
			return 0, nil
		}
		fmt.Printf("no hook in %s\n", rcPath)
		fmt.Fprintln(os.Stderr, "Next action: run `guardian-security hook install`.")
		return 1, nil

	default:
		return 1, fmt.Errorf("unknown hook action: %s", args[0])
	}
}

func flagValue(args []string, name string) string {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
