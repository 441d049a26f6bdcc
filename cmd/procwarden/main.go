package main

// ---------------------------------------------------------------------------
// main.go — command dispatcher for the procwarden CLI
//
// This file is intentionally slim. Command implementations live in their
// own files (cmd_*.go); shared helpers are in output.go.
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
)

var (
	version   = "0.3.0"
	commit    = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "--version", "-V", "version":
		printVersion(os.Stdout)
	case "--help", "-h", "help":
		printUsage(os.Stdout)
	case "run":
		cmdRun(os.Args[2:])
	case "config":
		cmdConfig(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
}
