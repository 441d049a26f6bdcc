package main

// ---------------------------------------------------------------------------
// output.go — shared CLI helpers
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/procwarden-project/procwarden/internal/core"
)

func errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "procwarden %s (commit %s, built %s)\n", version, commit, buildDate)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `procwarden — behavioral process malware detection engine

Usage:
  procwarden <command> [flags]

Commands:
  run       Start the detection engine
  config    Show, validate, or initialize configuration
  version   Print version information
  help      Show this help

Run flags:
  --config <path>      Config file path (default configs/default.yaml)
  --threshold <float>  Override detection threshold (0..1)
  --no-quarantine      Disable process termination
  --log-level <level>  Log level override: debug, info, warn, error
`)
}

// newLogger builds the root logger from config: JSON to stdout or a
// console writer, with the configured level.
func newLogger(cfg *core.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}

	switch cfg.LogLevel() {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}
	return logger
}
