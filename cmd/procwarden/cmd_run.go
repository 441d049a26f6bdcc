package main

// ---------------------------------------------------------------------------
// cmd_run.go — start the detection engine
// ---------------------------------------------------------------------------

import (
	"context"
	"flag"

	"github.com/procwarden-project/procwarden/internal/core"
	"github.com/procwarden-project/procwarden/internal/engine"
)

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "configs/default.yaml", "Config file path")
	threshold := fs.Float64("threshold", -1, "Override detection threshold (0..1)")
	noQuarantine := fs.Bool("no-quarantine", false, "Disable process termination (detect and alert only)")
	logLevel := fs.String("log-level", "", "Log level override: debug, info, warn, error")
	fs.Parse(args)

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		errorf("loading config: %v", err)
	}

	if *threshold >= 0 {
		if *threshold > 1 {
			errorf("threshold %v is out of range (0..1)", *threshold)
		}
		cfg.Detection.DetectionThreshold = *threshold
	}
	if *noQuarantine {
		cfg.Mitigation.QuarantineEnabled = false
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := newLogger(cfg)
	logger.Info().
		Str("version", version).
		Str("config", *configPath).
		Float64("detection_threshold", cfg.Detection.DetectionThreshold).
		Bool("quarantine", cfg.Mitigation.QuarantineEnabled).
		Msg("starting procwarden")

	eng, err := engine.New(cfg, logger)
	if err != nil {
		errorf("creating engine: %v", err)
	}
	if err := eng.Run(context.Background()); err != nil {
		errorf("engine: %v", err)
	}
}
