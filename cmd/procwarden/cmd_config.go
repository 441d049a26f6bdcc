package main

// ---------------------------------------------------------------------------
// cmd_config.go — show, validate, or initialize configuration
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/procwarden-project/procwarden/internal/core"
)

func cmdConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "configs/default.yaml", "Config file path")
	validate := fs.Bool("validate", false, "Validate config and exit")
	initCfg := fs.Bool("init", false, "Write the default config to the config path and exit")
	fs.Parse(args)

	if *initCfg {
		cfg := core.DefaultConfig()
		if err := core.SaveConfig(cfg, *configPath); err != nil {
			errorf("writing config: %v", err)
		}
		fmt.Printf("wrote default config to %s\n", *configPath)
		return
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		errorf("loading config: %v", err)
	}

	if *validate {
		issues := validateConfig(cfg)
		if len(issues) > 0 {
			for _, issue := range issues {
				fmt.Fprintf(os.Stderr, "✗ %s\n", issue)
			}
			os.Exit(1)
		}
		fmt.Println("config OK")
		return
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		errorf("encoding config: %v", err)
	}
	os.Stdout.Write(out)
}

func validateConfig(cfg *core.Config) []string {
	var issues []string
	if cfg.Detection.DetectionThreshold < 0 || cfg.Detection.DetectionThreshold > 1 {
		issues = append(issues, fmt.Sprintf("detection.detection_threshold %v is out of range (0..1)", cfg.Detection.DetectionThreshold))
	}
	if cfg.Detection.HardHeuristicCeiling < 0 || cfg.Detection.HardHeuristicCeiling > 100 {
		issues = append(issues, fmt.Sprintf("detection.hard_heuristic_ceiling %d is out of range (0..100)", cfg.Detection.HardHeuristicCeiling))
	}
	if cfg.Detection.BufferCap < 1 {
		issues = append(issues, "detection.buffer_capacity must be at least 1")
	}
	if cfg.Detection.SweepIntervalSec < 1 {
		issues = append(issues, "detection.sweep_interval_seconds must be at least 1")
	}
	if cfg.Detection.MinEvidence < 1 {
		issues = append(issues, "detection.min_evidence must be at least 1")
	}
	if cfg.Bus.Embedded && (cfg.Bus.Port < 1 || cfg.Bus.Port > 65535) {
		issues = append(issues, fmt.Sprintf("bus.port %d is out of range (1-65535)", cfg.Bus.Port))
	}
	if cfg.Classifier.Mode == "http" && cfg.Classifier.URL == "" {
		issues = append(issues, "classifier.url is required in http mode")
	}
	return issues
}
