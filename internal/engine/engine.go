// Package engine assembles the detection pipeline: bus, normalizer,
// store, heuristics, classifier, fusion, sweeper, ingester, and the
// mitigation coordinator, with ordered startup and shutdown.
package engine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/procwarden-project/procwarden/internal/classifier"
	"github.com/procwarden-project/procwarden/internal/core"
	"github.com/procwarden-project/procwarden/internal/fusion"
	"github.com/procwarden-project/procwarden/internal/heuristics"
	"github.com/procwarden-project/procwarden/internal/ingest"
	"github.com/procwarden-project/procwarden/internal/mitigate"
	"github.com/procwarden-project/procwarden/internal/normalize"
	"github.com/procwarden-project/procwarden/internal/store"
	"github.com/procwarden-project/procwarden/internal/sweep"
)

// statusInterval is the cadence of the periodic status log line.
const statusInterval = 60 * time.Second

// Engine owns all pipeline components.
type Engine struct {
	cfg    *core.Config
	logger zerolog.Logger

	bus       *core.EventBus
	store     *store.Store
	ingester  *ingest.Ingester
	sweeper   *sweep.Sweeper
	mitigator *mitigate.Coordinator

	started time.Time
}

// New constructs and wires the full pipeline from cfg.
func New(cfg *core.Config, logger zerolog.Logger) (*Engine, error) {
	bus, err := core.NewEventBus(&cfg.Bus, logger)
	if err != nil {
		return nil, fmt.Errorf("event bus: %w", err)
	}

	st := store.New(cfg.Detection.BufferCap, cfg.Detection.Whitelist)
	rules := heuristics.New(&cfg.Detection)
	decider := fusion.NewDecider(&cfg.Detection)

	cls, err := classifier.FromConfig(&cfg.Classifier)
	if err != nil {
		bus.Close()
		return nil, err
	}

	controller := mitigate.NewOSController()

	var evidence *mitigate.EvidenceStore
	if cfg.Mitigation.SaveEvidence {
		archiveDir := ""
		if cfg.Mitigation.ArchiveEnabled {
			archiveDir = cfg.Mitigation.ArchiveDir
		}
		evidence, err = mitigate.NewEvidenceStore(cfg.Mitigation.EvidenceDir, archiveDir, logger)
		if err != nil {
			bus.Close()
			return nil, err
		}
	}

	alerter := mitigate.NewWebhookAlerter(cfg.Mitigation.WebhookURL, cfg.Mitigation.WebhookTimeout(), logger)
	mitigator := mitigate.NewCoordinator(&cfg.Mitigation, evidence, controller, alerter, bus, logger)

	sweeper := sweep.New(&cfg.Detection, st, cls, decider, mitigator, controller, logger)
	ingester := ingest.New(bus, &cfg.Bus, normalize.New(), st, rules, sweeper, logger)

	return &Engine{
		cfg:       cfg,
		logger:    logger.With().Str("component", "engine").Logger(),
		bus:       bus,
		store:     st,
		ingester:  ingester,
		sweeper:   sweeper,
		mitigator: mitigator,
	}, nil
}

// Run starts the pipeline and blocks until SIGINT/SIGTERM or ctx
// cancellation, then shuts down in order.
func (e *Engine) Run(ctx context.Context) error {
	e.started = time.Now()

	e.sweeper.Start(ctx)
	if err := e.ingester.Start(ctx); err != nil {
		e.sweeper.Stop()
		e.bus.Close()
		return fmt.Errorf("start ingestion: %w", err)
	}
	e.logger.Info().Msg("engine running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	status := time.NewTicker(statusInterval)
	defer status.Stop()

	for {
		select {
		case s := <-sig:
			e.logger.Info().Str("signal", s.String()).Msg("shutdown requested")
			return e.Shutdown()
		case <-ctx.Done():
			return e.Shutdown()
		case <-status.C:
			e.logStatus()
		}
	}
}

// Shutdown stops the actors in dependency order: ingestion first so no
// new events arrive, then the sweeper finishes its pass, then the bus.
func (e *Engine) Shutdown() error {
	e.ingester.Stop()
	e.sweeper.Stop()
	err := e.bus.Close()
	e.logger.Info().Msg("engine stopped")
	return err
}

// Stats returns a point-in-time snapshot of all component counters.
func (e *Engine) Stats() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(e.started).Seconds()),
		"tracked":        e.store.Len(),
		"ingest":         e.ingester.GetStats(),
		"sweep":          e.sweeper.GetStats(),
		"mitigation":     e.mitigator.GetStats(),
		"bus":            e.bus.GetMetrics(),
	}
}

func (e *Engine) logStatus() {
	e.logger.Info().
		Int("tracked_processes", e.store.Len()).
		Fields(map[string]interface{}{"stats": e.Stats()}).
		Msg("status")
}
