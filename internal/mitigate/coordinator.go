package mitigate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/procwarden-project/procwarden/internal/core"
	"github.com/procwarden-project/procwarden/internal/store"
)

// AlertSink receives alert payloads on the internal bus. Satisfied by
// core.EventBus; nil disables bus fan-out.
type AlertSink interface {
	PublishAlert(severity string, payload []byte) error
}

// Coordinator executes the response to a positive verdict. Evidence
// capture, quarantine, and alerting are each fault-isolated: a failure in
// one is logged and counted, never propagated to the caller or to the
// other steps.
type Coordinator struct {
	cfg        *core.MitigationConfig
	evidence   *EvidenceStore
	controller ProcessController
	alerter    *WebhookAlerter
	bus        AlertSink
	logger     zerolog.Logger

	detections       atomic.Int64
	quarantines      atomic.Int64
	evidenceFailures atomic.Int64
	alertFailures    atomic.Int64

	mu          sync.Mutex
	byIndicator map[string]int64
}

// NewCoordinator wires the mitigation steps. evidence may be nil when
// evidence saving is disabled, alerter nil when no endpoint is
// configured, bus nil when bus fan-out is off.
func NewCoordinator(cfg *core.MitigationConfig, evidence *EvidenceStore, controller ProcessController, alerter *WebhookAlerter, bus AlertSink, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		evidence:    evidence,
		controller:  controller,
		alerter:     alerter,
		bus:         bus,
		logger:      logger.With().Str("component", "mitigation").Logger(),
		byIndicator: make(map[string]int64),
	}
}

// Handle runs the full mitigation sequence for one positive verdict.
func (c *Coordinator) Handle(ctx context.Context, v *core.Verdict, snapshot *store.Record) {
	c.detections.Add(1)
	c.countIndicators(snapshot)

	log := c.logger.With().
		Int("pid", v.PID).
		Str("image", snapshot.Image).
		Str("label", v.ClassifierLabel).
		Float64("fused_confidence", v.FusedConfidence).
		Int("heuristic_score", v.HeuristicScore).
		Logger()
	log.Warn().Msg("malicious process detected")

	if c.cfg.SaveEvidence && c.evidence != nil {
		rec := &EvidenceRecord{
			Detection:  *v,
			Process:    *snapshot,
			SystemTime: time.Now().UTC(),
		}
		if path, err := c.evidence.Save(rec); err != nil {
			c.evidenceFailures.Add(1)
			log.Error().Err(err).Msg("evidence persistence failed")
		} else {
			log.Info().Str("path", path).Msg("evidence saved")
		}
	}

	if c.cfg.QuarantineEnabled && c.controller != nil {
		c.quarantine(ctx, v, log)
	}

	if c.alerter != nil {
		c.dispatchAlert(ctx, v, log)
	}

	if c.bus != nil {
		if payload, err := v.Marshal(); err == nil {
			if err := c.bus.PublishAlert(severityFor(v), payload); err != nil {
				log.Warn().Err(err).Msg("bus alert publish failed")
			}
		}
	}
}

func (c *Coordinator) quarantine(ctx context.Context, v *core.Verdict, log zerolog.Logger) {
	tctx, cancel := context.WithTimeout(ctx, c.cfg.TerminateTimeout())
	defer cancel()

	if err := c.controller.Terminate(tctx, v.PID); err != nil {
		log.Error().Err(err).Msg("process termination failed")
		return
	}
	c.quarantines.Add(1)
	log.Info().Msg("process terminated")
}

func (c *Coordinator) dispatchAlert(ctx context.Context, v *core.Verdict, log zerolog.Logger) {
	if err := c.alerter.Send(ctx, v); err != nil {
		c.alertFailures.Add(1)
		log.Warn().Err(err).Msg("alert delivery failed")
		return
	}
	log.Debug().Msg("alert dispatched")
}

func (c *Coordinator) countIndicators(snapshot *store.Record) {
	if len(snapshot.IndicatorCounts) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, n := range snapshot.IndicatorCounts {
		c.byIndicator[name] += int64(n)
	}
}

// GetStats returns mitigation counters for the engine status report.
func (c *Coordinator) GetStats() map[string]interface{} {
	c.mu.Lock()
	indicators := make(map[string]int64, len(c.byIndicator))
	for k, n := range c.byIndicator {
		indicators[k] = n
	}
	c.mu.Unlock()

	return map[string]interface{}{
		"detections":        c.detections.Load(),
		"quarantines":       c.quarantines.Load(),
		"evidence_failures": c.evidenceFailures.Load(),
		"alert_failures":    c.alertFailures.Load(),
		"by_indicator":      indicators,
	}
}
