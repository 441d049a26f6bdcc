// Package ingest consumes the raw telemetry stream from the bus,
// normalizes each record, and feeds the behavior store and the heuristic
// rules. Heavy analysis never happens here; critical indicators only
// queue an immediate-analysis request for the sweeper.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/procwarden-project/procwarden/internal/core"
	"github.com/procwarden-project/procwarden/internal/heuristics"
	"github.com/procwarden-project/procwarden/internal/normalize"
	"github.com/procwarden-project/procwarden/internal/store"
)

// fetchBackoff is the fixed retry delay after a fetch error that is not a
// plain empty-batch timeout.
const fetchBackoff = 2 * time.Second

// durableName identifies this engine's pull consumer on the raw stream.
const durableName = "procwarden-engine"

// AnalysisRequester queues out-of-band analysis for a pid. Satisfied by
// the sweeper.
type AnalysisRequester interface {
	RequestImmediate(pid int)
}

// Ingester runs the ingestion loop.
type Ingester struct {
	bus        *core.EventBus
	cfg        *core.BusConfig
	normalizer *normalize.Normalizer
	store      *store.Store
	rules      *heuristics.Engine
	requester  AnalysisRequester
	logger     zerolog.Logger

	malformed   atomic.Int64
	processed   atomic.Int64
	findings    atomic.Int64
	ackFailures atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New wires an Ingester over the bus's raw stream.
func New(bus *core.EventBus, cfg *core.BusConfig, norm *normalize.Normalizer, st *store.Store, rules *heuristics.Engine, req AnalysisRequester, logger zerolog.Logger) *Ingester {
	return &Ingester{
		bus:        bus,
		cfg:        cfg,
		normalizer: norm,
		store:      st,
		rules:      rules,
		requester:  req,
		logger:     logger.With().Str("component", "ingest").Logger(),
		done:       make(chan struct{}),
	}
}

// Start launches the fetch loop. The loop finishes its current batch
// before exiting on cancellation.
func (i *Ingester) Start(ctx context.Context) error {
	sub, err := i.bus.PullRaw(durableName)
	if err != nil {
		return err
	}
	ctx, i.cancel = context.WithCancel(ctx)
	go i.run(ctx, sub)
	return nil
}

// Stop signals the loop and waits for the in-flight batch to drain.
func (i *Ingester) Stop() {
	if i.cancel != nil {
		i.cancel()
	}
	<-i.done
}

func (i *Ingester) run(ctx context.Context, sub *nats.Subscription) {
	defer close(i.done)
	defer sub.Unsubscribe()

	batch := i.cfg.FetchBatch
	if batch <= 0 {
		batch = 64
	}
	wait := time.Duration(i.cfg.FetchWaitSec) * time.Second
	if wait <= 0 {
		wait = 2 * time.Second
	}

	i.logger.Info().Int("batch", batch).Dur("max_wait", wait).Msg("ingestion started")

	for {
		if ctx.Err() != nil {
			i.logger.Info().Msg("ingestion stopped")
			return
		}

		msgs, err := sub.Fetch(batch, nats.MaxWait(wait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue // empty batch, normal when the source is quiet
			}
			i.logger.Warn().Err(err).Msg("fetch failed, backing off")
			select {
			case <-ctx.Done():
			case <-time.After(fetchBackoff):
			}
			continue
		}

		i.bus.CountFetched(len(msgs))
		for _, msg := range msgs {
			i.handleMessage(msg.Data)
			i.ack(msg)
		}
	}
}

// ack acknowledges a processed message. A failed ack means the server
// will redeliver; counting them makes a redelivery storm diagnosable.
func (i *Ingester) ack(msg *nats.Msg) {
	if err := msg.Ack(); err != nil {
		i.ackFailures.Add(1)
		i.logger.Debug().Err(err).Msg("ack failed, message may be redelivered")
	}
}

// handleMessage processes one raw record end to end. Malformed or
// unmonitored records are counted and dropped; they never escalate.
func (i *Ingester) handleMessage(data []byte) {
	rec, err := core.DecodeRawRecord(data)
	if err != nil {
		i.malformed.Add(1)
		i.logger.Debug().Err(err).Msg("malformed raw record dropped")
		return
	}

	ev, ok := i.normalizer.Normalize(rec)
	if !ok {
		return
	}

	tracked, swappedFrom := i.store.RecordEvent(ev)
	if !tracked {
		return
	}
	i.processed.Add(1)

	findings := i.rules.Evaluate(ev)
	if swappedFrom != "" {
		findings = append(findings, heuristics.Tampering(swappedFrom, ev.Attr(core.AttrImage)))
	}
	if len(findings) == 0 {
		return
	}

	immediate := false
	for _, f := range findings {
		i.findings.Add(1)
		score := i.store.AdjustScore(ev.PID, f.Delta)
		i.store.AddIndicator(ev.PID, f.Indicator)
		immediate = immediate || f.Immediate

		i.logger.Info().
			Int("pid", ev.PID).
			Str("indicator", f.Indicator).
			Int("delta", f.Delta).
			Int("score", score).
			Fields(map[string]interface{}{"evidence": f.Evidence}).
			Msg("indicator raised")
	}
	if immediate && i.requester != nil {
		i.requester.RequestImmediate(ev.PID)
	}
}

// GetStats returns ingestion counters for the engine status report.
func (i *Ingester) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"processed":    i.processed.Load(),
		"malformed":    i.malformed.Load(),
		"findings":     i.findings.Load(),
		"ack_failures": i.ackFailures.Load(),
		"normalized":   i.normalizer.Accepted(),
		"dropped":      i.normalizer.Dropped(),
	}
}
