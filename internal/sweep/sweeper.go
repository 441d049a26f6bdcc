// Package sweep runs the periodic analysis loop: select eligible
// processes, classify their token sequences, fuse, and hand positive
// verdicts to mitigation. A slower maintenance tick reclaims stale
// records.
package sweep

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/procwarden-project/procwarden/internal/classifier"
	"github.com/procwarden-project/procwarden/internal/core"
	"github.com/procwarden-project/procwarden/internal/fusion"
	"github.com/procwarden-project/procwarden/internal/mitigate"
	"github.com/procwarden-project/procwarden/internal/store"
)

// historyCap bounds the in-memory verdict history ring.
const historyCap = 1000

// immediateQueueCap bounds pending immediate-analysis requests. Ingestion
// never blocks on this queue; overflow requests are folded into the next
// periodic sweep anyway.
const immediateQueueCap = 256

// Sweeper owns the analysis and maintenance tickers.
type Sweeper struct {
	cfg        *core.DetectionConfig
	store      *store.Store
	classifier classifier.Classifier
	decider    *fusion.Decider
	mitigator  *mitigate.Coordinator
	controller mitigate.ProcessController
	logger     zerolog.Logger

	immediate chan int

	// pid -> eviction deadline for mitigated processes held through the
	// audit grace period.
	pendingEvict map[int]time.Time

	sweeps           atomic.Int64
	analyses         atomic.Int64
	classifierErrors atomic.Int64
	evictions        atomic.Int64

	histMu  sync.Mutex
	history []core.Verdict
	histPos int

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Sweeper. controller may be nil; stale reclamation then
// relies on the idle window alone.
func New(cfg *core.DetectionConfig, st *store.Store, cls classifier.Classifier, dec *fusion.Decider, mit *mitigate.Coordinator, controller mitigate.ProcessController, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		cfg:          cfg,
		store:        st,
		classifier:   cls,
		decider:      dec,
		mitigator:    mit,
		controller:   controller,
		logger:       logger.With().Str("component", "sweeper").Logger(),
		immediate:    make(chan int, immediateQueueCap),
		pendingEvict: make(map[int]time.Time),
		history:      make([]core.Verdict, 0, historyCap),
		done:         make(chan struct{}),
	}
}

// Start launches the sweep loop. The loop exits after finishing its
// current pass once the parent context is canceled.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Stop signals the loop and waits for the current pass to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// RequestImmediate queues an out-of-band analysis for pid. Non-blocking:
// if the queue is full the request is dropped and the next periodic sweep
// covers the pid.
func (s *Sweeper) RequestImmediate(pid int) {
	select {
	case s.immediate <- pid:
	default:
	}
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	sweepTick := time.NewTicker(s.cfg.SweepInterval())
	defer sweepTick.Stop()
	maintTick := time.NewTicker(s.cfg.MaintenanceInterval())
	defer maintTick.Stop()

	s.logger.Info().
		Dur("sweep_interval", s.cfg.SweepInterval()).
		Dur("maintenance_interval", s.cfg.MaintenanceInterval()).
		Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return
		case pid := <-s.immediate:
			s.drainImmediate(ctx, pid)
		case <-sweepTick.C:
			s.sweepPass(ctx)
		case <-maintTick.C:
			s.maintenancePass()
		}
	}
}

// drainImmediate analyzes the woken pid plus everything else queued
// behind it, deduplicated, in one batch.
func (s *Sweeper) drainImmediate(ctx context.Context, first int) {
	pids := map[int]struct{}{first: {}}
	for {
		select {
		case pid := <-s.immediate:
			pids[pid] = struct{}{}
		default:
			for pid := range pids {
				// A mitigated pid held through its eviction grace period is
				// done; re-analyzing it would duplicate the response.
				if _, held := s.pendingEvict[pid]; held {
					continue
				}
				// Immediate analysis still needs at least one token.
				if s.store.BufferLen(pid) > 0 {
					s.analyze(ctx, pid)
				}
			}
			return
		}
	}
}

func (s *Sweeper) sweepPass(ctx context.Context) {
	s.sweeps.Add(1)
	s.reapPendingEvictions()

	for _, pid := range s.store.EligiblePids(s.cfg.MinEvidence) {
		if ctx.Err() != nil {
			return
		}
		if _, held := s.pendingEvict[pid]; held {
			continue
		}
		s.analyze(ctx, pid)
	}
}

// analyze runs one classification/fusion pass for pid against a
// consistent snapshot. Concurrent appends during the pass land in the
// next sweep.
func (s *Sweeper) analyze(ctx context.Context, pid int) {
	snap, ok := s.store.Snapshot(pid)
	if !ok {
		return
	}
	s.analyses.Add(1)

	res, err := s.classifier.Classify(ctx, snap.Tokens)
	if err != nil {
		// Degrade to heuristics-only instead of skipping the pass.
		s.classifierErrors.Add(1)
		s.logger.Warn().Err(err).Int("pid", pid).Msg("classifier call failed, using heuristics only")
		res = classifier.NoSignal
	}

	verdict := s.decider.Decide(pid, snap.SuspicionScore, res, snap.Tokens)
	s.recordVerdict(verdict)

	if !verdict.IsMalicious {
		s.logger.Debug().
			Int("pid", pid).
			Str("label", res.Label).
			Float64("fused_confidence", verdict.FusedConfidence).
			Msg("process cleared")
		s.store.TrimBuffer(pid, s.cfg.TrimKeep)
		return
	}

	s.mitigator.Handle(ctx, &verdict, &snap)
	// Retain through the grace period so evidence finalization and audit
	// can still read the record, then evict on a later tick.
	s.pendingEvict[pid] = time.Now().Add(s.cfg.EvictGrace())
}

// reapPendingEvictions evicts mitigated pids whose grace period expired.
func (s *Sweeper) reapPendingEvictions() {
	now := time.Now()
	for pid, deadline := range s.pendingEvict {
		if now.After(deadline) {
			s.store.Evict(pid)
			s.evictions.Add(1)
			delete(s.pendingEvict, pid)
		}
	}
}

// maintenancePass reclaims records for processes that exited or idled
// beyond the staleness window.
func (s *Sweeper) maintenancePass() {
	var alive func(pid int) bool
	if s.controller != nil {
		alive = s.controller.Alive
	}
	stale := s.store.StaleProcesses(time.Now(), s.cfg.StaleAfter(), alive)
	for _, pid := range stale {
		s.store.Evict(pid)
		s.evictions.Add(1)
		delete(s.pendingEvict, pid)
	}
	if len(stale) > 0 {
		s.logger.Debug().Int("evicted", len(stale)).Msg("stale records reclaimed")
	}
}

func (s *Sweeper) recordVerdict(v core.Verdict) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	if len(s.history) < historyCap {
		s.history = append(s.history, v)
		return
	}
	s.history[s.histPos] = v
	s.histPos = (s.histPos + 1) % historyCap
}

// History returns a copy of the retained verdicts, oldest first.
func (s *Sweeper) History() []core.Verdict {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]core.Verdict, 0, len(s.history))
	out = append(out, s.history[s.histPos:]...)
	out = append(out, s.history[:s.histPos]...)
	return out
}

// GetStats returns sweep counters for the engine status report.
func (s *Sweeper) GetStats() map[string]interface{} {
	s.histMu.Lock()
	retained := len(s.history)
	s.histMu.Unlock()

	return map[string]interface{}{
		"sweeps":            s.sweeps.Load(),
		"analyses":          s.analyses.Load(),
		"classifier_errors": s.classifierErrors.Load(),
		"evictions":         s.evictions.Load(),
		"verdicts_retained": retained,
	}
}
