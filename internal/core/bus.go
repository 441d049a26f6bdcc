package core

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects and streams carried by the bus. The external telemetry source
// publishes raw records to proc.events.raw.<host>; verdict alerts go out on
// proc.alerts.<severity>.
const (
	RawSubjectPrefix   = "proc.events.raw"
	AlertSubjectPrefix = "proc.alerts"

	eventsStream = "PROC_EVENTS"
	alertsStream = "PROC_ALERTS"
)

// EventBus wraps NATS JetStream for telemetry intake and alert publishing.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	logger zerolog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription

	metrics *BusMetrics
}

// BusMetrics tracks event bus performance counters.
type BusMetrics struct {
	mu              sync.Mutex
	RawPublished    int64
	RawFetched      int64
	AlertsPublished int64
	PublishFailed   int64
}

// NewEventBus connects to NATS, optionally starting an embedded server first,
// and ensures the telemetry and alert streams exist.
func NewEventBus(cfg *BusConfig, logger zerolog.Logger) (*EventBus, error) {
	bus := &EventBus{
		logger:  logger.With().Str("component", "event_bus").Logger(),
		subs:    make([]*nats.Subscription, 0),
		metrics: &BusMetrics{},
	}

	if cfg.Embedded {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating NATS data dir: %w", err)
		}

		opts := &server.Options{
			Host:      "127.0.0.1",
			Port:      cfg.Port,
			JetStream: true,
			StoreDir:  cfg.DataDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}

		ns.Start()

		if !ns.ReadyForConnections(10 * time.Second) {
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}

		bus.ns = ns
		bus.logger.Info().Int("port", cfg.Port).Msg("embedded NATS server started")
	}

	url := cfg.URL
	if cfg.Embedded {
		// Ask the server for its URL: with port -1 it picks an ephemeral one.
		url = bus.ns.ClientURL()
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	// Telemetry is high volume and only matters while fresh: short retention,
	// discard-old under pressure.
	eventsStreamCfg := &nats.StreamConfig{
		Name:      eventsStream,
		Subjects:  []string{RawSubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Discard:   nats.DiscardOld,
	}
	if err := bus.ensureStream(eventsStreamCfg); err != nil {
		return nil, err
	}

	alertsStreamCfg := &nats.StreamConfig{
		Name:      alertsStream,
		Subjects:  []string{AlertSubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour * 30,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Discard:   nats.DiscardOld,
	}
	if err := bus.ensureStream(alertsStreamCfg); err != nil {
		return nil, err
	}

	bus.logger.Info().Str("url", url).Msg("connected to NATS JetStream")
	return bus, nil
}

// ensureStream creates the stream or updates it when it already exists with
// an older config (e.g. after a version upgrade).
func (b *EventBus) ensureStream(cfg *nats.StreamConfig) error {
	_, err := b.js.AddStream(cfg)
	if err != nil {
		if _, updateErr := b.js.UpdateStream(cfg); updateErr != nil {
			return fmt.Errorf("creating/updating stream %s: %w (original: %v)", cfg.Name, updateErr, err)
		}
	}
	return nil
}

// PublishRaw publishes a raw telemetry record for the given host. Producers
// (event log forwarders, test harnesses) use this entry point.
func (b *EventBus) PublishRaw(host string, rec *RawRecord) error {
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling raw record: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", RawSubjectPrefix, host)
	if _, err := b.js.Publish(subject, data); err != nil {
		b.metrics.mu.Lock()
		b.metrics.PublishFailed++
		b.metrics.mu.Unlock()
		return fmt.Errorf("publishing raw record to %s: %w", subject, err)
	}

	b.metrics.mu.Lock()
	b.metrics.RawPublished++
	b.metrics.mu.Unlock()
	return nil
}

// PullRaw creates a durable pull consumer over the raw telemetry subjects.
// The caller drives consumption with Fetch, which gives it batch sizing and
// a bounded wait — the ingestion loop's back-pressure mechanism.
func (b *EventBus) PullRaw(durable string) (*nats.Subscription, error) {
	sub, err := b.js.PullSubscribe(RawSubjectPrefix+".>", durable, nats.AckExplicit())
	if err != nil {
		return nil, fmt.Errorf("creating pull consumer %s: %w", durable, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug().Str("durable", durable).Msg("raw telemetry pull consumer created")
	return sub, nil
}

// CountFetched records raw messages handed to the ingestion loop.
func (b *EventBus) CountFetched(n int) {
	b.metrics.mu.Lock()
	b.metrics.RawFetched += int64(n)
	b.metrics.mu.Unlock()
}

// PublishAlert publishes a positive verdict to the alert stream.
func (b *EventBus) PublishAlert(severity string, payload []byte) error {
	subject := fmt.Sprintf("%s.%s", AlertSubjectPrefix, severity)
	if _, err := b.js.Publish(subject, payload); err != nil {
		b.metrics.mu.Lock()
		b.metrics.PublishFailed++
		b.metrics.mu.Unlock()
		return fmt.Errorf("publishing alert to %s: %w", subject, err)
	}

	b.metrics.mu.Lock()
	b.metrics.AlertsPublished++
	b.metrics.mu.Unlock()
	return nil
}

// Close shuts down the event bus.
func (b *EventBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}

	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
		b.logger.Info().Msg("embedded NATS server stopped")
	}

	return nil
}

// IsConnected returns true if the NATS connection is active.
func (b *EventBus) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// GetMetrics returns a snapshot of bus metrics.
func (b *EventBus) GetMetrics() map[string]int64 {
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	return map[string]int64{
		"raw_published":    b.metrics.RawPublished,
		"raw_fetched":      b.metrics.RawFetched,
		"alerts_published": b.metrics.AlertsPublished,
		"publish_failed":   b.metrics.PublishFailed,
	}
}
