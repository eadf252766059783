package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/howard-nolan/airouter/internal/metrics"
)

// Recorder is what the Dispatcher drives. *Sink satisfies it.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Dispatcher runs telemetry off the request path: a bounded queue feeding
// a fixed set of worker goroutines. Submit never blocks, and nothing a
// worker does (error or panic) reaches the submitter.
type Dispatcher struct {
	rec     Recorder
	jobs    chan Event
	timeout time.Duration
	workers int
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type DispatcherConfig struct {
	Recorder  Recorder
	Workers   int
	QueueSize int
	Timeout   time.Duration // per-event deadline, detached from the request
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		rec:     cfg.Recorder,
		jobs:    make(chan Event, cfg.QueueSize),
		timeout: cfg.Timeout,
		workers: cfg.Workers,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Start launches the workers. They exit once Close has drained the queue.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(slot int) {
			defer d.wg.Done()
			log := d.logger.With().Int("slot", slot).Logger()
			for ev := range d.jobs {
				d.run(log, ev)
			}
		}(i)
	}
}

// Submit queues ev and returns immediately. It reports false when the
// event was not queued: no user id, queue full, or dispatcher closed.
func (d *Dispatcher) Submit(ev Event) bool {
	if ev.UserID == "" {
		d.metrics.TelemetryResult("skipped")
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.TelemetryResult("dropped")
		return false
	}

	select {
	case d.jobs <- ev:
		return true
	default:
		d.logger.Warn().Str("event_type", ev.EventType).Msg("telemetry queue full, dropping event")
		d.metrics.TelemetryResult("dropped")
		return false
	}
}

// Close stops accepting events and waits for queued ones to finish, or
// for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining telemetry queue: %w", ctx.Err())
	}
}

// run records one event. This is the boundary where telemetry failures
// stop: errors and panics are logged and counted, never returned.
func (d *Dispatcher) run(log zerolog.Logger, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("telemetry recorder panicked")
			d.metrics.TelemetryResult("failed")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.rec.Record(ctx, ev); err != nil {
		log.Error().Err(err).Str("event_type", ev.EventType).Msg("telemetry record failed")
		d.metrics.TelemetryResult("failed")
		return
	}
	d.metrics.TelemetryResult("recorded")
}
