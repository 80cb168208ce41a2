package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/storage"
	"github.com/strellerminds/pulse/internal/telemetry"
)

// maxBufferCapacity is the hard upper limit on buffered samples to prevent
// OOM. When this limit is reached, enqueue applies backpressure by returning
// an error.
const maxBufferCapacity = 100_000

// buffer accumulates validated samples in memory and flushes them to the
// store when either the batch size or the flush interval is reached. Readers
// that need not-yet-flushed samples must call FlushNow first; analytics in
// this engine tolerate the interval of staleness instead.
type buffer struct {
	store         storage.MetricStore
	logger        *slog.Logger
	maxSize       int
	flushInterval time.Duration

	mu      sync.Mutex
	samples []model.MetricSample

	droppedSamples atomic.Int64 // total samples dropped after a failed flush at capacity

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context // set by Drain so the final flush respects the caller's deadline
}

func newBuffer(store storage.MetricStore, logger *slog.Logger, maxSize int, flushInterval time.Duration) *buffer {
	return &buffer{
		store:         store,
		logger:        logger,
		maxSize:       maxSize,
		flushInterval: flushInterval,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL gauges. Call
// Drain to stop.
func (b *buffer) Start(ctx context.Context) {
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// enqueue adds samples to the buffer. Returns an error when the buffer is at
// capacity (backpressure); the caller should retry later.
func (b *buffer) enqueue(samples []model.MetricSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples)+len(samples) > maxBufferCapacity {
		return fmt.Errorf("monitor: ingest buffer at capacity (%d samples), try again later", len(b.samples))
	}
	b.samples = append(b.samples, samples...)

	if len(b.samples) >= b.maxSize {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *buffer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; the final flush runs on the drain
			// context, which carries the caller's deadline.
			if b.drainCtx != nil {
				b.flush(b.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				b.flush(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushCh:
			b.flush(ctx)
		}
	}
}

func (b *buffer) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.samples) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.samples
	b.samples = nil
	b.mu.Unlock()

	start := time.Now()
	err := b.store.AppendSamples(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		b.logger.Error("monitor: flush failed", "error", err, "batch_size", len(batch))
		// Put samples back for retry, respecting the capacity limit.
		b.mu.Lock()
		if len(b.samples)+len(batch) <= maxBufferCapacity {
			b.samples = append(batch, b.samples...)
		} else {
			b.droppedSamples.Add(int64(len(batch)))
			b.logger.Error("monitor: dropping samples, buffer at capacity after flush failure", "dropped", len(batch))
		}
		b.mu.Unlock()
		return
	}

	b.logger.Info("monitor: batch flushed",
		"batch_size", len(batch),
		"flush_duration_ms", duration.Milliseconds(),
	)
}

// FlushNow forces a synchronous flush of everything currently buffered.
func (b *buffer) FlushNow(ctx context.Context) {
	b.flush(ctx)
}

// Drain signals the flush loop to stop, waits for its final flush, and
// returns. The ctx bounds the wait and is passed to the final flush.
func (b *buffer) Drain(ctx context.Context) {
	b.drainCtx = ctx
	if b.cancelLoop != nil {
		b.cancelLoop()
	}
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("monitor: drain timed out waiting for flush loop")
	}
}

func (b *buffer) registerMetrics() {
	meter := telemetry.Meter("pulse/ingest")

	_, _ = meter.Int64ObservableGauge("pulse.ingest.buffer_depth",
		metric.WithDescription("Current number of samples in the ingest buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("pulse.ingest.dropped_total",
		metric.WithDescription("Total samples dropped due to buffer capacity exhaustion"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.droppedSamples.Load())
			return nil
		}),
	)
}

// Len returns the current number of buffered samples.
func (b *buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}
