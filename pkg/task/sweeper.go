package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxAge          = time.Hour
	DefaultCleanupInterval = 5 * time.Minute
)

// Cleaner is implemented by stores that can drop finished tasks.
type Cleaner interface {
	CleanupCompleted(maxAge time.Duration) int
}

// Sweeper periodically removes terminal tasks older than MaxAge.
type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	maxAge   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper returns a stopped sweeper. A non-positive interval disables it.
func NewSweeper(cleaner Cleaner, interval, maxAge time.Duration) *Sweeper {
	return &Sweeper{cleaner: cleaner, interval: interval, maxAge: maxAge}
}

// Start launches the sweep loop. Calling Start on a running sweeper restarts it.
func (s *Sweeper) Start() {
	log := slog.Default()
	if s.interval <= 0 || s.cleaner == nil {
		log.Info("task.sweeper.disabled", slog.Duration("interval", s.interval))
		return
	}
	s.Stop()
	initSweepMetrics()

	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		log.Info("task.sweeper.start",
			slog.Duration("interval", s.interval),
			slog.Duration("max_age", s.maxAge),
		)
		for {
			select {
			case <-ctx.Done():
				log.Info("task.sweeper.stop")
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs one cleanup pass and returns the number of removed tasks.
func (s *Sweeper) Sweep(ctx context.Context) int {
	initSweepMetrics()
	ctx, span := otel.Tracer("agora/task").Start(ctx, "task.sweep",
		trace.WithAttributes(attribute.String("max_age", s.maxAge.String())),
	)
	defer span.End()

	start := time.Now()
	removed := s.cleaner.CleanupCompleted(s.maxAge)
	durationMs := float64(time.Since(start).Microseconds()) / 1000

	sweepCounter.Add(ctx, 1)
	sweepLatencyMs.Record(ctx, durationMs)
	if removed > 0 {
		removedCounter.Add(ctx, int64(removed))
	}
	span.SetAttributes(
		attribute.Int("removed", removed),
		attribute.Float64("duration_ms", durationMs),
	)
	slog.Default().InfoContext(ctx, "task.sweeper.sweep",
		slog.Int("removed", removed),
		slog.Float64("duration_ms", durationMs),
	)
	return removed
}

// Stop halts the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

var (
	sweepMetricsOnce sync.Once
	sweepCounter     metric.Int64Counter
	removedCounter   metric.Int64Counter
	sweepLatencyMs   metric.Float64Histogram
)

func initSweepMetrics() {
	sweepMetricsOnce.Do(func() {
		meter := otel.Meter("agora/task")
		sweepCounter, _ = meter.Int64Counter("agora.task.sweep.count")
		removedCounter, _ = meter.Int64Counter("agora.task.sweep.removed.count")
		sweepLatencyMs, _ = meter.Float64Histogram("agora.task.sweep.latency_ms")
	})
}
