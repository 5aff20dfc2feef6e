package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for limiter waits.
var (
	waitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_rate_limit_wait_seconds",
		Help:    "Time spent waiting for the minimum call interval",
		Buckets: []float64{0, .1, .25, .5, 1, 2, 5},
	})

	throttlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_rate_limit_throttles_total",
		Help: "Total number of calls that had to wait for the interval",
	})
)

// Config configures a Limiter.
type Config struct {
	// Interval is the minimum time between the end of one call and the start of the next.
	Interval time.Duration
	// ExtraDelay is slept unconditionally before every call.
	ExtraDelay time.Duration
	// Store holds the shared state. Defaults to a MemoryStore.
	Store StateStore
}

// Limiter gates calls so that consecutive calls are at least Interval apart.
type Limiter struct {
	interval   time.Duration
	extraDelay time.Duration
	store      StateStore
	logger     zerolog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewLimiter creates a limiter from cfg.
func NewLimiter(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	return &Limiter{
		interval:   cfg.Interval,
		extraDelay: cfg.ExtraDelay,
		store:      cfg.Store,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// State returns the current limiter snapshot.
func (l *Limiter) State(ctx context.Context) (State, error) {
	last, err := l.store.LastCall(ctx)
	if err != nil {
		return State{}, fmt.Errorf("get rate limit state: %w", err)
	}
	return State{LastCall: last, Interval: l.interval}, nil
}

// Wait blocks until the next call is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := l.now()

	if l.extraDelay > 0 {
		if err := l.sleep(ctx, l.extraDelay); err != nil {
			return err
		}
	}

	throttled := false
	for {
		state, err := l.State(ctx)
		if err != nil {
			return err
		}

		remaining := state.TimeUntilNext(l.now())
		if remaining <= 0 {
			break
		}
		if !throttled {
			throttled = true
			throttlesTotal.Inc()
			l.logger.Debug().Dur("wait", remaining).Msg("Waiting for call interval")
		}

		step := PollInterval
		if remaining < step {
			step = remaining
		}
		if err := l.sleep(ctx, step); err != nil {
			return err
		}
	}

	waitDuration.Observe(l.now().Sub(start).Seconds())
	return nil
}

// MarkCall records that a call has just completed.
func (l *Limiter) MarkCall(ctx context.Context) error {
	if err := l.store.SetLastCall(ctx, l.now()); err != nil {
		return fmt.Errorf("mark call: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
