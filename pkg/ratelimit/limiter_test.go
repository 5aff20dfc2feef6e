package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock advances only when the limiter sleeps.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) slept() time.Duration {
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(cfg, zerolog.Nop())
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func TestLimiter_FirstCallDoesNotWait(t *testing.T) {
	l, clock := newTestLimiter(Config{Interval: DefaultInterval})

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("Wait() slept %v, want no sleep", clock.sleeps)
	}
}

func TestLimiter_EnforcesInterval(t *testing.T) {
	l, clock := newTestLimiter(Config{Interval: 1100 * time.Millisecond})
	ctx := context.Background()

	if err := l.MarkCall(ctx); err != nil {
		t.Fatalf("MarkCall() error = %v", err)
	}
	clock.now = clock.now.Add(250 * time.Millisecond)

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if got, want := clock.slept(), 850*time.Millisecond; got != want {
		t.Errorf("total sleep = %v, want %v", got, want)
	}
	for _, d := range clock.sleeps {
		if d > PollInterval {
			t.Errorf("sleep step %v exceeds poll interval %v", d, PollInterval)
		}
	}
}

func TestLimiter_ExtraDelay(t *testing.T) {
	l, clock := newTestLimiter(Config{Interval: time.Second, ExtraDelay: 2 * time.Second})
	ctx := context.Background()

	if err := l.MarkCall(ctx); err != nil {
		t.Fatalf("MarkCall() error = %v", err)
	}
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	// The extra delay already covers the interval.
	if got, want := clock.slept(), 2*time.Second; got != want {
		t.Errorf("total sleep = %v, want %v", got, want)
	}
}

func TestLimiter_SharedStore(t *testing.T) {
	store := NewMemoryStore()
	a, clock := newTestLimiter(Config{Interval: time.Second, Store: store})
	b := NewLimiter(Config{Interval: time.Second, Store: store}, zerolog.Nop())
	b.now = clock.Now
	b.sleep = clock.Sleep
	ctx := context.Background()

	if err := a.MarkCall(ctx); err != nil {
		t.Fatalf("MarkCall() error = %v", err)
	}
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := clock.slept(); got != time.Second {
		t.Errorf("second limiter slept %v, want %v", got, time.Second)
	}
}

func TestLimiter_Cancelled(t *testing.T) {
	l, clock := newTestLimiter(Config{Interval: time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.MarkCall(ctx); err != nil {
		t.Fatalf("MarkCall() error = %v", err)
	}
	cancel()

	err := l.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("cancelled Wait() slept %v", clock.sleeps)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext() error = %v, want context.Canceled", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepContext() error = %v, want nil", err)
	}
}
