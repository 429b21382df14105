// Package ratelimit paces outbound requests to a single external service.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrSkipDueToFailures is returned by Acquire when the service has failed
// repeatedly in the recent window. Callers should fail fast instead of
// spending budget on a dead service.
var ErrSkipDueToFailures = errors.New("skipping request due to recent failures")

// Default configuration values
const (
	DefaultWindow           = time.Hour
	DefaultFailureThreshold = 10
	DefaultFailureWindow    = 10 * time.Minute
)

// Config holds rate limiter configuration for one service.
type Config struct {
	// RequestsPerWindow is the request budget per window.
	// 0 or negative means unlimited.
	RequestsPerWindow int

	// Window is the budget window (default: 1h).
	Window time.Duration

	// MinInterval is the minimum gap between consecutive requests.
	// 0 means no pacing.
	MinInterval time.Duration

	// FailureThreshold is the number of recent failures at or above which
	// Acquire fails fast (default: 10). Negative disables the check.
	FailureThreshold int

	// FailureWindow is how far back failures count (default: 10m).
	FailureWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = DefaultFailureWindow
	}
	return c
}

// Limiter enforces a per-window request budget and a minimum inter-request
// gap. Acquire blocks cooperatively until the caller may issue a request.
// Safe for concurrent use.
type Limiter struct {
	cfg   Config
	pacer *rate.Limiter

	mu          sync.Mutex
	windowStart time.Time
	windowCount int
	failures    []time.Time

	now func() time.Time
}

// New creates a limiter for one service.
func New(cfg Config) *Limiter {
	cfg = cfg.withDefaults()

	var pacer *rate.Limiter
	if cfg.MinInterval > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	l := &Limiter{
		cfg:   cfg,
		pacer: pacer,
		now:   time.Now,
	}
	l.windowStart = l.now()
	return l
}

// Acquire blocks until the caller is allowed to issue a request, or returns
// ErrSkipDueToFailures when the service looks dead, or the context error if
// cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.skipDueToFailures() {
		return ErrSkipDueToFailures
	}

	for {
		wait, ok := l.tryReserve()
		if ok {
			break
		}
		// Budget exhausted: sleep until the window rolls.
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if l.pacer != nil {
		if err := l.pacer.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// tryReserve consumes one unit of budget if available, otherwise returns
// how long to wait for the window to roll.
func (l *Limiter) tryReserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.windowStart) >= l.cfg.Window {
		l.windowStart = now
		l.windowCount = 0
	}

	if l.cfg.RequestsPerWindow > 0 && l.windowCount >= l.cfg.RequestsPerWindow {
		return l.windowStart.Add(l.cfg.Window).Sub(now), false
	}

	l.windowCount++
	return 0, true
}

// RecordFailure notes a failed request against the service.
func (l *Limiter) RecordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneFailures()
	l.failures = append(l.failures, l.now())
}

// RecordSuccess clears the recent failure history. One good response means
// the service is back.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = l.failures[:0]
}

func (l *Limiter) skipDueToFailures() bool {
	if l.cfg.FailureThreshold < 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneFailures()
	return len(l.failures) >= l.cfg.FailureThreshold
}

// pruneFailures drops failures outside the window. Caller holds the lock.
func (l *Limiter) pruneFailures() {
	cutoff := l.now().Add(-l.cfg.FailureWindow)
	kept := l.failures[:0]
	for _, ts := range l.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.failures = kept
}

// Status is a snapshot of limiter state for monitoring.
type Status struct {
	WindowStart    time.Time
	RequestsUsed   int
	RequestsBudget int
	RecentFailures int
}

// Status returns the current limiter status.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneFailures()
	return Status{
		WindowStart:    l.windowStart,
		RequestsUsed:   l.windowCount,
		RequestsBudget: l.cfg.RequestsPerWindow,
		RecentFailures: len(l.failures),
	}
}
