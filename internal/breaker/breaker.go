// Package breaker provides a per-service circuit breaker for outbound calls.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grabarr/grabarr/internal/errs"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed passes all calls through.
	StateClosed State = iota
	// StateOpen rejects all calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen permits a single probe call at a time.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Default configuration values
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 3
	DefaultResetTimeout     = 60 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
)

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies the guarded service in errors, logs, and metrics.
	Name string

	// FailureThreshold is the number of consecutive failures that opens
	// the circuit (default: 5).
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// that closes the circuit (default: 3).
	SuccessThreshold int

	// ResetTimeout is how long the circuit stays open before permitting
	// a probe (default: 60s).
	ResetTimeout time.Duration

	// RequestTimeout bounds each call through the breaker (default: 30s).
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Metrics is a point-in-time snapshot of breaker counters.
type Metrics struct {
	State                State
	TotalRequests        int64
	TotalSuccesses       int64
	TotalFailures        int64
	TotalRejections      int64
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastSuccess          time.Time
	LastFailure          time.Time
	OpenUntil            time.Time
}

// Breaker is a per-service circuit breaker. Every outbound call to the
// guarded service runs through Call, which enforces the request timeout and
// updates the state machine. Safe for concurrent use.
type Breaker struct {
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	openUntil     time.Time
	probeInFlight bool

	consecFailures  int
	consecSuccesses int
	totalRequests   int64
	totalSuccesses  int64
	totalFailures   int64
	totalRejections int64
	lastSuccess     time.Time
	lastFailure     time.Time

	now func() time.Time
}

// New creates a circuit breaker in the closed state.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:    cfg.withDefaults(),
		logger: logger.With(zap.String("service", cfg.Name)),
		state:  StateClosed,
		now:    time.Now,
	}
}

// Name returns the guarded service name.
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// Call runs op through the breaker under the configured request timeout.
// When the circuit is open the op is not invoked and a circuit-open error
// is returned. Errors that reflect a stable server state (validation,
// not-found) surface to the caller without counting toward the threshold.
func (b *Breaker) Call(ctx context.Context, op func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	err := op(callCtx)
	cancel()

	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = errs.Timeout(b.cfg.Name, "call")
	}

	b.record(err)
	return err
}

// Do runs a value-returning op through breaker b.
func Do[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Call(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// acquire decides whether a call may proceed, applying the open→half-open
// transition when the reset deadline has passed.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.totalRequests++
		return nil

	case StateOpen:
		if b.now().Before(b.openUntil) {
			b.totalRejections++
			return errs.CircuitOpen(b.cfg.Name)
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		b.consecSuccesses = 0
		b.totalRequests++
		b.logger.Info("circuit breaker half-open, probing")
		return nil

	case StateHalfOpen:
		if b.probeInFlight {
			b.totalRejections++
			return errs.CircuitOpen(b.cfg.Name)
		}
		b.probeInFlight = true
		b.totalRequests++
		return nil
	}

	b.totalRejections++
	return errs.CircuitOpen(b.cfg.Name)
}

// record applies the call outcome to the state machine.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}

	if err == nil {
		b.onSuccess()
		return
	}
	if !errs.IsBreakerFailure(err) {
		// Stable server state; neither a success nor a failure.
		return
	}
	b.onFailure()
}

func (b *Breaker) onSuccess() {
	b.totalSuccesses++
	b.lastSuccess = b.now()
	b.consecFailures = 0

	if b.state == StateHalfOpen {
		b.consecSuccesses++
		if b.consecSuccesses >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.consecSuccesses = 0
			b.logger.Info("circuit breaker closed")
		}
	}
}

func (b *Breaker) onFailure() {
	b.totalFailures++
	b.lastFailure = b.now()
	b.consecSuccesses = 0

	switch b.state {
	case StateClosed:
		b.consecFailures++
		if b.consecFailures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

// trip opens the circuit. Caller holds the lock.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openUntil = b.now().Add(b.cfg.ResetTimeout)
	b.logger.Warn("circuit breaker opened",
		zap.Int("consecutiveFailures", b.consecFailures),
		zap.Time("openUntil", b.openUntil))
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the breaker counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		State:                b.state,
		TotalRequests:        b.totalRequests,
		TotalSuccesses:       b.totalSuccesses,
		TotalFailures:        b.totalFailures,
		TotalRejections:      b.totalRejections,
		ConsecutiveFailures:  b.consecFailures,
		ConsecutiveSuccesses: b.consecSuccesses,
		LastSuccess:          b.lastSuccess,
		LastFailure:          b.lastFailure,
		OpenUntil:            b.openUntil,
	}
}

// ForceClose closes the circuit regardless of state. Operator use only.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecFailures = 0
	b.consecSuccesses = 0
	b.probeInFlight = false
	b.logger.Info("circuit breaker force-closed")
}

// ResetMetrics clears all counters without touching the state machine.
func (b *Breaker) ResetMetrics() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalRequests = 0
	b.totalSuccesses = 0
	b.totalFailures = 0
	b.totalRejections = 0
	b.lastSuccess = time.Time{}
	b.lastFailure = time.Time{}
}
