package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/grabarr/grabarr/internal/errs"
)

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *time.Time) {
	t.Helper()
	b := New(cfg, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func failingOp(ctx context.Context) error {
	return errs.Network("test", "op", errors.New("connection refused"))
}

func succeedingOp(ctx context.Context) error {
	return nil
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "test", FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Call(ctx, failingOp); err == nil {
			t.Fatal("expected failure")
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	// Fourth call is rejected without invoking the op
	invoked := false
	err := b.Call(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if errs.KindOf(err) != errs.KindCircuitOpen {
		t.Errorf("err kind = %v, want circuit_open", errs.KindOf(err))
	}
	if invoked {
		t.Error("op must not run while circuit is open")
	}

	m := b.Metrics()
	if m.TotalRejections != 1 {
		t.Errorf("rejections = %d, want 1", m.TotalRejections)
	}
	if m.TotalFailures != 3 {
		t.Errorf("failures = %d, want 3", m.TotalFailures)
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(t, Config{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 2,
		ResetTimeout:     time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = b.Call(ctx, failingOp)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	// Before the deadline, still rejected
	if err := b.Call(ctx, succeedingOp); errs.KindOf(err) != errs.KindCircuitOpen {
		t.Fatalf("expected rejection before reset deadline, got %v", err)
	}

	// Advance past the deadline: next call is the probe
	*now = now.Add(61 * time.Second)
	if err := b.Call(ctx, succeedingOp); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half_open after one success", b.State())
	}

	// Second success closes the circuit
	if err := b.Call(ctx, succeedingOp); err != nil {
		t.Fatalf("second probe failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t, Config{Name: "test", FailureThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = b.Call(ctx, failingOp)
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	*now = now.Add(2 * time.Minute)
	_ = b.Call(ctx, failingOp)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}

	m := b.Metrics()
	if !m.OpenUntil.After(*now) {
		t.Error("failed probe should set a fresh open deadline")
	}
}

func TestHalfOpenSingleProbe(t *testing.T) {
	b, now := newTestBreaker(t, Config{Name: "test", FailureThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = b.Call(ctx, failingOp)
	*now = now.Add(2 * time.Minute)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Call(ctx, func(ctx context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// While the probe is in flight, a concurrent call is rejected.
	err := b.Call(ctx, succeedingOp)
	if errs.KindOf(err) != errs.KindCircuitOpen {
		t.Errorf("concurrent call during probe: kind = %v, want circuit_open", errs.KindOf(err))
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
}

func TestNeutralErrorsDoNotCount(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "test", FailureThreshold: 2})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = b.Call(ctx, func(ctx context.Context) error {
			return errs.Validation("query", "empty")
		})
	}
	if b.State() != StateClosed {
		t.Errorf("validation errors must not trip the breaker, state = %v", b.State())
	}

	for i := 0; i < 10; i++ {
		_ = b.Call(ctx, func(ctx context.Context) error {
			return errs.NotFound("test", "gone")
		})
	}
	if b.State() != StateClosed {
		t.Errorf("not-found errors must not trip the breaker, state = %v", b.State())
	}
}

func TestTimeoutCountsAsFailure(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 1, RequestTimeout: 10 * time.Millisecond}, nil)
	ctx := context.Background()

	err := b.Call(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if errs.KindOf(err) != errs.KindTimeout {
		t.Fatalf("err kind = %v, want timeout", errs.KindOf(err))
	}
	if b.State() != StateOpen {
		t.Errorf("timeout should count toward the failure threshold, state = %v", b.State())
	}
}

func TestDoReturnsValue(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "test"})

	got, err := Do(context.Background(), b, func(ctx context.Context) (string, error) {
		return "client-42", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "client-42" {
		t.Errorf("got %q", got)
	}

	_, err = Do(context.Background(), b, func(ctx context.Context) (string, error) {
		return "", errs.Network("test", "op", nil)
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestForceCloseAndResetMetrics(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "test", FailureThreshold: 1})
	ctx := context.Background()

	_ = b.Call(ctx, failingOp)
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	b.ForceClose()
	if b.State() != StateClosed {
		t.Error("force close should close the circuit")
	}
	if err := b.Call(ctx, succeedingOp); err != nil {
		t.Errorf("call after force close: %v", err)
	}

	b.ResetMetrics()
	m := b.Metrics()
	if m.TotalRequests != 0 || m.TotalFailures != 0 || m.TotalSuccesses != 0 {
		t.Errorf("metrics not cleared: %+v", m)
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "test", FailureThreshold: 3})
	ctx := context.Background()

	_ = b.Call(ctx, failingOp)
	_ = b.Call(ctx, failingOp)
	_ = b.Call(ctx, succeedingOp)
	_ = b.Call(ctx, failingOp)
	_ = b.Call(ctx, failingOp)

	if b.State() != StateClosed {
		t.Errorf("interleaved success must reset the failure count, state = %v", b.State())
	}
}
