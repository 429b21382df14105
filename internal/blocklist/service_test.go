package blocklist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/grabarr/grabarr/internal/errs"
)

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	svc := NewService(NewMemStore(), nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, &now
}

func TestBlockNewEntry(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Block(ctx, "release-1", "indexer-1", ReasonConnectionTimeout, "Release 1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Reason != ReasonConnectionTimeout {
		t.Errorf("reason = %v", entry.Reason)
	}
	if entry.RetryCount != 0 {
		t.Errorf("retryCount = %d, want 0", entry.RetryCount)
	}
	if !entry.BlockedUntil.After(*now) {
		t.Error("new entry must block into the future")
	}

	blocked, err := svc.IsBlocked(ctx, "release-1", "indexer-1")
	if err != nil || !blocked {
		t.Errorf("IsBlocked = %v, %v; want true", blocked, err)
	}
}

func TestBlockRepeatTransientIncrementsRetry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Block(ctx, "r", "i", ReasonConnectionTimeout, "R", nil, nil)
	second, err := svc.Block(ctx, "r", "i", ReasonConnectionTimeout, "R", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.RetryCount != 1 {
		t.Errorf("retryCount = %d, want 1", second.RetryCount)
	}
	if !second.BlockedUntil.After(first.BlockedUntil) {
		t.Error("repeat block must extend the window")
	}

	// Still a single entry for the key.
	entries, _ := svc.Search(ctx, Query{ReleaseID: "r", Indexer: "i"})
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestBlockPermanentKeepsRetryCount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	entry, _ := svc.Block(ctx, "r", "i", ReasonManuallyRejected, "R", nil, nil)
	if entry.CanRetry() {
		t.Error("permanent reason must not allow retry")
	}
	if !entry.IsPermanentBlock() {
		t.Error("expected permanent block")
	}
	if !entry.BlockedUntil.Equal(PermanentBlockUntil) {
		t.Errorf("blockedUntil = %v, want sentinel", entry.BlockedUntil)
	}

	again, _ := svc.Block(ctx, "r", "i", ReasonManuallyRejected, "R", nil, nil)
	if again.RetryCount != 0 {
		t.Errorf("retryCount = %d, want 0 (unchanged for permanent reasons)", again.RetryCount)
	}
}

func TestBlockExpiresWithTime(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	_, _ = svc.Block(ctx, "r", "i", ReasonNetworkError, "R", nil, nil)
	blocked, _ := svc.IsBlocked(ctx, "r", "i")
	if !blocked {
		t.Fatal("expected blocked")
	}

	*now = now.Add(InitialBlock + time.Minute)
	blocked, _ = svc.IsBlocked(ctx, "r", "i")
	if blocked {
		t.Error("block must expire after the window passes")
	}
}

func TestUnblock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _ = svc.Block(ctx, "r", "i", ReasonConnectionTimeout, "R", nil, nil)
	if err := svc.Unblock(ctx, "r", "i", "operator request"); err != nil {
		t.Fatal(err)
	}
	blocked, _ := svc.IsBlocked(ctx, "r", "i")
	if blocked {
		t.Error("unblocked release still blocked")
	}
}

func TestSearchFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	movieID := uuid.New()

	_, _ = svc.Block(ctx, "release-1", "indexer-1", ReasonConnectionTimeout, "Release 1", &movieID, nil)
	_, _ = svc.Block(ctx, "release-2", "indexer-1", ReasonAuthenticationFailed, "Release 2", nil, nil)
	_, _ = svc.Block(ctx, "release-3", "indexer-2", ReasonConnectionTimeout, "Release 3", nil, nil)

	byIndexer, _ := svc.Search(ctx, Query{Indexer: "indexer-1"})
	if len(byIndexer) != 2 {
		t.Errorf("indexer-1 entries = %d, want 2", len(byIndexer))
	}

	byReason, _ := svc.Search(ctx, Query{}.WithReason(ReasonConnectionTimeout).Paginate(0, 10))
	if len(byReason) != 2 {
		t.Errorf("timeout entries = %d, want 2", len(byReason))
	}

	byMovie, _ := svc.Search(ctx, Query{MovieID: &movieID})
	if len(byMovie) != 1 {
		t.Errorf("movie entries = %d, want 1", len(byMovie))
	}

	limited, _ := svc.Search(ctx, Query{}.Paginate(0, 2))
	if len(limited) != 2 {
		t.Errorf("limited entries = %d, want 2", len(limited))
	}
}

func TestCleanupExpiredKeepsPermanent(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	_, _ = svc.Block(ctx, "transient", "i", ReasonNetworkError, "T", nil, nil)
	_, _ = svc.Block(ctx, "permanent", "i", ReasonManuallyRejected, "P", nil, nil)

	*now = now.Add(40 * 24 * time.Hour)
	removed, err := svc.CleanupExpired(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	blocked, _ := svc.IsBlocked(ctx, "permanent", "i")
	if !blocked {
		t.Error("permanent block must survive cleanup")
	}
}

func TestCleanupScopes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	movieID := uuid.New()

	_, _ = svc.Block(ctx, "release-1", "indexer-1", ReasonConnectionTimeout, "R1", &movieID, nil)
	_, _ = svc.Block(ctx, "release-2", "indexer-2", ReasonConnectionTimeout, "R2", &movieID, nil)
	_, _ = svc.Block(ctx, "release-3", "indexer-1", ReasonConnectionTimeout, "R3", nil, nil)

	n, _ := svc.CleanupMovie(ctx, movieID)
	if n != 2 {
		t.Errorf("movie cleanup removed %d, want 2", n)
	}

	n, _ = svc.CleanupIndexer(ctx, "indexer-1")
	if n != 1 {
		t.Errorf("indexer cleanup removed %d, want 1", n)
	}
}

func TestIndexerHealth(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	for _, r := range []string{"r1", "r2"} {
		_, _ = svc.Block(ctx, r, "test-indexer", ReasonConnectionTimeout, r, nil, nil)
	}

	health, err := svc.Health(ctx, "test-indexer", 24, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !health.IsHealthy || health.FailureCount != 2 {
		t.Errorf("health = %+v, want healthy with 2 failures", health)
	}

	for _, r := range []string{"r3", "r4", "r5", "r6"} {
		_, _ = svc.Block(ctx, r, "test-indexer", ReasonServerError, r, nil, nil)
	}
	health, _ = svc.Health(ctx, "test-indexer", 24, 5)
	if health.IsHealthy {
		t.Errorf("health = %+v, want unhealthy at 6 failures", health)
	}

	// Failures age out of the lookback window.
	*now = now.Add(48 * time.Hour)
	health, _ = svc.Health(ctx, "test-indexer", 24, 5)
	if !health.IsHealthy || health.FailureCount != 0 {
		t.Errorf("health after window = %+v, want healthy with 0", health)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason FailureReason
	}{
		{"timeout kind", errs.Timeout("idx", "search"), ReasonConnectionTimeout},
		{"auth kind", errs.Authentication("idx", "bad key"), ReasonAuthenticationFailed},
		{"rate limited kind", errs.RateLimited("idx", 0), ReasonRateLimited},
		{"network kind", errs.Network("idx", "op", errors.New("refused")), ReasonNetworkError},
		{"serialization kind", errs.Serialization("idx", "bad json", nil), ReasonParseError},
		{"io permission", errs.IO("permission denied: /mnt", nil), ReasonPermissionDenied},
		{"io disk full", errs.IO("no space left on device", nil), ReasonDiskFull},
		{"external with timeout message", errs.External("idx", "request timed out", nil), ReasonConnectionTimeout},
		{"external server error", errs.External("idx", "500 internal", nil), ReasonServerError},
		{"external stalled", errs.External("qbit", "download stalled", nil), ReasonDownloadStalled},
		{"plain error", errors.New("weird"), ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.reason {
				t.Errorf("ClassifyError = %v, want %v", got, tt.reason)
			}
		})
	}
}

func TestCanRetryExhaustion(t *testing.T) {
	entry := &Entry{Reason: ReasonNetworkError, RetryCount: 4, MaxRetries: 5}
	if !entry.CanRetry() {
		t.Error("retryCount below max should allow retry")
	}
	entry.RetryCount = 5
	if entry.CanRetry() {
		t.Error("retryCount at max must not allow retry")
	}
}

func TestBlockWindowDoubles(t *testing.T) {
	if blockWindow(0) != InitialBlock {
		t.Errorf("window(0) = %v", blockWindow(0))
	}
	if blockWindow(1) != 2*InitialBlock {
		t.Errorf("window(1) = %v", blockWindow(1))
	}
	if blockWindow(3) != 8*InitialBlock {
		t.Errorf("window(3) = %v", blockWindow(3))
	}
	if blockWindow(30) != MaxBlock {
		t.Errorf("window(30) = %v, want cap %v", blockWindow(30), MaxBlock)
	}
}
