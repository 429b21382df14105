package blocklist

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Block-window schedule for transient failures. The window doubles with
// each retry, starting at InitialBlock and capped at MaxBlock.
const (
	InitialBlock = time.Hour
	MaxBlock     = 7 * 24 * time.Hour
)

// IndexerHealth summarizes an indexer's recent failure history.
type IndexerHealth struct {
	Indexer      string
	IsHealthy    bool
	FailureCount int
}

// Service applies the blocklist policy on top of a Store.
type Service struct {
	store      Store
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

// NewService creates a blocklist service.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
}

// Block records a failure for (releaseID, indexer). A new entry blocks for
// the initial window (or permanently for permanent reasons). Repeat blocks
// with a transient reason increment the retry counter and double the
// window; repeat blocks with a permanent reason leave the counter alone.
func (s *Service) Block(ctx context.Context, releaseID, indexer string, reason FailureReason, title string, movieID *uuid.UUID, metadata map[string]string) (*Entry, error) {
	now := s.now()

	existing, err := s.store.Get(ctx, releaseID, indexer)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		existing.Reason = reason
		existing.UpdatedAt = now
		if reason.Permanent() {
			existing.BlockedUntil = PermanentBlockUntil
		} else {
			existing.RetryCount++
			existing.BlockedUntil = now.Add(blockWindow(existing.RetryCount))
		}
		if err := s.store.Update(ctx, existing); err != nil {
			return nil, err
		}
		s.logger.Info("release re-blocked",
			zap.String("releaseID", releaseID),
			zap.String("indexer", indexer),
			zap.String("reason", string(reason)),
			zap.Int("retryCount", existing.RetryCount))
		return existing, nil
	}

	entry := &Entry{
		ID:         uuid.New(),
		ReleaseID:  releaseID,
		Indexer:    indexer,
		Reason:     reason,
		RetryCount: 0,
		MaxRetries: s.maxRetries,
		Title:      title,
		MovieID:    movieID,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if reason.Permanent() {
		entry.BlockedUntil = PermanentBlockUntil
	} else {
		entry.BlockedUntil = now.Add(blockWindow(0))
	}

	if err := s.store.Add(ctx, entry); err != nil {
		return nil, err
	}
	s.logger.Info("release blocked",
		zap.String("releaseID", releaseID),
		zap.String("indexer", indexer),
		zap.String("reason", string(reason)),
		zap.Time("blockedUntil", entry.BlockedUntil))
	return entry, nil
}

// BlockForError classifies err and blocks the release under the derived
// reason.
func (s *Service) BlockForError(ctx context.Context, releaseID, indexer string, err error, title string, movieID *uuid.UUID) (*Entry, error) {
	return s.Block(ctx, releaseID, indexer, ClassifyError(err), title, movieID, nil)
}

// IsBlocked reports whether an active (unexpired) entry exists for the key.
func (s *Service) IsBlocked(ctx context.Context, releaseID, indexer string) (bool, error) {
	entry, err := s.store.Get(ctx, releaseID, indexer)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	return entry.BlockedUntil.After(s.now()), nil
}

// Unblock removes the entry for the key.
func (s *Service) Unblock(ctx context.Context, releaseID, indexer, note string) error {
	if err := s.store.Delete(ctx, releaseID, indexer); err != nil {
		return err
	}
	s.logger.Info("release unblocked",
		zap.String("releaseID", releaseID),
		zap.String("indexer", indexer),
		zap.String("note", note))
	return nil
}

// Search returns entries matching the query, newest first.
func (s *Service) Search(ctx context.Context, q Query) ([]*Entry, error) {
	return s.store.Search(ctx, q)
}

// CleanupExpired removes expired entries created more than olderThanDays
// ago. Permanent blocks carry the sentinel deadline and are never expired,
// so they survive cleanup.
func (s *Service) CleanupExpired(ctx context.Context, olderThanDays int) (int, error) {
	now := s.now()
	cutoff := now.Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	removed, err := s.store.DeleteWhere(ctx, cutoff, now)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("blocklist cleanup", zap.Int("removed", removed))
	}
	return removed, nil
}

// CleanupMovie removes all entries recorded for a movie.
func (s *Service) CleanupMovie(ctx context.Context, movieID uuid.UUID) (int, error) {
	return s.store.DeleteForMovie(ctx, movieID)
}

// CleanupIndexer removes all entries recorded for an indexer.
func (s *Service) CleanupIndexer(ctx context.Context, indexer string) (int, error) {
	return s.store.DeleteForIndexer(ctx, indexer)
}

// Health counts failures for the indexer inside the lookback window and
// compares against the threshold.
func (s *Service) Health(ctx context.Context, indexer string, lookbackHours, failureThreshold int) (IndexerHealth, error) {
	since := s.now().Add(-time.Duration(lookbackHours) * time.Hour)
	count, err := s.store.CountSince(ctx, indexer, since)
	if err != nil {
		return IndexerHealth{}, err
	}
	return IndexerHealth{
		Indexer:      indexer,
		IsHealthy:    count < failureThreshold,
		FailureCount: count,
	}, nil
}

// blockWindow returns the re-block window after the given retry count.
func blockWindow(retryCount int) time.Duration {
	window := InitialBlock
	for i := 0; i < retryCount; i++ {
		window *= 2
		if window >= MaxBlock {
			return MaxBlock
		}
	}
	return window
}
