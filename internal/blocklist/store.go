package blocklist

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Query filters blocklist searches. Results are ordered by creation time,
// newest first.
type Query struct {
	Indexer   string
	Reason    *FailureReason
	MovieID   *uuid.UUID
	ReleaseID string

	// ActiveOnly restricts to unexpired entries; ExpiredOnly to expired.
	// Both false returns everything.
	ActiveOnly  bool
	ExpiredOnly bool

	Offset int
	Limit  int
}

// WithReason restricts the query to one failure reason.
func (q Query) WithReason(r FailureReason) Query {
	q.Reason = &r
	return q
}

// Paginate sets the result window.
func (q Query) Paginate(offset, limit int) Query {
	q.Offset = offset
	q.Limit = limit
	return q
}

// Store is the blocklist persistence contract. Implementations must be safe
// for concurrent callers; atomicity is per operation.
type Store interface {
	Add(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, releaseID, indexer string) (*Entry, error)
	Update(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, releaseID, indexer string) error
	Search(ctx context.Context, q Query) ([]*Entry, error)

	// DeleteWhere removes entries older than cutoff that are expired as of
	// now. Returns the number removed.
	DeleteWhere(ctx context.Context, cutoff, now time.Time) (int, error)

	// DeleteForMovie and DeleteForIndexer drop all entries in scope.
	DeleteForMovie(ctx context.Context, movieID uuid.UUID) (int, error)
	DeleteForIndexer(ctx context.Context, indexer string) (int, error)

	// CountSince counts entries for the indexer created at or after since.
	CountSince(ctx context.Context, indexer string, since time.Time) (int, error)
}
