package queue

import (
	"context"

	"github.com/google/uuid"
)

// Stats aggregates the queue for monitoring and the status CLI.
type Stats struct {
	Counts map[Status]int

	TotalItems         int
	ActiveDownloads    int
	TotalDownloadSpeed int64
	TotalUploadSpeed   int64
	TotalDownloaded    int64
	TotalUploaded      int64
}

// Store is the queue persistence contract. Implementations must be safe for
// concurrent callers; atomicity is per operation. Updates are keyed by item
// ID so each item's transitions stay totally ordered.
type Store interface {
	Add(ctx context.Context, item *Item) error
	Get(ctx context.Context, id uuid.UUID) (*Item, error)
	GetByClientID(ctx context.Context, clientID string) (*Item, error)

	// List returns items, optionally filtered by status.
	List(ctx context.Context, status *Status) ([]*Item, error)
	ListForMovie(ctx context.Context, movieID uuid.UUID) ([]*Item, error)

	Update(ctx context.Context, item *Item) error
	Delete(ctx context.Context, id uuid.UUID) error

	Stats(ctx context.Context) (Stats, error)

	// RetryCandidates returns failed items whose retry budget is not
	// exhausted.
	RetryCandidates(ctx context.Context) ([]*Item, error)
}
