// Package queue tracks download lifecycles and drives the external
// download client.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/grabarr/grabarr/internal/errs"
)

// Priority orders queued items for admission. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityVeryHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityVeryHigh:
		return "very_high"
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Status is the internal download lifecycle state.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusStalled     Status = "stalled"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusImporting   Status = "importing"
	StatusImported    Status = "imported"
)

// DefaultMaxRetries bounds automatic retries of a failed item.
const DefaultMaxRetries = 3

// Item is the authoritative record for one in-flight or finished download.
type Item struct {
	ID        uuid.UUID
	MovieID   uuid.UUID
	ReleaseID string
	Indexer   string

	Title        string
	DownloadURL  string
	Category     string
	DownloadPath string

	Priority Priority
	Status   Status

	Progress        float64 // 0.0 - 1.0
	DownloadedBytes int64
	UploadedBytes   int64
	DownloadSpeed   int64
	UploadSpeed     int64
	ETASeconds      int64
	Seeders         int
	Leechers        int

	// ClientID is assigned by the external download client at dispatch;
	// empty while the item is queued.
	ClientID string

	RetryCount int
	MaxRetries int
	LastError  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewItem creates a queued item for a grabbed release.
func NewItem(movieID uuid.UUID, releaseID, indexer, title, downloadURL string, priority Priority) *Item {
	now := time.Now().UTC()
	return &Item{
		ID:          uuid.New(),
		MovieID:     movieID,
		ReleaseID:   releaseID,
		Indexer:     indexer,
		Title:       title,
		DownloadURL: downloadURL,
		Priority:    priority,
		Status:      StatusQueued,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the item invariants.
func (i *Item) Validate() error {
	if i.Status == StatusDownloading && i.ClientID == "" {
		return errs.Validation("client_id", "downloading item must carry a client id")
	}
	if i.Status == StatusCompleted && i.Progress < 1.0 {
		return errs.Validation("progress", "completed item must be at 1.0")
	}
	if i.Progress < 0 || i.Progress > 1.0 {
		return errs.Validation("progress", "must be within [0, 1]")
	}
	if i.RetryCount > i.MaxRetries {
		return errs.Validation("retry_count", "must not exceed max_retries")
	}
	return nil
}

// MarkDownloading records a successful dispatch.
func (i *Item) MarkDownloading(clientID string) {
	i.ClientID = clientID
	i.Status = StatusDownloading
	i.LastError = ""
	i.UpdatedAt = time.Now().UTC()
}

// SetError records a failure message without changing the status.
func (i *Item) SetError(msg string) {
	i.LastError = msg
	i.UpdatedAt = time.Now().UTC()
}

// Fail moves the item to the failed state with a message.
func (i *Item) Fail(msg string) {
	i.Status = StatusFailed
	i.LastError = msg
	i.UpdatedAt = time.Now().UTC()
}

// ExhaustRetries marks the item permanently failed for the retry loop.
func (i *Item) ExhaustRetries() {
	i.RetryCount = i.MaxRetries
}

// CanRetry reports whether the retry loop may requeue the item.
func (i *Item) CanRetry() bool {
	return i.RetryCount < i.MaxRetries
}

// ResetForRetry requeues a failed item. The previous client id is
// discarded and never reused.
func (i *Item) ResetForRetry() {
	i.ClientID = ""
	i.LastError = ""
	i.Progress = 0
	i.DownloadedBytes = 0
	i.DownloadSpeed = 0
	i.UploadSpeed = 0
	i.ETASeconds = 0
	i.RetryCount++
	i.Status = StatusQueued
	i.UpdatedAt = time.Now().UTC()
}

// IsCompleted reports whether the download finished.
func (i *Item) IsCompleted() bool {
	return i.Status == StatusCompleted
}

// IsActive reports whether the item occupies a download slot.
func (i *Item) IsActive() bool {
	return i.Status == StatusDownloading
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	cp := *i
	return &cp
}
