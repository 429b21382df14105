package blocklist

import (
	"time"

	"github.com/google/uuid"
)

// PermanentBlockUntil is the sentinel deadline used for permanent blocks.
var PermanentBlockUntil = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// DefaultMaxRetries bounds how many times a transiently failed release is
// allowed back into selection.
const DefaultMaxRetries = 5

// Entry records one failed (release, indexer) pair. The compound key is
// (ReleaseID, Indexer); ID exists for external reference only.
type Entry struct {
	ID        uuid.UUID
	ReleaseID string
	Indexer   string

	Reason       FailureReason
	BlockedUntil time.Time
	RetryCount   int
	MaxRetries   int

	Title    string
	MovieID  *uuid.UUID
	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsExpired reports whether the block window has passed.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.BlockedUntil.After(now)
}

// IsPermanentBlock reports whether the entry blocks indefinitely.
func (e *Entry) IsPermanentBlock() bool {
	return e.Reason.Permanent()
}

// CanRetry reports whether the release may be attempted again once the
// block expires.
func (e *Entry) CanRetry() bool {
	if e.Reason.Permanent() {
		return false
	}
	max := e.MaxRetries
	if max <= 0 {
		max = DefaultMaxRetries
	}
	return e.RetryCount < max
}
