package blocklist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grabarr/grabarr/internal/errs"
)

// MemStore is an in-memory Store. It backs tests and single-run setups
// where durability is not required.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

func storeKey(releaseID, indexer string) string {
	return releaseID + "\x00" + indexer
}

func (s *MemStore) Add(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries[storeKey(entry.ReleaseID, entry.Indexer)] = &cp
	return nil
}

func (s *MemStore) Get(ctx context.Context, releaseID, indexer string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[storeKey(releaseID, indexer)]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *MemStore) Update(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(entry.ReleaseID, entry.Indexer)
	if _, ok := s.entries[key]; !ok {
		return errs.NotFound("blocklist", "entry not found")
	}
	cp := *entry
	s.entries[key] = &cp
	return nil
}

func (s *MemStore) Delete(ctx context.Context, releaseID, indexer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, storeKey(releaseID, indexer))
	return nil
}

func (s *MemStore) Search(ctx context.Context, q Query) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var result []*Entry
	for _, e := range s.entries {
		if !matches(e, q, now) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, q.Offset, q.Limit), nil
}

func matches(e *Entry, q Query, now time.Time) bool {
	if q.Indexer != "" && e.Indexer != q.Indexer {
		return false
	}
	if q.ReleaseID != "" && e.ReleaseID != q.ReleaseID {
		return false
	}
	if q.Reason != nil && e.Reason != *q.Reason {
		return false
	}
	if q.MovieID != nil && (e.MovieID == nil || *e.MovieID != *q.MovieID) {
		return false
	}
	if q.ActiveOnly && e.IsExpired(now) {
		return false
	}
	if q.ExpiredOnly && !e.IsExpired(now) {
		return false
	}
	return true
}

func paginate(entries []*Entry, offset, limit int) []*Entry {
	if offset >= len(entries) {
		return nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

func (s *MemStore) DeleteWhere(ctx context.Context, cutoff, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.CreatedAt.Before(cutoff) && e.IsExpired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemStore) DeleteForMovie(ctx context.Context, movieID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.MovieID != nil && *e.MovieID == movieID {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemStore) DeleteForIndexer(ctx context.Context, indexer string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.Indexer == indexer {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemStore) CountSince(ctx context.Context, indexer string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.entries {
		if e.Indexer == indexer && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
