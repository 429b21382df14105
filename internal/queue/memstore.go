package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/grabarr/grabarr/internal/errs"
)

// MemStore is an in-memory Store for tests and ephemeral runs.
type MemStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Item
}

// NewMemStore creates an empty in-memory queue store.
func NewMemStore() *MemStore {
	return &MemStore{items: make(map[uuid.UUID]*Item)}
}

func (s *MemStore) Add(ctx context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return errs.Validation("id", "queue item already exists")
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *MemStore) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	return item.Clone(), nil
}

func (s *MemStore) GetByClientID(ctx context.Context, clientID string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ClientID == clientID && clientID != "" {
			return item.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemStore) List(ctx context.Context, status *Status) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Item
	for _, item := range s.items {
		if status != nil && item.Status != *status {
			continue
		}
		result = append(result, item.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemStore) ListForMovie(ctx context.Context, movieID uuid.UUID) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Item
	for _, item := range s.items {
		if item.MovieID == movieID {
			result = append(result, item.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemStore) Update(ctx context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return errs.NotFound("queue", "item not found")
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *MemStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *MemStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Counts: make(map[Status]int)}
	for _, item := range s.items {
		stats.Counts[item.Status]++
		stats.TotalItems++
		if item.IsActive() {
			stats.ActiveDownloads++
			stats.TotalDownloadSpeed += item.DownloadSpeed
			stats.TotalUploadSpeed += item.UploadSpeed
		}
		stats.TotalDownloaded += item.DownloadedBytes
		stats.TotalUploaded += item.UploadedBytes
	}
	return stats, nil
}

func (s *MemStore) RetryCandidates(ctx context.Context) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Item
	for _, item := range s.items {
		if item.Status == StatusFailed && item.CanRetry() {
			result = append(result, item.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
