// Package selection glues search, scoring, blocklist, and the queue: it
// turns a wanted movie into one enqueued release.
package selection

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grabarr/grabarr/internal/blocklist"
	"github.com/grabarr/grabarr/internal/indexer"
	"github.com/grabarr/grabarr/internal/metrics"
	"github.com/grabarr/grabarr/internal/queue"
	"github.com/grabarr/grabarr/internal/release"
)

// Movie references a catalog entry by identity. The core never mutates
// movies.
type Movie struct {
	ID     uuid.UUID
	Title  string
	Year   int
	IMDBID string
	TMDBID int
}

// Searcher is the aggregate search contract the service consumes.
type Searcher interface {
	Search(ctx context.Context, req indexer.SearchRequest) (*indexer.SearchResponse, error)
}

// Decision is the outcome of one selection round. Accepted is false when no
// candidate crossed the score threshold; that is a normal result, not an
// error.
type Decision struct {
	Candidate *release.Candidate
	Score     float64

	Accepted bool
	Reason   string

	CandidatesSeen    int
	CandidatesBlocked int
	SearchErrors      []indexer.Error
}

// Service selects the best acceptable release for a movie.
type Service struct {
	searcher  Searcher
	scorer    *release.Scorer
	blocklist *blocklist.Service
	store     queue.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService creates a selection service.
func NewService(searcher Searcher, scorer *release.Scorer, bl *blocklist.Service, store queue.Store, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		searcher:  searcher,
		scorer:    scorer,
		blocklist: bl,
		store:     store,
		metrics:   m,
		logger:    logger.With(zap.String("component", "selection")),
	}
}

// FindBest searches all indexers and returns the selection decision without
// enqueueing anything. Blocklisted candidates are dropped before scoring.
func (s *Service) FindBest(ctx context.Context, movie Movie) (*Decision, error) {
	req := indexer.SearchRequest{
		Query:  movie.Title,
		IMDBID: movie.IMDBID,
		TMDBID: movie.TMDBID,
	}

	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	s.metrics.IncSearch(resp.IndexersWithErrors > 0)

	decision := &Decision{
		CandidatesSeen: len(resp.Results),
		SearchErrors:   resp.Errors,
	}

	eligible := make([]*release.Candidate, 0, len(resp.Results))
	for _, c := range resp.Results {
		blocked, err := s.blocklist.IsBlocked(ctx, c.GUID, c.IndexerName)
		if err != nil {
			return nil, err
		}
		if blocked {
			decision.CandidatesBlocked++
			continue
		}
		eligible = append(eligible, c)
	}

	if len(eligible) == 0 {
		decision.Reason = "no candidates after blocklist filtering"
		return decision, nil
	}

	ranked := s.scorer.Rank(eligible)
	best := ranked[0]
	decision.Candidate = best.Candidate
	decision.Score = best.Score

	if best.Score < s.scorer.MinimumScore() {
		decision.Reason = "no acceptable release"
		decision.Candidate = nil
		s.logger.Debug("best candidate below threshold",
			zap.String("movie", movie.Title),
			zap.String("title", best.Candidate.Title),
			zap.Float64("score", best.Score),
			zap.Float64("threshold", s.scorer.MinimumScore()))
		return decision, nil
	}

	decision.Accepted = true
	return decision, nil
}

// AutoGrab selects and enqueues the best release at normal priority.
// Returns the decision and, when accepted, the created queue item.
func (s *Service) AutoGrab(ctx context.Context, movie Movie) (*queue.Item, *Decision, error) {
	decision, err := s.FindBest(ctx, movie)
	if err != nil {
		return nil, nil, err
	}
	if !decision.Accepted {
		return nil, decision, nil
	}

	item, err := s.enqueue(ctx, movie, decision.Candidate, queue.PriorityNormal)
	if err != nil {
		return nil, decision, err
	}

	s.logger.Info("auto-grabbed release",
		zap.String("movie", movie.Title),
		zap.String("release", decision.Candidate.Title),
		zap.Float64("score", decision.Score))
	return item, decision, nil
}

// GrabManual enqueues a caller-chosen candidate at high priority, bypassing
// the score threshold.
func (s *Service) GrabManual(ctx context.Context, movie Movie, candidate *release.Candidate) (*queue.Item, error) {
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	item, err := s.enqueue(ctx, movie, candidate, queue.PriorityHigh)
	if err != nil {
		return nil, err
	}
	s.logger.Info("manually grabbed release",
		zap.String("movie", movie.Title),
		zap.String("release", candidate.Title))
	return item, nil
}

func (s *Service) enqueue(ctx context.Context, movie Movie, c *release.Candidate, priority queue.Priority) (*queue.Item, error) {
	item := queue.NewItem(movie.ID, c.GUID, c.IndexerName, c.Title, c.DownloadURL, priority)
	item.Category = "movies"
	if err := s.store.Add(ctx, item); err != nil {
		return nil, err
	}
	s.metrics.IncGrab()
	return item, nil
}
