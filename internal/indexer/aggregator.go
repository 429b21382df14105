package indexer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/grabarr/grabarr/internal/breaker"
	"github.com/grabarr/grabarr/internal/errs"
	"github.com/grabarr/grabarr/internal/ratelimit"
	"github.com/grabarr/grabarr/internal/release"
)

// guarded bundles one indexer client with its own circuit breaker and rate
// limiter. Protection state is never shared between indexers.
type guarded struct {
	client  Client
	breaker *breaker.Breaker
	limiter *ratelimit.Limiter
}

// Aggregator fans a search out to every configured indexer in parallel and
// folds the results into one response.
type Aggregator struct {
	indexers []*guarded
	logger   *zap.Logger
}

// NewAggregator wraps each client in a dedicated breaker and limiter built
// from the given configurations.
func NewAggregator(clients []Client, breakerCfg breaker.Config, limiterCfg ratelimit.Config, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}

	indexers := make([]*guarded, 0, len(clients))
	for _, c := range clients {
		cfg := breakerCfg
		cfg.Name = c.Descriptor().Name
		indexers = append(indexers, &guarded{
			client:  c,
			breaker: breaker.New(cfg, logger),
			limiter: ratelimit.New(limiterCfg),
		})
	}

	return &Aggregator{
		indexers: indexers,
		logger:   logger.With(zap.String("component", "aggregator")),
	}
}

type searchResult struct {
	indexer    string
	candidates []*release.Candidate
	err        error
}

// Search invokes every indexer concurrently, each under its own breaker and
// limiter, and folds the results. Candidates sharing an info hash collapse
// to the best copy. Result order is unspecified; ranking is the scorer's
// concern.
func (a *Aggregator) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	results := make(chan searchResult, len(a.indexers))
	var wg sync.WaitGroup

	for _, idx := range a.indexers {
		wg.Add(1)
		go func(idx *guarded) {
			defer wg.Done()
			candidates, err := a.searchOne(ctx, idx, req)
			results <- searchResult{
				indexer:    idx.client.Descriptor().Name,
				candidates: candidates,
				err:        err,
			}
		}(idx)
	}

	wg.Wait()
	close(results)

	resp := &SearchResponse{IndexersSearched: len(a.indexers)}
	var all []*release.Candidate
	for r := range results {
		if r.err != nil {
			resp.IndexersWithErrors++
			resp.Errors = append(resp.Errors, Error{
				Indexer: r.indexer,
				Message: r.err.Error(),
			})
			a.logger.Warn("indexer search failed",
				zap.String("indexer", r.indexer),
				zap.Error(r.err))
			continue
		}
		all = append(all, r.candidates...)
	}

	resp.Results = Deduplicate(all)
	resp.Total = len(resp.Results)
	return resp, nil
}

// searchOne runs a single indexer call under limiter then breaker, and
// feeds the outcome back into the limiter's failure history.
func (a *Aggregator) searchOne(ctx context.Context, idx *guarded, req SearchRequest) ([]*release.Candidate, error) {
	name := idx.client.Descriptor().Name

	if err := idx.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, ratelimit.ErrSkipDueToFailures) {
			return nil, errs.External(name, "skipped: too many recent failures", nil)
		}
		return nil, err
	}

	candidates, err := breaker.Do(ctx, idx.breaker, func(ctx context.Context) ([]*release.Candidate, error) {
		return idx.client.Search(ctx, req)
	})
	if err != nil {
		idx.limiter.RecordFailure()
		return nil, errs.Wrap(name, "search", err)
	}
	idx.limiter.RecordSuccess()

	valid := candidates[:0]
	for _, c := range candidates {
		if vErr := c.Validate(); vErr != nil {
			a.logger.Debug("dropping invalid candidate",
				zap.String("indexer", name),
				zap.String("title", c.Title),
				zap.Error(vErr))
			continue
		}
		valid = append(valid, c)
	}
	return valid, nil
}

// Indexers lists descriptors for every configured indexer.
func (a *Aggregator) Indexers() []Descriptor {
	descriptors := make([]Descriptor, 0, len(a.indexers))
	for _, idx := range a.indexers {
		descriptors = append(descriptors, idx.client.Descriptor())
	}
	return descriptors
}

// Test probes a single indexer by ID.
func (a *Aggregator) Test(ctx context.Context, indexerID int) error {
	for _, idx := range a.indexers {
		if idx.client.Descriptor().ID == indexerID {
			return idx.breaker.Call(ctx, func(ctx context.Context) error {
				return idx.client.Test(ctx)
			})
		}
	}
	return errs.NotFound("aggregator", "no such indexer")
}

// Healthy reports whether at least one indexer's breaker is not open.
func (a *Aggregator) Healthy() bool {
	for _, idx := range a.indexers {
		if idx.breaker.State() != breaker.StateOpen {
			return true
		}
	}
	return len(a.indexers) == 0
}

// BreakerMetrics returns per-indexer breaker snapshots, keyed by name.
func (a *Aggregator) BreakerMetrics() map[string]breaker.Metrics {
	m := make(map[string]breaker.Metrics, len(a.indexers))
	for _, idx := range a.indexers {
		m[idx.client.Descriptor().Name] = idx.breaker.Metrics()
	}
	return m
}

// Deduplicate collapses candidates sharing a non-empty info hash, keeping
// the copy with the highest dedup score. Candidates without an info hash
// pass through untouched.
func Deduplicate(candidates []*release.Candidate) []*release.Candidate {
	byHash := make(map[string][]*release.Candidate)
	var out []*release.Candidate

	for _, c := range candidates {
		if c.InfoHash == "" {
			out = append(out, c)
			continue
		}
		byHash[c.InfoHash] = append(byHash[c.InfoHash], c)
	}

	hashes := make([]string, 0, len(byHash))
	for h := range byHash {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	for _, h := range hashes {
		group := byHash[h]
		best := group[0]
		bestScore := dedupScore(best)
		for _, c := range group[1:] {
			if s := dedupScore(c); s > bestScore {
				best, bestScore = c, s
			}
		}
		out = append(out, best)
	}
	return out
}

// dedupScore prefers freeleech, seeded, high-quality copies when the same
// torrent is listed by several indexers.
func dedupScore(c *release.Candidate) float64 {
	var score float64

	if c.Freeleech {
		score += 50
	}
	if s := c.SeederCount(); s > 0 {
		if s > 20 {
			s = 20
		}
		score += float64(s)
	}

	title := strings.ToLower(c.Title)
	switch {
	case strings.Contains(title, "remux"):
		score += 15
	case c.Quality.Resolution == release.Resolution2160p:
		score += 12
	case c.Quality.Resolution == release.Resolution1080p:
		score += 8
	case c.Quality.Resolution == release.Resolution720p:
		score += 5
	}

	if c.Quality.Codec == release.CodecHEVC {
		score += 3
	}
	if strings.Contains(title, "hdr") || strings.Contains(title, "dolby") ||
		strings.Contains(title, "atmos") {
		score += 5
	}
	return score
}
