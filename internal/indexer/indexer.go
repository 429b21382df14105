// Package indexer aggregates release searches across multiple indexers.
package indexer

import (
	"context"

	"github.com/grabarr/grabarr/internal/release"
)

// SearchRequest describes one search round across the configured indexers.
type SearchRequest struct {
	Query      string
	IMDBID     string
	TMDBID     int
	Categories []int
	Limit      int
	MinSeeders int
}

// Descriptor identifies one configured indexer.
type Descriptor struct {
	ID       int
	Name     string
	Protocol string
	Enabled  bool
}

// Error is a per-indexer failure surfaced inside an aggregate response.
type Error struct {
	Indexer string
	Message string
	Code    int
}

// SearchResponse is the aggregate result of a fan-out search. A failing
// indexer never fails the aggregate; its error is listed instead.
type SearchResponse struct {
	Total              int
	Results            []*release.Candidate
	IndexersSearched   int
	IndexersWithErrors int
	Errors             []Error
}

// Client is a single indexer's search contract. Implementations perform the
// wire protocol (JSON API, scraper) and must honor context cancellation.
type Client interface {
	Search(ctx context.Context, req SearchRequest) ([]*release.Candidate, error)
	Descriptor() Descriptor
	Test(ctx context.Context) error
}
