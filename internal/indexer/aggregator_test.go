package indexer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/grabarr/grabarr/internal/breaker"
	"github.com/grabarr/grabarr/internal/errs"
	"github.com/grabarr/grabarr/internal/ratelimit"
	"github.com/grabarr/grabarr/internal/release"
)

type fakeClient struct {
	descriptor Descriptor
	candidates []*release.Candidate
	err        error
	calls      int
}

func (f *fakeClient) Search(ctx context.Context, req SearchRequest) ([]*release.Candidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func (f *fakeClient) Descriptor() Descriptor { return f.descriptor }

func (f *fakeClient) Test(ctx context.Context) error { return f.err }

func intp(n int) *int { return &n }

func candidate(indexerID int, indexerName, guid, title, hash string, seeders int) *release.Candidate {
	c := &release.Candidate{
		IndexerID:   indexerID,
		IndexerName: indexerName,
		GUID:        guid,
		Title:       title,
		DownloadURL: "https://example/" + guid,
		InfoHash:    hash,
		Seeders:     intp(seeders),
	}
	c.Quality = release.ParseTitle(title)
	return c
}

func newTestAggregator(clients ...Client) *Aggregator {
	return NewAggregator(clients,
		breaker.Config{FailureThreshold: 3, RequestTimeout: time.Second},
		ratelimit.Config{FailureThreshold: -1},
		nil)
}

func TestSearchFoldsAllIndexers(t *testing.T) {
	a := newTestAggregator(
		&fakeClient{
			descriptor: Descriptor{ID: 1, Name: "HDBits"},
			candidates: []*release.Candidate{
				candidate(1, "HDBits", "g1", "Movie.2160p.BluRay.x265-GRP", "", 100),
			},
		},
		&fakeClient{
			descriptor: Descriptor{ID: 2, Name: "Prowlarr"},
			candidates: []*release.Candidate{
				candidate(2, "Prowlarr", "g2", "Movie.1080p.BluRay.x264-GRP", "", 50),
				candidate(2, "Prowlarr", "g3", "Movie.720p.WEB-DL.x264-GRP", "", 20),
			},
		},
	)

	resp, err := a.Search(context.Background(), SearchRequest{Query: "Movie"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}
	if resp.IndexersSearched != 2 {
		t.Errorf("indexersSearched = %d, want 2", resp.IndexersSearched)
	}
	if resp.IndexersWithErrors != 0 {
		t.Errorf("indexersWithErrors = %d, want 0", resp.IndexersWithErrors)
	}
}

func TestSearchPartialFailure(t *testing.T) {
	failing := &fakeClient{
		descriptor: Descriptor{ID: 1, Name: "indexer-1"},
		err:        errs.Timeout("indexer-1", "search"),
	}
	healthy := &fakeClient{
		descriptor: Descriptor{ID: 2, Name: "indexer-2"},
		candidates: []*release.Candidate{
			candidate(2, "indexer-2", "g1", "Movie.1080p.BluRay.x264-GRP", "", 10),
		},
	}

	a := newTestAggregator(failing, healthy)
	resp, err := a.Search(context.Background(), SearchRequest{Query: "Movie"})
	if err != nil {
		t.Fatalf("one indexer failing must not fail the aggregate: %v", err)
	}

	if resp.IndexersSearched != 2 {
		t.Errorf("indexersSearched = %d, want 2", resp.IndexersSearched)
	}
	if resp.IndexersWithErrors != 1 {
		t.Errorf("indexersWithErrors = %d, want 1", resp.IndexersWithErrors)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Indexer != "indexer-1" {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	if !strings.Contains(strings.ToLower(resp.Errors[0].Message), "timeout") {
		t.Errorf("error message %q should mention the timeout", resp.Errors[0].Message)
	}
	if resp.Total != 1 || resp.Results[0].IndexerName != "indexer-2" {
		t.Errorf("results should come only from the healthy indexer")
	}
}

func TestSearchOpensBreakerPerIndexer(t *testing.T) {
	failing := &fakeClient{
		descriptor: Descriptor{ID: 1, Name: "flaky"},
		err:        errs.Network("flaky", "search", nil),
	}
	healthy := &fakeClient{
		descriptor: Descriptor{ID: 2, Name: "steady"},
		candidates: []*release.Candidate{
			candidate(2, "steady", "g1", "Movie.1080p.BluRay.x264-GRP", "", 10),
		},
	}
	a := newTestAggregator(failing, healthy)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = a.Search(ctx, SearchRequest{Query: "Movie"})
	}

	// Breaker for the flaky indexer opened after 3 failures; the client is
	// no longer invoked.
	if failing.calls != 3 {
		t.Errorf("flaky client calls = %d, want 3 (breaker opens after threshold)", failing.calls)
	}
	if healthy.calls != 4 {
		t.Errorf("healthy client calls = %d, want 4 (unaffected by the other breaker)", healthy.calls)
	}

	metrics := a.BreakerMetrics()
	if metrics["flaky"].State != breaker.StateOpen {
		t.Error("flaky breaker should be open")
	}
	if metrics["steady"].State != breaker.StateClosed {
		t.Error("steady breaker should stay closed")
	}
}

func TestDeduplicateByInfoHash(t *testing.T) {
	hash := "ABCDEF0123456789ABCDEF0123456789ABCDEF01"
	plain := candidate(1, "a", "g1", "Movie.2160p.BluRay.x265-GRP", hash, 5)
	freeleech := candidate(2, "b", "g2", "Movie.2160p.BluRay.x265-GRP", hash, 5)
	freeleech.Freeleech = true
	noHash := candidate(3, "c", "g3", "Movie.1080p.BluRay.x264-GRP", "", 5)
	otherHash := candidate(4, "d", "g4", "Movie.720p.WEB-DL.x264-GRP",
		"ABCDEF0123456789ABCDEF0123456789", 5)

	out := Deduplicate([]*release.Candidate{plain, freeleech, noHash, otherHash})
	if len(out) != 3 {
		t.Fatalf("deduped length = %d, want 3", len(out))
	}

	// Exactly one survivor per non-empty hash.
	seen := make(map[string]int)
	var survivor *release.Candidate
	for _, c := range out {
		if c.InfoHash != "" {
			seen[c.InfoHash]++
		}
		if c.InfoHash == hash {
			survivor = c
		}
	}
	for h, n := range seen {
		if n != 1 {
			t.Errorf("hash %s has %d survivors, want 1", h, n)
		}
	}
	if survivor != freeleech {
		t.Error("freeleech copy should win the dedup")
	}
}

func TestDedupScorePreferences(t *testing.T) {
	hevc := candidate(1, "a", "g1", "Movie.2160p.BluRay.x265.HDR-GRP", "", 10)
	avc := candidate(1, "a", "g2", "Movie.2160p.BluRay.x264-GRP", "", 10)
	if dedupScore(hevc) <= dedupScore(avc) {
		t.Error("HEVC + HDR copy should out-score the plain copy")
	}

	seeded := candidate(1, "a", "g3", "Movie.1080p.BluRay.x264-GRP", "", 500)
	barely := candidate(1, "a", "g4", "Movie.1080p.BluRay.x264-GRP", "", 1)
	diff := dedupScore(seeded) - dedupScore(barely)
	if diff != 19 {
		t.Errorf("seeder contribution should cap at 20, diff = %.0f", diff)
	}
}

func TestInvalidCandidatesDropped(t *testing.T) {
	bad := candidate(1, "idx", "", "Movie.1080p.BluRay.x264-GRP", "", 10) // empty GUID
	good := candidate(1, "idx", "g1", "Movie.1080p.BluRay.x264-GRP", "", 10)

	a := newTestAggregator(&fakeClient{
		descriptor: Descriptor{ID: 1, Name: "idx"},
		candidates: []*release.Candidate{bad, good},
	})

	resp, err := a.Search(context.Background(), SearchRequest{Query: "Movie"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Errorf("total = %d, want 1 (invalid candidate dropped)", resp.Total)
	}
}

func TestTestUnknownIndexer(t *testing.T) {
	a := newTestAggregator()
	err := a.Test(context.Background(), 99)
	if errs.KindOf(err) != errs.KindNotFound {
		t.Errorf("kind = %v, want not_found", errs.KindOf(err))
	}
}
