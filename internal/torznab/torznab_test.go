package torznab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grabarr/grabarr/internal/errs"
	"github.com/grabarr/grabarr/internal/indexer"
	"github.com/grabarr/grabarr/internal/release"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <item>
      <title>The.Matrix.1999.2160p.UHD.BluRay.x265-GRP</title>
      <guid>https://tracker.example/details/1001</guid>
      <link>https://tracker.example/download/1001.torrent</link>
      <size>37580963840</size>
      <pubDate>Sun, 01 Jun 2025 10:00:00 +0000</pubDate>
      <torznab:attr name="seeders" value="150"/>
      <torznab:attr name="peers" value="12"/>
      <torznab:attr name="infohash" value="abcdef0123456789abcdef0123456789abcdef01"/>
      <torznab:attr name="imdbid" value="0133093"/>
      <torznab:attr name="downloadvolumefactor" value="0"/>
      <torznab:attr name="uploadvolumefactor" value="1"/>
    </item>
    <item>
      <title>The.Matrix.1999.1080p.BluRay.x264-SPARKS</title>
      <guid>https://tracker.example/details/1002</guid>
      <link>https://tracker.example/download/1002.torrent</link>
      <size>8589934592</size>
      <pubDate>Sun, 01 Jun 2025 09:00:00 +0000</pubDate>
      <torznab:attr name="seeders" value="3"/>
    </item>
  </channel>
</rss>`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{ID: 1, Name: "test-indexer", URL: server.URL, APIKey: "key"})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestSearchParsesFeed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apikey") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("imdbid") != "0133093" {
			t.Errorf("imdbid = %q, want tt prefix stripped", r.URL.Query().Get("imdbid"))
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sampleFeed))
	})

	candidates, err := client.Search(context.Background(), indexer.SearchRequest{
		Query:  "The Matrix",
		IMDBID: "tt0133093",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(candidates))
	}

	first := candidates[0]
	if first.SeederCount() != 150 {
		t.Errorf("seeders = %d", first.SeederCount())
	}
	if first.InfoHash != "ABCDEF0123456789ABCDEF0123456789ABCDEF01" {
		t.Errorf("infoHash = %q, want upper case", first.InfoHash)
	}
	if !first.Freeleech {
		t.Error("downloadvolumefactor=0 should mark freeleech")
	}
	if first.IMDBID != "tt0133093" {
		t.Errorf("imdbID = %q", first.IMDBID)
	}
	if first.Quality.Resolution != release.Resolution2160p {
		t.Errorf("resolution = %v", first.Quality.Resolution)
	}
	if first.PublishDate == nil {
		t.Error("publish date not parsed")
	}
	if err := first.Validate(); err != nil {
		t.Errorf("candidate invalid: %v", err)
	}
}

func TestSearchMinSeedersFilter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	})

	candidates, err := client.Search(context.Background(), indexer.SearchRequest{
		Query:      "The Matrix",
		MinSeeders: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1 (low-seeded release filtered)", len(candidates))
	}
}

func TestSearchAuthRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.Search(context.Background(), indexer.SearchRequest{Query: "x"})
	if errs.KindOf(err) != errs.KindAuthentication {
		t.Errorf("kind = %v, want authentication", errs.KindOf(err))
	}
}

func TestSearchRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Search(context.Background(), indexer.SearchRequest{Query: "x"})
	if errs.KindOf(err) != errs.KindRateLimited {
		t.Fatalf("kind = %v, want rate_limited", errs.KindOf(err))
	}
	var e *errs.Error
	if !errsAs(err, &e) || e.RetryAfter != 30*time.Second {
		t.Errorf("retryAfter = %v, want 30s", e.RetryAfter)
	}
}

func TestSearchMalformedFeed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not xml <"))
	})

	_, err := client.Search(context.Background(), indexer.SearchRequest{Query: "x"})
	if errs.KindOf(err) != errs.KindSerialization {
		t.Errorf("kind = %v, want serialization", errs.KindOf(err))
	}
}

func errsAs(err error, target **errs.Error) bool {
	e, ok := err.(*errs.Error)
	if ok {
		*target = e
	}
	return ok
}
