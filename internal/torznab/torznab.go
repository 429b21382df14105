// Package torznab implements the indexer contract against the Torznab API
// spoken by Prowlarr, Jackett, and most private-tracker proxies.
package torznab

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grabarr/grabarr/internal/errs"
	"github.com/grabarr/grabarr/internal/httpclient"
	"github.com/grabarr/grabarr/internal/indexer"
	"github.com/grabarr/grabarr/internal/release"
)

// Config holds one Torznab endpoint's settings.
type Config struct {
	ID      int
	Name    string
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client queries one Torznab endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Torznab indexer client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errs.Configuration("torznab url must be set for " + cfg.Name)
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: httpclient.New(&httpclient.Config{Timeout: timeout}),
	}, nil
}

// Descriptor identifies this indexer.
func (c *Client) Descriptor() indexer.Descriptor {
	return indexer.Descriptor{
		ID:       c.cfg.ID,
		Name:     c.cfg.Name,
		Protocol: "torznab",
		Enabled:  true,
	}
}

// feed mirrors the Torznab RSS envelope.
type feed struct {
	Channel struct {
		Items []item `xml:"item"`
	} `xml:"channel"`
}

type item struct {
	Title   string `xml:"title"`
	GUID    string `xml:"guid"`
	Link    string `xml:"link"`
	Size    int64  `xml:"size"`
	PubDate string `xml:"pubDate"`
	Attrs   []attr `xml:"attr"`
	Enclosure struct {
		URL string `xml:"url,attr"`
	} `xml:"enclosure"`
}

type attr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Search queries the endpoint and converts the feed into candidates.
func (c *Client) Search(ctx context.Context, req indexer.SearchRequest) ([]*release.Candidate, error) {
	params := url.Values{}
	params.Set("apikey", c.cfg.APIKey)
	params.Set("t", "movie")
	if req.Query != "" {
		params.Set("q", req.Query)
	}
	if req.IMDBID != "" {
		params.Set("imdbid", strings.TrimPrefix(req.IMDBID, "tt"))
	}
	if req.TMDBID != 0 {
		params.Set("tmdbid", strconv.Itoa(req.TMDBID))
	}
	if len(req.Categories) > 0 {
		cats := make([]string, len(req.Categories))
		for i, cat := range req.Categories {
			cats[i] = strconv.Itoa(cat)
		}
		params.Set("cat", strings.Join(cats, ","))
	}
	if req.Limit > 0 {
		params.Set("limit", strconv.Itoa(req.Limit))
	}

	body, err := c.get(ctx, "/api?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var f feed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, errs.Serialization(c.cfg.Name, "decoding torznab feed", err)
	}

	candidates := make([]*release.Candidate, 0, len(f.Channel.Items))
	for _, it := range f.Channel.Items {
		candidate := c.toCandidate(it)
		if req.MinSeeders > 0 && candidate.SeederCount() < req.MinSeeders {
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// Test probes the endpoint's capabilities document.
func (c *Client) Test(ctx context.Context) error {
	_, err := c.get(ctx, "/api?t=caps&apikey="+url.QueryEscape(c.cfg.APIKey))
	return err
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+path, nil)
	if err != nil {
		return nil, errs.Network(c.cfg.Name, "get", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Network(c.cfg.Name, "get", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errs.Authentication(c.cfg.Name, "api key rejected")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.RateLimited(c.cfg.Name, retryAfter(resp))
	case resp.StatusCode >= 500:
		return nil, errs.External(c.cfg.Name, resp.Status, nil)
	case resp.StatusCode != http.StatusOK:
		return nil, errs.Validation("request", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Network(c.cfg.Name, "read body", err)
	}
	return body, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

func (c *Client) toCandidate(it item) *release.Candidate {
	candidate := &release.Candidate{
		IndexerID:   c.cfg.ID,
		IndexerName: c.cfg.Name,
		GUID:        it.GUID,
		Title:       it.Title,
		DownloadURL: it.Link,
	}
	if candidate.DownloadURL == "" {
		candidate.DownloadURL = it.Enclosure.URL
	}
	if it.Size > 0 {
		size := it.Size
		candidate.SizeBytes = &size
	}
	if it.PubDate != "" {
		if ts, err := time.Parse(time.RFC1123Z, it.PubDate); err == nil {
			utc := ts.UTC()
			candidate.PublishDate = &utc
		}
	}

	candidate.DownloadFactor = 1
	candidate.UploadFactor = 1
	for _, a := range it.Attrs {
		switch a.Name {
		case "seeders":
			if n, err := strconv.Atoi(a.Value); err == nil {
				candidate.Seeders = &n
			}
		case "peers", "leechers":
			if n, err := strconv.Atoi(a.Value); err == nil {
				candidate.Leechers = &n
			}
		case "infohash":
			candidate.InfoHash = strings.ToUpper(a.Value)
		case "imdbid", "imdb":
			candidate.IMDBID = normalizeIMDB(a.Value)
		case "tmdbid":
			if n, err := strconv.Atoi(a.Value); err == nil {
				candidate.TMDBID = n
			}
		case "downloadvolumefactor":
			if f, err := strconv.ParseFloat(a.Value, 64); err == nil {
				candidate.DownloadFactor = f
				if f == 0 {
					candidate.Freeleech = true
				}
			}
		case "uploadvolumefactor":
			if f, err := strconv.ParseFloat(a.Value, 64); err == nil {
				candidate.UploadFactor = f
			}
		}
	}

	candidate.Quality = release.ParseTitle(it.Title)
	return candidate
}

func normalizeIMDB(value string) string {
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "tt") {
		return value
	}
	for len(value) < 7 {
		value = "0" + value
	}
	return "tt" + value
}
