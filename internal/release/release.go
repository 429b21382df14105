// Package release models indexer release candidates and scores them.
package release

import (
	"fmt"
	"regexp"
	"time"

	"github.com/grabarr/grabarr/internal/errs"
)

// Resolution is the video resolution class parsed from a release title.
type Resolution int

const (
	ResolutionSD Resolution = iota
	Resolution720p
	Resolution1080p
	Resolution2160p
)

func (r Resolution) String() string {
	switch r {
	case Resolution720p:
		return "720p"
	case Resolution1080p:
		return "1080p"
	case Resolution2160p:
		return "2160p"
	default:
		return "SD"
	}
}

// Source is the release source media.
type Source int

const (
	SourceUnknown Source = iota
	SourceBluray
	SourceWebDL
	SourceWebRip
	SourceHDTV
	SourceDVDRip
	SourceCAM
	SourceTS
	SourceScreener
)

func (s Source) String() string {
	switch s {
	case SourceBluray:
		return "Bluray"
	case SourceWebDL:
		return "WEB-DL"
	case SourceWebRip:
		return "WEBRip"
	case SourceHDTV:
		return "HDTV"
	case SourceDVDRip:
		return "DVDRip"
	case SourceCAM:
		return "CAM"
	case SourceTS:
		return "TS"
	case SourceScreener:
		return "SCREENER"
	default:
		return "Unknown"
	}
}

// Forbidden reports whether the source disqualifies a release outright.
func (s Source) Forbidden() bool {
	return s == SourceCAM || s == SourceTS || s == SourceScreener
}

// Codec is the video codec parsed from a release title.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecAVC
	CodecHEVC
	CodecMPEG2
	CodecVP9
	CodecAV1
)

func (c Codec) String() string {
	switch c {
	case CodecAVC:
		return "x264"
	case CodecHEVC:
		return "x265"
	case CodecMPEG2:
		return "MPEG-2"
	case CodecVP9:
		return "VP9"
	case CodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// Quality is the parsed quality profile of a release title.
type Quality struct {
	Resolution Resolution
	Source     Source
	Codec      Codec
	Group      string
}

// Candidate is a single result produced by one indexer for one search.
type Candidate struct {
	IndexerID   int    `json:"indexer_id"`
	IndexerName string `json:"indexer_name"`
	GUID        string `json:"guid"`
	Title       string `json:"title"`
	DownloadURL string `json:"download_url"`

	// InfoHash is 32 or 40 upper-case hex digits when present.
	InfoHash string `json:"info_hash,omitempty"`

	SizeBytes   *int64     `json:"size_bytes,omitempty"`
	Seeders     *int       `json:"seeders,omitempty"`
	Leechers    *int       `json:"leechers,omitempty"`
	PublishDate *time.Time `json:"publish_date,omitempty"`

	Freeleech      bool    `json:"freeleech"`
	DownloadFactor float64 `json:"download_factor"`
	UploadFactor   float64 `json:"upload_factor"`

	IMDBID string `json:"imdb_id,omitempty"`
	TMDBID int    `json:"tmdb_id,omitempty"`

	// ReputationScore is an offline-analytics input; zero when absent.
	ReputationScore float64 `json:"reputation_score,omitempty"`

	Quality Quality `json:"quality"`
}

var infoHashRe = regexp.MustCompile(`^[0-9A-F]{32}$|^[0-9A-F]{40}$`)

// Validate checks the candidate invariants.
func (c *Candidate) Validate() error {
	if c.GUID == "" {
		return errs.Validation("guid", "must not be empty")
	}
	if c.Title == "" {
		return errs.Validation("title", "must not be empty")
	}
	if c.Seeders != nil && *c.Seeders < 0 {
		return errs.Validation("seeders", "must be non-negative")
	}
	if c.Leechers != nil && *c.Leechers < 0 {
		return errs.Validation("leechers", "must be non-negative")
	}
	if c.SizeBytes != nil && *c.SizeBytes < 0 {
		return errs.Validation("size_bytes", "must be non-negative")
	}
	if c.InfoHash != "" && !infoHashRe.MatchString(c.InfoHash) {
		return errs.Validation("info_hash", "must be 32 or 40 upper-case hex digits")
	}
	return nil
}

// Key uniquely identifies the candidate within a search round.
func (c *Candidate) Key() string {
	return fmt.Sprintf("%d:%s", c.IndexerID, c.GUID)
}

// SeederCount returns the seeder count, or -1 when unknown.
func (c *Candidate) SeederCount() int {
	if c.Seeders == nil {
		return -1
	}
	return *c.Seeders
}

// SizeGB returns the size in gigabytes, or 0 when unknown.
func (c *Candidate) SizeGB() float64 {
	if c.SizeBytes == nil {
		return 0
	}
	return float64(*c.SizeBytes) / (1024 * 1024 * 1024)
}
