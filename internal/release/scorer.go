package release

import (
	"sort"
	"strings"
	"time"
)

// Weights configures the deterministic release scorer.
type Weights struct {
	MinimumScore float64

	Resolution2160p float64
	Resolution1080p float64
	Resolution720p  float64
	ResolutionSD    float64

	SourceBluray    float64
	SourceWebDL     float64
	SourceWebRip    float64
	SourceHDTV      float64
	SourceDVDRip    float64
	SourceForbidden float64

	CodecHEVC float64
	CodecAVC  float64

	Freeleech float64

	SizeBonus float64

	PreferredGroups     []string
	IgnoredGroups       []string
	PreferredGroupBonus float64
	IgnoredGroupPenalty float64

	RequiredKeywords        []string
	ForbiddenKeywords       []string
	RequiredKeywordPenalty  float64
	ForbiddenKeywordPenalty float64

	AgePenaltyPerDay float64
	AgeGraceDays     float64

	// ReputationWeight multiplies the candidate's offline reputation score
	// into the total. Zero ignores the signal.
	ReputationWeight float64
}

// DefaultWeights returns the stock scoring table.
func DefaultWeights() Weights {
	return Weights{
		MinimumScore: 50,

		Resolution2160p: 40,
		Resolution1080p: 30,
		Resolution720p:  20,
		ResolutionSD:    5,

		SourceBluray:    25,
		SourceWebDL:     20,
		SourceWebRip:    15,
		SourceHDTV:      10,
		SourceDVDRip:    5,
		SourceForbidden: -50,

		CodecHEVC: 10,
		CodecAVC:  5,

		Freeleech: 15,

		SizeBonus: 10,

		PreferredGroups:     []string{"FraMeSToR", "KRaLiMaRKo", "IMAX"},
		IgnoredGroups:       []string{"YIFY", "YTS"},
		PreferredGroupBonus: 15,
		IgnoredGroupPenalty: 20,

		ForbiddenKeywords:       []string{"korsub", "hardcoded"},
		RequiredKeywordPenalty:  50,
		ForbiddenKeywordPenalty: 25,

		AgePenaltyPerDay: 0.1,
		AgeGraceDays:     30,
	}
}

// Scorer computes a deterministic quality score per candidate.
type Scorer struct {
	weights Weights
	now     func() time.Time
}

// NewScorer creates a scorer with the given weights.
func NewScorer(weights Weights) *Scorer {
	return &Scorer{weights: weights, now: time.Now}
}

// MinimumScore returns the auto-grab score threshold.
func (s *Scorer) MinimumScore() float64 {
	return s.weights.MinimumScore
}

// Score computes the candidate's score. The result is a function of the
// candidate, its parsed quality, the configured weights, and (for the age
// penalty on a dated candidate) the scorer's clock; it is clamped to zero
// from below.
func (s *Scorer) Score(c *Candidate) float64 {
	w := s.weights
	q := c.Quality
	title := strings.ToLower(c.Title)

	var score float64

	switch q.Resolution {
	case Resolution2160p:
		score += w.Resolution2160p
	case Resolution1080p:
		score += w.Resolution1080p
	case Resolution720p:
		score += w.Resolution720p
	default:
		score += w.ResolutionSD
	}

	switch q.Source {
	case SourceBluray:
		score += w.SourceBluray
	case SourceWebDL:
		score += w.SourceWebDL
	case SourceWebRip:
		score += w.SourceWebRip
	case SourceHDTV:
		score += w.SourceHDTV
	case SourceDVDRip:
		score += w.SourceDVDRip
	case SourceCAM, SourceTS, SourceScreener:
		score += w.SourceForbidden
	}

	switch q.Codec {
	case CodecHEVC:
		score += w.CodecHEVC
	case CodecAVC:
		score += w.CodecAVC
	}

	if c.Freeleech {
		score += w.Freeleech
	}

	if seeders := c.SeederCount(); seeders >= 0 {
		switch {
		case seeders >= 50:
			score += 10
		case seeders >= 20:
			score += 5
		case seeders >= 10:
			score += 2
		case seeders < 2:
			score -= 5
		}
	}

	if c.SizeBytes != nil {
		score += s.sizeScore(q.Resolution, c.SizeGB(), title)
	}

	for _, group := range w.PreferredGroups {
		if strings.Contains(title, strings.ToLower(group)) {
			score += w.PreferredGroupBonus
			break
		}
	}
	for _, group := range w.IgnoredGroups {
		if strings.Contains(title, strings.ToLower(group)) {
			score -= w.IgnoredGroupPenalty
			break
		}
	}

	for _, kw := range w.RequiredKeywords {
		if !strings.Contains(title, strings.ToLower(kw)) {
			score -= w.RequiredKeywordPenalty
		}
	}
	for _, kw := range w.ForbiddenKeywords {
		if strings.Contains(title, strings.ToLower(kw)) {
			score -= w.ForbiddenKeywordPenalty
		}
	}

	if c.PublishDate != nil {
		ageDays := s.now().Sub(*c.PublishDate).Hours() / 24
		if ageDays > w.AgeGraceDays {
			score -= (ageDays - w.AgeGraceDays) * w.AgePenaltyPerDay
		}
	}

	if w.ReputationWeight != 0 {
		score += w.ReputationWeight * c.ReputationScore
	}

	if score < 0 {
		return 0
	}
	return score
}

// sizeScore rewards sizes inside the resolution's optimal window. Undersized
// releases take a graduated deduction; oversized remuxes score slightly
// below the sweet spot rather than punitively.
func (s *Scorer) sizeScore(res Resolution, sizeGB float64, title string) float64 {
	var lo, hi float64
	switch res {
	case Resolution2160p:
		lo, hi = 15, 50
	case Resolution1080p:
		lo, hi = 5, 15
	case Resolution720p:
		lo, hi = 2, 8
	default:
		return 0
	}

	switch {
	case sizeGB >= lo && sizeGB <= hi:
		return s.weights.SizeBonus
	case sizeGB < lo/2:
		return -10
	case sizeGB < lo:
		return -5
	default:
		// Oversized; remuxes are expected to run large.
		if strings.Contains(title, "remux") {
			return s.weights.SizeBonus - 2
		}
		return -2
	}
}

// Scored pairs a candidate with its computed score.
type Scored struct {
	Candidate *Candidate
	Score     float64
}

// Rank scores and orders candidates: score descending, then more seeders,
// newer publish date, and lexicographic indexer name. The ordering is total
// and stable under equal inputs.
func (s *Scorer) Rank(candidates []*Candidate) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, Scored{Candidate: c, Score: s.Score(c)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		as, bs := a.Candidate.SeederCount(), b.Candidate.SeederCount()
		if as != bs {
			return as > bs
		}
		at, bt := a.Candidate.PublishDate, b.Candidate.PublishDate
		switch {
		case at != nil && bt != nil && !at.Equal(*bt):
			return at.After(*bt)
		case at != nil && bt == nil:
			return true
		case at == nil && bt != nil:
			return false
		}
		return a.Candidate.IndexerName < b.Candidate.IndexerName
	})

	return scored
}
