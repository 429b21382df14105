package release

import (
	"testing"
	"time"
)

func gb(n float64) *int64 {
	v := int64(n * 1024 * 1024 * 1024)
	return &v
}

func intp(n int) *int {
	return &n
}

func timep(t time.Time) *time.Time {
	return &t
}

func newCandidate(indexer, title string, seeders int, size *int64) *Candidate {
	c := &Candidate{
		IndexerID:   1,
		IndexerName: indexer,
		GUID:        title,
		Title:       title,
		DownloadURL: "https://example/" + title,
		Seeders:     intp(seeders),
		SizeBytes:   size,
	}
	c.Quality = ParseTitle(title)
	return c
}

func TestScoreRanksMatrixReleases(t *testing.T) {
	scorer := NewScorer(DefaultWeights())

	a := newCandidate("HDBits", "The.Matrix.1999.2160p.UHD.BluRay.x265.HDR.Atmos-HDBits", 150, gb(35))
	a.Freeleech = true
	b := newCandidate("Prowlarr", "The.Matrix.1999.1080p.BluRay.x264-SPARKS", 100, gb(8))
	c := newCandidate("Prowlarr", "The.Matrix.1999.CAM.XviD-BAD", 200, gb(0.7))

	sa, sb, sc := scorer.Score(a), scorer.Score(b), scorer.Score(c)

	if !(sa > sb && sb > sc) {
		t.Fatalf("want A > B > C, got %.1f, %.1f, %.1f", sa, sb, sc)
	}
	if sc >= scorer.MinimumScore() {
		t.Errorf("CAM release scored %.1f, must stay below the %.1f threshold", sc, scorer.MinimumScore())
	}

	ranked := scorer.Rank([]*Candidate{c, b, a})
	if ranked[0].Candidate != a || ranked[1].Candidate != b || ranked[2].Candidate != c {
		t.Error("Rank did not order candidates by score")
	}
}

func TestScoreComponents(t *testing.T) {
	w := DefaultWeights()
	scorer := NewScorer(w)

	// 40 res + 25 source + 10 codec + 15 freeleech + 10 seeders + 10 size
	a := newCandidate("X", "Movie.2160p.BluRay.x265-GRP", 150, gb(35))
	a.Freeleech = true
	if got := scorer.Score(a); got != 110 {
		t.Errorf("score = %.1f, want 110", got)
	}

	// Freeleech off: 95
	a.Freeleech = false
	if got := scorer.Score(a); got != 95 {
		t.Errorf("score = %.1f, want 95", got)
	}

	// Undersized 4K (below half the window floor): -10 size
	small := newCandidate("X", "Movie.2160p.BluRay.x265-GRP", 150, gb(4))
	if got := scorer.Score(small); got != 75 {
		t.Errorf("undersized score = %.1f, want 75", got)
	}

	// Oversized 4K remux scores slightly below the sweet spot
	remux := newCandidate("X", "Movie.2160p.BluRay.REMUX.x265-GRP", 150, gb(70))
	inWindow := newCandidate("X", "Movie.2160p.BluRay.REMUX.x265-GRP", 150, gb(35))
	if scorer.Score(remux) >= scorer.Score(inWindow) {
		t.Error("oversized remux should score slightly below the sweet spot")
	}
	if scorer.Score(inWindow)-scorer.Score(remux) > 5 {
		t.Error("oversized remux deduction should not be punitive")
	}
}

func TestScoreSeederTiers(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	base := func(seeders int) float64 {
		return scorer.Score(newCandidate("X", "Movie.1080p.BluRay.x264-GRP", seeders, gb(8)))
	}

	if base(60)-base(25) != 5 {
		t.Errorf("50+ vs 20+ tier delta = %.1f, want 5", base(60)-base(25))
	}
	if base(25)-base(12) != 3 {
		t.Errorf("20+ vs 10+ tier delta = %.1f, want 3", base(25)-base(12))
	}
	if base(12)-base(5) != 2 {
		t.Errorf("10+ vs mid tier delta = %.1f, want 2", base(12)-base(5))
	}
	if base(5)-base(1) != 5 {
		t.Errorf("mid vs <2 tier delta = %.1f, want 5", base(5)-base(1))
	}
}

func TestScoreGroupsAndKeywords(t *testing.T) {
	w := DefaultWeights()
	w.RequiredKeywords = []string{"1080p"}
	scorer := NewScorer(w)

	preferred := newCandidate("X", "Movie.1080p.BluRay.x264-FraMeSToR", 30, gb(8))
	ignored := newCandidate("X", "Movie.1080p.BluRay.x264-YIFY", 30, gb(8))
	plain := newCandidate("X", "Movie.1080p.BluRay.x264-GRP", 30, gb(8))

	if scorer.Score(preferred)-scorer.Score(plain) != 15 {
		t.Error("preferred group bonus not applied")
	}
	if scorer.Score(plain)-scorer.Score(ignored) != 20 {
		t.Error("ignored group penalty not applied")
	}

	// Missing required keyword
	noKeyword := newCandidate("X", "Movie.720p.BluRay.x264-GRP", 30, gb(4))
	withKeyword := newCandidate("X", "Movie.1080p.BluRay.x264-GRP", 30, gb(8))
	diff := scorer.Score(withKeyword) - scorer.Score(noKeyword)
	// 10 resolution delta + 50 required keyword penalty
	if diff != 60 {
		t.Errorf("required keyword delta = %.1f, want 60", diff)
	}

	// Forbidden keyword
	w2 := DefaultWeights()
	scorer2 := NewScorer(w2)
	forbidden := newCandidate("X", "Movie.1080p.BluRay.KORSUB.x264-GRP", 30, gb(8))
	clean := newCandidate("X", "Movie.1080p.BluRay.x264-GRP", 30, gb(8))
	if scorer2.Score(clean)-scorer2.Score(forbidden) != 25 {
		t.Error("forbidden keyword penalty not applied")
	}
}

func TestScoreAgePenalty(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	scorer.now = func() time.Time { return now }

	fresh := newCandidate("X", "Movie.1080p.BluRay.x264-GRP", 30, gb(8))
	fresh.PublishDate = timep(now.Add(-10 * 24 * time.Hour))
	old := newCandidate("X", "Movie.1080p.BluRay.x264-GRP", 30, gb(8))
	old.PublishDate = timep(now.Add(-40 * 24 * time.Hour))

	diff := scorer.Score(fresh) - scorer.Score(old)
	if diff < 0.9 || diff > 1.1 {
		t.Errorf("40-day-old release should lose ~1.0 points, delta = %.2f", diff)
	}
}

func TestScoreDeterministic(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	c := newCandidate("X", "Movie.2160p.BluRay.x265.HDR-GRP", 75, gb(30))
	first := scorer.Score(c)
	for i := 0; i < 10; i++ {
		if got := scorer.Score(c); got != first {
			t.Fatalf("score not deterministic: %v != %v", got, first)
		}
	}
}

func TestRankTieBreaks(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// Identical quality; differ only in tie-break fields.
	moreSeeders := newCandidate("beta", "Movie.1080p.BluRay.x264-GRP", 40, gb(8))
	fewerSeeders := newCandidate("alpha", "Movie.1080p.BluRay.x264-GRP", 30, gb(8))

	ranked := scorer.Rank([]*Candidate{fewerSeeders, moreSeeders})
	if ranked[0].Candidate != moreSeeders {
		t.Error("higher seeders should win the tie")
	}

	newer := newCandidate("beta", "Movie.1080p.BluRay.x264-GRP", 30, gb(8))
	newer.PublishDate = timep(now)
	older := newCandidate("alpha", "Movie.1080p.BluRay.x264-GRP", 30, gb(8))
	older.PublishDate = timep(now.Add(-time.Hour))

	ranked = scorer.Rank([]*Candidate{older, newer})
	if ranked[0].Candidate != newer {
		t.Error("newer publish date should win the tie")
	}

	idxA := newCandidate("alpha", "Movie.1080p.BluRay.x264-GRP", 30, gb(8))
	idxB := newCandidate("beta", "Movie.1080p.BluRay.x264-GRP", 30, gb(8))

	ranked = scorer.Rank([]*Candidate{idxB, idxA})
	if ranked[0].Candidate != idxA {
		t.Error("lexicographic indexer name should win the final tie")
	}
}
