package promote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
)

func summaryAt(completeness, confidence float64, contradictions int, at time.Time) *model.RunSummarySnapshot {
	return &model.RunSummarySnapshot{
		Validated:            true,
		Confidence:           confidence,
		CompletenessRequired: completeness,
		Contradictions:       contradictions,
		GeneratedAt:          at,
	}
}

func TestShouldPromoteOrdering(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	existing := summaryAt(0.8, 0.7, 2, base)

	cases := []struct {
		name      string
		candidate *model.RunSummarySnapshot
		want      bool
	}{
		{"nil candidate never promotes", nil, false},
		{"higher completeness wins", summaryAt(0.9, 0.1, 9, base.Add(-time.Hour)), true},
		{"lower completeness loses despite confidence", summaryAt(0.7, 0.99, 0, base.Add(time.Hour)), false},
		{"completeness tie, higher confidence wins", summaryAt(0.8, 0.75, 5, base), true},
		{"completeness tie, lower confidence loses", summaryAt(0.8, 0.6, 0, base.Add(time.Hour)), false},
		{"first two tie, fewer contradictions wins", summaryAt(0.8, 0.7, 1, base.Add(-time.Hour)), true},
		{"first two tie, more contradictions loses", summaryAt(0.8, 0.7, 3, base.Add(time.Hour)), false},
		{"full tie, newer wins", summaryAt(0.8, 0.7, 2, base.Add(time.Minute)), true},
		{"full tie, equal timestamp wins", summaryAt(0.8, 0.7, 2, base), true},
		{"full tie, older loses", summaryAt(0.8, 0.7, 2, base.Add(-time.Minute)), false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ShouldPromote(existing, tc.candidate))
		})
	}
}

func TestShouldPromoteFirstResult(t *testing.T) {
	t.Parallel()

	candidate := summaryAt(0.1, 0.1, 20, time.Now())
	assert.True(t, ShouldPromote(nil, candidate), "any result beats an empty record")
}

func TestPromotionMonotonic(t *testing.T) {
	t.Parallel()

	// Feed worsening rounds after a strong one: the committed summary
	// must never regress on (completeness, confidence).
	committed := (*model.RunSummarySnapshot)(nil)
	rounds := []*model.RunSummarySnapshot{
		summaryAt(0.5, 0.5, 3, time.Unix(100, 0)),
		summaryAt(0.9, 0.8, 1, time.Unix(200, 0)),
		summaryAt(0.6, 0.9, 0, time.Unix(300, 0)),
		summaryAt(0.9, 0.4, 0, time.Unix(400, 0)),
	}
	for _, round := range rounds {
		if ShouldPromote(committed, round) {
			committed = round
		}
	}
	assert.InDelta(t, 0.9, committed.CompletenessRequired, 1e-9)
	assert.InDelta(t, 0.8, committed.Confidence, 1e-9)
}

func TestBuildEvidencePackDedupes(t *testing.T) {
	t.Parallel()

	refs := []model.EvidenceRef{
		{URL: "https://a.example/spec", EvidenceType: "spec_table", Content: "weight 58g"},
		{URL: "https://a.example/spec", EvidenceType: "spec_table", Content: "weight 58g"},
		{URL: "https://a.example/spec", EvidenceType: "prose", Content: "weight 58g"},
		{URL: "https://b.example/review", EvidenceType: "spec_table", Content: "weight 58g"},
	}
	pack := BuildEvidencePack(refs, model.RunSummarySnapshot{})
	assert.Len(t, pack, 3, "identical (url, type, content) rows collapse")
}

func TestBuildEvidencePackFallsBackToSummary(t *testing.T) {
	t.Parallel()

	summary := model.RunSummarySnapshot{TopEvidence: []model.EvidenceRef{
		{URL: "https://a.example/spec", EvidenceType: "spec_table", Content: "dpi 30000"},
	}}
	pack := BuildEvidencePack(nil, summary)
	assert.Len(t, pack, 1)
	assert.Equal(t, "https://a.example/spec", pack[0].URL)
}

func TestBestURLs(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://www.razer.com/gaming-mice/razer-viper-v3",
		"https://www.razer.com/robots.txt",
		"https://example.com/search?q=viper",
		"https://rtings.com/mouse/reviews/razer/viper-v3",
		"https://unrelated.example/blog/keyboards",
	}
	got := BestURLs(urls, "Razer", 0)
	assert.Equal(t, []string{
		"https://www.razer.com/gaming-mice/razer-viper-v3",
		"https://rtings.com/mouse/reviews/razer/viper-v3",
	}, got)
}

func TestBestURLsLimit(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://www.razer.com/a",
		"https://www.razer.com/b",
		"https://www.razer.com/c",
	}
	got := BestURLs(urls, "Razer", 2)
	assert.Len(t, got, 2)
}
