package promote

import (
	"net/url"
	"strings"

	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
)

const (
	// maxPackRefs caps the assembled evidence pack; maxFallbackRefs caps
	// the summary-derived fallback when a round produced no structured
	// references.
	maxPackRefs     = 300
	maxFallbackRefs = 120

	// truncatedContentLen bounds the content portion of the dedupe key so
	// near-identical refetches of the same page collapse to one entry.
	truncatedContentLen = 160
)

// BuildEvidencePack deduplicates the round's reference rows by
// (url, evidence_type, truncated content). With no structured references
// it falls back to the summary's top evidence entries.
func BuildEvidencePack(refs []model.EvidenceRef, summary model.RunSummarySnapshot) []model.EvidenceRef {
	if len(refs) == 0 {
		refs = summary.TopEvidence
		if len(refs) > maxFallbackRefs {
			refs = refs[:maxFallbackRefs]
		}
	}

	seen := make(map[string]bool, len(refs))
	pack := make([]model.EvidenceRef, 0, len(refs))
	for _, ref := range refs {
		content := ref.Content
		if len(content) > truncatedContentLen {
			content = content[:truncatedContentLen]
		}
		key := ref.URL + "\x1f" + ref.EvidenceType + "\x1f" + content
		if seen[key] {
			continue
		}
		seen[key] = true
		pack = append(pack, ref)
		if len(pack) >= maxPackRefs {
			break
		}
	}
	return pack
}

// lowInfoMarkers identify URLs that carry no product evidence.
var lowInfoMarkers = []string{
	"robots.txt",
	"sitemap",
	"/search",
	"?q=",
	"?s=",
	"&q=",
	"/query",
}

// BestURLs filters a product's attempted URL list down to the sources
// worth publishing: low-information URLs (robots, sitemaps, on-site
// search) are dropped, as are URLs whose host or path has no lexical
// relation to the product's brand token, so an unrelated crawled page
// cannot pollute the canonical source list.
func BestURLs(urls []string, brand string, limit int) []string {
	brandToken := model.Slug(brand)
	var out []string
	for _, raw := range urls {
		if !usableURL(raw, brandToken) {
			continue
		}
		out = append(out, raw)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func usableURL(raw, brandToken string) bool {
	lower := strings.ToLower(raw)
	for _, marker := range lowInfoMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	if brandToken == "" {
		return true
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	haystack := model.Slug(parsed.Host + " " + parsed.Path)
	for _, token := range strings.Split(brandToken, "-") {
		if len(token) >= 2 && strings.Contains(haystack, token) {
			return true
		}
	}
	return false
}
