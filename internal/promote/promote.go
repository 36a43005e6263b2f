// Package promote decides whether a crawl round's result supersedes the
// committed final record for a product, and writes the durable bundle,
// evidence pack, and append-only history.
package promote

import (
	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
)

// ShouldPromote reports whether candidate replaces existing. The ordering
// is strict: required-field completeness first, then confidence, then
// fewer contradictions, then newest on a full tie. A worse round can
// never regress the published record; a missing existing record always
// promotes.
func ShouldPromote(existing, candidate *model.RunSummarySnapshot) bool {
	if candidate == nil {
		return false
	}
	if existing == nil {
		return true
	}
	if candidate.CompletenessRequired != existing.CompletenessRequired {
		return candidate.CompletenessRequired > existing.CompletenessRequired
	}
	if candidate.Confidence != existing.Confidence {
		return candidate.Confidence > existing.Confidence
	}
	if candidate.Contradictions != existing.Contradictions {
		return candidate.Contradictions < existing.Contradictions
	}
	return !candidate.GeneratedAt.Before(existing.GeneratedAt)
}
