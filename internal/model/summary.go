package model

import "time"

// RunSummarySnapshot is the compact, immutable record of one round's
// outcome. It doubles as the queue row's last_summary and as the
// comparison object for promotion.
type RunSummarySnapshot struct {
	RunID                string    `json:"run_id,omitempty"`
	Validated            bool      `json:"validated"`
	Confidence           float64   `json:"confidence"`
	CompletenessRequired float64   `json:"completeness_required"`
	MissingRequired      int       `json:"missing_required"`
	CriticalMissing      int       `json:"critical_missing"`
	Contradictions       int       `json:"contradictions"`
	FieldsFilled         int       `json:"fields_filled,omitempty"`
	GeneratedAt          time.Time `json:"generated_at"`

	// TopEvidence is the summary's own best evidence entries, used as a
	// fallback when a round produced no structured references.
	TopEvidence []EvidenceRef `json:"top_evidence,omitempty"`
}

// EvidenceRef is one deduplicated reference row in an evidence pack.
type EvidenceRef struct {
	URL          string `json:"url"`
	Host         string `json:"host,omitempty"`
	Tier         int    `json:"tier,omitempty"`
	EvidenceType string `json:"evidence_type,omitempty"`
	FieldKey     string `json:"field_key,omitempty"`
	Content      string `json:"content,omitempty"`
	SnippetID    string `json:"snippet_id,omitempty"`
}

// RoundOutcome is what the scheduler records after a crawl round. It is a
// plain value handed back by the orchestrator; usage and budget signals
// arrive here rather than through injected callbacks.
type RoundOutcome struct {
	RunID            string
	Summary          RunSummarySnapshot
	CostUSD          float64
	AttemptedURLs    []string
	BudgetExhausted  bool
	LLMBudgetBlocked bool
	BlockedReason    string
}
