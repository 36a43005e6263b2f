package model

import "time"

// Status is a product's position in the scheduler state machine.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusComplete    Status = "complete"
	StatusStale       Status = "stale"
	StatusExhausted   Status = "exhausted"
	StatusNeedsManual Status = "needs_manual"
	StatusFailed      Status = "failed"
	StatusPaused      Status = "paused"
	StatusBlocked     Status = "blocked"
	StatusSkipped     Status = "skipped"
)

// Selectable reports whether rows in this status may be returned by
// selection. Terminal and externally-held statuses are excluded.
func (s Status) Selectable() bool {
	switch s {
	case StatusPending, StatusRunning, StatusStale:
		return true
	default:
		return false
	}
}

// QueueProductRow is one product's scheduler state. Rows are owned by the
// scheduler, mutated only through its recorded transitions, and never
// deleted; a retry resets the row to pending instead.
type QueueProductRow struct {
	Identity       ProductIdentity     `json:"identity"`
	Status         Status              `json:"status"`
	Priority       int                 `json:"priority"`
	AttemptsTotal  int                 `json:"attempts_total"`
	RetryCount     int                 `json:"retry_count"`
	MaxAttempts    int                 `json:"max_attempts"`
	NextRetryAt    *time.Time          `json:"next_retry_at,omitempty"`
	LastRunID      string              `json:"last_run_id,omitempty"`
	LastSummary    *RunSummarySnapshot `json:"last_summary,omitempty"`
	CostUSDTotal   float64             `json:"cost_usd_total"`
	RoundsDone     int                 `json:"rounds_completed"`
	LastURLs       []string            `json:"last_urls_attempted,omitempty"`
	LastError      string              `json:"last_error,omitempty"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// QueueState is the whole per-category queue document. It is read,
// mutated in memory, and written back as one unit.
type QueueState struct {
	Category  string                     `json:"category"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Products  map[string]QueueProductRow `json:"products"`

	// Recovered is set when the persisted document was unreadable and a
	// fresh state was substituted in its place.
	Recovered bool `json:"recovered_from_corrupt_state,omitempty"`
}

// NewQueueState returns an empty queue document for a category.
func NewQueueState(category string) *QueueState {
	return &QueueState{
		Category: category,
		Products: map[string]QueueProductRow{},
	}
}
