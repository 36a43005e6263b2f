// Package queue owns per-product scheduler state: the retryable state
// machine, the selection scoring function, backoff, and the whole-document
// persistence of the per-category queue.
package queue

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
)

// Scoring weights. Base weights order pending above stale, stale just
// above running; the remaining terms reward information gaps and penalize
// effort already spent so no product starves the rest of the queue.
const (
	basePending = 50.0
	baseStale   = 30.0
	baseRunning = 28.0

	priorityWeight      = 12.0
	missingWeight       = 10.0
	criticalWeight      = 16.0
	contradictionWeight = 6.0
	confidenceWeight    = 12.0
	attemptPenalty      = 4.0
	roundPenalty        = 3.0
)

// Config holds scheduler tunables.
type Config struct {
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	MaxAttempts   int
	StaleAfter    time.Duration
	URLHistoryCap int
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		BackoffBase:   60 * time.Second,
		BackoffMax:    3600 * time.Second,
		MaxAttempts:   5,
		StaleAfter:    30 * 24 * time.Hour,
		URLHistoryCap: 300,
	}
}

// Scheduler applies transitions to queue state. It is stateless apart
// from its config; all product state lives in the queue document.
type Scheduler struct {
	cfg Config
}

// NewScheduler creates a scheduler with the given config, filling zero
// fields with defaults.
func NewScheduler(cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.URLHistoryCap <= 0 {
		cfg.URLHistoryCap = def.URLHistoryCap
	}
	return &Scheduler{cfg: cfg}
}

// Score computes the selection score for a row. Rows that are not
// selectable, or whose next retry time is in the future, score -Inf.
func (s *Scheduler) Score(row model.QueueProductRow, now time.Time) float64 {
	if !row.Status.Selectable() {
		return math.Inf(-1)
	}
	if row.NextRetryAt != nil && row.NextRetryAt.After(now) {
		return math.Inf(-1)
	}

	var base float64
	switch row.Status {
	case model.StatusPending:
		base = basePending
	case model.StatusStale:
		base = baseStale
	case model.StatusRunning:
		base = baseRunning
	}

	priority := row.Priority
	if priority < 1 {
		priority = 3
	}
	if priority > 5 {
		priority = 5
	}
	score := base + float64(6-priority)*priorityWeight

	confidence := 0.0
	if sum := row.LastSummary; sum != nil {
		score += float64(sum.MissingRequired) * missingWeight
		score += float64(sum.CriticalMissing) * criticalWeight
		score += float64(sum.Contradictions) * contradictionWeight
		confidence = sum.Confidence
	}
	score += (1 - confidence) * confidenceWeight

	score -= float64(row.AttemptsTotal) * attemptPenalty
	score -= float64(row.RoundsDone) * roundPenalty
	return score
}

// SelectNext returns the eligible product with the highest score. Ties
// break by ascending product id so test runs are reproducible. The second
// return is false when no product is eligible.
func (s *Scheduler) SelectNext(state *model.QueueState, now time.Time) (string, bool) {
	ids := make([]string, 0, len(state.Products))
	for id := range state.Products {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best := ""
	bestScore := math.Inf(-1)
	for _, id := range ids {
		score := s.Score(state.Products[id], now)
		if score > bestScore {
			best = id
			bestScore = score
		}
	}
	if math.IsInf(bestScore, -1) {
		return "", false
	}
	return best, true
}

// Enqueue adds a pending row for an identity if none exists. Existing
// rows are left untouched. Returns true when a row was added.
func (s *Scheduler) Enqueue(state *model.QueueState, identity model.ProductIdentity, priority int, now time.Time) bool {
	id := identity.ProductID()
	if _, ok := state.Products[id]; ok {
		return false
	}
	if priority < 1 || priority > 5 {
		priority = 3
	}
	state.Products[id] = model.QueueProductRow{
		Identity:    identity,
		Status:      model.StatusPending,
		Priority:    priority,
		MaxAttempts: s.cfg.MaxAttempts,
		UpdatedAt:   now,
	}
	state.UpdatedAt = now
	return true
}

// MarkRunning transitions a selected row to running and stamps the run id.
func (s *Scheduler) MarkRunning(state *model.QueueState, productID, runID string, now time.Time) error {
	row, ok := state.Products[productID]
	if !ok {
		return eris.Errorf("queue: unknown product %s", productID)
	}
	row.Status = model.StatusRunning
	row.LastRunID = runID
	row.UpdatedAt = now
	state.Products[productID] = row
	state.UpdatedAt = now
	return nil
}

// RecordRunResult folds a round outcome into the row: derives the new
// status from the summary, bumps attempt/round counters, accumulates
// cost, and merges attempted URLs into the bounded history.
func (s *Scheduler) RecordRunResult(state *model.QueueState, productID string, outcome model.RoundOutcome, now time.Time) error {
	row, ok := state.Products[productID]
	if !ok {
		return eris.Errorf("queue: unknown product %s", productID)
	}

	row.AttemptsTotal++
	row.RoundsDone++
	row.CostUSDTotal += outcome.CostUSD
	row.LastRunID = outcome.RunID
	summary := outcome.Summary
	row.LastSummary = &summary
	row.LastURLs = mergeURLs(row.LastURLs, outcome.AttemptedURLs, s.cfg.URLHistoryCap)
	row.LastError = ""
	row.NextRetryAt = nil

	switch {
	case outcome.Summary.Validated:
		row.Status = model.StatusComplete
		row.RetryCount = 0
		completed := now
		row.CompletedAt = &completed
	case outcome.BudgetExhausted:
		row.Status = model.StatusExhausted
	case outcome.LLMBudgetBlocked:
		row.Status = model.StatusNeedsManual
		row.LastError = outcome.BlockedReason
	default:
		if row.Status == model.StatusPending || row.Status == model.StatusStale {
			row.Status = model.StatusRunning
		}
	}

	row.UpdatedAt = now
	state.Products[productID] = row
	state.UpdatedAt = now

	zap.L().Info("queue: recorded round",
		zap.String("product", productID),
		zap.String("run_id", outcome.RunID),
		zap.String("status", string(row.Status)),
		zap.Int("rounds", row.RoundsDone),
		zap.Float64("cost_usd_total", row.CostUSDTotal),
	)
	return nil
}

// RecordFailure applies retry backoff after a failed round. When the
// retry count reaches max attempts the row goes terminal failed and no
// further retry is scheduled; otherwise the row resets to pending with an
// exponentially delayed next retry time.
func (s *Scheduler) RecordFailure(state *model.QueueState, productID string, failure error, now time.Time) error {
	row, ok := state.Products[productID]
	if !ok {
		return eris.Errorf("queue: unknown product %s", productID)
	}

	row.AttemptsTotal++
	row.RetryCount++
	if failure != nil {
		row.LastError = failure.Error()
	}

	maxAttempts := row.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}

	if row.RetryCount >= maxAttempts {
		row.Status = model.StatusFailed
		row.NextRetryAt = nil
		zap.L().Warn("queue: product failed terminally",
			zap.String("product", productID),
			zap.Int("retry_count", row.RetryCount),
			zap.String("last_error", row.LastError),
		)
	} else {
		row.Status = model.StatusPending
		next := now.Add(s.Backoff(row.RetryCount))
		row.NextRetryAt = &next
	}

	row.UpdatedAt = now
	state.Products[productID] = row
	state.UpdatedAt = now
	return nil
}

// Backoff returns the delay before retry n (1-based):
// min(max, base * 2^(n-1)).
func (s *Scheduler) Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := float64(s.cfg.BackoffBase) * math.Pow(2, float64(retryCount-1))
	if delay > float64(s.cfg.BackoffMax) {
		delay = float64(s.cfg.BackoffMax)
	}
	return time.Duration(delay)
}

// MarkStale is the maintenance pass: complete rows older than the
// staleness threshold become stale and re-enter selection without losing
// their prior success record. Returns the number of rows transitioned.
func (s *Scheduler) MarkStale(state *model.QueueState, now time.Time) int {
	marked := 0
	for id, row := range state.Products {
		if row.Status != model.StatusComplete || row.CompletedAt == nil {
			continue
		}
		if now.Sub(*row.CompletedAt) < s.cfg.StaleAfter {
			continue
		}
		row.Status = model.StatusStale
		row.UpdatedAt = now
		state.Products[id] = row
		marked++
	}
	if marked > 0 {
		state.UpdatedAt = now
	}
	return marked
}

// SetHold applies an externally-set hold status (paused, blocked,
// skipped) to a row.
func (s *Scheduler) SetHold(state *model.QueueState, productID string, hold model.Status, now time.Time) error {
	switch hold {
	case model.StatusPaused, model.StatusBlocked, model.StatusSkipped:
	default:
		return eris.Errorf("queue: %s is not a hold status", hold)
	}
	row, ok := state.Products[productID]
	if !ok {
		return eris.Errorf("queue: unknown product %s", productID)
	}
	row.Status = hold
	row.UpdatedAt = now
	state.Products[productID] = row
	state.UpdatedAt = now
	return nil
}

// ResetForRetry returns a held or terminal row to pending, clearing the
// retry counter and schedule. This is the explicit manual reset required
// for failed and needs_manual rows.
func (s *Scheduler) ResetForRetry(state *model.QueueState, productID string, now time.Time) error {
	row, ok := state.Products[productID]
	if !ok {
		return eris.Errorf("queue: unknown product %s", productID)
	}
	row.Status = model.StatusPending
	row.RetryCount = 0
	row.NextRetryAt = nil
	row.LastError = ""
	row.UpdatedAt = now
	state.Products[productID] = row
	state.UpdatedAt = now
	return nil
}

// mergeURLs appends newly attempted URLs to the history, dropping
// duplicates and keeping the most recent cap entries.
func mergeURLs(history, attempted []string, limit int) []string {
	merged := make([]string, 0, len(history)+len(attempted))
	seen := make(map[string]int, len(history)+len(attempted))
	add := func(u string) {
		if u == "" {
			return
		}
		if idx, ok := seen[u]; ok {
			// Re-attempted URL moves to the most-recent end.
			merged = append(merged[:idx], merged[idx+1:]...)
			for i := idx; i < len(merged); i++ {
				seen[merged[i]] = i
			}
		}
		seen[u] = len(merged)
		merged = append(merged, u)
	}
	for _, u := range history {
		add(u)
	}
	for _, u := range attempted {
		add(u)
	}
	if len(merged) > limit {
		drop := len(merged) - limit
		merged = merged[drop:]
	}
	return merged
}
