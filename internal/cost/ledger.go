// Package cost tracks LLM spend per run in monthly billing documents.
package cost

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub015/internal/storage"
)

const billingRoot = "_billing/monthly"

// Usage is one run's metered spend, and the unit totals accumulate in.
type Usage struct {
	CostUSD          float64 `json:"cost_usd"`
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
}

func (u *Usage) add(other Usage) {
	u.CostUSD += other.CostUSD
	u.Calls += other.Calls
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// MonthlyDocument is one month's ledger: grand totals plus per-product
// breakdowns. Products key by "<category>/<product_id>".
type MonthlyDocument struct {
	Month     string           `json:"month"`
	UpdatedAt time.Time        `json:"updated_at"`
	Totals    Usage            `json:"totals"`
	Products  map[string]Usage `json:"products"`
}

// Ledger appends run usage into monthly documents. Writes are serialized
// in-process; the document is read-modify-write like the queue state.
type Ledger struct {
	store storage.Store
	mu    sync.Mutex
	now   func() time.Time
}

func NewLedger(store storage.Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// MonthKey is the storage key of the given month's document.
func MonthKey(t time.Time) string {
	return path.Join(billingRoot, t.UTC().Format("2006-01")+".json")
}

// RecordRun folds one run's usage into the current month's document.
func (l *Ledger) RecordRun(ctx context.Context, category, productID string, usage Usage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	key := MonthKey(now)

	doc, err := l.load(ctx, key, now)
	if err != nil {
		return err
	}

	doc.Totals.add(usage)
	entry := doc.Products[category+"/"+productID]
	entry.add(usage)
	doc.Products[category+"/"+productID] = entry
	doc.UpdatedAt = now

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "cost: marshal monthly document")
	}
	if err := l.store.Write(ctx, key, data); err != nil {
		return eris.Wrap(err, "cost: write monthly document")
	}

	zap.L().Debug("cost: recorded run usage",
		zap.String("product", productID),
		zap.Float64("cost_usd", usage.CostUSD),
		zap.Float64("month_total_usd", doc.Totals.CostUSD),
	)
	return nil
}

// Month returns a month's ledger, or an empty one if nothing was billed.
func (l *Ledger) Month(ctx context.Context, t time.Time) (*MonthlyDocument, error) {
	return l.load(ctx, MonthKey(t), t.UTC())
}

func (l *Ledger) load(ctx context.Context, key string, now time.Time) (*MonthlyDocument, error) {
	fresh := &MonthlyDocument{
		Month:    now.Format("2006-01"),
		Products: map[string]Usage{},
	}

	data, err := l.store.Read(ctx, key)
	if storage.IsNotFound(err) {
		return fresh, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cost: read monthly document")
	}

	var doc MonthlyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		// Spend tracking must not lose prior entries to one bad write, so
		// a corrupt document is an error, not a silent reset.
		return nil, eris.Wrap(err, "cost: decode monthly document")
	}
	if doc.Products == nil {
		doc.Products = map[string]Usage{}
	}
	return &doc, nil
}
