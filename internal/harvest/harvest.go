// Package harvest runs processing cycles: select the next eligible
// product, run one crawl round through the external round runner, index
// its evidence, commit the round through promotion, and record the
// outcome on the queue.
package harvest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub015/internal/cost"
	"github.com/CdubVentures/spec-harvester-sub015/internal/evidence"
	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
	"github.com/CdubVentures/spec-harvester-sub015/internal/promote"
	"github.com/CdubVentures/spec-harvester-sub015/internal/queue"
)

// RoundInput hands a round runner everything it needs to crawl and
// extract one product for one round.
type RoundInput struct {
	Identity    model.ProductIdentity     `json:"identity"`
	RunID       string                    `json:"run_id"`
	Round       int                       `json:"round"`
	LastSummary *model.RunSummarySnapshot `json:"last_summary,omitempty"`
	LastURLs    []string                  `json:"last_urls,omitempty"`
}

// RoundResult is the external extraction service's output for one round.
// Documents are indexed and artifacts committed by the orchestrator; the
// runner itself touches neither the evidence index nor the queue.
type RoundResult struct {
	Summary      model.RunSummarySnapshot `json:"summary"`
	Spec         json.RawMessage          `json:"spec,omitempty"`
	Provenance   json.RawMessage          `json:"provenance,omitempty"`
	TrafficLight json.RawMessage          `json:"traffic_light,omitempty"`
	References   []model.EvidenceRef      `json:"references,omitempty"`
	Sources      []model.SourceRecord     `json:"sources,omitempty"`
	Documents    []evidence.IndexRequest  `json:"documents,omitempty"`

	Usage            cost.Usage `json:"usage"`
	AttemptedURLs    []string   `json:"attempted_urls,omitempty"`
	BudgetExhausted  bool       `json:"budget_exhausted,omitempty"`
	LLMBudgetBlocked bool       `json:"llm_budget_blocked,omitempty"`
	BlockedReason    string     `json:"blocked_reason,omitempty"`
}

// RoundRunner is the crawl/extraction collaborator. Implementations
// fetch sources, extract fields, and validate; they perform no queue or
// bundle writes.
type RoundRunner interface {
	RunRound(ctx context.Context, input RoundInput) (*RoundResult, error)
}

// CycleResult reports one completed processing cycle.
type CycleResult struct {
	ProductID string       `json:"product_id"`
	RunID     string       `json:"run_id"`
	Status    model.Status `json:"status"`
	Promoted  bool         `json:"promoted"`
	Indexed   int          `json:"documents_indexed"`
	CostUSD   float64      `json:"cost_usd"`
}

// Orchestrator wires the queue, evidence index, promotion, and billing
// around a round runner.
type Orchestrator struct {
	queue     *queue.Store
	scheduler *queue.Scheduler
	index     evidence.Index
	bundles   *promote.Assembler
	ledger    *cost.Ledger
	runner    RoundRunner

	// inflight guards against double-claiming: running rows stay
	// selectable so crashed runs can be resumed, but a row being worked
	// by this process must not be handed to a second worker.
	mu       sync.Mutex
	inflight map[string]struct{}

	now      func() time.Time
	newRunID func() string
}

func NewOrchestrator(q *queue.Store, scheduler *queue.Scheduler, index evidence.Index, bundles *promote.Assembler, ledger *cost.Ledger, runner RoundRunner) *Orchestrator {
	return &Orchestrator{
		queue:     q,
		scheduler: scheduler,
		index:     index,
		bundles:   bundles,
		ledger:    ledger,
		runner:    runner,
		inflight:  map[string]struct{}{},
		now:       time.Now,
		newRunID:  func() string { return uuid.NewString() },
	}
}

// ErrQueueDrained is returned by ProcessNext when no row is eligible.
var ErrQueueDrained = eris.New("harvest: no eligible product in queue")

// ProcessNext claims the highest-scoring eligible product and runs one
// full cycle on it. Returns ErrQueueDrained when nothing is selectable.
func (o *Orchestrator) ProcessNext(ctx context.Context, category string) (*CycleResult, error) {
	claimed, err := o.claim(ctx, category)
	if err != nil {
		return nil, err
	}
	defer o.release(claimed.productID)
	return o.runCycle(ctx, category, claimed)
}

// ProcessProduct runs one cycle on a specific product regardless of its
// queue score. A manual run is an explicit override, so hold statuses do
// not block it; only a missing row does.
func (o *Orchestrator) ProcessProduct(ctx context.Context, category, productID string) (*CycleResult, error) {
	claimed := &claimedProduct{productID: productID, runID: o.newRunID()}

	o.mu.Lock()
	if _, busy := o.inflight[productID]; busy {
		o.mu.Unlock()
		return nil, eris.Errorf("harvest: product %s is already being processed", productID)
	}
	_, err := o.queue.Update(ctx, category, func(state *model.QueueState) error {
		if err := o.scheduler.MarkRunning(state, productID, claimed.runID, o.now()); err != nil {
			return err
		}
		claimed.row = state.Products[productID]
		return nil
	})
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.inflight[productID] = struct{}{}
	o.mu.Unlock()

	defer o.release(claimed.productID)
	return o.runCycle(ctx, category, claimed)
}

func (o *Orchestrator) release(productID string) {
	o.mu.Lock()
	delete(o.inflight, productID)
	o.mu.Unlock()
}

// claimedProduct is the row snapshot taken while marking it running.
type claimedProduct struct {
	productID string
	runID     string
	row       model.QueueProductRow
}

// claim selects and marks running inside one queue update, so two
// workers on the same category cannot pick the same product.
func (o *Orchestrator) claim(ctx context.Context, category string) (*claimedProduct, error) {
	claimed := &claimedProduct{runID: o.newRunID()}
	o.mu.Lock()
	defer o.mu.Unlock()

	_, err := o.queue.Update(ctx, category, func(state *model.QueueState) error {
		productID, ok := o.scheduler.SelectNext(o.withoutInflight(state), o.now())
		if !ok {
			return ErrQueueDrained
		}
		claimed.productID = productID
		if err := o.scheduler.MarkRunning(state, productID, claimed.runID, o.now()); err != nil {
			return err
		}
		claimed.row = state.Products[productID]
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.inflight[claimed.productID] = struct{}{}
	return claimed, nil
}

// withoutInflight returns a selection view of the state with rows this
// process is already working removed.
func (o *Orchestrator) withoutInflight(state *model.QueueState) *model.QueueState {
	if len(o.inflight) == 0 {
		return state
	}
	view := model.NewQueueState(state.Category)
	for id, row := range state.Products {
		if _, busy := o.inflight[id]; !busy {
			view.Products[id] = row
		}
	}
	return view
}

func (o *Orchestrator) runCycle(ctx context.Context, category string, claimed *claimedProduct) (*CycleResult, error) {
	log := zap.L().With(
		zap.String("category", category),
		zap.String("product", claimed.productID),
		zap.String("run_id", claimed.runID),
	)
	log.Info("harvest: round started", zap.Int("round", claimed.row.RoundsDone+1))

	input := RoundInput{
		Identity:    claimed.row.Identity,
		RunID:       claimed.runID,
		Round:       claimed.row.RoundsDone + 1,
		LastSummary: claimed.row.LastSummary,
		LastURLs:    claimed.row.LastURLs,
	}

	result, err := o.runner.RunRound(ctx, input)
	if err != nil {
		log.Warn("harvest: round failed", zap.Error(err))
		if _, ferr := o.queue.Update(ctx, category, func(state *model.QueueState) error {
			return o.scheduler.RecordFailure(state, claimed.productID, err, o.now())
		}); ferr != nil {
			return nil, ferr
		}
		return nil, eris.Wrap(err, "harvest: run round")
	}

	indexed, err := o.indexDocuments(ctx, log, result.Documents)
	if err != nil {
		return nil, err
	}

	result.Summary.RunID = claimed.runID
	promoted, err := o.commitArtifacts(ctx, claimed, result)
	if err != nil {
		return nil, err
	}

	if o.ledger != nil {
		if err := o.ledger.RecordRun(ctx, category, claimed.productID, result.Usage); err != nil {
			return nil, err
		}
	}

	outcome := model.RoundOutcome{
		RunID:            claimed.runID,
		Summary:          result.Summary,
		CostUSD:          result.Usage.CostUSD,
		AttemptedURLs:    result.AttemptedURLs,
		BudgetExhausted:  result.BudgetExhausted,
		LLMBudgetBlocked: result.LLMBudgetBlocked,
		BlockedReason:    result.BlockedReason,
	}
	state, err := o.queue.Update(ctx, category, func(state *model.QueueState) error {
		return o.scheduler.RecordRunResult(state, claimed.productID, outcome, o.now())
	})
	if err != nil {
		return nil, err
	}

	cycle := &CycleResult{
		ProductID: claimed.productID,
		RunID:     claimed.runID,
		Status:    state.Products[claimed.productID].Status,
		Promoted:  promoted,
		Indexed:   indexed,
		CostUSD:   result.Usage.CostUSD,
	}
	log.Info("harvest: round recorded",
		zap.String("status", string(cycle.Status)),
		zap.Bool("promoted", cycle.Promoted),
		zap.Int("documents_indexed", cycle.Indexed),
		zap.Float64("cost_usd", cycle.CostUSD),
	)
	return cycle, nil
}

// indexDocuments pushes every fetched document through the evidence
// index. Dedup makes this idempotent, so a crashed cycle re-run is safe.
func (o *Orchestrator) indexDocuments(ctx context.Context, log *zap.Logger, docs []evidence.IndexRequest) (int, error) {
	var indexed int
	for _, doc := range docs {
		result, err := o.index.IndexDocument(ctx, doc)
		if err != nil {
			return indexed, eris.Wrapf(err, "harvest: index document from %s", doc.URL)
		}
		indexed++
		if result.Outcome == evidence.OutcomeReused {
			log.Debug("harvest: document reused", zap.String("doc_id", result.DocID))
		}
	}
	return indexed, nil
}

func (o *Orchestrator) commitArtifacts(ctx context.Context, claimed *claimedProduct, result *RoundResult) (bool, error) {
	committed, err := o.bundles.CommitRound(ctx, claimed.row.Identity, claimed.runID, promote.RoundArtifacts{
		Summary:      result.Summary,
		Spec:         result.Spec,
		Provenance:   result.Provenance,
		TrafficLight: result.TrafficLight,
		References:   result.References,
		Sources:      result.Sources,
	})
	if err != nil {
		return false, err
	}
	return committed.Promoted, nil
}
