package promote

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
	"github.com/CdubVentures/spec-harvester-sub015/internal/storage"
)

const (
	finalRoot = "final"
	runsRoot  = "runs"
)

// RoundArtifacts is everything a crawl round hands to promotion: the
// summary used for comparison plus the payloads written into bundles.
// Spec, provenance, and traffic light are produced by the external
// extraction service and passed through opaque.
type RoundArtifacts struct {
	Summary      model.RunSummarySnapshot
	Spec         json.RawMessage
	Provenance   json.RawMessage
	TrafficLight json.RawMessage
	References   []model.EvidenceRef
	Sources      []model.SourceRecord
}

// Result reports what a promotion pass did.
type Result struct {
	Promoted  bool   `json:"promoted"`
	Reason    string `json:"reason"`
	BundleKey string `json:"bundle_key"`
	RunKey    string `json:"run_key"`
}

// Assembler writes run artifacts and final bundles through storage.
type Assembler struct {
	store storage.Store
}

// NewAssembler creates an assembler over the given store.
func NewAssembler(store storage.Store) *Assembler {
	return &Assembler{store: store}
}

// runKey is the per-run debug artifact root; later runs never overwrite it.
func runKey(identity model.ProductIdentity, runID string) string {
	return path.Join(runsRoot, model.Slug(identity.Category), identity.ProductID(), runID)
}

// BundleKey is the final bundle root for an identity.
func BundleKey(identity model.ProductIdentity) string {
	return path.Join(finalRoot, identity.IdentityPath())
}

// meta is the final bundle's meta.json payload.
type meta struct {
	CanonicalIdentity model.ProductIdentity `json:"canonical_identity"`
	ProductID         string                `json:"productId"`
	RunID             string                `json:"runId"`
	PromotedAt        time.Time             `json:"promoted_at"`
}

// runHistoryLine is one append-only entry in history/runs.jsonl.
type runHistoryLine struct {
	RunID      string                   `json:"run_id"`
	RecordedAt time.Time                `json:"recorded_at"`
	Promoted   bool                     `json:"promoted"`
	Reason     string                   `json:"reason,omitempty"`
	Summary    model.RunSummarySnapshot `json:"summary"`
}

// CommitRound runs one full promotion pass for a round:
//
//  1. writes the full debug snapshot under the run's own path so a
//     rejected round stays inspectable,
//  2. compares the round summary against the committed bundle and
//     overwrites the bundle's current-state files if the candidate wins,
//  3. regardless of promotion, appends one line to history/runs.jsonl
//     and one line per processed source to evidence/sources.jsonl.
//
// Storage failures propagate: a lost write must be visible.
func (a *Assembler) CommitRound(ctx context.Context, identity model.ProductIdentity, runID string, artifacts RoundArtifacts) (*Result, error) {
	log := zap.L().With(
		zap.String("product", identity.ProductID()),
		zap.String("run_id", runID),
	)

	rKey := runKey(identity, runID)
	bKey := BundleKey(identity)
	result := &Result{BundleKey: bKey, RunKey: rKey}

	pack := BuildEvidencePack(artifacts.References, artifacts.Summary)

	if err := a.writeArtifactSet(ctx, rKey, artifacts, pack); err != nil {
		return nil, err
	}
	if err := a.appendSources(ctx, path.Join(rKey, "evidence", "sources.jsonl"), artifacts.Sources); err != nil {
		return nil, err
	}

	existing, err := a.readCommittedSummary(ctx, bKey)
	if err != nil {
		return nil, err
	}

	candidate := artifacts.Summary
	if ShouldPromote(existing, &candidate) {
		result.Promoted = true
		result.Reason = promotionReason(existing, &candidate)

		if err := a.writeArtifactSet(ctx, bKey, artifacts, pack); err != nil {
			return nil, err
		}
		metaDoc := meta{
			CanonicalIdentity: identity,
			ProductID:         identity.ProductID(),
			RunID:             runID,
			PromotedAt:        time.Now().UTC(),
		}
		if err := a.writeJSON(ctx, path.Join(bKey, "meta.json"), metaDoc); err != nil {
			return nil, err
		}
		log.Info("promote: committed round", zap.String("reason", result.Reason))
	} else {
		result.Reason = "candidate does not beat committed result"
		log.Info("promote: round rejected",
			zap.Float64("candidate_completeness", candidate.CompletenessRequired),
			zap.Float64("candidate_confidence", candidate.Confidence),
		)
	}

	// Append-only logs gain exactly one round regardless of outcome.
	historyLine := runHistoryLine{
		RunID:      runID,
		RecordedAt: time.Now().UTC(),
		Promoted:   result.Promoted,
		Reason:     result.Reason,
		Summary:    candidate,
	}
	if err := a.appendJSONL(ctx, path.Join(bKey, "history", "runs.jsonl"), historyLine); err != nil {
		return nil, err
	}
	if err := a.appendSources(ctx, path.Join(bKey, "evidence", "sources.jsonl"), artifacts.Sources); err != nil {
		return nil, err
	}

	return result, nil
}

// writeArtifactSet writes the current-state files shared by run
// snapshots and final bundles.
func (a *Assembler) writeArtifactSet(ctx context.Context, root string, artifacts RoundArtifacts, pack []model.EvidenceRef) error {
	files := map[string]any{
		"spec.json":                   rawOrEmpty(artifacts.Spec),
		"summary.json":                artifacts.Summary,
		"provenance.json":             rawOrEmpty(artifacts.Provenance),
		"traffic_light.json":          rawOrEmpty(artifacts.TrafficLight),
		"evidence/evidence_pack.json": pack,
	}
	for name, payload := range files {
		if err := a.writeJSON(ctx, path.Join(root, name), payload); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) readCommittedSummary(ctx context.Context, bundleKey string) (*model.RunSummarySnapshot, error) {
	data, err := a.store.Read(ctx, path.Join(bundleKey, "summary.json"))
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "promote: read committed summary")
	}
	var summary model.RunSummarySnapshot
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, eris.Wrap(err, "promote: decode committed summary")
	}
	return &summary, nil
}

func (a *Assembler) writeJSON(ctx context.Context, key string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "promote: marshal %s", key)
	}
	if err := a.store.Write(ctx, key, data); err != nil {
		return eris.Wrapf(err, "promote: write %s", key)
	}
	return nil
}

func (a *Assembler) appendJSONL(ctx context.Context, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "promote: marshal line %s", key)
	}
	if err := a.store.Append(ctx, key, append(data, '\n')); err != nil {
		return eris.Wrapf(err, "promote: append %s", key)
	}
	return nil
}

func (a *Assembler) appendSources(ctx context.Context, key string, sources []model.SourceRecord) error {
	for _, src := range sources {
		if err := a.appendJSONL(ctx, key, src); err != nil {
			return err
		}
	}
	return nil
}

func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

func promotionReason(existing, candidate *model.RunSummarySnapshot) string {
	switch {
	case existing == nil:
		return "first result for product"
	case candidate.CompletenessRequired > existing.CompletenessRequired:
		return "higher required completeness"
	case candidate.Confidence > existing.Confidence:
		return "higher confidence"
	case candidate.Contradictions < existing.Contradictions:
		return "fewer contradictions"
	default:
		return "newer result on full tie"
	}
}
