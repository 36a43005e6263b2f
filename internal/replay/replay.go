// Package replay rebuilds the ordered source list of a past run from its
// recorded event log, letting a run be reprocessed from cached artifacts
// without touching the network.
package replay

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
	"github.com/CdubVentures/spec-harvester-sub015/internal/storage"
)

// Reconstructor reads run event logs out of storage.
type Reconstructor struct {
	store storage.Store
}

func NewReconstructor(store storage.Store) *Reconstructor {
	return &Reconstructor{store: store}
}

// eventLogKey is the uncompressed log path; runs archived by the cleanup
// job carry a .gz suffix instead.
func eventLogKey(category, productID, runID string) string {
	return path.Join("runs", model.Slug(category), productID, runID, "events.jsonl")
}

// Reconstruct pairs the run's fetch-started and source-processed events
// into an ordered manifest. Started events queue FIFO per normalized URL;
// each processed event pops the oldest match to recover the metadata the
// processed line omits. A processed event with no matching start still
// yields a record so a partially recorded run replays as far as it can.
func (r *Reconstructor) Reconstruct(ctx context.Context, category, productID, runID string) (*model.ReplayManifest, error) {
	log := zap.L().With(
		zap.String("product", productID),
		zap.String("run_id", runID),
	)

	data, err := r.readEventLog(ctx, category, productID, runID)
	if err != nil {
		return nil, err
	}

	started := make(map[string][]model.FetchStartedEvent)
	manifest := &model.ReplayManifest{
		Category:  category,
		ProductID: productID,
		RunID:     runID,
	}

	var malformed int
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		event, err := model.ParseEvent(line)
		if err != nil {
			malformed++
			continue
		}
		switch ev := event.(type) {
		case model.FetchStartedEvent:
			key := normalizeURL(ev.URL)
			started[key] = append(started[key], ev)
		case model.SourceProcessedEvent:
			manifest.Sources = append(manifest.Sources, r.pairSource(ev, started, len(manifest.Sources)))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "replay: scan event log")
	}
	if malformed > 0 {
		log.Warn("replay: skipped malformed event lines", zap.Int("lines", malformed))
	}

	if len(manifest.Sources) == 0 {
		return nil, eris.Errorf("replay: run %s has no processed sources in its event log", runID)
	}

	log.Info("replay: reconstructed manifest", zap.Int("sources", len(manifest.Sources)))
	return manifest, nil
}

// readEventLog loads events.jsonl, falling back to the gzip-archived
// form. A run with no log, or an empty one, cannot be replayed.
func (r *Reconstructor) readEventLog(ctx context.Context, category, productID, runID string) ([]byte, error) {
	key := eventLogKey(category, productID, runID)
	data, err := r.store.Read(ctx, key)
	if storage.IsNotFound(err) {
		data, err = r.readGzipped(ctx, key+".gz")
		if storage.IsNotFound(err) {
			return nil, eris.Errorf("replay: no event log for run %s", runID)
		}
	}
	if err != nil {
		return nil, eris.Wrap(err, "replay: read event log")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, eris.Errorf("replay: event log for run %s is empty", runID)
	}
	return data, nil
}

func (r *Reconstructor) readGzipped(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "replay: open gzip event log")
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, eris.Wrap(err, "replay: decompress event log")
	}
	return data, nil
}

// pairSource merges a processed event with the oldest queued started
// event for the same URL, if one exists.
func (r *Reconstructor) pairSource(processed model.SourceProcessedEvent, started map[string][]model.FetchStartedEvent, index int) model.SourceRecord {
	record := model.SourceRecord{
		URL:      processed.URL,
		FinalURL: processed.FinalURL,
		Host:     processed.Host,
		Status:   processed.Status,
		Tier:     processed.Tier,
		Role:     processed.Role,
	}

	key := normalizeURL(processed.URL)
	if queue := started[key]; len(queue) > 0 {
		first := queue[0]
		started[key] = queue[1:]
		if record.Host == "" {
			record.Host = first.Host
		}
		if record.Tier == 0 {
			record.Tier = first.Tier
		}
		if record.Role == "" {
			record.Role = first.Role
		}
	}

	record.ArtifactKey = artifactKey(record.Host, record.URL, index)
	return record
}

// normalizeURL collapses the variations the recorder emits for one page:
// scheme/host case, default ports, trailing slash, and fragments.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ":80")
	u.Host = strings.TrimSuffix(u.Host, ":443")
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// artifactKey names the cached artifact for a replayed source. The index
// is per-manifest, so the same log always yields the same keys.
func artifactKey(host, rawURL string, index int) string {
	if host == "" {
		if u, err := url.Parse(rawURL); err == nil {
			host = u.Host
		}
	}
	slug := model.Slug(host)
	if slug == "" {
		slug = "unknown"
	}
	return fmt.Sprintf("%s_%03d", slug, index)
}
