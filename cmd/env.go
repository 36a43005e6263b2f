package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/CdubVentures/spec-harvester-sub015/internal/config"
	"github.com/CdubVentures/spec-harvester-sub015/internal/cost"
	"github.com/CdubVentures/spec-harvester-sub015/internal/evidence"
	"github.com/CdubVentures/spec-harvester-sub015/internal/harvest"
	"github.com/CdubVentures/spec-harvester-sub015/internal/promote"
	"github.com/CdubVentures/spec-harvester-sub015/internal/queue"
	"github.com/CdubVentures/spec-harvester-sub015/internal/replay"
	"github.com/CdubVentures/spec-harvester-sub015/internal/storage"
	"github.com/CdubVentures/spec-harvester-sub015/pkg/extraction"
)

// env bundles the wired components the commands share.
type env struct {
	Store        storage.Store
	Queue        *queue.Store
	Scheduler    *queue.Scheduler
	Index        evidence.Index
	Orchestrator *harvest.Orchestrator
	Replay       *replay.Reconstructor
	Ledger       *cost.Ledger
}

func nowUTC() time.Time { return time.Now().UTC() }

func (e *env) Close() {
	if e.Index != nil {
		_ = e.Index.Close()
	}
}

func schedulerConfig(c config.SchedulerConfig) queue.Config {
	qc := queue.DefaultConfig()
	if c.BackoffBaseSecs > 0 {
		qc.BackoffBase = time.Duration(c.BackoffBaseSecs) * time.Second
	}
	if c.BackoffMaxSecs > 0 {
		qc.BackoffMax = time.Duration(c.BackoffMaxSecs) * time.Second
	}
	if c.MaxAttempts > 0 {
		qc.MaxAttempts = c.MaxAttempts
	}
	if c.StaleAfterDays > 0 {
		qc.StaleAfter = time.Duration(c.StaleAfterDays) * 24 * time.Hour
	}
	if c.URLHistoryCap > 0 {
		qc.URLHistoryCap = c.URLHistoryCap
	}
	return qc
}

// initIndex opens the configured evidence backend and applies migrations.
func initIndex(ctx context.Context) (evidence.Index, error) {
	var (
		index evidence.Index
		err   error
	)
	switch cfg.Evidence.Driver {
	case "postgres":
		index, err = evidence.NewPostgres(ctx, cfg.Evidence.DatabaseURL)
	case "sqlite", "":
		if mkerr := os.MkdirAll(filepath.Dir(cfg.Evidence.SQLitePath), 0o755); mkerr != nil {
			return nil, eris.Wrap(mkerr, "create evidence directory")
		}
		index, err = evidence.NewSQLite(cfg.Evidence.SQLitePath)
	default:
		return nil, eris.Errorf("unknown evidence driver %q", cfg.Evidence.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "open evidence index")
	}
	if err := index.Migrate(ctx); err != nil {
		_ = index.Close()
		return nil, eris.Wrap(err, "migrate evidence index")
	}
	return index, nil
}

// initEnv wires storage, queue, evidence, promotion, billing, and the
// extraction client into an orchestrator.
func initEnv(ctx context.Context) (*env, error) {
	store, err := storage.NewLocal(cfg.Storage.Root)
	if err != nil {
		return nil, eris.Wrap(err, "open storage root")
	}

	index, err := initIndex(ctx)
	if err != nil {
		return nil, err
	}

	queueStore := queue.NewStore(store)
	scheduler := queue.NewScheduler(schedulerConfig(cfg.Scheduler))
	ledger := cost.NewLedger(store)

	runner := extraction.NewClient(cfg.Extraction.APIKey,
		extraction.WithBaseURL(cfg.Extraction.BaseURL),
		extraction.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Extraction.TimeoutSecs) * time.Second,
		}),
	)

	return &env{
		Store:        store,
		Queue:        queueStore,
		Scheduler:    scheduler,
		Index:        index,
		Orchestrator: harvest.NewOrchestrator(queueStore, scheduler, index, promote.NewAssembler(store), ledger, runner),
		Replay:       replay.NewReconstructor(store),
		Ledger:       ledger,
	}, nil
}
