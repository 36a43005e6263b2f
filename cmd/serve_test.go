package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CdubVentures/spec-harvester-sub015/internal/cost"
	"github.com/CdubVentures/spec-harvester-sub015/internal/evidence"
	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
	"github.com/CdubVentures/spec-harvester-sub015/internal/queue"
	"github.com/CdubVentures/spec-harvester-sub015/internal/replay"
	"github.com/CdubVentures/spec-harvester-sub015/internal/storage"
)

func newTestEnv(t *testing.T) *env {
	t.Helper()

	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	index, err := evidence.NewSQLite(filepath.Join(t.TempDir(), "evidence.db"))
	require.NoError(t, err)
	require.NoError(t, index.Migrate(context.Background()))
	t.Cleanup(func() { index.Close() })

	return &env{
		Store:     store,
		Queue:     queue.NewStore(store),
		Scheduler: queue.NewScheduler(queue.DefaultConfig()),
		Index:     index,
		Replay:    replay.NewReconstructor(store),
		Ledger:    cost.NewLedger(store),
	}
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServeHealth(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeQueueStatus(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.Queue.Update(context.Background(), "mice", func(state *model.QueueState) error {
		e.Scheduler.Enqueue(state, model.ProductIdentity{Category: "mice", Brand: "Razer", Model: "Viper V3"}, 1, time.Now().UTC())
		e.Scheduler.Enqueue(state, model.ProductIdentity{Category: "mice", Brand: "Logitech", Model: "G Pro"}, 2, time.Now().UTC())
		return nil
	})
	require.NoError(t, err)

	rec := get(t, newRouter(e), "/api/queue/mice")
	require.Equal(t, http.StatusOK, rec.Code)

	var report queueStatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "mice", report.Category)
	assert.Equal(t, 2, report.Counts[model.StatusPending])
	require.Len(t, report.Products, 2)
	assert.Equal(t, "mice-logitech-g-pro", report.Products[0].ProductID)
}

func TestServeSearchEmpty(t *testing.T) {
	rec := get(t, newRouter(newTestEnv(t)), "/api/search?category=mice&product=mice-razer-viper-v3&q=weight")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServeReplayMissingRun(t *testing.T) {
	rec := get(t, newRouter(newTestEnv(t)), "/api/replay/mice/mice-razer-viper-v3/run-404")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no event log")
}

func TestServeBillingEmptyMonth(t *testing.T) {
	rec := get(t, newRouter(newTestEnv(t)), "/api/billing")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc cost.MonthlyDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Zero(t, doc.Totals.CostUSD)
}

func TestServeBundleNotFound(t *testing.T) {
	rec := get(t, newRouter(newTestEnv(t)), "/api/bundle/mice/razer/viper-v3")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeBundleSummary(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.Store.Write(context.Background(),
		"final/mice/razer/viper-v3/summary.json",
		[]byte(`{"validated":true,"confidence":0.9}`),
	))

	rec := get(t, newRouter(e), "/api/bundle/mice/razer/viper-v3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"validated":true,"confidence":0.9}`, rec.Body.String())
}

func TestBuildStatusReportCounts(t *testing.T) {
	state := model.NewQueueState("mice")
	state.Products["a"] = model.QueueProductRow{Status: model.StatusComplete}
	state.Products["b"] = model.QueueProductRow{Status: model.StatusPending}
	state.Products["c"] = model.QueueProductRow{Status: model.StatusPending, LastError: "timeout"}

	report := buildStatusReport(state)
	assert.Equal(t, 1, report.Counts[model.StatusComplete])
	assert.Equal(t, 2, report.Counts[model.StatusPending])
	assert.Equal(t, []string{"a", "b", "c"}, []string{
		report.Products[0].ProductID,
		report.Products[1].ProductID,
		report.Products[2].ProductID,
	})
	assert.Equal(t, "timeout", report.Products[2].LastError)
}
