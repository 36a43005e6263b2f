package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
	"github.com/CdubVentures/spec-harvester-sub015/internal/storage"
)

func newTestStore(t *testing.T) (*Store, storage.Store) {
	t.Helper()
	backend, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return NewStore(backend), backend
}

func TestStoreLoadMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	qs, _ := newTestStore(t)

	state, err := qs.Load(ctx, "mice")
	require.NoError(t, err)
	assert.Equal(t, "mice", state.Category)
	assert.Empty(t, state.Products)
	assert.False(t, state.Recovered)
}

func TestStoreSaveRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	qs, backend := newTestStore(t)
	sched := NewScheduler(Config{})
	now := time.Now().UTC().Truncate(time.Second)

	state := model.NewQueueState("mice")
	sched.Enqueue(state, model.ProductIdentity{Category: "mice", Brand: "Razer", Model: "Viper"}, 1, now)
	require.NoError(t, qs.Save(ctx, state))

	loaded, err := qs.Load(ctx, "mice")
	require.NoError(t, err)
	require.Contains(t, loaded.Products, "mice-razer-viper")
	assert.Equal(t, model.StatusPending, loaded.Products["mice-razer-viper"].Status)

	// Mirrored to the legacy path with identical content.
	primary, err := backend.Read(ctx, "_queue/mice/state.json")
	require.NoError(t, err)
	legacy, err := backend.Read(ctx, "_queue/mice/queue.json")
	require.NoError(t, err)
	assert.JSONEq(t, string(primary), string(legacy))
}

func TestStoreCorruptRecovery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	qs, backend := newTestStore(t)

	require.NoError(t, backend.Write(ctx, "_queue/mice/state.json", []byte("{truncated")))

	state, err := qs.Load(ctx, "mice")
	require.NoError(t, err, "corrupt state must never crash the scheduler")
	assert.True(t, state.Recovered)
	assert.Empty(t, state.Products)
}

func TestStoreUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	qs, backend := newTestStore(t)
	sched := NewScheduler(Config{})
	now := time.Now().UTC()

	_, err := qs.Update(ctx, "mice", func(state *model.QueueState) error {
		sched.Enqueue(state, model.ProductIdentity{Category: "mice", Brand: "Zowie", Model: "EC2"}, 2, now)
		return nil
	})
	require.NoError(t, err)

	data, err := backend.Read(ctx, "_queue/mice/state.json")
	require.NoError(t, err)
	var persisted model.QueueState
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Contains(t, persisted.Products, "mice-zowie-ec2")
}

func TestParseSeed(t *testing.T) {
	t.Parallel()

	t.Run("valid seed", func(t *testing.T) {
		t.Parallel()
		seed, err := ParseSeed([]byte(`
category: mice
products:
  - brand: Razer
    model: Viper V2 Pro
    priority: 1
  - brand: Logitech
    model: G Pro X Superlight
    variant: Black
    priority: 2
`))
		require.NoError(t, err)
		assert.Equal(t, "mice", seed.Category)
		assert.Len(t, seed.Products, 2)
	})

	t.Run("missing category", func(t *testing.T) {
		t.Parallel()
		_, err := ParseSeed([]byte("products:\n  - brand: A\n    model: B\n"))
		assert.Error(t, err)
	})

	t.Run("seed into state skips invalid and existing rows", func(t *testing.T) {
		t.Parallel()
		sched := NewScheduler(Config{})
		state := model.NewQueueState("mice")
		now := time.Now().UTC()
		seed := &SeedFile{
			Category: "mice",
			Products: []SeedProduct{
				{Brand: "Razer", Model: "Viper", Priority: 1},
				{Brand: "", Model: "Nameless"},
				{Brand: "Razer", Model: "Viper", Priority: 1},
			},
		}
		assert.Equal(t, 1, sched.Seed(state, seed, now))
		assert.Len(t, state.Products, 1)
	})
}
