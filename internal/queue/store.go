package queue

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
	"github.com/CdubVentures/spec-harvester-sub015/internal/storage"
)

const (
	queueRoot       = "_queue"
	primaryFileName = "state.json"
	legacyFileName  = "queue.json"
)

// StateKey returns the primary storage key for a category's queue document.
func StateKey(category string) string {
	return path.Join(queueRoot, model.Slug(category), primaryFileName)
}

func legacyKey(category string) string {
	return path.Join(queueRoot, model.Slug(category), legacyFileName)
}

// Store persists whole queue documents. Every mutation is a
// read-modify-write of the entire category document, serialized behind a
// per-category lock so concurrent workers in this process never race on
// the same category. Concurrent writer *processes* still race
// last-writer-wins; deployments run one writer per category.
type Store struct {
	backend storage.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a queue store over the given backend.
func NewStore(backend storage.Store) *Store {
	return &Store{
		backend: backend,
		locks:   map[string]*sync.Mutex{},
	}
}

func (s *Store) categoryLock(category string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[category]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[category] = lock
	}
	return lock
}

// Load reads a category's queue document. A missing document yields a
// fresh empty state. An unreadable document also yields a fresh state,
// flagged recovered_from_corrupt_state, so a corrupt file never crashes
// the scheduler.
func (s *Store) Load(ctx context.Context, category string) (*model.QueueState, error) {
	data, err := s.backend.Read(ctx, StateKey(category))
	if storage.IsNotFound(err) {
		return model.NewQueueState(category), nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "queue: read state %s", category)
	}

	var state model.QueueState
	if err := json.Unmarshal(data, &state); err != nil {
		zap.L().Warn("queue: corrupt state document, starting fresh",
			zap.String("category", category),
			zap.Error(err),
		)
		fresh := model.NewQueueState(category)
		fresh.Recovered = true
		return fresh, nil
	}
	if state.Products == nil {
		state.Products = map[string]model.QueueProductRow{}
	}
	if state.Category == "" {
		state.Category = category
	}
	return &state, nil
}

// Save writes the document to the primary path and mirrors it to the
// legacy path. Write failures propagate; a lost queue write must be
// visible to the caller.
func (s *Store) Save(ctx context.Context, state *model.QueueState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return eris.Wrap(err, "queue: marshal state")
	}
	if err := s.backend.Write(ctx, StateKey(state.Category), data); err != nil {
		return eris.Wrapf(err, "queue: write state %s", state.Category)
	}
	if err := s.backend.Write(ctx, legacyKey(state.Category), data); err != nil {
		return eris.Wrapf(err, "queue: mirror state %s", state.Category)
	}
	return nil
}

// Update runs fn against the category's document under the category lock
// and saves the result. The mutated state is returned for inspection.
func (s *Store) Update(ctx context.Context, category string, fn func(*model.QueueState) error) (*model.QueueState, error) {
	lock := s.categoryLock(category)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.Load(ctx, category)
	if err != nil {
		return nil, err
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}
