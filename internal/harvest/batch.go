package harvest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BatchConfig tunes a batch pass over one category's queue.
type BatchConfig struct {
	// Concurrency is the worker count. Workers share the category queue;
	// claims are serialized so no product runs twice at once.
	Concurrency int
	// RoundsPerMinute throttles round launches, since every round spends
	// crawl and LLM budget. Zero means unthrottled.
	RoundsPerMinute int
	// MaxRounds stops the batch after this many rounds. Zero means run
	// until the queue drains.
	MaxRounds int
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{Concurrency: 3}
}

// BatchStats aggregates a batch pass.
type BatchStats struct {
	Rounds    atomic.Int64
	Promoted  atomic.Int64
	Failed    atomic.Int64
	Indexed   atomic.Int64
	CostCents atomic.Int64
}

// CostUSD returns the accumulated spend of the batch.
func (s *BatchStats) CostUSD() float64 {
	return float64(s.CostCents.Load()) / 100
}

// RunBatch processes the category until the queue drains, MaxRounds is
// reached, or the context is cancelled. Worker errors other than a
// drained queue abort the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, category string, cfg BatchConfig) (*BatchStats, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultBatchConfig().Concurrency
	}

	var limiter *rate.Limiter
	if cfg.RoundsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RoundsPerMinute)), 1)
	}

	log := zap.L().With(zap.String("category", category))
	log.Info("harvest: batch started",
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int("rounds_per_minute", cfg.RoundsPerMinute),
	)

	stats := &BatchStats{}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.Concurrency)

	for i := 0; i < cfg.Concurrency; i++ {
		group.Go(func() error {
			for {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if cfg.MaxRounds > 0 && stats.Rounds.Load() >= int64(cfg.MaxRounds) {
					return nil
				}
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return err
					}
				}

				cycle, err := o.ProcessNext(gctx, category)
				switch {
				case eris.Is(err, ErrQueueDrained):
					return nil
				case err != nil:
					stats.Failed.Add(1)
					// A failed round is recorded on the queue with backoff;
					// the worker moves on to the next product.
					log.Warn("harvest: round errored", zap.Error(err))
					continue
				}

				stats.Rounds.Add(1)
				stats.Indexed.Add(int64(cycle.Indexed))
				stats.CostCents.Add(int64(cycle.CostUSD * 100))
				if cycle.Promoted {
					stats.Promoted.Add(1)
				}
			}
		})
	}

	err := group.Wait()
	log.Info("harvest: batch finished",
		zap.Int64("rounds", stats.Rounds.Load()),
		zap.Int64("promoted", stats.Promoted.Load()),
		zap.Int64("failed", stats.Failed.Load()),
		zap.Float64("cost_usd", stats.CostUSD()),
	)
	if err != nil && !eris.Is(err, context.Canceled) {
		return stats, err
	}
	return stats, nil
}
