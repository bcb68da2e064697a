// Package fetchpool fans item fetches out over a bounded worker pool.
package fetchpool

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/ingest"
	"github.com/newsdeck/hn-ingest/internal/metrics"
)

// Pool fetches item details for batches of ids under a fixed concurrency
// cap. Results are aligned by input position; a failed fetch yields nil
// at its position and never aborts sibling fetches.
type Pool struct {
	client ingest.ItemClient
	limit  int
	logger *zap.Logger
}

// New builds a Pool.
func New(client ingest.ItemClient, limit int, logger *zap.Logger) *Pool {
	if limit <= 0 {
		limit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{client: client, limit: limit, logger: logger}
}

// FetchAll fetches all ids and returns position-aligned results plus the
// number of per-item failures.
func (p *Pool) FetchAll(ctx context.Context, ids []int64) ([]*ingest.Item, int64) {
	results := make([]*ingest.Item, len(ids))
	var failures atomic.Int64

	sem := make(chan struct{}, p.limit)
	var wg sync.WaitGroup
	for i, id := range ids {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			failures.Add(int64(len(ids) - i))
			wg.Wait()
			return results, failures.Load()
		}
		wg.Add(1)
		go func(idx int, id int64) {
			defer wg.Done()
			defer func() { <-sem }()
			metrics.IncInflightFetches()
			defer metrics.DecInflightFetches()
			item, err := p.client.Item(ctx, id)
			if err != nil {
				failures.Add(1)
				p.logger.Debug("item fetch failed", zap.Int64("id", id), zap.Error(err))
				return
			}
			results[idx] = item
		}(i, id)
	}
	wg.Wait()
	return results, failures.Load()
}
