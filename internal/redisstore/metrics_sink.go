package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/newsdeck/hn-ingest/internal/ingest"
)

const metricsRetention = 8 * 24 * time.Hour

// Flush persists a run report: day-bucketed cumulative counters
// (increment semantics) and timing totals (additive), plus an overwrite
// of the last-run snapshot. Everything rides one pipeline.
func (s *Store) Flush(ctx context.Context, run ingest.RunReport) error {
	day := run.StartedAt.UTC().Format("2006-01-02")
	countersKey := metricPrefix + day + ":counters"
	timingsKey := metricPrefix + day + ":timings"

	pipe := s.rdb.Pipeline()
	for name, v := range run.Counters {
		pipe.HIncrBy(ctx, countersKey, name, v)
	}
	for name, d := range run.Timings {
		pipe.HIncrByFloat(ctx, timingsKey, name, float64(d.Milliseconds()))
	}

	snapshot := map[string]any{
		"at_iso": time.Now().UTC().Format(time.RFC3339),
		"mode":   string(run.Mode),
		"phase":  string(run.Phase),
	}
	for name, v := range run.Counters {
		snapshot["c_"+name] = v
	}
	for name, d := range run.Timings {
		snapshot["t_"+name] = d.Milliseconds()
	}
	pipe.Del(ctx, lastRunKey)
	pipe.HSet(ctx, lastRunKey, snapshot)

	pipe.Expire(ctx, countersKey, metricsRetention)
	pipe.Expire(ctx, timingsKey, metricsRetention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flush run metrics: %w", err)
	}
	return nil
}

// LastRun reads back the last-run snapshot hash.
func (s *Store) LastRun(ctx context.Context) (map[string]string, error) {
	snap, err := s.rdb.HGetAll(ctx, lastRunKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read last run: %w", err)
	}
	return snap, nil
}
