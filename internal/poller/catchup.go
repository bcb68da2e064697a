package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/ingest"
)

// RunCatchup executes Tick on a fixed interval until the context
// finishes. A failed tick is absorbed; the next tick starts fresh.
func (p *Poller) RunCatchup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("catch-up tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick executes one incremental catch-up run: advance through the id
// range above the high-water mark, then sweep a capped slice of the
// updates feed. Metrics are flushed even when the tick fails.
func (p *Poller) Tick(ctx context.Context) (*ingest.RunReport, error) {
	report := ingest.NewRunReport(ingest.ModeCatchup, p.clock.Now())
	err := p.runCatchup(ctx, report)
	if err != nil {
		report.Fail()
		p.logger.Error("catch-up run failed", zap.String("phase", string(report.Phase)), zap.Error(err))
	}
	p.finish(ctx, report)
	return report, err
}

func (p *Poller) runCatchup(ctx context.Context, report *ingest.RunReport) error {
	maxID, err := p.lists.MaxItem(ctx)
	if err != nil {
		return fmt.Errorf("fetch maxitem: %w", err)
	}
	hwm, err := p.highwater.HighWaterMark(ctx)
	if err != nil {
		return fmt.Errorf("read high-water mark: %w", err)
	}
	report.Advance(ingest.PhaseListCollected)

	if hwm == 0 || hwm > maxID {
		// First tick, or the upstream counter moved backwards: anchor at
		// the current max and pick up from there next time.
		if err := p.highwater.SetHighWaterMark(ctx, maxID); err != nil {
			return fmt.Errorf("anchor high-water mark: %w", err)
		}
		return p.processUpdates(ctx, report)
	}

	start := hwm + 1
	end := maxID
	if end-start+1 > int64(p.cfg.CatchupBatchMax) {
		end = start + int64(p.cfg.CatchupBatchMax) - 1
	}
	if end >= start {
		report.Count(ingest.CounterCandidates, end-start+1)
	}

	cutoff := p.clock.Now().Add(-p.cfg.Window).Unix()
	for id := start; id <= end; id++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.catchupOne(ctx, id, cutoff, report); err != nil {
			return err
		}
		// Advance only after processing for this id completed. A crash
		// mid-range reprocesses the tail; downstream idempotency absorbs it.
		if err := p.highwater.SetHighWaterMark(ctx, id); err != nil {
			return fmt.Errorf("advance high-water mark: %w", err)
		}
	}

	return p.processUpdates(ctx, report)
}

// catchupOne handles one id from the arithmetic range. Fetch failures
// are swallowed and counted; storage and dispatch failures propagate.
func (p *Poller) catchupOne(ctx context.Context, id int64, cutoff int64, report *ingest.RunReport) error {
	tFetch := p.clock.Now()
	item, err := p.items.Item(ctx, id)
	report.AddTiming(ingest.TimingFetch, p.clock.Now().Sub(tFetch))
	if err != nil {
		report.Count(ingest.CounterFetchErrors, 1)
		p.logger.Debug("catch-up item fetch failed", zap.Int64("id", id), zap.Error(err))
		return nil
	}
	if item == nil {
		return nil
	}
	report.Count(ingest.CounterFetched, 1)
	if !p.cfg.Filter.Accept(item, cutoff) {
		return nil
	}
	report.Count(ingest.CounterKeepers, 1)
	if err := p.processItem(ctx, item); err != nil {
		return fmt.Errorf("process item %d: %w", id, err)
	}
	if err := p.seen.MarkSeen(ctx, id, p.clock.Now()); err != nil {
		return fmt.Errorf("mark seen %d: %w", id, err)
	}
	report.Count(ingest.CounterProcessed, 1)
	return nil
}

// processUpdates sweeps a capped slice of the updates feed through the
// regular dedupe, fetch, and filter path to catch mutated items.
func (p *Poller) processUpdates(ctx context.Context, report *ingest.RunReport) error {
	tUpdates := p.clock.Now()
	defer func() {
		report.AddTiming(ingest.TimingUpdates, p.clock.Now().Sub(tUpdates))
	}()

	ids, err := p.lists.Updates(ctx)
	if err != nil {
		report.Count(ingest.CounterUpdateErrors, 1)
		p.logger.Debug("updates fetch failed", zap.Error(err))
		return nil
	}
	if len(ids) > p.cfg.UpdatesCap {
		ids = ids[len(ids)-p.cfg.UpdatesCap:]
	}
	report.Count(ingest.CounterUpdatesConsidered, int64(len(ids)))

	unseen, err := p.seen.FilterUnseen(ctx, ids)
	if err != nil {
		return fmt.Errorf("filter unseen updates: %w", err)
	}
	report.Count(ingest.CounterUpdatesUnseen, int64(len(unseen)))

	items, failures := p.fetcher.FetchAll(ctx, unseen)
	report.Count(ingest.CounterFetchErrors, failures)

	cutoff := p.clock.Now().Add(-p.cfg.Window).Unix()
	for _, it := range items {
		if !p.cfg.Filter.Accept(it, cutoff) {
			continue
		}
		if err := p.processItem(ctx, it); err != nil {
			return fmt.Errorf("process update %d: %w", it.ID, err)
		}
		if err := p.seen.MarkSeen(ctx, it.ID, p.clock.Now()); err != nil {
			return fmt.Errorf("mark seen %d: %w", it.ID, err)
		}
		report.Count(ingest.CounterUpdatesProcessed, 1)
	}
	report.Advance(ingest.PhaseDispatched)
	return nil
}
