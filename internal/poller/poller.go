// Package poller composes the discovery-and-dispatch pipeline into runs.
package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/ingest"
	"github.com/newsdeck/hn-ingest/internal/metrics"
)

// BatchFetcher fans item fetches out under a bounded concurrency cap.
type BatchFetcher interface {
	FetchAll(ctx context.Context, ids []int64) ([]*ingest.Item, int64)
}

// HighWaterStore tracks the catch-up position in the coordination store.
type HighWaterStore interface {
	HighWaterMark(ctx context.Context) (int64, error)
	SetHighWaterMark(ctx context.Context, id int64) error
}

// IDGenerator produces trace IDs for dispatched payloads.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls run behavior. Lists overrides the snapshot candidate
// sources; when empty the authoritative top+new pair is used.
type Config struct {
	TopLimit        int
	NewLimit        int
	Lists           []ingest.ListSpec
	Window          time.Duration
	Filter          ingest.FilterConfig
	UpdatesCap      int
	CatchupBatchMax int
}

// Poller executes discovery runs. One run executes at a time; the only
// cross-run state lives in the coordination store.
type Poller struct {
	lists     ingest.ListClient
	items     ingest.ItemClient
	fetcher   BatchFetcher
	seen      ingest.SeenSet
	highwater HighWaterStore
	store     ingest.StoryStore
	disp      ingest.Dispatcher
	sink      ingest.MetricsSink
	idGen     IDGenerator
	clock     ingest.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Poller.
func New(
	lists ingest.ListClient,
	items ingest.ItemClient,
	fetcher BatchFetcher,
	seen ingest.SeenSet,
	highwater HighWaterStore,
	store ingest.StoryStore,
	disp ingest.Dispatcher,
	sink ingest.MetricsSink,
	idGen IDGenerator,
	clock ingest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Poller {
	if cfg.TopLimit <= 0 {
		cfg.TopLimit = 200
	}
	if cfg.NewLimit <= 0 {
		cfg.NewLimit = 200
	}
	if cfg.Window <= 0 {
		cfg.Window = 36 * time.Hour
	}
	if cfg.UpdatesCap <= 0 {
		cfg.UpdatesCap = 200
	}
	if cfg.CatchupBatchMax <= 0 {
		cfg.CatchupBatchMax = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		lists:     lists,
		items:     items,
		fetcher:   fetcher,
		seen:      seen,
		highwater: highwater,
		store:     store,
		disp:      disp,
		sink:      sink,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunSnapshot executes the authoritative one-shot run: top+new lists,
// dedupe, bounded-concurrency fetch, quality filter, then upsert and
// dispatch per keeper. Metrics are flushed even when the run fails.
func (p *Poller) RunSnapshot(ctx context.Context) (*ingest.RunReport, error) {
	report := ingest.NewRunReport(ingest.ModeSnapshot, p.clock.Now())
	err := p.runSnapshot(ctx, report)
	if err != nil {
		report.Fail()
		p.logger.Error("snapshot run failed", zap.String("phase", string(report.Phase)), zap.Error(err))
	}
	p.finish(ctx, report)
	return report, err
}

func (p *Poller) runSnapshot(ctx context.Context, report *ingest.RunReport) error {
	p.recordMaxItem(ctx)

	candidates := p.collectCandidates(ctx, report)
	report.Advance(ingest.PhaseListCollected)
	report.Count(ingest.CounterCandidates, int64(len(candidates)))

	tDedupe := p.clock.Now()
	unseen, err := p.seen.FilterUnseen(ctx, candidates)
	report.AddTiming(ingest.TimingDedupe, p.clock.Now().Sub(tDedupe))
	if err != nil {
		return fmt.Errorf("filter unseen: %w", err)
	}
	report.Advance(ingest.PhaseDeduped)
	report.Count(ingest.CounterUnseen, int64(len(unseen)))

	keepers := p.fetchAndFilter(ctx, unseen, report, ingest.CounterFetched, ingest.CounterKeepers)
	report.Advance(ingest.PhaseFiltered)

	tProcess := p.clock.Now()
	for _, it := range keepers {
		if err := p.processItem(ctx, it); err != nil {
			report.AddTiming(ingest.TimingProcess, p.clock.Now().Sub(tProcess))
			return fmt.Errorf("process item %d: %w", it.ID, err)
		}
		if err := p.seen.MarkSeen(ctx, it.ID, p.clock.Now()); err != nil {
			report.AddTiming(ingest.TimingProcess, p.clock.Now().Sub(tProcess))
			return fmt.Errorf("mark seen %d: %w", it.ID, err)
		}
		report.Count(ingest.CounterProcessed, 1)
	}
	report.AddTiming(ingest.TimingProcess, p.clock.Now().Sub(tProcess))
	report.Advance(ingest.PhaseDispatched)

	p.logger.Info("snapshot run complete",
		zap.Int64("candidates", report.Counters[ingest.CounterCandidates]),
		zap.Int64("unseen", report.Counters[ingest.CounterUnseen]),
		zap.Int64("fetched", report.Counters[ingest.CounterFetched]),
		zap.Int64("keepers", report.Counters[ingest.CounterKeepers]),
		zap.Int64("processed", report.Counters[ingest.CounterProcessed]),
		zap.Int64("list_errors", report.Counters[ingest.CounterListErrors]),
		zap.Int64("fetch_errors", report.Counters[ingest.CounterFetchErrors]),
	)
	return nil
}

// collectCandidates snapshots the configured discovery lists. A failed
// list is counted and skipped; it never aborts the run.
func (p *Poller) collectCandidates(ctx context.Context, report *ingest.RunReport) []int64 {
	specs := p.cfg.Lists
	if len(specs) == 0 {
		specs = []ingest.ListSpec{
			{Name: "topstories", Cap: p.cfg.TopLimit},
			{Name: "newstories", Cap: p.cfg.NewLimit},
		}
	}

	seen := make(map[int64]struct{})
	var ids []int64
	for _, spec := range specs {
		tList := p.clock.Now()
		listIDs, err := p.lists.List(ctx, spec.Name, spec.Cap)
		report.AddTiming(ingest.TimingList, p.clock.Now().Sub(tList))
		if err != nil {
			report.Count(ingest.CounterListErrors, 1)
			metrics.ObserveListError()
			p.logger.Error("list fetch failed", zap.String("list", spec.Name), zap.Error(err))
			continue
		}
		for _, id := range listIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// fetchAndFilter fetches unseen ids under the concurrency cap and applies
// the quality filter with a recency cutoff anchored at run time.
func (p *Poller) fetchAndFilter(
	ctx context.Context,
	ids []int64,
	report *ingest.RunReport,
	fetchedCounter string,
	keepersCounter string,
) []*ingest.Item {
	tFetch := p.clock.Now()
	items, failures := p.fetcher.FetchAll(ctx, ids)
	report.AddTiming(ingest.TimingFetch, p.clock.Now().Sub(tFetch))
	report.Count(ingest.CounterFetchErrors, failures)
	metrics.ObserveFetchErrors(failures)
	report.Advance(ingest.PhaseFetched)

	var fetched int64
	for _, it := range items {
		if it != nil {
			fetched++
		}
	}
	report.Count(fetchedCounter, fetched)
	metrics.ObserveItemsFetched(fetched)

	tFilter := p.clock.Now()
	cutoff := p.clock.Now().Add(-p.cfg.Window).Unix()
	var keepers []*ingest.Item
	for _, it := range items {
		if p.cfg.Filter.Accept(it, cutoff) {
			keepers = append(keepers, it)
		}
	}
	report.AddTiming(ingest.TimingFilter, p.clock.Now().Sub(tFilter))
	report.Count(keepersCounter, int64(len(keepers)))
	return keepers
}

// processItem upserts the story and dispatches follow-on jobs. Text-only
// stories get an article row plus the unkeyed summarize/embed/tag chain;
// stories with a URL get one keyed article-fetch job.
func (p *Poller) processItem(ctx context.Context, it *ingest.Item) error {
	storyID, err := p.store.UpsertStory(ctx, ingest.StoryFields{
		Source:    "hn",
		HNID:      it.ID,
		Title:     it.Title,
		URL:       it.URL,
		Author:    it.Author,
		CreatedAt: it.CreatedAt(),
		Points:    it.Score,
		Comments:  it.Comments,
	})
	if err != nil {
		return fmt.Errorf("upsert story: %w", err)
	}
	metrics.ObserveStoryIngested()

	switch {
	case it.URL == "" && it.Text != "":
		articleID, err := p.store.CreateArticleForStory(ctx, storyID, it.Text)
		if err != nil {
			return fmt.Errorf("create article: %w", err)
		}
		if err := p.dispatchArticlePipeline(ctx, storyID, articleID); err != nil {
			return err
		}
	case it.URL != "":
		jobKey := fmt.Sprintf("%s:%d", ingest.QueueFetchArticle, storyID)
		payload := ingest.JobPayload{
			JobKey:  &jobKey,
			StoryID: storyID,
			Attempt: 1,
			TraceID: p.newTraceID(),
		}
		published, err := p.disp.Publish(ctx, ingest.QueueFetchArticle, payload, jobKey)
		if err != nil {
			return fmt.Errorf("publish fetch-article job: %w", err)
		}
		metrics.ObservePublish(ingest.QueueFetchArticle, published)
	}
	return nil
}

// dispatchArticlePipeline publishes the unkeyed summarize/embed/tag chain
// for an article that already has text.
func (p *Poller) dispatchArticlePipeline(ctx context.Context, storyID, articleID int64) error {
	jobs := []struct {
		queue   string
		payload ingest.JobPayload
	}{
		{ingest.QueueSummarize, ingest.JobPayload{StoryID: storyID, ArticleID: &articleID, Attempt: 1}},
		{ingest.QueueEmbed, ingest.JobPayload{StoryID: storyID, ArticleID: &articleID, ModelKey: "default", Attempt: 1}},
		{ingest.QueueTag, ingest.JobPayload{StoryID: storyID, ArticleID: &articleID, Attempt: 1}},
	}
	for _, job := range jobs {
		job.payload.TraceID = p.newTraceID()
		if _, err := p.disp.Publish(ctx, job.queue, job.payload, ""); err != nil {
			return fmt.Errorf("publish %s job: %w", job.queue, err)
		}
		metrics.ObservePublish(job.queue, true)
	}
	return nil
}

// recordMaxItem keeps the high-water mark key updated for observability
// during snapshot runs. Failure here never affects the run.
func (p *Poller) recordMaxItem(ctx context.Context) {
	maxID, err := p.lists.MaxItem(ctx)
	if err != nil {
		p.logger.Debug("maxitem fetch failed", zap.Error(err))
		return
	}
	if err := p.highwater.SetHighWaterMark(ctx, maxID); err != nil {
		p.logger.Debug("record max item failed", zap.Error(err))
	}
}

func (p *Poller) newTraceID() string {
	if p.idGen == nil {
		return ""
	}
	id, err := p.idGen.NewID()
	if err != nil {
		return ""
	}
	return id
}

// finish ends the run, flushes metrics best-effort, and settles the
// terminal phase. Flush failures are swallowed: metrics never block the
// pipeline.
func (p *Poller) finish(ctx context.Context, report *ingest.RunReport) {
	report.End(p.clock.Now())
	report.Advance(ingest.PhaseMetricsFlushed)
	if err := p.sink.Flush(ctx, *report); err != nil {
		p.logger.Warn("metrics flush failed", zap.Error(err))
	}
	report.Advance(ingest.PhaseDone)

	outcome := "done"
	if report.Phase == ingest.PhaseFailed {
		outcome = "failed"
	}
	metrics.ObserveRun(string(report.Mode), outcome, report.Timings[ingest.TimingTotal])
}
