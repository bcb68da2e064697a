package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/fetchpool"
	"github.com/newsdeck/hn-ingest/internal/ingest"
	"github.com/newsdeck/hn-ingest/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakeListClient struct {
	mu      sync.Mutex
	lists   map[string][]int64
	listErr map[string]error
	maxItem int64
	updates []int64
	updErr  error
}

func (f *fakeListClient) List(_ context.Context, name string, cap int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[name]; err != nil {
		return nil, err
	}
	ids := f.lists[name]
	if cap > 0 && len(ids) > cap {
		ids = ids[:cap]
	}
	return ids, nil
}

func (f *fakeListClient) MaxItem(context.Context) (int64, error) {
	if f.maxItem == 0 {
		return 0, errors.New("maxitem unavailable")
	}
	return f.maxItem, nil
}

func (f *fakeListClient) Updates(context.Context) ([]int64, error) {
	if f.updErr != nil {
		return nil, f.updErr
	}
	return f.updates, nil
}

type fakeItemClient struct {
	mu    sync.Mutex
	items map[int64]*ingest.Item
	fail  map[int64]bool
}

func (f *fakeItemClient) Item(_ context.Context, id int64) (*ingest.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[id] {
		return nil, errors.New("fetch failed")
	}
	return f.items[id], nil
}

type fakeSeenSet struct {
	mu      sync.Mutex
	seen    map[int64]time.Time
	failAll bool
}

func newFakeSeenSet() *fakeSeenSet {
	return &fakeSeenSet{seen: make(map[int64]time.Time)}
}

func (f *fakeSeenSet) FilterUnseen(_ context.Context, ids []int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("store unreachable")
	}
	var unseen []int64
	for _, id := range ids {
		if _, ok := f.seen[id]; !ok {
			unseen = append(unseen, id)
		}
	}
	return unseen, nil
}

func (f *fakeSeenSet) MarkSeen(_ context.Context, id int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("store unreachable")
	}
	f.seen[id] = now
	return nil
}

type fakeHighWater struct {
	mu  sync.Mutex
	val int64
}

func (f *fakeHighWater) HighWaterMark(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, nil
}

func (f *fakeHighWater) SetHighWaterMark(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.val = id
	return nil
}

type fakeStoryStore struct {
	mu       sync.Mutex
	nextID   int64
	upserts  map[int64]int64 // hn_id -> story_id
	articles []int64
	failNext bool
}

func newFakeStoryStore() *fakeStoryStore {
	return &fakeStoryStore{upserts: make(map[int64]int64)}
}

func (f *fakeStoryStore) UpsertStory(_ context.Context, fields ingest.StoryFields) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return 0, errors.New("db write failed")
	}
	if id, ok := f.upserts[fields.HNID]; ok {
		return id, nil
	}
	f.nextID++
	f.upserts[fields.HNID] = f.nextID
	return f.nextID, nil
}

func (f *fakeStoryStore) CreateArticleForStory(_ context.Context, storyID int64, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles = append(f.articles, storyID)
	return storyID + 1000, nil
}

type publishedJob struct {
	queue   string
	payload ingest.JobPayload
	key     string
}

type fakeDispatcher struct {
	mu   sync.Mutex
	keys map[string]bool
	jobs []publishedJob
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{keys: make(map[string]bool)}
}

func (f *fakeDispatcher) Publish(_ context.Context, queue string, payload ingest.JobPayload, jobKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if jobKey != "" {
		if f.keys[jobKey] {
			return false, nil
		}
		f.keys[jobKey] = true
	}
	f.jobs = append(f.jobs, publishedJob{queue: queue, payload: payload, key: jobKey})
	return true, nil
}

func (f *fakeDispatcher) byQueue(queue string) []publishedJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedJob
	for _, j := range f.jobs {
		if j.queue == queue {
			out = append(out, j)
		}
	}
	return out
}

type fakeSink struct {
	mu      sync.Mutex
	flushes []ingest.RunReport
	err     error
}

func (f *fakeSink) Flush(_ context.Context, run ingest.RunReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes = append(f.flushes, run)
	return f.err
}

type fakeIDGen struct{ n int }

func (f *fakeIDGen) NewID() (string, error) {
	f.n++
	return fmt.Sprintf("trace-%d", f.n), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(time.Millisecond)
	return f.now
}

type harness struct {
	lists  *fakeListClient
	items  *fakeItemClient
	seen   *fakeSeenSet
	hwm    *fakeHighWater
	store  *fakeStoryStore
	disp   *fakeDispatcher
	sink   *fakeSink
	poller *Poller
}

func newHarness(t *testing.T, lists *fakeListClient, items *fakeItemClient) *harness {
	t.Helper()
	h := &harness{
		lists: lists,
		items: items,
		seen:  newFakeSeenSet(),
		hwm:   &fakeHighWater{},
		store: newFakeStoryStore(),
		disp:  newFakeDispatcher(),
		sink:  &fakeSink{},
	}
	h.poller = New(
		lists,
		items,
		fetchpool.New(items, 4, zap.NewNop()),
		h.seen,
		h.hwm,
		h.store,
		h.disp,
		h.sink,
		&fakeIDGen{},
		&fakeClock{now: time.Unix(1700000000, 0).UTC()},
		Config{
			TopLimit:   200,
			NewLimit:   200,
			Window:     36 * time.Hour,
			Filter:     ingest.FilterConfig{MinScore: 50, MinComments: 20},
			UpdatesCap: 200,
		},
		zap.NewNop(),
	)
	return h
}

func story(id int64, score int, url string, text string) *ingest.Item {
	return &ingest.Item{
		ID:    id,
		Kind:  ingest.KindStory,
		Title: fmt.Sprintf("Story %d", id),
		URL:   url,
		Text:  text,
		Time:  1700000000,
		Score: score,
	}
}

func TestSnapshotAdmitsOnlyQualifyingUnseenItems(t *testing.T) {
	t.Parallel()

	lists := &fakeListClient{
		lists:   map[string][]int64{"topstories": {1, 2, 3}, "newstories": {}},
		maxItem: 500,
	}
	items := &fakeItemClient{items: map[int64]*ingest.Item{
		1: story(1, 60, "https://example.com/a", ""),
		3: story(3, 10, "https://example.com/c", ""),
	}}
	h := newHarness(t, lists, items)
	require.NoError(t, h.seen.MarkSeen(context.Background(), 2, time.Unix(1699990000, 0)))

	report, err := h.poller.RunSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.PhaseDone, report.Phase)

	// Only id 1 clears the score threshold; id 2 was never touched.
	require.Len(t, h.store.upserts, 1)
	require.Contains(t, h.store.upserts, int64(1))
	require.Len(t, h.disp.byQueue(ingest.QueueFetchArticle), 1)

	// Id 3 was fetched but rejected: it stays eligible for the next run.
	unseen, err := h.seen.FilterUnseen(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []int64{3}, unseen)

	require.EqualValues(t, 3, report.Counters[ingest.CounterCandidates])
	require.EqualValues(t, 2, report.Counters[ingest.CounterUnseen])
	require.EqualValues(t, 2, report.Counters[ingest.CounterFetched])
	require.EqualValues(t, 1, report.Counters[ingest.CounterKeepers])
	require.EqualValues(t, 1, report.Counters[ingest.CounterProcessed])
}

func TestSnapshotTextOnlyStoryDispatchesArticlePipeline(t *testing.T) {
	t.Parallel()

	lists := &fakeListClient{
		lists:   map[string][]int64{"topstories": {10}, "newstories": {}},
		maxItem: 500,
	}
	items := &fakeItemClient{items: map[int64]*ingest.Item{
		10: story(10, 80, "", "Ask HN: how do you test pipelines?"),
	}}
	h := newHarness(t, lists, items)

	_, err := h.poller.RunSnapshot(context.Background())
	require.NoError(t, err)

	require.Empty(t, h.disp.byQueue(ingest.QueueFetchArticle))
	require.Len(t, h.disp.byQueue(ingest.QueueSummarize), 1)
	require.Len(t, h.disp.byQueue(ingest.QueueEmbed), 1)
	require.Len(t, h.disp.byQueue(ingest.QueueTag), 1)

	embed := h.disp.byQueue(ingest.QueueEmbed)[0]
	require.Equal(t, "default", embed.payload.ModelKey)
	require.Nil(t, embed.payload.JobKey)
	require.NotNil(t, embed.payload.ArticleID)
	require.Len(t, h.store.articles, 1)
}

func TestSnapshotURLStoryDispatchesKeyedJobOnce(t *testing.T) {
	t.Parallel()

	lists := &fakeListClient{
		lists:   map[string][]int64{"topstories": {7}, "newstories": {}},
		maxItem: 500,
	}
	items := &fakeItemClient{items: map[int64]*ingest.Item{
		7: story(7, 90, "https://example.com/post", ""),
	}}
	h := newHarness(t, lists, items)

	_, err := h.poller.RunSnapshot(context.Background())
	require.NoError(t, err)

	jobs := h.disp.byQueue(ingest.QueueFetchArticle)
	require.Len(t, jobs, 1)
	storyID := h.store.upserts[7]
	require.Equal(t, fmt.Sprintf("FETCH_ARTICLE:%d", storyID), jobs[0].key)
	require.NotNil(t, jobs[0].payload.JobKey)
	require.Equal(t, 1, jobs[0].payload.Attempt)

	// Simulate an overlapping run that sees the id again: the upsert is
	// idempotent and the keyed publish must not create a second entry.
	h.seen.mu.Lock()
	h.seen.seen = make(map[int64]time.Time)
	h.seen.mu.Unlock()

	_, err = h.poller.RunSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, h.disp.byQueue(ingest.QueueFetchArticle), 1)
	require.Len(t, h.store.upserts, 1)
}

func TestSnapshotToleratesSingleListFailure(t *testing.T) {
	t.Parallel()

	lists := &fakeListClient{
		lists:   map[string][]int64{"newstories": {5}},
		listErr: map[string]error{"topstories": errors.New("upstream 503")},
		maxItem: 500,
	}
	items := &fakeItemClient{items: map[int64]*ingest.Item{
		5: story(5, 70, "https://example.com/e", ""),
	}}
	h := newHarness(t, lists, items)

	report, err := h.poller.RunSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.PhaseDone, report.Phase)
	require.EqualValues(t, 1, report.Counters[ingest.CounterListErrors])
	require.Len(t, h.store.upserts, 1)
}

func TestSnapshotIsolatesItemFetchFailures(t *testing.T) {
	t.Parallel()

	lists := &fakeListClient{
		lists:   map[string][]int64{"topstories": {1, 2}, "newstories": {}},
		maxItem: 500,
	}
	items := &fakeItemClient{
		items: map[int64]*ingest.Item{2: story(2, 99, "https://example.com/b", "")},
		fail:  map[int64]bool{1: true},
	}
	h := newHarness(t, lists, items)

	report, err := h.poller.RunSnapshot(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, report.Counters[ingest.CounterFetchErrors])
	require.EqualValues(t, 1, report.Counters[ingest.CounterProcessed])
}

func TestSnapshotStoreFailureFailsRunButFlushesMetrics(t *testing.T) {
	t.Parallel()

	lists := &fakeListClient{
		lists:   map[string][]int64{"topstories": {1}, "newstories": {}},
		maxItem: 500,
	}
	items := &fakeItemClient{items: map[int64]*ingest.Item{
		1: story(1, 60, "https://example.com/a", ""),
	}}
	h := newHarness(t, lists, items)
	h.store.failNext = true

	report, err := h.poller.RunSnapshot(context.Background())
	require.Error(t, err)
	require.Equal(t, ingest.PhaseFailed, report.Phase)
	require.Len(t, h.sink.flushes, 1)
	require.Equal(t, ingest.PhaseFailed, h.sink.flushes[0].Phase)

	// Nothing was marked seen: the item stays eligible.
	unseen, seenErr := h.seen.FilterUnseen(context.Background(), []int64{1})
	require.NoError(t, seenErr)
	require.Equal(t, []int64{1}, unseen)
}

func TestSnapshotSeenStoreFailureIsFatal(t *testing.T) {
	t.Parallel()

	lists := &fakeListClient{
		lists:   map[string][]int64{"topstories": {1}, "newstories": {}},
		maxItem: 500,
	}
	items := &fakeItemClient{items: map[int64]*ingest.Item{}}
	h := newHarness(t, lists, items)
	h.seen.failAll = true

	report, err := h.poller.RunSnapshot(context.Background())
	require.Error(t, err)
	require.Equal(t, ingest.PhaseFailed, report.Phase)
	require.Len(t, h.sink.flushes, 1)
}

func TestSnapshotFlushFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	lists := &fakeListClient{
		lists:   map[string][]int64{"topstories": {}, "newstories": {}},
		maxItem: 500,
	}
	h := newHarness(t, lists, &fakeItemClient{})
	h.sink.err = errors.New("metrics store down")

	report, err := h.poller.RunSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.PhaseDone, report.Phase)
}

func TestSnapshotUsesConfiguredListSet(t *testing.T) {
	t.Parallel()

	lists := &fakeListClient{
		lists: map[string][]int64{
			"topstories":  {1},
			"beststories": {2},
			"newstories":  {3},
			"askstories":  {4},
			"showstories": {5},
			"jobstories":  {6},
		},
		maxItem: 500,
	}
	items := &fakeItemClient{items: map[int64]*ingest.Item{}}
	h := newHarness(t, lists, items)
	h.poller.cfg.Lists = ingest.DefaultLists

	report, err := h.poller.RunSnapshot(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 6, report.Counters[ingest.CounterCandidates])
}

func TestSnapshotDeduplicatesListUnion(t *testing.T) {
	t.Parallel()

	lists := &fakeListClient{
		lists:   map[string][]int64{"topstories": {1, 2}, "newstories": {2, 3}},
		maxItem: 500,
	}
	items := &fakeItemClient{items: map[int64]*ingest.Item{}}
	h := newHarness(t, lists, items)

	report, err := h.poller.RunSnapshot(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, report.Counters[ingest.CounterCandidates])
}
