package hnclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/ingest"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{
		BaseURL:        srv.URL,
		Timeout:        2 * time.Second,
		MaxRetries:     2,
		BackoffInitial: 5 * time.Millisecond,
	}, zap.NewNop())
	return c, srv
}

func TestListTruncatesToCap(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/topstories.json", r.URL.Path)
		w.Write([]byte(`[1,2,3,4,5]`)) //nolint:errcheck
	}))

	ids, err := c.List(context.Background(), "topstories", 3)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, ids)
}

func TestListZeroCapReturnsAll(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[7,8]`)) //nolint:errcheck
	}))

	ids, err := c.List(context.Background(), "newstories", 0)
	require.NoError(t, err)
	require.Equal(t, []int64{7, 8}, ids)
}

func TestItemDecodesDetailRecord(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/item/42.json", r.URL.Path)
		w.Write([]byte(`{"id":42,"type":"story","title":"Show HN","by":"pg","time":1700000000,"score":61,"descendants":12,"url":"https://example.com"}`)) //nolint:errcheck
	}))

	item, err := c.Item(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, item)
	require.EqualValues(t, 42, item.ID)
	require.Equal(t, ingest.KindStory, item.Kind)
	require.Equal(t, "pg", item.Author)
	require.Equal(t, 61, item.Score)
	require.Equal(t, 12, item.Comments)
}

func TestItemNullBodyReturnsNil(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`null`)) //nolint:errcheck
	}))

	item, err := c.Item(context.Background(), 99)
	require.NoError(t, err)
	require.Nil(t, item)
}

func TestMaxItemAndUpdates(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/maxitem.json":
			w.Write([]byte(`12345`)) //nolint:errcheck
		case "/updates.json":
			w.Write([]byte(`{"items":[11,12],"profiles":["pg"]}`)) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}))

	max, err := c.MaxItem(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 12345, max)

	updates, err := c.Updates(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{11, 12}, updates)
}

func TestGetJSONRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[1]`)) //nolint:errcheck
	}))

	ids, err := c.List(context.Background(), "topstories", 0)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)
	require.EqualValues(t, 3, calls.Load())
}

func TestGetJSONExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.List(context.Background(), "topstories", 0)
	require.Error(t, err)
	// First attempt plus two retries.
	require.EqualValues(t, 3, calls.Load())
}

func TestGetJSONStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.List(ctx, "topstories", 0)
	require.Error(t, err)
}
