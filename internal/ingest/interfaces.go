package ingest

import (
	"context"
	"time"
)

// ListClient retrieves candidate id lists and feed metadata from the
// discovery API.
type ListClient interface {
	List(ctx context.Context, name string, cap int) ([]int64, error)
	MaxItem(ctx context.Context) (int64, error)
	Updates(ctx context.Context) ([]int64, error)
}

// ItemClient fetches one item detail record. A nil item with nil error
// means the id resolved to nothing (deleted upstream).
type ItemClient interface {
	Item(ctx context.Context, id int64) (*Item, error)
}

// SeenSet is the time-windowed dedup record in the coordination store.
type SeenSet interface {
	FilterUnseen(ctx context.Context, ids []int64) ([]int64, error)
	MarkSeen(ctx context.Context, id int64, now time.Time) error
}

// Dispatcher publishes job payloads to named queues. A non-empty jobKey
// makes the publish idempotent across the lifetime of the store; the
// returned bool reports whether a queue entry was actually created.
type Dispatcher interface {
	Publish(ctx context.Context, queue string, payload JobPayload, jobKey string) (bool, error)
}

// StoryStore is the durable storage collaborator. Both operations are
// idempotent: UpsertStory on the external id, CreateArticleForStory on
// the content hash.
type StoryStore interface {
	UpsertStory(ctx context.Context, fields StoryFields) (int64, error)
	CreateArticleForStory(ctx context.Context, storyID int64, text string) (int64, error)
}

// MetricsSink persists a finished run's counters and timings.
type MetricsSink interface {
	Flush(ctx context.Context, run RunReport) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
