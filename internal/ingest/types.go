// Package ingest defines core types shared across the discovery pipeline.
package ingest

import "time"

// ItemKind classifies an item returned by the discovery API.
type ItemKind string

// Item kinds observed on the wire. Anything that is not a story is
// filtered out before storage.
const (
	KindStory   ItemKind = "story"
	KindComment ItemKind = "comment"
	KindJob     ItemKind = "job"
	KindPoll    ItemKind = "poll"
)

// Item is the detail record returned for a candidate id. It is immutable
// once fetched; a re-fetch on a later run produces a fresh Item.
type Item struct {
	ID       int64    `json:"id"`
	Kind     ItemKind `json:"type"`
	Title    string   `json:"title,omitempty"`
	URL      string   `json:"url,omitempty"`
	Text     string   `json:"text,omitempty"`
	Author   string   `json:"by,omitempty"`
	Time     int64    `json:"time"`
	Score    int      `json:"score,omitempty"`
	Comments int      `json:"descendants,omitempty"`
	Dead     bool     `json:"dead,omitempty"`
	Deleted  bool     `json:"deleted,omitempty"`
}

// CreatedAt converts the epoch-seconds timestamp to time.Time.
func (it Item) CreatedAt() time.Time {
	return time.Unix(it.Time, 0).UTC()
}

// StoryFields is the normalized shape handed to the story store.
type StoryFields struct {
	Source    string
	HNID      int64
	Title     string
	URL       string
	Author    string
	CreatedAt time.Time
	Points    int
	Comments  int
	Text      string
}

// Queue names consumed by the downstream workers.
const (
	QueueFetchArticle = "FETCH_ARTICLE"
	QueueSummarize    = "SUMMARIZE"
	QueueEmbed        = "EMBED"
	QueueTag          = "TAG"
)

// JobPayload is the body published to a work queue. JobKey is nil for
// unkeyed (always-publish) jobs.
type JobPayload struct {
	JobKey    *string `json:"job_key"`
	StoryID   int64   `json:"story_id"`
	ArticleID *int64  `json:"article_id"`
	ModelKey  string  `json:"model_key,omitempty"`
	Attempt   int     `json:"attempt"`
	TraceID   string  `json:"trace_id,omitempty"`
}

// RunMode distinguishes the two orchestration shapes.
type RunMode string

// Supported run modes.
const (
	ModeSnapshot RunMode = "snapshot"
	ModeCatchup  RunMode = "catchup"
)

// RunPhase tracks where a run is in its lifecycle.
type RunPhase string

// Run phases in execution order, plus the absorbing failure state.
const (
	PhaseStarted        RunPhase = "STARTED"
	PhaseListCollected  RunPhase = "LIST_COLLECTED"
	PhaseDeduped        RunPhase = "DEDUPED"
	PhaseFetched        RunPhase = "FETCHED"
	PhaseFiltered       RunPhase = "FILTERED"
	PhaseDispatched     RunPhase = "DISPATCHED"
	PhaseMetricsFlushed RunPhase = "METRICS_FLUSHED"
	PhaseDone           RunPhase = "DONE"
	PhaseFailed         RunPhase = "FAILED"
)

// ListSpec names a discovery list and caps how many ids are taken from it.
type ListSpec struct {
	Name string
	Cap  int
}

// DefaultLists mirrors the full set of curated discovery lists with their
// per-list caps.
var DefaultLists = []ListSpec{
	{Name: "topstories", Cap: 500},
	{Name: "beststories", Cap: 500},
	{Name: "newstories", Cap: 500},
	{Name: "askstories", Cap: 200},
	{Name: "showstories", Cap: 200},
	{Name: "jobstories", Cap: 200},
}
