package ingest

// FilterConfig holds the quality thresholds applied before ingestion.
type FilterConfig struct {
	MinScore    int
	MinComments int
}

// Accept reports whether an item is eligible for ingestion. The predicate
// is pure: a live story, created at or after the cutoff, that clears
// either the score or the comment-count threshold.
func (c FilterConfig) Accept(it *Item, cutoff int64) bool {
	if it == nil || it.Kind != KindStory {
		return false
	}
	if it.Dead || it.Deleted {
		return false
	}
	if it.Time < cutoff {
		return false
	}
	return it.Score >= c.MinScore || it.Comments >= c.MinComments
}
