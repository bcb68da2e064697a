package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/newsdeck/hn-ingest/internal/ingest"
)

// Publish pushes a job payload onto the named queue. When jobKey is
// non-empty the publish is idempotent: the key is test-and-set into the
// published-jobs set, and only a first observation results in a queue
// entry. The returned bool reports whether an entry was created.
func (s *Store) Publish(ctx context.Context, queue string, payload ingest.JobPayload, jobKey string) (bool, error) {
	if jobKey != "" {
		added, err := s.rdb.SAdd(ctx, publishedKey, jobKey).Result()
		if err != nil {
			return false, fmt.Errorf("job key test-and-set: %w", err)
		}
		if added == 0 {
			return false, nil
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal job payload: %w", err)
	}
	if err := s.rdb.LPush(ctx, queuePrefix+queue, body).Err(); err != nil {
		return false, fmt.Errorf("push to queue %s: %w", queue, err)
	}
	return true, nil
}

// QueueLen reports the depth of a named queue (observability only).
func (s *Store) QueueLen(ctx context.Context, queue string) (int64, error) {
	n, err := s.rdb.LLen(ctx, queuePrefix+queue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length %s: %w", queue, err)
	}
	return n, nil
}
