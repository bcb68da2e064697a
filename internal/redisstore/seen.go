package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// FilterUnseen returns the subset of ids not present in the seen set.
// Membership checks for the whole batch ride a single pipeline.
func (s *Store) FilterUnseen(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.FloatCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.ZScore(ctx, seenKey, strconv.FormatInt(id, 10))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("seen pipeline: %w", err)
	}

	unseen := make([]int64, 0, len(ids))
	for i, cmd := range cmds {
		if cmd.Err() == redis.Nil {
			unseen = append(unseen, ids[i])
			continue
		}
		if cmd.Err() != nil {
			return nil, fmt.Errorf("seen lookup for %d: %w", ids[i], cmd.Err())
		}
	}
	return unseen, nil
}

// MarkSeen records the id with the current timestamp as its score and
// opportunistically prunes entries older than the retention window.
func (s *Store) MarkSeen(ctx context.Context, id int64, now time.Time) error {
	member := strconv.FormatInt(id, 10)
	ts := now.Unix()
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, seenKey, redis.Z{Score: float64(ts), Member: member})
	pipe.ZRemRangeByScore(ctx, seenKey, "0", strconv.FormatInt(ts-int64(s.seenTTL.Seconds()), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark seen %d: %w", id, err)
	}
	return nil
}
