// Package deadletter is a Redis-backed sink for block and log ranges the
// engine's retry budgets could not recover. An operator (or a later batch
// job) drains the queue independently of the live ingest path.
//
// Grounded on the teacher's redis.FailedBlockRepo (internal/infra/redis/
// failed_blocks.go) for the sorted-set-plus-detail-key shape, adapted from
// a single failed block to a [from, to] range so a batch-path or
// reorg-path failure deadletters as one entry instead of one per block.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainflux/logwatch/internal/engine/metrics"
)

// Entry is one range the engine gave up retrying, with enough context to
// resume it manually.
type Entry struct {
	ID          string    `json:"id"`
	From        uint64    `json:"from"`
	To          uint64    `json:"to"`
	Reason      string    `json:"reason"`
	RetryCount  int       `json:"retry_count"`
	LastAttempt time.Time `json:"last_attempt"`
}

func (e Entry) key() string { return fmt.Sprintf("%d-%d", e.From, e.To) }

// Queue is a Redis sorted set of dead-lettered ranges, ordered by retry
// count so the least-retried range is drained first.
type Queue struct {
	rdb      *redis.Client
	name     string
	queueKey string
	entryTTL time.Duration
}

// NewQueue constructs a Queue scoped to name (typically the chain or
// deployment identifier, so multiple engines can share one Redis instance).
func NewQueue(rdb *redis.Client, name string) *Queue {
	return &Queue{
		rdb:      rdb,
		name:     name,
		queueKey: fmt.Sprintf("logwatch:deadletter:%s", name),
		entryTTL: 7 * 24 * time.Hour,
	}
}

func (q *Queue) detailKey(id string) string {
	return fmt.Sprintf("logwatch:deadletter:%s:entry:%s", q.name, id)
}

// Push records a newly dead-lettered range.
func (q *Queue) Push(ctx context.Context, from, to uint64, reason error) error {
	e := Entry{
		From:        from,
		To:          to,
		LastAttempt: time.Now(),
	}
	e.ID = e.key()
	if reason != nil {
		e.Reason = reason.Error()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("deadletter: marshal entry: %w", err)
	}

	if err := q.rdb.Set(ctx, q.detailKey(e.ID), data, q.entryTTL).Err(); err != nil {
		return fmt.Errorf("deadletter: set entry: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, q.queueKey, redis.Z{Score: 0, Member: e.ID}).Err(); err != nil {
		return fmt.Errorf("deadletter: zadd: %w", err)
	}
	q.reportDepth(ctx)
	return nil
}

// Next returns the least-retried entry in the queue, or ok=false if it is
// empty.
func (q *Queue) Next(ctx context.Context) (Entry, bool, error) {
	ids, err := q.rdb.ZRange(ctx, q.queueKey, 0, 0).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("deadletter: zrange: %w", err)
	}
	if len(ids) == 0 {
		return Entry{}, false, nil
	}

	data, err := q.rdb.Get(ctx, q.detailKey(ids[0])).Bytes()
	if err == redis.Nil {
		q.rdb.ZRem(ctx, q.queueKey, ids[0])
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("deadletter: get entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("deadletter: unmarshal entry: %w", err)
	}
	return e, true, nil
}

// Requeue increments an entry's retry count and pushes it to the back of
// the priority order.
func (q *Queue) Requeue(ctx context.Context, e Entry) error {
	e.RetryCount++
	e.LastAttempt = time.Now()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("deadletter: marshal entry: %w", err)
	}
	if err := q.rdb.Set(ctx, q.detailKey(e.ID), data, q.entryTTL).Err(); err != nil {
		return fmt.Errorf("deadletter: set entry: %w", err)
	}
	return q.rdb.ZAdd(ctx, q.queueKey, redis.Z{Score: float64(e.RetryCount), Member: e.ID}).Err()
}

// Resolve removes an entry once it has been successfully reprocessed.
func (q *Queue) Resolve(ctx context.Context, id string) error {
	if err := q.rdb.ZRem(ctx, q.queueKey, id).Err(); err != nil {
		return fmt.Errorf("deadletter: zrem: %w", err)
	}
	defer q.reportDepth(ctx)
	return q.rdb.Del(ctx, q.detailKey(id)).Err()
}

// reportDepth refreshes the dead-letter depth gauge from the queue's actual
// cardinality rather than tracking it incrementally, since Push on an
// already-queued range is a score update, not a new member.
func (q *Queue) reportDepth(ctx context.Context) {
	n, err := q.Count(ctx)
	if err != nil {
		return
	}
	metrics.DeadLetterDepth.Set(float64(n))
}

// Count reports how many ranges are currently dead-lettered.
func (q *Queue) Count(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("deadletter: zcard: %w", err)
	}
	return int(n), nil
}
