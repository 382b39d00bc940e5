package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrAlreadyQueued is returned by AddItem when an item with the same id is
// already in the queue. Callers treat it as success.
var ErrAlreadyQueued = errors.New("queue: item already exists")

// DefaultPollInterval is how often Lease re-checks an empty queue.
const DefaultPollInterval = 500 * time.Millisecond

// Item is one unit of work. Data is opaque to the queue.
type Item struct {
	ID   string
	Data []byte
}

// KEY LAYOUT (prefix "rideboard"):
//
//	rideboard:queue           list of pending ids, pushed left, popped right
//	rideboard:processing      list of leased ids
//	rideboard:item:{id}       payload
//	rideboard:lease:{id}      exists while the lease is live (PX expiry)
//	rideboard:delivered:{id}  set of deliveries already made for this item
//
// Every state transition is a Lua script so two workers can never both move
// the same id.
var (
	addItemScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('LPUSH', KEYS[2], ARGV[2])
return 1
`)

	leaseScript = redis.NewScript(`
local id = redis.call('RPOPLPUSH', KEYS[1], KEYS[2])
if not id then
  return false
end
local data = redis.call('GET', ARGV[1] .. ':item:' .. id)
if not data then
  redis.call('LREM', KEYS[2], 0, id)
  return false
end
redis.call('SET', ARGV[1] .. ':lease:' .. id, '1', 'PX', ARGV[2])
return {id, data}
`)

	reclaimScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
  if redis.call('EXISTS', ARGV[1] .. ':lease:' .. id) == 0 then
    redis.call('LREM', KEYS[1], 0, id)
    if redis.call('EXISTS', ARGV[1] .. ':item:' .. id) == 1 then
      redis.call('RPUSH', KEYS[2], id)
      n = n + 1
    end
  end
end
return n
`)

	completeScript = redis.NewScript(`
local removed = redis.call('LREM', KEYS[1], 0, ARGV[1])
removed = removed + redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('DEL', KEYS[3], KEYS[4], KEYS[5])
return removed
`)
)

// WorkQueue is a lease-based work queue on top of Redis. It holds no
// connection state of its own; the redis.Client pool is safe for concurrent
// use, so one WorkQueue can be shared by every handler goroutine.
type WorkQueue struct {
	rdb          *redis.Client
	prefix       string
	pollInterval time.Duration
}

// NewWorkQueue builds a queue whose keys live under prefix.
func NewWorkQueue(rdb *redis.Client, prefix string) *WorkQueue {
	return &WorkQueue{rdb: rdb, prefix: prefix, pollInterval: DefaultPollInterval}
}

// SetPollInterval changes how often Lease polls an empty queue.
func (q *WorkQueue) SetPollInterval(d time.Duration) {
	if d > 0 {
		q.pollInterval = d
	}
}

func (q *WorkQueue) queueKey() string             { return q.prefix + ":queue" }
func (q *WorkQueue) processingKey() string        { return q.prefix + ":processing" }
func (q *WorkQueue) itemKey(id string) string      { return q.prefix + ":item:" + id }
func (q *WorkQueue) leaseKey(id string) string     { return q.prefix + ":lease:" + id }
func (q *WorkQueue) deliveredKey(id string) string { return q.prefix + ":delivered:" + id }

// AddItem stores the payload and pushes the id in one atomic step.
func (q *WorkQueue) AddItem(ctx context.Context, item Item) error {
	added, err := addItemScript.Run(ctx, q.rdb,
		[]string{q.itemKey(item.ID), q.queueKey()},
		item.Data, item.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("queue: add item %s: %w", item.ID, err)
	}
	if added == 0 {
		return ErrAlreadyQueued
	}
	return nil
}

// Lease claims the oldest pending item for leaseFor. If the queue is empty it
// polls until block has elapsed; block == 0 waits until ctx is done. A nil
// item with a nil error means block ran out.
func (q *WorkQueue) Lease(ctx context.Context, block, leaseFor time.Duration) (*Item, error) {
	var deadline time.Time
	if block > 0 {
		deadline = time.Now().Add(block)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := q.Reclaim(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		item, err := q.tryLease(ctx, leaseFor)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil || item != nil {
			return item, err
		}

		wait := q.pollInterval
		if block > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			if remaining < wait {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *WorkQueue) tryLease(ctx context.Context, leaseFor time.Duration) (*Item, error) {
	ms := leaseFor.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	res, err := leaseScript.Run(ctx, q.rdb,
		[]string{q.queueKey(), q.processingKey()},
		q.prefix, ms,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: lease: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("queue: lease: unexpected reply of length %d", len(res))
	}

	id, _ := res[0].(string)
	data, _ := res[1].(string)
	return &Item{ID: id, Data: []byte(data)}, nil
}

// Reclaim moves every leased id whose lease has expired back to the front of
// the pending list. It returns how many ids were requeued.
func (q *WorkQueue) Reclaim(ctx context.Context) (int, error) {
	n, err := reclaimScript.Run(ctx, q.rdb,
		[]string{q.processingKey(), q.queueKey()},
		q.prefix,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: reclaim: %w", err)
	}
	return n, nil
}

// Complete removes the item for good. It reports false if the item had
// already been completed.
func (q *WorkQueue) Complete(ctx context.Context, item *Item) (bool, error) {
	removed, err := completeScript.Run(ctx, q.rdb,
		[]string{
			q.processingKey(), q.queueKey(),
			q.itemKey(item.ID), q.leaseKey(item.ID), q.deliveredKey(item.ID),
		},
		item.ID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("queue: complete %s: %w", item.ID, err)
	}
	return removed > 0, nil
}

// deliveredTTL bounds the ledger of an item that is never completed.
const deliveredTTL = 7 * 24 * time.Hour

// MarkDelivered records that the delivery named key was made for item.
func (q *WorkQueue) MarkDelivered(ctx context.Context, item *Item, key string) error {
	k := q.deliveredKey(item.ID)
	pipe := q.rdb.TxPipeline()
	pipe.SAdd(ctx, k, key)
	pipe.Expire(ctx, k, deliveredTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: mark %s delivered for %s: %w", key, item.ID, err)
	}
	return nil
}

// Delivered reports whether MarkDelivered was called for key on item.
func (q *WorkQueue) Delivered(ctx context.Context, item *Item, key string) (bool, error) {
	ok, err := q.rdb.SIsMember(ctx, q.deliveredKey(item.ID), key).Result()
	if err != nil {
		return false, fmt.Errorf("queue: check delivery %s for %s: %w", key, item.ID, err)
	}
	return ok, nil
}

// Len returns the number of pending and leased ids.
func (q *WorkQueue) Len(ctx context.Context) (pending, leased int64, err error) {
	pipe := q.rdb.Pipeline()
	p := pipe.LLen(ctx, q.queueKey())
	l := pipe.LLen(ctx, q.processingKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("queue: length: %w", err)
	}
	return p.Val(), l.Val(), nil
}

// Connect opens a Redis client for url and verifies it with PING. url may be
// a redis:// URL or a bare host:port.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(url, "://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("queue: parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: url}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("queue: ping redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
