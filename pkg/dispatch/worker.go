package dispatch

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// shardedQueue runs one goroutine per shard. Jobs with the same key always land on the same
// shard, so they are handled in enqueue order.
type shardedQueue[J any] struct {
	shards []chan J
	wg     sync.WaitGroup
}

func newShardedQueue[J any](workers int, queueSize int) *shardedQueue[J] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	shards := make([]chan J, workers)
	for i := range shards {
		shards[i] = make(chan J, queueSize)
	}

	return &shardedQueue[J]{shards: shards}
}

func (q *shardedQueue[J]) start(ctx context.Context, handle func(context.Context, J)) {
	for _, jobs := range q.shards {
		q.wg.Add(1)
		go func(jobs <-chan J) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-jobs:
					handle(ctx, job)
				}
			}
		}(jobs)
	}
}

func (q *shardedQueue[J]) enqueue(ctx context.Context, key string, job J) error {
	shard := q.shards[xxhash.Sum64String(key)%uint64(len(q.shards))]

	select {
	case <-ctx.Done():
		return ctx.Err()
	case shard <- job:
		return nil
	}
}

func (q *shardedQueue[J]) wait() {
	q.wg.Wait()
}
