package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultBatchSize    = 50
	DefaultBatchTimeout = 2 * time.Second
	DefaultPollTimeout  = 1 * time.Second
)

// batchLoop pops JSON jobs from a Redis list and hands them to flush in
// batches of up to size, or whatever arrived within timeout. flush returns
// the jobs that could not be stored; they are pushed back to the queue.
type batchLoop[T any] struct {
	rdb     *redis.Client
	queue   string
	size    int
	timeout time.Duration
	poll    time.Duration
	log     zerolog.Logger
	flush   func(ctx context.Context, batch []T) []T
}

func (b *batchLoop[T]) run(ctx context.Context) {
	b.log.Info().Str("queue", b.queue).Msg("Worker started")

	batch := make([]T, 0, b.size)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 && (len(batch) >= b.size || time.Since(lastFlush) >= b.timeout) {
			b.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			b.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			b.flushSafe(context.Background(), batch)
			b.log.Info().Msg("Worker stopped")
			return
		default:
		}

		item, err := b.rdb.BLPop(ctx, b.poll, b.queue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				b.log.Error().Err(err).Msg("BLPop error")
				time.Sleep(b.poll)
			}
			continue
		}
		if len(item) < 2 {
			continue
		}

		var job T
		if err := json.Unmarshal([]byte(item[1]), &job); err != nil {
			b.log.Error().Err(err).Msg("Invalid JSON payload")
			continue
		}
		batch = append(batch, job)
	}
}

func (b *batchLoop[T]) flushSafe(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	failed := b.flush(ctx, batch)
	if len(failed) == 0 {
		return
	}

	b.log.Error().Int("count", len(failed)).Msg("Persist failed, requeueing")
	pipe := b.rdb.Pipeline()
	for _, job := range failed {
		raw, _ := json.Marshal(job)
		pipe.RPush(ctx, b.queue, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Error().Err(err).Msg("Requeue failed")
	}
}
