package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on Redis lists:
//
//	{key}:pending               LPUSH by producers, consumed from the right
//	{key}:processing:{worker}   deliveries owned by a worker until acked
//	{key}:delayed               sorted set of messages by visibility time
//	{key}:workers               sorted set of workers by heartbeat expiry
type RedisQueue struct {
	rc  *redis.Client
	key string
	now func() time.Time
}

// NewRedisQueue returns a queue rooted at key ("primecount:tasks" if empty).
func NewRedisQueue(rc *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "primecount:tasks"
	}
	return &RedisQueue{rc: rc, key: key, now: time.Now}
}

func (q *RedisQueue) pendingKey() string                 { return q.key + ":pending" }
func (q *RedisQueue) processingKey(worker string) string { return q.key + ":processing:" + worker }
func (q *RedisQueue) delayedKey() string                 { return q.key + ":delayed" }
func (q *RedisQueue) workersKey() string                 { return q.key + ":workers" }

func (q *RedisQueue) Push(ctx context.Context, msg Message, delay time.Duration) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	if delay <= 0 {
		return apperrors.NewInfrastructureError("enqueue", q.rc.LPush(ctx, q.pendingKey(), raw).Err())
	}
	due := q.now().Add(delay).UnixMilli()
	err = q.rc.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(due), Member: string(raw)}).Err()
	return apperrors.NewInfrastructureError("enqueue delayed", err)
}

// promote moves due delayed messages to the pending list. ZREM decides the
// winner when several workers promote concurrently.
func (q *RedisQueue) promote(ctx context.Context) error {
	due, err := q.rc.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return apperrors.NewInfrastructureError("promote", err)
	}
	for _, raw := range due {
		removed, err := q.rc.ZRem(ctx, q.delayedKey(), raw).Result()
		if err != nil {
			return apperrors.NewInfrastructureError("promote", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.rc.LPush(ctx, q.pendingKey(), raw).Err(); err != nil {
			return apperrors.NewInfrastructureError("promote", err)
		}
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, worker string, timeout time.Duration) (Delivery, error) {
	if err := q.promote(ctx); err != nil {
		return Delivery{}, err
	}
	raw, err := q.rc.BLMove(ctx, q.pendingKey(), q.processingKey(worker), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return Delivery{}, ErrEmpty
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Delivery{}, ctxErr
		}
		return Delivery{}, apperrors.NewInfrastructureError("dequeue", err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		// Poison message: drop it so it is not redelivered forever.
		_ = q.rc.LRem(ctx, q.processingKey(worker), 1, raw).Err()
		return Delivery{}, fmt.Errorf("decode message: %w", err)
	}
	return Delivery{Message: msg, Worker: worker, raw: raw}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d Delivery) error {
	return apperrors.NewInfrastructureError("ack", q.rc.LRem(ctx, q.processingKey(d.Worker), 1, d.raw).Err())
}

func (q *RedisQueue) Heartbeat(ctx context.Context, worker string, ttl time.Duration) error {
	exp := q.now().Add(ttl).UnixMilli()
	err := q.rc.ZAdd(ctx, q.workersKey(), redis.Z{Score: float64(exp), Member: worker}).Err()
	return apperrors.NewInfrastructureError("heartbeat", err)
}

func (q *RedisQueue) Workers(ctx context.Context) (int, error) {
	n, err := q.rc.ZCount(ctx, q.workersKey(), strconv.FormatInt(q.now().UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, apperrors.NewInfrastructureError("workers", err)
	}
	return int(n), nil
}

// Recover returns the unacknowledged deliveries of every worker whose
// heartbeat expired to the pending list.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	dead, err := q.rc.ZRangeByScore(ctx, q.workersKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, apperrors.NewInfrastructureError("recover", err)
	}
	moved := 0
	for _, worker := range dead {
		for {
			err := q.rc.LMove(ctx, q.processingKey(worker), q.pendingKey(), "RIGHT", "RIGHT").Err()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return moved, apperrors.NewInfrastructureError("recover", err)
			}
			moved++
		}
		if err := q.rc.ZRem(ctx, q.workersKey(), worker).Err(); err != nil {
			return moved, apperrors.NewInfrastructureError("recover", err)
		}
	}
	return moved, nil
}
