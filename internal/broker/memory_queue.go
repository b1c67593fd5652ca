package broker

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for standalone mode and tests.
// Deliveries of a canceled worker are not recovered: the process is the
// only consumer and its lifetime bounds every message.
type MemoryQueue struct {
	mu       sync.Mutex
	items    []Message
	inflight map[*Message]struct{}
	workers  map[string]time.Time
	ready    chan struct{}
	timers   map[*time.Timer]struct{}
	closed   bool
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items:    make([]Message, 0, 128),
		inflight: make(map[*Message]struct{}),
		workers:  make(map[string]time.Time),
		ready:    make(chan struct{}, 1),
		timers:   make(map[*time.Timer]struct{}),
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Push(_ context.Context, msg Message, delay time.Duration) error {
	if delay <= 0 {
		q.mu.Lock()
		q.items = append(q.items, msg)
		q.mu.Unlock()
		q.signal()
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		if q.closed {
			q.mu.Unlock()
			return
		}
		q.items = append(q.items, msg)
		q.mu.Unlock()
		q.signal()
	})
	q.timers[timer] = struct{}{}
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, worker string, timeout time.Duration) (Delivery, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			q.inflight[&msg] = struct{}{}
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return Delivery{Message: msg, Worker: worker, ref: &msg}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-deadline.C:
			return Delivery{}, ErrEmpty
		case <-q.ready:
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, d.ref)
	return nil
}

func (q *MemoryQueue) Heartbeat(_ context.Context, worker string, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.workers[worker] = time.Now().Add(ttl)
	return nil
}

func (q *MemoryQueue) Workers(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	n := 0
	for w, exp := range q.workers {
		if now.Before(exp) {
			n++
		} else {
			delete(q.workers, w)
		}
	}
	return n, nil
}

func (q *MemoryQueue) Recover(context.Context) (int, error) { return 0, nil }

// Len returns the number of queued and unacknowledged messages. Delayed
// messages are not counted until they become visible.
func (q *MemoryQueue) Len() (queued, inflight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), len(q.inflight)
}

// Close drops pending delayed messages.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	clear(q.timers)
}
