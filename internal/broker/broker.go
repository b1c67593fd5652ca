// Package broker is a small task queue: named handlers, a worker pool with
// bounded retries and time limits, per-task state visible to clients, and
// chords (a group of tasks whose results feed a single callback).
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/agbru/primecount/internal/logging"
	"github.com/agbru/primecount/internal/store"
	"github.com/agbru/primecount/internal/telemetry"
)

// Handler executes one task. Returning a Reference stores the task as
// SUCCESS pointing at another task; any other value is stored as the JSON
// result.
type Handler func(ctx context.Context, task *Task) (any, error)

// Observer receives task lifecycle events, typically to update metrics.
type Observer interface {
	TaskStarted(task string)
	TaskFinished(task string, state State, elapsed time.Duration)
	TaskRetried(task string)
}

type nopObserver struct{}

func (nopObserver) TaskStarted(string)                        {}
func (nopObserver) TaskFinished(string, State, time.Duration) {}
func (nopObserver) TaskRetried(string)                        {}

// Config controls worker behavior.
type Config struct {
	// Concurrency is the number of tasks executed in parallel by Run.
	Concurrency int
	// PollTimeout bounds each blocking dequeue.
	PollTimeout time.Duration
	// HardTimeLimit abandons a task that runs longer; SoftTimeLimit cancels
	// its context first so it can stop cooperatively.
	HardTimeLimit time.Duration
	SoftTimeLimit time.Duration
	// RetryDelay and MaxRetries bound automatic retries of retryable errors.
	RetryDelay time.Duration
	MaxRetries int
	// ResultExpires is the lifetime of task state and chord bookkeeping.
	ResultExpires time.Duration
	// Heartbeat is the liveness interval; a worker is considered dead after
	// three missed beats.
	Heartbeat time.Duration
	// TrackStarted records STARTED when a task begins executing.
	TrackStarted bool
	// Name identifies this worker process. Defaults to host-pid-random.
	Name string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:   runtime.NumCPU(),
		PollTimeout:   time.Second,
		HardTimeLimit: time.Hour,
		SoftTimeLimit: 50 * time.Minute,
		RetryDelay:    30 * time.Second,
		MaxRetries:    3,
		ResultExpires: time.Hour,
		Heartbeat:     10 * time.Second,
		TrackStarted:  true,
	}
}

// Broker produces and consumes tasks.
type Broker struct {
	queue    Queue
	kv       store.KV
	cfg      Config
	logger   logging.Logger
	observer Observer

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(b *Broker) { b.logger = l } }

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option { return func(b *Broker) { b.observer = o } }

// New returns a Broker over queue, storing task state in kv.
func New(queue Queue, kv store.KV, cfg Config, opts ...Option) *Broker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 10 * time.Second
	}
	if cfg.ResultExpires <= 0 {
		cfg.ResultExpires = time.Hour
	}
	if cfg.Name == "" {
		host, _ := os.Hostname()
		cfg.Name = fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
	}
	b := &Broker{
		queue:    queue,
		kv:       kv,
		cfg:      cfg,
		logger:   logging.Nop{},
		observer: nopObserver{},
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register binds name to h. Registering a name twice replaces the handler.
func (b *Broker) Register(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = h
}

func (b *Broker) handler(name string) (Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[name]
	return h, ok
}

// Config returns the effective configuration.
func (b *Broker) Config() Config { return b.cfg }

func newMessage(sig Signature) (Message, error) {
	id := sig.ID
	if id == "" {
		id = uuid.NewString()
	}
	var payload json.RawMessage
	if sig.Payload != nil {
		raw, err := json.Marshal(sig.Payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode payload of %s: %w", sig.Task, err)
		}
		payload = raw
	}
	return Message{ID: id, Task: sig.Task, Payload: payload, Enqueued: time.Now().UTC()}, nil
}

// Enqueue submits a single task and returns its id.
func (b *Broker) Enqueue(ctx context.Context, sig Signature) (string, error) {
	msg, err := newMessage(sig)
	if err != nil {
		return "", err
	}
	if err := b.queue.Push(ctx, msg, 0); err != nil {
		return "", err
	}
	b.logger.Debug("task enqueued", logging.String("task", msg.Task), logging.String("task_id", msg.ID))
	return msg.ID, nil
}

// Meta returns the stored state of a task. Unknown tasks read as PENDING.
func (b *Broker) Meta(ctx context.Context, id string) (Meta, error) {
	raw, ok, err := b.kv.Get(ctx, metaKey(id))
	if err != nil {
		return Meta{}, apperrors.WrapError(err, "read state of task %s", id)
	}
	if !ok {
		return Meta{ID: id, State: StatePending}, nil
	}
	var m Meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Meta{}, fmt.Errorf("decode state of task %s: %w", id, err)
	}
	return m, nil
}

func (b *Broker) setMeta(ctx context.Context, m Meta) error {
	m.Updated = time.Now().UTC()
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode state of task %s: %w", m.ID, err)
	}
	return b.kv.Set(ctx, metaKey(m.ID), string(raw), b.cfg.ResultExpires)
}

// Workers returns the number of live worker processes.
func (b *Broker) Workers(ctx context.Context) (int, error) { return b.queue.Workers(ctx) }

// Ping checks the state store.
func (b *Broker) Ping(ctx context.Context) error { return b.kv.Ping(ctx) }

func metaKey(id string) string { return "task:" + id + ":meta" }

// Run consumes tasks until ctx is canceled. It returns nil on cancellation.
func (b *Broker) Run(ctx context.Context) error {
	if n, err := b.queue.Recover(ctx); err != nil {
		b.logger.Error("recover deliveries failed", err)
	} else if n > 0 {
		b.logger.Info("recovered unacknowledged deliveries", logging.Int("count", n))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.heartbeat(ctx) })
	for i := 0; i < b.cfg.Concurrency; i++ {
		worker := fmt.Sprintf("%s#%d", b.cfg.Name, i)
		g.Go(func() error { return b.consume(ctx, worker) })
	}
	b.logger.Info("worker pool started",
		logging.String("worker", b.cfg.Name),
		logging.Int("concurrency", b.cfg.Concurrency))
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Broker) heartbeat(ctx context.Context) error {
	ttl := 3 * b.cfg.Heartbeat
	beat := func() {
		for i := 0; i < b.cfg.Concurrency; i++ {
			if err := b.queue.Heartbeat(ctx, fmt.Sprintf("%s#%d", b.cfg.Name, i), ttl); err != nil && ctx.Err() == nil {
				b.logger.Error("heartbeat failed", err)
				return
			}
		}
	}
	beat()
	ticker := time.NewTicker(b.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			beat()
			if _, err := b.queue.Recover(ctx); err != nil && ctx.Err() == nil {
				b.logger.Error("recover deliveries failed", err)
			}
		}
	}
}

func (b *Broker) consume(ctx context.Context, worker string) error {
	backoff := 100 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return nil
		}
		d, err := b.queue.Pop(ctx, worker, b.cfg.PollTimeout)
		switch {
		case err == nil:
			backoff = 100 * time.Millisecond
			b.process(ctx, d)
		case errors.Is(err, ErrEmpty):
		case apperrors.IsContextError(err) && ctx.Err() != nil:
			return nil
		default:
			b.logger.Error("dequeue failed", err, logging.String("worker", worker))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(2*backoff, 5*time.Second)
		}
	}
}

// process runs one delivery to completion and acknowledges it. State writes
// use a context detached from worker shutdown so a finished task is always
// recorded.
func (b *Broker) process(ctx context.Context, d Delivery) {
	msg := d.Message
	bg := context.WithoutCancel(ctx)
	defer func() {
		if err := b.queue.Ack(bg, d); err != nil {
			b.logger.Error("ack failed", err, logging.String("task_id", msg.ID))
		}
	}()

	fields := []logging.Field{
		logging.String("task", msg.Task),
		logging.String("task_id", msg.ID),
		logging.Int("attempt", msg.Attempt),
	}

	h, ok := b.handler(msg.Task)
	if !ok {
		err := fmt.Errorf("no handler registered for %q", msg.Task)
		b.logger.Error("unknown task", err, fields...)
		b.fail(bg, msg, err)
		return
	}

	spanCtx, span := telemetry.StartSpan(ctx, msg.Task,
		attribute.String("task_id", msg.ID),
		attribute.Int("attempt", msg.Attempt))

	if b.cfg.TrackStarted {
		if err := b.setMeta(bg, Meta{ID: msg.ID, Task: msg.Task, State: StateStarted, Retries: msg.Attempt}); err != nil {
			b.logger.Error("record started failed", err, fields...)
		}
	}
	b.observer.TaskStarted(msg.Task)
	started := time.Now()

	task := &Task{ID: msg.ID, Name: msg.Task, Payload: msg.Payload, Attempt: msg.Attempt, Results: msg.Results, broker: b}
	result, err := b.execute(spanCtx, h, task)
	elapsed := time.Since(started)
	telemetry.EndSpan(span, err)

	if err == nil {
		serr := b.succeed(bg, msg, result)
		if serr == nil {
			b.observer.TaskFinished(msg.Task, StateSuccess, elapsed)
			b.logger.Debug("task succeeded", append(fields, logging.Duration("elapsed", elapsed))...)
			return
		}
		// An unrecorded success is retried like a failed run, so the task
		// state and any chord it belongs to still advance.
		b.logger.Error("record success failed", serr, fields...)
		err = serr
		if apperrors.IsRetryable(serr) {
			err = apperrors.NewInfrastructureError("record result of "+msg.Task, serr)
		}
	}

	if apperrors.IsRetryable(err) && msg.Attempt < b.cfg.MaxRetries && ctx.Err() == nil {
		b.retry(bg, msg, err, fields)
		b.observer.TaskFinished(msg.Task, StateRetry, elapsed)
		return
	}

	b.logger.Error("task failed", err, fields...)
	b.fail(bg, msg, err)
	b.observer.TaskFinished(msg.Task, StateFailure, elapsed)
}

type outcome struct {
	value any
	err   error
}

// execute runs h under the soft and hard time limits.
func (b *Broker) execute(ctx context.Context, h Handler, task *Task) (any, error) {
	softCtx := ctx
	if b.cfg.SoftTimeLimit > 0 {
		var cancel context.CancelFunc
		softCtx, cancel = context.WithTimeout(ctx, b.cfg.SoftTimeLimit)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("task %s panicked: %v", task.Name, r)}
			}
		}()
		v, err := h(softCtx, task)
		done <- outcome{value: v, err: err}
	}()

	var hard <-chan time.Time
	if b.cfg.HardTimeLimit > 0 {
		timer := time.NewTimer(b.cfg.HardTimeLimit)
		defer timer.Stop()
		hard = timer.C
	}
	select {
	case o := <-done:
		return o.value, o.err
	case <-hard:
		return nil, apperrors.TimeoutError{Operation: task.Name, Limit: b.cfg.HardTimeLimit}
	}
}

func (b *Broker) succeed(ctx context.Context, msg Message, result any) error {
	m := Meta{ID: msg.ID, Task: msg.Task, State: StateSuccess, Retries: msg.Attempt}
	if ref, ok := result.(Reference); ok {
		m.Ref = ref.TaskID
	} else if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return apperrors.ValidationError{Field: "result", Message: fmt.Sprintf("encode result of %s: %v", msg.ID, err)}
		}
		m.Result = raw
	}
	if err := b.setMeta(ctx, m); err != nil {
		return err
	}
	if msg.Chord != nil {
		return b.chordMemberDone(ctx, *msg.Chord, m.Result)
	}
	return nil
}

func (b *Broker) retry(ctx context.Context, msg Message, cause error, fields []logging.Field) {
	next := msg
	next.Attempt++
	b.logger.Info("retrying task", append(fields,
		logging.Duration("delay", b.cfg.RetryDelay),
		logging.String("reason", cause.Error()))...)
	if err := b.setMeta(ctx, Meta{ID: msg.ID, Task: msg.Task, State: StateRetry, Error: cause.Error(), Retries: next.Attempt}); err != nil {
		b.logger.Error("record retry failed", err, fields...)
	}
	if err := b.queue.Push(ctx, next, b.cfg.RetryDelay); err != nil {
		b.logger.Error("requeue failed", err, fields...)
		b.fail(ctx, msg, cause)
		return
	}
	b.observer.TaskRetried(msg.Task)
}

func (b *Broker) fail(ctx context.Context, msg Message, cause error) {
	err := b.recordFailure(ctx, msg, cause)
	if err == nil {
		return
	}
	// The failure must reach the task state and the chord; run it again
	// later rather than drop it.
	b.logger.Error("record failure failed", err, logging.String("task_id", msg.ID))
	if err := b.queue.Push(ctx, msg, b.cfg.RetryDelay); err != nil {
		b.logger.Error("requeue failed", err, logging.String("task_id", msg.ID))
	}
}

func (b *Broker) recordFailure(ctx context.Context, msg Message, cause error) error {
	m := Meta{ID: msg.ID, Task: msg.Task, State: StateFailure, Error: cause.Error(), Retries: msg.Attempt}
	if err := b.setMeta(ctx, m); err != nil {
		return err
	}
	if msg.Chord != nil {
		if err := b.chordMemberFailed(ctx, *msg.Chord, msg.ID, cause); err != nil {
			return fmt.Errorf("chord %s: %w", msg.Chord.ID, err)
		}
	}
	return nil
}

// Task is the handler's view of the message being executed.
type Task struct {
	ID      string
	Name    string
	Payload json.RawMessage
	Attempt int
	// Results holds the member results in index order when the task is a
	// chord callback. A member whose result could not be read is nil.
	Results []json.RawMessage

	broker *Broker
}

// Decode unmarshals the payload into v.
func (t *Task) Decode(v any) error {
	if len(t.Payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(t.Payload, v)
}

// UpdateState records an intermediate state (usually PROGRESS) with info
// visible to clients.
func (t *Task) UpdateState(ctx context.Context, state State, info any) error {
	m := Meta{ID: t.ID, Task: t.Name, State: state, Retries: t.Attempt}
	if info != nil {
		raw, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("encode info of %s: %w", t.ID, err)
		}
		m.Info = raw
	}
	return t.broker.setMeta(ctx, m)
}

// Broker returns the broker executing the task, for handlers that submit
// further work.
func (t *Task) Broker() *Broker { return t.broker }
