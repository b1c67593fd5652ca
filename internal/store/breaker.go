package store

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit breaker around a KV.
type BreakerSettings struct {
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts are reset.
	Interval time.Duration
	// Timeout spent open before probing again.
	Timeout time.Duration
	// MinRequests and FailureRatio decide when the breaker trips.
	MinRequests  uint32
	FailureRatio float64
	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerSettings returns the settings used by the server.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:         "store",
		MaxRequests:  5,
		Interval:     10 * time.Second,
		Timeout:      3 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// Breaker decorates a KV with a circuit breaker. While the circuit is open
// calls fail fast with an InfrastructureError instead of reaching the backend.
type Breaker struct {
	next KV
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next.
func NewBreaker(next KV, s BreakerSettings) *Breaker {
	minReq, ratio := s.MinRequests, s.FailureRatio
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        s.Name,
			MaxRequests: s.MaxRequests,
			Interval:    s.Interval,
			Timeout:     s.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= minReq && failureRatio >= ratio
			},
			// Context cancellation is the caller giving up, not a backend fault.
			IsSuccessful: func(err error) bool {
				return err == nil || apperrors.IsContextError(err)
			},
			OnStateChange: s.OnStateChange,
		}),
	}
}

// State reports the current breaker state ("closed", "half-open", "open").
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) do(op string, fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperrors.InfrastructureError{Op: op, Cause: err}
	}
	return v, err
}

func (b *Breaker) Incr(ctx context.Context, key string) (int64, error) {
	v, err := b.do("incr", func() (any, error) { return b.next.Incr(ctx, key) })
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

type getResult struct {
	value string
	ok    bool
}

func (b *Breaker) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.do("get", func() (any, error) {
		value, ok, err := b.next.Get(ctx, key)
		return getResult{value, ok}, err
	})
	if err != nil {
		return "", false, err
	}
	r := v.(getResult)
	return r.value, r.ok, nil
}

func (b *Breaker) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := b.do("set", func() (any, error) { return nil, b.next.Set(ctx, key, value, ttl) })
	return err
}

func (b *Breaker) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	v, err := b.do("setnx", func() (any, error) { return b.next.SetNX(ctx, key, value, ttl) })
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (b *Breaker) SAdd(ctx context.Context, key, member string) (bool, error) {
	v, err := b.do("sadd", func() (any, error) { return b.next.SAdd(ctx, key, member) })
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (b *Breaker) SCard(ctx context.Context, key string) (int64, error) {
	v, err := b.do("scard", func() (any, error) { return b.next.SCard(ctx, key) })
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (b *Breaker) Del(ctx context.Context, keys ...string) error {
	_, err := b.do("del", func() (any, error) { return nil, b.next.Del(ctx, keys...) })
	return err
}

func (b *Breaker) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := b.do("expire", func() (any, error) { return nil, b.next.Expire(ctx, key, ttl) })
	return err
}

// Ping bypasses the breaker so health checks always see the backend.
func (b *Breaker) Ping(ctx context.Context) error { return b.next.Ping(ctx) }
