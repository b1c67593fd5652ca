package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/agbru/primecount/internal/broker"
	"github.com/agbru/primecount/internal/config"
	"github.com/agbru/primecount/internal/logging"
	"github.com/agbru/primecount/internal/metrics"
	"github.com/agbru/primecount/internal/orchestration"
	"github.com/agbru/primecount/internal/progress"
	"github.com/agbru/primecount/internal/store"
)

const dialTimeout = 5 * time.Second

// services is the wired object graph shared by every mode.
type services struct {
	kv      store.KV
	broker  *broker.Broker
	orch    *orchestration.Orchestrator
	metrics *metrics.Collectors
	redis   *redis.Client
}

// buildServices connects the store and queue named by cfg and wires the
// broker and orchestrator on top. Without a Redis URL everything lives in
// memory, which only makes sense in standalone mode.
func buildServices(ctx context.Context, cfg config.AppConfig, logger logging.Logger) (*services, error) {
	svc := &services{metrics: metrics.New()}

	var queue broker.Queue
	if cfg.RedisURL == "" {
		svc.kv = store.NewMemoryStore()
		queue = broker.NewMemoryQueue()
		logger.Info("using in-memory store and queue")
	} else {
		rc, err := store.Dial(ctx, cfg.RedisURL, dialTimeout)
		if err != nil {
			return nil, err
		}
		svc.redis = rc
		svc.kv = store.NewRedisStore(rc)
		if cfg.Breaker {
			settings := store.DefaultBreakerSettings()
			settings.OnStateChange = func(name string, from, to gobreaker.State) {
				logger.Info("store circuit changed",
					logging.String("breaker", name),
					logging.String("from", from.String()),
					logging.String("to", to.String()))
			}
			svc.kv = store.NewBreaker(svc.kv, settings)
		}
		queue = broker.NewRedisQueue(rc, "")
	}

	svc.broker = broker.New(queue, svc.kv, brokerConfig(cfg),
		broker.WithLogger(logger),
		broker.WithObserver(svc.metrics))

	tracker := progress.NewTracker(svc.kv, cfg.JobTTL, cfg.RetireGrace)
	svc.orch = orchestration.New(svc.broker, tracker,
		orchestration.Limits{MinN: cfg.MinN, MaxChunks: cfg.MaxChunks},
		orchestration.WithLogger(logger),
		orchestration.WithObserver(svc.metrics))
	svc.orch.Register(svc.broker)
	return svc, nil
}

func brokerConfig(cfg config.AppConfig) broker.Config {
	bc := broker.DefaultConfig()
	if cfg.Concurrency > 0 {
		bc.Concurrency = cfg.Concurrency
	}
	bc.HardTimeLimit = cfg.HardTimeLimit
	bc.SoftTimeLimit = cfg.SoftTimeLimit
	bc.RetryDelay = cfg.RetryDelay
	bc.MaxRetries = cfg.MaxRetries
	bc.ResultExpires = cfg.ResultExpires
	bc.Heartbeat = cfg.Heartbeat
	return bc
}

// Close releases the Redis connection, if any.
func (s *services) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
}
