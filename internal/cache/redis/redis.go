// internal/cache/redis/redis.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NoimitLi/smart-campus-server/internal/cache"
	"github.com/NoimitLi/smart-campus-server/pkg/backoff"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

var (
	redisMetrics = struct {
		GetErrors        prometheus.Counter
		SetErrors        prometheus.Counter
		TouchErrors      prometheus.Counter
		DeleteErrors     prometheus.Counter
		OperationLatency prometheus.Histogram
	}{
		GetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "campus", Subsystem: "redis", Name: "get_errors_total",
			Help: "Total number of errors on Redis GET",
		}),
		SetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "campus", Subsystem: "redis", Name: "set_errors_total",
			Help: "Total number of errors on Redis SET",
		}),
		TouchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "campus", Subsystem: "redis", Name: "touch_errors_total",
			Help: "Total number of errors on Redis EXPIRE",
		}),
		DeleteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "campus", Subsystem: "redis", Name: "delete_errors_total",
			Help: "Total number of errors on Redis DEL",
		}),
		OperationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "campus", Subsystem: "redis", Name: "operation_latency_seconds",
			Help:    "Latency of Redis operations",
			Buckets: prometheus.DefBuckets,
		}),
	}
	tracer = otel.Tracer("credential-cache")
)

// Config хранит параметры подключения к Redis.
type Config struct {
	URL       string         `mapstructure:"url"` // e.g. "redis://host:6379/0"
	OpTimeout time.Duration  `mapstructure:"op_timeout"`
	Backoff   backoff.Config `mapstructure:"backoff"`
}

func (c *Config) ApplyDefaults() {
	if c.OpTimeout <= 0 {
		c.OpTimeout = 2 * time.Second
	}
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("redis: URL required")
	}
	return nil
}

// redisCache — продакшен-реализация cache.Cache через go-redis/v8.
type redisCache struct {
	client     *redis.Client
	opTimeout  time.Duration
	log        *logger.Logger
	backoffCfg backoff.Config
}

// New создаёт Cache, соединяется с Redis, с retry и метриками.
func New(ctx context.Context, cfg Config, log *logger.Logger) (cache.Cache, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("redis")

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse URL: %w", err)
	}
	client := redis.NewClient(opts)

	op := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	ctxConn, span := tracer.Start(ctx, "Connect", trace.WithAttributes(attribute.String("url", cfg.URL)))
	if err := backoff.Execute(ctxConn, cfg.Backoff, log, op); err != nil {
		span.RecordError(err)
		span.End()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	span.End()
	log.Info("redis: connected", zap.String("url", cfg.URL))

	return &redisCache{
		client:     client,
		opTimeout:  cfg.OpTimeout,
		log:        log,
		backoffCfg: cfg.Backoff,
	}, nil
}

func (r *redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctxOp, span := tracer.Start(ctx, "Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	start := time.Now()
	op := func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
		defer cancel()
		return r.client.Set(opCtx, key, value, ttl).Err()
	}
	if err := backoff.Execute(ctxOp, r.backoffCfg, r.log, op); err != nil {
		redisMetrics.SetErrors.Inc()
		r.log.WithContext(ctx).Error("redis SET failed", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return err
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	return nil
}

func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	ctxOp, span := tracer.Start(ctx, "Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	start := time.Now()
	var value string
	op := func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
		defer cancel()
		val, err := r.client.Get(opCtx, key).Result()
		if err == redis.Nil {
			return backoff.Permanent(cache.ErrNotFound)
		}
		if err != nil {
			return err
		}
		value = val
		return nil
	}
	if err := backoff.Execute(ctxOp, r.backoffCfg, r.log, op); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return "", cache.ErrNotFound
		}
		redisMetrics.GetErrors.Inc()
		r.log.WithContext(ctx).Error("redis GET failed", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return "", err
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	return value, nil
}

func (r *redisCache) Touch(ctx context.Context, key string, ttl time.Duration) error {
	ctxOp, span := tracer.Start(ctx, "Touch", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	start := time.Now()
	op := func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
		defer cancel()
		ok, err := r.client.Expire(opCtx, key, ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return backoff.Permanent(cache.ErrNotFound)
		}
		return nil
	}
	if err := backoff.Execute(ctxOp, r.backoffCfg, r.log, op); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return cache.ErrNotFound
		}
		redisMetrics.TouchErrors.Inc()
		r.log.WithContext(ctx).Error("redis EXPIRE failed", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return err
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	return nil
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	ctxOp, span := tracer.Start(ctx, "Delete", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	start := time.Now()
	op := func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
		defer cancel()
		_, err := r.client.Del(opCtx, key).Result()
		return err
	}
	if err := backoff.Execute(ctxOp, r.backoffCfg, r.log, op); err != nil {
		redisMetrics.DeleteErrors.Inc()
		r.log.WithContext(ctx).Error("redis DEL failed", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return err
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	return nil
}

func (r *redisCache) Close() error {
	return r.client.Close()
}
