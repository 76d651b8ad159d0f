// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NoimitLi/smart-campus-server/internal/auth"
	"github.com/NoimitLi/smart-campus-server/internal/cache/redis"
	"github.com/NoimitLi/smart-campus-server/internal/config"
	"github.com/NoimitLi/smart-campus-server/internal/events"
	"github.com/NoimitLi/smart-campus-server/internal/realtime"
	"github.com/NoimitLi/smart-campus-server/internal/storage/postgres"
	"github.com/NoimitLi/smart-campus-server/internal/token"
	transport "github.com/NoimitLi/smart-campus-server/internal/transport/http"
	wstransport "github.com/NoimitLi/smart-campus-server/internal/transport/ws"
	"github.com/NoimitLi/smart-campus-server/pkg/httpserver"
	"github.com/NoimitLi/smart-campus-server/pkg/kafka"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
	"github.com/NoimitLi/smart-campus-server/pkg/serviceid"
	"github.com/NoimitLi/smart-campus-server/pkg/telemetry"
)

// Run собирает все зависимости и блокирует до отмены контекста.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	serviceid.InitServiceName(cfg.ServiceName)

	// === Telemetry
	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownSafe(ctx, "telemetry", shutdownTracer, log)

	// === Postgres
	if err := postgres.ApplyMigrations(cfg.Postgres, log); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := postgres.Connect(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer pool.Close()

	users := postgres.NewUserDirectory(pool, log)
	store := postgres.NewStorage(pool, log)

	// === Redis
	credCache, err := redis.New(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer shutdownSafe(ctx, "redis", func(context.Context) error {
		return credCache.Close()
	}, log)

	// === Kafka
	producer, err := kafka.NewProducer(ctx, cfg.Kafka.Producer, log)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	defer shutdownSafe(ctx, "kafka-producer", func(context.Context) error {
		return producer.Close()
	}, log)

	consumer, err := kafka.NewConsumer(ctx, cfg.Kafka.Consumer, log)
	if err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	defer shutdownSafe(ctx, "kafka-consumer", func(context.Context) error {
		return consumer.Close()
	}, log)

	// === Auth core
	codec, err := token.NewHS256(cfg.Token.Secret, cfg.Token.Issuer, cfg.Token.Audience,
		cfg.Token.AccessTTL, cfg.Token.RefreshTTL)
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}
	sms := auth.NewSmsService(credCache, auth.LogSender{Log: log}, log)
	manager, err := auth.NewManager(cfg.Auth, codec, credCache, users, sms, log)
	if err != nil {
		return fmt.Errorf("auth manager: %w", err)
	}

	// === Realtime core
	registry := realtime.NewRegistry()
	router := realtime.NewRouter(registry, store, users, producer, log)
	dispatcher := realtime.NewDispatcher(registry, store, log)
	eventsConsumer := events.NewConsumer(consumer, dispatcher, log)

	// === HTTP + WS surface
	handler := transport.NewHandler(manager, sms, cfg.Token.RefreshTTL, cfg.Token.SecureCookie, log)
	notifHandler := transport.NewNotificationHandler(dispatcher)
	middleware := transport.NewMiddleware(manager)
	wsHandler := wstransport.NewHandler(manager, router, dispatcher, log)

	extraRoutes := map[string]http.Handler{
		"/api/": transport.Routes(handler, notifHandler, middleware),
		"/ws/":  wsHandler.Routes(),
	}

	readiness := func() error {
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctxPing); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return producer.Ping(ctxPing)
	}

	httpSrv, err := httpserver.New(cfg.HTTP, readiness, log, extraRoutes,
		httpserver.RecoverMiddleware,
		httpserver.CORSMiddleware(),
		httpserver.RequestIDMiddleware,
	)
	if err != nil {
		return fmt.Errorf("httpserver init: %w", err)
	}

	log.WithContext(ctx).Info("smart-campus-server: starting services")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(ctx) })
	g.Go(func() error { return eventsConsumer.Run(ctx) })

	if err := g.Wait(); err != nil {
		if ctx.Err() == context.Canceled {
			log.WithContext(ctx).Info("smart-campus-server shut down cleanly")
			return nil
		}
		log.WithContext(ctx).Error("smart-campus-server exited with error", zap.Error(err))
		return err
	}

	log.WithContext(ctx).Info("smart-campus-server shut down complete")
	return nil
}

func shutdownSafe(ctx context.Context, name string, fn func(context.Context) error, log *logger.Logger) {
	log.WithContext(ctx).Info(name + ": shutting down")
	if err := fn(ctx); err != nil {
		log.WithContext(ctx).Error(name+" shutdown failed", zap.Error(err))
	} else {
		log.WithContext(ctx).Info(name + ": shutdown complete")
	}
}
