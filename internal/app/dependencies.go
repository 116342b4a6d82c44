// Package app assembles the gateway's shared dependencies from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/credits-checkout/internal/config"
	"github.com/noah-isme/credits-checkout/internal/events"
	"github.com/noah-isme/credits-checkout/internal/gateway"
	"github.com/noah-isme/credits-checkout/internal/lock"
	"github.com/noah-isme/credits-checkout/internal/resilience"
)

// Dependencies are the services shared by the gateway and the webhook worker.
type Dependencies struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Redis   *redis.Client
	Store   gateway.OrderStore
	Bus     *events.Bus
	Service *gateway.Service
}

// New builds Dependencies on top of an initialised Redis client.
func New(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) *Dependencies {
	store := gateway.RedisOrderStore{Client: rdb}
	bus := &events.Bus{
		Store: events.RedisStreamStore{Client: rdb, Stream: events.DefaultStream, MaxLen: 10000},
		Notifiers: []events.Notifier{
			events.LogNotifier{Logger: logger},
			events.MetricsNotifier{},
		},
		Source: events.SourceBackend,
	}
	svc := &gateway.Service{
		Store:    store,
		Checkout: NewCheckout(cfg, logger),
		Locker:   lock.Locker{R: rdb, RetryBackoff: 50 * time.Millisecond, MaxWait: cfg.Gateway.LockTTL},
		Bus:      bus,
		Logger:   logger,
		LockTTL:  cfg.Gateway.LockTTL,
	}
	return &Dependencies{Config: cfg, Logger: logger, Redis: rdb, Store: store, Bus: bus, Service: svc}
}

// NewCheckout returns the Crossmint client, or a stub when no API key is
// configured.
func NewCheckout(cfg *config.Config, logger zerolog.Logger) gateway.Checkout {
	if cfg.Gateway.CrossmintAPIKey == "" {
		logger.Warn().Msg("crossmint_api_key_missing_using_stub")
		return gateway.StubCheckout{}
	}
	breaker := resilience.NewBreaker(cfg.Circuit.MinRequests, cfg.Circuit.FailureRatio, cfg.Circuit.OpenFor).
		WithTarget("crossmint").
		WithLogger(logger)
	return gateway.CrossmintCheckout{
		BaseURL: cfg.CrossmintBaseURL(),
		APIKey:  cfg.Gateway.CrossmintAPIKey,
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     breaker,
			BaseBackoff: cfg.API.RetryBase,
			MaxAttempts: cfg.API.RetryMaxAttempts,
			Jitter:      0.2,
			Timeout:     cfg.API.HTTPTimeout,
			Target:      "crossmint",
			Logger:      &logger,
		},
		Logger: logger,
	}
}

// MustInitRedis connects to REDIS_URL with tracing and metrics
// instrumentation, exiting the process on failure.
func MustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

// TaskRedisOpt returns the asynq connection options for REDIS_URL.
func TaskRedisOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url for task queue: %w", err)
	}
	return opt, nil
}
