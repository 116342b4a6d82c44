package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/credits-checkout/internal/app"
	"github.com/noah-isme/credits-checkout/internal/auth"
	"github.com/noah-isme/credits-checkout/internal/config"
	"github.com/noah-isme/credits-checkout/internal/gateway"
	"github.com/noah-isme/credits-checkout/internal/health"
	"github.com/noah-isme/credits-checkout/internal/obs"
	"github.com/noah-isme/credits-checkout/internal/ratelimit"
	"github.com/noah-isme/credits-checkout/internal/security"
)

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Str("component", "gateway").Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	httpMetrics := obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, nil, nil)

	shutdownTracer, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		Enabled:       cfg.Obs.EnableTracing,
		ServiceName:   "credits-gateway",
		Endpoint:      cfg.Obs.OTLPEndpoint,
		SamplingRatio: cfg.Obs.SamplingRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		cfg.Obs.EnableTracing = false
	}
	defer func() {
		if shutdownTracer == nil {
			return
		}
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := app.MustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	deps := app.New(cfg, redisClient, logger)

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Secret:    cfg.Gateway.JWTSecret,
		Issuer:    cfg.Gateway.JWTIssuer,
		Audience:  cfg.Gateway.JWTAudience,
		TTL:       cfg.Gateway.TokenTTL,
		ClockSkew: 30 * time.Second,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure authentication")
	}

	webhook := gateway.Webhook{
		Svc:       deps.Service,
		Secret:    cfg.Gateway.WebhookSecret,
		Replay:    redisClient,
		ReplayTTL: cfg.Gateway.WebhookReplayTTL,
		Logger:    logger,
	}
	if cfg.Gateway.WebhookAsync {
		opt, err := app.TaskRedisOpt(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("configure task queue")
		}
		tasks := asynq.NewClient(opt)
		defer func() {
			if err := tasks.Close(); err != nil {
				logger.Error().Err(err).Msg("close task client")
			}
		}()
		webhook.Tasks = tasks
	}
	if cfg.Gateway.WebhookSecret == "" && cfg.IsProduction() {
		logger.Fatal().Msg("CROSSMINT_WEBHOOK_SECRET is required in production")
	}

	webhookLimit, err := ratelimit.PerIP(redisClient, "rl:webhook:", time.Minute, 120, func(err error) {
		logger.Warn().Err(err).Msg("webhook_rate_limit_unavailable")
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure webhook rate limit")
	}
	createLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByUser("create-order"),
			Window: cfg.Gateway.RateLimitWindow,
			Max:    cfg.Gateway.RateLimitMax,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate_limit_unavailable") },
	}

	router := gateway.NewRouter(gateway.RouterConfig{
		Service: deps.Service,
		Auth:    authenticator,
		Webhook: webhook,
		Health: health.Handler{Probes: []health.Probe{{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}}},
		Metrics:        promhttp.Handler(),
		HTTPMetrics:    httpMetrics,
		Tracing:        cfg.Obs.EnableTracing,
		CreateLimit:    createLimit.Middleware,
		WebhookLimit:   webhookLimit,
		AllowedOrigins: cfg.Gateway.CORSAllowedOrigins,
		Security:       security.Headers{HSTS: cfg.Gateway.HSTS},
		MaxBodyBytes:   cfg.Gateway.MaxBodyBytes,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Bool("webhook_async", cfg.Gateway.WebhookAsync).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}
