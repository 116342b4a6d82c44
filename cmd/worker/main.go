package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/credits-checkout/internal/app"
	"github.com/noah-isme/credits-checkout/internal/config"
	"github.com/noah-isme/credits-checkout/internal/gateway"
	"github.com/noah-isme/credits-checkout/internal/obs"
)

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := app.MustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	deps := app.New(cfg, redisClient, logger)

	opt, err := app.TaskRedisOpt(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure task queue")
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Gateway.WorkerConcurrency,
		Queues:      map[string]int{"default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task_failed")
		}),
	})

	logger.Info().Int("concurrency", cfg.Gateway.WorkerConcurrency).Msg("worker starting")
	if err := srv.Start(gateway.NewTaskMux(deps.Service)); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}
