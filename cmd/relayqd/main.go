// relayqd is a thin daemon around the queue worker: it loads configuration
// from the environment, connects to Redis and drains queues until it
// receives SIGINT or SIGTERM. Handlers are expected to be registered by the
// embedding build; a stock relayqd routes jobs with unknown processors to
// system_errors.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/relayq/pkg/config"
	"github.com/dmitrymomot/relayq/pkg/logger"
	"github.com/dmitrymomot/relayq/pkg/queue"
	"github.com/dmitrymomot/relayq/pkg/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadEnv(); err != nil {
		panic(err)
	}

	var logCfg logger.Config
	config.MustLoad(&logCfg)
	log := logger.NewFromConfig(logCfg, logger.WithAttr(slog.String("service", "relayqd")))

	var redisCfg redis.Config
	config.MustLoad(&redisCfg)

	client, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		log.Error("failed to connect to redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer client.Close()

	store, err := queue.NewRedisStore(client)
	if err != nil {
		log.Error("failed to build store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var queueCfg queue.Config
	config.MustLoad(&queueCfg)

	worker, err := queue.NewWorker(store,
		queue.WithConfig(queueCfg),
		queue.WithWorkerLogger(log),
	)
	if err != nil {
		log.Error("failed to build worker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := worker.Start(ctx); err != nil {
		log.Error("failed to start worker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	<-ctx.Done()

	if err := worker.Stop(); err != nil {
		log.Error("worker shutdown failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
