package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"cashbook/internal/amqp"
	"cashbook/internal/cli"
	"cashbook/internal/log"
	"cashbook/internal/worker"
)

const reportInterval = 5 * time.Minute

func main() {
	cli.LoadEnvFile()
	cfg := cli.MustLoadConfig()
	logger := cli.SetupLogger(cfg)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the events consumer")
		os.Exit(1)
	}

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	w := worker.NewEventWorker(logger)
	logger.Info("Starting cashbook-events",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue,
		log.FieldOperation, log.OpStartup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Consume(gctx, w.HandleEvent)
	})
	g.Go(func() error {
		w.ReportPeriodically(gctx, reportInterval)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
		client.Close()
		os.Exit(1)
	}
	logger.Info("cashbook-events stopped", "events_total", w.Total())
}
