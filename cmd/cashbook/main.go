package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"cashbook/internal/backend"
	"cashbook/internal/cli"
	apphttp "cashbook/internal/http"
	"cashbook/internal/log"
	"cashbook/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.MustLoadConfig()
	logger := cli.SetupLogger(cfg)

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	opts := []services.Option{
		services.WithLogger(logger),
		services.WithSessionTTL(cfg.SessionTTL),
	}
	if res.Notifier != nil {
		opts = append(opts, services.WithNotifier(res.Notifier))
	}
	svc, err := services.New(res.Store, opts...)
	if err != nil {
		logger.Error("Failed to create service", log.FieldError, err)
		os.Exit(1)
	}

	srv, err := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		Logger:        logger,
		SecureCookie:  cfg.SecureCookie,
		AuthRateLimit: cfg.AuthRateLimit,
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting cashbook server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"events", res.Notifier != nil,
			log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", "timeout", cfg.ShutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		_ = res.Cleanup()
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
