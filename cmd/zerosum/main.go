package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"zerosum/internal/adapters"
	"zerosum/internal/amqp"
	"zerosum/internal/backend"
	"zerosum/internal/cache"
	"zerosum/internal/cli"
	"zerosum/internal/core"
	apphttp "zerosum/internal/http"
	applog "zerosum/internal/log"
	"zerosum/internal/worker"
)

const (
	shutdownTimeout   = 30 * time.Second
	connectivityCheck = 15 * time.Second
	cacheSweep        = 5 * time.Minute
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting zerosum", "port", cfg.Port, "remote", cfg.RemoteBackend)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(context.Background(), bcfg)
	if err != nil {
		cli.Fatal(logger, "Failed to create backend", err, "remote", cfg.RemoteBackend)
	}
	b := res.Backend

	follower := worker.NewFollower(b.Store, b.Framework)
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	if err := follower.Hydrate(startCtx); err != nil {
		cancelStart()
		cli.Fatal(logger, "Failed to load budget from remote store", err)
	}
	if err := follower.Bootstrap(startCtx, core.MonthFromTime(time.Now()), cfg.SeedOnEmpty); err != nil {
		logger.Error("Budget bootstrap failed", "error", err)
	}
	cancelStart()

	// AMQP is optional: without it the worker's schedule still finds new receipts.
	var publisher adapters.ScanPublisher
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("AMQP unavailable, scan requests will wait for the worker schedule", "error", err)
		amqpClient = nil
	} else {
		publisher = amqpClient
		follower.OnConnectivity(func(online bool) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := amqpClient.PublishConnectivity(ctx, online); err != nil {
				logger.Warn("Failed to publish connectivity change", "online", online, "error", err)
			}
		})
	}

	intake := adapters.NewReceiptIntake(b.Repo.Images(), b.Framework, publisher)
	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Framework: b.Framework,
		Ledger:    b.Ledger,
		Receipts:  intake,
		Ready:     b.Store.Ping,
		Logger:    logger.WithComponent(applog.ComponentHTTP),
	})

	caches := cache.NewManager()
	caches.Register("ratelimit", srv.Limiter())

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		caches.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", "error", err)
			}
		}
		if err := res.Cleanup(ctx); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	caches.StartCleanup(ctx, cacheSweep)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return follower.Run(gctx)
	})
	g.Go(func() error {
		follower.Watch(gctx, connectivityCheck)
		return nil
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", "error", err)
		if ctx.Err() == nil {
			os.Exit(1)
		}
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
