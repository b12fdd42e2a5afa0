package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"zerosum/internal/amqp"
	"zerosum/internal/backend"
	"zerosum/internal/cli"
	applog "zerosum/internal/log"
	"zerosum/internal/ocr/vision"
	"zerosum/internal/services"
	"zerosum/internal/worker"
)

const (
	shutdownTimeout   = 30 * time.Second
	connectivityCheck = 15 * time.Second
	imageRetention    = 30 * 24 * time.Hour
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting zerosum-worker", "remote", cfg.RemoteBackend)

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
	err = follower.Hydrate(startCtx)
	cancelStart()
	if err != nil {
		cli.Fatal(logger, "Failed to load budget from remote store", err)
	}

	scanner, err := vision.New(context.Background(), vision.Credentials{
		JSON: cfg.GoogleVisionCredentialsJSON,
		File: cfg.GoogleVisionCredentialsFile,
	})
	if err != nil {
		cli.Fatal(logger, "Failed to initialize Google Cloud Vision client", err)
	}

	processor := services.NewScanProcessor(b.Framework, b.Repo.Images(), scanner, services.ScanProcessorConfig{
		ScanTimeout: cfg.ScanTimeout,
		MaxRetries:  cfg.ScanMaxRetries,
	})
	scanWorker := worker.NewScanWorker(b.Framework, processor, b.Repo, cfg.ScanMaxRetries, imageRetention)
	follower.OnConnectivity(processor.SetOnline)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("AMQP unavailable, relying on the scan schedule", "error", err)
		amqpClient = nil
	}

	sched := cron.New()

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		<-sched.Stop().Done()
		if err := processor.Stop(ctx); err != nil {
			logger.Warn("Scan processor stop error", "error", err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", "error", err)
			}
		}
		if err := res.Cleanup(ctx); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	if err := scanWorker.StartupCheck(ctx); err != nil {
		logger.Error("Startup check failed", "error", err)
	}
	if err := processor.Start(ctx); err != nil {
		cli.Fatal(logger, "Failed to start scan processor", err)
	}

	if err := schedule(ctx, sched, cfg.ScanInterval, cfg.RetryInterval, processor, scanWorker, b); err != nil {
		cli.Fatal(logger, "Failed to schedule jobs", err)
	}
	sched.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return follower.Run(gctx)
	})
	g.Go(func() error {
		follower.Watch(gctx, connectivityCheck)
		return nil
	})
	if amqpClient != nil {
		g.Go(func() error {
			err := amqpClient.Consume(gctx, scanWorker.Handler())
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		if ctx.Err() == nil {
			os.Exit(1)
		}
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}

// schedule registers the periodic scan sweep, mutation retry and image
// cleanup jobs.
func schedule(ctx context.Context, c *cron.Cron, scanEvery, retryEvery time.Duration, processor *services.ScanProcessor, sw *worker.ScanWorker, b *backend.Backend) error {
	if _, err := c.AddFunc("@every "+scanEvery.String(), processor.Trigger); err != nil {
		return fmt.Errorf("scan sweep job: %w", err)
	}
	if _, err := c.AddFunc("@every "+retryEvery.String(), func() {
		if _, err := b.Framework.RetryAll(ctx); err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Scheduled mutation retry failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("mutation retry job: %w", err)
	}
	if _, err := c.AddFunc("@daily", func() {
		if err := sw.CleanupImages(ctx); err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Receipt image cleanup failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("image cleanup job: %w", err)
	}
	return nil
}
