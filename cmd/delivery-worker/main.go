// Package main is the entrypoint for the OrderPulse delivery worker.
//
// The worker runs one delivery cycle per activation: it opens a push stream
// to the order backend, polls the pending-orders endpoint as a fallback,
// deduplicates everything against the durable watermark, presents batched
// notifications, and advances the watermark once the batch lands.
//
// Two run modes share the same wiring:
//   - lambda: one cycle per invocation, cadence owned by an EventBridge rule.
//   - daemon: an in-process loop runs cycles and an ops HTTP server exposes
//     health and watermark introspection.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"orderpulse/internal/config"
	"orderpulse/internal/core"
	"orderpulse/internal/delivery"
	"orderpulse/internal/external"
	"orderpulse/internal/metrics"
	"orderpulse/internal/notify"
	"orderpulse/internal/poll"
	"orderpulse/internal/push"
	"orderpulse/internal/scheduler"
	"orderpulse/internal/types"
	"orderpulse/internal/watermark"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	logger.Info("delivery worker initializing (cold start)")

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Rebuild the logger now that the configured level is known.
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})).With("service", cfg.Service, "env", cfg.Environment)
	slog.SetDefault(logger)

	ctx := context.Background()

	// Watermark store: Postgres when a database is configured, local file
	// otherwise.
	var store watermark.Store
	var pool *pgxpool.Pool
	if dbURL := cfg.Database.URL.Unmask(); dbURL != "" {
		pool, err = newPool(ctx, cfg, dbURL)
		if err != nil {
			logger.Error("failed to connect watermark database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = watermark.NewPostgresStore(pool)
	} else {
		logger.Info("no database configured, using file watermark store",
			"path", cfg.Database.StatePath,
		)
		store = watermark.NewFileStore(cfg.Database.StatePath)
	}

	// Presenter and metrics ride on AWS when configured; local runs degrade
	// to log output and no-op metrics.
	var presenter notify.Presenter = notify.NewLogPresenter(logger)
	var cycleMetrics metrics.CycleMetrics = metrics.NoopMetrics{}
	if cfg.AWS.PresentationQueue != "" || cfg.Environment != "local" {
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if awsErr != nil {
			logger.Error("failed to load AWS SDK config", "error", awsErr)
			os.Exit(1)
		}
		if cfg.AWS.PresentationQueue != "" {
			sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			presenter = notify.NewQueuePresenter(sqsClient, cfg.AWS.PresentationQueue, logger)
		}
		if cfg.Environment != "local" {
			cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			cycleMetrics = metrics.NewCloudWatchCycleMetrics(cwClient, cfg.AWS.MetricNamespace, logger)
		}
	}

	// Backend clients share the resilient HTTP base.
	baseClient := external.NewBaseClient(
		&http.Client{Timeout: cfg.Backend.Timeout},
		"order-backend",
		external.DefaultRetryPolicy(),
		cfg.Backend.UserAgent,
		external.WithBearerToken(cfg.Backend.APIToken.Unmask()),
	)
	orderClient := external.NewOrderClient(baseClient, external.OrderClientConfig{
		BaseURL: cfg.Backend.BaseURL,
		Logger:  logger,
	})
	fetcher := poll.NewFetcher(poll.FetcherConfig{
		Source: orderClient,
		Logger: logger,
	})

	streamHeader := http.Header{}
	streamHeader.Set("User-Agent", cfg.Backend.UserAgent)
	if token := cfg.Backend.APIToken.Unmask(); token != "" {
		streamHeader.Set("Authorization", "Bearer "+token)
	}
	newStream := func() delivery.PushStream {
		return push.NewChannel(push.ChannelConfig{
			URL:    cfg.Backend.StreamURL,
			Header: streamHeader.Clone(),
			Logger: logger,
		})
	}

	batcher := notify.NewBatcher(notify.BatcherConfig{
		Presenter: presenter,
		Logger:    logger,
	})

	switch cfg.RunMode {
	case config.RunModeDaemon:
		runDaemon(cfg, logger, store, pool, newStream, fetcher, batcher, cycleMetrics)
	default:
		runLambda(cfg, logger, store, newStream, fetcher, batcher, cycleMetrics)
	}
}

// runLambda serves one delivery cycle per invocation. EventBridge owns the
// cadence, so the scheduler collaborator is a no-op.
func runLambda(
	cfg *config.Config,
	logger *slog.Logger,
	store watermark.Store,
	newStream func() delivery.PushStream,
	fetcher delivery.NoticeFetcher,
	batcher delivery.NoticeFlusher,
	cycleMetrics metrics.CycleMetrics,
) {
	coordinator := newCoordinator(cfg, logger, store, newStream, fetcher, batcher, cycleMetrics,
		scheduler.NewEventBridgeScheduler(logger))

	logger.Info("delivery worker initialized", "run_mode", config.RunModeLambda)

	lambda.Start(func(ctx context.Context) (string, error) {
		result, err := coordinator.RunCycle(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "delivery cycle failed",
				"cycle_id", result.CycleID,
				"error", err,
			)
			return "", fmt.Errorf("delivery cycle failed: %w", err)
		}
		return fmt.Sprintf("cycle complete: %d notices delivered, watermark %d",
			result.NoticesDelivered, result.NewWatermark), nil
	})
}

// runDaemon runs the in-process cycle loop alongside the ops HTTP server
// until SIGINT or SIGTERM.
func runDaemon(
	cfg *config.Config,
	logger *slog.Logger,
	store watermark.Store,
	pool *pgxpool.Pool,
	newStream func() delivery.PushStream,
	fetcher delivery.NoticeFetcher,
	batcher delivery.NoticeFlusher,
	cycleMetrics metrics.CycleMetrics,
) {
	var coordinator *delivery.Coordinator
	loop := scheduler.NewLoopScheduler(scheduler.LoopSchedulerConfig{
		Runner: scheduler.RunnerFunc(func(ctx context.Context) (types.CycleResult, error) {
			return coordinator.RunCycle(ctx)
		}),
		Interval: cfg.Cycle.LoopInterval,
		Logger:   logger,
	})
	coordinator = newCoordinator(cfg, logger, store, newStream, fetcher, batcher, cycleMetrics, loop)

	probes := []core.HealthProbe{watermarkProbe(store, pool)}
	opsServer, err := core.NewServer(cfg, logger, store, probes...)
	if err != nil {
		logger.Error("failed to build ops server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      opsServer.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("delivery worker initialized", "run_mode", config.RunModeDaemon)

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	select {
	case err := <-serverErr:
		logger.Error("ops server failed", "error", err)
		stop()
		<-loopDone
	case err := <-loopDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("cycle loop stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", "error", err)
	}

	logger.Info("delivery worker stopped")
}

func newCoordinator(
	cfg *config.Config,
	logger *slog.Logger,
	store watermark.Store,
	newStream func() delivery.PushStream,
	fetcher delivery.NoticeFetcher,
	batcher delivery.NoticeFlusher,
	cycleMetrics metrics.CycleMetrics,
	sched scheduler.CycleScheduler,
) *delivery.Coordinator {
	return delivery.NewCoordinator(delivery.CoordinatorConfig{
		NewStream:             newStream,
		Fetcher:               fetcher,
		Flusher:               batcher,
		Store:                 store,
		Scheduler:             sched,
		Metrics:               cycleMetrics,
		Logger:                logger,
		CycleDeadline:         cfg.Cycle.Deadline,
		PollIntervalConnected: cfg.Cycle.PollIntervalConnected,
		PollIntervalDegraded:  cfg.Cycle.PollIntervalDegraded,
		DrainGrace:            cfg.Cycle.DrainGrace,
	})
}

// newPool builds the pgx pool with the configured tuning parameters and
// verifies connectivity before the first cycle runs.
func newPool(ctx context.Context, cfg *config.Config, dbURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = cfg.Database.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// watermarkProbe checks the watermark store. With Postgres it pings the pool;
// the file store is probed with a read.
func watermarkProbe(store watermark.Store, pool *pgxpool.Pool) core.HealthProbe {
	return core.ProbeFunc{
		ProbeName: "watermark_store",
		Fn: func(ctx context.Context) error {
			if pool != nil {
				return pool.Ping(ctx)
			}
			_, err := store.Read(ctx)
			return err
		},
	}
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
