// Package main is the entry point for the pushpipe dispatch service.
//
// It loads configuration, connects the Postgres pool and AWS clients, builds
// the delivery pipeline, and serves the dispatch API (manual trigger plus
// health) over HTTP. Graceful shutdown is handled via SIGINT and SIGTERM.
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"pushpipe/internal/config"
	"pushpipe/internal/core"
	"pushpipe/internal/db"
	"pushpipe/internal/pipeline"
	"pushpipe/internal/push"
	"pushpipe/internal/tasks"
	"pushpipe/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	slogger := newLogger(cfg.LogLevel)
	logger := &slogAdapter{logger: slogger}
	logger.Info("dispatcher starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	runner, err := buildRunner(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}

	srv, err := core.NewServer(cfg, runner, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Probes = []core.HealthProbe{&poolProbe{pool: pool}}
	srv.MountRoutes()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err.Error())
	}

	logger.Info("dispatcher stopped cleanly")
	return nil
}

// buildRunner wires the delivery pipeline from configuration: repositories
// over the pool, the push gateway client, CloudWatch metrics, and the
// optional SQS task trigger.
func buildRunner(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger types.Logger) (*pipeline.Runner, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	loc, err := cfg.Pipeline.Location()
	if err != nil {
		return nil, fmt.Errorf("resolving pipeline timezone: %w", err)
	}

	jobs := db.NewJobRepository(pool)
	recipients := db.NewRecipientRepository(pool)
	outcomes := db.NewOutcomeRepository(pool)

	clock := types.RealClock{}
	gateway := push.NewClient(cfg.Gateway, logger)

	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	metrics := pipeline.NewCloudWatchMetrics(cwClient, cfg.AWS.MetricNamespace, logger)

	var submitter pipeline.TaskSubmitter
	if cfg.AWS.TasksQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		submitter = tasks.NewTrigger(sqsClient, cfg.AWS.TasksQueueURL, clock, logger)
	}

	resolver := pipeline.NewResolver(recipients, logger)
	filter := pipeline.NewPreferenceFilter(clock, loc, logger)
	fanout := pipeline.NewFanout(gateway, recipients, outcomes, metrics, clock, logger, cfg.Pipeline.FanoutConcurrency)

	return pipeline.NewRunner(jobs, resolver, filter, fanout, submitter, metrics, clock, logger, cfg.Pipeline.BatchSize), nil
}

// newPool builds the pgx connection pool with the configured limits.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// poolProbe reports database readiness for the health endpoint.
type poolProbe struct {
	pool *pgxpool.Pool
}

func (p *poolProbe) Name() string                    { return "database" }
func (p *poolProbe) Check(ctx context.Context) error { return p.pool.Ping(ctx) }

// newLogger creates a structured slog.Logger for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog satisfies Info, Warn, and Error directly but With returns
// *slog.Logger, so an adapter is needed.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}
