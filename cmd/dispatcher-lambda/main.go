// Package main is the entrypoint for the scheduled dispatcher Lambda.
//
// EventBridge invokes this function on a fixed schedule. Each invocation
// claims one batch of due notification jobs and drives them through the
// delivery pipeline, returning the batch summary as the invocation result.
//
// Cold start wires the Postgres pool, push gateway client, CloudWatch
// metrics, and the optional SQS task trigger; the warm handler only runs the
// pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"pushpipe/internal/config"
	"pushpipe/internal/db"
	"pushpipe/internal/pipeline"
	"pushpipe/internal/push"
	"pushpipe/internal/tasks"
	"pushpipe/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// handler holds the warm-start pipeline state.
type handler struct {
	runner *pipeline.Runner
	logger types.Logger
}

// scheduledEvent is the (ignored) EventBridge schedule payload.
type scheduledEvent struct{}

func (h *handler) handle(ctx context.Context, _ scheduledEvent) (*pipeline.BatchSummary, error) {
	summary, err := h.runner.Run(ctx, 0)
	if err != nil {
		h.logger.Error("scheduled dispatch failed", "error", err.Error())
		return nil, err
	}
	return summary, nil
}

func main() {
	logger := &slogAdapter{logger: slog.New(slog.NewJSONHandler(os.Stdout, nil))}

	h, err := initHandler(context.Background(), logger)
	if err != nil {
		logger.Error("dispatcher lambda init failed", "error", err.Error())
		os.Exit(1)
	}

	lambda.Start(h.handle)
}

func initHandler(ctx context.Context, logger types.Logger) (*handler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	loc, err := cfg.Pipeline.Location()
	if err != nil {
		return nil, fmt.Errorf("resolving pipeline timezone: %w", err)
	}

	clock := types.RealClock{}
	jobs := db.NewJobRepository(pool)
	recipients := db.NewRecipientRepository(pool)
	outcomes := db.NewOutcomeRepository(pool)
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
	runner := pipeline.NewRunner(jobs, resolver, filter, fanout, submitter, metrics, clock, logger, cfg.Pipeline.BatchSize)

	return &handler{runner: runner, logger: logger}, nil
}
