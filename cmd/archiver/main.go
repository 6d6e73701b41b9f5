// Package main is the entrypoint for the outcome archiver Lambda.
//
// EventBridge invokes this function on a daily schedule. Each invocation
// compresses delivery outcomes older than the retention window into archive
// rows and removes the originals, keeping the hot audit table bounded.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jackc/pgx/v5/pgxpool"

	"pushpipe/internal/archive"
	"pushpipe/internal/config"
	"pushpipe/internal/db"
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

type handler struct {
	archiver *archive.Archiver
	logger   types.Logger
}

// scheduledEvent is the (ignored) EventBridge schedule payload.
type scheduledEvent struct{}

func (h *handler) handle(ctx context.Context, _ scheduledEvent) (archive.Result, error) {
	result, err := h.archiver.Run(ctx)
	if err != nil {
		h.logger.Error("archival run failed",
			"error", err.Error(),
			"archived_so_far", result.Archived,
		)
		return result, err
	}

	h.logger.Info("archival run completed",
		"archived", result.Archived,
		"batches", result.Batches,
		"compressed_bytes", result.BytesWritten,
	)
	return result, nil
}

func main() {
	logger := &slogAdapter{logger: slog.New(slog.NewJSONHandler(os.Stdout, nil))}

	h, err := initHandler(context.Background(), logger)
	if err != nil {
		logger.Error("archiver init failed", "error", err.Error())
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

	outcomes := db.NewOutcomeRepository(pool)
	archiver := archive.NewArchiver(outcomes, cfg.Archive.Retention, cfg.Archive.BatchSize, types.RealClock{}, logger)

	return &handler{archiver: archiver, logger: logger}, nil
}
