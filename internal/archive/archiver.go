// Package archive compacts aged delivery outcomes into compressed blobs so
// the hot delivery_outcomes table stays small while the audit trail remains
// queryable offline.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"pushpipe/internal/types"
)

// OutcomeSource is the slice of the outcome store the archiver needs.
type OutcomeSource interface {
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.DeliveryOutcome, error)
	StoreArchive(ctx context.Context, archivedBefore time.Time, count int, body []byte) error
	DeleteByIDs(ctx context.Context, ids []string) error
}

// Result reports one archival run.
type Result struct {
	Archived      int       `json:"archived"`
	Batches       int       `json:"batches"`
	Cutoff        time.Time `json:"cutoff"`
	BytesWritten  int       `json:"bytes_written"`
	BytesOriginal int       `json:"bytes_original"`
}

// Archiver moves outcomes older than the retention window into
// zstd-compressed JSONL archive rows, then deletes the originals. Each batch
// is archived before its rows are deleted, so a failure mid-run never loses
// data; re-running after a partial failure archives the remainder.
type Archiver struct {
	outcomes  OutcomeSource
	retention time.Duration
	batchSize int
	clock     types.Clock
	logger    types.Logger
}

// NewArchiver creates an archiver with the given retention window and
// per-batch row limit.
func NewArchiver(outcomes OutcomeSource, retention time.Duration, batchSize int, clock types.Clock, logger types.Logger) *Archiver {
	return &Archiver{
		outcomes:  outcomes,
		retention: retention,
		batchSize: batchSize,
		clock:     clock,
		logger:    logger,
	}
}

// Run archives all outcomes recorded before now minus the retention window.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	cutoff := a.clock.Now().Add(-a.retention)
	result := Result{Cutoff: cutoff}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcomes, err := a.outcomes.ListBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return result, fmt.Errorf("list archivable outcomes: %w", err)
		}
		if len(outcomes) == 0 {
			break
		}

		compressed, original, err := encodeBatch(outcomes)
		if err != nil {
			return result, fmt.Errorf("encode archive batch: %w", err)
		}

		if err := a.outcomes.StoreArchive(ctx, cutoff, len(outcomes), compressed); err != nil {
			return result, fmt.Errorf("store archive batch: %w", err)
		}

		ids := make([]string, len(outcomes))
		for i, o := range outcomes {
			ids[i] = o.ID
		}
		if err := a.outcomes.DeleteByIDs(ctx, ids); err != nil {
			return result, fmt.Errorf("delete archived outcomes: %w", err)
		}

		result.Archived += len(outcomes)
		result.Batches++
		result.BytesWritten += len(compressed)
		result.BytesOriginal += original

		a.logger.Info("archived outcome batch",
			"count", len(outcomes),
			"compressed_bytes", len(compressed),
			"original_bytes", original,
		)

		if len(outcomes) < a.batchSize {
			break
		}
	}

	return result, nil
}

// encodeBatch serializes outcomes as JSON lines and compresses the stream
// with zstd. Returns the compressed body and the uncompressed size.
func encodeBatch(outcomes []*types.DeliveryOutcome) ([]byte, int, error) {
	var raw bytes.Buffer
	enc := json.NewEncoder(&raw)
	for _, o := range outcomes {
		if err := enc.Encode(o); err != nil {
			return nil, 0, fmt.Errorf("encode outcome %s: %w", o.ID, err)
		}
	}

	var out bytes.Buffer
	zw, err := zstd.NewWriter(&out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, 0, fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := zw.Write(raw.Bytes()); err != nil {
		zw.Close()
		return nil, 0, fmt.Errorf("compress archive body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, 0, fmt.Errorf("finalize zstd stream: %w", err)
	}

	return out.Bytes(), raw.Len(), nil
}

// DecodeBatch decompresses an archive body back into outcomes. Used by
// offline tooling and tests.
func DecodeBatch(body []byte) ([]types.DeliveryOutcome, error) {
	zr, err := zstd.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var outcomes []types.DeliveryOutcome
	dec := json.NewDecoder(zr)
	for dec.More() {
		var o types.DeliveryOutcome
		if err := dec.Decode(&o); err != nil {
			return nil, fmt.Errorf("decode archived outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}
