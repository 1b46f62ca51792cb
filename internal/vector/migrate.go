package vector

import (
	"context"
	"fmt"

	"github.com/auditgraph/auditgraph-backend/internal/pkg/ctxutil"
	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
)

// MigrationResult summarizes a one-time backend copy.
type MigrationResult struct {
	Source           string `json:"source"`
	Destination      string `json:"destination"`
	Migrated         int    `json:"migrated"`
	Batches          int    `json:"batches"`
	SourceCount      int    `json:"source_count"`
	DestinationCount int    `json:"destination_count"`
	CountVerified    bool   `json:"count_verified"`
}

// Migrate copies every chunk from src to dst: scroll the source fully into
// memory, upsert in fixed-size batches, then verify total counts. A count
// mismatch is logged as a warning, not a failure — verification is
// best-effort by design of the boundary.
func Migrate(ctx context.Context, log *logger.Logger, src, dst Store, batchSize int) (MigrationResult, error) {
	res := MigrationResult{Source: src.Name(), Destination: dst.Name()}
	if log == nil {
		return res, fmt.Errorf("logger required")
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	ctx = ctxutil.Default(ctx)
	mLog := log.With("service", "VectorMigration", "source", src.Name(), "destination", dst.Name())

	var all []Document
	if err := src.ScrollAll(ctx, batchSize, func(batch []Document) error {
		all = append(all, batch...)
		return nil
	}); err != nil {
		return res, fmt.Errorf("scroll source: %w", err)
	}

	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		if err := dst.UpsertDocuments(ctx, all[start:end]); err != nil {
			return res, fmt.Errorf("upsert batch %d: %w", res.Batches, err)
		}
		res.Batches++
		res.Migrated += end - start
	}

	srcCount, srcErr := src.CountByFilter(ctx, nil)
	dstCount, dstErr := dst.CountByFilter(ctx, nil)
	if srcErr != nil || dstErr != nil {
		mLog.Warn("migration count verification unavailable", "source_err", srcErr, "destination_err", dstErr)
		return res, nil
	}
	res.SourceCount = srcCount
	res.DestinationCount = dstCount
	res.CountVerified = srcCount == dstCount
	if !res.CountVerified {
		mLog.Warn("migration count mismatch",
			"source_count", srcCount,
			"destination_count", dstCount,
			"migrated", res.Migrated,
		)
	} else {
		mLog.Info("migration complete", "migrated", res.Migrated, "batches", res.Batches)
	}
	return res, nil
}
