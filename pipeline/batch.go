package pipeline

import (
	"context"

	"go.uber.org/zap"
)

// BatchFailure records one failed batch: its position, the identifiers of
// the items it contained, and the error the operation returned.
type BatchFailure struct {
	Index   int
	ItemIDs []string
	Err     error
}

// ProcessBatches splits items into consecutive batches of at most
// batchSize (order preserved, last batch may be shorter), acquires one
// limiter token per batch, and invokes op on each. A failing batch is
// recorded and skipped rather than aborting the run; the returned results
// are the concatenation of all successful batches, in input order.
//
// The caller decides what a total failure means: if every batch failed,
// results is empty and failures covers all of them.
func ProcessBatches[T, R any](
	ctx context.Context,
	items []T,
	batchSize int,
	limiter *Limiter,
	id func(T) string,
	op func(ctx context.Context, batch []T) ([]R, error),
	log *zap.Logger,
) ([]R, []BatchFailure, error) {
	if batchSize <= 0 {
		return nil, nil, Errorf(KindConfig, "batch size must be positive, got %d", batchSize)
	}

	total := (len(items) + batchSize - 1) / batchSize
	var results []R
	var failures []BatchFailure

	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[i:end]
		num := i / batchSize

		if err := limiter.Acquire(ctx, 1); err != nil {
			// Config errors and cancellation cannot be degraded around.
			return results, failures, err
		}

		log.Info("processing batch",
			zap.Int("batch", num+1),
			zap.Int("total", total),
			zap.Int("items", len(batch)))

		batchResults, err := op(ctx, batch)
		if err != nil {
			ids := make([]string, len(batch))
			for j, item := range batch {
				ids[j] = id(item)
			}
			failures = append(failures, BatchFailure{Index: num, ItemIDs: ids, Err: err})
			log.Error("batch failed, continuing with remaining batches",
				zap.Int("batch", num+1),
				zap.Int("total", total),
				zap.Strings("item_ids", ids),
				zap.Error(err))
			continue
		}
		results = append(results, batchResults...)
	}

	return results, failures, nil
}

// FailedItemIDs flattens the item identifiers out of a failure list.
func FailedItemIDs(failures []BatchFailure) []string {
	var ids []string
	for _, f := range failures {
		ids = append(ids, f.ItemIDs...)
	}
	return ids
}
