package autosave

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skyinv/Seedream-MCP/internal/errors"
)

// SaveBatch saves all items with at most MaxConcurrent saves in flight.
// The returned slice is index-aligned with items. Individual failures never affect
// their siblings, and the call itself never fails.
func (m *Manager) SaveBatch(ctx context.Context, items []Item, toolName string) []Result {
	results := make([]Result, len(items))
	if len(items) == 0 {
		return results
	}

	batchID := m.newBatchID()
	logger := m.logger.With(zap.String("batch_id", batchID), zap.String("tool", toolName))
	logger.Info("batch save started", zap.Int("items", len(items)), zap.Int("max_concurrent", m.maxConcurrent))
	m.metrics.batchesTotal.Inc()

	var g errgroup.Group
	g.SetLimit(m.maxConcurrent)

	for i, item := range items {
		g.Go(func() error {
			m.metrics.inflight.Inc()
			defer m.metrics.inflight.Dec()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("batch item panicked", zap.Int("index", i), zap.Any("panic", r))
					results[i] = failure(item.Ref(), errors.NewUnknown(fmt.Errorf("panic: %v", r)))
				}
				stamp(&results[i], item, toolName, batchID)
			}()

			results[i] = m.Save(ctx, item, toolName)
			return nil
		})
	}
	_ = g.Wait()

	succeeded, failed := Tally(results)
	logger.Info("batch save complete",
		zap.Int("total", len(results)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed))

	return results
}

// stamp records the batch ID on r, creating failure metadata when needed.
func stamp(r *Result, item Item, toolName, batchID string) {
	if r.Metadata == nil {
		r.Metadata = &Metadata{Prompt: item.Prompt, ToolName: toolName}
	}
	r.Metadata.BatchID = batchID
}

func newULID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
