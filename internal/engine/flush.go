package engine

import (
	"context"
	"fmt"
	"time"
)

// Flush writes the store through the backend if anything changed. On failure
// the store stays dirty and the next call retries.
func (e *Engine) Flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	if !e.Store.Dirty() {
		return nil
	}

	records, gen := e.Store.SnapshotForFlush()
	start := time.Now()
	err := e.backend.Save(ctx, records)
	e.metrics.Flush(err == nil, time.Since(start))
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	e.Store.ClearDirty(gen)
	e.log.V(1).Info("state saved", "programs", len(records))
	return nil
}
