package sandbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// GatedRunner bounds the number of analyzer processes alive at once.
// Waiting for a slot does not count against the process timeout.
type GatedRunner struct {
	logger *zap.Logger
	next   ProcessRunner
	sem    *semaphore.Weighted
}

// NewGatedRunner wraps next with an admission gate of size slots
func NewGatedRunner(logger *zap.Logger, next ProcessRunner, slots int) *GatedRunner {
	return &GatedRunner{
		logger: logger,
		next:   next,
		sem:    semaphore.NewWeighted(int64(slots)),
	}
}

// Run waits for a free slot, honoring ctx, then delegates
func (g *GatedRunner) Run(ctx context.Context, spec ProcessSpec) (RawResult, error) {
	if !g.sem.TryAcquire(1) {
		g.logger.Debug("waiting for execution slot")
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return RawResult{}, fmt.Errorf("waiting for execution slot: %w", err)
		}
	}
	defer g.sem.Release(1)

	return g.next.Run(ctx, spec)
}
