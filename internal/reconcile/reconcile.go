package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-verify/internal/metrics"
	"github.com/example/face-verify/internal/record"
)

const defaultBatchSize = 100

// Store defines the record operations the reconciler needs.
type Store interface {
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*record.VerificationRecord, error)
	Resolve(ctx context.Context, id string, outcome record.Outcome) (*record.VerificationRecord, error)
}

// Reconciler closes records left pending past the comparator deadline plus a
// grace margin. The orchestrator normally resolves every record itself; this
// pass only catches records orphaned by a crash mid-pipeline.
type Reconciler struct {
	store      Store
	lock       Locker
	sink       metrics.Sink
	logger     *zap.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
}

// NewReconciler builds a reconciler. staleAfter should be the configured
// face-match timeout plus the grace margin.
func NewReconciler(store Store, lock Locker, sink metrics.Sink, interval, staleAfter time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		lock:       lock,
		sink:       sink,
		logger:     logger.Named("reconcile"),
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  defaultBatchSize,
	}
}

// Run executes reconciliation passes until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single pass. It is a no-op when another replica holds
// the lock.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	acquired, err := r.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		r.logger.Debug("reconciliation lock held elsewhere, skipping pass")
		return nil
	}
	defer func() {
		if err := r.lock.Release(ctx); err != nil {
			r.logger.Warn("failed to release reconciliation lock", zap.Error(err))
		}
	}()

	cutoff := time.Now().UTC().Add(-r.staleAfter)
	stale, err := r.store.FindStalePending(ctx, cutoff, r.batchSize)
	if err != nil {
		return err
	}

	for _, rec := range stale {
		_, err := r.store.Resolve(ctx, rec.ID, record.TimedOutOutcome("closed by reconciliation"))
		if err != nil {
			// A racing orchestrator may have finished first; that is the
			// outcome we wanted.
			if errors.Is(err, record.ErrConflict) {
				continue
			}
			r.logger.Error("failed to close stale record", zap.String("record_id", rec.ID), zap.Error(err))
			continue
		}
		r.sink.Inc("reconcile.closed")
		r.logger.Info("closed stale pending record",
			zap.String("record_id", rec.ID), zap.Time("created_at", rec.CreatedAt))
	}
	return nil
}
