package command

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/nurkids/nur-learning-hub/internal/domain/reconcile"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
)

// ReconcileBatchCommand merges several snapshots concurrently.
type ReconcileBatchCommand struct {
	Snapshots     []reconcile.Snapshot
	CorrelationID string
}

// ReconcileBatchResult contains per-snapshot outcomes, in input order.
type ReconcileBatchResult struct {
	Results []*ReconcileSnapshotResult

	// Failures maps the input index to its error.
	Failures map[int]error
}

// Succeeded returns the number of snapshots merged without error.
func (r *ReconcileBatchResult) Succeeded() int {
	return len(r.Results) - len(r.Failures)
}

// ReconcileBatchHandler runs ReconcileSnapshotHandler over a batch. Snapshots
// of different records proceed in parallel; the key locks serialize the rest.
type ReconcileBatchHandler struct {
	single      *ReconcileSnapshotHandler
	concurrency int
	log         *logger.Logger
}

// NewReconcileBatchHandler creates a new ReconcileBatchHandler.
func NewReconcileBatchHandler(single *ReconcileSnapshotHandler, concurrency int, log *logger.Logger) *ReconcileBatchHandler {
	if concurrency <= 0 {
		concurrency = 4
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReconcileBatchHandler{
		single:      single,
		concurrency: concurrency,
		log:         log.With(logger.Component("reconcile_batch")),
	}
}

// Handle executes the batch. A failed snapshot does not stop the others;
// the returned error is only set when ctx is cancelled.
func (h *ReconcileBatchHandler) Handle(ctx context.Context, cmd ReconcileBatchCommand) (result *ReconcileBatchResult, err error) {
	ctx, span := startSpan(ctx, "ReconcileBatch", attribute.Int("batch.size", len(cmd.Snapshots)))
	defer func() { finishSpan(span, err) }()

	result = &ReconcileBatchResult{
		Results:  make([]*ReconcileSnapshotResult, len(cmd.Snapshots)),
		Failures: make(map[int]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)

	for i, snap := range cmd.Snapshots {
		g.Go(func() error {
			res, err := h.single.Handle(gctx, ReconcileSnapshotCommand{
				Snapshot:      snap,
				CorrelationID: cmd.CorrelationID,
			})
			if err != nil {
				mu.Lock()
				result.Failures[i] = err
				mu.Unlock()
				h.log.Error("snapshot reconcile failed",
					logger.LearnerID(snap.LearnerID),
					logger.String("device_id", snap.DeviceID),
					logger.Err(err),
				)
				return nil
			}
			result.Results[i] = res
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return result, err
	}

	h.log.Info("snapshot batch reconciled",
		logger.Int("total", len(cmd.Snapshots)),
		logger.Int("failed", len(result.Failures)),
	)
	return result, nil
}
