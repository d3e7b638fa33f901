package scoringqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	scoringservice "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/application"
	"github.com/riverqueue/river"
)

// Reconciler is the part of the scoring service the reconcile worker needs.
type Reconciler interface {
	RepairAll(ctx context.Context, sink scoringservice.ProgressSink) (*scoringservice.RepairSummary, error)
}

// ReconcileWorker runs a full audit-and-repair pass.
type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileScoresArgs]
	logger     *slog.Logger
	reconciler Reconciler
	timeout    time.Duration
}

// NewReconcileWorker creates the worker for reconcile_scores jobs.
func NewReconcileWorker(logger *slog.Logger, reconciler Reconciler, timeout time.Duration) *ReconcileWorker {
	return &ReconcileWorker{
		logger:     logger,
		reconciler: reconciler,
		timeout:    timeout,
	}
}

// Timeout bounds one reconcile pass. Zero falls back to River's default.
func (w *ReconcileWorker) Timeout(*river.Job[ReconcileScoresArgs]) time.Duration {
	return w.timeout
}

// Work executes the reconcile job.
func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[ReconcileScoresArgs]) error {
	ctxLogger := w.logger.With(
		attr.Int64("job_id", job.ID),
		attr.String("reason", job.Args.Reason),
		attr.Int("attempt", job.Attempt),
	)

	ctxLogger.Info("Processing reconcile job")

	summary, err := w.reconciler.RepairAll(ctx, LoggingSink(ctxLogger))
	if err != nil {
		if summary != nil {
			ctxLogger.Warn("Reconcile pass stopped early",
				attr.Int("fixed_count", summary.FixedCount),
				attr.Int("discrepancies", summary.Discrepancies),
				attr.Error(err))
		} else {
			ctxLogger.Error("Reconcile pass failed", attr.Error(err))
		}
		return fmt.Errorf("reconcile scores: %w", err)
	}

	ctxLogger.Info("Reconcile job completed",
		attr.Int("discrepancies", summary.Discrepancies),
		attr.Int("fixed_count", summary.FixedCount),
		attr.Int("error_count", summary.ErrorCount))

	// Per-participant failures are left for the next pass instead of retrying the whole job.
	return nil
}

// LoggingSink reports repair progress at debug level and failures at warn level.
func LoggingSink(logger *slog.Logger) scoringservice.ProgressSink {
	lastErrors := 0
	return scoringservice.ProgressFunc(func(ctx context.Context, p scoringservice.RepairProgress) {
		if p.ErrorCount > lastErrors {
			lastErrors = p.ErrorCount
			logger.WarnContext(ctx, "Participant repair failed",
				attr.String("participant_id", p.CurrentParticipant.String()),
				attr.Int("current", p.Current),
				attr.Int("total", p.Total))
			return
		}
		logger.DebugContext(ctx, "Repair progress",
			attr.String("participant_id", p.CurrentParticipant.String()),
			attr.Int("current", p.Current),
			attr.Int("total", p.Total),
			attr.Int("fixed_count", p.FixedCount))
	})
}
