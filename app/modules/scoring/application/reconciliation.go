package scoringservice

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	"github.com/Black-And-White-Club/frolf-bot-shared/utils/results"
	scoringevents "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain/events"
	scoringdb "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/repositories"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

// AuditAll compares every live participant's stored total with a fresh sum of its log. Only
// mismatches are reported, largest absolute delta first. The cache is never consulted.
func (s *ScoringService) AuditAll(ctx context.Context) (*AuditReport, error) {
	result, err := withTelemetry(s, ctx, "AuditAll", "all", func(ctx context.Context) (results.OperationResult[*AuditReport, error], error) {
		report, _, err := s.audit(ctx)
		if err != nil {
			return results.OperationResult[*AuditReport, error]{}, err
		}
		return results.SuccessResult[*AuditReport, error](report), nil
	})
	return unwrap(result, err)
}

// audit returns the report plus each participant's position in creation order.
func (s *ScoringService) audit(ctx context.Context) (*AuditReport, map[uuid.UUID]int, error) {
	participants, err := s.repo.ListParticipants(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list participants: %w", err)
	}
	live := liveParticipants(participants)

	scores := make([]int, len(live))
	errs := make([]error, len(live))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range live {
		g.Go(func() error {
			scores[i], errs[i] = s.trueScore(gctx, live[i].ID, false)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	report := &AuditReport{
		Audited:       len(live),
		Discrepancies: []Discrepancy{},
		Errors:        []ParticipantFailure{},
	}
	order := make(map[uuid.UUID]int, len(live))
	for i := range live {
		p := &live[i]
		order[p.ID] = i
		if errs[i] != nil {
			s.logger.WarnContext(ctx, "Failed to audit participant",
				attr.ExtractCorrelationID(ctx),
				attr.String("participant_id", p.ID.String()),
				attr.Error(errs[i]),
			)
			report.Errors = append(report.Errors, ParticipantFailure{ParticipantID: p.ID, Reason: errs[i].Error()})
			continue
		}
		if delta := scores[i] - p.StoredTotal; delta != 0 {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				ParticipantID: p.ID,
				Name:          p.Name,
				StoredTotal:   p.StoredTotal,
				TrueScore:     scores[i],
				Delta:         delta,
			})
		}
	}

	slices.SortStableFunc(report.Discrepancies, func(a, b Discrepancy) int {
		return cmp.Compare(abs(b.Delta), abs(a.Delta))
	})

	if s.metrics != nil {
		s.metrics.RecordDrift(ctx, len(report.Discrepancies))
	}
	if len(report.Discrepancies) > 0 {
		s.logger.WarnContext(ctx, "Score drift detected",
			attr.ExtractCorrelationID(ctx),
			attr.Int("discrepancies", len(report.Discrepancies)),
			attr.Int("audited", report.Audited),
		)
	}

	return report, order, nil
}

// RepairOne overwrites the stored total with a fresh sum of the log and records the repair.
// Repairing a participant that is already in sync only rewrites the metadata.
func (s *ScoringService) RepairOne(ctx context.Context, participantID uuid.UUID) (*RepairResult, error) {
	result, err := withTelemetry(s, ctx, "RepairOne", participantID.String(), func(ctx context.Context) (results.OperationResult[*RepairResult, error], error) {
		return s.repair(ctx, participantID, RepairReasonDynamicFix)
	})
	return unwrap(result, err)
}

func (s *ScoringService) repair(ctx context.Context, participantID uuid.UUID, reason string) (results.OperationResult[*RepairResult, error], error) {
	result, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (results.OperationResult[*RepairResult, error], error) {
		return s.repairLogic(ctx, db, participantID, reason)
	})
	if err != nil || !result.IsSuccess() {
		return result, err
	}

	repaired := *result.Success
	s.cache.Invalidate(participantID)
	s.publish(ctx, scoringevents.ScoreRepairedV1, scoringevents.ScoreRepairedPayload{
		ParticipantID: participantID.String(),
		PreviousTotal: repaired.PreviousTotal,
		NewTotal:      repaired.NewTotal,
		Reason:        reason,
		RepairedAt:    repaired.RepairedAt,
	})
	return result, nil
}

func (s *ScoringService) repairLogic(ctx context.Context, db bun.IDB, participantID uuid.UUID, reason string) (results.OperationResult[*RepairResult, error], error) {
	p, err := s.repo.LockParticipant(ctx, db, participantID)
	if err != nil {
		if errors.Is(err, scoringdb.ErrParticipantNotFound) {
			return results.FailureResult[*RepairResult, error](err), nil
		}
		return results.OperationResult[*RepairResult, error]{}, fmt.Errorf("failed to lock participant: %w", err)
	}
	if p.IsDeleted {
		return results.FailureResult[*RepairResult, error](ErrParticipantDeleted), nil
	}

	records, err := s.repo.ListActivities(ctx, db, participantID)
	if err != nil {
		return results.OperationResult[*RepairResult, error]{}, fmt.Errorf("failed to list activities: %w", err)
	}
	newTotal := sumPoints(records)
	now := s.now().UTC()

	meta := scoringdb.RepairMetadata{
		PreviousTotal:  p.StoredTotal,
		Reason:         reason,
		RecalculatedAt: now,
		CompletedTasks: completedOneTime(records),
	}
	if err := s.repo.WriteAggregateTotal(ctx, db, participantID, newTotal, meta); err != nil {
		return results.OperationResult[*RepairResult, error]{}, fmt.Errorf("failed to write aggregate: %w", err)
	}
	if err := s.repo.InsertRepairAnnotation(ctx, db, &scoringdb.RepairAnnotation{
		ParticipantID: participantID,
		PreviousTotal: p.StoredTotal,
		NewTotal:      newTotal,
		Reason:        reason,
		RepairedAt:    now,
	}); err != nil {
		return results.OperationResult[*RepairResult, error]{}, fmt.Errorf("failed to annotate repair: %w", err)
	}

	if p.StoredTotal != newTotal {
		s.logger.InfoContext(ctx, "Stored total repaired",
			attr.ExtractCorrelationID(ctx),
			attr.String("participant_id", participantID.String()),
			attr.Int("previous_total", p.StoredTotal),
			attr.Int("new_total", newTotal),
			attr.String("reason", reason),
		)
	}

	return results.SuccessResult[*RepairResult, error](&RepairResult{
		ParticipantID: participantID,
		PreviousTotal: p.StoredTotal,
		NewTotal:      newTotal,
		RepairedAt:    now,
	}), nil
}

// RepairAll audits, then repairs each discrepancy one participant at a time in creation order.
// A failing repair is recorded and the batch continues. sink, when non-nil, is called after every
// attempt. Cancelling ctx stops the batch between participants; the partial summary is returned
// together with the context error.
func (s *ScoringService) RepairAll(ctx context.Context, sink ProgressSink) (*RepairSummary, error) {
	result, err := withTelemetry(s, ctx, "RepairAll", "all", func(ctx context.Context) (results.OperationResult[*RepairSummary, error], error) {
		return s.repairAll(ctx, sink)
	})
	summary, err := unwrap(result, err)
	if err == nil && summary.Interrupted {
		return summary, ctx.Err()
	}
	return summary, err
}

func (s *ScoringService) repairAll(ctx context.Context, sink ProgressSink) (results.OperationResult[*RepairSummary, error], error) {
	report, order, err := s.audit(ctx)
	if err != nil {
		return results.OperationResult[*RepairSummary, error]{}, err
	}

	summary := &RepairSummary{
		Discrepancies: len(report.Discrepancies),
		ErrorCount:    len(report.Errors),
		Errors:        slices.Clone(report.Errors),
	}

	pending := slices.Clone(report.Discrepancies)
	slices.SortFunc(pending, func(a, b Discrepancy) int {
		return cmp.Compare(order[a.ParticipantID], order[b.ParticipantID])
	})

	repairErrors := 0
	for i, d := range pending {
		if ctx.Err() != nil {
			summary.Interrupted = true
			s.logger.WarnContext(ctx, "Repair interrupted",
				attr.ExtractCorrelationID(ctx),
				attr.Int("completed", i),
				attr.Int("total", len(pending)),
			)
			break
		}

		if _, err := unwrap(s.repair(ctx, d.ParticipantID, RepairReasonDynamicFix)); err != nil {
			repairErrors++
			summary.ErrorCount++
			summary.Errors = append(summary.Errors, ParticipantFailure{ParticipantID: d.ParticipantID, Reason: err.Error()})
			s.logger.ErrorContext(ctx, "Failed to repair participant",
				attr.ExtractCorrelationID(ctx),
				attr.String("participant_id", d.ParticipantID.String()),
				attr.Error(err),
			)
		} else {
			summary.FixedCount++
		}

		if sink != nil {
			sink.Report(ctx, RepairProgress{
				Current:            i + 1,
				Total:              len(pending),
				CurrentParticipant: d.ParticipantID,
				CurrentName:        d.Name,
				FixedCount:         summary.FixedCount,
				ErrorCount:         summary.ErrorCount,
			})
		}
	}

	if summary.Errors == nil {
		summary.Errors = []ParticipantFailure{}
	}
	if s.metrics != nil {
		s.metrics.RecordRepairs(ctx, summary.FixedCount, repairErrors)
	}

	return results.SuccessResult[*RepairSummary, error](summary), nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
