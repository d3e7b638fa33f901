package scoringservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	"github.com/Black-And-White-Club/frolf-bot-shared/utils/results"
	scoringdomain "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain"
	scoringevents "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain/events"
	scoringdb "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/repositories"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// FindDuplicates groups live participants whose names normalize to the same identity. The oldest
// participant of each group is its survivor.
func (s *ScoringService) FindDuplicates(ctx context.Context) ([]DuplicateGroup, error) {
	result, err := withTelemetry(s, ctx, "FindDuplicates", "all", func(ctx context.Context) (results.OperationResult[[]DuplicateGroup, error], error) {
		groups, err := s.findDuplicates(ctx)
		if err != nil {
			return results.OperationResult[[]DuplicateGroup, error]{}, err
		}
		return results.SuccessResult[[]DuplicateGroup, error](groups), nil
	})
	return unwrap(result, err)
}

func (s *ScoringService) findDuplicates(ctx context.Context) ([]DuplicateGroup, error) {
	participants, err := s.repo.ListParticipants(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	// ListParticipants is ordered by creation, so the first member of a group is the oldest.
	var keys []string
	members := make(map[string][]*scoringdb.Participant)
	for i := range participants {
		p := &participants[i]
		if p.IsDeleted {
			continue
		}
		key := scoringdomain.NormalizeName(p.Name)
		if _, seen := members[key]; !seen {
			keys = append(keys, key)
		}
		members[key] = append(members[key], p)
	}

	groups := []DuplicateGroup{}
	for _, key := range keys {
		group := members[key]
		if len(group) < 2 {
			continue
		}
		dg := DuplicateGroup{
			NormalizedName: key,
			Survivor:       *participantInfo(group[0]),
			Duplicates:     make([]ParticipantInfo, 0, len(group)-1),
		}
		for _, p := range group[1:] {
			dg.Duplicates = append(dg.Duplicates, *participantInfo(p))
		}
		groups = append(groups, dg)
	}
	return groups, nil
}

// MergeParticipants re-points every record of duplicateID to survivorID, tombstones the duplicate
// and then repairs the survivor's stored total from its combined log.
func (s *ScoringService) MergeParticipants(ctx context.Context, survivorID, duplicateID uuid.UUID) (*MergeResult, error) {
	result, err := withTelemetry(s, ctx, "MergeParticipants", survivorID.String(), func(ctx context.Context) (results.OperationResult[*MergeResult, error], error) {
		return s.merge(ctx, survivorID, duplicateID)
	})
	return unwrap(result, err)
}

func (s *ScoringService) merge(ctx context.Context, survivorID, duplicateID uuid.UUID) (results.OperationResult[*MergeResult, error], error) {
	if survivorID == duplicateID {
		return results.FailureResult[*MergeResult, error](fmt.Errorf("%w: participant cannot be merged into itself", ErrInvalidMerge)), nil
	}

	txResult, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (results.OperationResult[*MergeResult, error], error) {
		return s.mergeLogic(ctx, db, survivorID, duplicateID)
	})
	if err != nil || !txResult.IsSuccess() {
		return txResult, err
	}
	merged := *txResult.Success

	s.cache.Invalidate(duplicateID)
	s.cache.Invalidate(survivorID)

	repaired, err := unwrap(s.repair(ctx, survivorID, RepairReasonMerge))
	if err != nil {
		// The merge itself committed; the next audit will pick the survivor up.
		return results.OperationResult[*MergeResult, error]{}, fmt.Errorf("merge committed but survivor repair failed: %w", err)
	}
	merged.SurvivorTotal = repaired.NewTotal

	s.logger.InfoContext(ctx, "Participants merged",
		attr.ExtractCorrelationID(ctx),
		attr.String("survivor_id", survivorID.String()),
		attr.String("duplicate_id", duplicateID.String()),
		attr.Int("records_moved", merged.RecordsMoved),
		attr.Int("survivor_total", merged.SurvivorTotal),
	)
	s.publish(ctx, scoringevents.ParticipantsMergedV1, scoringevents.ParticipantsMergedPayload{
		SurvivorID:    survivorID.String(),
		DuplicateID:   duplicateID.String(),
		RecordsMoved:  merged.RecordsMoved,
		SurvivorTotal: merged.SurvivorTotal,
	})

	return results.SuccessResult[*MergeResult, error](merged), nil
}

func (s *ScoringService) mergeLogic(ctx context.Context, db bun.IDB, survivorID, duplicateID uuid.UUID) (results.OperationResult[*MergeResult, error], error) {
	// Lock in a fixed order so two opposite merges cannot deadlock.
	first, second := survivorID, duplicateID
	if second.String() < first.String() {
		first, second = second, first
	}
	locked := make(map[uuid.UUID]*scoringdb.Participant, 2)
	for _, id := range []uuid.UUID{first, second} {
		p, err := s.repo.LockParticipant(ctx, db, id)
		if err != nil {
			if errors.Is(err, scoringdb.ErrParticipantNotFound) {
				return results.FailureResult[*MergeResult, error](fmt.Errorf("%w: %s", err, id)), nil
			}
			return results.OperationResult[*MergeResult, error]{}, fmt.Errorf("failed to lock participant: %w", err)
		}
		if p.IsDeleted {
			return results.FailureResult[*MergeResult, error](fmt.Errorf("%w: %s", ErrParticipantDeleted, id)), nil
		}
		locked[id] = p
	}

	moved, err := s.repo.ReassignActivities(ctx, db, duplicateID, survivorID)
	if err != nil {
		return results.OperationResult[*MergeResult, error]{}, fmt.Errorf("failed to reassign activities: %w", err)
	}
	if err := s.repo.MarkParticipantDeleted(ctx, db, duplicateID); err != nil {
		return results.OperationResult[*MergeResult, error]{}, fmt.Errorf("failed to tombstone duplicate: %w", err)
	}

	return results.SuccessResult[*MergeResult, error](&MergeResult{
		SurvivorID:    survivorID,
		DuplicateID:   duplicateID,
		RecordsMoved:  moved,
		SurvivorTotal: locked[survivorID].StoredTotal,
	}), nil
}

// MergeDuplicates merges every duplicate group found by FindDuplicates. A failed pair is recorded
// and the remaining pairs are still merged.
func (s *ScoringService) MergeDuplicates(ctx context.Context) (*MergeSummary, error) {
	result, err := withTelemetry(s, ctx, "MergeDuplicates", "all", func(ctx context.Context) (results.OperationResult[*MergeSummary, error], error) {
		groups, err := s.findDuplicates(ctx)
		if err != nil {
			return results.OperationResult[*MergeSummary, error]{}, err
		}

		summary := &MergeSummary{Merged: []MergeResult{}, Errors: []MergeFailure{}}
		for _, g := range groups {
			for _, dup := range g.Duplicates {
				if err := ctx.Err(); err != nil {
					return results.OperationResult[*MergeSummary, error]{}, err
				}
				merged, err := unwrap(s.merge(ctx, g.Survivor.ID, dup.ID))
				if err != nil {
					s.logger.ErrorContext(ctx, "Failed to merge duplicate participant",
						attr.ExtractCorrelationID(ctx),
						attr.String("survivor_id", g.Survivor.ID.String()),
						attr.String("duplicate_id", dup.ID.String()),
						attr.Error(err),
					)
					summary.Errors = append(summary.Errors, MergeFailure{
						SurvivorID:  g.Survivor.ID,
						DuplicateID: dup.ID,
						Reason:      err.Error(),
					})
					continue
				}
				summary.Merged = append(summary.Merged, *merged)
			}
		}
		return results.SuccessResult[*MergeSummary, error](summary), nil
	})
	return unwrap(result, err)
}
