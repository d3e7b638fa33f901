package scoringservice

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	"github.com/Black-And-White-Club/frolf-bot-shared/utils/results"
	scoringdomain "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain"
	scoringevents "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain/events"
	scoringdb "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/repositories"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SubmitActivity calculates the points for one activity, then appends the record and increments the
// stored total in a single transaction.
func (s *ScoringService) SubmitActivity(ctx context.Context, req SubmitActivityRequest) (*SubmittedActivity, error) {
	result, err := withTelemetry(s, ctx, "SubmitActivity", req.ParticipantID.String(), func(ctx context.Context) (results.OperationResult[*SubmittedActivity, error], error) {
		def, ok := s.catalog.Activity(req.ActivityID)
		if !ok {
			return results.FailureResult[*SubmittedActivity, error](fmt.Errorf("%w: %q", ErrUnknownActivity, req.ActivityID)), nil
		}
		opts, err := submissionOptions(def, req)
		if err != nil {
			return results.FailureResult[*SubmittedActivity, error](err), nil
		}

		quantity := scoringdomain.QuantityFrom(req.Quantity)
		calc := s.calculator.Calculate(def, req.MultiplierIDs, quantity, opts)
		if calc.Clamped {
			s.logger.WarnContext(ctx, "Calculated points clamped to catalog bounds",
				attr.ExtractCorrelationID(ctx),
				attr.String("activity_id", def.ID),
				attr.Any("raw_points", calc.Raw),
				attr.Int("points", int(calc.Points)),
			)
			if s.metrics != nil {
				s.metrics.RecordClamp(ctx, def.ID)
			}
		}

		points := int64(calc.Points)
		record := &scoringdb.ActivityRecord{
			ID:                uuid.New(),
			ParticipantID:     req.ParticipantID,
			ActivityID:        def.ID,
			Category:          string(def.Category),
			MultiplierIDs:     calc.Applied,
			Quantity:          int(quantity),
			CompetitionResult: string(opts.CompetitionResult),
			PenaltyCaught:     opts.PenaltyCaught,
			RiskOutcome:       string(opts.RiskOutcome),
			Points:            &points,
			OneTime:           def.OneTimeOnly,
			Notes:             req.Notes,
			CreatedAt:         s.now().UTC(),
		}

		txResult, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (results.OperationResult[*SubmittedActivity, error], error) {
			return s.appendActivity(ctx, db, record, calc)
		})
		if err != nil || !txResult.IsSuccess() {
			return txResult, err
		}

		s.afterAppend(ctx, record)
		return txResult, nil
	})
	return unwrap(result, err)
}

// submissionOptions validates the situational inputs against the activity kind.
func submissionOptions(def scoringdomain.ActivityDefinition, req SubmitActivityRequest) (scoringdomain.Options, error) {
	opts := scoringdomain.Options{PenaltyCaught: req.PenaltyCaught}

	switch scoringdomain.CompetitionResult(req.CompetitionResult) {
	case "":
		if def.Category == scoringdomain.CategoryCompetition {
			// Unspecified competition outcomes score as a loss.
			opts.CompetitionResult = scoringdomain.CompetitionLoss
		}
	case scoringdomain.CompetitionWin, scoringdomain.CompetitionLoss:
		opts.CompetitionResult = scoringdomain.CompetitionResult(req.CompetitionResult)
	default:
		return opts, fmt.Errorf("%w: competition result %q", ErrInvalidOptions, req.CompetitionResult)
	}

	switch scoringdomain.RiskOutcome(req.RiskOutcome) {
	case scoringdomain.RiskOutcomeNone, scoringdomain.RiskOutcomePenalized:
		opts.RiskOutcome = scoringdomain.RiskOutcome(req.RiskOutcome)
	default:
		return opts, fmt.Errorf("%w: risk outcome %q", ErrInvalidOptions, req.RiskOutcome)
	}

	return opts, nil
}

// appendActivity is the atomic write path: the log append and the aggregate increment commit together.
func (s *ScoringService) appendActivity(ctx context.Context, db bun.IDB, record *scoringdb.ActivityRecord, calc scoringdomain.Calculation) (results.OperationResult[*SubmittedActivity, error], error) {
	p, err := s.repo.LockParticipant(ctx, db, record.ParticipantID)
	if err != nil {
		if errors.Is(err, scoringdb.ErrParticipantNotFound) {
			return results.FailureResult[*SubmittedActivity, error](err), nil
		}
		return results.OperationResult[*SubmittedActivity, error]{}, fmt.Errorf("failed to lock participant: %w", err)
	}
	if p.IsDeleted {
		return results.FailureResult[*SubmittedActivity, error](ErrParticipantDeleted), nil
	}
	if record.OneTime && slices.Contains(p.CompletedTasks, record.ActivityID) {
		return results.FailureResult[*SubmittedActivity, error](fmt.Errorf("%w: %q", ErrOneTimeAlreadyCompleted, record.ActivityID)), nil
	}

	if err := s.repo.InsertActivity(ctx, db, record); err != nil {
		return results.OperationResult[*SubmittedActivity, error]{}, fmt.Errorf("failed to insert activity: %w", err)
	}
	points := int(scoringdomain.PointsFromStored(record.Points))
	if err := s.repo.IncrementStoredTotal(ctx, db, record.ParticipantID, points); err != nil {
		return results.OperationResult[*SubmittedActivity, error]{}, fmt.Errorf("failed to increment stored total: %w", err)
	}
	if record.OneTime {
		completed := append(slices.Clone(p.CompletedTasks), record.ActivityID)
		slices.Sort(completed)
		if err := s.repo.SetCompletedTasks(ctx, db, record.ParticipantID, completed); err != nil {
			return results.OperationResult[*SubmittedActivity, error]{}, fmt.Errorf("failed to update completed tasks: %w", err)
		}
	}

	applied := calc.Applied
	if applied == nil {
		applied = []string{}
	}
	return results.SuccessResult[*SubmittedActivity, error](&SubmittedActivity{
		Activity: activityEntry(record),
		Applied:  applied,
		Clamped:  calc.Clamped,
	}), nil
}

func (s *ScoringService) afterAppend(ctx context.Context, record *scoringdb.ActivityRecord) {
	s.cache.Invalidate(record.ParticipantID)
	s.publish(ctx, scoringevents.ActivityLoggedV1, scoringevents.ActivityLoggedPayload{
		ParticipantID: record.ParticipantID.String(),
		RecordID:      record.ID.String(),
		ActivityID:    record.ActivityID,
		Points:        int(scoringdomain.PointsFromStored(record.Points)),
		LoggedAt:      record.CreatedAt,
	})
}

// AdjustScore appends a manual correction through the same atomic path as a submission, so it can
// never introduce drift. The value is clamped to the catalog bounds.
func (s *ScoringService) AdjustScore(ctx context.Context, participantID uuid.UUID, points int, reason string) (*SubmittedActivity, error) {
	result, err := withTelemetry(s, ctx, "AdjustScore", participantID.String(), func(ctx context.Context) (results.OperationResult[*SubmittedActivity, error], error) {
		if points == 0 {
			return results.FailureResult[*SubmittedActivity, error](fmt.Errorf("%w: points must be non-zero", ErrInvalidAdjustment)), nil
		}

		validated, clamped := s.catalog.Bounds().Clamp(float64(points))
		stored := int64(validated)
		record := &scoringdb.ActivityRecord{
			ID:            uuid.New(),
			ParticipantID: participantID,
			ActivityID:    scoringdomain.AdminAdjustmentActivityID,
			Category:      string(scoringdomain.CategoryBonus),
			MultiplierIDs: []string{},
			Quantity:      1,
			Points:        &stored,
			Notes:         reason,
			CreatedAt:     s.now().UTC(),
		}
		calc := scoringdomain.Calculation{
			Points:  validated,
			Base:    float64(points),
			Factor:  1,
			Raw:     float64(points),
			Clamped: clamped,
		}

		txResult, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (results.OperationResult[*SubmittedActivity, error], error) {
			return s.appendActivity(ctx, db, record, calc)
		})
		if err != nil || !txResult.IsSuccess() {
			return txResult, err
		}

		s.afterAppend(ctx, record)
		return txResult, nil
	})
	return unwrap(result, err)
}

// DeleteActivity removes a record from the live log and subtracts its points from the stored total.
func (s *ScoringService) DeleteActivity(ctx context.Context, participantID, recordID uuid.UUID) (*ActivityEntry, error) {
	result, err := withTelemetry(s, ctx, "DeleteActivity", recordID.String(), func(ctx context.Context) (results.OperationResult[*ActivityEntry, error], error) {
		txResult, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (results.OperationResult[*ActivityEntry, error], error) {
			return s.deleteActivityLogic(ctx, db, participantID, recordID)
		})
		if err != nil || !txResult.IsSuccess() {
			return txResult, err
		}

		deleted := *txResult.Success
		s.cache.Invalidate(participantID)
		s.publish(ctx, scoringevents.ActivityDeletedV1, scoringevents.ActivityDeletedPayload{
			ParticipantID: participantID.String(),
			RecordID:      recordID.String(),
			Points:        deleted.Points,
		})
		return txResult, nil
	})
	return unwrap(result, err)
}

func (s *ScoringService) deleteActivityLogic(ctx context.Context, db bun.IDB, participantID, recordID uuid.UUID) (results.OperationResult[*ActivityEntry, error], error) {
	p, err := s.repo.LockParticipant(ctx, db, participantID)
	if err != nil {
		if errors.Is(err, scoringdb.ErrParticipantNotFound) {
			return results.FailureResult[*ActivityEntry, error](err), nil
		}
		return results.OperationResult[*ActivityEntry, error]{}, fmt.Errorf("failed to lock participant: %w", err)
	}

	record, err := s.repo.GetActivity(ctx, db, participantID, recordID)
	if err != nil {
		if errors.Is(err, scoringdb.ErrActivityNotFound) {
			return results.FailureResult[*ActivityEntry, error](err), nil
		}
		return results.OperationResult[*ActivityEntry, error]{}, fmt.Errorf("failed to get activity: %w", err)
	}

	if err := s.repo.SoftDeleteActivity(ctx, db, recordID); err != nil {
		return results.OperationResult[*ActivityEntry, error]{}, fmt.Errorf("failed to delete activity: %w", err)
	}
	points := int(scoringdomain.PointsFromStored(record.Points))
	if err := s.repo.IncrementStoredTotal(ctx, db, participantID, -points); err != nil {
		return results.OperationResult[*ActivityEntry, error]{}, fmt.Errorf("failed to decrement stored total: %w", err)
	}

	if record.OneTime && slices.Contains(p.CompletedTasks, record.ActivityID) {
		remaining, err := s.repo.CountLiveActivities(ctx, db, participantID, record.ActivityID)
		if err != nil {
			return results.OperationResult[*ActivityEntry, error]{}, fmt.Errorf("failed to count activities: %w", err)
		}
		if remaining == 0 {
			completed := slices.DeleteFunc(slices.Clone(p.CompletedTasks), func(id string) bool {
				return id == record.ActivityID
			})
			if err := s.repo.SetCompletedTasks(ctx, db, participantID, completed); err != nil {
				return results.OperationResult[*ActivityEntry, error]{}, fmt.Errorf("failed to update completed tasks: %w", err)
			}
		}
	}

	entry := activityEntry(record)
	return results.SuccessResult[*ActivityEntry, error](&entry), nil
}

// RegisterParticipant creates a participant. Names are cleaned and must be unique after
// normalization among live participants. The check and insert run under a per-name lock so
// concurrent registrations of the same name cannot both pass.
func (s *ScoringService) RegisterParticipant(ctx context.Context, name string) (*ParticipantInfo, error) {
	result, err := withTelemetry(s, ctx, "RegisterParticipant", name, func(ctx context.Context) (results.OperationResult[*ParticipantInfo, error], error) {
		cleaned, err := scoringdomain.CleanName(name)
		if err != nil {
			return results.FailureResult[*ParticipantInfo, error](err), nil
		}
		normalized := scoringdomain.NormalizeName(cleaned)

		return runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (results.OperationResult[*ParticipantInfo, error], error) {
			if err := s.repo.AcquireNameLock(ctx, db, normalized); err != nil {
				return results.OperationResult[*ParticipantInfo, error]{}, fmt.Errorf("failed to lock name: %w", err)
			}

			existing, err := s.repo.ListParticipants(ctx, db)
			if err != nil {
				return results.OperationResult[*ParticipantInfo, error]{}, fmt.Errorf("failed to list participants: %w", err)
			}
			for _, p := range existing {
				if !p.IsDeleted && p.NormalizedName == normalized {
					return results.FailureResult[*ParticipantInfo, error](fmt.Errorf("%w: %q", ErrDuplicateName, cleaned)), nil
				}
			}

			p := &scoringdb.Participant{
				ID:             uuid.New(),
				Name:           cleaned,
				NormalizedName: normalized,
				CompletedTasks: []string{},
			}
			if err := s.repo.CreateParticipant(ctx, db, p); err != nil {
				return results.OperationResult[*ParticipantInfo, error]{}, fmt.Errorf("failed to create participant: %w", err)
			}
			return results.SuccessResult[*ParticipantInfo, error](participantInfo(p)), nil
		})
	})
	return unwrap(result, err)
}

// ListParticipants returns every participant, tombstoned ones included, oldest first.
func (s *ScoringService) ListParticipants(ctx context.Context) ([]ParticipantInfo, error) {
	result, err := withTelemetry(s, ctx, "ListParticipants", "all", func(ctx context.Context) (results.OperationResult[[]ParticipantInfo, error], error) {
		participants, err := s.repo.ListParticipants(ctx, nil)
		if err != nil {
			return results.OperationResult[[]ParticipantInfo, error]{}, fmt.Errorf("failed to list participants: %w", err)
		}
		out := make([]ParticipantInfo, 0, len(participants))
		for i := range participants {
			out = append(out, *participantInfo(&participants[i]))
		}
		return results.SuccessResult[[]ParticipantInfo, error](out), nil
	})
	return unwrap(result, err)
}

// DeleteParticipant tombstones a participant and removes its records from the live log.
func (s *ScoringService) DeleteParticipant(ctx context.Context, participantID uuid.UUID) error {
	result, err := withTelemetry(s, ctx, "DeleteParticipant", participantID.String(), func(ctx context.Context) (results.OperationResult[int, error], error) {
		txResult, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (results.OperationResult[int, error], error) {
			p, err := s.repo.LockParticipant(ctx, db, participantID)
			if err != nil {
				if errors.Is(err, scoringdb.ErrParticipantNotFound) {
					return results.FailureResult[int, error](err), nil
				}
				return results.OperationResult[int, error]{}, fmt.Errorf("failed to lock participant: %w", err)
			}
			if p.IsDeleted {
				return results.FailureResult[int, error](ErrParticipantDeleted), nil
			}
			removed, err := s.repo.SoftDeleteActivitiesForParticipant(ctx, db, participantID)
			if err != nil {
				return results.OperationResult[int, error]{}, fmt.Errorf("failed to delete activities: %w", err)
			}
			if err := s.repo.MarkParticipantDeleted(ctx, db, participantID); err != nil {
				return results.OperationResult[int, error]{}, fmt.Errorf("failed to mark participant deleted: %w", err)
			}
			return results.SuccessResult[int, error](removed), nil
		})
		if err != nil || !txResult.IsSuccess() {
			return txResult, err
		}

		s.cache.Invalidate(participantID)
		s.publish(ctx, scoringevents.ParticipantDeletedV1, scoringevents.ParticipantDeletedPayload{
			ParticipantID: participantID.String(),
		})
		return txResult, nil
	})
	_, err = unwrap(result, err)
	return err
}
