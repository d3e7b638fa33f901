package scoringservice

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Black-And-White-Club/frolf-bot-shared/utils/results"
	scoringdomain "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain"
	scoringdb "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/repositories"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ComputeTrueScore sums the participant's live activity log. With useCache a fresh cache entry is
// returned as is; otherwise the log is always read. Either way the computed value is cached.
// A participant with no log scores 0. Store failures propagate.
func (s *ScoringService) ComputeTrueScore(ctx context.Context, participantID uuid.UUID, useCache bool) (int, error) {
	result, err := withTelemetry(s, ctx, "ComputeTrueScore", participantID.String(), func(ctx context.Context) (results.OperationResult[int, error], error) {
		total, err := s.trueScore(ctx, participantID, useCache)
		if err != nil {
			return results.OperationResult[int, error]{}, err
		}
		return results.SuccessResult[int, error](total), nil
	})
	return unwrap(result, err)
}

// GetParticipantScore returns the stored aggregate next to the true score.
func (s *ScoringService) GetParticipantScore(ctx context.Context, participantID uuid.UUID, fresh bool) (*ParticipantScore, error) {
	result, err := withTelemetry(s, ctx, "GetParticipantScore", participantID.String(), func(ctx context.Context) (results.OperationResult[*ParticipantScore, error], error) {
		p, err := s.repo.GetParticipant(ctx, nil, participantID)
		if err != nil {
			if errors.Is(err, scoringdb.ErrParticipantNotFound) {
				return results.FailureResult[*ParticipantScore, error](err), nil
			}
			return results.OperationResult[*ParticipantScore, error]{}, fmt.Errorf("failed to get participant: %w", err)
		}

		total, err := s.trueScore(ctx, participantID, !fresh)
		if err != nil {
			return results.OperationResult[*ParticipantScore, error]{}, err
		}

		return results.SuccessResult[*ParticipantScore, error](&ParticipantScore{
			Participant: *participantInfo(p),
			TrueScore:   total,
			Delta:       total - p.StoredTotal,
		}), nil
	})
	return unwrap(result, err)
}

// trueScore is ComputeTrueScore without the per-call telemetry, for batch callers.
func (s *ScoringService) trueScore(ctx context.Context, participantID uuid.UUID, useCache bool) (int, error) {
	if !useCache {
		return s.computeAndStore(ctx, participantID)
	}

	if total, ok := s.cache.Get(participantID); ok {
		if s.metrics != nil {
			s.metrics.RecordCacheHit(ctx)
		}
		return total, nil
	}
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(ctx)
	}

	// Concurrent misses for the same participant share one log read, unless the participant was
	// invalidated after that read started.
	token := s.cache.Token(participantID)
	v, err, _ := s.inflight.Do(token.FlightKey(participantID), func() (any, error) {
		return s.computeFrom(ctx, participantID, token)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// computeAndStore reads the log and caches the sum unless the participant was invalidated while the
// read was in flight.
func (s *ScoringService) computeAndStore(ctx context.Context, participantID uuid.UUID) (int, error) {
	return s.computeFrom(ctx, participantID, s.cache.Token(participantID))
}

func (s *ScoringService) computeFrom(ctx context.Context, participantID uuid.UUID, token CacheToken) (int, error) {
	total, err := s.sumLog(ctx, nil, participantID)
	if err != nil {
		return 0, err
	}
	s.cache.PutIfCurrent(participantID, total, token)
	return total, nil
}

func (s *ScoringService) sumLog(ctx context.Context, db bun.IDB, participantID uuid.UUID) (int, error) {
	records, err := s.repo.ListActivities(ctx, db, participantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list activities for %s: %w", participantID, err)
	}
	return sumPoints(records), nil
}

// sumPoints adds the validated points of every live record. NULL points count as 0.
func sumPoints(records []scoringdb.ActivityRecord) int {
	total := 0
	for i := range records {
		if !records[i].DeletedAt.IsZero() {
			continue
		}
		total += int(scoringdomain.PointsFromStored(records[i].Points))
	}
	return total
}

// completedOneTime returns the sorted set of one-time activity ids present in the live log.
func completedOneTime(records []scoringdb.ActivityRecord) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for i := range records {
		r := &records[i]
		if !r.OneTime || !r.DeletedAt.IsZero() {
			continue
		}
		if _, ok := seen[r.ActivityID]; ok {
			continue
		}
		seen[r.ActivityID] = struct{}{}
		out = append(out, r.ActivityID)
	}
	slices.Sort(out)
	return out
}
