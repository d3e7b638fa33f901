package scoringservice

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	"github.com/Black-And-White-Club/frolf-bot-shared/utils/results"
	scoringdb "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/repositories"
	"golang.org/x/sync/errgroup"
)

// BuildLeaderboard ranks every live participant by true score, highest first. Ties go to the
// participant created earliest. A participant whose log cannot be read is skipped and counted.
func (s *ScoringService) BuildLeaderboard(ctx context.Context, limit int) (*Leaderboard, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}

	result, err := withTelemetry(s, ctx, "BuildLeaderboard", strconv.Itoa(limit), func(ctx context.Context) (results.OperationResult[*Leaderboard, error], error) {
		participants, err := s.repo.ListParticipants(ctx, nil)
		if err != nil {
			return results.OperationResult[*Leaderboard, error]{}, fmt.Errorf("failed to list participants: %w", err)
		}

		live := liveParticipants(participants)
		scores := make([]int, len(live))
		ok := make([]bool, len(live))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for i := range live {
			g.Go(func() error {
				total, err := s.trueScore(gctx, live[i].ID, true)
				if err != nil {
					s.logger.WarnContext(ctx, "Skipping participant on leaderboard",
						attr.ExtractCorrelationID(ctx),
						attr.String("participant_id", live[i].ID.String()),
						attr.Error(err),
					)
					return nil
				}
				scores[i] = total
				ok[i] = true
				return nil
			})
		}
		// Workers never return an error; per-participant failures are recorded in ok.
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return results.OperationResult[*Leaderboard, error]{}, err
		}

		board := &Leaderboard{Entries: []LeaderboardEntry{}}
		for i := range live {
			if !ok[i] {
				board.Skipped++
				continue
			}
			board.Entries = append(board.Entries, LeaderboardEntry{
				ParticipantID: live[i].ID,
				Name:          live[i].Name,
				TrueScore:     scores[i],
				CreatedAt:     live[i].CreatedAt,
			})
		}

		slices.SortStableFunc(board.Entries, func(a, b LeaderboardEntry) int {
			if c := cmp.Compare(b.TrueScore, a.TrueScore); c != 0 {
				return c
			}
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.ParticipantID.String(), b.ParticipantID.String())
		})

		if len(board.Entries) > limit {
			board.Entries = board.Entries[:limit]
		}
		for i := range board.Entries {
			board.Entries[i].Rank = i + 1
		}

		return results.SuccessResult[*Leaderboard, error](board), nil
	})
	return unwrap(result, err)
}

func liveParticipants(all []scoringdb.Participant) []scoringdb.Participant {
	live := make([]scoringdb.Participant, 0, len(all))
	for _, p := range all {
		if !p.IsDeleted {
			live = append(live, p)
		}
	}
	return live
}
