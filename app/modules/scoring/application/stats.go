package scoringservice

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Black-And-White-Club/frolf-bot-shared/utils/results"
	scoringdomain "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain"
)

// DefaultPopularLimit is used when PopularActivities is called with a non-positive limit.
const DefaultPopularLimit = 10

// PopularActivities returns the most logged activities among live participants. Admin adjustments
// are not counted.
func (s *ScoringService) PopularActivities(ctx context.Context, limit int) ([]PopularActivity, error) {
	if limit <= 0 {
		limit = DefaultPopularLimit
	}
	result, err := withTelemetry(s, ctx, "PopularActivities", strconv.Itoa(limit), func(ctx context.Context) (results.OperationResult[[]PopularActivity, error], error) {
		counts, err := s.repo.CountActivitiesByType(ctx, nil, limit, scoringdomain.AdminAdjustmentActivityID)
		if err != nil {
			return results.OperationResult[[]PopularActivity, error]{}, fmt.Errorf("failed to count activities: %w", err)
		}

		out := make([]PopularActivity, 0, len(counts))
		for _, c := range counts {
			name := c.ActivityID
			if def, ok := s.catalog.Activity(c.ActivityID); ok {
				name = def.Name
			}
			out = append(out, PopularActivity{ActivityID: c.ActivityID, Name: name, Count: c.Count})
		}
		return results.SuccessResult[[]PopularActivity, error](out), nil
	})
	return unwrap(result, err)
}
