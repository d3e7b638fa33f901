package scoringservice

import (
	"context"

	scoringdomain "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain"
	"github.com/google/uuid"
)

// Service defines the interface for the ScoringService.
type Service interface {
	// --- Rules ---

	Catalog() *scoringdomain.Catalog
	CalculatePoints(def scoringdomain.ActivityDefinition, multiplierIDs []string, quantity scoringdomain.Quantity, opts scoringdomain.Options) scoringdomain.Points

	// --- Participants ---

	RegisterParticipant(ctx context.Context, name string) (*ParticipantInfo, error)
	ListParticipants(ctx context.Context) ([]ParticipantInfo, error)
	DeleteParticipant(ctx context.Context, participantID uuid.UUID) error

	// --- Write path ---

	SubmitActivity(ctx context.Context, req SubmitActivityRequest) (*SubmittedActivity, error)
	DeleteActivity(ctx context.Context, participantID, recordID uuid.UUID) (*ActivityEntry, error)
	AdjustScore(ctx context.Context, participantID uuid.UUID, points int, reason string) (*SubmittedActivity, error)

	// --- Dynamic scoring ---

	ComputeTrueScore(ctx context.Context, participantID uuid.UUID, useCache bool) (int, error)
	GetParticipantScore(ctx context.Context, participantID uuid.UUID, fresh bool) (*ParticipantScore, error)
	BuildLeaderboard(ctx context.Context, limit int) (*Leaderboard, error)
	PopularActivities(ctx context.Context, limit int) ([]PopularActivity, error)
	// InvalidateCache drops cached scores for the given participant ids.
	InvalidateCache(participantIDs ...string)

	// --- Reconciliation ---

	AuditAll(ctx context.Context) (*AuditReport, error)
	RepairOne(ctx context.Context, participantID uuid.UUID) (*RepairResult, error)
	RepairAll(ctx context.Context, sink ProgressSink) (*RepairSummary, error)

	// --- Duplicates ---

	FindDuplicates(ctx context.Context) ([]DuplicateGroup, error)
	MergeParticipants(ctx context.Context, survivorID, duplicateID uuid.UUID) (*MergeResult, error)
	MergeDuplicates(ctx context.Context) (*MergeSummary, error)
}

var _ Service = (*ScoringService)(nil)
