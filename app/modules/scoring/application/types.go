package scoringservice

import (
	"context"
	"time"

	scoringdomain "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain"
	scoringdb "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/repositories"
	"github.com/google/uuid"
)

// ParticipantInfo is the read model of a participant and its stored aggregate.
type ParticipantInfo struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	StoredTotal    int       `json:"stored_total"`
	CompletedTasks []string  `json:"completed_tasks"`
	IsDeleted      bool      `json:"is_deleted"`
	CreatedAt      time.Time `json:"created_at"`
}

func participantInfo(p *scoringdb.Participant) *ParticipantInfo {
	completed := p.CompletedTasks
	if completed == nil {
		completed = []string{}
	}
	return &ParticipantInfo{
		ID:             p.ID,
		Name:           p.Name,
		StoredTotal:    p.StoredTotal,
		CompletedTasks: completed,
		IsDeleted:      p.IsDeleted,
		CreatedAt:      p.CreatedAt,
	}
}

// ParticipantScore compares the stored aggregate with the log-derived score.
type ParticipantScore struct {
	Participant ParticipantInfo `json:"participant"`
	TrueScore   int             `json:"true_score"`
	Delta       int             `json:"delta"`
}

// SubmitActivityRequest is one activity submission.
type SubmitActivityRequest struct {
	ParticipantID     uuid.UUID
	ActivityID        string
	MultiplierIDs     []string
	Quantity          *float64
	CompetitionResult string
	PenaltyCaught     bool
	RiskOutcome       string
	Notes             string
}

// ActivityEntry is the read model of one log record.
type ActivityEntry struct {
	ID            uuid.UUID `json:"id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	ActivityID    string    `json:"activity_id"`
	Category      string    `json:"category"`
	MultiplierIDs []string  `json:"multiplier_ids"`
	Quantity      int       `json:"quantity"`
	Points        int       `json:"points"`
	OneTime       bool      `json:"one_time"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func activityEntry(r *scoringdb.ActivityRecord) ActivityEntry {
	return ActivityEntry{
		ID:            r.ID,
		ParticipantID: r.ParticipantID,
		ActivityID:    r.ActivityID,
		Category:      r.Category,
		MultiplierIDs: r.MultiplierIDs,
		Quantity:      r.Quantity,
		Points:        int(scoringdomain.PointsFromStored(r.Points)),
		OneTime:       r.OneTime,
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt,
	}
}

// SubmittedActivity is the outcome of a submission or adjustment.
type SubmittedActivity struct {
	Activity ActivityEntry `json:"activity"`
	// Applied lists the multipliers that contributed to the points.
	Applied []string `json:"applied_multipliers"`
	Clamped bool     `json:"clamped"`
}

// LeaderboardEntry is one ranked participant.
type LeaderboardEntry struct {
	Rank          int       `json:"rank"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Name          string    `json:"name"`
	TrueScore     int       `json:"true_score"`
	CreatedAt     time.Time `json:"-"`
}

// Leaderboard is a ranked view built from true scores. Skipped counts participants whose log
// could not be read.
type Leaderboard struct {
	Entries []LeaderboardEntry `json:"entries"`
	Skipped int                `json:"skipped"`
}

// Discrepancy is one participant whose stored total disagrees with its log.
// Delta is TrueScore minus StoredTotal.
type Discrepancy struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Name          string    `json:"name"`
	StoredTotal   int       `json:"stored_total"`
	TrueScore     int       `json:"true_score"`
	Delta         int       `json:"delta"`
}

// ParticipantFailure records a per-participant error inside a batch operation.
type ParticipantFailure struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Reason        string    `json:"reason"`
}

// AuditReport lists discrepancies, worst first, plus the participants that could not be audited.
type AuditReport struct {
	Audited       int                  `json:"audited"`
	Discrepancies []Discrepancy        `json:"discrepancies"`
	Errors        []ParticipantFailure `json:"errors"`
}

// RepairResult describes one stored-total overwrite.
type RepairResult struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	PreviousTotal int       `json:"previous_total"`
	NewTotal      int       `json:"new_total"`
	RepairedAt    time.Time `json:"repaired_at"`
}

// RepairSummary is the outcome of a bulk repair. Errors includes participants that failed the
// audit step as well as failed repair writes. Interrupted is set when the context was cancelled
// between two participants; everything counted before that point was fully repaired.
type RepairSummary struct {
	Discrepancies int                  `json:"discrepancies"`
	FixedCount    int                  `json:"fixed_count"`
	ErrorCount    int                  `json:"error_count"`
	Errors        []ParticipantFailure `json:"errors"`
	Interrupted   bool                 `json:"interrupted"`
}

// RepairProgress is reported after every repair attempt.
type RepairProgress struct {
	Current            int       `json:"current"`
	Total              int       `json:"total"`
	CurrentParticipant uuid.UUID `json:"current_participant"`
	CurrentName        string    `json:"current_name"`
	FixedCount         int       `json:"fixed_count"`
	ErrorCount         int       `json:"error_count"`
}

// ProgressSink receives repair progress. Implementations must not block for long; RepairAll
// calls Report synchronously between participants.
type ProgressSink interface {
	Report(ctx context.Context, progress RepairProgress)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ctx context.Context, progress RepairProgress)

// Report implements ProgressSink.
func (f ProgressFunc) Report(ctx context.Context, progress RepairProgress) {
	f(ctx, progress)
}

// DuplicateGroup is a set of live participants sharing a normalized name.
// Survivor is the oldest participant of the group.
type DuplicateGroup struct {
	NormalizedName string            `json:"normalized_name"`
	Survivor       ParticipantInfo   `json:"survivor"`
	Duplicates     []ParticipantInfo `json:"duplicates"`
}

// MergeResult describes one completed merge.
type MergeResult struct {
	SurvivorID    uuid.UUID `json:"survivor_id"`
	DuplicateID   uuid.UUID `json:"duplicate_id"`
	RecordsMoved  int       `json:"records_moved"`
	SurvivorTotal int       `json:"survivor_total"`
}

// MergeFailure records a merge that could not be completed.
type MergeFailure struct {
	SurvivorID  uuid.UUID `json:"survivor_id"`
	DuplicateID uuid.UUID `json:"duplicate_id"`
	Reason      string    `json:"reason"`
}

// MergeSummary is the outcome of merging every duplicate group.
type MergeSummary struct {
	Merged []MergeResult  `json:"merged"`
	Errors []MergeFailure `json:"errors"`
}

// PopularActivity is one row of the most-logged activities.
type PopularActivity struct {
	ActivityID string `json:"activity_id"`
	Name       string `json:"name"`
	Count      int    `json:"count"`
}
