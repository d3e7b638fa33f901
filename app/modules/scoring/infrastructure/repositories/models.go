package scoringdb

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Participant holds the denormalized score projection next to the participant identity.
// StoredTotal is expected to equal the sum of the participant's live ActivityRecord points.
type Participant struct {
	bun.BaseModel `bun:"table:scoring_participants,alias:sp"`

	ID             uuid.UUID `bun:"id,pk,type:uuid"`
	Name           string    `bun:"name,notnull"`
	NormalizedName string    `bun:"normalized_name,notnull"`
	StoredTotal    int       `bun:"stored_total,notnull,default:0"`
	CompletedTasks []string  `bun:"completed_tasks,array"`
	IsDeleted      bool      `bun:"is_deleted,notnull,default:false"`

	// Written only by repairs.
	LastRecalculatedAt  *time.Time `bun:"last_recalculated_at"`
	RecalculationReason string     `bun:"recalculation_reason,nullzero"`
	PreviousStoredTotal *int       `bun:"previous_stored_total"`

	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt *time.Time `bun:"deleted_at"`
}

// ActivityRecord is one immutable log entry. Only ParticipantID may be rewritten, and only by a merge.
type ActivityRecord struct {
	bun.BaseModel `bun:"table:scoring_activity_records,alias:sar"`

	ID                uuid.UUID `bun:"id,pk,type:uuid"`
	ParticipantID     uuid.UUID `bun:"participant_id,type:uuid,notnull"`
	ActivityID        string    `bun:"activity_id,notnull"`
	Category          string    `bun:"category,notnull"`
	MultiplierIDs     []string  `bun:"multiplier_ids,array"`
	Quantity          int       `bun:"quantity,notnull,default:1"`
	CompetitionResult string    `bun:"competition_result,nullzero"`
	PenaltyCaught     bool      `bun:"penalty_caught,notnull,default:false"`
	RiskOutcome       string    `bun:"risk_outcome,nullzero"`
	Points            *int64    `bun:"points"`
	OneTime           bool      `bun:"one_time,notnull,default:false"`
	Notes             string    `bun:"notes,nullzero"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt time.Time `bun:"deleted_at,soft_delete,nullzero"`
}

// RepairAnnotation is the audit trail of one stored-total overwrite.
type RepairAnnotation struct {
	bun.BaseModel `bun:"table:scoring_repair_annotations,alias:sra"`

	ID            int64     `bun:"id,pk,autoincrement"`
	ParticipantID uuid.UUID `bun:"participant_id,type:uuid,notnull"`
	PreviousTotal int       `bun:"previous_total,notnull"`
	NewTotal      int       `bun:"new_total,notnull"`
	Reason        string    `bun:"reason,notnull"`
	RepairedAt    time.Time `bun:"repaired_at,nullzero,notnull,default:current_timestamp"`
}

// RepairMetadata accompanies an unconditional stored-total overwrite.
type RepairMetadata struct {
	PreviousTotal  int
	Reason         string
	RecalculatedAt time.Time
	CompletedTasks []string
}

// ActivityCount is one row of the popular-activities aggregation.
type ActivityCount struct {
	ActivityID string `bun:"activity_id"`
	Count      int    `bun:"count"`
}
