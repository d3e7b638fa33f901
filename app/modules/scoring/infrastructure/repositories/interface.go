package scoringdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Repository defines the contract for scoring persistence.
//
// Every method accepts a bun.IDB so callers can run it inside a transaction; nil means the
// repository's own connection. Lookups return ErrParticipantNotFound / ErrActivityNotFound when
// nothing matches. All other failures are wrapped infrastructure errors.
type Repository interface {
	// --- Participants ---

	// AcquireNameLock serializes registrations of one normalized name until the transaction ends.
	AcquireNameLock(ctx context.Context, db bun.IDB, normalizedName string) error
	// CreateParticipant inserts a new participant with a zero stored total.
	CreateParticipant(ctx context.Context, db bun.IDB, participant *Participant) error
	// GetParticipant returns the participant and its stored aggregate, tombstoned or not.
	GetParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID) (*Participant, error)
	// LockParticipant is GetParticipant with a row lock, for use inside write transactions.
	LockParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID) (*Participant, error)
	// ListParticipants returns every participant, including tombstoned ones, oldest first.
	ListParticipants(ctx context.Context, db bun.IDB) ([]Participant, error)
	// MarkParticipantDeleted tombstones a participant.
	MarkParticipantDeleted(ctx context.Context, db bun.IDB, participantID uuid.UUID) error

	// --- Activity log ---

	// ListActivities returns the live log for a participant in no particular order.
	ListActivities(ctx context.Context, db bun.IDB, participantID uuid.UUID) ([]ActivityRecord, error)
	// GetActivity returns one live record owned by participantID.
	GetActivity(ctx context.Context, db bun.IDB, participantID, recordID uuid.UUID) (*ActivityRecord, error)
	// InsertActivity appends a record to the log.
	InsertActivity(ctx context.Context, db bun.IDB, record *ActivityRecord) error
	// SoftDeleteActivity removes a record from the live log.
	SoftDeleteActivity(ctx context.Context, db bun.IDB, recordID uuid.UUID) error
	// SoftDeleteActivitiesForParticipant removes every live record of a participant.
	SoftDeleteActivitiesForParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID) (int, error)
	// CountLiveActivities counts live records of one activity id for a participant.
	CountLiveActivities(ctx context.Context, db bun.IDB, participantID uuid.UUID, activityID string) (int, error)
	// ReassignActivities re-points every record of fromID to toID and returns how many moved.
	ReassignActivities(ctx context.Context, db bun.IDB, fromID, toID uuid.UUID) (int, error)
	// CountActivitiesByType returns the most logged activity ids among live participants.
	CountActivitiesByType(ctx context.Context, db bun.IDB, limit int, exclude ...string) ([]ActivityCount, error)

	// --- Stored aggregate ---

	// IncrementStoredTotal adds delta to the stored total.
	IncrementStoredTotal(ctx context.Context, db bun.IDB, participantID uuid.UUID, delta int) error
	// SetCompletedTasks replaces the one-time completion set.
	SetCompletedTasks(ctx context.Context, db bun.IDB, participantID uuid.UUID, completed []string) error
	// WriteAggregateTotal unconditionally overwrites the stored total and the repair metadata.
	WriteAggregateTotal(ctx context.Context, db bun.IDB, participantID uuid.UUID, newTotal int, meta RepairMetadata) error
	// InsertRepairAnnotation appends an entry to the repair audit trail.
	InsertRepairAnnotation(ctx context.Context, db bun.IDB, annotation *RepairAnnotation) error
}
