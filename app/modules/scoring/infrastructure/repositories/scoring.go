package scoringdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// Impl implements the Repository interface using Bun ORM.
type Impl struct {
	db bun.IDB
}

// NewRepository creates a new scoring repository.
func NewRepository(db bun.IDB) Repository {
	return &Impl{db: db}
}

// resolveDB returns the provided db handle, falling back to the repository's
// default connection if db is nil.
func (r *Impl) resolveDB(db bun.IDB) bun.IDB {
	if db == nil {
		return r.db
	}
	return db
}

func checkAffected(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// AcquireNameLock takes a transaction-scoped advisory lock on a normalized name. Outside a
// transaction it is released as soon as the statement completes.
func (r *Impl) AcquireNameLock(ctx context.Context, db bun.IDB, normalizedName string) error {
	db = r.resolveDB(db)
	// hashtext() gives a stable int4 key; the prefix keeps it apart from other advisory lock users.
	if _, err := db.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "scoring.name:"+normalizedName).Exec(ctx); err != nil {
		return fmt.Errorf("scoringdb.AcquireNameLock: %w", err)
	}
	return nil
}

// CreateParticipant inserts a new participant.
func (r *Impl) CreateParticipant(ctx context.Context, db bun.IDB, participant *Participant) error {
	db = r.resolveDB(db)
	if participant.ID == uuid.Nil {
		participant.ID = uuid.New()
	}
	if participant.CompletedTasks == nil {
		participant.CompletedTasks = []string{}
	}
	now := time.Now().UTC()
	participant.CreatedAt = now
	participant.UpdatedAt = now

	if _, err := db.NewInsert().Model(participant).Exec(ctx); err != nil {
		return fmt.Errorf("scoringdb.CreateParticipant: %w", err)
	}
	return nil
}

// GetParticipant retrieves a participant by id.
func (r *Impl) GetParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID) (*Participant, error) {
	return r.getParticipant(ctx, r.resolveDB(db), participantID, false)
}

// LockParticipant retrieves a participant by id and locks the row until the transaction ends.
func (r *Impl) LockParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID) (*Participant, error) {
	return r.getParticipant(ctx, r.resolveDB(db), participantID, true)
}

func (r *Impl) getParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID, lock bool) (*Participant, error) {
	participant := new(Participant)
	q := db.NewSelect().
		Model(participant).
		Where("id = ?", participantID)
	if lock {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("scoringdb.GetParticipant: %w", err)
	}
	return participant, nil
}

// ListParticipants returns every participant ordered by creation time, then id.
func (r *Impl) ListParticipants(ctx context.Context, db bun.IDB) ([]Participant, error) {
	db = r.resolveDB(db)
	var participants []Participant
	err := db.NewSelect().
		Model(&participants).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scoringdb.ListParticipants: %w", err)
	}
	return participants, nil
}

// MarkParticipantDeleted tombstones a participant.
func (r *Impl) MarkParticipantDeleted(ctx context.Context, db bun.IDB, participantID uuid.UUID) error {
	db = r.resolveDB(db)
	now := time.Now().UTC()
	res, err := db.NewUpdate().
		Model((*Participant)(nil)).
		Set("is_deleted = ?", true).
		Set("deleted_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", participantID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("scoringdb.MarkParticipantDeleted: %w", err)
	}
	return checkAffected(res, ErrParticipantNotFound)
}

// ListActivities returns the live activity log for a participant.
func (r *Impl) ListActivities(ctx context.Context, db bun.IDB, participantID uuid.UUID) ([]ActivityRecord, error) {
	db = r.resolveDB(db)
	var records []ActivityRecord
	err := db.NewSelect().
		Model(&records).
		Where("participant_id = ?", participantID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scoringdb.ListActivities: %w", err)
	}
	return records, nil
}

// GetActivity returns a live record owned by the participant.
func (r *Impl) GetActivity(ctx context.Context, db bun.IDB, participantID, recordID uuid.UUID) (*ActivityRecord, error) {
	db = r.resolveDB(db)
	record := new(ActivityRecord)
	err := db.NewSelect().
		Model(record).
		Where("id = ?", recordID).
		Where("participant_id = ?", participantID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrActivityNotFound
		}
		return nil, fmt.Errorf("scoringdb.GetActivity: %w", err)
	}
	return record, nil
}

// InsertActivity appends a record to the log.
func (r *Impl) InsertActivity(ctx context.Context, db bun.IDB, record *ActivityRecord) error {
	db = r.resolveDB(db)
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.MultiplierIDs == nil {
		record.MultiplierIDs = []string{}
	}
	if _, err := db.NewInsert().Model(record).Exec(ctx); err != nil {
		return fmt.Errorf("scoringdb.InsertActivity: %w", err)
	}
	return nil
}

// SoftDeleteActivity stamps deleted_at on a live record.
func (r *Impl) SoftDeleteActivity(ctx context.Context, db bun.IDB, recordID uuid.UUID) error {
	db = r.resolveDB(db)
	res, err := db.NewDelete().
		Model((*ActivityRecord)(nil)).
		Where("id = ?", recordID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("scoringdb.SoftDeleteActivity: %w", err)
	}
	return checkAffected(res, ErrActivityNotFound)
}

// SoftDeleteActivitiesForParticipant stamps deleted_at on every live record of a participant.
func (r *Impl) SoftDeleteActivitiesForParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID) (int, error) {
	db = r.resolveDB(db)
	res, err := db.NewDelete().
		Model((*ActivityRecord)(nil)).
		Where("participant_id = ?", participantID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("scoringdb.SoftDeleteActivitiesForParticipant: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

// CountLiveActivities counts live records of an activity for a participant.
func (r *Impl) CountLiveActivities(ctx context.Context, db bun.IDB, participantID uuid.UUID, activityID string) (int, error) {
	db = r.resolveDB(db)
	count, err := db.NewSelect().
		Model((*ActivityRecord)(nil)).
		Where("participant_id = ?", participantID).
		Where("activity_id = ?", activityID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("scoringdb.CountLiveActivities: %w", err)
	}
	return count, nil
}

// ReassignActivities re-points every record, live or deleted, from one participant to another.
func (r *Impl) ReassignActivities(ctx context.Context, db bun.IDB, fromID, toID uuid.UUID) (int, error) {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().
		Model((*ActivityRecord)(nil)).
		Set("participant_id = ?", toID).
		Where("participant_id = ?", fromID).
		WhereAllWithDeleted().
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("scoringdb.ReassignActivities: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

// CountActivitiesByType aggregates live records of live participants by activity id.
func (r *Impl) CountActivitiesByType(ctx context.Context, db bun.IDB, limit int, exclude ...string) ([]ActivityCount, error) {
	db = r.resolveDB(db)
	var counts []ActivityCount
	q := db.NewSelect().
		Model((*ActivityRecord)(nil)).
		ColumnExpr("sar.activity_id").
		ColumnExpr("count(*) AS count").
		Join("JOIN scoring_participants AS sp ON sp.id = sar.participant_id").
		Where("sp.is_deleted = ?", false).
		Group("sar.activity_id").
		OrderExpr("count DESC, sar.activity_id ASC").
		Limit(limit)
	if len(exclude) > 0 {
		q = q.Where("sar.activity_id NOT IN (?)", bun.In(exclude))
	}
	if err := q.Scan(ctx, &counts); err != nil {
		return nil, fmt.Errorf("scoringdb.CountActivitiesByType: %w", err)
	}
	return counts, nil
}

// IncrementStoredTotal adds delta to the stored total.
func (r *Impl) IncrementStoredTotal(ctx context.Context, db bun.IDB, participantID uuid.UUID, delta int) error {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().
		Model((*Participant)(nil)).
		Set("stored_total = stored_total + ?", delta).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", participantID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("scoringdb.IncrementStoredTotal: %w", err)
	}
	return checkAffected(res, ErrParticipantNotFound)
}

// SetCompletedTasks replaces the one-time completion set.
func (r *Impl) SetCompletedTasks(ctx context.Context, db bun.IDB, participantID uuid.UUID, completed []string) error {
	db = r.resolveDB(db)
	if completed == nil {
		completed = []string{}
	}
	res, err := db.NewUpdate().
		Model((*Participant)(nil)).
		Set("completed_tasks = ?", pgdialect.Array(completed)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", participantID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("scoringdb.SetCompletedTasks: %w", err)
	}
	return checkAffected(res, ErrParticipantNotFound)
}

// WriteAggregateTotal overwrites the stored total and records the repair metadata.
func (r *Impl) WriteAggregateTotal(ctx context.Context, db bun.IDB, participantID uuid.UUID, newTotal int, meta RepairMetadata) error {
	db = r.resolveDB(db)
	completed := meta.CompletedTasks
	if completed == nil {
		completed = []string{}
	}
	res, err := db.NewUpdate().
		Model((*Participant)(nil)).
		Set("stored_total = ?", newTotal).
		Set("previous_stored_total = ?", meta.PreviousTotal).
		Set("last_recalculated_at = ?", meta.RecalculatedAt).
		Set("recalculation_reason = ?", meta.Reason).
		Set("completed_tasks = ?", pgdialect.Array(completed)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", participantID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("scoringdb.WriteAggregateTotal: %w", err)
	}
	return checkAffected(res, ErrParticipantNotFound)
}

// InsertRepairAnnotation appends to the repair audit trail.
func (r *Impl) InsertRepairAnnotation(ctx context.Context, db bun.IDB, annotation *RepairAnnotation) error {
	db = r.resolveDB(db)
	if annotation.RepairedAt.IsZero() {
		annotation.RepairedAt = time.Now().UTC()
	}
	if _, err := db.NewInsert().Model(annotation).Exec(ctx); err != nil {
		return fmt.Errorf("scoringdb.InsertRepairAnnotation: %w", err)
	}
	return nil
}
