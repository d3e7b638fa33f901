package scoringservice

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	scoringdomain "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain"
	scoringdb "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/repositories"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ------------------------
// Fake Scoring Repo
// ------------------------

// FakeScoringRepo is an in-memory Repository. Any XxxFunc that is set replaces the in-memory
// behavior for that method.
type FakeScoringRepo struct {
	mu    sync.Mutex
	trace []string

	participants map[uuid.UUID]*scoringdb.Participant
	records      []*scoringdb.ActivityRecord
	annotations  []scoringdb.RepairAnnotation
	clock        time.Time

	ListActivitiesFunc      func(ctx context.Context, db bun.IDB, participantID uuid.UUID) ([]scoringdb.ActivityRecord, error)
	ListParticipantsFunc    func(ctx context.Context, db bun.IDB) ([]scoringdb.Participant, error)
	AcquireNameLockFunc     func(ctx context.Context, db bun.IDB, normalizedName string) error
	LockParticipantFunc     func(ctx context.Context, db bun.IDB, participantID uuid.UUID) (*scoringdb.Participant, error)
	InsertActivityFunc      func(ctx context.Context, db bun.IDB, record *scoringdb.ActivityRecord) error
	IncrementStoredFunc     func(ctx context.Context, db bun.IDB, participantID uuid.UUID, delta int) error
	WriteAggregateTotalFunc func(ctx context.Context, db bun.IDB, participantID uuid.UUID, newTotal int, meta scoringdb.RepairMetadata) error
	ReassignActivitiesFunc  func(ctx context.Context, db bun.IDB, fromID, toID uuid.UUID) (int, error)
}

func NewFakeScoringRepo() *FakeScoringRepo {
	return &FakeScoringRepo{
		trace:        []string{},
		participants: make(map[uuid.UUID]*scoringdb.Participant),
		clock:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *FakeScoringRepo) record(step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trace = append(f.trace, step)
}

// --- Seeding helpers ---

// AddParticipant stores a participant with the given stored total. Creation times increase with
// every call so that list order is deterministic.
func (f *FakeScoringRepo) AddParticipant(name string, storedTotal int) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Minute)
	p := &scoringdb.Participant{
		ID:             uuid.New(),
		Name:           name,
		NormalizedName: scoringdomain.NormalizeName(name),
		StoredTotal:    storedTotal,
		CompletedTasks: []string{},
		CreatedAt:      f.clock,
		UpdatedAt:      f.clock,
	}
	f.participants[p.ID] = p
	return p.ID
}

// AddRecord appends a live record directly, bypassing the aggregate.
func (f *FakeScoringRepo) AddRecord(participantID uuid.UUID, activityID string, points int64) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	r := &scoringdb.ActivityRecord{
		ID:            uuid.New(),
		ParticipantID: participantID,
		ActivityID:    activityID,
		Category:      "bonus",
		MultiplierIDs: []string{},
		Quantity:      1,
		Points:        &points,
		CreatedAt:     f.clock,
	}
	f.records = append(f.records, r)
	return r.ID
}

// AddNullRecord appends a live record whose points are NULL.
func (f *FakeScoringRepo) AddNullRecord(participantID uuid.UUID, activityID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, &scoringdb.ActivityRecord{
		ID:            uuid.New(),
		ParticipantID: participantID,
		ActivityID:    activityID,
		CreatedAt:     f.clock,
	})
}

// SetStoredTotal corrupts the aggregate directly.
func (f *FakeScoringRepo) SetStoredTotal(participantID uuid.UUID, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants[participantID].StoredTotal = total
}

func (f *FakeScoringRepo) Participant(participantID uuid.UUID) scoringdb.Participant {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := *f.participants[participantID]
	p.CompletedTasks = slices.Clone(p.CompletedTasks)
	return p
}

func (f *FakeScoringRepo) Annotations() []scoringdb.RepairAnnotation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.annotations)
}

// LiveRecordCount counts live records owned by a participant.
func (f *FakeScoringRepo) LiveRecordCount(participantID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.ParticipantID == participantID && r.DeletedAt.IsZero() {
			n++
		}
	}
	return n
}

// --- Repository Interface Implementation ---

func (f *FakeScoringRepo) AcquireNameLock(ctx context.Context, db bun.IDB, normalizedName string) error {
	f.record("AcquireNameLock")
	if f.AcquireNameLockFunc != nil {
		return f.AcquireNameLockFunc(ctx, db, normalizedName)
	}
	return nil
}

func (f *FakeScoringRepo) CreateParticipant(ctx context.Context, db bun.IDB, participant *scoringdb.Participant) error {
	f.record("CreateParticipant")
	f.mu.Lock()
	defer f.mu.Unlock()
	if participant.ID == uuid.Nil {
		participant.ID = uuid.New()
	}
	f.clock = f.clock.Add(time.Minute)
	participant.CreatedAt = f.clock
	participant.UpdatedAt = f.clock
	cp := *participant
	f.participants[cp.ID] = &cp
	return nil
}

func (f *FakeScoringRepo) GetParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID) (*scoringdb.Participant, error) {
	f.record("GetParticipant")
	return f.getParticipant(participantID)
}

func (f *FakeScoringRepo) LockParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID) (*scoringdb.Participant, error) {
	f.record("LockParticipant")
	if f.LockParticipantFunc != nil {
		return f.LockParticipantFunc(ctx, db, participantID)
	}
	return f.getParticipant(participantID)
}

func (f *FakeScoringRepo) getParticipant(participantID uuid.UUID) (*scoringdb.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantID]
	if !ok {
		return nil, scoringdb.ErrParticipantNotFound
	}
	cp := *p
	cp.CompletedTasks = slices.Clone(p.CompletedTasks)
	return &cp, nil
}

func (f *FakeScoringRepo) ListParticipants(ctx context.Context, db bun.IDB) ([]scoringdb.Participant, error) {
	f.record("ListParticipants")
	if f.ListParticipantsFunc != nil {
		return f.ListParticipantsFunc(ctx, db)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scoringdb.Participant, 0, len(f.participants))
	for _, p := range f.participants {
		cp := *p
		cp.CompletedTasks = slices.Clone(p.CompletedTasks)
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b scoringdb.Participant) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (f *FakeScoringRepo) MarkParticipantDeleted(ctx context.Context, db bun.IDB, participantID uuid.UUID) error {
	f.record("MarkParticipantDeleted")
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantID]
	if !ok {
		return scoringdb.ErrParticipantNotFound
	}
	p.IsDeleted = true
	now := f.clock
	p.DeletedAt = &now
	return nil
}

func (f *FakeScoringRepo) ListActivities(ctx context.Context, db bun.IDB, participantID uuid.UUID) ([]scoringdb.ActivityRecord, error) {
	f.record("ListActivities")
	if f.ListActivitiesFunc != nil {
		return f.ListActivitiesFunc(ctx, db, participantID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []scoringdb.ActivityRecord
	for _, r := range f.records {
		if r.ParticipantID == participantID && r.DeletedAt.IsZero() {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *FakeScoringRepo) GetActivity(ctx context.Context, db bun.IDB, participantID, recordID uuid.UUID) (*scoringdb.ActivityRecord, error) {
	f.record("GetActivity")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == recordID && r.ParticipantID == participantID && r.DeletedAt.IsZero() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, scoringdb.ErrActivityNotFound
}

func (f *FakeScoringRepo) InsertActivity(ctx context.Context, db bun.IDB, record *scoringdb.ActivityRecord) error {
	f.record("InsertActivity")
	if f.InsertActivityFunc != nil {
		return f.InsertActivityFunc(ctx, db, record)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *record
	f.records = append(f.records, &cp)
	return nil
}

func (f *FakeScoringRepo) SoftDeleteActivity(ctx context.Context, db bun.IDB, recordID uuid.UUID) error {
	f.record("SoftDeleteActivity")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == recordID && r.DeletedAt.IsZero() {
			r.DeletedAt = f.clock
			return nil
		}
	}
	return scoringdb.ErrActivityNotFound
}

func (f *FakeScoringRepo) SoftDeleteActivitiesForParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID) (int, error) {
	f.record("SoftDeleteActivitiesForParticipant")
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.ParticipantID == participantID && r.DeletedAt.IsZero() {
			r.DeletedAt = f.clock
			n++
		}
	}
	return n, nil
}

func (f *FakeScoringRepo) CountLiveActivities(ctx context.Context, db bun.IDB, participantID uuid.UUID, activityID string) (int, error) {
	f.record("CountLiveActivities")
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.ParticipantID == participantID && r.ActivityID == activityID && r.DeletedAt.IsZero() {
			n++
		}
	}
	return n, nil
}

func (f *FakeScoringRepo) ReassignActivities(ctx context.Context, db bun.IDB, fromID, toID uuid.UUID) (int, error) {
	f.record("ReassignActivities")
	if f.ReassignActivitiesFunc != nil {
		return f.ReassignActivitiesFunc(ctx, db, fromID, toID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.ParticipantID == fromID {
			r.ParticipantID = toID
			n++
		}
	}
	return n, nil
}

func (f *FakeScoringRepo) CountActivitiesByType(ctx context.Context, db bun.IDB, limit int, exclude ...string) ([]scoringdb.ActivityCount, error) {
	f.record("CountActivitiesByType")
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, r := range f.records {
		p, ok := f.participants[r.ParticipantID]
		if !ok || p.IsDeleted || !r.DeletedAt.IsZero() || slices.Contains(exclude, r.ActivityID) {
			continue
		}
		counts[r.ActivityID]++
	}
	out := make([]scoringdb.ActivityCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, scoringdb.ActivityCount{ActivityID: id, Count: n})
	}
	slices.SortFunc(out, func(a, b scoringdb.ActivityCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.ActivityID, b.ActivityID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeScoringRepo) IncrementStoredTotal(ctx context.Context, db bun.IDB, participantID uuid.UUID, delta int) error {
	f.record("IncrementStoredTotal")
	if f.IncrementStoredFunc != nil {
		return f.IncrementStoredFunc(ctx, db, participantID, delta)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantID]
	if !ok {
		return scoringdb.ErrParticipantNotFound
	}
	p.StoredTotal += delta
	return nil
}

func (f *FakeScoringRepo) SetCompletedTasks(ctx context.Context, db bun.IDB, participantID uuid.UUID, completed []string) error {
	f.record("SetCompletedTasks")
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantID]
	if !ok {
		return scoringdb.ErrParticipantNotFound
	}
	p.CompletedTasks = slices.Clone(completed)
	return nil
}

func (f *FakeScoringRepo) WriteAggregateTotal(ctx context.Context, db bun.IDB, participantID uuid.UUID, newTotal int, meta scoringdb.RepairMetadata) error {
	f.record("WriteAggregateTotal")
	if f.WriteAggregateTotalFunc != nil {
		return f.WriteAggregateTotalFunc(ctx, db, participantID, newTotal, meta)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantID]
	if !ok {
		return scoringdb.ErrParticipantNotFound
	}
	prev := meta.PreviousTotal
	at := meta.RecalculatedAt
	p.StoredTotal = newTotal
	p.PreviousStoredTotal = &prev
	p.LastRecalculatedAt = &at
	p.RecalculationReason = meta.Reason
	p.CompletedTasks = slices.Clone(meta.CompletedTasks)
	return nil
}

func (f *FakeScoringRepo) InsertRepairAnnotation(ctx context.Context, db bun.IDB, annotation *scoringdb.RepairAnnotation) error {
	f.record("InsertRepairAnnotation")
	f.mu.Lock()
	defer f.mu.Unlock()
	annotation.ID = int64(len(f.annotations) + 1)
	f.annotations = append(f.annotations, *annotation)
	return nil
}

// --- Accessors for assertions ---

func (f *FakeScoringRepo) Trace() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.trace))
	copy(out, f.trace)
	return out
}

// Ensure the fake actually satisfies the interface
var _ scoringdb.Repository = (*FakeScoringRepo)(nil)

// ------------------------
// Fake Publisher
// ------------------------

type publishedEvent struct {
	Topic   string
	Payload any
}

type FakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *FakePublisher) Publish(ctx context.Context, topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: topic, Payload: payload})
	return p.err
}

func (p *FakePublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}
