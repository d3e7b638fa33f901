package scoringservice

import (
	"context"
	"errors"
	"testing"

	scoringevents "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain/events"
	scoringdb "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/repositories"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestAuditRepairScenario(t *testing.T) {
	repo := NewFakeScoringRepo()
	publisher := &FakePublisher{}
	svc := newTestService(repo, nil, publisher)
	ctx := context.Background()

	id := repo.AddParticipant("Alice", 120)
	repo.AddRecord(id, "beer", 100)
	repo.AddRecord(id, "beer_die", 30)
	repo.AddRecord(id, "shot", 25)
	synced := repo.AddParticipant("Bob", 10)
	repo.AddRecord(synced, "beer", 10)

	report, err := svc.AuditAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Audited)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, Discrepancy{
		ParticipantID: id,
		Name:          "Alice",
		StoredTotal:   120,
		TrueScore:     155,
		Delta:         35,
	}, report.Discrepancies[0])

	summary, err := svc.RepairAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Discrepancies)
	assert.Equal(t, 1, summary.FixedCount)
	assert.Equal(t, 0, summary.ErrorCount)
	assert.Empty(t, summary.Errors)
	assert.False(t, summary.Interrupted)

	p := repo.Participant(id)
	assert.Equal(t, 155, p.StoredTotal)
	require.NotNil(t, p.PreviousStoredTotal)
	assert.Equal(t, 120, *p.PreviousStoredTotal)
	assert.Equal(t, RepairReasonDynamicFix, p.RecalculationReason)

	report, err = svc.AuditAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)

	assert.Contains(t, publisher.Topics(), scoringevents.ScoreRepairedV1)
}

func TestAuditAllSortsByAbsoluteDelta(t *testing.T) {
	repo := NewFakeScoringRepo()
	svc := newTestService(repo, nil, nil)

	small := repo.AddParticipant("Small", 0)
	repo.AddRecord(small, "beer", 5)
	negative := repo.AddParticipant("Negative", 100)
	repo.AddRecord(negative, "beer", 20)
	large := repo.AddParticipant("Large", 0)
	repo.AddRecord(large, "beer", 50)
	tied := repo.AddParticipant("Tied", 0)
	repo.AddRecord(tied, "beer", 50)
	deleted := repo.AddParticipant("Deleted", 0)
	repo.AddRecord(deleted, "beer", 1000)
	require.NoError(t, repo.MarkParticipantDeleted(context.Background(), nil, deleted))

	report, err := svc.AuditAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Audited)

	var got []uuid.UUID
	for _, d := range report.Discrepancies {
		got = append(got, d.ParticipantID)
	}
	assert.Equal(t, []uuid.UUID{negative, large, tied, small}, got)
	assert.Equal(t, -80, report.Discrepancies[0].Delta)
}

func TestAuditAllNeverTrustsCache(t *testing.T) {
	repo := NewFakeScoringRepo()
	cache := NewScoreCache(0, 0, nil)
	svc := newTestService(repo, cache, nil)

	id := repo.AddParticipant("Alice", 10)
	repo.AddRecord(id, "beer", 10)
	cache.Put(id, 500)

	report, err := svc.AuditAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
}

func TestAuditAllIsolatesFailures(t *testing.T) {
	repo := NewFakeScoringRepo()
	good := repo.AddParticipant("Good", 0)
	bad := repo.AddParticipant("Bad", 0)

	repo.ListActivitiesFunc = func(ctx context.Context, db bun.IDB, participantID uuid.UUID) ([]scoringdb.ActivityRecord, error) {
		if participantID == bad {
			return nil, errors.New("timeout")
		}
		p := int64(7)
		return []scoringdb.ActivityRecord{{ParticipantID: participantID, Points: &p}}, nil
	}
	svc := newTestService(repo, nil, nil)

	report, err := svc.AuditAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, good, report.Discrepancies[0].ParticipantID)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, bad, report.Errors[0].ParticipantID)
}

func TestRepairOne(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *FakeScoringRepo) uuid.UUID
		want    *RepairResult
		wantErr error
	}{
		{
			name: "overwrites drifted total",
			setup: func(f *FakeScoringRepo) uuid.UUID {
				id := f.AddParticipant("Alice", 3)
				f.AddRecord(id, "beer", 40)
				return id
			},
			want: &RepairResult{PreviousTotal: 3, NewTotal: 40},
		},
		{
			name: "idempotent for synced participant",
			setup: func(f *FakeScoringRepo) uuid.UUID {
				id := f.AddParticipant("Alice", 40)
				f.AddRecord(id, "beer", 40)
				return id
			},
			want: &RepairResult{PreviousTotal: 40, NewTotal: 40},
		},
		{
			name: "unknown participant",
			setup: func(f *FakeScoringRepo) uuid.UUID {
				return uuid.New()
			},
			wantErr: scoringdb.ErrParticipantNotFound,
		},
		{
			name: "tombstoned participant",
			setup: func(f *FakeScoringRepo) uuid.UUID {
				id := f.AddParticipant("Alice", 3)
				_ = f.MarkParticipantDeleted(context.Background(), nil, id)
				return id
			},
			wantErr: ErrParticipantDeleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewFakeScoringRepo()
			id := tt.setup(repo)
			svc := newTestService(repo, nil, nil)

			got, err := svc.RepairOne(context.Background(), id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, repo.Annotations())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.PreviousTotal, got.PreviousTotal)
			assert.Equal(t, tt.want.NewTotal, got.NewTotal)
			assert.Equal(t, tt.want.NewTotal, repo.Participant(id).StoredTotal)

			annotations := repo.Annotations()
			require.Len(t, annotations, 1)
			assert.Equal(t, tt.want.PreviousTotal, annotations[0].PreviousTotal)
			assert.Equal(t, tt.want.NewTotal, annotations[0].NewTotal)
			assert.Equal(t, RepairReasonDynamicFix, annotations[0].Reason)
		})
	}
}

func TestRepairOneLeavesLogUntouched(t *testing.T) {
	repo := NewFakeScoringRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	id := repo.AddParticipant("Alice", 0)
	repo.AddRecord(id, "beer", 12)
	repo.AddRecord(id, "shot", 4)
	before, err := repo.ListActivities(ctx, nil, id)
	require.NoError(t, err)

	_, err = svc.RepairOne(ctx, id)
	require.NoError(t, err)

	after, err := repo.ListActivities(ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRepairOneRebuildsCompletedTasks(t *testing.T) {
	repo := NewFakeScoringRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	id := repo.AddParticipant("Alice", 0)
	_, err := svc.SubmitActivity(ctx, SubmitActivityRequest{ParticipantID: id, ActivityID: "waterski_try"})
	require.NoError(t, err)
	require.NoError(t, repo.SetCompletedTasks(ctx, nil, id, []string{"swim_to_island"}))

	_, err = svc.RepairOne(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"waterski_try"}, repo.Participant(id).CompletedTasks)
}

func TestRepairOneInvalidatesCache(t *testing.T) {
	repo := NewFakeScoringRepo()
	cache := NewScoreCache(0, 0, nil)
	svc := newTestService(repo, cache, nil)

	id := repo.AddParticipant("Alice", 0)
	repo.AddRecord(id, "beer", 5)
	cache.Put(id, 999)

	_, err := svc.RepairOne(context.Background(), id)
	require.NoError(t, err)

	_, ok := cache.Get(id)
	assert.False(t, ok)
}

func TestRepairAllIsolatesFailuresAndReportsProgress(t *testing.T) {
	repo := NewFakeScoringRepo()
	first := repo.AddParticipant("First", 0)
	broken := repo.AddParticipant("Broken", 0)
	third := repo.AddParticipant("Third", 0)
	repo.AddRecord(first, "beer", 1)
	repo.AddRecord(broken, "beer", 500)
	repo.AddRecord(third, "beer", 20)

	repo.WriteAggregateTotalFunc = func(ctx context.Context, db bun.IDB, participantID uuid.UUID, newTotal int, meta scoringdb.RepairMetadata) error {
		if participantID == broken {
			return errors.New("write rejected")
		}
		repo.SetStoredTotal(participantID, newTotal)
		return nil
	}
	svc := newTestService(repo, nil, nil)

	var progress []RepairProgress
	sink := ProgressFunc(func(ctx context.Context, p RepairProgress) {
		progress = append(progress, p)
	})

	summary, err := svc.RepairAll(context.Background(), sink)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Discrepancies)
	assert.Equal(t, 2, summary.FixedCount)
	assert.Equal(t, 1, summary.ErrorCount)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, broken, summary.Errors[0].ParticipantID)

	// Repairs run in participant order, not worst-first.
	require.Len(t, progress, 3)
	assert.Equal(t, []uuid.UUID{first, broken, third}, []uuid.UUID{
		progress[0].CurrentParticipant, progress[1].CurrentParticipant, progress[2].CurrentParticipant,
	})
	for i, p := range progress {
		assert.Equal(t, i+1, p.Current)
		assert.Equal(t, 3, p.Total)
	}
	assert.Equal(t, RepairProgress{
		Current: 3, Total: 3, CurrentParticipant: third, CurrentName: "Third", FixedCount: 2, ErrorCount: 1,
	}, progress[2])
}

func TestRepairAllEveryRepairFails(t *testing.T) {
	repo := NewFakeScoringRepo()
	a := repo.AddParticipant("A", 0)
	b := repo.AddParticipant("B", 0)
	repo.AddRecord(a, "beer", 1)
	repo.AddRecord(b, "beer", 2)
	repo.WriteAggregateTotalFunc = func(ctx context.Context, db bun.IDB, participantID uuid.UUID, newTotal int, meta scoringdb.RepairMetadata) error {
		return errors.New("read-only replica")
	}
	svc := newTestService(repo, nil, nil)

	summary, err := svc.RepairAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.FixedCount)
	assert.Equal(t, 2, summary.ErrorCount)
	assert.Len(t, summary.Errors, 2)
}

func TestRepairAllStopsBetweenParticipantsOnCancel(t *testing.T) {
	repo := NewFakeScoringRepo()
	for i := 0; i < 4; i++ {
		id := repo.AddParticipant(gofakeit.New(uint64(i)).Name(), 0)
		repo.AddRecord(id, "beer", int64(i+1))
	}
	svc := newTestService(repo, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen int
	sink := ProgressFunc(func(ctx context.Context, p RepairProgress) {
		seen++
		if p.Current == 2 {
			cancel()
		}
	})

	summary, err := svc.RepairAll(ctx, sink)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 2, summary.FixedCount)
	assert.Equal(t, 2, seen)

	// Every participant is either fully repaired or untouched.
	report, err := svc.AuditAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Discrepancies, 2)
}

// TestReconciliationConverges mutates the log at random, corrupts every stored total and checks
// that one repair pass always restores the invariant.
func TestReconciliationConverges(t *testing.T) {
	for seed := uint64(1); seed <= 25; seed++ {
		faker := gofakeit.New(seed)
		repo := NewFakeScoringRepo()
		svc := newTestService(repo, nil, nil)
		ctx := context.Background()

		ids := make([]uuid.UUID, faker.Number(1, 8))
		for i := range ids {
			ids[i] = repo.AddParticipant(faker.Name(), 0)
		}

		activities := []string{"beer", "shot", "beer_die", "leave_mess", "waterski_try"}
		for step := 0; step < faker.Number(10, 60); step++ {
			id := ids[faker.Number(0, len(ids)-1)]
			if faker.Bool() {
				_, _ = svc.SubmitActivity(ctx, SubmitActivityRequest{
					ParticipantID:     id,
					ActivityID:        faker.RandomString(activities),
					MultiplierIDs:     []string{faker.RandomString([]string{"boat", "island", "nope"})},
					CompetitionResult: faker.RandomString([]string{"win", "loss"}),
					PenaltyCaught:     faker.Bool(),
				})
				continue
			}
			records, err := repo.ListActivities(ctx, nil, id)
			require.NoError(t, err)
			if len(records) > 0 {
				victim := records[faker.Number(0, len(records)-1)]
				if faker.Bool() {
					_, err = svc.DeleteActivity(ctx, id, victim.ID)
					require.NoError(t, err)
				} else {
					// A delete that bypassed the aggregate.
					require.NoError(t, repo.SoftDeleteActivity(ctx, nil, victim.ID))
				}
			}
		}
		for _, id := range ids {
			repo.SetStoredTotal(id, faker.Number(-1000, 1000))
		}

		_, err := svc.AuditAll(ctx)
		require.NoError(t, err)
		summary, err := svc.RepairAll(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, summary.ErrorCount)

		report, err := svc.AuditAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, report.Discrepancies, "seed %d", seed)

		for _, id := range ids {
			score, err := svc.ComputeTrueScore(ctx, id, false)
			require.NoError(t, err)
			assert.Equal(t, score, repo.Participant(id).StoredTotal, "seed %d", seed)
		}
	}
}
