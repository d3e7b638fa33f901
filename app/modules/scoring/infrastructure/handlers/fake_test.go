package scoringhandlers

import (
	"context"

	scoringservice "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/application"
	scoringdomain "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain"
	scoringqueue "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/queue"
	"github.com/google/uuid"
)

// ------------------------
// Fake Service
// ------------------------

type FakeService struct {
	trace       []string
	invalidated []string

	RegisterParticipantFunc func(ctx context.Context, name string) (*scoringservice.ParticipantInfo, error)
	ListParticipantsFunc    func(ctx context.Context) ([]scoringservice.ParticipantInfo, error)
	DeleteParticipantFunc   func(ctx context.Context, id uuid.UUID) error
	SubmitActivityFunc      func(ctx context.Context, req scoringservice.SubmitActivityRequest) (*scoringservice.SubmittedActivity, error)
	DeleteActivityFunc      func(ctx context.Context, participantID, recordID uuid.UUID) (*scoringservice.ActivityEntry, error)
	AdjustScoreFunc         func(ctx context.Context, id uuid.UUID, points int, reason string) (*scoringservice.SubmittedActivity, error)
	GetParticipantScoreFunc func(ctx context.Context, id uuid.UUID, fresh bool) (*scoringservice.ParticipantScore, error)
	BuildLeaderboardFunc    func(ctx context.Context, limit int) (*scoringservice.Leaderboard, error)
	PopularActivitiesFunc   func(ctx context.Context, limit int) ([]scoringservice.PopularActivity, error)
	AuditAllFunc            func(ctx context.Context) (*scoringservice.AuditReport, error)
	RepairOneFunc           func(ctx context.Context, id uuid.UUID) (*scoringservice.RepairResult, error)
	RepairAllFunc           func(ctx context.Context, sink scoringservice.ProgressSink) (*scoringservice.RepairSummary, error)
	FindDuplicatesFunc      func(ctx context.Context) ([]scoringservice.DuplicateGroup, error)
	MergeParticipantsFunc   func(ctx context.Context, survivorID, duplicateID uuid.UUID) (*scoringservice.MergeResult, error)
	MergeDuplicatesFunc     func(ctx context.Context) (*scoringservice.MergeSummary, error)
}

func (f *FakeService) record(step string) { f.trace = append(f.trace, step) }

// Trace returns the service methods called, in order.
func (f *FakeService) Trace() []string { return f.trace }

func (f *FakeService) Catalog() *scoringdomain.Catalog {
	f.record("Catalog")
	return scoringdomain.DefaultCatalog()
}

func (f *FakeService) CalculatePoints(def scoringdomain.ActivityDefinition, multiplierIDs []string, quantity scoringdomain.Quantity, opts scoringdomain.Options) scoringdomain.Points {
	f.record("CalculatePoints")
	return scoringdomain.NewCalculator(scoringdomain.DefaultCatalog()).CalculatePoints(def, multiplierIDs, quantity, opts)
}

func (f *FakeService) RegisterParticipant(ctx context.Context, name string) (*scoringservice.ParticipantInfo, error) {
	f.record("RegisterParticipant")
	if f.RegisterParticipantFunc != nil {
		return f.RegisterParticipantFunc(ctx, name)
	}
	return &scoringservice.ParticipantInfo{ID: uuid.New(), Name: name}, nil
}

func (f *FakeService) ListParticipants(ctx context.Context) ([]scoringservice.ParticipantInfo, error) {
	f.record("ListParticipants")
	if f.ListParticipantsFunc != nil {
		return f.ListParticipantsFunc(ctx)
	}
	return []scoringservice.ParticipantInfo{}, nil
}

func (f *FakeService) DeleteParticipant(ctx context.Context, id uuid.UUID) error {
	f.record("DeleteParticipant")
	if f.DeleteParticipantFunc != nil {
		return f.DeleteParticipantFunc(ctx, id)
	}
	return nil
}

func (f *FakeService) SubmitActivity(ctx context.Context, req scoringservice.SubmitActivityRequest) (*scoringservice.SubmittedActivity, error) {
	f.record("SubmitActivity")
	if f.SubmitActivityFunc != nil {
		return f.SubmitActivityFunc(ctx, req)
	}
	return &scoringservice.SubmittedActivity{}, nil
}

func (f *FakeService) DeleteActivity(ctx context.Context, participantID, recordID uuid.UUID) (*scoringservice.ActivityEntry, error) {
	f.record("DeleteActivity")
	if f.DeleteActivityFunc != nil {
		return f.DeleteActivityFunc(ctx, participantID, recordID)
	}
	return &scoringservice.ActivityEntry{ID: recordID, ParticipantID: participantID}, nil
}

func (f *FakeService) AdjustScore(ctx context.Context, id uuid.UUID, points int, reason string) (*scoringservice.SubmittedActivity, error) {
	f.record("AdjustScore")
	if f.AdjustScoreFunc != nil {
		return f.AdjustScoreFunc(ctx, id, points, reason)
	}
	return &scoringservice.SubmittedActivity{}, nil
}

func (f *FakeService) ComputeTrueScore(ctx context.Context, id uuid.UUID, useCache bool) (int, error) {
	f.record("ComputeTrueScore")
	return 0, nil
}

func (f *FakeService) GetParticipantScore(ctx context.Context, id uuid.UUID, fresh bool) (*scoringservice.ParticipantScore, error) {
	f.record("GetParticipantScore")
	if f.GetParticipantScoreFunc != nil {
		return f.GetParticipantScoreFunc(ctx, id, fresh)
	}
	return &scoringservice.ParticipantScore{}, nil
}

func (f *FakeService) BuildLeaderboard(ctx context.Context, limit int) (*scoringservice.Leaderboard, error) {
	f.record("BuildLeaderboard")
	if f.BuildLeaderboardFunc != nil {
		return f.BuildLeaderboardFunc(ctx, limit)
	}
	return &scoringservice.Leaderboard{Entries: []scoringservice.LeaderboardEntry{}}, nil
}

func (f *FakeService) PopularActivities(ctx context.Context, limit int) ([]scoringservice.PopularActivity, error) {
	f.record("PopularActivities")
	if f.PopularActivitiesFunc != nil {
		return f.PopularActivitiesFunc(ctx, limit)
	}
	return []scoringservice.PopularActivity{}, nil
}

func (f *FakeService) InvalidateCache(ids ...string) {
	f.record("InvalidateCache")
	f.invalidated = append(f.invalidated, ids...)
}

func (f *FakeService) AuditAll(ctx context.Context) (*scoringservice.AuditReport, error) {
	f.record("AuditAll")
	if f.AuditAllFunc != nil {
		return f.AuditAllFunc(ctx)
	}
	return &scoringservice.AuditReport{}, nil
}

func (f *FakeService) RepairOne(ctx context.Context, id uuid.UUID) (*scoringservice.RepairResult, error) {
	f.record("RepairOne")
	if f.RepairOneFunc != nil {
		return f.RepairOneFunc(ctx, id)
	}
	return &scoringservice.RepairResult{ParticipantID: id}, nil
}

func (f *FakeService) RepairAll(ctx context.Context, sink scoringservice.ProgressSink) (*scoringservice.RepairSummary, error) {
	f.record("RepairAll")
	if f.RepairAllFunc != nil {
		return f.RepairAllFunc(ctx, sink)
	}
	return &scoringservice.RepairSummary{}, nil
}

func (f *FakeService) FindDuplicates(ctx context.Context) ([]scoringservice.DuplicateGroup, error) {
	f.record("FindDuplicates")
	if f.FindDuplicatesFunc != nil {
		return f.FindDuplicatesFunc(ctx)
	}
	return nil, nil
}

func (f *FakeService) MergeParticipants(ctx context.Context, survivorID, duplicateID uuid.UUID) (*scoringservice.MergeResult, error) {
	f.record("MergeParticipants")
	if f.MergeParticipantsFunc != nil {
		return f.MergeParticipantsFunc(ctx, survivorID, duplicateID)
	}
	return &scoringservice.MergeResult{SurvivorID: survivorID, DuplicateID: duplicateID}, nil
}

func (f *FakeService) MergeDuplicates(ctx context.Context) (*scoringservice.MergeSummary, error) {
	f.record("MergeDuplicates")
	if f.MergeDuplicatesFunc != nil {
		return f.MergeDuplicatesFunc(ctx)
	}
	return &scoringservice.MergeSummary{}, nil
}

var _ scoringservice.Service = (*FakeService)(nil)

// ------------------------
// Fake Queue
// ------------------------

type FakeQueue struct {
	reasons []string
	jobID   int64
	err     error
}

func (f *FakeQueue) EnqueueReconcile(_ context.Context, reason string) (int64, error) {
	f.reasons = append(f.reasons, reason)
	return f.jobID, f.err
}

func (f *FakeQueue) RecentJobs(context.Context, int) ([]scoringqueue.JobInfo, error) {
	return []scoringqueue.JobInfo{{ID: f.jobID, Kind: "reconcile_scores"}}, f.err
}

var _ ReconcileQueue = (*FakeQueue)(nil)
