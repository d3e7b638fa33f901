package scoringhandlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	scoringservice "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/application"
	scoringauth "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/auth"
	scoringdb "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/repositories"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

const testSecret = "test-secret-at-least-32-chars-long!!"

type testServer struct {
	router   chi.Router
	service  *FakeService
	queue    *FakeQueue
	provider scoringauth.Provider
}

func newTestServer(t *testing.T, svc *FakeService, queue *FakeQueue) *testServer {
	t.Helper()
	provider, err := scoringauth.NewProvider(testSecret, "scorekeeper")
	require.NoError(t, err)

	var q ReconcileQueue
	if queue != nil {
		q = queue
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewScoringHTTPHandlers(svc, q, logger, noop.NewTracerProvider().Tracer("test"))

	router := chi.NewRouter()
	RegisterRoutes(router, h, provider, RouteConfig{RateLimit: 1000, RateBurst: 1000})
	return &testServer{router: router, service: svc, queue: queue, provider: provider}
}

func (s *testServer) do(t *testing.T, method, path, body string, role scoringauth.Role) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if role != "" {
		token, err := s.provider.GenerateToken("tester", role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleLeaderboard(t *testing.T) {
	alice := uuid.New()
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
		wantLimit  int
	}{
		{name: "default limit", query: "", wantStatus: http.StatusOK, wantLimit: 0},
		{name: "explicit limit", query: "?limit=5", wantStatus: http.StatusOK, wantLimit: 5},
		{name: "invalid limit", query: "?limit=abc", wantStatus: http.StatusBadRequest, wantLimit: -1},
		{name: "negative limit", query: "?limit=-2", wantStatus: http.StatusBadRequest, wantLimit: -1},
		{name: "store failure", query: "", err: errors.New("database connection failed"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLimit := -1
			svc := &FakeService{
				BuildLeaderboardFunc: func(ctx context.Context, limit int) (*scoringservice.Leaderboard, error) {
					gotLimit = limit
					if tt.err != nil {
						return nil, tt.err
					}
					return &scoringservice.Leaderboard{Entries: []scoringservice.LeaderboardEntry{
						{Rank: 1, ParticipantID: alice, Name: "Alice", TrueScore: 42},
					}}, nil
				},
			}
			srv := newTestServer(t, svc, nil)

			rec := srv.do(t, http.MethodGet, "/api/scoring/leaderboard"+tt.query, "", "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.err == nil {
				assert.Equal(t, tt.wantLimit, gotLimit)
			}
			if tt.wantStatus == http.StatusOK {
				var board scoringservice.Leaderboard
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
				require.Len(t, board.Entries, 1)
				assert.Equal(t, 42, board.Entries[0].TrueScore)
			}
			if tt.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "database connection failed", "internal errors are not leaked")
			}
		})
	}
}

func TestHandleSubmitActivity(t *testing.T) {
	participant := uuid.New()
	tests := []struct {
		name       string
		path       string
		body       string
		err        error
		wantStatus int
	}{
		{
			name:       "created",
			path:       fmt.Sprintf("/api/scoring/participants/%s/activities", participant),
			body:       `{"activity_id":"beer","multiplier_ids":["boat"],"quantity":2}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "bad participant id",
			path:       "/api/scoring/participants/nope/activities",
			body:       `{"activity_id":"beer"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			path:       fmt.Sprintf("/api/scoring/participants/%s/activities", participant),
			body:       `{"activity":"beer"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown activity",
			path:       fmt.Sprintf("/api/scoring/participants/%s/activities", participant),
			body:       `{"activity_id":"nope"}`,
			err:        fmt.Errorf("%w: nope", scoringservice.ErrUnknownActivity),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "one-time already done",
			path:       fmt.Sprintf("/api/scoring/participants/%s/activities", participant),
			body:       `{"activity_id":"polar_plunge"}`,
			err:        scoringservice.ErrOneTimeAlreadyCompleted,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "missing participant",
			path:       fmt.Sprintf("/api/scoring/participants/%s/activities", participant),
			body:       `{"activity_id":"beer"}`,
			err:        scoringdb.ErrParticipantNotFound,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got scoringservice.SubmitActivityRequest
			svc := &FakeService{
				SubmitActivityFunc: func(ctx context.Context, req scoringservice.SubmitActivityRequest) (*scoringservice.SubmittedActivity, error) {
					got = req
					if tt.err != nil {
						return nil, tt.err
					}
					return &scoringservice.SubmittedActivity{Activity: scoringservice.ActivityEntry{Points: 4}}, nil
				},
			}
			srv := newTestServer(t, svc, nil)

			rec := srv.do(t, http.MethodPost, tt.path, tt.body, "")
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.name == "created" {
				assert.Equal(t, participant, got.ParticipantID)
				assert.Equal(t, "beer", got.ActivityID)
				assert.Equal(t, []string{"boat"}, got.MultiplierIDs)
				require.NotNil(t, got.Quantity)
				assert.Equal(t, 2.0, *got.Quantity)
			}
		})
	}
}

func TestAdminRoutesRequireAdminToken(t *testing.T) {
	tests := []struct {
		name       string
		role       scoringauth.Role
		wantStatus int
	}{
		{name: "no token", role: "", wantStatus: http.StatusUnauthorized},
		{name: "viewer token", role: scoringauth.RoleViewer, wantStatus: http.StatusForbidden},
		{name: "admin token", role: scoringauth.RoleAdmin, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &FakeService{}
			srv := newTestServer(t, svc, nil)

			rec := srv.do(t, http.MethodGet, "/api/scoring/admin/audit", "", tt.role)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.NotContains(t, svc.Trace(), "AuditAll")
			}
		})
	}
}

func TestAdminRouteRejectsForeignToken(t *testing.T) {
	srv := newTestServer(t, &FakeService{}, nil)
	other, err := scoringauth.NewProvider("another-secret-at-least-32-chars!!", "scorekeeper")
	require.NoError(t, err)
	token, err := other.GenerateToken("mallory", scoringauth.RoleAdmin, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/scoring/admin/repair", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleRepairAll(t *testing.T) {
	t.Run("synchronous", func(t *testing.T) {
		svc := &FakeService{
			RepairAllFunc: func(ctx context.Context, sink scoringservice.ProgressSink) (*scoringservice.RepairSummary, error) {
				return &scoringservice.RepairSummary{Discrepancies: 2, FixedCount: 2}, nil
			},
		}
		srv := newTestServer(t, svc, &FakeQueue{})

		rec := srv.do(t, http.MethodPost, "/api/scoring/admin/repair", "", scoringauth.RoleAdmin)
		require.Equal(t, http.StatusOK, rec.Code)
		var summary scoringservice.RepairSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Equal(t, 2, summary.FixedCount)
	})

	t.Run("interrupted returns partial summary", func(t *testing.T) {
		svc := &FakeService{
			RepairAllFunc: func(ctx context.Context, sink scoringservice.ProgressSink) (*scoringservice.RepairSummary, error) {
				return &scoringservice.RepairSummary{Discrepancies: 3, FixedCount: 1, Interrupted: true}, context.Canceled
			},
		}
		srv := newTestServer(t, svc, nil)

		rec := srv.do(t, http.MethodPost, "/api/scoring/admin/repair", "", scoringauth.RoleAdmin)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"interrupted":true`)
	})

	t.Run("async enqueues a job", func(t *testing.T) {
		svc := &FakeService{}
		queue := &FakeQueue{jobID: 77}
		srv := newTestServer(t, svc, queue)

		rec := srv.do(t, http.MethodPost, "/api/scoring/admin/repair?async=true", "", scoringauth.RoleAdmin)
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.JSONEq(t, `{"job_id":77}`, rec.Body.String())
		assert.Equal(t, []string{"manual"}, queue.reasons)
		assert.NotContains(t, svc.Trace(), "RepairAll")
	})

	t.Run("async without queue", func(t *testing.T) {
		srv := newTestServer(t, &FakeService{}, nil)
		rec := srv.do(t, http.MethodPost, "/api/scoring/admin/repair?async=1", "", scoringauth.RoleAdmin)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleMerge(t *testing.T) {
	survivor, duplicate := uuid.New(), uuid.New()
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCall   string
	}{
		{name: "merge every group", body: "", wantStatus: http.StatusOK, wantCall: "MergeDuplicates"},
		{
			name:       "merge one pair",
			body:       fmt.Sprintf(`{"survivor_id":%q,"duplicate_id":%q}`, survivor, duplicate),
			wantStatus: http.StatusOK,
			wantCall:   "MergeParticipants",
		},
		{
			name:       "half a pair",
			body:       fmt.Sprintf(`{"survivor_id":%q}`, survivor),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &FakeService{}
			srv := newTestServer(t, svc, nil)

			rec := srv.do(t, http.MethodPost, "/api/scoring/admin/merge", tt.body, scoringauth.RoleAdmin)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantCall != "" {
				assert.Contains(t, svc.Trace(), tt.wantCall)
			}
		})
	}
}

func TestHandleAdjustScoreRecordsAdmin(t *testing.T) {
	participant := uuid.New()
	var gotReason string
	var gotPoints int
	svc := &FakeService{
		AdjustScoreFunc: func(ctx context.Context, id uuid.UUID, points int, reason string) (*scoringservice.SubmittedActivity, error) {
			gotPoints, gotReason = points, reason
			return &scoringservice.SubmittedActivity{}, nil
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, http.MethodPost,
		fmt.Sprintf("/api/scoring/participants/%s/adjust", participant),
		`{"points":-15,"reason":"double entry"}`, scoringauth.RoleAdmin)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, -15, gotPoints)
	assert.Equal(t, "tester: double entry", gotReason)
}

func TestHandleCatalog(t *testing.T) {
	srv := newTestServer(t, &FakeService{}, nil)

	rec := srv.do(t, http.MethodGet, "/api/scoring/catalog?category=competition", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp catalogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Activities)
	for _, a := range resp.Activities {
		assert.Equal(t, "competition", a.Category)
		assert.Equal(t, "competition", a.Kind)
		assert.NotNil(t, a.Win)
		assert.NotNil(t, a.Loss)
	}
	assert.Equal(t, -100, resp.MinPoints)
	assert.Equal(t, 10000, resp.MaxPoints)

	rec = srv.do(t, http.MethodGet, "/api/scoring/catalog?category=nonsense", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeleteParticipant(t *testing.T) {
	id := uuid.New()
	svc := &FakeService{
		DeleteParticipantFunc: func(ctx context.Context, got uuid.UUID) error {
			if got != id {
				return scoringdb.ErrParticipantNotFound
			}
			return nil
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, http.MethodDelete, "/api/scoring/participants/"+id.String(), "", scoringauth.RoleAdmin)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/api/scoring/participants/"+uuid.NewString(), "", scoringauth.RoleAdmin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRegisterParticipantDuplicate(t *testing.T) {
	svc := &FakeService{
		RegisterParticipantFunc: func(ctx context.Context, name string) (*scoringservice.ParticipantInfo, error) {
			return nil, scoringservice.ErrDuplicateName
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, http.MethodPost, "/api/scoring/participants", `{"name":"bob"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), scoringservice.ErrDuplicateName.Error())
}
