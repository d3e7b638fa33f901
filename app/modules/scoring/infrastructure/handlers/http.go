package scoringhandlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	scoringservice "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/application"
	scoringdomain "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain"
	scoringqueue "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/queue"
	scoringdb "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/repositories"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 1 << 16

// ReconcileQueue is the part of the queue service the HTTP API needs. It may be nil, in which
// case async repairs are rejected.
type ReconcileQueue interface {
	EnqueueReconcile(ctx context.Context, reason string) (int64, error)
	RecentJobs(ctx context.Context, limit int) ([]scoringqueue.JobInfo, error)
}

// ScoringHTTPHandlers implements HTTPHandlers.
type ScoringHTTPHandlers struct {
	service scoringservice.Service
	queue   ReconcileQueue
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewScoringHTTPHandlers creates the HTTP handlers.
func NewScoringHTTPHandlers(
	service scoringservice.Service,
	queue ReconcileQueue,
	logger *slog.Logger,
	tracer trace.Tracer,
) *ScoringHTTPHandlers {
	return &ScoringHTTPHandlers{
		service: service,
		queue:   queue,
		logger:  logger,
		tracer:  tracer,
	}
}

var _ HTTPHandlers = (*ScoringHTTPHandlers)(nil)

type errorResponse struct {
	Error string `json:"error"`
}

func (h *ScoringHTTPHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", attr.Error(err))
	}
}

func (h *ScoringHTTPHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed",
			attr.String("path", r.URL.Path),
			attr.Error(err))
		h.writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scoringdb.ErrParticipantNotFound),
		errors.Is(err, scoringdb.ErrActivityNotFound):
		return http.StatusNotFound
	case errors.Is(err, scoringservice.ErrOneTimeAlreadyCompleted),
		errors.Is(err, scoringservice.ErrParticipantDeleted),
		errors.Is(err, scoringservice.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, scoringservice.ErrUnknownActivity),
		errors.Is(err, scoringservice.ErrInvalidOptions),
		errors.Is(err, scoringservice.ErrInvalidMerge),
		errors.Is(err, scoringservice.ErrInvalidAdjustment),
		errors.Is(err, scoringdomain.ErrEmptyName),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return errBadRequest }

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, badRequest("invalid " + name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, badRequest("invalid " + name)
	}
	return v, nil
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

// HandleLeaderboard serves GET /leaderboard?limit=.
func (h *ScoringHTTPHandlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	board, err := h.service.BuildLeaderboard(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, board)
}

// HandleParticipantScore serves GET /participants/{id}/score?fresh=.
func (h *ScoringHTTPHandlers) HandleParticipantScore(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	score, err := h.service.GetParticipantScore(r.Context(), id, queryBool(r, "fresh"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, score)
}

type catalogActivity struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Category              string   `json:"category"`
	Group                 string   `json:"group,omitempty"`
	Kind                  string   `json:"kind"`
	Base                  *float64 `json:"base,omitempty"`
	Win                   *float64 `json:"win,omitempty"`
	Loss                  *float64 `json:"loss,omitempty"`
	Penalty               *float64 `json:"penalty,omitempty"`
	OneTimeOnly           bool     `json:"one_time_only"`
	Unlimited             bool     `json:"unlimited"`
	EligibleMultiplierIDs []string `json:"eligible_multiplier_ids"`
}

type catalogMultiplier struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Factor               float64 `json:"factor"`
	AppliesToConsumables bool    `json:"applies_to_consumables"`
	AppliesToOthers      bool    `json:"applies_to_others"`
}

type catalogResponse struct {
	Activities  []catalogActivity   `json:"activities"`
	Multipliers []catalogMultiplier `json:"multipliers"`
	MinPoints   int                 `json:"min_points"`
	MaxPoints   int                 `json:"max_points"`
}

func toCatalogActivity(def scoringdomain.ActivityDefinition) catalogActivity {
	out := catalogActivity{
		ID:                    def.ID,
		Name:                  def.Name,
		Category:              string(def.Category),
		Group:                 def.Group,
		OneTimeOnly:           def.OneTimeOnly,
		Unlimited:             def.Unlimited,
		EligibleMultiplierIDs: def.EligibleMultiplierIDs,
	}
	switch s := def.Scoring.(type) {
	case scoringdomain.FixedScoring:
		out.Kind = "fixed"
		out.Base = &s.Base
	case scoringdomain.CompetitionScoring:
		out.Kind = "competition"
		out.Win, out.Loss = &s.Win, &s.Loss
	case scoringdomain.RiskScoring:
		out.Kind = "risk"
		out.Base, out.Penalty = &s.Base, &s.Penalty
	}
	return out
}

// HandleCatalog serves GET /catalog with optional ?category= and ?q= filters.
func (h *ScoringHTTPHandlers) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	catalog := h.service.Catalog()

	var defs []scoringdomain.ActivityDefinition
	switch {
	case r.URL.Query().Get("q") != "":
		defs = catalog.Search(r.URL.Query().Get("q"))
	case r.URL.Query().Get("category") != "":
		category, err := scoringdomain.ParseCategory(r.URL.Query().Get("category"))
		if err != nil {
			h.writeError(w, r, badRequest(err.Error()))
			return
		}
		defs = catalog.ByCategory(category)
	default:
		defs = catalog.Activities()
	}

	resp := catalogResponse{
		Activities:  make([]catalogActivity, 0, len(defs)),
		Multipliers: []catalogMultiplier{},
		MinPoints:   int(catalog.Bounds().Min),
		MaxPoints:   int(catalog.Bounds().Max),
	}
	for _, def := range defs {
		resp.Activities = append(resp.Activities, toCatalogActivity(def))
	}
	for _, m := range catalog.Multipliers() {
		resp.Multipliers = append(resp.Multipliers, catalogMultiplier{
			ID:                   m.ID,
			Name:                 m.Name,
			Factor:               m.Factor,
			AppliesToConsumables: m.AppliesToConsumables,
			AppliesToOthers:      m.AppliesToOthers,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandlePopularActivities serves GET /stats/popular?limit=.
func (h *ScoringHTTPHandlers) HandlePopularActivities(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	popular, err := h.service.PopularActivities(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, popular)
}

// HandleListParticipants serves GET /participants.
func (h *ScoringHTTPHandlers) HandleListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.service.ListParticipants(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, participants)
}

type registerRequest struct {
	Name string `json:"name"`
}

// HandleRegisterParticipant serves POST /participants.
func (h *ScoringHTTPHandlers) HandleRegisterParticipant(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	participant, err := h.service.RegisterParticipant(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, participant)
}

type submitRequest struct {
	ActivityID        string   `json:"activity_id"`
	MultiplierIDs     []string `json:"multiplier_ids"`
	Quantity          *float64 `json:"quantity"`
	CompetitionResult string   `json:"competition_result"`
	PenaltyCaught     bool     `json:"penalty_caught"`
	RiskOutcome       string   `json:"risk_outcome"`
	Notes             string   `json:"notes"`
}

// HandleSubmitActivity serves POST /participants/{id}/activities.
func (h *ScoringHTTPHandlers) HandleSubmitActivity(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	submitted, err := h.service.SubmitActivity(r.Context(), scoringservice.SubmitActivityRequest{
		ParticipantID:     id,
		ActivityID:        req.ActivityID,
		MultiplierIDs:     req.MultiplierIDs,
		Quantity:          req.Quantity,
		CompetitionResult: req.CompetitionResult,
		PenaltyCaught:     req.PenaltyCaught,
		RiskOutcome:       req.RiskOutcome,
		Notes:             req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, submitted)
}

// HandleDeleteActivity serves DELETE /participants/{id}/activities/{recordID}.
func (h *ScoringHTTPHandlers) HandleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	recordID, err := pathUUID(r, "recordID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.service.DeleteActivity(r.Context(), id, recordID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

// HandleDeleteParticipant serves DELETE /participants/{id}.
func (h *ScoringHTTPHandlers) HandleDeleteParticipant(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.DeleteParticipant(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adjustRequest struct {
	Points int    `json:"points"`
	Reason string `json:"reason"`
}

// HandleAdjustScore serves POST /participants/{id}/adjust.
func (h *ScoringHTTPHandlers) HandleAdjustScore(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req adjustRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	reason := req.Reason
	if claims := ClaimsFromContext(r.Context()); claims != nil && claims.Subject != "" {
		reason = claims.Subject + ": " + reason
	}

	adjusted, err := h.service.AdjustScore(r.Context(), id, req.Points, reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, adjusted)
}

// HandleAudit serves GET /admin/audit.
func (h *ScoringHTTPHandlers) HandleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.AuditAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// HandleRepairOne serves POST /admin/repair/{id}.
func (h *ScoringHTTPHandlers) HandleRepairOne(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.service.RepairOne(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type enqueueResponse struct {
	JobID int64 `json:"job_id"`
}

// HandleRepairAll serves POST /admin/repair?async=. The synchronous form returns the summary;
// the async form enqueues a reconcile job and returns 202 with its id.
func (h *ScoringHTTPHandlers) HandleRepairAll(w http.ResponseWriter, r *http.Request) {
	if queryBool(r, "async") {
		if h.queue == nil {
			h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "background queue is not configured"})
			return
		}
		jobID, err := h.queue.EnqueueReconcile(r.Context(), scoringqueue.ReasonManual)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: jobID})
		return
	}

	summary, err := h.service.RepairAll(r.Context(), nil)
	if err != nil {
		if summary != nil && summary.Interrupted {
			h.writeJSON(w, http.StatusServiceUnavailable, summary)
			return
		}
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// HandleRecentJobs serves GET /admin/jobs.
func (h *ScoringHTTPHandlers) HandleRecentJobs(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		h.writeJSON(w, http.StatusOK, []scoringqueue.JobInfo{})
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jobs, err := h.queue.RecentJobs(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, jobs)
}

// HandleFindDuplicates serves GET /admin/duplicates.
func (h *ScoringHTTPHandlers) HandleFindDuplicates(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.FindDuplicates(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []scoringservice.DuplicateGroup{}
	}
	h.writeJSON(w, http.StatusOK, groups)
}

type mergeRequest struct {
	SurvivorID  *uuid.UUID `json:"survivor_id"`
	DuplicateID *uuid.UUID `json:"duplicate_id"`
}

// HandleMerge serves POST /admin/merge. With both ids it merges one pair; with an empty body it
// merges every duplicate group.
func (h *ScoringHTTPHandlers) HandleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	switch {
	case req.SurvivorID == nil && req.DuplicateID == nil:
		summary, err := h.service.MergeDuplicates(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, summary)
	case req.SurvivorID != nil && req.DuplicateID != nil:
		result, err := h.service.MergeParticipants(r.Context(), *req.SurvivorID, *req.DuplicateID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, result)
	default:
		h.writeError(w, r, badRequest("survivor_id and duplicate_id must be given together"))
	}
}
