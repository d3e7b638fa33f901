package scoringhandlers

import (
	"context"
	"net/http"

	scoringevents "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain/events"
)

// Handlers defines the interface for scoring event handlers.
type Handlers interface {
	// HandleScoreChanged drops the local cache entries of every participant named in the event.
	HandleScoreChanged(ctx context.Context, topic string, payload scoringevents.AffectedParticipants) error
}

// HTTPHandlers defines the scoring HTTP API.
type HTTPHandlers interface {
	HandleLeaderboard(w http.ResponseWriter, r *http.Request)
	HandleParticipantScore(w http.ResponseWriter, r *http.Request)
	HandleCatalog(w http.ResponseWriter, r *http.Request)
	HandlePopularActivities(w http.ResponseWriter, r *http.Request)
	HandleListParticipants(w http.ResponseWriter, r *http.Request)
	HandleRegisterParticipant(w http.ResponseWriter, r *http.Request)
	HandleSubmitActivity(w http.ResponseWriter, r *http.Request)
	HandleDeleteActivity(w http.ResponseWriter, r *http.Request)
	HandleDeleteParticipant(w http.ResponseWriter, r *http.Request)
	HandleAdjustScore(w http.ResponseWriter, r *http.Request)
	HandleAudit(w http.ResponseWriter, r *http.Request)
	HandleRepairOne(w http.ResponseWriter, r *http.Request)
	HandleRepairAll(w http.ResponseWriter, r *http.Request)
	HandleFindDuplicates(w http.ResponseWriter, r *http.Request)
	HandleMerge(w http.ResponseWriter, r *http.Request)
	HandleRecentJobs(w http.ResponseWriter, r *http.Request)
}
