package scoringhandlers

import (
	scoringauth "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/auth"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// RouteConfig carries the HTTP settings of the scoring API.
type RouteConfig struct {
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
}

// RegisterRoutes mounts the scoring API under /api/scoring.
func RegisterRoutes(router chi.Router, h HTTPHandlers, provider scoringauth.Provider, cfg RouteConfig) {
	limiter := NewIPRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)

	router.Route("/api/scoring", func(r chi.Router) {
		r.Use(chimiddleware.RequestID)
		r.Use(CorrelationMiddleware)
		r.Use(CORSMiddleware(cfg.AllowedOrigins))
		r.Use(RateLimitMiddleware(limiter))

		// Public routes
		r.Get("/leaderboard", h.HandleLeaderboard)
		r.Get("/catalog", h.HandleCatalog)
		r.Get("/stats/popular", h.HandlePopularActivities)
		r.Get("/participants", h.HandleListParticipants)
		r.Post("/participants", h.HandleRegisterParticipant)
		r.Get("/participants/{id}/score", h.HandleParticipantScore)
		r.Post("/participants/{id}/activities", h.HandleSubmitActivity)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(AdminMiddleware(provider))
			r.Delete("/participants/{id}", h.HandleDeleteParticipant)
			r.Delete("/participants/{id}/activities/{recordID}", h.HandleDeleteActivity)
			r.Post("/participants/{id}/adjust", h.HandleAdjustScore)

			r.Get("/admin/audit", h.HandleAudit)
			r.Post("/admin/repair", h.HandleRepairAll)
			r.Post("/admin/repair/{id}", h.HandleRepairOne)
			r.Get("/admin/jobs", h.HandleRecentJobs)
			r.Get("/admin/duplicates", h.HandleFindDuplicates)
			r.Post("/admin/merge", h.HandleMerge)
		})
	})
}
