package scoringhandlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	scoringservice "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/application"
	scoringevents "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ScoringHandlers implements the Handlers interface.
type ScoringHandlers struct {
	service scoringservice.Service
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewScoringHandlers creates a new ScoringHandlers instance.
func NewScoringHandlers(
	service scoringservice.Service,
	logger *slog.Logger,
	tracer trace.Tracer,
) Handlers {
	return &ScoringHandlers{
		service: service,
		logger:  logger,
		tracer:  tracer,
	}
}

// HandleScoreChanged drops cached scores for the participants named in the event. Events
// published by this instance arrive here too; invalidating twice is harmless.
func (h *ScoringHandlers) HandleScoreChanged(ctx context.Context, topic string, payload scoringevents.AffectedParticipants) error {
	ctx, span := h.tracer.Start(ctx, "ScoringHandlers.HandleScoreChanged")
	defer span.End()

	ids := payload.Participants()
	span.SetAttributes(
		attribute.String("topic", topic),
		attribute.StringSlice("participant_ids", ids),
	)

	h.service.InvalidateCache(ids...)

	h.logger.DebugContext(ctx, "Invalidated cached scores",
		attr.String("topic", topic),
		attr.String("participant_ids", strings.Join(ids, ",")),
	)
	return nil
}
