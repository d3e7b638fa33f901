package scoringrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	scoringevents "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain/events"
	scoringhandlers "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/handlers"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	TestEnvironmentFlag  = "APP_ENV"
	TestEnvironmentValue = "test"
)

// ScoringRouter handles Watermill handler registration for scoring events.
type ScoringRouter struct {
	logger         *slog.Logger
	Router         *message.Router
	subscriber     message.Subscriber
	tracer         trace.Tracer
	metricsBuilder *metrics.PrometheusMetricsBuilder
	metricsEnabled bool
}

// NewScoringRouter creates a new ScoringRouter.
func NewScoringRouter(
	logger *slog.Logger,
	router *message.Router,
	subscriber message.Subscriber,
	tracer trace.Tracer,
	prometheusRegistry *prometheus.Registry,
) *ScoringRouter {
	inTestEnv := os.Getenv(TestEnvironmentFlag) == TestEnvironmentValue

	var metricsBuilder *metrics.PrometheusMetricsBuilder
	if prometheusRegistry != nil && !inTestEnv {
		builder := metrics.NewPrometheusMetricsBuilder(prometheusRegistry, "scorekeeper", "events")
		metricsBuilder = &builder
	}
	return &ScoringRouter{
		logger:         logger,
		Router:         router,
		subscriber:     subscriber,
		tracer:         tracer,
		metricsBuilder: metricsBuilder,
		metricsEnabled: metricsBuilder != nil,
	}
}

// NewMessageRouter builds the watermill router shared by the scoring handlers.
func NewMessageRouter(logger *slog.Logger) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, watermill.NewSlogLogger(logger))
}

// Configure adds middleware and registers the handlers.
func (r *ScoringRouter) Configure(_ context.Context, handlers scoringhandlers.Handlers) error {
	if r.metricsEnabled {
		r.logger.Info("Adding Prometheus router metrics middleware")
		r.metricsBuilder.AddPrometheusRouterMetrics(r.Router)
	} else {
		r.logger.Info("Skipping Prometheus router metrics middleware - either in test environment or metrics not configured")
	}

	r.Router.AddMiddleware(
		middleware.CorrelationID,
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			Logger:          watermill.NewSlogLogger(r.logger),
		}.Middleware,
		traceHandler(r.tracer),
	)

	r.registerHandlers(handlers)
	return nil
}

// handlerDeps bundles dependencies for handler registration.
type handlerDeps struct {
	router     *message.Router
	subscriber message.Subscriber
	logger     *slog.Logger
}

// registerHandlers wires scoring topics to cache invalidation.
func (r *ScoringRouter) registerHandlers(handlers scoringhandlers.Handlers) {
	deps := handlerDeps{
		router:     r.Router,
		subscriber: r.subscriber,
		logger:     r.logger,
	}

	r.logger.Info("Registering scoring module handlers", attr.Int("topics", len(scoringevents.Topics)))

	registerHandler[scoringevents.ActivityLoggedPayload](deps, scoringevents.ActivityLoggedV1, handlers.HandleScoreChanged)
	registerHandler[scoringevents.ActivityDeletedPayload](deps, scoringevents.ActivityDeletedV1, handlers.HandleScoreChanged)
	registerHandler[scoringevents.ScoreRepairedPayload](deps, scoringevents.ScoreRepairedV1, handlers.HandleScoreChanged)
	registerHandler[scoringevents.ParticipantsMergedPayload](deps, scoringevents.ParticipantsMergedV1, handlers.HandleScoreChanged)
	registerHandler[scoringevents.ParticipantDeletedPayload](deps, scoringevents.ParticipantDeletedV1, handlers.HandleScoreChanged)

	r.logger.Info("Scoring module handlers registered successfully")
}

// registerHandler decodes the JSON payload of topic into T before calling handle. Payloads
// that cannot be decoded are acked and dropped, retrying them cannot succeed.
func registerHandler[T scoringevents.AffectedParticipants](
	deps handlerDeps,
	topic string,
	handle func(ctx context.Context, topic string, payload scoringevents.AffectedParticipants) error,
) {
	handlerName := "scoring." + topic

	deps.router.AddNoPublisherHandler(
		handlerName,
		topic,
		deps.subscriber,
		func(msg *message.Message) error {
			ctx := msg.Context()

			var payload T
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				deps.logger.ErrorContext(ctx, "Dropping undecodable message",
					attr.String("handler", handlerName),
					attr.String("message_id", msg.UUID),
					attr.Error(err))
				return nil
			}

			if err := handle(ctx, topic, payload); err != nil {
				deps.logger.ErrorContext(ctx, "Error processing message",
					attr.String("message_id", msg.UUID),
					attr.Error(err))
				return fmt.Errorf("%s: %w", handlerName, err)
			}
			return nil
		},
	)
}

func traceHandler(tracer trace.Tracer) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if tracer == nil {
				return h(msg)
			}
			ctx, span := tracer.Start(msg.Context(), "scoring.event."+message.HandlerNameFromCtx(msg.Context()))
			defer span.End()

			span.SetAttributes(
				attribute.String("message_id", msg.UUID),
				attribute.String("correlation_id", middleware.MessageCorrelationID(msg)),
			)
			msg.SetContext(ctx)

			out, err := h(msg)
			if err != nil {
				span.RecordError(err)
			}
			return out, err
		}
	}
}

// Close shuts down the router.
func (r *ScoringRouter) Close() error {
	return r.Router.Close()
}
