package scoringservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	"github.com/Black-And-White-Club/frolf-bot-shared/utils/results"
	scoringdomain "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain"
	scoringmetrics "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/metrics"
	scoringdb "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/repositories"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	serviceName = "ScoringService"

	// DefaultLeaderboardLimit is used when a caller passes a non-positive limit.
	DefaultLeaderboardLimit = 50
	// DefaultConcurrency bounds parallel log reads during leaderboard builds and audits.
	DefaultConcurrency = 8

	// RepairReasonDynamicFix annotates repairs triggered by audit/repair operations.
	RepairReasonDynamicFix = "dynamic-scoring-fix"
	// RepairReasonMerge annotates the survivor repair that follows a merge.
	RepairReasonMerge = "participant-merge"
)

// errRollback aborts a transaction whose operation returned a domain failure.
var errRollback = errors.New("rollback on failure result")

// EventPublisher publishes scoring events after their transaction commits.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// ScoringService implements the Service interface.
type ScoringService struct {
	repo       scoringdb.Repository
	catalog    *scoringdomain.Catalog
	calculator *scoringdomain.Calculator
	cache      *ScoreCache
	publisher  EventPublisher
	logger     *slog.Logger
	metrics    scoringmetrics.ScoringMetrics
	tracer     trace.Tracer
	db         *bun.DB

	now          func() time.Time
	concurrency  int
	defaultLimit int
	inflight     singleflight.Group
}

// Option customises a ScoringService.
type Option func(*ScoringService)

// WithClock replaces time.Now for annotations and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *ScoringService) { s.now = now }
}

// WithConcurrency bounds parallel log reads in leaderboard builds and audits.
func WithConcurrency(n int) Option {
	return func(s *ScoringService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLeaderboardLimit sets the limit used when BuildLeaderboard gets a non-positive one.
func WithLeaderboardLimit(n int) Option {
	return func(s *ScoringService) {
		if n > 0 {
			s.defaultLimit = n
		}
	}
}

// NewScoringService creates a new ScoringService. A nil cache gets a default one; a nil publisher
// disables events.
func NewScoringService(
	repo scoringdb.Repository,
	catalog *scoringdomain.Catalog,
	cache *ScoreCache,
	publisher EventPublisher,
	logger *slog.Logger,
	metrics scoringmetrics.ScoringMetrics,
	tracer trace.Tracer,
	db *bun.DB,
	opts ...Option,
) *ScoringService {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewScoreCache(DefaultCacheTTL, DefaultCacheSize, nil)
	}
	s := &ScoringService{
		repo:         repo,
		catalog:      catalog,
		calculator:   scoringdomain.NewCalculator(catalog),
		cache:        cache,
		publisher:    publisher,
		logger:       logger,
		metrics:      metrics,
		tracer:       tracer,
		db:           db,
		now:          time.Now,
		concurrency:  DefaultConcurrency,
		defaultLimit: DefaultLeaderboardLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the catalog the service was built with.
func (s *ScoringService) Catalog() *scoringdomain.Catalog {
	return s.catalog
}

// CalculatePoints exposes the pure calculator.
func (s *ScoringService) CalculatePoints(def scoringdomain.ActivityDefinition, multiplierIDs []string, quantity scoringdomain.Quantity, opts scoringdomain.Options) scoringdomain.Points {
	return s.calculator.CalculatePoints(def, multiplierIDs, quantity, opts)
}

// InvalidateCache drops cached scores, typically on events from other instances.
func (s *ScoringService) InvalidateCache(participantIDs ...string) {
	for _, raw := range participantIDs {
		id, err := parseID(raw)
		if err != nil {
			s.logger.Warn("Ignoring cache invalidation for malformed participant id", attr.String("participant_id", raw))
			continue
		}
		s.cache.Invalidate(id)
	}
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid participant id %q: %w", raw, err)
	}
	return id, nil
}

// publish sends an event and only logs failures: the state change has already committed.
func (s *ScoringService) publish(ctx context.Context, topic string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish scoring event",
			attr.ExtractCorrelationID(ctx),
			attr.String("topic", topic),
			attr.Error(err),
		)
	}
}

// unwrap turns an operation result into the public (value, error) shape.
func unwrap[S any](result results.OperationResult[S, error], err error) (S, error) {
	var zero S
	if err != nil {
		return zero, err
	}
	if result.IsFailure() {
		return zero, *result.Failure
	}
	if result.Success == nil {
		return zero, fmt.Errorf("operation returned neither success nor failure")
	}
	return *result.Success, nil
}

// -----------------------------------------------------------------------------
// Generic Helpers (Defined as functions because methods cannot have type params)
// -----------------------------------------------------------------------------

// operationFunc is the generic signature for service operation functions.
type operationFunc[S any, F any] func(ctx context.Context) (results.OperationResult[S, F], error)

// withTelemetry wraps a service operation with tracing, metrics, and panic recovery.
func withTelemetry[S any, F any](
	s *ScoringService,
	ctx context.Context,
	operationName string,
	identifier string,
	op operationFunc[S, F],
) (result results.OperationResult[S, F], err error) {

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, operationName, trace.WithAttributes(
			attribute.String("operation", operationName),
			attribute.String("identifier", identifier),
		))
	} else {
		span = trace.SpanFromContext(ctx)
	}
	defer span.End()

	if s.metrics != nil {
		s.metrics.RecordOperationAttempt(ctx, operationName, serviceName)
	}

	startTime := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordOperationDuration(ctx, operationName, serviceName, time.Since(startTime))
		}
	}()

	s.logger.InfoContext(ctx, "Operation triggered", attr.ExtractCorrelationID(ctx), attr.String("operation", operationName))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", operationName, r)
			s.logger.ErrorContext(ctx, "Critical panic recovered",
				attr.ExtractCorrelationID(ctx),
				attr.String("identifier", identifier),
				attr.Error(err),
			)
			if s.metrics != nil {
				s.metrics.RecordOperationFailure(ctx, operationName, serviceName)
			}
			span.RecordError(err)
			result = results.OperationResult[S, F]{}
		}
	}()

	result, err = op(ctx)

	if err != nil {
		wrappedErr := fmt.Errorf("%s: %w", operationName, err)
		s.logger.ErrorContext(ctx, "Operation failed with error",
			attr.ExtractCorrelationID(ctx),
			attr.String("operation", operationName),
			attr.String("identifier", identifier),
			attr.Error(wrappedErr),
		)
		if s.metrics != nil {
			s.metrics.RecordOperationFailure(ctx, operationName, serviceName)
		}
		span.RecordError(wrappedErr)
		return result, wrappedErr
	}

	if result.IsFailure() {
		s.logger.WarnContext(ctx, "Operation returned failure result",
			attr.ExtractCorrelationID(ctx),
			attr.String("operation", operationName),
			attr.String("identifier", identifier),
			attr.Any("failure_payload", *result.Failure),
		)
	}

	if result.IsSuccess() {
		s.logger.InfoContext(ctx, "Operation completed successfully",
			attr.ExtractCorrelationID(ctx),
			attr.String("operation", operationName),
			attr.String("identifier", identifier),
		)
	}

	if s.metrics != nil {
		s.metrics.RecordOperationSuccess(ctx, operationName, serviceName)
	}

	return result, nil
}

// runInTx ensures the operation runs within a transaction.
func runInTx[S any, F any](
	s *ScoringService,
	ctx context.Context,
	fn func(ctx context.Context, db bun.IDB) (results.OperationResult[S, F], error),
) (results.OperationResult[S, F], error) {

	if s.db == nil {
		return fn(ctx, nil)
	}

	var result results.OperationResult[S, F]

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var txErr error
		result, txErr = fn(ctx, tx)
		if txErr == nil && result.IsFailure() {
			// Domain failures must not leave partial writes behind.
			return errRollback
		}
		return txErr
	})
	if errors.Is(err, errRollback) {
		return result, nil
	}

	return result, err
}
