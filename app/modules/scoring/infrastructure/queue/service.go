package scoringqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/uptrace/bun"
)

// QueueName is the dedicated River queue for scoring jobs.
const QueueName = "scoring"

// Metrics interface (satisfied by the scoring metrics)
type Metrics interface {
	RecordOperationAttempt(ctx context.Context, operation, service string)
	RecordOperationSuccess(ctx context.Context, operation, service string)
	RecordOperationFailure(ctx context.Context, operation, service string)
	RecordOperationDuration(ctx context.Context, operation, service string, duration time.Duration)
}

// QueueService interface defines the contract for background reconcile jobs
type QueueService interface {
	// EnqueueReconcile inserts a reconcile_scores job and returns its id
	EnqueueReconcile(ctx context.Context, reason string) (int64, error)
	// RecentJobs lists the latest reconcile jobs (for debugging)
	RecentJobs(ctx context.Context, limit int) ([]JobInfo, error)
	// HealthCheck verifies the queue service is healthy
	HealthCheck(ctx context.Context) error
	// Start starts the queue service
	Start(ctx context.Context) error
	// Stop stops the queue service
	Stop(ctx context.Context) error
}

// Ensure Service implements QueueService
var _ QueueService = (*Service)(nil)

// Config tunes the reconcile schedule.
type Config struct {
	// ReconcileInterval schedules a periodic reconcile pass. Zero disables the schedule.
	ReconcileInterval time.Duration
	// JobTimeout bounds one reconcile pass. Zero uses River's default.
	JobTimeout time.Duration
	MaxWorkers int
}

// Service runs scoring background jobs using River
type Service struct {
	client  *river.Client[pgx.Tx]
	pool    *pgxpool.Pool
	logger  *slog.Logger
	db      *bun.DB
	metrics Metrics
}

// NewService creates a new River-based queue service for reconcile jobs
func NewService(ctx context.Context, bunDB *bun.DB, logger *slog.Logger, dsn string, metrics Metrics, reconciler Reconciler, cfg Config) (*Service, error) {
	ctxLogger := logger.With(
		attr.String("operation", "new_scoring_queue_service"),
		attr.String("component", "river_queue"),
	)

	start := time.Now()
	metrics.RecordOperationAttempt(ctx, "initialize_service", "river")

	ctxLogger.Info("Initializing scoring queue service")

	// River requires pgx, not database/sql
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		ctxLogger.Error("Failed to parse DSN for River", attr.Error(err))
		metrics.RecordOperationFailure(ctx, "initialize_service", "river")
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		ctxLogger.Error("Failed to create pgx pool for River", attr.Error(err))
		metrics.RecordOperationFailure(ctx, "initialize_service", "river")
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		ctxLogger.Error("Failed to ping database for River", attr.Error(err))
		metrics.RecordOperationFailure(ctx, "initialize_service", "river")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	riverConfig := newRiverConfig(ctxLogger, reconciler, cfg)

	riverClient, err := river.NewClient(riverpgxv5.New(pool), riverConfig)
	if err != nil {
		pool.Close()
		ctxLogger.Error("Failed to create River client", attr.Error(err))
		metrics.RecordOperationFailure(ctx, "initialize_service", "river")
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	service := &Service{
		client:  riverClient,
		pool:    pool,
		logger:  ctxLogger,
		db:      bunDB,
		metrics: metrics,
	}

	duration := time.Since(start)
	metrics.RecordOperationSuccess(ctx, "initialize_service", "river")
	metrics.RecordOperationDuration(ctx, "initialize_service", "river", duration)

	ctxLogger.Info("Scoring queue service initialized successfully",
		attr.Duration("reconcile_interval", cfg.ReconcileInterval))
	return service, nil
}

func newRiverConfig(logger *slog.Logger, reconciler Reconciler, cfg Config) *river.Config {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewReconcileWorker(logger, reconciler, cfg.JobTimeout))

	return &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
			QueueName:          {MaxWorkers: maxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: periodicJobs(cfg.ReconcileInterval),
		Logger:       logger,
	}
}

func periodicJobs(interval time.Duration) []*river.PeriodicJob {
	if interval <= 0 {
		return nil
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return ReconcileScoresArgs{Reason: ReasonScheduled}, reconcileInsertOpts()
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		),
	}
}

// At most one reconcile job is waiting or running at a time.
func reconcileInsertOpts() *river.InsertOpts {
	return &river.InsertOpts{
		Queue:       QueueName,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			ByState: []rivertype.JobState{
				rivertype.JobStateAvailable,
				rivertype.JobStatePending,
				rivertype.JobStateRetryable,
				rivertype.JobStateRunning,
				rivertype.JobStateScheduled,
			},
		},
	}
}

// Migrate applies River's schema migrations.
func Migrate(ctx context.Context, dsn string, logger *slog.Logger) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{})
	if err != nil {
		return fmt.Errorf("failed to run River migrations: %w", err)
	}

	for _, v := range res.Versions {
		logger.Info("Applied River migration", attr.Int("version", v.Version))
	}
	return nil
}

// Start starts the River queue service
func (s *Service) Start(ctx context.Context) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "start_service", "river")

	s.logger.Info("Starting scoring queue service")

	if err := s.client.Start(ctx); err != nil {
		s.logger.Error("Failed to start River client", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "start_service", "river")
		return fmt.Errorf("failed to start River client: %w", err)
	}

	duration := time.Since(start)
	s.metrics.RecordOperationSuccess(ctx, "start_service", "river")
	s.metrics.RecordOperationDuration(ctx, "start_service", "river", duration)

	s.logger.Info("Scoring queue service started successfully")
	return nil
}

// Stop stops the River queue service and closes its pool
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "stop_service", "river")

	s.logger.Info("Stopping scoring queue service")
	defer s.pool.Close()

	if err := s.client.Stop(ctx); err != nil {
		s.logger.Error("Failed to stop River client", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "stop_service", "river")
		return fmt.Errorf("failed to stop River client: %w", err)
	}

	duration := time.Since(start)
	s.metrics.RecordOperationSuccess(ctx, "stop_service", "river")
	s.metrics.RecordOperationDuration(ctx, "stop_service", "river", duration)

	s.logger.Info("Scoring queue service stopped successfully")
	return nil
}

// EnqueueReconcile inserts a reconcile job. A job already waiting is returned instead of a new one.
func (s *Service) EnqueueReconcile(ctx context.Context, reason string) (int64, error) {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "enqueue_reconcile", "river")

	if reason == "" {
		reason = ReasonManual
	}

	ctxLogger := s.logger.With(
		attr.String("operation", "enqueue_reconcile"),
		attr.String("reason", reason),
	)

	jobResult, err := s.client.Insert(ctx, ReconcileScoresArgs{Reason: reason}, reconcileInsertOpts())
	if err != nil {
		ctxLogger.Error("Failed to enqueue reconcile job", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "enqueue_reconcile", "river")
		return 0, fmt.Errorf("failed to enqueue reconcile job: %w", err)
	}

	duration := time.Since(start)
	s.metrics.RecordOperationSuccess(ctx, "enqueue_reconcile", "river")
	s.metrics.RecordOperationDuration(ctx, "enqueue_reconcile", "river", duration)

	ctxLogger.Info("Reconcile job enqueued",
		attr.Int64("job_id", jobResult.Job.ID),
		attr.Bool("unique_skipped", jobResult.UniqueSkippedAsDuplicate))
	return jobResult.Job.ID, nil
}

// RecentJobs returns the latest reconcile jobs, newest first
func (s *Service) RecentJobs(ctx context.Context, limit int) ([]JobInfo, error) {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "recent_jobs", "river")

	if limit <= 0 {
		limit = 20
	}

	type riverJobRow struct {
		ID          int64      `bun:"id"`
		Kind        string     `bun:"kind"`
		State       string     `bun:"state"`
		Reason      string     `bun:"reason"`
		CreatedAt   time.Time  `bun:"created_at"`
		FinalizedAt *time.Time `bun:"finalized_at"`
		Attempt     int16      `bun:"attempt"`
		MaxAttempts int16      `bun:"max_attempts"`
	}

	var jobs []riverJobRow
	err := s.db.NewSelect().
		Table("river_job").
		Column("id", "kind", "state", "created_at", "finalized_at", "attempt", "max_attempts").
		ColumnExpr("args->>'reason' AS reason").
		Where("kind = ?", ReconcileScoresArgs{}.Kind()).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx, &jobs)
	if err != nil {
		s.logger.Error("Failed to query reconcile jobs", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "recent_jobs", "river")
		return nil, fmt.Errorf("failed to query reconcile jobs: %w", err)
	}

	result := make([]JobInfo, len(jobs))
	for i, job := range jobs {
		finalizedAt := ""
		if job.FinalizedAt != nil {
			finalizedAt = job.FinalizedAt.Format(time.RFC3339)
		}
		result[i] = JobInfo{
			ID:          job.ID,
			Kind:        job.Kind,
			Reason:      job.Reason,
			State:       job.State,
			CreatedAt:   job.CreatedAt.Format(time.RFC3339),
			FinalizedAt: finalizedAt,
			Attempt:     int(job.Attempt),
			MaxAttempts: int(job.MaxAttempts),
		}
	}

	duration := time.Since(start)
	s.metrics.RecordOperationSuccess(ctx, "recent_jobs", "river")
	s.metrics.RecordOperationDuration(ctx, "recent_jobs", "river", duration)
	return result, nil
}

// HealthCheck verifies the queue service is healthy
func (s *Service) HealthCheck(ctx context.Context) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "health_check", "river")

	if s.client == nil {
		s.metrics.RecordOperationFailure(ctx, "health_check", "river")
		return fmt.Errorf("river client is nil")
	}

	var count int
	err := s.db.NewSelect().
		Table("river_job").
		ColumnExpr("COUNT(*)").
		Where("kind = ?", ReconcileScoresArgs{}.Kind()).
		Scan(ctx, &count)
	if err != nil {
		s.logger.Error("Queue service health check failed", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "health_check", "river")
		return fmt.Errorf("queue service health check failed: %w", err)
	}

	duration := time.Since(start)
	s.metrics.RecordOperationSuccess(ctx, "health_check", "river")
	s.metrics.RecordOperationDuration(ctx, "health_check", "river", duration)

	s.logger.Debug("Queue service health check passed", attr.Int("reconcile_jobs", count))
	return nil
}
