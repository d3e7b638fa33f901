package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	"github.com/Black-And-White-Club/scorekeeper/app/eventbus"
	scoringservice "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/application"
	scoringdomain "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/domain"
	scoringauth "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/auth"
	scoringhandlers "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/handlers"
	scoringmetrics "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/metrics"
	scoringqueue "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/queue"
	scoringdb "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/repositories"
	scoringrouter "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/router"
	"github.com/Black-And-White-Club/scorekeeper/config"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/trace"
)

// Deps bundles the shared infrastructure a module is built on.
type Deps struct {
	Config   *config.Config
	DB       *bun.DB
	EventBus eventbus.EventBus
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Registry *prometheus.Registry
	Auth     scoringauth.Provider
}

// Module represents the scoring module.
type Module struct {
	ScoringService scoringservice.Service
	ScoringRouter  *scoringrouter.ScoringRouter
	QueueService   scoringqueue.QueueService
	httpHandlers   scoringhandlers.HTTPHandlers
	auth           scoringauth.Provider
	routeConfig    scoringhandlers.RouteConfig
	logger         *slog.Logger
	cancelFunc     context.CancelFunc
}

// NewScoringModule creates and initializes a new scoring module. serve builds the River queue
// and the event router; one-shot CLI commands pass false and only use ScoringService.
func NewScoringModule(ctx context.Context, deps Deps, serve bool) (*Module, error) {
	logger := deps.Logger
	cfg := deps.Config

	logger.InfoContext(ctx, "scoring.NewScoringModule initializing")

	// 1. Catalog
	catalog := scoringdomain.DefaultCatalog()
	if cfg.Scoring.CatalogFile != "" {
		loaded, err := scoringdomain.LoadCatalogFile(cfg.Scoring.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		catalog = loaded
		logger.InfoContext(ctx, "Loaded activity catalog", attr.String("path", cfg.Scoring.CatalogFile))
	}

	// 2. Repository and metrics
	repo := scoringdb.NewRepository(deps.DB)

	metrics := scoringmetrics.NewNoop()
	if deps.Registry != nil {
		promMetrics, err := scoringmetrics.NewPrometheus(deps.Registry)
		if err != nil {
			return nil, fmt.Errorf("failed to register scoring metrics: %w", err)
		}
		metrics = promMetrics
	}

	// 3. Service
	cache := scoringservice.NewScoreCache(cfg.Scoring.CacheTTL, cfg.Scoring.CacheSize, nil)
	service := scoringservice.NewScoringService(
		repo,
		catalog,
		cache,
		deps.EventBus,
		logger,
		metrics,
		deps.Tracer,
		deps.DB,
		scoringservice.WithConcurrency(cfg.Scoring.LeaderboardConcurrency),
		scoringservice.WithLeaderboardLimit(cfg.Scoring.LeaderboardLimit),
	)

	module := &Module{
		ScoringService: service,
		auth:           deps.Auth,
		logger:         logger,
		routeConfig: scoringhandlers.RouteConfig{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			RateLimit:      cfg.HTTP.RateLimit,
			RateBurst:      cfg.HTTP.RateBurst,
		},
	}

	// 4. Queue
	var queue scoringhandlers.ReconcileQueue
	if serve {
		queueService, err := scoringqueue.NewService(ctx, deps.DB, logger, cfg.Postgres.DSN, metrics, service, scoringqueue.Config{
			ReconcileInterval: cfg.Scoring.ReconcileInterval,
			JobTimeout:        cfg.Scoring.ReconcileTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create scoring queue service: %w", err)
		}
		module.QueueService = queueService
		queue = queueService
	}

	// 5. Handlers and router
	handlers := scoringhandlers.NewScoringHandlers(service, logger, deps.Tracer)
	module.httpHandlers = scoringhandlers.NewScoringHTTPHandlers(service, queue, logger, deps.Tracer)

	if serve && deps.EventBus != nil {
		messageRouter, err := scoringrouter.NewMessageRouter(logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create message router: %w", err)
		}
		module.ScoringRouter = scoringrouter.NewScoringRouter(logger, messageRouter, deps.EventBus.Subscriber(), deps.Tracer, deps.Registry)
		if err := module.ScoringRouter.Configure(ctx, handlers); err != nil {
			return nil, fmt.Errorf("failed to configure scoring router: %w", err)
		}
	}

	return module, nil
}

// RegisterRoutes mounts the scoring HTTP API.
func (m *Module) RegisterRoutes(router chi.Router) {
	scoringhandlers.RegisterRoutes(router, m.httpHandlers, m.auth, m.routeConfig)
}

// Run starts the background parts of the scoring module and blocks until ctx ends.
func (m *Module) Run(ctx context.Context, wg *sync.WaitGroup) {
	m.logger.InfoContext(ctx, "Starting scoring module")

	ctx, cancel := context.WithCancel(ctx)
	m.cancelFunc = cancel
	defer cancel()

	if wg != nil {
		defer wg.Done()
	}

	if m.QueueService != nil {
		// River stops through Close so running reconcile jobs can finish.
		if err := m.QueueService.Start(context.WithoutCancel(ctx)); err != nil {
			m.logger.ErrorContext(ctx, "Failed to start scoring queue", attr.Error(err))
		}
	}

	if m.ScoringRouter != nil {
		go func() {
			if err := m.ScoringRouter.Router.Run(ctx); err != nil {
				m.logger.ErrorContext(ctx, "Scoring message router stopped", attr.Error(err))
			}
		}()
	}

	<-ctx.Done()
	m.logger.InfoContext(ctx, "Scoring module goroutine stopped")
}

// Close shuts down the scoring module.
func (m *Module) Close(ctx context.Context) error {
	m.logger.Info("Stopping scoring module")

	if m.cancelFunc != nil {
		m.cancelFunc()
	}

	var firstErr error
	if m.QueueService != nil {
		if err := m.QueueService.Stop(ctx); err != nil {
			m.logger.Error("Error stopping scoring queue", attr.Error(err))
			firstErr = fmt.Errorf("error stopping scoring queue: %w", err)
		}
	}

	if m.ScoringRouter != nil {
		if err := m.ScoringRouter.Close(); err != nil {
			m.logger.Error("Error closing ScoringRouter from module", attr.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("error closing ScoringRouter: %w", err)
			}
		}
	}

	m.logger.Info("Scoring module stopped")
	return firstErr
}
