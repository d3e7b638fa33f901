package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	"github.com/Black-And-White-Club/scorekeeper/app/eventbus"
	"github.com/Black-And-White-Club/scorekeeper/app/modules/scoring"
	scoringauth "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/auth"
	"github.com/Black-And-White-Club/scorekeeper/config"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.opentelemetry.io/otel"
)

const (
	serviceName     = "scorekeeper"
	shutdownTimeout = 10 * time.Second
)

// Mode selects which parts of the application are started.
type Mode int

const (
	// ModeServe runs the HTTP API, the event router and the reconcile queue.
	ModeServe Mode = iota
	// ModeCommand builds only what one-shot commands need.
	ModeCommand
)

// App holds the wired application.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *bun.DB
	EventBus      eventbus.EventBus
	Registry      *prometheus.Registry
	Auth          scoringauth.Provider
	ScoringModule *scoring.Module

	mode          Mode
	httpServer    *http.Server
	metricsServer *http.Server
	wg            sync.WaitGroup
}

// NewLogger builds the JSON logger used by every component.
func NewLogger(cfg *config.Config) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	return slog.New(handler).With(
		attr.String("service", serviceName),
		attr.String("environment", cfg.Observability.Environment),
	)
}

// NewDB opens the Postgres connection through bun.
func NewDB(dsn string) *bun.DB {
	pgdb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(pgdb, pgdialect.New())
}

// New wires the application for mode.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, mode Mode) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		mode:   mode,
	}

	app.DB = NewDB(cfg.Postgres.DSN)
	if err := app.DB.PingContext(ctx); err != nil {
		app.DB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if mode == ModeServe {
		if err := app.initServeDeps(); err != nil {
			app.DB.Close()
			return nil, err
		}
	}

	if err := app.initEventBus(); err != nil {
		app.DB.Close()
		return nil, err
	}

	module, err := scoring.NewScoringModule(ctx, scoring.Deps{
		Config:   cfg,
		DB:       app.DB,
		EventBus: app.EventBus,
		Logger:   logger,
		Tracer:   otel.Tracer("scorekeeper.scoring"),
		Registry: app.Registry,
		Auth:     app.Auth,
	}, mode == ModeServe)
	if err != nil {
		app.closeInfra()
		return nil, fmt.Errorf("failed to initialize scoring module: %w", err)
	}
	app.ScoringModule = module

	if mode == ModeServe {
		app.httpServer = &http.Server{
			Addr:              cfg.HTTP.Address,
			Handler:           app.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		if cfg.Observability.MetricsAddress != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{Registry: app.Registry}))
			app.metricsServer = &http.Server{
				Addr:              cfg.Observability.MetricsAddress,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
		}
	}

	return app, nil
}

func (app *App) initServeDeps() error {
	provider, err := scoringauth.NewProvider(app.Config.JWT.Secret, app.Config.JWT.Issuer)
	if err != nil {
		return fmt.Errorf("failed to create auth provider: %w", err)
	}
	app.Auth = provider

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return nil
}

// initEventBus connects to NATS, or falls back to an in-process bus when no URL is configured.
// One-shot commands publish to NATS when it is configured so running servers drop stale cache
// entries.
func (app *App) initEventBus() error {
	if app.Config.NATS.URL == "" {
		app.Logger.Warn("NATS URL not configured, using in-memory event bus")
		app.EventBus = eventbus.NewInMemory(app.Logger)
		return nil
	}

	bus, err := eventbus.NewNATS(app.Config.NATS.URL, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	app.EventBus = bus
	return nil
}

// Router builds the HTTP handler tree.
func (app *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", app.handleHealth)
	app.ScoringModule.RegisterRoutes(r)
	return r
}

func (app *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := app.DB.PingContext(ctx); err != nil {
		app.Logger.WarnContext(ctx, "Health check failed", attr.String("component", "database"), attr.Error(err))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	if q := app.ScoringModule.QueueService; q != nil {
		if err := q.HealthCheck(ctx); err != nil {
			app.Logger.WarnContext(ctx, "Health check failed", attr.String("component", "queue"), attr.Error(err))
			http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Run serves until ctx is cancelled, then shuts everything down.
func (app *App) Run(ctx context.Context) error {
	if app.mode != ModeServe {
		return errors.New("app was not built for serving")
	}

	app.wg.Add(1)
	go app.ScoringModule.Run(ctx, &app.wg)

	errCh := make(chan error, 2)
	go func() {
		app.Logger.Info("Starting HTTP server", attr.String("address", app.httpServer.Addr))
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if app.metricsServer != nil {
		go func() {
			app.Logger.Info("Starting metrics server", attr.String("address", app.metricsServer.Addr))
			if err := app.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		app.Logger.Info("Shutdown signal received")
	case runErr = <-errCh:
		app.Logger.Error("Server failed", attr.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Close(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close stops servers, modules and infrastructure in reverse start order.
func (app *App) Close(ctx context.Context) error {
	var errs []error

	for _, srv := range []*http.Server{app.httpServer, app.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}

	if app.ScoringModule != nil {
		if err := app.ScoringModule.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	app.wg.Wait()

	if err := app.closeInfra(); err != nil {
		errs = append(errs, err)
	}

	app.Logger.Info("Application shut down")
	return errors.Join(errs...)
}

func (app *App) closeInfra() error {
	var errs []error
	if app.EventBus != nil {
		if err := app.EventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
