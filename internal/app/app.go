// Package app wires configuration, services, and the HTTP surface into
// one runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"invsight/internal/config"
	apierrors "invsight/internal/errors"
	"invsight/internal/infrastructure"
	custommw "invsight/internal/middleware"
	"invsight/internal/pipeline"
	"invsight/internal/services"
	transporthttp "invsight/internal/transport/http"
	"invsight/internal/websocket"
)

// Application bundles every long-lived component of the server
type Application struct {
	cfg    *config.Config
	paths  *config.Paths
	logger *slog.Logger

	otel    *infrastructure.OTelProviders
	metrics *infrastructure.PipelineMetrics

	hub     *websocket.Hub
	manager *pipeline.Manager

	dataService   *services.DataService
	runService    *services.RunService
	healthService *services.HealthService

	server *http.Server
}

// New builds the application from configuration
func New(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	paths, err := config.NewPaths(cfg.Paths)
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	otelCfg := infrastructure.DefaultOTelConfig()
	if !cfg.Logging.Development {
		otelCfg.EnableTracing = false
	}
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	metrics, err := infrastructure.CreatePipelineMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	hub := websocket.NewHub(websocket.Config{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		PingPeriod:      cfg.WebSocket.PingPeriod,
		PongWait:        cfg.WebSocket.PongWait,
	}, logger)

	pipelineCfg := pipeline.NewConfig()
	if cfg.Pipeline.StageTimeout > 0 {
		pipelineCfg.DefaultStepTimeout = cfg.Pipeline.StageTimeout
	}
	manager := pipeline.NewManager(hub, pipeline.NewRegistry(), pipelineCfg, metrics, logger)
	if err := pipeline.RegisterDefaultSteps(manager, paths, cfg.Pipeline.ForecastHorizon, logger); err != nil {
		return nil, fmt.Errorf("failed to register pipeline steps: %w", err)
	}

	app := &Application{
		cfg:           cfg,
		paths:         paths,
		logger:        logger,
		otel:          providers,
		metrics:       metrics,
		hub:           hub,
		manager:       manager,
		dataService:   services.NewDataService(paths, logger),
		runService:    services.NewRunService(manager, paths, cfg.Server.RunTimeout, logger),
		healthService: services.NewHealthService(paths, hub, logger),
	}

	app.server = &http.Server{
		Addr:           cfg.GetListenAddr(),
		Handler:        app.router(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return app, nil
}

// router assembles the chi middleware chain and routes
func (a *Application) router() chi.Router {
	r := chi.NewRouter()

	errorHandler := apierrors.NewErrorHandler(a.logger, a.cfg.Logging.Development)

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)
	r.Use(custommw.StructuredLogger(a.logger))
	r.Use(custommw.Metrics(a.metrics))
	r.Use(custommw.Recoverer(a.logger))
	r.Use(custommw.SecurityHeaders)
	if a.cfg.Security.EnableCORS {
		r.Use(custommw.CORS(custommw.CORSConfig{
			AllowedOrigins: a.cfg.Security.AllowedOrigins,
		}))
	}
	if a.cfg.Security.RateLimit.Enabled {
		rps := a.cfg.Security.RateLimit.RPS
		if rps <= 0 {
			rps = config.DefaultRateLimit
		}
		burst := a.cfg.Security.RateLimit.Burst
		if burst <= 0 {
			burst = config.DefaultBurstSize
		}
		r.Use(custommw.NewRateLimiter(rps, burst, a.logger).Handler)
	}
	r.Use(custommw.Timeout(config.DefaultHTTPTimeout, a.logger))

	r.Route("/api", func(r chi.Router) {
		r.Mount("/health", transporthttp.NewHealthHandler(a.healthService, a.logger).Routes())
		r.Mount("/operations", transporthttp.NewOperationsHandler(
			a.runService, a.cfg.Server.MaxUploadBytes, a.logger, errorHandler).Routes())
		r.Mount("/data", transporthttp.NewDataHandler(a.dataService, a.logger, errorHandler).Routes())
	})

	if a.otel.PrometheusHTTP != nil {
		r.Handle("/metrics", a.otel.PrometheusHTTP)
	}

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		if err := websocket.ServeWS(a.hub, w, req, a.logger); err != nil {
			a.logger.ErrorContext(req.Context(), "websocket upgrade failed",
				slog.String("error", err.Error()))
		}
	})

	return r
}

// Run starts the server and blocks until the context is cancelled or
// the listener fails
func (a *Application) Run(ctx context.Context) error {
	a.hub.Start()

	// Periodically drop finished runs from memory
	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	go a.cleanupLoop(cleanupCtx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server listening",
			slog.String("addr", a.server.Addr),
			slog.String("version", config.AppVersion))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *Application) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.manager.CleanupOldRuns(24 * time.Hour)
		}
	}
}

// shutdown stops the HTTP server, hub, and telemetry in order
func (a *Application) shutdown() error {
	a.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(ctx)

	a.manager.Broadcaster().Stop()
	a.hub.Stop()

	if otelErr := a.otel.Shutdown(ctx); otelErr != nil && err == nil {
		err = otelErr
	}
	if logErr := infrastructure.CloseLogFile(); logErr != nil && err == nil {
		err = logErr
	}

	return err
}
