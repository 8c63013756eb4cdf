package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"pricereturns/internal/config"
	apperrors "pricereturns/internal/errors"
	"pricereturns/internal/exporter"
	"pricereturns/internal/infrastructure"
	customMiddleware "pricereturns/internal/middleware"
	"pricereturns/internal/services"
	handlers "pricereturns/internal/transport/http"
	ws "pricereturns/internal/websocket"
)

// BuildTime is set at link time with -ldflags "-X pricereturns/internal/app.BuildTime=..."
var BuildTime = "unknown"

// shutdownGrace bounds Stop when the configuration leaves it unset
const shutdownGrace = 30 * time.Second

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	WebSocketHub  *ws.Hub
	Returns       *services.ReturnsService
	Health        *services.HealthService

	closeSource func() error
	mu          sync.Mutex
	listener    net.Listener
	serveErr    chan error
}

// NewApplication wires every component from cfg. The caller owns logger.
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion))

	paths, err := config.NewPaths(cfg.Paths)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	paths.LogPathResolution(logger)

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Paths:         paths,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := a.initializeServices(); err != nil {
		_ = otelProviders.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()
	return a, nil
}

// initializeServices builds the hub, the price source and the services
func (a *Application) initializeServices() error {
	hubMetrics, err := ws.NewHubMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create hub metrics: %w", err)
	}
	a.WebSocketHub = ws.NewHub(a.Logger, hubMetrics)
	a.WebSocketHub.Start()

	source, closeSource, err := services.NewPriceSource(a.Config.Source, a.Paths, false, a.Logger)
	if err != nil {
		return err
	}
	a.closeSource = closeSource

	pipelineMetrics, err := infrastructure.NewPipelineMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	opts := []services.Option{
		services.WithHub(a.WebSocketHub),
		services.WithObserver(pipelineMetrics),
		services.WithRunTimeout(a.Config.Server.RunTimeout),
	}
	if u := services.NewUniverse(a.Config.Universe, a.Paths, a.Logger); u != nil {
		opts = append(opts, services.WithUniverse(u))
	}
	if a.Config.Server.ExportOnRun {
		exp, err := exporter.New(a.Config.Output.Format, a.Logger)
		if err != nil {
			return apperrors.NewConfigError("invalid output format", err)
		}
		opts = append(opts, services.WithExporter(exp, a.Paths.Resolve(a.Config.Output.Path)))
	}

	a.Returns, err = services.NewReturnsService(a.Config.Pipeline, source, a.Logger, opts...)
	if err != nil {
		return err
	}

	if path := a.Config.Server.LoadOnStart; path != "" {
		if err := a.Returns.LoadResults(context.Background(), a.Paths.Resolve(path)); err != nil {
			a.Logger.Warn("Could not load previous results",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}

	a.Health = services.NewHealthService(config.AppVersion, BuildTime, a.Paths, a.WebSocketHub, a.Returns, a.Logger)
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	errorHandler := apperrors.NewErrorHandler(a.Logger, a.Config.Telemetry.Environment == "development")

	// Minimal middleware only; the WebSocket route needs an unwrapped writer
	r.Use(customMiddleware.RequestID)
	r.Use(middleware.RealIP)

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	r.With(customMiddleware.StructuredLogger(a.Logger), customMiddleware.Recoverer(a.Logger)).
		Handle(config.WebSocketEndpoint, ws.NewHandler(a.WebSocketHub, a.Config.Server.AllowedOrigins, a.Logger))

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle(config.MetricsEndpoint, a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		// logs every request and recovers panics as problem responses
		r.Use(apperrors.NewErrorMiddleware(errorHandler, a.Logger).Handler)
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(a.corsConfig()))

		if rl := a.Config.Server.RateLimit; rl.Enabled && rl.RPS > 0 {
			r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger).Handler)
		}

		a.setupAPIRoutes(r, errorHandler)
	})

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router, errorHandler *apperrors.ErrorHandler) {
	healthHandler := handlers.NewHealthHandler(a.Health, a.Logger)
	r.Get(config.HealthEndpoint, healthHandler.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(middleware.Timeout(a.Config.Server.ReadTimeout))

		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/ready", healthHandler.ReadinessCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/version", healthHandler.Version)

		r.Mount("/metrics", handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP, a.WebSocketHub).Routes())

		returnsHandler := handlers.NewReturnsHandler(a.Returns, a.Logger, errorHandler)
		r.Mount(strings.TrimPrefix(config.APIBasePath, "/api"), returnsHandler.Routes())
	})
}

// corsConfig allows the configured origins, or every origin when none are set
func (a *Application) corsConfig() customMiddleware.CORSConfig {
	origins := a.Config.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return customMiddleware.CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 300,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start listens on the configured port and serves in the background.
// Serve errors are reported by Wait.
func (a *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()
	a.serveErr = make(chan error, 1)

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", ln.Addr().String()),
		slog.String("provider", a.Config.Source.Provider),
		slog.String("level", a.Config.Logging.Level))

	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- err
		}
		close(a.serveErr)
	}()

	if err := a.performStartupHealthCheck(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Startup health check warnings", slog.String("warnings", err.Error()))
	}
	return nil
}

// Addr returns the bound address once started
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return a.Server.Addr
	}
	return a.listener.Addr().String()
}

// Stop gracefully stops the application: the server drains, the active run
// finishes or is cancelled, then the hub, the price cache and telemetry close.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	grace := a.Config.Server.ShutdownTimeout
	if grace <= 0 {
		grace = shutdownGrace
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.Returns.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("returns service: %w", err))
	}
	a.WebSocketHub.Stop()
	if closeSource := a.closeSource; closeSource != nil {
		a.closeSource = nil
		if err := closeSource(); err != nil {
			errs = append(errs, fmt.Errorf("price source: %w", err))
		}
	}
	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// Run starts the application and blocks until ctx is cancelled, SIGINT or
// SIGTERM arrives, or the server fails
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("Received shutdown signal")
	case serveErr = <-a.serveErr:
		a.Logger.Error("Server error", slog.String("error", fmt.Sprint(serveErr)))
	}

	return errors.Join(serveErr, a.Stop(context.Background()))
}

// performStartupHealthCheck verifies the data directories are writable
func (a *Application) performStartupHealthCheck(ctx context.Context) error {
	var warnings []string

	directories := map[string]string{
		"Data":    a.Paths.DataDir,
		"Reports": a.Paths.ReportsDir,
		"Cache":   a.Paths.CacheDir,
	}
	for name, dir := range directories {
		testFile := filepath.Join(dir, ".write_test")
		if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s directory not writable: %s", name, dir))
			continue
		}
		os.Remove(testFile)
	}

	if a.Config.Source.Provider == config.ProviderCSV {
		if path := a.Paths.Resolve(a.Config.Source.CSVPath); !config.FileExists(path) {
			warnings = append(warnings, fmt.Sprintf("price file not found: %s", path))
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("%s", strings.Join(warnings, "; "))
	}

	a.Logger.InfoContext(ctx, "Startup health check passed")
	return nil
}
