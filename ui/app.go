// Package ui exposes the harmonization service over HTTP.
package ui

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"neuroharmony/app"
	"neuroharmony/domain/harmonize"
	"neuroharmony/internal"
	"neuroharmony/ports"
)

// App represents the HTTP application
type App struct {
	router  *chi.Mux
	service *app.HarmonizationService
	repo    ports.RunRepository // nil means no persistence
	logger  *internal.Logger
	cfg     harmonize.Config
}

// Config holds HTTP application configuration
type Config struct {
	Port string
}

// NewApp creates the HTTP application and mounts its routes
func NewApp(service *app.HarmonizationService, repo ports.RunRepository, cfg harmonize.Config, logger *internal.Logger) *App {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	a := &App{
		router:  chi.NewRouter(),
		service: service,
		repo:    repo,
		logger:  logger,
		cfg:     cfg,
	}

	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Timeout(10 * time.Minute))

	a.router.Get("/health", a.handleHealth)
	a.router.Route("/api", func(r chi.Router) {
		r.Post("/runs", a.handleCreateRun)
		r.Get("/runs", a.handleListRuns)
		r.Get("/runs/{runID}", a.handleGetRun)
		r.Get("/runs/{runID}/report.md", a.handleGetReportMarkdown)
		r.Get("/runs/{runID}/report.html", a.handleGetReportHTML)
	})

	return a
}

// Router returns the mounted router
func (a *App) Router() http.Handler { return a.router }

// Start runs the HTTP server on the configured port
func (a *App) Start(cfg Config) error {
	addr := fmt.Sprintf(":%s", cfg.Port)
	a.logger.Info("harmonization API listening on %s", addr)
	return http.ListenAndServe(addr, a.router)
}
