// Package api exposes the query surface over HTTP with gin.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"solar-telemetry/internal/auth"
	"solar-telemetry/internal/cost"
	"solar-telemetry/internal/insight"
	"solar-telemetry/internal/jobs"
	"solar-telemetry/internal/logging"
	"solar-telemetry/internal/metrics"
	"solar-telemetry/internal/poller"
	"solar-telemetry/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	server *http.Server
	port   int

	db         *storage.Database
	samples    *storage.SampleStore
	poller     *poller.Poller
	newGateway poller.GatewayFactory
	gwTimeout  time.Duration
	jobs       *jobs.Coordinator
	costs      *cost.Engine
	tariff     cost.Tariff
	location   *time.Location
	insights   *insight.Analyzer
	report     ReportSettings
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// ReportSettings are the document defaults applied to every report request.
type ReportSettings struct {
	Title         string
	IncludeCharts bool
}

// RateLimit enables the Redis-backed request limiter when Client is set.
type RateLimit struct {
	Client *redis.Client
	Limit  int
	Window time.Duration
}

type ServerConfig struct {
	Port            int
	Database        *storage.Database
	Samples         *storage.SampleStore
	Poller          *poller.Poller
	NewGateway      poller.GatewayFactory
	GatewayTimeout  time.Duration
	Jobs            *jobs.Coordinator
	Costs           *cost.Engine
	DefaultTariff   cost.Tariff
	DefaultLocation *time.Location
	Insights        *insight.Analyzer
	Report          ReportSettings
	JWT             *auth.JWTManager
	RateLimit       RateLimit
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		router:     router,
		port:       cfg.Port,
		db:         cfg.Database,
		samples:    cfg.Samples,
		poller:     cfg.Poller,
		newGateway: cfg.NewGateway,
		gwTimeout:  cfg.GatewayTimeout,
		jobs:       cfg.Jobs,
		costs:      cfg.Costs,
		tariff:     cfg.DefaultTariff,
		location:   cfg.DefaultLocation,
		insights:   cfg.Insights,
		report:     cfg.Report,
		metrics:    cfg.Metrics,
		logger:     logging.OrNop(cfg.Logger),
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.gwTimeout <= 0 {
		s.gwTimeout = 5 * time.Second
	}

	router.Use(gin.Recovery())
	router.Use(requestLogger(s.logger))
	router.Use(observeRequests(s.metrics))
	if cfg.RateLimit.Client != nil && cfg.RateLimit.Limit > 0 {
		router.Use(rateLimiter(cfg.RateLimit))
	}

	s.setupRoutes(auth.Middleware(cfg.JWT, s.logger))
	return s
}

func (s *Server) setupRoutes(authenticate gin.HandlerFunc) {
	s.router.GET("/health", s.healthHandler)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api/v1")
	api.Use(authenticate)
	{
		api.GET("/inverters", s.listInvertersHandler)
		api.POST("/inverters", s.createInverterHandler)
		api.GET("/inverters/:id", s.getInverterHandler)
		api.PUT("/inverters/:id", s.updateInverterHandler)
		api.DELETE("/inverters/:id", s.deleteInverterHandler)
		api.GET("/inverters/:id/live", s.liveHandler)
		api.GET("/inverters/:id/insight", s.insightHandler)
		api.POST("/inverters/:id/control", s.controlHandler)
		api.POST("/inverters/:id/limit", s.limitHandler)

		api.GET("/aggregate", s.aggregateHandler)

		api.POST("/exports", s.startExportHandler)
		api.GET("/exports", s.listJobsHandler(jobs.KindExport))
		api.GET("/exports/:id", s.getJobHandler(jobs.KindExport))
		api.DELETE("/exports/:id", s.cancelJobHandler(jobs.KindExport))
		api.GET("/exports/:id/artifact", s.artifactHandler(jobs.KindExport))

		api.POST("/reports", s.startReportHandler)
		api.GET("/reports", s.listJobsHandler(jobs.KindReport))
		api.GET("/reports/:id", s.getJobHandler(jobs.KindReport))
		api.DELETE("/reports/:id", s.cancelJobHandler(jobs.KindReport))
		api.GET("/reports/:id/artifact", s.artifactHandler(jobs.KindReport))

		api.GET("/settings/cost", s.getCostSettingsHandler)
		api.PUT("/settings/cost", s.updateCostSettingsHandler)
		api.GET("/settings/preferences", s.getPreferencesHandler)
		api.PUT("/settings/preferences", s.updatePreferencesHandler)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("API server starting", zap.Int("port", s.port))
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) healthHandler(c *gin.Context) {
	polling := 0
	if s.poller != nil {
		polling = s.poller.Running()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"inverters_polled": polling,
		"timestamp":        time.Now().UTC(),
	})
}

// ownerLocation resolves the calendar timezone of the owner.
func (s *Server) ownerLocation(ctx context.Context, owner string) (*time.Location, error) {
	prefs, err := s.db.GetPreferences(ctx, owner)
	if err != nil {
		return nil, err
	}
	return prefs.Location(s.location), nil
}

// ownerTariff returns the owner's saved tariff or the configured default.
func (s *Server) ownerTariff(ctx context.Context, owner string) (cost.Tariff, error) {
	settings, err := s.db.GetCostSettings(ctx, owner, storage.CostSettings{
		PricePerKWh: s.tariff.PricePerKWh,
		Currency:    s.tariff.Currency,
		TaxRate:     s.tariff.TaxRate,
	})
	if err != nil {
		return cost.Tariff{}, err
	}
	return cost.Tariff{
		PricePerKWh: settings.PricePerKWh,
		Currency:    settings.Currency,
		TaxRate:     settings.TaxRate,
	}, nil
}
