// Package api exposes stored migration data and analytics over a read-only
// HTTP surface. No sync logic runs here; every route reads the store.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"migrationScope/internal/aggregate"
	"migrationScope/internal/store"
	"migrationScope/internal/syncer"
)

// StatusProvider reports sync progress for the sync-status route.
type StatusProvider interface {
	Status(ctx context.Context) (syncer.Status, error)
}

// Config wires the server's dependencies.
type Config struct {
	Store          store.Store
	Status         StatusProvider
	ReportOptions  aggregate.ReportOptions
	RateWindowDays int
	Logger         *zap.Logger
}

// Server serves the HTTP API.
type Server struct {
	cfg    Config
	logger *zap.Logger
	engine *gin.Engine
}

// New builds the server and registers its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateWindowDays <= 0 {
		cfg.RateWindowDays = 7
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{cfg: cfg, logger: logger, engine: engine}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api")
	{
		api.GET("/health", s.getHealth)
		api.GET("/metrics", s.getDashboard)
		api.GET("/statistics", s.getStatistics)
		api.GET("/daily-stats", s.getDailyStats)
		api.GET("/distribution", s.getDistribution)
		api.GET("/source-breakdown", s.getSourceBreakdown)
		api.GET("/migrations", s.getMigrations)
		api.GET("/migrations/large", s.getLargeMigrations)
		api.GET("/address/:address", s.getByAddress)
		api.GET("/sync-status", s.getSyncStatus)
		api.GET("/rate", s.getRate)
	}
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info("api listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
