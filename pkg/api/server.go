// Package api exposes the operational HTTP surface: health, metrics,
// manual stage triggers, and source administration. The pipeline runs
// fine without any of these being called; they exist for operators.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stadspuls/harvester/pkg/coordinator"
	"github.com/stadspuls/harvester/pkg/database"
	"github.com/stadspuls/harvester/pkg/heal"
	"github.com/stadspuls/harvester/pkg/queue"
	"github.com/stadspuls/harvester/pkg/store"
)

// Server owns the HTTP listener and its handler dependencies.
type Server struct {
	db          *database.Client
	pool        *queue.Pool
	manager     *queue.Manager
	coordinator *coordinator.Coordinator
	healer      *heal.Healer
	sources     *store.SourceStore
	healingLog  *store.HealingStore
	insights    *store.InsightStore

	http *http.Server
}

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	DB          *database.Client
	Pool        *queue.Pool
	Manager     *queue.Manager
	Coordinator *coordinator.Coordinator
	Healer      *heal.Healer
	Sources     *store.SourceStore
	HealingLog  *store.HealingStore
	Insights    *store.InsightStore
}

// NewServer builds the server and its routes.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		db:          deps.DB,
		pool:        deps.Pool,
		manager:     deps.Manager,
		coordinator: deps.Coordinator,
		healer:      deps.Healer,
		sources:     deps.Sources,
		healingLog:  deps.HealingLog,
		insights:    deps.Insights,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/coordinator/run", s.runCoordinator)
		apiGroup.POST("/workers/:stage/run", s.runStage)
		apiGroup.POST("/persister/run", s.runPersister)
		apiGroup.POST("/healing/run", s.runHealing)
		apiGroup.POST("/queue/:id/retry", s.retryItem)
		apiGroup.GET("/sources/:id/health", s.sourceHealth)
		apiGroup.POST("/sources/:id/unquarantine", s.unquarantineSource)
		apiGroup.POST("/sources/:id/recipe/revert", s.revertRecipe)
	}

	s.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s
}

// Start begins serving in a goroutine. Listener errors other than a
// clean shutdown are reported on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server failed: %w", err)
		}
	}()
	return errCh
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestLogger logs each request through slog, skipping health probes.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
