// Package server exposes run triggering over HTTP and drives the schedule.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/logging"
	"github.com/agenthands/driftwatch/internal/monitoring"
)

// Runner executes one monitoring run.
type Runner interface {
	Run(ctx context.Context, trigger string) model.RunSummary
}

type Server struct {
	Runner  Runner
	Metrics *monitoring.MetricsCollector
	Logger  logging.Logger

	running atomic.Bool
	mu      sync.RWMutex
	latest  *model.RunSummary
}

func NewServer(runner Runner, metrics *monitoring.MetricsCollector, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{Runner: runner, Metrics: metrics, Logger: logger}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.Metrics != nil {
		r.Use(s.Metrics.MetricsMiddleware())
		r.GET("/metrics", s.Metrics.Handler())
	}

	r.GET("/healthz", s.Health)
	r.POST("/runs", s.CreateRun)
	r.GET("/runs/latest", s.LatestRun)

	return r
}

// TriggerRun runs unless another run is active, in which case it returns
// false without doing anything.
func (s *Server) TriggerRun(ctx context.Context, trigger string) (model.RunSummary, bool) {
	if !s.running.CompareAndSwap(false, true) {
		return model.RunSummary{}, false
	}
	defer s.running.Store(false)

	summary := s.Runner.Run(ctx, trigger)
	s.mu.Lock()
	s.latest = &summary
	s.mu.Unlock()
	return summary, true
}

// Latest returns the most recent finished run.
func (s *Server) Latest() (model.RunSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return model.RunSummary{}, false
	}
	return *s.latest, true
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "running": s.running.Load()})
}

// CreateRun runs synchronously and returns the summary. The run outlives a
// disconnecting client.
func (s *Server) CreateRun(c *gin.Context) {
	summary, ok := s.TriggerRun(context.WithoutCancel(c.Request.Context()), "manual")
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "A run is already in progress"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) LatestRun(c *gin.Context) {
	summary, ok := s.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No run has finished yet"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
