package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	"marketpulse/internal/logger"
	"marketpulse/internal/monitoring"
	"marketpulse/internal/quality"
	"marketpulse/internal/scheduler"
)

// Server exposes the read-only reporting surface over HTTP
type Server struct {
	cfg        config.ServerConfig
	log        logger.Logger
	router     *gin.Engine
	httpServer *http.Server

	scheduler *scheduler.Scheduler
	quality   *quality.Monitor
	store     cache.Store
	metrics   *monitoring.Metrics
	ws        *WebSocketHandler
}

// NewServer creates the API server and wires up its routes
func NewServer(cfg *config.Config, log logger.Logger, sched *scheduler.Scheduler, monitor *quality.Monitor, store cache.Store, metrics *monitoring.Metrics) *Server {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	server := &Server{
		cfg:       cfg.Server,
		log:       log,
		router:    router,
		scheduler: sched,
		quality:   monitor,
		store:     store,
		metrics:   metrics,
		ws: NewWebSocketHandler(websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		}, log, monitor),
	}

	if metrics != nil {
		router.Use(metrics.PrometheusMiddleware())
	}
	router.Use(server.requestLogger())

	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", monitoring.PrometheusHandler())

	v1 := s.router.Group("/api/v1")
	{
		schedulerGroup := v1.Group("/scheduler")
		{
			schedulerGroup.GET("/tasks", s.handleSchedulerTasks)
			schedulerGroup.GET("/stats", s.handleSchedulerStats)
			schedulerGroup.POST("/tasks/:id/refresh", s.handleForceRefresh)
		}

		v1.GET("/cache/stats", s.handleCacheStats)

		qualityGroup := v1.Group("/quality")
		{
			qualityGroup.GET("/summary", s.handleQualitySummary)
			qualityGroup.GET("/report", s.handleQualityReport)
			qualityGroup.GET("/alerts", s.handleQualityAlerts)
			qualityGroup.GET("/ws", s.ws.QualityStream)
		}
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String())
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if s.quality.EmergencyStopActive() {
		status = "emergency_stop"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":                status,
		"scheduler_running":     s.scheduler.Running(),
		"emergency_stop_active": s.quality.EmergencyStopActive(),
		"time":                  time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.scheduler.GetTasks()})
}

func (s *Server) handleSchedulerStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.scheduler.GetStats())
}

func (s *Server) handleForceRefresh(c *gin.Context) {
	taskID := c.Param("id")
	if err := s.scheduler.ForceRefresh(taskID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": "refresh_scheduled"})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.scheduler.GetCacheStats())
}

func (s *Server) handleQualitySummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.quality.GetQualitySummary())
}

func (s *Server) handleQualityReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.quality.GetQualityReport())
}

func (s *Server) handleQualityAlerts(c *gin.Context) {
	if c.Query("active") == "true" {
		c.JSON(http.StatusOK, gin.H{"alerts": s.quality.GetActiveAlerts()})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	c.JSON(http.StatusOK, gin.H{"alerts": s.quality.GetAlerts(limit)})
}

// Start begins listening. It blocks until the server exits.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.ws.Start()

	s.log.Info("api server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.ws.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the underlying handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}
