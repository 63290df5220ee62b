// Package api provides the HTTP API server for anchor.
// It uses Echo framework to serve REST endpoints for the managed cluster and
// its task scheduler, and a WebSocket stream of progress events.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"evalgo.org/anchor/internal/auth"
	"evalgo.org/anchor/internal/cluster"
	"evalgo.org/anchor/internal/config"
	"evalgo.org/anchor/internal/engine"
	"evalgo.org/anchor/internal/retry"
	"evalgo.org/anchor/internal/version"
	"evalgo.org/anchor/models"
)

// Server represents the anchor API server.
type Server struct {
	echo       *echo.Echo
	cluster    *cluster.Cluster
	client     engine.Client
	config     *config.Config
	policy     retry.Policy
	logger     *log.Logger
	wsHub      *Hub // WebSocket hub for progress events
	upgrader   websocket.Upgrader
	authMiddle *auth.Middleware

	// ctx bounds background work started by requests; cancelled on Shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	starting  bool
	lastStart *StartRun
}

// New creates a new API server instance.
func New(cfg *config.Config, cl *cluster.Cluster, client engine.Client, logger *log.Logger) *Server {
	e := echo.New()

	// Configure Echo
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug

	// Set custom error handler
	e.HTTPErrorHandler = HTTPErrorHandler

	ctx, cancel := context.WithCancel(context.Background())

	server := &Server{
		echo:       e,
		cluster:    cl,
		client:     client,
		config:     cfg,
		policy:     cfg.RetryPolicy().WithDefaults(),
		logger:     logger.WithPrefix("api"),
		upgrader:   newUpgrader(cfg.Security.AllowedOrigins),
		authMiddle: auth.NewMiddleware(cfg.Security),
		ctx:        ctx,
		cancel:     cancel,
	}
	server.wsHub = NewHub(server.logger)

	// Start WebSocket hub in background
	go server.wsHub.Run(ctx, cl.Bus().Subscribe())

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			)
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())

	s.echo.Use(SecurityHeaders)

	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	s.echo.Use(middleware.RequestID())

	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	s.echo.Use(ValidateContentType)
	s.echo.Use(ValidateAcceptHeader)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/", s.healthCheck)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/info", s.getInfo, s.authMiddle.RequireRead)

	clusterRoutes := v1.Group("/cluster")
	clusterRoutes.GET("", s.getCluster, s.authMiddle.RequireRead)
	clusterRoutes.POST("/start", s.startCluster, s.authMiddle.RequireWrite)
	clusterRoutes.POST("/stop", s.stopCluster, s.authMiddle.RequireWrite)
	clusterRoutes.POST("/remove", s.removeCluster, s.authMiddle.RequireWrite)

	manifestRoutes := v1.Group("/manifest")
	manifestRoutes.GET("", s.getManifest, s.authMiddle.RequireRead)
	manifestRoutes.POST("/validate", s.validateManifest, s.authMiddle.RequireRead)

	tasks := v1.Group("/tasks")
	tasks.Use(ValidateQueryParams)
	tasks.GET("", s.listTasks, s.authMiddle.RequireRead)
	tasks.GET("/stats", s.getTaskStatistics, s.authMiddle.RequireRead)
	tasks.GET("/:id", s.getTask, ValidateIDFormat, s.authMiddle.RequireRead)
	tasks.DELETE("/:id", s.cancelTask, ValidateIDFormat, s.authMiddle.RequireWrite)

	containers := v1.Group("/containers")
	containers.GET("", s.listContainers, s.authMiddle.RequireRead)
	containers.GET("/:name/metrics", s.getContainerMetrics, ValidateContainerName, s.authMiddle.RequireRead)

	ws := v1.Group("/ws")
	ws.GET("/events", s.handleEvents, s.authMiddle.RequireRead)
	ws.GET("/stats", s.getWebSocketStats, s.authMiddle.RequireRead)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Address()

	s.logger.Info("starting API server",
		"address", "http://"+addr,
		"containers", len(s.cluster.Manifest().Containers),
		"auth", s.authMiddle.Enabled(),
	)

	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels background cluster work and
// waits for it to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")

	err := s.echo.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}

	if err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	return nil
}

// healthCheck handles health check requests.
func (s *Server) healthCheck(c echo.Context) error {
	if err := retry.Probe(c.Request().Context(), s.policy, "ping", s.client.Ping); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unhealthy",
			"error":   "container engine unreachable",
			"details": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "anchor",
		"version": version.Version,
	})
}

// getInfo handles GET /api/v1/info
func (s *Server) getInfo(c echo.Context) error {
	platform, err := retry.Execute(c.Request().Context(), s.policy, "platform", s.client.Platform)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"version":    version.Get(),
		"platform":   platform,
		"containers": len(s.cluster.Manifest().Containers),
		"active":     len(s.cluster.Manifest().Active()),
		"max_tasks":  s.cluster.Scheduler().MaxConcurrent(),
	})
}

// getCluster handles GET /api/v1/cluster
func (s *Server) getCluster(c echo.Context) error {
	statuses, err := s.cluster.Status(c.Request().Context())
	if err != nil {
		return err
	}

	ready := true
	for _, st := range statuses {
		ready = ready && st.Ready
	}

	s.mu.Lock()
	resp := ClusterResponse{
		Ready:      ready,
		Starting:   s.starting,
		Containers: statuses,
		LastStart:  s.lastStart.snapshot(),
	}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, resp)
}

// startCluster handles POST /api/v1/cluster/start. The start runs in the
// background; progress is on the event stream and in GET /api/v1/cluster.
func (s *Server) startCluster(c echo.Context) error {
	s.mu.Lock()
	if s.starting {
		s.mu.Unlock()
		return ConflictError("Cluster start in progress", "wait for the current start to finish")
	}
	run := &StartRun{StartedAt: time.Now(), Statuses: []models.ClusterStatus{}}
	s.starting = true
	s.lastStart = run
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.cluster.Start(s.ctx, func(status models.ClusterStatus) {
			s.mu.Lock()
			run.Statuses = append(run.Statuses, status)
			run.Ready = status.Kind == models.ClusterReady
			s.mu.Unlock()
		})

		s.mu.Lock()
		now := time.Now()
		run.FinishedAt = &now
		if err != nil {
			run.Error = err.Error()
		}
		s.starting = false
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("cluster start failed", "err", err)
			return
		}
		s.logger.Info("cluster ready", "duration", now.Sub(run.StartedAt).Round(time.Millisecond))
	}()

	return c.JSON(http.StatusAccepted, MessageResponse{Message: "cluster start initiated"})
}

// stopCluster handles POST /api/v1/cluster/stop
func (s *Server) stopCluster(c echo.Context) error {
	if err := s.cluster.Stop(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "cluster stopped"})
}

// removeCluster handles POST /api/v1/cluster/remove?images=true
func (s *Server) removeCluster(c echo.Context) error {
	purge := c.QueryParam("images") == "true"
	if err := s.cluster.Remove(c.Request().Context(), purge); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "cluster removed"})
}

// snapshot copies r so it can be encoded outside the server lock.
func (r *StartRun) snapshot() *StartRun {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Statuses = append([]models.ClusterStatus(nil), r.Statuses...)
	return &cp
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
