package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngenohkevin/browseruse-agent/config"
	"github.com/ngenohkevin/browseruse-agent/internal/logstream"
	"github.com/ngenohkevin/browseruse-agent/internal/memory"
	"github.com/ngenohkevin/browseruse-agent/internal/system"
	"github.com/ngenohkevin/browseruse-agent/internal/systemd"
	"github.com/ngenohkevin/browseruse-agent/internal/tasks"
)

const (
	shutdownTimeout = 10 * time.Second
	statusInterval  = 15 * time.Second
	cacheSweep      = time.Minute
)

// Deps are the services the HTTP layer is built on
type Deps struct {
	Runner      *tasks.Runner
	Hub         *logstream.Hub
	Supervisor  *tasks.Supervisor
	Memories    memory.Store // nil when insights are disabled
	Stats       *system.Collector
	Notifier    *systemd.Notifier
	Logger      *zap.Logger
	BrowserMode string
	LLMEnabled  bool
}

// Server represents the HTTP server
type Server struct {
	cfg        *config.Config
	router     *gin.Engine
	handlers   *Handlers
	limiter    *RateLimiter
	runner     *tasks.Runner
	supervisor *tasks.Supervisor
	notifier   *systemd.Notifier
	logger     *zap.Logger
	httpServer *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, deps Deps) *Server {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registerValidators()

	s := &Server{
		cfg:        cfg,
		router:     gin.New(),
		handlers:   NewHandlers(cfg, deps),
		limiter:    NewRateLimiter(cfg.RateLimitRPS),
		runner:     deps.Runner,
		supervisor: deps.Supervisor,
		notifier:   deps.Notifier,
		logger:     logger.Named("http"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware(s.cfg.AllowedOrigins))
	if s.cfg.RateLimitRPS > 0 {
		s.router.Use(RateLimitMiddleware(s.limiter))
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handlers.Root)
	s.router.GET("/health", s.handlers.HealthCheck)
	s.router.GET("/status", s.handlers.Status)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handlers.Status)

		api.POST("/tasks", s.handlers.CreateTask)
		api.GET("/tasks", s.handlers.ListTasks)
		api.GET("/tasks/:id", s.handlers.GetTask)
		api.GET("/tasks/:id/status", s.handlers.GetTask)
		api.PUT("/tasks/:id/pause", s.handlers.PauseTask)
		api.PUT("/tasks/:id/resume", s.handlers.ResumeTask)
		api.PUT("/tasks/:id/stop", s.handlers.StopTask)

		// Server-sent events
		api.GET("/tasks/:id/logs", s.handlers.StreamTaskLogs)

		api.GET("/users/:user_id/memories", s.handlers.GetMemories)
	}
}

// Run serves until ctx is done, then shuts down gracefully. Open log
// streams are ended and detached work gets a bounded time to finish.
func (s *Server) Run(ctx context.Context) error {
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting browser agent", zap.String("addr", s.cfg.Addr()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start server: %w", err)
		}
		close(errCh)
	}()

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	go s.handlers.stats.RunCleanup(bgCtx, cacheSweep)

	if s.notifier != nil {
		s.notifier.Ready()
		go s.reportStatus(bgCtx)
	}

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	if s.notifier != nil {
		s.notifier.Stopping()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// SSE handlers only return once their request context ends.
	cancelStreams()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("server forced to shutdown", zap.Error(err))
	}

	if s.supervisor != nil {
		if err := s.supervisor.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("background work still running at exit", zap.Error(err))
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// statusLine summarizes task activity for the service manager
func (s *Server) statusLine() string {
	reg := s.runner.Registry()
	return fmt.Sprintf("%d active tasks, %d capturing logs, %d total", reg.Active(), s.runner.Capturing(), reg.Len())
}

func (s *Server) reportStatus(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		s.notifier.Status(s.statusLine())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Router returns the Gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
