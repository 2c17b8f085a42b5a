package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngenohkevin/browseruse-agent/config"
	"github.com/ngenohkevin/browseruse-agent/internal/cache"
	"github.com/ngenohkevin/browseruse-agent/internal/logstream"
	"github.com/ngenohkevin/browseruse-agent/internal/memory"
	"github.com/ngenohkevin/browseruse-agent/internal/system"
	"github.com/ngenohkevin/browseruse-agent/internal/tasks"
)

// Version is reported by the root and health endpoints
var Version = "dev"

const statsKey = "process"

// Handlers holds all HTTP handlers
type Handlers struct {
	cfg         *config.Config
	runner      *tasks.Runner
	hub         *logstream.Hub
	memories    memory.Store
	collector   *system.Collector
	stats       *cache.Cache[*system.Stats]
	logger      *zap.Logger
	browserMode string
	llmEnabled  bool
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg *config.Config, deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		cfg:         cfg,
		runner:      deps.Runner,
		hub:         deps.Hub,
		memories:    deps.Memories,
		collector:   deps.Stats,
		stats:       cache.New[*system.Stats](2 * time.Second),
		logger:      logger.Named("handlers"),
		browserMode: deps.BrowserMode,
		llmEnabled:  deps.LLMEnabled,
	}
}

// Root handles GET /
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Browser automation API server",
		"status":  "running",
		"version": Version,
	})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	reg := h.runner.Registry()
	c.JSON(http.StatusOK, gin.H{
		"status":              "healthy",
		"browser_initialized": h.browserMode != "",
		"llm_initialized":     h.llmEnabled,
		"active_tasks":        reg.Active(),
		"timestamp":           time.Now().UTC(),
		"version":             Version,
	})
}

// Status handles GET /status and GET /api/status
func (h *Handlers) Status(c *gin.Context) {
	reg := h.runner.Registry()
	resp := gin.H{
		"status":              "healthy",
		"browser_initialized": h.browserMode != "",
		"browser_mode":        h.browserMode,
		"llm_initialized":     h.llmEnabled,
		"memory_enabled":      h.memories != nil,
		"active_tasks":        reg.Active(),
		"total_tasks":         reg.Len(),
		"tasks":               reg.Counts(),
		"log_streams":         h.hub.Len(),
		"capturing_tasks":     h.runner.Capturing(),
	}

	if h.collector != nil {
		stats, err := h.stats.GetOrSet(statsKey, func() (*system.Stats, error) {
			return h.collector.Collect(c.Request.Context())
		})
		if err != nil {
			h.logger.Debug("process stats unavailable", zap.Error(err))
		} else {
			resp["system"] = stats
		}
	}

	c.JSON(http.StatusOK, resp)
}

// CreateTask handles POST /api/tasks
func (h *Handlers) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}

	rec, err := h.runner.Start(c.Request.Context(), req.Task, req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      rec.ID,
		"status":  rec.Status,
		"task":    rec.Task,
		"message": "Task started successfully",
	})
}

// ListTasks handles GET /api/tasks
func (h *Handlers) ListTasks(c *gin.Context) {
	limit := tasks.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	c.JSON(http.StatusOK, h.runner.List(limit))
}

// GetTask handles GET /api/tasks/:id and GET /api/tasks/:id/status
func (h *Handlers) GetTask(c *gin.Context) {
	rec, err := h.runner.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// PauseTask handles PUT /api/tasks/:id/pause
func (h *Handlers) PauseTask(c *gin.Context) {
	if _, err := h.runner.Pause(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task marked as paused (the browser cannot be paused mid-execution)"})
}

// ResumeTask handles PUT /api/tasks/:id/resume
func (h *Handlers) ResumeTask(c *gin.Context) {
	if _, err := h.runner.Resume(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task marked as running (execution was never suspended)"})
}

// StopTask handles PUT /api/tasks/:id/stop
func (h *Handlers) StopTask(c *gin.Context) {
	if _, err := h.runner.Stop(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task marked as stopped (the running automation continues until it ends)"})
}

// StreamTaskLogs handles GET /api/tasks/:id/logs (SSE)
func (h *Handlers) StreamTaskLogs(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.runner.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// A finished task whose buffer already expired would otherwise get a
	// fresh buffer that nothing removes.
	expired := rec.Status.Terminal() && !h.hub.Has(id)
	lines := h.hub.Subscribe(ctx, id)
	if expired {
		h.hub.Expire(id, h.cfg.LogGracePeriod)
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case line, ok := <-lines:
			if !ok {
				return false
			}
			writeEvent(w, line)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// GetMemories handles GET /api/users/:user_id/memories
func (h *Handlers) GetMemories(c *gin.Context) {
	if h.memories == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "memory storage is not configured"})
		return
	}

	userID := c.Param("user_id")
	rec, err := h.memories.FindByUser(c.Request.Context(), userID)
	if errors.Is(err, memory.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "memories": []string{}})
		return
	}
	if err != nil {
		h.logger.Error("failed to load memories", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load memories"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "memories": rec.Memories})
}

// writeEvent writes one SSE event; embedded newlines become extra data lines
func writeEvent(w io.Writer, line string) {
	for _, part := range strings.Split(line, "\n") {
		fmt.Fprintf(w, "data: %s\n", part)
	}
	fmt.Fprint(w, "\n")
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tasks.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, tasks.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, tasks.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, tasks.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
