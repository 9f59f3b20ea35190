// Package api exposes the monitor over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/kandev/execwatch/internal/common/errors"
	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/execution/models"
)

// Monitor is the service behind the API.
type Monitor interface {
	Graph() (*models.ExecutionGraph, bool)
	ViewExecution(ctx context.Context, id string) (*models.ExecutionGraph, error)
	Refresh(ctx context.Context) (*models.ExecutionGraph, error)
	History(ctx context.Context, limit int) ([]*models.Execution, error)
	Logs(ctx context.Context) ([]*models.LogEntry, error)
	Abort(ctx context.Context) error
	Approve(ctx context.Context, id string) (*models.ToolExecution, error)
	Deny(ctx context.Context, id string) (*models.ToolExecution, error)
	Reset(ctx context.Context, id string) (*models.ToolExecution, error)
	Delete(ctx context.Context, id string, force bool) error
	NukeAll(ctx context.Context) error
}

type Handlers struct {
	monitor Monitor
	logger  *logger.Logger
}

func NewHandlers(monitor Monitor, log *logger.Logger) *Handlers {
	return &Handlers{
		monitor: monitor,
		logger:  log.WithFields(zap.String("component", "api-handlers")),
	}
}

func (h *Handlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/execution", h.httpGetExecution)
	api.GET("/execution/logs", h.httpGetLogs)
	api.POST("/execution/abort", h.httpAbort)
	api.POST("/execution/refresh", h.httpRefresh)
	api.GET("/executions", h.httpListExecutions)
	api.POST("/executions/:id/view", h.httpViewExecution)
	api.DELETE("/executions/:id", h.httpDeleteExecution)
	api.DELETE("/executions", h.httpDeleteAll)
	api.POST("/tool-executions/:id/approve", h.toolAction(h.monitor.Approve, "approve"))
	api.POST("/tool-executions/:id/deny", h.toolAction(h.monitor.Deny, "deny"))
	api.POST("/tool-executions/:id/reset", h.toolAction(h.monitor.Reset, "reset"))
}

func (h *Handlers) httpGetExecution(c *gin.Context) {
	g, ok := h.monitor.Graph()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no execution loaded", "code": apperrors.ErrCodeNotFound})
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handlers) httpViewExecution(c *gin.Context) {
	g, err := h.monitor.ViewExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "failed to view execution", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handlers) httpRefresh(c *gin.Context) {
	g, err := h.monitor.Refresh(c.Request.Context())
	if err != nil {
		h.writeError(c, "failed to refresh execution", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handlers) httpListExecutions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit", "code": apperrors.ErrCodeBadRequest})
			return
		}
		limit = n
	}
	list, err := h.monitor.History(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, "failed to list executions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": list, "total": len(list)})
}

func (h *Handlers) httpGetLogs(c *gin.Context) {
	entries, err := h.monitor.Logs(c.Request.Context())
	if err != nil {
		h.writeError(c, "failed to get logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries, "total": len(entries)})
}

func (h *Handlers) httpAbort(c *gin.Context) {
	if err := h.monitor.Abort(c.Request.Context()); err != nil {
		h.writeError(c, "failed to abort execution", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpDeleteExecution(c *gin.Context) {
	force := c.Query("force") == "true"
	if err := h.monitor.Delete(c.Request.Context(), c.Param("id"), force); err != nil {
		h.writeError(c, "failed to delete execution", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpDeleteAll(c *gin.Context) {
	if err := h.monitor.NukeAll(c.Request.Context()); err != nil {
		h.writeError(c, "failed to delete executions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type toolActionFunc func(ctx context.Context, id string) (*models.ToolExecution, error)

func (h *Handlers) toolAction(fn toolActionFunc, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		te, err := fn(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.writeError(c, "failed to "+name+" tool execution", err)
			return
		}
		c.JSON(http.StatusOK, te)
	}
}

func (h *Handlers) writeError(c *gin.Context, msg string, err error) {
	status := apperrors.HTTPStatus(err)
	code := apperrors.ErrCodeInternalError
	message := msg
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	} else {
		h.logger.Debug(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": message, "code": code})
}
