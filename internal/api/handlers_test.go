package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kandev/execwatch/internal/common/errors"
	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/execution/models"
	"github.com/kandev/execwatch/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockMonitor is a simple mock implementation of Monitor
type mockMonitor struct {
	graph      *models.ExecutionGraph
	history    []*models.Execution
	historyLim int
	logs       []*models.LogEntry
	err        error
	toolErr    error
	deleted    string
	force      bool
	nuked      bool
	aborted    bool
	actions    []string
}

func (m *mockMonitor) Graph() (*models.ExecutionGraph, bool) { return m.graph, m.graph != nil }

func (m *mockMonitor) ViewExecution(_ context.Context, id string) (*models.ExecutionGraph, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.graph = &models.ExecutionGraph{Execution: &models.Execution{ID: id, Status: models.ExecutionStatusRunning}}
	return m.graph, nil
}

func (m *mockMonitor) Refresh(context.Context) (*models.ExecutionGraph, error) {
	if m.graph == nil {
		return nil, apperrors.BadRequest("no execution loaded")
	}
	return m.graph, nil
}

func (m *mockMonitor) History(_ context.Context, limit int) ([]*models.Execution, error) {
	m.historyLim = limit
	return m.history, m.err
}

func (m *mockMonitor) Logs(context.Context) ([]*models.LogEntry, error) { return m.logs, m.err }

func (m *mockMonitor) Abort(context.Context) error {
	m.aborted = true
	return m.err
}

func (m *mockMonitor) tool(action, id string) (*models.ToolExecution, error) {
	m.actions = append(m.actions, action+":"+id)
	if m.toolErr != nil {
		return nil, m.toolErr
	}
	status := map[string]models.ToolStatus{
		"approve": models.ToolStatusExecuted,
		"deny":    models.ToolStatusDenied,
		"reset":   models.ToolStatusPending,
	}[action]
	return &models.ToolExecution{ID: id, Status: status}, nil
}

func (m *mockMonitor) Approve(_ context.Context, id string) (*models.ToolExecution, error) {
	return m.tool("approve", id)
}

func (m *mockMonitor) Deny(_ context.Context, id string) (*models.ToolExecution, error) {
	return m.tool("deny", id)
}

func (m *mockMonitor) Reset(_ context.Context, id string) (*models.ToolExecution, error) {
	return m.tool("reset", id)
}

func (m *mockMonitor) Delete(_ context.Context, id string, force bool) error {
	m.deleted, m.force = id, force
	return m.err
}

func (m *mockMonitor) NukeAll(context.Context) error {
	m.nuked = true
	return m.err
}

func do(t *testing.T, router *gin.Engine, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var body map[string]interface{}
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func newTestRouter(m *mockMonitor) *gin.Engine {
	return NewRouter(m, prometheus.NewRegistry(), logger.NewNop())
}

func TestExecutionRoutes(t *testing.T) {
	m := &mockMonitor{}
	router := newTestRouter(m)

	w, body := do(t, router, http.MethodGet, "/api/v1/execution")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.ErrCodeNotFound, body["code"])

	w, body = do(t, router, http.MethodPost, "/api/v1/execution/refresh")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "no execution loaded", body["error"])

	w, body = do(t, router, http.MethodPost, "/api/v1/executions/e1/view")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "e1", body["execution"].(map[string]interface{})["id"])

	w, _ = do(t, router, http.MethodGet, "/api/v1/execution")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, router, http.MethodPost, "/api/v1/execution/abort")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, m.aborted)
}

func TestHistoryRoute(t *testing.T) {
	m := &mockMonitor{history: []*models.Execution{{ID: "e2"}, {ID: "e1"}}}
	router := newTestRouter(m)

	w, body := do(t, router, http.MethodGet, "/api/v1/executions?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, 5, m.historyLim)

	w, _ = do(t, router, http.MethodGet, "/api/v1/executions?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestToolRoutes(t *testing.T) {
	m := &mockMonitor{}
	router := newTestRouter(m)

	tests := []struct {
		action string
		status string
	}{
		{"approve", "executed"},
		{"deny", "denied"},
		{"reset", "pending"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			w, body := do(t, router, http.MethodPost, "/api/v1/tool-executions/tc1/"+tt.action)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.status, body["status"])
		})
	}
	assert.Equal(t, []string{"approve:tc1", "deny:tc1", "reset:tc1"}, m.actions)

	t.Run("errors map to status codes", func(t *testing.T) {
		m.toolErr = apperrors.Conflict("tool call is not pending")
		w, body := do(t, router, http.MethodPost, "/api/v1/tool-executions/tc1/approve")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, apperrors.ErrCodeConflict, body["code"])

		m.toolErr = apperrors.ResumeError("th-1", assert.AnError)
		w, body = do(t, router, http.MethodPost, "/api/v1/tool-executions/tc1/approve")
		assert.Equal(t, apperrors.HTTPStatus(m.toolErr), w.Code)
		assert.Equal(t, apperrors.ErrCodeResume, body["code"])

		m.toolErr = assert.AnError
		w, body = do(t, router, http.MethodPost, "/api/v1/tool-executions/tc1/deny")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "failed to deny tool execution", body["error"])
	})
}

func TestDeleteRoutes(t *testing.T) {
	m := &mockMonitor{}
	router := newTestRouter(m)

	w, _ := do(t, router, http.MethodDelete, "/api/v1/executions/e1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "e1", m.deleted)
	assert.False(t, m.force)

	w, _ = do(t, router, http.MethodDelete, "/api/v1/executions/e2?force=true")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, m.force)

	w, _ = do(t, router, http.MethodDelete, "/api/v1/executions")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, m.nuked)
}

func TestLogsRoute(t *testing.T) {
	m := &mockMonitor{logs: []*models.LogEntry{{ID: "l1", Message: "hello"}}}
	w, body := do(t, newTestRouter(m), http.MethodGet, "/api/v1/execution/logs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.MustNew(reg).ObserveDecision("delta", "applied")
	router := NewRouter(&mockMonitor{}, reg, logger.NewNop())

	w, body := do(t, router, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, _ = do(t, router, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "execwatch_reconciler_decisions_total")
}
