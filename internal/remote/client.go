// Package remote issues commands to the orchestrator over the WebSocket
// command channel.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/execwatch/internal/approval"
	apperrors "github.com/kandev/execwatch/internal/common/errors"
	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/gateway/wsclient"
	ws "github.com/kandev/execwatch/pkg/websocket"
)

const defaultRequestTimeout = 15 * time.Second

// Requester sends a request and decodes its response.
type Requester interface {
	RequestPayload(ctx context.Context, action string, payload, result interface{}) error
}

// Client is the command side of the orchestrator connection.
type Client struct {
	conn    Requester
	timeout time.Duration
	logger  *logger.Logger
}

var _ approval.WorkflowResumer = (*Client)(nil)

// NewClient creates a Client. A non-positive timeout selects the default.
func NewClient(conn Requester, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		conn:    conn,
		timeout: timeout,
		logger:  log.WithFields(zap.String("component", "remote-client")),
	}
}

type resumeRequest struct {
	ThreadID string                   `json:"thread_id"`
	Response *approval.ResumeResponse `json:"response"`
}

type denialRequest struct {
	ExecutionID string `json:"execution_id"`
	ToolCallID  string `json:"tool_call_id"`
	Approved    bool   `json:"approved"`
}

type executionRequest struct {
	ExecutionID string `json:"execution_id"`
}

// DeleteResult reports what the orchestrator removed.
type DeleteResult struct {
	Deleted int  `json:"deleted"`
	Success bool `json:"success"`
}

// Resume sends a human decision to a paused workflow.
func (c *Client) Resume(ctx context.Context, threadID string, resp *approval.ResumeResponse) (*approval.ResumeResult, error) {
	var result approval.ResumeResult
	if err := c.do(ctx, ws.ActionWorkflowResume, resumeRequest{ThreadID: threadID, Response: resp}, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("workflow resumed",
		zap.String("thread_id", threadID),
		zap.Bool("approved", resp.Approved),
		zap.Bool("completed", result.Completed))
	return &result, nil
}

// SendDenial tells an orchestrator-side approval flow that a call was denied.
func (c *Client) SendDenial(ctx context.Context, executionID, toolCallID string) error {
	return c.do(ctx, ws.ActionToolApprovalDeny, denialRequest{
		ExecutionID: executionID,
		ToolCallID:  toolCallID,
	}, nil)
}

// DeleteExecution removes an execution upstream. Force also removes an
// execution that is still running.
func (c *Client) DeleteExecution(ctx context.Context, executionID string, force bool) (*DeleteResult, error) {
	action := ws.ActionExecutionDelete
	if force {
		action = ws.ActionExecutionForceDelete
	}
	var result DeleteResult
	if err := c.do(ctx, action, executionRequest{ExecutionID: executionID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// NukeAll removes every execution upstream.
func (c *Client) NukeAll(ctx context.Context) (*DeleteResult, error) {
	var result DeleteResult
	if err := c.do(ctx, ws.ActionExecutionNuke, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, action string, payload, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.conn.RequestPayload(ctx, action, payload, result)
	if err == nil {
		return nil
	}
	c.logger.Warn("orchestrator request failed", zap.String("action", action), zap.Error(err))

	var remoteErr *wsclient.RemoteError
	if errors.As(err, &remoteErr) {
		switch remoteErr.Code {
		case ws.ErrorCodeNotFound:
			return &apperrors.AppError{Code: apperrors.ErrCodeNotFound, Message: remoteErr.Message, HTTPStatus: http.StatusNotFound, Err: err}
		case ws.ErrorCodeBadRequest:
			return apperrors.BadRequest(remoteErr.Message)
		}
	}
	return apperrors.InternalError(fmt.Sprintf("%s request failed", action), err)
}
