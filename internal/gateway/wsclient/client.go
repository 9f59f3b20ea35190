// Package wsclient provides the WebSocket connection to the orchestrator. The
// same connection carries command requests and push notifications.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/execwatch/internal/common/logger"
	ws "github.com/kandev/execwatch/pkg/websocket"
)

// ErrNotConnected is returned by requests issued while disconnected.
var ErrNotConnected = errors.New("not connected to orchestrator")

// NotificationHandler receives push notifications in arrival order.
type NotificationHandler func(msg *ws.Message)

// RemoteError is an error response from the orchestrator.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("orchestrator error [%s]: %s", e.Code, e.Message)
}

type Client struct {
	url       string
	conn      *websocket.Conn
	logger    *logger.Logger
	pending   map[string]chan *ws.Message
	pendingMu sync.RWMutex
	connected bool
	connMu    sync.RWMutex
	writeMu   sync.Mutex
	// done is closed when the current connection's read loop exits.
	done chan struct{}

	notifications *ws.Dispatcher

	reconnectInterval time.Duration
	maxReconnectTries int
}

func New(url string, log *logger.Logger) *Client {
	l := log.WithFields(zap.String("component", "wsclient"))
	return &Client{
		url:               url,
		logger:            l,
		pending:           make(map[string]chan *ws.Message),
		notifications:     newNotificationDispatcher(l),
		reconnectInterval: 5 * time.Second,
		maxReconnectTries: 10,
	}
}

// OnNotification routes push notifications for actions to h. A later
// registration for the same action replaces the earlier one.
func (c *Client) OnNotification(actions []string, h NotificationHandler) {
	c.notifications.RegisterActions(actions, func(_ context.Context, msg *ws.Message) (*ws.Message, error) {
		h(msg)
		return nil, nil
	})
}

func newNotificationDispatcher(log *logger.Logger) *ws.Dispatcher {
	d := ws.NewDispatcher()
	d.SetFallback(ws.HandlerFunc(func(_ context.Context, msg *ws.Message) (*ws.Message, error) {
		log.Debug("ignoring notification", zap.String("action", msg.Action))
		return nil, nil
	}))
	return d
}

func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.connected {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to orchestrator: %w", err)
	}
	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})
	c.logger.Info("connected to orchestrator WebSocket", zap.String("url", c.url))
	go c.readLoop(conn, c.done)
	return nil
}

// Run keeps the connection open until ctx is done, reconnecting after a
// drop. It gives up after maxReconnectTries consecutive failed dials.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		if err := c.Connect(ctx); err != nil {
			failures++
			c.logger.Warn("connect failed", zap.Int("attempt", failures), zap.Error(err))
			if failures >= c.maxReconnectTries {
				return fmt.Errorf("giving up after %d attempts: %w", failures, err)
			}
		} else {
			failures = 0
			c.connMu.RLock()
			done := c.done
			c.connMu.RUnlock()
			select {
			case <-ctx.Done():
				return c.Close()
			case <-done:
				c.logger.Warn("connection lost, reconnecting")
			}
		}
		select {
		case <-ctx.Done():
			return c.Close()
		case <-time.After(c.reconnectInterval):
		}
	}
}

func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		return c.conn.Close()
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) Request(ctx context.Context, action string, payload interface{}) (*ws.Message, error) {
	c.connMu.RLock()
	conn, connected := c.conn, c.connected
	c.connMu.RUnlock()
	if !connected || conn == nil {
		return nil, ErrNotConnected
	}
	id := uuid.New().String()
	msg, err := ws.NewRequest(id, action, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	respChan := make(chan *ws.Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()
	c.writeMu.Lock()
	err = conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	c.logger.Debug("sent request", zap.String("action", action), zap.String("id", id))
	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

// RequestPayload sends a request and decodes a successful response into result.
func (c *Client) RequestPayload(ctx context.Context, action string, payload, result interface{}) error {
	resp, err := c.Request(ctx, action, payload)
	if err != nil {
		return err
	}
	if resp.Type == ws.MessageTypeError {
		var ep ws.ErrorPayload
		if json.Unmarshal(resp.Payload, &ep) == nil && ep.Code != "" {
			return &RemoteError{Code: ep.Code, Message: ep.Message}
		}
		return &RemoteError{Code: ws.ErrorCodeInternalError, Message: string(resp.Payload)}
	}
	if result != nil && len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var msg ws.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if c.IsConnected() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("read error", zap.Error(err))
			}
			c.handleDisconnect(conn)
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ws.Message) {
	switch msg.Type {
	case ws.MessageTypeResponse, ws.MessageTypeError:
		c.pendingMu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
		if ok {
			ch <- msg
		}
	case ws.MessageTypeNotification:
		_, _ = c.notifications.Dispatch(context.Background(), msg)
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.connected = false
		c.conn = nil
	}
	c.connMu.Unlock()
	_ = conn.Close()
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		errMsg, _ := ws.NewError(id, "", ws.ErrorCodeInternalError, "connection lost", nil)
		ch <- errMsg
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}
