package wsclient

import (
	"context"

	"go.uber.org/zap"

	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/events"
	"github.com/kandev/execwatch/internal/events/bus"
	ws "github.com/kandev/execwatch/pkg/websocket"
)

const bridgeSource = "orchestrator-ws"

// BridgeActions are the notification actions republished by the bridge.
var BridgeActions = events.Topics

// NewBridge returns a handler that republishes orchestrator notifications
// on the event bus under their topic. Register it for BridgeActions.
func NewBridge(eventBus bus.EventBus, log *logger.Logger) NotificationHandler {
	log = log.WithFields(zap.String("component", "ws-bridge"))
	return func(msg *ws.Message) {
		if !events.IsTopic(msg.Action) {
			return
		}
		var data map[string]interface{}
		if err := msg.ParsePayload(&data); err != nil {
			log.Warn("dropping notification with invalid payload",
				zap.String("action", msg.Action), zap.Error(err))
			return
		}
		event := bus.NewEventAt(msg.Action, bridgeSource, msg.Timestamp, data)
		if err := eventBus.Publish(context.Background(), events.BuildTopicSubject(msg.Action), event); err != nil {
			log.Warn("failed to republish notification", zap.String("action", msg.Action), zap.Error(err))
		}
	}
}
