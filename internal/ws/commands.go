package ws

import (
	"context"

	"flowbot/internal/engine"
	"flowbot/internal/model"
	"flowbot/internal/pubsub"

	"go.uber.org/zap"
)

// Conversation is the engine surface the preview channel drives.
type Conversation interface {
	ProcessEvent(ctx context.Context, ev model.InboundEvent) (*engine.Turn, error)
	ResetSession(ctx context.Context, channelUserID, workflowID string) error
}

// CommandHandler handles WebSocket commands
type CommandHandler struct {
	conv Conversation
	log  *zap.Logger
}

func NewCommandHandler(conv Conversation, log *zap.Logger) *CommandHandler {
	return &CommandHandler{conv: conv, log: log}
}

// HandleCommand processes a WebSocket command
func (h *CommandHandler) HandleCommand(ctx context.Context, conn *Conn, cmd map[string]interface{}) {
	op, _ := cmd["op"].(string)
	data, _ := cmd["data"].(map[string]interface{})
	msgID, _ := cmd["id"].(string)

	switch op {
	case "sendMessage":
		h.handleSendMessage(ctx, conn, msgID, data)
	case "reset":
		h.handleReset(ctx, conn, msgID, data)
	default:
		h.sendError(conn, msgID, "unknown_command", "Unknown command: "+op)
	}
}

// channelUser picks the simulated user: explicit in data, else the caller.
func channelUser(conn *Conn, data map[string]interface{}) string {
	if id, _ := data["channelUserId"].(string); id != "" {
		return id
	}
	return conn.userID
}

func (h *CommandHandler) handleSendMessage(ctx context.Context, conn *Conn, msgID string, data map[string]interface{}) {
	ev := model.InboundEvent{ChannelUserID: channelUser(conn, data)}
	ev.Raw, _ = data["message"].(string)
	ev.WorkflowID, _ = data["workflowId"].(string)
	ev.TriggerPayload, _ = data["payload"].(string)
	ev.TriggerTitle, _ = data["title"].(string)

	if ev.ChannelUserID == "" {
		h.sendError(conn, msgID, "invalid_input", "channelUserId required")
		return
	}
	if ev.Raw == "" && ev.TriggerPayload == "" {
		h.sendError(conn, msgID, "invalid_input", "message or payload required")
		return
	}

	// Later turns of this user stream to the connection.
	channel := pubsub.UserChannel(ev.ChannelUserID)
	conn.hub.Subscribe(conn, channel)

	turn, err := h.conv.ProcessEvent(ctx, ev)
	if err != nil {
		h.sendFailure(conn, msgID, err)
		return
	}

	h.sendResponse(conn, msgID, map[string]interface{}{
		"type": "response",
		"data": turn,
	})
}

func (h *CommandHandler) handleReset(ctx context.Context, conn *Conn, msgID string, data map[string]interface{}) {
	user := channelUser(conn, data)
	workflowID, _ := data["workflowId"].(string)
	if user == "" {
		h.sendError(conn, msgID, "invalid_input", "channelUserId required")
		return
	}

	if err := h.conv.ResetSession(ctx, user, workflowID); err != nil {
		h.sendFailure(conn, msgID, err)
		return
	}

	h.sendResponse(conn, msgID, map[string]interface{}{
		"type": "response",
		"data": map[string]string{"status": "RESET", "channelUserId": user},
	})
}

func (h *CommandHandler) sendResponse(conn *Conn, msgID string, response map[string]interface{}) {
	if msgID != "" {
		response["id"] = msgID
	}
	if !conn.sendJSON(response) {
		h.log.Warn("Failed to send command response", zap.String("id", msgID))
	}
}

// sendFailure hides engine internals from the client; fatal errors are
// logged by the engine already.
func (h *CommandHandler) sendFailure(conn *Conn, msgID string, err error) {
	message := err.Error()
	if model.IsFatal(err) {
		message = "Something went wrong, please try again"
	}
	h.sendError(conn, msgID, model.Code(err), message)
}

func (h *CommandHandler) sendError(conn *Conn, msgID, code, message string) {
	h.sendResponse(conn, msgID, map[string]interface{}{
		"type":  "error",
		"code":  code,
		"error": message,
	})
}
