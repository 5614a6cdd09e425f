package api

import (
	"context"
	"net/http"

	"flowbot/internal/auth"
	"flowbot/internal/engine"
	"flowbot/internal/graph"
	"flowbot/internal/model"
	"flowbot/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Conversation is the engine surface exposed over HTTP.
type Conversation interface {
	ProcessEvent(ctx context.Context, ev model.InboundEvent) (*engine.Turn, error)
	ResetSession(ctx context.Context, channelUserID, workflowID string) error
	EndSession(ctx context.Context, sessionID string) (*model.Session, error)
	History(ctx context.Context, channelUserID string, limit int) ([]model.TranscriptEntry, error)
	SessionHistory(ctx context.Context, sessionID string) ([]model.TranscriptEntry, error)
	OnActivated(ctx context.Context, workflowID string) error
}

// Announcer fans activation notices out to the other instances.
type Announcer interface {
	AnnounceActivation(ctx context.Context, workflowID string) error
}

type Dependencies struct {
	Engine  Conversation
	Decoder *graph.Decoder
	Bus     Announcer
	Hub     *ws.Hub
	Auth    *auth.JWTConfig
	Log     *zap.Logger
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger(d.Log))

	if d.Auth == nil {
		d.Auth = auth.NewJWTConfig("")
	}
	r.Use(d.Auth.Middleware)

	// Chat endpoints
	r.Post("/chat/message", d.sendMessage)
	r.Get("/chat/history/{channelUserId}", d.userHistory)
	r.Get("/chat/session/{sessionId}/history", d.sessionHistory)
	r.Post("/chat/session/{sessionId}/end", d.endSession)
	r.Post("/chat/reset/{channelUserId}", d.resetSession)

	// Workflow endpoints
	r.Post("/workflows/validate", d.validateWorkflow)
	r.Post("/workflows/{id}/activated", d.workflowActivated)

	// WebSocket endpoint
	r.Get("/ws", d.wsHandler)

	return r
}
