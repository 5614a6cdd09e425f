package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"flowbot/internal/model"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type sendMessageRequest struct {
	ChannelUserID string `json:"channelUserId" validate:"required,max=256"`
	Message       string `json:"message" validate:"required_without=Payload,max=4096"`
	WorkflowID    string `json:"workflowId" validate:"max=256"`
	Payload       string `json:"payload" validate:"max=1000"`
	Title         string `json:"title" validate:"max=256"`
}

func (req sendMessageRequest) event() model.InboundEvent {
	return model.InboundEvent{
		ChannelUserID:  req.ChannelUserID,
		WorkflowID:     req.WorkflowID,
		Raw:            req.Message,
		TriggerPayload: req.Payload,
		TriggerTitle:   req.Title,
	}
}

type historyResponse struct {
	Messages []model.TranscriptEntry `json:"messages"`
}

func (d Dependencies) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		validationError(w, r, err)
		return
	}

	turn, err := d.Engine.ProcessEvent(r.Context(), req.event())
	if err != nil {
		WriteError(w, r, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (d Dependencies) userHistory(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "channelUserId")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, r, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := d.Engine.History(r.Context(), user, limit)
	if err != nil {
		WriteError(w, r, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: nonNil(entries)})
}

func (d Dependencies) sessionHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := d.Engine.SessionHistory(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		WriteError(w, r, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: nonNil(entries)})
}

func (d Dependencies) endSession(w http.ResponseWriter, r *http.Request) {
	s, err := d.Engine.EndSession(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		WriteError(w, r, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (d Dependencies) resetSession(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "channelUserId")
	workflowID := r.URL.Query().Get("workflowId")

	if err := d.Engine.ResetSession(r.Context(), user, workflowID); err != nil {
		WriteError(w, r, err, d.Log)
		return
	}
	d.Log.Info("Session reset via API", zap.String("channel_user_id", user), zap.String("workflow_id", workflowID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "channelUserId": user})
}

func nonNil(entries []model.TranscriptEntry) []model.TranscriptEntry {
	if entries == nil {
		return []model.TranscriptEntry{}
	}
	return entries
}
