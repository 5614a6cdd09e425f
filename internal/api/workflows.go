package api

import (
	"io"
	"net/http"
	"strings"

	"flowbot/internal/graph"
	"flowbot/internal/model"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxDocumentBytes bounds uploaded workflow documents.
const maxDocumentBytes = 4 << 20

type validationResponse struct {
	Valid      bool              `json:"valid"`
	WorkflowID string            `json:"workflowId,omitempty"`
	Version    int               `json:"version,omitempty"`
	Violations []model.Violation `json:"violations"`
}

func (d Dependencies) validateWorkflow(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes+1))
	if err != nil {
		badRequest(w, r, "failed to read body")
		return
	}
	if len(data) > maxDocumentBytes {
		badRequest(w, r, "workflow document too large")
		return
	}

	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		if data, err = graph.YAMLToJSON(data); err != nil {
			badRequest(w, r, err.Error())
			return
		}
	}

	g, res, err := d.Decoder.Check(r.Context(), data)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	resp := validationResponse{Valid: res.Valid(), Violations: res.Violations}
	if resp.Violations == nil {
		resp.Violations = []model.Violation{}
	}
	if g != nil {
		resp.WorkflowID = g.ID
		resp.Version = g.Version
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d Dependencies) workflowActivated(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "id")

	if err := d.Engine.OnActivated(r.Context(), workflowID); err != nil {
		WriteError(w, r, err, d.Log)
		return
	}
	if d.Bus != nil {
		if err := d.Bus.AnnounceActivation(r.Context(), workflowID); err != nil {
			d.Log.Warn("Failed to announce activation", zap.String("workflow_id", workflowID), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
