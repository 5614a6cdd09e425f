package graph

import (
	"context"
	"errors"
	"fmt"

	"flowbot/internal/db"
	"flowbot/internal/model"

	"github.com/jackc/pgx/v5"
)

// PostgresRepository reads workflow versions published by the authoring
// service into the workflows and workflow_versions tables.
type PostgresRepository struct {
	queries *db.Queries
	decoder *Decoder
}

func NewPostgresRepository(queries *db.Queries, decoder *Decoder) *PostgresRepository {
	return &PostgresRepository{queries: queries, decoder: decoder}
}

func (r *PostgresRepository) LoadGraph(ctx context.Context, workflowID string, version int) (*model.WorkflowGraph, error) {
	if version == 0 {
		v, err := r.ActiveVersion(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		version = v
	}

	doc, err := r.queries.GetWorkflowDocument(ctx, workflowID, version)
	if err != nil {
		return nil, queryError("graph.LoadGraph", fmt.Sprintf("workflow %s v%d", workflowID, version), err)
	}
	return r.decoder.Decode(ctx, doc)
}

func (r *PostgresRepository) ActiveVersion(ctx context.Context, workflowID string) (int, error) {
	w, err := r.queries.GetWorkflow(ctx, workflowID)
	if err != nil {
		return 0, queryError("graph.ActiveVersion", "workflow "+workflowID, err)
	}
	if w.ActiveVersion == nil {
		return 0, notFound("graph.ActiveVersion", "workflow %s has no active version", workflowID)
	}
	return *w.ActiveVersion, nil
}

func (r *PostgresRepository) ActiveWorkflow(ctx context.Context) (Ref, error) {
	w, err := r.queries.GetActiveWorkflow(ctx)
	if err != nil {
		return Ref{}, queryError("graph.ActiveWorkflow", "active workflow", err)
	}
	return Ref{WorkflowID: w.ID, Version: *w.ActiveVersion}, nil
}

// Publish stores a validated document as a new version and optionally
// activates it.
func (r *PostgresRepository) Publish(ctx context.Context, data []byte, activate bool) (*model.WorkflowGraph, error) {
	g, err := r.decoder.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := r.queries.CreateWorkflowVersion(ctx, g.ID, g.Name, g.Version, data); err != nil {
		return nil, fmt.Errorf("failed to store workflow version: %w", err)
	}
	if activate {
		if err := r.queries.ActivateWorkflowVersion(ctx, g.ID, g.Version); err != nil {
			return nil, fmt.Errorf("failed to activate workflow version: %w", err)
		}
	}
	return g, nil
}

func queryError(op, what string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return model.E(op, model.ErrNotFound, fmt.Errorf("%s not found", what))
	case errors.Is(err, context.DeadlineExceeded):
		return model.E(op, model.ErrTimeout, err)
	default:
		return model.E(op, model.ErrStoreUnavailable, err)
	}
}
