package engine

import (
	"context"
	"errors"
	"fmt"

	"flowbot/internal/model"

	"go.uber.org/zap"
)

// ResetSession forgets the state of a user in a workflow so the next event
// starts over at the start node. An empty workflowID addresses the active
// workflow.
func (e *Engine) ResetSession(ctx context.Context, channelUserID, workflowID string) error {
	if channelUserID == "" {
		return model.E("engine.ResetSession", model.ErrInvalidInput, errors.New("channelUserId is required"))
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	workflowID, err := e.resolveWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	key := model.SessionKey{ChannelUserID: channelUserID, WorkflowID: workflowID}

	release, err := e.locker.Acquire(ctx, key)
	if err != nil {
		return timeoutError("engine.ResetSession", err)
	}
	defer release()

	previous, err := e.sessions.Load(ctx, key)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return timeoutError("engine.ResetSession", err)
	}
	if err := e.sessions.Reset(ctx, key); err != nil {
		return timeoutError("engine.ResetSession", err)
	}

	event := map[string]interface{}{
		"type":       "session.reset",
		"workflowId": workflowID,
	}
	if previous != nil {
		event["sessionId"] = previous.ID
		if previous.IsActive() {
			e.metrics.SessionEnded("reset")
		}
	}
	e.publish(channelUserID, event)
	e.log.Info("Session reset", zap.String("channel_user_id", channelUserID), zap.String("workflow_id", workflowID))
	return nil
}

// EndSession ends the session with the given id. Ending an already ended
// session is a no-op.
func (e *Engine) EndSession(ctx context.Context, sessionID string) (*model.Session, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	found, err := e.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, timeoutError("engine.EndSession", err)
	}

	release, err := e.locker.Acquire(ctx, found.Key())
	if err != nil {
		return nil, timeoutError("engine.EndSession", err)
	}
	defer release()

	s, err := e.sessions.Load(ctx, found.Key())
	if err != nil {
		return nil, timeoutError("engine.EndSession", err)
	}
	if s.ID != sessionID {
		return nil, model.E("engine.EndSession", model.ErrNotFound, fmt.Errorf("session %s was replaced", sessionID))
	}
	if !s.IsActive() {
		return s, nil
	}
	if err := e.sessions.End(ctx, s); err != nil {
		return nil, timeoutError("engine.EndSession", err)
	}

	e.metrics.SessionEnded("explicit")
	e.publish(s.ChannelUserID, map[string]interface{}{
		"type":       "session.ended",
		"sessionId":  s.ID,
		"workflowId": s.WorkflowID,
		"reason":     "explicit",
	})
	e.log.Info("Session ended", zap.String("session_id", s.ID), zap.String("channel_user_id", s.ChannelUserID))
	return s, nil
}

// ExpireIfIdle is the idle-timeout hook. It ends the session only if it is
// still exactly in the state the check was scheduled for, and reports
// whether it did.
func (e *Engine) ExpireIfIdle(ctx context.Context, check model.IdleCheck) (bool, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	release, err := e.locker.Acquire(ctx, check.Key())
	if err != nil {
		return false, timeoutError("engine.ExpireIfIdle", err)
	}
	defer release()

	s, err := e.sessions.Load(ctx, check.Key())
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, timeoutError("engine.ExpireIfIdle", err)
	}
	if s.ID != check.SessionID || s.Revision != check.Revision || !s.IsActive() {
		return false, nil
	}
	if err := e.sessions.End(ctx, s); err != nil {
		return false, timeoutError("engine.ExpireIfIdle", err)
	}

	e.metrics.SessionEnded("idle")
	e.publish(s.ChannelUserID, map[string]interface{}{
		"type":       "session.ended",
		"sessionId":  s.ID,
		"workflowId": s.WorkflowID,
		"reason":     "idle",
	})
	e.log.Info("Idle session expired", zap.String("session_id", s.ID), zap.String("channel_user_id", s.ChannelUserID))
	return true, nil
}

// History returns the latest transcript entries of a user across sessions,
// oldest first.
func (e *Engine) History(ctx context.Context, channelUserID string, limit int) ([]model.TranscriptEntry, error) {
	switch {
	case limit <= 0:
		limit = model.DefaultTranscriptLimit
	case limit > model.MaxTranscriptLimit:
		limit = model.MaxTranscriptLimit
	}
	return e.transcript.ByUser(ctx, channelUserID, limit)
}

// SessionHistory returns every transcript entry of one session, oldest first.
func (e *Engine) SessionHistory(ctx context.Context, sessionID string) ([]model.TranscriptEntry, error) {
	return e.transcript.BySession(ctx, sessionID)
}
