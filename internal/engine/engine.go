// Package engine drives conversations: one inbound event in, one rendered
// bot message out, with session state persisted once per turn.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowbot/internal/graph"
	"flowbot/internal/metrics"
	"flowbot/internal/model"
	"flowbot/internal/render"
	"flowbot/internal/session"
	"flowbot/internal/telemetry"
	"flowbot/internal/transition"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EventBus receives turn telemetry for live observers such as the preview UI.
type EventBus interface {
	PublishUser(channelUserID string, event map[string]interface{}) error
}

// Scheduler arranges the idle-expiry hook to run later.
type Scheduler interface {
	ScheduleIdleExpiry(check model.IdleCheck, after time.Duration) error
}

// Invalidator is implemented by graph repositories that cache activations.
type Invalidator interface {
	Invalidate(ctx context.Context, workflowID string) error
}

// Config holds the engine timeouts.
type Config struct {
	// TurnTimeout bounds lock wait plus store I/O of a turn. Zero disables it.
	TurnTimeout time.Duration
	// IdleTimeout ends sessions left untouched this long. Zero disables it.
	IdleTimeout time.Duration
}

// Turn is the result of processing one inbound event.
type Turn struct {
	Message         model.OutboundMessage `json:"message"`
	SessionID       string                `json:"sessionId"`
	WorkflowID      string                `json:"workflowId"`
	WorkflowVersion int                   `json:"workflowVersion"`
	Ended           bool                  `json:"workflowEnded"`
	NoMatch         bool                  `json:"noMatch"`
	Warnings        []string              `json:"warnings,omitempty"`
}

// Engine runs conversation turns against workflow graphs and persisted sessions.
type Engine struct {
	graphs     graph.Repository
	sessions   *session.Manager
	locker     session.Locker
	transcript Transcript
	bus        EventBus
	scheduler  Scheduler
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	log        *zap.Logger
	cfg        Config
	now        func() time.Time
}

// New creates an Engine with an in-memory transcript and a noop tracer.
func New(graphs graph.Repository, sessions *session.Manager, locker session.Locker, log *zap.Logger, cfg Config) *Engine {
	return &Engine{
		graphs:     graphs,
		sessions:   sessions,
		locker:     locker,
		transcript: NewMemoryTranscript(),
		tracer:     telemetry.NoopTracer(),
		log:        log,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetTranscript replaces the default in-memory transcript.
func (e *Engine) SetTranscript(t Transcript) {
	e.transcript = t
}

func (e *Engine) SetEventBus(bus EventBus) {
	e.bus = bus
}

func (e *Engine) SetScheduler(s Scheduler) {
	e.scheduler = s
}

func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

func (e *Engine) SetTracer(t trace.Tracer) {
	e.tracer = t
}

// SetClock replaces the time source of the engine and its session manager.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.sessions.SetClock(now)
}

// ProcessEvent runs one turn. On any error the stored session is exactly
// as it was before the call, so the caller may retry the whole turn.
func (e *Engine) ProcessEvent(ctx context.Context, ev model.InboundEvent) (*Turn, error) {
	start := time.Now()
	if ev.ChannelUserID == "" {
		return nil, model.E("engine.ProcessEvent", model.ErrInvalidInput, errors.New("channelUserId is required"))
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, e.tracer, "engine.ProcessEvent",
		attribute.String(telemetry.ChannelUserIDKey, ev.ChannelUserID),
		attribute.String(telemetry.WorkflowIDKey, ev.WorkflowID),
	)
	defer span.End()

	turn, err := e.processEvent(ctx, ev)
	if err != nil {
		err = timeoutError("engine.ProcessEvent", err)
		telemetry.SetError(span, err)
		e.metrics.ObserveTurn(metrics.OutcomeFailed, time.Since(start))
		e.logFailure("Turn failed", err,
			zap.String("channel_user_id", ev.ChannelUserID),
			zap.String("workflow_id", ev.WorkflowID),
		)
		return nil, err
	}

	outcome := outcomeOf(turn)
	span.SetAttributes(
		attribute.String(telemetry.WorkflowIDKey, turn.WorkflowID),
		attribute.Int(telemetry.WorkflowVersionKey, turn.WorkflowVersion),
		attribute.String(telemetry.SessionIDKey, turn.SessionID),
		attribute.String(telemetry.NodeIDKey, turn.Message.Metadata.NodeID),
		attribute.String(telemetry.OutcomeKey, outcome),
	)
	e.metrics.ObserveTurn(outcome, time.Since(start))
	e.metrics.RenderWarnings(len(turn.Warnings))
	e.log.Info("Turn processed",
		zap.String("channel_user_id", ev.ChannelUserID),
		zap.String("workflow_id", turn.WorkflowID),
		zap.String("session_id", turn.SessionID),
		zap.String("node_id", turn.Message.Metadata.NodeID),
		zap.String("outcome", outcome),
	)
	return turn, nil
}

func (e *Engine) processEvent(ctx context.Context, ev model.InboundEvent) (*Turn, error) {
	workflowID, err := e.resolveWorkflow(ctx, ev.WorkflowID)
	if err != nil {
		return nil, err
	}
	g, err := e.graphs.LoadGraph(ctx, workflowID, 0)
	if err != nil {
		return nil, err
	}
	startNode := g.StartNode()
	if startNode == nil {
		return nil, &model.GraphInvalidError{WorkflowID: g.ID, Version: g.Version, Violations: []model.Violation{{Code: "start_missing", Message: "no node is flagged as start"}}}
	}

	key := model.SessionKey{ChannelUserID: ev.ChannelUserID, WorkflowID: workflowID}
	release, err := e.locker.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	s, created, err := e.sessions.GetOrCreate(ctx, key, g.Version, startNode.ID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if _, ok := g.Node(s.CurrentNodeID); !ok {
		e.log.Warn("Session points at a missing node, restarting",
			zap.String("session_id", s.ID),
			zap.String("node_id", s.CurrentNodeID),
			zap.String("workflow_id", g.ID),
			zap.Int("workflow_version", g.Version),
		)
		s.Enter(startNode.ID, now, e.sessions.HistoryLimit())
	}
	s.WorkflowVersion = g.Version

	res, err := transition.Resolve(g, s.CurrentNodeID, ev)
	if err != nil {
		return nil, err
	}

	shown := s.CurrentNodeID
	if res.NextNodeID != "" {
		shown = res.NextNodeID
	}
	node, ok := g.Node(shown)
	if !ok {
		return nil, model.E("engine.ProcessEvent", model.ErrGraphInvalid, fmt.Errorf("edge %q targets missing node %q", res.EdgeID, shown))
	}
	msg, warnings, err := render.Render(node, render.Context{TriggerPayload: ev.TriggerPayload, TriggerTitle: ev.TriggerTitle})
	if err != nil {
		return nil, err
	}

	turn := &Turn{
		Message:         msg,
		SessionID:       s.ID,
		WorkflowID:      g.ID,
		WorkflowVersion: g.Version,
		NoMatch:         !res.Matched,
		Warnings:        warnings,
	}

	switch {
	case !res.Matched:
		s.UpdatedAt = now
	case res.Terminal:
		s.End(now)
	default:
		s.Enter(res.NextNodeID, now, e.sessions.HistoryLimit())
		s.UpdatedAt = now
		if transition.IsSink(g, res.NextNodeID) {
			s.End(now)
		}
	}
	turn.Ended = !s.IsActive()

	if err := e.sessions.Save(ctx, s); err != nil {
		return nil, err
	}

	if created {
		e.metrics.SessionStarted()
	}
	if turn.Ended {
		e.metrics.SessionEnded("terminal")
	}
	e.afterCommit(ctx, ev, s, turn)
	return turn, nil
}

// afterCommit runs the side effects of a committed turn. Their failures
// are logged, never returned: the turn already happened.
func (e *Engine) afterCommit(ctx context.Context, ev model.InboundEvent, s *model.Session, turn *Turn) {
	if err := e.record(ctx, ev, s, turn); err != nil {
		e.metrics.TranscriptFailed()
		e.log.Error("Failed to record transcript", zap.String("session_id", s.ID), zap.Error(err))
	}

	e.publish(s.ChannelUserID, map[string]interface{}{
		"type":            "turn.completed",
		"sessionId":       s.ID,
		"workflowId":      s.WorkflowID,
		"workflowVersion": s.WorkflowVersion,
		"nodeId":          turn.Message.Metadata.NodeID,
		"workflowEnded":   turn.Ended,
		"noMatch":         turn.NoMatch,
		"message":         turn.Message,
	})

	if e.scheduler != nil && e.cfg.IdleTimeout > 0 && s.IsActive() {
		check := model.IdleCheck{
			ChannelUserID: s.ChannelUserID,
			WorkflowID:    s.WorkflowID,
			SessionID:     s.ID,
			Revision:      s.Revision,
		}
		if err := e.scheduler.ScheduleIdleExpiry(check, e.cfg.IdleTimeout); err != nil {
			e.log.Warn("Failed to schedule idle expiry", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
}

func (e *Engine) publish(channelUserID string, event map[string]interface{}) {
	if e.bus == nil {
		return
	}
	if err := e.bus.PublishUser(channelUserID, event); err != nil {
		e.log.Warn("Failed to publish event", zap.String("channel_user_id", channelUserID), zap.Any("type", event["type"]), zap.Error(err))
	}
}

func (e *Engine) resolveWorkflow(ctx context.Context, workflowID string) (string, error) {
	if workflowID != "" {
		return workflowID, nil
	}
	ref, err := e.graphs.ActiveWorkflow(ctx)
	if err != nil {
		return "", err
	}
	return ref.WorkflowID, nil
}

// OnActivated drops cached activation state after the authoring service
// made a new version live.
func (e *Engine) OnActivated(ctx context.Context, workflowID string) error {
	inv, ok := e.graphs.(Invalidator)
	if !ok {
		return nil
	}
	if err := inv.Invalidate(ctx, workflowID); err != nil {
		return err
	}
	e.metrics.CacheInvalidated()
	return nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.TurnTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.TurnTimeout)
}

func (e *Engine) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if model.IsFatal(err) {
		e.log.Error(msg, fields...)
		return
	}
	e.log.Warn(msg, fields...)
}

// timeoutError maps a bare deadline expiry to model.ErrTimeout.
func timeoutError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, model.ErrTimeout) {
		return model.E(op, model.ErrTimeout, err)
	}
	return err
}

func outcomeOf(t *Turn) string {
	switch {
	case t.Ended:
		return metrics.OutcomeEnded
	case t.NoMatch:
		return metrics.OutcomeNoMatch
	default:
		return metrics.OutcomeAdvanced
	}
}
