package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flowbot/internal/model"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeSessionIdle = "session:idle"

// Expirer ends a session that has not moved since the check was scheduled.
type Expirer interface {
	ExpireIfIdle(ctx context.Context, check model.IdleCheck) (bool, error)
}

type JobServer struct {
	server  *asynq.Server
	expirer Expirer
	log     *zap.Logger
}

func NewJobServer(redisAddr string, expirer Expirer, log *zap.Logger) *JobServer {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 3,
				"low":     1,
			},
		},
	)

	return &JobServer{
		server:  server,
		expirer: expirer,
		log:     log,
	}
}

func (js *JobServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSessionIdle, js.handleSessionIdle)
	return js.server.Start(mux)
}

func (js *JobServer) Stop() {
	js.server.Shutdown()
}

func (js *JobServer) handleSessionIdle(ctx context.Context, t *asynq.Task) error {
	check, err := DecodeIdleCheck(t.Payload())
	if err != nil {
		// A payload that cannot be decoded never will be.
		js.log.Error("Dropping malformed idle check", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	expired, err := js.expirer.ExpireIfIdle(ctx, check)
	if err != nil {
		return fmt.Errorf("failed to expire session: %w", err)
	}
	if expired {
		js.log.Info("Idle session expired",
			zap.String("session_id", check.SessionID),
			zap.String("channel_user_id", check.ChannelUserID),
			zap.String("workflow_id", check.WorkflowID),
		)
	}
	return nil
}

func EncodeIdleCheck(check model.IdleCheck) ([]byte, error) {
	data, err := json.Marshal(check)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal idle check: %w", err)
	}
	return data, nil
}

func DecodeIdleCheck(payload []byte) (model.IdleCheck, error) {
	var check model.IdleCheck
	if err := json.Unmarshal(payload, &check); err != nil {
		return check, fmt.Errorf("failed to unmarshal idle check: %w", err)
	}
	if check.SessionID == "" || check.ChannelUserID == "" || check.WorkflowID == "" {
		return check, errors.New("idle check is missing session coordinates")
	}
	return check, nil
}

// Client schedules idle checks. It satisfies engine.Scheduler.
type Client struct {
	client *asynq.Client
}

func NewClient(redisAddr string) *Client {
	return &Client{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

// ScheduleIdleExpiry enqueues a check to run after the given delay. Each
// session revision gets its own task id, so repeated scheduling of the same
// revision is a no-op.
func (c *Client) ScheduleIdleExpiry(check model.IdleCheck, after time.Duration) error {
	payload, err := EncodeIdleCheck(check)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeSessionIdle, payload)
	_, err = c.client.Enqueue(task,
		asynq.ProcessIn(after),
		asynq.Queue("low"),
		asynq.TaskID(idleTaskID(check)),
		asynq.Retention(time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}

func idleTaskID(check model.IdleCheck) string {
	return fmt.Sprintf("idle:%s:%d", check.SessionID, check.Revision)
}
