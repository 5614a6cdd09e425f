package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ActivationChannel carries workflow ids whose active version changed.
const ActivationChannel = "workflow.activated"

// UserChannel is the channel turn telemetry for a channel user goes to.
func UserChannel(channelUserID string) string {
	return "user:" + channelUserID
}

type Bus struct {
	rdb     *redis.Client
	log     *zap.Logger
	ctx     context.Context
	wsHub   WSHub
	streams *Streams
}

type WSHub interface {
	Publish(channel string, message map[string]interface{})
}

func New(rdb *redis.Client, log *zap.Logger) *Bus {
	return &Bus{
		rdb:     rdb,
		log:     log,
		ctx:     context.Background(),
		streams: NewStreams(rdb, log),
	}
}

// SetWSHub sets the WebSocket hub for event broadcasting
func (b *Bus) SetWSHub(hub WSHub) {
	b.wsHub = hub
}

// GetStreams returns the streams provider
func (b *Bus) GetStreams() *Streams {
	return b.streams
}

// PublishUser publishes an event to a channel user's channel
func (b *Bus) PublishUser(channelUserID string, event map[string]interface{}) error {
	return b.Publish(UserChannel(channelUserID), event)
}

// Publish publishes an event to a channel
func (b *Bus) Publish(channel string, event map[string]interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.rdb.Publish(b.ctx, channel, data).Err(); err != nil {
		b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
		return err
	}

	// Streams are best effort; live subscribers already got the event.
	seq, err := b.streams.PublishEvent(b.ctx, channel, event)
	if err != nil {
		b.log.Warn("Failed to publish to stream", zap.String("channel", channel), zap.Error(err))
	}

	if b.wsHub != nil {
		withSeq := make(map[string]interface{}, len(event)+1)
		for k, v := range event {
			withSeq[k] = v
		}
		withSeq["seq"] = seq
		b.wsHub.Publish(channel, withSeq)
	}

	b.log.Debug("Published event", zap.String("channel", channel), zap.Int64("seq", seq))
	return nil
}

// AnnounceActivation tells every instance that workflowID has a new
// active version.
func (b *Bus) AnnounceActivation(ctx context.Context, workflowID string) error {
	if err := b.rdb.Publish(ctx, ActivationChannel, workflowID).Err(); err != nil {
		return fmt.Errorf("failed to announce activation: %w", err)
	}
	return nil
}

// SubscribeActivations calls handler for every activation announced until
// ctx is done.
func (b *Bus) SubscribeActivations(ctx context.Context, handler func(ctx context.Context, workflowID string) error) error {
	sub := b.rdb.Subscribe(ctx, ActivationChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", ActivationChannel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.Payload); err != nil {
					b.log.Error("Failed to apply workflow activation", zap.String("workflow_id", msg.Payload), zap.Error(err))
					continue
				}
				b.log.Info("Applied workflow activation", zap.String("workflow_id", msg.Payload))
			}
		}
	}()
	return nil
}
