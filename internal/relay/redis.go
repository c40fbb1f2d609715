package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"realtime-service/internal/logger"
	"realtime-service/internal/models"
)

// Envelope is the message carried on the relay channel.
type Envelope struct {
	Origin       string              `json:"origin"`
	UserIDs      []int               `json:"userIds"`
	Notification models.Notification `json:"notification"`
}

// DeliverFunc pushes a notification to a user connected on this instance.
type DeliverFunc func(userID int, n models.Notification) bool

// RedisRelay fans notifications out to every instance over Redis pub/sub.
type RedisRelay struct {
	client   *redis.Client
	channel  string
	instance string
	log      logger.Logger

	retryDelay time.Duration
}

func NewRedisRelay(client *redis.Client, channel, instance string, log logger.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, instance: instance, log: log, retryDelay: 5 * time.Second}
}

// Publish sends one envelope for all recipients.
func (r *RedisRelay) Publish(ctx context.Context, userIDs []int, n models.Notification) error {
	payload, err := json.Marshal(Envelope{Origin: r.instance, UserIDs: userIDs, Notification: n})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Run subscribes to the relay channel and delivers locally until ctx is
// cancelled. A lost or failed subscription is retried after retryDelay.
func (r *RedisRelay) Run(ctx context.Context, deliver DeliverFunc) error {
	for {
		err := r.subscribe(ctx, deliver)
		if ctx.Err() != nil {
			r.log.Info("relay stopped")
			return ctx.Err()
		}
		r.log.Warn("relay subscription lost, retrying", "channel", r.channel, "delay", r.retryDelay, "error", err)
		select {
		case <-time.After(r.retryDelay):
		case <-ctx.Done():
			r.log.Info("relay stopped")
			return ctx.Err()
		}
	}
}

func (r *RedisRelay) subscribe(ctx context.Context, deliver DeliverFunc) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := pubsub.Channel()
	r.log.Info("relay subscribed", "channel", r.channel, "instance", r.instance)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription %s closed", r.channel)
			}
			r.handle(msg.Payload, deliver)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *RedisRelay) handle(payload string, deliver DeliverFunc) int {
	env, err := decodeEnvelope(payload)
	if err != nil {
		r.log.Error("failed to parse relay payload", "payload", payload, "error", err)
		return 0
	}
	if env.Origin == r.instance {
		return 0
	}
	delivered := 0
	for _, userID := range env.UserIDs {
		if deliver(userID, env.Notification) {
			delivered++
		}
	}
	return delivered
}

func decodeEnvelope(payload string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Envelope{}, err
	}
	if len(env.UserIDs) == 0 {
		return Envelope{}, fmt.Errorf("relay envelope has no recipients")
	}
	return env, nil
}
