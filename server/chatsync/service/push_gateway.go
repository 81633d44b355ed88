package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"chatsync/server/chatsync/domain"
	"chatsync/server/chatsync/engine"
	commonlog "chatsync/server/common/log"
)

const (
	PushExchange         = "chat.push"
	pushKeyPrefix        = "chatsync:push:"
	pushRoutingSubscribe = "push.subscribe"
	pushRoutingUnsub     = "push.unsubscribe"
)

type markerStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type pushEvent struct {
	UserID     string    `json:"userId"`
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PushGateway implements engine.PushPlatform for a headless agent: the
// permission and subscription markers live in redis and subscription changes
// are published to the push delivery worker over AMQP.
type PushGateway struct {
	store     markerStore
	mq        amqpPublisher
	userID    string
	autoGrant bool
}

func NewPushGateway(store markerStore, mq amqpPublisher, userID string, autoGrant bool) *PushGateway {
	return &PushGateway{store: store, mq: mq, userID: userID, autoGrant: autoGrant}
}

var _ engine.PushPlatform = (*PushGateway)(nil)

func (g *PushGateway) Supported() bool {
	return g.store != nil && g.mq != nil
}

func (g *PushGateway) permissionKey() string {
	return pushKeyPrefix + g.userID + ":permission"
}

func (g *PushGateway) subscriptionKey() string {
	return pushKeyPrefix + g.userID + ":subscription"
}

func (g *PushGateway) Permission(ctx context.Context) (domain.PushPermission, error) {
	value, err := g.store.Get(ctx, g.permissionKey()).Result()
	if errors.Is(err, redis.Nil) {
		return domain.PushPermissionDefault, nil
	}
	if err != nil {
		return "", fmt.Errorf("read push permission: %w", err)
	}
	switch perm := domain.PushPermission(value); perm {
	case domain.PushPermissionGranted, domain.PushPermissionDenied:
		return perm, nil
	default:
		return domain.PushPermissionDefault, nil
	}
}

// RequestPermission answers the prompt with the configured policy. A stored
// denial is returned unchanged.
func (g *PushGateway) RequestPermission(ctx context.Context) (domain.PushPermission, error) {
	current, err := g.Permission(ctx)
	if err != nil {
		return "", err
	}
	if current != domain.PushPermissionDefault {
		return current, nil
	}
	answer := domain.PushPermissionDenied
	if g.autoGrant {
		answer = domain.PushPermissionGranted
	}
	if err := g.store.Set(ctx, g.permissionKey(), string(answer), 0).Err(); err != nil {
		return "", fmt.Errorf("store push permission: %w", err)
	}
	commonlog.Infof("event=chatsync_push action=permission status=%s user_id=%s", answer, g.userID)
	return answer, nil
}

func (g *PushGateway) Subscribed(ctx context.Context) (bool, error) {
	n, err := g.store.Exists(ctx, g.subscriptionKey()).Result()
	if err != nil {
		return false, fmt.Errorf("read push subscription: %w", err)
	}
	return n > 0, nil
}

func (g *PushGateway) Subscribe(ctx context.Context) error {
	if err := g.publish(ctx, pushRoutingSubscribe); err != nil {
		return err
	}
	if err := g.store.Set(ctx, g.subscriptionKey(), time.Now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("store push subscription: %w", err)
	}
	return nil
}

func (g *PushGateway) Unsubscribe(ctx context.Context) error {
	if err := g.publish(ctx, pushRoutingUnsub); err != nil {
		return err
	}
	if err := g.store.Del(ctx, g.subscriptionKey()).Err(); err != nil {
		return fmt.Errorf("clear push subscription: %w", err)
	}
	return nil
}

func (g *PushGateway) publish(ctx context.Context, action string) error {
	body, err := json.Marshal(pushEvent{UserID: g.userID, Action: action, OccurredAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	routingKey := g.userID + "." + action
	err = g.mq.PublishWithContext(ctx, PushExchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		commonlog.Errorf("event=chatsync_push action=publish status=failed user_id=%s routing_key=%s error=%v", g.userID, routingKey, err)
		return fmt.Errorf("publish %s: %w", action, err)
	}
	return nil
}
