package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chatsync/server/chatsync/domain"
	commonlog "chatsync/server/common/log"
)

const alertChannelPrefix = "chatsync:alerts:"

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// AlertPublisher implements engine.Notifier. Alerts go to the user's redis
// channel, where desktop shells and browser tabs subscribe. Without redis
// the alert is only logged.
type AlertPublisher struct {
	redis  redisPublisher
	userID string
}

func NewAlertPublisher(client redisPublisher, userID string) *AlertPublisher {
	return &AlertPublisher{redis: client, userID: userID}
}

func AlertChannel(userID string) string {
	return alertChannelPrefix + userID
}

func (p *AlertPublisher) Notify(ctx context.Context, alert domain.Alert) error {
	if p.redis == nil {
		commonlog.Infof("event=chatsync_alert action=publish status=fallback reason=redis_disabled user_id=%s group_id=%s message_id=%s sender=%q", p.userID, alert.GroupID, alert.MessageID, alert.SenderName)
		return nil
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	receivers, err := p.redis.Publish(ctx, AlertChannel(p.userID), body).Result()
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	commonlog.Debugf("event=chatsync_alert action=publish status=ok user_id=%s group_id=%s message_id=%s receivers=%d", p.userID, alert.GroupID, alert.MessageID, receivers)
	return nil
}
