// internal/events/consumer.go
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/NoimitLi/smart-campus-server/internal/storage"
	"github.com/NoimitLi/smart-campus-server/pkg/kafka"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

// Pusher — принимающая сторона: диспетчер уведомлений.
type Pusher interface {
	Push(ctx context.Context, n *storage.Notification) error
}

// Consumer превращает события из Kafka в push-уведомления.
type Consumer struct {
	consumer kafka.Consumer
	pusher   Pusher
	log      *logger.Logger
}

func NewConsumer(c kafka.Consumer, pusher Pusher, log *logger.Logger) *Consumer {
	return &Consumer{consumer: c, pusher: pusher, log: log.Named("events")}
}

// Run блокирует до отмены контекста. Неразборчивые события логируются
// и коммитятся: перечитывать их бессмысленно.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.consumer.Consume(ctx, []string{TopicNotifications}, func(msg *kafka.Message) error {
		var ev NotificationEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Error("bad notification event",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return nil
		}
		if ev.RecipientID == "" {
			c.log.Error("notification event without recipient", zap.Int64("offset", msg.Offset))
			return nil
		}

		n := &storage.Notification{
			Recipient: ev.RecipientID,
			Sender:    ev.SenderID,
			Type:      ev.Type,
			Title:     ev.Title,
			Body:      ev.Body,
			RelatedID: ev.RelatedID,
			CreatedAt: ev.CreatedAt,
		}
		// Ошибка Push не коммитит offset: событие будет перечитано.
		return c.pusher.Push(ctx, n)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("events consumer: %w", err)
	}
	return nil
}
