// internal/events/consumer_test.go
package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/NoimitLi/smart-campus-server/internal/storage"
	"github.com/NoimitLi/smart-campus-server/pkg/kafka"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

// scriptedConsumer отдаёт заранее заданные сообщения и завершается.
type scriptedConsumer struct {
	messages []*kafka.Message
	handled  []error
}

func (s *scriptedConsumer) Consume(_ context.Context, _ []string, handler func(*kafka.Message) error) error {
	for _, msg := range s.messages {
		s.handled = append(s.handled, handler(msg))
	}
	return nil
}

func (s *scriptedConsumer) Close() error { return nil }

type capturePusher struct {
	pushed []*storage.Notification
	fail   bool
}

func (p *capturePusher) Push(_ context.Context, n *storage.Notification) error {
	if p.fail {
		return errors.New("push failed")
	}
	p.pushed = append(p.pushed, n)
	return nil
}

func eventMsg(t *testing.T, ev NotificationEvent) *kafka.Message {
	t.Helper()
	value, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &kafka.Message{Key: []byte(ev.RecipientID), Value: value, Topic: TopicNotifications}
}

func TestConsumerPushes(t *testing.T) {
	src := &scriptedConsumer{messages: []*kafka.Message{
		eventMsg(t, NotificationEvent{RecipientID: "u2", SenderID: "u1", Type: "private_message", Title: "alice", Body: "hi"}),
	}}
	pusher := &capturePusher{}
	c := NewConsumer(src, pusher, logger.Nop())

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pusher.pushed) != 1 {
		t.Fatalf("pushed %d, want 1", len(pusher.pushed))
	}
	n := pusher.pushed[0]
	if n.Recipient != "u2" || n.Sender != "u1" || n.Type != "private_message" {
		t.Errorf("notification mismatch: %+v", n)
	}
}

func TestConsumerSkipsGarbage(t *testing.T) {
	src := &scriptedConsumer{messages: []*kafka.Message{
		{Value: []byte("not json"), Topic: TopicNotifications},
		{Value: []byte(`{"type":"x"}`), Topic: TopicNotifications}, // без получателя
	}}
	pusher := &capturePusher{}
	c := NewConsumer(src, pusher, logger.Nop())

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pusher.pushed) != 0 {
		t.Fatalf("garbage must not be pushed, got %d", len(pusher.pushed))
	}
	// Мусор коммитится (handler вернул nil), чтобы не зациклиться.
	for i, err := range src.handled {
		if err != nil {
			t.Errorf("message %d: handler returned %v, want nil", i, err)
		}
	}
}

func TestConsumerRetriesOnPushFailure(t *testing.T) {
	src := &scriptedConsumer{messages: []*kafka.Message{
		eventMsg(t, NotificationEvent{RecipientID: "u2", Type: "system", Title: "t", Body: "b"}),
	}}
	pusher := &capturePusher{fail: true}
	c := NewConsumer(src, pusher, logger.Nop())

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Ошибка Push должна дойти до kafka-обёртки, чтобы offset не был
	// закоммичен.
	if len(src.handled) != 1 || src.handled[0] == nil {
		t.Fatal("push failure must propagate to the consumer")
	}
}
