// internal/events/event.go
//
// Пакет events связывает чат и уведомления через Kafka: роутер чата
// публикует события, консьюмер превращает их в push-уведомления.
package events

import "time"

// TopicNotifications — топик событий, порождающих уведомления.
const TopicNotifications = "campus.notifications"

// NotificationEvent — полезная нагрузка события. Key сообщения —
// RecipientID, чтобы события одного получателя шли по порядку.
type NotificationEvent struct {
	RecipientID string    `json:"recipient_id"`
	SenderID    string    `json:"sender_id,omitempty"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	RelatedID   string    `json:"related_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
