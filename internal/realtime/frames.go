// internal/realtime/frames.go
//
// Wire-формат websocket-каналов. Каждый кадр — JSON-объект с полем
// "type"; остальные поля зависят от типа.
package realtime

import (
	"encoding/json"
	"time"
)

// Прикладные коды закрытия соединения (диапазон 4000-4999).
const (
	CloseGeneric          = 4000 // внутренняя ошибка, клиент может переподключиться
	CloseUnauthenticated  = 4001 // токен отсутствует, просрочен или не access
	ClosePrivateViolation = 4003 // попытка писать в чужую приватную комнату
	CloseUnauthorizedRoom = 4004 // подключение к комнате без членства
)

// Типы кадров.
const (
	FrameConnectionEstablished = "connection_established"
	FrameInit                  = "init"
	FrameChatMessage           = "chat_message"
	FrameSystemMessage         = "system_message"
	FrameTyping                = "typing"
	FrameReadReceipt           = "read_receipt"
	FrameNotification          = "notification"
	FrameCommand               = "command"
	FrameError                 = "error"
)

// Команды клиента на канале notify.
const (
	CmdReadNotification = "read_notification"
	CmdNotificationList = "get_notification_list"
	CmdMessageList      = "get_message_list"
)

// InboundFrame — кадр от клиента. Поля заполняются по типу.
type InboundFrame struct {
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`       // chat_message
	MessageID    string `json:"message_id,omitempty"`    // read_receipt
	NotifySender bool   `json:"notify_sender,omitempty"` // read_receipt
	IsTyping     bool   `json:"is_typing,omitempty"`     // typing
}

// ChatFrame — доставленное сообщение чата.
type ChatFrame struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	SenderID  string    `json:"sender_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SystemFrame — служебное событие комнаты (вход/выход участника).
type SystemFrame struct {
	Type     string    `json:"type"`
	Room     string    `json:"room"`
	Event    string    `json:"event"` // "join" | "leave"
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	At       time.Time `json:"at"`
}

// TypingFrame ретранслируется без персиста.
type TypingFrame struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// ReceiptFrame подтверждает прочтение отправителю сообщения.
type ReceiptFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	ReaderID  string `json:"reader_id"`
}

// NotificationFrame — push-уведомление на канале notify.
type NotificationFrame struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	NotifType string    `json:"notif_type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Sender    string    `json:"sender,omitempty"`
	RelatedID string    `json:"related_id,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// InitFrame несёт replay непрочитанных уведомлений при подключении.
type InitFrame struct {
	Type          string              `json:"type"`
	Notifications []NotificationFrame `json:"notifications"`
	UnreadCount   int                 `json:"unread_count"`
}

// EstablishedFrame подтверждает успешное подключение.
type EstablishedFrame struct {
	Type   string `json:"type"`
	ConnID string `json:"conn_id"`
	Room   string `json:"room,omitempty"`
}

// CommandRequest — команда клиента на канале notify.
type CommandRequest struct {
	Type           string `json:"type"`
	Command        string `json:"command"`
	NotificationID string `json:"notification_id,omitempty"` // read_notification
	Limit          int    `json:"limit,omitempty"`
}

// CommandFrame — ответ сервера на команду.
type CommandFrame struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Data    any    `json:"data,omitempty"`
}

// ErrorFrame — прикладная ошибка, не закрывающая соединение.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"` // invalid_payload | message_failed | server_error
	Message string `json:"message"`
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Все кадры — плоские структуры, маршал не может упасть.
		panic(err)
	}
	return b
}

func errorFrame(code, msg string) []byte {
	return mustJSON(ErrorFrame{Type: FrameError, Code: code, Message: msg})
}
