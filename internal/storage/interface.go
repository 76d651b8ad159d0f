// internal/storage/interface.go
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound возвращается, когда запрошенная запись отсутствует.
var ErrNotFound = errors.New("storage: not found")

type User struct {
	ID           string
	Account      string
	Username     string
	Nickname     string
	Avatar       string
	Phone        string
	PasswordHash string
	LastActiveAt time.Time
	CreatedAt    time.Time
}

type Role struct {
	ID   string
	Name string
	Code string
}

type RoomType string

const (
	RoomGroup   RoomType = "group"
	RoomPrivate RoomType = "private"
)

type Room struct {
	Name      string
	Type      RoomType
	MemberIDs []string
	CreatedAt time.Time
}

// IsMember reports whether userID belongs to the room.
func (r *Room) IsMember(userID string) bool {
	for _, id := range r.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type MessageType string

const (
	MessageGroup   MessageType = "group"
	MessagePrivate MessageType = "private"
)

type Message struct {
	ID        string
	Room      string
	SenderID  string
	Content   string
	Type      MessageType
	IsRead    bool
	CreatedAt time.Time
}

type Notification struct {
	ID        string
	Recipient string
	Sender    string // optional
	Type      string
	Title     string
	Body      string
	RelatedID string // optional
	IsRead    bool
	CreatedAt time.Time
}

// UserDirectory отвечает на вопросы «кто это» и «что ему можно».
type UserDirectory interface {
	// FindByUsername ищет по username или account.
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByPhone(ctx context.Context, phone string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	// RoleAndPermissions возвращает роль пользователя и коды её разрешений.
	// Пользователь без роли — (nil, nil, nil).
	RoleAndPermissions(ctx context.Context, userID string) (*Role, []string, error)
	// TouchLastActive обновляет отметку последней активности.
	TouchLastActive(ctx context.Context, userID string, at time.Time) error
}

// Storage персистит сообщения, уведомления и presence.
type Storage interface {
	SaveMessage(ctx context.Context, msg *Message) error
	// MarkMessageRead помечает сообщение прочитанным; идемпотентно.
	// false — сообщение не найдено или reader не состоит в комнате.
	MarkMessageRead(ctx context.Context, messageID, readerID string) (bool, error)
	MessageSender(ctx context.Context, messageID string) (string, error)

	SaveNotification(ctx context.Context, n *Notification) error
	MarkNotificationRead(ctx context.Context, notificationID, recipientID string) (bool, error)
	// UnreadNotifications возвращает непрочитанные, новые первыми.
	UnreadNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error)
	RecentNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error)
	RecentMessages(ctx context.Context, userID string, limit int) ([]Message, error)

	RoomMembership(ctx context.Context, roomName string) (*Room, error)
	SetPresence(ctx context.Context, userID string, online bool, seenAt time.Time) error
}
