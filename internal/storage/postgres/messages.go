// internal/storage/postgres/messages.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NoimitLi/smart-campus-server/internal/storage"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

type messageStore struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewStorage возвращает Storage поверх pgx-пула.
func NewStorage(db *pgxpool.Pool, log *logger.Logger) storage.Storage {
	return &messageStore{db: db, log: log.Named("storage")}
}

func (s *messageStore) SaveMessage(ctx context.Context, msg *storage.Message) error {
	ctx, span := otel.Tracer("storage/messages").Start(ctx, "SaveMessage",
		trace.WithAttributes(attribute.String("room", msg.Room)))
	defer span.End()

	_, err := s.db.Exec(ctx, `
		INSERT INTO chat_messages (id, room_name, sender_id, content, message_type, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.Room, msg.SenderID, msg.Content, msg.Type, msg.IsRead, msg.CreatedAt.UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *messageStore) MarkMessageRead(ctx context.Context, messageID, readerID string) (bool, error) {
	ctx, span := otel.Tracer("storage/messages").Start(ctx, "MarkMessageRead",
		trace.WithAttributes(attribute.String("message_id", messageID)))
	defer span.End()

	// Reader must share the room with the message.
	tag, err := s.db.Exec(ctx, `
		UPDATE chat_messages m SET is_read = TRUE
		WHERE m.id = $1
		  AND EXISTS (
			SELECT 1 FROM room_members rm
			WHERE rm.room_name = m.room_name AND rm.user_id = $2
		  )
	`, messageID, readerID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("mark message read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *messageStore) MessageSender(ctx context.Context, messageID string) (string, error) {
	ctx, span := otel.Tracer("storage/messages").Start(ctx, "MessageSender")
	defer span.End()

	var senderID string
	err := s.db.QueryRow(ctx,
		`SELECT sender_id FROM chat_messages WHERE id = $1`, messageID).Scan(&senderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("message sender: %w", err)
	}
	return senderID, nil
}

func (s *messageStore) RecentMessages(ctx context.Context, userID string, limit int) ([]storage.Message, error) {
	ctx, span := otel.Tracer("storage/messages").Start(ctx, "RecentMessages",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT m.id, m.room_name, m.sender_id, m.content, m.message_type, m.is_read, m.created_at
		FROM chat_messages m
		JOIN room_members rm ON rm.room_name = m.room_name
		WHERE rm.user_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []storage.Message
	for rows.Next() {
		var m storage.Message
		if err := rows.Scan(&m.ID, &m.Room, &m.SenderID, &m.Content, &m.Type, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("message scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *messageStore) RoomMembership(ctx context.Context, roomName string) (*storage.Room, error) {
	ctx, span := otel.Tracer("storage/messages").Start(ctx, "RoomMembership",
		trace.WithAttributes(attribute.String("room", roomName)))
	defer span.End()

	var room storage.Room
	err := s.db.QueryRow(ctx,
		`SELECT name, room_type, created_at FROM chat_rooms WHERE name = $1`, roomName).
		Scan(&room.Name, &room.Type, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("room query: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT user_id FROM room_members WHERE room_name = $1 ORDER BY user_id`, roomName)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("room members query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("member scan: %w", err)
		}
		room.MemberIDs = append(room.MemberIDs, id)
	}
	return &room, rows.Err()
}

func (s *messageStore) SetPresence(ctx context.Context, userID string, online bool, seenAt time.Time) error {
	ctx, span := otel.Tracer("storage/messages").Start(ctx, "SetPresence",
		trace.WithAttributes(attribute.String("user_id", userID), attribute.Bool("online", online)))
	defer span.End()

	// Last writer wins, одна строка на пользователя.
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_presence (user_id, is_online, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET is_online = $2, last_seen = $3
	`, userID, online, seenAt.UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}
