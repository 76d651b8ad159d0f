// internal/storage/postgres/notifications.go
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NoimitLi/smart-campus-server/internal/storage"
)

const notificationColumns = `id, recipient_id, sender_id, notif_type, title, body, related_id, is_read, created_at`

func (s *messageStore) SaveNotification(ctx context.Context, n *storage.Notification) error {
	ctx, span := otel.Tracer("storage/notifications").Start(ctx, "SaveNotification",
		trace.WithAttributes(attribute.String("recipient", n.Recipient)))
	defer span.End()

	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.Recipient, n.Sender, n.Type, n.Title, n.Body, n.RelatedID, n.IsRead, n.CreatedAt.UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

func (s *messageStore) MarkNotificationRead(ctx context.Context, notificationID, recipientID string) (bool, error) {
	ctx, span := otel.Tracer("storage/notifications").Start(ctx, "MarkNotificationRead",
		trace.WithAttributes(attribute.String("notification_id", notificationID)))
	defer span.End()

	// Only the recipient may mark their notification; repeated calls are no-ops.
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $1 AND recipient_id = $2
	`, notificationID, recipientID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *messageStore) UnreadNotifications(ctx context.Context, recipientID string, limit int) ([]storage.Notification, error) {
	ctx, span := otel.Tracer("storage/notifications").Start(ctx, "UnreadNotifications",
		trace.WithAttributes(attribute.String("recipient", recipientID)))
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1 AND is_read = FALSE
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("unread notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (s *messageStore) RecentNotifications(ctx context.Context, recipientID string, limit int) ([]storage.Notification, error) {
	ctx, span := otel.Tracer("storage/notifications").Start(ctx, "RecentNotifications",
		trace.WithAttributes(attribute.String("recipient", recipientID)))
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("recent notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func scanNotifications(rows pgx.Rows) ([]storage.Notification, error) {
	var out []storage.Notification
	for rows.Next() {
		var n storage.Notification
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Sender, &n.Type, &n.Title, &n.Body,
			&n.RelatedID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notification scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
