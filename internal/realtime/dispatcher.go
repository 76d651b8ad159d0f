// internal/realtime/dispatcher.go
package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NoimitLi/smart-campus-server/internal/apperr"
	"github.com/NoimitLi/smart-campus-server/internal/metrics"
	"github.com/NoimitLi/smart-campus-server/internal/storage"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

// replayLimit — сколько непрочитанных уведомлений отдаётся при
// подключении.
const replayLimit = 50

// Dispatcher обслуживает канал уведомлений: replay при подключении,
// store-and-forward доставка, refcount-присутствие.
type Dispatcher struct {
	registry *Registry
	store    storage.Storage
	log      *logger.Logger

	now func() time.Time
}

func NewDispatcher(reg *Registry, store storage.Storage, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		store:    store,
		log:      log.Named("notify-dispatcher"),
		now:      time.Now,
	}
}

// Connect регистрирует соединение, помечает пользователя онлайн,
// подтверждает подключение и реплеит до replayLimit непрочитанных
// уведомлений одним init-кадром.
func (d *Dispatcher) Connect(ctx context.Context, conn *Conn) error {
	ctx, span := otel.Tracer("realtime").Start(ctx, "NotifyConnect",
		trace.WithAttributes(attribute.String("user_id", conn.UserID)))
	defer span.End()

	d.registry.Register(conn)

	// Первое соединение пользователя переводит его в онлайн.
	if d.registry.UserConnCount(conn.UserID) == 1 {
		if err := d.store.SetPresence(ctx, conn.UserID, true, d.now()); err != nil {
			d.log.Warn("presence online failed", zap.String("user_id", conn.UserID), zap.Error(err))
		}
	}

	// Подтверждение уходит до replay.
	conn.Sink.Send(mustJSON(EstablishedFrame{
		Type:   FrameConnectionEstablished,
		ConnID: conn.ID,
	}))

	unread, err := d.store.UnreadNotifications(ctx, conn.UserID, replayLimit)
	if err != nil {
		span.RecordError(err)
		// Соединение сейчас закроют; снимаем его с учёта, иначе
		// пользователь навсегда останется онлайн без единого соединения.
		d.Disconnect(ctx, conn)
		return fmt.Errorf("%w: unread replay: %v", apperr.ErrServer, err)
	}

	frames := make([]NotificationFrame, 0, len(unread))
	for _, n := range unread {
		frames = append(frames, notificationFrame(&n))
	}
	conn.Sink.Send(mustJSON(InitFrame{
		Type:          FrameInit,
		Notifications: frames,
		UnreadCount:   len(frames),
	}))
	return nil
}

// Disconnect снимает соединение с учёта. Последнее соединение
// пользователя переводит его в офлайн. Идемпотентен.
func (d *Dispatcher) Disconnect(ctx context.Context, conn *Conn) {
	d.registry.Unregister(conn.ID)
	if d.registry.UserConnCount(conn.UserID) == 0 {
		if err := d.store.SetPresence(ctx, conn.UserID, false, d.now()); err != nil {
			d.log.Warn("presence offline failed", zap.String("user_id", conn.UserID), zap.Error(err))
		}
	}
}

// Push сохраняет уведомление и доставляет его во все живые соединения
// получателя. Офлайн-получатель увидит его в replay при следующем
// подключении.
func (d *Dispatcher) Push(ctx context.Context, n *storage.Notification) error {
	ctx, span := otel.Tracer("realtime").Start(ctx, "NotifyPush",
		trace.WithAttributes(attribute.String("recipient", n.Recipient)))
	defer span.End()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now()
	}

	// Сначала персист: доставка без записи потеряла бы уведомление при
	// обрыве соединения.
	if err := d.store.SaveNotification(ctx, n); err != nil {
		span.RecordError(err)
		metrics.NotificationsPushed.WithLabelValues(metrics.Service(), "persist_error").Inc()
		return fmt.Errorf("%w: notification persist: %v", apperr.ErrServer, err)
	}

	delivered := d.registry.SendToUser(n.Recipient, mustJSON(notificationFrame(n)))
	if delivered > 0 {
		metrics.NotificationsPushed.WithLabelValues(metrics.Service(), "online").Inc()
	} else {
		metrics.NotificationsPushed.WithLabelValues(metrics.Service(), "stored").Inc()
	}
	return nil
}

// MarkRead помечает уведомление прочитанным от имени получателя.
// false в ответе хранилища означает чужое либо неизвестное уведомление.
func (d *Dispatcher) MarkRead(ctx context.Context, notificationID, recipientID string) error {
	ok, err := d.store.MarkNotificationRead(ctx, notificationID, recipientID)
	if err != nil {
		return fmt.Errorf("%w: mark notification: %v", apperr.ErrServer, err)
	}
	if !ok {
		return apperr.ErrForbidden
	}
	return nil
}

// Recent возвращает последние уведомления получателя для HTTP-выдачи.
func (d *Dispatcher) Recent(ctx context.Context, recipientID string, limit int) ([]storage.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = replayLimit
	}
	list, err := d.store.RecentNotifications(ctx, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: recent notifications: %v", apperr.ErrServer, err)
	}
	return list, nil
}

// RecentMessages возвращает последние сообщения из комнат пользователя.
func (d *Dispatcher) RecentMessages(ctx context.Context, userID string, limit int) ([]storage.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = replayLimit
	}
	list, err := d.store.RecentMessages(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: recent messages: %v", apperr.ErrServer, err)
	}
	return list, nil
}

func notificationFrame(n *storage.Notification) NotificationFrame {
	return NotificationFrame{
		Type:      FrameNotification,
		ID:        n.ID,
		NotifType: n.Type,
		Title:     n.Title,
		Body:      n.Body,
		Sender:    n.Sender,
		RelatedID: n.RelatedID,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}
