// internal/realtime/router.go
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NoimitLi/smart-campus-server/internal/apperr"
	"github.com/NoimitLi/smart-campus-server/internal/events"
	"github.com/NoimitLi/smart-campus-server/internal/metrics"
	"github.com/NoimitLi/smart-campus-server/internal/storage"
	"github.com/NoimitLi/smart-campus-server/pkg/kafka"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

// Router обслуживает канал чата: авторизация комнат, маршрутизация
// кадров, персист перед рассылкой.
type Router struct {
	registry *Registry
	store    storage.Storage
	users    storage.UserDirectory
	producer kafka.Producer
	log      *logger.Logger

	now func() time.Time
}

func NewRouter(reg *Registry, store storage.Storage, users storage.UserDirectory, producer kafka.Producer, log *logger.Logger) *Router {
	return &Router{
		registry: reg,
		store:    store,
		users:    users,
		producer: producer,
		log:      log.Named("chat-router"),
		now:      time.Now,
	}
}

// Authorize проверяет, что пользователь состоит в комнате. Неизвестная
// комната и чужая комната неразличимы для клиента: обе — ErrForbidden.
func (r *Router) Authorize(ctx context.Context, userID, room string) (*storage.Room, error) {
	rm, err := r.store.RoomMembership(ctx, room)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("%w: room lookup: %v", apperr.ErrServer, err)
	}
	if !rm.IsMember(userID) {
		return nil, apperr.ErrForbidden
	}
	return rm, nil
}

// Connect регистрирует соединение в комнате и оповещает остальных
// участников system_message-кадром о входе.
func (r *Router) Connect(ctx context.Context, conn *Conn, room *storage.Room, username string) {
	r.registry.Register(conn)
	r.registry.JoinRoom(conn.ID, room.Name)

	conn.Sink.Send(mustJSON(EstablishedFrame{
		Type:   FrameConnectionEstablished,
		ConnID: conn.ID,
		Room:   room.Name,
	}))
	r.registry.Broadcast(room.Name, mustJSON(SystemFrame{
		Type:     FrameSystemMessage,
		Room:     room.Name,
		Event:    "join",
		UserID:   conn.UserID,
		Username: username,
		At:       r.now(),
	}))
}

// Disconnect снимает соединение с учёта и оповещает комнату о выходе.
// Идемпотентен.
func (r *Router) Disconnect(ctx context.Context, conn *Conn, room, username string) {
	r.registry.LeaveRoom(conn.ID)
	r.registry.Unregister(conn.ID)
	r.registry.Broadcast(room, mustJSON(SystemFrame{
		Type:     FrameSystemMessage,
		Room:     room,
		Event:    "leave",
		UserID:   conn.UserID,
		Username: username,
		At:       r.now(),
	}))
}

// HandleFrame разбирает кадр клиента и выполняет его. Ошибки протокола
// отвечаются error-кадром тому же соединению; нарушение приватной
// комнаты закрывает соединение.
func (r *Router) HandleFrame(ctx context.Context, conn *Conn, room *storage.Room, username string, raw []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		conn.Sink.Send(errorFrame("invalid_payload", "malformed frame"))
		return
	}

	switch frame.Type {
	case FrameChatMessage:
		r.handleChatMessage(ctx, conn, room, username, frame)
	case FrameTyping:
		r.registry.Broadcast(room.Name, mustJSON(TypingFrame{
			Type:     FrameTyping,
			Room:     room.Name,
			UserID:   conn.UserID,
			IsTyping: frame.IsTyping,
		}))
	case FrameReadReceipt:
		r.handleReadReceipt(ctx, conn, frame)
	default:
		conn.Sink.Send(errorFrame("invalid_payload", "unknown frame type "+frame.Type))
	}
}

func (r *Router) handleChatMessage(ctx context.Context, conn *Conn, room *storage.Room, username string, frame InboundFrame) {
	ctx, span := otel.Tracer("realtime").Start(ctx, "ChatMessage",
		trace.WithAttributes(attribute.String("room", room.Name)))
	defer span.End()

	if frame.Content == "" {
		conn.Sink.Send(errorFrame("invalid_payload", "empty content"))
		metrics.MessagesRouted.WithLabelValues(metrics.Service(), string(room.Type), "invalid").Inc()
		return
	}

	// Членство могло быть отозвано после подключения; для приватных
	// комнат это нарушение протокола, а не обычная ошибка.
	if room.Type == storage.RoomPrivate {
		fresh, err := r.Authorize(ctx, conn.UserID, room.Name)
		if err != nil {
			conn.Sink.Close(ClosePrivateViolation, "not a member of private room")
			metrics.MessagesRouted.WithLabelValues(metrics.Service(), string(room.Type), "forbidden").Inc()
			return
		}
		room = fresh
	}

	msgType := storage.MessageGroup
	if room.Type == storage.RoomPrivate {
		msgType = storage.MessagePrivate
	}
	msg := &storage.Message{
		ID:        uuid.NewString(),
		Room:      room.Name,
		SenderID:  conn.UserID,
		Content:   frame.Content,
		Type:      msgType,
		CreatedAt: r.now(),
	}

	// Персист строго до рассылки: доставленное сообщение не может
	// пропасть при падении процесса.
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		span.RecordError(err)
		r.log.Error("message persist failed", zap.String("room", room.Name), zap.Error(err))
		conn.Sink.Send(errorFrame("message_failed", "message was not saved"))
		metrics.MessagesRouted.WithLabelValues(metrics.Service(), string(room.Type), "persist_error").Inc()
		return
	}

	out := mustJSON(ChatFrame{
		Type:      FrameChatMessage,
		ID:        msg.ID,
		Room:      msg.Room,
		SenderID:  msg.SenderID,
		Sender:    username,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt,
	})
	if room.Type == storage.RoomPrivate {
		// Приватная рассылка идёт по актуальному списку участников:
		// у получателя членство могло быть отозвано после подключения.
		for _, rc := range r.registry.RoomConns(room.Name) {
			if room.IsMember(rc.UserID) {
				rc.Sink.Send(out)
			}
		}
	} else {
		r.registry.Broadcast(room.Name, out)
	}
	metrics.MessagesRouted.WithLabelValues(metrics.Service(), string(room.Type), "ok").Inc()

	if room.Type == storage.RoomPrivate {
		r.publishPrivateNotification(ctx, msg, room, username)
	}
}

// publishPrivateNotification шлёт событие в Kafka для собеседника:
// даже офлайн-получатель увидит личное сообщение как уведомление.
func (r *Router) publishPrivateNotification(ctx context.Context, msg *storage.Message, room *storage.Room, username string) {
	for _, memberID := range room.MemberIDs {
		if memberID == msg.SenderID {
			continue
		}
		ev := events.NotificationEvent{
			RecipientID: memberID,
			SenderID:    msg.SenderID,
			Type:        "private_message",
			Title:       username,
			Body:        msg.Content,
			RelatedID:   msg.ID,
			CreatedAt:   msg.CreatedAt,
		}
		value, err := json.Marshal(ev)
		if err != nil {
			r.log.Error("notification event marshal failed", zap.Error(err))
			continue
		}
		if err := r.producer.Publish(ctx, events.TopicNotifications, []byte(memberID), value); err != nil {
			// Сообщение уже сохранено и доставлено в комнату; теряется
			// только push, это деградация, а не отказ.
			r.log.Error("notification event publish failed",
				zap.String("recipient", memberID), zap.Error(err))
		}
	}
}

func (r *Router) handleReadReceipt(ctx context.Context, conn *Conn, frame InboundFrame) {
	ctx, span := otel.Tracer("realtime").Start(ctx, "ReadReceipt")
	defer span.End()

	if frame.MessageID == "" {
		conn.Sink.Send(errorFrame("invalid_payload", "message_id required"))
		return
	}

	ok, err := r.store.MarkMessageRead(ctx, frame.MessageID, conn.UserID)
	if err != nil {
		span.RecordError(err)
		conn.Sink.Send(errorFrame("server_error", "receipt was not recorded"))
		return
	}
	if !ok {
		// Чужое или несуществующее сообщение: тихо игнорируем, чтобы не
		// раскрывать, какие id существуют.
		return
	}
	// Отправителя уведомляем только по явной просьбе клиента.
	if !frame.NotifySender {
		return
	}

	senderID, err := r.store.MessageSender(ctx, frame.MessageID)
	if err != nil {
		r.log.Warn("receipt sender lookup failed", zap.String("message_id", frame.MessageID), zap.Error(err))
		return
	}
	r.registry.SendToUser(senderID, mustJSON(ReceiptFrame{
		Type:      FrameReadReceipt,
		MessageID: frame.MessageID,
		ReaderID:  conn.UserID,
	}))
}
