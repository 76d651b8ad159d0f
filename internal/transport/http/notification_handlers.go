// internal/transport/http/notification_handlers.go
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NoimitLi/smart-campus-server/internal/realtime"
	"github.com/NoimitLi/smart-campus-server/internal/storage"
)

type notificationPayload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Sender    string    `json:"sender,omitempty"`
	RelatedID string    `json:"related_id,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationHandler обслуживает REST-выдачу уведомлений; realtime
// идёт через websocket-канал notify.
type NotificationHandler struct {
	dispatcher *realtime.Dispatcher
}

func NewNotificationHandler(d *realtime.Dispatcher) *NotificationHandler {
	return &NotificationHandler{dispatcher: d}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		Unauthorized(w, "invalid or missing access token")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.dispatcher.Recent(r.Context(), userID, limit)
	if err != nil {
		Error(w, err)
		return
	}

	out := make([]notificationPayload, 0, len(list))
	for _, n := range list {
		out = append(out, toPayload(&n))
	}
	JSON(w, out)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		Unauthorized(w, "invalid or missing access token")
		return
	}
	id := chi.URLParam(r, "id")

	if err := h.dispatcher.MarkRead(r.Context(), id, userID); err != nil {
		Error(w, err)
		return
	}
	JSON(w, nil)
}

func toPayload(n *storage.Notification) notificationPayload {
	return notificationPayload{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		Sender:    n.Sender,
		RelatedID: n.RelatedID,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}
