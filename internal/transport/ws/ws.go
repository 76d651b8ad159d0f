// internal/transport/ws/ws.go
//
// Websocket-поверхность: /ws/chat/{room} и /ws/notify. Токен
// принимается только в query-параметре token: браузерный WebSocket API
// не умеет ставить заголовки.
package ws

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/NoimitLi/smart-campus-server/internal/apperr"
	"github.com/NoimitLi/smart-campus-server/internal/auth"
	"github.com/NoimitLi/smart-campus-server/internal/realtime"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

type Handler struct {
	auth       *auth.Manager
	router     *realtime.Router
	dispatcher *realtime.Dispatcher
	log        *logger.Logger

	upgrader websocket.Upgrader
}

func NewHandler(a *auth.Manager, router *realtime.Router, dispatcher *realtime.Dispatcher, log *logger.Logger) *Handler {
	return &Handler{
		auth:       a,
		router:     router,
		dispatcher: dispatcher,
		log:        log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// CORS-политика применяется на HTTP-уровне.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes монтирует websocket-endpoints.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws/chat/{room}", h.ChatSocket)
	r.Get("/ws/notify", h.NotifySocket)
	return r
}

// ChatSocket — канал комнаты чата. Прикладные коды закрытия клиент
// получает уже после апгрейда: до него есть только HTTP-статусы.
func (h *Handler) ChatSocket(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	session := realtime.NewSession(conn, h.log)

	claims, err := h.auth.VerifyAccess(r.URL.Query().Get("token"))
	if err != nil {
		session.Close(realtime.CloseUnauthenticated, "access token required")
		return
	}

	room, err := h.router.Authorize(r.Context(), claims.UserID, roomName)
	if err != nil {
		if apperr.Is(err, apperr.ErrForbidden) {
			session.Close(realtime.CloseUnauthorizedRoom, "not a member of this room")
		} else {
			session.Close(realtime.CloseGeneric, "room lookup failed")
		}
		return
	}

	c := &realtime.Conn{
		ID:      uuid.NewString(),
		UserID:  claims.UserID,
		Channel: "chat",
		Sink:    session,
	}
	h.router.Connect(r.Context(), c, room, claims.Username)
	defer h.router.Disconnect(r.Context(), c, room.Name, claims.Username)

	go session.WriteLoop()
	session.ReadLoop(func(data []byte) error {
		h.router.HandleFrame(r.Context(), c, room, claims.Username, data)
		return nil
	})
}

// NotifySocket — персональный канал уведомлений.
func (h *Handler) NotifySocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	session := realtime.NewSession(conn, h.log)

	claims, err := h.auth.VerifyAccess(r.URL.Query().Get("token"))
	if err != nil {
		session.Close(realtime.CloseUnauthenticated, "access token required")
		return
	}

	c := &realtime.Conn{
		ID:      uuid.NewString(),
		UserID:  claims.UserID,
		Channel: "notify",
		Sink:    session,
	}
	if err := h.dispatcher.Connect(r.Context(), c); err != nil {
		h.log.Error("notify connect failed", zap.String("user_id", claims.UserID), zap.Error(err))
		session.Close(realtime.CloseGeneric, "connect failed")
		return
	}
	defer h.dispatcher.Disconnect(r.Context(), c)

	go session.WriteLoop()
	session.ReadLoop(func(data []byte) error {
		h.handleNotifyCommand(r, c, session, data)
		return nil
	})
}
