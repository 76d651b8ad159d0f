// internal/realtime/session.go
package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 16 << 10
	sendBufferSize = 64
)

// Session владеет одним websocket-соединением: читающая и пишущая
// горутины, ограниченный исходящий буфер, однократное закрытие.
// Реализует Sink.
type Session struct {
	conn *websocket.Conn
	log  *logger.Logger

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func NewSession(conn *websocket.Conn, log *logger.Logger) *Session {
	return &Session{
		conn: conn,
		log:  log,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Send ставит кадр в исходящий буфер. Возвращает false, если буфер
// полон или сессия закрыта: медленный клиент не должен блокировать
// рассылку остальным.
func (s *Session) Send(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		s.log.Warn("send buffer overflow, dropping connection")
		s.Close(CloseGeneric, "slow consumer")
		return false
	}
}

// Close инициирует закрытие с прикладным кодом. Повторные вызовы
// игнорируются.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(writeWait)
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			s.log.Debug("close frame write failed", zap.Error(err))
		}
		close(s.done)
		_ = s.conn.Close()
	})
}

// Done закрывается, когда сессия завершена.
func (s *Session) Done() <-chan struct{} { return s.done }

// ReadLoop читает входящие кадры и передаёт их handle. Возврат ошибки
// из handle закрывает сессию кодом CloseGeneric; штатное закрытие со
// стороны клиента ошибкой не считается.
func (s *Session) ReadLoop(handle func(data []byte) error) {
	defer s.Close(CloseGeneric, "read loop exit")

	s.conn.SetReadLimit(maxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if err := handle(data); err != nil {
			s.log.Warn("frame handler failed", zap.Error(err))
			return
		}
	}
}

// WriteLoop сливает исходящий буфер в сокет и шлёт ping-и.
func (s *Session) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close(CloseGeneric, "write loop exit")
	}()

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
