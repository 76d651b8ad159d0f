// internal/realtime/registry.go
package realtime

import (
	"sync"

	"github.com/NoimitLi/smart-campus-server/internal/metrics"
)

// Sink — отправляющая сторона соединения. Send возвращает false, если
// соединение переполнено или закрыто; Close повторно вызывать безопасно.
type Sink interface {
	Send(data []byte) bool
	Close(code int, reason string)
}

// Conn — зарегистрированное websocket-соединение.
type Conn struct {
	ID      string
	UserID  string
	Channel string // "chat" | "notify"
	Sink    Sink
}

// Registry — in-memory индекс живых соединений. Все методы
// потокобезопасны; снапшоты не держат блокировку на время отправки.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn            // conn id → conn
	byUser map[string]map[string]*Conn // user id → conn id → conn
	byRoom map[string]map[string]*Conn // room → conn id → conn
	rooms  map[string]string           // conn id → room
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		byUser: make(map[string]map[string]*Conn),
		byRoom: make(map[string]map[string]*Conn),
		rooms:  make(map[string]string),
	}
}

// Register добавляет соединение. Повторная регистрация того же id —
// no-op.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; ok {
		return
	}
	r.conns[c.ID] = c
	if r.byUser[c.UserID] == nil {
		r.byUser[c.UserID] = make(map[string]*Conn)
	}
	r.byUser[c.UserID][c.ID] = c
	metrics.ActiveConnections.WithLabelValues(metrics.Service(), c.Channel).Inc()
}

// Unregister удаляет соединение из всех индексов. Идемпотентен.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)

	if set := r.byUser[c.UserID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
	if room, ok := r.rooms[connID]; ok {
		delete(r.rooms, connID)
		if set := r.byRoom[room]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.byRoom, room)
			}
		}
	}
	metrics.ActiveConnections.WithLabelValues(metrics.Service(), c.Channel).Dec()
}

// JoinRoom привязывает соединение к комнате. Соединение состоит не
// более чем в одной комнате.
func (r *Registry) JoinRoom(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	if prev, ok := r.rooms[connID]; ok {
		if prev == room {
			return
		}
		if set := r.byRoom[prev]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.byRoom, prev)
			}
		}
	}
	r.rooms[connID] = room
	if r.byRoom[room] == nil {
		r.byRoom[room] = make(map[string]*Conn)
	}
	r.byRoom[room][connID] = c
}

// LeaveRoom отвязывает соединение от его комнаты. Идемпотентен.
func (r *Registry) LeaveRoom(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[connID]
	if !ok {
		return
	}
	delete(r.rooms, connID)
	if set := r.byRoom[room]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byRoom, room)
		}
	}
}

// RoomConns возвращает снапшот соединений комнаты.
func (r *Registry) RoomConns(room string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.byRoom[room]))
	for _, c := range r.byRoom[room] {
		out = append(out, c)
	}
	return out
}

// UserConns возвращает снапшот соединений пользователя.
func (r *Registry) UserConns(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		out = append(out, c)
	}
	return out
}

// UserConnCount — число живых соединений пользователя. Используется
// для refcount-присутствия.
func (r *Registry) UserConnCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Broadcast шлёт кадр всем соединениям комнаты. Возвращает число
// успешных доставок.
func (r *Registry) Broadcast(room string, data []byte) int {
	delivered := 0
	for _, c := range r.RoomConns(room) {
		if c.Sink.Send(data) {
			delivered++
		}
	}
	return delivered
}

// SendToUser шлёт кадр всем соединениям пользователя.
func (r *Registry) SendToUser(userID string, data []byte) int {
	delivered := 0
	for _, c := range r.UserConns(userID) {
		if c.Sink.Send(data) {
			delivered++
		}
	}
	return delivered
}
