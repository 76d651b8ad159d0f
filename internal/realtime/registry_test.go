// internal/realtime/registry_test.go
package realtime

import (
	"fmt"
	"sync"
	"testing"
)

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	code   int
	reason string
	full   bool // когда true, Send возвращает false
}

func (f *fakeSink) Send(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed {
		return false
	}
	f.frames = append(f.frames, data)
	return true
}

func (f *fakeSink) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.code = code
	f.reason = reason
}

func (f *fakeSink) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

func newConn(id, userID, channel string) (*Conn, *fakeSink) {
	s := &fakeSink{}
	return &Conn{ID: id, UserID: userID, Channel: channel, Sink: s}, s
}

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	c, _ := newConn("c1", "u1", "chat")

	r.Register(c)
	r.Register(c) // повторная регистрация — no-op
	if got := r.UserConnCount("u1"); got != 1 {
		t.Fatalf("UserConnCount = %d, want 1", got)
	}

	r.Unregister("c1")
	r.Unregister("c1") // идемпотентно
	if got := r.UserConnCount("u1"); got != 0 {
		t.Fatalf("UserConnCount after unregister = %d, want 0", got)
	}
	if got := len(r.UserConns("u1")); got != 0 {
		t.Fatalf("UserConns = %d, want 0", got)
	}
}

func TestRegistryRooms(t *testing.T) {
	r := NewRegistry()
	c1, s1 := newConn("c1", "u1", "chat")
	c2, s2 := newConn("c2", "u2", "chat")
	r.Register(c1)
	r.Register(c2)
	r.JoinRoom("c1", "room-a")
	r.JoinRoom("c2", "room-a")

	if n := r.Broadcast("room-a", []byte("hi")); n != 2 {
		t.Fatalf("Broadcast delivered %d, want 2", n)
	}
	if len(s1.sent()) != 1 || len(s2.sent()) != 1 {
		t.Fatal("both members must receive the frame")
	}

	// Переход в другую комнату снимает членство в прежней.
	r.JoinRoom("c2", "room-b")
	if n := r.Broadcast("room-a", []byte("hi")); n != 1 {
		t.Fatalf("after move Broadcast delivered %d, want 1", n)
	}

	r.LeaveRoom("c1")
	r.LeaveRoom("c1") // идемпотентно
	if n := r.Broadcast("room-a", []byte("hi")); n != 0 {
		t.Fatalf("after leave Broadcast delivered %d, want 0", n)
	}
}

func TestRegistryUnregisterCleansRoom(t *testing.T) {
	r := NewRegistry()
	c, _ := newConn("c1", "u1", "chat")
	r.Register(c)
	r.JoinRoom("c1", "room-a")

	r.Unregister("c1")
	if n := len(r.RoomConns("room-a")); n != 0 {
		t.Fatalf("room still holds %d conns after unregister", n)
	}
}

func TestRegistrySkipsFullSinks(t *testing.T) {
	r := NewRegistry()
	c1, _ := newConn("c1", "u1", "notify")
	c2, s2 := newConn("c2", "u1", "notify")
	s2.full = true
	r.Register(c1)
	r.Register(c2)

	if n := r.SendToUser("u1", []byte("ping")); n != 1 {
		t.Fatalf("SendToUser delivered %d, want 1", n)
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	const workers = 32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			c, _ := newConn(id, fmt.Sprintf("u%d", i%4), "chat")
			for j := 0; j < 100; j++ {
				r.Register(c)
				r.JoinRoom(id, "room")
				r.Broadcast("room", []byte("x"))
				r.LeaveRoom(id)
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	if n := len(r.RoomConns("room")); n != 0 {
		t.Fatalf("room not empty after churn: %d", n)
	}
}
