// internal/realtime/router_test.go
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/NoimitLi/smart-campus-server/internal/apperr"
	"github.com/NoimitLi/smart-campus-server/internal/events"
	"github.com/NoimitLi/smart-campus-server/internal/storage"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

// --- fakes ---------------------------------------------------------------

type fakeStore struct {
	mu            sync.Mutex
	rooms         map[string]*storage.Room
	messages      map[string]*storage.Message
	notifications map[string]*storage.Notification
	presence      map[string]bool

	failSaveMessage bool
	failUnread      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:         map[string]*storage.Room{},
		messages:      map[string]*storage.Message{},
		notifications: map[string]*storage.Notification{},
		presence:      map[string]bool{},
	}
}

func (f *fakeStore) SaveMessage(_ context.Context, msg *storage.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaveMessage {
		return errors.New("boom")
	}
	cp := *msg
	f.messages[msg.ID] = &cp
	return nil
}

func (f *fakeStore) MarkMessageRead(_ context.Context, messageID, readerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return false, nil
	}
	room := f.rooms[m.Room]
	if room == nil || !room.IsMember(readerID) {
		return false, nil
	}
	m.IsRead = true
	return true, nil
}

func (f *fakeStore) MessageSender(_ context.Context, messageID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return m.SenderID, nil
}

func (f *fakeStore) SaveNotification(_ context.Context, n *storage.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *n
	f.notifications[n.ID] = &cp
	return nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, notificationID, recipientID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notifications[notificationID]
	if !ok || n.Recipient != recipientID {
		return false, nil
	}
	n.IsRead = true
	return true, nil
}

func (f *fakeStore) UnreadNotifications(_ context.Context, recipientID string, limit int) ([]storage.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUnread {
		return nil, errors.New("boom")
	}
	var out []storage.Notification
	for _, n := range f.notifications {
		if n.Recipient == recipientID && !n.IsRead {
			out = append(out, *n)
		}
	}
	// Новые первыми, как в SQL-реализации.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) RecentNotifications(_ context.Context, recipientID string, limit int) ([]storage.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Notification
	for _, n := range f.notifications {
		if n.Recipient == recipientID {
			out = append(out, *n)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) RecentMessages(_ context.Context, userID string, limit int) ([]storage.Message, error) {
	return nil, nil
}

func (f *fakeStore) RoomMembership(_ context.Context, roomName string) (*storage.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomName]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *r
	cp.MemberIDs = append([]string(nil), r.MemberIDs...)
	return &cp, nil
}

func (f *fakeStore) SetPresence(_ context.Context, userID string, online bool, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence[userID] = online
	return nil
}

type fakeProducer struct {
	mu        sync.Mutex
	published []struct {
		Topic string
		Key   string
		Value []byte
	}
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, struct {
		Topic string
		Key   string
		Value []byte
	}{topic, string(key), value})
	return nil
}

func (f *fakeProducer) Ping(context.Context) error { return nil }
func (f *fakeProducer) Close() error               { return nil }

// --- helpers -------------------------------------------------------------

type routerFixture struct {
	router   *Router
	registry *Registry
	store    *fakeStore
	producer *fakeProducer
}

type fakeUsers struct{}

func (fakeUsers) FindByUsername(context.Context, string) (*storage.User, error) {
	return nil, storage.ErrNotFound
}
func (fakeUsers) FindByPhone(context.Context, string) (*storage.User, error) {
	return nil, storage.ErrNotFound
}
func (fakeUsers) FindByID(context.Context, string) (*storage.User, error) {
	return nil, storage.ErrNotFound
}
func (fakeUsers) RoleAndPermissions(context.Context, string) (*storage.Role, []string, error) {
	return nil, nil, nil
}
func (fakeUsers) TouchLastActive(context.Context, string, time.Time) error { return nil }

func newRouterFixture() *routerFixture {
	reg := NewRegistry()
	store := newFakeStore()
	producer := &fakeProducer{}
	return &routerFixture{
		router:   NewRouter(reg, store, fakeUsers{}, producer, logger.Nop()),
		registry: reg,
		store:    store,
		producer: producer,
	}
}

func frameTypes(t *testing.T, frames [][]byte) []string {
	t.Helper()
	var out []string
	for _, raw := range frames {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			t.Fatalf("bad frame %s: %v", raw, err)
		}
		out = append(out, head.Type)
	}
	return out
}

func hasFrame(t *testing.T, frames [][]byte, typ string) bool {
	t.Helper()
	for _, ft := range frameTypes(t, frames) {
		if ft == typ {
			return true
		}
	}
	return false
}

// --- tests ---------------------------------------------------------------

func TestAuthorize(t *testing.T) {
	fx := newRouterFixture()
	fx.store.rooms["general"] = &storage.Room{
		Name: "general", Type: storage.RoomGroup, MemberIDs: []string{"u1", "u2"},
	}
	ctx := context.Background()

	if _, err := fx.router.Authorize(ctx, "u1", "general"); err != nil {
		t.Errorf("member: %v", err)
	}
	if _, err := fx.router.Authorize(ctx, "u3", "general"); !apperr.Is(err, apperr.ErrForbidden) {
		t.Errorf("non-member: got %v, want ErrForbidden", err)
	}
	// Неизвестная комната неотличима от чужой.
	if _, err := fx.router.Authorize(ctx, "u1", "no-such-room"); !apperr.Is(err, apperr.ErrForbidden) {
		t.Errorf("unknown room: got %v, want ErrForbidden", err)
	}
}

func TestConnectAnnouncesJoin(t *testing.T) {
	fx := newRouterFixture()
	room := &storage.Room{Name: "general", Type: storage.RoomGroup, MemberIDs: []string{"u1", "u2"}}
	fx.store.rooms["general"] = room
	ctx := context.Background()

	c1, s1 := newConn("c1", "u1", "chat")
	fx.router.Connect(ctx, c1, room, "alice")

	if !hasFrame(t, s1.sent(), FrameConnectionEstablished) {
		t.Error("new member must receive connection_established")
	}

	c2, s2 := newConn("c2", "u2", "chat")
	fx.router.Connect(ctx, c2, room, "bob")

	// Первый участник видит вход второго.
	if !hasFrame(t, s1.sent(), FrameSystemMessage) {
		t.Error("existing member must see join system_message")
	}
	_ = s2
}

func TestChatMessagePersistsBeforeFanOut(t *testing.T) {
	fx := newRouterFixture()
	room := &storage.Room{Name: "general", Type: storage.RoomGroup, MemberIDs: []string{"u1", "u2"}}
	fx.store.rooms["general"] = room
	ctx := context.Background()

	c1, s1 := newConn("c1", "u1", "chat")
	c2, s2 := newConn("c2", "u2", "chat")
	fx.router.Connect(ctx, c1, room, "alice")
	fx.router.Connect(ctx, c2, room, "bob")

	fx.router.HandleFrame(ctx, c1, room, "alice",
		[]byte(`{"type":"chat_message","content":"hello"}`))

	if !hasFrame(t, s2.sent(), FrameChatMessage) {
		t.Fatal("recipient must receive chat_message")
	}
	if !hasFrame(t, s1.sent(), FrameChatMessage) {
		t.Fatal("sender is part of the room broadcast")
	}
	if len(fx.store.messages) != 1 {
		t.Fatalf("store holds %d messages, want 1", len(fx.store.messages))
	}
	for _, m := range fx.store.messages {
		if m.Content != "hello" || m.SenderID != "u1" || m.Type != storage.MessageGroup {
			t.Errorf("persisted message mismatch: %+v", m)
		}
	}
}

func TestChatMessagePersistFailure(t *testing.T) {
	fx := newRouterFixture()
	room := &storage.Room{Name: "general", Type: storage.RoomGroup, MemberIDs: []string{"u1", "u2"}}
	fx.store.rooms["general"] = room
	fx.store.failSaveMessage = true
	ctx := context.Background()

	c1, s1 := newConn("c1", "u1", "chat")
	c2, s2 := newConn("c2", "u2", "chat")
	fx.router.Connect(ctx, c1, room, "alice")
	fx.router.Connect(ctx, c2, room, "bob")

	fx.router.HandleFrame(ctx, c1, room, "alice",
		[]byte(`{"type":"chat_message","content":"hello"}`))

	// Непpersisted сообщение не рассылается.
	if hasFrame(t, s2.sent(), FrameChatMessage) {
		t.Error("failed message must not reach the room")
	}
	if !hasFrame(t, s1.sent(), FrameError) {
		t.Error("sender must receive message_failed error frame")
	}
}

func TestPrivateMessagePublishesNotification(t *testing.T) {
	fx := newRouterFixture()
	room := &storage.Room{Name: "dm-u1-u2", Type: storage.RoomPrivate, MemberIDs: []string{"u1", "u2"}}
	fx.store.rooms["dm-u1-u2"] = room
	ctx := context.Background()

	c1, _ := newConn("c1", "u1", "chat")
	fx.router.Connect(ctx, c1, room, "alice")

	fx.router.HandleFrame(ctx, c1, room, "alice",
		[]byte(`{"type":"chat_message","content":"pssst"}`))

	if len(fx.producer.published) != 1 {
		t.Fatalf("published %d events, want 1", len(fx.producer.published))
	}
	p := fx.producer.published[0]
	if p.Topic != events.TopicNotifications || p.Key != "u2" {
		t.Errorf("event topic/key = %s/%s", p.Topic, p.Key)
	}
	var ev events.NotificationEvent
	if err := json.Unmarshal(p.Value, &ev); err != nil {
		t.Fatalf("event payload: %v", err)
	}
	if ev.RecipientID != "u2" || ev.SenderID != "u1" || ev.Type != "private_message" {
		t.Errorf("event mismatch: %+v", ev)
	}
}

func TestPrivateRoomViolationCloses(t *testing.T) {
	fx := newRouterFixture()
	room := &storage.Room{Name: "dm", Type: storage.RoomPrivate, MemberIDs: []string{"u1", "u2"}}
	fx.store.rooms["dm"] = room
	ctx := context.Background()

	c1, s1 := newConn("c1", "u1", "chat")
	fx.router.Connect(ctx, c1, room, "alice")

	// Членство отозвано после подключения.
	fx.store.mu.Lock()
	fx.store.rooms["dm"].MemberIDs = []string{"u2", "u3"}
	fx.store.mu.Unlock()

	fx.router.HandleFrame(ctx, c1, room, "alice",
		[]byte(`{"type":"chat_message","content":"hello"}`))

	if !s1.closed || s1.code != ClosePrivateViolation {
		t.Fatalf("sink closed=%v code=%d, want code %d", s1.closed, s1.code, ClosePrivateViolation)
	}
	if len(fx.store.messages) != 0 {
		t.Error("forbidden message must not be persisted")
	}
}

func TestPrivateMessageSkipsRevokedMember(t *testing.T) {
	fx := newRouterFixture()
	room := &storage.Room{Name: "dm", Type: storage.RoomPrivate, MemberIDs: []string{"u1", "u2", "u3"}}
	fx.store.rooms["dm"] = room
	ctx := context.Background()

	c1, _ := newConn("c1", "u1", "chat")
	c2, s2 := newConn("c2", "u2", "chat")
	c3, s3 := newConn("c3", "u3", "chat")
	fx.router.Connect(ctx, c1, room, "alice")
	fx.router.Connect(ctx, c2, room, "bob")
	fx.router.Connect(ctx, c3, room, "eve")

	// Членство u3 отозвано, но его соединение ещё живо.
	fx.store.mu.Lock()
	fx.store.rooms["dm"].MemberIDs = []string{"u1", "u2"}
	fx.store.mu.Unlock()

	fx.router.HandleFrame(ctx, c1, room, "alice",
		[]byte(`{"type":"chat_message","content":"secret"}`))

	if !hasFrame(t, s2.sent(), FrameChatMessage) {
		t.Error("current member must receive the message")
	}
	if hasFrame(t, s3.sent(), FrameChatMessage) {
		t.Error("revoked member must not receive private messages")
	}
}

func TestTypingIsNotPersisted(t *testing.T) {
	fx := newRouterFixture()
	room := &storage.Room{Name: "general", Type: storage.RoomGroup, MemberIDs: []string{"u1", "u2"}}
	fx.store.rooms["general"] = room
	ctx := context.Background()

	c1, _ := newConn("c1", "u1", "chat")
	c2, s2 := newConn("c2", "u2", "chat")
	fx.router.Connect(ctx, c1, room, "alice")
	fx.router.Connect(ctx, c2, room, "bob")

	fx.router.HandleFrame(ctx, c1, room, "alice",
		[]byte(`{"type":"typing","is_typing":true}`))

	if !hasFrame(t, s2.sent(), FrameTyping) {
		t.Error("typing must be relayed")
	}
	if len(fx.store.messages) != 0 {
		t.Error("typing must not be persisted")
	}
}

func TestReadReceipt(t *testing.T) {
	fx := newRouterFixture()
	room := &storage.Room{Name: "general", Type: storage.RoomGroup, MemberIDs: []string{"u1", "u2"}}
	fx.store.rooms["general"] = room
	ctx := context.Background()

	c1, s1 := newConn("c1", "u1", "chat")
	c2, _ := newConn("c2", "u2", "chat")
	fx.router.Connect(ctx, c1, room, "alice")
	fx.router.Connect(ctx, c2, room, "bob")

	fx.router.HandleFrame(ctx, c1, room, "alice",
		[]byte(`{"type":"chat_message","content":"hello"}`))

	var msgID string
	for id := range fx.store.messages {
		msgID = id
	}

	// Без notify_sender отправитель ничего не узнаёт.
	fx.router.HandleFrame(ctx, c2, room, "bob",
		[]byte(`{"type":"read_receipt","message_id":"`+msgID+`"}`))
	if !fx.store.messages[msgID].IsRead {
		t.Error("message must be marked read")
	}
	if hasFrame(t, s1.sent(), FrameReadReceipt) {
		t.Error("sender must not be notified without notify_sender")
	}

	fx.router.HandleFrame(ctx, c2, room, "bob",
		[]byte(`{"type":"read_receipt","message_id":"`+msgID+`","notify_sender":true}`))
	if !hasFrame(t, s1.sent(), FrameReadReceipt) {
		t.Error("sender must receive read_receipt when requested")
	}
}

func TestReadReceiptIdempotent(t *testing.T) {
	fx := newRouterFixture()
	room := &storage.Room{Name: "general", Type: storage.RoomGroup, MemberIDs: []string{"u1", "u2"}}
	fx.store.rooms["general"] = room
	ctx := context.Background()

	c1, _ := newConn("c1", "u1", "chat")
	c2, s2 := newConn("c2", "u2", "chat")
	fx.router.Connect(ctx, c1, room, "alice")
	fx.router.Connect(ctx, c2, room, "bob")

	fx.router.HandleFrame(ctx, c1, room, "alice",
		[]byte(`{"type":"chat_message","content":"hello"}`))
	var msgID string
	for id := range fx.store.messages {
		msgID = id
	}

	receipt := []byte(`{"type":"read_receipt","message_id":"` + msgID + `"}`)
	fx.router.HandleFrame(ctx, c2, room, "bob", receipt)
	fx.router.HandleFrame(ctx, c2, room, "bob", receipt)

	if !fx.store.messages[msgID].IsRead {
		t.Error("message must stay read")
	}
	// Повтор не роняет соединение и не отвечает ошибкой.
	if hasFrame(t, s2.sent(), FrameError) {
		t.Error("repeated receipt must not produce an error frame")
	}
}

func TestInvalidFrames(t *testing.T) {
	fx := newRouterFixture()
	room := &storage.Room{Name: "general", Type: storage.RoomGroup, MemberIDs: []string{"u1"}}
	fx.store.rooms["general"] = room
	ctx := context.Background()

	c1, s1 := newConn("c1", "u1", "chat")
	fx.router.Connect(ctx, c1, room, "alice")

	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"unknown type", `{"type":"dance"}`},
		{"empty content", `{"type":"chat_message","content":""}`},
		{"receipt without id", `{"type":"read_receipt"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := len(s1.sent())
			fx.router.HandleFrame(ctx, c1, room, "alice", []byte(tc.raw))
			frames := s1.sent()
			if len(frames) != before+1 {
				t.Fatalf("expected exactly one error frame, got %d new", len(frames)-before)
			}
			if !hasFrame(t, frames[before:], FrameError) {
				t.Errorf("want error frame, got %s", frames[before])
			}
			if s1.closed {
				t.Error("protocol errors must not close the connection")
			}
		})
	}
}

func TestDisconnectAnnouncesLeave(t *testing.T) {
	fx := newRouterFixture()
	room := &storage.Room{Name: "general", Type: storage.RoomGroup, MemberIDs: []string{"u1", "u2"}}
	fx.store.rooms["general"] = room
	ctx := context.Background()

	c1, s1 := newConn("c1", "u1", "chat")
	c2, _ := newConn("c2", "u2", "chat")
	fx.router.Connect(ctx, c1, room, "alice")
	fx.router.Connect(ctx, c2, room, "bob")

	fx.router.Disconnect(ctx, c2, "general", "bob")

	types := frameTypes(t, s1.sent())
	leaves := 0
	for _, ft := range types {
		if ft == FrameSystemMessage {
			leaves++
		}
	}
	if leaves < 2 { // join второго + его же leave
		t.Errorf("expected join+leave system messages, got %d", leaves)
	}
	// Ушедший больше не получает рассылку.
	fx.router.HandleFrame(ctx, c1, room, "alice",
		[]byte(`{"type":"chat_message","content":"anyone?"}`))
	if n := fx.registry.UserConnCount("u2"); n != 0 {
		t.Errorf("u2 still has %d conns", n)
	}
}
