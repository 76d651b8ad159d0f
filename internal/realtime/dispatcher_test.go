// internal/realtime/dispatcher_test.go
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/NoimitLi/smart-campus-server/internal/apperr"
	"github.com/NoimitLi/smart-campus-server/internal/storage"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

func newDispatcherFixture() (*Dispatcher, *Registry, *fakeStore) {
	reg := NewRegistry()
	store := newFakeStore()
	return NewDispatcher(reg, store, logger.Nop()), reg, store
}

func decodeInit(t *testing.T, frames [][]byte) *InitFrame {
	t.Helper()
	for _, raw := range frames {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if head.Type == FrameInit {
			var init InitFrame
			if err := json.Unmarshal(raw, &init); err != nil {
				t.Fatalf("bad init frame: %v", err)
			}
			return &init
		}
	}
	return nil
}

func TestConnectReplaysUnread(t *testing.T) {
	d, _, store := newDispatcherFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		store.notifications[fmt.Sprintf("n%d", i)] = &storage.Notification{
			ID: fmt.Sprintf("n%d", i), Recipient: "u1", Type: "system", Title: "t", Body: "b",
		}
	}
	// Прочитанные и чужие в replay не попадают.
	store.notifications["read"] = &storage.Notification{ID: "read", Recipient: "u1", IsRead: true}
	store.notifications["other"] = &storage.Notification{ID: "other", Recipient: "u2"}

	c, s := newConn("c1", "u1", "notify")
	if err := d.Connect(ctx, c); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	frames := s.sent()
	// Сначала подтверждение, потом replay.
	if len(frames) < 2 {
		t.Fatalf("got %d frames, want established + init", len(frames))
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frames[0], &head); err != nil || head.Type != FrameConnectionEstablished {
		t.Fatalf("first frame = %s, want connection_established", frames[0])
	}

	init := decodeInit(t, frames)
	if init == nil {
		t.Fatal("init frame must be sent on connect")
	}
	if init.UnreadCount != 3 {
		t.Errorf("UnreadCount = %d, want 3", init.UnreadCount)
	}
}

func TestConnectReplayFailureCleansUp(t *testing.T) {
	d, reg, store := newDispatcherFixture()
	ctx := context.Background()
	store.failUnread = true

	c, _ := newConn("c1", "u1", "notify")
	if err := d.Connect(ctx, c); err == nil {
		t.Fatal("Connect must fail when replay is unavailable")
	}

	// Неудавшееся подключение не оставляет следов: ни в реестре,
	// ни в присутствии.
	if n := reg.UserConnCount("u1"); n != 0 {
		t.Errorf("UserConnCount = %d after failed Connect, want 0", n)
	}
	if store.presence["u1"] {
		t.Error("user must not stay online after failed Connect")
	}
}

func TestConnectReplayCap(t *testing.T) {
	d, _, store := newDispatcherFixture()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < replayLimit+20; i++ {
		id := fmt.Sprintf("n%03d", i)
		store.notifications[id] = &storage.Notification{
			ID: id, Recipient: "u1", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}

	c, s := newConn("c1", "u1", "notify")
	if err := d.Connect(ctx, c); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	init := decodeInit(t, s.sent())
	if init == nil || len(init.Notifications) != replayLimit {
		t.Fatalf("replay size = %d, want %d", len(init.Notifications), replayLimit)
	}

	// При переполнении в replay попадают самые свежие.
	seen := map[string]bool{}
	for _, n := range init.Notifications {
		seen[n.ID] = true
	}
	if !seen[fmt.Sprintf("n%03d", replayLimit+19)] {
		t.Error("newest notification must be replayed")
	}
	if seen["n000"] {
		t.Error("oldest notifications must be dropped from replay")
	}
}

func TestPresenceRefcount(t *testing.T) {
	d, _, store := newDispatcherFixture()
	ctx := context.Background()

	c1, _ := newConn("c1", "u1", "notify")
	c2, _ := newConn("c2", "u1", "notify")

	if err := d.Connect(ctx, c1); err != nil {
		t.Fatalf("Connect c1: %v", err)
	}
	if !store.presence["u1"] {
		t.Fatal("first connection must set user online")
	}

	if err := d.Connect(ctx, c2); err != nil {
		t.Fatalf("Connect c2: %v", err)
	}

	d.Disconnect(ctx, c1)
	if !store.presence["u1"] {
		t.Fatal("user with a live connection must stay online")
	}

	d.Disconnect(ctx, c2)
	if store.presence["u1"] {
		t.Fatal("last disconnect must set user offline")
	}

	// Повторный Disconnect ничего не ломает.
	d.Disconnect(ctx, c2)
}

func TestPushOnline(t *testing.T) {
	d, _, store := newDispatcherFixture()
	ctx := context.Background()

	c, s := newConn("c1", "u1", "notify")
	if err := d.Connect(ctx, c); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	n := &storage.Notification{Recipient: "u1", Type: "grade", Title: "hi", Body: "body"}
	if err := d.Push(ctx, n); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if n.ID == "" {
		t.Error("push must assign an id")
	}
	if _, ok := store.notifications[n.ID]; !ok {
		t.Error("notification must be persisted")
	}

	found := false
	for _, raw := range s.sent() {
		var nf NotificationFrame
		if json.Unmarshal(raw, &nf) == nil && nf.Type == FrameNotification && nf.ID == n.ID {
			found = true
		}
	}
	if !found {
		t.Error("online recipient must receive the notification frame")
	}
}

func TestPushOfflineStores(t *testing.T) {
	d, _, store := newDispatcherFixture()
	ctx := context.Background()

	n := &storage.Notification{Recipient: "ghost", Type: "system", Title: "t", Body: "b"}
	if err := d.Push(ctx, n); err != nil {
		t.Fatalf("Push to offline user: %v", err)
	}
	if _, ok := store.notifications[n.ID]; !ok {
		t.Fatal("offline notification must still be persisted")
	}
}

func TestMarkRead(t *testing.T) {
	d, _, store := newDispatcherFixture()
	ctx := context.Background()

	store.notifications["n1"] = &storage.Notification{ID: "n1", Recipient: "u1"}

	if err := d.MarkRead(ctx, "n1", "u1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !store.notifications["n1"].IsRead {
		t.Error("notification must be marked read")
	}

	// Чужое уведомление недоступно.
	if err := d.MarkRead(ctx, "n1", "u2"); !apperr.Is(err, apperr.ErrForbidden) {
		t.Errorf("foreign notification: got %v, want ErrForbidden", err)
	}
	if err := d.MarkRead(ctx, "missing", "u1"); !apperr.Is(err, apperr.ErrForbidden) {
		t.Errorf("missing notification: got %v, want ErrForbidden", err)
	}
}
