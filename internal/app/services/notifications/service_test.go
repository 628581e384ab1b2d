package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/realtime"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/mq"
)

type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHub) record(room, event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, room+":"+event)
	return 1
}

func (h *fakeHub) EmitToUser(userID, event string, _ interface{}) int {
	return h.record("user-"+userID, event)
}
func (h *fakeHub) EmitToRole(role, event string, _ interface{}) int {
	return h.record("role-"+role, event)
}
func (h *fakeHub) EmitToRequest(id, event string, _ interface{}) int {
	return h.record("request-"+id, event)
}
func (h *fakeHub) Broadcast(event string, _ interface{}) int { return h.record("all", event) }
func (h *fakeHub) Status() realtime.Status                   { return realtime.Status{ClientsCount: 2} }
func (h *fakeHub) Running() bool                             { return true }

type fakeQueue struct {
	mu   sync.Mutex
	keys []string
	body [][]byte
}

func (q *fakeQueue) Publish(_ context.Context, key string, v interface{}) error {
	body, err := mq.NewEnvelope(key, v)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys = append(q.keys, key)
	q.body = append(q.body, body)
	return nil
}

func (q *fakeQueue) Connected() bool { return true }

type recordingSender struct {
	mu    sync.Mutex
	got   []Delivery
	fails bool
}

func (r *recordingSender) Send(_ context.Context, d Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, d)
	if r.fails {
		return errors.New("provider down")
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *memory.Store, *fakeHub, user.User) {
	t.Helper()
	store := memory.New()
	u, err := store.CreateUser(context.Background(), user.User{Email: "mario@example.com", FirstName: "Mario", Phone: "+39333", Role: user.RoleClient})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	hub := &fakeHub{}
	return New(store, store, hub, nil), store, hub, u
}

func TestSendToUserFansOutByPriority(t *testing.T) {
	svc, store, hub, u := newTestService(t)
	email := &recordingSender{}
	push := &recordingSender{fails: true}
	svc.WithSender(notification.ChannelEmail, email).WithSender(notification.ChannelPush, push)

	res, err := svc.SendToUser(context.Background(), u.ID, notification.Message{
		Type: "QUOTE_RECEIVED", Title: "Nuovo preventivo", Content: "Hai ricevuto un preventivo", Priority: "High",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	// high: websocket + email + push; push fails
	if res.Sent != 2 || res.Failed != 1 || res.NotificationID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(email.got) != 1 || email.got[0].Email != "mario@example.com" {
		t.Fatalf("email not delivered: %+v", email.got)
	}
	if len(hub.events) != 1 || hub.events[0] != "user-"+u.ID+":"+EventNotification {
		t.Fatalf("unexpected hub events: %v", hub.events)
	}

	stored, err := store.GetNotification(context.Background(), res.NotificationID)
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if stored.Priority != notification.PriorityHigh {
		t.Fatalf("priority not normalised: %s", stored.Priority)
	}
	logs, _ := store.ListNotificationLogsSince(context.Background(), time.Time{})
	if len(logs) != 3 {
		t.Fatalf("expected 3 delivery logs, got %d", len(logs))
	}
}

func TestSendToUserHonoursPreferences(t *testing.T) {
	svc, store, _, u := newTestService(t)
	if _, err := store.SavePreferences(context.Background(), user.NotificationPreferences{UserID: u.ID, Email: false, Push: false, SMS: true}); err != nil {
		t.Fatalf("save prefs: %v", err)
	}
	sms := &recordingSender{}
	email := &recordingSender{}
	svc.WithSender(notification.ChannelSMS, sms).WithSender(notification.ChannelEmail, email)

	res, err := svc.SendToUser(context.Background(), u.ID, notification.Message{
		Title: "Urgente", Content: strings.Repeat("x", 300), Priority: notification.PriorityUrgent,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	// urgent minus email and push: websocket + sms
	if res.Sent != 2 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(email.got) != 0 {
		t.Fatalf("email should be filtered out")
	}
	if len(sms.got) != 1 || len([]rune(sms.got[0].Content)) != notification.MaxSMSLength {
		t.Fatalf("sms not truncated: %+v", sms.got)
	}
}

func TestSendToUserUnknownPriorityIsNormal(t *testing.T) {
	svc, _, _, u := newTestService(t)
	res, err := svc.SendToUser(context.Background(), u.ID, notification.Message{Title: "x", Priority: "whatever"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	// normal: websocket sent, email has no sender and fails
	if res.Sent != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestQueuedDeliveryIsPendingUntilConsumed(t *testing.T) {
	svc, store, _, u := newTestService(t)
	queue := &fakeQueue{}
	email := &recordingSender{}
	svc.WithQueue(queue).WithSender(notification.ChannelEmail, email)

	res, err := svc.SendToUser(context.Background(), u.ID, notification.Message{Title: "Ciao", Priority: notification.PriorityNormal})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Sent != 2 || len(queue.keys) != 1 || queue.keys[0] != mq.RKDeliveryPrefix+"email" {
		t.Fatalf("unexpected queue state: %+v %v", res, queue.keys)
	}
	if len(email.got) != 0 {
		t.Fatalf("email must not be sent inline")
	}

	stats, _ := svc.DeliveryStatsSince(context.Background(), time.Time{})
	if stats.Pending != 1 {
		t.Fatalf("expected pending log, got %+v", stats)
	}

	if err := svc.HandleDelivery(context.Background(), queue.keys[0], queue.body[0]); err != nil {
		t.Fatalf("handle delivery: %v", err)
	}
	if len(email.got) != 1 {
		t.Fatalf("consumer should deliver the email")
	}
	logs, _ := store.ListNotificationLogsSince(context.Background(), time.Time{})
	for _, l := range logs {
		if l.Channel == notification.ChannelEmail && (l.Status != notification.DeliverySent || l.SentAt == nil) {
			t.Fatalf("email log not updated: %+v", l)
		}
	}
}

func TestMarkAsReadOwnerOnly(t *testing.T) {
	svc, store, _, u := newTestService(t)
	other, _ := store.CreateUser(context.Background(), user.User{Email: "luigi@example.com", Role: user.RoleClient})
	res, err := svc.SendToUser(context.Background(), u.ID, notification.Message{Title: "x", Priority: notification.PriorityLow})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := svc.MarkAsRead(context.Background(), other.ID, res.NotificationID); err == nil {
		t.Fatalf("other users must not mark the notification")
	}
	if err := svc.MarkAsRead(context.Background(), u.ID, res.NotificationID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n, _ := svc.CountUnread(context.Background(), u.ID); n != 0 {
		t.Fatalf("expected 0 unread, got %d", n)
	}
}

func TestSendToAdminsAndBroadcast(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	for _, email := range []string{"a1@example.com", "a2@example.com"} {
		if _, err := store.CreateUser(context.Background(), user.User{Email: email, Role: user.RoleAdmin}); err != nil {
			t.Fatalf("create admin: %v", err)
		}
	}
	n, err := svc.SendToAdmins(context.Background(), notification.Message{Title: "Nuova richiesta", Priority: notification.PriorityLow})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 admins notified, got %d (%v)", n, err)
	}

	email := &recordingSender{}
	svc.WithSender(notification.ChannelEmail, email)
	n, err = svc.BroadcastToAll(context.Background(), notification.Message{Title: "Manutenzione", Priority: notification.PriorityUrgent})
	if err != nil || n != 3 {
		t.Fatalf("expected 3 recipients, got %d (%v)", n, err)
	}
	if len(email.got) != 0 {
		t.Fatalf("broadcast must be websocket only")
	}
}

func TestRenderEmailEscapesContent(t *testing.T) {
	body, err := RenderEmail("Titolo", "Mario", "<script>alert(1)</script>", "")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(body, "<script>") || !strings.Contains(body, "Ciao Mario") {
		t.Fatalf("unexpected body: %s", body)
	}
}
