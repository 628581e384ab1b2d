package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/richiesta-assistenza/service_layer/internal/middleware"
)

var hubSecret = []byte("realtime-test-secret-0123456789abcdef")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &middleware.Claims{
		UserID:    userID,
		Role:      role,
		TokenType: middleware.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(hubSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(hubSecret, nil)
	hub.SetAccessChecker(func(_ context.Context, userID, _ string, requestID string) bool {
		return userID == "client-1" && requestID == "r1"
	})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := hub.Stop(ctx); err != nil {
			t.Errorf("stop: %v", err)
		}
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, tok string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestHubRejectsMissingToken(t *testing.T) {
	_, srv := startHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatalf("expected dial failure")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestHubUserAndRoleRooms(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, token(t, "client-1", "CLIENT"))
	waitFor(t, func() bool { return hub.IsOnline("client-1") })

	if n := hub.EmitToUser("client-1", "notification:new", map[string]string{"title": "Ciao"}); n != 1 {
		t.Fatalf("expected 1 recipient, got %d", n)
	}
	msg := readMessage(t, conn)
	if msg.Event != "notification:new" || msg.Timestamp.IsZero() {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if n := hub.EmitToRole("client", "announcement", nil); n != 1 {
		t.Fatalf("role room should match case-insensitively, got %d", n)
	}
	if msg := readMessage(t, conn); msg.Event != "announcement" {
		t.Fatalf("unexpected event %q", msg.Event)
	}

	status := hub.Status()
	if status.ClientsCount != 1 || status.Rooms["user-client-1"] != 1 || status.Rooms["role-CLIENT"] != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestHubRequestRoomAccess(t *testing.T) {
	hub, srv := startHub(t)
	allowed := dial(t, srv, token(t, "client-1", "CLIENT"))
	denied := dial(t, srv, token(t, "client-2", "CLIENT"))

	join := func(conn *websocket.Conn) Message {
		body, _ := json.Marshal(inbound{Action: "join", Room: "request-r1"})
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			t.Fatalf("write: %v", err)
		}
		return readMessage(t, conn)
	}

	if msg := join(allowed); msg.Event != "room:joined" {
		t.Fatalf("expected join, got %+v", msg)
	}
	if msg := join(denied); msg.Event != "error" {
		t.Fatalf("expected access denied, got %+v", msg)
	}

	if n := hub.EmitToRequest("r1", "request:statusChanged", map[string]string{"status": "assigned"}); n != 1 {
		t.Fatalf("expected only the authorised client, got %d", n)
	}
	if msg := readMessage(t, allowed); msg.Event != "request:statusChanged" {
		t.Fatalf("unexpected event %q", msg.Event)
	}
}

func TestHubDisconnectCleansRooms(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, token(t, "pro-1", "PROFESSIONAL"))
	waitFor(t, func() bool { return hub.IsOnline("pro-1") })

	conn.Close()
	waitFor(t, func() bool { return !hub.IsOnline("pro-1") })
	if status := hub.Status(); status.ClientsCount != 0 || len(status.Rooms) != 0 {
		t.Fatalf("rooms not cleaned: %+v", status)
	}
}
