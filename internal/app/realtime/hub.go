// Package realtime pushes events to connected browsers over WebSocket.
//
// Every connection joins the rooms user-<id> and role-<role>. Clients may
// join request-<id> rooms for requests they can access by sending
// {"action":"join","room":"request-<id>"}.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/richiesta-assistenza/service_layer/internal/app/system"
	"github.com/richiesta-assistenza/service_layer/internal/middleware"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var _ system.Service = (*Hub)(nil)

// Message is the frame written to clients.
type Message struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Status describes the live connections.
type Status struct {
	ClientsCount int            `json:"clientsCount"`
	Rooms        map[string]int `json:"rooms"`
}

// AccessChecker reports whether a user may follow a request room.
type AccessChecker func(ctx context.Context, userID, role, requestID string) bool

// UserRoom, RoleRoom and RequestRoom name the hub rooms.
func UserRoom(userID string) string       { return "user-" + userID }
func RoleRoom(role string) string         { return "role-" + strings.ToUpper(role) }
func RequestRoom(requestID string) string { return "request-" + requestID }

// Hub tracks websocket clients and their rooms.
type Hub struct {
	secret   []byte
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}
	access  AccessChecker
	running bool
	wg      sync.WaitGroup
}

// NewHub creates a hub that authenticates connections with secret.
func NewHub(secret []byte, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("realtime")
	}
	return &Hub{
		secret: secret,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
	}
}

// SetAccessChecker installs the request room guard. Without one, request
// rooms can only be joined by admins.
func (h *Hub) SetAccessChecker(check AccessChecker) {
	h.mu.Lock()
	h.access = check
	h.mu.Unlock()
}

func (h *Hub) Name() string { return "websocket-hub" }

func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	h.log.Info("websocket hub started")
	return nil
}

// Stop disconnects every client and waits for their pumps to exit.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.running = false
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.log.Info("websocket hub stopped")
	return nil
}

// Running reports whether the hub accepts connections.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// ServeWS upgrades an authenticated request to a websocket connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.Running() {
		http.Error(w, "websocket hub not running", http.StatusServiceUnavailable)
		return
	}
	claims, err := middleware.ParseToken(h.secret, r.URL.Query().Get("token"), middleware.TokenTypeAccess)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		userID: claims.UserID,
		role:   strings.ToUpper(claims.Role),
		rooms:  make(map[string]struct{}),
	}
	h.register(c)

	h.wg.Add(2)
	go c.writePump()
	go c.readPump()

	h.log.WithField("user_id", c.userID).WithField("role", c.role).Debug("websocket client connected")
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.joinLocked(c, UserRoom(c.userID))
	if c.role != "" {
		h.joinLocked(c, RoleRoom(c.role))
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		members := h.rooms[room]
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) joinLocked(c *client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// join validates and performs a client room join.
func (h *Hub) join(c *client, room string) bool {
	requestID := strings.TrimPrefix(room, "request-")
	if requestID == room || requestID == "" {
		return false
	}

	h.mu.RLock()
	check := h.access
	h.mu.RUnlock()

	allowed := middleware.IsAdminRole(c.role)
	if !allowed && check != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		allowed = check(ctx, c.userID, c.role, requestID)
		cancel()
	}
	if !allowed {
		return false
	}

	h.mu.Lock()
	h.joinLocked(c, room)
	h.mu.Unlock()
	return true
}

// Emit sends an event to every client in room. It returns the number of
// clients reached.
func (h *Hub) Emit(room, event string, data interface{}) int {
	payload, err := json.Marshal(Message{Event: event, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		h.log.WithError(err).WithField("event", event).Warn("websocket payload encoding failed")
		return 0
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			sent++
		}
	}
	return sent
}

func (h *Hub) EmitToUser(userID, event string, data interface{}) int {
	return h.Emit(UserRoom(userID), event, data)
}

func (h *Hub) EmitToRole(role, event string, data interface{}) int {
	return h.Emit(RoleRoom(role), event, data)
}

func (h *Hub) EmitToRequest(requestID, event string, data interface{}) int {
	return h.Emit(RequestRoom(requestID), event, data)
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(event string, data interface{}) int {
	payload, err := json.Marshal(Message{Event: event, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		return 0
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			sent++
		}
	}
	return sent
}

// IsOnline reports whether userID has at least one connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[UserRoom(userID)]) > 0
}

// Status returns client and room counts.
func (h *Hub) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make(map[string]int, len(h.rooms))
	for name, members := range h.rooms {
		rooms[name] = len(members)
	}
	return Status{ClientsCount: len(h.clients), Rooms: rooms}
}
