package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	userID string
	role   string
	rooms  map[string]struct{}
}

type inbound struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// enqueue drops the frame when the client is too slow to keep up.
func (c *client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.hub.log.WithField("user_id", c.userID).Warn("websocket send buffer full, dropping event")
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		_ = c.conn.Close()
	})
}

func (c *client) reply(event string, data interface{}) {
	payload, err := json.Marshal(Message{Event: event, Data: data, Timestamp: time.Now().UTC()})
	if err == nil {
		c.enqueue(payload)
	}
}

func (c *client) readPump() {
	defer c.hub.wg.Done()
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply("error", map[string]string{"message": "invalid message"})
			continue
		}
		switch msg.Action {
		case "join":
			if c.hub.join(c, msg.Room) {
				c.reply("room:joined", map[string]string{"room": msg.Room})
			} else {
				c.reply("error", map[string]string{"message": "access denied", "room": msg.Room})
			}
		case "leave":
			c.hub.leave(c, msg.Room)
			c.reply("room:left", map[string]string{"room": msg.Room})
		case "ping":
			c.reply("pong", nil)
		default:
			c.reply("error", map[string]string{"message": "unknown action"})
		}
	}
}

func (c *client) writePump() {
	defer c.hub.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
