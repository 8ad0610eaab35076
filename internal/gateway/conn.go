package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
)

// envelope is the wire frame for every event in either direction.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// wsConn owns one websocket and satisfies rooms.Conn. Writes are serialized;
// gorilla allows only one concurrent writer.
type wsConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConn(id string, conn *websocket.Conn) *wsConn {
	return &wsConn{id: id, conn: conn}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(envelope{Event: event, Data: payload})
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
