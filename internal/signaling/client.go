package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/collab-signaling/internal/models"
)

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticated
	stateClosed
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
)

// Client is one live transport session. It exists only while the
// websocket is open and is never persisted.
type Client struct {
	connID string
	conn   *websocket.Conn
	send   chan []byte
	srv    *Server

	closeOnce sync.Once

	mu     sync.Mutex
	state  sessionState
	userID string
	roomID string
}

// identity returns the session's auth state and, when authenticated,
// the bound (userId, roomId) pair.
func (c *Client) identity() (sessionState, string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.userID, c.roomID
}

func (c *Client) setAuthenticated(userID, roomID string) {
	c.mu.Lock()
	c.state = stateAuthenticated
	c.userID = userID
	c.roomID = roomID
	c.mu.Unlock()
}

func (c *Client) setClosed() {
	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
}

// enqueue hands a message to the write pump. A full buffer drops the
// message rather than blocking: a slow peer must never stall delivery
// to the rest of the room.
func (c *Client) enqueue(msg models.SignalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.srv.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.srv.log.Warn("send buffer full, dropping message",
			zap.String("connId", c.connID),
			zap.String("type", string(msg.Type)))
	}
}

// close tears the transport down. Safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.setClosed()
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) readPump() {
	defer func() {
		c.srv.disconnect(c)
		c.close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.srv.log.Debug("websocket closed",
					zap.String("connId", c.connID),
					zap.Error(err))
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.srv.handleMessage(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.srv.log.Debug("failed to write message",
					zap.String("connId", c.connID),
					zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
