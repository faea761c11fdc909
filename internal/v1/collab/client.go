package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConnection is the subset of *websocket.Conn the Client needs. Abstracted
// out so tests can drive readPump/writePump with an in-memory fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Roomer is the subset of Room operations a Client needs, letting tests
// exercise readPump/writePump against a mock room rather than a real one.
type Roomer interface {
	deliver(ctx context.Context, client *Client, msg Message)
	handleClientDisconnect(c *Client)
}

// Client binds one WebSocket connection to a user inside a Room. A single
// user may hold clients in multiple rooms, and (per spec) multiple sessions
// within the same room are distinct Clients.
type Client struct {
	conn        wsConnection
	send        chan []byte
	room        Roomer
	UserId      UserIdType
	ArtifactId  ArtifactIdType
	SessionId   SessionIdType
	DisplayName string

	mu        sync.RWMutex
	cursor    *Cursor
	selection *Cursor
}

func newClient(conn wsConnection, room Roomer, userID UserIdType, artifactID ArtifactIdType, sessionID SessionIdType, displayName string) *Client {
	return &Client{
		conn:        conn,
		send:        make(chan []byte, 256),
		room:        room,
		UserId:      userID,
		ArtifactId:  artifactID,
		SessionId:   sessionID,
		DisplayName: displayName,
	}
}

// Cursor returns the client's last reported cursor position.
func (c *Client) Cursor() *Cursor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursor
}

func (c *Client) setCursor(cur *Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = cur
}

// Selection returns the client's last reported selection range.
func (c *Client) Selection() *Cursor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selection
}

func (c *Client) setSelection(sel *Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = sel
}

// readPump reads one text frame at a time from the connection, decodes it
// as a Message, and hands it to the room's router. Runs until the
// connection errors or closes.
func (c *Client) readPump() {
	defer func() {
		c.room.handleClientDisconnect(c)
		c.conn.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warn(context.Background(), "collab: failed to decode message", zap.String("user_id", string(c.UserId)), zap.Error(err))
			continue
		}
		msg.UserId = c.UserId

		ctx := context.Background()
		c.room.deliver(ctx, c, msg)
	}
}

// writePump drains the send channel onto the WebSocket connection. Runs
// until the channel is closed.
func (c *Client) writePump() {
	defer c.conn.Close()
	const writeWait = 10 * time.Second

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "collab: write failed", zap.String("user_id", string(c.UserId)), zap.Error(err))
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// sendMessage marshals msg and enqueues it on the client's send channel.
// Non-blocking: if the buffer is full the message is dropped and logged,
// matching the hub's best-effort fanout contract.
func (c *Client) sendMessage(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error(context.Background(), "collab: failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "collab: client send buffer full, dropping message", zap.String("user_id", string(c.UserId)))
	}
}
