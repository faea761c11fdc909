package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRoom implements Roomer for client-level tests.
type mockRoom struct {
	mu              sync.Mutex
	deliverCalls    int
	disconnectCalls int
	lastMessage     Message
}

func (m *mockRoom) deliver(ctx context.Context, client *Client, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliverCalls++
	m.lastMessage = msg
}

func (m *mockRoom) handleClientDisconnect(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
}

// fakeConn is an in-memory wsConnection double. inbound feeds ReadMessage;
// outbound captures everything WriteMessage sends.
type fakeConn struct {
	mu       sync.Mutex
	inbound  chan []byte
	outbound [][]byte
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, data, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.outbound = append(f.outbound, cp)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func TestClientReadPumpDispatchesToRoom(t *testing.T) {
	room := &mockRoom{}
	conn := newFakeConn()
	client := newClient(conn, room, "user1", "artifact1", "sess1", "Alice")

	done := make(chan struct{})
	go func() {
		client.readPump()
		close(done)
	}()

	msg := Message{Type: MessageTypeCursorMove, Data: json.RawMessage(`{"line":1,"column":2}`)}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	conn.inbound <- data

	require.Eventually(t, func() bool {
		room.mu.Lock()
		defer room.mu.Unlock()
		return room.deliverCalls == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	<-done

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Equal(t, 1, room.disconnectCalls)
	assert.Equal(t, MessageTypeCursorMove, room.lastMessage.Type)
}

func TestClientSendMessage(t *testing.T) {
	room := &mockRoom{}
	conn := newFakeConn()
	client := newClient(conn, room, "user1", "artifact1", "sess1", "Alice")

	done := make(chan struct{})
	go func() {
		client.writePump()
		close(done)
	}()

	client.sendMessage(Message{Type: MessageTypeUserJoin})

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.outbound) == 1
	}, time.Second, 10*time.Millisecond)

	close(client.send)
	<-done
}

func TestClientSendMessage_ChannelFull(t *testing.T) {
	room := &mockRoom{}
	conn := newFakeConn()
	client := newClient(conn, room, "user1", "artifact1", "sess1", "Alice")
	client.send = make(chan []byte, 1)

	client.sendMessage(Message{Type: MessageTypeUserJoin})
	client.sendMessage(Message{Type: MessageTypeUserLeave})

	assert.Len(t, client.send, 1)
}

func TestClientCursorAndSelectionAccessors(t *testing.T) {
	room := &mockRoom{}
	conn := newFakeConn()
	client := newClient(conn, room, "user1", "artifact1", "sess1", "Alice")

	assert.Nil(t, client.Cursor())
	assert.Nil(t, client.Selection())

	cur := &Cursor{Line: 5, Column: 1}
	client.setCursor(cur)
	assert.Equal(t, cur, client.Cursor())

	sel := &Cursor{Line: 2, Column: 0}
	client.setSelection(sel)
	assert.Equal(t, sel, client.Selection())
}
