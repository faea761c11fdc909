package collab

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUserLookup struct {
	known map[UserIdType]bool
}

func (f *fakeUserLookup) Exists(ctx context.Context, userID UserIdType) (bool, error) {
	return f.known[userID], nil
}

func testHub(t *testing.T, grace time.Duration) (*Hub, *fakePresenceWriter) {
	t.Helper()
	_, _, _, presence, _ := testDeps()
	hub := NewHub(HubConfig{
		Users:              &fakeUserLookup{known: map[UserIdType]bool{"alice": true, "bob": true}},
		Comments:           &fakeCommentWriter{},
		Activities:         &fakeActivityWriter{},
		Presence:           presence,
		Notifications:      &fakeNotificationWriter{},
		CleanupGracePeriod: grace,
	})
	return hub, presence
}

func TestHubAttachCreatesRoomOnce(t *testing.T) {
	hub, presence := testHub(t, 20*time.Millisecond)

	connA := newFakeConn()
	go func() {}()
	_, err := hub.Attach(context.Background(), connA, "alice", "artifact1", UserData{DisplayName: "Alice"})
	require.NoError(t, err)

	assert.Len(t, hub.ActiveUsers("artifact1"), 1)
	assert.Equal(t, 1, presence.updates)

	connB := newFakeConn()
	_, err = hub.Attach(context.Background(), connB, "bob", "artifact1", UserData{DisplayName: "Bob"})
	require.NoError(t, err)

	assert.Len(t, hub.ActiveUsers("artifact1"), 2)
}

func TestHubAttachUnknownUserFails(t *testing.T) {
	hub, _ := testHub(t, 20*time.Millisecond)
	conn := newFakeConn()
	_, err := hub.Attach(context.Background(), conn, "ghost", "artifact1", UserData{})
	assert.Error(t, err)
}

func TestHubDetachRemovesRoomImmediately(t *testing.T) {
	hub, _ := testHub(t, 20*time.Millisecond)
	conn := newFakeConn()
	client, err := hub.Attach(context.Background(), conn, "alice", "artifact1", UserData{DisplayName: "Alice"})
	require.NoError(t, err)

	hub.Detach(client)

	hub.mu.Lock()
	_, stillPresent := hub.rooms["artifact1"]
	hub.mu.Unlock()
	assert.False(t, stillPresent, "room must leave the registry the instant the last client detaches")
	assert.Empty(t, hub.ActiveUsers("artifact1"))
}

func TestHubReconnectWithinGraceReusesRoom(t *testing.T) {
	hub, _ := testHub(t, 50*time.Millisecond)
	conn := newFakeConn()
	client, err := hub.Attach(context.Background(), conn, "alice", "artifact1", UserData{DisplayName: "Alice"})
	require.NoError(t, err)

	hub.Detach(client)

	hub.mu.Lock()
	_, stillPresent := hub.rooms["artifact1"]
	pending, isPending := hub.pendingReconnect["artifact1"]
	hub.mu.Unlock()
	assert.False(t, stillPresent, "room must not be in the live registry while pending reconnect")
	require.True(t, isPending, "room should be held for a fast reconnect")

	conn2 := newFakeConn()
	_, err = hub.Attach(context.Background(), conn2, "alice", "artifact1", UserData{DisplayName: "Alice"})
	require.NoError(t, err)

	hub.mu.Lock()
	reattached, stillPresent := hub.rooms["artifact1"]
	_, stillPending := hub.pendingReconnect["artifact1"]
	hub.mu.Unlock()
	assert.True(t, stillPresent, "reconnect should reinstate the room")
	assert.False(t, stillPending, "reconnect should clear the pending-reconnect entry")
	assert.Same(t, pending, reattached, "reconnect should reuse the same Room instance")

	time.Sleep(80 * time.Millisecond)
	hub.mu.Lock()
	_, stillPresentAfterGrace := hub.rooms["artifact1"]
	hub.mu.Unlock()
	assert.True(t, stillPresentAfterGrace, "the grace timer for the discarded room must not remove the reattached one")
}

func TestHubPendingReconnectExpiresAfterGracePeriod(t *testing.T) {
	hub, _ := testHub(t, 20*time.Millisecond)
	conn := newFakeConn()
	client, err := hub.Attach(context.Background(), conn, "alice", "artifact1", UserData{DisplayName: "Alice"})
	require.NoError(t, err)

	hub.Detach(client)

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.pendingReconnect["artifact1"]
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestHubPushNotificationToUser(t *testing.T) {
	hub, _ := testHub(t, time.Second)
	conn := newFakeConn()
	client, err := hub.Attach(context.Background(), conn, "alice", "artifact1", UserData{DisplayName: "Alice"})
	require.NoError(t, err)
	go client.writePump()
	t.Cleanup(func() { close(client.send) })

	hub.PushNotificationToUser("alice", json.RawMessage(`{"title":"hi"}`))

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.outbound) >= 1
	}, time.Second, 5*time.Millisecond)
}
