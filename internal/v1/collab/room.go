package collab

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/apierr"
	"github.com/artifactor-hq/collab-core/internal/v1/logging"
	"github.com/artifactor-hq/collab-core/internal/v1/metrics"
	"go.uber.org/zap"
)

// CommentWriter persists durable comment mutations. Implemented by
// internal/v1/store; declared here so collab depends only on the shape it
// needs, not on the storage package itself.
type CommentWriter interface {
	InsertComment(ctx context.Context, artifactID ArtifactIdType, userID UserIdType, data json.RawMessage) (json.RawMessage, error)
	UpdateComment(ctx context.Context, artifactID ArtifactIdType, userID UserIdType, data json.RawMessage) (json.RawMessage, error)
	DeleteComment(ctx context.Context, artifactID ArtifactIdType, userID UserIdType, data json.RawMessage) (json.RawMessage, error)
}

// ActivityWriter appends one append-only activity record.
type ActivityWriter interface {
	LogActivity(ctx context.Context, artifactID ArtifactIdType, userID UserIdType, activityType string, data json.RawMessage) error
}

// PresenceWriter keeps the presence service in sync with room membership.
type PresenceWriter interface {
	UpdatePresence(ctx context.Context, userID UserIdType, artifactID ArtifactIdType, status string) error
	RemovePresence(ctx context.Context, userID UserIdType, artifactID ArtifactIdType) error
}

// NotificationWriter raises mention/reply notifications on comment creation.
type NotificationWriter interface {
	NotifyCommentAdded(ctx context.Context, artifactID ArtifactIdType, authorID UserIdType, data json.RawMessage) error
}

// deps bundles the Room's collaborators, shared by every Room a Hub creates.
type deps struct {
	comments      CommentWriter
	activities    ActivityWriter
	presence      PresenceWriter
	notifications NotificationWriter
}

// Room holds the live collaboration state for a single artifact: connected
// clients, their cursors/selections, and the set of users currently typing.
// All mutable state is guarded by mu; router methods are the only code that
// acquires it, matching the teacher's single-lock-per-room design.
type Room struct {
	ArtifactId ArtifactIdType

	mu          sync.RWMutex
	clients     map[UserIdType]*Client
	cursors     map[UserIdType]*Cursor
	selections  map[UserIdType]*Cursor
	typingUsers map[UserIdType]struct{}
	drawOrder   *list.List

	createdAt    time.Time
	lastActivity time.Time

	deps     deps
	onEmpty  func(ArtifactIdType)
	bus      Bus
}

// Bus is the optional cross-instance pub/sub bridge. Satisfied by
// *kv.Store; a nil Bus (or a nil *kv.Store passed through it) degrades to
// single-instance mode with no code branching at call sites.
type Bus interface {
	Publish(ctx context.Context, channel string, event string, payload json.RawMessage, senderID string) error
}

func newRoom(artifactID ArtifactIdType, deps deps, onEmpty func(ArtifactIdType), bus Bus) *Room {
	now := time.Now().UTC()
	return &Room{
		ArtifactId:   artifactID,
		clients:      make(map[UserIdType]*Client),
		cursors:      make(map[UserIdType]*Cursor),
		selections:   make(map[UserIdType]*Cursor),
		typingUsers:  make(map[UserIdType]struct{}),
		drawOrder:    list.New(),
		createdAt:    now,
		lastActivity: now,
		deps:         deps,
		onEmpty:      onEmpty,
		bus:          bus,
	}
}

// handleClientConnect registers client, broadcasts user_join to its peers,
// and sends the joiner a room_state snapshot. Implements Hub.Attach's room-
// level half.
func (r *Room) handleClientConnect(ctx context.Context, client *Client, userData UserData) {
	r.mu.Lock()
	r.clients[client.UserId] = client
	r.drawOrder.PushBack(client.UserId)
	r.lastActivity = time.Now().UTC()
	r.mu.Unlock()

	metrics.ActiveWebSocketConnections.Inc()
	metrics.RoomParticipants.WithLabelValues(string(r.ArtifactId)).Inc()

	joinPayload, _ := json.Marshal(struct {
		UserId   UserIdType `json:"user_id"`
		UserData UserData   `json:"user_data"`
	}{client.UserId, userData})
	r.broadcastToOthers(client.UserId, Message{Type: MessageTypeUserJoin, Data: joinPayload})

	snapshot := r.snapshotLocked()
	snapshotData, _ := json.Marshal(snapshot)
	client.sendMessage(Message{Type: MessageTypeRoomState, Data: snapshotData})
}

// handleClientDisconnect removes client from the room, broadcasts
// user_leave, clears the user's presence, and calls onEmpty when the room
// is now empty so the Hub can schedule cleanup.
func (r *Room) handleClientDisconnect(c *Client) {
	r.mu.Lock()
	if _, ok := r.clients[c.UserId]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c.UserId)
	delete(r.cursors, c.UserId)
	delete(r.selections, c.UserId)
	delete(r.typingUsers, c.UserId)
	r.lastActivity = time.Now().UTC()
	empty := len(r.clients) == 0
	r.mu.Unlock()

	metrics.DecConnection()
	metrics.RoomParticipants.WithLabelValues(string(r.ArtifactId)).Dec()

	r.broadcastToOthers(c.UserId, Message{Type: MessageTypeUserLeave})

	ctx := context.Background()
	if err := r.deps.presence.RemovePresence(ctx, c.UserId, r.ArtifactId); err != nil {
		logging.Error(ctx, "collab: failed to clear presence on disconnect", zap.Error(err))
	}

	if empty && r.onEmpty != nil {
		r.onEmpty(r.ArtifactId)
	}
}

// activeUsers returns the current room roster; used by snapshotLocked and by
// the Hub's ActiveUsers operation.
func (r *Room) activeUsers() []ActiveUser {
	users := make([]ActiveUser, 0, len(r.clients))
	for id, c := range r.clients {
		users = append(users, ActiveUser{
			UserId:    id,
			UserData:  UserData{DisplayName: c.DisplayName},
			Cursor:    r.cursors[id],
			Selection: r.selections[id],
		})
	}
	return users
}

func (r *Room) snapshotLocked() RoomStateSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	typing := make([]UserIdType, 0, len(r.typingUsers))
	for id := range r.typingUsers {
		typing = append(typing, id)
	}
	return RoomStateSnapshot{
		ArtifactId:   r.ArtifactId,
		ActiveUsers:  r.activeUsers(),
		TypingUsers:  typing,
		LastActivity: r.lastActivity,
	}
}

// ActiveUsers returns a snapshot of connected peers, safe for concurrent use.
func (r *Room) ActiveUsers() []ActiveUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeUsers()
}

func (r *Room) isEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients) == 0
}

// deliver dispatches one inbound message per its type, per spec.md §4.1's
// message-effect table. Implements the Roomer interface Client depends on.
func (r *Room) deliver(ctx context.Context, c *Client, msg Message) {
	switch msg.Type {
	case MessageTypeCursorMove:
		r.handleCursorMove(c, msg)
	case MessageTypeSelectionChange:
		r.handleSelectionChange(c, msg)
	case MessageTypeTypingStart:
		r.handleTypingStart(c)
	case MessageTypeTypingStop:
		r.handleTypingStop(c)
	case MessageTypeArtifactEdit:
		r.handleArtifactEdit(ctx, c, msg)
	case MessageTypeCommentAdd:
		r.handleCommentAdd(ctx, c, msg)
	case MessageTypeCommentUpdate:
		r.handleCommentUpdate(ctx, c, msg)
	case MessageTypeCommentDelete:
		r.handleCommentDelete(ctx, c, msg)
	default:
		logging.Warn(ctx, "collab: unknown message type", zap.String("type", string(msg.Type)), zap.String("user_id", string(c.UserId)))
	}
}

func (r *Room) handleCursorMove(c *Client, msg Message) {
	var cur Cursor
	if err := json.Unmarshal(msg.Data, &cur); err != nil {
		return
	}
	r.mu.Lock()
	r.cursors[c.UserId] = &cur
	r.mu.Unlock()
	c.setCursor(&cur)
	r.broadcastToOthers(c.UserId, Message{Type: MessageTypeCursorMove, Data: msg.Data})
}

func (r *Room) handleSelectionChange(c *Client, msg Message) {
	var sel Cursor
	if err := json.Unmarshal(msg.Data, &sel); err != nil {
		return
	}
	r.mu.Lock()
	r.selections[c.UserId] = &sel
	r.mu.Unlock()
	c.setSelection(&sel)
	r.broadcastToOthers(c.UserId, Message{Type: MessageTypeSelectionChange, Data: msg.Data})
}

func (r *Room) handleTypingStart(c *Client) {
	r.mu.Lock()
	r.typingUsers[c.UserId] = struct{}{}
	r.mu.Unlock()
	r.broadcastToOthers(c.UserId, Message{Type: MessageTypeTypingStart})
}

func (r *Room) handleTypingStop(c *Client) {
	r.mu.Lock()
	delete(r.typingUsers, c.UserId)
	r.mu.Unlock()
	r.broadcastToOthers(c.UserId, Message{Type: MessageTypeTypingStop})
}

func (r *Room) handleArtifactEdit(ctx context.Context, c *Client, msg Message) {
	r.broadcastToOthers(c.UserId, Message{Type: MessageTypeArtifactEdit, Data: msg.Data})
	if err := r.deps.activities.LogActivity(ctx, r.ArtifactId, c.UserId, "artifact_edit", msg.Data); err != nil {
		logging.Error(ctx, "collab: failed to log artifact_edit activity", zap.Error(err))
	}
}

// handleCommentAdd writes the comment first; only on success is it
// broadcast, per spec.md's "peers never observe a comment that failed to
// persist" failure semantics.
func (r *Room) handleCommentAdd(ctx context.Context, c *Client, msg Message) {
	saved, err := r.deps.comments.InsertComment(ctx, r.ArtifactId, c.UserId, msg.Data)
	if err != nil {
		r.sendError(c, "failed to save comment", err)
		return
	}
	r.broadcastToAll(Message{Type: MessageTypeCommentAdd, UserId: c.UserId, Data: saved})
	if err := r.deps.activities.LogActivity(ctx, r.ArtifactId, c.UserId, "comment_add", saved); err != nil {
		logging.Error(ctx, "collab: failed to log comment_add activity", zap.Error(err))
	}
	if err := r.deps.notifications.NotifyCommentAdded(ctx, r.ArtifactId, c.UserId, saved); err != nil {
		logging.Error(ctx, "collab: comment notification dispatch failed", zap.Error(err))
	}
}

func (r *Room) handleCommentUpdate(ctx context.Context, c *Client, msg Message) {
	saved, err := r.deps.comments.UpdateComment(ctx, r.ArtifactId, c.UserId, msg.Data)
	if err != nil {
		r.sendError(c, "failed to update comment", err)
		return
	}
	r.broadcastToAll(Message{Type: MessageTypeCommentUpdate, UserId: c.UserId, Data: saved})
	if err := r.deps.activities.LogActivity(ctx, r.ArtifactId, c.UserId, "comment_update", saved); err != nil {
		logging.Error(ctx, "collab: failed to log comment_update activity", zap.Error(err))
	}
}

func (r *Room) handleCommentDelete(ctx context.Context, c *Client, msg Message) {
	saved, err := r.deps.comments.DeleteComment(ctx, r.ArtifactId, c.UserId, msg.Data)
	if err != nil {
		r.sendError(c, "failed to delete comment", err)
		return
	}
	r.broadcastToAll(Message{Type: MessageTypeCommentDelete, UserId: c.UserId, Data: saved})
	if err := r.deps.activities.LogActivity(ctx, r.ArtifactId, c.UserId, "comment_delete", saved); err != nil {
		logging.Error(ctx, "collab: failed to log comment_delete activity", zap.Error(err))
	}
}

// sendError sends the client an error frame whose data is {code, message};
// code is the apierr.Error code when err carries one, else "internal".
func (r *Room) sendError(c *Client, message string, err error) {
	code := string(apierr.KindInternal)
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	}
	payload, _ := json.Marshal(struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{code, message})
	c.sendMessage(Message{Type: MessageTypeError, Data: payload})
	logging.Error(context.Background(), "collab: "+message, zap.String("artifact_id", string(r.ArtifactId)), zap.Error(err))
}

// broadcastToOthers fans msg out to every client except sender. Per-
// recipient send failures are handled inside Client.sendMessage (drop +
// log); this method never blocks on a slow peer.
func (r *Room) broadcastToOthers(sender UserIdType, msg Message) {
	r.broadcast(msg, func(id UserIdType) bool { return id != sender })
}

// broadcastToAll fans msg out to every connected client, including the
// sender (used for comment events so the sender observes the server-
// assigned id/timestamps).
func (r *Room) broadcastToAll(msg Message) {
	r.broadcast(msg, func(UserIdType) bool { return true })
}

func (r *Room) broadcast(msg Message, include func(UserIdType) bool) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	r.mu.RLock()
	recipients := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		if include(id) {
			recipients = append(recipients, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range recipients {
		c.sendMessage(msg)
	}

	if r.bus != nil {
		payload, err := json.Marshal(msg)
		if err == nil {
			if err := r.bus.Publish(context.Background(), string(r.ArtifactId), string(msg.Type), payload, string(msg.UserId)); err != nil {
				logging.Warn(context.Background(), "collab: cross-instance publish failed", zap.Error(err))
			}
		}
	}
}

// sendToUser delivers msg to a single connected client if present; used by
// PushNotificationToUser. Reports whether a client was found.
func (r *Room) sendToUser(userID UserIdType, msg Message) bool {
	r.mu.RLock()
	c, ok := r.clients[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	c.sendMessage(msg)
	return true
}
