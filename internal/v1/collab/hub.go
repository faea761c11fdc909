// Package collab - hub.go
//
// The Hub is the central coordinator for all collaboration rooms: it owns
// WebSocket upgrade/auth, the artifact->Room registry, and grace-period
// room cleanup. Grounded on the teacher's session.Hub (room registry,
// delayed cleanup via time.AfterFunc) and on
// original_source/backend/services/websocket_manager.py's WebSocketManager
// (per-artifact CollaborationRoom, user->artifact connection index, presence
// write-through on connect/disconnect).
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/auth"
	"github.com/artifactor-hq/collab-core/internal/v1/logging"
	"github.com/artifactor-hq/collab-core/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenValidator authenticates the bearer token presented on WS upgrade.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// UserLookup confirms a user id is known to the external user store before
// Attach admits it, per spec.md's "Fails if user_id is unknown" invariant.
type UserLookup interface {
	Exists(ctx context.Context, userID UserIdType) (bool, error)
}

// Hub is the central coordinator for all collaboration rooms. One Hub per
// process; rooms are created lazily on first Attach and removed from the
// registry the instant their last client detaches, per spec.md §4.1's
// Populated→Empty transition. The Room object itself is held a short grace
// period in a side table, invisible to ActiveUsers/lookupRoom, purely so a
// fast reconnect reuses it instead of paying room-creation cost again.
type Hub struct {
	mu                  sync.Mutex
	rooms               map[ArtifactIdType]*Room
	pendingReconnect    map[ArtifactIdType]*Room
	pendingRoomCleanups map[ArtifactIdType]*time.Timer
	cleanupGracePeriod  time.Duration

	validator      TokenValidator
	users          UserLookup
	allowedOrigins []string
	deps           deps
	bus            Bus
}

// HubConfig bundles the Hub's dependencies. Bus and Users may be left nil
// (single-instance mode, no user check). Comments, Activities, Presence and
// Notifications are called without nil checks by Hub and Room and must be
// set.
type HubConfig struct {
	Validator          TokenValidator
	Users              UserLookup
	Comments           CommentWriter
	Activities         ActivityWriter
	Presence           PresenceWriter
	Notifications      NotificationWriter
	Bus                Bus
	AllowedOrigins     []string
	CleanupGracePeriod time.Duration
}

// NewHub constructs a Hub from cfg, applying sensible defaults for zero
// values (30s grace period, matching spec.md §9's collaboration.room_grace_period default).
func NewHub(cfg HubConfig) *Hub {
	grace := cfg.CleanupGracePeriod
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Hub{
		rooms:               make(map[ArtifactIdType]*Room),
		pendingReconnect:    make(map[ArtifactIdType]*Room),
		pendingRoomCleanups: make(map[ArtifactIdType]*time.Timer),
		cleanupGracePeriod:  grace,
		validator:           cfg.Validator,
		users:               cfg.Users,
		allowedOrigins:      cfg.AllowedOrigins,
		deps: deps{
			comments:      cfg.Comments,
			activities:    cfg.Activities,
			presence:      cfg.Presence,
			notifications: cfg.Notifications,
		},
		bus: cfg.Bus,
	}
}

// ServeWs authenticates the connecting user via a query-param bearer token,
// upgrades to WebSocket, and attaches a new Client to the artifact's room.
func (h *Hub) ServeWs(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := h.validator.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	artifactID := ArtifactIdType(c.Param("artifactId"))
	userID := UserIdType(claims.Subject)

	ctx := c.Request.Context()
	if h.users != nil {
		ok, err := h.users.Exists(ctx, userID)
		if err != nil || !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
	}

	displayName := claims.Name
	if displayName == "" {
		displayName = claims.Subject
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			originURL, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, allowed := range h.allowedOrigins {
				allowedURL, err := url.Parse(allowed)
				if err != nil {
					continue
				}
				if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
					return true
				}
			}
			return false
		},
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(ctx, "collab: failed to upgrade connection", zap.Error(err))
		return
	}

	room := h.getOrCreateRoom(artifactID)
	sessionID := SessionIdType(uuid.NewString())
	client := newClient(conn, room, userID, artifactID, sessionID, displayName)

	room.handleClientConnect(ctx, client, UserData{DisplayName: displayName})
	if err := h.deps.presence.UpdatePresence(ctx, userID, artifactID, "active"); err != nil {
		logging.Error(ctx, "collab: failed to record presence on attach", zap.Error(err))
	}

	go client.writePump()
	go client.readPump()
}

// Attach is the non-transport entry point used by tests and by server-side
// callers that already hold a live connection (e.g. in-process bridges).
func (h *Hub) Attach(ctx context.Context, conn wsConnection, userID UserIdType, artifactID ArtifactIdType, userData UserData) (*Client, error) {
	if h.users != nil {
		ok, err := h.users.Exists(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("collab: unknown user %q", userID)
		}
	}

	room := h.getOrCreateRoom(artifactID)
	sessionID := SessionIdType(uuid.NewString())
	client := newClient(conn, room, userID, artifactID, sessionID, userData.DisplayName)
	room.handleClientConnect(ctx, client, userData)
	if err := h.deps.presence.UpdatePresence(ctx, userID, artifactID, "active"); err != nil {
		logging.Error(ctx, "collab: failed to record presence on attach", zap.Error(err))
	}
	return client, nil
}

// Detach removes a client's room membership outright, bypassing the
// transport read/write goroutines; used for server-initiated eviction.
func (h *Hub) Detach(c *Client) {
	room, ok := h.lookupRoom(c.ArtifactId)
	if !ok {
		return
	}
	room.handleClientDisconnect(c)
}

// ActiveUsers returns the current peer roster for artifactID, or an empty
// slice if no room exists.
func (h *Hub) ActiveUsers(artifactID ArtifactIdType) []ActiveUser {
	room, ok := h.lookupRoom(artifactID)
	if !ok {
		return nil
	}
	return room.ActiveUsers()
}

// PushNotificationToUser fans a notification payload out to every live
// client the user holds across all rooms. Silently does nothing if the
// user has no open connections.
func (h *Hub) PushNotificationToUser(userID UserIdType, payload json.RawMessage) {
	msg := Message{Type: MessageTypeNotification, Data: payload, Timestamp: time.Now().UTC()}

	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	for _, room := range rooms {
		room.sendToUser(userID, msg)
	}
}

func (h *Hub) lookupRoom(artifactID ArtifactIdType) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[artifactID]
	return room, ok
}

// getOrCreateRoom returns the Room for artifactID. It first consults the
// live registry, then the pending-reconnect side table (cancelling that
// room's cleanup timer and reinstating it in the registry on a hit), and
// only creates a new Room if neither has one. Safe for concurrent use.
func (h *Hub) getOrCreateRoom(artifactID ArtifactIdType) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[artifactID]; ok {
		return room
	}

	if room, ok := h.pendingReconnect[artifactID]; ok {
		delete(h.pendingReconnect, artifactID)
		if timer, pending := h.pendingRoomCleanups[artifactID]; pending {
			timer.Stop()
			delete(h.pendingRoomCleanups, artifactID)
		}
		h.rooms[artifactID] = room
		metrics.ActiveRooms.Inc()
		logging.Info(context.Background(), "collab: reattached before pending room cleanup fired", zap.String("artifact_id", string(artifactID)))
		return room
	}

	room := newRoom(artifactID, h.deps, h.removeRoom, h.bus)
	h.rooms[artifactID] = room
	metrics.ActiveRooms.Inc()
	return room
}

// removeRoom is the Room's onEmpty callback: it removes artifactID from the
// live registry immediately, so ActiveUsers/lookupRoom observe "no room"
// the instant the last client detaches, per spec.md §8's "no Room remains
// in memory with zero clients" property. The Room object itself is parked
// in pendingReconnect for the grace period purely so a fast reconnect reuses
// it; that side table is never consulted by ActiveUsers or lookupRoom.
func (h *Hub) removeRoom(artifactID ArtifactIdType) {
	h.mu.Lock()

	room, ok := h.rooms[artifactID]
	if !ok || !room.isEmpty() {
		h.mu.Unlock()
		return
	}

	delete(h.rooms, artifactID)
	metrics.ActiveRooms.Dec()
	metrics.RoomParticipants.DeleteLabelValues(string(artifactID))

	if existing, ok := h.pendingRoomCleanups[artifactID]; ok {
		existing.Stop()
		delete(h.pendingRoomCleanups, artifactID)
	}
	h.pendingReconnect[artifactID] = room

	timer := time.AfterFunc(h.cleanupGracePeriod, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if pending, ok := h.pendingReconnect[artifactID]; ok && pending == room {
			delete(h.pendingReconnect, artifactID)
			delete(h.pendingRoomCleanups, artifactID)
			logging.Info(context.Background(), "collab: discarded pending room after grace period", zap.String("artifact_id", string(artifactID)))
		}
	})

	h.pendingRoomCleanups[artifactID] = timer
	h.mu.Unlock()
}
