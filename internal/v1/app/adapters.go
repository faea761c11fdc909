// Package app is the composition root: it wires internal/v1/collab's narrow
// CommentWriter/ActivityWriter/PresenceWriter/NotificationWriter/UserLookup
// interfaces to the concrete internal/v1/store, internal/v1/presence, and
// internal/v1/notify services. The adapters here exist because Go requires
// exact method-set matches for interface satisfaction: the concrete
// services' public APIs are richer (more parameters, plain string ids)
// than what collab's Room/Hub need, so each adapter narrows the call and
// converts collab's typed ids to the plain strings the services expect.
package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/artifactor-hq/collab-core/internal/v1/collab"
	"github.com/artifactor-hq/collab-core/internal/v1/notify"
	"github.com/artifactor-hq/collab-core/internal/v1/presence"
	"github.com/artifactor-hq/collab-core/internal/v1/store"
)

// PresenceAdapter narrows presence.Service to collab.PresenceWriter.
type PresenceAdapter struct {
	Service *presence.Service
}

// UpdatePresence implements collab.PresenceWriter.
func (a *PresenceAdapter) UpdatePresence(ctx context.Context, userID collab.UserIdType, artifactID collab.ArtifactIdType, status string) error {
	return a.Service.UpdatePresence(ctx, string(userID), string(artifactID), status, "", nil, nil, "", "")
}

// RemovePresence implements collab.PresenceWriter.
func (a *PresenceAdapter) RemovePresence(ctx context.Context, userID collab.UserIdType, artifactID collab.ArtifactIdType) error {
	return a.Service.RemovePresence(ctx, string(userID), string(artifactID))
}

// commentPayload is the shape InsertComment returns (see store.Comment),
// trimmed to the fields NotificationAdapter needs to decide who to notify.
type commentPayload struct {
	ID       string   `json:"id"`
	ParentID string   `json:"parent_id"`
	Content  string   `json:"content"`
	Mentions []string `json:"mentions"`
}

// CommentLookup resolves a comment's author, used to find who a reply is
// addressed to. Satisfied by store.CommentRepo.
type CommentLookup interface {
	Get(ctx context.Context, id, artifactID string) (store.Comment, error)
}

// NotificationAdapter narrows notify.Service to collab.NotificationWriter:
// it inspects the newly-saved comment for @mentions and a parent comment to
// reply to, and raises the matching notify.Service notifications. Mirrors
// the dispatch original_source/backend/services/websocket_manager.py does
// inline on comment broadcast.
type NotificationAdapter struct {
	Notify   *notify.Service
	Comments CommentLookup
}

// NotifyCommentAdded implements collab.NotificationWriter.
func (a *NotificationAdapter) NotifyCommentAdded(ctx context.Context, artifactID collab.ArtifactIdType, authorID collab.UserIdType, data json.RawMessage) error {
	var c commentPayload
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("app: decode saved comment: %w", err)
	}

	for _, mentioned := range c.Mentions {
		if mentioned == string(authorID) {
			continue
		}
		if _, err := a.Notify.MentionNotification(ctx, mentioned, string(authorID), string(artifactID), c.ID, c.Content); err != nil {
			return fmt.Errorf("app: mention notification: %w", err)
		}
	}

	if c.ParentID == "" || a.Comments == nil {
		return nil
	}
	parent, err := a.Comments.Get(ctx, c.ParentID, string(artifactID))
	if err != nil {
		return nil
	}
	if parent.UserID == string(authorID) {
		return nil
	}
	if _, err := a.Notify.CommentReplyNotification(ctx, parent.UserID, string(authorID), string(artifactID), c.ID, c.Content); err != nil {
		return fmt.Errorf("app: comment reply notification: %w", err)
	}
	return nil
}

// UserLookupAdapter narrows store.UserRepo to collab.UserLookup.
type UserLookupAdapter struct {
	Users *store.UserRepo
}

// Exists implements collab.UserLookup.
func (a *UserLookupAdapter) Exists(ctx context.Context, userID collab.UserIdType) (bool, error) {
	return a.Users.Exists(string(userID)), nil
}
