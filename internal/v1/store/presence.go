package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/presence"
)

// PresenceRepo durably persists presence records for analytics, satisfying
// presence.Store. The in-memory+KV tiers in internal/v1/presence remain the
// source of truth for "is this user online right now"; this repo is the
// write-behind analytics trail.
type PresenceRepo struct {
	db *sql.DB
}

// UpsertPresence implements presence.Store.
func (r *PresenceRepo) UpsertPresence(ctx context.Context, rec presence.Record) error {
	var cursorJSON, viewportJSON []byte
	if rec.Cursor != nil {
		cursorJSON, _ = json.Marshal(rec.Cursor)
	}
	if rec.Viewport != nil {
		viewportJSON, _ = json.Marshal(rec.Viewport)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO presence_records (user_id, artifact_id, status, activity, cursor_position,
			viewport, last_seen, session_id, connection_info)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, artifact_id) DO UPDATE SET
			status = excluded.status,
			activity = excluded.activity,
			cursor_position = excluded.cursor_position,
			viewport = excluded.viewport,
			last_seen = excluded.last_seen,
			session_id = excluded.session_id,
			connection_info = excluded.connection_info`,
		rec.UserID, rec.ArtifactID, rec.Status, nullableString(rec.Activity),
		nullableJSON(cursorJSON), nullableJSON(viewportJSON), rec.LastSeen,
		nullableString(rec.SessionID), nullableString(rec.ConnectionInfo))
	if err != nil {
		return fmt.Errorf("store: upsert presence: %w", err)
	}
	return nil
}

// MarkOffline implements presence.Store.
func (r *PresenceRepo) MarkOffline(ctx context.Context, userID, artifactID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE presence_records SET status = ?, last_seen = ?
		WHERE user_id = ? AND artifact_id = ?`, presence.StatusOffline, at, userID, artifactID)
	if err != nil {
		return fmt.Errorf("store: mark presence offline: %w", err)
	}
	return nil
}

// SweepStaleToOffline implements presence.Store: every active/away row
// whose last_seen is before cutoff is demoted to offline.
func (r *PresenceRepo) SweepStaleToOffline(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE presence_records SET status = ?
		WHERE status != ? AND last_seen < ?`, presence.StatusOffline, presence.StatusOffline, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: sweep stale presence: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
