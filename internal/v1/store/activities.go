package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/collab"
	"github.com/google/uuid"
)

// Activity is the persisted, append-only shape of spec.md §3's Activity
// entity.
type Activity struct {
	ID                string          `json:"id"`
	ArtifactID        string          `json:"artifact_id"`
	UserID            string          `json:"user_id"`
	Type              string          `json:"type"`
	Category          string          `json:"category"`
	Description       string          `json:"description,omitempty"`
	Data              json.RawMessage `json:"data,omitempty"`
	Visibility        string          `json:"visibility"`
	RelatedCommentID  string          `json:"related_comment_id,omitempty"`
	RelatedUserID     string          `json:"related_user_id,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}

// ActivityRepo persists append-only Activity rows. Rows are never mutated
// once written, matching spec.md §3's "never mutated" invariant.
type ActivityRepo struct {
	db *sql.DB
}

// activityCategory derives the broad category from the specific activity
// type, per SPEC_FULL.md §3's "supplemental field recovered from
// original_source" note.
func activityCategory(activityType string) string {
	switch activityType {
	case "artifact_edit":
		return "edit"
	case "comment_add", "comment_update", "comment_delete":
		return "comment"
	case "join", "leave":
		return "lifecycle"
	default:
		return "general"
	}
}

// LogActivity implements collab.ActivityWriter.
func (r *ActivityRepo) LogActivity(ctx context.Context, artifactID collab.ArtifactIdType, userID collab.UserIdType, activityType string, data json.RawMessage) error {
	a := Activity{
		ID:         uuid.NewString(),
		ArtifactID: string(artifactID),
		UserID:     string(userID),
		Type:       activityType,
		Category:   activityCategory(activityType),
		Data:       data,
		Visibility: "public",
		Timestamp:  time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activities (id, artifact_id, user_id, activity_type, activity_category,
			data, visibility, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ArtifactID, a.UserID, a.Type, a.Category, nullableJSON(a.Data), a.Visibility, a.Timestamp)
	if err != nil {
		return fmt.Errorf("store: insert activity: %w", err)
	}
	return nil
}

// List returns an artifact's activity feed, most recent first, optionally
// bounded by limit (0 = unbounded).
func (r *ActivityRepo) List(ctx context.Context, artifactID string, limit int) ([]Activity, error) {
	query := `
		SELECT id, artifact_id, user_id, activity_type, activity_category, COALESCE(description, ''),
			data, visibility, COALESCE(related_comment_id, ''), COALESCE(related_user_id, ''), timestamp
		FROM activities WHERE artifact_id = ? ORDER BY timestamp DESC`
	args := []any{artifactID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list activities: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		var data []byte
		if err := rows.Scan(&a.ID, &a.ArtifactID, &a.UserID, &a.Type, &a.Category, &a.Description,
			&data, &a.Visibility, &a.RelatedCommentID, &a.RelatedUserID, &a.Timestamp); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("store: scan activity: %w", err)
		}
		if len(data) > 0 {
			a.Data = data
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CommentAuthors returns the distinct set of user ids who have commented on
// artifactID, one of the sources for artifact_update recipient lists per
// SPEC_FULL.md §9.
func (r *CommentRepo) CommentAuthors(ctx context.Context, artifactID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM comments WHERE artifact_id = ?`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("store: comment authors: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
