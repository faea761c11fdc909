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

// ErrNotFound is returned by repository lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// Comment is the persisted shape of spec.md §3's Comment entity.
type Comment struct {
	ID           string                 `json:"id"`
	ArtifactID   string                 `json:"artifact_id"`
	UserID       string                 `json:"user_id"`
	ParentID     string                 `json:"parent_id,omitempty"`
	Content      string                 `json:"content"`
	ContentType  string                 `json:"content_type"`
	PositionData json.RawMessage        `json:"position_data,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Edited       bool                   `json:"edited"`
	Resolved     bool                   `json:"resolved"`
	ResolvedBy   string                 `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time             `json:"resolved_at,omitempty"`
	Reactions    map[string][]string    `json:"reactions"`
	Mentions     []string               `json:"mentions"`
}

// CommentRepo persists Comments. It satisfies collab.CommentWriter's
// Insert/Update/Delete trio via the json.RawMessage-in/json.RawMessage-out
// methods below.
type CommentRepo struct {
	db *sql.DB
}

type commentCreateRequest struct {
	ParentID     string          `json:"parent_id"`
	Content      string          `json:"content"`
	ContentType  string          `json:"content_type"`
	PositionData json.RawMessage `json:"position_data"`
	Mentions     []string        `json:"mentions"`
}

// InsertComment implements collab.CommentWriter. data is the client's
// create request; the returned payload is the full persisted Comment,
// including its server-assigned id.
func (r *CommentRepo) InsertComment(ctx context.Context, artifactID collab.ArtifactIdType, userID collab.UserIdType, data json.RawMessage) (json.RawMessage, error) {
	var req commentCreateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("store: decode comment create request: %w", err)
	}
	if req.Content == "" {
		return nil, errors.New("store: comment content is required")
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "text"
	}

	now := time.Now().UTC()
	c := Comment{
		ID:          uuid.NewString(),
		ArtifactID:  string(artifactID),
		UserID:      string(userID),
		ParentID:    req.ParentID,
		Content:     req.Content,
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
		Reactions:   map[string][]string{},
		Mentions:    req.Mentions,
		PositionData: req.PositionData,
	}

	reactionsJSON, _ := json.Marshal(c.Reactions)
	mentionsJSON, _ := json.Marshal(c.Mentions)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO comments (id, artifact_id, user_id, parent_id, content, content_type,
			position_data, created_at, updated_at, edited, resolved, reactions, mentions)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		c.ID, c.ArtifactID, c.UserID, c.ParentID, c.Content, c.ContentType,
		nullableJSON(c.PositionData), c.CreatedAt, c.UpdatedAt, reactionsJSON, mentionsJSON)
	if err != nil {
		return nil, fmt.Errorf("store: insert comment: %w", err)
	}

	return json.Marshal(c)
}

type commentUpdateRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// UpdateComment implements collab.CommentWriter. data must carry the
// comment's id and the new content.
func (r *CommentRepo) UpdateComment(ctx context.Context, artifactID collab.ArtifactIdType, userID collab.UserIdType, data json.RawMessage) (json.RawMessage, error) {
	var req commentUpdateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("store: decode comment update request: %w", err)
	}
	if req.ID == "" {
		return nil, errors.New("store: comment id is required")
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE comments SET content = ?, updated_at = ?, edited = 1
		WHERE id = ? AND artifact_id = ?`,
		req.Content, now, req.ID, string(artifactID))
	if err != nil {
		return nil, fmt.Errorf("store: update comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return r.getJSON(ctx, req.ID, string(artifactID))
}

type commentDeleteRequest struct {
	ID string `json:"id"`
}

// DeleteComment implements collab.CommentWriter. Returns the deleted
// comment's id as confirmation payload.
func (r *CommentRepo) DeleteComment(ctx context.Context, artifactID collab.ArtifactIdType, userID collab.UserIdType, data json.RawMessage) (json.RawMessage, error) {
	var req commentDeleteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("store: decode comment delete request: %w", err)
	}
	if req.ID == "" {
		return nil, errors.New("store: comment id is required")
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ? AND artifact_id = ?`, req.ID, string(artifactID))
	if err != nil {
		return nil, fmt.Errorf("store: delete comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return json.Marshal(struct {
		ID string `json:"id"`
	}{req.ID})
}

// Get returns one comment by id.
func (r *CommentRepo) Get(ctx context.Context, id, artifactID string) (Comment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, artifact_id, user_id, COALESCE(parent_id, ''), content, content_type,
			position_data, created_at, updated_at, edited, resolved, COALESCE(resolved_by, ''),
			resolved_at, reactions, mentions
		FROM comments WHERE id = ? AND artifact_id = ?`, id, artifactID)
	return scanComment(row)
}

func (r *CommentRepo) getJSON(ctx context.Context, id, artifactID string) (json.RawMessage, error) {
	c, err := r.Get(ctx, id, artifactID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

// List returns comments for an artifact, oldest first.
func (r *CommentRepo) List(ctx context.Context, artifactID string) ([]Comment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, artifact_id, user_id, COALESCE(parent_id, ''), content, content_type,
			position_data, created_at, updated_at, edited, resolved, COALESCE(resolved_by, ''),
			resolved_at, reactions, mentions
		FROM comments WHERE artifact_id = ? ORDER BY created_at ASC`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("store: list comments: %w", err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Resolve marks a comment resolved (or unresolved if resolverID is empty).
func (r *CommentRepo) Resolve(ctx context.Context, id, artifactID, resolverID string) error {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	if resolverID == "" {
		res, err = r.db.ExecContext(ctx, `UPDATE comments SET resolved = 0, resolved_by = NULL, resolved_at = NULL WHERE id = ? AND artifact_id = ?`, id, artifactID)
	} else {
		res, err = r.db.ExecContext(ctx, `UPDATE comments SET resolved = 1, resolved_by = ?, resolved_at = ? WHERE id = ? AND artifact_id = ?`, resolverID, now, id, artifactID)
	}
	if err != nil {
		return fmt.Errorf("store: resolve comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleReaction adds reactionSymbol/userID if absent, removes it if
// present, per SPEC_FULL.md §9's resolved toggle-reaction Open Question.
func (r *CommentRepo) ToggleReaction(ctx context.Context, id, artifactID, reactionSymbol, userID string) (Comment, error) {
	c, err := r.Get(ctx, id, artifactID)
	if err != nil {
		return Comment{}, err
	}

	users := c.Reactions[reactionSymbol]
	idx := -1
	for i, u := range users {
		if u == userID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		users = append(users[:idx], users[idx+1:]...)
	} else {
		users = append(users, userID)
	}
	if len(users) == 0 {
		delete(c.Reactions, reactionSymbol)
	} else {
		c.Reactions[reactionSymbol] = users
	}

	reactionsJSON, _ := json.Marshal(c.Reactions)
	_, err = r.db.ExecContext(ctx, `UPDATE comments SET reactions = ? WHERE id = ? AND artifact_id = ?`, reactionsJSON, id, artifactID)
	if err != nil {
		return Comment{}, fmt.Errorf("store: toggle reaction: %w", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(row rowScanner) (Comment, error) {
	var c Comment
	var positionData, reactionsJSON, mentionsJSON []byte
	var resolvedAt sql.NullTime

	err := row.Scan(&c.ID, &c.ArtifactID, &c.UserID, &c.ParentID, &c.Content, &c.ContentType,
		&positionData, &c.CreatedAt, &c.UpdatedAt, &c.Edited, &c.Resolved, &c.ResolvedBy,
		&resolvedAt, &reactionsJSON, &mentionsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, fmt.Errorf("store: scan comment: %w", err)
	}

	if len(positionData) > 0 {
		c.PositionData = positionData
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	c.Reactions = map[string][]string{}
	if len(reactionsJSON) > 0 {
		_ = json.Unmarshal(reactionsJSON, &c.Reactions)
	}
	if len(mentionsJSON) > 0 {
		_ = json.Unmarshal(mentionsJSON, &c.Mentions)
	}
	return c, nil
}

func nullableJSON(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}
