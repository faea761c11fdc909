package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/notify"
)

// NotificationRepo persists notify.Notification rows, satisfying
// notify.Store.
type NotificationRepo struct {
	db *sql.DB
}

// Insert implements notify.Store.
func (r *NotificationRepo) Insert(n notify.Notification) error {
	channelsJSON, _ := json.Marshal(n.DeliveryChannels)
	deliveredJSON, _ := json.Marshal(n.DeliveredChannels)

	var scheduledFor any
	if !n.ScheduledFor.IsZero() {
		scheduledFor = n.ScheduledFor
	}

	_, err := r.db.Exec(`
		INSERT INTO notifications (id, user_id, artifact_id, type, title, message,
			related_user_id, related_comment_id, related_activity_id, read, priority,
			delivery_channels, delivered_channels, created_at, scheduled_for, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, nullableString(n.ArtifactID), string(n.Type), n.Title, n.Message,
		nullableString(n.RelatedUserID), nullableString(n.RelatedCommentID), nullableString(n.RelatedActivityID),
		string(n.Priority), channelsJSON, deliveredJSON, n.CreatedAt, scheduledFor, nullableJSON(n.Data))
	if err != nil {
		return fmt.Errorf("store: insert notification: %w", err)
	}
	return nil
}

// MarkRead implements notify.Store.
func (r *NotificationRepo) MarkRead(id, userID string, at time.Time) (bool, error) {
	res, err := r.db.Exec(`UPDATE notifications SET read = 1, read_at = ? WHERE id = ? AND user_id = ?`, at, id, userID)
	if err != nil {
		return false, fmt.Errorf("store: mark notification read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkAllRead implements notify.Store.
func (r *NotificationRepo) MarkAllRead(userID, artifactID string, at time.Time) (int, error) {
	query := `UPDATE notifications SET read = 1, read_at = ? WHERE user_id = ? AND read = 0`
	args := []any{at, userID}
	if artifactID != "" {
		query += " AND artifact_id = ?"
		args = append(args, artifactID)
	}
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: mark all notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// List implements notify.Store.
func (r *NotificationRepo) List(userID string, limit int, unreadOnly bool, artifactID string) ([]notify.Notification, error) {
	query := `
		SELECT id, user_id, COALESCE(artifact_id, ''), type, title, message,
			COALESCE(related_user_id, ''), COALESCE(related_comment_id, ''), COALESCE(related_activity_id, ''),
			read, read_at, priority, delivery_channels, delivered_channels, created_at, scheduled_for, data
		FROM notifications WHERE user_id = ?`
	args := []any{userID}
	if unreadOnly {
		query += " AND read = 0"
	}
	if artifactID != "" {
		query += " AND artifact_id = ?"
		args = append(args, artifactID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list notifications: %w", err)
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Counts implements notify.Store.
func (r *NotificationRepo) Counts(userID string) (notify.Counts, error) {
	var c notify.Counts
	row := r.db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE user_id = ?`, userID)
	if err := row.Scan(&c.Total); err != nil {
		return c, fmt.Errorf("store: count notifications: %w", err)
	}
	row = r.db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0`, userID)
	if err := row.Scan(&c.Unread); err != nil {
		return c, fmt.Errorf("store: count unread notifications: %w", err)
	}
	row = r.db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0 AND priority IN ('high', 'urgent')`, userID)
	if err := row.Scan(&c.Urgent); err != nil {
		return c, fmt.Errorf("store: count urgent notifications: %w", err)
	}
	return c, nil
}

// SetDeliveredChannels implements notify.Store.
func (r *NotificationRepo) SetDeliveredChannels(id string, channels []notify.Channel) error {
	data, _ := json.Marshal(channels)
	_, err := r.db.Exec(`UPDATE notifications SET delivered_channels = ? WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("store: set delivered channels: %w", err)
	}
	return nil
}

// Delete implements notify.Store.
func (r *NotificationRepo) Delete(id, userID string) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("store: delete notification: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanNotification(rows *sql.Rows) (notify.Notification, error) {
	var n notify.Notification
	var typ, priority string
	var readAt, scheduledFor sql.NullTime
	var channelsJSON, deliveredJSON, data []byte

	err := rows.Scan(&n.ID, &n.UserID, &n.ArtifactID, &typ, &n.Title, &n.Message,
		&n.RelatedUserID, &n.RelatedCommentID, &n.RelatedActivityID,
		&n.Read, &readAt, &priority, &channelsJSON, &deliveredJSON, &n.CreatedAt, &scheduledFor, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	if err != nil {
		return n, fmt.Errorf("store: scan notification: %w", err)
	}

	n.Type = notify.Type(typ)
	n.Priority = notify.Priority(priority)
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	if scheduledFor.Valid {
		n.ScheduledFor = scheduledFor.Time
	}
	_ = json.Unmarshal(channelsJSON, &n.DeliveryChannels)
	_ = json.Unmarshal(deliveredJSON, &n.DeliveredChannels)
	if len(data) > 0 {
		n.Data = data
	}
	return n, nil
}
