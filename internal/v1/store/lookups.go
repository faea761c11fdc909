package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UserRepo is a minimal identity cache: just enough to resolve a display
// name for notification rendering and to confirm a user id has been seen
// before. Full account/auth ownership lives outside this module's scope.
type UserRepo struct {
	db *sql.DB
}

// Touch records (or refreshes) a known user's display name. Call sites
// upsert on any authenticated action so DisplayName has something to
// return without this service owning account creation.
func (r *UserRepo) Touch(userID, displayName string) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO known_users (user_id, display_name, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			last_seen = excluded.last_seen`,
		userID, nullableString(displayName), now)
	if err != nil {
		return fmt.Errorf("store: touch user: %w", err)
	}
	return nil
}

// DisplayName implements notify.UserLookup.
func (r *UserRepo) DisplayName(userID string) (string, bool) {
	var name sql.NullString
	row := r.db.QueryRow(`SELECT display_name FROM known_users WHERE user_id = ?`, userID)
	if err := row.Scan(&name); err != nil {
		return "", false
	}
	if !name.Valid || name.String == "" {
		return "", false
	}
	return name.String, true
}

// Exists reports whether userID has ever been touched.
func (r *UserRepo) Exists(userID string) bool {
	var id string
	row := r.db.QueryRow(`SELECT user_id FROM known_users WHERE user_id = ?`, userID)
	return row.Scan(&id) == nil
}

// ArtifactRepo is a minimal presence/existence cache for artifact ids,
// filled by Touch. The Hub does not consult it: rooms are created for any
// artifact id.
type ArtifactRepo struct {
	db *sql.DB
}

// Touch records that artifactID is a live room, refreshing last_active.
func (r *ArtifactRepo) Touch(artifactID string) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO known_artifacts (artifact_id, last_active)
		VALUES (?, ?)
		ON CONFLICT(artifact_id) DO UPDATE SET last_active = excluded.last_active`,
		artifactID, now)
	if err != nil {
		return fmt.Errorf("store: touch artifact: %w", err)
	}
	return nil
}

// Exists reports whether artifactID has ever been touched.
func (r *ArtifactRepo) Exists(artifactID string) bool {
	var id string
	row := r.db.QueryRow(`SELECT artifact_id FROM known_artifacts WHERE artifact_id = ?`, artifactID)
	return row.Scan(&id) == nil
}
