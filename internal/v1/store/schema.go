package store

// Schema is applied idempotently on Open via CREATE TABLE IF NOT EXISTS,
// matching the teacher corpus's own migration-free sqlite bootstrap
// (scalytics-KafClaw's timeline.Service). Tables mirror
// original_source/backend/models/collaboration.py's
// CollaborationComment/CollaborationActivity/UserPresence/
// CollaborationNotification, trimmed to the columns this module's
// services actually read or write (workspace/version/RBAC tables from the
// original are out of SPEC_FULL.md's scope).
const Schema = `
CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	artifact_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	parent_id TEXT,
	content TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'text',
	position_data TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	edited BOOLEAN NOT NULL DEFAULT 0,
	resolved BOOLEAN NOT NULL DEFAULT 0,
	resolved_by TEXT,
	resolved_at DATETIME,
	reactions TEXT NOT NULL DEFAULT '{}',
	mentions TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_comment_artifact_created ON comments(artifact_id, created_at);
CREATE INDEX IF NOT EXISTS idx_comment_parent ON comments(parent_id);

CREATE TABLE IF NOT EXISTS activities (
	id TEXT PRIMARY KEY,
	artifact_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	activity_type TEXT NOT NULL,
	activity_category TEXT NOT NULL DEFAULT 'general',
	description TEXT,
	data TEXT NOT NULL DEFAULT '{}',
	visibility TEXT NOT NULL DEFAULT 'public',
	related_comment_id TEXT,
	related_user_id TEXT,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_artifact_timestamp ON activities(artifact_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_activity_type_timestamp ON activities(activity_type, timestamp);

CREATE TABLE IF NOT EXISTS presence_records (
	user_id TEXT NOT NULL,
	artifact_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	activity TEXT,
	cursor_position TEXT,
	viewport TEXT,
	last_seen DATETIME NOT NULL,
	session_id TEXT,
	connection_info TEXT,
	PRIMARY KEY (user_id, artifact_id)
);
CREATE INDEX IF NOT EXISTS idx_presence_artifact_status ON presence_records(artifact_id, status);
CREATE INDEX IF NOT EXISTS idx_presence_last_seen ON presence_records(last_seen);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	artifact_id TEXT,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	related_user_id TEXT,
	related_comment_id TEXT,
	related_activity_id TEXT,
	read BOOLEAN NOT NULL DEFAULT 0,
	read_at DATETIME,
	priority TEXT NOT NULL DEFAULT 'normal',
	delivery_channels TEXT NOT NULL DEFAULT '[]',
	delivered_channels TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	scheduled_for DATETIME,
	data TEXT
);
CREATE INDEX IF NOT EXISTS idx_notification_user_created ON notifications(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_notification_user_read ON notifications(user_id, read);

CREATE TABLE IF NOT EXISTS known_users (
	user_id TEXT PRIMARY KEY,
	display_name TEXT,
	last_seen DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS known_artifacts (
	artifact_id TEXT PRIMARY KEY,
	last_active DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS artifact_embeddings (
	artifact_id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	file_type TEXT,
	language TEXT,
	vector BLOB NOT NULL,
	model_name TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_updated ON artifact_embeddings(updated_at);
`
