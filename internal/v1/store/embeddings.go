package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// ArtifactEmbedding is the persisted shape of spec.md §6's ArtifactEmbeddings
// entity, extended with a title/content snapshot so keyword search has
// something to match against without this module owning artifact authoring.
type ArtifactEmbedding struct {
	ArtifactID  string
	Title       string
	Content     string
	FileType    string
	Language    string
	Vector      []float32
	ModelName   string
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EmbeddingRepo persists per-artifact embeddings for search/related lookups.
// Vectors are stored as little-endian float32 BLOBs and scored with cosine
// similarity in Go, grounded on scalytics-KafClaw's SQLiteVecStore: at the
// scale this module targets (per-artifact, not per-chunk) a brute-force
// scan beats standing up a dedicated vector database.
type EmbeddingRepo struct {
	db *sql.DB
}

// Upsert stores or refreshes artifactID's embedding and content snapshot.
func (r *EmbeddingRepo) Upsert(ctx context.Context, e ArtifactEmbedding) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO artifact_embeddings (artifact_id, title, content, file_type, language,
			vector, model_name, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(artifact_id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			file_type = excluded.file_type,
			language = excluded.language,
			vector = excluded.vector,
			model_name = excluded.model_name,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at`,
		e.ArtifactID, e.Title, e.Content, nullableString(e.FileType), nullableString(e.Language),
		encodeFloat32s(e.Vector), e.ModelName, e.ContentHash, now, now)
	if err != nil {
		return fmt.Errorf("store: upsert embedding: %w", err)
	}
	return nil
}

// Get returns one artifact's embedding row.
func (r *EmbeddingRepo) Get(ctx context.Context, artifactID string) (ArtifactEmbedding, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT artifact_id, title, content, COALESCE(file_type, ''), COALESCE(language, ''),
			vector, model_name, content_hash, created_at, updated_at
		FROM artifact_embeddings WHERE artifact_id = ?`, artifactID)
	return scanEmbedding(row)
}

// All returns every stored embedding, for brute-force similarity scans.
func (r *EmbeddingRepo) All(ctx context.Context) ([]ArtifactEmbedding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT artifact_id, title, content, COALESCE(file_type, ''), COALESCE(language, ''),
			vector, model_name, content_hash, created_at, updated_at
		FROM artifact_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("store: list embeddings: %w", err)
	}
	defer rows.Close()

	var out []ArtifactEmbedding
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SearchKeyword returns embeddings whose title or content contains query
// (case-insensitive substring match), most recently updated first.
func (r *EmbeddingRepo) SearchKeyword(ctx context.Context, query string, limit int) ([]ArtifactEmbedding, error) {
	like := "%" + query + "%"
	q := `
		SELECT artifact_id, title, content, COALESCE(file_type, ''), COALESCE(language, ''),
			vector, model_name, content_hash, created_at, updated_at
		FROM artifact_embeddings
		WHERE title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\'
		ORDER BY updated_at DESC`
	args := []any{like, like}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: keyword search: %w", err)
	}
	defer rows.Close()

	var out []ArtifactEmbedding
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmbedding(row rowScanner) (ArtifactEmbedding, error) {
	var e ArtifactEmbedding
	var blob []byte
	if err := row.Scan(&e.ArtifactID, &e.Title, &e.Content, &e.FileType, &e.Language,
		&blob, &e.ModelName, &e.ContentHash, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return ArtifactEmbedding{}, ErrNotFound
		}
		return ArtifactEmbedding{}, fmt.Errorf("store: scan embedding: %w", err)
	}
	e.Vector = decodeFloat32s(blob)
	return e, nil
}

// encodeFloat32s converts a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s converts little-endian bytes back to a float32 slice.
func decodeFloat32s(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
