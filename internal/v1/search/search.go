// Package search implements spec.md §6's `POST /ml/search` and
// `POST /ml/related` over the artifact embeddings written by
// internal/v1/inference during classification. Grounded on
// scalytics-KafClaw's internal/memory.SQLiteVecStore: embeddings are
// scored by brute-force cosine similarity rather than a dedicated vector
// database, which is the right tradeoff at one row per artifact.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/artifactor-hq/collab-core/internal/v1/store"
)

// Type selects the search strategy for Search.
type Type string

const (
	TypeSemantic Type = "semantic"
	TypeKeyword  Type = "keyword"
	TypeHybrid   Type = "hybrid"
)

// DefaultLimit bounds result size when the caller leaves limit unset.
const DefaultLimit = 10

// Embedder produces a query embedding. Satisfied by inference.Classifier's
// Embed method; declared narrowly here so search does not depend on the
// inference package's worker-pool machinery.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is one scored hit, returned by both Search and Related.
type Result struct {
	ArtifactID string  `json:"artifact_id"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
	FileType   string  `json:"file_type,omitempty"`
	Language   string  `json:"language,omitempty"`
}

// Filters narrows a search to artifacts matching the given file type
// and/or language, applied after scoring.
type Filters struct {
	FileType string
	Language string
}

// Service answers search and related-artifact queries.
type Service struct {
	embeddings *store.EmbeddingRepo
	embedder   Embedder
}

// New constructs a Service. embedder may be nil; Search then silently
// degrades TypeSemantic and TypeHybrid queries to keyword-only results,
// matching inference.NullClassifier's graceful-degradation policy.
func New(embeddings *store.EmbeddingRepo, embedder Embedder) *Service {
	return &Service{embeddings: embeddings, embedder: embedder}
}

// Search answers a query using the requested strategy.
func (s *Service) Search(ctx context.Context, query string, typ Type, limit int, filters Filters) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	switch typ {
	case TypeKeyword:
		return s.keywordSearch(ctx, query, limit, filters)
	case TypeSemantic:
		if s.embedder == nil {
			return s.keywordSearch(ctx, query, limit, filters)
		}
		return s.semanticSearch(ctx, query, limit, filters)
	case TypeHybrid, "":
		if s.embedder == nil {
			return s.keywordSearch(ctx, query, limit, filters)
		}
		return s.hybridSearch(ctx, query, limit, filters)
	default:
		return nil, fmt.Errorf("search: unknown type %q", typ)
	}
}

// Related returns the artifacts whose embeddings are most similar to
// artifactID's, excluding itself.
func (s *Service) Related(ctx context.Context, artifactID string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	target, err := s.embeddings.Get(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("search: load target embedding: %w", err)
	}

	all, err := s.embeddings.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: load embeddings: %w", err)
	}

	var scored []Result
	for _, e := range all {
		if e.ArtifactID == artifactID {
			continue
		}
		scored = append(scored, Result{
			ArtifactID: e.ArtifactID,
			Title:      e.Title,
			FileType:   e.FileType,
			Language:   e.Language,
			Score:      cosineSimilarity(target.Vector, e.Vector),
		})
	}
	sortByScoreDesc(scored)
	return truncate(scored, limit), nil
}

func (s *Service) keywordSearch(ctx context.Context, query string, limit int, filters Filters) ([]Result, error) {
	rows, err := s.embeddings.SearchKeyword(ctx, query, 0)
	if err != nil {
		return nil, fmt.Errorf("search: keyword: %w", err)
	}

	var out []Result
	q := strings.ToLower(query)
	for _, e := range rows {
		if !matchesFilters(e, filters) {
			continue
		}
		out = append(out, Result{
			ArtifactID: e.ArtifactID,
			Title:      e.Title,
			FileType:   e.FileType,
			Language:   e.Language,
			Score:      keywordScore(q, e),
		})
	}
	sortByScoreDesc(out)
	return truncate(out, limit), nil
}

func (s *Service) semanticSearch(ctx context.Context, query string, limit int, filters Filters) ([]Result, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	all, err := s.embeddings.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: load embeddings: %w", err)
	}

	var out []Result
	for _, e := range all {
		if !matchesFilters(e, filters) {
			continue
		}
		out = append(out, Result{
			ArtifactID: e.ArtifactID,
			Title:      e.Title,
			FileType:   e.FileType,
			Language:   e.Language,
			Score:      cosineSimilarity(queryVec, e.Vector),
		})
	}
	sortByScoreDesc(out)
	return truncate(out, limit), nil
}

// hybridSearch blends keyword and semantic scores by artifact id, summing
// contributions so an artifact that wins on both signals ranks above one
// that wins on only one.
func (s *Service) hybridSearch(ctx context.Context, query string, limit int, filters Filters) ([]Result, error) {
	keyword, err := s.keywordSearch(ctx, query, 0, filters)
	if err != nil {
		return nil, err
	}
	semantic, err := s.semanticSearch(ctx, query, 0, filters)
	if err != nil {
		return nil, err
	}

	const keywordWeight, semanticWeight = 0.4, 0.6
	byID := make(map[string]*Result)
	for _, r := range keyword {
		r := r
		r.Score *= keywordWeight
		byID[r.ArtifactID] = &r
	}
	for _, r := range semantic {
		if existing, ok := byID[r.ArtifactID]; ok {
			existing.Score += r.Score * semanticWeight
			continue
		}
		r := r
		r.Score *= semanticWeight
		byID[r.ArtifactID] = &r
	}

	out := make([]Result, 0, len(byID))
	for _, r := range byID {
		out = append(out, *r)
	}
	sortByScoreDesc(out)
	return truncate(out, limit), nil
}

func matchesFilters(e store.ArtifactEmbedding, f Filters) bool {
	if f.FileType != "" && e.FileType != f.FileType {
		return false
	}
	if f.Language != "" && e.Language != f.Language {
		return false
	}
	return true
}

// keywordScore is 1.0 when query appears in the title, 0.5 when it only
// appears in content; SearchKeyword has already filtered to matches.
func keywordScore(query string, e store.ArtifactEmbedding) float64 {
	if strings.Contains(strings.ToLower(e.Title), query) {
		return 1.0
	}
	return 0.5
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

func sortByScoreDesc(r []Result) {
	sort.Slice(r, func(i, j int) bool { return r[i].Score > r[j].Score })
}

func truncate(r []Result, limit int) []Result {
	if limit > 0 && len(r) > limit {
		return r[:limit]
	}
	return r
}
