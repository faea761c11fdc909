package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/artifactor-hq/collab-core/internal/v1/inference"
	"github.com/artifactor-hq/collab-core/internal/v1/search"
	"github.com/gin-gonic/gin"
)

// InferencePipeline is the subset of inference.Pipeline the HTTP surface
// needs.
type InferencePipeline interface {
	Process(ctx context.Context, req inference.Request) (inference.Result, error)
	BatchProcess(ctx context.Context, requests []inference.Request, maxConcurrent int) []inference.Result
	GenerateTags(ctx context.Context, req inference.Request, limit int) ([]inference.Tag, error)
	AnalyzeProject(ctx context.Context, req inference.Request) (inference.Classification, error)
}

// SearchService is the subset of search.Service the HTTP surface needs.
type SearchService interface {
	Search(ctx context.Context, query string, typ search.Type, limit int, filters search.Filters) ([]search.Result, error)
	Related(ctx context.Context, artifactID string, limit int) ([]search.Result, error)
}

// InferenceHandler serves spec.md §6's ml/* routes.
type InferenceHandler struct {
	Pipeline InferencePipeline
	Search   SearchService
}

func decodeBody(c *gin.Context, v any) bool {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "request.bad_body", "could not read request body")
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		badRequest(c, "request.bad_body", "malformed JSON body")
		return false
	}
	return true
}

// Classify handles POST /ml/classify.
func (h *InferenceHandler) Classify(c *gin.Context) {
	var req inference.Request
	if !decodeBody(c, &req) {
		return
	}
	req.UserID = userID(c)

	result, err := h.Pipeline.Process(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type batchClassifyRequest struct {
	Requests      []inference.Request `json:"requests"`
	MaxConcurrent int                  `json:"max_concurrent"`
}

// ClassifyBatch handles POST /ml/classify/batch.
func (h *InferenceHandler) ClassifyBatch(c *gin.Context) {
	var req batchClassifyRequest
	if !decodeBody(c, &req) {
		return
	}
	if len(req.Requests) == 0 {
		badRequest(c, "classify_batch.empty", "requests must be a non-empty array")
		return
	}

	results := h.Pipeline.BatchProcess(c.Request.Context(), req.Requests, req.MaxConcurrent)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type tagsGenerateRequest struct {
	inference.Request
	Limit int `json:"limit"`
}

// TagsGenerate handles POST /ml/tags/generate.
func (h *InferenceHandler) TagsGenerate(c *gin.Context) {
	var req tagsGenerateRequest
	if !decodeBody(c, &req) {
		return
	}

	tags, err := h.Pipeline.GenerateTags(c.Request.Context(), req.Request, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

// ProjectsAnalyze handles POST /ml/projects/analyze.
func (h *InferenceHandler) ProjectsAnalyze(c *gin.Context) {
	var req inference.Request
	if !decodeBody(c, &req) {
		return
	}

	classification, err := h.Pipeline.AnalyzeProject(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, classification)
}

type searchRequest struct {
	Query   string            `json:"query"`
	Type    search.Type       `json:"type"`
	Limit   int               `json:"limit"`
	Filters map[string]string `json:"filters"`
}

// Search handles POST /ml/search.
func (h *InferenceHandler) Search(c *gin.Context) {
	var req searchRequest
	if !decodeBody(c, &req) {
		return
	}
	if req.Query == "" {
		badRequest(c, "search.empty_query", "query is required")
		return
	}

	filters := search.Filters{FileType: req.Filters["file_type"], Language: req.Filters["language"]}
	results, err := h.Search.Search(c.Request.Context(), req.Query, req.Type, req.Limit, filters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type relatedRequest struct {
	ArtifactID string `json:"artifact_id"`
	Limit      int    `json:"limit"`
}

// Related handles POST /ml/related.
func (h *InferenceHandler) Related(c *gin.Context) {
	var req relatedRequest
	if !decodeBody(c, &req) {
		return
	}
	if req.ArtifactID == "" {
		badRequest(c, "related.missing_artifact_id", "artifact_id is required")
		return
	}

	results, err := h.Search.Related(c.Request.Context(), req.ArtifactID, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
