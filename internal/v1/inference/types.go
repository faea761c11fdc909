// Package inference runs artifact content through a priority-scheduled,
// five-stage ML pipeline (Preprocess, Classify, Tag, Embed, Postprocess),
// with request coalescing, a two-tier cache, and throughput limiting.
// Grounded on original_source/backend/services/ml_pipeline.py's
// MLInferencePipeline (three asyncio.Queue priority lanes, worker loop,
// stage timing, cache-then-compute).
package inference

import (
	"encoding/json"
	"time"
)

// Priority mirrors the Python original's 1=high/2=medium/3=low scheme.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

// Stage names an ordered pipeline step, per spec.md §4.2.
type Stage string

const (
	StagePreprocess  Stage = "preprocess"
	StageClassify    Stage = "classify"
	StageTag         Stage = "tag"
	StageEmbed       Stage = "embed"
	StagePostprocess Stage = "postprocess"
)

// Stages lists every stage in pipeline order; a fully successful Result
// has StagesCompleted equal to it.
var Stages = []Stage{StagePreprocess, StageClassify, StageTag, StageEmbed, StagePostprocess}

// Request is one submission to the pipeline.
type Request struct {
	Content     string
	Title       string
	Description string
	FileType    string
	Language    string
	UserID      string
	Priority    Priority
	UseCache    bool
}

// Prediction is one classifier's labeled guess, per spec.md §4.2's
// "top label, confidence, optional top-K alternatives".
type Prediction struct {
	Label        string             `json:"label"`
	Confidence   float64            `json:"confidence"`
	Alternatives []LabelConfidence  `json:"alternatives,omitempty"`
}

// LabelConfidence is one alternative label/confidence pair.
type LabelConfidence struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classification bundles every sub-classifier's prediction.
type Classification struct {
	Language        Prediction `json:"language"`
	ContentType     Prediction `json:"content_type"`
	ProjectCategory Prediction `json:"project_category"`
	Quality         Prediction `json:"quality"`
}

// Tag is one generated tag, per spec.md §4.2's tag-source taxonomy.
type Tag struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Result status values. StatusQueued marks the immediate acknowledgement
// priority 2/3 requests get on submission, per spec.md §4.2; StatusCompleted
// marks a result that actually ran through the pipeline (inline or by a
// worker), whether or not it succeeded.
const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
)

// Result is the transient, cacheable product of one Process call, per
// spec.md §3's "Inference result" entity.
type Result struct {
	RequestID        string          `json:"request_id"`
	Success          bool            `json:"success"`
	Status           string          `json:"status,omitempty"`
	Classification   *Classification `json:"classification,omitempty"`
	Tags             []Tag           `json:"tags,omitempty"`
	Embeddings       []float32       `json:"embeddings,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	Error            string          `json:"error,omitempty"`
	ProcessingTimeMS float64         `json:"processing_time_ms"`
	CacheHit         bool            `json:"cache_hit"`
	StagesCompleted  []Stage         `json:"stages_completed"`
}

func marshalResult(r Result) (json.RawMessage, error) { return json.Marshal(r) }

func unmarshalResult(data json.RawMessage) (Result, error) {
	var r Result
	err := json.Unmarshal(data, &r)
	return r, err
}

// EmbeddingDimension is the fixed embedding vector length, per spec.md
// §4.2's "fixed-dimension (e.g. 384)".
const EmbeddingDimension = 384

// DefaultTagLimit is the default max tags per request, per spec.md §4.2.
const DefaultTagLimit = 10

// Tier1TTL/Tier2TTL are the cache policy's two tiers, per spec.md §4.2's
// "cached for up to 1 hour in-process and 24 hours in shared KV".
const (
	Tier1TTL = time.Hour
	Tier2TTL = 24 * time.Hour
)
