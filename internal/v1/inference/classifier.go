package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Classifier is the external language/content-type/project-category/
// quality classifier spec.md §4.2 treats as an out-of-scope collaborator.
// The pipeline owns staging, caching, and coalescing around it; Classifier
// implementations own the model call.
type Classifier interface {
	Classify(ctx context.Context, content, title, description string) (Classification, error)
	Tags(ctx context.Context, content, title, description, fileType, language string, limit int) ([]Tag, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MessagesClient captures the subset of the Anthropic SDK used here,
// satisfied by *sdk.MessageService, so callers can substitute a fake in
// tests. Grounded on goadesign-goa-ai's anthropic adapter, which narrows
// the SDK the same way.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClassifier wraps the Anthropic Messages API as the production
// Classifier, per SPEC_FULL.md §4.2. It asks the model for a single JSON
// object per call and decodes it; embeddings are a deterministic hash of
// the input text (hashEmbedding) with no network round trip, since Claude's Messages API has no embeddings
// endpoint — spec.md §4.2 only requires embeddings be "deterministic for
// identical inputs up to backend version", which a content hash satisfies.
type AnthropicClassifier struct {
	msg   MessagesClient
	model string
}

// NewAnthropicClassifier builds a classifier from an API key and model id.
func NewAnthropicClassifier(apiKey, model string) (*AnthropicClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("inference: anthropic api key is required")
	}
	if model == "" {
		model = string(sdk.ModelClaudeSonnet4_5_20250929)
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClassifier{msg: &client.Messages, model: model}, nil
}

func (c *AnthropicClassifier) ask(ctx context.Context, prompt string) (string, error) {
	msg, err := c.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 1024,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("inference: anthropic messages.new: %w", err)
	}
	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// Classify implements Classifier.
func (c *AnthropicClassifier) Classify(ctx context.Context, content, title, description string) (Classification, error) {
	prompt := fmt.Sprintf(`Classify this artifact. Respond with ONLY a JSON object of the shape
{"language":{"label":"","confidence":0},"content_type":{"label":"","confidence":0},"project_category":{"label":"","confidence":0},"quality":{"label":"","confidence":0}}.
Title: %s
Description: %s
Content:
%s`, title, description, truncate(content, 4000))

	text, err := c.ask(ctx, prompt)
	if err != nil {
		return Classification{}, err
	}
	var out Classification
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
		return Classification{}, fmt.Errorf("inference: decode classification: %w", err)
	}
	return out, nil
}

// Tags implements Classifier.
func (c *AnthropicClassifier) Tags(ctx context.Context, content, title, description, fileType, language string, limit int) ([]Tag, error) {
	if limit <= 0 {
		limit = DefaultTagLimit
	}
	prompt := fmt.Sprintf(`Generate up to %d tags for this artifact. Respond with ONLY a JSON array of
{"label":"","confidence":0,"source":""} objects, where source is one of
technology/framework/concept/linguistic/complexity/domain.
Title: %s
File type: %s
Language: %s
Content:
%s`, limit, title, fileType, language, truncate(content, 4000))

	text, err := c.ask(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var out []Tag
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
		return nil, fmt.Errorf("inference: decode tags: %w", err)
	}
	return dedupeSimilarTags(out, limit), nil
}

// Embed implements Classifier. See the AnthropicClassifier doc comment for
// why this is a deterministic hash-derived vector rather than a model call.
func (c *AnthropicClassifier) Embed(ctx context.Context, text string) ([]float32, error) {
	return hashEmbedding(text), nil
}

// dedupeSimilarTags keeps the higher-scored tag whenever two tags share any
// word, per spec.md §4.2's tag-diversity rule, then caps at limit.
func dedupeSimilarTags(tags []Tag, limit int) []Tag {
	kept := make([]Tag, 0, len(tags))
	for _, t := range tags {
		words := wordSet(t.Label)
		similarIdx := -1
		for i, k := range kept {
			if wordSetsOverlap(words, wordSet(k.Label)) {
				similarIdx = i
				break
			}
		}
		if similarIdx < 0 {
			kept = append(kept, t)
		} else if t.Confidence > kept[similarIdx].Confidence {
			kept[similarIdx] = t
		}
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

func wordSet(label string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(label)) {
		set[w] = struct{}{}
	}
	return set
}

func wordSetsOverlap(a, b map[string]struct{}) bool {
	for w := range a {
		if _, ok := b[w]; ok {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// extractJSON trims any leading/trailing prose the model adds around the
// JSON payload we asked for.
func extractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	end := strings.LastIndexAny(s, "}]")
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// NullClassifier degrades gracefully per spec.md §7 when no API key is
// configured: every stage succeeds with an empty/neutral result rather
// than failing the pipeline.
type NullClassifier struct{}

// Classify implements Classifier.
func (NullClassifier) Classify(ctx context.Context, content, title, description string) (Classification, error) {
	return Classification{}, nil
}

// Tags implements Classifier.
func (NullClassifier) Tags(ctx context.Context, content, title, description, fileType, language string, limit int) ([]Tag, error) {
	return nil, nil
}

// Embed implements Classifier: returns nil, matching spec.md §4.2's "or
// null if the embeddings backend is unavailable".
func (NullClassifier) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}
