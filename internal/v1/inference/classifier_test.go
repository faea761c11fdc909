package inference_test

import (
	"context"
	"testing"

	"github.com/artifactor-hq/collab-core/internal/v1/inference"
	"github.com/stretchr/testify/require"
)

func TestAnthropicClassifierEmbedIsDeterministic(t *testing.T) {
	c, err := inference.NewAnthropicClassifier("test-key", "")
	require.NoError(t, err)

	v1, err := c.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	v2, err := c.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Len(t, v1, inference.EmbeddingDimension)

	v3, err := c.Embed(context.Background(), "a different string entirely")
	require.NoError(t, err)
	require.NotEqual(t, v1, v3)
}

func TestNewAnthropicClassifierRequiresAPIKey(t *testing.T) {
	_, err := inference.NewAnthropicClassifier("", "")
	require.Error(t, err)
}

func TestNullClassifierReturnsNilEmbeddingAndNoTags(t *testing.T) {
	nc := inference.NullClassifier{}
	ctx := context.Background()

	c, err := nc.Classify(ctx, "x", "", "")
	require.NoError(t, err)
	require.Zero(t, c.Language.Confidence)

	tags, err := nc.Tags(ctx, "x", "", "", "", "", 10)
	require.NoError(t, err)
	require.Nil(t, tags)

	vec, err := nc.Embed(ctx, "x")
	require.NoError(t, err)
	require.Nil(t, vec)
}
