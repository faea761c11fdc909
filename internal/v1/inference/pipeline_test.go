package inference_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/cache"
	"github.com/artifactor-hq/collab-core/internal/v1/inference"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	calls int32
	delay time.Duration
}

func (f *fakeClassifier) Classify(ctx context.Context, content, title, description string) (inference.Classification, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return inference.Classification{
		Language: inference.Prediction{Label: "go", Confidence: 0.9},
	}, nil
}

func (f *fakeClassifier) Tags(ctx context.Context, content, title, description, fileType, language string, limit int) ([]inference.Tag, error) {
	return []inference.Tag{
		{Label: "web server", Confidence: 0.8, Source: "technology"},
		{Label: "web framework", Confidence: 0.6, Source: "framework"},
		{Label: "testing", Confidence: 0.5, Source: "concept"},
	}, nil
}

func (f *fakeClassifier) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, inference.EmbeddingDimension), nil
}

func newTestPipeline(t *testing.T, classifier inference.Classifier) *inference.Pipeline {
	t.Helper()
	c := cache.New(1<<20, time.Hour, 24*time.Hour, nil)
	p := inference.New(inference.Config{
		Classifier:     classifier,
		Cache:          c,
		WorkersPerLane: 2,
		RateLimit:      1000,
		RateBurst:      1000,
	})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		p.Stop()
	})
	return p
}

func TestProcessCompletesAllFiveStages(t *testing.T) {
	p := newTestPipeline(t, &fakeClassifier{})
	r, err := p.Process(context.Background(), inference.Request{
		Content: "package main\n\nfunc main() {}", Title: "main.go", UseCache: true,
	})
	require.NoError(t, err)
	require.True(t, r.Success)
	require.Len(t, r.StagesCompleted, 5)
	require.Equal(t, inference.Stages, r.StagesCompleted)
	require.NotNil(t, r.Classification)
	require.NotEmpty(t, r.Embeddings)
}

func TestProcessCacheHitSkipsSecondClassifierCall(t *testing.T) {
	fc := &fakeClassifier{}
	p := newTestPipeline(t, fc)
	req := inference.Request{Content: "identical content", UseCache: true}

	r1, err := p.Process(context.Background(), req)
	require.NoError(t, err)
	require.False(t, r1.CacheHit)

	r2, err := p.Process(context.Background(), req)
	require.NoError(t, err)
	require.True(t, r2.CacheHit)
	require.EqualValues(t, 1, atomic.LoadInt32(&fc.calls))
}

func TestProcessDistinctRequestsGetDistinctIDs(t *testing.T) {
	p := newTestPipeline(t, &fakeClassifier{})
	r1, err := p.Process(context.Background(), inference.Request{Content: "a"})
	require.NoError(t, err)
	r2, err := p.Process(context.Background(), inference.Request{Content: "b"})
	require.NoError(t, err)
	require.NotEqual(t, r1.RequestID, r2.RequestID)
}

func TestProcessCoalescesConcurrentDuplicates(t *testing.T) {
	fc := &fakeClassifier{delay: 50 * time.Millisecond}
	p := newTestPipeline(t, fc)
	req := inference.Request{Content: "coalesce me", UseCache: false}

	results := make(chan inference.Result, 5)
	for i := 0; i < 5; i++ {
		go func() {
			r, err := p.Process(context.Background(), req)
			require.NoError(t, err)
			results <- r
		}()
	}
	for i := 0; i < 5; i++ {
		<-results
	}
	require.LessOrEqual(t, int(atomic.LoadInt32(&fc.calls)), 2)
}

func TestNullClassifierDegradesGracefully(t *testing.T) {
	p := newTestPipeline(t, inference.NullClassifier{})
	r, err := p.Process(context.Background(), inference.Request{Content: "anything"})
	require.NoError(t, err)
	require.True(t, r.Success)
	require.Nil(t, r.Embeddings)
	require.Empty(t, r.Tags)
}

func TestBatchProcessReturnsSuccessfulResultPerRequest(t *testing.T) {
	p := newTestPipeline(t, &fakeClassifier{delay: 10 * time.Millisecond})
	requests := make([]inference.Request, 8)
	for i := range requests {
		requests[i] = inference.Request{Content: "batch item", UserID: string(rune('a' + i))}
	}
	results := p.BatchProcess(context.Background(), requests, 3)
	require.Len(t, results, 8)
	for _, r := range results {
		require.True(t, r.Success)
	}
}

func TestGenerateTagsBypassesQueue(t *testing.T) {
	p := newTestPipeline(t, &fakeClassifier{})
	tags, err := p.GenerateTags(context.Background(), inference.Request{Content: "x"}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, tags)
}

func TestAnalyzeProjectReturnsClassificationOnly(t *testing.T) {
	p := newTestPipeline(t, &fakeClassifier{})
	c, err := p.AnalyzeProject(context.Background(), inference.Request{Content: "x"})
	require.NoError(t, err)
	require.Equal(t, "go", c.Language.Label)
}

func TestEmbedReturnsVector(t *testing.T) {
	p := newTestPipeline(t, &fakeClassifier{})
	vec, err := p.Embed(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, vec, inference.EmbeddingDimension)
}

func TestHighPriorityProcessesInlineAndCompletes(t *testing.T) {
	p := newTestPipeline(t, &fakeClassifier{})
	high, err := p.Process(context.Background(), inference.Request{Content: "urgent", Priority: inference.PriorityHigh})
	require.NoError(t, err)
	require.True(t, high.Success)
	require.Equal(t, inference.StatusCompleted, high.Status)
	require.Len(t, high.StagesCompleted, 5)
}

func TestMediumAndLowPriorityReturnImmediateQueuedAck(t *testing.T) {
	p := newTestPipeline(t, &fakeClassifier{delay: 50 * time.Millisecond})

	start := time.Now()
	medium, err := p.Process(context.Background(), inference.Request{Content: "background medium", Priority: inference.PriorityMedium})
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.True(t, medium.Success)
	require.Equal(t, inference.StatusQueued, medium.Status)
	require.Empty(t, medium.StagesCompleted)
	require.Less(t, elapsed, 50*time.Millisecond, "queued ack must return before a worker picks the job up")

	low, err := p.Process(context.Background(), inference.Request{Content: "background low", Priority: inference.PriorityLow})
	require.NoError(t, err)
	require.True(t, low.Success)
	require.Equal(t, inference.StatusQueued, low.Status)
}

func TestLowPriorityQueueDoesNotBlockHighPriority(t *testing.T) {
	p := newTestPipeline(t, &fakeClassifier{delay: 50 * time.Millisecond})

	for i := 0; i < 5; i++ {
		_, err := p.Process(context.Background(), inference.Request{Content: "filler", Priority: inference.PriorityLow, UserID: string(rune('a' + i))})
		require.NoError(t, err)
	}

	start := time.Now()
	high, err := p.Process(context.Background(), inference.Request{Content: "urgent", Priority: inference.PriorityHigh})
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.True(t, high.Success)
	require.Less(t, elapsed, 200*time.Millisecond, "a queued low-priority backlog must not delay an inline high-priority request")
}
