package inference

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/cache"
	"github.com/artifactor-hq/collab-core/internal/v1/logging"
	"github.com/artifactor-hq/collab-core/internal/v1/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// queueCapacities mirrors the Python original's asyncio.Queue maxsizes
// (100/200/500 for high/medium/low).
var queueCapacities = map[Priority]int{
	PriorityHigh:   100,
	PriorityMedium: 200,
	PriorityLow:    500,
}

// job is one in-flight pipeline submission, carrying the channel its
// caller (or coalesced callers) waits on for the Result.
type job struct {
	req      Request
	id       string
	resultCh chan Result
}

// Pipeline is the priority-scheduled, five-stage ML inference pipeline,
// per spec.md §4.2. Three buffered channels stand in for the Python
// original's three asyncio.Queues; one fixed worker pool serves all three
// lanes, each worker taking a waiting high job first, then a waiting
// medium job, and otherwise blocking until any lane has work.
type Pipeline struct {
	classifier Classifier
	cache      *cache.Cache
	collector  *metrics.Collector
	limiter    *rate.Limiter

	high   chan *job
	medium chan *job
	low    chan *job

	mu      sync.Mutex
	inFlight map[string][]chan Result

	workersPerLane int
	stopOnce       sync.Once
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// Config configures a Pipeline.
type Config struct {
	Classifier     Classifier
	Cache          *cache.Cache
	Collector      *metrics.Collector
	WorkersPerLane int
	RateLimit      rate.Limit
	RateBurst      int
}

// New constructs a Pipeline. A nil Classifier defaults to NullClassifier,
// matching spec.md §7's graceful-degradation requirement.
func New(cfg Config) *Pipeline {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = NullClassifier{}
	}
	workers := cfg.WorkersPerLane
	if workers <= 0 {
		workers = 2
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 50
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = int(limit)
	}

	return &Pipeline{
		classifier:     classifier,
		cache:          cfg.Cache,
		collector:      cfg.Collector,
		limiter:        rate.NewLimiter(limit, burst),
		high:           make(chan *job, queueCapacities[PriorityHigh]),
		medium:         make(chan *job, queueCapacities[PriorityMedium]),
		low:            make(chan *job, queueCapacities[PriorityLow]),
		inFlight:       make(map[string][]chan Result),
		workersPerLane: workers,
		stopCh:         make(chan struct{}),
	}
}

// Start launches the worker pool: WorkersPerLane workers in total, shared
// by all three lanes. Workers drain high before medium before low, per
// spec.md §4.2's priority scheduling.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.workersPerLane; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Stop signals every worker to exit and waits for them to return. Jobs
// still waiting in a lane are not run.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case j := <-p.high:
			p.run(ctx, j)
			continue
		default:
		}

		select {
		case j := <-p.medium:
			p.run(ctx, j)
			continue
		default:
		}

		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case j := <-p.high:
			p.run(ctx, j)
		case j := <-p.medium:
			p.run(ctx, j)
		case j := <-p.low:
			p.run(ctx, j)
		case <-time.After(time.Second):
		}
	}
}

// requestID is the stable hash of (content-prefix, title, description,
// file-type, language, user_id), per spec.md §4.2's coalescing rule.
func requestID(req Request) string {
	prefix := req.Content
	if len(prefix) > 1000 {
		prefix = prefix[:1000]
	}
	sum := md5.Sum([]byte(prefix + req.Title + req.Description + req.FileType + req.Language + req.UserID))
	return hex.EncodeToString(sum[:])
}

// Process submits req to the pipeline. A cache hit returns immediately
// regardless of priority. Otherwise priority=1 bypasses the queue entirely
// and runs inline on the calling goroutine, blocking until the result is
// ready; priority 2/3 are handed to a worker lane and the caller gets an
// immediate status=queued acknowledgement rather than waiting for a worker
// to pick the request up, per spec.md §4.2.
func (p *Pipeline) Process(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	id := requestID(req)

	if req.UseCache && p.cache != nil {
		if cached, ok := p.cache.Get(ctx, cacheKey(id)); ok {
			r, err := unmarshalResult(cached)
			if err == nil {
				r.CacheHit = true
				if p.collector != nil {
					p.collector.IncrementCounter("inference_cache_hits_total", 1, nil)
				}
				return r, nil
			}
		}
	}

	if req.Priority != PriorityMedium && req.Priority != PriorityLow {
		return p.processInline(ctx, req, id, start)
	}
	return p.processQueued(ctx, req, id)
}

// processInline runs req through every stage directly on the calling
// goroutine, bypassing the queue entirely. If an identical request submitted
// by someone else is already in flight, this caller attaches to it and waits
// for that computation instead of redoing the work.
func (p *Pipeline) processInline(ctx context.Context, req Request, id string, start time.Time) (Result, error) {
	resultCh := make(chan Result, 1)
	attached := p.attachOrRegister(id, resultCh)

	var r Result
	if attached {
		select {
		case r = <-resultCh:
		case <-ctx.Done():
			p.removeInFlight(id, resultCh)
			return Result{}, ctx.Err()
		}
	} else {
		r = p.process(ctx, req, id)
		p.broadcastResult(id, r)
	}

	r.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
	if req.UseCache && r.Success && p.cache != nil {
		if data, err := marshalResult(r); err == nil {
			p.cache.Set(ctx, cacheKey(id), data, Tier1TTL)
		}
	}
	if p.collector != nil {
		p.collector.IncrementCounter("inference_requests_processed_total", 1, nil)
		p.collector.RecordTimer("inference_processing_time", time.Since(start), nil)
	}
	return r, nil
}

// processQueued enqueues req onto its priority lane and returns a
// status=queued acknowledgement the instant the enqueue succeeds, without
// waiting for a worker to process it. The eventual result is still delivered
// to any in-flight waiters (e.g. a later priority=1 request for the same
// content) via broadcastResult.
func (p *Pipeline) processQueued(ctx context.Context, req Request, id string) (Result, error) {
	resultCh := make(chan Result, 1)
	attached := p.attachOrRegister(id, resultCh)

	if attached {
		// Someone else's request for the same content is already in flight;
		// this caller still gets an immediate queued ack rather than waiting
		// on their result.
		return Result{RequestID: id, Success: true, Status: StatusQueued}, nil
	}

	j := &job{req: req, id: id, resultCh: resultCh}
	if err := p.enqueue(ctx, j); err != nil {
		p.removeInFlight(id, resultCh)
		return Result{}, err
	}

	if p.collector != nil {
		p.collector.IncrementCounter("inference_requests_queued_total", 1, nil)
	}
	return Result{RequestID: id, Success: true, Status: StatusQueued}, nil
}

func cacheKey(id string) string { return "inference:result:" + id }

// attachOrRegister records resultCh as a waiter for id. It returns true if
// another caller's computation for the same id is already in flight (the
// "SHOULD attach the newcomer" coalescing suggestion from spec.md §4.2),
// false if this caller must enqueue the work itself.
func (p *Pipeline) attachOrRegister(id string, resultCh chan Result) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	waiters, inFlight := p.inFlight[id]
	p.inFlight[id] = append(waiters, resultCh)
	return inFlight
}

func (p *Pipeline) removeInFlight(id string, resultCh chan Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	waiters := p.inFlight[id]
	for i, w := range waiters {
		if w == resultCh {
			p.inFlight[id] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
}

func (p *Pipeline) broadcastResult(id string, r Result) {
	p.mu.Lock()
	waiters := p.inFlight[id]
	delete(p.inFlight, id)
	p.mu.Unlock()

	for _, w := range waiters {
		w <- r
	}
}

func (p *Pipeline) enqueue(ctx context.Context, j *job) error {
	var lane chan *job
	switch j.req.Priority {
	case PriorityMedium:
		lane = p.medium
	case PriorityLow:
		lane = p.low
	default:
		lane = p.high
	}
	select {
	case lane <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) run(ctx context.Context, j *job) {
	if err := p.limiter.Wait(ctx); err != nil {
		p.broadcastResult(j.id, Result{RequestID: j.id, Success: false, Error: err.Error()})
		return
	}
	r := p.process(ctx, j.req, j.id)
	p.broadcastResult(j.id, r)
}

type stageData struct {
	cleanedContent string
	fullText       string
	stats          map[string]any
	classification Classification
	tags           []Tag
	embeddings     []float32
}

// process runs the five ordered stages, per spec.md §4.2. A stage failure
// terminates the request; StagesCompleted lists only the stages that did
// complete, and the pipeline does not retry.
func (p *Pipeline) process(ctx context.Context, req Request, id string) Result {
	var sd stageData
	var completed []Stage

	timed := func(stage Stage, fn func() error) error {
		var handle *metrics.TimerHandle
		if p.collector != nil {
			handle = p.collector.TimerScope(fmt.Sprintf("inference_stage_%s", stage), nil)
		}
		err := fn()
		if handle != nil {
			handle.Stop()
		}
		if err != nil {
			return err
		}
		completed = append(completed, stage)
		return nil
	}

	if err := timed(StagePreprocess, func() error {
		sd.cleanedContent = trimSpace(req.Content)
		sd.stats = map[string]any{
			"character_count": len(sd.cleanedContent),
			"word_count":      len(splitFields(sd.cleanedContent)),
		}
		sd.fullText = trimSpace(req.Title + " " + req.Description + " " + sd.cleanedContent)
		return nil
	}); err != nil {
		return failed(id, err, completed)
	}

	if err := timed(StageClassify, func() error {
		c, err := p.classifier.Classify(ctx, req.Content, req.Title, req.Description)
		if err != nil {
			logging.Error(ctx, "inference: classify stage failed", zap.String("request_id", id), zap.Error(err))
			return err
		}
		sd.classification = c
		return nil
	}); err != nil {
		return failed(id, err, completed)
	}

	if err := timed(StageTag, func() error {
		tags, err := p.classifier.Tags(ctx, req.Content, req.Title, req.Description, req.FileType, req.Language, DefaultTagLimit)
		if err != nil {
			logging.Error(ctx, "inference: tag stage failed", zap.String("request_id", id), zap.Error(err))
			return err
		}
		sd.tags = tags
		return nil
	}); err != nil {
		return failed(id, err, completed)
	}

	if err := timed(StageEmbed, func() error {
		vec, err := p.classifier.Embed(ctx, sd.fullText)
		if err != nil {
			logging.Error(ctx, "inference: embed stage failed", zap.String("request_id", id), zap.Error(err))
			return err
		}
		sd.embeddings = vec
		return nil
	}); err != nil {
		return failed(id, err, completed)
	}

	var metadata map[string]any
	if err := timed(StagePostprocess, func() error {
		metadata = map[string]any{
			"content_stats":  sd.stats,
			"has_embeddings": sd.embeddings != nil,
			"tag_count":      len(sd.tags),
		}
		return nil
	}); err != nil {
		return failed(id, err, completed)
	}

	return Result{
		RequestID:       id,
		Success:         true,
		Status:          StatusCompleted,
		Classification:  &sd.classification,
		Tags:            sd.tags,
		Embeddings:      sd.embeddings,
		Metadata:        metadata,
		StagesCompleted: completed,
	}
}

func failed(id string, err error, completed []Stage) Result {
	return Result{RequestID: id, Success: false, Status: StatusCompleted, Error: err.Error(), StagesCompleted: completed}
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

func splitFields(s string) []string {
	var out []string
	var cur []byte
	for i := 0; i < len(s); i++ {
		if isSpace(s[i]) {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, s[i])
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

// GenerateTags runs only the tagging stage, for callers (spec.md §6's
// `POST /ml/tags/generate`) that want tags without a full classify/embed
// pass. It still goes through the rate limiter since it calls the same
// external classifier backend.
func (p *Pipeline) GenerateTags(ctx context.Context, req Request, limit int) ([]Tag, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTagLimit
	}
	return p.classifier.Tags(ctx, req.Content, req.Title, req.Description, req.FileType, req.Language, limit)
}

// AnalyzeProject runs only the classification stage, for spec.md §6's
// `POST /ml/projects/analyze`.
func (p *Pipeline) AnalyzeProject(ctx context.Context, req Request) (Classification, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Classification{}, err
	}
	return p.classifier.Classify(ctx, req.Content, req.Title, req.Description)
}

// Embed produces a text embedding through the rate-limited classifier,
// satisfying internal/v1/search's Embedder interface for query embedding.
func (p *Pipeline) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.classifier.Embed(ctx, text)
}

// BatchProcess processes requests concurrently bounded by a semaphore of
// size maxConcurrent, per spec.md §4.2's batch support and the Testable
// Properties' "exactly that many concurrent in-flight stage executions"
// requirement.
func (p *Pipeline) BatchProcess(ctx context.Context, requests []Request, maxConcurrent int) []Result {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	sem := make(chan struct{}, maxConcurrent)
	if p.collector != nil {
		p.collector.SetGauge("inference_batch_concurrency_cap", float64(maxConcurrent), nil)
	}

	results := make([]Result, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if p.collector != nil {
				p.collector.IncrementCounter("inference_batch_inflight", 1, nil)
				defer p.collector.IncrementCounter("inference_batch_inflight", -1, nil)
			}
			r, err := p.Process(ctx, req)
			if err != nil {
				r = Result{RequestID: requestID(req), Success: false, Error: err.Error()}
			}
			results[i] = r
		}(i, req)
	}
	wg.Wait()
	return results
}
