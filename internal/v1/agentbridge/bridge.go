// Package agentbridge routes named tasks to registered in-process
// handlers. Grounded on
// original_source/backend/services/agent_bridge.py's
// AgentCoordinationBridge: a fixed agent_map dispatch table
// (PYGUI/PYTHON_INTERNAL/DEBUGGER/COORDINATOR), per-invocation timing, and
// a `{error, agent}` failure envelope that never propagates as a Go error
// to the caller.
package agentbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/logging"
	"github.com/artifactor-hq/collab-core/internal/v1/metrics"
	"go.uber.org/zap"
)

// maxCoordinatorDepth resolves SPEC_FULL.md §4.6's Open Question: COORDINATOR
// recursion is capped at 4 levels deep.
const maxCoordinatorDepth = 4

type depthKey struct{}

func depthFromContext(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

func withDepth(ctx context.Context, d int) context.Context {
	return context.WithValue(ctx, depthKey{}, d)
}

// Handler processes one task for a named agent.
type Handler func(ctx context.Context, taskData map[string]any) (map[string]any, error)

// Result is the envelope returned by Invoke. On failure, Error is set and
// Result is nil; ExecutionTime holds the handler's elapsed time, and is zero
// only for an unknown agent name. Invoke itself never returns a Go error.
type Result struct {
	Success       bool           `json:"success"`
	Result        map[string]any `json:"result,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Agent         string         `json:"agent"`
	Error         string         `json:"error,omitempty"`
}

// Bridge dispatches named tasks to registered handlers.
type Bridge struct {
	handlers  map[string]Handler
	collector *metrics.Collector
}

// New constructs a Bridge with the four built-in agents registered.
// collector may be nil; timing is then skipped.
func New(collector *metrics.Collector) *Bridge {
	b := &Bridge{
		handlers:  make(map[string]Handler),
		collector: collector,
	}
	b.Register("PYGUI", b.invokePyGUI)
	b.Register("PYTHON_INTERNAL", b.invokePythonInternal)
	b.Register("DEBUGGER", b.invokeDebugger)
	b.Register("COORDINATOR", b.invokeCoordinator)
	return b
}

// Register adds or replaces the handler for agentName.
func (b *Bridge) Register(agentName string, h Handler) {
	b.handlers[agentName] = h
}

// Invoke dispatches to the named agent's handler. Unknown agent names and
// handler errors are both surfaced as a Result with Error set, never as a
// Go error — matching the Python original's "the bridge itself never
// raises" contract.
func (b *Bridge) Invoke(ctx context.Context, agentName string, taskData map[string]any) Result {
	start := time.Now()
	handler, ok := b.handlers[agentName]
	if !ok {
		logging.Warn(ctx, "agentbridge: unknown agent", zap.String("agent", agentName))
		return Result{Agent: agentName, Error: fmt.Sprintf("unknown agent: %s", agentName)}
	}

	result, err := handler(ctx, taskData)
	elapsed := time.Since(start)

	if b.collector != nil {
		b.collector.RecordTimer("agentbridge.invoke", elapsed, map[string]string{"agent": agentName})
		b.collector.IncrementCounter("agentbridge.invocations", 1, map[string]string{"agent": agentName})
	}

	if err != nil {
		logging.Error(ctx, "agentbridge: handler failed", zap.String("agent", agentName), zap.Error(err))
		return Result{Agent: agentName, ExecutionTime: elapsed, Error: err.Error()}
	}

	return Result{Success: true, Result: result, ExecutionTime: elapsed, Agent: agentName}
}

func (b *Bridge) invokePyGUI(ctx context.Context, taskData map[string]any) (map[string]any, error) {
	taskType, _ := taskData["task_type"].(string)
	switch taskType {
	case "", "ui_operation":
		return map[string]any{
			"status":   "completed",
			"ui_state": "rendered",
			"progress": 100,
			"message":  "UI operation completed successfully",
		}, nil
	case "progress_update":
		progress := taskData["progress"]
		return map[string]any{
			"status":   "updated",
			"progress": progress,
			"message":  fmt.Sprintf("Progress updated to %v%%", progress),
		}, nil
	default:
		return nil, fmt.Errorf("unknown PYGUI task type: %s", taskType)
	}
}

func (b *Bridge) invokePythonInternal(ctx context.Context, taskData map[string]any) (map[string]any, error) {
	taskType, _ := taskData["task_type"].(string)
	switch taskType {
	case "", "environment_check":
		return map[string]any{
			"status": "healthy",
		}, nil
	case "dependency_check":
		return map[string]any{
			"status":       "validated",
			"dependencies": []string{"gin", "gorilla/websocket", "redis"},
			"missing":      []string{},
		}, nil
	default:
		return nil, fmt.Errorf("unknown PYTHON_INTERNAL task type: %s", taskType)
	}
}

func (b *Bridge) invokeDebugger(ctx context.Context, taskData map[string]any) (map[string]any, error) {
	taskType, _ := taskData["task_type"].(string)
	switch taskType {
	case "", "health_check":
		return map[string]any{
			"status":         "healthy",
			"system_health":  "optimal",
		}, nil
	case "validation":
		return map[string]any{
			"status":              "validated",
			"validation_results":  map[string]any{"passed": true, "errors": []string{}},
		}, nil
	default:
		return nil, fmt.Errorf("unknown DEBUGGER task type: %s", taskType)
	}
}

// invokeCoordinator fans a list of agent names (task_data["agents"]) out to
// Invoke, aggregating results. Recursion depth is tracked in the context
// and capped at maxCoordinatorDepth; deeper recursion returns an error
// result rather than recursing further.
func (b *Bridge) invokeCoordinator(ctx context.Context, taskData map[string]any) (map[string]any, error) {
	depth := depthFromContext(ctx)
	if depth >= maxCoordinatorDepth {
		return nil, fmt.Errorf("COORDINATOR recursion depth exceeded (max %d)", maxCoordinatorDepth)
	}

	taskType, _ := taskData["task_type"].(string)
	if taskType != "" && taskType != "orchestrate" {
		return nil, fmt.Errorf("unknown COORDINATOR task type: %s", taskType)
	}

	agentNames, _ := taskData["agents"].([]string)
	nextCtx := withDepth(ctx, depth+1)

	results := make(map[string]any, len(agentNames))
	for _, agent := range agentNames {
		results[agent] = b.Invoke(nextCtx, agent, taskData)
	}

	return map[string]any{
		"status":  "coordinated",
		"results": results,
	}, nil
}
