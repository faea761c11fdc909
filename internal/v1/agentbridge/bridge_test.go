package agentbridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeUnknownAgentReturnsErrorResultNotError(t *testing.T) {
	b := New(nil)
	res := b.Invoke(context.Background(), "NOPE", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown agent")
}

func TestInvokePyGUIDefaultTaskType(t *testing.T) {
	b := New(nil)
	res := b.Invoke(context.Background(), "PYGUI", map[string]any{})
	require.True(t, res.Success)
	assert.Equal(t, "completed", res.Result["status"])
}

func TestInvokePyGUIUnknownTaskTypeSurfacesAsErrorResult(t *testing.T) {
	b := New(nil)
	res := b.Invoke(context.Background(), "PYGUI", map[string]any{"task_type": "nonsense"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown PYGUI task type")
}

func TestInvokeDebuggerHealthCheck(t *testing.T) {
	b := New(nil)
	res := b.Invoke(context.Background(), "DEBUGGER", map[string]any{"task_type": "health_check"})
	require.True(t, res.Success)
	assert.Equal(t, "healthy", res.Result["status"])
}

func TestCoordinatorFansOutToListedAgents(t *testing.T) {
	b := New(nil)
	res := b.Invoke(context.Background(), "COORDINATOR", map[string]any{
		"task_type": "orchestrate",
		"agents":    []string{"PYGUI", "DEBUGGER"},
	})
	require.True(t, res.Success)
	results, ok := res.Result["results"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, results, "PYGUI")
	assert.Contains(t, results, "DEBUGGER")

	pyguiResult := results["PYGUI"].(Result)
	assert.True(t, pyguiResult.Success)
}

func TestCoordinatorRecursionCappedAtDepth4(t *testing.T) {
	b := New(nil)
	// A single COORDINATOR invocation whose agent list names itself
	// recurses synchronously within this one call tree; the depth guard
	// must trip before a stack overflow, not across separate Invoke calls.
	task := map[string]any{
		"task_type": "orchestrate",
		"agents":    []string{"COORDINATOR"},
	}

	top := b.Invoke(context.Background(), "COORDINATOR", task)
	require.True(t, top.Success)

	res := top
	var last Result
	for i := 0; i < maxCoordinatorDepth+2; i++ {
		results, ok := res.Result["results"].(map[string]any)
		if !ok {
			break
		}
		sub, ok := results["COORDINATOR"].(Result)
		if !ok {
			break
		}
		last = sub
		if !sub.Success {
			break
		}
		res = sub
	}

	assert.False(t, last.Success)
	assert.Contains(t, last.Error, "recursion depth exceeded")
}

func TestRegisterOverridesHandler(t *testing.T) {
	b := New(nil)
	b.Register("CUSTOM", func(ctx context.Context, taskData map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})
	res := b.Invoke(context.Background(), "CUSTOM", nil)
	require.True(t, res.Success)
	assert.Equal(t, true, res.Result["ok"])
}
