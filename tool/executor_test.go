package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agencykit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() Tool {
	return NewFunctionTool(
		"echo",
		"Echo the input back",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(_ *Context, args map[string]any) (any, error) {
			return args["text"].(string), nil
		},
	)
}

func TestExecutor_Execute(t *testing.T) {
	e := NewExecutor([]Tool{echoTool()})
	tc := NewContext(context.Background(), "c1", "tester", core.NewSharedState(), nil)

	msg, err := e.Execute(tc, core.ToolCall{ID: "c1", Name: "echo", Arguments: `{"text":"hi"}`})
	require.NoError(t, err)
	assert.Equal(t, core.RoleTool, msg.Role)
	assert.Equal(t, "c1", msg.ToolCallID)
	assert.Equal(t, "hi", msg.Text)
	assert.False(t, msg.IsError)
}

func TestExecutor_ValidationFailureIsRecoverable(t *testing.T) {
	e := NewExecutor([]Tool{echoTool()})
	tc := NewContext(context.Background(), "c2", "tester", core.NewSharedState(), nil)

	// Missing required field: the executor must surface a tool-result
	// describing the failure, never a fatal error.
	msg, err := e.Execute(tc, core.ToolCall{ID: "c2", Name: "echo", Arguments: `{}`})
	require.NoError(t, err)
	assert.True(t, msg.IsError)
	assert.Contains(t, msg.Text, "parameter validation failed")
	assert.Contains(t, msg.Text, CodeValidationError)
}

func TestExecutor_UnknownToolIsRecoverable(t *testing.T) {
	e := NewExecutor(nil)
	tc := NewContext(context.Background(), "c3", "tester", core.NewSharedState(), nil)

	msg, err := e.Execute(tc, core.ToolCall{ID: "c3", Name: "nope"})
	require.NoError(t, err)
	assert.True(t, msg.IsError)
	assert.Contains(t, msg.Text, CodeUnknownTool)
}

func TestExecutor_StrictRejectsUndeclaredFields(t *testing.T) {
	strict := NewFunctionTool(
		"lookup",
		"Strict lookup",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"q": map[string]any{"type": "string"},
			},
			"required": []string{"q"},
		},
		func(_ *Context, args map[string]any) (any, error) { return args["q"], nil },
		func(o *FunctionToolOptions) { o.Strict = true },
	)
	e := NewExecutor([]Tool{strict})
	tc := NewContext(context.Background(), "c4", "tester", core.NewSharedState(), nil)

	msg, err := e.Execute(tc, core.ToolCall{ID: "c4", Name: "lookup", Arguments: `{"q":"x","bogus":1}`})
	require.NoError(t, err)
	assert.True(t, msg.IsError)
	assert.Contains(t, msg.Text, "bogus")
}

func TestExecutor_PanicIsUnrecoverable(t *testing.T) {
	boom := NewFunctionTool("boom", "Panics", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ *Context, _ map[string]any) (any, error) { panic("broken implementation") })
	e := NewExecutor([]Tool{boom})
	tc := NewContext(context.Background(), "c5", "tester", core.NewSharedState(), nil)

	_, err := e.Execute(tc, core.ToolCall{ID: "c5", Name: "boom"})
	require.Error(t, err)
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.True(t, toolErr.Unrecoverable())
}

func TestExecutor_OneCallAtATimeNeverOverlaps(t *testing.T) {
	var mu sync.Mutex
	active := 0
	maxActive := 0

	serial := NewFunctionTool("serial", "Serialized tool", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ *Context, _ map[string]any) (any, error) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return "ok", nil
		},
		func(o *FunctionToolOptions) { o.OneCallAtATime = true },
	)

	e := NewExecutor([]Tool{serial})
	calls := []core.ToolCall{
		{ID: "s1", Name: "serial"},
		{ID: "s2", Name: "serial"},
		{ID: "s3", Name: "serial"},
	}
	_, err := e.ExecuteBatch(context.Background(), core.NewSharedState(), calls, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, maxActive)
}

func TestExecutor_BatchPreservesEmissionOrder(t *testing.T) {
	slow := NewFunctionTool("slow", "Slow tool", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ *Context, _ map[string]any) (any, error) {
			time.Sleep(20 * time.Millisecond)
			return "slow done", nil
		})
	fast := NewFunctionTool("fast", "Fast tool", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ *Context, _ map[string]any) (any, error) { return "fast done", nil })

	e := NewExecutor([]Tool{slow, fast})
	calls := []core.ToolCall{
		{ID: "b1", Name: "slow"},
		{ID: "b2", Name: "fast"},
	}
	results, err := e.ExecuteBatch(context.Background(), core.NewSharedState(), calls, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// The fast call finishes first but its result is appended second.
	assert.Equal(t, "b1", results[0].ToolCallID)
	assert.Equal(t, "b2", results[1].ToolCallID)
}

func TestExecutor_SharedStateVisibleAcrossCalls(t *testing.T) {
	writer := NewFunctionTool("writer", "Writes state", map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *Context, _ map[string]any) (any, error) {
			tc.SetState("handoff", "value-from-writer")
			return "written", nil
		})
	reader := NewFunctionTool("reader", "Reads state", map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *Context, _ map[string]any) (any, error) {
			v, ok := tc.GetState("handoff")
			if !ok {
				return nil, fmt.Errorf("state not visible")
			}
			return v, nil
		})

	e := NewExecutor([]Tool{writer, reader})
	state := core.NewSharedState()

	first, err := e.ExecuteBatch(context.Background(), state, []core.ToolCall{{ID: "w1", Name: "writer"}}, nil)
	require.NoError(t, err)
	require.False(t, first[0].IsError)

	second, err := e.ExecuteBatch(context.Background(), state, []core.ToolCall{{ID: "r1", Name: "reader"}}, nil)
	require.NoError(t, err)
	require.False(t, second[0].IsError)
	assert.Equal(t, "value-from-writer", second[0].Text)
}

func TestExecutor_ObserverCallbacks(t *testing.T) {
	e := NewExecutor([]Tool{echoTool()})

	var mu sync.Mutex
	var started, ended []string
	obs := &Observer{
		OnStart: func(call core.ToolCall) {
			mu.Lock()
			started = append(started, call.ID)
			mu.Unlock()
		},
		OnEnd: func(call core.ToolCall, _ core.Message) {
			mu.Lock()
			ended = append(ended, call.ID)
			mu.Unlock()
		},
	}

	_, err := e.ExecuteBatch(context.Background(), core.NewSharedState(),
		[]core.ToolCall{{ID: "o1", Name: "echo", Arguments: `{"text":"x"}`}}, obs)
	require.NoError(t, err)
	assert.Equal(t, []string{"o1"}, started)
	assert.Equal(t, []string{"o1"}, ended)
}
