package agency

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agencykit/agent"
	"github.com/hupe1980/agencykit/core"
	"github.com/hupe1980/agencykit/model"
	"github.com/hupe1980/agencykit/tool"
)

func sumTool() tool.Tool {
	return tool.NewFunctionTool(
		"calculate_sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(tc *tool.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	)
}

func TestSubmitMessage_FinalText(t *testing.T) {
	llm := model.NewMockModel("mock")
	llm.Enqueue(model.MockTurn{Text: "4"})

	math := agent.New("math", llm)

	ag, err := New(NewChart().Entry("math"), []*agent.Agent{math})
	require.NoError(t, err)

	out, err := ag.SubmitMessage(context.Background(), "math", "What is 2 + 2?")
	require.NoError(t, err)
	assert.Equal(t, "4", out)

	msgs := ag.ThreadSnapshot(core.UserSender, "math")
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, "What is 2 + 2?", msgs[0].Text)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "math", msgs[1].Author)
	assert.Equal(t, "4", msgs[1].Text)
}

func TestSubmitMessage_PermissionDenied(t *testing.T) {
	llm := model.NewMockModel("mock")
	ceo := agent.New("ceo", llm)
	dev := agent.New("dev", model.NewMockModel("mock"))

	ag, err := New(NewChart().Entry("ceo").Edge("ceo", "dev"), []*agent.Agent{ceo, dev})
	require.NoError(t, err)

	_, err = ag.SubmitMessage(context.Background(), "dev", "hi")
	var permErr *core.PermissionDeniedError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, core.UserSender, permErr.Sender)
	assert.Equal(t, "dev", permErr.Recipient)

	// The failed routing attempt must not leave a thread behind.
	assert.Empty(t, ag.ThreadSnapshot(core.UserSender, "dev"))
}

func TestSubmitMessage_UnknownAgent(t *testing.T) {
	_, err := New(NewChart().Entry("ghost"), nil)
	var unknownErr *core.UnknownAgentError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "ghost", unknownErr.Agent)
}

func TestSubmitMessage_ToolLoop(t *testing.T) {
	llm := model.NewMockModel("mock")
	llm.Enqueue(
		model.MockTurn{ToolCalls: []core.ToolCall{
			{ID: "call-1", Name: "calculate_sum", Arguments: `{"a": 2, "b": 2}`},
		}},
		model.MockTurn{Text: "The sum is 4."},
	)

	math := agent.New("math", llm, func(o *agent.Options) {
		o.Tools = []tool.Tool{sumTool()}
	})

	ag, err := New(NewChart().Entry("math"), []*agent.Agent{math})
	require.NoError(t, err)

	out, err := ag.SubmitMessage(context.Background(), "math", "2+2?")
	require.NoError(t, err)
	assert.Equal(t, "The sum is 4.", out)

	msgs := ag.ThreadSnapshot(core.UserSender, "math")
	require.Len(t, msgs, 4)
	assert.True(t, msgs[1].HasToolCalls())
	assert.Equal(t, core.RoleTool, msgs[2].Role)
	assert.Equal(t, "call-1", msgs[2].ToolCallID)
	assert.Equal(t, "4", msgs[2].Text)
	assert.Equal(t, core.RoleAssistant, msgs[3].Role)
}

func TestSubmitMessage_ToolErrorContinuesRun(t *testing.T) {
	failing := tool.NewFunctionTool(
		"lookup", "Look something up",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *tool.Context, args map[string]any) (any, error) {
			return nil, fmt.Errorf("backend unavailable")
		},
	)

	llm := model.NewMockModel("mock")
	llm.Enqueue(
		model.MockTurn{ToolCalls: []core.ToolCall{
			{ID: "call-1", Name: "lookup", Arguments: `{}`},
		}},
		model.MockTurn{Text: "I could not look that up."},
	)

	a := agent.New("helper", llm, func(o *agent.Options) {
		o.Tools = []tool.Tool{failing}
	})

	ag, err := New(NewChart().Entry("helper"), []*agent.Agent{a})
	require.NoError(t, err)

	out, err := ag.SubmitMessage(context.Background(), "helper", "look it up")
	require.NoError(t, err)
	assert.Equal(t, "I could not look that up.", out)

	msgs := ag.ThreadSnapshot(core.UserSender, "helper")
	require.Len(t, msgs, 4)
	assert.True(t, msgs[2].IsError)
	assert.Contains(t, msgs[2].Text, "backend unavailable")
}

func TestSubmitMessage_Delegation(t *testing.T) {
	ceoLLM := model.NewMockModel("mock")
	ceoLLM.Enqueue(
		model.MockTurn{ToolCalls: []core.ToolCall{
			{ID: "call-1", Name: agent.SendMessageTool, Arguments: `{"recipient": "dev", "message": "Please build the feature."}`},
		}},
		model.MockTurn{Text: "The dev built it."},
	)

	devLLM := model.NewMockModel("mock")
	devLLM.Enqueue(model.MockTurn{Text: "Feature built."})

	ceo := agent.New("ceo", ceoLLM)
	dev := agent.New("dev", devLLM)

	ag, err := New(NewChart().Entry("ceo").Edge("ceo", "dev"), []*agent.Agent{ceo, dev})
	require.NoError(t, err)

	out, err := ag.SubmitMessage(context.Background(), "ceo", "Ship the feature.")
	require.NoError(t, err)
	assert.Equal(t, "The dev built it.", out)

	// The delegation ran on its own ceo/dev thread.
	sub := ag.ThreadSnapshot("ceo", "dev")
	require.Len(t, sub, 2)
	assert.Equal(t, "ceo", sub[0].Author)
	assert.Equal(t, "Please build the feature.", sub[0].Text)
	assert.Equal(t, "dev", sub[1].Author)
	assert.Equal(t, "Feature built.", sub[1].Text)

	// The user thread records the send_message call and its folded result.
	top := ag.ThreadSnapshot(core.UserSender, "ceo")
	require.Len(t, top, 4)
	assert.Equal(t, agent.SendMessageTool, top[1].ToolCalls[0].Name)
	assert.Equal(t, core.RoleTool, top[2].Role)
	assert.Equal(t, "Feature built.", top[2].Text)

	// Only the ceo was offered the delegation tool.
	ceoReq := ceoLLM.Requests()[0]
	require.Len(t, ceoReq.Tools, 1)
	assert.Equal(t, agent.SendMessageTool, ceoReq.Tools[0].Function.Name)
	assert.Empty(t, devLLM.Requests()[0].Tools)
}

func TestSubmitMessage_DelegationDepthExceeded(t *testing.T) {
	delegateTo := func(recipient string) model.MockTurn {
		return model.MockTurn{ToolCalls: []core.ToolCall{
			{ID: core.NewID(), Name: agent.SendMessageTool, Arguments: fmt.Sprintf(`{"recipient": %q, "message": "your turn"}`, recipient)},
		}}
	}

	aLLM := model.NewMockModel("mock")
	bLLM := model.NewMockModel("mock")
	for i := 0; i < 5; i++ {
		aLLM.Enqueue(delegateTo("b"))
		bLLM.Enqueue(delegateTo("a"))
	}

	a := agent.New("a", aLLM)
	b := agent.New("b", bLLM)

	chart := NewChart().Entry("a").Edge("a", "b").Edge("b", "a")
	ag, err := New(chart, []*agent.Agent{a, b}, func(o *Options) {
		o.MaxDelegationDepth = 2
	})
	require.NoError(t, err)

	_, err = ag.SubmitMessage(context.Background(), "a", "start")
	var loopErr *core.DelegationLoopError
	require.ErrorAs(t, err, &loopErr)
	assert.Equal(t, 3, loopErr.Depth)
}

func TestSubmitMessage_UnreachableRecipientIsRecoverable(t *testing.T) {
	ceoLLM := model.NewMockModel("mock")
	ceoLLM.Enqueue(
		model.MockTurn{ToolCalls: []core.ToolCall{
			{ID: "call-1", Name: agent.SendMessageTool, Arguments: `{"recipient": "va", "message": "hello"}`},
		}},
		model.MockTurn{Text: "Handled it myself."},
	)

	ceo := agent.New("ceo", ceoLLM)
	dev := agent.New("dev", model.NewMockModel("mock"))
	va := agent.New("va", model.NewMockModel("mock"))

	ag, err := New(NewChart().Entry("ceo").Edge("ceo", "dev"), []*agent.Agent{ceo, dev, va})
	require.NoError(t, err)

	out, err := ag.SubmitMessage(context.Background(), "ceo", "ask the va")
	require.NoError(t, err)
	assert.Equal(t, "Handled it myself.", out)

	msgs := ag.ThreadSnapshot(core.UserSender, "ceo")
	require.Len(t, msgs, 4)
	assert.True(t, msgs[2].IsError)
}

func TestSubmitMessage_SharedStateAcrossDelegation(t *testing.T) {
	setNote := tool.NewFunctionTool(
		"set_note", "Store a note",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"note": map[string]any{"type": "string"}},
			"required":   []string{"note"},
		},
		func(tc *tool.Context, args map[string]any) (any, error) {
			tc.SetState("note", args["note"])
			return "stored", nil
		},
	)

	readNote := tool.NewFunctionTool(
		"read_note", "Read the stored note",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *tool.Context, args map[string]any) (any, error) {
			v, ok := tc.GetState("note")
			if !ok {
				return nil, fmt.Errorf("no note stored")
			}
			return v, nil
		},
	)

	ceoLLM := model.NewMockModel("mock")
	ceoLLM.Enqueue(
		model.MockTurn{ToolCalls: []core.ToolCall{
			{ID: "call-1", Name: agent.SendMessageTool, Arguments: `{"recipient": "dev", "message": "take a note"}`},
		}},
		model.MockTurn{ToolCalls: []core.ToolCall{
			{ID: "call-2", Name: "read_note", Arguments: `{}`},
		}},
		model.MockTurn{Text: "The note says: remember"},
	)

	devLLM := model.NewMockModel("mock")
	devLLM.Enqueue(
		model.MockTurn{ToolCalls: []core.ToolCall{
			{ID: "call-3", Name: "set_note", Arguments: `{"note": "remember"}`},
		}},
		model.MockTurn{Text: "Noted."},
	)

	ceo := agent.New("ceo", ceoLLM, func(o *agent.Options) { o.Tools = []tool.Tool{readNote} })
	dev := agent.New("dev", devLLM, func(o *agent.Options) { o.Tools = []tool.Tool{setNote} })

	ag, err := New(NewChart().Entry("ceo").Edge("ceo", "dev"), []*agent.Agent{ceo, dev})
	require.NoError(t, err)

	out, err := ag.SubmitMessage(context.Background(), "ceo", "coordinate")
	require.NoError(t, err)
	assert.Equal(t, "The note says: remember", out)

	// read_note saw the value written during the delegated sub-run.
	top := ag.ThreadSnapshot(core.UserSender, "ceo")
	var readResult *core.Message
	for i := range top {
		if top[i].ToolCallID == "call-2" {
			readResult = &top[i]
		}
	}
	require.NotNil(t, readResult)
	assert.Equal(t, "remember", readResult.Text)
}

func multiDelegationAgency(t *testing.T, mode ConcurrencyMode) *Agency {
	t.Helper()

	ceoLLM := model.NewMockModel("mock")
	ceoLLM.Enqueue(
		model.MockTurn{ToolCalls: []core.ToolCall{
			{ID: "call-1", Name: agent.SendMessageTool, Arguments: `{"recipient": "dev", "message": "part one"}`},
			{ID: "call-2", Name: agent.SendMessageTool, Arguments: `{"recipient": "va", "message": "part two"}`},
		}},
		model.MockTurn{Text: "combined"},
	)

	devLLM := model.NewMockModel("mock")
	devLLM.Enqueue(model.MockTurn{Text: "from dev"})
	vaLLM := model.NewMockModel("mock")
	vaLLM.Enqueue(model.MockTurn{Text: "from va"})

	ceo := agent.New("ceo", ceoLLM)
	dev := agent.New("dev", devLLM)
	va := agent.New("va", vaLLM)

	chart := NewChart().Entry("ceo").Edge("ceo", "dev").Edge("ceo", "va")
	ag, err := New(chart, []*agent.Agent{ceo, dev, va}, func(o *Options) {
		o.Mode = mode
	})
	require.NoError(t, err)
	return ag
}

func TestSubmitMessage_MultiDelegationKeepsEmissionOrder(t *testing.T) {
	for _, mode := range []ConcurrencyMode{ModeToolConcurrent, ModeConcurrent} {
		ag := multiDelegationAgency(t, mode)

		out, err := ag.SubmitMessage(context.Background(), "ceo", "split the work")
		require.NoError(t, err)
		assert.Equal(t, "combined", out)

		msgs := ag.ThreadSnapshot(core.UserSender, "ceo")
		require.Len(t, msgs, 5)
		assert.Equal(t, "call-1", msgs[2].ToolCallID)
		assert.Equal(t, "from dev", msgs[2].Text)
		assert.Equal(t, "call-2", msgs[3].ToolCallID)
		assert.Equal(t, "from va", msgs[3].Text)
	}
}

func TestSubmitMessage_ServiceRetrySucceeds(t *testing.T) {
	llm := model.NewMockModel("mock")
	llm.Enqueue(
		model.MockTurn{Err: fmt.Errorf("rate limited")},
		model.MockTurn{Text: "recovered"},
	)

	a := agent.New("helper", llm)
	ag, err := New(NewChart().Entry("helper"), []*agent.Agent{a}, func(o *Options) {
		o.RetryBackoff = time.Millisecond
	})
	require.NoError(t, err)

	out, err := ag.SubmitMessage(context.Background(), "helper", "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Len(t, llm.Requests(), 2)
}

func TestSubmitMessage_ServiceRetryExhausted(t *testing.T) {
	llm := model.NewMockModel("mock")
	llm.Enqueue(
		model.MockTurn{Err: fmt.Errorf("rate limited")},
		model.MockTurn{Err: fmt.Errorf("rate limited")},
		model.MockTurn{Err: fmt.Errorf("rate limited")},
	)

	a := agent.New("helper", llm)
	ag, err := New(NewChart().Entry("helper"), []*agent.Agent{a}, func(o *Options) {
		o.RetryBackoff = time.Millisecond
		o.MaxServiceRetries = 2
	})
	require.NoError(t, err)

	_, err = ag.SubmitMessage(context.Background(), "helper", "hi")
	var svcErr *core.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 3, svcErr.Attempts)
	assert.ErrorContains(t, svcErr.Err, "rate limited")
}

func TestSubmitMessage_ContextCancel(t *testing.T) {
	llm := model.NewMockModel("mock")
	a := agent.New("helper", llm)

	ag, err := New(NewChart().Entry("helper"), []*agent.Agent{a})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = ag.SubmitMessage(ctx, "helper", "hi")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSubmitMessageStreaming_DeltasMatchFinalText(t *testing.T) {
	llm := model.NewMockModel("mock")
	llm.Enqueue(model.MockTurn{Text: "streamed answer"})

	a := agent.New("helper", llm)
	ag, err := New(NewChart().Entry("helper"), []*agent.Agent{a})
	require.NoError(t, err)

	var events []Event
	handler := StreamHandlerFunc(func(ev Event) error {
		events = append(events, ev)
		return nil
	})

	out, err := ag.SubmitMessageStreaming(context.Background(), "helper", "hi", handler)
	require.NoError(t, err)
	assert.Equal(t, "streamed answer", out)

	require.NotEmpty(t, events)
	assert.Equal(t, EventMessageStart, events[0].Type)
	assert.Equal(t, EventMessageEnd, events[len(events)-1].Type)

	var deltas string
	starts := make(map[string]int)
	ends := make(map[string]int)
	for _, ev := range events {
		switch ev.Type {
		case EventMessageStart:
			starts[ev.MessageID]++
		case EventMessageEnd:
			ends[ev.MessageID]++
		case EventTextDelta:
			deltas += ev.Delta
		}
	}
	assert.Equal(t, out, deltas)
	assert.Equal(t, starts, ends)
	for id, n := range starts {
		assert.Equal(t, 1, n, "message %s started more than once", id)
	}

	final := events[len(events)-1]
	require.NotNil(t, final.Message)
	assert.Equal(t, "streamed answer", final.Message.Text)
}

func TestSubmitMessageStreaming_ToolEvents(t *testing.T) {
	llm := model.NewMockModel("mock")
	llm.Enqueue(
		model.MockTurn{ToolCalls: []core.ToolCall{
			{ID: "call-1", Name: "calculate_sum", Arguments: `{"a": 1, "b": 2}`},
		}},
		model.MockTurn{Text: "3"},
	)

	a := agent.New("math", llm, func(o *agent.Options) {
		o.Tools = []tool.Tool{sumTool()}
	})
	ag, err := New(NewChart().Entry("math"), []*agent.Agent{a})
	require.NoError(t, err)

	var events []Event
	out, err := ag.SubmitMessageStreaming(context.Background(), "math", "1+2?", StreamHandlerFunc(func(ev Event) error {
		events = append(events, ev)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "3", out)

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, EventToolCallStart)
	assert.Contains(t, types, EventToolCallEnd)

	// Tool-only turns still produce a paired start/end for the call message.
	starts, ends := 0, 0
	for _, ty := range types {
		switch ty {
		case EventMessageStart:
			starts++
		case EventMessageEnd:
			ends++
		}
	}
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, ends)
}

func TestSubmitMessageStreaming_HandlerCancels(t *testing.T) {
	llm := model.NewMockModel("mock")
	llm.Enqueue(model.MockTurn{Text: "a long streamed answer"})

	a := agent.New("helper", llm)
	ag, err := New(NewChart().Entry("helper"), []*agent.Agent{a})
	require.NoError(t, err)

	stop := errors.New("seen enough")
	var deltas int
	_, err = ag.SubmitMessageStreaming(context.Background(), "helper", "hi", StreamHandlerFunc(func(ev Event) error {
		if ev.Type == EventTextDelta {
			deltas++
			if deltas >= 3 {
				return stop
			}
		}
		return nil
	}))
	require.ErrorIs(t, err, stop)

	// The aborted completion left only the user message behind.
	msgs := ag.ThreadSnapshot(core.UserSender, "helper")
	require.Len(t, msgs, 1)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
}

func TestThreadSnapshot_NoThread(t *testing.T) {
	a := agent.New("helper", model.NewMockModel("mock"))
	ag, err := New(NewChart().Entry("helper"), []*agent.Agent{a})
	require.NoError(t, err)

	assert.Empty(t, ag.ThreadSnapshot(core.UserSender, "helper"))
}

func TestClose_SavesSettings(t *testing.T) {
	store := agent.NewInMemorySettingsStore()

	a := agent.New("helper", model.NewMockModel("mock"), func(o *agent.Options) {
		o.Description = "does things"
	})
	ag, err := New(NewChart().Entry("helper"), []*agent.Agent{a}, func(o *Options) {
		o.SettingsStore = store
	})
	require.NoError(t, err)

	require.NoError(t, ag.Close())

	settings, err := store.Load()
	require.NoError(t, err)
	require.Contains(t, settings, "helper")
	assert.Equal(t, "does things", settings["helper"].Description)
}

func TestNew_DuplicateAgentName(t *testing.T) {
	a1 := agent.New("helper", model.NewMockModel("mock"))
	a2 := agent.New("helper", model.NewMockModel("mock"))

	_, err := New(NewChart().Entry("helper"), []*agent.Agent{a1, a2})
	require.ErrorContains(t, err, "duplicate agent name")
}
