package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agencykit/core"
)

// MockTurn is one scripted completion for MockModel: either final text or a
// set of tool calls, or a forced error.
type MockTurn struct {
	Text      string
	ToolCalls []core.ToolCall
	Err       error
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Scripted turns are consumed in FIFO order across Generate calls; once the
// script is exhausted it echoes the last incoming message. All methods are
// safe for concurrent use.
type MockModel struct {
	info Info

	mu       sync.Mutex
	script   []MockTurn
	requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{Name: name, Provider: "mock", SupportsTools: true},
	}
}

// Enqueue appends scripted turns consumed by subsequent Generate calls.
func (m *MockModel) Enqueue(turns ...MockTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, turns...)
}

// Requests returns a copy of every Request received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockModel) next(req Request) MockTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.script) > 0 {
		turn := m.script[0]
		m.script = m.script[1:]
		return turn
	}
	var last string
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Text
	}
	return MockTurn{Text: fmt.Sprintf("Mock response to: %s", last)}
}

// Generate implements Model; in streaming mode it emits per-rune text deltas
// before the terminal response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		turn := m.next(req)
		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		if req.Stream && turn.Text != "" {
			for _, r := range turn.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Delta: string(r)}:
				}
			}
		}

		var msg core.Message
		if len(turn.ToolCalls) > 0 {
			msg = core.NewToolCallMessage(m.info.Name, turn.ToolCalls)
		} else {
			msg = core.NewAssistantMessage(m.info.Name, turn.Text)
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Message: msg, FinishReason: finishReason(turn)}:
		}
	}()

	return respCh, errCh
}

func finishReason(turn MockTurn) string {
	if len(turn.ToolCalls) > 0 {
		return "tool_calls"
	}
	return "stop"
}

// Info implements the Model interface.
func (m *MockModel) Info() Info { return m.info }
