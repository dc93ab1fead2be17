package agency

import (
	"context"
	"sync"

	"github.com/hupe1980/agencykit/core"
)

// EventType identifies a streaming event.
type EventType string

const (
	// EventMessageStart is emitted once before the first token of an
	// assistant message.
	EventMessageStart EventType = "message_start"

	// EventTextDelta carries an incremental text fragment of the message
	// announced by the preceding EventMessageStart.
	EventTextDelta EventType = "text_delta"

	// EventToolCallStart is emitted before a tool call begins executing.
	EventToolCallStart EventType = "tool_call_start"

	// EventToolCallEnd is emitted after a tool call produced its result
	// message.
	EventToolCallEnd EventType = "tool_call_end"

	// EventMessageEnd closes the message announced by the matching
	// EventMessageStart and carries the fully assembled message.
	EventMessageEnd EventType = "message_end"
)

// Event is a single streaming notification. Which fields are set depends on
// the Type. MessageID ties deltas and the end event to their start event.
type Event struct {
	Type      EventType
	RunID     string
	Agent     string
	ThreadKey string
	MessageID string
	Delta     string
	ToolCall  *core.ToolCall
	Message   *core.Message
}

// StreamHandler receives streaming events during a run. Returning a non-nil
// error cancels the run; no further events are delivered after that.
type StreamHandler interface {
	OnEvent(event Event) error
}

// StreamHandlerFunc adapts a function to the StreamHandler interface.
type StreamHandlerFunc func(event Event) error

// OnEvent implements StreamHandler.
func (f StreamHandlerFunc) OnEvent(event Event) error {
	return f(event)
}

// dispatcher serializes event delivery to a single handler. Once the handler
// returns an error the dispatcher cancels the run and swallows all further
// events, so concurrent emitters cannot reach a handler that already opted
// out.
type dispatcher struct {
	mu      sync.Mutex
	handler StreamHandler
	cancel  context.CancelFunc
	err     error
}

func newDispatcher(handler StreamHandler, cancel context.CancelFunc) *dispatcher {
	return &dispatcher{handler: handler, cancel: cancel}
}

func (d *dispatcher) emit(event Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return d.err
	}

	if err := d.handler.OnEvent(event); err != nil {
		d.err = err
		d.cancel()
		return err
	}

	return nil
}

// Err returns the handler error that stopped the stream, if any.
func (d *dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}
