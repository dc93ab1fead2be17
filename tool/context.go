package tool

import (
	"context"

	"github.com/hupe1980/agencykit/core"
	"github.com/hupe1980/agencykit/logging"
)

// Context provides a constrained, auditable surface for tool implementations.
// It exposes the run's SharedState and the calling agent's identity without
// granting access to threads or orchestration internals. Writes to state
// become visible to subsequently executed tools in the same run, including
// tools of agents reached through delegation.
type Context struct {
	ctx    context.Context
	callID string
	caller string
	state  *core.SharedState
	logger logging.Logger
}

// NewContext constructs a tool context bound to one tool call.
func NewContext(ctx context.Context, callID, caller string, state *core.SharedState, logger logging.Logger) *Context {
	if state == nil {
		state = core.NewSharedState()
	}
	return &Context{
		ctx:    ctx,
		callID: callID,
		caller: caller,
		state:  state,
		logger: logging.EnsureLogger(logger),
	}
}

// Context returns the cancellation context of the surrounding run. Tool
// implementations performing I/O must respect it.
func (tc *Context) Context() context.Context { return tc.ctx }

// CallID returns the identifier of the originating tool call.
func (tc *Context) CallID() string { return tc.callID }

// Caller returns the name of the agent on whose behalf the tool executes.
func (tc *Context) Caller() string { return tc.caller }

// Logger returns the logger bound to this invocation.
func (tc *Context) Logger() logging.Logger { return tc.logger }

// GetState retrieves a value from the run's SharedState.
func (tc *Context) GetState(key string) (any, bool) { return tc.state.Get(key) }

// SetState stores a value in the run's SharedState.
func (tc *Context) SetState(key string, value any) { tc.state.Set(key, value) }

// State returns the underlying SharedState for bulk operations.
func (tc *Context) State() *core.SharedState { return tc.state }
