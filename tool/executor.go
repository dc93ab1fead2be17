package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/agencykit/core"
	"github.com/hupe1980/agencykit/internal/util"
	"github.com/hupe1980/agencykit/logging"
)

// Observer receives per-call notifications during batch execution. Callbacks
// may fire from worker goroutines; serialization is the caller's concern.
type Observer struct {
	OnStart func(call core.ToolCall)
	OnEnd   func(call core.ToolCall, result core.Message)
}

// ExecutorOptions configure an Executor.
type ExecutorOptions struct {
	// MaxParallel bounds concurrent tool executions within one batch.
	// Zero or negative means one worker per call.
	MaxParallel int
	Logger      logging.Logger
}

// Executor validates tool arguments against the declared schema, enforces
// per-tool mutual exclusion and converts execution failures into structured
// results. One Executor serves one agent's tool set; it is safe for
// concurrent use across runs.
//
// Error semantics per call:
//
//	unknown tool name        -> ToolError{Code: UNKNOWN_TOOL}    (recoverable)
//	schema mismatch          -> ToolError{Code: VALIDATION_ERROR} (recoverable)
//	tool returned an error   -> ToolError{Code: EXECUTION_ERROR} or the
//	                            *ToolError it returned            (recoverable)
//	tool panicked            -> ToolError{Code: PANIC}          (unrecoverable)
//
// Recoverable failures become tool-result messages describing the failure so
// the model may retry with corrected arguments; only unrecoverable ones are
// returned as errors and terminate the run.
type Executor struct {
	tools       map[string]Tool
	order       []string
	maxParallel int
	logger      logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // one-call-at-a-time locks keyed by tool name
}

// NewExecutor builds an Executor over the given tools, preserving their
// registration order for schema listings.
func NewExecutor(tools []Tool, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := &Executor{
		tools:       make(map[string]Tool, len(tools)),
		maxParallel: opts.MaxParallel,
		logger:      logging.EnsureLogger(opts.Logger),
		locks:       map[string]*sync.Mutex{},
	}
	for _, t := range tools {
		e.Register(t)
	}
	return e
}

// Register adds a tool, replacing any previous tool of the same name.
func (e *Executor) Register(t Tool) {
	name := t.Definition().Name
	if _, exists := e.tools[name]; !exists {
		e.order = append(e.order, name)
	}
	e.tools[name] = t
}

// Definitions returns the declared schemas in registration order.
func (e *Executor) Definitions() []Definition {
	defs := make([]Definition, 0, len(e.order))
	for _, name := range e.order {
		defs = append(defs, e.tools[name].Definition())
	}
	return defs
}

// Has reports whether a tool of the given name is registered.
func (e *Executor) Has(name string) bool {
	_, ok := e.tools[name]
	return ok
}

// Execute runs a single tool call end to end: lookup, argument decoding,
// schema validation, optional serialization, execution. The returned message
// is always a tool-result for the call; err is non-nil only for
// unrecoverable failures.
func (e *Executor) Execute(tc *Context, call core.ToolCall) (core.Message, error) {
	result, err := e.run(tc, call)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok && toolErr.Unrecoverable() {
			return core.Message{}, toolErr
		}
		return core.NewToolResultMessage(call.Name, call.ID, "", err), nil
	}
	return core.NewToolResultMessage(call.Name, call.ID, marshalResult(result), nil), nil
}

// ExecuteBatch runs every call of one model response. Calls execute
// concurrently up to MaxParallel, except that OneCallAtATime tools never
// overlap, and the returned result messages are ordered exactly as the model
// emitted the calls. The first unrecoverable failure aborts the batch.
func (e *Executor) ExecuteBatch(
	ctx context.Context,
	state *core.SharedState,
	calls []core.ToolCall,
	obs *Observer,
) ([]core.Message, error) {
	n := len(calls)
	if n == 0 {
		return nil, nil
	}

	results := make([]core.Message, n)
	errs := make([]error, n)

	maxPar := e.maxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	sem := make(chan struct{}, maxPar)
	var wg sync.WaitGroup

	for i := range calls {
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, call core.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()

			if obs != nil && obs.OnStart != nil {
				obs.OnStart(call)
			}

			tc := NewContext(ctx, call.ID, call.Caller, state, e.logger)
			msg, err := e.Execute(tc, call)
			if err != nil {
				errs[idx] = err
				return
			}
			results[idx] = msg

			if obs != nil && obs.OnEnd != nil {
				obs.OnEnd(call, msg)
			}
		}(i, calls[i])
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("tool call %s (%s): %w", calls[i].ID, calls[i].Name, err)
		}
	}
	return results, nil
}

// run performs lookup, validation and the guarded Call.
func (e *Executor) run(tc *Context, call core.ToolCall) (result any, err error) {
	impl, ok := e.tools[call.Name]
	if !ok {
		return nil, NewToolError(call.Name, "tool is not registered", CodeUnknownTool)
	}
	def := impl.Definition()

	args := map[string]any{}
	if call.Arguments != "" {
		if uErr := json.Unmarshal([]byte(call.Arguments), &args); uErr != nil {
			return nil, &ToolError{
				Tool:    call.Name,
				Message: fmt.Sprintf("arguments are not valid JSON: %v", uErr),
				Code:    CodeValidationError,
			}
		}
	}

	if vErr := util.ValidateParameters(args, def.Parameters, def.Strict); vErr != nil {
		e.logger.Warn("tool.call.validation_failed", "tool", call.Name, "error", vErr.Error())
		return nil, &ToolError{
			Tool:    call.Name,
			Message: fmt.Sprintf("parameter validation failed: %v", vErr),
			Code:    CodeValidationError,
			Details: vErr,
		}
	}

	if def.OneCallAtATime {
		lock := e.lockFor(call.Name)
		lock.Lock()
		defer lock.Unlock()
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool.call.panic", "tool", call.Name, "recover", r)
			err = &ToolError{
				Tool:    call.Name,
				Message: fmt.Sprintf("tool implementation panicked: %v", r),
				Code:    codePanic,
				Details: string(debug.Stack()),
			}
		}
	}()

	start := time.Now()
	e.logger.Debug("tool.call.start", "tool", call.Name, "call_id", call.ID, "caller", call.Caller)

	result, err = impl.Call(tc, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			e.logger.Error("tool.call.error", "tool", call.Name, "error", toolErr.Message)
			return nil, toolErr
		}
		e.logger.Error("tool.call.error", "tool", call.Name, "error", err.Error())
		return nil, &ToolError{
			Tool:    call.Name,
			Message: err.Error(),
			Code:    CodeExecutionError,
		}
	}

	e.logger.Info("tool.call.success", "tool", call.Name, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

func (e *Executor) lockFor(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[name] = lock
	}
	return lock
}

// marshalResult renders a tool return value as the text fed back to the
// model. Strings pass through; everything else is JSON encoded.
func marshalResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
