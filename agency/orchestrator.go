package agency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agencykit/agent"
	"github.com/hupe1980/agencykit/core"
	"github.com/hupe1980/agencykit/model"
	"github.com/hupe1980/agencykit/thread"
	"github.com/hupe1980/agencykit/tool"
)

// run carries the state shared by all completions of one top-level message
// submission, including every sub-delegation it spawns.
type run struct {
	id         string
	state      *core.SharedState
	dispatcher *dispatcher // nil for blocking runs
	mode       ConcurrencyMode
}

// SubmitMessage sends a user message to an entry agent and blocks until the
// flow settles on a final text answer. The conversation is recorded on the
// user/recipient thread; delegations spawned during the run are recorded on
// their own per-pair threads. Cancel the context to abort the run and every
// sub-delegation with it.
func (ag *Agency) SubmitMessage(ctx context.Context, recipient, text string, files ...core.FileRef) (string, error) {
	r := &run{
		id:    core.NewID(),
		state: core.NewSharedState(),
		mode:  ag.mode,
	}
	return ag.submit(ctx, r, core.UserSender, recipient, core.NewUserMessage(core.UserSender, text, files...), 0)
}

// SubmitMessageStreaming behaves like SubmitMessage but additionally streams
// events to handler while the run progresses. The returned text equals the
// concatenation of the final message's deltas. A handler error cancels the
// run and is returned to the caller; partially streamed messages are never
// appended to a thread.
func (ag *Agency) SubmitMessageStreaming(ctx context.Context, recipient, text string, handler StreamHandler, files ...core.FileRef) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("stream handler must not be nil")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		id:         core.NewID(),
		state:      core.NewSharedState(),
		dispatcher: newDispatcher(handler, cancel),
		mode:       ag.mode,
	}

	out, err := ag.submit(ctx, r, core.UserSender, recipient, core.NewUserMessage(core.UserSender, text, files...), 0)
	if err != nil {
		// The handler's own error wins over the context error it caused.
		if hErr := r.dispatcher.Err(); hErr != nil {
			return "", hErr
		}
		return "", err
	}
	return out, nil
}

// submit routes one message from sender to recipient and drives the
// recipient's completion loop until it produces final text. depth counts the
// delegation hops above this call.
func (ag *Agency) submit(ctx context.Context, r *run, sender, recipient string, msg core.Message, depth int) (string, error) {
	if !ag.chart.CanCommunicate(sender, recipient) {
		return "", &core.PermissionDeniedError{Sender: sender, Recipient: recipient}
	}

	recip, ok := ag.agents[recipient]
	if !ok {
		return "", &core.UnknownAgentError{Agent: recipient}
	}

	th, err := ag.threads.GetOrCreate(sender, recipient)
	if err != nil {
		return "", err
	}
	if err := th.Append(msg); err != nil {
		return "", err
	}

	ag.logger.Debug("routing message", "run", r.id, "sender", sender, "recipient", recipient, "depth", depth)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		res, msgID, err := ag.requestCompletion(ctx, r, recip, th)
		if err != nil {
			return "", err
		}

		switch res.Kind {
		case agent.ResultFinalText:
			if err := th.Append(res.Message); err != nil {
				return "", err
			}
			if err := ag.emitMessage(r, recipient, th.Key(), msgID, res.Message); err != nil {
				return "", err
			}
			return res.Text, nil

		case agent.ResultToolInvocation:
			if err := th.Append(res.Message); err != nil {
				return "", err
			}
			if err := ag.emitMessage(r, recipient, th.Key(), msgID, res.Message); err != nil {
				return "", err
			}

			results, err := recip.Executor().ExecuteBatch(ctx, r.state, res.Calls, ag.toolObserver(r, recipient, th.Key()))
			if err != nil {
				return "", err
			}
			for _, m := range results {
				if err := th.Append(m); err != nil {
					return "", err
				}
			}

		case agent.ResultDelegation:
			if err := th.Append(res.Message); err != nil {
				return "", err
			}
			if err := ag.emitMessage(r, recipient, th.Key(), msgID, res.Message); err != nil {
				return "", err
			}

			results, err := ag.processBatch(ctx, r, recipient, recip, th.Key(), res, depth)
			if err != nil {
				return "", err
			}
			for _, m := range results {
				if err := th.Append(m); err != nil {
					return "", err
				}
			}

		default:
			return "", fmt.Errorf("unexpected completion kind %d", res.Kind)
		}
	}
}

// requestCompletion obtains one completion with bounded retries. Failures
// after the last attempt are wrapped in a ServiceError. Handler cancellation
// and context cancellation are never retried. The returned id is the
// MessageID announced by the message-start event of this completion, empty
// when no start was emitted.
func (ag *Agency) requestCompletion(ctx context.Context, r *run, a *agent.Agent, th *thread.Thread) (*agent.CompletionResult, string, error) {
	stream := r.dispatcher != nil

	attempts := ag.maxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		var msgID string

		var onPartial func(model.Response) error
		if stream {
			onPartial = func(resp model.Response) error {
				if msgID == "" {
					msgID = core.NewID()
					ev := Event{
						Type:      EventMessageStart,
						RunID:     r.id,
						Agent:     a.Name(),
						ThreadKey: th.Key(),
						MessageID: msgID,
					}
					if err := r.dispatcher.emit(ev); err != nil {
						return err
					}
				}
				if resp.Delta == "" {
					return nil
				}
				return r.dispatcher.emit(Event{
					Type:      EventTextDelta,
					RunID:     r.id,
					Agent:     a.Name(),
					ThreadKey: th.Key(),
					MessageID: msgID,
					Delta:     resp.Delta,
				})
			}
		}

		res, err := a.RequestCompletion(ctx, th.Messages(), ag.extraToolsFor(a.Name()), r.state, stream, onPartial)
		if err == nil {
			return res, msgID, nil
		}

		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		if r.dispatcher != nil && r.dispatcher.Err() != nil {
			return nil, "", err
		}

		// A failure after partial output reached the handler is not
		// retried: the stream already carries an unfinished message. The
		// start/end pairing still holds; the end event carries no message
		// because nothing was appended.
		if msgID != "" {
			_ = r.dispatcher.emit(Event{
				Type:      EventMessageEnd,
				RunID:     r.id,
				Agent:     a.Name(),
				ThreadKey: th.Key(),
				MessageID: msgID,
			})
			return nil, "", &core.ServiceError{Attempts: attempt, Err: err}
		}

		lastErr = err
		ag.logger.Warn("completion attempt failed", "run", r.id, "agent", a.Name(), "attempt", attempt, "error", err)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(time.Duration(attempt) * ag.retryBackoff):
			}
		}
	}

	return nil, "", &core.ServiceError{Attempts: attempts, Err: lastErr}
}

func (ag *Agency) extraToolsFor(name string) []model.ToolDefinition {
	if recipients := ag.chart.Recipients(name); len(recipients) > 0 {
		return []model.ToolDefinition{agent.SendMessageDefinition(recipients)}
	}
	return nil
}

// processBatch executes a batch containing at least one delegation, in the
// model's emission order. Plain tool calls always run concurrently;
// delegations run sequentially in ModeToolConcurrent and concurrently in
// ModeConcurrent. The result messages come back in emission order.
func (ag *Agency) processBatch(
	ctx context.Context,
	r *run,
	caller string,
	a *agent.Agent,
	threadKey string,
	res *agent.CompletionResult,
	depth int,
) ([]core.Message, error) {
	calls := res.Message.ToolCalls
	results := make([]core.Message, len(calls))
	errs := make([]error, len(calls))

	byID := make(map[string]agent.Delegation, len(res.Delegations))
	for _, d := range res.Delegations {
		byID[d.CallID] = d
	}

	obs := ag.toolObserver(r, caller, threadKey)

	var wg sync.WaitGroup

	runDelegation := func(idx int, call core.ToolCall) {
		if obs != nil && obs.OnStart != nil {
			obs.OnStart(call)
		}

		d := byID[call.ID]
		msg, err := ag.delegate(ctx, r, caller, d, depth)
		if err != nil {
			errs[idx] = err
			return
		}
		results[idx] = msg

		if obs != nil && obs.OnEnd != nil {
			obs.OnEnd(call, msg)
		}
	}

	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if call.Name != agent.SendMessageTool {
			wg.Add(1)
			go func(idx int, call core.ToolCall) {
				defer wg.Done()

				if obs != nil && obs.OnStart != nil {
					obs.OnStart(call)
				}

				tc := tool.NewContext(ctx, call.ID, call.Caller, r.state, ag.logger)
				msg, err := a.Executor().Execute(tc, call)
				if err != nil {
					errs[idx] = err
					return
				}
				results[idx] = msg

				if obs != nil && obs.OnEnd != nil {
					obs.OnEnd(call, msg)
				}
			}(i, call)
			continue
		}

		if r.mode == ModeConcurrent {
			wg.Add(1)
			go func(idx int, call core.ToolCall) {
				defer wg.Done()
				runDelegation(idx, call)
			}(i, call)
		} else {
			runDelegation(i, call)
		}
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("call %s (%s): %w", calls[i].ID, calls[i].Name, err)
		}
	}
	return results, nil
}

// delegate runs one send_message call as a sub-conversation and folds the
// answer back into a tool-result message. Recipient mistakes the model can
// correct (unknown or unreachable recipients, malformed arguments) come back
// as recoverable tool-result errors; everything else fails the run.
func (ag *Agency) delegate(ctx context.Context, r *run, caller string, d agent.Delegation, depth int) (core.Message, error) {
	if d.Recipient == "" {
		err := fmt.Errorf("malformed send_message arguments")
		return core.NewToolResultMessage(agent.SendMessageTool, d.CallID, "", err), nil
	}

	if depth+1 > ag.maxDepth {
		return core.Message{}, &core.DelegationLoopError{Depth: depth + 1, Agent: d.Recipient}
	}

	out, err := ag.submit(ctx, r, caller, d.Recipient, core.NewUserMessage(caller, d.Message), depth+1)
	if err != nil {
		var permErr *core.PermissionDeniedError
		var unknownErr *core.UnknownAgentError
		if errors.As(err, &permErr) || errors.As(err, &unknownErr) {
			return core.NewToolResultMessage(agent.SendMessageTool, d.CallID, "", err), nil
		}
		return core.Message{}, err
	}

	return core.NewToolResultMessage(agent.SendMessageTool, d.CallID, out, nil), nil
}

// toolObserver maps executor callbacks to stream events. Nil for blocking
// runs.
func (ag *Agency) toolObserver(r *run, agentName, threadKey string) *tool.Observer {
	if r.dispatcher == nil {
		return nil
	}

	return &tool.Observer{
		OnStart: func(call core.ToolCall) {
			_ = r.dispatcher.emit(Event{
				Type:      EventToolCallStart,
				RunID:     r.id,
				Agent:     agentName,
				ThreadKey: threadKey,
				ToolCall:  &call,
			})
		},
		OnEnd: func(call core.ToolCall, msg core.Message) {
			m := msg
			_ = r.dispatcher.emit(Event{
				Type:      EventToolCallEnd,
				RunID:     r.id,
				Agent:     agentName,
				ThreadKey: threadKey,
				ToolCall:  &call,
				Message:   &m,
			})
		},
	}
}

// emitMessage closes the streamed message announced by msgID. When the
// completion never produced a partial (tool-only turns) the start event is
// synthesized first so every end has a matching start.
func (ag *Agency) emitMessage(r *run, agentName, threadKey, msgID string, msg core.Message) error {
	if r.dispatcher == nil {
		return nil
	}

	if msgID == "" {
		msgID = core.NewID()
		if err := r.dispatcher.emit(Event{
			Type:      EventMessageStart,
			RunID:     r.id,
			Agent:     agentName,
			ThreadKey: threadKey,
			MessageID: msgID,
		}); err != nil {
			return err
		}
	}

	m := msg
	return r.dispatcher.emit(Event{
		Type:      EventMessageEnd,
		RunID:     r.id,
		Agent:     agentName,
		ThreadKey: threadKey,
		MessageID: msgID,
		Message:   &m,
	})
}
