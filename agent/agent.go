// Package agent implements the named conversational entity of agencykit: a
// set of instructions, an ordered tool set and model-call configuration. An
// agent builds completion requests from thread history and decodes the raw
// service response into the CompletionResult variant consumed by the
// orchestrator. It never interprets delegation semantics itself.
package agent

import (
	"context"

	"github.com/hupe1980/agencykit/core"
	"github.com/hupe1980/agencykit/logging"
	"github.com/hupe1980/agencykit/model"
	"github.com/hupe1980/agencykit/tool"
)

// CallConfig carries the model-call parameters forwarded verbatim to the
// completion service. Nil pointers mean "provider default".
type CallConfig struct {
	Temperature         *float64
	TopP                *float64
	MaxPromptTokens     int64
	MaxCompletionTokens int64
	Truncation          model.TruncationStrategy
	ResponseFormat      string // model.ResponseFormatText / model.ResponseFormatJSON
	ToolChoice          string // model.ToolChoiceAuto / None / Required or a tool name
}

// Options configure an Agent.
type Options struct {
	Description     string
	Instruction     Instruction
	Tools           []tool.Tool
	CallConfig      CallConfig
	MaxToolParallel int
	Logger          logging.Logger
}

// Agent is constructed once per session and mutated only through explicit
// configuration updates such as AddTool; the orchestrator never mutates it.
type Agent struct {
	name        string
	description string
	instruction Instruction
	llm         model.Model
	callConfig  CallConfig
	executor    *tool.Executor
	logger      logging.Logger
}

// New creates an agent named name speaking through llm.
func New(name string, llm model.Model, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Instruction: NewInstructionFromText("You are " + name + ", a helpful assistant."),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := logging.EnsureLogger(opts.Logger)

	return &Agent{
		name:        name,
		description: opts.Description,
		instruction: opts.Instruction,
		llm:         llm,
		callConfig:  opts.CallConfig,
		executor: tool.NewExecutor(opts.Tools, func(o *tool.ExecutorOptions) {
			o.MaxParallel = opts.MaxToolParallel
			o.Logger = logger
		}),
		logger: logger,
	}
}

// Name returns the agent's unique name within a chart.
func (a *Agent) Name() string { return a.name }

// Description returns the short description exposed to delegating agents.
func (a *Agent) Description() string { return a.description }

// Model returns the completion service adapter backing this agent.
func (a *Agent) Model() model.Model { return a.llm }

// Executor returns the tool executor over this agent's tool set.
func (a *Agent) Executor() *tool.Executor { return a.executor }

// AddTool registers an additional tool. This is an explicit configuration
// update; it must not be called while a run involving this agent is active.
func (a *Agent) AddTool(t tool.Tool) { a.executor.Register(t) }

// ToolDefinitions returns the wire-format schemas of the agent's tools in
// registration order.
func (a *Agent) ToolDefinitions() []model.ToolDefinition {
	defs := a.executor.Definitions()
	out := make([]model.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
				Strict:      d.Strict,
			},
		}
	}
	return out
}

// RequestCompletion obtains one completion for the given history. extraTools
// are appended to the agent's own schemas (the orchestrator injects the
// delegation tool here). In streaming mode every partial response is
// forwarded to onPartial before the terminal one is decoded; an onPartial
// error aborts the request and is returned unchanged.
func (a *Agent) RequestCompletion(
	ctx context.Context,
	history []core.Message,
	extraTools []model.ToolDefinition,
	state *core.SharedState,
	stream bool,
	onPartial func(model.Response) error,
) (*CompletionResult, error) {
	instructions, err := a.instruction.Render(state)
	if err != nil {
		return nil, err
	}

	req := model.Request{
		Instructions:        instructions,
		Messages:            history,
		Tools:               append(a.ToolDefinitions(), extraTools...),
		ToolChoice:          a.callConfig.ToolChoice,
		ResponseFormat:      a.callConfig.ResponseFormat,
		Temperature:         a.callConfig.Temperature,
		TopP:                a.callConfig.TopP,
		MaxPromptTokens:     a.callConfig.MaxPromptTokens,
		MaxCompletionTokens: a.callConfig.MaxCompletionTokens,
		Truncation:          a.callConfig.Truncation,
		Stream:              stream,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	respCh, errCh := a.llm.Generate(ctx, req)

	var final *model.Response
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if onPartial != nil {
					if pErr := onPartial(resp); pErr != nil {
						cancel()
						return nil, pErr
					}
				}
				continue
			}
			final = &resp
		case genErr, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if genErr != nil {
				return nil, genErr
			}
		}
	}

	if final == nil {
		return nil, &core.ServiceError{Attempts: 1, Err: context.Canceled}
	}

	msg := final.Message
	msg.Author = a.name

	a.logger.Debug("agent.completion", "agent", a.name, "finish_reason", final.FinishReason, "tool_calls", len(msg.ToolCalls))

	return decodeResult(a.name, msg), nil
}
