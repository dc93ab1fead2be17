// Package agencykit provides a high-level façade over the agency
// orchestrator and its services (threads, shared state, settings & logging)
// enabling rapid construction of collaborating agent teams. Most
// applications interact with this package by:
//  1. Describing the communication chart (entry agents and delegation edges)
//  2. Creating agents with a model client, instructions and tools
//  3. Creating an AgencyKit via New() and submitting user messages
//
// The façade delegates orchestration to agency.Agency while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply durable thread stores
// and a structured logger.
package agencykit

import (
	"context"

	"github.com/hupe1980/agencykit/agency"
	"github.com/hupe1980/agencykit/agent"
	"github.com/hupe1980/agencykit/core"
	"github.com/hupe1980/agencykit/logging"
	"github.com/hupe1980/agencykit/thread"
)

// Options configures the AgencyKit instance.
type Options struct {
	// ThreadStore persists per-pair conversation threads. Defaults to an
	// in-memory store.
	ThreadStore thread.Store

	// SettingsStore persists agent settings snapshots on Close. Nil
	// disables persistence.
	SettingsStore agent.SettingsStore

	// MaxDelegationDepth bounds delegation chains within one run.
	MaxDelegationDepth int

	// MaxServiceRetries is the number of additional completion attempts
	// after a model service failure.
	MaxServiceRetries int

	// Mode selects how the calls of one batch run, see agency.ConcurrencyMode.
	Mode agency.ConcurrencyMode

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgencyKit is the high-level façade aggregating the orchestrator and its
// services.
type AgencyKit struct {
	opts   Options
	agency *agency.Agency
}

// New wires the given agents to the chart and returns a ready AgencyKit.
// Any unset service is initialized with an in-memory implementation.
func New(chart *agency.Chart, agents []*agent.Agent, optFns ...func(o *Options)) (*AgencyKit, error) {
	opts := Options{
		ThreadStore: thread.NewInMemoryStore(),
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	ag, err := agency.New(chart, agents, func(o *agency.Options) {
		o.ThreadStore = opts.ThreadStore
		o.SettingsStore = opts.SettingsStore
		o.Logger = opts.Logger
		o.Mode = opts.Mode
		if opts.MaxDelegationDepth > 0 {
			o.MaxDelegationDepth = opts.MaxDelegationDepth
		}
		if opts.MaxServiceRetries > 0 {
			o.MaxServiceRetries = opts.MaxServiceRetries
		}
	})
	if err != nil {
		return nil, err
	}

	return &AgencyKit{opts: opts, agency: ag}, nil
}

// Agency exposes the underlying orchestrator for advanced use.
func (k *AgencyKit) Agency() *agency.Agency { return k.agency }

// SubmitMessage sends a user message to an entry agent and blocks until the
// flow settles on a final text answer.
func (k *AgencyKit) SubmitMessage(ctx context.Context, recipient, text string, files ...core.FileRef) (string, error) {
	return k.agency.SubmitMessage(ctx, recipient, text, files...)
}

// SubmitMessageStreaming behaves like SubmitMessage but streams events to
// handler while the run progresses.
func (k *AgencyKit) SubmitMessageStreaming(ctx context.Context, recipient, text string, handler agency.StreamHandler, files ...core.FileRef) (string, error) {
	return k.agency.SubmitMessageStreaming(ctx, recipient, text, handler, files...)
}

// ThreadSnapshot returns a copy of the conversation between the two parties.
// Use core.UserSender for the external user side.
func (k *AgencyKit) ThreadSnapshot(a, b string) []core.Message {
	return k.agency.ThreadSnapshot(a, b)
}

// Close persists agent settings when a settings store is configured.
func (k *AgencyKit) Close() error { return k.agency.Close() }
