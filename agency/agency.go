// Package agency orchestrates message flows across a set of agents. The
// Chart is the permission graph: users reach entry agents, agents reach the
// recipients of their edges. Each communicating pair shares one persistent
// thread, and every top-level submission runs a completion loop that
// executes tools, recurses through delegations and settles on final text.
package agency

import (
	"fmt"
	"time"

	"github.com/hupe1980/agencykit/agent"
	"github.com/hupe1980/agencykit/core"
	"github.com/hupe1980/agencykit/logging"
	"github.com/hupe1980/agencykit/thread"
)

// ConcurrencyMode controls how the calls of one mixed batch run.
type ConcurrencyMode int

const (
	// ModeToolConcurrent runs plain tool calls concurrently but processes
	// delegations one at a time. This is the default.
	ModeToolConcurrent ConcurrencyMode = iota

	// ModeConcurrent additionally runs delegations of the same batch
	// concurrently. Sub-runs then interleave on the shared state.
	ModeConcurrent
)

// Options holds the configurable fields of an Agency.
type Options struct {
	// Logger receives orchestration logs. Defaults to a no-op logger.
	Logger logging.Logger

	// ThreadStore persists conversation threads. Defaults to in-memory.
	ThreadStore thread.Store

	// SettingsStore persists agent settings snapshots on Close.
	SettingsStore agent.SettingsStore

	// MaxDelegationDepth bounds the delegation chain of one run. A
	// delegation beyond this depth fails the run with a
	// DelegationLoopError. Defaults to 8.
	MaxDelegationDepth int

	// MaxServiceRetries is the number of additional completion attempts
	// after a model service failure. Defaults to 2.
	MaxServiceRetries int

	// RetryBackoff is the pause between completion attempts. Defaults to
	// 200ms and grows linearly with the attempt number.
	RetryBackoff time.Duration

	// Mode selects the batch concurrency policy.
	Mode ConcurrencyMode
}

// Agency wires a set of agents to a communication chart and runs message
// flows through them. All public methods are safe for concurrent use.
type Agency struct {
	chart    *Chart
	agents   map[string]*agent.Agent
	order    []string
	threads  *thread.Registry
	settings agent.SettingsStore
	logger   logging.Logger

	maxDepth     int
	maxRetries   int
	retryBackoff time.Duration
	mode         ConcurrencyMode
}

// New validates the chart against the given agents and returns a ready
// Agency. Every agent the chart references must be present, and agent names
// must be unique.
func New(chart *Chart, agents []*agent.Agent, optFns ...func(o *Options)) (*Agency, error) {
	opts := Options{
		MaxDelegationDepth: 8,
		MaxServiceRetries:  2,
		RetryBackoff:       200 * time.Millisecond,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if chart == nil {
		return nil, fmt.Errorf("chart must not be nil")
	}

	if err := chart.Validate(); err != nil {
		return nil, err
	}

	byName := make(map[string]*agent.Agent, len(agents))
	order := make([]string, 0, len(agents))

	for _, a := range agents {
		if _, ok := byName[a.Name()]; ok {
			return nil, fmt.Errorf("duplicate agent name %q", a.Name())
		}
		byName[a.Name()] = a
		order = append(order, a.Name())
	}

	for _, name := range chart.Agents() {
		if _, ok := byName[name]; !ok {
			return nil, &core.UnknownAgentError{Agent: name}
		}
	}

	logger := logging.EnsureLogger(opts.Logger)

	if opts.SettingsStore != nil {
		settings, err := opts.SettingsStore.Load()
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		logger.Debug("loaded agent settings", "count", len(settings))
	}

	ag := &Agency{
		chart:        chart,
		agents:       byName,
		order:        order,
		threads:      thread.NewRegistry(opts.ThreadStore),
		settings:     opts.SettingsStore,
		logger:       logger,
		maxDepth:     opts.MaxDelegationDepth,
		maxRetries:   opts.MaxServiceRetries,
		retryBackoff: opts.RetryBackoff,
		mode:         opts.Mode,
	}

	return ag, nil
}

// Agent returns the registered agent with the given name.
func (ag *Agency) Agent(name string) (*agent.Agent, bool) {
	a, ok := ag.agents[name]
	return a, ok
}

// Agents returns the registered agent names in registration order.
func (ag *Agency) Agents() []string {
	out := make([]string, len(ag.order))
	copy(out, ag.order)
	return out
}

// Chart returns the communication chart.
func (ag *Agency) Chart() *Chart { return ag.chart }

// ThreadSnapshot returns a copy of the conversation between the two parties,
// or an empty slice when no such thread exists yet. Use core.UserSender for
// the external user side.
func (ag *Agency) ThreadSnapshot(a, b string) []core.Message {
	t, ok := ag.threads.Lookup(a, b)
	if !ok {
		return nil
	}
	return t.Messages()
}

// ThreadKeys returns the canonical keys of every thread created so far.
func (ag *Agency) ThreadKeys() []string {
	return ag.threads.Keys()
}

// Close persists the current agent settings when a settings store is
// configured.
func (ag *Agency) Close() error {
	if ag.settings == nil {
		return nil
	}

	snapshot := make(agent.Settings, len(ag.agents))
	for name, a := range ag.agents {
		snapshot[name] = a.Snapshot()
	}

	return ag.settings.Save(snapshot)
}
