package agent

import (
	"github.com/hupe1980/agencykit/core"
	"github.com/hupe1980/agencykit/internal/util"
)

// Provider supplies dynamic instruction text at runtime. Implementations can
// derive instructions from the run's shared state, the environment, etc.
type Provider interface {
	Instruction(state *core.SharedState) (string, error)
}

// ProviderFunc is a functional adapter to allow ordinary functions to be used as Providers.
type ProviderFunc func(state *core.SharedState) (string, error)

// Instruction implements Provider.
func (f ProviderFunc) Instruction(state *core.SharedState) (string, error) { return f(state) }

// Instruction represents either a static instruction string or a dynamic
// provider. Static text may contain Go template markers expanded against the
// run's shared state.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(state *core.SharedState) (string, error)) Instruction {
	return Instruction{provider: ProviderFunc(f)}
}

// Render resolves the instruction against the run's shared state.
func (i Instruction) Render(state *core.SharedState) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(state)
	}
	var vars map[string]any
	if state != nil {
		vars = state.Snapshot()
	}
	return util.RenderTemplate(i.text, vars)
}
