package agency

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agencykit/agent"
	"github.com/hupe1980/agencykit/model"
)

// Config is the declarative YAML description of an agency: its entry
// agents, the communication edges, and per-agent settings.
//
//	entry: [ceo]
//	chart:
//	  - [ceo, developer]
//	  - [developer, assistant]
//	shared_instructions: |
//	  You are part of the example agency.
//	agents:
//	  - name: ceo
//	    description: Routes work to the team.
//	    instructions: Answer the user and delegate coding tasks.
//	    model: gpt-4o-mini
type Config struct {
	Entry              []string      `yaml:"entry"`
	Chart              [][]string    `yaml:"chart"`
	SharedInstructions string        `yaml:"shared_instructions"`
	Agents             []AgentConfig `yaml:"agents"`
}

// AgentConfig is the per-agent section of a Config.
type AgentConfig struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Instructions   string   `yaml:"instructions"`
	Model          string   `yaml:"model"`
	Temperature    *float64 `yaml:"temperature"`
	TopP           *float64 `yaml:"top_p"`
	MaxTokens      int64    `yaml:"max_tokens"`
	ResponseFormat string   `yaml:"response_format"`
}

// LoadConfig reads and validates an agency config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML config data.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Entry) == 0 {
		return nil, fmt.Errorf("config declares no entry agents")
	}

	for i, edge := range cfg.Chart {
		if len(edge) != 2 {
			return nil, fmt.Errorf("chart edge %d must have exactly two agents, got %d", i, len(edge))
		}
	}

	names := make(map[string]struct{}, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		if ac.Name == "" {
			return nil, fmt.Errorf("agent config with empty name")
		}
		if _, ok := names[ac.Name]; ok {
			return nil, fmt.Errorf("duplicate agent config %q", ac.Name)
		}
		names[ac.Name] = struct{}{}
	}

	return &cfg, nil
}

// BuildChart converts the entry and chart sections into a Chart.
func (c *Config) BuildChart() *Chart {
	chart := NewChart().Entry(c.Entry...)
	for _, edge := range c.Chart {
		chart.Edge(edge[0], edge[1])
	}
	return chart
}

// ModelFactory creates the model client for one agent config, typically by
// mapping ac.Model onto a provider adapter.
type ModelFactory func(ac AgentConfig) (model.Model, error)

// BuildAgents constructs all configured agents, using factory for their
// model clients. Shared instructions are prepended to every agent's own
// instructions.
func (c *Config) BuildAgents(factory ModelFactory) ([]*agent.Agent, error) {
	agents := make([]*agent.Agent, 0, len(c.Agents))

	for _, ac := range c.Agents {
		llm, err := factory(ac)
		if err != nil {
			return nil, fmt.Errorf("model for agent %q: %w", ac.Name, err)
		}

		instructions := ac.Instructions
		if c.SharedInstructions != "" {
			instructions = c.SharedInstructions + "\n\n" + instructions
		}

		cc := agent.CallConfig{
			Temperature:         ac.Temperature,
			TopP:                ac.TopP,
			MaxCompletionTokens: ac.MaxTokens,
		}
		if ac.ResponseFormat != "" {
			cc.ResponseFormat = ac.ResponseFormat
		}

		agents = append(agents, agent.New(ac.Name, llm, func(o *agent.Options) {
			o.Description = ac.Description
			o.Instruction = agent.NewInstructionFromText(instructions)
			o.CallConfig = cc
		}))
	}

	return agents, nil
}
