package agency

import (
	"fmt"

	"github.com/hupe1980/agencykit/core"
)

// Chart is the directed communication graph of an agency. Entry agents are
// reachable by the external user, edges grant one-way delegation rights
// between agents. A Chart is built once and read concurrently afterwards.
type Chart struct {
	entries     map[string]struct{}
	entryOrder  []string
	edges       map[string]map[string]struct{}
	edgeOrder   map[string][]string
	senderOrder []string
}

// NewChart returns an empty chart. Use Entry and Edge to populate it.
func NewChart() *Chart {
	return &Chart{
		entries:   make(map[string]struct{}),
		edges:     make(map[string]map[string]struct{}),
		edgeOrder: make(map[string][]string),
	}
}

// Entry marks an agent as an entry point for user messages. Calling it twice
// for the same agent is a no-op.
func (c *Chart) Entry(names ...string) *Chart {
	for _, name := range names {
		if _, ok := c.entries[name]; ok {
			continue
		}
		c.entries[name] = struct{}{}
		c.entryOrder = append(c.entryOrder, name)
	}
	return c
}

// Edge grants sender the right to delegate to recipient. Edges are one-way;
// add the reverse edge explicitly if both directions are wanted.
func (c *Chart) Edge(sender, recipient string) *Chart {
	set, ok := c.edges[sender]
	if !ok {
		set = make(map[string]struct{})
		c.edges[sender] = set
		c.senderOrder = append(c.senderOrder, sender)
	}
	if _, ok := set[recipient]; ok {
		return c
	}
	set[recipient] = struct{}{}
	c.edgeOrder[sender] = append(c.edgeOrder[sender], recipient)
	return c
}

// CanCommunicate reports whether sender may address recipient. The external
// user may address entry agents only; agents may address the recipients of
// their outgoing edges.
func (c *Chart) CanCommunicate(sender, recipient string) bool {
	if sender == core.UserSender {
		_, ok := c.entries[recipient]
		return ok
	}
	set, ok := c.edges[sender]
	if !ok {
		return false
	}
	_, ok = set[recipient]
	return ok
}

// Recipients returns the agents sender may delegate to, in the order the
// edges were added.
func (c *Chart) Recipients(sender string) []string {
	order := c.edgeOrder[sender]
	if len(order) == 0 {
		return nil
	}
	out := make([]string, len(order))
	copy(out, order)
	return out
}

// Entries returns the entry agents in registration order.
func (c *Chart) Entries() []string {
	out := make([]string, len(c.entryOrder))
	copy(out, c.entryOrder)
	return out
}

// IsEntry reports whether name is an entry agent.
func (c *Chart) IsEntry(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// Agents returns every agent name referenced by the chart, entries first,
// then edge endpoints in insertion order, without duplicates.
func (c *Chart) Agents() []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	for _, name := range c.entryOrder {
		add(name)
	}
	for _, sender := range c.senderOrder {
		add(sender)
		for _, r := range c.edgeOrder[sender] {
			add(r)
		}
	}

	return out
}

// Validate checks the chart for structural problems: it must have at least
// one entry agent, and no agent may have an edge to itself.
func (c *Chart) Validate() error {
	if len(c.entryOrder) == 0 {
		return fmt.Errorf("chart has no entry agents")
	}

	for sender, set := range c.edges {
		if _, ok := set[sender]; ok {
			return fmt.Errorf("chart has a self edge on agent %q", sender)
		}
	}

	return nil
}
