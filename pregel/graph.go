package pregel

import "strings"

// Reserved channel and node name tokens. Names must not contain the
// namespace separators, and must not collide with the pseudo-channels the
// engine itself writes to.
const (
	ChannelStart     = "__start__"
	ChannelEnd       = "__end__"
	ChannelInput     = "__input__"
	ChannelInterrupt = "__interrupt__"
	ChannelTasks     = "__pregel_tasks__"

	triggerPush = "__push__"
)

var reservedSeparators = []string{"|", ":"}

// ChannelFactory constructs a fresh, zero-value Channel instance. The
// compiled Graph stores factories, not instances, because channels are
// cloned per invocation (design notes) — every Run (or subgraph
// namespace) gets its own set of live Channel objects built by calling
// every factory once.
type ChannelFactory func() Channel

// NodeSpec is a compiled node's static description: which channels schedule
// it, which channels it may read, and its default execution policy. Graph
// construction/validation itself is an external collaborator; NodeSpec
// is the immutable shape that collaborator is expected to hand the engine.
type NodeSpec struct {
	Name string
	// Triggers lists channel names whose version bump schedules this node.
	Triggers []string
	// Reads lists channel names projected into TaskInput.Values; it is
	// usually a superset of Triggers (a node may read context channels it
	// does not trigger on).
	Reads []string
	// Writes documents the channels this node is expected to write, for
	// validation and observability only — the engine does not enforce it.
	Writes []string
	Policy NodePolicy
	// Defer marks a node that should only execute in a trailing sub-round
	// after every non-deferred task in the step has completed (e.g. a
	// finalizer that must see the step's other writes first).
	Defer bool
}

// Graph is the compiled, immutable description the Loop executes against.
// It is passed by shared read-only reference into every invocation and
// never mutated after Validate succeeds (design notes).
type Graph struct {
	Namespace string
	Channels  map[string]ChannelFactory
	Nodes     map[string]*NodeSpec
	NodeImpls map[string]Node

	// Subgraphs maps a namespace segment to a nested compiled Graph, routed
	// to by RunConfig.Namespace in the state API.
	Subgraphs map[string]*Graph
}

// NewGraph returns an empty, mutable Graph builder. This is deliberately
// minimal: it is not a topology validator or builder DSL — those are
// out of scope — it exists only so tests and callers have a way to hand the
// engine a compiled description.
func NewGraph() *Graph {
	return &Graph{
		Channels:  map[string]ChannelFactory{},
		Nodes:     map[string]*NodeSpec{},
		NodeImpls: map[string]Node{},
		Subgraphs: map[string]*Graph{},
	}
}

// AddChannel registers a channel factory under name.
func (g *Graph) AddChannel(name string, factory ChannelFactory) *Graph {
	g.Channels[name] = factory
	return g
}

// AddNode registers a node implementation and its static spec.
func (g *Graph) AddNode(spec NodeSpec, impl Node) *Graph {
	s := spec
	g.Nodes[spec.Name] = &s
	g.NodeImpls[spec.Name] = impl
	return g
}

// Validate checks reserved-name collisions and that every node's
// Triggers/Reads/Writes reference a declared channel. It does not check
// reachability or cycles — that belongs to the out-of-scope builder.
func (g *Graph) Validate() error {
	for name := range g.Channels {
		if err := validateName(name); err != nil {
			return &GraphValidationError{Message: "channel " + name, Cause: err}
		}
	}
	for name, spec := range g.Nodes {
		if err := validateName(name); err != nil {
			return &GraphValidationError{Message: "node " + name, Cause: err}
		}
		for _, chset := range [][]string{spec.Triggers, spec.Reads, spec.Writes} {
			for _, ch := range chset {
				if _, ok := g.Channels[ch]; !ok {
					return &GraphValidationError{Message: "node " + name + " references undeclared channel " + ch}
				}
			}
		}
		if g.NodeImpls[name] == nil {
			return &GraphValidationError{Message: "node " + name + " has no implementation"}
		}
	}
	return nil
}

func validateName(name string) error {
	switch name {
	case ChannelStart, ChannelEnd, ChannelInput, ChannelInterrupt, ChannelTasks:
		return &GraphValidationError{Message: "reserved name: " + name}
	}
	for _, sep := range reservedSeparators {
		if strings.Contains(name, sep) {
			return &GraphValidationError{Message: "name contains reserved separator " + sep + ": " + name}
		}
	}
	return nil
}

// materialize builds a fresh Channel instance for every declared channel
// name — the "cloned per invocation" step from design notes.
func (g *Graph) materialize() map[string]Channel {
	out := make(map[string]Channel, len(g.Channels))
	for name, factory := range g.Channels {
		out[name] = factory()
	}
	return out
}

// triggersOf returns the set of channels the given node subscribes to.
func (g *Graph) triggersOf(node string) []string {
	spec, ok := g.Nodes[node]
	if !ok {
		return nil
	}
	return spec.Triggers
}
