package pregel

import (
	"context"
	"testing"
)

func noopNode() Node {
	return NodeFunc(func(_ context.Context, _ TaskInput) TaskResult { return TaskResult{} })
}

func TestGraphValidateOK(t *testing.T) {
	g := NewGraph()
	g.AddChannel("input", func() Channel { return NewLastValueChannel(nil, false) })
	g.AddChannel("output", func() Channel { return NewLastValueChannel(nil, false) })
	g.AddNode(NodeSpec{Name: "step", Triggers: []string{"input"}, Reads: []string{"input"}, Writes: []string{"output"}}, noopNode())

	if err := g.Validate(); err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}
}

func TestGraphValidateUndeclaredChannel(t *testing.T) {
	g := NewGraph()
	g.AddChannel("input", func() Channel { return NewLastValueChannel(nil, false) })
	g.AddNode(NodeSpec{Name: "step", Triggers: []string{"missing"}}, noopNode())

	if err := g.Validate(); err == nil {
		t.Fatal("expected error for undeclared trigger channel")
	}
}

func TestGraphValidateMissingImpl(t *testing.T) {
	g := NewGraph()
	g.Nodes["ghost"] = &NodeSpec{Name: "ghost"}

	if err := g.Validate(); err == nil {
		t.Fatal("expected error for node with no implementation")
	}
}

func TestGraphValidateReservedChannelName(t *testing.T) {
	g := NewGraph()
	g.AddChannel(ChannelStart, func() Channel { return NewLastValueChannel(nil, false) })

	if err := g.Validate(); err == nil {
		t.Fatal("expected error for reserved channel name")
	}
}

func TestGraphValidateReservedSeparator(t *testing.T) {
	g := NewGraph()
	g.AddChannel("bad|name", func() Channel { return NewLastValueChannel(nil, false) })

	if err := g.Validate(); err == nil {
		t.Fatal("expected error for name containing a reserved separator")
	}
}

func TestGraphMaterializeProducesIndependentChannels(t *testing.T) {
	g := NewGraph()
	g.AddChannel("c", func() Channel { return NewLastValueChannel(nil, false) })

	a := g.materialize()
	b := g.materialize()

	if _, err := a["c"].Update([]any{"x"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := b["c"].Get(); err == nil {
		t.Fatal("expected materialize to hand back independent channel instances")
	}
}

func TestGraphTriggersOf(t *testing.T) {
	g := NewGraph()
	g.AddChannel("input", func() Channel { return NewLastValueChannel(nil, false) })
	g.AddNode(NodeSpec{Name: "step", Triggers: []string{"input"}}, noopNode())

	if got := g.triggersOf("step"); len(got) != 1 || got[0] != "input" {
		t.Fatalf("expected [input], got %v", got)
	}
	if got := g.triggersOf("unknown"); got != nil {
		t.Fatalf("expected nil for unknown node, got %v", got)
	}
}
