package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/supersteps/pregel"
)

func TestNewToolNodeDispatchesByName(t *testing.T) {
	mock := &MockTool{
		ToolName:  "calculator",
		Responses: []map[string]interface{}{{"result": 42}},
	}
	registry := NewRegistry(mock)
	node := NewToolNode(registry, ToolNodeConfig{CallChannel: "call", OutputChannel: "result"})

	in := pregel.TaskInput{Values: map[string]any{
		"call": Call{Name: "calculator", Input: map[string]interface{}{"a": 40, "b": 2}},
	}}

	result := node.Run(context.Background(), in)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	out, ok := result.Update["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected map output, got %T", result.Update["result"])
	}
	if out["result"] != 42 {
		t.Fatalf("expected 42, got %v", out["result"])
	}
}

func TestNewToolNodeUnknownTool(t *testing.T) {
	registry := NewRegistry()
	node := NewToolNode(registry, ToolNodeConfig{CallChannel: "call", OutputChannel: "result"})

	result := node.Run(context.Background(), pregel.TaskInput{Values: map[string]any{
		"call": Call{Name: "missing"},
	}})
	if result.Err == nil {
		t.Fatal("expected error for unknown tool name")
	}
}

func TestNewToolNodeMissingCall(t *testing.T) {
	node := NewToolNode(NewRegistry(), ToolNodeConfig{CallChannel: "call", OutputChannel: "result"})

	result := node.Run(context.Background(), pregel.TaskInput{Values: map[string]any{}})
	if result.Err == nil {
		t.Fatal("expected error when the call channel does not hold a Call")
	}
}

func TestNewToolNodePropagatesToolError(t *testing.T) {
	mock := &MockTool{ToolName: "flaky", Err: errors.New("upstream failure")}
	node := NewToolNode(NewRegistry(mock), ToolNodeConfig{CallChannel: "call", OutputChannel: "result"})

	result := node.Run(context.Background(), pregel.TaskInput{Values: map[string]any{
		"call": Call{Name: "flaky"},
	}})
	if result.Err == nil {
		t.Fatal("expected tool error to propagate")
	}
}
