package model

import (
	"context"
	"errors"
	"testing"

	"github.com/supersteps/pregel"
)

func TestNewChatNodeWritesOutput(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "hello there"}}}
	node := NewChatNode(mock, ChatNodeConfig{
		MessagesChannel: "messages",
		ToolsChannel:    "tools",
		OutputChannel:   "reply",
	})

	in := pregel.TaskInput{Values: map[string]any{
		"messages": []Message{{Role: RoleUser, Content: "hi"}},
		"tools":    []ToolSpec{{Name: "search"}},
	}}

	result := node.Run(context.Background(), in)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	out, ok := result.Update["reply"].(ChatOut)
	if !ok {
		t.Fatalf("expected ChatOut in reply, got %T", result.Update["reply"])
	}
	if out.Text != "hello there" {
		t.Fatalf("expected 'hello there', got %q", out.Text)
	}
	if len(mock.Calls) != 1 || len(mock.Calls[0].Tools) != 1 {
		t.Fatalf("expected model to receive the tools channel, got %+v", mock.Calls)
	}
}

func TestNewChatNodePropagatesError(t *testing.T) {
	mock := &MockChatModel{Err: errors.New("provider down")}
	node := NewChatNode(mock, ChatNodeConfig{MessagesChannel: "messages", OutputChannel: "reply"})

	result := node.Run(context.Background(), pregel.TaskInput{Values: map[string]any{}})
	if result.Err == nil {
		t.Fatal("expected error to propagate from ChatModel")
	}
}

func TestNewChatNodeWithoutToolsChannel(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}
	node := NewChatNode(mock, ChatNodeConfig{MessagesChannel: "messages", OutputChannel: "reply"})

	node.Run(context.Background(), pregel.TaskInput{Values: map[string]any{
		"messages": []Message{{Role: RoleUser, Content: "hi"}},
	}})

	if len(mock.Calls) != 1 {
		t.Fatalf("expected one call, got %d", len(mock.Calls))
	}
	if mock.Calls[0].Tools != nil {
		t.Fatalf("expected no tools offered when ToolsChannel is unset, got %v", mock.Calls[0].Tools)
	}
}
