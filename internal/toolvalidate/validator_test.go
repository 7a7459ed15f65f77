package toolvalidate_test

import (
	"testing"

	"github.com/cortexproxy/cortex-proxy/internal/protocol/openai"
	"github.com/cortexproxy/cortex-proxy/internal/toolvalidate"
)

func strPtr(s string) *string { return &s }

func TestValidate_OK(t *testing.T) {
	messages := []openai.Message{
		{Role: "user", Content: strPtr("q")},
		{Role: "assistant", Content: nil, ToolCalls: []openai.ToolCall{{ID: "T1", Type: "function", Function: openai.ToolCallFunc{Name: "f"}}}},
		{Role: "tool", ToolCallID: "T1", Name: "f", Content: strPtr("42")},
	}

	if err := toolvalidate.Validate(messages); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidate_UnmatchedToolCallAtEnd(t *testing.T) {
	messages := []openai.Message{
		{Role: "user", Content: strPtr("q")},
		{Role: "assistant", Content: nil, ToolCalls: []openai.ToolCall{{ID: "T1", Type: "function", Function: openai.ToolCallFunc{Name: "f"}}}},
	}

	if err := toolvalidate.Validate(messages); err == nil {
		t.Fatal("Validate() = nil, want an error for an unanswered tool call")
	}
}

func TestValidate_ToolMessageWithUnknownID(t *testing.T) {
	messages := []openai.Message{
		{Role: "tool", ToolCallID: "ghost", Content: strPtr("42")},
	}

	if err := toolvalidate.Validate(messages); err == nil {
		t.Fatal("Validate() = nil, want an error for an unknown tool_call_id")
	}
}

func TestValidate_NewAssistantMessageClearsPending(t *testing.T) {
	// Per the pairing rule, entering a new assistant message replaces the
	// pending set outright: T1 is dropped from pending when the second
	// assistant message starts, so only T2 has to be answered and the list
	// validates.
	messages := []openai.Message{
		{Role: "assistant", ToolCalls: []openai.ToolCall{{ID: "T1", Type: "function", Function: openai.ToolCallFunc{Name: "f"}}}},
		{Role: "assistant", ToolCalls: []openai.ToolCall{{ID: "T2", Type: "function", Function: openai.ToolCallFunc{Name: "g"}}}},
		{Role: "tool", ToolCallID: "T2", Name: "g", Content: strPtr("ok")},
	}

	if err := toolvalidate.Validate(messages); err != nil {
		t.Fatalf("Validate() = %v, want nil because the second assistant message clears T1 from pending", err)
	}
}

func TestValidate_MultipleCallsInOneAssistantMessage(t *testing.T) {
	messages := []openai.Message{
		{Role: "assistant", ToolCalls: []openai.ToolCall{
			{ID: "T1", Type: "function", Function: openai.ToolCallFunc{Name: "f"}},
			{ID: "T2", Type: "function", Function: openai.ToolCallFunc{Name: "g"}},
		}},
		{Role: "tool", ToolCallID: "T1", Name: "f", Content: strPtr("a")},
		{Role: "tool", ToolCallID: "T2", Name: "g", Content: strPtr("b")},
	}

	if err := toolvalidate.Validate(messages); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}
