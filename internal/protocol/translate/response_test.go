package translate_test

import (
	"testing"

	"github.com/cortexproxy/cortex-proxy/internal/protocol/openai"
	"github.com/cortexproxy/cortex-proxy/internal/protocol/translate"
)

func strPtr(s string) *string { return &s }

// TestResponseToAnthropic_S1UnaryText exercises scenario S1's upstream reply leg.
func TestResponseToAnthropic_S1UnaryText(t *testing.T) {
	resp := openai.Response{
		Choices: []openai.Choice{{
			Message:      openai.Message{Content: strPtr("hello")},
			FinishReason: "stop",
		}},
		Usage: openai.Usage{PromptTokens: 1, CompletionTokens: 1},
	}

	got, err := translate.ResponseToAnthropic(resp, "claude-opus-4-5", 1)
	if err != nil {
		t.Fatalf("ResponseToAnthropic() error = %v", err)
	}

	if len(got.Content) != 1 || got.Content[0].Type != "text" || got.Content[0].Text != "hello" {
		t.Fatalf("Content = %+v, want one text block \"hello\"", got.Content)
	}
	if got.StopReason != "end_turn" {
		t.Errorf("StopReason = %q, want end_turn", got.StopReason)
	}
	if got.Usage.InputTokens != 1 || got.Usage.OutputTokens != 1 {
		t.Errorf("Usage = %+v, want {1 1}", got.Usage)
	}
	if got.ID != "msg_000001" {
		t.Errorf("ID = %q, want msg_000001", got.ID)
	}
	if got.Model != "claude-opus-4-5" {
		t.Errorf("Model = %q, want claude-opus-4-5 (the client-requested name)", got.Model)
	}
}

func TestResponseToAnthropic_ToolCallForcesToolUseStopReason(t *testing.T) {
	resp := openai.Response{
		Choices: []openai.Choice{{
			Message: openai.Message{
				ToolCalls: []openai.ToolCall{{ID: "T1", Type: "function", Function: openai.ToolCallFunc{Name: "f", Arguments: `{"a":1}`}}},
			},
			FinishReason: "stop", // even a "stop" finish reason is overridden by a tool_use block present
		}},
	}

	got, err := translate.ResponseToAnthropic(resp, "claude-4-sonnet", 2)
	if err != nil {
		t.Fatalf("ResponseToAnthropic() error = %v", err)
	}
	if got.StopReason != "tool_use" {
		t.Errorf("StopReason = %q, want tool_use", got.StopReason)
	}
	if len(got.Content) != 1 || got.Content[0].Type != "tool_use" || got.Content[0].ID != "T1" || got.Content[0].Name != "f" {
		t.Fatalf("Content = %+v, want one tool_use block for T1", got.Content)
	}
	if string(got.Content[0].Input) != `{"a":1}` {
		t.Errorf("Input = %s, want {\"a\":1}", got.Content[0].Input)
	}
}

func TestResponseToAnthropic_MalformedArgumentsBecomeEmptyObject(t *testing.T) {
	resp := openai.Response{
		Choices: []openai.Choice{{
			Message: openai.Message{
				ToolCalls: []openai.ToolCall{{ID: "T1", Function: openai.ToolCallFunc{Name: "f", Arguments: "{not json"}}},
			},
			FinishReason: "tool_calls",
		}},
	}

	got, err := translate.ResponseToAnthropic(resp, "claude-4-sonnet", 3)
	if err != nil {
		t.Fatalf("ResponseToAnthropic() error = %v", err)
	}
	if string(got.Content[0].Input) != "{}" {
		t.Errorf("Input = %s, want {}", got.Content[0].Input)
	}
}

func TestResponseToAnthropic_FinishReasonMapping(t *testing.T) {
	tests := []struct {
		finishReason string
		want         string
	}{
		{"stop", "end_turn"},
		{"tool_calls", "tool_use"},
		{"length", "max_tokens"},
		{"max_tokens", "max_tokens"},
		{"content_filter", "end_turn"},
		{"", "end_turn"},
	}

	for _, tt := range tests {
		resp := openai.Response{
			Choices: []openai.Choice{{Message: openai.Message{Content: strPtr("x")}, FinishReason: tt.finishReason}},
		}
		got, err := translate.ResponseToAnthropic(resp, "claude-4-sonnet", 1)
		if err != nil {
			t.Fatalf("ResponseToAnthropic() error = %v", err)
		}
		if got.StopReason != tt.want {
			t.Errorf("finish_reason %q -> StopReason = %q, want %q", tt.finishReason, got.StopReason, tt.want)
		}
	}
}
