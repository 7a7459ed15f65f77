package translate

import (
	"encoding/json"
	"fmt"

	"github.com/cortexproxy/cortex-proxy/internal/protocol/anthropic"
	"github.com/cortexproxy/cortex-proxy/internal/protocol/openai"
)

// ResponseToAnthropic converts an OpenAI unary chat-completion object into
// the Anthropic message object, per the unary translator's contract.
// clientModel is the model name as requested by the client (Anthropic
// responses echo what the client asked for, not the resolved upstream
// name); requestID seeds the "msg_<NNNNNN>" id.
func ResponseToAnthropic(resp openai.Response, clientModel string, requestID int) (anthropic.Response, error) {
	if len(resp.Choices) == 0 {
		return anthropic.Response{}, fmt.Errorf("upstream response has no choices")
	}
	choice := resp.Choices[0]

	var content []anthropic.ResponseBlock
	if choice.Message.Content != nil && *choice.Message.Content != "" {
		content = append(content, anthropic.ResponseBlock{Type: "text", Text: *choice.Message.Content})
	}

	for _, call := range choice.Message.ToolCalls {
		input := parseToolArguments(call.Function.Arguments)
		content = append(content, anthropic.ResponseBlock{
			Type:  "tool_use",
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}

	stopReason := stopReasonForUnary(content, choice.FinishReason)

	return anthropic.Response{
		ID:         fmt.Sprintf("msg_%06d", requestID),
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      clientModel,
		StopReason: stopReason,
		Usage: anthropic.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// parseToolArguments parses a tool call's JSON-string arguments into an
// object; malformed JSON maps to an empty object per the unary translator's
// error-handling rule.
func parseToolArguments(arguments string) json.RawMessage {
	if arguments == "" {
		return json.RawMessage("{}")
	}
	var v any
	if err := json.Unmarshal([]byte(arguments), &v); err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(arguments)
}

func hasToolUse(content []anthropic.ResponseBlock) bool {
	for _, b := range content {
		if b.Type == "tool_use" {
			return true
		}
	}
	return false
}

// stopReasonForUnary computes the Anthropic stop_reason for a unary
// response: any tool_use block present forces "tool_use"; otherwise the
// OpenAI finish_reason is mapped directly.
func stopReasonForUnary(content []anthropic.ResponseBlock, finishReason string) string {
	if hasToolUse(content) {
		return "tool_use"
	}
	switch finishReason {
	case "stop":
		return "end_turn"
	case "tool_calls":
		return "tool_use"
	case "length", "max_tokens":
		return "max_tokens"
	default:
		return "end_turn"
	}
}
