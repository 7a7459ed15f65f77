// Package toolvalidate checks that a normalized OpenAI-dialect message list
// keeps every tool call paired with its result. The check is advisory: a
// violation is reported to the caller for logging, never used to block
// forwarding.
package toolvalidate

import (
	"fmt"

	"github.com/cortexproxy/cortex-proxy/internal/protocol/openai"
)

// Validate walks messages in order, tracking which tool_calls ids are still
// awaiting a matching tool message. Each assistant message replaces the
// pending set with its own tool_calls ids; each tool message must answer an
// id that is still pending. It returns a non-nil error describing the first
// violation found; a nil return means every tool message answered a pending
// call and none remained pending at the end. A call left unanswered when a
// later assistant message starts is dropped from pending and not reported.
func Validate(messages []openai.Message) error {
	pending := map[string]struct{}{}

	for i, msg := range messages {
		switch msg.Role {
		case "assistant":
			pending = make(map[string]struct{}, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				pending[call.ID] = struct{}{}
			}
		case "tool":
			if _, ok := pending[msg.ToolCallID]; !ok {
				return fmt.Errorf("message %d: tool message references unknown or already-answered tool_call_id %q", i, msg.ToolCallID)
			}
			delete(pending, msg.ToolCallID)
		}
	}

	if len(pending) > 0 {
		return fmt.Errorf("%d tool call(s) never received a matching tool message", len(pending))
	}
	return nil
}
