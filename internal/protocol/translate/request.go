// Package translate implements the three core protocol conversions: the
// Anthropic request to OpenAI request rewrite, the OpenAI unary response to
// Anthropic message reconstruction, and the OpenAI SSE to Anthropic SSE
// stream transducer.
package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cortexproxy/cortex-proxy/internal/model"
	"github.com/cortexproxy/cortex-proxy/internal/protocol/anthropic"
	"github.com/cortexproxy/cortex-proxy/internal/protocol/openai"
)

const defaultMaxTokens = 4096

// Request holds the translated OpenAI request body plus the streaming flag,
// matching the contract of the Anthropic->OpenAI request translator.
type Request struct {
	Body   openai.Request
	Stream bool
}

// RequestToOpenAI converts an Anthropic request to its OpenAI equivalent.
// defaultModel is substituted for an absent/empty req.Model before
// model.Resolve runs, so the configured default and the resolver's own
// fallback compose without contradiction.
func RequestToOpenAI(req anthropic.Request, defaultModel string, modelMap map[string]string) (Request, error) {
	requestedModel := req.Model
	if requestedModel == "" {
		requestedModel = defaultModel
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	out := openai.Request{
		Model:               model.Resolve(requestedModel, modelMap),
		Stream:              req.Stream,
		MaxCompletionTokens: maxTokens,
		Temperature:         req.Temperature,
		TopP:                req.TopP,
		Stop:                req.StopSequences,
	}

	if len(req.Tools) > 0 {
		out.Tools = make([]openai.Tool, len(req.Tools))
		for i, tool := range req.Tools {
			params := tool.InputSchema
			if len(params) == 0 {
				params = json.RawMessage(`{"type":"object"}`)
			}
			out.Tools[i] = openai.Tool{
				Type: "function",
				Function: openai.ToolFunction{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  params,
				},
			}
		}
	}

	systemText, err := flattenSystem(req.System)
	if err != nil {
		return Request{}, fmt.Errorf("flatten system prompt: %w", err)
	}
	if systemText != "" {
		out.Messages = append(out.Messages, openai.Message{Role: "system", Content: &systemText})
	}

	conv := &messageConverter{}
	for i, msg := range req.Messages {
		converted, err := conv.convert(msg)
		if err != nil {
			return Request{}, fmt.Errorf("message %d: %w", i, err)
		}
		out.Messages = append(out.Messages, converted...)
	}
	// A tool_use left queued at the end of the conversation never had a
	// matching tool_result. The translator must never silently drop it, so
	// it is still emitted (as a trailing assistant tool-call message); the
	// pairing violation itself is left for the conversation validator to
	// report, not blocked here.
	if len(conv.queuedToolUses) > 0 {
		out.Messages = append(out.Messages, openai.Message{
			Role:      "assistant",
			Content:   nil,
			ToolCalls: toolCallsFromBlocks(conv.queuedToolUses),
		})
	}

	return Request{Body: out, Stream: req.Stream}, nil
}

// flattenSystem reduces the Anthropic system field (string or block array)
// to a single string, joining multiple text blocks with "\n".
func flattenSystem(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	text, blocks, isBlocks, err := anthropic.ParseContent(raw)
	if err != nil {
		return "", err
	}
	if !isBlocks {
		return text, nil
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// messageConverter walks an Anthropic message list and emits the equivalent
// OpenAI messages. It holds the per-request queue of tool_use blocks opened
// by an assistant message but not yet paired with their tool_result, per the
// translator's interleaving policy; a fresh converter exists for every
// request so no state crosses requests.
type messageConverter struct {
	queuedToolUses []anthropic.Block
}

// convert converts one Anthropic message into zero or more OpenAI messages.
func (c *messageConverter) convert(msg anthropic.Message) ([]openai.Message, error) {
	text, blocks, isBlocks, err := anthropic.ParseContent(msg.Content)
	if err != nil {
		return nil, err
	}

	if !isBlocks {
		if text == "" {
			return nil, nil
		}
		return []openai.Message{{Role: msg.Role, Content: &text}}, nil
	}

	var textParts []string
	var toolUses []anthropic.Block
	var toolResults []anthropic.Block
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				textParts = append(textParts, b.Text)
			}
		case "tool_use":
			toolUses = append(toolUses, b)
		case "tool_result":
			toolResults = append(toolResults, b)
		}
	}
	combinedText := strings.Join(textParts, "\n")

	switch msg.Role {
	case "assistant":
		var out []openai.Message
		if combinedText != "" {
			textCopy := combinedText
			out = append(out, openai.Message{Role: "assistant", Content: &textCopy})
		}
		c.queuedToolUses = append(c.queuedToolUses, toolUses...)
		return out, nil

	case "user":
		if len(toolResults) > 0 {
			pairs, err := c.drainQueueWithResults(toolResults)
			if err != nil {
				return nil, err
			}
			if combinedText != "" {
				trailingText := combinedText
				pairs = append(pairs, openai.Message{Role: "user", Content: &trailingText})
			}
			return pairs, nil
		}
		if combinedText != "" {
			textCopy := combinedText
			return []openai.Message{{Role: "user", Content: &textCopy}}, nil
		}
		return nil, nil

	default:
		if combinedText != "" {
			textCopy := combinedText
			return []openai.Message{{Role: msg.Role, Content: &textCopy}}, nil
		}
		return nil, nil
	}
}

// drainQueueWithResults reorders toolResults to match c.queuedToolUses'
// order (appending unknown-id results at the end, defensively, in their
// original order), emits each (tool_use, tool_result) pair as two
// consecutive OpenAI messages, then clears the queue.
func (c *messageConverter) drainQueueWithResults(toolResults []anthropic.Block) ([]openai.Message, error) {
	byID := make(map[string]anthropic.Block, len(toolResults))
	for _, r := range toolResults {
		if r.ToolUseID != "" {
			byID[r.ToolUseID] = r
		}
	}

	var ordered []anthropic.Block
	consumed := make(map[string]bool, len(toolResults))
	for _, use := range c.queuedToolUses {
		if r, ok := byID[use.ID]; ok {
			ordered = append(ordered, r)
			consumed[use.ID] = true
		}
	}
	for _, r := range toolResults {
		if r.ToolUseID == "" || !consumed[r.ToolUseID] {
			ordered = append(ordered, r)
		}
	}

	var out []openai.Message
	queue := c.queuedToolUses
	for i := 0; i < len(queue) && i < len(ordered); i++ {
		use := queue[i]
		result := ordered[i]

		argsJSON := use.Input
		if len(argsJSON) == 0 {
			argsJSON = json.RawMessage("{}")
		}

		out = append(out, openai.Message{
			Role:    "assistant",
			Content: nil,
			ToolCalls: []openai.ToolCall{{
				ID:   use.ID,
				Type: "function",
				Function: openai.ToolCallFunc{
					Name:      use.Name,
					Arguments: string(argsJSON),
				},
			}},
		})

		resultText, err := toolResultText(result)
		if err != nil {
			return nil, fmt.Errorf("tool_result for %q: %w", use.ID, err)
		}
		out = append(out, openai.Message{
			Role:       "tool",
			ToolCallID: use.ID,
			Name:       use.Name,
			Content:    &resultText,
		})
	}

	c.queuedToolUses = nil
	return out, nil
}

// toolCallsFromBlocks renders tool_use blocks as OpenAI tool_calls entries.
func toolCallsFromBlocks(uses []anthropic.Block) []openai.ToolCall {
	calls := make([]openai.ToolCall, len(uses))
	for i, use := range uses {
		argsJSON := use.Input
		if len(argsJSON) == 0 {
			argsJSON = json.RawMessage("{}")
		}
		calls[i] = openai.ToolCall{
			ID:   use.ID,
			Type: "function",
			Function: openai.ToolCallFunc{
				Name:      use.Name,
				Arguments: string(argsJSON),
			},
		}
	}
	return calls
}

// toolResultText extracts the tool_result content per the translator's
// extraction rule: string content passes through verbatim, an array of
// blocks concatenates the text of type-text entries (stringifying others),
// an object is stringified.
func toolResultText(result anthropic.Block) (string, error) {
	text, blocks, isBlocks, err := anthropic.ParseContent(result.Content)
	if err != nil {
		return "", err
	}
	if isBlocks {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			} else {
				raw, err := json.Marshal(b)
				if err != nil {
					return "", err
				}
				parts = append(parts, string(raw))
			}
		}
		return strings.Join(parts, "\n"), nil
	}
	return text, nil
}
