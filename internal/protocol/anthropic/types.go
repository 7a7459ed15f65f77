// Package anthropic holds the wire types for the Anthropic Messages dialect:
// requests, unary responses, and the SSE event union this proxy emits to
// clients speaking this dialect.
package anthropic

import (
	"encoding/json"
	"fmt"
)

// Request is a POST /v1/messages request body.
type Request struct {
	Model         string          `json:"model"`
	Stream        bool            `json:"stream,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	System        json.RawMessage `json:"system,omitempty"`
	Messages      []Message       `json:"messages"`
	Tools         []Tool          `json:"tools,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
}

// Message is one entry of Request.Messages. Content is either a JSON string
// or an ordered array of content blocks; callers use ParseContent to
// distinguish the two.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Block is a tagged union over Anthropic content block kinds. Decoding fills
// every field whose key the JSON carries, whatever the block's Type; callers
// switch on Type and skip unrecognized types defensively per the
// block-handling policy this proxy follows.
type Block struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ParseContent interprets a Message/tool_result's raw content field, which
// the dialect allows to be either a bare JSON string or an array of blocks.
func ParseContent(raw json.RawMessage) (text string, blocks []Block, isBlocks bool, err error) {
	if len(raw) == 0 {
		return "", nil, false, nil
	}
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return "", nil, false, fmt.Errorf("decode content blocks: %w", err)
		}
		return "", blocks, true, nil
	}
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", nil, false, fmt.Errorf("decode content string: %w", err)
	}
	return text, nil, false, nil
}

func trimLeadingSpace(raw json.RawMessage) json.RawMessage {
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return raw[i:]
}

// Response is the unary reply shape for POST /v1/messages.
type Response struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []ResponseBlock   `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
	Usage      Usage             `json:"usage"`
}

// ResponseBlock is a content block on an outbound Response (text or tool_use only).
type ResponseBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Usage carries Anthropic-dialect token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorResponse is the envelope every client-facing error renders as.
type ErrorResponse struct {
	Type  string       `json:"type"`
	Error ErrorDetail  `json:"error"`
}

// ErrorDetail is the nested error payload of ErrorResponse.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds the standard {"type":"error",...} envelope.
func NewErrorResponse(errType, message string) ErrorResponse {
	return ErrorResponse{
		Type: "error",
		Error: ErrorDetail{
			Type:    errType,
			Message: message,
		},
	}
}

// Stream event type discriminators, written as literal "type" field values
// on the JSON the SSE transducer emits.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
)

// MessageStartEvent is the first event of every stream; it carries an
// empty-content message skeleton for the client to accumulate into.
type MessageStartEvent struct {
	Type    string           `json:"type"`
	Message MessageSkeleton  `json:"message"`
}

// MessageSkeleton is the partial Response carried by MessageStartEvent.
type MessageSkeleton struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content []ResponseBlock `json:"content"`
	Model   string          `json:"model"`
	Usage   Usage           `json:"usage"`
}

// NewMessageStartEvent builds the stream's opening event.
func NewMessageStartEvent(id, model string) MessageStartEvent {
	return MessageStartEvent{
		Type: EventMessageStart,
		Message: MessageSkeleton{
			ID:      id,
			Type:    "message",
			Role:    "assistant",
			Content: []ResponseBlock{},
			Model:   model,
		},
	}
}

// ContentBlockStartEvent opens a new indexed content block.
type ContentBlockStartEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index"`
	ContentBlock ResponseBlock `json:"content_block"`
}

// ContentBlockStopEvent closes a previously opened indexed content block.
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// ContentBlockDeltaEvent carries an incremental update to an open block.
type ContentBlockDeltaEvent struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

// BlockDelta is the tagged delta payload of ContentBlockDeltaEvent.
type BlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// TextDelta builds a text_delta payload.
func TextDelta(text string) BlockDelta {
	return BlockDelta{Type: "text_delta", Text: text}
}

// InputJSONDelta builds an input_json_delta payload.
func InputJSONDelta(partialJSON string) BlockDelta {
	return BlockDelta{Type: "input_json_delta", PartialJSON: partialJSON}
}

// MessageDeltaEvent carries the terminal stop_reason and usage totals.
type MessageDeltaEvent struct {
	Type  string            `json:"type"`
	Delta MessageDeltaBody   `json:"delta"`
	Usage MessageDeltaUsage `json:"usage"`
}

// MessageDeltaBody is the delta payload of MessageDeltaEvent.
type MessageDeltaBody struct {
	StopReason string `json:"stop_reason"`
}

// MessageDeltaUsage is the usage payload of MessageDeltaEvent (output_tokens only;
// input_tokens was already reported in MessageStartEvent per the dialect).
type MessageDeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// MessageStopEvent terminates the stream.
type MessageStopEvent struct {
	Type string `json:"type"`
}
