package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cortexproxy/cortex-proxy/internal/protocol/anthropic"
	"github.com/cortexproxy/cortex-proxy/internal/protocol/openai"
)

// Event pairs an SSE event name with its JSON payload, ready to be handed
// to an SSE writer.
type Event struct {
	Name    string
	Payload any
}

// StreamTransducer is the stateful consumer of an OpenAI SSE byte stream
// that emits the equivalent Anthropic SSE event stream. One instance exists
// per in-flight request; it is never shared.
type StreamTransducer struct {
	model string

	hadText       bool
	toolCount     int
	toolIndices   map[string]int // tool-call id -> Anthropic content-block index
	currentToolID string
	lastIndex     int // -1 = no block currently open
	finalEmitted  bool

	buf bytes.Buffer
}

// NewStreamTransducer creates a transducer for one request. model is the
// client-requested model name echoed on message_start.
func NewStreamTransducer(model string) *StreamTransducer {
	return &StreamTransducer{
		model:       model,
		toolIndices: make(map[string]int),
		lastIndex:   -1,
	}
}

// Start returns the message_start event, to be emitted before any upstream
// bytes are consumed.
func (t *StreamTransducer) Start(messageID string) Event {
	return Event{Name: anthropic.EventMessageStart, Payload: anthropic.NewMessageStartEvent(messageID, t.model)}
}

// Feed consumes one chunk of raw upstream SSE bytes, which may contain zero,
// one, or several complete events plus a trailing partial event that is
// buffered for the next call. It returns the Anthropic events produced.
func (t *StreamTransducer) Feed(chunk []byte) ([]Event, error) {
	t.buf.Write(chunk)

	var events []Event
	for {
		buffered := t.buf.Bytes()
		idx := bytes.Index(buffered, []byte("\n\n"))
		if idx < 0 {
			break
		}
		rawEvent := buffered[:idx]
		t.buf.Next(idx + 2)

		evEvents, err := t.processEvent(rawEvent)
		if err != nil {
			return events, err
		}
		events = append(events, evEvents...)
	}
	return events, nil
}

// processEvent handles one delimited upstream SSE event block.
func (t *StreamTransducer) processEvent(rawEvent []byte) ([]Event, error) {
	var dataLines []string
	for _, line := range strings.Split(string(rawEvent), "\n") {
		if after, ok := strings.CutPrefix(line, "data: "); ok {
			dataLines = append(dataLines, after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			dataLines = append(dataLines, after)
		}
	}
	if len(dataLines) == 0 {
		return nil, nil
	}
	payload := strings.Join(dataLines, "\n")
	if payload == "[DONE]" {
		return nil, nil
	}

	var chunk openai.StreamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return nil, fmt.Errorf("decode upstream stream chunk: %w", err)
	}

	if len(chunk.Choices) == 0 {
		return nil, nil
	}
	choice := chunk.Choices[0]

	var events []Event
	events = append(events, t.handleTextDelta(choice.Delta.Content)...)
	events = append(events, t.handleToolDeltas(choice.Delta.ToolCalls)...)
	if choice.FinishReason != nil {
		events = append(events, t.handleFinish(*choice.FinishReason)...)
	}
	return events, nil
}

// handleTextDelta implements the transducer's text-path.
func (t *StreamTransducer) handleTextDelta(content string) []Event {
	if content == "" {
		return nil
	}

	var events []Event
	if !t.hadText {
		events = append(events, Event{
			Name: anthropic.EventContentBlockStart,
			Payload: anthropic.ContentBlockStartEvent{
				Type:         anthropic.EventContentBlockStart,
				Index:        0,
				ContentBlock: anthropic.ResponseBlock{Type: "text"},
			},
		})
		t.hadText = true
		t.lastIndex = 0
	}

	events = append(events, Event{
		Name: anthropic.EventContentBlockDelta,
		Payload: anthropic.ContentBlockDeltaEvent{
			Type:  anthropic.EventContentBlockDelta,
			Index: 0,
			Delta: anthropic.TextDelta(content),
		},
	})
	return events
}

// handleToolDeltas implements the transducer's tool-path. The upstream may
// reuse the same positional index across distinct tool calls, so a new tool
// call is only recognized by the presence of both a non-empty id and a
// non-empty function name; argument fragments are routed to whichever tool
// was most recently opened.
func (t *StreamTransducer) handleToolDeltas(deltas []openai.StreamToolCall) []Event {
	var events []Event

	for _, delta := range deltas {
		if delta.ID != "" && delta.Function.Name != "" {
			if t.lastIndex >= 0 {
				events = append(events, t.closeBlock(t.lastIndex))
			}

			newIndex := t.toolCount
			if t.hadText {
				newIndex = 1 + t.toolCount
			}
			t.toolCount++

			t.toolIndices[delta.ID] = newIndex
			t.currentToolID = delta.ID
			t.lastIndex = newIndex

			events = append(events, Event{
				Name: anthropic.EventContentBlockStart,
				Payload: anthropic.ContentBlockStartEvent{
					Type:  anthropic.EventContentBlockStart,
					Index: newIndex,
					ContentBlock: anthropic.ResponseBlock{
						Type:  "tool_use",
						ID:    delta.ID,
						Name:  delta.Function.Name,
						Input: json.RawMessage("{}"),
					},
				},
			})
		}

		if delta.Function.Arguments == "" {
			continue
		}
		index, ok := t.toolIndices[t.currentToolID]
		if !ok {
			// Argument fragment arrived before any tool was opened; dropped
			// defensively per the transducer's documented policy.
			continue
		}
		events = append(events, Event{
			Name: anthropic.EventContentBlockDelta,
			Payload: anthropic.ContentBlockDeltaEvent{
				Type:  anthropic.EventContentBlockDelta,
				Index: index,
				Delta: anthropic.InputJSONDelta(delta.Function.Arguments),
			},
		})
	}

	return events
}

// handleFinish implements the transducer's finish-path.
func (t *StreamTransducer) handleFinish(finishReason string) []Event {
	if t.finalEmitted {
		return nil
	}

	var events []Event
	if t.lastIndex >= 0 {
		events = append(events, t.closeBlock(t.lastIndex))
		t.lastIndex = -1
	}

	events = append(events, Event{
		Name: anthropic.EventMessageDelta,
		Payload: anthropic.MessageDeltaEvent{
			Type:  anthropic.EventMessageDelta,
			Delta: anthropic.MessageDeltaBody{StopReason: t.stopReason(finishReason)},
			Usage: anthropic.MessageDeltaUsage{OutputTokens: 0},
		},
	})
	t.finalEmitted = true
	return events
}

// Close implements the end-of-stream guard plus the unconditional final
// message_stop. Call it exactly once, after the upstream byte stream has
// closed (whether or not a finish_reason chunk was ever seen).
func (t *StreamTransducer) Close() []Event {
	var events []Event

	if !t.finalEmitted {
		if t.lastIndex >= 0 {
			events = append(events, t.closeBlock(t.lastIndex))
			t.lastIndex = -1
		}
		stopReason := "end_turn"
		if t.toolCount > 0 {
			stopReason = "tool_use"
		}
		events = append(events, Event{
			Name: anthropic.EventMessageDelta,
			Payload: anthropic.MessageDeltaEvent{
				Type:  anthropic.EventMessageDelta,
				Delta: anthropic.MessageDeltaBody{StopReason: stopReason},
				Usage: anthropic.MessageDeltaUsage{OutputTokens: 0},
			},
		})
		t.finalEmitted = true
	}

	events = append(events, Event{Name: anthropic.EventMessageStop, Payload: anthropic.MessageStopEvent{Type: anthropic.EventMessageStop}})
	return events
}

func (t *StreamTransducer) closeBlock(index int) Event {
	return Event{
		Name:    anthropic.EventContentBlockStop,
		Payload: anthropic.ContentBlockStopEvent{Type: anthropic.EventContentBlockStop, Index: index},
	}
}

// stopReason computes stop_reason for the finish-path: any tool activity or
// an explicit "tool_calls" finish reason forces "tool_use".
func (t *StreamTransducer) stopReason(finishReason string) string {
	if t.toolCount > 0 || finishReason == "tool_calls" {
		return "tool_use"
	}
	switch finishReason {
	case "stop":
		return "end_turn"
	case "length", "max_tokens":
		return "max_tokens"
	default:
		return "end_turn"
	}
}
