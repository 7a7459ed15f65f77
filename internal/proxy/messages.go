package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/cortexproxy/cortex-proxy/internal/protocol/anthropic"
	"github.com/cortexproxy/cortex-proxy/internal/protocol/openai"
	"github.com/cortexproxy/cortex-proxy/internal/protocol/translate"
	"github.com/cortexproxy/cortex-proxy/internal/state"
	"github.com/cortexproxy/cortex-proxy/internal/toolvalidate"
)

// requestCounter seeds the "msg_<NNNNNN>" ids on unary, streamed, and
// synthesized "Done." responses. It is the
// one piece of mutable state shared across requests; it only ever counts up
// and carries no semantic meaning beyond uniqueness within a process run.
var requestCounter atomic.Int64

func nextRequestID() int {
	return int(requestCounter.Add(1))
}

// MessagesHandler serves POST /v1/messages: the Anthropic-dialect entry
// point, translated to and from the single OpenAI-dialect upstream.
type MessagesHandler struct {
	State *state.Shared
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAnthropicError(ctx, w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var anthReq anthropic.Request
	if err := json.Unmarshal(body, &anthReq); err != nil {
		writeAnthropicError(ctx, w, http.StatusBadRequest, fmt.Sprintf("malformed request JSON: %v", err))
		return
	}

	translated, err := translate.RequestToOpenAI(anthReq, h.State.DefaultModel, h.State.ModelMap)
	if err != nil {
		writeAnthropicError(ctx, w, http.StatusBadRequest, fmt.Sprintf("failed to translate request: %v", err))
		return
	}

	if err := toolvalidate.Validate(translated.Body.Messages); err != nil {
		slog.WarnContext(ctx, "tool conversation pairing violation", "error", err)
	}

	upstreamReq, err := h.newUpstreamRequest(ctx, translated.Body)
	if err != nil {
		writeAnthropicError(ctx, w, http.StatusInternalServerError, fmt.Sprintf("failed to build upstream request: %v", err))
		return
	}

	upstreamResp, err := h.State.Client.Do(upstreamReq)
	if err != nil {
		writeAnthropicError(ctx, w, http.StatusBadGateway, fmt.Sprintf("upstream connection failure: %v", err))
		return
	}
	defer upstreamResp.Body.Close()

	decodedBody, err := decodeUpstreamBody(upstreamResp)
	if err != nil {
		writeAnthropicError(ctx, w, http.StatusBadGateway, fmt.Sprintf("failed to decode upstream response: %v", err))
		return
	}
	defer decodedBody.Close()

	if upstreamResp.StatusCode >= 400 {
		h.handleUpstreamError(ctx, w, upstreamResp.StatusCode, decodedBody, anthReq.Model, translated.Stream)
		return
	}

	if translated.Stream {
		h.streamResponse(ctx, w, decodedBody, anthReq.Model)
		return
	}
	h.unaryResponse(ctx, w, decodedBody, anthReq.Model)
}

func (h *MessagesHandler) newUpstreamRequest(ctx context.Context, body openai.Request) (*http.Request, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.State.BaseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	setUpstreamHeaders(req, h.State, body.Stream)
	return req, nil
}

// setUpstreamHeaders attaches the outbound header contract common to every
// upstream call: content negotiation, gzip acceptance, User-Agent, and auth.
func setUpstreamHeaders(req *http.Request, shared *state.Shared, streaming bool) {
	req.Header.Set("Content-Type", "application/json")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", "cortex-proxy/"+version)
	req.Header.Set("Authorization", shared.AuthHeader)
	req.Header.Set("X-Snowflake-Authorization-Token-Type", "PROGRAMMATIC_ACCESS_TOKEN")
}

func (h *MessagesHandler) unaryResponse(ctx context.Context, w http.ResponseWriter, body io.Reader, clientModel string) {
	raw, err := io.ReadAll(body)
	if err != nil {
		writeAnthropicError(ctx, w, http.StatusBadGateway, fmt.Sprintf("failed to read upstream body: %v", err))
		return
	}

	var upstreamResp openai.Response
	if err := json.Unmarshal(raw, &upstreamResp); err != nil {
		writeAnthropicError(ctx, w, http.StatusBadGateway, fmt.Sprintf("malformed upstream response: %v", err))
		return
	}

	anthResp, err := translate.ResponseToAnthropic(upstreamResp, clientModel, nextRequestID())
	if err != nil {
		writeAnthropicError(ctx, w, http.StatusBadGateway, fmt.Sprintf("failed to translate upstream response: %v", err))
		return
	}

	writeJSON(ctx, w, anthResp, http.StatusOK)
}

func (h *MessagesHandler) streamResponse(ctx context.Context, w http.ResponseWriter, body io.Reader, clientModel string) {
	sse, err := NewSSEWriter(w)
	if err != nil {
		writeAnthropicError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	tr := translate.NewStreamTransducer(clientModel)
	messageID := fmt.Sprintf("msg_%06d", nextRequestID())

	start := tr.Start(messageID)
	if err := sse.WriteEvent(start.Name, start.Payload); err != nil {
		slog.ErrorContext(ctx, "failed to write message_start", "error", err)
		return
	}

	reader := bufio.NewReaderSize(body, 64*1024)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			events, err := tr.Feed(buf[:n])
			if err != nil {
				slog.ErrorContext(ctx, "stream decode error, terminating early", "error", err)
				_ = sse.WriteComment(fmt.Sprintf("stream decode error: %v", err))
				break
			}
			for _, ev := range events {
				if err := sse.WriteEvent(ev.Name, ev.Payload); err != nil {
					return
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				slog.ErrorContext(ctx, "error reading upstream stream", "error", readErr)
				_ = sse.WriteComment(fmt.Sprintf("upstream read error: %v", readErr))
			}
			break
		}
	}

	for _, ev := range tr.Close() {
		if err := sse.WriteEvent(ev.Name, ev.Payload); err != nil {
			return
		}
	}
}

// handleUpstreamError classifies a non-2xx upstream reply: the
// conversation-complete synthesis path for tool-pairing quirks, or a
// forwarded error envelope otherwise.
func (h *MessagesHandler) handleUpstreamError(ctx context.Context, w http.ResponseWriter, status int, body io.Reader, clientModel string, streaming bool) {
	raw, _ := io.ReadAll(body)

	if status == http.StatusBadRequest && isConversationComplete(raw) {
		h.synthesizeDone(ctx, w, clientModel, streaming)
		return
	}

	message := extractUpstreamErrorMessage(raw)
	writeAnthropicError(ctx, w, status, message)
}

// isConversationComplete reports whether an upstream 400 body indicates the
// tool round-trip was already semantically complete, per the dispatcher's
// conversation-complete synthesis rule.
func isConversationComplete(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "final position") || strings.Contains(lower, "tool_result")
}

// synthesizeDone responds with a valid, empty "Done." completion so clients
// are shielded from the upstream quirk of rejecting an already-complete tool
// conversation.
func (h *MessagesHandler) synthesizeDone(ctx context.Context, w http.ResponseWriter, clientModel string, streaming bool) {
	if !streaming {
		writeJSON(ctx, w, anthropic.Response{
			ID:         fmt.Sprintf("msg_%06d", nextRequestID()),
			Type:       "message",
			Role:       "assistant",
			Content:    []anthropic.ResponseBlock{{Type: "text", Text: "Done."}},
			Model:      clientModel,
			StopReason: "end_turn",
		}, http.StatusOK)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		writeAnthropicError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	tr := translate.NewStreamTransducer(clientModel)
	messageID := fmt.Sprintf("msg_%06d", nextRequestID())

	events := []translate.Event{tr.Start(messageID)}
	events = append(events, translate.Event{
		Name: anthropic.EventContentBlockStart,
		Payload: anthropic.ContentBlockStartEvent{
			Type:         anthropic.EventContentBlockStart,
			Index:        0,
			ContentBlock: anthropic.ResponseBlock{Type: "text"},
		},
	})
	events = append(events, translate.Event{
		Name: anthropic.EventContentBlockDelta,
		Payload: anthropic.ContentBlockDeltaEvent{
			Type:  anthropic.EventContentBlockDelta,
			Index: 0,
			Delta: anthropic.TextDelta("Done."),
		},
	})
	events = append(events, translate.Event{
		Name:    anthropic.EventContentBlockStop,
		Payload: anthropic.ContentBlockStopEvent{Type: anthropic.EventContentBlockStop, Index: 0},
	})
	events = append(events, translate.Event{
		Name: anthropic.EventMessageDelta,
		Payload: anthropic.MessageDeltaEvent{
			Type:  anthropic.EventMessageDelta,
			Delta: anthropic.MessageDeltaBody{StopReason: "end_turn"},
		},
	})
	events = append(events, translate.Event{Name: anthropic.EventMessageStop, Payload: anthropic.MessageStopEvent{Type: anthropic.EventMessageStop}})

	for _, ev := range events {
		if err := sse.WriteEvent(ev.Name, ev.Payload); err != nil {
			return
		}
	}
}

// extractUpstreamErrorMessage pulls a human-readable message out of an
// upstream error body, falling back to the raw bytes when it isn't the
// expected {"error":{"message":...}} shape.
func extractUpstreamErrorMessage(body []byte) string {
	var upstreamErr openai.Error
	if err := json.Unmarshal(body, &upstreamErr); err == nil && upstreamErr.Error.Message != "" {
		return upstreamErr.Error.Message
	}
	if len(body) == 0 {
		return "upstream request failed"
	}
	return string(body)
}

// version is the proxy's own release identifier, advertised via User-Agent.
const version = "0.1.0"
