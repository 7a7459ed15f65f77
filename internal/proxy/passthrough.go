package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/cortexproxy/cortex-proxy/internal/model"
	"github.com/cortexproxy/cortex-proxy/internal/state"
)

// strippedPassthroughKeys are dropped from a passthrough request body before
// it is forwarded: fields the upstream dialect does not recognize.
var strippedPassthroughKeys = []string{
	"reasoning",
	"reasoningBudgetTokens",
	"service_tier",
	"parallel_tool_calls",
	"logprobs",
	"seed",
}

// PassthroughHandler serves every route other than the health check and the
// Anthropic-dialect endpoint: a generic OpenAI-dialect forward that rewrites
// the model, the max_tokens field name, and a small set of upstream-foreign
// keys, then relays the request and response largely unchanged.
type PassthroughHandler struct {
	State *state.Shared
}

func (h *PassthroughHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAnthropicError(ctx, w, http.StatusBadRequest, "failed to read request body")
		return
	}

	transformed, streaming := transformPassthroughBody(body, h.State.ModelMap)

	upstreamReq, err := h.newUpstreamPassthroughRequest(ctx, r, transformed)
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
		h.handlePassthroughError(ctx, w, upstreamResp.StatusCode, decodedBody, streaming)
		return
	}

	if streaming {
		forwardStream(ctx, w, decodedBody)
		return
	}
	forwardUnary(ctx, w, decodedBody)
}

// transformPassthroughBody applies the passthrough body rewrite: model
// resolution, the max_tokens rename, and stripping of upstream-foreign
// keys. A body that doesn't parse as JSON is forwarded byte-for-byte, and
// its nominal stream flag is taken to be false.
func transformPassthroughBody(body []byte, modelMap map[string]string) (out []byte, streaming bool) {
	var parsed struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return body, false
	}

	out = body
	if parsed.Model != "" {
		if rewritten, err := sjson.SetBytes(out, "model", model.Resolve(parsed.Model, modelMap)); err == nil {
			out = rewritten
		}
	}

	if maxTokens := gjson.GetBytes(out, "max_tokens"); maxTokens.Exists() {
		if rewritten, err := sjson.SetRawBytes(out, "max_completion_tokens", []byte(maxTokens.Raw)); err == nil {
			out = rewritten
			if rewritten, err := sjson.DeleteBytes(out, "max_tokens"); err == nil {
				out = rewritten
			}
		}
	}

	for _, key := range strippedPassthroughKeys {
		if rewritten, err := sjson.DeleteBytes(out, key); err == nil {
			out = rewritten
		}
	}

	return out, parsed.Stream
}

func (h *PassthroughHandler) newUpstreamPassthroughRequest(ctx context.Context, r *http.Request, body []byte) (*http.Request, error) {
	path := r.URL.Path
	if strings.HasSuffix(path, "/completions") && !strings.Contains(path, "/chat/") {
		path = strings.TrimSuffix(path, "/completions") + "/chat/completions"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, h.State.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Stream bool `json:"stream"`
	}
	_ = json.Unmarshal(body, &parsed)
	setUpstreamHeaders(req, h.State, parsed.Stream)
	return req, nil
}

func forwardUnary(ctx context.Context, w http.ResponseWriter, body io.Reader) {
	raw, err := io.ReadAll(body)
	if err != nil {
		writeAnthropicError(ctx, w, http.StatusBadGateway, fmt.Sprintf("failed to read upstream body: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// forwardStream relays the upstream SSE byte stream unchanged: passthrough
// requests never cross the Anthropic/OpenAI dialect boundary, so there is
// nothing to transduce.
func forwardStream(ctx context.Context, w http.ResponseWriter, body io.Reader) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if ok {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				slog.ErrorContext(ctx, "error reading upstream stream", "error", readErr)
			}
			return
		}
	}
}

// handlePassthroughError mirrors the Anthropic handler's conversation-
// complete synthesis, expressed in the OpenAI dialect instead.
func (h *PassthroughHandler) handlePassthroughError(ctx context.Context, w http.ResponseWriter, status int, body io.Reader, streaming bool) {
	raw, _ := io.ReadAll(body)

	if status == http.StatusBadRequest && isConversationComplete(raw) {
		synthesizeOpenAIDone(w, streaming)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// synthesizeOpenAIDone writes an OpenAI-dialect "Done." completion, unary or
// streaming as the original request asked.
func synthesizeOpenAIDone(w http.ResponseWriter, streaming bool) {
	if !streaming {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-done",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "Done."},
				"finish_reason": "stop",
			}},
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	chunk := map[string]any{
		"id": "chatcmpl-done",
		"choices": []map[string]any{{
			"index": 0,
			"delta": map[string]any{"role": "assistant", "content": "Done."},
		}},
	}
	encoded, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", encoded)

	final := map[string]any{
		"id":      "chatcmpl-done",
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{}, "finish_reason": "stop"}},
	}
	encodedFinal, _ := json.Marshal(final)
	fmt.Fprintf(w, "data: %s\n\n", encodedFinal)
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
