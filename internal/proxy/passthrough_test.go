package proxy

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPassthroughHandler_RewritesModelAndMaxTokens(t *testing.T) {
	mock := &mockTransport{
		responseStatus: http.StatusOK,
		responseBody:   `{"id":"chatcmpl-1","choices":[{"message":{"content":"hi"},"finish_reason":"stop"}]}`,
	}
	handler := &PassthroughHandler{State: newTestShared(mock)}

	reqBody := `{"model":"claude-3-haiku","max_tokens":256,"reasoning":{"effort":"high"},"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewReader([]byte(reqBody)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	got := string(mock.capturedBody)
	if strings.Contains(got, "max_tokens") {
		t.Errorf("expected max_tokens stripped from upstream body, got: %s", got)
	}
	if !strings.Contains(got, `"max_completion_tokens":256`) {
		t.Errorf("expected max_completion_tokens in upstream body, got: %s", got)
	}
	if strings.Contains(got, "reasoning") {
		t.Errorf("expected reasoning key stripped, got: %s", got)
	}
	if !strings.Contains(got, `"model":"claude-haiku-4-5"`) {
		t.Errorf("expected model resolved to upstream form, got: %s", got)
	}
}

func TestPassthroughHandler_RewritesCompletionsPath(t *testing.T) {
	mock := &mockTransport{responseStatus: http.StatusOK, responseBody: `{"choices":[]}`}
	handler := &PassthroughHandler{State: newTestShared(mock)}

	req := httptest.NewRequest(http.MethodPost, "/v1/completions", bytes.NewReader([]byte(`{"model":"claude-4-sonnet"}`)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !strings.HasSuffix(mock.capturedRequest.URL.Path, "/v1/chat/completions") {
		t.Errorf("expected path rewritten to end in /v1/chat/completions, got: %s", mock.capturedRequest.URL.Path)
	}
}

func TestPassthroughHandler_ConversationCompleteSynthesizesDone(t *testing.T) {
	mock := &mockTransport{
		responseStatus: http.StatusBadRequest,
		responseBody:   `{"error":{"message":"invalid final position for tool_result"}}`,
	}
	handler := &PassthroughHandler{State: newTestShared(mock)}

	req := httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewReader([]byte(`{"model":"claude-4-sonnet","messages":[]}`)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for synthesized Done.; body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Done.") {
		t.Errorf("expected synthesized Done. content, got: %s", rec.Body.String())
	}
}

func TestPassthroughHandler_OtherErrorsForwarded(t *testing.T) {
	mock := &mockTransport{
		responseStatus: http.StatusServiceUnavailable,
		responseBody:   `{"error":{"message":"overloaded"}}`,
	}
	handler := &PassthroughHandler{State: newTestShared(mock)}

	req := httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewReader([]byte(`{"model":"claude-4-sonnet","messages":[]}`)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503; body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "overloaded") {
		t.Errorf("expected forwarded body, got: %s", rec.Body.String())
	}
}
