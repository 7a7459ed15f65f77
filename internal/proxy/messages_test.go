package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cortexproxy/cortex-proxy/internal/state"
)

// mockTransport captures the outbound request and returns a canned response.
type mockTransport struct {
	capturedRequest *http.Request
	capturedBody    []byte
	responseBody    string
	responseStatus  int
	responseHeader  http.Header
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.capturedRequest = req
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		m.capturedBody = body
	}

	header := m.responseHeader
	if header == nil {
		header = http.Header{"Content-Type": []string{"application/json"}}
	}
	return &http.Response{
		StatusCode: m.responseStatus,
		Body:       io.NopCloser(strings.NewReader(m.responseBody)),
		Header:     header,
		Request:    req,
	}, nil
}

func newTestShared(mock *mockTransport) *state.Shared {
	return &state.Shared{
		Client:       &http.Client{Transport: mock},
		BaseURL:      "https://snowflake.example.com/api/v2/cortex/inference",
		AuthHeader:   "Bearer test-pat",
		DefaultModel: "claude-4-sonnet",
		ModelMap:     map[string]string{},
	}
}

func TestMessagesHandler_UnaryTextResponse(t *testing.T) {
	mock := &mockTransport{
		responseStatus: http.StatusOK,
		responseBody:   `{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`,
	}
	handler := &MessagesHandler{State: newTestShared(mock)}

	reqBody := `{"model":"claude-opus-4-5","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader([]byte(reqBody)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(mock.capturedRequest.URL.Path, "/chat/completions") {
		t.Errorf("expected request to /chat/completions, got %s", mock.capturedRequest.URL.Path)
	}
	if !strings.Contains(string(mock.capturedBody), `"max_completion_tokens":10`) {
		t.Errorf("expected max_tokens renamed in upstream body, got: %s", mock.capturedBody)
	}
	if !strings.Contains(rec.Body.String(), `"text":"hello"`) {
		t.Errorf("expected translated text in response, got: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"stop_reason":"end_turn"`) {
		t.Errorf("expected stop_reason end_turn, got: %s", rec.Body.String())
	}
}

func TestMessagesHandler_ConversationCompleteSynthesizesDone(t *testing.T) {
	mock := &mockTransport{
		responseStatus: http.StatusBadRequest,
		responseBody:   `{"error":{"message":"tool_result blocks must follow a tool_use in the final position"}}`,
	}
	handler := &MessagesHandler{State: newTestShared(mock)}

	reqBody := `{"model":"claude-opus-4-5","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader([]byte(reqBody)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for synthesized Done.; body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"text":"Done."`) {
		t.Errorf("expected synthesized Done. text, got: %s", rec.Body.String())
	}
}

func TestMessagesHandler_UpstreamErrorForwarded(t *testing.T) {
	mock := &mockTransport{
		responseStatus: http.StatusTooManyRequests,
		responseBody:   `{"error":{"message":"rate limited"}}`,
	}
	handler := &MessagesHandler{State: newTestShared(mock)}

	reqBody := `{"model":"claude-opus-4-5","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader([]byte(reqBody)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429; body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"message":"rate limited"`) {
		t.Errorf("expected forwarded upstream message, got: %s", rec.Body.String())
	}
}

func TestMessagesHandler_MalformedRequestBody(t *testing.T) {
	handler := &MessagesHandler{State: newTestShared(&mockTransport{})}

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"type":"api_error"`) {
		t.Errorf("expected api_error type, got: %s", rec.Body.String())
	}
}
