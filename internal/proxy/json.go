package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cortexproxy/cortex-proxy/internal/protocol/anthropic"
)

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeAnthropicError writes the dialect's standard
// {"type":"error","error":{"type":"api_error","message":...}} envelope.
// The inner error type is always the literal "api_error", per the external
// interface contract; only the HTTP status varies with the error kind.
func writeAnthropicError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	writeJSON(ctx, w, anthropic.NewErrorResponse("api_error", message), status)
}
