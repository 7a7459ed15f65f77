package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cortexproxy/cortex-proxy/internal/observability/middleware"
	"github.com/cortexproxy/cortex-proxy/internal/state"
)

// Proxy is the HTTP server exposing the dispatcher's routes.
type Proxy struct {
	mux    *http.ServeMux
	server *http.Server
}

var _ http.Handler = (*Proxy)(nil)

// New builds the dispatcher's route table against the given shared state.
func New(shared *state.Shared) (*Proxy, error) {
	if shared.BaseURL == "" {
		return nil, fmt.Errorf("shared state: base URL must not be empty")
	}

	logger := slog.Default()
	chain := func(h http.Handler) http.Handler {
		return applyMiddlewares(h,
			middleware.RequestIDGeneration,
			middleware.RequestIDPropagation,
			middleware.TraceContextExtraction,
			middleware.Logging(logger),
			Recovery,
			CORS,
		)
	}

	messagesHandler := &MessagesHandler{State: shared}
	passthroughHandler := &PassthroughHandler{State: shared}

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", chain(http.HandlerFunc(healthHandler)))
	mux.Handle("POST /v1/messages", chain(messagesHandler))
	mux.Handle("/", chain(passthroughHandler))

	return &Proxy{mux: mux}, nil
}

// healthHandler serves the liveness probe the external supervisor polls.
// Registered against the exact "/{$}" pattern, so it never shadows the
// generic passthrough on any other GET path.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // bounded, but long enough for SSE streams
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		err := p.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	if err := p.server.Shutdown(ctx); err != nil {
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
