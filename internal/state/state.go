// Package state holds the proxy's shared, process-lifetime state: built once
// at startup from configuration, and read-only thereafter so it can be
// handed to every request-handling goroutine without synchronization.
package state

import (
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Shared is the outbound HTTP client (with its connection pool and timeout
// already configured), the upstream base URL and auth header, and the model
// resolution inputs.
type Shared struct {
	Client       *http.Client
	BaseURL      string
	AuthHeader   string
	DefaultModel string
	ModelMap     map[string]string
	LogLevel     slog.Level
}

// Params is the subset of configuration needed to build a Shared state,
// expressed without depending on the config package (which would otherwise
// create an import cycle between configuration and the dispatcher).
type Params struct {
	ConnectionPoolSize int
	TimeoutSecs        uint64
	BaseURL            string
	PAT                string
	DefaultModel       string
	ModelMap           map[string]string
	LogLevel           slog.Level
}

// New builds the shared state from startup parameters.
func New(p Params) *Shared {
	timeout := time.Duration(p.TimeoutSecs) * time.Second

	transport := &http.Transport{
		MaxIdleConnsPerHost: p.ConnectionPoolSize,
		MaxConnsPerHost:     p.ConnectionPoolSize,
		IdleConnTimeout:     60 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
	}

	return &Shared{
		Client:       &http.Client{Transport: transport, Timeout: timeout},
		BaseURL:      p.BaseURL,
		AuthHeader:   "Bearer " + p.PAT,
		DefaultModel: p.DefaultModel,
		ModelMap:     p.ModelMap,
		LogLevel:     p.LogLevel,
	}
}
