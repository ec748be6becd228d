//go:build e2e

// Package e2e provides end-to-end testing infrastructure.
package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ghermez/ariabridge/internal/config"
	"github.com/ghermez/ariabridge/internal/events"
	"github.com/ghermez/ariabridge/internal/server"
	testutil "github.com/ghermez/ariabridge/internal/testing"
	"github.com/ghermez/ariabridge/internal/timeline"
)

// Test configuration constants.
const (
	serverShutdownTimeout = 10 * time.Second
	containerCleanup      = 30 * time.Second
	startupTimeout        = 30 * time.Second
	pollSleepInterval     = 100 * time.Millisecond
)

// Harness provides a complete test environment for end-to-end tests.
// It runs aria2c in a container and an ariabridge server attached to it.
type Harness struct {
	t *testing.T

	// aria2 container
	Aria2 *testutil.Aria2Container

	// Application server and its API
	Server *server.Server
	API    *httptest.Server
	Config config.Config

	// Internal
	ctx       context.Context
	ctxCancel context.CancelFunc
	logger    zerolog.Logger
}

// Config configures the E2E test harness.
type Config struct {
	// Secret is the RPC secret shared by the daemon and the bridge.
	Secret string

	// Logger for test output (default: disabled)
	Logger zerolog.Logger
}

// DefaultConfig returns the default harness configuration.
func DefaultConfig() Config {
	return Config{
		Secret: "e2e-secret",
		Logger: zerolog.Nop(),
	}
}

// NewHarness creates a new E2E test harness.
func NewHarness(t *testing.T, cfg Config) *Harness {
	t.Helper()

	return &Harness{
		t:      t,
		logger: cfg.Logger,
	}
}

// Start launches the container and the server and waits until the daemon
// start has been recorded.
func (h *Harness) Start(ctx context.Context, cfg Config) {
	h.t.Helper()

	// Create cancellable context for cleanup
	h.ctx, h.ctxCancel = context.WithCancel(ctx)

	aria2Cfg := testutil.DefaultAria2ContainerConfig()
	aria2Cfg.Secret = cfg.Secret

	var err error
	h.Aria2, err = testutil.StartAria2Container(h.ctx, aria2Cfg)
	require.NoError(h.t, err, "failed to start aria2 container")

	h.Config = testutil.ValidConfig(h.t)
	h.Config.Daemon.Secret = cfg.Secret

	h.Server, err = server.New(h.Config, server.Options{
		RPCURL: h.Aria2.RPCURL(),
		Logger: cfg.Logger,
	})
	require.NoError(h.t, err, "failed to create server")

	// Start server in background
	go func() {
		_ = h.Server.Run(h.ctx)
	}()

	h.API = httptest.NewServer(h.Server.Handler())

	h.WaitForEvent(events.DaemonStarted, startupTimeout)
}

// Stop shuts down all components.
func (h *Harness) Stop() {
	h.t.Helper()

	// Cancel context to trigger shutdown
	if h.ctxCancel != nil {
		h.ctxCancel()
	}

	if h.API != nil {
		h.API.Close()
	}

	// Shutdown server gracefully
	if h.Server != nil {
		h.Server.PrepareShutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		_ = h.Server.Shutdown(shutdownCtx)
	}

	if h.Aria2 != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), containerCleanup)
		defer cancel()
		_ = h.Aria2.Cleanup(cleanupCtx)
	}
}

// Do sends a request to the API and decodes a JSON response into out when
// it is not nil. It returns the status code.
func (h *Harness) Do(method, path, body string, out any) int {
	h.t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(h.ctx, method, h.API.URL+path, reader)
	require.NoError(h.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.API.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// WaitForEvent waits for an entry of the given type to be recorded.
func (h *Harness) WaitForEvent(eventType events.Type, timeout time.Duration) timeline.Entry {
	h.t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		for _, e := range h.Server.Timeline().All() {
			if e.Type == eventType {
				return e
			}
		}
		time.Sleep(pollSleepInterval)
	}

	h.t.Fatalf("timeout waiting for %s", eventType)
	return timeline.Entry{}
}

// EventTypes returns the types of entries, oldest first.
func EventTypes(entries []timeline.Entry) []events.Type {
	types := make([]events.Type, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		types = append(types, entries[i].Type)
	}
	return types
}
