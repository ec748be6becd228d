// Package rpc provides the aria2 JSON-RPC gateway used by every bridge operation.
package rpc

import (
	"fmt"
	"sync"
)

// LoopbackURL returns the aria2 WebSocket RPC address for a local daemon
// listening on port.
func LoopbackURL(port int) string {
	return fmt.Sprintf("ws://127.0.0.1:%d/jsonrpc", port)
}

// Endpoint holds the daemon's RPC address.
//
// The address is written once when the daemon is launched (or relaunched)
// and read by every RPC call. Readers never block each other; Set excludes
// all readers for the duration of the update.
type Endpoint struct {
	mu   sync.RWMutex
	addr string
}

// NewEndpoint creates an endpoint with an initial address, which may be empty.
func NewEndpoint(addr string) *Endpoint {
	return &Endpoint{addr: addr}
}

// Set replaces the endpoint address.
func (e *Endpoint) Set(addr string) {
	e.mu.Lock()
	e.addr = addr
	e.mu.Unlock()
}

// Addr returns the current address, or "" when the endpoint is not set.
func (e *Endpoint) Addr() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.addr
}
