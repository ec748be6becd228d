package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const jsonrpcVersion = "2.0"

// request is a JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// response is a JSON-RPC 2.0 response envelope. aria2 also pushes
// notifications (method set, no id) over the same socket.
type response struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result"`
	Error  *wireError      `json:"error"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Gateway issues aria2 RPC calls against the address held by an Endpoint.
//
// Every call dials a fresh WebSocket, sends exactly one request, waits for
// the matching response and closes the connection. No connection outlives
// the call that opened it, so a Gateway is safe for concurrent use.
type Gateway struct {
	endpoint *Endpoint
	secret   string
	timeout  time.Duration
	dialer   *websocket.Dialer
	logger   zerolog.Logger
}

// Option is a functional option for configuring the Gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithSecret sets the RPC secret; every call is then authorized with a
// "token:<secret>" first parameter.
func WithSecret(secret string) Option {
	return func(g *Gateway) {
		g.secret = secret
	}
}

// WithTimeout bounds the handshake and each socket read/write when the
// call's context carries no deadline. Zero leaves the transport defaults.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// NewGateway creates a Gateway reading its address from endpoint.
func NewGateway(endpoint *Endpoint, opts ...Option) *Gateway {
	g := &Gateway{
		endpoint: endpoint,
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(g)
	}

	g.dialer = &websocket.Dialer{
		Proxy:            nil,
		HandshakeTimeout: g.timeout,
	}

	return g
}

// Endpoint returns the endpoint the gateway dials.
func (g *Gateway) Endpoint() *Endpoint {
	return g.endpoint
}

// GetVersion calls aria2.getVersion.
func (g *Gateway) GetVersion(ctx context.Context) (VersionInfo, error) {
	var v VersionInfo
	if err := g.call(ctx, "aria2.getVersion", nil, &v); err != nil {
		return VersionInfo{}, err
	}
	return v, nil
}

// TellActive calls aria2.tellActive with the given field selection.
func (g *Gateway) TellActive(ctx context.Context, keys []string) ([]TaskStatus, error) {
	var tasks []TaskStatus
	if err := g.call(ctx, "aria2.tellActive", []any{keys}, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// TellStatus calls aria2.tellStatus for one task. aria2 omits the gid
// unless it is selected, so the returned record always carries gid.
func (g *Gateway) TellStatus(ctx context.Context, gid string, keys []string) (TaskStatus, error) {
	var task TaskStatus
	if err := g.call(ctx, "aria2.tellStatus", []any{gid, keys}, &task); err != nil {
		return TaskStatus{}, err
	}
	if task.GID == "" {
		task.GID = gid
	}
	return task, nil
}

// AddURI calls aria2.addUri and returns the gid of the new task. Extra
// request headers are sent as aria2's list-valued "header" option.
func (g *Gateway) AddURI(ctx context.Context, uris []string, opts Options, headers ...string) (string, error) {
	payload := make(map[string]any, len(opts)+1)
	for k, v := range opts {
		payload[k] = v
	}
	if len(headers) > 0 {
		payload["header"] = headers
	}

	var gid string
	if err := g.call(ctx, "aria2.addUri", []any{uris, payload}, &gid); err != nil {
		return "", err
	}
	return gid, nil
}

// Pause calls aria2.pause.
func (g *Gateway) Pause(ctx context.Context, gid string) (string, error) {
	return g.gidCall(ctx, "aria2.pause", gid)
}

// Unpause calls aria2.unpause.
func (g *Gateway) Unpause(ctx context.Context, gid string) (string, error) {
	return g.gidCall(ctx, "aria2.unpause", gid)
}

// Remove calls aria2.remove.
func (g *Gateway) Remove(ctx context.Context, gid string) (string, error) {
	return g.gidCall(ctx, "aria2.remove", gid)
}

// RemoveDownloadResult calls aria2.removeDownloadResult, dropping a
// finished task from the daemon's memory.
func (g *Gateway) RemoveDownloadResult(ctx context.Context, gid string) error {
	var ok string
	return g.call(ctx, "aria2.removeDownloadResult", []any{gid}, &ok)
}

// ChangeOption calls aria2.changeOption for one task.
func (g *Gateway) ChangeOption(ctx context.Context, gid string, opts Options) error {
	var ok string
	return g.call(ctx, "aria2.changeOption", []any{gid, opts}, &ok)
}

// Shutdown calls aria2.shutdown.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var ok string
	return g.call(ctx, "aria2.shutdown", nil, &ok)
}

func (g *Gateway) gidCall(ctx context.Context, method, gid string) (string, error) {
	var out string
	if err := g.call(ctx, method, []any{gid}, &out); err != nil {
		return "", err
	}
	return out, nil
}

// call performs one request on a connection of its own.
func (g *Gateway) call(ctx context.Context, method string, params []any, result any) error {
	addr := g.endpoint.Addr()
	if addr == "" {
		return &ConnectivityError{Method: method, Err: ErrEndpointUnset}
	}

	conn, resp, err := g.dialer.DialContext(ctx, addr, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return &ConnectivityError{Method: method, Addr: addr, Err: err}
	}
	defer g.close(conn)

	if deadline, ok := g.deadline(ctx); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}

	if g.secret != "" {
		params = append([]any{"token:" + g.secret}, params...)
	}
	if params == nil {
		params = []any{}
	}

	req := request{
		JSONRPC: jsonrpcVersion,
		ID:      ulid.Make().String(),
		Method:  method,
		Params:  params,
	}

	g.logger.Debug().
		Str("method", method).
		Str("id", req.ID).
		Str("addr", addr).
		Msg("rpc call")

	if err = conn.WriteJSON(req); err != nil {
		return &ConnectivityError{Method: method, Addr: addr, Err: err}
	}

	for {
		_, data, readErr := conn.ReadMessage()
		if readErr != nil {
			return &ConnectivityError{Method: method, Addr: addr, Err: readErr}
		}

		var msg response
		if err = json.Unmarshal(data, &msg); err != nil {
			return &ProtocolError{Method: method, Err: err}
		}

		if !sameID(msg.ID, req.ID) {
			// Notification or a stray frame.
			continue
		}

		if msg.Error != nil {
			return &ProtocolError{Method: method, Code: msg.Error.Code, Message: msg.Error.Message}
		}

		if result == nil || len(msg.Result) == 0 {
			return nil
		}
		if err = json.Unmarshal(msg.Result, result); err != nil {
			return &ProtocolError{Method: method, Err: err}
		}
		return nil
	}
}

func (g *Gateway) deadline(ctx context.Context) (time.Time, bool) {
	if d, ok := ctx.Deadline(); ok {
		return d, true
	}
	if g.timeout > 0 {
		return time.Now().Add(g.timeout), true
	}
	return time.Time{}, false
}

func (g *Gateway) close(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		g.logger.Debug().Err(err).Msg("failed to send close frame")
	}
	_ = conn.Close()
}

func sameID(raw json.RawMessage, id string) bool {
	if len(raw) == 0 {
		return false
	}
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	return got == id
}
