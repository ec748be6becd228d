// Package testing provides fake and containerised aria2 daemons for use in tests.
// This package should only be imported by test files (*_test.go).
package testing

import (
	"encoding/json"
	"fmt"
	"maps"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// FakeVersion is the version reported by a fresh Aria2Server.
const FakeVersion = "1.37.0"

// aria2 error code used for every failure the fake reports.
const fakeErrorCode = 1

// FakeFile represents a file of a task in the fake daemon.
type FakeFile struct {
	Path string
	URIs []string
}

// FakeTask represents a task in the fake daemon.
type FakeTask struct {
	GID             string
	Status          string // "active", "waiting", "paused", "error", "complete", "removed"
	Connections     int64
	DownloadSpeed   int64
	TotalLength     int64
	CompletedLength int64
	Dir             string
	ErrorCode       string
	ErrorMessage    string
	Files           []FakeFile
	Options         map[string]string
	Headers         []string
}

// Call records one request received by the fake daemon.
type Call struct {
	Method string
	Params []json.RawMessage
}

type fakeRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type fakeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Aria2Server is a fake aria2 JSON-RPC WebSocket daemon for testing.
type Aria2Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu            sync.RWMutex
	tasks         map[string]*FakeTask
	order         []string
	version       string
	secret        string
	failures      map[string]fakeError
	calls         []Call
	connections   int
	notifications bool
	shutdowns     int
	nextGID       int
}

// NewAria2Server starts a fake aria2 daemon serving /jsonrpc.
func NewAria2Server() *Aria2Server {
	s := &Aria2Server{
		tasks:    make(map[string]*FakeTask),
		failures: make(map[string]fakeError),
		version:  FakeVersion,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", s.handleSocket)

	s.Server = httptest.NewServer(mux)
	return s
}

// RPCURL returns the WebSocket RPC address of the fake daemon.
func (s *Aria2Server) RPCURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/jsonrpc"
}

// Port returns the TCP port the fake daemon listens on.
func (s *Aria2Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// AddTask adds a task to the fake daemon.
func (s *Aria2Server) AddTask(t *FakeTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.GID]; !ok {
		s.order = append(s.order, t.GID)
	}
	s.tasks[t.GID] = t
}

// GetTask returns a copy of a task, or nil when it does not exist.
func (s *Aria2Server) GetTask(gid string) *FakeTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[gid]
	if !ok {
		return nil
	}
	cp := *t
	cp.Options = maps.Clone(t.Options)
	cp.Headers = slices.Clone(t.Headers)
	cp.Files = slices.Clone(t.Files)
	return &cp
}

// SetVersion changes the reported daemon version.
func (s *Aria2Server) SetVersion(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = v
}

// SetSecret requires every call to carry "token:<secret>".
func (s *Aria2Server) SetSecret(secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secret = secret
}

// FailMethod makes every call of method answer with an aria2 error.
func (s *Aria2Server) FailMethod(method, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = fakeError{Code: fakeErrorCode, Message: message}
}

// SetNotifications makes the daemon push an aria2.onDownloadStart
// notification ahead of every response.
func (s *Aria2Server) SetNotifications(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = enabled
}

// Calls returns all recorded calls in arrival order.
func (s *Aria2Server) Calls() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsFor returns the recorded calls of one method.
func (s *Aria2Server) CallsFor(method string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Connections returns the number of WebSocket connections accepted so far.
func (s *Aria2Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connections
}

// Shutdowns returns how many times aria2.shutdown was called.
func (s *Aria2Server) Shutdowns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdowns
}

func (s *Aria2Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.connections++
	s.mu.Unlock()

	for {
		_, data, readErr := conn.ReadMessage()
		if readErr != nil {
			return
		}

		var req fakeRequest
		if err = json.Unmarshal(data, &req); err != nil {
			return
		}

		s.mu.RLock()
		notify := s.notifications
		s.mu.RUnlock()

		if notify {
			_ = conn.WriteJSON(map[string]any{
				"jsonrpc": "2.0",
				"method":  "aria2.onDownloadStart",
				"params":  []any{map[string]string{"gid": "0000000000000000"}},
			})
		}

		result, rpcErr := s.dispatch(req)

		msg := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			msg["error"] = rpcErr
		} else {
			msg["result"] = result
		}
		if err = conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

//nolint:gocyclo // one case per aria2 method
func (s *Aria2Server) dispatch(req fakeRequest) (any, *fakeError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Method: req.Method, Params: req.Params})

	params := req.Params
	if s.secret != "" {
		var token string
		if len(params) == 0 || json.Unmarshal(params[0], &token) != nil || token != "token:"+s.secret {
			return nil, &fakeError{Code: fakeErrorCode, Message: "Unauthorized"}
		}
		params = params[1:]
	}

	if f, ok := s.failures[req.Method]; ok {
		return nil, &f
	}

	switch req.Method {
	case "aria2.getVersion":
		return map[string]any{
			"version":         s.version,
			"enabledFeatures": []string{"Async DNS", "BitTorrent", "GZip", "HTTPS", "Message Digest"},
		}, nil

	case "aria2.tellActive":
		keys := decodeKeys(params, 0)
		out := make([]map[string]any, 0, len(s.order))
		for _, gid := range s.order {
			t := s.tasks[gid]
			if t.Status == "active" {
				out = append(out, encodeTask(t, keys))
			}
		}
		return out, nil

	case "aria2.tellStatus":
		t, ferr := s.lookup(params)
		if ferr != nil {
			return nil, ferr
		}
		return encodeTask(t, decodeKeys(params, 1)), nil

	case "aria2.addUri":
		return s.addURI(params)

	case "aria2.pause":
		return s.setStatus(params, "paused")

	case "aria2.unpause":
		return s.setStatus(params, "active")

	case "aria2.remove":
		return s.setStatus(params, "removed")

	case "aria2.removeDownloadResult":
		t, ferr := s.lookup(params)
		if ferr != nil {
			return nil, ferr
		}
		delete(s.tasks, t.GID)
		for i, gid := range s.order {
			if gid == t.GID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return "OK", nil

	case "aria2.changeOption":
		t, ferr := s.lookup(params)
		if ferr != nil {
			return nil, ferr
		}
		var opts map[string]string
		if len(params) > 1 {
			_ = json.Unmarshal(params[1], &opts)
		}
		if t.Options == nil {
			t.Options = make(map[string]string)
		}
		for k, v := range opts {
			t.Options[k] = v
		}
		return "OK", nil

	case "aria2.shutdown":
		s.shutdowns++
		return "OK", nil

	default:
		return nil, &fakeError{Code: fakeErrorCode, Message: "No such method: " + req.Method}
	}
}

func (s *Aria2Server) lookup(params []json.RawMessage) (*FakeTask, *fakeError) {
	var gid string
	if len(params) == 0 || json.Unmarshal(params[0], &gid) != nil {
		return nil, &fakeError{Code: fakeErrorCode, Message: "gid is required"}
	}
	t, ok := s.tasks[gid]
	if !ok {
		return nil, &fakeError{Code: fakeErrorCode, Message: fmt.Sprintf("GID %s is not found", gid)}
	}
	return t, nil
}

func (s *Aria2Server) setStatus(params []json.RawMessage, status string) (any, *fakeError) {
	t, ferr := s.lookup(params)
	if ferr != nil {
		return nil, ferr
	}
	t.Status = status
	return t.GID, nil
}

func (s *Aria2Server) addURI(params []json.RawMessage) (any, *fakeError) {
	var uris []string
	if len(params) == 0 || json.Unmarshal(params[0], &uris) != nil || len(uris) == 0 {
		return nil, &fakeError{Code: fakeErrorCode, Message: "No URI to download."}
	}

	opts, headers := decodeAddOptions(params)

	s.nextGID++
	gid := fmt.Sprintf("%016x", 0x2089b05ecca3d829+s.nextGID)

	path := ""
	if out := opts["out"]; out != "" {
		path = strings.TrimSuffix(opts["dir"], "/") + "/" + out
	}

	t := &FakeTask{
		GID:     gid,
		Status:  "waiting",
		Dir:     opts["dir"],
		Files:   []FakeFile{{Path: path, URIs: uris}},
		Options: opts,
		Headers: headers,
	}
	s.tasks[gid] = t
	s.order = append(s.order, gid)
	return gid, nil
}

// decodeAddOptions splits addUri options into plain values and the
// list-valued "header" option.
func decodeAddOptions(params []json.RawMessage) (map[string]string, []string) {
	opts := make(map[string]string)
	if len(params) < 2 {
		return opts, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(params[1], &raw); err != nil {
		return opts, nil
	}

	var headers []string
	for k, v := range raw {
		if k == "header" {
			if json.Unmarshal(v, &headers) != nil {
				var one string
				if json.Unmarshal(v, &one) == nil {
					headers = []string{one}
				}
			}
			continue
		}
		var str string
		if json.Unmarshal(v, &str) == nil {
			opts[k] = str
		}
	}
	return opts, headers
}

func decodeKeys(params []json.RawMessage, idx int) map[string]bool {
	if len(params) <= idx {
		return nil
	}
	var keys []string
	if err := json.Unmarshal(params[idx], &keys); err != nil || len(keys) == 0 {
		return nil
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// encodeTask renders a task the way aria2 does, with every number quoted.
func encodeTask(t *FakeTask, keys map[string]bool) map[string]any {
	files := make([]map[string]any, 0, len(t.Files))
	for i, f := range t.Files {
		uris := make([]map[string]string, 0, len(f.URIs))
		for _, u := range f.URIs {
			uris = append(uris, map[string]string{"uri": u, "status": "used"})
		}
		files = append(files, map[string]any{
			"index":           strconv.Itoa(i + 1),
			"path":            f.Path,
			"length":          strconv.FormatInt(t.TotalLength, 10),
			"completedLength": strconv.FormatInt(t.CompletedLength, 10),
			"selected":        "true",
			"uris":            uris,
		})
	}

	full := map[string]any{
		"gid":             t.GID,
		"status":          t.Status,
		"connections":     strconv.FormatInt(t.Connections, 10),
		"downloadSpeed":   strconv.FormatInt(t.DownloadSpeed, 10),
		"dir":             t.Dir,
		"totalLength":     strconv.FormatInt(t.TotalLength, 10),
		"completedLength": strconv.FormatInt(t.CompletedLength, 10),
		"files":           files,
	}
	if t.ErrorCode != "" {
		full["errorCode"] = t.ErrorCode
	}
	if t.ErrorMessage != "" {
		full["errorMessage"] = t.ErrorMessage
	}

	if keys == nil {
		return full
	}
	out := make(map[string]any, len(keys))
	for k, v := range full {
		if keys[k] {
			out[k] = v
		}
	}
	return out
}
