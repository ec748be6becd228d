package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Task status values reported by aria2.
const (
	StatusActive   = "active"
	StatusWaiting  = "waiting"
	StatusPaused   = "paused"
	StatusError    = "error"
	StatusComplete = "complete"
	StatusRemoved  = "removed"
)

// ActiveKeys is the field selection used when listing active tasks.
//
//nolint:gochecknoglobals // fixed wire field selection
var ActiveKeys = []string{
	"gid", "status", "connections", "errorCode", "errorMessage",
	"downloadSpeed", "dir", "totalLength", "completedLength", "files",
}

// StatusKeys is the field selection used for single-task queries. The
// duplicated "connections" matches what the host application has always sent.
//
//nolint:gochecknoglobals // fixed wire field selection
var StatusKeys = []string{
	"status", "connections", "errorCode", "errorMessage", "downloadSpeed",
	"connections", "dir", "totalLength", "completedLength", "files",
}

// Number is an integer that aria2 encodes as a JSON string. Bare numbers
// and null are accepted as well; null decodes to zero.
type Number int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		data = []byte(s)
	}

	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", data, err)
	}
	*n = Number(v)
	return nil
}

// MarshalJSON encodes the number the way aria2 does, as a decimal string.
func (n Number) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(n), 10))
}

// URI is one source location of a file.
type URI struct {
	URI    string `json:"uri"`
	Status string `json:"status,omitempty"`
}

// File is one file of a task.
type File struct {
	Index           Number `json:"index,omitempty"`
	Path            string `json:"path"`
	Length          Number `json:"length,omitempty"`
	CompletedLength Number `json:"completedLength,omitempty"`
	Selected        string `json:"selected,omitempty"`
	URIs            []URI  `json:"uris"`
}

// TaskStatus is a raw task record as returned by aria2.tellActive and
// aria2.tellStatus.
type TaskStatus struct {
	GID             string `json:"gid"`
	Status          string `json:"status"`
	Connections     Number `json:"connections"`
	ErrorCode       string `json:"errorCode,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	DownloadSpeed   Number `json:"downloadSpeed"`
	Dir             string `json:"dir,omitempty"`
	TotalLength     Number `json:"totalLength"`
	CompletedLength Number `json:"completedLength"`
	Files           []File `json:"files"`
}

// VersionInfo is the result of aria2.getVersion.
type VersionInfo struct {
	Version         string   `json:"version"`
	EnabledFeatures []string `json:"enabledFeatures"`
}

// Options is an aria2 option map. aria2 accepts option values as strings only.
type Options map[string]string
