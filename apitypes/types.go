// Package apitypes provides the request and response types of the
// ariabridge HTTP API.
package apitypes

import "github.com/ghermez/ariabridge/internal/status"

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// VersionResponse carries the daemon version, or "did not respond".
type VersionResponse struct {
	Version string `json:"version"`
}

// Download is the normalized view of one aria2 task.
type Download = status.Task

// DownloadList is the response of the active downloads listing.
type DownloadList struct {
	GIDs      []string   `json:"gids" yaml:"gids"`
	Downloads []Download `json:"downloads" yaml:"downloads"`
}

// GIDList is the response of the gid-only listing.
type GIDList struct {
	GIDs []string `json:"gids"`
}

// AddRequest starts a download. Every field except URL is optional.
type AddRequest struct {
	URL           string   `json:"url"`
	Dir           string   `json:"dir,omitempty"`
	Out           string   `json:"out,omitempty"`
	Headers       []string `json:"headers,omitempty"`
	Cookies       string   `json:"cookies,omitempty"`
	UserAgent     string   `json:"user_agent,omitempty"`
	Referer       string   `json:"referer,omitempty"`
	Connections   int      `json:"connections,omitempty"`
	Limit         string   `json:"limit,omitempty"`
	Proxy         string   `json:"proxy,omitempty"`
	ProxyUser     string   `json:"proxy_user,omitempty"`
	ProxyPassword string   `json:"proxy_password,omitempty"`
	HTTPUser      string   `json:"http_user,omitempty"`
	HTTPPassword  string   `json:"http_password,omitempty"`
}

// AddResponse carries the gid of a new download.
type AddResponse struct {
	GID string `json:"gid"`
}

// ControlResponse acknowledges pause, resume and remove.
type ControlResponse struct {
	GID    string `json:"gid"`
	Result string `json:"result"`
}

// LimitRequest sets a speed limit such as "5M", "100K" or "0".
type LimitRequest struct {
	Limit string `json:"limit"`
}

// LimitResponse echoes the normalized limit sent to the daemon.
type LimitResponse struct {
	GID   string `json:"gid"`
	Limit string `json:"limit"`
}

// ShutdownResponse reports whether the daemon accepted the shutdown.
type ShutdownResponse struct {
	Accepted bool `json:"accepted"`
}

// DestinationResponse is the folder a completed file would be moved to.
type DestinationResponse struct {
	File        string `json:"file"`
	Category    string `json:"category"`
	Destination string `json:"destination"`
}
