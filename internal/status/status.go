// Package status turns raw aria2 task records into display-ready tasks.
//
// Normalization happens in two steps. Measure extracts typed measurements
// (Metrics) from a raw record; Metrics.Task renders them as the strings the
// host application shows. Nothing is cached between polls.
package status

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ghermez/ariabridge/internal/rpc"
)

// Label is a display status.
type Label string

// Display labels. aria2 states without a mapping pass through as is.
const (
	Downloading Label = "downloading"
	Waiting     Label = rpc.StatusWaiting
	Paused      Label = rpc.StatusPaused
	Error       Label = rpc.StatusError
	Stopped     Label = "stopped"
	Complete    Label = rpc.StatusComplete
)

// LabelFor maps an aria2 status to its display label. An empty status
// yields an empty label, meaning the status is unknown.
func LabelFor(raw string) Label {
	switch raw {
	case rpc.StatusActive:
		return Downloading
	case rpc.StatusRemoved:
		return Stopped
	default:
		return Label(raw)
	}
}

// FormatError reports a raw record that lacks a field normalization needs.
type FormatError struct {
	GID    string
	Field  string
	Reason string
}

func (e *FormatError) Error() string {
	if e.GID == "" {
		return fmt.Sprintf("malformed task record: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed task record %s: %s: %s", e.GID, e.Field, e.Reason)
}

// Metrics holds the typed measurements of one task.
type Metrics struct {
	GID         string
	Label       Label
	Total       int64
	Completed   int64
	Speed       int64
	Percent     float64       // Zero when Total is zero
	Remaining   time.Duration // Zero when Total or Speed is zero
	Connections int64
	FileName    string // Base name of the first file, empty when aria2 has not named it yet
	Link        string
}

// Sized reports whether the total length is known.
func (m Metrics) Sized() bool {
	return m.Total > 0
}

// Transferring reports whether a transfer rate and ETA can be computed.
func (m Metrics) Transferring() bool {
	return m.Total > 0 && m.Speed > 0
}

// Measure extracts the measurements from a raw record. The first file must
// carry at least one URI; otherwise a *FormatError is returned.
func Measure(raw rpc.TaskStatus) (Metrics, error) {
	if len(raw.Files) == 0 {
		return Metrics{}, &FormatError{GID: raw.GID, Field: "files", Reason: "no files"}
	}
	first := raw.Files[0]
	if len(first.URIs) == 0 {
		return Metrics{}, &FormatError{GID: raw.GID, Field: "files[0].uris", Reason: "no uris"}
	}

	m := Metrics{
		GID:         raw.GID,
		Label:       LabelFor(raw.Status),
		Total:       int64(raw.TotalLength),
		Completed:   int64(raw.CompletedLength),
		Speed:       int64(raw.DownloadSpeed),
		Connections: int64(raw.Connections),
		FileName:    baseName(first.Path),
		Link:        first.URIs[0].URI,
	}

	if m.Total > 0 {
		m.Percent = float64(m.Completed) * 100 / float64(m.Total)
	}
	if m.Transferring() {
		left := max((m.Total-m.Completed)/m.Speed, 0)
		m.Remaining = time.Duration(left) * time.Second
	}

	return m, nil
}

// Task is a normalized task. Absent fields encode as null. Size,
// DownloadedSize and Percent are either all set or all nil.
type Task struct {
	GID              string  `json:"gid" yaml:"gid"`
	FileName         *string `json:"file_name" yaml:"file_name"`
	Status           *string `json:"status" yaml:"status"`
	Size             *string `json:"size" yaml:"size"`
	DownloadedSize   *string `json:"downloaded_size" yaml:"downloaded_size"`
	Percent          *string `json:"percent" yaml:"percent"`
	Connections      string  `json:"connections" yaml:"connections"`
	Rate             string  `json:"rate" yaml:"rate"`
	EstimateTimeLeft *string `json:"estimate_time_left" yaml:"estimate_time_left"`
	Link             string  `json:"link" yaml:"link"`
	Error            string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// Task renders the measurements as display strings.
func (m Metrics) Task() Task {
	t := Task{
		GID:         m.GID,
		Connections: strconv.FormatInt(m.Connections, 10),
		Rate:        "0",
		Link:        m.Link,
	}

	if m.FileName != "" {
		t.FileName = ptr(m.FileName)
	}
	if m.Label != "" {
		t.Status = ptr(string(m.Label))
	}

	if m.Sized() {
		t.Size = ptr(humanize.IBytes(uint64(m.Total)))
		t.DownloadedSize = ptr(humanize.IBytes(uint64(max(m.Completed, 0))))
		t.Percent = ptr(FormatPercent(m.Percent))
	}

	if m.Transferring() {
		t.Rate = FormatRate(m.Speed)
		t.EstimateTimeLeft = ptr(FormatETA(int64(m.Remaining / time.Second)))
	}

	if m.Label == Complete {
		t.EstimateTimeLeft = ptr(FormatETA(0))
	}

	return t
}

// Normalize converts a raw record into a display task.
func Normalize(raw rpc.TaskStatus) (Task, error) {
	m, err := Measure(raw)
	if err != nil {
		return Task{}, err
	}
	return m.Task(), nil
}

// FormatPercent renders p as the shortest single-precision decimal followed
// by "%", e.g. "100%" or "50.5%".
func FormatPercent(p float64) string {
	return strconv.FormatFloat(float64(float32(p)), 'f', -1, 32) + "%"
}

// FormatRate renders a byte rate with binary units, e.g. "1.5 MiB/s".
func FormatRate(bytesPerSecond int64) string {
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// FormatETA renders whole seconds as "45s", "2m5s" or "1h23m20s".
// Negative values render as "0s".
func FormatETA(seconds int64) string {
	seconds = max(seconds, 0)

	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm%ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh%dm%ds", seconds/3600, seconds%3600/60, seconds%60)
	}
}

// baseName returns the final path component, treating both '/' and '\' as
// separators. aria2 on Windows reports forward slashes.
func baseName(path string) string {
	path = strings.TrimRight(path, `/\`)
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func ptr(s string) *string {
	return &s
}
