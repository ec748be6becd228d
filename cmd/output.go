package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/ghermez/ariabridge/apitypes"
	"github.com/ghermez/ariabridge/internal/status"
)

// Output formats of list and status.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

//nolint:gochecknoglobals // fixed table layout
var (
	taskHeaders = table.Row{"GID", "NAME", "STATUS", "SIZE", "DONE", "%", "RATE", "ETA", "CONN"}
	// 1-based column numbers that hold figures.
	rightAligned = []int{4, 5, 6, 7, 8, 9}
)

func writeDownloads(w io.Writer, format string, list apitypes.DownloadList) error {
	switch format {
	case formatTable:
		_, err := fmt.Fprintln(w, renderTasks(list.Downloads))
		return err
	case formatJSON:
		return writeJSON(w, list)
	case formatYAML:
		return writeYAML(w, list)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeTask(w io.Writer, format string, task status.Task) error {
	switch format {
	case formatTable:
		_, err := fmt.Fprintln(w, renderTasks([]status.Task{task}))
		if err == nil && task.Error != "" {
			_, err = fmt.Fprintf(w, "error: %s\n", task.Error)
		}
		return err
	case formatJSON:
		return writeJSON(w, task)
	case formatYAML:
		return writeYAML(w, task)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func renderTasks(tasks []status.Task) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(taskHeaders)

	for _, t := range tasks {
		tw.AppendRow(table.Row{
			t.GID,
			orDash(t.FileName),
			orDash(t.Status),
			orDash(t.Size),
			orDash(t.DownloadedSize),
			orDash(t.Percent),
			t.Rate,
			orDash(t.EstimateTimeLeft),
			t.Connections,
		})
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, n := range rightAligned {
		configs = append(configs, table.ColumnConfig{
			Number:      n,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
