// Copyright 2025 James Ross
package driver

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/medkg/ingestcore/internal/pipeline"
	"github.com/olekukonko/tablewriter"
)

// eventWriter renders one Event at a time in the requested OutputFormat.
// table buffers rows until Close so the table can be rendered once with
// a header; text and json write as they go.
type eventWriter struct {
	format OutputFormat
	out    io.Writer
	quiet  bool

	table *tablewriter.Table
	rows  int
}

func newEventWriter(format OutputFormat, out io.Writer, quiet bool) *eventWriter {
	w := &eventWriter{format: format, out: out, quiet: quiet}
	if format == OutputTable {
		w.table = tablewriter.NewWriter(out)
		w.table.SetHeader([]string{"TYPE", "DOC_ID", "STATE", "DETAIL"})
	}
	return w
}

func (w *eventWriter) Write(ev pipeline.Event) {
	if w.quiet {
		return
	}
	switch w.format {
	case OutputJSON:
		b, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintln(w.out, string(b))
	case OutputTable:
		w.table.Append(tableRow(ev))
		w.rows++
	default:
		fmt.Fprintln(w.out, textLine(ev))
	}
}

func (w *eventWriter) Close() {
	if w.format == OutputTable && w.table != nil {
		w.table.Render()
	}
}

func tableRow(ev pipeline.Event) []string {
	switch e := ev.(type) {
	case pipeline.DocumentStarted:
		return []string{"started", e.DocID, "FETCHING", e.Adapter}
	case pipeline.DocumentCompleted:
		return []string{"completed", e.Document.DocID, "COMPLETED", fmt.Sprintf("%dms", e.DurationMS)}
	case pipeline.DocumentFailed:
		return []string{"failed", e.DocID, "FAILED", fmt.Sprintf("%s: %s", e.ErrorType, e.Message)}
	case pipeline.BatchProgress:
		return []string{"progress", "", "", fmt.Sprintf("completed=%d failed=%d skipped=%d in_flight=%d", e.Completed, e.Failed, e.Skipped, e.InFlight)}
	case pipeline.AdapterStateChange:
		return []string{"adapter_state", "", e.NewState, fmt.Sprintf("%s -> %s (%s)", e.OldState, e.NewState, e.Reason)}
	default:
		return []string{"unknown", "", "", ""}
	}
}

func textLine(ev pipeline.Event) string {
	switch e := ev.(type) {
	case pipeline.DocumentStarted:
		return fmt.Sprintf("[started]  %s/%s", e.Adapter, e.DocID)
	case pipeline.DocumentCompleted:
		return fmt.Sprintf("[ok]       %s (%dms)", e.Document.DocID, e.DurationMS)
	case pipeline.DocumentFailed:
		return fmt.Sprintf("[failed]   %s/%s: %s: %s (retryable=%v, attempt=%d)", e.Adapter, e.DocID, e.ErrorType, e.Message, e.Retryable, e.RetryCount)
	case pipeline.BatchProgress:
		return fmt.Sprintf("[progress] completed=%d failed=%d skipped=%d in_flight=%d", e.Completed, e.Failed, e.Skipped, e.InFlight)
	case pipeline.AdapterStateChange:
		return fmt.Sprintf("[adapter]  %s: %s -> %s (%s)", e.Adapter, e.OldState, e.NewState, e.Reason)
	default:
		return fmt.Sprintf("[event]    %s", ev.EventType())
	}
}
