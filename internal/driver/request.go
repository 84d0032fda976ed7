// Copyright 2025 James Ross
package driver

import "github.com/medkg/ingestcore/internal/adapter"

// OutputFormat selects how events are rendered to the configured writer.
type OutputFormat string

const (
	OutputText  OutputFormat = "text"
	OutputJSON  OutputFormat = "json"
	OutputTable OutputFormat = "table"
)

// Request is cmd/ingest's parsed CLI invocation, translated into the
// shape Driver.Run executes. Every field mirrors a flag from the ingest
// CLI grammar; AdapterName is the positional argument.
type Request struct {
	AdapterName string

	Batch []adapter.Parameters // decoded from --batch FILE, one entry per NDJSON line
	Auto  bool                 // no --batch and no explicit parameters: one sweep with zero-value Parameters

	Resume           bool
	Limit            int
	DryRun           bool
	Output           OutputFormat
	Progress         bool
	Quiet            bool
	Verbose          bool
	StrictValidation bool
	FailFast         bool

	StartDate string // ISO8601, applied to every batch entry's Since if set
	EndDate   string // ISO8601, applied to every batch entry's Until if set
	PageSize  int
}

// targets resolves the request into the concrete Parameters values to
// run, applying the date-window and page-size overrides uniformly.
func (req Request) targets() []adapter.Parameters {
	var params []adapter.Parameters
	if len(req.Batch) > 0 {
		params = req.Batch
	} else {
		params = []adapter.Parameters{{}}
	}
	for i := range params {
		if req.PageSize > 0 {
			params[i].PageSize = req.PageSize
		}
		if req.StartDate != "" {
			if t, err := parseISO8601(req.StartDate); err == nil {
				params[i].Since = t
			}
		}
		if req.EndDate != "" {
			if t, err := parseISO8601(req.EndDate); err == nil {
				params[i].Until = t
			}
		}
	}
	return params
}
