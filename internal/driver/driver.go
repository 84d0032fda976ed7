// Copyright 2025 James Ross
package driver

import (
	"context"
	"errors"
	"io"

	"github.com/medkg/ingestcore/internal/adapter"
	"github.com/medkg/ingestcore/internal/pipeline"
	"go.uber.org/zap"
)

// Exit codes per the ingest CLI grammar. ExitReserved is never issued by
// this core; it is documented here only so cmd/ingest and callers share
// one source of truth for the mapping.
const (
	ExitSuccess  = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitReserved = 99
)

// Summary is the aggregate outcome of a Driver.Run invocation, across
// every target in the request (a single sweep, or every line of a
// --batch file).
type Summary struct {
	Completed int
	Failed    int
	Skipped   int
	ExitCode  int
}

// Driver ties the streaming pipeline to one CLI invocation: it resolves
// a Request into one or more StreamEvents calls, renders every event
// through an eventWriter, and folds the results into an exit code.
type Driver struct {
	pipe *pipeline.Pipeline
	log  *zap.Logger
}

// New returns a Driver bound to pipe. The logger is used only for
// invocation-level diagnostics (unknown adapter, batch parse failure);
// per-document logging already happens inside the pipeline.
func New(pipe *pipeline.Pipeline, log *zap.Logger) *Driver {
	return &Driver{pipe: pipe, log: log}
}

// Run executes req to completion, writing every event to out in the
// requested format, and returns the aggregate Summary. The returned
// error is non-nil only when StreamEvents cannot start a target (unknown
// adapter, missing dependency); a cancelled context stops the loop before
// the next target and returns the Summary so far with a nil error. cmd/ingest maps
// an *adapter.UnknownAdapter to exit code 2, everything else to the
// Summary's own ExitCode.
func (d *Driver) Run(ctx context.Context, req Request, out io.Writer) (Summary, error) {
	w := newEventWriter(req.Output, out, req.Quiet)
	defer w.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var summary Summary
	targets := req.targets()

	for i, params := range targets {
		if runCtx.Err() != nil {
			break
		}

		opts := pipeline.StreamOptions{
			DryRun: req.DryRun,
			Limit:  req.Limit,
			Force:  !req.Resume,
		}
		if req.Progress {
			opts.ProgressInterval = 1
		}

		events, err := d.pipe.StreamEvents(runCtx, req.AdapterName, params, opts)
		if err != nil {
			var unknown *adapter.UnknownAdapter
			if errors.As(err, &unknown) {
				return summary, err
			}
			d.log.Error("stream_events failed", zap.String("adapter", req.AdapterName), zap.Int("target", i), zap.Error(err))
			return summary, err
		}

		targetSkipped := 0
		for ev := range events {
			w.Write(ev)
			switch e := ev.(type) {
			case pipeline.DocumentCompleted:
				summary.Completed++
			case pipeline.DocumentFailed:
				if !e.Retryable {
					summary.Failed++
					if req.FailFast {
						cancel()
					}
				}
			case pipeline.BatchProgress:
				targetSkipped = e.Skipped
			}
		}
		summary.Skipped += targetSkipped
	}

	if summary.Failed > 0 {
		summary.ExitCode = ExitFailure
	} else {
		summary.ExitCode = ExitSuccess
	}
	return summary, nil
}

