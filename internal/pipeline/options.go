// Copyright 2025 James Ross
package pipeline

import "github.com/medkg/ingestcore/internal/adapter"

// StreamOptions configures one stream_events invocation. Zero values for
// BufferSize/ProgressInterval fall back to the pipeline's configured
// defaults.
type StreamOptions struct {
	BufferSize       int
	ProgressInterval int
	Force            bool // skip the dedup-cache short-circuit, re-running even COMPLETED docs
	DryRun           bool // fetch/parse/validate but never reach Completed or call Write
	Limit            int  // stop dispatching new raw records once this many have been dispatched; 0 = unlimited
	EventFilter      func(Event) bool
	EventTransformer func(Event) Event
}

// Stats summarizes one run's terminal counts, the shape run()'s
// PipelineResult reports alongside its eagerly-collected documents.
type Stats struct {
	Completed int
	Failed    int
	Skipped   int
}

// PipelineResult is run()'s eager return value. Documentation: this is
// O(n) memory in the number of documents; stream_events is the API for
// large batches.
type PipelineResult struct {
	Documents []adapter.Document
	Errors    []DocumentFailed
	Stats     Stats
}
