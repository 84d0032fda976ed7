// Copyright 2025 James Ross
package pipeline

import (
	"encoding/json"
	"time"

	"github.com/medkg/ingestcore/internal/adapter"
)

// Event is the tagged-variant record emitted onto the pipeline's event
// stream. Each concrete type below marshals with a "type" discriminator
// matching its variant name, the shape --output json depends on.
type Event interface {
	EventType() string
	Timestamp() time.Time
}

// DocumentStarted marks the moment a worker begins processing one raw
// record pulled from an adapter's fetch stream.
type DocumentStarted struct {
	DocID      string
	Adapter    string
	Parameters adapter.Parameters
	At         time.Time
	PipelineID string
}

func (e DocumentStarted) EventType() string   { return "DocumentStarted" }
func (e DocumentStarted) Timestamp() time.Time { return e.At }

func (e DocumentStarted) MarshalJSON() ([]byte, error) {
	type alias struct {
		Type       string    `json:"type"`
		DocID      string    `json:"doc_id"`
		Adapter    string    `json:"adapter"`
		Query      string    `json:"query,omitempty"`
		Timestamp  time.Time `json:"timestamp"`
		PipelineID string    `json:"pipeline_id"`
	}
	return json.Marshal(alias{"DocumentStarted", e.DocID, e.Adapter, e.Parameters.Query, e.At, e.PipelineID})
}

// DocumentCompleted marks a document that reached the ledger's
// Completed state. AdapterMetadata carries the document's provenance
// metadata (ingested_at/source_version/content_hash) for consumers that
// only subscribe to the event stream rather than the ledger.
type DocumentCompleted struct {
	Document        adapter.Document
	DurationMS      int64
	AdapterMetadata map[string]string
	At              time.Time
}

func (e DocumentCompleted) EventType() string    { return "DocumentCompleted" }
func (e DocumentCompleted) Timestamp() time.Time { return e.At }

func (e DocumentCompleted) MarshalJSON() ([]byte, error) {
	type alias struct {
		Type       string            `json:"type"`
		DocID      string            `json:"doc_id"`
		Adapter    string            `json:"adapter"`
		URI        string            `json:"uri,omitempty"`
		DurationMS int64             `json:"duration_ms"`
		Metadata   map[string]string `json:"metadata,omitempty"`
		Timestamp  time.Time         `json:"timestamp"`
	}
	return json.Marshal(alias{
		"DocumentCompleted", e.Document.DocID, e.Document.Source, e.Document.URI,
		e.DurationMS, e.AdapterMetadata, e.At,
	})
}

// DocumentFailed marks a record whose processing ended in failure. Within
// the per-document retry loop it is emitted only on FAILED_TERMINAL
// (Retryable=false, after exhausting max_attempts or on a terminal
// classification); a retryable attempt is reported as an
// AdapterStateChange instead. A parse or stream (Next) failure carries no
// DocID and reports its error's own classification in Retryable; a Fetch
// that still fails after its retries carries no DocID and Retryable=false.
type DocumentFailed struct {
	DocID      string
	Adapter    string
	ErrorType  string
	Message    string
	RetryCount int
	Retryable  bool
	At         time.Time
}

func (e DocumentFailed) EventType() string    { return "DocumentFailed" }
func (e DocumentFailed) Timestamp() time.Time { return e.At }

func (e DocumentFailed) MarshalJSON() ([]byte, error) {
	type alias struct {
		Type       string    `json:"type"`
		DocID      string    `json:"doc_id,omitempty"`
		Adapter    string    `json:"adapter"`
		ErrorType  string    `json:"error_type"`
		Message    string    `json:"message"`
		RetryCount int       `json:"retry_count"`
		Retryable  bool      `json:"retryable"`
		Timestamp  time.Time `json:"timestamp"`
	}
	return json.Marshal(alias{"DocumentFailed", e.DocID, e.Adapter, e.ErrorType, e.Message, e.RetryCount, e.Retryable, e.At})
}

// BatchProgress is the checkpoint hook: consumers persist whatever they
// need here, since the pipeline itself owns no checkpoint storage
// beyond the ledger.
type BatchProgress struct {
	Completed      int
	Failed         int
	Skipped        int
	InFlight       int
	EstimatedTotal *int
	ETASeconds     *float64
	At             time.Time
}

func (e BatchProgress) EventType() string    { return "BatchProgress" }
func (e BatchProgress) Timestamp() time.Time { return e.At }

func (e BatchProgress) MarshalJSON() ([]byte, error) {
	type alias struct {
		Type           string    `json:"type"`
		Completed      int       `json:"completed"`
		Failed         int       `json:"failed"`
		Skipped        int       `json:"skipped"`
		InFlight       int       `json:"in_flight"`
		EstimatedTotal *int      `json:"estimated_total,omitempty"`
		ETASeconds     *float64  `json:"eta_seconds,omitempty"`
		Timestamp      time.Time `json:"timestamp"`
	}
	return json.Marshal(alias{"BatchProgress", e.Completed, e.Failed, e.Skipped, e.InFlight, e.EstimatedTotal, e.ETASeconds, e.At})
}

// AdapterStateChange reports a circuit-breaker transition or a
// retry/backoff decision (a fetch-level retry, or one document's
// FAILED_RETRYABLE -> RETRYING step); it carries no doc_id.
type AdapterStateChange struct {
	Adapter string
	OldState string
	NewState string
	Reason   string
	At       time.Time
}

func (e AdapterStateChange) EventType() string    { return "AdapterStateChange" }
func (e AdapterStateChange) Timestamp() time.Time { return e.At }

func (e AdapterStateChange) MarshalJSON() ([]byte, error) {
	type alias struct {
		Type      string    `json:"type"`
		Adapter   string    `json:"adapter"`
		OldState  string    `json:"old_state"`
		NewState  string    `json:"new_state"`
		Reason    string    `json:"reason,omitempty"`
		Timestamp time.Time `json:"timestamp"`
	}
	return json.Marshal(alias{"AdapterStateChange", e.Adapter, e.OldState, e.NewState, e.Reason, e.At})
}
