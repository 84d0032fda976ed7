// Copyright 2025 James Ross
package adapter

import (
	"errors"
	"fmt"

	"github.com/medkg/ingestcore/internal/httpclient"
	"github.com/medkg/ingestcore/internal/payload"
)

// UnknownAdapter is returned by Registry.Build when the requested source
// name has no registered factory. Fatal to the invocation that asked for
// it — there is no fallback adapter.
type UnknownAdapter struct {
	Name string
}

func (e *UnknownAdapter) Error() string {
	return fmt.Sprintf("adapter: unknown source %q", e.Name)
}

// ValidationError wraps a failure in an adapter's validate() stage: a
// structural guard rejection or a semantic check failure from
// internal/payload. Always terminal — retrying does not change the
// outcome of validating the same bytes again.
type ValidationError struct {
	Source string
	DocID  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("adapter: %s/%s failed validation: %s: %v", e.Source, e.DocID, e.Reason, e.Err)
	}
	return fmt.Sprintf("adapter: %s/%s failed validation: %s", e.Source, e.DocID, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SchemaError wraps a Tier-1 structural-probe rejection: the raw record
// doesn't even have the shape an adapter can attempt to decode (missing
// required keys, wrong JSON type at a required path). Distinct from
// ValidationError, which covers Tier-2 semantic/decode failures on a
// record that did pass the structural probe. Always terminal.
type SchemaError struct {
	Source string
	DocID  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.DocID != "" {
		return fmt.Sprintf("adapter: %s/%s failed structural probe: %s", e.Source, e.DocID, e.Reason)
	}
	return fmt.Sprintf("adapter: %s: raw record failed structural probe: %s", e.Source, e.Reason)
}

// RateLimited wraps an HTTP 429 response, kept distinct from the generic
// HTTPStatusError so callers can apply rate-limit-specific reporting
// (and so Classify can report it as always retryable regardless of the
// caller's retryable-status table).
type RateLimited struct {
	URL        string
	RetryAfter string
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("adapter: %s rate limited (429)", e.URL)
}

// MissingDependency is returned by Registry.Build when a factory's
// required Dependencies field was left unset (nil HTTP client, ledger,
// or logger) — a wiring bug at startup, not a runtime condition.
type MissingDependency struct {
	Source string
	Field  string
}

func (e *MissingDependency) Error() string {
	return fmt.Sprintf("adapter: %s: missing required dependency %q", e.Source, e.Field)
}

// Classify is the single error-classification function consulted by both
// the adapter implementations and the pipeline worker loop — never
// duplicated, per the framework's error-classification policy. It reports
// whether err is worth retrying and a stable type label for ledger/event
// reporting.
func Classify(err error) (retryable bool, errType string) {
	var transport *httpclient.TransportError
	var status *httpclient.HTTPStatusError
	var decode *httpclient.DecodeError
	var validation *ValidationError
	var schema *SchemaError
	var rateLimited *RateLimited
	var unknown *UnknownAdapter
	var missingDep *MissingDependency

	switch {
	case errors.As(err, &transport):
		return true, "TransportError"
	case errors.As(err, &rateLimited):
		return true, "RateLimited"
	case errors.As(err, &status):
		if status.StatusCode == 429 {
			return true, "RateLimited"
		}
		return status.Retryable(), "HTTPStatusError"
	case errors.As(err, &decode):
		return false, "DecodeError"
	case errors.As(err, &schema):
		return false, "SchemaError"
	case errors.As(err, &validation):
		return false, "ValidationError"
	case errors.As(err, &unknown):
		return false, "UnknownAdapter"
	case errors.As(err, &missingDep):
		return false, "MissingDependency"
	default:
		var semantic *payload.SemanticError
		if errors.As(err, &semantic) {
			return false, "SemanticError"
		}
		return false, "UnclassifiedError"
	}
}
