// Copyright 2025 James Ross
package adapter

import (
	"context"

	"github.com/medkg/ingestcore/internal/payload"
)

// RawStream is the lazy sequence an adapter's fetch stage produces: one
// raw record at a time, paginating and rate-limiting internally. Next
// returns (zero, false, nil) when the source is exhausted, or a non-nil
// error (classified by Classify) on failure. Close releases any
// underlying resources (e.g. a streaming HTTP response body).
type RawStream[P payload.Payload] interface {
	Next(ctx context.Context) (P, bool, error)
	Close() error
}

// Adapter is the generic, compile-time-safe contract a concrete source
// package implements. P is the payload type from internal/payload that
// this source's records narrow to.
type Adapter[P payload.Payload] interface {
	// Name is the registry key this adapter is registered under.
	Name() string

	// Fetch produces raw records for the given parameters. May suspend on
	// I/O; internally paginates and honors rate limits via the injected
	// HTTP client.
	Fetch(ctx context.Context, params Parameters) (RawStream[P], error)

	// Parse deterministically builds a Document from one raw record,
	// populating doc_id, uri, content, and the required provenance
	// metadata. Same raw input must always produce an identical Document.
	Parse(raw P) (Document, error)

	// Validate narrows document.Raw back to P and performs semantic
	// checks. Must not mutate document.
	Validate(doc Document) error

	// Write hands the document to its downstream sink (event emission;
	// the ledger recording is done by the pipeline, not by Write).
	Write(ctx context.Context, doc Document) error
}

// runtimeStream type-erases a RawStream[P] to RawRuntimeStream so the
// pipeline can drive any registered adapter without knowing its payload
// type parameter.
type runtimeStream[P payload.Payload] struct {
	inner RawStream[P]
}

func (s runtimeStream[P]) Next(ctx context.Context) (interface{}, bool, error) {
	v, ok, err := s.inner.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	return v, true, nil
}

func (s runtimeStream[P]) Close() error { return s.inner.Close() }

// RawRuntimeStream is the type-erased counterpart of RawStream, used at
// the registry boundary where the pipeline operates on adapters without
// a compile-time payload type parameter.
type RawRuntimeStream interface {
	Next(ctx context.Context) (interface{}, bool, error)
	Close() error
}

// AdapterRuntime is the non-generic boundary the registry and pipeline
// operate against. Every concrete Adapter[P] is exposed to the rest of
// the system through this interface via Wrap.
type AdapterRuntime interface {
	Name() string
	Fetch(ctx context.Context, params Parameters) (RawRuntimeStream, error)
	Parse(raw interface{}) (Document, error)
	Validate(doc Document) error
	Write(ctx context.Context, doc Document) error
}

// erased adapts a generic Adapter[P] to AdapterRuntime.
type erased[P payload.Payload] struct {
	inner Adapter[P]
}

// Wrap erases a concrete Adapter[P]'s type parameter so it can be
// registered in a Registry alongside adapters for other payload types.
func Wrap[P payload.Payload](a Adapter[P]) AdapterRuntime {
	return erased[P]{inner: a}
}

func (e erased[P]) Name() string { return e.inner.Name() }

func (e erased[P]) Fetch(ctx context.Context, params Parameters) (RawRuntimeStream, error) {
	s, err := e.inner.Fetch(ctx, params)
	if err != nil {
		return nil, err
	}
	return runtimeStream[P]{inner: s}, nil
}

func (e erased[P]) Parse(raw interface{}) (Document, error) {
	p, ok := raw.(P)
	if !ok {
		return Document{}, &ValidationError{Source: e.inner.Name(), Reason: "raw record did not narrow to the adapter's payload type"}
	}
	return e.inner.Parse(p)
}

func (e erased[P]) Validate(doc Document) error { return e.inner.Validate(doc) }

func (e erased[P]) Write(ctx context.Context, doc Document) error { return e.inner.Write(ctx, doc) }
