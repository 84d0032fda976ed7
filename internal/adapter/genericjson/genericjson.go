// Copyright 2025 James Ross
package genericjson

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medkg/ingestcore/internal/adapter"
	"github.com/medkg/ingestcore/internal/httpclient"
	"github.com/medkg/ingestcore/internal/payload"
)

// Config describes one source's single-page-GET adapter: fetch one JSON
// response from Endpoint, structurally guard and decode each element
// into P, derive doc_id/uri/content/source_version from the decoded
// record, and run a source-specific semantic validator. This is the
// shape every remaining registered source (beyond clinicaltrials and
// pubmed, which need multi-page fetch strategies) is built from.
type Config[P payload.Payload] struct {
	Source        string
	Endpoint      string
	ItemsKey      string // top-level key holding the record array; empty means the body IS the array
	Guard         payload.Guard
	Decode        func(m map[string]interface{}) (P, error)
	DocID         func(rec P) string
	URI           func(rec P) string
	Content       func(rec P) string
	SourceVersion func(rec P) string
	Validate      func(rec P) error
}

// Adapter implements adapter.Adapter[P] generically over Config[P].
type Adapter[P payload.Payload] struct {
	cfg  Config[P]
	http *httpclient.Client
}

// New constructs a generic single-page-GET adapter from cfg.
func New[P payload.Payload](cfg Config[P], http *httpclient.Client) *Adapter[P] {
	return &Adapter[P]{cfg: cfg, http: http}
}

func (a *Adapter[P]) Name() string { return a.cfg.Source }

type singlePageStream[P payload.Payload] struct {
	items []P
	pos   int
}

func (s *singlePageStream[P]) Next(ctx context.Context) (P, bool, error) {
	if s.pos >= len(s.items) {
		var zero P
		return zero, false, nil
	}
	v := s.items[s.pos]
	s.pos++
	return v, true, nil
}

func (s *singlePageStream[P]) Close() error { return nil }

// Fetch performs a single GET, guards and decodes every element of the
// response's record array, and returns them as a RawStream. Sources that
// genuinely paginate (ClinicalTrials.gov, PubMed) have their own adapter
// package instead of using this one.
func (a *Adapter[P]) Fetch(ctx context.Context, params adapter.Parameters) (adapter.RawStream[P], error) {
	resp, err := a.http.GetJSON(ctx, a.cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	var rawItems []json.RawMessage
	if a.cfg.ItemsKey == "" {
		if err := json.Unmarshal(resp.Data, &rawItems); err != nil {
			return nil, &httpclient.DecodeError{URL: a.cfg.Endpoint, Err: err}
		}
	} else {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(resp.Data, &wrapper); err != nil {
			return nil, &httpclient.DecodeError{URL: a.cfg.Endpoint, Err: err}
		}
		body, ok := wrapper[a.cfg.ItemsKey]
		if !ok {
			return nil, &httpclient.DecodeError{URL: a.cfg.Endpoint, Err: fmt.Errorf("response missing key %q", a.cfg.ItemsKey)}
		}
		if err := json.Unmarshal(body, &rawItems); err != nil {
			return nil, &httpclient.DecodeError{URL: a.cfg.Endpoint, Err: err}
		}
	}

	items := make([]P, 0, len(rawItems))
	for _, raw := range rawItems {
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &httpclient.DecodeError{URL: a.cfg.Endpoint, Err: err}
		}
		if !a.cfg.Guard(m) {
			return nil, &adapter.SchemaError{Source: a.cfg.Source, Reason: "record failed structural guard"}
		}
		rec, err := a.cfg.Decode(m)
		if err != nil {
			return nil, &adapter.ValidationError{Source: a.cfg.Source, Reason: "decode failed", Err: err}
		}
		items = append(items, rec)
	}
	return &singlePageStream[P]{items: items}, nil
}

func (a *Adapter[P]) Parse(raw P) (adapter.Document, error) {
	rawBytes, err := json.Marshal(raw)
	if err != nil {
		return adapter.Document{}, fmt.Errorf("%s: marshal raw record: %w", a.cfg.Source, err)
	}
	doc, err := adapter.NewDocument(a.cfg.DocID(raw), a.cfg.Source, raw)
	if err != nil {
		return adapter.Document{}, err
	}
	if a.cfg.URI != nil {
		doc.URI = a.cfg.URI(raw)
	}
	if a.cfg.Content != nil {
		doc.Content = a.cfg.Content(raw)
	}
	sourceVersion := "unspecified"
	if a.cfg.SourceVersion != nil {
		if v := a.cfg.SourceVersion(raw); v != "" {
			sourceVersion = v
		}
	}
	doc.Metadata["ingested_at"] = time.Now().UTC().Format(time.RFC3339)
	doc.Metadata["source_version"] = sourceVersion
	doc.Metadata["content_hash"] = adapter.ContentHash(rawBytes)
	return doc, nil
}

func (a *Adapter[P]) Validate(doc adapter.Document) error {
	rec, ok := doc.Raw.(P)
	if !ok {
		return &adapter.ValidationError{Source: a.cfg.Source, DocID: doc.DocID, Reason: "raw payload did not narrow to the expected type"}
	}
	if a.cfg.Validate != nil {
		if err := a.cfg.Validate(rec); err != nil {
			return &adapter.ValidationError{Source: a.cfg.Source, DocID: doc.DocID, Reason: "semantic validation", Err: err}
		}
	}
	if err := payload.ValidateProvenance(doc.Metadata["ingested_at"], doc.Metadata["content_hash"], doc.Metadata["source_version"]); err != nil {
		return &adapter.ValidationError{Source: a.cfg.Source, DocID: doc.DocID, Reason: "provenance", Err: err}
	}
	return nil
}

// Write is a no-op; see clinicaltrials.Adapter.Write for rationale.
func (a *Adapter[P]) Write(ctx context.Context, doc adapter.Document) error {
	return nil
}

// Register builds a Factory from cfg and installs it in r under cfg.Source.
func Register[P payload.Payload](r *adapter.Registry, cfg Config[P]) {
	r.Register(cfg.Source, func(deps adapter.Dependencies) (adapter.AdapterRuntime, error) {
		return adapter.Wrap[P](New(cfg, deps.HTTP)), nil
	})
}
