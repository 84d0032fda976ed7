// Copyright 2025 James Ross
package clinicaltrials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/medkg/ingestcore/internal/adapter"
	"github.com/medkg/ingestcore/internal/httpclient"
	"github.com/medkg/ingestcore/internal/payload"
	"go.uber.org/zap"
)

const sourceName = "clinicaltrials"

// BaseURL is the ClinicalTrials.gov v2 studies search endpoint. Exported
// as a var rather than a const so tests can point it at an httptest
// server.
var BaseURL = "https://clinicaltrials.gov/api/v2/studies"

// Adapter implements adapter.Adapter[payload.ClinicalTrialsRecord] against
// the ClinicalTrials.gov v2 studies API.
type Adapter struct {
	http *httpclient.Client
	log  *zap.Logger
}

// New constructs a ClinicalTrials.gov adapter over an already-configured
// HTTP client.
func New(http *httpclient.Client, log *zap.Logger) *Adapter {
	return &Adapter{http: http, log: log}
}

func (a *Adapter) Name() string { return sourceName }

type studiesPage struct {
	Studies       []json.RawMessage `json:"studies"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

// stream paginates studiesPage results, honoring the API's page token.
type stream struct {
	a          *Adapter
	params     adapter.Parameters
	buf        []json.RawMessage
	pos        int
	nextToken  string
	fetchedAny bool
	done       bool
}

func (a *Adapter) Fetch(ctx context.Context, params adapter.Parameters) (adapter.RawStream[payload.ClinicalTrialsRecord], error) {
	return &stream{a: a, params: params}, nil
}

func (s *stream) fillPage(ctx context.Context) error {
	pageSize := s.params.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	q := url.Values{}
	q.Set("page_size", fmt.Sprintf("%d", pageSize))
	if s.params.Query != "" {
		q.Set("query", s.params.Query)
	}
	if !s.params.Since.IsZero() {
		q.Set("since", s.params.Since.Format(time.RFC3339))
	}
	if s.nextToken != "" {
		q.Set("page_token", s.nextToken)
	}
	resp, err := s.a.http.GetJSON(ctx, BaseURL+"?"+q.Encode())
	if err != nil {
		return err
	}
	var page studiesPage
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return &httpclient.DecodeError{URL: BaseURL, Err: err}
	}
	s.buf = page.Studies
	s.pos = 0
	s.fetchedAny = true
	s.nextToken = page.NextPageToken
	if s.nextToken == "" {
		s.done = true
	}
	return nil
}

func (s *stream) Next(ctx context.Context) (payload.ClinicalTrialsRecord, bool, error) {
	for {
		if s.pos < len(s.buf) {
			raw := s.buf[s.pos]
			s.pos++
			if !payload.ProbeRequiredKeys(raw, "nct_id", "brief_title", "overall_status") {
				return payload.ClinicalTrialsRecord{}, false, &adapter.SchemaError{
					Source: sourceName, Reason: "raw study record missing required keys",
				}
			}
			var rec payload.ClinicalTrialsRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return payload.ClinicalTrialsRecord{}, false, &httpclient.DecodeError{URL: BaseURL, Err: err}
			}
			return rec, true, nil
		}
		if s.fetchedAny && s.done {
			return payload.ClinicalTrialsRecord{}, false, nil
		}
		if err := s.fillPage(ctx); err != nil {
			return payload.ClinicalTrialsRecord{}, false, err
		}
		if len(s.buf) == 0 {
			return payload.ClinicalTrialsRecord{}, false, nil
		}
	}
}

func (s *stream) Close() error { return nil }

func (a *Adapter) Parse(raw payload.ClinicalTrialsRecord) (adapter.Document, error) {
	rawBytes, err := json.Marshal(raw)
	if err != nil {
		return adapter.Document{}, fmt.Errorf("%s: marshal raw record: %w", sourceName, err)
	}
	doc, err := adapter.NewDocument("nct:"+raw.NCTID, sourceName, raw)
	if err != nil {
		return adapter.Document{}, err
	}
	doc.URI = "https://clinicaltrials.gov/study/" + raw.NCTID
	doc.Content = raw.BriefTitle

	sourceVersion := raw.LastUpdatePosted
	if sourceVersion == "" {
		sourceVersion = "unspecified"
	}
	doc.Metadata["ingested_at"] = time.Now().UTC().Format(time.RFC3339)
	doc.Metadata["source_version"] = sourceVersion
	doc.Metadata["content_hash"] = adapter.ContentHash(rawBytes)
	return doc, nil
}

func (a *Adapter) Validate(doc adapter.Document) error {
	rec, ok := doc.Raw.(payload.ClinicalTrialsRecord)
	if !ok {
		return &adapter.ValidationError{Source: sourceName, DocID: doc.DocID, Reason: "raw payload is not a ClinicalTrialsRecord"}
	}
	if err := payload.ValidateNCTID(rec.NCTID); err != nil {
		return &adapter.ValidationError{Source: sourceName, DocID: doc.DocID, Reason: "identifier", Err: err}
	}
	if err := payload.ValidateProvenance(doc.Metadata["ingested_at"], doc.Metadata["content_hash"], doc.Metadata["source_version"]); err != nil {
		return &adapter.ValidationError{Source: sourceName, DocID: doc.DocID, Reason: "provenance", Err: err}
	}
	return nil
}

// Write is a no-op: persistence is the pipeline's concern (event
// emission plus ledger recording), not the adapter's. The hook exists
// for sources that need a source-specific side effect on success.
func (a *Adapter) Write(ctx context.Context, doc adapter.Document) error {
	return nil
}

// Factory registers this adapter under "clinicaltrials".
func Factory(deps adapter.Dependencies) (adapter.AdapterRuntime, error) {
	return adapter.Wrap[payload.ClinicalTrialsRecord](New(deps.HTTP, deps.Log)), nil
}
