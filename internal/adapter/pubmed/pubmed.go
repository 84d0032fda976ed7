// Copyright 2025 James Ross
package pubmed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/medkg/ingestcore/internal/adapter"
	"github.com/medkg/ingestcore/internal/httpclient"
	"github.com/medkg/ingestcore/internal/payload"
	"go.uber.org/zap"
)

const sourceName = "pubmed"

// ESearchURL and ESummaryURL are the two E-utilities endpoints this
// adapter drives: esearch to page through matching PMIDs, esummary to
// fetch article details for a batch of them. Vars rather than consts so
// tests can redirect them to an httptest server.
var (
	ESearchURL  = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi"
	ESummaryURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esummary.fcgi"
)

// Adapter implements adapter.Adapter[payload.PubMedArticleRecord] against
// the NCBI E-utilities API.
type Adapter struct {
	http *httpclient.Client
	log  *zap.Logger
}

// New constructs a PubMed adapter over an already-configured HTTP client.
func New(http *httpclient.Client, log *zap.Logger) *Adapter {
	return &Adapter{http: http, log: log}
}

func (a *Adapter) Name() string { return sourceName }

type esearchResponse struct {
	Result struct {
		Count    string   `json:"count"`
		RetMax   string   `json:"retmax"`
		RetStart string   `json:"retstart"`
		IDList   []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result json.RawMessage `json:"result"`
}

type esummaryUIDList struct {
	UIDs []string `json:"uids"`
}

type summaryItem struct {
	UID             string `json:"uid"`
	Title           string `json:"title"`
	FullJournalName string `json:"fulljournalname"`
	PubDate         string `json:"pubdate"`
	Authors         []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Lang []string `json:"lang"`
}

type stream struct {
	a        *Adapter
	params   adapter.Parameters
	retStart int
	buf       []payload.PubMedArticleRecord
	pos       int
	done      bool
}

func (a *Adapter) Fetch(ctx context.Context, params adapter.Parameters) (adapter.RawStream[payload.PubMedArticleRecord], error) {
	return &stream{a: a, params: params}, nil
}

func (s *stream) fillPage(ctx context.Context) error {
	retMax := s.params.PageSize
	if retMax <= 0 {
		retMax = 50
	}
	term := s.params.Query
	if term == "" {
		term = "all[sb]"
	}
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("retmode", "json")
	q.Set("retstart", strconv.Itoa(s.retStart))
	q.Set("retmax", strconv.Itoa(retMax))
	q.Set("term", term)

	esResp, err := s.a.http.GetJSON(ctx, ESearchURL+"?"+q.Encode())
	if err != nil {
		return err
	}
	var es esearchResponse
	if err := json.Unmarshal(esResp.Data, &es); err != nil {
		return &httpclient.DecodeError{URL: ESearchURL, Err: err}
	}
	if len(es.Result.IDList) == 0 {
		s.done = true
		return nil
	}
	s.retStart += len(es.Result.IDList)
	if total, err := strconv.Atoi(es.Result.Count); err == nil && s.retStart >= total {
		s.done = true
	}

	sq := url.Values{}
	sq.Set("db", "pubmed")
	sq.Set("retmode", "json")
	sq.Set("id", strings.Join(es.Result.IDList, ","))
	sumResp, err := s.a.http.GetJSON(ctx, ESummaryURL+"?"+sq.Encode())
	if err != nil {
		return err
	}
	var sum esummaryResponse
	if err := json.Unmarshal(sumResp.Data, &sum); err != nil {
		return &httpclient.DecodeError{URL: ESummaryURL, Err: err}
	}
	var uidList esummaryUIDList
	if err := json.Unmarshal(sum.Result, &uidList); err != nil {
		return &httpclient.DecodeError{URL: ESummaryURL, Err: err}
	}
	var resultMap map[string]json.RawMessage
	if err := json.Unmarshal(sum.Result, &resultMap); err != nil {
		return &httpclient.DecodeError{URL: ESummaryURL, Err: err}
	}

	s.buf = s.buf[:0]
	s.pos = 0
	for _, uid := range uidList.UIDs {
		raw, ok := resultMap[uid]
		if !ok {
			continue
		}
		if !payload.ProbeRequiredKeys(raw, "uid", "title") {
			return &adapter.SchemaError{Source: sourceName, DocID: uid, Reason: "esummary record missing required keys"}
		}
		var item summaryItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return &httpclient.DecodeError{URL: ESummaryURL, Err: err}
		}
		s.buf = append(s.buf, toRecord(item))
	}

	if retMax > 0 && len(es.Result.IDList) < retMax {
		s.done = true
	}
	return nil
}

func toRecord(item summaryItem) payload.PubMedArticleRecord {
	authors := make([]string, 0, len(item.Authors))
	for _, au := range item.Authors {
		authors = append(authors, au.Name)
	}
	lang := ""
	if len(item.Lang) > 0 {
		lang = item.Lang[0]
	}
	return payload.PubMedArticleRecord{
		PMID:     item.UID,
		Title:    item.Title,
		Journal:  item.FullJournalName,
		PubDate:  item.PubDate,
		Authors:  authors,
		Language: lang,
	}
}

func (s *stream) Next(ctx context.Context) (payload.PubMedArticleRecord, bool, error) {
	for {
		if s.pos < len(s.buf) {
			v := s.buf[s.pos]
			s.pos++
			return v, true, nil
		}
		if s.done {
			return payload.PubMedArticleRecord{}, false, nil
		}
		if err := s.fillPage(ctx); err != nil {
			return payload.PubMedArticleRecord{}, false, err
		}
		if len(s.buf) == 0 {
			return payload.PubMedArticleRecord{}, false, nil
		}
	}
}

func (s *stream) Close() error { return nil }

func (a *Adapter) Parse(raw payload.PubMedArticleRecord) (adapter.Document, error) {
	rawBytes, err := json.Marshal(raw)
	if err != nil {
		return adapter.Document{}, fmt.Errorf("%s: marshal raw record: %w", sourceName, err)
	}
	doc, err := adapter.NewDocument("pmid:"+raw.PMID, sourceName, raw)
	if err != nil {
		return adapter.Document{}, err
	}
	doc.URI = "https://pubmed.ncbi.nlm.nih.gov/" + raw.PMID + "/"
	doc.Content = raw.Title

	sourceVersion := raw.PubDate
	if sourceVersion == "" {
		sourceVersion = "unspecified"
	}
	doc.Metadata["ingested_at"] = time.Now().UTC().Format(time.RFC3339)
	doc.Metadata["source_version"] = sourceVersion
	doc.Metadata["content_hash"] = adapter.ContentHash(rawBytes)
	return doc, nil
}

func (a *Adapter) Validate(doc adapter.Document) error {
	rec, ok := doc.Raw.(payload.PubMedArticleRecord)
	if !ok {
		return &adapter.ValidationError{Source: sourceName, DocID: doc.DocID, Reason: "raw payload is not a PubMedArticleRecord"}
	}
	if err := payload.ValidatePMID(rec.PMID); err != nil {
		return &adapter.ValidationError{Source: sourceName, DocID: doc.DocID, Reason: "identifier", Err: err}
	}
	if rec.Language != "" {
		if err := payload.ValidateLanguageCode(rec.Language); err != nil {
			return &adapter.ValidationError{Source: sourceName, DocID: doc.DocID, Reason: "language", Err: err}
		}
	}
	if err := payload.ValidateProvenance(doc.Metadata["ingested_at"], doc.Metadata["content_hash"], doc.Metadata["source_version"]); err != nil {
		return &adapter.ValidationError{Source: sourceName, DocID: doc.DocID, Reason: "provenance", Err: err}
	}
	return nil
}

// Write is a no-op; see clinicaltrials.Adapter.Write for rationale.
func (a *Adapter) Write(ctx context.Context, doc adapter.Document) error {
	return nil
}

// Factory registers this adapter under "pubmed".
func Factory(deps adapter.Dependencies) (adapter.AdapterRuntime, error) {
	return adapter.Wrap[payload.PubMedArticleRecord](New(deps.HTTP, deps.Log)), nil
}
