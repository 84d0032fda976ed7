// Copyright 2025 James Ross
package pubmed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/medkg/ingestcore/internal/adapter"
	"github.com/medkg/ingestcore/internal/config"
	"github.com/medkg/ingestcore/internal/httpclient"
	"github.com/medkg/ingestcore/internal/payload"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient() *httpclient.Client {
	cfg := config.HTTPClient{
		TimeoutMS: 2000, DialTimeout: time.Second, MaxIdleConns: 10, MaxConnsPerHost: 10,
		UserAgent: "test", RetryInitialMS: 1, RetryMaxMS: 10, RetryMaxAttempts: 2, RetryMultiplier: 2,
		DefaultRatePerS: 1000, DefaultBurst: 1000,
	}
	return httpclient.New(cfg, zap.NewNop())
}

func TestFetchSearchThenSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "esearch") {
			w.Write([]byte(`{"esearchresult":{"count":"2","retmax":"2","retstart":"0","idlist":["111","222"]}}`))
			return
		}
		w.Write([]byte(`{"result":{"uids":["111","222"],
			"111":{"uid":"111","title":"Article One","fulljournalname":"J Test","pubdate":"2024","authors":[{"name":"Smith J"}],"lang":["en"]},
			"222":{"uid":"222","title":"Article Two","fulljournalname":"J Test","pubdate":"2024","authors":[{"name":"Doe J"}],"lang":["en"]}
		}}`))
	}))
	defer srv.Close()
	ESearchURL = srv.URL + "/esearch.fcgi"
	ESummaryURL = srv.URL + "/esummary.fcgi"

	a := New(testClient(), zap.NewNop())
	s, err := a.Fetch(context.Background(), adapter.Parameters{PageSize: 2})
	require.NoError(t, err)
	defer s.Close()

	var pmids []string
	for {
		rec, ok, err := s.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		pmids = append(pmids, rec.PMID)
	}
	require.ElementsMatch(t, []string{"111", "222"}, pmids)
}

func TestParseAndValidate(t *testing.T) {
	a := New(testClient(), zap.NewNop())
	rec := payload.PubMedArticleRecord{PMID: "12345678", Title: "A Title", Language: "en"}
	doc, err := a.Parse(rec)
	require.NoError(t, err)
	require.Equal(t, "pmid:12345678", doc.DocID)
	require.NoError(t, a.Validate(doc))
}

func TestValidateRejectsNonNumericPMID(t *testing.T) {
	a := New(testClient(), zap.NewNop())
	rec := payload.PubMedArticleRecord{PMID: "not-a-number", Title: "A Title"}
	doc, err := adapter.NewDocument("pmid:not-a-number", "pubmed", rec)
	require.NoError(t, err)
	doc.Metadata["ingested_at"] = "x"
	doc.Metadata["content_hash"] = "y"
	doc.Metadata["source_version"] = "z"
	require.Error(t, a.Validate(doc))
}
