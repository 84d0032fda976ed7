// Copyright 2025 James Ross
package clinicaltrials

import (
	"context"
	"net/http"
	"net/http/httptest"
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

func TestFetchPaginatesAcrossTwoPages(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page_token") == "" {
			w.Write([]byte(`{"studies":[{"nct_id":"NCT00000001","brief_title":"Study One","overall_status":"RECRUITING"}],"next_page_token":"p2"}`))
			return
		}
		w.Write([]byte(`{"studies":[{"nct_id":"NCT00000002","brief_title":"Study Two","overall_status":"COMPLETED"}]}`))
	}))
	defer srv.Close()
	BaseURL = srv.URL

	a := New(testClient(), zap.NewNop())
	s, err := a.Fetch(context.Background(), adapter.Parameters{})
	require.NoError(t, err)
	defer s.Close()

	var ids []string
	for {
		rec, ok, err := s.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		ids = append(ids, rec.NCTID)
	}
	require.Equal(t, []string{"NCT00000001", "NCT00000002"}, ids)
	require.Equal(t, 2, calls)
}

func TestParseAndValidate(t *testing.T) {
	a := New(testClient(), zap.NewNop())
	doc, err := a.Parse(rec())
	require.NoError(t, err)
	require.Equal(t, "nct:NCT01234567", doc.DocID)
	require.NoError(t, a.Validate(doc))
}

func TestValidateRejectsMalformedNCTID(t *testing.T) {
	a := New(testClient(), zap.NewNop())
	r := rec()
	r.NCTID = "bad-id"
	doc, err := adapter.NewDocument("bad-id", "clinicaltrials", r)
	require.NoError(t, err)
	doc.Metadata["ingested_at"] = "x"
	doc.Metadata["content_hash"] = "y"
	doc.Metadata["source_version"] = "z"
	err = a.Validate(doc)
	require.Error(t, err)
}

func rec() payload.ClinicalTrialsRecord {
	return payload.ClinicalTrialsRecord{
		NCTID: "NCT01234567", BriefTitle: "A Study", OverallStatus: "RECRUITING",
		LastUpdatePosted: "2024-01-01",
	}
}
