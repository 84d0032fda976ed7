// Copyright 2025 James Ross
package genericjson

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/medkg/ingestcore/internal/adapter"
	"github.com/medkg/ingestcore/internal/config"
	"github.com/medkg/ingestcore/internal/httpclient"
	"github.com/medkg/ingestcore/internal/ledger"
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

func testDeps(t *testing.T) adapter.Dependencies {
	dir := t.TempDir()
	led, err := ledger.New(config.Ledger{
		LogPath:           filepath.Join(dir, "ledger.ndjson"),
		SnapshotPath:      filepath.Join(dir, "snapshot.json"),
		CompactEvery:      1000,
		DedupCacheBackend: "memory",
	}, zap.NewNop())
	require.NoError(t, err)
	return adapter.Dependencies{HTTP: testClient(), Ledger: led, Log: zap.NewNop()}
}

func TestFetchParseValidateRxNorm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"concepts":[{"rxcui":"12345","name":"Acetaminophen","tty":"IN"}]}`))
	}))
	defer srv.Close()

	r := adapter.NewRegistry()
	registerRxNorm(r, srv.URL)
	runtime, err := r.Build("rxnorm", testDeps(t))
	require.NoError(t, err)

	stream, err := runtime.Fetch(context.Background(), adapter.Parameters{})
	require.NoError(t, err)
	defer stream.Close()

	raw, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	doc, err := runtime.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "rxcui:12345", doc.DocID)
	require.NoError(t, runtime.Validate(doc))

	_, ok, err = stream.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFetchRejectsRecordFailingGuard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"concepts":[{"name":"missing rxcui"}]}`))
	}))
	defer srv.Close()

	r := adapter.NewRegistry()
	registerRxNorm(r, srv.URL)
	runtime, err := r.Build("rxnorm", testDeps(t))
	require.NoError(t, err)

	_, err = runtime.Fetch(context.Background(), adapter.Parameters{})
	require.Error(t, err)
}

func TestValidateSNOMEDRejectsBadChecksum(t *testing.T) {
	a := New(Config[payload.SNOMEDConceptRecord]{
		Source: "snomed",
		Guard:  payload.GuardSNOMED,
		DocID:  func(rec payload.SNOMEDConceptRecord) string { return "snomed:" + rec.ConceptID },
		Validate: func(rec payload.SNOMEDConceptRecord) error {
			return payload.ValidateSNOMEDConceptID(rec.ConceptID)
		},
	}, testClient())

	doc, err := a.Parse(payload.SNOMEDConceptRecord{ConceptID: "22298007", FSN: "Myocardial infarction"})
	require.NoError(t, err)
	require.Error(t, a.Validate(doc))
}

func TestValidateSNOMEDAcceptsGoodChecksum(t *testing.T) {
	a := New(Config[payload.SNOMEDConceptRecord]{
		Source: "snomed",
		Guard:  payload.GuardSNOMED,
		DocID:  func(rec payload.SNOMEDConceptRecord) string { return "snomed:" + rec.ConceptID },
		Validate: func(rec payload.SNOMEDConceptRecord) error {
			return payload.ValidateSNOMEDConceptID(rec.ConceptID)
		},
	}, testClient())

	doc, err := a.Parse(payload.SNOMEDConceptRecord{ConceptID: "22298006", FSN: "Myocardial infarction"})
	require.NoError(t, err)
	require.NoError(t, a.Validate(doc))
}

func TestRegisterAllInstallsEveryDefaultSource(t *testing.T) {
	r := adapter.NewRegistry()
	RegisterAll(r, nil)
	for source := range DefaultEndpoints {
		_, err := r.Build(source, testDeps(t))
		require.NoError(t, err, "source %s should be registered", source)
	}
}
