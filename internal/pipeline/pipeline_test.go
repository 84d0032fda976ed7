// Copyright 2025 James Ross
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/medkg/ingestcore/internal/adapter"
	"github.com/medkg/ingestcore/internal/config"
	"github.com/medkg/ingestcore/internal/httpclient"
	"github.com/medkg/ingestcore/internal/ledger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePayload struct{ ID string }

func (fakePayload) SourceFamily() string { return "fake" }

type fakeStream struct {
	items    []fakePayload
	pos      int
	failAt   int // -1 disables; index into items at which Next returns an error
	failErr  error
}

func (s *fakeStream) Next(ctx context.Context) (fakePayload, bool, error) {
	if s.failAt >= 0 && s.pos == s.failAt {
		s.pos++
		return fakePayload{}, false, s.failErr
	}
	if s.pos >= len(s.items) {
		return fakePayload{}, false, nil
	}
	v := s.items[s.pos]
	s.pos++
	return v, true, nil
}

func (s *fakeStream) Close() error { return nil }

// fakeAdapter lets each test control pass/fail behavior per attempt via
// validateFails, a countdown of failures before Validate finally succeeds.
type fakeAdapter struct {
	stream        *fakeStream
	validateFails int
	validateErr   func() error
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) Fetch(ctx context.Context, params adapter.Parameters) (adapter.RawStream[fakePayload], error) {
	return a.stream, nil
}

func (a *fakeAdapter) Parse(raw fakePayload) (adapter.Document, error) {
	doc, err := adapter.NewDocument("fake:"+raw.ID, "fake", raw)
	if err != nil {
		return adapter.Document{}, err
	}
	doc.Metadata["ingested_at"] = time.Now().UTC().Format(time.RFC3339)
	doc.Metadata["source_version"] = "v1"
	doc.Metadata["content_hash"] = adapter.ContentHash([]byte(raw.ID))
	return doc, nil
}

func (a *fakeAdapter) Validate(doc adapter.Document) error {
	if a.validateFails > 0 {
		a.validateFails--
		return a.validateErr()
	}
	return nil
}

func (a *fakeAdapter) Write(ctx context.Context, doc adapter.Document) error { return nil }

func testPipeline(t *testing.T, reg *adapter.Registry) (*Pipeline, *ledger.Ledger) {
	dir := t.TempDir()
	led, err := ledger.New(config.Ledger{
		LogPath:           filepath.Join(dir, "ledger.ndjson"),
		SnapshotPath:      filepath.Join(dir, "snapshot.json"),
		CompactEvery:      1000,
		DedupCacheBackend: "memory",
	}, zap.NewNop())
	require.NoError(t, err)

	cfg := config.Pipeline{
		WorkerCount: 2, BufferSize: 10, ProgressInterval: 1, MaxAttempts: 3,
		Backoff: config.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
	}
	cbCfg := config.CircuitBreaker{FailureThreshold: 0.9, Window: time.Minute, CooldownPeriod: time.Millisecond, MinSamples: 1000}
	deps := adapter.Dependencies{HTTP: httpclient.New(config.HTTPClient{TimeoutMS: 1000, RetryMaxAttempts: 1}, zap.NewNop()), Ledger: led, Log: zap.NewNop()}
	return New(cfg, cbCfg, reg, deps, zap.NewNop()), led
}

func TestStreamEventsHappyPath(t *testing.T) {
	reg := adapter.NewRegistry()
	fa := &fakeAdapter{stream: &fakeStream{items: []fakePayload{{ID: "1"}}, failAt: -1}}
	reg.Register("fake", func(deps adapter.Dependencies) (adapter.AdapterRuntime, error) {
		return adapter.Wrap[fakePayload](fa), nil
	})
	p, led := testPipeline(t, reg)

	events, err := p.StreamEvents(context.Background(), "fake", adapter.Parameters{}, StreamOptions{})
	require.NoError(t, err)

	var started, completed bool
	for ev := range events {
		switch e := ev.(type) {
		case DocumentStarted:
			started = true
			require.Equal(t, "fake:1", e.DocID)
		case DocumentCompleted:
			completed = true
			require.Equal(t, "fake:1", e.Document.DocID)
		}
	}
	require.True(t, started)
	require.True(t, completed)

	entry, ok := led.Get("fake:1", "fake")
	require.True(t, ok)
	require.Equal(t, ledger.Completed, entry.State)
}

func TestStreamEventsTerminalValidationFailure(t *testing.T) {
	reg := adapter.NewRegistry()
	fa := &fakeAdapter{
		stream:        &fakeStream{items: []fakePayload{{ID: "bad"}}, failAt: -1},
		validateFails: 99,
		validateErr:   func() error { return &adapter.ValidationError{Source: "fake", Reason: "bad record"} },
	}
	reg.Register("fake", func(deps adapter.Dependencies) (adapter.AdapterRuntime, error) {
		return adapter.Wrap[fakePayload](fa), nil
	})
	p, led := testPipeline(t, reg)

	events, err := p.StreamEvents(context.Background(), "fake", adapter.Parameters{}, StreamOptions{})
	require.NoError(t, err)

	var failed DocumentFailed
	for ev := range events {
		if e, ok := ev.(DocumentFailed); ok {
			failed = e
		}
	}
	require.Equal(t, "ValidationError", failed.ErrorType)
	require.False(t, failed.Retryable)

	entry, ok := led.Get("fake:bad", "fake")
	require.True(t, ok)
	require.Equal(t, ledger.FailedTerminal, entry.State)
}

func TestStreamEventsRetriesThenSucceeds(t *testing.T) {
	reg := adapter.NewRegistry()
	fa := &fakeAdapter{
		stream:        &fakeStream{items: []fakePayload{{ID: "flaky"}}, failAt: -1},
		validateFails: 2,
		validateErr:   func() error { return &httpclient.TransportError{URL: "http://fake", Err: errors.New("transient")} },
	}
	reg.Register("fake", func(deps adapter.Dependencies) (adapter.AdapterRuntime, error) {
		return adapter.Wrap[fakePayload](fa), nil
	})
	p, led := testPipeline(t, reg)

	events, err := p.StreamEvents(context.Background(), "fake", adapter.Parameters{}, StreamOptions{})
	require.NoError(t, err)

	var completed bool
	for ev := range events {
		if _, ok := ev.(DocumentCompleted); ok {
			completed = true
		}
	}
	require.True(t, completed)

	hist := led.History("fake:flaky", "fake")
	var states []string
	for _, e := range hist {
		states = append(states, e.StateName)
	}
	require.Contains(t, states, "RETRYING")
	require.Equal(t, "COMPLETED", states[len(states)-1])
}

func TestStreamEventsResumeSkipsCompleted(t *testing.T) {
	reg := adapter.NewRegistry()
	fa := &fakeAdapter{stream: &fakeStream{items: []fakePayload{{ID: "1"}}, failAt: -1}}
	reg.Register("fake", func(deps adapter.Dependencies) (adapter.AdapterRuntime, error) {
		return adapter.Wrap[fakePayload](fa), nil
	})
	p, led := testPipeline(t, reg)

	ctx := context.Background()
	first, err := p.StreamEvents(ctx, "fake", adapter.Parameters{}, StreamOptions{})
	require.NoError(t, err)
	for range first {
	}

	fa.stream = &fakeStream{items: []fakePayload{{ID: "1"}}, failAt: -1}
	second, err := p.StreamEvents(ctx, "fake", adapter.Parameters{}, StreamOptions{})
	require.NoError(t, err)

	for ev := range second {
		_, isStarted := ev.(DocumentStarted)
		require.False(t, isStarted, "resume must not re-emit DocumentStarted for a completed doc_id")
	}

	entry, ok := led.Get("fake:1", "fake")
	require.True(t, ok)
	require.Equal(t, ledger.Completed, entry.State)
}

func TestRunCollectsEagerly(t *testing.T) {
	reg := adapter.NewRegistry()
	fa := &fakeAdapter{stream: &fakeStream{items: []fakePayload{{ID: "1"}, {ID: "2"}}, failAt: -1}}
	reg.Register("fake", func(deps adapter.Dependencies) (adapter.AdapterRuntime, error) {
		return adapter.Wrap[fakePayload](fa), nil
	})
	p, _ := testPipeline(t, reg)

	result, err := p.Run(context.Background(), "fake", adapter.Parameters{}, StreamOptions{})
	require.NoError(t, err)
	require.Len(t, result.Documents, 2)
	require.Equal(t, 2, result.Stats.Completed)
}

func TestStreamEventsFetchLevelErrorEmitsTerminalFailureWithoutDocID(t *testing.T) {
	reg := adapter.NewRegistry()
	fa := &fakeAdapter{stream: &fakeStream{
		items: []fakePayload{{ID: "1"}}, failAt: 0,
		failErr: &httpclient.DecodeError{URL: "http://fake", Err: errors.New("bad json")},
	}}
	reg.Register("fake", func(deps adapter.Dependencies) (adapter.AdapterRuntime, error) {
		return adapter.Wrap[fakePayload](fa), nil
	})
	p, _ := testPipeline(t, reg)

	events, err := p.StreamEvents(context.Background(), "fake", adapter.Parameters{}, StreamOptions{})
	require.NoError(t, err)

	var failed DocumentFailed
	var sawFailure bool
	for ev := range events {
		if e, ok := ev.(DocumentFailed); ok {
			failed = e
			sawFailure = true
		}
	}
	require.True(t, sawFailure)
	require.Equal(t, "DecodeError", failed.ErrorType)
	require.Empty(t, failed.DocID)
}

func TestStreamEventsUnknownAdapter(t *testing.T) {
	reg := adapter.NewRegistry()
	p, _ := testPipeline(t, reg)
	_, err := p.StreamEvents(context.Background(), "nope", adapter.Parameters{}, StreamOptions{})
	require.Error(t, err)
	var unknown *adapter.UnknownAdapter
	require.True(t, errors.As(err, &unknown))
}
