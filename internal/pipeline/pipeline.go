// Copyright 2025 James Ross
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/medkg/ingestcore/internal/adapter"
	"github.com/medkg/ingestcore/internal/breaker"
	"github.com/medkg/ingestcore/internal/config"
	"github.com/medkg/ingestcore/internal/ledger"
	"github.com/medkg/ingestcore/internal/obs"
	"go.uber.org/zap"
)

// Pipeline executes one adapter over a set of parameters, turning its
// raw record stream into ledger-tracked Documents and a bounded event
// stream. One Pipeline is shared process-wide; per-adapter circuit
// breakers are created lazily and kept for the process lifetime.
type Pipeline struct {
	cfg      config.Pipeline
	cbCfg    config.CircuitBreaker
	registry *adapter.Registry
	deps     adapter.Dependencies
	led      *ledger.Ledger
	log      *zap.Logger

	mu       sync.Mutex
	breakers map[string]*breaker.CircuitBreaker
}

// New constructs a Pipeline. deps is reused for every Registry.Build call
// this Pipeline makes, mirroring the teacher's single injected
// redis.Client shared by every worker goroutine.
func New(cfg config.Pipeline, cbCfg config.CircuitBreaker, registry *adapter.Registry, deps adapter.Dependencies, log *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg: cfg, cbCfg: cbCfg, registry: registry, deps: deps, led: deps.Ledger, log: log,
		breakers: make(map[string]*breaker.CircuitBreaker),
	}
}

func (p *Pipeline) breakerFor(adapterName string) *breaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	cb, ok := p.breakers[adapterName]
	if !ok {
		cb = breaker.New(p.cbCfg.Window, p.cbCfg.CooldownPeriod, p.cbCfg.FailureThreshold, p.cbCfg.MinSamples)
		p.breakers[adapterName] = cb
	}
	return cb
}

// StreamEvents is the primary API: it builds the named adapter, fetches
// against params, and returns a finite, cancellable channel of Events.
// Errors building the adapter are returned synchronously; everything
// after that, including a Fetch that still fails after its retries, is
// reported as events on the channel rather than a return error, so a
// caller ranging over the channel sees every terminal and retry outcome.
func (p *Pipeline) StreamEvents(ctx context.Context, adapterName string, params adapter.Parameters, opts StreamOptions) (<-chan Event, error) {
	runtime, err := p.registry.Build(adapterName, p.deps)
	if err != nil {
		return nil, err
	}

	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = p.cfg.BufferSize
	}
	progressInterval := opts.ProgressInterval
	if progressInterval <= 0 {
		progressInterval = p.cfg.ProgressInterval
	}

	raw := make(chan Event, bufferSize)
	out := make(chan Event, bufferSize)

	run := &runState{
		p: p, runtime: runtime, adapterName: adapterName, params: params, opts: opts,
		pipelineID: uuid.New().String(), progressInterval: progressInterval,
		events: raw,
	}

	go run.execute(ctx)
	go forwardFiltered(raw, out, opts)

	return out, nil
}

// forwardFiltered applies the caller's event_filter/event_transformer
// inline, per spec.md's "both run on the consumer side" rule, and
// closes out once raw is drained.
func forwardFiltered(raw <-chan Event, out chan<- Event, opts StreamOptions) {
	defer close(out)
	for ev := range raw {
		if opts.EventFilter != nil && !opts.EventFilter(ev) {
			continue
		}
		if opts.EventTransformer != nil {
			ev = opts.EventTransformer(ev)
		}
		out <- ev
	}
}

// IterDocuments is a convenience filter over StreamEvents, yielding only
// the document carried by each DocumentCompleted event.
func (p *Pipeline) IterDocuments(ctx context.Context, adapterName string, params adapter.Parameters, opts StreamOptions) (<-chan adapter.Document, error) {
	events, err := p.StreamEvents(ctx, adapterName, params, opts)
	if err != nil {
		return nil, err
	}
	out := make(chan adapter.Document)
	go func() {
		defer close(out)
		for ev := range events {
			if dc, ok := ev.(DocumentCompleted); ok {
				out <- dc.Document
			}
		}
	}()
	return out, nil
}

// Run eagerly collects an entire invocation into a PipelineResult. O(n)
// memory in the number of documents; callers processing large batches
// should use StreamEvents instead.
func (p *Pipeline) Run(ctx context.Context, adapterName string, params adapter.Parameters, opts StreamOptions) (PipelineResult, error) {
	events, err := p.StreamEvents(ctx, adapterName, params, opts)
	if err != nil {
		return PipelineResult{}, err
	}
	var result PipelineResult
	for ev := range events {
		switch e := ev.(type) {
		case DocumentCompleted:
			result.Documents = append(result.Documents, e.Document)
			result.Stats.Completed++
		case DocumentFailed:
			result.Errors = append(result.Errors, e)
			result.Stats.Failed++
		case BatchProgress:
			result.Stats.Skipped = e.Skipped
		}
	}
	return result, nil
}

// runState carries the mutable state of one StreamEvents invocation
// across the dispatcher and worker goroutines.
type runState struct {
	p                *Pipeline
	runtime          adapter.AdapterRuntime
	adapterName      string
	params           adapter.Parameters
	opts             StreamOptions
	pipelineID       string
	progressInterval int
	events           chan Event

	completed int64
	failed    int64
	skipped   int64
	inFlight  int64
	processed int64 // completed+failed+skipped, for progress_interval gating
}

func (r *runState) emit(ev Event) {
	obs.EventQueueDepth.Set(float64(len(r.events)))
	r.events <- ev
}

func (r *runState) maybeProgress(force bool) {
	n := atomic.LoadInt64(&r.processed)
	if !force && (r.progressInterval <= 0 || n%int64(r.progressInterval) != 0) {
		return
	}
	r.emit(BatchProgress{
		Completed: int(atomic.LoadInt64(&r.completed)),
		Failed:    int(atomic.LoadInt64(&r.failed)),
		Skipped:   int(atomic.LoadInt64(&r.skipped)),
		InFlight:  int(atomic.LoadInt64(&r.inFlight)),
		At:        time.Now(),
	})
}

// execute runs the dispatcher (sequential Fetch/Next pagination, the
// only inherently serial part of one adapter invocation) and a bounded
// pool of workers that process each raw record concurrently, then
// closes r.events once everything has drained.
func (r *runState) execute(ctx context.Context) {
	defer close(r.events)

	workerCount := r.p.cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}

	items := make(chan interface{}, workerCount)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for raw := range items {
				r.processItem(ctx, raw)
			}
		}()
	}

	r.dispatch(ctx, items)
	wg.Wait()
	r.maybeProgress(true)
}

// dispatch drives the adapter's single pull-based stream, which is the
// only suspension point that must stay sequential (pagination against
// one upstream source cannot be parallelized); it retries a failure
// that occurs before any record has been yielded, since no doc_id
// exists yet to carry a per-document ledger transition.
func (r *runState) dispatch(ctx context.Context, items chan<- interface{}) {
	defer close(items)

	stream, err := r.runtime.Fetch(ctx, r.params)
	attempt := 0
	for err != nil {
		retryable, errType := adapter.Classify(err)
		if !retryable || attempt >= r.p.cfg.MaxAttempts {
			r.emit(DocumentFailed{Adapter: r.adapterName, ErrorType: errType, Message: err.Error(), RetryCount: attempt, Retryable: false, At: time.Now()})
			atomic.AddInt64(&r.failed, 1)
			atomic.AddInt64(&r.processed, 1)
			return
		}
		attempt++
		r.emit(AdapterStateChange{Adapter: r.adapterName, OldState: "FETCHING", NewState: "RETRYING", Reason: errType, At: time.Now()})
		if !sleepCtx(ctx, backoffDuration(attempt, r.p.cfg.Backoff.Base, r.p.cfg.Backoff.Max)) {
			return
		}
		stream, err = r.runtime.Fetch(ctx, r.params)
	}
	defer stream.Close()

	dispatched := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if r.opts.Limit > 0 && dispatched >= r.opts.Limit {
			return
		}
		raw, ok, nerr := stream.Next(ctx)
		if nerr != nil {
			retryable, errType := adapter.Classify(nerr)
			r.emit(DocumentFailed{Adapter: r.adapterName, ErrorType: errType, Message: nerr.Error(), Retryable: retryable, At: time.Now()})
			atomic.AddInt64(&r.failed, 1)
			atomic.AddInt64(&r.processed, 1)
			return
		}
		if !ok {
			return
		}
		select {
		case items <- raw:
			dispatched++
		case <-ctx.Done():
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// backoffDuration is the exponential-with-cap function used throughout
// the pipeline's retry loops.
func backoffDuration(attempt int, base, max time.Duration) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * base
	if d <= 0 || d > max {
		return max
	}
	return d
}
