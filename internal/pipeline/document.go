// Copyright 2025 James Ross
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/medkg/ingestcore/internal/adapter"
	"github.com/medkg/ingestcore/internal/breaker"
	"github.com/medkg/ingestcore/internal/ledger"
	"github.com/medkg/ingestcore/internal/obs"
)

// processItem runs one raw record through parse/validate/write, driving
// the ledger's state machine and emitting the events that sequence
// guarantees (DocumentStarted precedes DocumentCompleted|DocumentFailed).
func (r *runState) processItem(ctx context.Context, raw interface{}) {
	doc, err := r.runtime.Parse(raw)
	if err != nil {
		retryable, errType := adapter.Classify(err)
		r.emit(DocumentFailed{Adapter: r.adapterName, ErrorType: errType, Message: err.Error(), Retryable: retryable, At: time.Now()})
		atomic.AddInt64(&r.failed, 1)
		atomic.AddInt64(&r.processed, 1)
		r.maybeProgress(false)
		return
	}

	docID := doc.DocID

	if !r.opts.Force {
		completed, err := r.p.led.Dedup().IsCompleted(ctx, r.adapterName, docID)
		if err != nil {
			r.p.log.Warn("dedup cache lookup failed, falling back to ledger index",
				obs.String("doc_id", docID), obs.String("adapter", r.adapterName), obs.Err(err))
			if existing, ok := r.p.led.Get(docID, r.adapterName); ok {
				completed = existing.State == ledger.Completed
			}
		}
		if completed {
			obs.DocumentsSkipped.Inc()
			atomic.AddInt64(&r.skipped, 1)
			atomic.AddInt64(&r.processed, 1)
			r.maybeProgress(false)
			return
		}
	}

	// Any other terminal state re-encountered here is not being skipped
	// (it's Force'd past a COMPLETED, or it's a FAILED_TERMINAL/SKIPPED
	// entry being retried), so its current-state pointer must be cleared
	// before Record below: the transition graph has no outgoing edges
	// from a terminal state.
	if existing, ok := r.p.led.Get(docID, r.adapterName); ok && ledger.TerminalStates[existing.State] {
		r.p.led.ForceReset(docID, r.adapterName)
	}

	atomic.AddInt64(&r.inFlight, 1)
	defer atomic.AddInt64(&r.inFlight, -1)

	docCtx, docSpan := obs.ContextWithDocumentSpan(ctx, docID, r.adapterName, "")
	defer docSpan.End()
	ctx = docCtx

	r.emit(DocumentStarted{DocID: docID, Adapter: r.adapterName, Parameters: r.params, At: time.Now(), PipelineID: r.pipelineID})
	obs.DocumentsStarted.Inc()

	start := time.Now()
	cb := r.p.breakerFor(r.adapterName)

	maxAttempts := r.p.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	if _, err := r.p.led.Record(docID, r.adapterName, ledger.Fetching, 0, nil, nil); err != nil {
		r.terminal(docID, err, 0)
		return
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if !r.waitForBreaker(ctx, cb) {
			return
		}

		fetchCtx, fetchSpan := obs.StartFetchSpan(ctx, r.adapterName)
		stageErr := r.runStages(fetchCtx, docID, doc)
		if stageErr != nil {
			obs.RecordError(fetchCtx, stageErr)
		} else {
			obs.SetSpanSuccess(fetchCtx)
		}
		fetchSpan.End()
		ok := stageErr == nil
		prevState := cb.State()
		cb.Record(ok)
		r.recordBreakerTransition(prevState, cb.State())

		if ok {
			if !r.opts.DryRun {
				if _, err := r.p.led.Record(docID, r.adapterName, ledger.Completed, attempt, nil, nil); err != nil {
					r.terminal(docID, err, attempt)
					return
				}
			}
			r.emit(DocumentCompleted{
				Document: doc, DurationMS: time.Since(start).Milliseconds(),
				AdapterMetadata: doc.Metadata, At: time.Now(),
			})
			obs.DocumentsCompleted.Inc()
			obs.DocumentProcessingDuration.Observe(time.Since(start).Seconds())
			atomic.AddInt64(&r.completed, 1)
			atomic.AddInt64(&r.processed, 1)
			r.maybeProgress(false)
			return
		}

		retryable, errType := adapter.Classify(stageErr)
		entryErr := &ledger.EntryError{Type: errType, Message: stageErr.Error(), Retryable: retryable}

		if !retryable || attempt+1 >= maxAttempts {
			if _, err := r.p.led.Record(docID, r.adapterName, ledger.FailedTerminal, attempt, entryErr, nil); err != nil {
				r.terminal(docID, err, attempt)
				return
			}
			r.emit(DocumentFailed{DocID: docID, Adapter: r.adapterName, ErrorType: errType, Message: stageErr.Error(), RetryCount: attempt, Retryable: false, At: time.Now()})
			obs.DocumentsFailed.Inc()
			atomic.AddInt64(&r.failed, 1)
			atomic.AddInt64(&r.processed, 1)
			r.maybeProgress(false)
			return
		}

		if _, err := r.p.led.Record(docID, r.adapterName, ledger.FailedRetryable, attempt, entryErr, nil); err != nil {
			r.terminal(docID, err, attempt)
			return
		}
		if _, err := r.p.led.Record(docID, r.adapterName, ledger.Retrying, attempt, entryErr, nil); err != nil {
			r.terminal(docID, err, attempt)
			return
		}
		obs.DocumentsRetried.Inc()
		r.emit(AdapterStateChange{Adapter: r.adapterName, OldState: "FAILED_RETRYABLE", NewState: "RETRYING", Reason: errType, At: time.Now()})

		if !sleepCtx(ctx, backoffDuration(attempt+1, r.p.cfg.Backoff.Base, r.p.cfg.Backoff.Max)) {
			return
		}
		if _, err := r.p.led.Record(docID, r.adapterName, ledger.Fetching, attempt+1, nil, nil); err != nil {
			r.terminal(docID, err, attempt+1)
			return
		}
	}
}

// runStages executes parsing→validating→writing for a raw record that
// has already been parsed into doc; Parse itself is not retried since it
// is a pure, deterministic function of bytes already in hand.
func (r *runState) runStages(ctx context.Context, docID string, doc adapter.Document) error {
	if _, err := r.p.led.Record(docID, r.adapterName, ledger.Parsing, 0, nil, nil); err != nil {
		return err
	}
	if err := r.runtime.Validate(doc); err != nil {
		return err
	}
	if _, err := r.p.led.Record(docID, r.adapterName, ledger.Validating, 0, nil, nil); err != nil {
		return err
	}
	if _, err := r.p.led.Record(docID, r.adapterName, ledger.Writing, 0, nil, nil); err != nil {
		return err
	}
	if r.opts.DryRun {
		return nil
	}
	if err := r.runtime.Write(ctx, doc); err != nil {
		return err
	}
	return nil
}

// waitForBreaker blocks until the adapter's breaker allows another
// attempt or ctx is cancelled, mirroring the teacher's BreakerPause
// sleep loop rather than failing the document outright on a trip.
func (r *runState) waitForBreaker(ctx context.Context, cb *breaker.CircuitBreaker) bool {
	for !cb.Allow() {
		if !sleepCtx(ctx, r.p.cfg.Backoff.Base) {
			return false
		}
	}
	return true
}

func (r *runState) recordBreakerTransition(prev, curr breaker.State) {
	obs.CircuitBreakerState.WithLabelValues(r.adapterName).Set(float64(curr))
	if prev != curr && curr == breaker.Open {
		obs.CircuitBreakerTrips.WithLabelValues(r.adapterName).Inc()
		r.emit(AdapterStateChange{Adapter: r.adapterName, OldState: prev.String(), NewState: curr.String(), Reason: "failure rate exceeded threshold", At: time.Now()})
	}
}

// terminal handles the programmer-error case of the ledger itself
// rejecting a transition (InvalidStateTransition) or failing to durably
// append (I/O error): per the error-handling design these propagate
// rather than degrading silently, so they are logged at error level and
// surfaced as a DocumentFailed with the ledger's own error type.
func (r *runState) terminal(docID string, err error, attempt int) {
	_, errType := adapter.Classify(err)
	if errType == "UnclassifiedError" {
		errType = "LedgerError"
	}
	r.p.log.Error("ledger transition failed", obs.String("doc_id", docID), obs.String("adapter", r.adapterName), obs.Err(err))
	r.emit(DocumentFailed{DocID: docID, Adapter: r.adapterName, ErrorType: errType, Message: err.Error(), RetryCount: attempt, Retryable: false, At: time.Now()})
	atomic.AddInt64(&r.failed, 1)
	atomic.AddInt64(&r.processed, 1)
	r.maybeProgress(false)
}
