// Copyright 2025 James Ross
package httpclient

import (
	"time"

	"github.com/medkg/ingestcore/internal/obs"
)

// Event describes the outcome of a single HTTP attempt (not a logical
// request - one retried request produces one Event per attempt).
type Event struct {
	Method     string
	URL        string
	Host       string
	Attempt    int
	StatusCode int
	Duration   time.Duration
	Err        error
	RateWait   time.Duration
}

// Subscriber receives every Event the client emits. Subscribers must not
// block; slow consumers should buffer internally.
type Subscriber func(Event)

// metricsSubscriber is registered on every Client by default — per
// spec there is no way to run the client with telemetry entirely off,
// only additional subscribers to add.
func metricsSubscriber(ev Event) {
	outcome := "success"
	if ev.Err != nil {
		outcome = "error"
	} else if ev.StatusCode >= 400 {
		outcome = "http_error"
	}
	obs.HTTPRequestsTotal.WithLabelValues(ev.Host, outcome).Inc()
	obs.HTTPRequestDuration.Observe(ev.Duration.Seconds())
	if ev.Attempt > 1 {
		reason := "status"
		if ev.Err != nil {
			reason = "transport"
		}
		obs.HTTPRetriesTotal.WithLabelValues(ev.Host, reason).Inc()
	}
	if ev.RateWait > 0 {
		obs.RateLimitWaitSeconds.Observe(ev.RateWait.Seconds())
	}
}
