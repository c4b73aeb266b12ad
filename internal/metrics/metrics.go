// Package metrics is a tiny metrics facade for the ingest pipeline.
//
// The pipeline code depends only on the Backend interface; concrete backends
// (see metrics/datadog) buffer and submit however they like. The default
// backend is a no-op so library callers pay nothing unless they opt in.
package metrics

import (
	"fmt"
	"sync"
	"time"
)

// Labels are free-form metric tags, e.g. {"status": "429"}.
type Labels map[string]string

// Backend is the minimal sink the pipeline emits into.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by the pipeline. Backends may ignore names they do
// not understand; renaming one is a breaking change for dashboards.
const (
	MetricHTTPRequests  = "etl_http_requests_total"
	MetricHTTPErrors    = "etl_http_errors_total"
	MetricHTTPReqDur    = "etl_http_request_duration_seconds"
	MetricHTTPRespDur   = "etl_http_response_duration_seconds"
	MetricHTTPBodyBytes = "etl_http_download_bytes"
	MetricStep          = "etl_step_total"
	MetricStepDur       = "etl_step_duration_seconds"
	MetricRecords       = "etl_records_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Call once at startup.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}

// RecordHTTP records one HTTP attempt: a request counter, an error counter
// when the attempt failed at transport level or with a non-2xx status, and
// latency/size histograms.
//
// status==0 means the request never produced a response (transport error).
func RecordHTTP(job string, status int, attemptErr error, reqDur, respDur time.Duration, bodyBytes int64) {
	b := current()
	labels := Labels{
		"job":    job,
		"status": statusLabel(status),
	}

	b.IncCounter(MetricHTTPRequests, 1, labels)
	if attemptErr != nil || status == 0 || status >= 400 {
		b.IncCounter(MetricHTTPErrors, 1, labels)
	}
	if reqDur >= 0 {
		b.ObserveHistogram(MetricHTTPReqDur, reqDur.Seconds(), labels)
	}
	if respDur >= 0 {
		b.ObserveHistogram(MetricHTTPRespDur, respDur.Seconds(), labels)
	}
	if bodyBytes >= 0 {
		b.ObserveHistogram(MetricHTTPBodyBytes, float64(bodyBytes), labels)
	}
}

// RecordStep records one pipeline step outcome with its duration.
func RecordStep(job, step string, stepErr error, dur time.Duration) {
	status := "ok"
	if stepErr != nil {
		status = "error"
	}
	labels := Labels{"job": job, "step": step, "status": status}

	b := current()
	b.IncCounter(MetricStep, 1, labels)
	b.ObserveHistogram(MetricStepDur, dur.Seconds(), labels)
}

// RecordRecords counts records that reached storage, partitioned by kind
// (e.g. "tracks", "features").
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(MetricRecords, float64(n), Labels{"kind": kind})
}

func statusLabel(status int) string {
	if status <= 0 {
		return "transport_error"
	}
	return fmt.Sprintf("%d", status)
}
