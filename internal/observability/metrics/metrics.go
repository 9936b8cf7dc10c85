package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type conversionLabel struct {
	Stage   string
	Outcome string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// conversion job outcomes, and playback resolutions. It coordinates
// concurrent writers via a RWMutex while exposing a thread-safe gauge for
// active conversion tracking.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	conversionEvents  map[conversionLabel]uint64
	resolutionCount   map[string]uint64
	invalidPayloads   uint64
	activeConversions atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		conversionEvents: make(map[conversionLabel]uint64),
		resolutionCount:  make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not
// require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates totals for request count and cumulative
// duration by HTTP method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ConversionStarted increments the active conversion gauge.
func (r *Recorder) ConversionStarted() {
	r.activeConversions.Add(1)
}

// ConversionFinished records a terminal conversion outcome and decrements
// the active gauge. Stage identifies the step a failed job died in;
// completed jobs record stage "done".
func (r *Recorder) ConversionFinished(stage, outcome string) {
	label := conversionLabel{Stage: normalizeName(stage), Outcome: normalizeName(outcome)}
	r.mu.Lock()
	r.conversionEvents[label]++
	r.mu.Unlock()
	r.decrementGauge(&r.activeConversions)
}

// ObserveResolution records which object answered a playback resolution
// ("rendition", "original", or "unavailable").
func (r *Recorder) ObserveResolution(source string) {
	name := normalizeName(source)
	r.mu.Lock()
	r.resolutionCount[name]++
	r.mu.Unlock()
}

// ObserveInvalidPayload counts storage events that could not be decoded.
func (r *Recorder) ObserveInvalidPayload() {
	r.mu.Lock()
	r.invalidPayloads++
	r.mu.Unlock()
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.conversionEvents = make(map[conversionLabel]uint64)
	r.resolutionCount = make(map[string]uint64)
	r.invalidPayloads = 0
	r.activeConversions.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	conversionLabels := r.sortedConversionLabels()
	resolutionSources := r.sortedResolutionSources()

	fmt.Fprintln(w, "# HELP eyycourses_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE eyycourses_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "eyycourses_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP eyycourses_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE eyycourses_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "eyycourses_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP eyycourses_conversion_jobs_total Conversion job outcomes by stage")
	fmt.Fprintln(w, "# TYPE eyycourses_conversion_jobs_total counter")
	for _, label := range conversionLabels {
		count := r.conversionEvents[label]
		fmt.Fprintf(w, "eyycourses_conversion_jobs_total{stage=\"%s\",outcome=\"%s\"} %d\n", label.Stage, label.Outcome, count)
	}

	fmt.Fprintln(w, "# HELP eyycourses_active_conversions Current number of in-flight conversion jobs")
	fmt.Fprintln(w, "# TYPE eyycourses_active_conversions gauge")
	fmt.Fprintf(w, "eyycourses_active_conversions %d\n", r.activeConversions.Load())

	fmt.Fprintln(w, "# HELP eyycourses_playback_resolutions_total Playback resolutions by answering source")
	fmt.Fprintln(w, "# TYPE eyycourses_playback_resolutions_total counter")
	for _, source := range resolutionSources {
		count := r.resolutionCount[source]
		fmt.Fprintf(w, "eyycourses_playback_resolutions_total{source=\"%s\"} %d\n", source, count)
	}

	fmt.Fprintln(w, "# HELP eyycourses_invalid_payloads_total Storage event payloads dropped as undecodable")
	fmt.Fprintln(w, "# TYPE eyycourses_invalid_payloads_total counter")
	fmt.Fprintf(w, "eyycourses_invalid_payloads_total %d\n", r.invalidPayloads)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedConversionLabels() []conversionLabel {
	labels := make([]conversionLabel, 0, len(r.conversionEvents))
	for label := range r.conversionEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Stage != labels[j].Stage {
			return labels[i].Stage < labels[j].Stage
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func (r *Recorder) sortedResolutionSources() []string {
	sources := make([]string, 0, len(r.resolutionCount))
	for source := range r.resolutionCount {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// normalizePath collapses lesson identifiers so metrics cardinality stays
// bounded.
func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "/"
	}
	segments := strings.Split(trimmed, "/")
	for i, segment := range segments {
		if i > 0 && segments[i-1] == "lessons" && segment != "" {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}
