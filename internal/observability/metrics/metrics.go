package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters for HTTP requests, render
// traffic, style mutations, and cache invalidations. It coordinates
// concurrent writers via a RWMutex and renders Prometheus text exposition on
// demand.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	renderCount     map[string]uint64
	renderFailures  map[string]uint64
	styleOps        map[string]uint64
	cachePurges     uint64
	purgeFailures   uint64
	authDenied      uint64
	unknownTenants  uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		renderCount:     make(map[string]uint64),
		renderFailures:  make(map[string]uint64),
		styleOps:        make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
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

// ObserveRender records a completed render delegation keyed by artifact kind
// ("tile" or "grid").
func (r *Recorder) ObserveRender(kind string) {
	k := normalizeName(kind)
	r.mu.Lock()
	r.renderCount[k]++
	r.mu.Unlock()
}

// ObserveRenderFailure records a failed render delegation keyed by artifact
// kind. The caller should not also record a successful render.
func (r *Recorder) ObserveRenderFailure(kind string) {
	k := normalizeName(kind)
	r.mu.Lock()
	r.renderFailures[k]++
	r.mu.Unlock()
}

// ObserveStyleOp records a style store mutation or read keyed by operation
// name ("get", "put", "delete").
func (r *Recorder) ObserveStyleOp(op string) {
	k := normalizeName(op)
	r.mu.Lock()
	r.styleOps[k]++
	r.mu.Unlock()
}

// ObserveCachePurge records an invalidation signal sent to the HTTP cache
// layer.
func (r *Recorder) ObserveCachePurge() {
	r.mu.Lock()
	r.cachePurges++
	r.mu.Unlock()
}

// ObservePurgeFailure records an invalidation signal the cache layer did not
// acknowledge.
func (r *Recorder) ObservePurgeFailure() {
	r.mu.Lock()
	r.purgeFailures++
	r.mu.Unlock()
}

// ObserveAuthDenied records a request rejected for missing or stale
// credentials.
func (r *Recorder) ObserveAuthDenied() {
	r.mu.Lock()
	r.authDenied++
	r.mu.Unlock()
}

// ObserveUnknownTenant records a host lookup that missed the tenant
// directory.
func (r *Recorder) ObserveUnknownTenant() {
	r.mu.Lock()
	r.unknownTenants++
	r.mu.Unlock()
}

// StyleOpCounts returns a copy of the style operation counters for tests and
// reporting.
func (r *Recorder) StyleOpCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.styleOps))
	for k, v := range r.styleOps {
		out[k] = v
	}
	return out
}

// RenderCounts returns copies of render success and failure counters.
func (r *Recorder) RenderCounts() (rendered, failed map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rendered = make(map[string]uint64, len(r.renderCount))
	for k, v := range r.renderCount {
		rendered[k] = v
	}
	failed = make(map[string]uint64, len(r.renderFailures))
	for k, v := range r.renderFailures {
		failed[k] = v
	}
	return rendered, failed
}

// CachePurgeCounts returns the purge success and failure totals.
func (r *Recorder) CachePurgeCounts() (purges, failures uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cachePurges, r.purgeFailures
}

// Reset clears all counters on the recorder. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.renderCount = make(map[string]uint64)
	r.renderFailures = make(map[string]uint64)
	r.styleOps = make(map[string]uint64)
	r.cachePurges = 0
	r.purgeFailures = 0
	r.authDenied = 0
	r.unknownTenants = 0
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
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

	fmt.Fprintln(w, "# HELP tilegate_http_requests_total Total number of HTTP requests processed by the gateway")
	fmt.Fprintln(w, "# TYPE tilegate_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "tilegate_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP tilegate_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE tilegate_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "tilegate_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP tilegate_renders_total Render delegations by artifact kind")
	fmt.Fprintln(w, "# TYPE tilegate_renders_total counter")
	for _, kind := range sortedKeys(r.renderCount) {
		fmt.Fprintf(w, "tilegate_renders_total{kind=%q} %d\n", kind, r.renderCount[kind])
	}

	fmt.Fprintln(w, "# HELP tilegate_render_failures_total Failed render delegations by artifact kind")
	fmt.Fprintln(w, "# TYPE tilegate_render_failures_total counter")
	for _, kind := range sortedKeys(r.renderFailures) {
		fmt.Fprintf(w, "tilegate_render_failures_total{kind=%q} %d\n", kind, r.renderFailures[kind])
	}

	fmt.Fprintln(w, "# HELP tilegate_style_operations_total Style store operations by type")
	fmt.Fprintln(w, "# TYPE tilegate_style_operations_total counter")
	for _, op := range sortedKeys(r.styleOps) {
		fmt.Fprintf(w, "tilegate_style_operations_total{op=%q} %d\n", op, r.styleOps[op])
	}

	fmt.Fprintln(w, "# HELP tilegate_cache_purges_total Invalidation signals sent to the HTTP cache layer")
	fmt.Fprintln(w, "# TYPE tilegate_cache_purges_total counter")
	fmt.Fprintf(w, "tilegate_cache_purges_total %d\n", r.cachePurges)

	fmt.Fprintln(w, "# HELP tilegate_cache_purge_failures_total Invalidation signals the cache layer rejected")
	fmt.Fprintln(w, "# TYPE tilegate_cache_purge_failures_total counter")
	fmt.Fprintf(w, "tilegate_cache_purge_failures_total %d\n", r.purgeFailures)

	fmt.Fprintln(w, "# HELP tilegate_auth_denied_total Requests denied for missing or stale credentials")
	fmt.Fprintln(w, "# TYPE tilegate_auth_denied_total counter")
	fmt.Fprintf(w, "tilegate_auth_denied_total %d\n", r.authDenied)

	fmt.Fprintln(w, "# HELP tilegate_unknown_tenants_total Host lookups that missed the tenant directory")
	fmt.Fprintln(w, "# TYPE tilegate_unknown_tenants_total counter")
	fmt.Fprintf(w, "tilegate_unknown_tenants_total %d\n", r.unknownTenants)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// normalizePath collapses tile coordinates and table names so the label set
// stays bounded regardless of traffic shape.
func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if !strings.HasPrefix(trimmed, "/tiles/") {
		return trimmed
	}
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	switch {
	case len(parts) == 2 && parts[1] == "flush_cache":
		return "/tiles/flush_cache"
	case len(parts) == 3:
		return "/tiles/{table}/" + parts[2]
	case len(parts) == 5 && strings.HasSuffix(parts[4], ".grid.json"):
		return "/tiles/{table}/{z}/{x}/{y}.grid.json"
	case len(parts) == 5:
		return "/tiles/{table}/{z}/{x}/{y}.png"
	default:
		return "/tiles/{table}"
	}
}
