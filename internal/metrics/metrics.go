// Package metrics holds the service's atomic counters and a hand-rolled
// Prometheus text exporter.
package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

var (
	// HTTPRequestsTotal and HTTPErrorsTotal are fed by internal/logging's
	// request middleware.
	HTTPRequestsTotal atomic.Int64
	HTTPErrorsTotal   atomic.Int64

	// SessionsActive and SocketsActive track live table sizes; the
	// service updates these on Track/Destroy.
	SessionsActive atomic.Int64
	SocketsActive  atomic.Int64

	// ResourceCacheHits and ResourceCacheMisses are fed by the resource
	// fetcher on every /cache/ lookup.
	ResourceCacheHits   atomic.Int64
	ResourceCacheMisses atomic.Int64

	// CallersActive mirrors the service's callers counter; exposed
	// separately so /metrics can report idling state without reaching
	// into the service.
	CallersActive atomic.Int64
)

var serverStartTime = time.Now()

// Handler serves Prometheus-compatible text exposition.
func Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP cockpit_ws_build_info Build information\n")
	fmt.Fprintf(w, "# TYPE cockpit_ws_build_info gauge\n")
	fmt.Fprintf(w, "cockpit_ws_build_info{go_version=%q} 1\n\n", runtime.Version())

	fmt.Fprintf(w, "# HELP process_start_time_seconds Unix timestamp of process start\n")
	fmt.Fprintf(w, "# TYPE process_start_time_seconds gauge\n")
	fmt.Fprintf(w, "process_start_time_seconds %d\n\n", serverStartTime.Unix())

	fmt.Fprintf(w, "# HELP cockpit_ws_http_requests_total Total HTTP requests served\n")
	fmt.Fprintf(w, "# TYPE cockpit_ws_http_requests_total counter\n")
	fmt.Fprintf(w, "cockpit_ws_http_requests_total %d\n\n", HTTPRequestsTotal.Load())

	fmt.Fprintf(w, "# HELP cockpit_ws_http_errors_total Total HTTP 5xx responses\n")
	fmt.Fprintf(w, "# TYPE cockpit_ws_http_errors_total counter\n")
	fmt.Fprintf(w, "cockpit_ws_http_errors_total %d\n\n", HTTPErrorsTotal.Load())

	fmt.Fprintf(w, "# HELP cockpit_ws_sessions_active Live agent sessions\n")
	fmt.Fprintf(w, "# TYPE cockpit_ws_sessions_active gauge\n")
	fmt.Fprintf(w, "cockpit_ws_sessions_active %d\n\n", SessionsActive.Load())

	fmt.Fprintf(w, "# HELP cockpit_ws_sockets_active Live browser sockets\n")
	fmt.Fprintf(w, "# TYPE cockpit_ws_sockets_active gauge\n")
	fmt.Fprintf(w, "cockpit_ws_sockets_active %d\n\n", SocketsActive.Load())

	fmt.Fprintf(w, "# HELP cockpit_ws_resource_cache_hits_total Resource cache hits\n")
	fmt.Fprintf(w, "# TYPE cockpit_ws_resource_cache_hits_total counter\n")
	fmt.Fprintf(w, "cockpit_ws_resource_cache_hits_total %d\n\n", ResourceCacheHits.Load())

	fmt.Fprintf(w, "# HELP cockpit_ws_resource_cache_misses_total Resource cache misses\n")
	fmt.Fprintf(w, "# TYPE cockpit_ws_resource_cache_misses_total counter\n")
	fmt.Fprintf(w, "cockpit_ws_resource_cache_misses_total %d\n\n", ResourceCacheMisses.Load())

	fmt.Fprintf(w, "# HELP cockpit_ws_callers_active Accepted browser sockets not yet closed\n")
	fmt.Fprintf(w, "# TYPE cockpit_ws_callers_active gauge\n")
	fmt.Fprintf(w, "cockpit_ws_callers_active %d\n", CallersActive.Load())
}
