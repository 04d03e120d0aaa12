package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Collector tracks server metrics for Prometheus-compatible export.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	requestsTotal map[string]int64          // key: method|status
	callDurations map[string]*HistogramData // key: app

	// Guest metrics
	guestErrors  map[string]int64 // key: error kind
	reloadsTotal map[string]int64 // key: result
	fileBodies   int64
	activeCalls  int64
}

// HistogramData stores histogram-like data for durations
type HistogramData struct {
	Count   int64
	Sum     float64
	Buckets map[float64]int64 // upper bound -> count
}

// DefaultBuckets are default histogram buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		requestsTotal: make(map[string]int64),
		callDurations: make(map[string]*HistogramData),
		guestErrors:   make(map[string]int64),
		reloadsTotal:  make(map[string]int64),
	}
}

// RecordRequest records a completed request
func (c *Collector) RecordRequest(method string, statusCode int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := method + "|" + strconv.Itoa(statusCode)
	c.requestsTotal[key]++
}

// RecordGuestCall records one guest application call with its duration.
func (c *Collector) RecordGuestCall(app string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hd, ok := c.callDurations[app]
	if !ok {
		hd = &HistogramData{
			Buckets: make(map[float64]int64),
		}
		for _, b := range DefaultBuckets {
			hd.Buckets[b] = 0
		}
		c.callDurations[app] = hd
	}

	secs := duration.Seconds()
	hd.Count++
	hd.Sum += secs
	for _, bound := range DefaultBuckets {
		if secs <= bound {
			hd.Buckets[bound]++
		}
	}
}

// RecordGuestError records a guest failure by kind (load, app_not_found,
// app_raised, protocol).
func (c *Collector) RecordGuestError(kind string) {
	c.mu.Lock()
	c.guestErrors[kind]++
	c.mu.Unlock()
}

// RecordReload records an application reload attempt.
func (c *Collector) RecordReload(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.mu.Lock()
	c.reloadsTotal[result]++
	c.mu.Unlock()
}

// RecordFileBody records a response served from a guest-provided file path.
func (c *Collector) RecordFileBody() {
	c.mu.Lock()
	c.fileBodies++
	c.mu.Unlock()
}

// RecordActiveCall adjusts the in-flight guest call gauge by delta.
func (c *Collector) RecordActiveCall(delta int64) {
	c.mu.Lock()
	c.activeCalls += delta
	c.mu.Unlock()
}

// Snapshot holds a point-in-time copy of all metrics.
type Snapshot struct {
	RequestsTotal map[string]int64              `json:"requests_total"`
	CallDurations map[string]*HistogramSnapshot `json:"call_durations"`
	GuestErrors   map[string]int64              `json:"guest_errors"`
	ReloadsTotal  map[string]int64              `json:"reloads_total"`
	FileBodies    int64                         `json:"file_bodies"`
	ActiveCalls   int64                         `json:"active_calls"`
}

// HistogramSnapshot is a snapshot of histogram data
type HistogramSnapshot struct {
	Count   int64             `json:"count"`
	Sum     float64           `json:"sum"`
	Buckets map[float64]int64 `json:"buckets"`
}

// Snapshot returns a point-in-time snapshot of all metrics
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &Snapshot{
		RequestsTotal: make(map[string]int64),
		CallDurations: make(map[string]*HistogramSnapshot),
		GuestErrors:   make(map[string]int64),
		ReloadsTotal:  make(map[string]int64),
		FileBodies:    c.fileBodies,
		ActiveCalls:   c.activeCalls,
	}

	for k, v := range c.requestsTotal {
		snap.RequestsTotal[k] = v
	}

	for k, v := range c.callDurations {
		hs := &HistogramSnapshot{
			Count:   v.Count,
			Sum:     v.Sum,
			Buckets: make(map[float64]int64),
		}
		for b, cnt := range v.Buckets {
			hs.Buckets[b] = cnt
		}
		snap.CallDurations[k] = hs
	}

	for k, v := range c.guestErrors {
		snap.GuestErrors[k] = v
	}
	for k, v := range c.reloadsTotal {
		snap.ReloadsTotal[k] = v
	}

	return snap
}

// Handler returns an http.Handler serving the Prometheus text exposition.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.WritePrometheus(w)
	})
}

// WritePrometheus writes metrics in Prometheus text exposition format
func (c *Collector) WritePrometheus(w http.ResponseWriter) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// rwf_requests_total
	writeHelp(w, "rwf_requests_total", "Total number of HTTP requests", "counter")
	for key, count := range c.requestsTotal {
		parts := splitKey(key, 2)
		if len(parts) == 2 {
			writeMetric(w, "rwf_requests_total", count,
				"method", parts[0], "status", parts[1])
		}
	}

	// rwf_guest_call_duration_seconds
	writeHelp(w, "rwf_guest_call_duration_seconds", "Guest application call duration in seconds", "histogram")
	for app, hd := range c.callDurations {
		for _, bound := range DefaultBuckets {
			cnt := hd.Buckets[bound]
			writeMetricFloat(w, "rwf_guest_call_duration_seconds_bucket", float64(cnt),
				"app", app, "le", strconv.FormatFloat(bound, 'f', -1, 64))
		}
		writeMetricFloat(w, "rwf_guest_call_duration_seconds_bucket", float64(hd.Count),
			"app", app, "le", "+Inf")
		writeMetricFloat(w, "rwf_guest_call_duration_seconds_sum", hd.Sum,
			"app", app)
		writeMetric(w, "rwf_guest_call_duration_seconds_count", hd.Count,
			"app", app)
	}

	// rwf_guest_errors_total
	writeHelp(w, "rwf_guest_errors_total", "Total guest failures by kind", "counter")
	for kind, count := range c.guestErrors {
		writeMetric(w, "rwf_guest_errors_total", count, "kind", kind)
	}

	// rwf_app_reloads_total
	writeHelp(w, "rwf_app_reloads_total", "Total application reload attempts", "counter")
	for result, count := range c.reloadsTotal {
		writeMetric(w, "rwf_app_reloads_total", count, "result", result)
	}

	// rwf_file_responses_total
	writeHelp(w, "rwf_file_responses_total", "Total responses served from a guest file path", "counter")
	writeMetric(w, "rwf_file_responses_total", c.fileBodies)

	// rwf_active_guest_calls
	writeHelp(w, "rwf_active_guest_calls", "Guest calls currently in flight", "gauge")
	writeMetric(w, "rwf_active_guest_calls", c.activeCalls)
}

func writeHelp(w http.ResponseWriter, name, help, metricType string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeMetric(w http.ResponseWriter, name string, value int64, labels ...string) {
	line := name + formatLabels(labels) + " " + strconv.FormatInt(value, 10) + "\n"
	w.Write([]byte(line))
}

func writeMetricFloat(w http.ResponseWriter, name string, value float64, labels ...string) {
	line := name + formatLabels(labels) + " " + strconv.FormatFloat(value, 'f', -1, 64) + "\n"
	w.Write([]byte(line))
}

func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	for i := 0; i < len(labels)-1; i += 2 {
		if i > 0 {
			result += ","
		}
		result += labels[i] + "=\"" + labels[i+1] + "\""
	}
	return result + "}"
}

func splitKey(key string, n int) []string {
	parts := make([]string, 0, n)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
			if len(parts) == n-1 {
				parts = append(parts, key[start:])
				return parts
			}
		}
	}
	if start < len(key) {
		parts = append(parts, key[start:])
	}
	return parts
}
