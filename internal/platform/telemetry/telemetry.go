// Package telemetry provides observability for the conflict engine using
// only standard library constructs: counters, gauges, histograms, and a
// Prometheus text exposition endpoint, without importing a metrics SDK.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Config holds the telemetry identity attributes.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "conflict-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// ---------------------------------------------------------------------------
// Histogram — Prometheus-style histogram with buckets
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with configurable bucket boundaries.
// Bucket counts are non-cumulative in storage; cumulative counts are computed
// at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64 // one per boundary, non-cumulative
	count        int64
	sum          uint64     // stored as math.Float64bits for atomic add
	mu           sync.Mutex // protects bucketCounts
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			h.mu.Unlock()
			return
		}
	}
	// Value exceeds all boundaries — counted in +Inf at export.
	h.mu.Unlock()
}

// Count returns the total number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the total sum of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

// cumulativeBuckets returns cumulative bucket counts for Prometheus export.
func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

// atomicAddFloat64 performs an atomic add on a uint64 that stores a float64
// using CAS.
func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Counter and gauge stores
// ---------------------------------------------------------------------------

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) add(key string, delta int64) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, delta)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		v := delta
		s.items[key] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, delta)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

type gaugeStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newGaugeStore() *gaugeStore {
	return &gaugeStore{items: make(map[string]*int64)}
}

func (s *gaugeStore) set(name string, val int64) {
	s.mu.RLock()
	p, ok := s.items[name]
	s.mu.RUnlock()
	if ok {
		atomic.StoreInt64(p, val)
		return
	}
	s.mu.Lock()
	p, ok = s.items[name]
	if !ok {
		v := val
		s.items[name] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.StoreInt64(p, val)
}

func (s *gaugeStore) add(name string, delta int64) {
	s.mu.RLock()
	p, ok := s.items[name]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, delta)
		return
	}
	s.mu.Lock()
	p, ok = s.items[name]
	if !ok {
		v := delta
		s.items[name] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, delta)
}

func (s *gaugeStore) get(name string) int64 {
	s.mu.RLock()
	p, ok := s.items[name]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// defaultDurationBuckets are the histogram boundaries (seconds) used for HTTP
// request duration and scan cycle duration.
var defaultDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// Counter names.
const (
	MetricConflictsDetected = "engine.conflicts.detected"
	MetricConflictsNew      = "engine.conflicts.new"
	MetricConflictsRemoved  = "engine.conflicts.removed"
	MetricAutoResolved      = "engine.conflicts.auto_resolved"
	MetricAutoFailed        = "engine.conflicts.auto_failed"
	MetricInvalidInput      = "engine.appointments.invalid"
	MetricFetchFailures     = "engine.snapshot.fetch_failures"
	MetricScanCycles        = "engine.scan.cycles"
)

// Gauge names.
const (
	GaugePendingAuto    = "engine.conflicts.pending_auto"
	GaugePendingManual  = "engine.conflicts.pending_manual"
	GaugeFailedOpen     = "engine.conflicts.failed_open"
	GaugeActiveRequests = "http.server.active_requests"
)

// Provider holds all metrics state for the engine.
type Provider struct {
	cfg Config

	httpDuration *histogram
	scanDuration *histogram
	counters     *counterStore
	gauges       *gaugeStore
}

// NewProvider creates an initialized Provider.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:          cfg,
		httpDuration: newHistogram(defaultDurationBuckets),
		scanDuration: newHistogram(defaultDurationBuckets),
		counters:     newCounterStore(),
		gauges:       newGaugeStore(),
	}
}

// Resource returns the service identity attributes.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

// AddCounter increments the named counter.
func (p *Provider) AddCounter(name string, delta int64) {
	p.counters.add(name, delta)
}

// GetCounter returns the current value of the named counter.
func (p *Provider) GetCounter(name string) int64 {
	return p.counters.get(name)
}

// SetGauge sets the named gauge.
func (p *Provider) SetGauge(name string, val int64) {
	p.gauges.set(name, val)
}

// GetGauge returns the current value of the named gauge.
func (p *Provider) GetGauge(name string) int64 {
	return p.gauges.get(name)
}

// ObserveScanDuration records one scan cycle duration.
func (p *Provider) ObserveScanDuration(d time.Duration) {
	p.scanDuration.Observe(d.Seconds())
}

// ScanCycleCount returns the number of recorded scan cycles.
func (p *Provider) ScanCycleCount() int64 {
	return p.scanDuration.Count()
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// MetricsMiddleware returns an Echo middleware that records HTTP server
// metrics: active requests and request duration.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.gauges.add(GaugeActiveRequests, 1)
			start := time.Now()

			err := next(c)

			p.gauges.add(GaugeActiveRequests, -1)
			p.httpDuration.Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

// promCounters maps internal counter names to their Prometheus exposition.
var promCounters = []struct {
	name string
	prom string
	help string
}{
	{MetricScanCycles, "engine_scan_cycles_total", "Total completed scan cycles."},
	{MetricConflictsDetected, "engine_conflicts_detected_total", "Total conflicts seen across scan cycles."},
	{MetricConflictsNew, "engine_conflicts_new_total", "Total newly registered conflicts."},
	{MetricConflictsRemoved, "engine_conflicts_removed_total", "Total conflicts that vanished between scans."},
	{MetricAutoResolved, "engine_conflicts_auto_resolved_total", "Total conflicts resolved automatically."},
	{MetricAutoFailed, "engine_conflicts_auto_failed_total", "Total automatic resolution attempts that failed."},
	{MetricInvalidInput, "engine_appointments_invalid_total", "Total appointments excluded by validation."},
	{MetricFetchFailures, "engine_snapshot_fetch_failures_total", "Total failed appointment snapshot fetches."},
}

// promGauges maps internal gauge names to their Prometheus exposition.
var promGauges = []struct {
	name string
	prom string
	help string
}{
	{GaugePendingAuto, "engine_conflicts_pending_auto", "Open conflicts eligible for automatic resolution."},
	{GaugePendingManual, "engine_conflicts_pending_manual", "Open conflicts awaiting manual review."},
	{GaugeFailedOpen, "engine_conflicts_failed_open", "Open conflicts whose last apply failed."},
	{GaugeActiveRequests, "http_server_active_requests", "Number of active HTTP requests."},
}

// PrometheusHandler returns an Echo handler that serves all metrics in
// Prometheus text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		writeHistogram(&b, "http_server_request_duration_seconds",
			"Duration of HTTP requests in seconds.", p.httpDuration)
		writeHistogram(&b, "engine_scan_cycle_duration_seconds",
			"Duration of conflict scan cycles in seconds.", p.scanDuration)

		for _, m := range promCounters {
			fmt.Fprintf(&b, "# HELP %s %s\n", m.prom, m.help)
			fmt.Fprintf(&b, "# TYPE %s counter\n", m.prom)
			fmt.Fprintf(&b, "%s %d\n\n", m.prom, p.counters.get(m.name))
		}
		for _, m := range promGauges {
			fmt.Fprintf(&b, "# HELP %s %s\n", m.prom, m.help)
			fmt.Fprintf(&b, "# TYPE %s gauge\n", m.prom)
			fmt.Fprintf(&b, "%s %d\n\n", m.prom, p.gauges.get(m.name))
		}

		return c.String(http.StatusOK, b.String())
	}
}

func writeHistogram(b *strings.Builder, name, help string, h *histogram) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"} %d\n", name, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, total)
	fmt.Fprintf(b, "%s_sum %g\n", name, h.Sum())
	fmt.Fprintf(b, "%s_count %d\n", name, total)
	b.WriteByte('\n')
}
