package prometheus

import (
	"net/http"
	"strings"

	"github.com/MrEthical07/hrauth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hrauth"

// MetricsSource is the read side of [hrauth.Engine] the collector needs.
type MetricsSource interface {
	MetricsSnapshot() hrauth.MetricsSnapshot
	AuditDropped() uint64
}

// Collector exposes engine counters as Prometheus metrics. Values are read
// from a snapshot at scrape time, so nothing is double counted.
type Collector struct {
	source   MetricsSource
	counters map[hrauth.MetricID]*prometheus.Desc
	latency  *prometheus.Desc
	dropped  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector over source, normally an *hrauth.Engine.
func NewCollector(source MetricsSource) *Collector {
	c := &Collector{
		source:   source,
		counters: make(map[hrauth.MetricID]*prometheus.Desc),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "validate_latency_seconds"),
			"Session validation latency.", nil, nil,
		),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "audit_dropped_total"),
			"Audit events dropped because the dispatcher buffer was full.", nil, nil,
		),
	}
	for _, id := range hrauth.MetricIDs() {
		if id == hrauth.MetricValidateLatency {
			continue
		}
		c.counters[id] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", id.String()+"_total"),
			helpFor(id), nil, nil,
		)
	}
	return c
}

func helpFor(id hrauth.MetricID) string {
	return "Count of " + strings.ReplaceAll(id.String(), "_", " ") + " events."
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, id := range hrauth.MetricIDs() {
		if d, ok := c.counters[id]; ok {
			ch <- d
		}
	}
	ch <- c.latency
	ch <- c.dropped
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	snap := c.source.MetricsSnapshot()

	for _, id := range hrauth.MetricIDs() {
		d, ok := c.counters[id]
		if !ok {
			continue
		}
		v, ok := snap.Counters[id]
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	if raw, ok := snap.Histograms[hrauth.MetricValidateLatency]; ok {
		count, buckets := cumulative(raw)
		// The registry keeps bucket counts only; the sum is not tracked.
		ch <- prometheus.MustNewConstHistogram(c.latency, count, 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// cumulative converts per-bucket counts into Prometheus upper-bound buckets
// in seconds. The trailing unbounded bucket only contributes to count.
func cumulative(raw []uint64) (uint64, map[float64]uint64) {
	buckets := make(map[float64]uint64, len(hrauth.HistogramBounds))
	var running uint64
	for i, v := range raw {
		running += v
		if i < len(hrauth.HistogramBounds) {
			buckets[hrauth.HistogramBounds[i]/1000] = running
		}
	}
	return running, buckets
}

// Handler serves source on a private registry, keeping the process default
// registry untouched.
func Handler(source MetricsSource) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(source))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
