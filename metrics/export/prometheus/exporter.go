package prometheus

import (
	"errors"
	"net/http"

	goRefresh "github.com/MrEthical07/goRefresh"
	"github.com/MrEthical07/goRefresh/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrNilSource is returned when the exporter is built without a source.
var ErrNilSource = errors.New("nil metrics source")

type metricsSource interface {
	MetricsSnapshot() goRefresh.MetricsSnapshot
	AuditDropped() uint64
}

type counterDesc struct {
	id   goRefresh.MetricID
	desc *prometheus.Desc
}

type histogramDesc struct {
	id   goRefresh.MetricID
	desc *prometheus.Desc
}

// Exporter is a prometheus.Collector over a goRefresh metrics snapshot.
// Values are read at scrape time; nothing is cached between scrapes.
type Exporter struct {
	source       metricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
	registry     *prometheus.Registry
}

// NewExporter builds an exporter for a *goRefresh.Service.
func NewExporter(svc *goRefresh.Service) (*Exporter, error) {
	if svc == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(svc)
}

// NewExporterFromSource builds an exporter over any snapshot source and
// registers it in a private registry served by [Exporter.Handler].
func NewExporterFromSource(source metricsSource) (*Exporter, error) {
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:     source,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		auditDropped: prometheus.NewDesc(
			internaldefs.AuditDroppedName,
			"Audit events dropped due to dispatcher backpressure.",
			nil, nil,
		),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, counterDesc{
			id:   def.ID,
			desc: prometheus.NewDesc(def.Name, def.Help, nil, nil),
		})
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, histogramDesc{
			id:   def.ID,
			desc: prometheus.NewDesc(def.Name, def.Help, nil, nil),
		})
	}

	e.registry = prometheus.NewRegistry()
	if err := e.registry.Register(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	for _, h := range e.histograms {
		ch <- h.desc
	}
	ch <- e.auditDropped
}

// Collect implements prometheus.Collector. Counters absent from the
// snapshot (metrics disabled) are skipped. Histogram sums are not tracked
// and are reported as zero.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snapshot := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		v, ok := snapshot.Counters[c.id]
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v))
	}

	for _, h := range e.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBounds))
		for i, bound := range internaldefs.HistogramBounds {
			buckets[bound] = cumulative[i]
		}
		ch <- prometheus.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(e.auditDropped, prometheus.CounterValue, float64(e.source.AuditDropped()))
}

// Registry exposes the exporter's private registry so callers can add
// their own collectors next to it.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the private registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
