package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter bridges a Registry's counters/gauges/histograms into a
// dedicated prometheus.Registry and serves them over HTTP via promhttp, so
// scrapers get standard exposition format, HELP/TYPE lines, and the Go
// runtime/process collectors for free instead of a hand-rolled formatter.

// PrometheusConfig configures the Prometheus exporter.
type PrometheusConfig struct {
	// Namespace is an optional prefix prepended to all metric names
	// (e.g. "evmbridge" produces "evmbridge_frames_executed_total").
	Namespace string
	// EnableRuntime controls whether the Go runtime/process collectors
	// (goroutines, memory, GC, open fds) are registered.
	EnableRuntime bool
	// Path is the HTTP path to serve metrics on (default "/metrics").
	Path string
}

// DefaultPrometheusConfig returns a config with sensible defaults.
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{
		Namespace:     "evmbridge",
		EnableRuntime: true,
		Path:          "/metrics",
	}
}

// PrometheusExporter mirrors a Registry's values into
// prometheus.GaugeFunc/CounterFunc collectors on each scrape and serves them.
type PrometheusExporter struct {
	config   PrometheusConfig
	source   *Registry
	promReg  *prometheus.Registry
	mirrored map[string]struct{}
}

// NewPrometheusExporter creates an exporter that mirrors source's metrics
// into a fresh prometheus.Registry. Collectors are created lazily the first
// time Handler's scrape observes a new metric name in source, since Registry
// is get-or-create and its metric set can grow after construction.
func NewPrometheusExporter(source *Registry, config PrometheusConfig) *PrometheusExporter {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	pe := &PrometheusExporter{
		config:   config,
		source:   source,
		promReg:  prometheus.NewRegistry(),
		mirrored: make(map[string]struct{}),
	}
	if config.EnableRuntime {
		pe.promReg.MustRegister(collectors.NewGoCollector())
		pe.promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return pe
}

// RegisterCollector registers an additional prometheus.Collector directly,
// for callers that already speak the client_golang interface (e.g. a
// gas-metering pass reporting histogram buckets of its own).
func (pe *PrometheusExporter) RegisterCollector(c prometheus.Collector) error {
	return pe.promReg.Register(c)
}

// Handler returns an http.Handler that serves the configured path. Each
// scrape first syncs any metric names in source that don't have a mirrored
// collector yet.
func (pe *PrometheusExporter) Handler() http.Handler {
	mux := http.NewServeMux()
	inner := promhttp.HandlerFor(pe.promReg, promhttp.HandlerOpts{})
	mux.Handle(pe.config.Path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pe.sync()
		inner.ServeHTTP(w, r)
	}))
	return mux
}

// sync registers a CounterFunc (counters), a GaugeFunc (gauges) or three
// _count/_sum/_mean GaugeFuncs (histograms) for any name present
// in source but not yet mirrored. Safe to call repeatedly; already-mirrored
// names are skipped.
func (pe *PrometheusExporter) sync() {
	for _, name := range pe.source.Names() {
		if _, ok := pe.mirrored[name]; ok {
			continue
		}
		promName := sanitizeName(pe.config.Namespace, name)
		switch pe.classify(name) {
		case kindCounter:
			c := pe.source.Counter(name)
			pe.promReg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: promName + "_total",
				Help: name,
			}, func() float64 { return float64(c.Value()) }))
		case kindGauge:
			g := pe.source.Gauge(name)
			pe.promReg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: promName,
				Help: name,
			}, func() float64 { return float64(g.Value()) }))
		case kindHistogram:
			h := pe.source.Histogram(name)
			pe.promReg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: promName + "_count",
				Help: name + " observation count",
			}, func() float64 { return float64(h.Count()) }))
			pe.promReg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: promName + "_sum",
				Help: name + " observation sum",
			}, h.Sum))
			pe.promReg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: promName + "_mean",
				Help: name + " observation mean",
			}, h.Mean))
		}
		pe.mirrored[name] = struct{}{}
	}
}

type metricKind int

const (
	kindCounter metricKind = iota
	kindGauge
	kindHistogram
)

// classify inspects which of source's three maps currently holds name.
func (pe *PrometheusExporter) classify(name string) metricKind {
	pe.source.mu.RLock()
	defer pe.source.mu.RUnlock()
	if _, ok := pe.source.counters[name]; ok {
		return kindCounter
	}
	if _, ok := pe.source.histograms[name]; ok {
		return kindHistogram
	}
	return kindGauge
}

func sanitizeName(namespace, name string) string {
	out := make([]byte, 0, len(namespace)+len(name)+1)
	if namespace != "" {
		out = append(out, namespace...)
		out = append(out, '_')
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
