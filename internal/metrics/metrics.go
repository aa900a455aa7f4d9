package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Collector struct {
	reg    *prometheus.Registry
	logger *zap.Logger

	RelationsLoaded prometheus.Gauge
	Workers         prometheus.Gauge

	LoadDuration    prometheus.Histogram
	ExtractDuration prometheus.Histogram

	Routes *prometheus.CounterVec // code label: parse status code

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	StoreRuns   *prometheus.CounterVec // result label: ok|error
	StoreRoutes prometheus.Counter

	Gap prometheus.Gauge // metres
}

func NewCollector(logger *zap.Logger, gap float64) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg:    reg,
		logger: logger,
		RelationsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptparser_relations_loaded",
			Help: "Number of relations held by the loaded extract.",
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptparser_workers",
			Help: "Worker goroutines used by the last extraction.",
		}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ptparser_load_duration_seconds",
			Help:    "Duration of reading and indexing an extract.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		ExtractDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ptparser_extract_duration_seconds",
			Help:    "Duration of one extraction over all loaded relations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		Routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptparser_routes_total",
			Help: "Routes extracted, by parse status code.",
		}, []string{"code"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptparser_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptparser_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptparser_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ptparser_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		StoreRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptparser_store_runs_total",
			Help: "Extraction runs written to the store, by result.",
		}, []string{"result"}),
		StoreRoutes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptparser_store_routes_total",
			Help: "Routes written to the store.",
		}),
		Gap: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptparser_gap_meters",
			Help: "Configured gap bridged between way endpoints.",
		}),
	}

	// Register
	reg.MustRegister(
		c.RelationsLoaded, c.Workers,
		c.LoadDuration, c.ExtractDuration, c.Routes,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.StoreRuns, c.StoreRoutes, c.Gap,
	)

	c.Gap.Set(gap)

	return c
}

// ObserveLoad records a finished extract load.
func (c *Collector) ObserveLoad(d time.Duration, relations int) {
	c.LoadDuration.Observe(d.Seconds())
	c.RelationsLoaded.Set(float64(relations))
}

// ObserveExtract records a finished extraction.
func (c *Collector) ObserveExtract(d time.Duration, workers int) {
	c.ExtractDuration.Observe(d.Seconds())
	c.Workers.Set(float64(workers))
}

func (c *Collector) RouteStatusInc(code uint64) {
	c.Routes.WithLabelValues(strconv.FormatUint(code, 10)).Inc()
}

// ObserveStore records one store write of n routes.
func (c *Collector) ObserveStore(n int, err error) {
	if err != nil {
		c.StoreRuns.WithLabelValues("error").Inc()
		return
	}
	c.StoreRuns.WithLabelValues("ok").Inc()
	c.StoreRoutes.Add(float64(n))
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	c.logger.Info("metrics listening", zap.String("addr", addr))
	return srv
}
