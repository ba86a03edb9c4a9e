// Package metrics collects Prometheus metrics for an extraction run
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the extraction metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	apiRequests    *prometheus.CounterVec
	retries        prometheus.Counter
	tokenRefreshes prometheus.Counter
	files          *prometheus.CounterVec
	bytes          prometheus.Counter
	downloadTime   prometheus.Histogram
	inFlight       prometheus.Gauge
	entities       *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zoom_extractor_api_requests_total",
			Help: "Zoom API requests by method and response status",
		}, []string{"method", "status"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zoom_extractor_retries_total",
			Help: "Retried HTTP attempts",
		}),
		tokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zoom_extractor_token_refreshes_total",
			Help: "Successful OAuth token exchanges",
		}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zoom_extractor_files_total",
			Help: "Recording files by terminal status",
		}, []string{"status"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zoom_extractor_downloaded_bytes_total",
			Help: "Bytes written to disk by downloads",
		}),
		downloadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zoom_extractor_download_seconds",
			Help:    "Per-file download duration",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zoom_extractor_downloads_in_flight",
			Help: "Downloads currently running",
		}),
		entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zoom_extractor_entities_total",
			Help: "Users, windows and meetings by outcome",
		}, []string{"kind", "state"}),
	}

	c.registry.MustRegister(
		c.apiRequests,
		c.retries,
		c.tokenRefreshes,
		c.files,
		c.bytes,
		c.downloadTime,
		c.inFlight,
		c.entities,
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordAPIRequest counts a completed API request. status 0 means a transport error.
func (c *Collector) RecordAPIRequest(method string, status int) {
	if c == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	c.apiRequests.WithLabelValues(method, label).Inc()
}

// RecordRetry counts a retried attempt
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.retries.Inc()
}

// RecordTokenRefresh counts a token exchange
func (c *Collector) RecordTokenRefresh() {
	if c == nil {
		return
	}
	c.tokenRefreshes.Inc()
}

// RecordFile counts a file outcome and, for downloads, its size and duration
func (c *Collector) RecordFile(status string, bytes int64, took time.Duration) {
	if c == nil {
		return
	}
	c.files.WithLabelValues(status).Inc()
	if bytes > 0 {
		c.bytes.Add(float64(bytes))
	}
	if took > 0 {
		c.downloadTime.Observe(took.Seconds())
	}
}

// RecordEntity counts a user, window or meeting transition
func (c *Collector) RecordEntity(kind, state string) {
	if c == nil {
		return
	}
	c.entities.WithLabelValues(kind, state).Inc()
}

// DownloadStarted and DownloadFinished track the in-flight gauge
func (c *Collector) DownloadStarted() {
	if c == nil {
		return
	}
	c.inFlight.Inc()
}

func (c *Collector) DownloadFinished() {
	if c == nil {
		return
	}
	c.inFlight.Dec()
}

// Handler returns the /metrics HTTP handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
