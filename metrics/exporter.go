package metrics

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readHeaderTimeout = 10 * time.Second

// Exporter serves a registry at /metrics, with a liveness probe at /health.
type Exporter struct {
	registry *prometheus.Registry
	server   *http.Server
}

// NewExporter creates an exporter for the session metrics plus the Go
// runtime and process collectors.
func NewExporter(addr string) *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(allMetrics...)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewExporterFor(addr, reg)
}

// NewExporterFor creates an exporter for a caller-owned registry.
func NewExporterFor(addr string, reg *prometheus.Registry) *Exporter {
	e := &Exporter{registry: reg}
	e.server = &http.Server{
		Addr:              addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return e
}

// Registry returns the registry being served.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns the exporter's routes.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	return mux
}

// Start listens until Shutdown, then returns http.ErrServerClosed.
func (e *Exporter) Start() error {
	return e.server.ListenAndServe()
}

// Shutdown stops the listener, letting in-flight scrapes finish within ctx.
// Calling it before Start makes a later Start return immediately.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}
