// Package metrics exports the result cache counters of a server to
// prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	NumRowsName = "resultset_cache_total_num_rows"
	BytesName   = "resultset_cache_total_bytes"

	Path = "/metrics"
)

// Source is summed over its open operations each time the gauges are read;
// *operation.Manager is a Source.
type Source interface {
	CachedRows() int64
	CachedBytes() int64
}

type Metrics struct {
	registry *prometheus.Registry

	NumRows prometheus.GaugeFunc
	Bytes   prometheus.GaugeFunc
}

func New(src Source) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		NumRows: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: NumRowsName,
				Help: "Rows held by the result caches of open operations.",
			},
			func() float64 {
				return float64(src.CachedRows())
			}),
		Bytes: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: BytesName,
				Help: "Bytes held by the result caches of open operations.",
			},
			func() float64 {
				return float64(src.CachedBytes())
			}),
	}

	m.registry.MustRegister(m.NumRows, m.Bytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry,
		promhttp.HandlerOpts{
			ErrorLog: log.StandardLogger(),
		})
}

// ListenAndServe serves the metrics at Path on addr until ctx is done.
func (m *Metrics) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(Path, m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("address", addr).Info("serving metrics")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.Wrapf(err, "metrics: listen on %s", addr)
}
