// Package metrics exposes PTP telemetry events as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skycoin/ptp/pkg/telemetry"
)

// NewDummy constructs a recorder that discards events.
func NewDummy() telemetry.Sink {
	return telemetry.Discard
}

type prom struct {
	segments    *prometheus.CounterVec
	payload     *prometheus.CounterVec
	retransmits prometheus.Counter
}

// NewPrometheus constructs a Prometheus recorder registered on reg.
func NewPrometheus(service string, reg prometheus.Registerer) (telemetry.Sink, error) {
	m := &prom{
		segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_segments_total",
			Help: "The total number of segments sent, received or dropped",
		}, []string{"action", "type"}),
		payload: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_payload_bytes_total",
			Help: "The total number of payload bytes sent, received or dropped",
		}, []string{"action"}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: service + "_retransmits_total",
			Help: "The total number of retransmitted data segments",
		}),
	}
	for _, c := range []prometheus.Collector{m.segments, m.payload, m.retransmits} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *prom) Record(ev telemetry.Event) {
	m.segments.WithLabelValues(string(ev.Action), ev.Type.String()).Inc()
	m.payload.WithLabelValues(string(ev.Action)).Add(float64(ev.Size))
	if ev.Retransmit {
		m.retransmits.Inc()
	}
}

// Handler returns the HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return r
}

// Serve serves Handler on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	srv := &http.Server{Addr: addr, Handler: Handler(g)}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
