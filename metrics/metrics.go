// Package metrics holds the prometheus metrics of the coordinator and the
// participant client.
//
// Public describes the ceremony and the API and is served at /metrics on the
// API listener. Private adds process and client metrics on top of it and is
// served on a separate listener by Start.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
)

var (
	Public  = prometheus.NewRegistry()
	Private = prometheus.NewRegistry()
)

// API server.
var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_http_requests_total",
		Help: "Requests handled by the coordinator API.",
	}, []string{"code", "method"})
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coordinator_http_request_duration_seconds",
		Help:    "Time spent handling API requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_http_in_flight_requests",
		Help: "API requests currently being served.",
	})
	// Operations counts ceremony operations by outcome: ok, conflict,
	// rejected or error.
	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_operations_total",
		Help: "Ceremony operations by outcome.",
	}, []string{"operation", "result"})
)

// Participant client.
var (
	ClientRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_client_http_requests_total",
		Help: "Requests sent to the coordinator.",
	}, []string{"code", "method"})
	ClientLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coordinator_client_request_duration_seconds",
		Help:    "Round trips to the coordinator.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
	ClientInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_client_in_flight_requests",
		Help: "Requests to the coordinator waiting for an answer.",
	})
)

var registerOnce sync.Once

func register() {
	registerOnce.Do(func() {
		public := []prometheus.Collector{HTTPRequests, HTTPDuration, HTTPInFlight, Operations}
		Public.MustRegister(public...)
		Private.MustRegister(public...)
		Private.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			ClientRequests, ClientLatency, ClientInFlight,
		)
	})
}

// Handler serves the public registry.
func Handler() http.Handler {
	register()
	return promhttp.HandlerFor(Public, promhttp.HandlerOpts{Registry: Public})
}

// Source gives the collector the document to report on.
type Source interface {
	GetCeremony(ctx context.Context) (*ceremony.Ceremony, error)
}

// RegisterCeremony adds a collector of the ceremony kept by source to both
// registries. It fails when a ceremony collector is already registered.
func RegisterCeremony(source Source) error {
	register()
	c := NewCeremonyCollector(source, log.DefaultLogger().Named("metrics"))
	if err := Public.Register(c); err != nil {
		return err
	}
	if err := Private.Register(c); err != nil {
		Public.Unregister(c)
		return err
	}
	return nil
}

// Start serves the private registry, and pprof when given, on bind. The
// ceremony collector is registered when source is not nil.
func Start(bind string, pprof http.Handler, source Source) (net.Listener, error) {
	register()
	if source != nil {
		if err := RegisterCeremony(source); err != nil {
			return nil, err
		}
	}
	lis, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Private, promhttp.HandlerOpts{Registry: Private}))
	if pprof != nil {
		mux.Handle("/debug/pprof/", pprof)
	}

	l := log.DefaultLogger().Named("metrics")
	l.Infow("metrics listening", "addr", lis.Addr().String())
	go func() {
		srv := &http.Server{Handler: mux}
		l.Warnw("metrics listener stopped", "err", srv.Serve(lis))
	}()
	return lis, nil
}

// Observe counts the outcome of one ceremony operation.
func Observe(operation, result string) {
	Operations.WithLabelValues(operation, result).Inc()
}
