// Package metrics exposes prometheus collectors for the device session, the
// transaction crafters and the chain RPC retries.
package metrics

import (
	"net/http"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

// Service owns a private registry so tests can create as many instances as
// they like.
type Service struct {
	registry *prometheus.Registry

	deviceOps      *prometheus.CounterVec
	deviceDuration *prometheus.HistogramVec
	sessionState   prometheus.Gauge
	transportOpens prometheus.Counter
	crafts         *prometheus.CounterVec
	rpcRetries     *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() (*Service, error) {
	s := &Service{
		registry: prometheus.NewRegistry(),
		deviceOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_operations_total",
			Help:      "Device operations by operation, chain and outcome.",
		}, []string{"op", "chain", "outcome"}),
		deviceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "device_operation_duration_seconds",
			Help:      "Time spent in device operations, including waiting for user confirmation.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"op", "chain"}),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_session_state",
			Help:      "Device session state (0 disconnected, 1 connecting, 2 connected).",
		}),
		transportOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_transport_opens_total",
			Help:      "Number of device transports opened.",
		}),
		crafts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crafts_total",
			Help:      "Crafted transactions by chain, kind and outcome.",
		}, []string{"chain", "kind", "outcome"}),
		rpcRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_retries_total",
			Help:      "Retried chain RPC calls.",
		}, []string{"chain", "op"}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.deviceOps,
		s.deviceDuration,
		s.sessionState,
		s.transportOpens,
		s.crafts,
		s.rpcRetries,
	} {
		if err := s.registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register collector")
		}
	}

	return s, nil
}

// Registry returns the registry backing the service.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the prometheus exposition format.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// ObserveOperation implements device.Recorder.
func (s *Service) ObserveOperation(op string, c chain.Chain, outcome string, d time.Duration) {
	s.deviceOps.WithLabelValues(op, chainLabel(c), outcome).Inc()
	s.deviceDuration.WithLabelValues(op, chainLabel(c)).Observe(d.Seconds())
}

// SetState implements device.Recorder.
func (s *Service) SetState(state device.State) {
	s.sessionState.Set(float64(state))
}

// TransportOpened implements device.Recorder.
func (s *Service) TransportOpened() {
	s.transportOpens.Inc()
}

// ObserveCraft counts a crafted (or failed) transaction.
func (s *Service) ObserveCraft(c chain.Chain, kind string, outcome string) {
	s.crafts.WithLabelValues(chainLabel(c), kind, outcome).Inc()
}

// RetryHook returns a callback for chain.RetryConfig.OnRetry.
func (s *Service) RetryHook(c chain.Chain) func(op string, err error) {
	return func(op string, _ error) {
		s.rpcRetries.WithLabelValues(chainLabel(c), op).Inc()
	}
}

func chainLabel(c chain.Chain) string {
	if c == "" {
		return "none"
	}
	return c.String()
}
