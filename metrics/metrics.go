package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors of the bridge core. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	proofValidations *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	providerErrors   *prometheus.CounterVec
	rpcDuration      *prometheus.HistogramVec
	gasPrice         *prometheus.GaugeVec
	gasPredicted     *prometheus.GaugeVec
	gasSavings       *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		proofValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossbridge_proof_validations_total",
				Help: "Proof validations by chain and result kind",
			},
			[]string{"chain", "kind"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossbridge_state_transitions_total",
				Help: "Entity state transitions by entity and target status",
			},
			[]string{"entity", "status"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossbridge_provider_errors_total",
				Help: "Chain provider errors by chain and method",
			},
			[]string{"chain", "method"},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crossbridge_rpc_duration_seconds",
				Help:    "Chain RPC call duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"chain", "method"},
		),
		gasPrice: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crossbridge_gas_price",
				Help: "Latest sampled gas price in the chain's fee unit",
			},
			[]string{"chain"},
		),
		gasPredicted: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crossbridge_gas_price_predicted",
				Help: "Latest predicted gas price in the chain's fee unit",
			},
			[]string{"chain"},
		),
		gasSavings: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crossbridge_gas_savings_percent",
				Help:    "Reported savings percentage of optimizations",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
			},
			[]string{"chain", "strategy"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossbridge_http_requests_total",
				Help: "API requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	reg.MustRegister(
		m.proofValidations,
		m.transitions,
		m.providerErrors,
		m.rpcDuration,
		m.gasPrice,
		m.gasPredicted,
		m.gasSavings,
		m.httpRequests,
	)
	return m
}

func chainLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}

func (m *Metrics) ProofValidated(chainID int64, kind string) {
	if m == nil {
		return
	}
	m.proofValidations.WithLabelValues(chainLabel(chainID), kind).Inc()
}

func (m *Metrics) Transition(entity, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, status).Inc()
}

// ObserveRPC records the duration of a call and counts it as an error when err is set.
func (m *Metrics) ObserveRPC(chainID int64, method string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.rpcDuration.WithLabelValues(chainLabel(chainID), method).Observe(time.Since(started).Seconds())
	if err != nil {
		m.providerErrors.WithLabelValues(chainLabel(chainID), method).Inc()
	}
}

func (m *Metrics) GasSampled(chainID int64, price uint64) {
	if m == nil {
		return
	}
	m.gasPrice.WithLabelValues(chainLabel(chainID)).Set(float64(price))
}

func (m *Metrics) GasPredicted(chainID int64, price uint64) {
	if m == nil {
		return
	}
	m.gasPredicted.WithLabelValues(chainLabel(chainID)).Set(float64(price))
}

func (m *Metrics) GasOptimized(chainID int64, strategy string, savingsPct float64) {
	if m == nil {
		return
	}
	m.gasSavings.WithLabelValues(chainLabel(chainID), strategy).Observe(savingsPct)
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
