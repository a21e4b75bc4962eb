package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics

	authoritydMetricsOnce sync.Once
	authoritydRegistry    *AuthoritydMetrics
)

// RPC returns the lazily-initialised registry used to record JSON-RPC
// method activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vault",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of a JSON-RPC call. code is zero on success.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// VaultMetrics tracks ledger transactions and settlement activity.
type VaultMetrics struct {
	instructions *prometheus.CounterVec
	transfers    *prometheus.CounterVec
	valueMoved   *prometheus.CounterVec
	transactions *prometheus.CounterVec
}

// Vault exposes the metrics registry shared by the runtime and the vault program.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Name:      "instructions_total",
				Help:      "Vault instructions executed segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Name:      "transfers_total",
				Help:      "Custody transfers segmented by direction (deposit, payout, fee).",
			}, []string{"direction"}),
			valueMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Name:      "value_moved_total",
				Help:      "Base units moved through custody segmented by direction.",
			}, []string{"direction"}),
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Name:      "transactions_total",
				Help:      "Ledger transactions segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			vaultRegistry.instructions,
			vaultRegistry.transfers,
			vaultRegistry.valueMoved,
			vaultRegistry.transactions,
		)
	})
	return vaultRegistry
}

// RecordInstruction counts a vault operation. The outcome should be "ok" or
// the stable error name.
func (m *VaultMetrics) RecordInstruction(op, outcome string) {
	if m == nil {
		return
	}
	m.instructions.WithLabelValues(op, outcome).Inc()
}

// RecordTransfer counts a custody movement and the value it carried.
func (m *VaultMetrics) RecordTransfer(direction string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.transfers.WithLabelValues(direction).Inc()
	m.valueMoved.WithLabelValues(direction).Add(float64(amount))
}

// RecordTransaction counts a ledger transaction by outcome
// (committed, rejected, duplicate).
func (m *VaultMetrics) RecordTransaction(outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
}

// AuthoritydMetrics wraps collectors tracking the authority service.
type AuthoritydMetrics struct {
	authorizations *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	forceCloses    *prometheus.CounterVec
}

// Authorityd exposes the metrics registry for authorityd.
func Authorityd() *AuthoritydMetrics {
	authoritydMetricsOnce.Do(func() {
		authoritydRegistry = &AuthoritydMetrics{
			authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "authorityd",
				Name:      "authorizations_total",
				Help:      "Cashout authorization requests segmented by outcome.",
			}, []string{"outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "authorityd",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for authorityd routes.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			forceCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "authorityd",
				Name:      "force_close_total",
				Help:      "Force-close submissions segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			authoritydRegistry.authorizations,
			authoritydRegistry.latency,
			authoritydRegistry.forceCloses,
		)
	})
	return authoritydRegistry
}

// RecordAuthorization counts an authorization request. Outcomes should be
// stable strings such as "issued", "rate_limited" or "cap_exceeded".
func (m *AuthoritydMetrics) RecordAuthorization(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unspecified"
	}
	m.authorizations.WithLabelValues(outcome).Inc()
}

// ObserveLatency records how long a route took to serve.
func (m *AuthoritydMetrics) ObserveLatency(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(route).Observe(d.Seconds())
}

// RecordForceClose counts a force-close submission.
func (m *AuthoritydMetrics) RecordForceClose(outcome string) {
	if m == nil {
		return
	}
	m.forceCloses.WithLabelValues(outcome).Inc()
}
