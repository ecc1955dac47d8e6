package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry           *prometheus.Registry
	settlementsTotal   *prometheus.CounterVec
	refundsTotal       *prometheus.CounterVec
	orphanRefundsTotal *prometheus.CounterVec
	reconcileDrifts    prometheus.Counter
	reconcileErrors    prometheus.Counter
	reconcileLastRun   prometheus.Gauge
	pendingLocks       prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bidrails_settlements_total",
		Help: "Settled auctions by outcome (sold, unsold, fallback)",
	}, []string{"outcome"})

	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bidrails_refunds_total",
		Help: "Loser refund submissions by result",
	}, []string{"result"})

	orphans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bidrails_orphan_refunds_total",
		Help: "Orphan-scan refund attempts by result",
	}, []string{"result"})

	drifts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bidrails_reconcile_drifts_total",
		Help: "Holders found drifted from on-chain balance",
	})

	reconcileErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bidrails_reconcile_errors_total",
		Help: "Per-holder read failures during reconciliation",
	})

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bidrails_reconcile_last_run_seconds",
		Help: "Unix time of the last completed reconciliation run",
	})

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bidrails_pending_locks",
		Help: "Locks open in the process-local pending set",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(settlements, refunds, orphans, drifts, reconcileErrs, lastRun, pending)

	return &metricsRegistry{
		registry:           r,
		settlementsTotal:   settlements,
		refundsTotal:       refunds,
		orphanRefundsTotal: orphans,
		reconcileDrifts:    drifts,
		reconcileErrors:    reconcileErrs,
		reconcileLastRun:   lastRun,
		pendingLocks:       pending,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The recorder interfaces of the settlement, recovery, and reconcile
// packages are all satisfied here.

func (m *metricsRegistry) IncSettlement(outcome string) {
	m.settlementsTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) IncRefund(result string) {
	m.refundsTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) IncOrphanRefund(result string) {
	m.orphanRefundsTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) SetPendingLocks(n int) {
	m.pendingLocks.Set(float64(n))
}

func (m *metricsRegistry) ObserveReconcile(drifted, errs int) {
	m.reconcileDrifts.Add(float64(drifted))
	m.reconcileErrors.Add(float64(errs))
	m.reconcileLastRun.Set(float64(time.Now().Unix()))
}
