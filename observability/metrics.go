// Package observability holds the keeper's metrics registry and the wiring
// for structured logging and telemetry export.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	keeperMetricsOnce sync.Once
	keeperRegistry    *KeeperMetrics
)

// KeeperMetrics wraps the collectors tracking shutdown-monitoring health.
type KeeperMetrics struct {
	// Confirmations mirrors the cage finality counter, 0..12.
	Confirmations prometheus.Gauge
	// Phase is the state machine phase as an ordinal.
	Phase prometheus.Gauge
	// Errors counts failed reads and submissions against the error budget.
	Errors prometheus.Counter
	// Transactions counts submitted calls by phase, action, and outcome.
	Transactions *prometheus.CounterVec
	// UrnsScanned counts positions evaluated by the risk scanner.
	UrnsScanned prometheus.Counter
	// UnderwaterUrns is the size of the most recent underwater set.
	UnderwaterUrns prometheus.Gauge
	// ActiveAuctions gauges cancellable auctions by variant.
	ActiveAuctions *prometheus.GaugeVec
}

// Keeper returns the lazily-initialised keeper metrics registry.
func Keeper() *KeeperMetrics {
	keeperMetricsOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			Confirmations: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cage",
				Subsystem: "keeper",
				Name:      "confirmations",
				Help:      "Blocks of finality accumulated for the observed shutdown flag.",
			}),
			Phase: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cage",
				Subsystem: "keeper",
				Name:      "phase",
				Help:      "Current shutdown state machine phase as an ordinal.",
			}),
			Errors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "cage",
				Subsystem: "keeper",
				Name:      "errors_total",
				Help:      "Errors recorded against the keeper's error budget.",
			}),
			Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cage",
				Subsystem: "keeper",
				Name:      "transactions_total",
				Help:      "Submitted unwind transactions segmented by phase, action, and outcome.",
			}, []string{"phase", "action", "outcome"}),
			UrnsScanned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "cage",
				Subsystem: "keeper",
				Name:      "urns_scanned_total",
				Help:      "Positions evaluated during underwater scans.",
			}),
			UnderwaterUrns: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cage",
				Subsystem: "keeper",
				Name:      "underwater_urns",
				Help:      "Under-collateralized positions found in the most recent scan.",
			}),
			ActiveAuctions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "cage",
				Subsystem: "keeper",
				Name:      "active_auctions",
				Help:      "Cancellable auctions discovered, by variant.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			keeperRegistry.Confirmations,
			keeperRegistry.Phase,
			keeperRegistry.Errors,
			keeperRegistry.Transactions,
			keeperRegistry.UrnsScanned,
			keeperRegistry.UnderwaterUrns,
			keeperRegistry.ActiveAuctions,
		)
	})
	return keeperRegistry
}
