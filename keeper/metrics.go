package keeper

import "cagekeeper/observability"

// Metrics exposes the Prometheus collectors for keeper instrumentation.
type Metrics = observability.KeeperMetrics

// NewMetrics returns the lazily initialised metrics registry.
func NewMetrics() *Metrics { return observability.Keeper() }
