package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	adjustmentClamp = "clamp"
	adjustmentEvict = "evict"
)

var (
	reconcileAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_reconcile_adjustments_total",
			Help: "Cart lines clamped to or evicted for live stock during reconciliation",
		},
		[]string{"action"},
	)

	catalogLookupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_catalog_lookup_failures_total",
			Help: "Product lookups that fell back to a placeholder entry",
		},
		[]string{"reason"},
	)
)
