// Package metrics defines the Prometheus instruments shared by the engine
// components. All instruments are registered on the default registry and
// exposed on the ops listener's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmesh_ticks_ingested_total",
		Help: "Ticker updates written to the cache, by exchange.",
	}, []string{"exchange"})

	StaleTickersDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmesh_stale_tickers_dropped_total",
		Help: "Cache reads rejected because the snapshot aged past the TTL.",
	}, []string{"exchange"})

	FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmesh_feed_reconnects_total",
		Help: "Ingestor reconnect attempts, by exchange.",
	}, []string{"exchange"})

	Aggregations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signalmesh_aggregations_total",
		Help: "Unified signals produced.",
	})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmesh_provider_errors_total",
		Help: "Signal provider calls skipped due to error or timeout.",
	}, []string{"provider"})

	ScanCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signalmesh_scan_cycles_total",
		Help: "Opportunity scan cycles that recomputed scores (cache hits excluded).",
	})

	MissionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmesh_missions_dispatched_total",
		Help: "Missions created, by doctrine.",
	}, []string{"doctrine"})

	MissionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmesh_missions_rejected_total",
		Help: "Dispatch attempts rejected, by cause (capacity, veto, duplicate).",
	}, []string{"cause"})

	ActiveMissions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "signalmesh_active_missions",
		Help: "Currently active missions, by doctrine.",
	}, []string{"doctrine"})

	PositionExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmesh_position_exits_total",
		Help: "Position exits, by reason.",
	}, []string{"reason"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signalmesh_open_positions",
		Help: "Positions currently managed by the lifecycle manager.",
	})
)
