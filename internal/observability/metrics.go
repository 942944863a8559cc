package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement engine.
type Metrics struct {
	// --- Ledger ---
	LedgerEventsApplied  *prometheus.CounterVec
	LedgerEventsRejected *prometheus.CounterVec
	LedgerEventDuration  *prometheus.HistogramVec
	LedgerJournals       *prometheus.CounterVec
	LedgerSequence       prometheus.Gauge
	LedgerPaused         prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	QueryFreshnessLag   *prometheus.HistogramVec
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Equity engine ---
	EquityRecomputeDuration *prometheus.HistogramVec
	EquityOverspendTotal    *prometheus.CounterVec
	EquityStalePositions    *prometheus.GaugeVec

	// --- Settlement coordinator ---
	SettlementCredits      *prometheus.CounterVec
	SettlementSeizures     *prometheus.CounterVec
	SettlementRetries      *prometheus.CounterVec
	SettlementExhausted    *prometheus.CounterVec
	InsuranceFundBalance   prometheus.Gauge
	SocializedLossTotal    prometheus.Counter

	// --- Netting engine ---
	NettingBatchesCommitted *prometheus.CounterVec
	NettingGrossVolume      *prometheus.CounterVec
	NettingSavings          *prometheus.CounterVec
	NettingBatchDuration    prometheus.Histogram

	// --- Oracle ---
	OracleStaleRejections *prometheus.CounterVec
	OracleBandRejections  *prometheus.CounterVec
	OracleFallbackUsed    *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Ledger
		LedgerEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_ledger_events_applied_total",
			Help: "Events successfully applied by the ledger",
		}, []string{"event_type"}),

		LedgerEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_ledger_events_rejected_total",
			Help: "Events rejected (dedup, gap, validation, paused)",
		}, []string{"event_type", "reason"}),

		LedgerEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_ledger_event_apply_duration_seconds",
			Help:    "Time to apply a single event in the ledger",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		LedgerJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_ledger_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		LedgerSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_ledger_sequence",
			Help: "Current global ledger sequence number",
		}),

		LedgerPaused: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_ledger_paused",
			Help: "1 if the ledger is in the Paused state, else 0",
		}),

		// Latency
		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_ingest_to_apply_seconds",
			Help:    "NATS receive to ledger apply complete",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		ApplyToPersist: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_apply_to_persist_seconds",
			Help:    "Ledger emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		QueryFreshnessLag: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_query_freshness_lag_seconds",
			Help:    "Ledger sequence minus projection sequence (in time)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1.0},
		}, []string{"endpoint"}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settlement_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settlement_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settlement_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settlement_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settlement_persist_backpressure_total",
			Help: "Times the ledger blocked on the persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_idempotency_duplicates_total",
			Help: "Duplicate refIds caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settlement_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		EventSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		// Equity engine
		EquityRecomputeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_equity_recompute_duration_seconds",
			Help:    "Time to recompute per-venue equity for one user",
			Buckets: latencyBuckets,
		}, []string{"venue"}),

		EquityOverspendTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_equity_overspend_total",
			Help: "Overspend detections (freeze-new-orders triggers)",
		}, []string{"venue"}),

		EquityStalePositions: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settlement_equity_stale_positions",
			Help: "Positions currently excluded from cross-venue equity as stale",
		}, []string{"venue"}),

		// Settlement coordinator
		SettlementCredits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_credits_total",
			Help: "Realized-PnL credits applied",
		}, []string{"venue"}),

		SettlementSeizures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_seizures_total",
			Help: "Collateral seizures applied (negative PnL, venue shortfalls)",
		}, []string{"venue", "reason"}),

		SettlementRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_retries_total",
			Help: "Retries attempted against transient ledger/oracle errors",
		}, []string{"venue"}),

		SettlementExhausted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_retries_exhausted_total",
			Help: "Settlements handed to the operator queue after exhausting retries",
		}, []string{"venue"}),

		InsuranceFundBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_insurance_fund_balance",
			Help: "Current insurance fund balance",
		}),

		SocializedLossTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settlement_socialized_loss_total",
			Help: "Total loss socialized across the broker pool after insurance fund exhaustion",
		}),

		// Netting engine
		NettingBatchesCommitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_netting_batches_committed_total",
			Help: "Netting batches committed per vault",
		}, []string{"vault"}),

		NettingGrossVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_netting_gross_volume_total",
			Help: "Gross obligation volume drained per vault, before netting",
		}, []string{"vault"}),

		NettingSavings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_netting_savings_total",
			Help: "Gross volume minus netted volume per vault",
		}, []string{"vault"}),

		NettingBatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_netting_batch_duration_seconds",
			Help:    "Time to drain, net, and commit one vault's batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		// Oracle
		OracleStaleRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_oracle_stale_rejections_total",
			Help: "Price samples rejected for exceeding max staleness",
		}, []string{"symbol"}),

		OracleBandRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_oracle_band_rejections_total",
			Help: "Price samples rejected for exceeding the deviation band",
		}, []string{"symbol"}),

		OracleFallbackUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_oracle_fallback_used_total",
			Help: "Times the fallback/reference price was used instead of the primary feed",
		}, []string{"symbol"}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settlement_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settlement_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settlement_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settlement_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "settlement_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
