package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the sync core, labeled by chain
// where a value is meaningfully per-chain.
type Metrics struct {
	// Sync progress, set once per chain at coordinator startup (spec.md
	// §4.H step 3).
	SyncStartBlock     *prometheus.GaugeVec
	SyncEndBlock       *prometheus.GaugeVec
	SyncFinalizedBlock *prometheus.GaugeVec

	// Historical backfill progress.
	HistoricalCompletion *prometheus.GaugeVec
	HistoricalCached     *prometheus.GaugeVec

	// Realtime head-tracking.
	SyncLagSeconds    *prometheus.GaugeVec
	LastBlockSeen     *prometheus.GaugeVec
	ReorgsDetected    *prometheus.CounterVec
	ReorgDepth        prometheus.Histogram
	NewHeadSubscribed *prometheus.GaugeVec

	// Event pipeline.
	EventsEmitted *prometheus.CounterVec
	EventLatency  prometheus.Histogram

	// Interval ledger cache efficiency (spec.md §4.C).
	IntervalCacheHits   prometheus.Counter
	IntervalCacheMisses prometheus.Counter

	server *http.Server
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		SyncStartBlock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainsync_start_block",
				Help: "Lowest fromBlock across a chain's registered sources",
			},
			[]string{"chain"},
		),
		SyncEndBlock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainsync_end_block",
				Help: "Highest toBlock across a chain's registered sources, meaningless when the chain has an open-ended source",
			},
			[]string{"chain"},
		),
		SyncFinalizedBlock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainsync_finalized_block",
				Help: "Chain's finalized block watermark as last observed",
			},
			[]string{"chain"},
		),
		HistoricalCompletion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainsync_historical_completion_ratio",
				Help: "Fraction of a chain's historical backfill target range already cached, 0 to 1",
			},
			[]string{"chain"},
		),
		HistoricalCached: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainsync_historical_cached_blocks",
				Help: "Number of blocks in a chain's historical target range already covered by the interval ledger",
			},
			[]string{"chain"},
		),
		SyncLagSeconds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainsync_lag_seconds",
				Help: "Seconds between a chain's latest sealed block timestamp and processing time",
			},
			[]string{"chain"},
		),
		LastBlockSeen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainsync_last_block_seen",
				Help: "Last block number a chain's realtime syncer materialized",
			},
			[]string{"chain"},
		),
		ReorgsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainsync_reorgs_detected_total",
				Help: "Total number of reorgs detected per chain",
			},
			[]string{"chain"},
		),
		ReorgDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chainsync_reorg_depth_blocks",
				Help:    "Depth, in blocks, of detected reorgs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to ~512 blocks
			},
		),
		NewHeadSubscribed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainsync_newhead_subscribed",
				Help: "Whether a chain's newHeads websocket nudge subscription is currently connected (1) or not (0)",
			},
			[]string{"chain"},
		),
		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainsync_events_emitted_total",
				Help: "Total number of events emitted to the indexing runtime, by chain and phase",
			},
			[]string{"chain", "phase"},
		),
		EventLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chainsync_event_latency_seconds",
				Help:    "Latency from block timestamp to event emission",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			},
		),
		IntervalCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chainsync_interval_cache_hits_total",
				Help: "Total historical-planning range lookups fully satisfied by the interval ledger",
			},
		),
		IntervalCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chainsync_interval_cache_misses_total",
				Help: "Total historical-planning range lookups requiring at least one RPC fetch",
			},
		),
	}

	prometheus.MustRegister(
		m.SyncStartBlock,
		m.SyncEndBlock,
		m.SyncFinalizedBlock,
		m.HistoricalCompletion,
		m.HistoricalCached,
		m.SyncLagSeconds,
		m.LastBlockSeen,
		m.ReorgsDetected,
		m.ReorgDepth,
		m.NewHeadSubscribed,
		m.EventsEmitted,
		m.EventLatency,
		m.IntervalCacheHits,
		m.IntervalCacheMisses,
	)

	return m
}

// StartServer starts the HTTP server for Prometheus metrics.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	m.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Info().Int("port", port).Str("path", path).Msg("Starting metrics server")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

func chainLabel(chainID uint64) string {
	return fmt.Sprintf("%d", chainID)
}

// RecordSyncProgress records a chain's startup sync progress (spec.md
// §4.H step 3), once per chain per coordinator run.
func (m *Metrics) RecordSyncProgress(chainID, start, end, finalized uint64) {
	label := chainLabel(chainID)
	m.SyncStartBlock.WithLabelValues(label).Set(float64(start))
	m.SyncEndBlock.WithLabelValues(label).Set(float64(end))
	m.SyncFinalizedBlock.WithLabelValues(label).Set(float64(finalized))
}

// RecordHistoricalProgress updates a chain's historical backfill
// completion ratio.
func (m *Metrics) RecordHistoricalProgress(chainID uint64, cachedBlocks, totalBlocks uint64) {
	label := chainLabel(chainID)
	m.HistoricalCached.WithLabelValues(label).Set(float64(cachedBlocks))
	ratio := 0.0
	if totalBlocks > 0 {
		ratio = float64(cachedBlocks) / float64(totalBlocks)
	}
	m.HistoricalCompletion.WithLabelValues(label).Set(ratio)
}

// RecordEventEmitted increments the emitted-event counter for chainID in
// the named phase ("historical" or "realtime") and records the event's
// processing latency relative to its block timestamp.
func (m *Metrics) RecordEventEmitted(chainID uint64, phase string, blockTime time.Time) {
	m.EventsEmitted.WithLabelValues(chainLabel(chainID), phase).Inc()
	if !blockTime.IsZero() {
		m.EventLatency.Observe(time.Since(blockTime).Seconds())
	}
}

// RecordSyncLag sets a chain's current lag between its latest sealed
// block's timestamp and now.
func (m *Metrics) RecordSyncLag(chainID uint64, blockTime time.Time) {
	if blockTime.IsZero() {
		return
	}
	m.SyncLagSeconds.WithLabelValues(chainLabel(chainID)).Set(time.Since(blockTime).Seconds())
}

// SetLastBlockSeen sets the last block number a chain's realtime syncer
// materialized.
func (m *Metrics) SetLastBlockSeen(chainID, block uint64) {
	m.LastBlockSeen.WithLabelValues(chainLabel(chainID)).Set(float64(block))
}

// RecordReorg records a detected reorg of the given depth for chainID.
func (m *Metrics) RecordReorg(chainID uint64, depth uint64) {
	m.ReorgsDetected.WithLabelValues(chainLabel(chainID)).Inc()
	m.ReorgDepth.Observe(float64(depth))
}

// SetNewHeadSubscribed records whether chainID's optional newHeads
// websocket nudge subscription is currently connected.
func (m *Metrics) SetNewHeadSubscribed(chainID uint64, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.NewHeadSubscribed.WithLabelValues(chainLabel(chainID)).Set(v)
}

// RecordIntervalCacheLookup records whether a historical-planning range
// lookup was fully satisfied by the interval ledger.
func (m *Metrics) RecordIntervalCacheLookup(hit bool) {
	if hit {
		m.IntervalCacheHits.Inc()
		return
	}
	m.IntervalCacheMisses.Inc()
}
