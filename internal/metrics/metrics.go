// Package metrics collects the counters and histograms used to observe the
// transaction core: commit/conflict/abort counts, commit latency and the
// depth of each object store's state stack. Equivalent in spirit to the
// VictoriaMetrics counters declared alongside erigon-lib's kv interfaces,
// reimplemented on prometheus/client_golang since that is the metrics
// client this teacher's go.mod actually carries.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CommitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stackdb",
		Name:      "commit_total",
		Help:      "Per-store transaction commit outcomes.",
	}, []string{"store", "outcome"}) // outcome: committed|conflicted|aborted

	CombinedCommitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stackdb",
		Name:      "combined_commit_total",
		Help:      "Combined transaction outcomes across all participating stores.",
	}, []string{"outcome"}) // outcome: committed|conflicted|aborted

	FlattenDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stackdb",
		Name:      "flatten_seconds",
		Help:      "Latency of flattening a closed transaction into its parent state.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"store", "target"}) // target: backend|transaction

	StackDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stackdb",
		Name:      "stack_depth",
		Help:      "Current depth of an object store's transaction state stack.",
	}, []string{"store"})

	CacheHitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stackdb",
		Name:      "cache_hit_total",
		Help:      "Cached backend lookups, by hit/miss.",
	}, []string{"store", "result"}) // result: hit|miss|negative_hit

	DBSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stackdb",
		Name:      "db_size_bytes",
		Help:      "Current size in bytes of the persistent environment's memory map.",
	}, []string{"db"})
)

func init() {
	prometheus.MustRegister(
		CommitTotal,
		CombinedCommitTotal,
		FlattenDuration,
		StackDepth,
		CacheHitTotal,
		DBSize,
	)
}
