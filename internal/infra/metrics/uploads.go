package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(uploadBatchesTotal, uploadedIdentifiersTotal, remoteCallRetriesTotal, orphansReconciledTotal)
}

var uploadBatchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "upload_batches_total",
		Help: "Identifier batches sent per platform, labeled by outcome.",
	},
	[]string{"platform", "outcome"}, // 'ok', 'error'
)

var uploadedIdentifiersTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "uploaded_identifiers_total",
		Help: "Hashed identifiers transmitted per platform.",
	},
	[]string{"platform"},
)

var remoteCallRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "remote_call_retries_total",
		Help: "Retry attempts consumed by remote platform calls.",
	},
	[]string{"platform", "stage"}, // 'create_job', 'upload', 'run', 'poll', 'remove'
)

var orphansReconciledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orphan_audiences_reconciled_total",
		Help: "Orphaned remote audiences handled by the reconciler.",
	},
	[]string{"platform", "resolution"}, // 'deleted', 'manual', 'error'
)

func IncUploadBatch(platform, outcome string) {
	uploadBatchesTotal.WithLabelValues(norm(platform), norm(outcome)).Inc()
}

func AddUploadedIdentifiers(platform string, n int) {
	uploadedIdentifiersTotal.WithLabelValues(norm(platform)).Add(float64(n))
}

func IncRemoteRetry(platform, stage string) {
	remoteCallRetriesTotal.WithLabelValues(norm(platform), norm(stage)).Inc()
}

func IncOrphanReconciled(platform, resolution string) {
	orphansReconciledTotal.WithLabelValues(norm(platform), norm(resolution)).Inc()
}
