package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-indexer/internal/logging"
)

var (
	// FilesScanned counts files emitted by the scanner, by kind.
	FilesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaindexer",
		Name:      "files_scanned_total",
		Help:      "Number of files emitted by the scanner.",
	}, []string{"kind"})

	// FilesConverted counts successful conversions, by kind.
	FilesConverted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaindexer",
		Name:      "files_converted_total",
		Help:      "Number of files converted and catalogued.",
	}, []string{"kind"})

	// FilesDuplicate counts files merged into existing records, by kind.
	FilesDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaindexer",
		Name:      "files_duplicate_total",
		Help:      "Number of files recognized as duplicates of catalogued records.",
	}, []string{"kind"})

	// FilesSkipped counts files skipped because they were already indexed.
	FilesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaindexer",
		Name:      "files_skipped_total",
		Help:      "Number of files skipped as already indexed.",
	}, []string{"kind"})

	// FilesFailed counts conversion failures, by kind.
	FilesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaindexer",
		Name:      "files_failed_total",
		Help:      "Number of files whose conversion failed.",
	}, []string{"kind"})

	// ConversionDuration observes wall time per conversion, by kind.
	ConversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediaindexer",
		Name:      "conversion_duration_seconds",
		Help:      "Wall time spent converting a single file.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"kind"})

	// SlotsBusy gauges how many conversion slots are occupied.
	SlotsBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediaindexer",
		Name:      "slots_busy",
		Help:      "Number of conversion slots currently occupied.",
	})

	// DirectoriesScanned counts directories visited by the scanner.
	DirectoriesScanned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaindexer",
		Name:      "directories_scanned_total",
		Help:      "Number of directories visited by the scanner.",
	})
)

// Serve exposes /metrics on listen in a background goroutine. A failed listen
// is logged, not fatal; the run proceeds without metrics.
func Serve(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Info("metrics listening on %s", listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("metrics server: %v", err)
		}
	}()
}
