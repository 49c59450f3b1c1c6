// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	UploadsStarted    prometheus.Counter
	UploadsSucceeded  prometheus.Counter
	UploadsFailed     prometheus.Counter
	TokenRefreshes    prometheus.Counter
	TokenRefreshFails prometheus.Counter
	TokensRevoked     prometheus.Counter
	TikTokDownloads   prometheus.Counter
	TikTokFailed      prometheus.Counter
	ProcessingCycles  prometheus.Counter

	// Histograms (seconds)
	UploadDuration   prometheus.Observer
	DownloadDuration prometheus.Observer

	// Gauges
	QueueDepthGauge  prometheus.Gauge
	CircuitOpenGauge prometheus.Gauge // 1=open,0=closed
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		UploadsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "drivetube_uploads_started_total", Help: "Number of YouTube uploads started"})
		UploadsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "drivetube_uploads_succeeded_total", Help: "Number of YouTube uploads succeeded"})
		UploadsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "drivetube_uploads_failed_total", Help: "Number of YouTube uploads failed"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "drivetube_token_refreshes_total", Help: "Number of OAuth token refreshes"})
		TokenRefreshFails = promauto.NewCounter(prometheus.CounterOpts{Name: "drivetube_token_refresh_failures_total", Help: "Number of OAuth token refresh failures"})
		TokensRevoked = promauto.NewCounter(prometheus.CounterOpts{Name: "drivetube_tokens_revoked_total", Help: "Number of tokens detected as revoked"})
		TikTokDownloads = promauto.NewCounter(prometheus.CounterOpts{Name: "drivetube_tiktok_downloads_total", Help: "Number of TikTok videos downloaded"})
		TikTokFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "drivetube_tiktok_failures_total", Help: "Number of TikTok downloads failed"})
		ProcessingCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "drivetube_processing_cycles_total", Help: "Number of upload processing cycles"})
		UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "drivetube_upload_duration_seconds", Help: "Upload duration seconds", Buckets: prometheus.DefBuckets})
		DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "drivetube_download_duration_seconds", Help: "Download duration seconds", Buckets: prometheus.DefBuckets})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "drivetube_queue_depth", Help: "Current number of pending scheduled uploads"})
		CircuitOpenGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "drivetube_circuit_open", Help: "Circuit breaker open=1 closed=0"})
	})
}

// UpdateCircuitGauge sets gauge to 1 if open else 0.
func UpdateCircuitGauge(open bool) {
	if CircuitOpenGauge != nil {
		if open {
			CircuitOpenGauge.Set(1)
		} else {
			CircuitOpenGauge.Set(0)
		}
	}
}

// SetQueueDepth records current pending upload count.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
