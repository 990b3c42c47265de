package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TilesGeneratedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_tiles_generated_total",
		Help: "Total number of tiles generated successfully",
	})
	TilesDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_tiles_deleted_total",
		Help: "Total number of tiles reclaimed",
	})
	GenerationErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_generation_errors_total",
		Help: "Total number of failed tile generations",
	})
	DeletionErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_deletion_errors_total",
		Help: "Total number of failed tile reclamations",
	})
	CleanupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestream_cleanups_total",
		Help: "Memory governor cleanups by kind",
	}, []string{"kind"})
	WatchdogAbortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_watchdog_aborts_total",
		Help: "Budgeted generation drains abandoned by the watchdog",
	})
	MemoryMB = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tilestream_memory_mb",
		Help: "Aggregate tile memory reported by the store",
	})
	ActiveTiles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tilestream_active_tiles",
		Help: "Tiles currently holding generated data",
	})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilestream_queue_depth",
		Help: "Pending requests per scheduler queue",
	}, []string{"queue"})
	GenerationDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilestream_generation_duration_ms",
		Help:    "Tile generation duration in milliseconds",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	FrameTimeMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilestream_frame_time_ms",
		Help:    "Scheduler step wall time in milliseconds",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 33, 66, 100},
	})
	JournalEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestream_journal_events_total",
		Help: "Lifecycle journal events by outcome",
	}, []string{"outcome"})
	MirrorPushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestream_mirror_push_total",
		Help: "Redis mirror pushes by result",
	}, []string{"result"})
	HTTPRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_http_rejected_total",
		Help: "Debug server requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(TilesGeneratedTotal)
	prometheus.MustRegister(TilesDeletedTotal)
	prometheus.MustRegister(GenerationErrorsTotal)
	prometheus.MustRegister(DeletionErrorsTotal)
	prometheus.MustRegister(CleanupsTotal)
	prometheus.MustRegister(WatchdogAbortsTotal)
	prometheus.MustRegister(MemoryMB)
	prometheus.MustRegister(ActiveTiles)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(GenerationDurationMs)
	prometheus.MustRegister(FrameTimeMs)
	prometheus.MustRegister(JournalEventsTotal)
	prometheus.MustRegister(MirrorPushTotal)
	prometheus.MustRegister(HTTPRejectedTotal)
}

// 文档注释：返回 Prometheus 指标监听器，在调试端口挂载到 /metrics
func Handler() http.Handler { return promhttp.Handler() }
