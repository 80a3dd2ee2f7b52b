// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for the archival pipeline (videos fetched/skipped/failed, checkpoints,
// quota waits, remote API calls).
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	VideosFetched   prometheus.Counter
	VideosSkipped   prometheus.Counter
	VideosFailed    prometheus.Counter
	VideosMoved     prometheus.Counter
	CommentsFetched prometheus.Counter
	CaptionsFetched prometheus.Counter
	CheckpointsTaken prometheus.Counter
	CommitsCreated  prometheus.Counter
	QuotaWaits      prometheus.Counter

	FetchDuration      prometheus.Observer
	CheckpointDuration prometheus.Observer
	RunDuration        prometheus.Observer

	QueueDepthGauge  prometheus.Gauge
	QuotaStateGauge  prometheus.Gauge // 0=idle,1=waiting,2=probing,3=gave-up
	WorkerPoolInUse  prometheus.Gauge

	PipelineStepDuration *prometheus.HistogramVec
	RemoteAPICalls       *prometheus.CounterVec
	ErrorsByKind         *prometheus.CounterVec
)

// Init registers metrics. Safe to call more than once.
func Init() {
	once.Do(func() {
		VideosFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "ytarchive_videos_fetched_total", Help: "Videos whose metadata was fetched from the remote"})
		VideosSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "ytarchive_videos_skipped_total", Help: "Videos skipped (unchanged or filtered)"})
		VideosFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "ytarchive_videos_failed_total", Help: "Videos that failed to process after retries"})
		VideosMoved = promauto.NewCounter(prometheus.CounterOpts{Name: "ytarchive_videos_moved_total", Help: "Videos relocated due to path-pattern drift"})
		CommentsFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "ytarchive_comments_fetched_total", Help: "Comments fetched across all videos"})
		CaptionsFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "ytarchive_captions_fetched_total", Help: "Caption tracks fetched across all videos"})
		CheckpointsTaken = promauto.NewCounter(prometheus.CounterOpts{Name: "ytarchive_checkpoints_total", Help: "Checkpoints (export+symlink+commit) taken"})
		CommitsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "ytarchive_commits_total", Help: "Commits actually created (non-timestamp-only diffs)"})
		QuotaWaits = promauto.NewCounter(prometheus.CounterOpts{Name: "ytarchive_quota_waits_total", Help: "Quota-exceeded suspensions entered"})

		FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ytarchive_fetch_duration_seconds",
			Help:    "Per-video metadata+comments+captions fetch duration",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		})
		CheckpointDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ytarchive_checkpoint_duration_seconds",
			Help:    "Export+symlink-rebuild+commit duration",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300},
		})
		RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ytarchive_run_duration_seconds",
			Help:    "Total backup run duration",
			Buckets: []float64{10, 60, 300, 900, 3600, 7200, 21600},
		})

		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "ytarchive_queue_depth", Help: "Candidate videos remaining in the current run"})
		QuotaStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "ytarchive_quota_state", Help: "Quota manager state: 0=idle,1=waiting,2=probing,3=gave-up"})
		WorkerPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{Name: "ytarchive_worker_pool_in_use", Help: "Lookahead worker pool slots currently in use"})

		PipelineStepDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ytarchive_pipeline_step_duration_seconds",
				Help:    "Duration of individual pipeline steps",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"step"},
		)
		RemoteAPICalls = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytarchive_remote_api_calls_total",
				Help: "Remote adapter calls by endpoint and outcome",
			},
			[]string{"endpoint", "status"},
		)
		ErrorsByKind = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytarchive_errors_total",
				Help: "Errors observed by taxonomy kind",
			},
			[]string{"kind"},
		)
	})
}

// SetQuotaState sets the quota gauge. States: idle=0, waiting=1, probing=2, gave-up=3.
func SetQuotaState(state string) {
	if QuotaStateGauge == nil {
		return
	}
	switch state {
	case "idle":
		QuotaStateGauge.Set(0)
	case "waiting":
		QuotaStateGauge.Set(1)
	case "probing":
		QuotaStateGauge.Set(2)
	case "gave-up":
		QuotaStateGauge.Set(3)
	default:
		QuotaStateGauge.Set(0)
	}
}

// SetQueueDepth records the number of candidate videos left in the run.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// TimeFunc measures fn's duration and records it in obs if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}
