package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage labels used by the obstacle pipeline.
const (
	StageFilter  = "filter"
	StageSegment = "segment"
	StageSplit   = "split"
	StageCluster = "cluster"
	StageBoxes   = "boxes"
)

// Metrics holds the Prometheus collectors for the obstacle pipeline.
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	FramesTotal   *prometheus.CounterVec
	Clusters      prometheus.Histogram
	PointsIn      prometheus.Counter
	PointsKept    *prometheus.CounterVec
}

// NewMetrics creates the pipeline collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics
// handler, or a fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "obstacles_stage_duration_seconds",
				Help:    "Per-frame duration of each pipeline stage in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"stage"},
		),
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obstacles_frames_total",
				Help: "Total frames processed, by outcome",
			},
			[]string{"status"},
		),
		Clusters: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "obstacles_clusters_per_frame",
				Help:    "Number of accepted clusters per frame",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
		),
		PointsIn: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "obstacles_points_in_total",
				Help: "Total raw points received",
			},
		),
		PointsKept: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obstacles_points_total",
				Help: "Total points leaving each stage, by stage",
			},
			[]string{"stage"},
		),
	}
}

// ObserveStage records the duration of one stage. A nil receiver is a no-op
// so callers can leave metrics unconfigured.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordPoints adds n to the point counter of stage.
func (m *Metrics) RecordPoints(stage string, n int) {
	if m == nil {
		return
	}
	m.PointsKept.WithLabelValues(stage).Add(float64(n))
}

// RecordFrame counts one finished frame with its status label and
// accepted cluster count.
func (m *Metrics) RecordFrame(status string, pointsIn, clusters int) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(status).Inc()
	m.PointsIn.Add(float64(pointsIn))
	m.Clusters.Observe(float64(clusters))
}
