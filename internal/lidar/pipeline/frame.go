package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/l4perception"
	"github.com/htaamneh29/sfnd-lidar-project/internal/monitoring"
)

// Status tags a frame that ran every stage without failing.
type Status string

const (
	// StatusComplete means Boxes holds one box per accepted cluster.
	StatusComplete Status = "complete"

	// StatusEmpty means filtering or clustering legitimately produced
	// nothing. Reason wraps l4perception.ErrEmptyResult.
	StatusEmpty Status = "empty"
)

// StatusFailed labels frames that ended with a stage error. It never
// appears on a FrameResult.
const StatusFailed = "failed"

// StageTimings records the wall time spent in each stage of one frame.
type StageTimings struct {
	Filter  time.Duration
	Segment time.Duration
	Split   time.Duration
	Cluster time.Duration
	Boxes   time.Duration
}

// Total returns the summed stage time.
func (t StageTimings) Total() time.Duration {
	return t.Filter + t.Segment + t.Split + t.Cluster + t.Boxes
}

// FrameResult is the outcome of one frame. Cluster indices refer to
// ObstacleCloud, and Boxes[i] bounds Clusters[i].
type FrameResult struct {
	InputPoints int

	Filtered []l4perception.WorldPoint

	// PlaneFound is false when the frame fell back to PolicyAllObstacles
	// or never reached segmentation.
	PlaneFound   bool
	Plane        l4perception.PlaneModel
	PlaneInliers l4perception.IndexSet

	PlaneCloud    []l4perception.WorldPoint
	ObstacleCloud []l4perception.WorldPoint

	Clusters []l4perception.Cluster
	// Rejected is populated only when Params.Cluster.ReportRejected is set.
	Rejected []l4perception.Cluster
	Boxes    []l4perception.BoundingBox

	Status Status
	Reason error

	Timings StageTimings
}

// ClusterCloud returns the points of cluster i.
func (r *FrameResult) ClusterCloud(i int) []l4perception.WorldPoint {
	return l4perception.Select(r.ObstacleCloud, r.Clusters[i])
}

func (r *FrameResult) markEmpty(format string, args ...interface{}) {
	r.Status = StatusEmpty
	r.Reason = fmt.Errorf("%w: "+format, append([]interface{}{l4perception.ErrEmptyResult}, args...)...)
}

// Processor runs frames with a fixed parameter set. A Processor holds no
// per-frame state, so one value may serve many goroutines.
type Processor struct {
	Params Params

	// Segmenter overrides ground segmentation. When nil, each frame uses
	// RANSAC seeded from Params.Seed.
	Segmenter l4perception.GroundSegmenter

	// Metrics is optional.
	Metrics *monitoring.Metrics
}

// ProcessFrame runs one frame through the pipeline with default
// collaborators.
func ProcessFrame(ctx context.Context, cloud []l4perception.WorldPoint, params Params) (*FrameResult, error) {
	p := &Processor{Params: params}
	return p.Process(ctx, cloud)
}

func (p *Processor) segmenter() l4perception.GroundSegmenter {
	if p.Segmenter != nil {
		return p.Segmenter
	}
	return l4perception.RANSACSegmenter{Params: p.Params.Plane, Seed: p.Params.Seed}
}

// Process runs the filter, segment, split, cluster and box stages on cloud.
//
// Parameter errors are returned before any stage runs. A stage failure
// returns a nil result and the wrapped stage error, except that segmentation
// failures fall back to clustering the whole filtered cloud under
// PolicyAllObstacles. An empty filtered cloud or a frame with no accepted
// clusters is not an error: the result carries StatusEmpty. ctx is checked
// between stages.
func (p *Processor) Process(ctx context.Context, cloud []l4perception.WorldPoint) (*FrameResult, error) {
	if err := p.Params.Validate(); err != nil {
		return nil, err
	}
	res, err := p.process(ctx, cloud)
	if err != nil {
		p.Metrics.RecordFrame(StatusFailed, len(cloud), 0)
		return nil, err
	}
	p.Metrics.RecordFrame(string(res.Status), len(cloud), len(res.Clusters))
	return res, nil
}

func (p *Processor) process(ctx context.Context, cloud []l4perception.WorldPoint) (*FrameResult, error) {
	params := p.Params
	res := &FrameResult{InputPoints: len(cloud)}

	// Stage 1: crop and voxel downsample.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("before filter: %w", err)
	}
	start := time.Now()
	filtered, err := l4perception.FilterCloud(cloud, params.Voxel)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	res.Filtered = filtered
	res.Timings.Filter = p.observe(monitoring.StageFilter, start, len(filtered))
	tracef("filtering took %v: %d → %d points (leaf=%.3fm)",
		res.Timings.Filter, len(cloud), len(filtered), params.Voxel.LeafSize)

	if len(filtered) == 0 {
		res.markEmpty("no points inside the region of interest")
		return res, nil
	}

	// Stage 2: ground plane segmentation.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("before segment: %w", err)
	}
	start = time.Now()
	plane, inliers, err := p.segmenter().SegmentGround(ctx, filtered)
	switch {
	case err == nil:
		res.PlaneFound = true
		res.Plane = plane
		res.PlaneInliers = inliers
	case params.policy() == PolicyAllObstacles &&
		(errors.Is(err, l4perception.ErrNoPlaneFound) || errors.Is(err, l4perception.ErrInsufficientData)):
		diagf("segmentation failed (%v); clustering all %d filtered points", err, len(filtered))
		inliers = l4perception.IndexSet{}
	default:
		return nil, fmt.Errorf("segment: %w", err)
	}
	res.Timings.Segment = p.observe(monitoring.StageSegment, start, len(inliers))
	tracef("plane segmentation took %v: %d inliers, plane %s", res.Timings.Segment, len(inliers), res.Plane)

	// Stage 3: partition.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("before split: %w", err)
	}
	start = time.Now()
	res.PlaneCloud, res.ObstacleCloud, err = l4perception.SeparateClouds(filtered, inliers)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	res.Timings.Split = p.observe(monitoring.StageSplit, start, len(res.ObstacleCloud))
	tracef("split took %v: %d plane, %d obstacle points",
		res.Timings.Split, len(res.PlaneCloud), len(res.ObstacleCloud))

	// Stage 4: Euclidean clustering of the obstacle points.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("before cluster: %w", err)
	}
	start = time.Now()
	report, err := l4perception.EuclideanCluster(ctx, res.ObstacleCloud, params.Cluster)
	if err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}
	res.Clusters = report.Clusters
	res.Rejected = report.Rejected
	res.Timings.Cluster = p.observe(monitoring.StageCluster, start, report.ClusteredPoints())
	tracef("clustering took %v: %d clusters, %d rejected", res.Timings.Cluster, len(report.Clusters), len(report.Rejected))

	// Stage 5: bounding boxes.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("before boxes: %w", err)
	}
	start = time.Now()
	res.Boxes, err = l4perception.BoundingBoxes(res.ObstacleCloud, res.Clusters)
	if err != nil {
		return nil, fmt.Errorf("boxes: %w", err)
	}
	res.Timings.Boxes = p.observe(monitoring.StageBoxes, start, len(res.Boxes))

	if len(res.Clusters) == 0 {
		res.markEmpty("no clusters within size bounds [%d, %d]", params.Cluster.MinSize, params.Cluster.MaxSize)
		return res, nil
	}
	res.Status = StatusComplete
	return res, nil
}

// observe records a stage's duration and output size and returns the
// elapsed time.
func (p *Processor) observe(stage string, start time.Time, n int) time.Duration {
	d := time.Since(start)
	p.Metrics.ObserveStage(stage, d)
	p.Metrics.RecordPoints(stage, n)
	return d
}
