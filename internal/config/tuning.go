package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"gopkg.in/yaml.v3"

	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/l4perception"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/pipeline"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Ground segmentation methods accepted by ground_method.
const (
	GroundRANSAC     = "ransac"
	GroundHeightBand = "height_band"
)

// TuningConfig represents the root configuration for the obstacle pipeline.
// Every field is optional; the Get* accessors supply defaults, so partial
// files are safe. The same schema is accepted as JSON or YAML.
type TuningConfig struct {
	// Voxel filter
	VoxelLeafSize *float64    `json:"voxel_leaf_size,omitempty" yaml:"voxel_leaf_size,omitempty"`
	RegionMin     *[3]float64 `json:"region_min,omitempty" yaml:"region_min,omitempty"`
	RegionMax     *[3]float64 `json:"region_max,omitempty" yaml:"region_max,omitempty"`

	// Plane segmentation
	GroundMethod        *string  `json:"ground_method,omitempty" yaml:"ground_method,omitempty"`
	MaxIterations       *int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	DistanceThreshold   *float64 `json:"distance_threshold,omitempty" yaml:"distance_threshold,omitempty"`
	RefinePlane         *bool    `json:"refine_plane,omitempty" yaml:"refine_plane,omitempty"`
	Seed                *int64   `json:"seed,omitempty" yaml:"seed,omitempty"`
	GroundFloorHeight   *float64 `json:"ground_floor_height,omitempty" yaml:"ground_floor_height,omitempty"`
	NoPlanePolicy       *string  `json:"no_plane_policy,omitempty" yaml:"no_plane_policy,omitempty"`
	SegmentationWorkers *int     `json:"segmentation_workers,omitempty" yaml:"segmentation_workers,omitempty"`

	// Clustering
	ClusterTolerance *float64 `json:"cluster_tolerance,omitempty" yaml:"cluster_tolerance,omitempty"`
	MinClusterSize   *int     `json:"min_cluster_size,omitempty" yaml:"min_cluster_size,omitempty"`
	MaxClusterSize   *int     `json:"max_cluster_size,omitempty" yaml:"max_cluster_size,omitempty"`
	SpatialIndex     *string  `json:"spatial_index,omitempty" yaml:"spatial_index,omitempty"`
	ReportRejected   *bool    `json:"report_rejected,omitempty" yaml:"report_rejected,omitempty"`
	ClusterWorkers   *int     `json:"cluster_workers,omitempty" yaml:"cluster_workers,omitempty"`

	// Runner
	FrameWorkers *int    `json:"frame_workers,omitempty" yaml:"frame_workers,omitempty"`
	FrameTimeout *string `json:"frame_timeout,omitempty" yaml:"frame_timeout,omitempty"` // duration string like "250ms"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to the
// value its accessor would return for an empty config.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	regionMin, regionMax := e.GetRegionMin(), e.GetRegionMax()
	return &TuningConfig{
		VoxelLeafSize:       ptrFloat64(e.GetVoxelLeafSize()),
		RegionMin:           &regionMin,
		RegionMax:           &regionMax,
		GroundMethod:        ptrString(e.GetGroundMethod()),
		MaxIterations:       ptrInt(e.GetMaxIterations()),
		DistanceThreshold:   ptrFloat64(e.GetDistanceThreshold()),
		RefinePlane:         ptrBool(e.GetRefinePlane()),
		Seed:                ptrInt64(e.GetSeed()),
		GroundFloorHeight:   ptrFloat64(e.GetGroundFloorHeight()),
		NoPlanePolicy:       ptrString(e.GetNoPlanePolicy()),
		SegmentationWorkers: ptrInt(e.GetSegmentationWorkers()),
		ClusterTolerance:    ptrFloat64(e.GetClusterTolerance()),
		MinClusterSize:      ptrInt(e.GetMinClusterSize()),
		MaxClusterSize:      ptrInt(e.GetMaxClusterSize()),
		SpatialIndex:        ptrString(e.GetSpatialIndex()),
		ReportRejected:      ptrBool(e.GetReportRejected()),
		ClusterWorkers:      ptrInt(e.GetClusterWorkers()),
		FrameWorkers:        ptrInt(e.GetFrameWorkers()),
		FrameTimeout:        ptrString(""),
	}
}

// LoadTuningConfig loads a TuningConfig from a .json, .yaml or .yml file.
// The file must be under 1MB. Fields omitted from the file fall back to the
// Get* defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseTuningConfig(data, ext)
}

// ParseTuningConfig decodes and validates config bytes. format is a file
// extension: ".json" or ".yaml"/".yml".
func ParseTuningConfig(data []byte, format string) (*TuningConfig, error) {
	cfg := EmptyTuningConfig()
	switch format {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lidar/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that can be judged without the pipeline.
// Cross-field rules (such as min_cluster_size <= max_cluster_size) are
// enforced by pipeline.Params.Validate after ToPipelineParams.
func (c *TuningConfig) Validate() error {
	if c.VoxelLeafSize != nil && *c.VoxelLeafSize <= 0 {
		return fmt.Errorf("voxel_leaf_size must be positive, got %f", *c.VoxelLeafSize)
	}
	if c.GroundMethod != nil {
		switch *c.GroundMethod {
		case GroundRANSAC, GroundHeightBand:
		default:
			return fmt.Errorf("ground_method must be %q or %q, got %q", GroundRANSAC, GroundHeightBand, *c.GroundMethod)
		}
	}
	if c.MaxIterations != nil && *c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", *c.MaxIterations)
	}
	if c.DistanceThreshold != nil && *c.DistanceThreshold <= 0 {
		return fmt.Errorf("distance_threshold must be positive, got %f", *c.DistanceThreshold)
	}
	if c.ClusterTolerance != nil && *c.ClusterTolerance <= 0 {
		return fmt.Errorf("cluster_tolerance must be positive, got %f", *c.ClusterTolerance)
	}
	if c.MinClusterSize != nil && *c.MinClusterSize < 1 {
		return fmt.Errorf("min_cluster_size must be at least 1, got %d", *c.MinClusterSize)
	}
	if c.NoPlanePolicy != nil {
		switch pipeline.NoPlanePolicy(*c.NoPlanePolicy) {
		case pipeline.PolicyAbort, pipeline.PolicyAllObstacles:
		default:
			return fmt.Errorf("no_plane_policy must be %q or %q, got %q",
				pipeline.PolicyAbort, pipeline.PolicyAllObstacles, *c.NoPlanePolicy)
		}
	}
	if c.SpatialIndex != nil {
		switch l4perception.IndexKind(*c.SpatialIndex) {
		case l4perception.IndexKDTree, l4perception.IndexGrid:
		default:
			return fmt.Errorf("spatial_index must be %q or %q, got %q",
				l4perception.IndexKDTree, l4perception.IndexGrid, *c.SpatialIndex)
		}
	}

	// Validate FrameTimeout can be parsed if set
	if c.FrameTimeout != nil && *c.FrameTimeout != "" {
		if _, err := time.ParseDuration(*c.FrameTimeout); err != nil {
			return fmt.Errorf("invalid frame_timeout '%s': %w", *c.FrameTimeout, err)
		}
	}
	return nil
}

// ToPipelineParams converts the config into pipeline parameters, applying
// defaults for unset fields.
func (c *TuningConfig) ToPipelineParams() pipeline.Params {
	lo, hi := c.GetRegionMin(), c.GetRegionMax()
	return pipeline.Params{
		Voxel: l4perception.VoxelParams{
			LeafSize: c.GetVoxelLeafSize(),
			Region: l4perception.Region{
				Min: r3.Vector{X: lo[0], Y: lo[1], Z: lo[2]},
				Max: r3.Vector{X: hi[0], Y: hi[1], Z: hi[2]},
			},
		},
		Plane: l4perception.PlaneParams{
			MaxIterations:     c.GetMaxIterations(),
			DistanceThreshold: c.GetDistanceThreshold(),
			Workers:           c.GetSegmentationWorkers(),
			Refine:            c.GetRefinePlane(),
		},
		Cluster: l4perception.ClusterParams{
			Tolerance:      c.GetClusterTolerance(),
			MinSize:        c.GetMinClusterSize(),
			MaxSize:        c.GetMaxClusterSize(),
			Index:          l4perception.IndexKind(c.GetSpatialIndex()),
			Workers:        c.GetClusterWorkers(),
			ReportRejected: c.GetReportRejected(),
		},
		Seed:          c.GetSeed(),
		NoPlanePolicy: pipeline.NoPlanePolicy(c.GetNoPlanePolicy()),
	}
}

// GroundSegmenter returns the segmenter selected by ground_method, or nil
// for RANSAC, which the pipeline builds per frame from its own parameters.
func (c *TuningConfig) GroundSegmenter() l4perception.GroundSegmenter {
	if c.GetGroundMethod() == GroundHeightBand {
		return l4perception.HeightBandSegmenter{FloorHeightM: c.GetGroundFloorHeight()}
	}
	return nil
}

// GetVoxelLeafSize returns the voxel_leaf_size value or the default.
func (c *TuningConfig) GetVoxelLeafSize() float64 {
	if c.VoxelLeafSize == nil {
		return 0.2
	}
	return *c.VoxelLeafSize
}

// GetRegionMin returns the region_min corner or the default.
func (c *TuningConfig) GetRegionMin() [3]float64 {
	if c.RegionMin == nil {
		return [3]float64{-10, -6, -2}
	}
	return *c.RegionMin
}

// GetRegionMax returns the region_max corner or the default.
func (c *TuningConfig) GetRegionMax() [3]float64 {
	if c.RegionMax == nil {
		return [3]float64{30, 7, 1}
	}
	return *c.RegionMax
}

// GetGroundMethod returns the ground_method value or the default.
func (c *TuningConfig) GetGroundMethod() string {
	if c.GroundMethod == nil {
		return GroundRANSAC
	}
	return *c.GroundMethod
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *TuningConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 100
	}
	return *c.MaxIterations
}

// GetDistanceThreshold returns the distance_threshold value or the default.
func (c *TuningConfig) GetDistanceThreshold() float64 {
	if c.DistanceThreshold == nil {
		return 0.2
	}
	return *c.DistanceThreshold
}

// GetRefinePlane returns the refine_plane value or the default.
func (c *TuningConfig) GetRefinePlane() bool {
	if c.RefinePlane == nil {
		return true
	}
	return *c.RefinePlane
}

// GetSeed returns the seed value or the default.
func (c *TuningConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetGroundFloorHeight returns the ground_floor_height value or the default.
func (c *TuningConfig) GetGroundFloorHeight() float64 {
	if c.GroundFloorHeight == nil {
		return 0.2
	}
	return *c.GroundFloorHeight
}

// GetNoPlanePolicy returns the no_plane_policy value or the default.
func (c *TuningConfig) GetNoPlanePolicy() string {
	if c.NoPlanePolicy == nil {
		return string(pipeline.PolicyAbort)
	}
	return *c.NoPlanePolicy
}

// GetSegmentationWorkers returns the segmentation_workers value or the default.
func (c *TuningConfig) GetSegmentationWorkers() int {
	if c.SegmentationWorkers == nil {
		return 1
	}
	return *c.SegmentationWorkers
}

// GetClusterTolerance returns the cluster_tolerance value or the default.
func (c *TuningConfig) GetClusterTolerance() float64 {
	if c.ClusterTolerance == nil {
		return l4perception.DefaultClusterTolerance
	}
	return *c.ClusterTolerance
}

// GetMinClusterSize returns the min_cluster_size value or the default.
func (c *TuningConfig) GetMinClusterSize() int {
	if c.MinClusterSize == nil {
		return l4perception.DefaultMinClusterSize
	}
	return *c.MinClusterSize
}

// GetMaxClusterSize returns the max_cluster_size value or the default.
func (c *TuningConfig) GetMaxClusterSize() int {
	if c.MaxClusterSize == nil {
		return l4perception.DefaultMaxClusterSize
	}
	return *c.MaxClusterSize
}

// GetSpatialIndex returns the spatial_index value or the default.
func (c *TuningConfig) GetSpatialIndex() string {
	if c.SpatialIndex == nil {
		return string(l4perception.IndexKDTree)
	}
	return *c.SpatialIndex
}

// GetReportRejected returns the report_rejected value or the default.
func (c *TuningConfig) GetReportRejected() bool {
	if c.ReportRejected == nil {
		return false
	}
	return *c.ReportRejected
}

// GetClusterWorkers returns the cluster_workers value or the default.
func (c *TuningConfig) GetClusterWorkers() int {
	if c.ClusterWorkers == nil {
		return 1
	}
	return *c.ClusterWorkers
}

// GetFrameWorkers returns the frame_workers value or the default.
func (c *TuningConfig) GetFrameWorkers() int {
	if c.FrameWorkers == nil {
		return 4
	}
	return *c.FrameWorkers
}

// GetFrameTimeout parses and returns the FrameTimeout as a time.Duration.
// Zero means frames run without a deadline.
func (c *TuningConfig) GetFrameTimeout() time.Duration {
	if c.FrameTimeout == nil || *c.FrameTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.FrameTimeout)
	if err != nil {
		return 0 // default on parse error
	}
	return d
}
