package pcdio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/htaamneh29/sfnd-lidar-project/internal/fsutil"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/l4perception"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/pipeline"
)

// PartitionSink writes the ground and obstacle clouds of every successful
// frame, and optionally each accepted cluster, as PCD files under Dir:
//
//	<frame>_plane.pcd
//	<frame>_obstacles.pcd
//	<frame>_cluster_<i>.pcd
type PartitionSink struct {
	FS       fsutil.FileSystem
	Dir      string
	Format   Format
	Clusters bool
}

// Consume implements pipeline.Sink.
func (s *PartitionSink) Consume(ctx context.Context, out pipeline.Outcome) error {
	if out.Err != nil || out.Result == nil {
		return nil
	}
	format := s.Format
	if format == "" {
		format = FormatBinary
	}
	base := frameStem(out.Frame)
	res := out.Result

	parts := []partition{
		{"plane", res.PlaneCloud},
		{"obstacles", res.ObstacleCloud},
	}
	if s.Clusters {
		for i := range res.Clusters {
			parts = append(parts, partition{fmt.Sprintf("cluster_%d", i), res.ClusterCloud(i)})
		}
	}
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := SaveFile(s.FS, s.path(base, part.suffix), part.cloud, format); err != nil {
			return err
		}
	}
	return nil
}

// partition is one file written per frame, in write order.
type partition struct {
	suffix string
	cloud  []l4perception.WorldPoint
}

func (s *PartitionSink) path(base, suffix string) string {
	return filepath.Join(s.Dir, base+"_"+suffix+Ext)
}

func frameStem(f pipeline.Frame) string {
	if f.Name == "" {
		return fmt.Sprintf("frame_%06d", f.Seq)
	}
	base := filepath.Base(f.Name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
