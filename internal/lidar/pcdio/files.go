package pcdio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/htaamneh29/sfnd-lidar-project/internal/fsutil"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/l4perception"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/pipeline"
	"github.com/htaamneh29/sfnd-lidar-project/internal/monitoring"
)

// Ext is the file extension recognised by ListFrames.
const Ext = ".pcd"

// LoadFile reads one PCD frame from path.
func LoadFile(fsys fsutil.FileSystem, path string) ([]l4perception.WorldPoint, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cloud, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	monitoring.Logf("[pcdio] Loaded %d data points from %s", len(cloud), path)
	return cloud, nil
}

// SaveFile writes cloud to path, creating parent directories.
func SaveFile(fsys fsutil.FileSystem, path string, cloud []l4perception.WorldPoint, format Format) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	w, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := w.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	if err := Write(w, cloud, format); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	monitoring.Logf("[pcdio] Saved %d data points to %s", len(cloud), path)
	return nil
}

// ListFrames returns the paths of the .pcd files directly inside dir in
// lexicographic order, which is playback order for zero-padded frame names.
func ListFrames(fsys fsutil.FileSystem, dir string) ([]string, error) {
	names, err := fsys.ListDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list frames in %s: %w", dir, err)
	}
	paths := make([]string, 0, len(names))
	for _, name := range names {
		if strings.EqualFold(filepath.Ext(name), Ext) {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	return paths, nil
}

// Frames builds lazily loaded pipeline frames for the given paths. Frame
// sequence numbers follow slice order starting at zero.
func Frames(fsys fsutil.FileSystem, paths []string) []pipeline.Frame {
	frames := make([]pipeline.Frame, len(paths))
	for i, path := range paths {
		path := path
		frames[i] = pipeline.Frame{
			Seq:  i,
			Name: filepath.Base(path),
			Load: func() ([]l4perception.WorldPoint, error) {
				return LoadFile(fsys, path)
			},
		}
	}
	return frames
}
