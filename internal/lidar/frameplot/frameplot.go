// Package frameplot renders bird's-eye views of processed frames: ground
// points, obstacle points coloured by cluster, and each obstacle box.
package frameplot

import (
	"context"
	"fmt"
	"image/color"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/htaamneh29/sfnd-lidar-project/internal/fsutil"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/l4perception"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/pipeline"
)

var (
	groundColor     = color.RGBA{R: 90, G: 170, B: 90, A: 255}
	unclusteredGray = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	boxColor        = color.RGBA{R: 220, G: 30, B: 30, A: 255}
)

// Plotter writes one PNG per frame into Dir. It implements pipeline.Sink;
// failed frames are skipped.
type Plotter struct {
	FS  fsutil.FileSystem
	Dir string

	// Width and Height default to 8 inches.
	Width, Height vg.Length

	mu      sync.Mutex
	written int
}

// NewPlotter returns a Plotter writing to dir on fsys.
func NewPlotter(fsys fsutil.FileSystem, dir string) *Plotter {
	return &Plotter{FS: fsys, Dir: dir}
}

// Consume implements pipeline.Sink.
func (p *Plotter) Consume(ctx context.Context, out pipeline.Outcome) error {
	if out.Err != nil || out.Result == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	name := frameBase(out.Frame)
	if err := p.Save(name, out.Result); err != nil {
		return fmt.Errorf("plot frame %d: %w", out.Frame.Seq, err)
	}
	return nil
}

// Save renders res and writes it to Dir/<name>.png.
func (p *Plotter) Save(name string, res *pipeline.FrameResult) error {
	pl, err := Render(name, res)
	if err != nil {
		return err
	}
	w, h := p.Width, p.Height
	if w <= 0 {
		w = 8 * vg.Inch
	}
	if h <= 0 {
		h = 8 * vg.Inch
	}
	wt, err := pl.WriterTo(w, h, "png")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	if err := p.FS.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(p.Dir, name+".png")
	f, err := p.FS.Create(path)
	if err != nil {
		return err
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	p.mu.Lock()
	p.written++
	p.mu.Unlock()
	return nil
}

// Written returns the number of plots saved so far.
func (p *Plotter) Written() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// Render builds the bird's-eye plot of one frame result in the sensor's
// x/y plane.
func Render(title string, res *pipeline.FrameResult) (*plot.Plot, error) {
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("%s - %d obstacles", title, len(res.Boxes))
	pl.X.Label.Text = "X (m)"
	pl.Y.Label.Text = "Y (m)"
	pl.Add(plotter.NewGrid())

	if err := addScatter(pl, "ground", xysOf(res.PlaneCloud), groundColor); err != nil {
		return nil, err
	}

	clustered := make([]bool, len(res.ObstacleCloud))
	colors := generateColors(len(res.Clusters))
	for i, c := range res.Clusters {
		for _, idx := range c {
			clustered[idx] = true
		}
		if err := addScatter(pl, fmt.Sprintf("cluster %d", i), xysOf(res.ClusterCloud(i)), colors[i]); err != nil {
			return nil, err
		}
	}
	var loose []l4perception.WorldPoint
	for i, pt := range res.ObstacleCloud {
		if !clustered[i] {
			loose = append(loose, pt)
		}
	}
	if err := addScatter(pl, "unclustered", xysOf(loose), unclusteredGray); err != nil {
		return nil, err
	}

	for i, b := range res.Boxes {
		outline, err := plotter.NewLine(plotter.XYs{
			{X: b.Min.X, Y: b.Min.Y},
			{X: b.Max.X, Y: b.Min.Y},
			{X: b.Max.X, Y: b.Max.Y},
			{X: b.Min.X, Y: b.Max.Y},
			{X: b.Min.X, Y: b.Min.Y},
		})
		if err != nil {
			return nil, fmt.Errorf("box %d: %w", i, err)
		}
		outline.Color = boxColor
		outline.Width = vg.Points(1)
		pl.Add(outline)
		if i == 0 {
			pl.Legend.Add("box", outline)
		}
	}

	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10
	return pl, nil
}

func addScatter(pl *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = vg.Points(1)
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	pl.Add(s)
	pl.Legend.Add(label, s)
	return nil
}

func xysOf(cloud []l4perception.WorldPoint) plotter.XYs {
	xys := make(plotter.XYs, len(cloud))
	for i, p := range cloud {
		xys[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return xys
}

func frameBase(f pipeline.Frame) string {
	if f.Name == "" {
		return fmt.Sprintf("frame_%06d", f.Seq)
	}
	base := filepath.Base(f.Name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// generateColors creates a palette of n distinct colours.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64
	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// OutputDir returns a timestamped plot directory for a run over source:
// <baseDir>/<source basename without extension>/<timestamp>.
func OutputDir(baseDir, source string, now time.Time) string {
	ts := now.Format("20060102_150405")
	base := filepath.Base(filepath.Clean(source))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "frames"
	}
	return filepath.Join(baseDir, name, ts)
}
