// Command obstacles runs the obstacle detection pipeline over a PCD file or
// a directory of PCD frames, logging the boxes found in each frame and
// optionally persisting results, partitioned clouds and bird's-eye plots.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/htaamneh29/sfnd-lidar-project/internal/config"
	"github.com/htaamneh29/sfnd-lidar-project/internal/fsutil"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/frameplot"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/pcdio"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/pipeline"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/storage/sqlite"
	"github.com/htaamneh29/sfnd-lidar-project/internal/monitoring"
	"github.com/htaamneh29/sfnd-lidar-project/internal/version"
)

var (
	configFile    = flag.String("config", "", "Tuning config file (.json, .yaml or .yml); defaults apply when empty")
	input         = flag.String("input", "", "PCD file or directory of PCD frames (required)")
	dbFile        = flag.String("db", "", "SQLite database for run results (disabled when empty)")
	plotDir       = flag.String("plots", "", "Base directory for bird's-eye PNG plots (disabled when empty)")
	partitionDir  = flag.String("save-partition", "", "Directory for per-frame plane/obstacle PCD files (disabled when empty)")
	saveClusters  = flag.Bool("save-clusters", false, "With -save-partition, also write one PCD file per cluster")
	workers       = flag.Int("workers", 0, "Concurrent frames (overrides frame_workers when > 0)")
	seed          = flag.Int64("seed", 0, "RANSAC seed (overrides the config seed when given, including 0)")
	frameTimeout  = flag.Duration("frame-timeout", 0, "Per-frame deadline (overrides frame_timeout when > 0)")
	metricsListen = flag.String("metrics-listen", "", "Serve Prometheus metrics on this address, e.g. :9102")
	verbose       = flag.Bool("v", false, "Log per-stage diagnostics and timings")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

type options struct {
	configFile    string
	input         string
	dbFile        string
	plotDir       string
	partitionDir  string
	saveClusters  bool
	workers       int
	seed          int64
	seedSet       bool // -seed was given explicitly
	frameTimeout  time.Duration
	metricsListen string
	verbose       bool
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("obstacles", version.String())
		return
	}

	opts := options{
		configFile:    *configFile,
		input:         *input,
		dbFile:        *dbFile,
		plotDir:       *plotDir,
		partitionDir:  *partitionDir,
		saveClusters:  *saveClusters,
		workers:       *workers,
		seed:          *seed,
		frameTimeout:  *frameTimeout,
		metricsListen: *metricsListen,
		verbose:       *verbose,
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.seedSet = true
		}
	})
	if opts.input == "" {
		flag.Usage()
		log.Fatal("-input is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, opts, fsutil.OSFileSystem{}, prometheus.NewRegistry())
	if err != nil {
		log.Fatalf("obstacles: %v", err)
	}
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

// loadConfig reads the tuning file, if any, and applies flag overrides.
func loadConfig(opts options) (*config.TuningConfig, error) {
	cfg := config.EmptyTuningConfig()
	if opts.configFile != "" {
		var err error
		if cfg, err = config.LoadTuningConfig(opts.configFile); err != nil {
			return nil, err
		}
	}
	if opts.workers > 0 {
		cfg.FrameWorkers = &opts.workers
	}
	if opts.seedSet || opts.seed != 0 {
		cfg.Seed = &opts.seed
	}
	if opts.frameTimeout > 0 {
		d := opts.frameTimeout.String()
		cfg.FrameTimeout = &d
	}
	return cfg, cfg.Validate()
}

// framePaths resolves the input to an ordered list of PCD files. A
// directory yields its .pcd files in name order; anything else is read as a
// single frame.
func framePaths(fsys fsutil.FileSystem, input string) ([]string, error) {
	if !fsys.Exists(input) {
		return nil, fmt.Errorf("input %s does not exist", input)
	}
	if _, err := fsys.ListDir(input); err != nil {
		return []string{input}, nil
	}
	paths, err := pcdio.ListFrames(fsys, input)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no %s files in %s", pcdio.Ext, input)
	}
	return paths, nil
}

func run(ctx context.Context, opts options, fsys fsutil.FileSystem, reg *prometheus.Registry) (pipeline.RunSummary, error) {
	var summary pipeline.RunSummary

	if opts.verbose {
		pipeline.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	} else {
		pipeline.SetLogWriters(os.Stderr, nil, nil)
		monitoring.SetLogger(nil)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return summary, fmt.Errorf("config: %w", err)
	}
	params := cfg.ToPipelineParams()
	if err := params.Validate(); err != nil {
		return summary, fmt.Errorf("config: %w", err)
	}

	paths, err := framePaths(fsys, opts.input)
	if err != nil {
		return summary, err
	}
	log.Printf("obstacles %s: processing %d frame(s) from %s", version.String(), len(paths), opts.input)

	reg.MustRegister(collectors.NewGoCollector())
	metrics := monitoring.NewMetrics(reg)
	if opts.metricsListen != "" {
		srv := &http.Server{
			Addr:              opts.metricsListen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server error: %v", err)
			}
		}()
		defer srv.Close()
		log.Printf("Serving metrics on %s/metrics", opts.metricsListen)
	}

	sinks := pipeline.MultiSink{pipeline.SinkFunc(logOutcome)}

	var store *sqlite.RunStore
	var runID string
	if opts.dbFile != "" {
		db, err := sqlite.Open(opts.dbFile)
		if err != nil {
			return summary, err
		}
		defer db.Close()
		store = sqlite.NewRunStore(db.DB)
		r, err := store.CreateRun(ctx, opts.input, params)
		if err != nil {
			return summary, err
		}
		runID = r.RunID
		sinks = append(sinks, store.Sink(runID))
		log.Printf("Recording run %s in %s", runID, opts.dbFile)
	}

	if opts.partitionDir != "" {
		sinks = append(sinks, &pcdio.PartitionSink{
			FS: fsys, Dir: opts.partitionDir, Format: pcdio.FormatBinary, Clusters: opts.saveClusters,
		})
	}

	var plotter *frameplot.Plotter
	if opts.plotDir != "" {
		plotter = frameplot.NewPlotter(fsys, frameplot.OutputDir(opts.plotDir, opts.input, time.Now()))
		sinks = append(sinks, plotter)
	}

	runner := &pipeline.Runner{
		Processor: &pipeline.Processor{
			Params:    params,
			Segmenter: cfg.GroundSegmenter(),
			Metrics:   metrics,
		},
		Sink:         sinks,
		Workers:      cfg.GetFrameWorkers(),
		FrameTimeout: cfg.GetFrameTimeout(),
	}
	summary, err = runner.Run(ctx, pcdio.Frames(fsys, paths))
	if err != nil {
		return summary, err
	}

	if store != nil {
		if err := store.FinishRun(ctx, runID, summary); err != nil {
			return summary, err
		}
	}
	if plotter != nil {
		log.Printf("Wrote %d plot(s) to %s", plotter.Written(), plotter.Dir)
	}
	log.Printf("Done in %v: %d frames, %d complete, %d empty, %d failed, %d obstacles",
		summary.Elapsed.Round(time.Millisecond), summary.Frames, summary.Complete,
		summary.Empty, summary.Failed, summary.Boxes)
	return summary, nil
}

// logOutcome prints the boxes of each frame, the way a viewer would draw
// them.
func logOutcome(_ context.Context, out pipeline.Outcome) error {
	if out.Err != nil {
		return nil
	}
	res := out.Result
	if res.Status == pipeline.StatusEmpty {
		log.Printf("frame %d (%s): %v", out.Frame.Seq, out.Frame.Name, res.Reason)
		return nil
	}
	log.Printf("frame %d (%s): %d points → %d filtered, %d ground, %d obstacles in %v",
		out.Frame.Seq, out.Frame.Name, res.InputPoints, len(res.Filtered),
		len(res.PlaneCloud), len(res.Boxes), res.Timings.Total().Round(time.Microsecond))
	for i, b := range res.Boxes {
		log.Printf("  box %d: %d points, min (%.2f, %.2f, %.2f) max (%.2f, %.2f, %.2f)",
			i, len(res.Clusters[i]), b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)
	}
	return nil
}
