package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/l4perception"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/pipeline"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run is one invocation of the pipeline over a frame sequence.
type Run struct {
	RunID      string          `json:"run_id"`
	Source     string          `json:"source"`
	ParamsJSON json.RawMessage `json:"params_json"`
	StartedAt  int64           `json:"started_at"`
	FinishedAt int64           `json:"finished_at,omitempty"` // 0 while running
	Frames     int             `json:"frames"`
	Complete   int             `json:"complete"`
	Empty      int             `json:"empty"`
	Failed     int             `json:"failed"`
	Boxes      int             `json:"boxes"`
	Elapsed    time.Duration   `json:"elapsed_ns"`
}

// Params decodes the parameters the run was started with.
func (r *Run) Params() (pipeline.Params, error) {
	var p pipeline.Params
	if err := json.Unmarshal(r.ParamsJSON, &p); err != nil {
		return p, fmt.Errorf("decode params for run %s: %w", r.RunID, err)
	}
	return p, nil
}

// FrameRecord is the persisted summary of one frame outcome.
type FrameRecord struct {
	RunID          string
	Seq            int
	Name           string
	Status         string
	Reason         string
	InputPoints    int
	FilteredPoints int
	PlaneFound     bool
	Plane          l4perception.PlaneModel
	PlanePoints    int
	ObstaclePoints int
	Clusters       int
	Rejected       int
	Timings        pipeline.StageTimings
}

// BoxRecord is one persisted obstacle box.
type BoxRecord struct {
	RunID  string
	Seq    int
	Index  int
	Points int
	Box    l4perception.BoundingBox
}

// RunStore persists runs, their frames and obstacle boxes.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore backed by db.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// CreateRun records the start of a run and returns it with a fresh ID.
func (s *RunStore) CreateRun(ctx context.Context, source string, params pipeline.Params) (*Run, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	run := &Run{
		RunID:      uuid.New().String(),
		Source:     source,
		ParamsJSON: paramsJSON,
		StartedAt:  time.Now().UnixNano(),
	}
	err = retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO obstacle_runs (run_id, source, params_json, started_at)
			VALUES (?, ?, ?, ?)`,
			run.RunID, run.Source, string(run.ParamsJSON), run.StartedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun stores the run summary and marks the run finished.
func (s *RunStore) FinishRun(ctx context.Context, runID string, summary pipeline.RunSummary) error {
	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE obstacle_runs
			SET finished_at = ?, frames = ?, complete = ?, empty = ?, failed = ?, boxes = ?, elapsed_ns = ?
			WHERE run_id = ?`,
			time.Now().UnixNano(), summary.Frames, summary.Complete, summary.Empty,
			summary.Failed, summary.Boxes, int64(summary.Elapsed), runID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// RecordOutcome stores one frame and its boxes in a single transaction.
// Recording the same frame twice replaces the earlier record.
func (s *RunStore) RecordOutcome(ctx context.Context, runID string, out pipeline.Outcome) error {
	rec := frameRecordOf(runID, out)
	var boxes []BoxRecord
	if out.Err == nil && out.Result != nil {
		for i, b := range out.Result.Boxes {
			boxes = append(boxes, BoxRecord{
				RunID: runID, Seq: out.Frame.Seq, Index: i,
				Points: len(out.Result.Clusters[i]), Box: b,
			})
		}
	}
	err := retryOnBusy(func() error {
		return s.insertFrame(ctx, rec, boxes)
	})
	if err != nil {
		return fmt.Errorf("record frame %d of run %s: %w", out.Frame.Seq, runID, err)
	}
	return nil
}

func (s *RunStore) insertFrame(ctx context.Context, rec FrameRecord, boxes []BoxRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var plane [4]interface{}
	if rec.PlaneFound {
		plane = [4]interface{}{rec.Plane.A, rec.Plane.B, rec.Plane.C, rec.Plane.D}
	}
	var reason interface{}
	if rec.Reason != "" {
		reason = rec.Reason
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM obstacle_boxes WHERE run_id = ? AND seq = ?`, rec.RunID, rec.Seq); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO obstacle_frames (
			run_id, seq, name, status, reason,
			input_points, filtered_points, plane_found,
			plane_a, plane_b, plane_c, plane_d,
			plane_points, obstacle_points, clusters, rejected,
			filter_ns, segment_ns, split_ns, cluster_ns, boxes_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Seq, rec.Name, rec.Status, reason,
		rec.InputPoints, rec.FilteredPoints, rec.PlaneFound,
		plane[0], plane[1], plane[2], plane[3],
		rec.PlanePoints, rec.ObstaclePoints, rec.Clusters, rec.Rejected,
		int64(rec.Timings.Filter), int64(rec.Timings.Segment), int64(rec.Timings.Split),
		int64(rec.Timings.Cluster), int64(rec.Timings.Boxes),
	)
	if err != nil {
		return err
	}

	if len(boxes) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO obstacle_boxes (run_id, seq, box_index, points, min_x, min_y, min_z, max_x, max_y, max_z)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, b := range boxes {
			if _, err := stmt.ExecContext(ctx, b.RunID, b.Seq, b.Index, b.Points,
				b.Box.Min.X, b.Box.Min.Y, b.Box.Min.Z, b.Box.Max.X, b.Box.Max.Y, b.Box.Max.Z); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func frameRecordOf(runID string, out pipeline.Outcome) FrameRecord {
	rec := FrameRecord{RunID: runID, Seq: out.Frame.Seq, Name: out.Frame.Name}
	if out.Err != nil || out.Result == nil {
		rec.Status = pipeline.StatusFailed
		if out.Err != nil {
			rec.Reason = out.Err.Error()
		}
		return rec
	}
	r := out.Result
	rec.Status = string(r.Status)
	if r.Reason != nil {
		rec.Reason = r.Reason.Error()
	}
	rec.InputPoints = r.InputPoints
	rec.FilteredPoints = len(r.Filtered)
	rec.PlaneFound = r.PlaneFound
	rec.Plane = r.Plane
	rec.PlanePoints = len(r.PlaneCloud)
	rec.ObstaclePoints = len(r.ObstacleCloud)
	rec.Clusters = len(r.Clusters)
	rec.Rejected = len(r.Rejected)
	rec.Timings = r.Timings
	return rec
}

const runColumns = `run_id, source, params_json, started_at, finished_at,
	frames, complete, empty, failed, boxes, elapsed_ns`

// GetRun returns a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM obstacle_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, err
}

// ListRuns returns all runs, most recent first.
func (s *RunStore) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM obstacle_runs ORDER BY started_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run with its frames and boxes.
func (s *RunStore) DeleteRun(ctx context.Context, runID string) error {
	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM obstacle_runs WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("delete run %s: %w", runID, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var params string
	var finished sql.NullInt64
	var elapsed int64
	if err := row.Scan(&r.RunID, &r.Source, &params, &r.StartedAt, &finished,
		&r.Frames, &r.Complete, &r.Empty, &r.Failed, &r.Boxes, &elapsed); err != nil {
		return nil, err
	}
	r.ParamsJSON = json.RawMessage(params)
	r.FinishedAt = finished.Int64
	r.Elapsed = time.Duration(elapsed)
	return &r, nil
}

// ListFrames returns the frames of a run in sequence order.
func (s *RunStore) ListFrames(ctx context.Context, runID string) ([]*FrameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, name, status, reason,
		       input_points, filtered_points, plane_found,
		       plane_a, plane_b, plane_c, plane_d,
		       plane_points, obstacle_points, clusters, rejected,
		       filter_ns, segment_ns, split_ns, cluster_ns, boxes_ns
		FROM obstacle_frames
		WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var frames []*FrameRecord
	for rows.Next() {
		var f FrameRecord
		var reason sql.NullString
		var a, b, c, d sql.NullFloat64
		var tf, ts, tsp, tc, tb int64
		if err := rows.Scan(&f.RunID, &f.Seq, &f.Name, &f.Status, &reason,
			&f.InputPoints, &f.FilteredPoints, &f.PlaneFound,
			&a, &b, &c, &d,
			&f.PlanePoints, &f.ObstaclePoints, &f.Clusters, &f.Rejected,
			&tf, &ts, &tsp, &tc, &tb); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		f.Reason = reason.String
		f.Plane = l4perception.PlaneModel{A: a.Float64, B: b.Float64, C: c.Float64, D: d.Float64}
		f.Timings = pipeline.StageTimings{
			Filter: time.Duration(tf), Segment: time.Duration(ts), Split: time.Duration(tsp),
			Cluster: time.Duration(tc), Boxes: time.Duration(tb),
		}
		frames = append(frames, &f)
	}
	return frames, rows.Err()
}

// ListBoxes returns the boxes of one frame in cluster order.
func (s *RunStore) ListBoxes(ctx context.Context, runID string, seq int) ([]*BoxRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, box_index, points, min_x, min_y, min_z, max_x, max_y, max_z
		FROM obstacle_boxes
		WHERE run_id = ? AND seq = ?
		ORDER BY box_index`, runID, seq)
	if err != nil {
		return nil, fmt.Errorf("query boxes: %w", err)
	}
	defer rows.Close()

	var boxes []*BoxRecord
	for rows.Next() {
		var b BoxRecord
		var lo, hi r3.Vector
		if err := rows.Scan(&b.RunID, &b.Seq, &b.Index, &b.Points,
			&lo.X, &lo.Y, &lo.Z, &hi.X, &hi.Y, &hi.Z); err != nil {
			return nil, fmt.Errorf("scan box: %w", err)
		}
		b.Box = l4perception.BoundingBox{Min: lo, Max: hi}
		boxes = append(boxes, &b)
	}
	return boxes, rows.Err()
}

// Sink returns a pipeline.Sink that records every outcome under runID.
func (s *RunStore) Sink(runID string) pipeline.Sink {
	return pipeline.SinkFunc(func(ctx context.Context, out pipeline.Outcome) error {
		return s.RecordOutcome(ctx, runID, out)
	})
}
