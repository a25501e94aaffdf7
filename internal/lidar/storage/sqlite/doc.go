// Package sqlite persists obstacle pipeline runs in SQLite.
//
// A run row records the parameters a frame sequence was processed with and
// its final summary. Each frame outcome becomes one obstacle_frames row and
// one obstacle_boxes row per accepted cluster. The schema is applied from
// embedded migrations when the database is opened.
package sqlite
