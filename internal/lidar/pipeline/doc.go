// Package pipeline runs the per-frame obstacle extraction pipeline.
//
// This package is the composition root for a single frame: it validates the
// run parameters, then drives the l4perception stages in a fixed order
// (filter, segment, split, cluster, boxes) and assembles a FrameResult.
// Runner layers ordered multi-frame processing on top, with frames handled
// concurrently and results delivered to a Sink in input order.
//
// No state crosses frame boundaries. The only shared objects are the log
// writers configured by SetLogWriters and the optional *monitoring.Metrics,
// both of which are safe for concurrent use.
package pipeline
