// Package l4perception owns Layer 4 (Perception) of the LiDAR data model.
//
// Responsibilities: region cropping and voxel downsampling, RANSAC ground
// plane segmentation, plane/obstacle partitioning, Euclidean clustering over
// a spatial index, and axis-aligned bounding box extraction.
// Key types: WorldPoint, PlaneModel, IndexSet, BoundingBox.
//
// Every function in this package consumes its input read-only and returns
// freshly allocated output, so a frame can be processed on any goroutine
// without coordinating with other frames.
//
// Dependency rule: no file I/O, SQL, or logging configuration lives here;
// those belong to pcdio, storage and pipeline.
package l4perception
