// Package domain turns raw structural-sensor exports into a per-time-step
// building animation model.
//
// # Data Source
//
// A building is instrumented with displacement sensors at the four corners of
// every story. The recording software exports one text file per axis and per
// grid line, plus a static node mapping maintained by hand.
//
// # Node Mapping
//
// CSV with a header row, then one row per node:
//
//	nodeId,storyId,corner
//	1011,11,NW
//
// Story and corner are opaque labels. Consumers expect four corners
// (NW, NE, SW, SE) per story, but the parser does not enforce it.
//
// # Direction Exports
//
// The file name encodes the axis as its second underscore-delimited token:
//
//	D_H1_Grid_11   D_H2_Grid_11   D_V_Grid_11
//
// H1 and H2 are the two horizontal axes, V is vertical. The text mixes a
// metadata block with a numeric block:
//
//	Column, 2, Displacement, 1011, Grid 11, 120.0, 0.0, 144.0
//	Column, 3, Displacement, 1012, Grid 11, 360.0, 0.0, 144.0
//	0.00, 0.000, 0.000
//	0.01, 0.013, -0.002
//	Maximum, 1.204, 0.981
//	Minimum, -1.377, -1.015
//
// Header fields 1, 3, 5, 6 and 7 hold the 1-based column index, the node ID
// and the node's x, y, z coordinate. Data rows start with the time in seconds
// followed by one displacement per column. Coordinates and displacements are
// in inches; the source frame is Z-up. "Maximum"/"Minimum" summary rows
// trail the data block and are ignored.
//
// The parser is lenient: rows that fail to parse are skipped and counted in
// [ParseStats], and a row too short for a column yields a zero sample.
//
// # Units and Axes
//
// Inches become meters in exactly one place (mergeDirection, factor
// [InchToMeter]). The source Z-up frame becomes the Y-up frame consumers
// render in through [ToYUp] only. Displacement vectors keep the instrument
// axis order (H1, H2, V) with named fields, so they are never remapped.
//
// # Statistics
//
// [CalculateFrames] makes one forward pass over the time series. Per frame it
// averages displacement over the whole building and per story; across frames
// it folds global extrema (positions, per-node displacement magnitude,
// averaged magnitudes) used by consumers for color and scale normalization.
package domain
