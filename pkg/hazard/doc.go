// Package hazard turns raw detections into ranked hazards.
//
// Everything in this package is a pure function of its inputs or operates on
// immutable values, so it is safe for concurrent use and carries no memory
// between frames:
//
//   - [EstimateDistance] converts a bounding-box height into meters using a
//     pinhole camera model.
//   - [ClassifyDirection] maps a box onto the left, center or right third of
//     the frame.
//   - [Catalog] resolves class names to a [types.RiskGroup] and a real-world
//     height, falling back to configured defaults.
//   - [Classify] evaluates the ordered [Rules] table to obtain a
//     [types.RiskLevel].
//   - [Prioritize] picks the single detection of a frame worth announcing.
//   - [Phrase] renders the sentence that is spoken for it.
//
// [Assessor] bundles the first four steps for callers that process whole
// frames.
package hazard
