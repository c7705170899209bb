package hazard

import "github.com/MrWong99/navassist/pkg/types"

// Assessor enriches the detections of a frame. The zero value is not
// usable; build one with [NewAssessor].
type Assessor struct {
	catalog     *Catalog
	focalLength float64
	rules       []Rule
}

// NewAssessor returns an Assessor using catalog and the given focal length
// in pixels. A nil catalog selects the built-in tables and a non-positive
// focal length selects [DefaultFocalLength].
func NewAssessor(catalog *Catalog, focalLength float64) *Assessor {
	if catalog == nil {
		catalog = NewCatalog()
	}
	if focalLength <= 0 {
		focalLength = DefaultFocalLength
	}
	return &Assessor{catalog: catalog, focalLength: focalLength, rules: Rules}
}

// Catalog returns the catalog backing a.
func (a *Assessor) Catalog() *Catalog { return a.catalog }

// Assess computes distance, direction, group and level for det.
func (a *Assessor) Assess(det types.Detection, frameWidth float64) types.EnrichedDetection {
	dist := EstimateDistance(det.Box.Height(), a.catalog.Height(det.ClassName), a.focalLength)
	g := a.catalog.Group(det.ClassName)
	return types.EnrichedDetection{
		Detection: det,
		Distance:  dist,
		Direction: ClassifyDirection(det.Box.X1, det.Box.X2, frameWidth),
		Group:     g,
		Level:     ClassifyWith(a.rules, g, dist),
	}
}

// AssessFrame enriches every detection of a frame, preserving detector
// order.
func (a *Assessor) AssessFrame(dets []types.Detection, frameWidth float64) []types.EnrichedDetection {
	out := make([]types.EnrichedDetection, len(dets))
	for i, d := range dets {
		out[i] = a.Assess(d, frameWidth)
	}
	return out
}
