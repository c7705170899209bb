package hazard

import (
	"math"

	"github.com/MrWong99/navassist/pkg/types"
)

// DefaultFocalLength is the focal length in pixels of a typical webcam.
const DefaultFocalLength = 600.0

// EstimateDistance returns the distance in meters to an upright object of
// known real height whose bounding box is boxHeight pixels tall, rounded to
// one decimal.
//
// The estimate assumes a roughly horizontal optical axis and a fully visible
// object; it carries no error bars. A non-positive boxHeight yields exactly 0,
// which callers must read as "unavailable".
func EstimateDistance(boxHeight, realHeight, focalLength float64) float64 {
	if boxHeight <= 0 {
		return 0
	}
	return round1(realHeight * focalLength / boxHeight)
}

// ClassifyDirection maps the horizontal center of [x1, x2] onto the left,
// center or right third of a frame that is frameWidth pixels wide.
func ClassifyDirection(x1, x2, frameWidth float64) types.Direction {
	c := (x1 + x2) / 2
	third := frameWidth / 3
	switch {
	case c < third:
		return types.DirectionLeft
	case c > 2*third:
		return types.DirectionRight
	default:
		return types.DirectionCenter
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
