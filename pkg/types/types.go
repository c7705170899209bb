// Package types defines the shared types used across all NavAssist packages.
//
// These types form the lingua franca between the hazard classifiers, the alert
// dispatcher, the audio announcer and the status feed. They are intentionally
// minimal: each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// BBox is an axis-aligned bounding box in pixel coordinates of the source
// frame. (X1, Y1) is the top-left corner, (X2, Y2) the bottom-right one.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Height returns the vertical extent of the box in pixels. Degenerate boxes
// yield zero or a negative value.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// CenterX returns the horizontal center of the box.
func (b BBox) CenterX() float64 { return (b.X1 + b.X2) / 2 }

// Detection is a single object reported by the external detector for one
// frame. It is immutable after creation and discarded at the end of the frame.
type Detection struct {
	// ClassName is the detector label (e.g. "car", "person").
	ClassName string `json:"class_name"`

	// Confidence is the detector score in [0, 1].
	Confidence float64 `json:"confidence"`

	// Box is the object's bounding box.
	Box BBox `json:"bbox"`
}

// RiskGroup is the semantic category of a detected class. It drives both the
// severity rules and the wording of the spoken alert.
type RiskGroup string

const (
	GroupCritical     RiskGroup = "critical"
	GroupNavigation   RiskGroup = "navigation"
	GroupConstruction RiskGroup = "construction"
	GroupIndoor       RiskGroup = "indoor"
	GroupTraffic      RiskGroup = "traffic"
	GroupLiving       RiskGroup = "living"
	GroupStatic       RiskGroup = "static"
)

// IsValid reports whether g is a recognised risk group.
func (g RiskGroup) IsValid() bool {
	switch g {
	case GroupCritical, GroupNavigation, GroupConstruction, GroupIndoor,
		GroupTraffic, GroupLiving, GroupStatic:
		return true
	}
	return false
}

// RiskLevel is the ordered severity of a detection. Higher values are more
// severe; the ordering is used both for frame arbitration and for audio
// preemption.
type RiskLevel int

const (
	RiskSafe     RiskLevel = 1
	RiskInfo     RiskLevel = 2
	RiskWarning  RiskLevel = 3
	RiskCritical RiskLevel = 4
)

// String returns the upper-case name of the level.
func (l RiskLevel) String() string {
	switch l {
	case RiskSafe:
		return "SAFE"
	case RiskInfo:
		return "INFO"
	case RiskWarning:
		return "WARNING"
	case RiskCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the level by name so JSON consumers see "WARNING"
// rather than 3.
func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Direction is the horizontal zone of the frame an object sits in.
type Direction string

const (
	DirectionLeft   Direction = "left"
	DirectionCenter Direction = "center"
	DirectionRight  Direction = "right"
)

// Phrase returns the spoken form used in alert sentences.
func (d Direction) Phrase() string {
	switch d {
	case DirectionLeft:
		return "on your left"
	case DirectionRight:
		return "on your right"
	default:
		return "ahead"
	}
}

// EnrichedDetection is a [Detection] annotated with everything the engine
// derives from it in the current frame. It is recomputed every frame and
// never persisted across frames.
type EnrichedDetection struct {
	Detection

	// Distance is the estimated distance in meters, rounded to one decimal.
	// Zero means the estimate is unavailable (degenerate box), not that the
	// object is adjacent.
	Distance float64 `json:"distance_m"`

	Direction Direction `json:"direction"`
	Group     RiskGroup `json:"group"`
	Level     RiskLevel `json:"level"`
}

// AlertMessage is a single utterance produced by the dispatcher. It is
// consumed exactly once by the announcer and then discarded.
type AlertMessage struct {
	// ID uniquely identifies the message across logs and the alert journal.
	ID string `json:"id"`

	// Text is the sentence to speak.
	Text string `json:"text"`

	// Urgent messages preempt everything queued or playing and are preceded
	// by an alert tone.
	Urgent bool `json:"urgent"`

	// Level is the risk level that produced the message.
	Level RiskLevel `json:"level"`

	CreatedAt time.Time `json:"created_at"`
}
