package hazard

import (
	"fmt"

	"github.com/MrWong99/navassist/pkg/types"
)

// Phrase renders the sentence spoken for an object. Wording depends on the
// group: critical hazards get imperative phrasing, close traffic leads with
// "Stop!", construction is cautionary and everything else is neutral.
func Phrase(class string, distance float64, dir types.Direction, g types.RiskGroup) string {
	where := dir.Phrase()
	switch g {
	case types.GroupCritical:
		switch class {
		case "fire":
			return fmt.Sprintf("Warning! Fire detected %.1f meters %s. Stop immediately.", distance, where)
		case "gun", "knife":
			return fmt.Sprintf("Danger! Weapon detected %.1f meters %s. Move away.", distance, where)
		}
		return fmt.Sprintf("Danger! %s detected %.1f meters %s. Stop immediately.", class, distance, where)
	case types.GroupTraffic:
		if distance < 3.0 {
			return fmt.Sprintf("Stop! %s approaching %s, %.1f meters.", class, where, distance)
		}
	case types.GroupConstruction:
		return fmt.Sprintf("Caution. Construction hazard %.1f meters %s.", distance, where)
	}
	return fmt.Sprintf("%s %.1f meters %s.", class, distance, where)
}

// PhraseFor is a convenience wrapper around [Phrase] for an enriched
// detection.
func PhraseFor(d types.EnrichedDetection) string {
	return Phrase(d.ClassName, d.Distance, d.Direction, d.Group)
}
