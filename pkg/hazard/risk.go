package hazard

import "github.com/MrWong99/navassist/pkg/types"

// Rule is one row of the severity table. Match receives the object's group
// and estimated distance in meters.
type Rule struct {
	Name  string
	Match func(g types.RiskGroup, distance float64) bool
	Level types.RiskLevel
}

// Rules is the severity table, evaluated top-down; the first matching row
// wins. Later rows are shadowed by earlier ones for overlapping inputs, so
// the order is part of the contract.
var Rules = []Rule{
	{
		Name:  "critical group",
		Match: func(g types.RiskGroup, _ float64) bool { return g == types.GroupCritical },
		Level: types.RiskCritical,
	},
	{
		Name:  "traffic within 4m",
		Match: func(g types.RiskGroup, d float64) bool { return g == types.GroupTraffic && d < 4.0 },
		Level: types.RiskCritical,
	},
	{
		Name:  "construction within 2m",
		Match: func(g types.RiskGroup, d float64) bool { return g == types.GroupConstruction && d < 2.0 },
		Level: types.RiskWarning,
	},
	{
		Name:  "anything within 1m",
		Match: func(_ types.RiskGroup, d float64) bool { return d < 1.0 },
		Level: types.RiskWarning,
	},
	{
		Name:  "indoor or living",
		Match: func(g types.RiskGroup, _ float64) bool { return g == types.GroupIndoor || g == types.GroupLiving },
		Level: types.RiskInfo,
	},
}

// Classify returns the risk level of an object of group g at distance
// meters according to [Rules]. Objects matching no rule are SAFE.
func Classify(g types.RiskGroup, distance float64) types.RiskLevel {
	return ClassifyWith(Rules, g, distance)
}

// ClassifyWith evaluates an arbitrary rule table in order.
func ClassifyWith(rules []Rule, g types.RiskGroup, distance float64) types.RiskLevel {
	for _, r := range rules {
		if r.Match(g, distance) {
			return r.Level
		}
	}
	return types.RiskSafe
}

// Prioritize returns the detection with the strictly highest risk level.
// Ties go to the earliest entry. ok is false when dets is empty or every
// entry is SAFE.
func Prioritize(dets []types.EnrichedDetection) (winner types.EnrichedDetection, ok bool) {
	best := types.RiskSafe
	for _, d := range dets {
		if d.Level > best {
			best = d.Level
			winner = d
			ok = true
		}
	}
	return winner, ok
}
