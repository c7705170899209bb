package hazard

import (
	"fmt"
	"maps"
	"strings"

	"github.com/MrWong99/navassist/pkg/types"
)

const (
	// DefaultHeight is the real-world height in meters assumed for classes
	// without an object profile.
	DefaultHeight = 1.0

	// DefaultGroup is the group assigned to classes missing from the class
	// table.
	DefaultGroup = types.GroupStatic
)

// builtinGroups maps detector labels to their risk group.
var builtinGroups = map[string]types.RiskGroup{
	"fire": types.GroupCritical, "gun": types.GroupCritical, "knife": types.GroupCritical, "smoke": types.GroupCritical,

	"stairs": types.GroupNavigation, "curb": types.GroupNavigation, "door": types.GroupNavigation,

	"cone": types.GroupConstruction, "manhole": types.GroupConstruction, "excavation": types.GroupConstruction,

	"chair": types.GroupIndoor, "table": types.GroupIndoor, "bottle": types.GroupIndoor, "laptop": types.GroupIndoor,

	"car": types.GroupTraffic, "bus": types.GroupTraffic, "truck": types.GroupTraffic,
	"bicycle": types.GroupTraffic, "traffic light": types.GroupTraffic,

	"person": types.GroupLiving, "dog": types.GroupLiving, "cat": types.GroupLiving,

	"tree": types.GroupStatic, "pole": types.GroupStatic, "fence": types.GroupStatic,
}

// builtinHeights holds object profiles in meters.
var builtinHeights = map[string]float64{
	"person": 1.7, "car": 1.5, "bus": 3.0, "truck": 3.0,
	"bike": 1.2, "bicycle": 1.1, "dog": 0.6, "cat": 0.35,
	"chair": 0.9, "table": 0.75, "bottle": 0.25,
	"fire": 0.5, "cone": 0.7, "pole": 3.0, "tree": 5.0,
}

// groupCodes are the short codes used by older configuration files.
var groupCodes = map[string]types.RiskGroup{
	"G1": types.GroupCritical,
	"G2": types.GroupNavigation,
	"G3": types.GroupConstruction,
	"G4": types.GroupIndoor,
	"G6": types.GroupTraffic,
	"G7": types.GroupLiving,
	"G8": types.GroupStatic,
}

// ParseGroup parses a group name ("traffic") or legacy code ("G6").
func ParseGroup(s string) (types.RiskGroup, error) {
	if g, ok := groupCodes[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return g, nil
	}
	g := types.RiskGroup(strings.ToLower(strings.TrimSpace(s)))
	if !g.IsValid() {
		return "", fmt.Errorf("hazard: unknown risk group %q", s)
	}
	return g, nil
}

// GroupAction returns the action label shown for a group (STOP, WARN, ...).
// It is informational only and has no bearing on the computed
// [types.RiskLevel].
func GroupAction(g types.RiskGroup) string {
	switch g {
	case types.GroupCritical, types.GroupTraffic:
		return "STOP"
	case types.GroupConstruction:
		return "REROUTE"
	case types.GroupIndoor:
		return "WARN"
	case types.GroupLiving:
		return "TRACK"
	default:
		return "INFO"
	}
}

// CatalogOption configures a [Catalog] during construction.
type CatalogOption func(*Catalog)

// WithGroups merges extra class-to-group entries over the built-in table.
func WithGroups(groups map[string]types.RiskGroup) CatalogOption {
	return func(c *Catalog) {
		for k, v := range groups {
			c.groups[normalize(k)] = v
		}
	}
}

// WithHeights merges extra object heights over the built-in profiles.
// Non-positive heights are ignored.
func WithHeights(heights map[string]float64) CatalogOption {
	return func(c *Catalog) {
		for k, v := range heights {
			if v > 0 {
				c.heights[normalize(k)] = v
			}
		}
	}
}

// WithDefaultGroup sets the group used for unmapped classes.
func WithDefaultGroup(g types.RiskGroup) CatalogOption {
	return func(c *Catalog) {
		if g.IsValid() {
			c.defaultGroup = g
		}
	}
}

// WithDefaultHeight sets the height used for classes without a profile.
// Non-positive values are ignored.
func WithDefaultHeight(h float64) CatalogOption {
	return func(c *Catalog) {
		if h > 0 {
			c.defaultHeight = h
		}
	}
}

// Catalog holds the static per-class knowledge: risk group and object
// profile. Lookups are total; unknown classes resolve to the defaults.
//
// A Catalog is read-only after construction and safe for concurrent use.
type Catalog struct {
	groups        map[string]types.RiskGroup
	heights       map[string]float64
	defaultGroup  types.RiskGroup
	defaultHeight float64
}

// NewCatalog returns a Catalog seeded with the built-in tables and modified
// by opts.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		groups:        maps.Clone(builtinGroups),
		heights:       maps.Clone(builtinHeights),
		defaultGroup:  DefaultGroup,
		defaultHeight: DefaultHeight,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Group returns the risk group for class, or the default group.
func (c *Catalog) Group(class string) types.RiskGroup {
	if g, ok := c.groups[normalize(class)]; ok {
		return g
	}
	return c.defaultGroup
}

// Mapped reports whether class has an explicit group mapping.
func (c *Catalog) Mapped(class string) bool {
	_, ok := c.groups[normalize(class)]
	return ok
}

// Height returns the real-world height in meters for class, or the default
// height. The result is always > 0.
func (c *Catalog) Height(class string) float64 {
	if h, ok := c.heights[normalize(class)]; ok {
		return h
	}
	return c.defaultHeight
}

// Classes returns the class names that have an explicit group mapping.
func (c *Catalog) Classes() []string {
	out := make([]string, 0, len(c.groups))
	for k := range c.groups {
		out = append(out, k)
	}
	return out
}

func normalize(class string) string {
	return strings.ToLower(strings.TrimSpace(class))
}
