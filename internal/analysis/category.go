package analysis

import "fmt"

// LaneCategory classifies how a lane entered the analysis. The declaration
// order is the dedupe priority: when a lane is reachable through several
// paths, the lowest-ordinal category wins and its fields are never
// overwritten by a later rediscovery.
type LaneCategory int

const (
	CategoryDirectIntersect LaneCategory = iota
	CategoryIntersectionRelated
	CategoryRoadRelated
	CategoryChainForward
	CategoryChainBackward
)

var categoryNames = map[LaneCategory]string{
	CategoryDirectIntersect:     "direct_intersect",
	CategoryIntersectionRelated: "intersection_related",
	CategoryRoadRelated:         "road_related",
	CategoryChainForward:        "chain_forward",
	CategoryChainBackward:       "chain_backward",
}

func (c LaneCategory) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("lane_category(%d)", int(c))
}

// ParseLaneCategory maps a persisted lane_type string back to its category.
func ParseLaneCategory(s string) (LaneCategory, error) {
	for c, name := range categoryNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown lane category %q", s)
}
