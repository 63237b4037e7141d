package analysis

import (
	"time"

	"github.com/banshee-data/trajectory.report/internal/geom"
)

// LaneRecord is one lane associated with an analysis. A lane id appears at
// most once per analysis.
type LaneRecord struct {
	LaneID string `json:"lane_id"`
	RoadID string `json:"road_id,omitempty"`
	// Category marshals through its string form at the API layer, never as
	// the raw ordinal.
	Category LaneCategory `json:"-"`
	// DistanceFromTrajectory is set for direct matches only.
	DistanceFromTrajectory *float64 `json:"distance_from_trajectory,omitempty"`
	// ChainDepth is the hop count from the nearest seed, set for chain
	// categories only.
	ChainDepth *int            `json:"chain_depth,omitempty"`
	Geom       geom.LineString `json:"-"`
}

// IntersectionRecord is one intersection associated with an analysis,
// unique per intersection id.
type IntersectionRecord struct {
	IntersectionID string       `json:"intersection_id"`
	Type           string       `json:"intersection_type,omitempty"`
	Subtype        string       `json:"intersection_subtype,omitempty"`
	Geom           geom.Polygon `json:"-"`
}

// RoadRecord counts the lanes of one road captured by an analysis. Name is
// resolved from the road-graph store and may be empty.
type RoadRecord struct {
	RoadID    string `json:"road_id"`
	Name      string `json:"road_name,omitempty"`
	LaneCount int    `json:"lane_count"`
}

// Analysis is the complete, immutable result of one association run. It is
// persisted as a unit and deleted as a unit.
type Analysis struct {
	AnalysisID   string
	TrajectoryID string
	Trajectory   geom.LineString
	Buffer       geom.Polygon
	CreatedAt    time.Time

	Lanes         []LaneRecord
	Intersections []IntersectionRecord
	Roads         []RoadRecord
}

// Summary is the counts-only view of an analysis.
type Summary struct {
	DirectIntersectCount     int       `json:"direct_intersect_count"`
	IntersectionRelatedCount int       `json:"intersection_related_count"`
	RoadRelatedCount         int       `json:"road_related_count"`
	ChainForwardCount        int       `json:"chain_forward_count"`
	ChainBackwardCount       int       `json:"chain_backward_count"`
	IntersectionCount        int       `json:"intersection_count"`
	RoadCount                int       `json:"road_count"`
	CreatedAt                time.Time `json:"created_at"`
}

// BuildSummary aggregates category counts from a resolved analysis. Pure;
// no store access.
func BuildSummary(a *Analysis) Summary {
	s := Summary{
		IntersectionCount: len(a.Intersections),
		RoadCount:         len(a.Roads),
		CreatedAt:         a.CreatedAt,
	}
	for _, lane := range a.Lanes {
		switch lane.Category {
		case CategoryDirectIntersect:
			s.DirectIntersectCount++
		case CategoryIntersectionRelated:
			s.IntersectionRelatedCount++
		case CategoryRoadRelated:
			s.RoadRelatedCount++
		case CategoryChainForward:
			s.ChainForwardCount++
		case CategoryChainBackward:
			s.ChainBackwardCount++
		}
	}
	return s
}

// Result is what an analysis run returns to its caller. Degraded marks a
// run whose chain traversal hit its time budget and returned a partial lane
// set; the analysis itself still succeeded.
type Result struct {
	AnalysisID string        `json:"analysis_id"`
	Summary    Summary       `json:"summary"`
	Degraded   bool          `json:"degraded,omitempty"`
	Forward    TraversalDiag `json:"forward,omitempty"`
	Backward   TraversalDiag `json:"backward,omitempty"`
}
