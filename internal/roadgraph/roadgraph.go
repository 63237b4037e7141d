// Package roadgraph provides read-only access to the remote road network:
// lanes, intersections, roads, and the directed lane-adjacency relation. The
// engine treats it as an opaque spatial query service; SQLStore talks to a
// PostGIS-backed warehouse and MemStore is the in-memory double used by
// tests and offline tooling.
package roadgraph

import (
	"context"

	"github.com/banshee-data/trajectory.report/internal/geom"
)

// Lane is an atomic drivable road-graph segment.
type Lane struct {
	ID      string
	RoadID  string
	Geom    geom.LineString // WGS84 lon/lat
	LengthM float64
}

// LaneHit is a lane returned by a spatial match, with its measured distance
// from the query geometry in meters (zero when they intersect).
type LaneHit struct {
	Lane
	DistanceM float64
}

// Intersection is a junction polygon where roads meet.
type Intersection struct {
	ID      string
	Type    string
	Subtype string
	Geom    geom.Polygon // WGS84 lon/lat
}

// Road groups the lanes of one carriageway.
type Road struct {
	ID   string
	Name string
}

// Store is the remote road-graph lookup service. Every call is bounded by
// its context; implementations classify failures as *QueryTimeoutError when
// the context deadline expired and *QueryError for anything else, except
// caller cancellation which propagates as context.Canceled.
type Store interface {
	// LanesIntersecting returns up to limit lanes whose geometry intersects
	// the polygon, with distances measured against measureAgainst (typically
	// the original trajectory) when it is non-empty.
	LanesIntersecting(ctx context.Context, poly geom.Polygon, measureAgainst geom.LineString, limit int) ([]LaneHit, error)

	// IntersectionsIntersecting returns up to limit intersections whose
	// polygon intersects the query polygon.
	IntersectionsIntersecting(ctx context.Context, poly geom.Polygon, limit int) ([]Intersection, error)

	// IntersectionLanes returns the inbound and outbound lanes of an
	// intersection, up to limit.
	IntersectionLanes(ctx context.Context, intersectionID string, limit int) ([]Lane, error)

	// RoadLanes returns all lanes sharing a road id, up to limit.
	RoadLanes(ctx context.Context, roadID string, limit int) ([]Lane, error)

	// NextLanes returns the adjacency successors of a lane, up to limit.
	NextLanes(ctx context.Context, laneID string, limit int) ([]Lane, error)

	// PrevLanes returns the adjacency predecessors of a lane, up to limit.
	PrevLanes(ctx context.Context, laneID string, limit int) ([]Lane, error)

	// Roads returns metadata for the given road ids. Unknown ids are
	// silently omitted.
	Roads(ctx context.Context, roadIDs []string) ([]Road, error)
}
