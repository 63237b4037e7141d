package roadgraph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/trajectory.report/internal/geom"
)

// MemStore is an in-memory Store. It backs engine and walker tests and the
// offline fixture tooling, and mimics the SQL store's behavior: results are
// ordered by id, limits are honored, and context expiry is classified into
// the same error taxonomy.
type MemStore struct {
	mu sync.Mutex

	lanes         map[string]Lane
	intersections map[string]Intersection
	roads         map[string]Road
	next          map[string][]string
	prev          map[string][]string
	intLanes      map[string][]string

	// Delay is an artificial per-query latency, used to exercise timeout
	// handling. Fail forces the named ops ("next_lanes", ...) to error.
	Delay time.Duration
	Fail  map[string]error
}

// NewMemStore returns an empty in-memory road graph.
func NewMemStore() *MemStore {
	return &MemStore{
		lanes:         make(map[string]Lane),
		intersections: make(map[string]Intersection),
		roads:         make(map[string]Road),
		next:          make(map[string][]string),
		prev:          make(map[string][]string),
		intLanes:      make(map[string][]string),
	}
}

// AddLane registers a lane. A zero LengthM is filled from the geometry.
func (m *MemStore) AddLane(lane Lane) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lane.LengthM == 0 {
		lane.LengthM = geom.GeodesicLength(lane.Geom)
	}
	m.lanes[lane.ID] = lane
	if lane.RoadID != "" {
		if _, ok := m.roads[lane.RoadID]; !ok {
			m.roads[lane.RoadID] = Road{ID: lane.RoadID}
		}
	}
}

// AddIntersection registers an intersection polygon.
func (m *MemStore) AddIntersection(in Intersection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intersections[in.ID] = in
}

// AddRoad registers road metadata.
func (m *MemStore) AddRoad(r Road) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roads[r.ID] = r
}

// LinkNext records a directed adjacency from one lane to its successor.
func (m *MemStore) LinkNext(laneID, nextLaneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next[laneID] = append(m.next[laneID], nextLaneID)
	m.prev[nextLaneID] = append(m.prev[nextLaneID], laneID)
}

// ConnectIntersection associates inbound/outbound lanes with an intersection.
func (m *MemStore) ConnectIntersection(intersectionID string, laneIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intLanes[intersectionID] = append(m.intLanes[intersectionID], laneIDs...)
}

func (m *MemStore) wait(ctx context.Context, op string) error {
	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return classifyErr(ctx, op, 0, ctx.Err())
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return classifyErr(ctx, op, 0, err)
	}
	if err := m.Fail[op]; err != nil {
		return classifyErr(ctx, op, 0, err)
	}
	return nil
}

func (m *MemStore) LanesIntersecting(ctx context.Context, poly geom.Polygon, measureAgainst geom.LineString, limit int) ([]LaneHit, error) {
	if err := m.wait(ctx, "lanes_intersecting"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var proj geom.Projection
	if len(poly.Exterior) > 0 {
		proj = geom.NewProjection(poly.Exterior[0])
	}
	measurePlanar := proj.ForwardLine(measureAgainst)

	var hits []LaneHit
	for _, lane := range m.lanes {
		if !geom.Intersects(poly, lane.Geom) {
			continue
		}
		hit := LaneHit{Lane: lane}
		if len(measureAgainst) > 0 {
			hit.DistanceM = geom.DistanceLineLine(measurePlanar, proj.ForwardLine(lane.Geom))
		}
		hits = append(hits, hit)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemStore) IntersectionsIntersecting(ctx context.Context, poly geom.Polygon, limit int) ([]Intersection, error) {
	if err := m.wait(ctx, "intersections_intersecting"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Intersection
	for _, in := range m.intersections {
		if geom.PolygonsIntersect(poly, in.Geom) {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) IntersectionLanes(ctx context.Context, intersectionID string, limit int) ([]Lane, error) {
	if err := m.wait(ctx, "intersection_lanes"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLanes(m.intLanes[intersectionID], limit), nil
}

func (m *MemStore) RoadLanes(ctx context.Context, roadID string, limit int) ([]Lane, error) {
	if err := m.wait(ctx, "road_lanes"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, lane := range m.lanes {
		if lane.RoadID == roadID {
			ids = append(ids, id)
		}
	}
	return m.lookupLanes(ids, limit), nil
}

func (m *MemStore) NextLanes(ctx context.Context, laneID string, limit int) ([]Lane, error) {
	if err := m.wait(ctx, "next_lanes"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLanes(m.next[laneID], limit), nil
}

func (m *MemStore) PrevLanes(ctx context.Context, laneID string, limit int) ([]Lane, error) {
	if err := m.wait(ctx, "prev_lanes"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLanes(m.prev[laneID], limit), nil
}

func (m *MemStore) Roads(ctx context.Context, roadIDs []string) ([]Road, error) {
	if err := m.wait(ctx, "roads"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Road
	for _, id := range roadIDs {
		if r, ok := m.roads[id]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// lookupLanes resolves ids to lanes, deduplicated and sorted. Callers hold mu.
func (m *MemStore) lookupLanes(ids []string, limit int) []Lane {
	seen := make(map[string]bool, len(ids))
	var lanes []Lane
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if lane, ok := m.lanes[id]; ok {
			lanes = append(lanes, lane)
		}
	}
	sort.Slice(lanes, func(i, j int) bool { return lanes[i].ID < lanes[j].ID })
	if limit > 0 && len(lanes) > limit {
		lanes = lanes[:limit]
	}
	return lanes
}
