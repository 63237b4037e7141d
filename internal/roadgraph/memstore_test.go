package roadgraph

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/banshee-data/trajectory.report/internal/geom"
)

// fixtureProj maps local meter offsets near the origin to lon/lat so that
// fixtures can be written in meters.
var fixtureProj = geom.NewProjection(geom.Point{X: 0, Y: 0})

func metersLine(pts ...geom.Point) geom.LineString {
	return fixtureProj.InverseLine(geom.LineString(pts))
}

func metersPolygon(pts ...geom.Point) geom.Polygon {
	ring := append(geom.LineString{}, pts...)
	ring = append(ring, pts[0])
	return geom.Polygon{Exterior: geom.Ring(fixtureProj.InverseLine(ring))}
}

func testStore() *MemStore {
	m := NewMemStore()
	// Two parallel lanes along the x axis, one crossing lane far away.
	m.AddLane(Lane{ID: "L1", RoadID: "R1", Geom: metersLine(geom.Point{X: 0, Y: 0}, geom.Point{X: 100, Y: 0})})
	m.AddLane(Lane{ID: "L2", RoadID: "R1", Geom: metersLine(geom.Point{X: 0, Y: 4}, geom.Point{X: 100, Y: 4})})
	m.AddLane(Lane{ID: "L3", RoadID: "R2", Geom: metersLine(geom.Point{X: 0, Y: 500}, geom.Point{X: 100, Y: 500})})
	return m
}

func TestMemStoreLanesIntersecting(t *testing.T) {
	m := testStore()
	buffer := metersPolygon(
		geom.Point{X: -5, Y: -5},
		geom.Point{X: 105, Y: -5},
		geom.Point{X: 105, Y: 5},
		geom.Point{X: -5, Y: 5},
	)
	trajectory := metersLine(geom.Point{X: 0, Y: 0}, geom.Point{X: 100, Y: 0})

	hits, err := m.LanesIntersecting(context.Background(), buffer, trajectory, 10)
	if err != nil {
		t.Fatalf("LanesIntersecting failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "L1" || hits[1].ID != "L2" {
		t.Errorf("expected sorted ids [L1 L2], got [%s %s]", hits[0].ID, hits[1].ID)
	}
	if hits[0].DistanceM > 0.1 {
		t.Errorf("L1 distance = %v, want ~0 (coincident with trajectory)", hits[0].DistanceM)
	}
	if d := hits[1].DistanceM; d < 3.5 || d > 4.5 {
		t.Errorf("L2 distance = %v, want ~4", d)
	}
}

func TestMemStoreLanesIntersectingLimit(t *testing.T) {
	m := testStore()
	buffer := metersPolygon(
		geom.Point{X: -5, Y: -5},
		geom.Point{X: 105, Y: -5},
		geom.Point{X: 105, Y: 5},
		geom.Point{X: -5, Y: 5},
	)
	hits, err := m.LanesIntersecting(context.Background(), buffer, nil, 1)
	if err != nil {
		t.Fatalf("LanesIntersecting failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "L1" {
		t.Errorf("limit 1 should keep the first sorted hit, got %v", hits)
	}
}

func TestMemStoreAdjacency(t *testing.T) {
	m := testStore()
	m.LinkNext("L1", "L2")
	m.LinkNext("L1", "L3")

	next, err := m.NextLanes(context.Background(), "L1", 10)
	if err != nil {
		t.Fatalf("NextLanes failed: %v", err)
	}
	if len(next) != 2 || next[0].ID != "L2" || next[1].ID != "L3" {
		t.Errorf("unexpected successors: %v", next)
	}

	prev, err := m.PrevLanes(context.Background(), "L2", 10)
	if err != nil {
		t.Fatalf("PrevLanes failed: %v", err)
	}
	if len(prev) != 1 || prev[0].ID != "L1" {
		t.Errorf("unexpected predecessors: %v", prev)
	}
}

func TestMemStoreLaneLengthComputed(t *testing.T) {
	m := testStore()
	lanes, err := m.RoadLanes(context.Background(), "R1", 10)
	if err != nil {
		t.Fatalf("RoadLanes failed: %v", err)
	}
	for _, lane := range lanes {
		if lane.LengthM < 99 || lane.LengthM > 101 {
			t.Errorf("lane %s length = %v, want ~100", lane.ID, lane.LengthM)
		}
	}
}

func TestMemStoreIntersectionLanes(t *testing.T) {
	m := testStore()
	m.AddIntersection(Intersection{ID: "I1", Type: "crossroad", Geom: metersPolygon(
		geom.Point{X: 95, Y: -10},
		geom.Point{X: 110, Y: -10},
		geom.Point{X: 110, Y: 10},
		geom.Point{X: 95, Y: 10},
	)})
	m.ConnectIntersection("I1", "L2", "L1", "L2") // duplicates collapse

	lanes, err := m.IntersectionLanes(context.Background(), "I1", 10)
	if err != nil {
		t.Fatalf("IntersectionLanes failed: %v", err)
	}
	if len(lanes) != 2 || lanes[0].ID != "L1" || lanes[1].ID != "L2" {
		t.Errorf("unexpected intersection lanes: %v", lanes)
	}
}

func TestMemStoreCancellation(t *testing.T) {
	m := testStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.NextLanes(ctx, "L1", 10)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled passthrough, got %v", err)
	}
}

func TestMemStoreTimeoutClassification(t *testing.T) {
	m := testStore()
	m.Delay = 50 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := m.NextLanes(ctx, "L1", 10)
	var qt *QueryTimeoutError
	if !errors.As(err, &qt) {
		t.Errorf("expected QueryTimeoutError, got %v", err)
	}
}

func TestMemStoreFailureInjection(t *testing.T) {
	m := testStore()
	m.Fail = map[string]error{"road_lanes": fmt.Errorf("connection refused")}

	_, err := m.RoadLanes(context.Background(), "R1", 10)
	var qe *QueryError
	if !errors.As(err, &qe) {
		t.Errorf("expected QueryError, got %v", err)
	}
}

func TestMemStoreRoads(t *testing.T) {
	m := testStore()
	m.AddRoad(Road{ID: "R1", Name: "Main St"})

	roads, err := m.Roads(context.Background(), []string{"R2", "R1", "missing"})
	if err != nil {
		t.Fatalf("Roads failed: %v", err)
	}
	if len(roads) != 2 {
		t.Fatalf("expected 2 roads (unknown omitted), got %d", len(roads))
	}
	if roads[0].ID != "R1" || roads[0].Name != "Main St" {
		t.Errorf("unexpected first road: %+v", roads[0])
	}
}
