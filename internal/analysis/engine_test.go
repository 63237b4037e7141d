package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/trajectory.report/internal/geom"
	"github.com/banshee-data/trajectory.report/internal/roadgraph"
)

// Fixtures are laid out in meters in a local frame at (0,0) and carried to
// WGS84 through the same projection the engine uses.
var engineProj = geom.NewProjection(geom.Point{X: 0, Y: 0})

func metersLine(coords ...float64) geom.LineString {
	pts := make(geom.LineString, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		pts = append(pts, geom.Point{X: coords[i], Y: coords[i+1]})
	}
	return engineProj.InverseLine(pts)
}

func metersPolygon(coords ...float64) geom.Polygon {
	ring := make(geom.Ring, 0, len(coords)/2+1)
	for i := 0; i+1 < len(coords); i += 2 {
		ring = append(ring, geom.Point{X: coords[i], Y: coords[i+1]})
	}
	ring = append(ring, ring[0])
	return engineProj.InversePolygon(geom.Polygon{Exterior: ring})
}

type memPersister struct {
	saved []*Analysis
	err   error
}

func (m *memPersister) SaveAnalysis(ctx context.Context, a *Analysis) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, a)
	return nil
}

func testParams() Params {
	p := DefaultParams()
	p.QueryTimeout = time.Second
	p.RecursiveQueryTimeout = time.Second
	return p
}

// fixtureGraph builds a small network around a west-to-east trajectory at
// y=0, x in [0,100]:
//
//	L1  (road R1)  runs 1 m north of the trajectory, inside the buffer
//	L1b (road R1)  parallel lane 6 m north, outside the buffer
//	L2  (road R3)  forward successor of L1, 60 m
//	L3  (road R3)  forward successor of L2, 240 m
//	Lp  (road R4)  backward predecessor of L1, 80 m
//	Lp2 (road R4)  predecessor of Lp, 220 m, past the backward limit
//	I1             intersection square straddling the buffer at x in [40,60]
//	LX  (road R2)  lane attached to I1, away from the buffer
func fixtureGraph() *roadgraph.MemStore {
	m := roadgraph.NewMemStore()
	m.AddLane(roadgraph.Lane{ID: "L1", RoadID: "R1", Geom: metersLine(0, 1, 100, 1)})
	m.AddLane(roadgraph.Lane{ID: "L1b", RoadID: "R1", Geom: metersLine(0, 6, 100, 6)})
	// Chain lanes start clear of the buffer end caps so they are reachable
	// only through adjacency.
	m.AddLane(roadgraph.Lane{ID: "L2", RoadID: "R3", Geom: metersLine(105, 1, 165, 1)})
	m.AddLane(roadgraph.Lane{ID: "L3", RoadID: "R3", Geom: metersLine(165, 1, 405, 1)})
	m.AddLane(roadgraph.Lane{ID: "Lp", RoadID: "R4", Geom: metersLine(-85, 1, -5, 1)})
	m.AddLane(roadgraph.Lane{ID: "Lp2", RoadID: "R4", Geom: metersLine(-305, 1, -85, 1)})
	m.AddLane(roadgraph.Lane{ID: "LX", RoadID: "R2", Geom: metersLine(50, 10, 50, 80)})
	m.LinkNext("L1", "L2")
	m.LinkNext("L2", "L3")
	m.LinkNext("Lp", "L1")
	m.LinkNext("Lp2", "Lp")
	m.AddIntersection(roadgraph.Intersection{
		ID: "I1", Type: "junction", Subtype: "t",
		Geom: metersPolygon(40, -2, 60, -2, 60, 2, 40, 2),
	})
	m.ConnectIntersection("I1", "L1", "LX")
	m.AddRoad(roadgraph.Road{ID: "R1", Name: "Main St"})
	return m
}

func trajectoryWKT() string {
	return geom.FormatLineString(metersLine(0, 0, 100, 0))
}

func TestAnalyzeFullPipeline(t *testing.T) {
	store := &memPersister{}
	eng, err := NewEngine(fixtureGraph(), store, testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	res, err := eng.Analyze(context.Background(), "traj-1", trajectoryWKT())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Degraded {
		t.Error("run should not be degraded")
	}
	if _, err := uuid.Parse(res.AnalysisID); err != nil {
		t.Errorf("analysis id %q is not a uuid", res.AnalysisID)
	}

	if len(store.saved) != 1 {
		t.Fatalf("expected one persisted analysis, got %d", len(store.saved))
	}
	a := store.saved[0]
	if a.TrajectoryID != "traj-1" {
		t.Errorf("trajectory id = %q", a.TrajectoryID)
	}

	categories := map[string]LaneCategory{}
	for _, lane := range a.Lanes {
		if prev, dup := categories[lane.LaneID]; dup {
			t.Errorf("lane %s appears twice (%v and %v)", lane.LaneID, prev, lane.Category)
		}
		categories[lane.LaneID] = lane.Category
	}
	want := map[string]LaneCategory{
		"L1":  CategoryDirectIntersect,
		"L1b": CategoryRoadRelated,
		"LX":  CategoryIntersectionRelated,
		"L2":  CategoryChainForward,
		"L3":  CategoryChainForward,
		"Lp":  CategoryChainBackward,
	}
	for id, cat := range want {
		if categories[id] != cat {
			t.Errorf("lane %s category = %v, want %v", id, categories[id], cat)
		}
	}
	if len(categories) != len(want) {
		t.Errorf("lane set = %v, want ids of %v", categories, want)
	}

	// Direct hits carry distance, chain lanes carry depth.
	for _, lane := range a.Lanes {
		switch lane.LaneID {
		case "L1":
			if lane.DistanceFromTrajectory == nil || *lane.DistanceFromTrajectory > 1.1 || *lane.DistanceFromTrajectory < 0.9 {
				t.Errorf("L1 distance = %v, want ~1m", lane.DistanceFromTrajectory)
			}
		case "L3":
			if lane.ChainDepth == nil || *lane.ChainDepth != 2 {
				t.Errorf("L3 chain depth = %v, want 2", lane.ChainDepth)
			}
		}
	}

	if len(a.Intersections) != 1 || a.Intersections[0].IntersectionID != "I1" {
		t.Errorf("intersections = %+v, want I1", a.Intersections)
	}

	roadNames := map[string]string{}
	roadCounts := map[string]int{}
	for _, r := range a.Roads {
		roadNames[r.RoadID] = r.Name
		roadCounts[r.RoadID] = r.LaneCount
	}
	if roadCounts["R1"] != 2 || roadCounts["R3"] != 2 || roadCounts["R2"] != 1 || roadCounts["R4"] != 1 {
		t.Errorf("road lane counts = %v", roadCounts)
	}
	if roadNames["R1"] != "Main St" {
		t.Errorf("R1 name = %q, want Main St", roadNames["R1"])
	}

	s := res.Summary
	if s.DirectIntersectCount != 1 || s.IntersectionRelatedCount != 1 || s.RoadRelatedCount != 1 ||
		s.ChainForwardCount != 2 || s.ChainBackwardCount != 1 || s.IntersectionCount != 1 || s.RoadCount != 4 {
		t.Errorf("summary = %+v", s)
	}
}

// Lanes that enter through intersection or road expansion feed the later
// stages too: road expansion covers their roads, and the chain traversals
// seed from the full union, not just the direct matches.
func TestAnalyzeSeedsIncludeExpandedLanes(t *testing.T) {
	m := roadgraph.NewMemStore()
	// L1 is the only direct match. LX hangs off intersection I1, clear of the
	// buffer; LXb is LX's road sibling; LY and LZ are reachable only by
	// following adjacency from LX and LXb.
	m.AddLane(roadgraph.Lane{ID: "L1", RoadID: "R1", Geom: metersLine(0, 1, 100, 1)})
	m.AddLane(roadgraph.Lane{ID: "LX", RoadID: "R2", Geom: metersLine(50, 10, 50, 80)})
	m.AddLane(roadgraph.Lane{ID: "LXb", RoadID: "R2", Geom: metersLine(55, 10, 55, 80)})
	m.AddLane(roadgraph.Lane{ID: "LY", RoadID: "R5", Geom: metersLine(50, 85, 50, 145)})
	m.AddLane(roadgraph.Lane{ID: "LZ", RoadID: "R6", Geom: metersLine(55, 85, 55, 145)})
	m.AddIntersection(roadgraph.Intersection{
		ID: "I1", Type: "junction", Subtype: "t",
		Geom: metersPolygon(40, -2, 60, -2, 60, 2, 40, 2),
	})
	m.ConnectIntersection("I1", "L1", "LX")
	m.LinkNext("LX", "LY")
	m.LinkNext("LXb", "LZ")

	store := &memPersister{}
	eng, err := NewEngine(m, store, testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := eng.Analyze(context.Background(), "traj-seeds", trajectoryWKT()); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected one persisted analysis, got %d", len(store.saved))
	}

	categories := map[string]LaneCategory{}
	for _, lane := range store.saved[0].Lanes {
		categories[lane.LaneID] = lane.Category
	}
	want := map[string]LaneCategory{
		"L1":  CategoryDirectIntersect,
		"LX":  CategoryIntersectionRelated,
		"LXb": CategoryRoadRelated,
		"LY":  CategoryChainForward,
		"LZ":  CategoryChainForward,
	}
	for id, cat := range want {
		if categories[id] != cat {
			t.Errorf("lane %s category = %v, want %v", id, categories[id], cat)
		}
	}
	if len(categories) != len(want) {
		t.Errorf("lane set = %v, want ids of %v", categories, want)
	}

	for _, lane := range store.saved[0].Lanes {
		if lane.LaneID == "LY" {
			if lane.ChainDepth == nil || *lane.ChainDepth != 1 {
				t.Errorf("LY chain depth = %v, want 1", lane.ChainDepth)
			}
		}
	}
}

func TestAnalyzeZeroMatchesIsSuccess(t *testing.T) {
	store := &memPersister{}
	eng, err := NewEngine(roadgraph.NewMemStore(), store, testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	res, err := eng.Analyze(context.Background(), "traj-empty", trajectoryWKT())
	if err != nil {
		t.Fatalf("zero matches must not be an error: %v", err)
	}
	if _, err := uuid.Parse(res.AnalysisID); err != nil {
		t.Errorf("analysis id %q is not a uuid", res.AnalysisID)
	}
	if res.Summary != (Summary{CreatedAt: res.Summary.CreatedAt}) {
		t.Errorf("summary should be all zeros, got %+v", res.Summary)
	}
	if len(store.saved) != 1 || len(store.saved[0].Lanes) != 0 {
		t.Errorf("empty analysis should still be persisted")
	}
}

func TestAnalyzeInvalidTrajectory(t *testing.T) {
	eng, _ := NewEngine(roadgraph.NewMemStore(), nil, testParams())
	_, err := eng.Analyze(context.Background(), "traj-bad", "LINESTRING(0 0)")
	var ge *geom.InvalidGeometryError
	if !errors.As(err, &ge) {
		t.Fatalf("want InvalidGeometryError, got %v", err)
	}
	if _, err := eng.Analyze(context.Background(), "", trajectoryWKT()); err == nil {
		t.Error("empty trajectory id should be rejected")
	}
}

func TestAnalyzeDegradedOnTraversalTimeout(t *testing.T) {
	graph := fixtureGraph()
	graph.Delay = 30 * time.Millisecond
	store := &memPersister{}

	p := testParams()
	p.RecursiveQueryTimeout = 5 * time.Millisecond
	eng, err := NewEngine(graph, store, p)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	res, err := eng.Analyze(context.Background(), "traj-slow", trajectoryWKT())
	if err != nil {
		t.Fatalf("traversal timeout must degrade, not fail: %v", err)
	}
	if !res.Degraded {
		t.Error("result should be marked degraded")
	}
	if res.Forward.Reason != StopTimeout && res.Backward.Reason != StopTimeout {
		t.Errorf("at least one direction should report timeout, got %+v %+v", res.Forward, res.Backward)
	}
	if len(store.saved) != 1 {
		t.Error("degraded analysis should still be persisted")
	}
	// Direct, intersection, and road stages were inside their budget.
	if res.Summary.DirectIntersectCount != 1 {
		t.Errorf("direct count = %d, want 1", res.Summary.DirectIntersectCount)
	}
}

func TestAnalyzeCancellationSkipsPersistence(t *testing.T) {
	store := &memPersister{}
	eng, err := NewEngine(fixtureGraph(), store, testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.Analyze(ctx, "traj-cancel", trajectoryWKT())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if len(store.saved) != 0 {
		t.Error("cancelled run must not persist")
	}
}

func TestAnalyzeQueryFailure(t *testing.T) {
	graph := fixtureGraph()
	graph.Fail = map[string]error{"road_lanes": errors.New("relation missing")}
	store := &memPersister{}
	eng, err := NewEngine(graph, store, testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	_, err = eng.Analyze(context.Background(), "traj-fail", trajectoryWKT())
	var qe *roadgraph.QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("want QueryError, got %v", err)
	}
	if len(store.saved) != 0 {
		t.Error("failed run must not persist")
	}
}

func TestAnalyzePersistenceFailure(t *testing.T) {
	store := &memPersister{err: errors.New("disk full")}
	eng, err := NewEngine(fixtureGraph(), store, testParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := eng.Analyze(context.Background(), "traj-persist", trajectoryWKT()); err == nil {
		t.Fatal("persistence failure should fail the run")
	}
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(nil, nil, testParams()); err == nil {
		t.Error("nil graph should be rejected")
	}
	p := testParams()
	p.BufferDistanceM = 0
	if _, err := NewEngine(roadgraph.NewMemStore(), nil, p); err == nil {
		t.Error("invalid params should be rejected")
	}
}
