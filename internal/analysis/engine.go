// Package analysis implements trajectory-to-road-network association: a
// trajectory is inflated into a buffer polygon, matched against the road
// graph, expanded through intersections, roads, and the lane-adjacency
// relation, and the deduplicated result is persisted as one analysis.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/trajectory.report/internal/geom"
	"github.com/banshee-data/trajectory.report/internal/monitoring"
	"github.com/banshee-data/trajectory.report/internal/roadgraph"
)

// expanderConcurrency bounds how many per-intersection and per-road lookups
// run against the road graph at once.
const expanderConcurrency = 4

// Persister stores completed analyses.
type Persister interface {
	SaveAnalysis(ctx context.Context, a *Analysis) error
}

// Engine runs association analyses against a road-graph store. It is safe
// for concurrent use; every run carries its own parameter copy.
type Engine struct {
	graph  roadgraph.Store
	store  Persister
	params Params
	logf   func(format string, v ...interface{})
}

// NewEngine builds an engine. store may be nil for dry runs that only
// compute a result without persisting it.
func NewEngine(graph roadgraph.Store, store Persister, p Params) (*Engine, error) {
	if graph == nil {
		return nil, fmt.Errorf("road graph store is required")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis params: %w", err)
	}
	return &Engine{
		graph:  graph,
		store:  store,
		params: p,
		logf:   monitoring.Scoped("analysis"),
	}, nil
}

// Params returns the engine's tuning values.
func (e *Engine) Params() Params { return e.params }

// Analyze associates one trajectory with the road network and persists the
// outcome. trajectoryWKT must be a WGS84 LINESTRING. A run with zero matches
// is still a success and is persisted; a run whose chain traversal exhausted
// its time budget returns Degraded=true with the partial lane set. Caller
// cancellation aborts before persistence and returns the context error.
func (e *Engine) Analyze(ctx context.Context, trajectoryID, trajectoryWKT string) (*Result, error) {
	start := time.Now()
	if trajectoryID == "" {
		return nil, fmt.Errorf("trajectory id is required")
	}
	line, err := geom.ParseLineString(trajectoryWKT)
	if err != nil {
		return nil, fmt.Errorf("trajectory %s: %w", trajectoryID, err)
	}

	// Buffer in a local planar frame anchored at the trajectory start, then
	// carry the polygon back to WGS84 for the spatial queries.
	proj := geom.NewProjection(line[0])
	buf, err := geom.Buffer(proj.ForwardLine(line), e.params.BufferDistanceM)
	if err != nil {
		return nil, fmt.Errorf("trajectory %s: buffer: %w", trajectoryID, err)
	}
	buffer := proj.InversePolygon(buf)

	hits, intersections, err := e.directMatch(ctx, buffer, line)
	if err != nil {
		return nil, fmt.Errorf("trajectory %s: %w", trajectoryID, err)
	}

	var sets CategorySets
	direct := make([]roadgraph.Lane, 0, len(hits))
	for _, hit := range hits {
		d := hit.DistanceM
		sets.Direct = append(sets.Direct, LaneRecord{
			LaneID:                 hit.ID,
			RoadID:                 hit.RoadID,
			Category:               CategoryDirectIntersect,
			DistanceFromTrajectory: &d,
			Geom:                   hit.Geom,
		})
		direct = append(direct, hit.Lane)
	}

	interLanes, err := e.expandIntersections(ctx, intersections)
	if err != nil {
		return nil, fmt.Errorf("trajectory %s: %w", trajectoryID, err)
	}
	sets.IntersectionRelated = laneRecords(interLanes, CategoryIntersectionRelated)

	// Road expansion covers the roads of every lane found so far, then the
	// chain traversals seed from the full direct/intersection/road union. The
	// walker never re-emits a seed, so rediscovery cannot duplicate records.
	roadLanes, err := e.expandRoads(ctx, uniqueLanes(direct, interLanes))
	if err != nil {
		return nil, fmt.Errorf("trajectory %s: %w", trajectoryID, err)
	}
	sets.RoadRelated = laneRecords(roadLanes, CategoryRoadRelated)
	seeds := uniqueLanes(direct, interLanes, roadLanes)

	var fwdDiag, backDiag TraversalDiag
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sets.ChainForward, fwdDiag, err = walkChain(gctx, e.graph, DirectionForward, seeds, e.params.ForwardChainLimitM, e.params)
		return err
	})
	g.Go(func() error {
		var err error
		sets.ChainBackward, backDiag, err = walkChain(gctx, e.graph, DirectionBackward, seeds, e.params.BackwardChainLimitM, e.params)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("trajectory %s: %w", trajectoryID, err)
	}

	lanes := AggregateLanes(sets)
	roads, err := e.resolveRoads(ctx, lanes)
	if err != nil {
		return nil, fmt.Errorf("trajectory %s: %w", trajectoryID, err)
	}

	a := &Analysis{
		AnalysisID:    uuid.NewString(),
		TrajectoryID:  trajectoryID,
		Trajectory:    line,
		Buffer:        buffer,
		CreatedAt:     time.Now().UTC(),
		Lanes:         lanes,
		Intersections: intersectionRecords(intersections),
		Roads:         roads,
	}

	// Cancellation between the last query and persistence still aborts the
	// run; a half-observed analysis must never reach the store.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.store != nil {
		if err := e.store.SaveAnalysis(ctx, a); err != nil {
			return nil, fmt.Errorf("trajectory %s: %w", trajectoryID, err)
		}
	}

	res := &Result{
		AnalysisID: a.AnalysisID,
		Summary:    BuildSummary(a),
		Degraded:   fwdDiag.Reason == StopTimeout || backDiag.Reason == StopTimeout,
		Forward:    fwdDiag,
		Backward:   backDiag,
	}
	e.logf("trajectory %s: analysis %s, %d lanes, %d intersections, %d roads in %s (forward %s, backward %s)",
		trajectoryID, a.AnalysisID, len(a.Lanes), len(a.Intersections), len(a.Roads),
		time.Since(start).Round(time.Millisecond), fwdDiag.Reason, backDiag.Reason)
	return res, nil
}

// directMatch runs the two buffer queries concurrently, each under its own
// query timeout.
func (e *Engine) directMatch(ctx context.Context, buffer geom.Polygon, line geom.LineString) ([]roadgraph.LaneHit, []roadgraph.Intersection, error) {
	var hits []roadgraph.LaneHit
	var intersections []roadgraph.Intersection

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		qctx, cancel := context.WithTimeout(gctx, e.params.QueryTimeout)
		defer cancel()
		var err error
		hits, err = e.graph.LanesIntersecting(qctx, buffer, line, e.params.MaxLanesPerQuery)
		if err != nil {
			return fmt.Errorf("direct lane match: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		qctx, cancel := context.WithTimeout(gctx, e.params.QueryTimeout)
		defer cancel()
		var err error
		intersections, err = e.graph.IntersectionsIntersecting(qctx, buffer, e.params.MaxIntersectionsPerQuery)
		if err != nil {
			return fmt.Errorf("intersection match: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return hits, intersections, nil
}

// expandIntersections fetches the inbound and outbound lanes of every
// matched intersection.
func (e *Engine) expandIntersections(ctx context.Context, intersections []roadgraph.Intersection) ([]roadgraph.Lane, error) {
	perIntersection := make([][]roadgraph.Lane, len(intersections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(expanderConcurrency)
	for i, in := range intersections {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, e.params.QueryTimeout)
			defer cancel()
			lanes, err := e.graph.IntersectionLanes(qctx, in.ID, e.params.MaxLanesPerQuery)
			if err != nil {
				return fmt.Errorf("lanes of intersection %s: %w", in.ID, err)
			}
			perIntersection[i] = lanes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []roadgraph.Lane
	for _, lanes := range perIntersection {
		out = append(out, lanes...)
	}
	return out, nil
}

// expandRoads fetches every lane of every road that a previously found lane
// belongs to.
func (e *Engine) expandRoads(ctx context.Context, found []roadgraph.Lane) ([]roadgraph.Lane, error) {
	roadIDs := uniqueRoadIDs(found)
	perRoad := make([][]roadgraph.Lane, len(roadIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(expanderConcurrency)
	for i, roadID := range roadIDs {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, e.params.QueryTimeout)
			defer cancel()
			lanes, err := e.graph.RoadLanes(qctx, roadID, e.params.MaxLanesPerQuery)
			if err != nil {
				return fmt.Errorf("lanes of road %s: %w", roadID, err)
			}
			perRoad[i] = lanes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []roadgraph.Lane
	for _, lanes := range perRoad {
		out = append(out, lanes...)
	}
	return out, nil
}

// resolveRoads counts lanes per road and resolves road names from the graph.
func (e *Engine) resolveRoads(ctx context.Context, lanes []LaneRecord) ([]RoadRecord, error) {
	roads := CollectRoads(lanes)
	if len(roads) == 0 {
		return roads, nil
	}
	ids := make([]string, len(roads))
	for i, r := range roads {
		ids[i] = r.RoadID
	}

	qctx, cancel := context.WithTimeout(ctx, e.params.QueryTimeout)
	defer cancel()
	meta, err := e.graph.Roads(qctx, ids)
	if err != nil {
		return nil, fmt.Errorf("road metadata: %w", err)
	}
	names := make(map[string]string, len(meta))
	for _, r := range meta {
		names[r.ID] = r.Name
	}
	for i := range roads {
		roads[i].Name = names[roads[i].RoadID]
	}
	return roads, nil
}

func intersectionRecords(intersections []roadgraph.Intersection) []IntersectionRecord {
	seen := make(map[string]bool, len(intersections))
	var out []IntersectionRecord
	for _, in := range intersections {
		if seen[in.ID] {
			continue
		}
		seen[in.ID] = true
		out = append(out, IntersectionRecord{
			IntersectionID: in.ID,
			Type:           in.Type,
			Subtype:        in.Subtype,
			Geom:           in.Geom,
		})
	}
	return out
}

// laneRecords tags a lane set with one category.
func laneRecords(lanes []roadgraph.Lane, cat LaneCategory) []LaneRecord {
	var out []LaneRecord
	for _, lane := range lanes {
		out = append(out, LaneRecord{
			LaneID:   lane.ID,
			RoadID:   lane.RoadID,
			Category: cat,
			Geom:     lane.Geom,
		})
	}
	return out
}

// uniqueLanes merges lane groups, keeping the first occurrence of each lane id.
func uniqueLanes(groups ...[]roadgraph.Lane) []roadgraph.Lane {
	seen := make(map[string]bool)
	var out []roadgraph.Lane
	for _, lanes := range groups {
		for _, lane := range lanes {
			if seen[lane.ID] {
				continue
			}
			seen[lane.ID] = true
			out = append(out, lane)
		}
	}
	return out
}

func uniqueRoadIDs(lanes []roadgraph.Lane) []string {
	seen := make(map[string]bool, len(lanes))
	var ids []string
	for _, lane := range lanes {
		if lane.RoadID == "" || seen[lane.RoadID] {
			continue
		}
		seen[lane.RoadID] = true
		ids = append(ids, lane.RoadID)
	}
	sort.Strings(ids)
	return ids
}
