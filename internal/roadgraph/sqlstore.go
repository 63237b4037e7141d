package roadgraph

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/banshee-data/trajectory.report/internal/geom"
)

// TableNames holds the four configurable remote table/view names.
type TableNames struct {
	Lanes         string
	Intersections string
	LaneAdjacency string
	Roads         string
}

// DefaultTableNames returns the conventional warehouse view names.
func DefaultTableNames() TableNames {
	return TableNames{
		Lanes:         "road_graph.lanes",
		Intersections: "road_graph.intersections",
		LaneAdjacency: "road_graph.lane_adjacency",
		Roads:         "road_graph.roads",
	}
}

// identRe accepts plain or schema-qualified SQL identifiers. Table names are
// interpolated into query text, so anything else is rejected up front.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func (t TableNames) validate() error {
	for _, name := range []string{t.Lanes, t.Intersections, t.LaneAdjacency, t.Roads} {
		if !identRe.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// PoolConfig caps concurrently in-flight remote queries regardless of how
// many trajectories run in parallel.
type PoolConfig struct {
	Size           int           // base pool size (default 5)
	Overflow       int           // extra connections beyond the base (default 10)
	Recycle        time.Duration // connection max lifetime (default 1h)
	ConnectTimeout time.Duration // initial ping budget (default 30s)
}

func (p PoolConfig) withDefaults() PoolConfig {
	if p.Size <= 0 {
		p.Size = 5
	}
	if p.Overflow <= 0 {
		p.Overflow = 10
	}
	if p.Recycle <= 0 {
		p.Recycle = time.Hour
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = 30 * time.Second
	}
	return p
}

// SQLStore implements Store against a PostGIS-backed road-graph warehouse.
// The lane table is expected to carry lane_id, road_id, entry_junction_id,
// exit_junction_id and a 4326 geometry column; the adjacency table carries
// (lane_id, next_lane_id) pairs.
type SQLStore struct {
	db     *sql.DB
	tables TableNames
}

// NewSQLStore wraps an existing connection pool. Table names are validated
// once here rather than per query.
func NewSQLStore(db *sql.DB, tables TableNames) (*SQLStore, error) {
	if err := tables.validate(); err != nil {
		return nil, err
	}
	return &SQLStore{db: db, tables: tables}, nil
}

// Open connects to the road-graph warehouse via the pgx stdlib driver and
// applies the pool limits.
func Open(dsn string, tables TableNames, pool PoolConfig) (*SQLStore, error) {
	if err := tables.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open road graph: %w", err)
	}
	pool = pool.withDefaults()
	db.SetMaxOpenConns(pool.Size + pool.Overflow)
	db.SetMaxIdleConns(pool.Size)
	db.SetConnMaxLifetime(pool.Recycle)

	ctx, cancel := context.WithTimeout(context.Background(), pool.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping road graph: %w", err)
	}
	return &SQLStore{db: db, tables: tables}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

// DB exposes the underlying pool so other warehouse readers (batch input)
// can share its connection limits.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) LanesIntersecting(ctx context.Context, poly geom.Polygon, measureAgainst geom.LineString, limit int) ([]LaneHit, error) {
	const op = "lanes_intersecting"
	polyWKT := geom.FormatPolygon(poly)
	measureWKT := polyWKT
	if len(measureAgainst) > 0 {
		measureWKT = geom.FormatLineString(measureAgainst)
	}
	query := fmt.Sprintf(`
		SELECT lane_id, road_id, ST_AsText(geom),
		       ST_Length(geom::geography),
		       ST_Distance(geom::geography, ST_GeogFromText($2))
		FROM %s
		WHERE ST_Intersects(geom, ST_GeomFromText($1, 4326))
		ORDER BY lane_id
		LIMIT %d`, s.tables.Lanes, limit)

	rows, err := s.db.QueryContext(ctx, query, polyWKT, measureWKT)
	if err != nil {
		return nil, classifyErr(ctx, op, 0, err)
	}
	defer rows.Close()

	var hits []LaneHit
	for rows.Next() {
		var (
			hit     LaneHit
			laneWKT string
		)
		if err := rows.Scan(&hit.ID, &hit.RoadID, &laneWKT, &hit.LengthM, &hit.DistanceM); err != nil {
			return nil, classifyErr(ctx, op, 0, err)
		}
		if hit.Geom, err = geom.ParseLineString(laneWKT); err != nil {
			return nil, &QueryError{Op: op, Err: fmt.Errorf("lane %s: %w", hit.ID, err)}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(ctx, op, 0, err)
	}
	return hits, nil
}

func (s *SQLStore) IntersectionsIntersecting(ctx context.Context, poly geom.Polygon, limit int) ([]Intersection, error) {
	const op = "intersections_intersecting"
	query := fmt.Sprintf(`
		SELECT intersection_id, COALESCE(intersection_type, ''),
		       COALESCE(intersection_subtype, ''), ST_AsText(geom)
		FROM %s
		WHERE ST_Intersects(geom, ST_GeomFromText($1, 4326))
		ORDER BY intersection_id
		LIMIT %d`, s.tables.Intersections, limit)

	rows, err := s.db.QueryContext(ctx, query, geom.FormatPolygon(poly))
	if err != nil {
		return nil, classifyErr(ctx, op, 0, err)
	}
	defer rows.Close()

	var out []Intersection
	for rows.Next() {
		var (
			in  Intersection
			wkt string
		)
		if err := rows.Scan(&in.ID, &in.Type, &in.Subtype, &wkt); err != nil {
			return nil, classifyErr(ctx, op, 0, err)
		}
		if in.Geom, err = geom.ParsePolygon(wkt); err != nil {
			return nil, &QueryError{Op: op, Err: fmt.Errorf("intersection %s: %w", in.ID, err)}
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(ctx, op, 0, err)
	}
	return out, nil
}

func (s *SQLStore) IntersectionLanes(ctx context.Context, intersectionID string, limit int) ([]Lane, error) {
	query := fmt.Sprintf(`
		SELECT lane_id, road_id, ST_AsText(geom), ST_Length(geom::geography)
		FROM %s
		WHERE entry_junction_id = $1 OR exit_junction_id = $1
		ORDER BY lane_id
		LIMIT %d`, s.tables.Lanes, limit)
	return s.queryLanes(ctx, "intersection_lanes", query, intersectionID)
}

func (s *SQLStore) RoadLanes(ctx context.Context, roadID string, limit int) ([]Lane, error) {
	query := fmt.Sprintf(`
		SELECT lane_id, road_id, ST_AsText(geom), ST_Length(geom::geography)
		FROM %s
		WHERE road_id = $1
		ORDER BY lane_id
		LIMIT %d`, s.tables.Lanes, limit)
	return s.queryLanes(ctx, "road_lanes", query, roadID)
}

func (s *SQLStore) NextLanes(ctx context.Context, laneID string, limit int) ([]Lane, error) {
	query := fmt.Sprintf(`
		SELECT l.lane_id, l.road_id, ST_AsText(l.geom), ST_Length(l.geom::geography)
		FROM %s a
		JOIN %s l ON l.lane_id = a.next_lane_id
		WHERE a.lane_id = $1
		ORDER BY l.lane_id
		LIMIT %d`, s.tables.LaneAdjacency, s.tables.Lanes, limit)
	return s.queryLanes(ctx, "next_lanes", query, laneID)
}

func (s *SQLStore) PrevLanes(ctx context.Context, laneID string, limit int) ([]Lane, error) {
	query := fmt.Sprintf(`
		SELECT l.lane_id, l.road_id, ST_AsText(l.geom), ST_Length(l.geom::geography)
		FROM %s a
		JOIN %s l ON l.lane_id = a.lane_id
		WHERE a.next_lane_id = $1
		ORDER BY l.lane_id
		LIMIT %d`, s.tables.LaneAdjacency, s.tables.Lanes, limit)
	return s.queryLanes(ctx, "prev_lanes", query, laneID)
}

func (s *SQLStore) Roads(ctx context.Context, roadIDs []string) ([]Road, error) {
	const op = "roads"
	if len(roadIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT road_id, COALESCE(name, '')
		FROM %s
		WHERE road_id = ANY($1)
		ORDER BY road_id`, s.tables.Roads)

	rows, err := s.db.QueryContext(ctx, query, roadIDs)
	if err != nil {
		return nil, classifyErr(ctx, op, 0, err)
	}
	defer rows.Close()

	var out []Road
	for rows.Next() {
		var r Road
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, classifyErr(ctx, op, 0, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(ctx, op, 0, err)
	}
	return out, nil
}

func (s *SQLStore) queryLanes(ctx context.Context, op, query string, arg interface{}) ([]Lane, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, classifyErr(ctx, op, 0, err)
	}
	defer rows.Close()

	var lanes []Lane
	for rows.Next() {
		var (
			lane Lane
			wkt  string
		)
		if err := rows.Scan(&lane.ID, &lane.RoadID, &wkt, &lane.LengthM); err != nil {
			return nil, classifyErr(ctx, op, 0, err)
		}
		if lane.Geom, err = geom.ParseLineString(wkt); err != nil {
			return nil, &QueryError{Op: op, Err: fmt.Errorf("lane %s: %w", lane.ID, err)}
		}
		lanes = append(lanes, lane)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(ctx, op, 0, err)
	}
	return lanes, nil
}
