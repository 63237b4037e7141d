package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/trajectory.report/internal/analysis"
	"github.com/banshee-data/trajectory.report/internal/geom"
)

// timeFormat is how timestamps are stored; RFC3339Nano keeps lexical order
// equal to chronological order.
const timeFormat = time.RFC3339Nano

// SaveAnalysis writes one analysis and all of its rows in a single
// transaction. An empty analysis id is filled with a fresh UUID. Implements
// analysis.Persister.
func (db *DB) SaveAnalysis(ctx context.Context, a *analysis.Analysis) error {
	if a.AnalysisID == "" {
		a.AnalysisID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	created := a.CreatedAt.UTC().Format(timeFormat)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trajectory_analyses (analysis_id, trajectory_id, original_trajectory_geom, buffer_trajectory_geom, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.AnalysisID, a.TrajectoryID,
		geom.FormatLineString(a.Trajectory), geom.FormatPolygon(a.Buffer), created)
	if err != nil {
		return persistence("insert analysis", err)
	}

	laneStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO analysis_lanes (analysis_id, lane_id, lane_type, road_id, distance_from_trajectory, chain_depth, geometry, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return persistence("prepare lanes", err)
	}
	defer laneStmt.Close()
	for _, lane := range a.Lanes {
		var laneGeom sql.NullString
		if len(lane.Geom) > 0 {
			laneGeom = sql.NullString{String: geom.FormatLineString(lane.Geom), Valid: true}
		}
		_, err := laneStmt.ExecContext(ctx,
			a.AnalysisID, lane.LaneID, lane.Category.String(),
			nullString(lane.RoadID), nullFloat(lane.DistanceFromTrajectory), nullInt(lane.ChainDepth),
			laneGeom, created)
		if err != nil {
			return persistence(fmt.Sprintf("insert lane %s", lane.LaneID), err)
		}
	}

	for _, in := range a.Intersections {
		var inGeom sql.NullString
		if len(in.Geom.Exterior) > 0 {
			inGeom = sql.NullString{String: geom.FormatPolygon(in.Geom), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO analysis_intersections (analysis_id, intersection_id, intersection_type, intersection_subtype, geometry, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.AnalysisID, in.IntersectionID, nullString(in.Type), nullString(in.Subtype), inGeom, created)
		if err != nil {
			return persistence(fmt.Sprintf("insert intersection %s", in.IntersectionID), err)
		}
	}

	for _, road := range a.Roads {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO analysis_roads (analysis_id, road_id, road_name, lane_count, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			a.AnalysisID, road.RoadID, nullString(road.Name), road.LaneCount, created)
		if err != nil {
			return persistence(fmt.Sprintf("insert road %s", road.RoadID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}
	return nil
}

// GetAnalysis loads one analysis with all of its lanes, intersections, and
// roads. Returns ErrNotFound for an unknown id.
func (db *DB) GetAnalysis(ctx context.Context, analysisID string) (*analysis.Analysis, error) {
	var a analysis.Analysis
	var trajWKT, bufWKT, created string
	err := db.QueryRowContext(ctx, `
		SELECT analysis_id, trajectory_id, original_trajectory_geom, buffer_trajectory_geom, created_at
		FROM trajectory_analyses WHERE analysis_id = ?`, analysisID).
		Scan(&a.AnalysisID, &a.TrajectoryID, &trajWKT, &bufWKT, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistence("select analysis", err)
	}
	if a.Trajectory, err = geom.ParseLineString(trajWKT); err != nil {
		return nil, persistence("decode trajectory geometry", err)
	}
	if a.Buffer, err = geom.ParsePolygon(bufWKT); err != nil {
		return nil, persistence("decode buffer geometry", err)
	}
	if a.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
		return nil, persistence("decode created_at", err)
	}

	if a.Lanes, err = db.analysisLanes(ctx, analysisID); err != nil {
		return nil, err
	}
	if a.Intersections, err = db.analysisIntersections(ctx, analysisID); err != nil {
		return nil, err
	}
	if a.Roads, err = db.analysisRoads(ctx, analysisID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (db *DB) analysisLanes(ctx context.Context, analysisID string) ([]analysis.LaneRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT lane_id, lane_type, road_id, distance_from_trajectory, chain_depth, geometry
		FROM analysis_lanes WHERE analysis_id = ? ORDER BY lane_id`, analysisID)
	if err != nil {
		return nil, persistence("select lanes", err)
	}
	defer rows.Close()

	var lanes []analysis.LaneRecord
	for rows.Next() {
		var rec analysis.LaneRecord
		var laneType string
		var roadID, laneGeom sql.NullString
		var dist sql.NullFloat64
		var depth sql.NullInt64
		if err := rows.Scan(&rec.LaneID, &laneType, &roadID, &dist, &depth, &laneGeom); err != nil {
			return nil, persistence("scan lane", err)
		}
		if rec.Category, err = analysis.ParseLaneCategory(laneType); err != nil {
			return nil, persistence("decode lane type", err)
		}
		rec.RoadID = roadID.String
		if dist.Valid {
			d := dist.Float64
			rec.DistanceFromTrajectory = &d
		}
		if depth.Valid {
			d := int(depth.Int64)
			rec.ChainDepth = &d
		}
		if laneGeom.Valid {
			if rec.Geom, err = geom.ParseLineString(laneGeom.String); err != nil {
				return nil, persistence("decode lane geometry", err)
			}
		}
		lanes = append(lanes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate lanes", err)
	}
	return lanes, nil
}

func (db *DB) analysisIntersections(ctx context.Context, analysisID string) ([]analysis.IntersectionRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT intersection_id, intersection_type, intersection_subtype, geometry
		FROM analysis_intersections WHERE analysis_id = ? ORDER BY intersection_id`, analysisID)
	if err != nil {
		return nil, persistence("select intersections", err)
	}
	defer rows.Close()

	var out []analysis.IntersectionRecord
	for rows.Next() {
		var rec analysis.IntersectionRecord
		var inType, inSubtype, inGeom sql.NullString
		if err := rows.Scan(&rec.IntersectionID, &inType, &inSubtype, &inGeom); err != nil {
			return nil, persistence("scan intersection", err)
		}
		rec.Type = inType.String
		rec.Subtype = inSubtype.String
		if inGeom.Valid {
			if rec.Geom, err = geom.ParsePolygon(inGeom.String); err != nil {
				return nil, persistence("decode intersection geometry", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate intersections", err)
	}
	return out, nil
}

func (db *DB) analysisRoads(ctx context.Context, analysisID string) ([]analysis.RoadRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT road_id, road_name, lane_count
		FROM analysis_roads WHERE analysis_id = ? ORDER BY road_id`, analysisID)
	if err != nil {
		return nil, persistence("select roads", err)
	}
	defer rows.Close()

	var out []analysis.RoadRecord
	for rows.Next() {
		var rec analysis.RoadRecord
		var name sql.NullString
		if err := rows.Scan(&rec.RoadID, &name, &rec.LaneCount); err != nil {
			return nil, persistence("scan road", err)
		}
		rec.Name = name.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate roads", err)
	}
	return out, nil
}

// GetSummary computes the counts-only view of one analysis with grouped
// queries, without materializing its geometry.
func (db *DB) GetSummary(ctx context.Context, analysisID string) (analysis.Summary, error) {
	var s analysis.Summary
	var created string
	err := db.QueryRowContext(ctx,
		`SELECT created_at FROM trajectory_analyses WHERE analysis_id = ?`, analysisID).Scan(&created)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, persistence("select analysis", err)
	}
	if s.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
		return s, persistence("decode created_at", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT lane_type, COUNT(*) FROM analysis_lanes
		WHERE analysis_id = ? GROUP BY lane_type`, analysisID)
	if err != nil {
		return s, persistence("count lanes", err)
	}
	defer rows.Close()
	for rows.Next() {
		var laneType string
		var count int
		if err := rows.Scan(&laneType, &count); err != nil {
			return s, persistence("scan lane count", err)
		}
		cat, err := analysis.ParseLaneCategory(laneType)
		if err != nil {
			return s, persistence("decode lane type", err)
		}
		switch cat {
		case analysis.CategoryDirectIntersect:
			s.DirectIntersectCount = count
		case analysis.CategoryIntersectionRelated:
			s.IntersectionRelatedCount = count
		case analysis.CategoryRoadRelated:
			s.RoadRelatedCount = count
		case analysis.CategoryChainForward:
			s.ChainForwardCount = count
		case analysis.CategoryChainBackward:
			s.ChainBackwardCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return s, persistence("iterate lane counts", err)
	}

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analysis_intersections WHERE analysis_id = ?`, analysisID).Scan(&s.IntersectionCount)
	if err != nil {
		return s, persistence("count intersections", err)
	}
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analysis_roads WHERE analysis_id = ?`, analysisID).Scan(&s.RoadCount)
	if err != nil {
		return s, persistence("count roads", err)
	}
	return s, nil
}

// AnalysisMeta is one row of the analysis listing.
type AnalysisMeta struct {
	AnalysisID   string    `json:"analysis_id"`
	TrajectoryID string    `json:"trajectory_id"`
	LaneCount    int       `json:"lane_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListAnalyses returns analyses ordered newest first. trajectoryID filters
// when non-empty; limit caps the page size (default 100).
func (db *DB) ListAnalyses(ctx context.Context, trajectoryID string, limit int) ([]AnalysisMeta, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT a.analysis_id, a.trajectory_id, a.created_at,
		       (SELECT COUNT(*) FROM analysis_lanes l WHERE l.analysis_id = a.analysis_id)
		FROM trajectory_analyses a`
	args := []interface{}{}
	if trajectoryID != "" {
		query += ` WHERE a.trajectory_id = ?`
		args = append(args, trajectoryID)
	}
	query += ` ORDER BY a.created_at DESC, a.analysis_id LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence("list analyses", err)
	}
	defer rows.Close()

	var out []AnalysisMeta
	for rows.Next() {
		var meta AnalysisMeta
		var created string
		if err := rows.Scan(&meta.AnalysisID, &meta.TrajectoryID, &created, &meta.LaneCount); err != nil {
			return nil, persistence("scan analysis row", err)
		}
		if meta.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
			return nil, persistence("decode created_at", err)
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate analyses", err)
	}
	return out, nil
}

// DeleteAnalysis removes one analysis; the lane, intersection, and road rows
// cascade. Returns ErrNotFound for an unknown id.
func (db *DB) DeleteAnalysis(ctx context.Context, analysisID string) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM trajectory_analyses WHERE analysis_id = ?`, analysisID)
	if err != nil {
		return persistence("delete analysis", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistence("delete analysis", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
