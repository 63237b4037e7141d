package batch

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
)

// sourceIdentRe mirrors the road-graph store's identifier check; column and
// table names are interpolated into query text.
var sourceIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLSource reads batch input from a SQL table. The geometry column must
// already hold WKT text (use ST_AsText in a view when the warehouse stores
// native geometry).
type SQLSource struct {
	db         *sql.DB
	table      string
	idColumn   string
	geomColumn string

	// Limit caps the batch size; zero means no cap.
	Limit int
}

// NewSQLSource validates the table and column names up front.
func NewSQLSource(db *sql.DB, table, idColumn, geomColumn string) (*SQLSource, error) {
	for _, name := range []string{table, idColumn, geomColumn} {
		if !sourceIdentRe.MatchString(name) {
			return nil, fmt.Errorf("invalid identifier %q", name)
		}
	}
	return &SQLSource{db: db, table: table, idColumn: idColumn, geomColumn: geomColumn}, nil
}

func (s *SQLSource) Trajectories(ctx context.Context) ([]Trajectory, error) {
	query := fmt.Sprintf(`SELECT %s, %s FROM %s ORDER BY %s`,
		s.idColumn, s.geomColumn, s.table, s.idColumn)
	if s.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, s.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query trajectories: %w", err)
	}
	defer rows.Close()

	var out []Trajectory
	for rows.Next() {
		var t Trajectory
		if err := rows.Scan(&t.ID, &t.WKT); err != nil {
			return nil, fmt.Errorf("scan trajectory: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trajectories: %w", err)
	}
	return out, nil
}
