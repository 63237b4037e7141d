// Package batch drives analyses over a whole set of trajectories. Failures
// are per-trajectory: one bad geometry or one timed-out warehouse query is
// recorded in its outcome and the rest of the batch keeps going. Only caller
// cancellation stops the run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/trajectory.report/internal/analysis"
	"github.com/banshee-data/trajectory.report/internal/monitoring"
)

// Trajectory is one unit of batch input: an external id and its WKT
// LINESTRING geometry.
type Trajectory struct {
	ID  string
	WKT string
}

// Source supplies the trajectories of one batch run.
type Source interface {
	Trajectories(ctx context.Context) ([]Trajectory, error)
}

// SliceSource is an in-memory Source.
type SliceSource []Trajectory

func (s SliceSource) Trajectories(ctx context.Context) ([]Trajectory, error) {
	return s, nil
}

// Analyzer runs one trajectory analysis. *analysis.Engine satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, trajectoryID, trajectoryWKT string) (*analysis.Result, error)
}

// Outcome is the per-trajectory result of a batch run. Err is set and
// AnalysisID empty when the trajectory failed.
type Outcome struct {
	TrajectoryID string
	AnalysisID   string
	Degraded     bool
	Err          error
}

// Driver fans a batch of trajectories over a bounded worker set.
type Driver struct {
	Analyzer    Analyzer
	Source      Source
	Parallelism int

	logf func(format string, v ...interface{})
}

// NewDriver builds a batch driver. parallelism <= 0 means 4 workers.
func NewDriver(analyzer Analyzer, source Source, parallelism int) (*Driver, error) {
	if analyzer == nil || source == nil {
		return nil, fmt.Errorf("analyzer and source are required")
	}
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Driver{
		Analyzer:    analyzer,
		Source:      source,
		Parallelism: parallelism,
		logf:        monitoring.Scoped("batch"),
	}, nil
}

// Run processes every trajectory from the source and returns one outcome per
// trajectory, in source order. The returned error is non-nil only when the
// source fails or the context is cancelled; analysis failures live in the
// outcomes.
func (d *Driver) Run(ctx context.Context) ([]Outcome, error) {
	start := time.Now()
	trajectories, err := d.Source.Trajectories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load batch input: %w", err)
	}

	outcomes := make([]Outcome, len(trajectories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.Parallelism)
	for i, traj := range trajectories {
		g.Go(func() error {
			res, err := d.Analyzer.Analyze(gctx, traj.ID, traj.WKT)
			if err != nil {
				if errors.Is(err, context.Canceled) || gctx.Err() != nil {
					return err
				}
				outcomes[i] = Outcome{TrajectoryID: traj.ID, Err: err}
				return nil
			}
			outcomes[i] = Outcome{
				TrajectoryID: traj.ID,
				AnalysisID:   res.AnalysisID,
				Degraded:     res.Degraded,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var failed, degraded int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
		if o.Degraded {
			degraded++
		}
	}
	d.logf("processed %d trajectories in %s (%d failed, %d degraded)",
		len(outcomes), time.Since(start).Round(time.Millisecond), failed, degraded)
	return outcomes, nil
}
