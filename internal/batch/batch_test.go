package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/trajectory.report/internal/analysis"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []string
	failID  string
	block   chan struct{}
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, id, wkt string) (*analysis.Result, error) {
	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if cur <= prev || f.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	if id == f.failID {
		return nil, fmt.Errorf("analysis of %s: bad geometry", id)
	}
	return &analysis.Result{AnalysisID: "a-" + id, Degraded: id == "slow"}, nil
}

func sliceOf(ids ...string) SliceSource {
	var s SliceSource
	for _, id := range ids {
		s = append(s, Trajectory{ID: id, WKT: "LINESTRING (0 0, 1 1)"})
	}
	return s
}

func TestRunRecordsPerTrajectoryOutcomes(t *testing.T) {
	fa := &fakeAnalyzer{failID: "t2"}
	d, err := NewDriver(fa, sliceOf("t1", "t2", "t3", "slow"), 2)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}

	outcomes, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("got %d outcomes", len(outcomes))
	}

	byID := map[string]Outcome{}
	for _, o := range outcomes {
		byID[o.TrajectoryID] = o
	}
	if byID["t1"].AnalysisID != "a-t1" || byID["t1"].Err != nil {
		t.Errorf("t1 outcome = %+v", byID["t1"])
	}
	if byID["t2"].Err == nil || byID["t2"].AnalysisID != "" {
		t.Errorf("failed trajectory should carry its error and no id, got %+v", byID["t2"])
	}
	if !byID["slow"].Degraded {
		t.Errorf("degraded flag should pass through, got %+v", byID["slow"])
	}

	// Outcomes keep source order.
	if outcomes[0].TrajectoryID != "t1" || outcomes[3].TrajectoryID != "slow" {
		t.Errorf("outcome order = %+v", outcomes)
	}
}

func TestRunBoundsParallelism(t *testing.T) {
	fa := &fakeAnalyzer{}
	d, err := NewDriver(fa, sliceOf("a", "b", "c", "d", "e", "f"), 2)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if max := fa.maxSeen.Load(); max > 2 {
		t.Errorf("observed %d concurrent analyses, limit is 2", max)
	}
}

func TestRunCancellation(t *testing.T) {
	fa := &fakeAnalyzer{block: make(chan struct{})}
	d, err := NewDriver(fa, sliceOf("a", "b", "c"), 2)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Run(ctx)
		done <- err
	}()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestNewDriverValidation(t *testing.T) {
	if _, err := NewDriver(nil, sliceOf("a"), 1); err == nil {
		t.Error("nil analyzer should be rejected")
	}
	d, err := NewDriver(&fakeAnalyzer{}, sliceOf("a"), 0)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if d.Parallelism != 4 {
		t.Errorf("default parallelism = %d, want 4", d.Parallelism)
	}
}

func TestSQLSource(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "batch.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE trajectories (trajectory_id TEXT, geom_wkt TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := db.Exec(`INSERT INTO trajectories VALUES (?, ?)`,
			fmt.Sprintf("t%d", i), "LINESTRING (0 0, 1 1)"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	src, err := NewSQLSource(db, "trajectories", "trajectory_id", "geom_wkt")
	if err != nil {
		t.Fatalf("NewSQLSource: %v", err)
	}
	got, err := src.Trajectories(context.Background())
	if err != nil {
		t.Fatalf("Trajectories: %v", err)
	}
	if len(got) != 3 || got[0].ID != "t0" || got[2].WKT != "LINESTRING (0 0, 1 1)" {
		t.Errorf("trajectories = %+v", got)
	}

	src.Limit = 2
	got, err = src.Trajectories(context.Background())
	if err != nil {
		t.Fatalf("Trajectories with limit: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("limit 2 returned %d rows", len(got))
	}
}

func TestNewSQLSourceRejectsBadIdentifiers(t *testing.T) {
	if _, err := NewSQLSource(nil, "trajectories; DROP TABLE x", "id", "geom"); err == nil {
		t.Error("expected error for injected table name")
	}
}
