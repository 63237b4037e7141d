package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, `
road_graph:
  dsn: postgres://warehouse/roads
analysis:
  buffer_distance_m: 5.0
  max_forward_chains: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	p := cfg.Analysis.Params()
	if p.BufferDistanceM != 5.0 {
		t.Errorf("buffer distance = %v, want 5.0", p.BufferDistanceM)
	}
	if p.MaxForwardChains != 50 {
		t.Errorf("max forward chains = %d, want 50", p.MaxForwardChains)
	}
	// Omitted fields keep their defaults.
	if p.ForwardChainLimitM != 500 {
		t.Errorf("forward chain limit = %v, want default 500", p.ForwardChainLimitM)
	}
	if p.QueryTimeout != 60*time.Second {
		t.Errorf("query timeout = %v, want default 60s", p.QueryTimeout)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q, want default :8080", cfg.Server.ListenAddr)
	}
	if cfg.Database.Path != "trajectory.db" {
		t.Errorf("db path = %q, want default", cfg.Database.Path)
	}
	if cfg.RoadGraph.DSN != "postgres://warehouse/roads" {
		t.Errorf("dsn = %q", cfg.RoadGraph.DSN)
	}
}

func TestLoadTableAndPoolOverrides(t *testing.T) {
	path := writeConfig(t, `
road_graph:
  dsn: postgres://warehouse/roads
  tables:
    lanes: custom.lanes
  pool:
    size: 8
    recycle_seconds: 600
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tables := cfg.RoadGraph.Tables.TableNames()
	if tables.Lanes != "custom.lanes" {
		t.Errorf("lanes table = %q", tables.Lanes)
	}
	if tables.Roads != "road_graph.roads" {
		t.Errorf("roads table = %q, want default", tables.Roads)
	}

	pool := cfg.RoadGraph.Pool.PoolConfig()
	if pool.Size != 8 {
		t.Errorf("pool size = %d, want 8", pool.Size)
	}
	if pool.Recycle != 10*time.Minute {
		t.Errorf("pool recycle = %v, want 10m", pool.Recycle)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
analysis:
  bufer_distance_m: 5.0
`)
	if _, err := Load(path); err == nil {
		t.Fatal("typoed key should fail loudly")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
analysis:
  max_recursion_depth: -1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("negative depth should fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("missing file should error")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Batch.Table != "trajectories" || cfg.Batch.Workers() != 4 {
		t.Errorf("batch defaults = %+v workers %d", cfg.Batch, cfg.Batch.Workers())
	}
	if err := cfg.Analysis.Params().Validate(); err != nil {
		t.Errorf("default params should validate: %v", err)
	}
}
