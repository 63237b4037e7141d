// Package config loads the service configuration from a YAML file. Analysis
// tuning fields are pointers so partial configs are safe: omitted fields keep
// their defaults, and the same file can be reused across environments that
// only override a value or two.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/trajectory.report/internal/analysis"
	"github.com/banshee-data/trajectory.report/internal/roadgraph"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RoadGraph RoadGraphConfig `yaml:"road_graph"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Batch     BatchConfig     `yaml:"batch"`
}

type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	EnableAdmin bool   `yaml:"enable_admin"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type RoadGraphConfig struct {
	// DSN is required for modes that query the road graph; migrate and
	// serve-only deployments may omit it.
	DSN    string       `yaml:"dsn"`
	Tables TablesConfig `yaml:"tables"`
	Pool   PoolConfig   `yaml:"pool"`
}

type TablesConfig struct {
	Lanes         string `yaml:"lanes"`
	Intersections string `yaml:"intersections"`
	LaneAdjacency string `yaml:"lane_adjacency"`
	Roads         string `yaml:"roads"`
}

type PoolConfig struct {
	Size            *int `yaml:"size" validate:"omitempty,gt=0"`
	Overflow        *int `yaml:"overflow" validate:"omitempty,gte=0"`
	RecycleS        *int `yaml:"recycle_seconds" validate:"omitempty,gt=0"`
	ConnectTimeoutS *int `yaml:"connect_timeout_seconds" validate:"omitempty,gt=0"`
}

type AnalysisConfig struct {
	BufferDistanceM          *float64 `yaml:"buffer_distance_m" validate:"omitempty,gt=0"`
	ForwardChainLimitM       *float64 `yaml:"forward_chain_limit_m" validate:"omitempty,gt=0"`
	BackwardChainLimitM      *float64 `yaml:"backward_chain_limit_m" validate:"omitempty,gt=0"`
	MaxRecursionDepth        *int     `yaml:"max_recursion_depth" validate:"omitempty,gt=0"`
	MaxLanesPerQuery         *int     `yaml:"max_lanes_per_query" validate:"omitempty,gt=0"`
	MaxIntersectionsPerQuery *int     `yaml:"max_intersections_per_query" validate:"omitempty,gt=0"`
	MaxForwardChains         *int     `yaml:"max_forward_chains" validate:"omitempty,gt=0"`
	MaxBackwardChains        *int     `yaml:"max_backward_chains" validate:"omitempty,gt=0"`
	QueryTimeoutS            *int     `yaml:"query_timeout_seconds" validate:"omitempty,gt=0"`
	RecursiveQueryTimeoutS   *int     `yaml:"recursive_query_timeout_seconds" validate:"omitempty,gt=0"`
}

type BatchConfig struct {
	Parallelism *int   `yaml:"parallelism" validate:"omitempty,gt=0"`
	Table       string `yaml:"table"`
	IDColumn    string `yaml:"id_column"`
	GeomColumn  string `yaml:"geom_column"`
}

// Load reads and validates a config file. Unknown keys are rejected so a
// typoed field name fails loudly instead of silently keeping its default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given. The road
// graph DSN has no default and must come from a file or flag.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "trajectory.db"
	}
	if c.Database.MigrationsDir == "" {
		c.Database.MigrationsDir = "migrations"
	}
	if c.Batch.Table == "" {
		c.Batch.Table = "trajectories"
	}
	if c.Batch.IDColumn == "" {
		c.Batch.IDColumn = "trajectory_id"
	}
	if c.Batch.GeomColumn == "" {
		c.Batch.GeomColumn = "geom_wkt"
	}
}

// Params materializes the analysis tuning, falling back to DefaultParams for
// omitted fields.
func (c AnalysisConfig) Params() analysis.Params {
	p := analysis.DefaultParams()
	if c.BufferDistanceM != nil {
		p.BufferDistanceM = *c.BufferDistanceM
	}
	if c.ForwardChainLimitM != nil {
		p.ForwardChainLimitM = *c.ForwardChainLimitM
	}
	if c.BackwardChainLimitM != nil {
		p.BackwardChainLimitM = *c.BackwardChainLimitM
	}
	if c.MaxRecursionDepth != nil {
		p.MaxRecursionDepth = *c.MaxRecursionDepth
	}
	if c.MaxLanesPerQuery != nil {
		p.MaxLanesPerQuery = *c.MaxLanesPerQuery
	}
	if c.MaxIntersectionsPerQuery != nil {
		p.MaxIntersectionsPerQuery = *c.MaxIntersectionsPerQuery
	}
	if c.MaxForwardChains != nil {
		p.MaxForwardChains = *c.MaxForwardChains
	}
	if c.MaxBackwardChains != nil {
		p.MaxBackwardChains = *c.MaxBackwardChains
	}
	if c.QueryTimeoutS != nil {
		p.QueryTimeout = time.Duration(*c.QueryTimeoutS) * time.Second
	}
	if c.RecursiveQueryTimeoutS != nil {
		p.RecursiveQueryTimeout = time.Duration(*c.RecursiveQueryTimeoutS) * time.Second
	}
	return p
}

// TableNames materializes the remote table names, falling back to the
// conventional warehouse names for omitted fields.
func (c TablesConfig) TableNames() roadgraph.TableNames {
	t := roadgraph.DefaultTableNames()
	if c.Lanes != "" {
		t.Lanes = c.Lanes
	}
	if c.Intersections != "" {
		t.Intersections = c.Intersections
	}
	if c.LaneAdjacency != "" {
		t.LaneAdjacency = c.LaneAdjacency
	}
	if c.Roads != "" {
		t.Roads = c.Roads
	}
	return t
}

// PoolConfig materializes the remote pool limits; zero values defer to the
// store's own defaults.
func (c PoolConfig) PoolConfig() roadgraph.PoolConfig {
	var p roadgraph.PoolConfig
	if c.Size != nil {
		p.Size = *c.Size
	}
	if c.Overflow != nil {
		p.Overflow = *c.Overflow
	}
	if c.RecycleS != nil {
		p.Recycle = time.Duration(*c.RecycleS) * time.Second
	}
	if c.ConnectTimeoutS != nil {
		p.ConnectTimeout = time.Duration(*c.ConnectTimeoutS) * time.Second
	}
	return p
}

// Workers returns the batch worker count, defaulting to 4.
func (c BatchConfig) Workers() int {
	if c.Parallelism != nil {
		return *c.Parallelism
	}
	return 4
}
