package analysis

import (
	"fmt"
	"time"
)

// Params is the complete, immutable tuning surface of one analysis run.
// Concurrent analyses with different settings never interfere because every
// run carries its own copy.
type Params struct {
	// BufferDistanceM inflates the trajectory into its search region.
	BufferDistanceM float64

	// Chain traversal distance budgets, meters.
	ForwardChainLimitM  float64
	BackwardChainLimitM float64

	// MaxRecursionDepth caps traversal hops from the nearest seed.
	MaxRecursionDepth int

	// Per-query row caps against the remote store.
	MaxLanesPerQuery         int
	MaxIntersectionsPerQuery int

	// Per-direction result-count caps for chain traversal.
	MaxForwardChains  int
	MaxBackwardChains int

	// QueryTimeout bounds each direct remote query; RecursiveQueryTimeout
	// bounds one whole chain traversal direction.
	QueryTimeout          time.Duration
	RecursiveQueryTimeout time.Duration
}

// DefaultParams returns the standard tuning values.
func DefaultParams() Params {
	return Params{
		BufferDistanceM:          3.0,
		ForwardChainLimitM:       500,
		BackwardChainLimitM:      100,
		MaxRecursionDepth:        50,
		MaxLanesPerQuery:         500,
		MaxIntersectionsPerQuery: 100,
		MaxForwardChains:         200,
		MaxBackwardChains:        100,
		QueryTimeout:             60 * time.Second,
		RecursiveQueryTimeout:    120 * time.Second,
	}
}

// Validate rejects parameter combinations that cannot terminate or cannot
// make progress.
func (p Params) Validate() error {
	if !(p.BufferDistanceM > 0) {
		return fmt.Errorf("buffer_distance must be positive, got %v", p.BufferDistanceM)
	}
	if !(p.ForwardChainLimitM > 0) || !(p.BackwardChainLimitM > 0) {
		return fmt.Errorf("chain limits must be positive, got forward %v backward %v",
			p.ForwardChainLimitM, p.BackwardChainLimitM)
	}
	if p.MaxRecursionDepth <= 0 {
		return fmt.Errorf("max_recursion_depth must be positive, got %d", p.MaxRecursionDepth)
	}
	if p.MaxLanesPerQuery <= 0 || p.MaxIntersectionsPerQuery <= 0 {
		return fmt.Errorf("per-query caps must be positive, got lanes %d intersections %d",
			p.MaxLanesPerQuery, p.MaxIntersectionsPerQuery)
	}
	if p.MaxForwardChains <= 0 || p.MaxBackwardChains <= 0 {
		return fmt.Errorf("chain result caps must be positive, got forward %d backward %d",
			p.MaxForwardChains, p.MaxBackwardChains)
	}
	if p.QueryTimeout <= 0 || p.RecursiveQueryTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive, got query %v recursive %v",
			p.QueryTimeout, p.RecursiveQueryTimeout)
	}
	return nil
}
