package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/trajectory.report/internal/roadgraph"
)

// Direction selects which side of the lane-adjacency relation a chain
// traversal walks.
type Direction int

const (
	DirectionForward Direction = iota
	DirectionBackward
)

func (d Direction) String() string {
	if d == DirectionBackward {
		return "backward"
	}
	return "forward"
}

// StopReason records why a chain traversal stopped.
type StopReason string

const (
	// StopExhausted means the frontier drained naturally within every budget.
	StopExhausted StopReason = "exhausted"
	// StopResultCap means the per-direction result cap was reached.
	StopResultCap StopReason = "result_cap"
	// StopTimeout means the traversal time budget expired and the result is
	// the partial set accumulated so far.
	StopTimeout StopReason = "timeout"
)

// TraversalDiag summarizes one chain traversal direction for callers that
// want to understand a partial or heavily pruned result.
type TraversalDiag struct {
	Reason           StopReason `json:"reason"`
	Accepted         int        `json:"accepted"`
	PrunedByDistance int        `json:"pruned_by_distance,omitempty"`
	PrunedByDepth    int        `json:"pruned_by_depth,omitempty"`
}

// chainNode is one frontier entry: a lane together with the accumulated
// distance along the chain that reached it and its hop count from the seed.
type chainNode struct {
	lane  roadgraph.Lane
	depth int
	cumM  float64
}

// walkChain runs a breadth-first traversal of the lane-adjacency relation
// from the seed lanes. Seeds themselves are never emitted; they enter the
// visited set so cycles through the seed region terminate. A candidate's
// accumulated distance is its predecessor's plus its own length, seeds
// counting as zero, and candidates strictly over the distance limit or the
// depth cap are pruned without being visited, leaving them reachable along a
// cheaper path later.
//
// The traversal carries its own time budget. When that budget expires the
// partial result is returned with StopTimeout and a nil error; only caller
// cancellation and store failures abort with an error.
func walkChain(ctx context.Context, store roadgraph.Store, dir Direction, seeds []roadgraph.Lane, limitM float64, p Params) ([]LaneRecord, TraversalDiag, error) {
	budget := p.RecursiveQueryTimeout
	tctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	category := CategoryChainForward
	resultCap := p.MaxForwardChains
	expand := store.NextLanes
	if dir == DirectionBackward {
		category = CategoryChainBackward
		resultCap = p.MaxBackwardChains
		expand = store.PrevLanes
	}

	visited := make(map[string]bool, len(seeds))
	frontier := make([]chainNode, 0, len(seeds))
	for _, seed := range seeds {
		if visited[seed.ID] {
			continue
		}
		visited[seed.ID] = true
		frontier = append(frontier, chainNode{lane: seed, depth: 0, cumM: 0})
	}
	sort.Slice(frontier, func(i, j int) bool { return frontier[i].lane.ID < frontier[j].lane.ID })

	var diag TraversalDiag
	var out []LaneRecord
	for len(frontier) > 0 {
		var next []chainNode
		for _, node := range frontier {
			if len(out) >= resultCap {
				diag.Reason = StopResultCap
				diag.Accepted = len(out)
				return out, diag, nil
			}

			candidates, err := expand(tctx, node.lane.ID, p.MaxLanesPerQuery)
			if err != nil {
				if timedOut(ctx, tctx, err) {
					diag.Reason = StopTimeout
					diag.Accepted = len(out)
					return out, diag, nil
				}
				return nil, diag, fmt.Errorf("%s chain from lane %s: %w", dir, node.lane.ID, err)
			}

			for _, cand := range candidates {
				if visited[cand.ID] {
					continue
				}
				cum := node.cumM + cand.LengthM
				if cum > limitM {
					diag.PrunedByDistance++
					continue
				}
				depth := node.depth + 1
				if depth > p.MaxRecursionDepth {
					diag.PrunedByDepth++
					continue
				}
				if len(out) >= resultCap {
					diag.Reason = StopResultCap
					diag.Accepted = len(out)
					return out, diag, nil
				}
				visited[cand.ID] = true
				d := depth
				out = append(out, LaneRecord{
					LaneID:     cand.ID,
					RoadID:     cand.RoadID,
					Category:   category,
					ChainDepth: &d,
					Geom:       cand.Geom,
				})
				next = append(next, chainNode{lane: cand, depth: depth, cumM: cum})
			}
		}
		frontier = next
	}

	diag.Reason = StopExhausted
	diag.Accepted = len(out)
	return out, diag, nil
}

// timedOut reports whether err means the traversal budget expired rather
// than the caller going away or the store failing outright.
func timedOut(parent, traversal context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	var qt *roadgraph.QueryTimeoutError
	if errors.As(err, &qt) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) && traversal.Err() != nil {
		return true
	}
	return false
}
