package analysis

import "sort"

// CategorySets holds the raw, possibly-overlapping per-category lane sets
// produced by the pipeline stages before deduplication.
type CategorySets struct {
	Direct              []LaneRecord
	IntersectionRelated []LaneRecord
	RoadRelated         []LaneRecord
	ChainForward        []LaneRecord
	ChainBackward       []LaneRecord
}

// AggregateLanes merges the category sets into the final lane assignment.
// Pure and deterministic: categories are applied in priority order
// (direct > intersection-related > road-related > chain-forward >
// chain-backward), within a category lanes are ordered by id, the first
// writer wins, and no field of an accepted record is ever overwritten.
// Running it twice on the same inputs, in any input order, yields the same
// result.
func AggregateLanes(sets CategorySets) []LaneRecord {
	groups := [][]LaneRecord{
		sets.Direct,
		sets.IntersectionRelated,
		sets.RoadRelated,
		sets.ChainForward,
		sets.ChainBackward,
	}

	seen := make(map[string]bool)
	var out []LaneRecord
	for _, group := range groups {
		ordered := append([]LaneRecord(nil), group...)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].LaneID < ordered[j].LaneID })
		for _, rec := range ordered {
			if seen[rec.LaneID] {
				continue
			}
			seen[rec.LaneID] = true
			out = append(out, rec)
		}
	}
	return out
}

// CollectRoads groups the final lane set by road id and counts lanes per
// road, ordered by road id. Lanes without a road id are skipped.
func CollectRoads(lanes []LaneRecord) []RoadRecord {
	counts := make(map[string]int)
	for _, lane := range lanes {
		if lane.RoadID == "" {
			continue
		}
		counts[lane.RoadID]++
	}
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]RoadRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, RoadRecord{RoadID: id, LaneCount: counts[id]})
	}
	return out
}
