package orchestrator

import (
	"sort"

	"github.com/omnisource/ingest/internal/source"
)

// rank orders results by source-native score, highest first, and truncates
// to limit. The sort is stable, so on an exact score tie the earlier-merged
// result (adapter invocation order, then upstream rank) wins, making the
// output deterministic for a fixed adapter set.
func rank(results []source.Result, limit int) []source.Result {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
