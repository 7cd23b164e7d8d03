package dedup

import (
	"log/slog"

	"github.com/omnisource/ingest/internal/source"
	"github.com/omnisource/ingest/pkg/config"
)

// Engine filters duplicates within one merged batch. It is stateless across
// calls; the fingerprint working set lives only for a single Deduplicate.
type Engine struct {
	threshold   float64
	shingleSize int
	logger      *slog.Logger
}

// Stats reports what one dedup pass dropped.
type Stats struct {
	ExactDropped int
	NearDropped  int
}

// New creates an Engine from config. A threshold of 1.0 disables
// near-duplicate matching and keeps only exact-digest filtering.
func New(cfg config.DedupConfig) *Engine {
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = 1.0
	}
	return &Engine{
		threshold:   threshold,
		shingleSize: cfg.ShingleSize,
		logger:      slog.Default().With("component", "dedup-engine"),
	}
}

// Deduplicate returns the batch with exact and near-duplicates removed. Order
// is preserved among survivors; when a duplicate pair is resolved, the
// higher-scored instance survives at the earlier instance's position, and on
// a score tie the earlier-arriving instance wins. The operation is
// idempotent.
func (e *Engine) Deduplicate(results []source.Result) []source.Result {
	out, _ := e.Run(results)
	return out
}

// Run is Deduplicate with drop statistics for observability.
func (e *Engine) Run(results []source.Result) ([]source.Result, Stats) {
	var stats Stats
	if len(results) <= 1 {
		return results, stats
	}

	type kept struct {
		fp  Fingerprint
		idx int // position in out
	}
	out := make([]source.Result, 0, len(results))
	seen := make([]kept, 0, len(results))

	for _, r := range results {
		fp := Compute(fingerprintText(r), e.shingleSize)

		matched := -1
		exact := false
		for j := range seen {
			if seen[j].fp.Digest == fp.Digest {
				matched = j
				exact = true
				break
			}
			if e.threshold < 1.0 && Similarity(seen[j].fp.SimHash, fp.SimHash) >= e.threshold {
				matched = j
				break
			}
		}

		if matched < 0 {
			seen = append(seen, kept{fp: fp, idx: len(out)})
			out = append(out, r)
			continue
		}

		if exact {
			stats.ExactDropped++
		} else {
			stats.NearDropped++
		}
		// Higher score wins; the earlier arrival keeps its slot on a tie.
		// The winner's fingerprint replaces the loser's so the working set
		// always describes the surviving instance.
		if r.Score > out[seen[matched].idx].Score {
			out[seen[matched].idx] = r
			seen[matched].fp = fp
		}
	}

	if stats.ExactDropped+stats.NearDropped > 0 {
		e.logger.Debug("duplicates dropped",
			"exact", stats.ExactDropped,
			"near", stats.NearDropped,
			"survivors", len(out),
		)
	}
	return out, stats
}

// fingerprintText picks the textual content that identifies a result. The
// URL is deliberately excluded: the same article syndicated under different
// URLs must still collide.
func fingerprintText(r source.Result) string {
	if r.Excerpt == "" {
		return r.Title
	}
	return r.Title + " " + r.Excerpt
}
