package retrieval

import (
	"fmt"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/core"
)

const (
	highSimilarity    = 0.95
	highSuccessRate   = 0.80
	highMaxAge        = 14 * 24 * time.Hour
	mediumSuccessRate = 0.50
	lowSimilarity     = 0.70
)

// Calculator assigns confidence tiers from similarity plus outcome
// statistics. The computation is pure but sits on the retrieval hot
// path, so results are memoized per (episode, similarity bucket) with
// a short TTL.
type Calculator struct {
	cfg  *config.RetrievalConfig
	memo *gocache.Cache
}

func NewCalculator(cfg *config.RetrievalConfig) *Calculator {
	return &Calculator{
		cfg:  cfg,
		memo: gocache.New(cfg.ConfidenceTTL, 2*cfg.ConfidenceTTL),
	}
}

// Confidence buckets a candidate. effectiveThreshold is the category
// threshold the medium tier is anchored to.
func (c *Calculator) Confidence(ep core.Episode, similarity, effectiveThreshold float64, stats core.EpisodeStats, now time.Time) core.ConfidenceTier {
	key := fmt.Sprintf("%s:%.2f:%d", ep.ID, similarity, stats.OutcomeCount)
	if cached, ok := c.memo.Get(key); ok {
		return cached.(core.ConfidenceTier)
	}

	tier := c.compute(ep, similarity, effectiveThreshold, stats, now)
	c.memo.Set(key, tier, gocache.DefaultExpiration)
	return tier
}

func (c *Calculator) compute(ep core.Episode, similarity, effectiveThreshold float64, stats core.EpisodeStats, now time.Time) core.ConfidenceTier {
	rate := 0.0
	if stats.SuccessRate != nil {
		rate = *stats.SuccessRate
	}

	// HIGH demands the minimum sample count; two perfect outcomes are
	// not enough evidence.
	if similarity >= highSimilarity &&
		stats.OutcomeCount >= core.MinOutcomeSamples &&
		rate >= highSuccessRate &&
		now.Sub(ep.CreatedAt) < highMaxAge {
		return core.ConfidenceHigh
	}

	if similarity >= effectiveThreshold &&
		(stats.OutcomeCount < core.MinOutcomeSamples || rate >= mediumSuccessRate) {
		return core.ConfidenceMedium
	}

	return core.ConfidenceLow
}

// Annotate attaches confidence tiers and negative-example handling to
// retrieval results, then re-sorts by the deprioritized score. An
// episode with a failing track record gets a warning and a
// multiplier, never silent suppression.
func (c *Calculator) Annotate(results []core.RetrievedEpisode, statsFor func(episodeID string) core.EpisodeStats, effectiveThreshold float64, now time.Time) []core.RetrievedEpisode {
	type scored struct {
		result core.RetrievedEpisode
		rank   float64
	}

	scoredResults := make([]scored, 0, len(results))
	for _, res := range results {
		stats := statsFor(res.Episode.ID)
		res.Confidence = c.Confidence(res.Episode, res.Similarity, effectiveThreshold, stats, now)

		rank := res.Similarity
		if stats.OutcomeCount >= core.MinOutcomeSamples && stats.SuccessRate != nil && *stats.SuccessRate < mediumSuccessRate {
			res.Warning = fmt.Sprintf("episode failed %d of %d reuse attempts", stats.FailureCount, stats.OutcomeCount)
			res.Deprioritized = true
			rank *= c.cfg.NegativeMultiplier
		}
		scoredResults = append(scoredResults, scored{result: res, rank: rank})
	}

	// Stable so equal ranks keep similarity order.
	sort.SliceStable(scoredResults, func(i, j int) bool {
		return scoredResults[i].rank > scoredResults[j].rank
	})

	out := make([]core.RetrievedEpisode, len(scoredResults))
	for i, s := range scoredResults {
		out[i] = s.result
	}
	return out
}
