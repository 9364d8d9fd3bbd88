package retrieval

import (
	"context"
	"sort"

	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/pkg/log"
)

// Retriever runs all-to-all similarity search: every query chunk
// against every stored chunk of every episode, both the query side and
// the answer side. Embeddings are L2-normalized, so cosine similarity
// reduces to a dot product. An episode scores as its best chunk pair
// across either set and is returned whole; partial chunks are never
// surfaced.
type Retriever struct {
	episodes EpisodeSource
	cfg      *config.RetrievalConfig
}

// EpisodeSource is the corpus the retriever searches over.
type EpisodeSource interface {
	GetAllEpisodes(ctx context.Context) ([]core.Episode, error)
}

func NewRetriever(episodes EpisodeSource, cfg *config.RetrievalConfig) *Retriever {
	return &Retriever{episodes: episodes, cfg: cfg}
}

// Options narrows one retrieval call. Zero values fall back to the
// configured defaults.
type Options struct {
	Threshold  float64
	MaxResults int
}

// Retrieve scores the corpus against the query-chunk embeddings and
// returns episodes at or above the threshold, best first.
func (r *Retriever) Retrieve(ctx context.Context, queryEmbeddings [][]float32, opts Options) ([]core.RetrievedEpisode, error) {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = r.cfg.Threshold
	}
	maxResults := opts.MaxResults
	if maxResults == 0 {
		maxResults = r.cfg.MaxResults
	}

	if len(queryEmbeddings) == 0 {
		return nil, nil
	}

	episodes, err := r.episodes.GetAllEpisodes(ctx)
	if err != nil {
		return nil, err
	}

	var results []core.RetrievedEpisode
	for _, ep := range episodes {
		if ep.Deprecated {
			continue
		}
		score := bestPairSimilarity(queryEmbeddings, ep.QueryEmbeddings)
		if s := bestPairSimilarity(queryEmbeddings, ep.AnswerEmbeddings); s > score {
			score = s
		}
		if score < threshold {
			continue
		}
		results = append(results, core.RetrievedEpisode{
			Episode:    ep,
			Similarity: score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	log.FromCtx(ctx).Debug().
		Int("corpus", len(episodes)).
		Int("results", len(results)).
		Float64("threshold", threshold).
		Msg("retrieval pass complete")
	return results, nil
}

// bestPairSimilarity is the max dot product over the cross product of
// the two chunk sets.
func bestPairSimilarity(query, stored [][]float32) float64 {
	best := -1.0
	for _, q := range query {
		for _, s := range stored {
			if d := dot(q, s); d > best {
				best = d
			}
		}
	}
	return best
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
