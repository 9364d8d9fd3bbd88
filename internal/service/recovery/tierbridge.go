package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/pkg/log"
	"github.com/sandevgo/memctx/pkg/lru"
)

// TierBridge spans the three context storage tiers: Hot is in-memory
// and byte-bounded, Warm and Cold are persistent. Reads check
// Hot -> Warm -> Cold and promote hits into Hot; Hot evictions demote
// into Warm so capacity pressure never loses data.
type TierBridge struct {
	mu   sync.Mutex
	hot  *lru.Cache[string, core.TierItem]
	repo core.TierRepository

	// filled by the eviction callback during a Put, flushed to Warm
	// before the call returns.
	pendingDemotions []core.TierItem

	hotStats  tierCounters
	warmStats tierCounters
	coldStats tierCounters
}

type tierCounters struct {
	hits       uint64
	misses     uint64
	promotions uint64
	demotions  uint64
}

func NewTierBridge(cfg *config.RecoveryConfig, repo core.TierRepository) *TierBridge {
	b := &TierBridge{repo: repo}
	b.hot = lru.New(0,
		lru.WithByteBudget[string, core.TierItem](cfg.HotCapacityBytes, func(item core.TierItem) int {
			return item.SizeBytes
		}),
		lru.WithOnEvict[string, core.TierItem](func(_ string, item core.TierItem) {
			b.pendingDemotions = append(b.pendingDemotions, item)
		}),
	)
	return b
}

// Put writes into the Hot tier, demoting whatever the byte budget
// pushes out into Warm.
func (b *TierBridge) Put(ctx context.Context, key string, data []byte) error {
	item := core.TierItem{
		Key:          key,
		Data:         data,
		SizeBytes:    len(data),
		LastAccessed: time.Now().UTC(),
		AccessCount:  1,
	}

	b.mu.Lock()
	b.pendingDemotions = nil
	b.hot.Put(key, item)
	demoted := b.pendingDemotions
	b.pendingDemotions = nil
	b.hotStats.demotions += uint64(len(demoted))
	b.mu.Unlock()

	for _, d := range demoted {
		if err := b.repo.PutTierItem(ctx, core.TierWarm, d); err != nil {
			return err
		}
		log.FromCtx(ctx).Debug().Str("key", d.Key).Msg("hot tier item demoted to warm")
	}
	return nil
}

// PutWarm and PutCold write directly to a persistent tier, bypassing
// the Hot cache. Used for archival and recovery snapshots.
func (b *TierBridge) PutWarm(ctx context.Context, key string, data []byte) error {
	return b.putPersistent(ctx, core.TierWarm, key, data)
}

func (b *TierBridge) PutCold(ctx context.Context, key string, data []byte) error {
	return b.putPersistent(ctx, core.TierCold, key, data)
}

// PutColdIndexed archives data with an embedding so the semantic
// fallback path can find it when its key is lost.
func (b *TierBridge) PutColdIndexed(ctx context.Context, key string, data []byte, embedding []float32) error {
	return b.repo.PutTierItem(ctx, core.TierCold, core.TierItem{
		Key:          key,
		Data:         data,
		SizeBytes:    len(data),
		Embedding:    embedding,
		LastAccessed: time.Now().UTC(),
		AccessCount:  0,
	})
}

// SearchCold scans the cold tier for the item whose embedding is most
// similar to the query vector, at or above threshold. Embeddings are
// unit vectors, so similarity is a dot product.
func (b *TierBridge) SearchCold(ctx context.Context, query []float32, threshold float64) (core.TierItem, bool, error) {
	keys, err := b.repo.ListTierKeys(ctx, core.TierCold)
	if err != nil {
		return core.TierItem{}, false, err
	}

	var (
		best      core.TierItem
		bestScore = threshold
		found     bool
	)
	for _, key := range keys {
		item, err := b.repo.GetTierItem(ctx, core.TierCold, key)
		if err != nil {
			return core.TierItem{}, false, err
		}
		if item.Embedding == nil {
			continue
		}
		score := dot(query, item.Embedding)
		if score >= bestScore {
			best, bestScore, found = item, score, true
		}
	}
	return best, found, nil
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func (b *TierBridge) putPersistent(ctx context.Context, tier core.TierName, key string, data []byte) error {
	return b.repo.PutTierItem(ctx, tier, core.TierItem{
		Key:          key,
		Data:         data,
		SizeBytes:    len(data),
		LastAccessed: time.Now().UTC(),
		AccessCount:  0,
	})
}

// Get checks Hot, then Warm, then Cold. A Warm hit moves the item into
// Hot; a Cold hit is copied up but stays archived in Cold.
func (b *TierBridge) Get(ctx context.Context, key string) (core.TierItem, core.TierName, error) {
	b.mu.Lock()
	if item, ok := b.hot.Get(key); ok {
		b.hotStats.hits++
		item.AccessCount++
		item.LastAccessed = time.Now().UTC()
		b.hot.Put(key, item)
		demoted := b.pendingDemotions
		b.pendingDemotions = nil
		b.mu.Unlock()
		b.flushDemotions(ctx, demoted)
		return item, core.TierHot, nil
	}
	b.hotStats.misses++
	b.mu.Unlock()

	if item, err := b.repo.GetTierItem(ctx, core.TierWarm, key); err == nil {
		b.count(&b.warmStats, true)
		if err := b.promote(ctx, item, core.TierWarm); err != nil {
			return core.TierItem{}, "", err
		}
		return item, core.TierWarm, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.TierItem{}, "", err
	}
	b.count(&b.warmStats, false)

	if item, err := b.repo.GetTierItem(ctx, core.TierCold, key); err == nil {
		b.count(&b.coldStats, true)
		if err := b.promote(ctx, item, core.TierCold); err != nil {
			return core.TierItem{}, "", err
		}
		return item, core.TierCold, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.TierItem{}, "", err
	}
	b.count(&b.coldStats, false)

	return core.TierItem{}, "", core.ErrNotFound
}

// promote copies a persistent-tier hit into Hot. Warm items move (the
// Warm copy is deleted); Cold items stay archived.
func (b *TierBridge) promote(ctx context.Context, item core.TierItem, from core.TierName) error {
	item.AccessCount++
	item.LastAccessed = time.Now().UTC()

	b.mu.Lock()
	b.pendingDemotions = nil
	b.hot.Put(item.Key, item)
	demoted := b.pendingDemotions
	b.pendingDemotions = nil
	b.hotStats.demotions += uint64(len(demoted))
	switch from {
	case core.TierWarm:
		b.warmStats.promotions++
	case core.TierCold:
		b.coldStats.promotions++
	}
	b.mu.Unlock()

	b.flushDemotions(ctx, demoted)

	if from == core.TierWarm {
		if err := b.repo.DeleteTierItem(ctx, core.TierWarm, item.Key); err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (b *TierBridge) flushDemotions(ctx context.Context, demoted []core.TierItem) {
	for _, d := range demoted {
		if err := b.repo.PutTierItem(ctx, core.TierWarm, d); err != nil {
			log.FromCtx(ctx).Error().Err(err).Str("key", d.Key).Msg("failed to demote hot tier item")
		}
	}
}

func (b *TierBridge) count(c *tierCounters, hit bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

// Stats returns the counters for one tier.
func (b *TierBridge) Stats(ctx context.Context, tier core.TierName) (core.TierStats, error) {
	b.mu.Lock()
	var c tierCounters
	switch tier {
	case core.TierHot:
		c = b.hotStats
	case core.TierWarm:
		c = b.warmStats
	case core.TierCold:
		c = b.coldStats
	}
	hotSnapshot := b.hot.Stats()
	b.mu.Unlock()

	stats := core.TierStats{
		Hits:       c.hits,
		Misses:     c.misses,
		Promotions: c.promotions,
		Demotions:  c.demotions,
	}

	if tier == core.TierHot {
		stats.Evictions = hotSnapshot.Evictions
		stats.Items = hotSnapshot.Entries
		stats.Bytes = hotSnapshot.Bytes
		return stats, nil
	}

	items, bytes, err := b.repo.TierFootprint(ctx, tier)
	if err != nil {
		return core.TierStats{}, err
	}
	stats.Items = items
	stats.Bytes = bytes
	return stats, nil
}

// Keys lists the keys currently resident at a tier.
func (b *TierBridge) Keys(ctx context.Context, tier core.TierName) ([]string, error) {
	if tier == core.TierHot {
		return b.hot.Keys(), nil
	}
	return b.repo.ListTierKeys(ctx, tier)
}
