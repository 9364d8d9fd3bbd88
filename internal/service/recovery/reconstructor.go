package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/pkg/log"
)

// Well-known keys the composition snapshot is checkpointed under.
const (
	KeyPinned       = "context:pinned"
	KeyWindow       = "context:window"
	KeyArchive      = "context:archive"
	KeyDependencies = "context:dependencies"
)

// componentQueries describe each snapshot component for the semantic
// fallback path when its key lookup misses.
var componentQueries = map[string]string{
	KeyPinned:       "pinned context entries that must always be included",
	KeyWindow:       "recent active working context items",
	KeyArchive:      "archived context summaries for reference",
	KeyDependencies: "dependency ordering between context items",
}

// windowSnapshot is the persisted shape of the active window.
type windowSnapshot struct {
	IDs      []string          `json:"ids"`
	Contents map[string]string `json:"contents"`
}

// Snapshot is the checkpointed composition state the reconstructor
// works from.
type Snapshot struct {
	Pinned       []core.PinnedEntry  `json:"pinned"`
	WindowIDs    []string            `json:"window_ids"`
	Contents     map[string]string   `json:"contents"`
	Archive      []string            `json:"archive"`
	Dependencies map[string][]string `json:"dependencies"`
}

// Reconstructor rebuilds composition state after a compaction: each
// component is looked up by key first, then by semantic search over
// the cold tier. Unrecoverable components are listed, never hidden.
type Reconstructor struct {
	cfg      config.RecoveryConfig
	bridge   *TierBridge
	embedder core.Embedder

	fallbacks uint64
}

func NewReconstructor(cfg *config.RecoveryConfig, bridge *TierBridge, embedder core.Embedder) *Reconstructor {
	return &Reconstructor{cfg: *cfg, bridge: bridge, embedder: embedder}
}

// Checkpoint persists the current composition state under the
// well-known keys, with cold-tier copies indexed for semantic
// fallback. An embedding failure downgrades the cold copies to
// unindexed rather than failing the checkpoint.
func (r *Reconstructor) Checkpoint(ctx context.Context, snap Snapshot) error {
	components := map[string]any{
		KeyPinned:       snap.Pinned,
		KeyWindow:       windowSnapshot{IDs: snap.WindowIDs, Contents: snap.Contents},
		KeyArchive:      snap.Archive,
		KeyDependencies: snap.Dependencies,
	}

	var embeddings map[string][]float32
	texts := make([]string, 0, len(componentQueries))
	keys := make([]string, 0, len(componentQueries))
	for key, query := range componentQueries {
		keys = append(keys, key)
		texts = append(texts, query)
	}
	if vecs, err := r.embedder.Embed(ctx, texts); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("checkpoint cold copies will not be semantically indexed")
	} else {
		embeddings = make(map[string][]float32, len(keys))
		for i, key := range keys {
			embeddings[key] = vecs[i]
		}
	}

	for key, component := range components {
		data, err := json.Marshal(component)
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint component %s: %w", key, err)
		}
		if err := r.bridge.Put(ctx, key, data); err != nil {
			return err
		}
		if err := r.bridge.PutColdIndexed(ctx, key, data, embeddings[key]); err != nil {
			return err
		}
	}
	return nil
}

// Reconstruct rebuilds the four components. Completeness is the
// fraction that came back non-empty; a caller-expired context yields a
// partial result instead of an error.
func (r *Reconstructor) Reconstruct(ctx context.Context) (core.ReconstructedContext, error) {
	rc := core.ReconstructedContext{
		Dependencies: make(map[string][]string),
	}
	fallbacksBefore := atomic.LoadUint64(&r.fallbacks)

	var (
		recovered int
		attempted int
		lastErr   error
	)

	load := func(key string, target any) bool {
		attempted++
		if ctx.Err() != nil {
			rc.Partial = true
			rc.Lost = append(rc.Lost, lostItem("component", key, "reconstruction deadline exceeded"))
			return false
		}
		data, reason, err := r.fetch(ctx, key)
		if err != nil {
			lastErr = err
			rc.Lost = append(rc.Lost, lostItem("component", key, err.Error()))
			return false
		}
		if data == nil {
			rc.Lost = append(rc.Lost, lostItem("component", key, reason))
			return false
		}
		if err := json.Unmarshal(data, target); err != nil {
			lastErr = err
			rc.Lost = append(rc.Lost, lostItem("component", key, "corrupt checkpoint: "+err.Error()))
			return false
		}
		recovered++
		return true
	}

	nonEmpty := 0

	if load(KeyPinned, &rc.Pinned) && len(rc.Pinned) > 0 {
		nonEmpty++
	}

	var window windowSnapshot
	if load(KeyWindow, &window) && len(window.IDs) > 0 {
		rc.Window = window.IDs
		nonEmpty++
	}

	if load(KeyArchive, &rc.Archive) && len(rc.Archive) > 0 {
		nonEmpty++
	}

	if load(KeyDependencies, &rc.Dependencies) && len(rc.Dependencies) > 0 {
		nonEmpty++
	}

	rc.Completeness = float64(nonEmpty) / 4
	rc.SemanticFallbks = int(atomic.LoadUint64(&r.fallbacks) - fallbacksBefore)
	if len(rc.Lost) > 0 {
		rc.Partial = true
	}

	if recovered == 0 && lastErr != nil {
		return rc, &core.ReconstructionError{Recovered: recovered, Attempted: attempted, Err: lastErr}
	}

	log.FromCtx(ctx).Info().
		Int("recovered", recovered).
		Int("attempted", attempted).
		Float64("completeness", rc.Completeness).
		Int("lost", len(rc.Lost)).
		Msg("context reconstruction finished")
	return rc, nil
}

// WindowContents returns the persisted item texts from the last
// recovered window snapshot, for refilling the live window.
func (r *Reconstructor) WindowContents(ctx context.Context) (map[string]string, error) {
	data, _, err := r.fetch(ctx, KeyWindow)
	if err != nil || data == nil {
		return nil, err
	}
	var window windowSnapshot
	if err := json.Unmarshal(data, &window); err != nil {
		return nil, err
	}
	return window.Contents, nil
}

// Fallbacks counts how often the semantic path had to stand in for a
// key lookup.
func (r *Reconstructor) Fallbacks() uint64 { return atomic.LoadUint64(&r.fallbacks) }

// fetch tries the key lookup across tiers, then the semantic fallback
// against the cold tier. A nil result with a reason means both paths
// missed without an infrastructure error.
func (r *Reconstructor) fetch(ctx context.Context, key string) ([]byte, string, error) {
	item, tier, err := r.bridge.Get(ctx, key)
	if err == nil {
		log.FromCtx(ctx).Debug().Str("key", key).Str("tier", string(tier)).Msg("checkpoint component recovered by key")
		return item.Data, "", nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, "", err
	}

	// Key lookup missed everywhere; try the semantic path.
	atomic.AddUint64(&r.fallbacks, 1)
	query, ok := componentQueries[key]
	if !ok {
		return nil, "no checkpoint found", nil
	}
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("key", key).Msg("semantic fallback unavailable")
		return nil, "key lookup missed and semantic fallback unavailable", nil
	}
	found, ok, err := r.bridge.SearchCold(ctx, vecs[0], r.cfg.FallbackThreshold)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "no checkpoint found by key or semantic search", nil
	}
	log.FromCtx(ctx).Info().Str("key", key).Str("matched", found.Key).Msg("checkpoint component recovered by semantic fallback")
	return found.Data, "", nil
}

func lostItem(itemType, id, reason string) core.LostItem {
	return core.LostItem{
		Type:      itemType,
		ID:        id,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}
