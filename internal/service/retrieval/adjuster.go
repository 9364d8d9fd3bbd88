package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/pkg/log"
)

const (
	lowerRateFloor = 0.85 // above this, the threshold may relax
	raiseRateCeil  = 0.60 // below this, the threshold tightens
	minThreshold   = 0.50
	maxThreshold   = 0.99
)

// Adjuster is the active-learning loop over injection thresholds. It
// proposes per-category changes from 30-day success rates, bounds the
// cumulative automatic drift to ±5% per rolling window, and persists
// every applied and rejected proposal. Manual overrides bypass the
// bound and take precedence.
type Adjuster struct {
	cfg         *config.RetrievalConfig
	outcomes    core.OutcomeRepository
	adjustments core.AdjustmentRepository
}

func NewAdjuster(cfg *config.RetrievalConfig, outcomes core.OutcomeRepository, adjustments core.AdjustmentRepository) *Adjuster {
	return &Adjuster{cfg: cfg, outcomes: outcomes, adjustments: adjustments}
}

// EffectiveThreshold is the newest applied threshold for a category,
// falling back to the configured default. Lookup failures degrade to
// the default rather than blocking retrieval.
func (a *Adjuster) EffectiveThreshold(ctx context.Context, category core.WorkflowCategory) float64 {
	value, found, err := a.adjustments.CurrentThreshold(ctx, category)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("category", string(category)).
			Msg("threshold lookup failed, using configured default")
		return a.cfg.CategoryThreshold(category)
	}
	if !found {
		return a.cfg.CategoryThreshold(category)
	}
	return value
}

// Propose evaluates one category. Returns nil with
// core.ErrInsufficientSamples when fewer than the minimum samples
// exist (a non-decision, not a failure), nil/nil when the success rate
// needs no change, and a *core.BoundsError when the proposal would
// breach the rolling bound — in which case the rejected proposal is
// still persisted with its reason.
func (a *Adjuster) Propose(ctx context.Context, category core.WorkflowCategory) (*core.ThresholdAdjustment, error) {
	now := time.Now().UTC()
	since := now.Add(-a.cfg.AdjustmentWindow)

	samples, rate, err := a.outcomes.CategorySuccess(ctx, category, since)
	if err != nil {
		return nil, err
	}
	if samples < a.cfg.MinAdjustmentSamples {
		return nil, core.ErrInsufficientSamples
	}

	current := a.EffectiveThreshold(ctx, category)

	var proposed float64
	var reason string
	switch {
	case rate > lowerRateFloor:
		proposed = clamp(current-a.cfg.AdjustmentStep, minThreshold, maxThreshold)
		reason = fmt.Sprintf("success rate %.2f over %d samples, relaxing threshold", rate, samples)
	case rate < raiseRateCeil:
		proposed = clamp(current+a.cfg.AdjustmentStep, minThreshold, maxThreshold)
		reason = fmt.Sprintf("success rate %.2f over %d samples, tightening threshold", rate, samples)
	default:
		return nil, nil
	}
	if proposed == current {
		return nil, nil
	}

	adj := core.ThresholdAdjustment{
		ID:          uuid.NewString(),
		Category:    category,
		OldValue:    current,
		NewValue:    proposed,
		Reason:      reason,
		SamplesUsed: samples,
		AdjustedAt:  now,
	}

	drift, err := a.automaticDrift(ctx, category, since)
	if err != nil {
		return nil, err
	}
	if total := drift + (proposed - current); total > a.cfg.AdjustmentBound || total < -a.cfg.AdjustmentBound {
		adj.Reason = fmt.Sprintf("rejected: %s (cumulative 30-day drift %.4f exceeds bound)", reason, total)
		if err := a.adjustments.InsertAdjustment(ctx, adj); err != nil {
			return nil, err
		}
		return nil, &core.BoundsError{Category: category, Delta: total, Limit: a.cfg.AdjustmentBound}
	}

	adj.Applied = true
	if err := a.adjustments.InsertAdjustment(ctx, adj); err != nil {
		return nil, err
	}

	log.FromCtx(ctx).Info().
		Str("category", string(category)).
		Float64("old", current).
		Float64("new", proposed).
		Str("reason", reason).
		Msg("injection threshold adjusted")
	return &adj, nil
}

// ManualOverride sets a category threshold directly, bypassing the
// drift bound. The override is recorded like any other adjustment.
func (a *Adjuster) ManualOverride(ctx context.Context, category core.WorkflowCategory, value float64, reason string) (*core.ThresholdAdjustment, error) {
	if value < minThreshold || value > maxThreshold {
		return nil, fmt.Errorf("threshold %.2f outside [%.2f, %.2f]", value, minThreshold, maxThreshold)
	}

	adj := core.ThresholdAdjustment{
		ID:         uuid.NewString(),
		Category:   category,
		OldValue:   a.EffectiveThreshold(ctx, category),
		NewValue:   value,
		Reason:     reason,
		Manual:     true,
		Applied:    true,
		AdjustedAt: time.Now().UTC(),
	}
	if err := a.adjustments.InsertAdjustment(ctx, adj); err != nil {
		return nil, err
	}
	return &adj, nil
}

// automaticDrift sums the applied non-manual deltas inside the
// rolling window.
func (a *Adjuster) automaticDrift(ctx context.Context, category core.WorkflowCategory, since time.Time) (float64, error) {
	history, err := a.adjustments.ListAdjustments(ctx, category, since)
	if err != nil {
		return 0, err
	}
	var drift float64
	for _, adj := range history {
		if adj.Applied && !adj.Manual {
			drift += adj.NewValue - adj.OldValue
		}
	}
	return drift, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
