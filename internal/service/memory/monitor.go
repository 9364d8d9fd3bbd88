package memory

import (
	"context"
	"errors"
	"time"

	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/internal/service/retrieval"
	"github.com/sandevgo/memctx/pkg/log"
)

// QualityMonitor is the periodic active-learning tick. Each interval
// it proposes per-category threshold adjustments from recent outcome
// rates. It never blocks foreground retrieval and swallows its own
// errors after logging them.
type QualityMonitor struct {
	adjuster *retrieval.Adjuster
	interval time.Duration
	done     chan struct{}
}

func NewQualityMonitor(adjuster *retrieval.Adjuster, intervalMin int) *QualityMonitor {
	return &QualityMonitor{
		adjuster: adjuster,
		interval: time.Duration(intervalMin) * time.Minute,
		done:     make(chan struct{}),
	}
}

func (m *QualityMonitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.FromCtx(ctx).Info().Dur("interval", m.interval).Msg("quality monitor started")
	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-ctx.Done():
			return nil
		case <-m.done:
			return nil
		}
	}
}

func (m *QualityMonitor) Shutdown(ctx context.Context) error {
	close(m.done)
	log.FromCtx(ctx).Info().Msg("quality monitor stopped")
	return nil
}

func (m *QualityMonitor) tick(ctx context.Context) {
	for _, category := range []core.WorkflowCategory{
		core.CategoryCoding,
		core.CategoryResearch,
		core.CategoryGeneral,
	} {
		m.evaluate(ctx, category)
	}
}

func (m *QualityMonitor) evaluate(ctx context.Context, category core.WorkflowCategory) {
	logger := log.FromCtx(ctx)

	adj, err := m.adjuster.Propose(ctx, category)
	switch {
	case errors.Is(err, core.ErrInsufficientSamples):
		logger.Debug().Str("category", string(category)).Msg("too few samples for threshold proposal")
	case err != nil:
		// A bounds rejection or storage failure must not take the
		// monitor down.
		logger.Warn().Err(err).Str("category", string(category)).Msg("threshold proposal failed")
	case adj != nil:
		logger.Info().
			Str("category", string(category)).
			Float64("threshold", adj.NewValue).
			Msg("threshold adjustment applied")
	}
}
