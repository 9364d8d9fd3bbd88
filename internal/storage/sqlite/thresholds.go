package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sandevgo/memctx/internal/core"
)

// AdjustmentRepo persists every applied and rejected threshold
// adjustment, keeping the audit trail the bounds check runs against.
type AdjustmentRepo struct {
	db *sql.DB
}

func NewAdjustmentRepo(db *sql.DB) *AdjustmentRepo {
	return &AdjustmentRepo{db: db}
}

func (r *AdjustmentRepo) InsertAdjustment(ctx context.Context, adj core.ThresholdAdjustment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO threshold_adjustments
		   (id, category, old_threshold, new_threshold, reason, samples_used, is_manual_override, applied, adjusted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		adj.ID, string(adj.Category), adj.OldValue, adj.NewValue, adj.Reason,
		adj.SamplesUsed, boolInt(adj.Manual), boolInt(adj.Applied), adj.AdjustedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert threshold adjustment: %w", err)
	}
	return nil
}

func (r *AdjustmentRepo) ListAdjustments(ctx context.Context, category core.WorkflowCategory, since time.Time) ([]core.ThresholdAdjustment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, category, old_threshold, new_threshold, reason, samples_used, is_manual_override, applied, adjusted_at
		 FROM threshold_adjustments
		 WHERE category = ? AND adjusted_at >= ?
		 ORDER BY adjusted_at ASC`,
		string(category), since)
	if err != nil {
		return nil, fmt.Errorf("failed to list threshold adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []core.ThresholdAdjustment
	for rows.Next() {
		var (
			adj     core.ThresholdAdjustment
			cat     string
			manual  int
			applied int
		)
		if err := rows.Scan(&adj.ID, &cat, &adj.OldValue, &adj.NewValue, &adj.Reason,
			&adj.SamplesUsed, &manual, &applied, &adj.AdjustedAt); err != nil {
			return nil, err
		}
		adj.Category = core.WorkflowCategory(cat)
		adj.Manual = manual != 0
		adj.Applied = applied != 0
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}

// CurrentThreshold returns the newest applied threshold for a
// category. The second return is false when no adjustment has ever
// been applied and the configured default should be used.
func (r *AdjustmentRepo) CurrentThreshold(ctx context.Context, category core.WorkflowCategory) (float64, bool, error) {
	var value float64
	err := r.db.QueryRowContext(ctx,
		`SELECT new_threshold FROM threshold_adjustments
		 WHERE category = ? AND applied = 1
		 ORDER BY adjusted_at DESC LIMIT 1`,
		string(category)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read current threshold: %w", err)
	}
	return value, true, nil
}
