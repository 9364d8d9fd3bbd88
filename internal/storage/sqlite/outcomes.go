package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/pkg/retry"
)

// OutcomeRepo persists the append-only outcome log and keeps the
// per-episode stats row current in the same transaction, so stat reads
// never rescan outcomes.
type OutcomeRepo struct {
	db      *sql.DB
	retrier *retry.Retrier
}

func NewOutcomeRepo(db *sql.DB) *OutcomeRepo {
	return &OutcomeRepo{
		db:      db,
		retrier: retry.NewRetrier(retry.NewStorageConfig()),
	}
}

func (r *OutcomeRepo) InsertOutcome(ctx context.Context, o core.Outcome) error {
	details, err := json.Marshal(o.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	return r.retrier.Do(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		// The referenced episode must exist; its category is denormalized
		// onto the outcome for the active-learning aggregation.
		var category string
		var metadata string
		err = tx.QueryRowContext(ctx,
			`SELECT metadata FROM episodes WHERE episode_id = ?`, o.EpisodeID).Scan(&metadata)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("episode %s: %w", o.EpisodeID, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to resolve episode: %w", err)
		}
		var md core.Metadata
		if err := json.Unmarshal([]byte(metadata), &md); err != nil {
			return fmt.Errorf("unmarshal episode metadata: %w", err)
		}
		category = string(md.Category)
		if category == "" {
			category = string(core.CategoryGeneral)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO episode_outcomes
			   (outcome_id, episode_id, task_id, category, success, error_type, details, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.EpisodeID, o.TaskID, category, boolInt(o.Success), o.ErrorType, string(details), o.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert outcome: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			// Retry after a partial failure: the outcome already landed.
			return tx.Commit()
		}

		success := 0
		failure := 1
		if o.Success {
			success, failure = 1, 0
		}

		// Incremental stats upsert. success_rate stays NULL until the
		// minimum sample count is reached.
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO episode_stats (episode_id, outcome_count, success_count, failure_count, success_rate, last_outcome_at)
			 VALUES (?, 1, ?, ?, NULL, ?)
			 ON CONFLICT(episode_id) DO UPDATE SET
			   outcome_count = outcome_count + 1,
			   success_count = success_count + ?,
			   failure_count = failure_count + ?,
			   success_rate = CASE
			     WHEN outcome_count + 1 >= %d
			     THEN CAST(success_count + ? AS REAL) / (outcome_count + 1)
			     ELSE NULL
			   END,
			   last_outcome_at = ?`, core.MinOutcomeSamples),
			o.EpisodeID, success, failure, o.RecordedAt,
			success, failure, success, o.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update episode stats: %w", err)
		}

		return tx.Commit()
	})
}

func (r *OutcomeRepo) ListOutcomes(ctx context.Context, episodeID string) ([]core.Outcome, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT outcome_id, episode_id, task_id, success, COALESCE(error_type, ''), details, recorded_at
		 FROM episode_outcomes WHERE episode_id = ? ORDER BY recorded_at ASC`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []core.Outcome
	for rows.Next() {
		var (
			o       core.Outcome
			success int
			details string
		)
		if err := rows.Scan(&o.ID, &o.EpisodeID, &o.TaskID, &success, &o.ErrorType, &details, &o.RecordedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &o.Details); err != nil {
			return nil, fmt.Errorf("unmarshal outcome details: %w", err)
		}
		o.Success = success != 0
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// GetStats reads the maintained aggregate. An episode without outcomes
// gets a zero-valued stats row, not an error.
func (r *OutcomeRepo) GetStats(ctx context.Context, episodeID string) (core.EpisodeStats, error) {
	stats := core.EpisodeStats{EpisodeID: episodeID}

	var (
		rate sql.NullFloat64
		last sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT outcome_count, success_count, failure_count, success_rate, last_outcome_at
		 FROM episode_stats WHERE episode_id = ?`, episodeID).
		Scan(&stats.OutcomeCount, &stats.SuccessCount, &stats.FailureCount, &rate, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("failed to read episode stats: %w", err)
	}

	if rate.Valid {
		v := rate.Float64
		stats.SuccessRate = &v
	}
	if last.Valid {
		t := last.Time
		stats.LastOutcomeAt = &t
	}
	return stats, nil
}

// CategorySuccess aggregates outcomes for one category since a point
// in time, for the threshold adjuster.
func (r *OutcomeRepo) CategorySuccess(ctx context.Context, category core.WorkflowCategory, since time.Time) (int, float64, error) {
	var samples, successes int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0)
		 FROM episode_outcomes WHERE category = ? AND recorded_at >= ?`,
		string(category), since).Scan(&samples, &successes)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate category outcomes: %w", err)
	}
	if samples == 0 {
		return 0, 0, nil
	}
	return samples, float64(successes) / float64(samples), nil
}

// DeleteOutcomes always fails: the outcome log is append-only.
func (r *OutcomeRepo) DeleteOutcomes(ctx context.Context, episodeID string) error {
	return &core.AppendOnlyError{Op: "delete outcomes"}
}
