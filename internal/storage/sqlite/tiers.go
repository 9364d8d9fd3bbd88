package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sandevgo/memctx/internal/core"
)

// TierRepo is the persistent backing for the warm and cold tiers.
// Tier items are rebuildable working state, so deletes are permitted
// here, unlike the episodic log.
type TierRepo struct {
	db *sql.DB
}

func NewTierRepo(db *sql.DB) *TierRepo {
	return &TierRepo{db: db}
}

func (r *TierRepo) PutTierItem(ctx context.Context, tier core.TierName, item core.TierItem) error {
	var embedding []byte
	if item.Embedding != nil {
		var err error
		if embedding, err = serializeVector(item.Embedding); err != nil {
			return err
		}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tier_items (tier, key, data, size_bytes, embedding, access_count, last_accessed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tier, key) DO UPDATE SET
		   data = excluded.data,
		   size_bytes = excluded.size_bytes,
		   embedding = excluded.embedding,
		   access_count = excluded.access_count,
		   last_accessed = excluded.last_accessed`,
		string(tier), item.Key, item.Data, item.SizeBytes, embedding, item.AccessCount, item.LastAccessed,
	)
	if err != nil {
		return fmt.Errorf("failed to put tier item: %w", err)
	}
	return nil
}

func (r *TierRepo) GetTierItem(ctx context.Context, tier core.TierName, key string) (core.TierItem, error) {
	var (
		item      core.TierItem
		embedding []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT key, data, size_bytes, embedding, access_count, last_accessed
		 FROM tier_items WHERE tier = ? AND key = ?`,
		string(tier), key).
		Scan(&item.Key, &item.Data, &item.SizeBytes, &embedding, &item.AccessCount, &item.LastAccessed)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TierItem{}, fmt.Errorf("tier item %s/%s: %w", tier, key, core.ErrNotFound)
	}
	if err != nil {
		return core.TierItem{}, fmt.Errorf("failed to get tier item: %w", err)
	}
	if item.Embedding, err = deserializeVector(embedding); err != nil {
		return core.TierItem{}, err
	}
	return item, nil
}

func (r *TierRepo) DeleteTierItem(ctx context.Context, tier core.TierName, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM tier_items WHERE tier = ? AND key = ?`, string(tier), key)
	if err != nil {
		return fmt.Errorf("failed to delete tier item: %w", err)
	}
	return nil
}

func (r *TierRepo) ListTierKeys(ctx context.Context, tier core.TierName) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key FROM tier_items WHERE tier = ? ORDER BY last_accessed DESC`, string(tier))
	if err != nil {
		return nil, fmt.Errorf("failed to list tier keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *TierRepo) TierFootprint(ctx context.Context, tier core.TierName) (int, int64, error) {
	var (
		items int
		bytes int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM tier_items WHERE tier = ?`,
		string(tier)).Scan(&items, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute tier footprint: %w", err)
	}
	return items, bytes, nil
}
