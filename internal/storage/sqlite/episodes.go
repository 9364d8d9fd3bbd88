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

// EpisodeRepo is the durable episode store. Episodes are append-only:
// deprecation flips a flag, the delete surfaces always fail typed.
type EpisodeRepo struct {
	db      *sql.DB
	retrier *retry.Retrier
}

func NewEpisodeRepo(db *sql.DB) *EpisodeRepo {
	return &EpisodeRepo{
		db:      db,
		retrier: retry.NewRetrier(retry.NewStorageConfig()),
	}
}

// InsertEpisode persists an episode. Transient failures are retried
// with exponential backoff; the insert is idempotent by episode id so
// a retry never double-inserts.
func (r *EpisodeRepo) InsertEpisode(ctx context.Context, ep core.Episode) error {
	queryChunks, err := json.Marshal(ep.QueryChunks)
	if err != nil {
		return fmt.Errorf("marshal query chunks: %w", err)
	}
	answerChunks, err := json.Marshal(ep.AnswerChunks)
	if err != nil {
		return fmt.Errorf("marshal answer chunks: %w", err)
	}
	metadata, err := json.Marshal(ep.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	queryVecs, err := serializeEmbeddings(ep.QueryEmbeddings)
	if err != nil {
		return err
	}
	answerVecs, err := serializeEmbeddings(ep.AnswerEmbeddings)
	if err != nil {
		return err
	}

	return r.retrier.Do(ctx, func() error {
		_, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO episodes
			   (episode_id, query_text, answer_text, query_chunks, answer_chunks,
			    query_embeddings, answer_embeddings, metadata, deprecated, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ep.ID, ep.QueryText, ep.AnswerText, string(queryChunks), string(answerChunks),
			queryVecs, answerVecs, string(metadata), boolInt(ep.Deprecated), ep.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert episode: %w", err)
		}
		return nil
	})
}

func (r *EpisodeRepo) GetEpisode(ctx context.Context, id string) (core.Episode, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT episode_id, query_text, answer_text, query_chunks, answer_chunks,
		        query_embeddings, answer_embeddings, metadata, deprecated, created_at
		 FROM episodes WHERE episode_id = ?`, id)

	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Episode{}, fmt.Errorf("episode %s: %w", id, core.ErrNotFound)
	}
	return ep, err
}

func (r *EpisodeRepo) ListEpisodes(ctx context.Context) ([]core.Episode, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT episode_id, query_text, answer_text, query_chunks, answer_chunks,
		        query_embeddings, answer_embeddings, metadata, deprecated, created_at
		 FROM episodes ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []core.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

func (r *EpisodeRepo) CountEpisodes(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&count)
	return count, err
}

// DeprecateEpisode is the only permitted removal path: a soft flag
// that excludes the episode from retrieval.
func (r *EpisodeRepo) DeprecateEpisode(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE episodes SET deprecated = 1 WHERE episode_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deprecate episode: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("episode %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// DeleteEpisode always fails: the episodic log is append-only.
func (r *EpisodeRepo) DeleteEpisode(ctx context.Context, id string) error {
	return &core.AppendOnlyError{Op: "delete episode"}
}

// ClearEpisodes always fails: the episodic log is append-only.
func (r *EpisodeRepo) ClearEpisodes(ctx context.Context) error {
	return &core.AppendOnlyError{Op: "clear episodes"}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (core.Episode, error) {
	var (
		ep           core.Episode
		queryChunks  string
		answerChunks string
		queryVecs    []byte
		answerVecs   []byte
		metadata     string
		deprecated   int
		createdAt    time.Time
	)
	err := row.Scan(&ep.ID, &ep.QueryText, &ep.AnswerText, &queryChunks, &answerChunks,
		&queryVecs, &answerVecs, &metadata, &deprecated, &createdAt)
	if err != nil {
		return core.Episode{}, err
	}

	if err := json.Unmarshal([]byte(queryChunks), &ep.QueryChunks); err != nil {
		return core.Episode{}, fmt.Errorf("unmarshal query chunks: %w", err)
	}
	if err := json.Unmarshal([]byte(answerChunks), &ep.AnswerChunks); err != nil {
		return core.Episode{}, fmt.Errorf("unmarshal answer chunks: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &ep.Metadata); err != nil {
		return core.Episode{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if ep.QueryEmbeddings, err = deserializeEmbeddings(queryVecs); err != nil {
		return core.Episode{}, err
	}
	if ep.AnswerEmbeddings, err = deserializeEmbeddings(answerVecs); err != nil {
		return core.Episode{}, err
	}
	ep.Deprecated = deprecated != 0
	ep.CreatedAt = createdAt
	return ep, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
