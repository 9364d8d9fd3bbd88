package retrieval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/memctx/internal/core"
)

// Tracker records reuse outcomes. Payloads are validated before any
// state mutates.
type Tracker struct {
	outcomes core.OutcomeRepository
}

func NewTracker(outcomes core.OutcomeRepository) *Tracker {
	return &Tracker{outcomes: outcomes}
}

// Record persists one outcome and returns its generated id.
func (t *Tracker) Record(ctx context.Context, episodeID, taskID string, success bool, errorType string) (string, error) {
	if episodeID == "" {
		return "", errors.New("episode id is required")
	}
	if taskID == "" {
		return "", errors.New("task id is required")
	}
	if success && errorType != "" {
		return "", errors.New("error type is only valid on failures")
	}

	o := core.Outcome{
		ID:         uuid.NewString(),
		EpisodeID:  episodeID,
		TaskID:     taskID,
		Success:    success,
		ErrorType:  errorType,
		Details:    core.Metadata{Version: core.MetadataVersion},
		RecordedAt: time.Now().UTC(),
	}
	if err := t.outcomes.InsertOutcome(ctx, o); err != nil {
		return "", err
	}
	return o.ID, nil
}

// Stats reads the incrementally maintained aggregate for an episode.
func (t *Tracker) Stats(ctx context.Context, episodeID string) (core.EpisodeStats, error) {
	return t.outcomes.GetStats(ctx, episodeID)
}
