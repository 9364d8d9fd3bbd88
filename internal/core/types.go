package core

import (
	"time"
)

const (
	MemctxName    = "memctx"
	MemctxVersion = "0.1.0"
)

// Chunk is a bounded text segment with its position in the source text.
// Chunks of one entry are contiguous: Start of chunk i+1 equals End of
// chunk i, so concatenating them in Index order reproduces the source.
type Chunk struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

// WorkflowCategory classifies the kind of task an episode or request
// belongs to. Categories carry their own injection thresholds.
type WorkflowCategory string

const (
	CategoryCoding   WorkflowCategory = "coding"
	CategoryResearch WorkflowCategory = "research"
	CategoryGeneral  WorkflowCategory = "general"
)

// MetadataVersion is bumped whenever a known field is added to Metadata.
const MetadataVersion = 1

// Metadata is the tagged, versioned bag attached to an episode. Known
// fields are typed; anything else rides in Extra for forward
// compatibility.
type Metadata struct {
	Version     int               `json:"version"`
	Category    WorkflowCategory  `json:"category,omitempty"`
	ContentType string            `json:"content_type,omitempty"` // "code" or "text"
	Files       []string          `json:"files,omitempty"`
	TaskID      string            `json:"task_id,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Episode is one stored (query, answer) interaction with chunk-level
// embeddings on both sides. Episodes are append-only: they may be
// deprecated but never deleted.
type Episode struct {
	ID               string      `json:"id"`
	QueryText        string      `json:"query_text"`
	AnswerText       string      `json:"answer_text"`
	QueryChunks      []Chunk     `json:"query_chunks"`
	AnswerChunks     []Chunk     `json:"answer_chunks"`
	QueryEmbeddings  [][]float32 `json:"-"`
	AnswerEmbeddings [][]float32 `json:"-"`
	Metadata         Metadata    `json:"metadata"`
	Deprecated       bool        `json:"deprecated"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Outcome records one success or failure of reusing an episode.
type Outcome struct {
	ID         string    `json:"id"`
	EpisodeID  string    `json:"episode_id"`
	TaskID     string    `json:"task_id"`
	Success    bool      `json:"success"`
	ErrorType  string    `json:"error_type,omitempty"`
	Details    Metadata  `json:"details"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MinOutcomeSamples is the floor below which no success rate or
// automatic decision is derived from outcomes.
const MinOutcomeSamples = 3

// EpisodeStats is the incrementally maintained aggregate over an
// episode's outcomes. SuccessRate is nil until MinOutcomeSamples
// outcomes exist.
type EpisodeStats struct {
	EpisodeID     string     `json:"episode_id"`
	OutcomeCount  int        `json:"outcome_count"`
	SuccessCount  int        `json:"success_count"`
	FailureCount  int        `json:"failure_count"`
	SuccessRate   *float64   `json:"success_rate,omitempty"`
	LastOutcomeAt *time.Time `json:"last_outcome_at,omitempty"`
}

// ThresholdAdjustment records one applied or rejected change to a
// category's injection threshold.
type ThresholdAdjustment struct {
	ID          string           `json:"id"`
	Category    WorkflowCategory `json:"category"`
	OldValue    float64          `json:"old_value"`
	NewValue    float64          `json:"new_value"`
	Reason      string           `json:"reason"`
	SamplesUsed int              `json:"samples_used"`
	Manual      bool             `json:"is_manual_override"`
	Applied     bool             `json:"applied"`
	AdjustedAt  time.Time        `json:"adjusted_at"`
}

// ConfidenceTier buckets how much a retrieved episode can be trusted.
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "high"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceLow    ConfidenceTier = "low"
)

// RetrievedEpisode is a retrieval result: the full reconstructed
// episode plus scoring annotations. Answer text is always returned
// whole, never as partial chunks.
type RetrievedEpisode struct {
	Episode       Episode        `json:"episode"`
	Similarity    float64        `json:"similarity"`
	Confidence    ConfidenceTier `json:"confidence"`
	Warning       string         `json:"warning,omitempty"`
	Deprioritized bool           `json:"deprioritized"`
}

// PinnedEntry is a context item that is always included, outside the
// rolling window.
type PinnedEntry struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	Reason     string    `json:"reason"`
	Priority   int       `json:"priority"`
	PinnedAt   time.Time `json:"pinned_at"`
}

// Phase names a pipeline phase; the rolling window is sized per phase.
type Phase string

const (
	PhasePlanning       Phase = "planning"
	PhaseImplementation Phase = "implementation"
	PhaseQA             Phase = "qa"
)

// ContextSection is one populated tier of a composed context.
type ContextSection struct {
	Items  []string `json:"items"`
	Tokens int      `json:"tokens"`
}

// ComposedContext is the final per-request context bundle across the
// four tiers. TotalTokens never exceeds the requested window.
type ComposedContext struct {
	Pinned      ContextSection `json:"pinned"`
	Prior       ContextSection `json:"prior"`
	Active      ContextSection `json:"active"`
	Archived    ContextSection `json:"archived"` // reference-only, zero tokens
	TotalTokens int            `json:"total_tokens"`
	Window      int            `json:"context_window"`
	Utilization float64        `json:"utilization"`
	Phase       Phase          `json:"phase"`
}

// TierName identifies one of the bridged storage tiers.
type TierName string

const (
	TierHot  TierName = "hot"
	TierWarm TierName = "warm"
	TierCold TierName = "cold"
)

// TierItem is a context item held at a specific tier.
type TierItem struct {
	Key          string    `json:"key"`
	Data         []byte    `json:"data"`
	SizeBytes    int       `json:"size_bytes"`
	Embedding    []float32 `json:"-"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
}

// TierStats are per-tier counters for the bridge.
type TierStats struct {
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Promotions uint64 `json:"promotions"`
	Demotions  uint64 `json:"demotions"`
	Evictions  uint64 `json:"evictions"`
	Items      int    `json:"items"`
	Bytes      int64  `json:"bytes"`
}

// CompactionSignal is the detector's record of a suspected upstream
// truncation.
type CompactionSignal struct {
	Detected   bool      `json:"detected"`
	Confidence float64   `json:"confidence"`
	Marker     string    `json:"marker,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// LostItem records a context component that could not be reconstructed
// after compaction. Lost items are surfaced, never silently dropped.
type LostItem struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ReconstructedContext is the result of a post-compaction rebuild.
// Completeness is the fraction of the four components (pinned, window,
// archive, dependency graph) that came back non-empty.
type ReconstructedContext struct {
	Pinned          []PinnedEntry       `json:"pinned"`
	Window          []string            `json:"window"`
	Archive         []string            `json:"archive"`
	Dependencies    map[string][]string `json:"dependencies"`
	Completeness    float64             `json:"completeness"`
	Partial         bool                `json:"partial"`
	SemanticFallbks int                 `json:"semantic_fallbacks"`
	Lost            []LostItem          `json:"lost"`
}
