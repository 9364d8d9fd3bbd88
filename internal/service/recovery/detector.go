package recovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/pkg/log"
)

// compactionMarkers are phrases upstream summarizers leave behind when
// they truncate conversation history. An exact substring hit scores
// 1.0; otherwise the best word-overlap across markers is the score.
var compactionMarkers = []string{
	"conversation has been compacted",
	"context window exceeded",
	"earlier messages have been summarized",
	"history truncated to fit",
	"previous conversation was condensed",
	"[summary of earlier conversation]",
}

// Detector watches incoming messages for signs of upstream context
// truncation. Once the confidence crosses the configured floor it
// stays in recovery mode until explicitly cleared.
type Detector struct {
	mu       sync.Mutex
	cfg      config.RecoveryConfig
	active   bool
	last     core.CompactionSignal
	detected uint64
}

func NewDetector(cfg *config.RecoveryConfig) *Detector {
	return &Detector{cfg: *cfg}
}

// Check scores a message against the known markers and records the
// signal. A score at or above the detection floor flips recovery mode.
func (d *Detector) Check(ctx context.Context, message string) core.CompactionSignal {
	confidence, marker := score(message)

	signal := core.CompactionSignal{
		Detected:   confidence >= d.cfg.DetectConfidence,
		Confidence: confidence,
		Marker:     marker,
		Timestamp:  time.Now().UTC(),
	}

	d.mu.Lock()
	d.last = signal
	if signal.Detected {
		d.active = true
		d.detected++
	}
	d.mu.Unlock()

	if signal.Detected {
		log.FromCtx(ctx).Warn().
			Float64("confidence", confidence).
			Str("marker", marker).
			Msg("compaction detected, entering recovery mode")
	}
	return signal
}

// InRecoveryMode reports whether a detection is pending a Clear.
func (d *Detector) InRecoveryMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Clear leaves recovery mode after a reconstruction completed.
func (d *Detector) Clear(ctx context.Context) {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
	log.FromCtx(ctx).Info().Msg("recovery mode cleared")
}

func (d *Detector) LastSignal() core.CompactionSignal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *Detector) Detections() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detected
}

// score returns the best marker confidence for a message. Exact
// substring matches are certain; partial matches contribute the
// fraction of marker words present so near-miss phrasings still
// register.
func score(message string) (float64, string) {
	lowered := strings.ToLower(message)
	words := make(map[string]bool)
	for _, w := range strings.Fields(lowered) {
		words[strings.Trim(w, ".,:;!?()[]\"'")] = true
	}

	best := 0.0
	bestMarker := ""
	for _, marker := range compactionMarkers {
		if strings.Contains(lowered, strings.Trim(marker, "[]")) {
			return 1.0, marker
		}
		markerWords := strings.Fields(strings.Trim(marker, "[]"))
		hit := 0
		for _, w := range markerWords {
			if words[w] {
				hit++
			}
		}
		frac := float64(hit) / float64(len(markerWords))
		if frac > best {
			best = frac
			bestMarker = marker
		}
	}
	if best == 0 {
		return 0, ""
	}
	return best, bestMarker
}
