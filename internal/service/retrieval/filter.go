package retrieval

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/core"
	"github.com/sandevgo/memctx/pkg/log"
)

// TaskContext carries the hints the safety filter classifies a
// request by.
type TaskContext struct {
	Prompt   string
	Files    []string
	Category core.WorkflowCategory // optional; classified from hints when empty
}

// InjectionFilter decides whether a retrieved episode is safe to
// inject into a new task. Stricter categories (coding) get higher
// thresholds and faster recency decay than research.
type InjectionFilter struct {
	cfg      *config.RetrievalConfig
	adjuster *Adjuster
}

func NewInjectionFilter(cfg *config.RetrievalConfig, adjuster *Adjuster) *InjectionFilter {
	return &InjectionFilter{cfg: cfg, adjuster: adjuster}
}

var (
	codeHintRe = regexp.MustCompile("(?i)```|\\bfunc\\b|\\bclass\\b|\\bdef\\b|\\breturn\\b|\\bnil\\b|\\bnull\\b|\\bpanic\\b|\\bstack trace\\b|\\.(go|py|ts|js|rs|java|c|cpp|sql)\\b")
	researchRe = regexp.MustCompile(`(?i)\b(research|investigate|compare|survey|summar|explain|literature|paper|study)\b`)
)

// ClassifyCategory derives the workflow category from context hints.
func ClassifyCategory(task TaskContext) core.WorkflowCategory {
	if task.Category != "" {
		return task.Category
	}
	if len(task.Files) > 0 || codeHintRe.MatchString(task.Prompt) {
		return core.CategoryCoding
	}
	if researchRe.MatchString(task.Prompt) {
		return core.CategoryResearch
	}
	return core.CategoryGeneral
}

// ShouldInject applies the category threshold, recency decay, and
// content-type rules. The returned reason names the failed rule for
// observability; it is empty on acceptance.
func (f *InjectionFilter) ShouldInject(ctx context.Context, candidate core.RetrievedEpisode, task TaskContext, now time.Time) (bool, string) {
	category := ClassifyCategory(task)
	threshold := f.adjuster.EffectiveThreshold(ctx, category)

	// Exponential recency decay: similarity halves every half-life.
	age := now.Sub(candidate.Episode.CreatedAt)
	halfLife := f.cfg.CategoryHalfLife(category)
	decayed := candidate.Similarity * math.Exp2(-age.Hours()/halfLife.Hours())

	if decayed < threshold {
		return false, "below effective threshold after recency decay"
	}

	taskIsCode := category == core.CategoryCoding
	episodeIsCode := candidate.Episode.Metadata.ContentType == "code"
	if taskIsCode != episodeIsCode {
		return false, "content type mismatch"
	}

	if taskIsCode && !fileOverlap(task.Files, candidate.Episode.Metadata.Files) {
		return false, "no file context overlap"
	}

	log.FromCtx(ctx).Debug().
		Str("episode_id", candidate.Episode.ID).
		Str("category", string(category)).
		Float64("decayed", decayed).
		Float64("threshold", threshold).
		Msg("injection candidate accepted")
	return true, ""
}

// fileOverlap matches on base names so the same file seen under
// different working directories still counts.
func fileOverlap(taskFiles, episodeFiles []string) bool {
	if len(taskFiles) == 0 || len(episodeFiles) == 0 {
		return false
	}
	seen := make(map[string]bool, len(taskFiles))
	for _, f := range taskFiles {
		seen[baseName(f)] = true
	}
	for _, f := range episodeFiles {
		if seen[baseName(f)] {
			return true
		}
	}
	return false
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
