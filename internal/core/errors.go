package core

import (
	"errors"
	"fmt"
)

// ErrNotFound distinguishes a missing record from a storage failure.
var ErrNotFound = errors.New("not found")

// ErrInsufficientSamples signals that too few outcomes exist to derive
// a decision. Callers treat it as "no decision", not as a failure.
var ErrInsufficientSamples = errors.New("insufficient samples")

// AppendOnlyError is returned by every delete/clear surface on
// episodes and outcomes. It is a programming-contract error and is
// never retried or swallowed.
type AppendOnlyError struct {
	Op string
}

func (e *AppendOnlyError) Error() string {
	return fmt.Sprintf("append-only violation: %s is forbidden on episodic records", e.Op)
}

// BudgetExceededError reports that a pin or token budget cannot
// accommodate a request even after eviction. Fatal to the single
// operation only.
type BudgetExceededError struct {
	Requested int
	Available int
	Budget    int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: need %d tokens, %d free of %d", e.Requested, e.Available, e.Budget)
}

// BoundsError reports a threshold adjustment that would push the
// cumulative 30-day delta past the allowed bound. The caller must not
// retry with the same value.
type BoundsError struct {
	Category WorkflowCategory
	Delta    float64
	Limit    float64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("threshold bound violated for %s: cumulative delta %.4f exceeds ±%.2f", e.Category, e.Delta, e.Limit)
}

// ChunkLimitError is the terminal error for input that would exceed
// the hard chunk ceiling. Never silently truncated.
type ChunkLimitError struct {
	Chunks int
	Max    int
}

func (e *ChunkLimitError) Error() string {
	return fmt.Sprintf("chunk limit exceeded: input requires %d chunks, max %d", e.Chunks, e.Max)
}

// CycleError reports a dependency edge that would create a cycle. The
// graph is left unchanged.
type CycleError struct {
	From string
	To   string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle", e.From, e.To)
}

// ReconstructionError carries how much of a post-compaction rebuild
// succeeded before it failed.
type ReconstructionError struct {
	Recovered int
	Attempted int
	Err       error
}

func (e *ReconstructionError) Error() string {
	return fmt.Sprintf("reconstruction failed after recovering %d of %d items: %v", e.Recovered, e.Attempted, e.Err)
}

func (e *ReconstructionError) Unwrap() error { return e.Err }
