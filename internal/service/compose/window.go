package compose

import (
	"sync"

	"github.com/sandevgo/memctx/internal/tokens"
)

// WindowItem is one entry in the active rolling window.
type WindowItem struct {
	ID      string
	Content string
	Tokens  int
}

// RollingWindow keeps the last N active items with token accounting.
// N is phase-dependent; Resize with the current size is a no-op.
type RollingWindow struct {
	mu    sync.Mutex
	size  int
	items []WindowItem
}

func NewRollingWindow(size int) *RollingWindow {
	return &RollingWindow{size: size}
}

// Add appends an item and returns the oldest entries evicted beyond
// the window size. Re-adding an existing id refreshes its position.
func (w *RollingWindow) Add(id, content string) []WindowItem {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, item := range w.items {
		if item.ID == id {
			w.items = append(w.items[:i], w.items[i+1:]...)
			break
		}
	}
	w.items = append(w.items, WindowItem{ID: id, Content: content, Tokens: tokens.Count(content)})
	return w.trim()
}

// Resize changes the window size, returning items evicted when
// shrinking. Idempotent for an unchanged size.
func (w *RollingWindow) Resize(size int) []WindowItem {
	w.mu.Lock()
	defer w.mu.Unlock()

	if size == w.size {
		return nil
	}
	w.size = size
	return w.trim()
}

func (w *RollingWindow) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Items returns the window oldest-first.
func (w *RollingWindow) Items() []WindowItem {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]WindowItem, len(w.items))
	copy(out, w.items)
	return out
}

// Get returns an item by id.
func (w *RollingWindow) Get(id string) (WindowItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, item := range w.items {
		if item.ID == id {
			return item, true
		}
	}
	return WindowItem{}, false
}

func (w *RollingWindow) TotalTokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := 0
	for _, item := range w.items {
		total += item.Tokens
	}
	return total
}

// Restore refills the window after a compaction recovery.
func (w *RollingWindow) Restore(contents map[string]string, order []string) {
	for _, id := range order {
		if content, ok := contents[id]; ok {
			w.Add(id, content)
		}
	}
}

func (w *RollingWindow) trim() []WindowItem {
	if w.size <= 0 || len(w.items) <= w.size {
		return nil
	}
	cut := len(w.items) - w.size
	evicted := make([]WindowItem, cut)
	copy(evicted, w.items[:cut])
	w.items = append([]WindowItem(nil), w.items[cut:]...)
	return evicted
}
