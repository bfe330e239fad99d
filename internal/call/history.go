// Package call holds the per-call session state machine, the bounded
// conversation history, the call duration governor, and the session manager.
package call

import (
	"sync"

	"github.com/MrWong99/voxline/pkg/types"
)

// DefaultMaxHistoryTurns bounds the conversation history sent to generation.
const DefaultMaxHistoryTurns = 100

// History is a bounded FIFO of conversation turns. When full, the oldest
// turn is evicted on append. All methods are safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	turns []types.Turn
	max   int
}

// NewHistory creates a History bounded to max turns. A non-positive max
// falls back to DefaultMaxHistoryTurns.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultMaxHistoryTurns
	}
	return &History{
		turns: make([]types.Turn, 0, max),
		max:   max,
	}
}

// Append adds a turn, evicting the oldest when the bound is exceeded.
func (h *History) Append(turn types.Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, turn)
	if len(h.turns) > h.max {
		keep := h.turns[len(h.turns)-h.max:]
		// Copy to a fresh slice so evicted turns can be garbage collected.
		fresh := make([]types.Turn, len(keep), h.max)
		copy(fresh, keep)
		h.turns = fresh
	}
}

// Turns returns a copy of the current history in chronological order.
func (h *History) Turns() []types.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]types.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of retained turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}
