package aimolel

import (
	"sync"
	"time"
)

// Turn is one prompt/response pair retained for prompt context.
type Turn struct {
	Prompt    string
	Response  string
	Timestamp time.Time
}

// history keeps the most recent conversation turns, evicting the
// oldest once the cap is reached.
type history struct {
	mu    sync.Mutex
	turns []Turn
	cap   int
}

func newHistory(cap int) *history {
	return &history{cap: cap}
}

func (h *history) add(prompt, response string) {
	if h.cap == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{Prompt: prompt, Response: response, Timestamp: time.Now()})
	if len(h.turns) > h.cap {
		h.turns = h.turns[len(h.turns)-h.cap:]
	}
}

func (h *history) snapshot() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *history) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}
