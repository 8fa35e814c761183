package cache

import (
	"context"
	"sync"

	"github.com/open-builders/draw-airdrop-bot/internal/scoring"
)

// HistoryLoader loads the per-address history of all previous draws.
type HistoryLoader interface {
	History(ctx context.Context) (map[string]scoring.History, error)
}

// History memoizes the draw history. It only changes when a draw commits, so the
// memo is valid until Clear.
type History struct {
	loader HistoryLoader

	mu     sync.Mutex
	loaded map[string]scoring.History
}

func NewHistory(loader HistoryLoader) *History {
	return &History{loader: loader}
}

func (h *History) History(ctx context.Context) (map[string]scoring.History, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded != nil {
		return h.loaded, nil
	}
	m, err := h.loader.History(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]scoring.History{}
	}
	h.loaded = m
	return m, nil
}

func (h *History) Clear(context.Context) error {
	h.mu.Lock()
	h.loaded = nil
	h.mu.Unlock()
	return nil
}
