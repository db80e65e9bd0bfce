package gas

import (
	"sync"

	"crossbridge/types"
)

const DefaultHistorySize = 100

// History keeps the most recent samples per chain. The poller is the only
// writer; optimizer reads take the read lock.
type History struct {
	mu      sync.RWMutex
	size    int
	samples map[int64][]types.GasSample
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, samples: make(map[int64][]types.GasSample)}
}

// Add appends s, dropping the oldest sample when the window is full. A
// sample for a block already recorded replaces it.
func (h *History) Add(chainID int64, s types.GasSample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	window := h.samples[chainID]
	if n := len(window); n > 0 && window[n-1].BlockNumber == s.BlockNumber && s.BlockNumber != 0 {
		window[n-1] = s
		return
	}
	window = append(window, s)
	if len(window) > h.size {
		window = append(window[:0:0], window[len(window)-h.size:]...)
	}
	h.samples[chainID] = window
}

// Recent returns up to n samples, oldest first.
func (h *History) Recent(chainID int64, n int) []types.GasSample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	window := h.samples[chainID]
	if n <= 0 || n > len(window) {
		n = len(window)
	}
	return append([]types.GasSample(nil), window[len(window)-n:]...)
}

func (h *History) Latest(chainID int64) (types.GasSample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	window := h.samples[chainID]
	if len(window) == 0 {
		return types.GasSample{}, false
	}
	return window[len(window)-1], true
}

func (h *History) Len(chainID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples[chainID])
}
