package features

import (
	"sync"

	"BotArena/internal/domain/models"
)

// PriceWindow keeps the last n closed 1-minute candles plus the candle in progress.
// It implements repository.PriceFeed and is safe for concurrent use.
type PriceWindow struct {
	mu      sync.RWMutex
	closed  []models.PricePoint
	size    int
	current *models.PricePoint
	last    models.PricePoint
	seen    bool
}

func NewPriceWindow(size int) *PriceWindow {
	if size <= 0 {
		size = 100
	}
	return &PriceWindow{size: size, closed: make([]models.PricePoint, 0, size)}
}

// Push records a tick. Ticks older than the last one seen are ignored.
func (w *PriceWindow) Push(t models.PriceTick) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen && t.Time.Before(w.last.Time) {
		return
	}
	w.last = t.PricePoint
	w.seen = true
	if !t.Closed {
		p := t.PricePoint
		w.current = &p
		return
	}
	w.current = nil
	if len(w.closed) == w.size {
		copy(w.closed, w.closed[1:])
		w.closed = w.closed[:w.size-1]
	}
	w.closed = append(w.closed, t.PricePoint)
}

// Window returns the closed candles oldest first, with the in-progress candle last when there is one.
func (w *PriceWindow) Window() []models.PricePoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]models.PricePoint, len(w.closed), len(w.closed)+1)
	copy(out, w.closed)
	if w.current != nil {
		out = append(out, *w.current)
	}
	return out
}

func (w *PriceWindow) Last() (models.PricePoint, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last, w.seen
}
